package codec

import (
	"fmt"

	"github.com/skip2/go-qrcode"
)

// ContentTypePNG QR 圖片格式
const ContentTypePNG = "image/png"

// Render 將 token 渲染成 PNG，相同 token 產生相同圖片
func (c *Codec) Render(token string) ([]byte, error) {
	png, err := qrcode.Encode(token, qrcode.Medium, c.qrSize)
	if err != nil {
		return nil, fmt.Errorf("render qr: %w", err)
	}
	return png, nil
}

func (c *Codec) ContentType() string {
	return ContentTypePNG
}

package codec

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"io"
	"strings"

	apperrors "go-gin-event-attendance/pkg/app_errors"
)

const (
	// TokenBytes 160 bits 隨機數
	TokenBytes = 20
	// TokenLength base32 無 padding 後固定為 32 字元
	TokenLength = 32

	tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567"
)

var tokenEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Codec 產生票券 token 並渲染成 QR 圖片
// QR 內容只有 token 本身，所有狀態都在伺服器端
type Codec struct {
	qrSize  int
	entropy io.Reader
}

func New(qrSize int) *Codec {
	return &Codec{qrSize: qrSize, entropy: rand.Reader}
}

// Encode 產生新 token 並渲染 QR 圖片
func (c *Codec) Encode() (string, []byte, error) {
	token, err := c.NewToken()
	if err != nil {
		return "", nil, err
	}

	image, err := c.Render(token)
	if err != nil {
		return "", nil, err
	}
	return token, image, nil
}

// NewToken 只產生 token
func (c *Codec) NewToken() (string, error) {
	buf := make([]byte, TokenBytes)
	if _, err := io.ReadFull(c.entropy, buf); err != nil {
		return "", fmt.Errorf("read token entropy: %w", err)
	}
	return tokenEncoding.EncodeToString(buf), nil
}

// Decode 掃描輸入的語法檢查，不合格直接回 ErrMalformedToken，不查資料庫
func (c *Codec) Decode(raw string) (string, error) {
	return Decode(raw)
}

func Decode(raw string) (string, error) {
	token := strings.ToUpper(strings.TrimSpace(raw))
	if len(token) != TokenLength {
		return "", apperrors.ErrMalformedToken
	}
	for _, r := range token {
		if !strings.ContainsRune(tokenAlphabet, r) {
			return "", apperrors.ErrMalformedToken
		}
	}
	return token, nil
}

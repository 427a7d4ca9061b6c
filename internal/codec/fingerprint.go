package codec

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// fingerprintKey token 指紋的 domain key，改變會讓既有的歷史紀錄失效
var fingerprintKey = [32]byte{
	't', 'i', 'c', 'k', 'e', 't', '.', 't', 'o', 'k', 'e', 'n', '.',
	'f', 'i', 'n', 'g', 'e', 'r', 'p', 'r', 'i', 'n', 't', 0, 0, 0, 0, 0, 0, 0, 0,
}

// Fingerprint token 的 BLAKE3 keyed hash（hex）
// 日誌、事件、已退役 token 紀錄都只存指紋，不存原始 token
func Fingerprint(token string) string {
	hasher, err := blake3.NewKeyed(fingerprintKey[:])
	if err != nil {
		panic("codec: blake3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write([]byte(token))
	return hex.EncodeToString(hasher.Sum(nil))
}

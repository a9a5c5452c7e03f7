package repo

import (
	"crypto/rand"
	"encoding/hex"
)

// NewToken выдаёт неугадываемый секрет: 128 бит из crypto/rand,
// 32 hex-символа. Используется и для token узла, и для monitoring-токена.
func NewToken() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic(err) // система без энтропии — жить всё равно нельзя
	}
	return hex.EncodeToString(b)
}

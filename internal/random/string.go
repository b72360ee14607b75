package random

import (
	"crypto/rand"
	"math/big"
)

// CharsetAlphanumeric contains characters a-zA-Z0-9
var CharsetAlphanumeric = []rune("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789")

// String generates a cryptographically secure random string with a specific length, only using characters out of
// the given charset.
// It panics if the system's secure random source fails.
func String(length int, charset []rune) string {
	max := big.NewInt(int64(len(charset)))
	buf := make([]rune, length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err)
		}
		buf[i] = charset[n.Int64()]
	}
	return string(buf)
}

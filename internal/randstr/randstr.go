// Package randstr generates cryptographically random alphanumeric strings,
// used to synthesize SOCKS5 credentials when the operator asks for
// "--auth <something-without-a-colon>".
package randstr

import (
	"crypto/rand"
	"math/big"
)

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Generate returns a random alphanumeric string of length n, drawn from
// crypto/rand. It panics only if the system random source fails, which
// should not happen under normal operation.
func Generate(n int) string {
	b := make([]byte, n)
	max := big.NewInt(int64(len(alphabet)))
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("randstr: system random source failed: " + err.Error())
		}
		b[i] = alphabet[idx.Int64()]
	}
	return string(b)
}

// Package code generates the short access codes participants type to find a
// session. The generator makes no uniqueness claim; collision handling against
// active sessions belongs to the session store.
package code

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

	// Length of every generated access code.
	Length = 6
)

var alphabetLen = big.NewInt(int64(len(alphabet)))

// Generate returns a fixed-length code, each character drawn uniformly at
// random from the alphabet.
func Generate() (string, error) {
	buf := make([]byte, Length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, alphabetLen)
		if err != nil {
			return "", fmt.Errorf("code: read random: %w", err)
		}
		buf[i] = alphabet[n.Int64()]
	}

	return string(buf), nil
}

package reward

import (
	crand "crypto/rand"
	"math/big"

	"github.com/go-faster/errors"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	codeAlphabet   = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeSuffixSize = 6
)

var errEmptyDraw = errors.New("nothing to draw from")

// secureRandomInt returns a uniform integer in [0, n).
func secureRandomInt(n int) (int, error) {
	if n <= 0 {
		return 0, errEmptyDraw
	}
	v, err := crand.Int(crand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}

func newCodeSuffix() (string, error) {
	return gonanoid.Generate(codeAlphabet, codeSuffixSize)
}

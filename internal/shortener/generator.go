package shortener

import "github.com/jaevor/go-nanoid"

const (
	// Alphabet is the 62-symbol set short codes are drawn from.
	Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

	DefaultCodeLength = 6
)

// CodeGenerator generates candidate short codes. Uniqueness is not implied.
type CodeGenerator func() string

// NewCodeGenerator returns a generator of alphanumeric codes of the given length.
func NewCodeGenerator(length int) (CodeGenerator, error) {
	if length <= 0 {
		length = DefaultCodeLength
	}

	gen, err := nanoid.CustomASCII(Alphabet, length)
	if err != nil {
		return nil, err
	}

	return gen, nil
}

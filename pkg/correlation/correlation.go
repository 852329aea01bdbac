// Package correlation generates the ids that tie a chain of derived messages
// back to the request or polling tick that started it.
package correlation

import (
	"github.com/samber/lo"
)

// DefaultLength matches the id length downstream systems already index on.
const DefaultLength = 25

// Alphabet excludes the digit zero.
var Alphabet = []rune("ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz123456789")

type Generator struct {
	length int
}

// NewGenerator returns a generator for ids of the given length. A
// non-positive length falls back to DefaultLength.
func NewGenerator(length int) Generator {
	if length <= 0 {
		length = DefaultLength
	}
	return Generator{length: length}
}

func (g Generator) Next() string {
	length := g.length
	if length <= 0 {
		length = DefaultLength
	}
	return lo.RandomString(length, Alphabet)
}

// New returns an id of DefaultLength.
func New() string {
	return NewGenerator(DefaultLength).Next()
}

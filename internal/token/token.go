package token

import (
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// MaxLength bounds accepted token strings.
const MaxLength = 64

var counter atomic.Uint64

// New returns a fresh token of the form "<uuidv7>-<counter in base 36>".
func New() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the random source fails; fall back to v4,
		// which panics in the same situation.
		id = uuid.New()
	}
	n := counter.Add(1)
	return fmt.Sprintf("%s-%s", id.String(), strconv.FormatUint(n, 36))
}

// Valid reports whether s can be used as a token. Only lower-case letters,
// digits and '-' are accepted, so a valid token never escapes a directory.
func Valid(s string) bool {
	if s == "" || len(s) > MaxLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'z':
		case c == '-':
		default:
			return false
		}
	}
	return true
}

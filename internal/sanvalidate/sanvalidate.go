// Package sanvalidate validates the shape of a space-separated SAN move
// string without simulating legality. Full chess rules are out of scope
// (see spec); this only rejects tokens that cannot possibly be SAN.
package sanvalidate

import (
	"fmt"
	"strings"
)

var sanChars = "abcdefghKQRBNO12345678x+#=-"

// Split validates moves (a space-separated SAN string) and returns the
// individual move tokens in order. It returns an error at the first token
// that cannot be a SAN move; callers treat that as "unparseable sequence"
// and commit the game without moves rather than failing the whole ingest.
func Split(moves string) ([]string, error) {
	moves = strings.TrimSpace(moves)
	if moves == "" {
		return nil, nil
	}

	tokens := strings.Fields(moves)
	out := make([]string, 0, len(tokens))
	for i, tok := range tokens {
		if err := validateToken(tok); err != nil {
			return nil, fmt.Errorf("token %d (%q): %w", i+1, tok, err)
		}
		out = append(out, tok)
	}
	return out, nil
}

func validateToken(tok string) error {
	if tok == "" {
		return fmt.Errorf("empty token")
	}
	if len(tok) > 10 {
		return fmt.Errorf("token too long")
	}
	for _, r := range tok {
		if !strings.ContainsRune(sanChars, r) {
			return fmt.Errorf("invalid character %q", r)
		}
	}
	return nil
}

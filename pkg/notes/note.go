// Package notes holds the in-memory authority for synchronised notes.
package notes

import (
	"crypto/rand"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// IDLength is the fixed length of every note identifier.
const IDLength = 6

const idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

var idPattern = regexp.MustCompile(fmt.Sprintf(`^[a-z0-9]{%d}$`, IDLength))

var (
	ErrInvalidIdentifier = errors.New("invalid note identifier")
	ErrInvalidPayload    = errors.New("invalid note payload")
)

// Note is the synchronised text of one identifier. Content and LastUpdated always change together.
type Note struct {
	Content     string    `json:"content"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// Snapshot is a point-in-time copy of every note keyed by identifier.
type Snapshot map[string]Note

func ValidateID(id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%w: %q must be %d lowercase letters or digits", ErrInvalidIdentifier, id, IDLength)
	}
	return nil
}

// NewID returns a random identifier that passes ValidateID.
func NewID() (string, error) {
	raw := make([]byte, IDLength)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	out := make([]byte, IDLength)
	for i, b := range raw {
		out[i] = idAlphabet[int(b)%len(idAlphabet)]
	}
	return string(out), nil
}

// Stamp normalises a wall-clock time to the millisecond precision used on the wire and on disk.
func Stamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

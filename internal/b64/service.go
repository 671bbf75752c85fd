// Package b64 provides the base64 text tools served over MCP.
package b64

import (
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"unicode/utf8"
)

// DefaultMaxTextBytes bounds the size of the text accepted for encoding and of the
// decoded output. One mebibyte matches the size a single JSON-RPC frame can carry
// comfortably across all transports.
const DefaultMaxTextBytes = 1 << 20

var (
	// ErrTextTooLarge reports input beyond the configured size limit.
	ErrTextTooLarge = errors.New("text exceeds maximum size")

	// ErrNotBase64 reports input that does not look like base64 at all.
	ErrNotBase64 = errors.New("input is not valid base64")

	// ErrNotUTF8 reports base64 whose decoded bytes are not valid UTF-8 text.
	ErrNotUTF8 = errors.New("decoded bytes are not valid UTF-8")
)

// base64Shape is a cheap structural check applied before the real decoder runs, so
// obviously malformed input is rejected with a clear error instead of a decoder
// position offset.
var base64Shape = regexp.MustCompile(`^[A-Za-z0-9+/]*={0,2}$`)

// Service performs base64 encoding and decoding of UTF-8 text with size limits
// enforced on both directions.
type Service struct {
	maxTextBytes int
}

// NewService creates a Service limiting input text and decoded output to maxTextBytes.
// A non-positive limit falls back to DefaultMaxTextBytes.
func NewService(maxTextBytes int) *Service {
	if maxTextBytes <= 0 {
		maxTextBytes = DefaultMaxTextBytes
	}
	return &Service{maxTextBytes: maxTextBytes}
}

// MaxTextBytes reports the configured size limit.
func (s *Service) MaxTextBytes() int {
	return s.maxTextBytes
}

// Encode converts UTF-8 text to its standard base64 representation.
func (s *Service) Encode(text string) (string, error) {
	if len(text) > s.maxTextBytes {
		return "", fmt.Errorf("%w: %d bytes, limit %d", ErrTextTooLarge, len(text), s.maxTextBytes)
	}
	if !utf8.ValidString(text) {
		return "", fmt.Errorf("%w: input text", ErrNotUTF8)
	}
	return base64.StdEncoding.EncodeToString([]byte(text)), nil
}

// Decode converts a standard base64 string back to UTF-8 text.
func (s *Service) Decode(encoded string) (string, error) {
	if len(encoded) > base64.StdEncoding.EncodedLen(s.maxTextBytes) {
		return "", fmt.Errorf("%w: %d bytes encoded, limit %d decoded", ErrTextTooLarge, len(encoded), s.maxTextBytes)
	}
	if !base64Shape.MatchString(encoded) {
		return "", ErrNotBase64
	}
	// The shape check does not catch a misplaced padding length, the decoder does.
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotBase64, err)
	}
	if len(decoded) > s.maxTextBytes {
		return "", fmt.Errorf("%w: %d bytes decoded, limit %d", ErrTextTooLarge, len(decoded), s.maxTextBytes)
	}
	if !utf8.Valid(decoded) {
		return "", ErrNotUTF8
	}
	return string(decoded), nil
}

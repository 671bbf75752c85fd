package b64

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	svc := NewService(0)

	tests := []struct {
		name string
		text string
		want string
	}{
		{name: "simple ascii", text: "hello", want: "aGVsbG8="},
		{name: "empty string", text: "", want: ""},
		{name: "unicode", text: "héllo wörld", want: "aMOpbGxvIHfDtnJsZA=="},
		{name: "whitespace", text: " \t\n", want: "IAkK"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.Encode(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecode(t *testing.T) {
	svc := NewService(0)

	tests := []struct {
		name    string
		encoded string
		want    string
	}{
		{name: "simple ascii", encoded: "aGVsbG8=", want: "hello"},
		{name: "empty string", encoded: "", want: ""},
		{name: "unicode", encoded: "aMOpbGxvIHfDtnJsZA==", want: "héllo wörld"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.Decode(tt.encoded)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	svc := NewService(0)

	for _, text := range []string{"hello", "日本語テキスト", "line1\nline2", "a"} {
		encoded, err := svc.Encode(text)
		require.NoError(t, err)
		decoded, err := svc.Decode(encoded)
		require.NoError(t, err)
		assert.Equal(t, text, decoded)
	}
}

func TestDecodeRejectsMalformedInput(t *testing.T) {
	svc := NewService(0)

	tests := []struct {
		name    string
		encoded string
	}{
		{name: "illegal characters", encoded: "not base64!!!"},
		{name: "embedded whitespace", encoded: "aGVs bG8="},
		{name: "too much padding", encoded: "aGVsbG8==="},
		{name: "padding in the middle", encoded: "aGVs=bG8"},
		{name: "wrong length", encoded: "aGVsb"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Decode(tt.encoded)
			assert.ErrorIs(t, err, ErrNotBase64)
		})
	}
}

func TestDecodeRejectsNonUTF8(t *testing.T) {
	svc := NewService(0)

	// Valid base64 of the bytes 0xff 0xfe, which are not UTF-8.
	_, err := svc.Decode("//4=")
	assert.ErrorIs(t, err, ErrNotUTF8)
}

func TestSizeLimits(t *testing.T) {
	svc := NewService(16)

	_, err := svc.Encode(strings.Repeat("a", 17))
	assert.ErrorIs(t, err, ErrTextTooLarge)

	got, err := svc.Encode(strings.Repeat("a", 16))
	require.NoError(t, err)

	decoded, err := svc.Decode(got)
	require.NoError(t, err)
	assert.Len(t, decoded, 16)

	// Encoded input longer than the limit allows is rejected up front.
	_, err = svc.Decode(strings.Repeat("A", 100))
	assert.ErrorIs(t, err, ErrTextTooLarge)
}

func TestDefaultLimit(t *testing.T) {
	assert.Equal(t, DefaultMaxTextBytes, NewService(0).MaxTextBytes())
	assert.Equal(t, DefaultMaxTextBytes, NewService(-5).MaxTextBytes())
	assert.Equal(t, 42, NewService(42).MaxTextBytes())
}

package codec

import (
	"bytes"
	"errors"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "go-gin-event-attendance/pkg/app_errors"
)

func TestEncode_RoundTrip(t *testing.T) {
	c := New(256)

	token, image, err := c.Encode()
	require.NoError(t, err)
	assert.Len(t, token, TokenLength)
	assert.NotEmpty(t, image)

	decoded, err := c.Decode(token)
	require.NoError(t, err)
	assert.Equal(t, token, decoded)
}

func TestEncode_ProducesPNG(t *testing.T) {
	c := New(256)

	_, image, err := c.Encode()
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(image))
	require.NoError(t, err)
	assert.Equal(t, 256, img.Bounds().Dx())
}

func TestEncode_UniqueTokens(t *testing.T) {
	c := New(64)
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		token, err := c.NewToken()
		require.NoError(t, err)
		_, dup := seen[token]
		require.False(t, dup, "duplicate token %s", token)
		seen[token] = struct{}{}
	}
}

func TestEncode_EntropyFailure(t *testing.T) {
	c := &Codec{qrSize: 64, entropy: failingReader{}}

	_, _, err := c.Encode()
	assert.Error(t, err)
}

func TestRender_Deterministic(t *testing.T) {
	c := New(128)
	token := strings.Repeat("AB", TokenLength/2)

	first, err := c.Render(token)
	require.NoError(t, err)
	second, err := c.Render(token)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestDecode(t *testing.T) {
	valid := strings.Repeat("A2", TokenLength/2)

	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "valid", raw: valid, want: valid},
		{name: "surrounding whitespace", raw: "  " + valid + "\n", want: valid},
		{name: "lower case", raw: strings.ToLower(valid), want: valid},
		{name: "empty", raw: "", wantErr: true},
		{name: "too short", raw: valid[:31], wantErr: true},
		{name: "too long", raw: valid + "A", wantErr: true},
		{name: "digit outside alphabet", raw: strings.Repeat("A1", TokenLength/2), wantErr: true},
		{name: "url payload", raw: "https://example.com/ticket?id=1234", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, apperrors.ErrMalformedToken)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("AAAA")
	assert.Len(t, a, 64)
	assert.Equal(t, a, Fingerprint("AAAA"))
	assert.NotEqual(t, a, Fingerprint("AAAB"))
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("entropy unavailable")
}

package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeOf_WalksWrappedChain(t *testing.T) {
	base := NotFound("manga", "abc")
	wrapped := fmt.Errorf("get manga: %w", base)

	assert.Equal(t, CodeNotFound, CodeOf(wrapped))
	assert.True(t, IsCode(wrapped, CodeNotFound))
	assert.False(t, IsCode(wrapped, CodeHTTP))
	assert.False(t, IsCode(nil, CodeNotFound))
}

func TestCodeOf_PlainErrorIsInternal(t *testing.T) {
	assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
}

func TestHTTP_TruncatesBody(t *testing.T) {
	err := HTTP(503, strings.Repeat("x", 2000))
	assert.Equal(t, 503, err.Status)
	assert.Len(t, err.Body, maxBodyLen)
	assert.Equal(t, "unexpected status 503", err.Error())
}

func TestHTTP_TruncatesOnRuneBoundary(t *testing.T) {
	// Two-byte runes after a one-byte prefix put a continuation byte at the limit
	err := HTTP(502, "x"+strings.Repeat("é", 600))
	assert.True(t, utf8.ValidString(err.Body))
	assert.Len(t, err.Body, maxBodyLen-1)
}

func TestError_UnwrapReachesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Transport(cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestPayload(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   Code
		wantStatus int
	}{
		{
			name:       "http error keeps status",
			err:        fmt.Errorf("search: %w", HTTP(429, "slow down")),
			wantCode:   CodeHTTP,
			wantStatus: 429,
		},
		{
			name:     "download error",
			err:      Download("https://example.com/a.png", errors.New("timeout")),
			wantCode: CodeDownload,
		},
		{
			name:     "plain error",
			err:      errors.New("unexpected"),
			wantCode: CodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Payload(tt.err)
			assert.Equal(t, tt.wantCode, p.Code)
			assert.Equal(t, tt.wantStatus, p.Status)
			assert.Equal(t, tt.err.Error(), p.Message)
		})
	}
}

func TestPayload_JSONShape(t *testing.T) {
	data, err := json.Marshal(Payload(NotFound("manga", "abc")))
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "NOT_FOUND", decoded["code"])
	assert.Equal(t, "manga not found: abc", decoded["error"])
	_, hasStatus := decoded["status"]
	assert.False(t, hasStatus, "status is omitted for non-HTTP errors")
}

package errors

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRateLimitExhausted(t *testing.T) {
	err := NewRateLimitExhausted(5)

	assert.True(t, IsRateLimitExhausted(err))
	assert.True(t, IsRateLimitExhausted(fmt.Errorf("fetch likes: %w", err)))
	assert.Contains(t, err.Error(), "Rate limited after 5 retries")
	assert.False(t, IsRateLimitExhausted(NewAPIError("getActorLikes", 500, nil)))
}

func TestAPIErrorIncludesStatusAndBody(t *testing.T) {
	err := NewAPIError("app.bsky.feed.getActorLikes", 400, []byte(`{"error":"InvalidRequest"}`))

	assert.Equal(t, ErrorTypeAPI, err.Type)
	assert.Contains(t, err.Error(), "code 400")
	assert.Contains(t, err.Error(), "InvalidRequest")
}

func TestDecodeErrorPreview(t *testing.T) {
	raw := []byte(strings.Repeat("x", decodePreviewLimit+100))
	err := NewDecodeError("app.bsky.feed.getAuthorFeed", fmt.Errorf("unexpected token"), raw)

	assert.True(t, IsType(err, ErrorTypeDecode))
	assert.True(t, strings.HasSuffix(err.Body, "..."))
	assert.Len(t, err.Body, decodePreviewLimit+3)
	assert.ErrorContains(t, err.Unwrap(), "unexpected token")
}

func TestIsRetryableStatusCode(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{429, true},
		{500, false},
		{401, false},
		{400, false},
		{200, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryableStatusCode(tt.code))
		})
	}
}

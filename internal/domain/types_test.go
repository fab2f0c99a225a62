package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishRequestValidate(t *testing.T) {
	valid := PublishRequest{
		Title:          "Hello",
		HTMLContent:    "<p>Hi</p>",
		TextContent:    "Hi",
		IdempotencyKey: "abc-123",
	}

	tests := []struct {
		name    string
		mutate  func(*PublishRequest)
		wantErr error
	}{
		{name: "valid", mutate: func(r *PublishRequest) {}},
		{name: "missing title", mutate: func(r *PublishRequest) { r.Title = "" }, wantErr: ErrMissingFields},
		{name: "missing html", mutate: func(r *PublishRequest) { r.HTMLContent = "" }, wantErr: ErrMissingFields},
		{name: "missing text", mutate: func(r *PublishRequest) { r.TextContent = "" }, wantErr: ErrMissingFields},
		{name: "missing key", mutate: func(r *PublishRequest) { r.IdempotencyKey = "" }, wantErr: ErrInvalidIdempotencyKey},
		{name: "key too long", mutate: func(r *PublishRequest) { r.IdempotencyKey = strings.Repeat("x", 51) }, wantErr: ErrInvalidIdempotencyKey},
		{name: "key at limit", mutate: func(r *PublishRequest) { r.IdempotencyKey = strings.Repeat("x", 50) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)
			err := req.Validate()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseIdempotencyKey(t *testing.T) {
	got, err := ParseIdempotencyKey("abc-123")
	require.NoError(t, err)
	assert.Equal(t, "abc-123", got)

	_, err = ParseIdempotencyKey("")
	assert.ErrorIs(t, err, ErrInvalidIdempotencyKey)

	_, err = ParseIdempotencyKey(strings.Repeat("k", 51))
	assert.ErrorIs(t, err, ErrInvalidIdempotencyKey)
}

func TestParseSubscriberEmail(t *testing.T) {
	got, err := ParseSubscriberEmail("  alice@example.com ")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", got)

	for _, bad := range []string{"", "not-an-email", "@example.com"} {
		_, err := ParseSubscriberEmail(bad)
		assert.ErrorIs(t, err, ErrInvalidSubscriberEmail, "input %q", bad)
	}
}

package domain

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

const MaxIdempotencyKeyLen = 50

var (
	ErrMissingFields          = errors.New("missing required fields")
	ErrInvalidIdempotencyKey  = errors.New("idempotency key must be 1-50 characters")
	ErrInvalidSubscriberEmail = errors.New("invalid subscriber email")
)

// PublishRequest is the form payload of POST /admin/newsletters.
type PublishRequest struct {
	Title          string `validate:"required"`
	HTMLContent    string `validate:"required"`
	TextContent    string `validate:"required"`
	IdempotencyKey string `validate:"required,max=50"`
}

func (r PublishRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		if r.Title == "" || r.HTMLContent == "" || r.TextContent == "" {
			return ErrMissingFields
		}
		return ErrInvalidIdempotencyKey
	}
	_, err := ParseIdempotencyKey(r.IdempotencyKey)
	return err
}

// ParseIdempotencyKey validates a client-supplied idempotency key.
// Keys are opaque; only length is enforced.
func ParseIdempotencyKey(s string) (string, error) {
	if s == "" || len(s) > MaxIdempotencyKeyLen {
		return "", ErrInvalidIdempotencyKey
	}
	return s, nil
}

// ParseSubscriberEmail re-validates an email loaded from storage before it is
// handed to the transport. A failure here is permanent: retrying cannot fix
// corrupt stored data.
func ParseSubscriberEmail(s string) (string, error) {
	s = strings.TrimSpace(s)
	if err := validate.Var(s, "required,email,max=320"); err != nil {
		return "", ErrInvalidSubscriberEmail
	}
	return s, nil
}

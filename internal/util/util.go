package util

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewRequestID returns a sortable id for correlating log lines of one request.
func NewRequestID() string {
	t := time.Now().UTC()
	return "req_" + ulid.MustNew(ulid.Timestamp(t), rand.Reader).String()
}

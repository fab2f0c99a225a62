package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
)

// Client talks to a Postmark-compatible email API. The transport contract is
// a single POST: success or a failure the caller classifies as transient or
// not via ShouldRetry.
type Client struct {
	BaseURL     string
	ServerToken string
	Sender      string
	HTTP        *http.Client
}

type sendPayload struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HTMLBody string `json:"HtmlBody"`
	TextBody string `json:"TextBody"`
}

type SendResponse struct {
	ErrorCode int    `json:"ErrorCode"`
	Message   string `json:"Message"`
	MessageID string `json:"MessageID"`
}

func (c *Client) Send(ctx context.Context, recipient, subject, htmlBody, textBody string) (SendResponse, int, []byte, error) {
	payload, err := json.Marshal(sendPayload{
		From:     c.Sender,
		To:       recipient,
		Subject:  subject,
		HTMLBody: htmlBody,
		TextBody: textBody,
	})
	if err != nil {
		return SendResponse{}, 0, nil, err
	}

	endpoint := strings.TrimRight(c.BaseURL, "/") + "/email"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return SendResponse{}, 0, nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Postmark-Server-Token", c.ServerToken)

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return SendResponse{}, 0, nil, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)

	var out SendResponse
	_ = json.Unmarshal(b, &out)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if out.Message != "" {
			return out, resp.StatusCode, b, errors.New(out.Message)
		}
		return out, resp.StatusCode, b, errors.New("email send failed")
	}
	return out, resp.StatusCode, b, nil
}

// ShouldRetry classifies a send failure as transient. Timeouts, throttling
// and provider 5xx are worth retrying; anything else (bad request, rejected
// address, auth) is permanent.
func ShouldRetry(err error, httpStatus int) bool {
	if err != nil && httpStatus == 0 {
		if errors.Is(err, context.DeadlineExceeded) {
			return true
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return true
		}
		// Connection refused/reset and similar dial errors: the provider may
		// be back shortly.
		var oe *net.OpError
		return errors.As(err, &oe)
	}
	if httpStatus == 429 || httpStatus == 408 {
		return true
	}
	return httpStatus >= 500 && httpStatus <= 599
}

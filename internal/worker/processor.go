package worker

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"newsletter/internal/domain"
	"newsletter/internal/email"
	"newsletter/internal/observability"
	"newsletter/internal/store"
)

type Store interface {
	ClaimTask(ctx context.Context) (store.ClaimedTask, bool, error)
}

type EmailSender interface {
	Send(ctx context.Context, recipient, subject, htmlBody, textBody string) (email.SendResponse, int, []byte, error)
}

// Processor drains the delivery queue: claim one task, send, apply the retry
// policy, all inside the claim transaction. A crash before commit releases
// the row lock and the task is retried unchanged by whoever claims it next.
type Processor struct {
	Store   Store
	Sender  EmailSender
	Limiter *rate.Limiter
	Breaker *gobreaker.CircuitBreaker

	MaxRetries  int
	BackoffBase time.Duration
	BackoffCap  time.Duration
	IdleSleep   time.Duration
}

// Run polls until ctx is canceled. The idle sleep when the queue is empty is
// the loop's only suspension point besides the transport call itself.
func (p *Processor) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		processed, err := p.ProcessNext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Error("delivery iteration failed", "err", err)
			p.sleep(ctx, 500*time.Millisecond)
			continue
		}
		if !processed {
			p.sleep(ctx, p.IdleSleep)
		}
	}
}

// ProcessNext handles at most one task. It reports whether a task was
// claimed, so the caller knows when to idle.
func (p *Processor) ProcessNext(ctx context.Context) (bool, error) {
	claim, ok, err := p.Store.ClaimTask(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	task := claim.Task()

	recipient, err := domain.ParseSubscriberEmail(task.SubscriberEmail)
	if err != nil {
		// Stored contact details are corrupt; retrying cannot fix them.
		slog.Warn("skipping delivery, stored email invalid",
			"issue_id", task.IssueID,
			"subscriber_email", task.SubscriberEmail,
		)
		observability.DeliveryOutcomes.WithLabelValues("bad_address").Inc()
		return true, claim.Discard(ctx)
	}

	if p.Limiter != nil {
		waitCtx, cancelWait := context.WithTimeout(ctx, 2*time.Second)
		err := p.Limiter.Wait(waitCtx)
		cancelWait()
		if err != nil {
			// No send attempted; put the task back untouched.
			claim.Release(ctx)
			observability.DeliveryOutcomes.WithLabelValues("rate_limited_local").Inc()
			return true, nil
		}
	}

	start := time.Now()
	httpStatus, sendErr := p.executeWithBreaker(ctx, recipient, task)

	if errors.Is(sendErr, gobreaker.ErrOpenState) || errors.Is(sendErr, gobreaker.ErrTooManyRequests) {
		// Provider protection tripped. Release without consuming a retry and
		// let Run back off.
		claim.Release(ctx)
		observability.DeliveryOutcomes.WithLabelValues("cb_open").Inc()
		return true, sendErr
	}

	if sendErr == nil {
		observability.EmailSend.WithLabelValues("ok", strconv.Itoa(httpStatus)).Inc()
		observability.EmailLatency.Observe(time.Since(start).Seconds())
		observability.DeliveryOutcomes.WithLabelValues("sent").Inc()
		return true, claim.Complete(ctx)
	}

	observability.EmailSend.WithLabelValues("error", strconv.Itoa(httpStatus)).Inc()

	if !email.ShouldRetry(sendErr, httpStatus) {
		slog.Warn("delivery failed permanently",
			"issue_id", task.IssueID,
			"subscriber_email", recipient,
			"http_status", httpStatus,
			"err", sendErr,
		)
		observability.DeliveryOutcomes.WithLabelValues("permanent").Inc()
		return true, claim.Discard(ctx)
	}

	if task.NRetries+1 >= p.MaxRetries {
		slog.Warn("delivery retries exhausted",
			"issue_id", task.IssueID,
			"subscriber_email", recipient,
			"n_retries", task.NRetries,
			"err", sendErr,
		)
		observability.DeliveryOutcomes.WithLabelValues("exhausted").Inc()
		return true, claim.Discard(ctx)
	}

	observability.DeliveryOutcomes.WithLabelValues("retried").Inc()
	return true, claim.RetryLater(ctx, time.Now().UTC().Add(p.Backoff(task.NRetries)))
}

func (p *Processor) executeWithBreaker(ctx context.Context, recipient string, task store.DeliveryTask) (int, error) {
	call := func() (any, error) {
		_, httpStatus, _, err := p.Sender.Send(ctx, recipient, task.Title, task.HTMLContent, task.TextContent)
		if err != nil {
			return nil, sendCallError{err: err, httpStatus: httpStatus}
		}
		return httpStatus, nil
	}

	var res any
	var err error
	if p.Breaker != nil {
		res, err = p.Breaker.Execute(call)
	} else {
		res, err = call()
	}
	if err != nil {
		var sce sendCallError
		if errors.As(err, &sce) {
			return sce.httpStatus, err
		}
		return 0, err
	}
	return res.(int), nil
}

// Backoff doubles per prior failed attempt, capped.
func (p *Processor) Backoff(nRetries int) time.Duration {
	if nRetries > 30 {
		nRetries = 30
	}
	d := p.BackoffBase << uint(nRetries)
	if d <= 0 || d > p.BackoffCap {
		return p.BackoffCap
	}
	return d
}

func (p *Processor) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

type sendCallError struct {
	err        error
	httpStatus int
}

func (e sendCallError) Error() string { return e.err.Error() }
func (e sendCallError) Unwrap() error { return e.err }

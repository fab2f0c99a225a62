package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newsletter/internal/email"
	"newsletter/internal/store"
)

type fakeClaim struct {
	task      store.DeliveryTask
	completed bool
	discarded bool
	released  bool
	retriedAt time.Time
}

func (f *fakeClaim) Task() store.DeliveryTask { return f.task }
func (f *fakeClaim) Complete(ctx context.Context) error {
	f.completed = true
	return nil
}
func (f *fakeClaim) Discard(ctx context.Context) error {
	f.discarded = true
	return nil
}
func (f *fakeClaim) RetryLater(ctx context.Context, executeAfter time.Time) error {
	f.retriedAt = executeAfter
	f.task.NRetries++
	return nil
}
func (f *fakeClaim) Release(ctx context.Context) { f.released = true }

type fakeQueue struct {
	claims []*fakeClaim
	next   int
}

func (f *fakeQueue) ClaimTask(ctx context.Context) (store.ClaimedTask, bool, error) {
	if f.next >= len(f.claims) {
		return nil, false, nil
	}
	c := f.claims[f.next]
	f.next++
	return c, true, nil
}

type scriptedSender struct {
	statuses []int
	calls    int
	sentTo   []string
}

func (s *scriptedSender) Send(ctx context.Context, recipient, subject, htmlBody, textBody string) (email.SendResponse, int, []byte, error) {
	status := 200
	if s.calls < len(s.statuses) {
		status = s.statuses[s.calls]
	}
	s.calls++
	s.sentTo = append(s.sentTo, recipient)
	if status < 200 || status >= 300 {
		return email.SendResponse{}, status, nil, errors.New("email send failed")
	}
	return email.SendResponse{MessageID: "m1"}, status, nil, nil
}

func newProcessor(q Store, s EmailSender) *Processor {
	return &Processor{
		Store:       q,
		Sender:      s,
		MaxRetries:  3,
		BackoffBase: time.Second,
		BackoffCap:  60 * time.Second,
		IdleSleep:   time.Millisecond,
	}
}

func task(nRetries int) store.DeliveryTask {
	return store.DeliveryTask{
		IssueID:         "issue-1",
		SubscriberEmail: "alice@example.com",
		NRetries:        nRetries,
		Title:           "Hello",
		HTMLContent:     "<p>Hi</p>",
		TextContent:     "Hi",
	}
}

func TestProcessNextEmptyQueue(t *testing.T) {
	p := newProcessor(&fakeQueue{}, &scriptedSender{})
	processed, err := p.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestProcessNextSuccessDeletesTask(t *testing.T) {
	claim := &fakeClaim{task: task(0)}
	sender := &scriptedSender{}
	p := newProcessor(&fakeQueue{claims: []*fakeClaim{claim}}, sender)

	processed, err := p.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)
	assert.True(t, claim.completed)
	assert.False(t, claim.discarded)
	assert.Equal(t, []string{"alice@example.com"}, sender.sentTo)
}

func TestProcessNextTransientFailureSchedulesRetry(t *testing.T) {
	claim := &fakeClaim{task: task(0)}
	sender := &scriptedSender{statuses: []int{500}}
	p := newProcessor(&fakeQueue{claims: []*fakeClaim{claim}}, sender)

	before := time.Now().UTC()
	processed, err := p.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)

	assert.False(t, claim.completed)
	assert.False(t, claim.discarded)
	require.False(t, claim.retriedAt.IsZero())
	// first failure backs off by the base interval
	assert.WithinDuration(t, before.Add(time.Second), claim.retriedAt, 200*time.Millisecond)
}

func TestProcessNextPermanentFailureDiscards(t *testing.T) {
	claim := &fakeClaim{task: task(0)}
	sender := &scriptedSender{statuses: []int{422}}
	p := newProcessor(&fakeQueue{claims: []*fakeClaim{claim}}, sender)

	processed, err := p.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)
	assert.True(t, claim.discarded)
	assert.False(t, claim.completed)
}

func TestProcessNextExhaustionDiscards(t *testing.T) {
	// two prior failures, third attempt fails with max_retries=3: delete, no
	// further attempt
	claim := &fakeClaim{task: task(2)}
	sender := &scriptedSender{statuses: []int{500}}
	p := newProcessor(&fakeQueue{claims: []*fakeClaim{claim}}, sender)

	processed, err := p.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)
	assert.True(t, claim.discarded)
	assert.True(t, claim.retriedAt.IsZero())
	assert.Equal(t, 1, sender.calls)
}

func TestFailTwiceThenSucceed(t *testing.T) {
	sender := &scriptedSender{statuses: []int{500, 500, 200}}
	claim := &fakeClaim{task: task(0)}
	q := &fakeQueue{claims: []*fakeClaim{claim}}
	p := newProcessor(q, sender)

	for attempt := 0; attempt < 3; attempt++ {
		q.next = 0 // re-offer the same row, as the queue would once eligible
		processed, err := p.ProcessNext(context.Background())
		require.NoError(t, err)
		require.True(t, processed)
	}

	assert.Equal(t, 3, sender.calls)
	assert.True(t, claim.completed)
	assert.False(t, claim.discarded)
	// n_retries observed as 2 just before deletion
	assert.Equal(t, 2, claim.task.NRetries)
}

func TestProcessNextInvalidStoredEmailDiscardsWithoutSend(t *testing.T) {
	bad := task(0)
	bad.SubscriberEmail = "not-an-email"
	claim := &fakeClaim{task: bad}
	sender := &scriptedSender{}
	p := newProcessor(&fakeQueue{claims: []*fakeClaim{claim}}, sender)

	processed, err := p.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)
	assert.True(t, claim.discarded)
	assert.Zero(t, sender.calls)
}

func TestOpenBreakerReleasesClaim(t *testing.T) {
	first := &fakeClaim{task: task(0)}
	second := &fakeClaim{task: task(0)}
	sender := &scriptedSender{statuses: []int{500, 500}}
	p := newProcessor(&fakeQueue{claims: []*fakeClaim{first, second}}, sender)
	p.Breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "email",
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 1 },
		Timeout:     time.Minute,
	})

	processed, err := p.ProcessNext(context.Background())
	require.NoError(t, err)
	require.True(t, processed)

	// breaker is now open: the claim must be released untouched, no retry
	// consumed
	processed, err = p.ProcessNext(context.Background())
	assert.True(t, processed)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.True(t, second.released)
	assert.False(t, second.discarded)
	assert.True(t, second.retriedAt.IsZero())
	assert.Equal(t, 1, sender.calls)
}

func TestBackoffCurve(t *testing.T) {
	p := &Processor{BackoffBase: time.Second, BackoffCap: 60 * time.Second}

	tests := []struct {
		nRetries int
		want     time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{5, 32 * time.Second},
		{6, 60 * time.Second},
		{30, 60 * time.Second},
		{100, 60 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Backoff(tt.nRetries), "nRetries=%d", tt.nRetries)
	}
}

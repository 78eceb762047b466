package events

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docscan/constants"
	"github.com/joseph-ayodele/docscan/internal/entity"
	"github.com/joseph-ayodele/docscan/internal/registry"
	"github.com/joseph-ayodele/docscan/internal/review"
)

type message struct {
	key   string
	event Event
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []message
	err  error
}

func (f *fakePublisher) Publish(_ context.Context, key string, body json.RawMessage) error {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, message{key: key, event: ev})
	return f.err
}

func (f *fakePublisher) Close() error { return nil }

func (f *fakePublisher) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.msgs))
	for i, m := range f.msgs {
		out[i] = m.key
	}
	return out
}

func TestRelayPublishesLifecycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := registry.New(review.DefaultPolicy(), nil)
	snaps, unsubscribe := reg.Subscribe()

	pub := &fakePublisher{}
	var hooked []entity.Job
	relay := NewRelay(nil, WithPublisher(pub), WithTerminalHook(func(_ context.Context, j entity.Job) error {
		hooked = append(hooked, j)
		return errors.New("mirror down")
	}))
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx, snaps) }()

	job, err := reg.Create(ctx, registry.CreateRequest{Document: entity.Document{Filename: "a.pdf", Kind: constants.KindPDF}}, nil)
	require.NoError(t, err)
	_, err = reg.Transition(ctx, job.ID, constants.JobStatusRunning)
	require.NoError(t, err)
	require.NoError(t, reg.SetExpectedPages(job.ID, 1))
	require.NoError(t, reg.AppendPage(job.ID, entity.Page{Name: "a_page_001"}))
	_, err = reg.Complete(ctx, job.ID)
	require.NoError(t, err)

	unsubscribe()
	require.NoError(t, <-done)

	assert.Equal(t, []string{"job.pending", "job.running", "job.page", "job.completed"}, pub.keys())
	last := pub.msgs[len(pub.msgs)-1].event
	assert.Equal(t, job.ID, last.JobID)
	assert.Equal(t, 1, last.Pages)
	assert.Equal(t, 1, last.TotalPages)
	assert.Equal(t, EventStatus, last.Type)

	require.Len(t, hooked, 1, "hook errors are logged, not retried")
	assert.Equal(t, constants.JobStatusCompleted, hooked[0].Status)
}

func TestRelayStopsOnContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan entity.Job)
	cancel()
	err := NewRelay(nil).Run(ctx, ch)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRelayPublishFailureDoesNotBlockHooks(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker gone")}
	calls := 0
	relay := NewRelay(nil, WithPublisher(pub), WithTerminalHook(func(context.Context, entity.Job) error {
		calls++
		return nil
	}))
	msg := "boom"
	relay.handle(context.Background(), entity.Job{ID: "x", Status: constants.JobStatusFailed, Error: &msg})
	assert.Equal(t, 1, calls)
	assert.Equal(t, []string{"job.failed"}, pub.keys())
}

type fakeChannel struct {
	exchange, key string
	msg           amqp.Publishing
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.exchange, f.key, f.msg = exchange, key, msg
	return nil
}

func (f *fakeChannel) Close() error { return nil }

func TestRabbitPublisherMessage(t *testing.T) {
	ch := &fakeChannel{}
	p := &RabbitPublisher{channel: ch, exchange: "docscan.jobs"}
	require.NoError(t, p.Publish(context.Background(), "job.completed", json.RawMessage(`{"job_id":"x"}`)))

	assert.Equal(t, "docscan.jobs", ch.exchange)
	assert.Equal(t, "job.completed", ch.key)
	assert.Equal(t, "application/json", ch.msg.ContentType)
	assert.Equal(t, amqp.Persistent, ch.msg.DeliveryMode)
	assert.WithinDuration(t, time.Now(), ch.msg.Timestamp, time.Minute)
	require.NoError(t, p.Close())
}

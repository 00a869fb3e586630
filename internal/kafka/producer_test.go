package kafka

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-rifa/internal/logging"
	"github.com/ariefcatur/go-rifa/internal/rifa"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func TestProducer_FlushesOnClose(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, 16, logging.Discard())
	p.Start(context.Background())

	for i := 0; i < 5; i++ {
		require.NoError(t, p.Publish(context.Background(), kafka.Message{Topic: "t", Value: []byte{byte(i)}}))
	}
	p.Close()
	p.WaitClosed()

	assert.Len(t, w.msgs, 5)
	assert.True(t, w.closed)
	assert.ErrorIs(t, p.Publish(context.Background(), kafka.Message{Topic: "t"}), ErrProducerClosed)
	p.Close() // idempotent
}

func TestProducer_ContextCancelCloses(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, 1, logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	require.NoError(t, p.Publish(ctx, kafka.Message{Topic: "t"}))
	cancel()
	p.WaitClosed()
	assert.True(t, w.closed)
}

// blockingWriter holds the write loop until release is closed.
type blockingWriter struct {
	fakeWriter
	release chan struct{}
}

func (w *blockingWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	<-w.release
	return w.fakeWriter.WriteMessages(ctx, msgs...)
}

func TestProducer_CloseReleasesBlockedPublisher(t *testing.T) {
	w := &blockingWriter{release: make(chan struct{})}
	p := newProducer(w, 1, logging.Discard())
	p.Start(context.Background())

	// first message is held by the writer, second fills the inbox
	require.NoError(t, p.Publish(context.Background(), kafka.Message{Topic: "t"}))
	require.Eventually(t, func() bool { return len(p.inbox) == 0 }, time.Second, time.Millisecond)
	require.NoError(t, p.Publish(context.Background(), kafka.Message{Topic: "t"}))

	blocked := make(chan error, 1)
	go func() { blocked <- p.Publish(context.Background(), kafka.Message{Topic: "t"}) }()

	closed := make(chan struct{})
	go func() {
		p.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close waited behind a blocked Publish")
	}
	assert.ErrorIs(t, <-blocked, ErrProducerClosed)

	close(w.release)
	p.WaitClosed()
	assert.Len(t, w.msgs, 2)
}

func TestBus_RoutesByEventType(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, 16, logging.Discard())
	p.Start(context.Background())
	bus := &Bus{P: p}

	env, err := rifa.NewEnvelope(rifa.EventReservationRejected, "test", "ref-1", rifa.ReservationRejectedPayload{
		ExternalReference: "ref-1", RaffleID: "r1", Reason: rifa.ReasonNumberConflict, RefundRequired: true,
	})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), "r1", env))
	p.Close()
	p.WaitClosed()

	require.Len(t, w.msgs, 1)
	m := w.msgs[0]
	assert.Equal(t, rifa.TopicReservationRejected, m.Topic)
	assert.Equal(t, []byte("r1"), m.Key)
	assert.Equal(t, HeaderEventType, m.Headers[0].Key)
	assert.Equal(t, rifa.EventReservationRejected, string(m.Headers[0].Value))

	got, err := DecodeEnvelope(m)
	require.NoError(t, err)
	assert.Equal(t, env.EventID, got.EventID)
	p2, err := UnwrapPayload[rifa.ReservationRejectedPayload](got.Payload)
	require.NoError(t, err)
	assert.True(t, p2.RefundRequired)

	_, err = DecodeEnvelope(kafka.Message{Value: []byte("{")})
	var syntax *json.SyntaxError
	assert.ErrorAs(t, err, &syntax)
}

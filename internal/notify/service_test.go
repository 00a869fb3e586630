package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/ariefcatur/go-rifa/internal/logging"
	"github.com/ariefcatur/go-rifa/internal/rifa"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	sent []tgbotapi.MessageConfig
	fail bool
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.fail {
		return tgbotapi.Message{}, errors.New("telegram down")
	}
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

type memDedup struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (d *memDedup) Claim(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen[id] {
		return false, nil
	}
	d.seen[id] = true
	return true, nil
}

func (d *memDedup) Release(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, id)
	return nil
}

func message(t *testing.T, eventType string, payload any) kafkago.Message {
	t.Helper()
	env, err := rifa.NewEnvelope(eventType, "test", "corr", payload)
	require.NoError(t, err)
	b, err := json.Marshal(env)
	require.NoError(t, err)
	return kafkago.Message{Topic: rifa.TopicFor(eventType), Value: b}
}

func newService() (*Service, *fakeSender) {
	fs := &fakeSender{}
	return &Service{Sender: fs, ChatID: 42, Dedup: &memDedup{seen: map[string]bool{}}, Log: logging.Discard()}, fs
}

func TestHandleEvent_RefundRequired(t *testing.T) {
	svc, fs := newService()
	m := message(t, rifa.EventReservationRejected, rifa.ReservationRejectedPayload{
		ExternalReference: "ref-b", RaffleID: "r1", PaymentID: "pay-b", AmountCents: 2000,
		Reason: rifa.ReasonNumberConflict, ConflictNumbers: []int{7}, RefundRequired: true,
		Contact: rifa.Contact{Name: "Beto", Phone: "+54 9 11"},
	})

	require.NoError(t, svc.HandleEvent(context.Background(), m))
	require.NoError(t, svc.HandleEvent(context.Background(), m), "redelivery")

	require.Len(t, fs.sent, 1)
	assert.Equal(t, int64(42), fs.sent[0].ChatID)
	assert.Contains(t, fs.sent[0].Text, "NUMBER_CONFLICT")
	assert.Contains(t, fs.sent[0].Text, "Numbers already taken: 7")
	assert.Contains(t, fs.sent[0].Text, "20.00")
	assert.Contains(t, fs.sent[0].Text, "Beto")
}

func TestHandleEvent_IgnoresPlainRejections(t *testing.T) {
	svc, fs := newService()
	m := message(t, rifa.EventReservationRejected, rifa.ReservationRejectedPayload{
		ExternalReference: "ref", Reason: rifa.ReasonPaymentRejected,
	})
	require.NoError(t, svc.HandleEvent(context.Background(), m))
	assert.Empty(t, fs.sent)
}

func TestHandleEvent_Drawn(t *testing.T) {
	svc, fs := newService()
	m := message(t, rifa.EventRaffleDrawn, rifa.RaffleDrawnPayload{
		RaffleID: "r1", Title: "Navidad", WinningEntryID: "e1", WinningNumber: 7, WinnerUserID: "ana",
	})
	require.NoError(t, svc.HandleEvent(context.Background(), m))
	require.Len(t, fs.sent, 1)
	assert.Contains(t, fs.sent[0].Text, "Winning number: 7")
}

func TestHandleEvent_SendFailureIsRetried(t *testing.T) {
	svc, fs := newService()
	m := message(t, rifa.EventRaffleClosed, rifa.RaffleClosedPayload{RaffleID: "r1", Title: "Navidad"})

	fs.fail = true
	assert.Error(t, svc.HandleEvent(context.Background(), m))

	fs.fail = false
	require.NoError(t, svc.HandleEvent(context.Background(), m))
	assert.Len(t, fs.sent, 1)
}

func TestHandleEvent_PoisonMessageCommitted(t *testing.T) {
	svc, fs := newService()
	assert.NoError(t, svc.HandleEvent(context.Background(), kafkago.Message{Value: []byte("nope")}))
	assert.Empty(t, fs.sent)
}

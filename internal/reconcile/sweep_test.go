package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/ariefcatur/go-rifa/internal/logging"
	"github.com/ariefcatur/go-rifa/internal/payment"
	"github.com/ariefcatur/go-rifa/internal/rifa"
	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweeper_RedrivesKnownPayments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	withPayment := f.initiate(t, "a", 1)
	withoutPayment := f.initiate(t, "b", 2)

	pay := f.gateway.SetPayment(payment.Status{RawStatus: "in_process", ExternalReference: withPayment.ExternalReference}).PaymentID
	_, err := f.engine.Reconcile(ctx, pay)
	require.NoError(t, err)

	// the approval webhook never arrives
	f.gateway.SetPayment(payment.Status{PaymentID: pay, RawStatus: "approved", ExternalReference: withPayment.ExternalReference, AmountCents: 1000})

	f.engine.Now = func() time.Time { return time.Now().Add(time.Hour) }
	sw := &Sweeper{Engine: f.engine, OlderThan: 30 * time.Minute, Limit: 10, Log: logging.Discard()}
	rep, err := sw.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Scanned: 2, Redriven: 1}, rep)

	res, _ := f.store.GetReservation(ctx, withPayment.ExternalReference)
	assert.Equal(t, rifa.ReservationProcessed, res.Status)
	res, _ = f.store.GetReservation(ctx, withoutPayment.ExternalReference)
	assert.Equal(t, rifa.ReservationPending, res.Status)

	rep, err = sw.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Scanned, "processed reservations drop out")
}

func TestSweeper_CountsGatewayFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	co := f.initiate(t, "a", 4)
	pay := f.gateway.SetPayment(payment.Status{RawStatus: "pending", ExternalReference: co.ExternalReference}).PaymentID
	_, err := f.engine.Reconcile(ctx, pay)
	require.NoError(t, err)

	f.gateway.FailStatus = true
	f.engine.Now = func() time.Time { return time.Now().Add(time.Hour) }
	rep, err := (&Sweeper{Engine: f.engine, OlderThan: time.Minute, Log: logging.Discard()}).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Scanned: 1, Redriven: 1, Failed: 1}, rep)
}

func TestSweeper_Schedule(t *testing.T) {
	f := newFixture(t)
	c := cron.New()
	sw := &Sweeper{Engine: f.engine, OlderThan: time.Minute, Log: logging.Discard()}

	_, err := sw.Schedule(c, "@every 5m")
	require.NoError(t, err)
	assert.Len(t, c.Entries(), 1)

	_, err = sw.Schedule(c, "not a spec")
	assert.Error(t, err)
}

// Package reconcile turns provider payment notifications into confirmed raffle
// entries. The provider is always re-queried; a notification is only a hint.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"github.com/ariefcatur/go-rifa/internal/metrics"
	"github.com/ariefcatur/go-rifa/internal/payment"
	"github.com/ariefcatur/go-rifa/internal/rifa"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"strings"
	"time"
)

// DefaultNotFoundGrace is how long an unknown external reference is treated
// as "not written yet" and retried by the provider instead of acknowledged.
const DefaultNotFoundGrace = 15 * time.Minute

// Invalidator drops cached views after a reservation changes state.
type Invalidator interface {
	Invalidate(ctx context.Context, raffleID string)
}

type StatusCache interface {
	Forget(ctx context.Context, externalReference string)
}

type Engine struct {
	Store         rifa.Store
	Gateway       payment.Gateway
	Events        rifa.Publisher
	Availability  Invalidator // optional
	StatusCache   StatusCache // optional
	Log           *logrus.Entry
	Service       string
	NotifyURL     string
	NotFoundGrace time.Duration
	Now           func() time.Time
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now().UTC()
}

func (e *Engine) logger() *logrus.Entry {
	if e.Log != nil {
		return e.Log
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

func (e *Engine) grace() time.Duration {
	if e.NotFoundGrace > 0 {
		return e.NotFoundGrace
	}
	return DefaultNotFoundGrace
}

type InitiateRequest struct {
	UserID   string       `json:"user_id"`
	RaffleID string       `json:"raffle_id"`
	Numbers  []int        `json:"numbers"`
	Contact  rifa.Contact `json:"contact"`
}

type Checkout struct {
	ExternalReference string `json:"external_reference"`
	ReservationID     string `json:"reservation_id"`
	AmountCents       int    `json:"amount_cents"`
	PreferenceID      string `json:"preference_id"`
	RedirectURL       string `json:"redirect_url"`
}

// CheckoutError is returned when the reservation was stored but the provider
// could not produce a checkout. The reservation stays pending under Reference.
type CheckoutError struct {
	Reference string
	Err       error
}

func (e *CheckoutError) Error() string {
	return fmt.Sprintf("checkout for reservation %s: %v", e.Reference, e.Err)
}

func (e *CheckoutError) Unwrap() error { return e.Err }

// Initiate validates the selection, records a pending reservation and asks the
// gateway for a checkout. Numbers are not checked against availability here;
// confirmation is where ownership is decided.
func (e *Engine) Initiate(ctx context.Context, req InitiateRequest) (Checkout, error) {
	if strings.TrimSpace(req.UserID) == "" {
		metrics.RecordCheckout("invalid")
		return Checkout{}, &rifa.ValidationError{Field: "user_id", Reason: "required"}
	}
	if err := rifa.ValidateContact(req.Contact); err != nil {
		metrics.RecordCheckout("invalid")
		return Checkout{}, err
	}
	raffle, err := e.Store.GetRaffle(ctx, req.RaffleID)
	if err != nil {
		return Checkout{}, err
	}
	if raffle.Status != rifa.RaffleOpen {
		metrics.RecordCheckout("closed")
		return Checkout{}, fmt.Errorf("raffle %s is %s: %w", raffle.ID, raffle.Status, rifa.ErrRaffleNotOpen)
	}
	if err := rifa.ValidateSelection(raffle, req.Numbers); err != nil {
		metrics.RecordCheckout("invalid")
		return Checkout{}, err
	}

	res, err := e.Store.CreateReservation(ctx, rifa.PendingReservation{
		ExternalReference: uuid.NewString(),
		UserID:            req.UserID,
		RaffleID:          raffle.ID,
		Numbers:           req.Numbers,
		Contact:           req.Contact,
		AmountCents:       raffle.TicketPriceCents * len(req.Numbers),
	})
	if err != nil {
		return Checkout{}, fmt.Errorf("create reservation: %w", err)
	}
	log := e.logger().WithFields(logrus.Fields{"external_reference": res.ExternalReference, "raffle_id": raffle.ID})
	e.publish(ctx, raffle.ID, rifa.EventReservationCreated, res.ExternalReference, rifa.ReservationCreatedPayload{
		ExternalReference: res.ExternalReference,
		RaffleID:          raffle.ID,
		UserID:            res.UserID,
		Numbers:           res.Numbers,
		AmountCents:       res.AmountCents,
	})

	out := Checkout{ExternalReference: res.ExternalReference, ReservationID: res.ID, AmountCents: res.AmountCents}
	co, err := e.Gateway.CreateCheckout(ctx, payment.CheckoutRequest{
		Description:       fmt.Sprintf("%s - %s", raffle.Title, joinNumbers(res.Numbers)),
		AmountCents:       res.AmountCents,
		Quantity:          len(res.Numbers),
		ExternalReference: res.ExternalReference,
		NotifyURL:         e.NotifyURL,
	})
	if err != nil {
		metrics.RecordGatewayError("create_checkout")
		metrics.RecordCheckout("gateway_error")
		log.WithError(err).Warn("checkout creation failed; reservation kept pending")
		return out, &CheckoutError{Reference: res.ExternalReference, Err: err}
	}
	if err := e.Store.AttachPreference(ctx, res.ID, co.PreferenceID); err != nil {
		// the checkout exists; the webhook still resolves by external reference
		log.WithError(err).Warn("attach preference failed")
	}
	out.PreferenceID, out.RedirectURL = co.PreferenceID, co.RedirectURL
	metrics.RecordCheckout("ok")
	log.WithField("amount_cents", res.AmountCents).Info("checkout initiated")
	return out, nil
}

// Outcome describes what one Reconcile call observed and did.
type Outcome struct {
	PaymentID         string               `json:"payment_id"`
	ExternalReference string               `json:"external_reference,omitempty"`
	ReservationID     string               `json:"reservation_id,omitempty"`
	Observed          payment.State        `json:"observed_status,omitempty"`
	Result            rifa.AuditOutcome    `json:"outcome,omitempty"`
	Entry             *rifa.ConfirmedEntry `json:"entry,omitempty"`
	// Retryable is set for unknown references young enough that the
	// reservation may still be in flight.
	Retryable bool `json:"-"`
}

// Reconcile fetches the authoritative status of providerPaymentID and applies
// it to the matching reservation. Every call that finds a reservation leaves
// exactly one audit record. Transitions write theirs inside the store
// transaction; calls that change nothing append one afterwards.
func (e *Engine) Reconcile(ctx context.Context, providerPaymentID string) (out Outcome, err error) {
	start := time.Now()
	out.PaymentID = providerPaymentID
	defer func() {
		label := string(out.Result)
		if label == "" {
			label = classify(err)
		}
		metrics.RecordReconcile(label, time.Since(start))
	}()

	st, err := e.Gateway.PaymentStatus(ctx, providerPaymentID)
	if err != nil {
		metrics.RecordGatewayError("payment_status")
		return out, err
	}
	out.Observed = st.State
	out.ExternalReference = st.ExternalReference
	log := e.logger().WithFields(logrus.Fields{
		"payment_id":         providerPaymentID,
		"external_reference": st.ExternalReference,
		"observed":           st.RawStatus,
	})

	res, err := e.Store.GetReservation(ctx, st.ExternalReference)
	if err != nil {
		if errors.Is(err, rifa.ErrReservationNotFound) {
			out.Retryable = st.CreatedAt.IsZero() || e.now().Sub(st.CreatedAt) < e.grace()
			log.WithField("retryable", out.Retryable).Warn("payment for unknown reservation")
			return out, fmt.Errorf("payment %s: %w", providerPaymentID, err)
		}
		return out, fmt.Errorf("load reservation: %w", err)
	}
	out.ReservationID = res.ID
	log = log.WithFields(logrus.Fields{"reservation_id": res.ID, "raffle_id": res.RaffleID})

	note := rifa.AuditNote{ObservedStatus: st.RawStatus}
	if note.ObservedStatus == "" {
		note.ObservedStatus = string(st.State)
	}

	result, detail, audited, applyErr := e.apply(ctx, res, st, providerPaymentID, note, &out)
	out.Result = result

	if !audited {
		rec := rifa.AuditRecord{
			ReservationID:     res.ID,
			ExternalReference: res.ExternalReference,
			PaymentProviderID: providerPaymentID,
			ObservedStatus:    note.ObservedStatus,
			Outcome:           result,
			Detail:            detail,
		}
		if err := e.Store.AppendAudit(ctx, rec); err != nil {
			log.WithError(err).Error("audit append failed")
			if applyErr == nil {
				return out, fmt.Errorf("append audit: %w", err)
			}
		}
	}
	if result != rifa.OutcomeDuplicate && result != rifa.OutcomeFailed && e.StatusCache != nil {
		e.StatusCache.Forget(ctx, res.ExternalReference)
	}

	entry := log.WithField("outcome", result)
	switch {
	case applyErr == nil:
		entry.Info("payment reconciled")
	case rifa.IsConflict(applyErr) || errors.Is(applyErr, rifa.ErrAlreadyDrawn):
		entry.WithError(applyErr).Warn("paid reservation rejected; refund required")
	default:
		entry.WithError(applyErr).Error("reconcile failed")
	}
	return out, applyErr
}

// apply reports audited when the store wrote the audit row along with the
// transition.
func (e *Engine) apply(ctx context.Context, res rifa.PendingReservation, st payment.Status, paymentID string, note rifa.AuditNote, out *Outcome) (outcome rifa.AuditOutcome, detail string, audited bool, err error) {
	if res.Status.Terminal() {
		return rifa.OutcomeDuplicate, fmt.Sprintf("reservation already %s", res.Status), false, nil
	}

	switch st.State {
	case payment.StatePending:
		if err := e.Store.RecordPayment(ctx, res.ID, paymentID); err != nil {
			return rifa.OutcomeFailed, err.Error(), false, fmt.Errorf("record payment: %w", err)
		}
		return rifa.OutcomePending, "", false, nil

	case payment.StateRejected:
		changed, err := e.Store.RejectReservation(ctx, res.ID, paymentID, note)
		if err != nil {
			return rifa.OutcomeFailed, err.Error(), false, fmt.Errorf("reject reservation: %w", err)
		}
		if !changed {
			return rifa.OutcomeDuplicate, "reservation settled concurrently", false, nil
		}
		e.publishRejected(ctx, res, paymentID, rifa.ReasonPaymentRejected, nil, false)
		return rifa.OutcomeRejected, "", true, nil

	case payment.StateApproved:
		if st.AmountCents != 0 && st.AmountCents != res.AmountCents {
			note.Detail = fmt.Sprintf("amount mismatch: paid %d expected %d", st.AmountCents, res.AmountCents)
		}
		amount := st.AmountCents
		if amount == 0 {
			amount = res.AmountCents
		}
		entry, err := e.Store.ConfirmReservation(ctx, res.ID, paymentID, amount, note)
		var conflict *rifa.NumberConflictError
		switch {
		case err == nil:
			out.Entry = &entry
			if e.Availability != nil {
				e.Availability.Invalidate(ctx, res.RaffleID)
			}
			e.publish(ctx, res.RaffleID, rifa.EventEntryConfirmed, res.ExternalReference, rifa.EntryConfirmedPayload{
				EntryID:           entry.ID,
				ExternalReference: res.ExternalReference,
				RaffleID:          entry.RaffleID,
				UserID:            entry.UserID,
				Numbers:           entry.Numbers,
				PaymentID:         paymentID,
				AmountCents:       entry.AmountCents,
			})
			return rifa.OutcomeConfirmed, note.Detail, true, nil
		case errors.As(err, &conflict):
			e.publishRejected(ctx, res, paymentID, rifa.ReasonNumberConflict, conflict.Numbers, true)
			return rifa.OutcomeConflict, conflict.Error(), true, err
		case errors.Is(err, rifa.ErrAlreadyDrawn):
			e.publishRejected(ctx, res, paymentID, rifa.ReasonRaffleCompleted, nil, true)
			return rifa.OutcomeRejected, err.Error(), true, err
		case errors.Is(err, rifa.ErrReservationSettled):
			return rifa.OutcomeDuplicate, "reservation settled concurrently", false, nil
		default:
			return rifa.OutcomeFailed, err.Error(), false, fmt.Errorf("confirm reservation: %w", err)
		}
	}
	return rifa.OutcomeFailed, "unknown payment state " + string(st.State), false, fmt.Errorf("unknown payment state %q", st.State)
}

func (e *Engine) publishRejected(ctx context.Context, res rifa.PendingReservation, paymentID, reason string, conflict []int, refund bool) {
	e.publish(ctx, res.RaffleID, rifa.EventReservationRejected, res.ExternalReference, rifa.ReservationRejectedPayload{
		ExternalReference: res.ExternalReference,
		RaffleID:          res.RaffleID,
		UserID:            res.UserID,
		Contact:           res.Contact,
		PaymentID:         paymentID,
		AmountCents:       res.AmountCents,
		Reason:            reason,
		ConflictNumbers:   conflict,
		RefundRequired:    refund,
	})
}

// publish never fails the caller: the database already holds the truth.
func (e *Engine) publish(ctx context.Context, raffleID, eventType, correlationID string, payload any) {
	if e.Events == nil {
		return
	}
	env, err := rifa.NewEnvelope(eventType, e.Service, correlationID, payload)
	if err == nil {
		err = e.Events.Publish(ctx, raffleID, env)
	}
	if err != nil {
		e.logger().WithError(err).WithField("event_type", eventType).Error("publish event failed")
	}
}

// Recorded reports whether err is a terminal business outcome that has been
// persisted and audited, as opposed to a failure worth retrying.
func Recorded(err error) bool {
	return err == nil || rifa.IsConflict(err) || errors.Is(err, rifa.ErrAlreadyDrawn)
}

func classify(err error) string {
	var gw *payment.GatewayError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &gw):
		return "gateway_error"
	case errors.Is(err, rifa.ErrReservationNotFound):
		return "not_found"
	default:
		return "error"
	}
}

func joinNumbers(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = fmt.Sprint(n)
	}
	return strings.Join(parts, ",")
}

// Package notify turns rifa domain events into admin Telegram messages:
// paid reservations that need a manual refund, and draw results.
package notify

import (
	"context"
	"fmt"
	"github.com/ariefcatur/go-rifa/internal/kafka"
	"github.com/ariefcatur/go-rifa/internal/metrics"
	"github.com/ariefcatur/go-rifa/internal/rifa"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"strings"
)

// Topics the notifier subscribes to.
var Topics = []string{rifa.TopicReservationRejected, rifa.TopicRaffleLifecycle}

type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Dedup interface {
	Claim(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

type Service struct {
	Sender Sender
	ChatID int64
	Dedup  Dedup // optional
	Log    *logrus.Entry
}

// HandleEvent is installed as the consumer handler. A returned error makes the
// consumer retry the event before its partition moves on.
func (s *Service) HandleEvent(ctx context.Context, m kafkago.Message) error {
	env, err := kafka.DecodeEnvelope(m)
	if err != nil {
		// poison message: log and commit past it
		s.Log.WithError(err).Error("drop undecodable event")
		return nil
	}

	text, err := s.render(env)
	if err != nil {
		s.Log.WithError(err).WithField("event_id", env.EventID).Error("drop event with bad payload")
		return nil
	}
	if text == "" {
		return nil
	}

	if s.Dedup != nil {
		first, err := s.Dedup.Claim(ctx, env.EventID)
		if err != nil {
			return fmt.Errorf("dedup claim: %w", err)
		}
		if !first {
			return nil
		}
	}

	msg := tgbotapi.NewMessage(s.ChatID, text)
	if _, err := s.Sender.Send(msg); err != nil {
		metrics.RecordNotification(env.EventType, false)
		if s.Dedup != nil {
			_ = s.Dedup.Release(ctx, env.EventID)
		}
		return fmt.Errorf("telegram send: %w", err)
	}
	metrics.RecordNotification(env.EventType, true)
	s.Log.WithFields(logrus.Fields{"event_id": env.EventID, "event_type": env.EventType}).Info("admin notified")
	return nil
}

// render returns "" for events nobody needs to hear about.
func (s *Service) render(env rifa.Envelope) (string, error) {
	switch env.EventType {
	case rifa.EventReservationRejected:
		p, err := kafka.UnwrapPayload[rifa.ReservationRejectedPayload](env.Payload)
		if err != nil {
			return "", err
		}
		if !p.RefundRequired {
			return "", nil
		}
		var b strings.Builder
		fmt.Fprintf(&b, "Refund required (%s)\n", p.Reason)
		fmt.Fprintf(&b, "Raffle: %s\nReference: %s\nPayment: %s\nAmount: %s\n",
			p.RaffleID, p.ExternalReference, p.PaymentID, formatCents(p.AmountCents))
		if len(p.ConflictNumbers) > 0 {
			fmt.Fprintf(&b, "Numbers already taken: %s\n", joinInts(p.ConflictNumbers))
		}
		fmt.Fprintf(&b, "Contact: %s %s", p.Contact.Name, p.Contact.Phone)
		return b.String(), nil

	case rifa.EventRaffleDrawn:
		p, err := kafka.UnwrapPayload[rifa.RaffleDrawnPayload](env.Payload)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Raffle %q drawn\nWinning number: %d\nEntry: %s\nUser: %s",
			p.Title, p.WinningNumber, p.WinningEntryID, p.WinnerUserID), nil

	case rifa.EventRaffleClosed:
		p, err := kafka.UnwrapPayload[rifa.RaffleClosedPayload](env.Payload)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Raffle %q closed; ready to draw", p.Title), nil
	}
	return "", nil
}

func formatCents(c int) string { return fmt.Sprintf("%d.%02d", c/100, c%100) }

func joinInts(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = fmt.Sprint(n)
	}
	return strings.Join(parts, ",")
}

// LogSender stands in for Telegram when no bot token is configured.
type LogSender struct{ Log *logrus.Entry }

func (l LogSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		l.Log.WithField("chat_id", m.ChatID).Info(m.Text)
	}
	return tgbotapi.Message{}, nil
}

// Package notify emits user-facing outcome notifications. Rendering and mail
// delivery happen downstream of the published events.
package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/example/box-scheduler/internal/prebooking"
)

const (
	KindSuccess = "prebooking.success"
	KindFailure = "prebooking.failure"
)

// Event is the message handed to the mail pipeline.
type Event struct {
	Kind         string            `json:"kind"`
	PrebookingID string            `json:"prebookingId"`
	To           string            `json:"to"`
	CC           []string          `json:"cc,omitempty"`
	BoxSubdomain string            `json:"boxSubdomain"`
	ClassName    string            `json:"className,omitempty"`
	ClassDay     string            `json:"classDay"`
	ClassTime    string            `json:"classTime,omitempty"`
	BookingID    string            `json:"bookingId,omitempty"`
	Reason       string            `json:"reason,omitempty"`
	Details      map[string]string `json:"details,omitempty"`
	OccurredAt   time.Time         `json:"occurredAt"`
}

// Sink delivers events somewhere.
type Sink interface {
	Send(ctx context.Context, ev Event) error
}

// Notifier turns execution outcomes into events. Successes go to the user
// only; failures copy the operator and carry the technical details.
type Notifier struct {
	sink     Sink
	operator string
	now      func() time.Time
}

func New(sink Sink, operatorEmail string) *Notifier {
	return &Notifier{sink: sink, operator: operatorEmail, now: time.Now}
}

func base(i prebooking.Intent, kind string, at time.Time) Event {
	return Event{
		Kind:         kind,
		PrebookingID: i.ID,
		To:           i.UserEmail,
		BoxSubdomain: i.BoxSubdomain,
		ClassName:    i.ClassName,
		ClassDay:     i.ClassDay,
		ClassTime:    i.ClassTime,
		OccurredAt:   at.UTC(),
	}
}

func (n *Notifier) SendPrebookingSuccess(ctx context.Context, i prebooking.Intent, o prebooking.Outcome) error {
	ev := base(i, KindSuccess, n.now())
	ev.BookingID = o.BookingID
	return n.sink.Send(ctx, ev)
}

func (n *Notifier) SendPrebookingFailure(ctx context.Context, i prebooking.Intent, o prebooking.Outcome) error {
	ev := base(i, KindFailure, n.now())
	ev.Reason = o.ErrorMessage
	if n.operator != "" && n.operator != i.UserEmail {
		ev.CC = []string{n.operator}
	}
	ev.Details = map[string]string{
		"errorCode":   o.ErrorCode,
		"fingerprint": i.Fingerprint,
		"boxId":       i.BoxAimharderID,
		"classId":     i.ClassID,
		"availableAt": i.AvailableAt.UTC().Format(time.RFC3339Nano),
	}
	if o.Source != "" {
		ev.Details["source"] = string(o.Source)
	}
	if o.FiredAt != nil {
		ev.Details["firedAt"] = o.FiredAt.UTC().Format(time.RFC3339Nano)
		ev.Details["latency"] = o.Latency.String()
	}
	return n.sink.Send(ctx, ev)
}

// LogSink only logs events; it is used when no broker is configured.
type LogSink struct{}

func (LogSink) Send(ctx context.Context, ev Event) error {
	log.Info().
		Str("kind", ev.Kind).
		Str("prebooking_id", ev.PrebookingID).
		Str("to", ev.To).
		Strs("cc", ev.CC).
		Str("booking_id", ev.BookingID).
		Str("reason", ev.Reason).
		Interface("details", ev.Details).
		Msg("notification")
	return nil
}

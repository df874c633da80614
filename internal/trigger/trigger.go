// Package trigger schedules one delayed execution per intent and turns due
// deliveries into webhook calls.
package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/example/box-scheduler/internal/metrics"
	"github.com/example/box-scheduler/internal/prebooking"
	"github.com/example/box-scheduler/internal/sectoken"
)

// MaxDelay is the longest delay the delayed-message exchange accepts (2^32-1 ms).
const MaxDelay = time.Duration(1<<32-1) * time.Millisecond

var ErrTooFar = errors.New("availability is beyond the maximum trigger delay")

// Message is one delayed delivery.
type Message struct {
	Handle string
	Delay  time.Duration
	Body   []byte
}

type Publisher interface {
	Publish(ctx context.Context, m Message) error
}

type Revoker interface {
	Revoke(ctx context.Context, handle string) error
}

// Trigger implements prebooking.Dispatcher.
type Trigger struct {
	pub    Publisher
	revoke Revoker
	signer *sectoken.Signer
	lead   time.Duration
	now    func() time.Time
}

func New(pub Publisher, revoke Revoker, signer *sectoken.Signer, lead time.Duration) *Trigger {
	return &Trigger{pub: pub, revoke: revoke, signer: signer, lead: lead, now: time.Now}
}

// PayloadFor builds the signed webhook payload of an intent.
func (t *Trigger) PayloadFor(i prebooking.Intent) Payload {
	return Payload{
		PrebookingID:   i.ID,
		BoxSubdomain:   i.BoxSubdomain,
		BoxAimharderID: i.BoxAimharderID,
		ExecuteAt:      FormatMillis(i.AvailableAt),
		SecurityToken:  t.signer.Generate(i.ID, i.AvailableAt),
	}
}

// Schedule publishes the trigger to be delivered lead time before the slot
// opens (immediately if that moment has passed) and returns its handle.
func (t *Trigger) Schedule(ctx context.Context, i prebooking.Intent) (string, error) {
	delay := i.AvailableAt.Add(-t.lead).Sub(t.now())
	if delay < 0 {
		delay = 0
	}
	if delay > MaxDelay {
		return "", ErrTooFar
	}
	body, err := json.Marshal(t.PayloadFor(i))
	if err != nil {
		return "", err
	}
	handle := uuid.NewString()
	if err := t.pub.Publish(ctx, Message{Handle: handle, Delay: delay, Body: body}); err != nil {
		return "", fmt.Errorf("publish trigger: %w", err)
	}
	metrics.Triggers.WithLabelValues("published").Inc()
	log.Debug().Str("prebooking_id", i.ID).Str("handle", handle).Dur("delay", delay).Msg("trigger published")
	return handle, nil
}

// Cancel revokes a published trigger. Unknown or already delivered handles
// are fine.
func (t *Trigger) Cancel(ctx context.Context, handle string) error {
	if handle == "" {
		return nil
	}
	if err := t.revoke.Revoke(ctx, handle); err != nil {
		return fmt.Errorf("revoke trigger: %w", err)
	}
	metrics.Triggers.WithLabelValues("cancelled").Inc()
	return nil
}

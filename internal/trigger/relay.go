package trigger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"github.com/example/box-scheduler/internal/metrics"
)

type revocations interface {
	Revoked(ctx context.Context, handle string) (bool, error)
}

// Relay consumes due triggers and POSTs each one to the execution webhook.
// A delivery is acked on a 2xx answer and dropped otherwise; the sweep
// picks up anything that did not run.
type Relay struct {
	URL        string
	WebhookURL string
	Prefetch   int

	revoked revocations
	hc      *http.Client
	wg      sync.WaitGroup
}

// NewRelay builds a relay. timeout bounds one webhook call, which includes
// the lead-time wait inside the webhook.
func NewRelay(amqpURL, webhookURL string, revoked revocations, timeout time.Duration) *Relay {
	return &Relay{
		URL:        amqpURL,
		WebhookURL: webhookURL,
		Prefetch:   50,
		revoked:    revoked,
		hc:         &http.Client{Timeout: timeout},
	}
}

// Run reconnects with exponential backoff until ctx is done, then waits for
// in-flight deliveries.
func (r *Relay) Run(ctx context.Context) error {
	defer r.wg.Wait()
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return nil
		}
		conn, err := amqp.Dial(r.URL)
		if err != nil {
			log.Warn().Err(err).Dur("retry_in", backoff).Msg("relay: dial broker failed")
			if !sleep(ctx, backoff) {
				return nil
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = r.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil
		}
		log.Warn().Err(err).Msg("relay: consume loop ended; reconnecting")
		if !sleep(ctx, 2*time.Second) {
			return nil
		}
	}
}

func (r *Relay) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := Declare(ch); err != nil {
		return err
	}
	if err := ch.Qos(r.Prefetch, 0, false); err != nil {
		log.Warn().Err(err).Msg("relay: set QoS failed")
	}
	msgs, err := ch.Consume(ReadyQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	log.Info().Str("queue", ReadyQueue).Msg("relay consuming")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			r.wg.Add(1)
			go func(d amqp.Delivery) {
				defer r.wg.Done()
				if r.Deliver(ctx, d.MessageId, d.Body) {
					_ = d.Ack(false)
					return
				}
				_ = d.Nack(false, false)
			}(d)
		}
	}
}

// Deliver forwards one trigger body to the webhook and reports whether it
// should be acked.
func (r *Relay) Deliver(ctx context.Context, handle string, body []byte) bool {
	lg := log.With().Str("handle", handle).Logger()
	if handle != "" && r.revoked != nil {
		gone, err := r.revoked.Revoked(ctx, handle)
		if err != nil {
			lg.Warn().Err(err).Msg("relay: tombstone lookup failed; delivering anyway")
		}
		if gone {
			metrics.Triggers.WithLabelValues("dropped").Inc()
			lg.Info().Msg("relay: trigger revoked, dropping")
			return true
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.WebhookURL, bytes.NewReader(body))
	if err != nil {
		lg.Error().Err(err).Msg("relay: build request")
		return false
	}
	req.Header.Set("content-type", "application/json")
	res, err := r.hc.Do(req)
	if err != nil {
		metrics.Triggers.WithLabelValues("relay_failed").Inc()
		lg.Error().Err(err).Msg("relay: webhook call failed")
		return false
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)

	if res.StatusCode/100 != 2 {
		metrics.Triggers.WithLabelValues("relay_failed").Inc()
		lg.Warn().Int("status", res.StatusCode).Msg("relay: webhook rejected trigger")
		return false
	}
	metrics.Triggers.WithLabelValues("relayed").Inc()
	lg.Debug().Int("status", res.StatusCode).Msg("relay: trigger delivered")
	return true
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/box-scheduler/internal/prebooking"
)

type captureSink struct{ events []Event }

func (c *captureSink) Send(ctx context.Context, ev Event) error {
	c.events = append(c.events, ev)
	return nil
}

var (
	clock  = time.Date(2026, 10, 17, 7, 0, 1, 0, time.UTC)
	intent = prebooking.Intent{
		ID: "p-1", UserEmail: "user@example.com", Fingerprint: "fp1",
		BoxSubdomain: "box", BoxAimharderID: "42", ClassID: "c9", ClassDay: "20261017",
		ClassTime: "07:00", ClassName: "WOD", AvailableAt: clock.Add(-time.Second),
	}
)

func TestSuccessGoesToUserOnly(t *testing.T) {
	sink := &captureSink{}
	n := New(sink, "ops@example.com")
	n.now = func() time.Time { return clock }

	require.NoError(t, n.SendPrebookingSuccess(context.Background(), intent, prebooking.Outcome{BookingID: "b1"}))
	require.Len(t, sink.events, 1)
	ev := sink.events[0]
	assert.Equal(t, KindSuccess, ev.Kind)
	assert.Equal(t, "user@example.com", ev.To)
	assert.Empty(t, ev.CC)
	assert.Empty(t, ev.Details)
	assert.Equal(t, "b1", ev.BookingID)
	assert.Equal(t, clock, ev.OccurredAt)
}

func TestFailureCopiesOperatorWithDetails(t *testing.T) {
	sink := &captureSink{}
	n := New(sink, "ops@example.com")
	fired := clock
	out := prebooking.Outcome{
		Source: prebooking.SourceWebhook, FiredAt: &fired, Latency: 80 * time.Millisecond,
		ErrorCode: "third-party-rejection", ErrorMessage: "No quedan plazas",
	}

	require.NoError(t, n.SendPrebookingFailure(context.Background(), intent, out))
	ev := sink.events[0]
	assert.Equal(t, KindFailure, ev.Kind)
	assert.Equal(t, []string{"ops@example.com"}, ev.CC)
	assert.Equal(t, "No quedan plazas", ev.Reason)
	assert.Equal(t, "third-party-rejection", ev.Details["errorCode"])
	assert.Equal(t, "fp1", ev.Details["fingerprint"])
	assert.Equal(t, "webhook", ev.Details["source"])
	assert.Equal(t, "80ms", ev.Details["latency"])
}

func TestFailureWithoutOperator(t *testing.T) {
	sink := &captureSink{}
	require.NoError(t, New(sink, "").SendPrebookingFailure(context.Background(), intent, prebooking.Outcome{ErrorCode: "auth-expired"}))
	assert.Empty(t, sink.events[0].CC)
	_, fired := sink.events[0].Details["firedAt"]
	assert.False(t, fired)
}

func TestLogSink(t *testing.T) {
	assert.NoError(t, LogSink{}.Send(context.Background(), Event{Kind: KindSuccess}))
}

package executor

import (
	"context"
	"sync"
	"time"

	"github.com/example/box-scheduler/internal/aimharder"
	"github.com/example/box-scheduler/internal/notify"
	"github.com/example/box-scheduler/internal/prebooking"
	"github.com/example/box-scheduler/internal/session"
)

// ----- clock -----

type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	slept   []time.Duration
	onSleep func()
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if c.onSleep != nil {
		c.onSleep()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slept = append(c.slept, d)
	c.now = c.now.Add(d)
	return ctx.Err()
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// ----- intents -----

type memIntents struct {
	mu       sync.Mutex
	byID     map[string]prebooking.Intent
	notes    map[string]string
	notified map[string]bool
}

func newMemIntents(is ...prebooking.Intent) *memIntents {
	m := &memIntents{byID: map[string]prebooking.Intent{}, notes: map[string]string{}, notified: map[string]bool{}}
	for _, i := range is {
		m.byID[i.ID] = i
	}
	return m
}

func (m *memIntents) Get(ctx context.Context, id string) (prebooking.Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.byID[id]
	if !ok {
		return prebooking.Intent{}, prebooking.ErrNotFound
	}
	return i, nil
}

func (m *memIntents) transition(id string, from prebooking.Status, apply func(*prebooking.Intent)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.byID[id]
	if !ok || i.Status != from {
		return prebooking.ErrConflict
	}
	apply(&i)
	m.byID[id] = i
	return nil
}

func (m *memIntents) Claim(ctx context.Context, id string, src prebooking.Source) error {
	return m.transition(id, prebooking.StatusPending, func(i *prebooking.Intent) {
		i.Status = prebooking.StatusFiring
		s := string(src)
		i.ExecutedBy = &s
	})
}

func record(o prebooking.Outcome) func(*prebooking.Intent) {
	return func(i *prebooking.Intent) {
		i.Status = o.Status
		i.FiredAt = o.FiredAt
		if o.BookingID != "" {
			i.BookingID = &o.BookingID
		}
		if o.ErrorCode != "" {
			i.ErrorCode = &o.ErrorCode
			i.ErrorMessage = &o.ErrorMessage
		}
	}
}

func (m *memIntents) Finish(ctx context.Context, id string, o prebooking.Outcome) error {
	return m.transition(id, prebooking.StatusFiring, record(o))
}

func (m *memIntents) FailPending(ctx context.Context, id string, o prebooking.Outcome) error {
	o.Status = prebooking.StatusFailed
	return m.transition(id, prebooking.StatusPending, record(o))
}

func (m *memIntents) NoteAttempt(ctx context.Context, id, code, msg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notes[id] = code
	return nil
}

func (m *memIntents) MarkNotified(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notified[id] = true
	return nil
}

func (m *memIntents) get(id string) prebooking.Intent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byID[id]
}

// ----- sessions -----

type key struct{ email, fp string }

type memSessions struct {
	mu       sync.Mutex
	byKey    map[key]session.DeviceSession
	saved    int
	failures []string
}

func newMemSessions(ss ...session.DeviceSession) *memSessions {
	m := &memSessions{byKey: map[key]session.DeviceSession{}}
	for _, s := range ss {
		m.byKey[key{s.Email, s.Fingerprint}] = s
	}
	return m
}

func (m *memSessions) GetDeviceSession(ctx context.Context, email, fp string) (session.DeviceSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byKey[key{email, fp}]
	if !ok {
		return session.DeviceSession{}, session.ErrNotFound
	}
	return s, nil
}

func (m *memSessions) SaveRefresh(ctx context.Context, email, fp, token string, cookies []session.Cookie) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byKey[key{email, fp}]
	if !ok {
		return session.ErrNotFound
	}
	s.Token, s.Cookies = token, cookies
	s.TokenUpdateCount++
	m.byKey[key{email, fp}] = s
	m.saved++
	return nil
}

func (m *memSessions) UpdateTokenUpdateData(ctx context.Context, email, fp string, success bool, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !success {
		m.failures = append(m.failures, errMsg)
	}
	return nil
}

func (m *memSessions) DeleteSession(ctx context.Context, email string, scope session.DeleteScope) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byKey, key{email, scope.Fingerprint})
	return nil
}

func (m *memSessions) has(email, fp string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.byKey[key{email, fp}]
	return ok
}

// ----- platform -----

type fakeRefresher struct {
	mu    sync.Mutex
	res   aimharder.TokenResult
	err   error
	calls int
}

func (f *fakeRefresher) UpdateToken(ctx context.Context, creds aimharder.Credentials, fp string) (aimharder.TokenResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.res, f.err
}

type fakeBooker struct {
	mu     sync.Mutex
	clock  *fakeClock
	res    aimharder.BookResult
	err    error
	took   time.Duration
	calls  []time.Time
	tokens []string
}

func (f *fakeBooker) Book(ctx context.Context, creds aimharder.Credentials, req aimharder.BookRequest) (aimharder.BookResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, f.clock.Now())
	f.tokens = append(f.tokens, creds.Token)
	f.mu.Unlock()
	f.clock.advance(f.took)
	return f.res, f.err
}

func (f *fakeBooker) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// ----- notifications -----

type captureSink struct {
	mu     sync.Mutex
	events []notify.Event
}

func (c *captureSink) Send(ctx context.Context, ev notify.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *captureSink) all() []notify.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]notify.Event(nil), c.events...)
}

type allowAll struct{}

func (allowAll) Verify(token, id string, at time.Time) bool { return true }

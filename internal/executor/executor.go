// Package executor runs one prebooking: validate the trigger, make sure the
// device session is fresh, claim the intent, wait for the slot to open, fire
// the booking and record what happened.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/example/box-scheduler/internal/aimharder"
	"github.com/example/box-scheduler/internal/config"
	"github.com/example/box-scheduler/internal/metrics"
	"github.com/example/box-scheduler/internal/prebooking"
	"github.com/example/box-scheduler/internal/session"
	"github.com/example/box-scheduler/internal/trigger"
)

type IntentStore interface {
	Get(ctx context.Context, id string) (prebooking.Intent, error)
	Claim(ctx context.Context, id string, src prebooking.Source) error
	Finish(ctx context.Context, id string, o prebooking.Outcome) error
	FailPending(ctx context.Context, id string, o prebooking.Outcome) error
	NoteAttempt(ctx context.Context, id, code, msg string) error
	MarkNotified(ctx context.Context, id string) error
}

type SessionStore interface {
	GetDeviceSession(ctx context.Context, email, fingerprint string) (session.DeviceSession, error)
	SaveRefresh(ctx context.Context, email, fingerprint, token string, cookies []session.Cookie) error
	UpdateTokenUpdateData(ctx context.Context, email, fingerprint string, success bool, errMsg string) error
	DeleteSession(ctx context.Context, email string, scope session.DeleteScope) error
}

type Refresher interface {
	UpdateToken(ctx context.Context, creds aimharder.Credentials, fingerprint string) (aimharder.TokenResult, error)
}

type Booker interface {
	Book(ctx context.Context, creds aimharder.Credentials, req aimharder.BookRequest) (aimharder.BookResult, error)
}

type Notifier interface {
	SendPrebookingSuccess(ctx context.Context, i prebooking.Intent, o prebooking.Outcome) error
	SendPrebookingFailure(ctx context.Context, i prebooking.Intent, o prebooking.Outcome) error
}

type Verifier interface {
	Verify(token, id string, executeAt time.Time) bool
}

type Deps struct {
	Intents   IntentStore
	Sessions  SessionStore
	Refresher Refresher
	Booker    Booker
	Notifier  Notifier
	Verifier  Verifier
	Clock     Clock
	Timing    config.Timing
}

// Result describes a finished execution for the HTTP response and sweep report.
type Result struct {
	PrebookingID string
	Status       prebooking.Status
	Success      bool
	Message      string
	BookingID    string
	FiredAt      *time.Time
	Latency      time.Duration
}

type Executor struct {
	Deps
	notifyTimeout time.Duration
	wg            sync.WaitGroup
}

func New(d Deps) *Executor {
	if d.Clock == nil {
		d.Clock = RealClock{}
	}
	if d.Timing == (config.Timing{}) {
		d.Timing = config.DefaultTiming()
	}
	return &Executor{Deps: d, notifyTimeout: 30 * time.Second}
}

// Wait blocks until every notification started so far has been sent.
func (e *Executor) Wait() { e.wg.Wait() }

// HandleTrigger is the webhook entry point. The payload must carry a valid
// security token for (prebookingId, executeAt) and match the stored intent.
func (e *Executor) HandleTrigger(ctx context.Context, p trigger.Payload) (Result, error) {
	start := e.Clock.Now()
	if f := p.Missing(); f != "" {
		return e.rejected(p.PrebookingID, invalid(ReasonMissingField, "%s is required", f))
	}
	executeAt, err := p.ExecuteTime()
	if err != nil {
		return e.rejected(p.PrebookingID, &Error{Kind: KindValidation, Reason: ReasonBadExecuteAt, Err: err})
	}
	if !e.Verifier.Verify(p.SecurityToken, p.PrebookingID, executeAt) {
		return e.rejected(p.PrebookingID, invalid(ReasonBadToken, "security token does not match"))
	}

	i, err := e.Intents.Get(ctx, p.PrebookingID)
	if err != nil {
		if errors.Is(err, prebooking.ErrNotFound) {
			return Result{PrebookingID: p.PrebookingID}, ErrIntentNotFound
		}
		return Result{PrebookingID: p.PrebookingID}, fmt.Errorf("load prebooking: %w", err)
	}
	if i.AvailableAt.UnixMilli() != executeAt.UnixMilli() ||
		i.BoxSubdomain != p.BoxSubdomain || i.BoxAimharderID != p.BoxAimharderID {
		return e.rejected(p.PrebookingID, invalid(ReasonMismatch, "payload does not match the stored prebooking"))
	}
	return e.run(ctx, i, prebooking.SourceWebhook, start)
}

// ExecuteIntent runs an already loaded intent; the sweep uses it.
func (e *Executor) ExecuteIntent(ctx context.Context, i prebooking.Intent, src prebooking.Source) (Result, error) {
	return e.run(ctx, i, src, e.Clock.Now())
}

func (e *Executor) rejected(id string, err *Error) (Result, error) {
	metrics.Executions.WithLabelValues(string(prebooking.SourceWebhook), "invalid").Inc()
	log.Warn().Str("prebooking_id", id).Str("reason", err.Reason).Msg("trigger rejected")
	return Result{PrebookingID: id}, err
}

func (e *Executor) run(ctx context.Context, i prebooking.Intent, src prebooking.Source, start time.Time) (Result, error) {
	lg := log.With().Str("prebooking_id", i.ID).Str("email", i.UserEmail).
		Str("fingerprint", i.Fingerprint).Str("source", string(src)).Logger()
	res := Result{PrebookingID: i.ID, Status: i.Status}
	count := func(outcome string) { metrics.Executions.WithLabelValues(string(src), outcome).Inc() }

	if i.Status != prebooking.StatusPending {
		count("skipped")
		lg.Info().Str("status", string(i.Status)).Msg("prebooking not pending, skipping")
		res.Message = "already " + string(i.Status)
		return res, ErrDuplicate
	}
	deadline := start.Add(e.Timing.InvocationBudget - e.Timing.SafetyMargin)

	// session-ready
	sess, err := e.Sessions.GetDeviceSession(ctx, i.UserEmail, i.Fingerprint)
	if err != nil {
		if !errors.Is(err, session.ErrNotFound) {
			count("error")
			return res, fmt.Errorf("load session: %w", err)
		}
		count("failed")
		lg.Warn().Msg("no device session for prebooking")
		return e.failPending(ctx, lg, i, src, res, ReasonSessionNotFound, "no device session for this fingerprint", ErrSessionNotFound)
	}

	now := e.Clock.Now()
	if d, ok := ctx.Deadline(); ok {
		if c := now.Add(time.Until(d) - e.Timing.SafetyMargin); c.Before(deadline) {
			deadline = c
		}
	}
	refresh := sess.NeedsRefresh(now, e.Timing.RefreshThreshold)
	need := e.Timing.FireEstimate
	if wait := i.AvailableAt.Sub(now); wait > 0 {
		need += wait
	}
	if refresh {
		need += e.Timing.RefreshEstimate
	}
	if now.Add(need).After(deadline) || ctx.Err() != nil {
		count("timeout")
		msg := fmt.Sprintf("needs %s but only %s left in the invocation", need, deadline.Sub(now))
		if ctx.Err() != nil {
			msg = "invocation ended before the prebooking was claimed"
		}
		if err := e.Intents.NoteAttempt(context.WithoutCancel(ctx), i.ID, string(KindTimeout), msg); err != nil {
			lg.Error().Err(err).Msg("note attempt failed")
		}
		lg.Warn().Dur("need", need).Time("deadline", deadline).Msg("not enough budget left, leaving pending")
		res.Message = msg
		return res, &Error{Kind: KindTimeout, Message: msg}
	}

	// claim; only the winner touches the session
	if err := e.Intents.Claim(ctx, i.ID, src); err != nil {
		if errors.Is(err, prebooking.ErrConflict) {
			count("skipped")
			lg.Info().Msg("prebooking claimed elsewhere, skipping")
			res.Message = "claimed by another invocation"
			return res, ErrDuplicate
		}
		count("error")
		return res, err
	}
	res.Status = prebooking.StatusFiring

	// The intent is ours now; whatever happens to ctx it must be recorded.
	recordCtx := context.WithoutCancel(ctx)

	if refresh {
		var ferr *Error
		if sess, ferr = e.refresh(ctx, lg, sess); ferr != nil {
			count("failed")
			out := prebooking.Outcome{Status: prebooking.StatusFailed, Source: src, ErrorCode: string(ferr.Kind), ErrorMessage: ferr.Error()}
			return e.finish(recordCtx, lg, i, res, out, ferr)
		}
	}

	// armed
	if wait := i.AvailableAt.Sub(e.Clock.Now()); wait > 0 {
		if err := e.Clock.Sleep(ctx, wait); err != nil {
			out := prebooking.Outcome{Status: prebooking.StatusFailed, Source: src,
				ErrorCode: string(KindTimeout), ErrorMessage: "invocation cancelled while waiting for the slot"}
			count("failed")
			return e.finish(recordCtx, lg, i, res, out, &Error{Kind: KindTimeout, Message: out.ErrorMessage, Err: err})
		}
	}

	// fired
	creds := aimharder.Credentials{Token: sess.Token, Cookies: sess.Cookies}
	firedAt := e.Clock.Now()
	book, berr := e.Booker.Book(ctx, creds, aimharder.BookRequest{
		Subdomain: i.BoxSubdomain,
		BoxID:     i.BoxAimharderID,
		ClassID:   i.ClassID,
		Day:       i.ClassDay,
	})
	latency := e.Clock.Now().Sub(firedAt)
	metrics.FireSkew.Observe(firedAt.Sub(i.AvailableAt).Seconds())
	metrics.BookLatency.Observe(latency.Seconds())
	lg = lg.With().Dur("skew", firedAt.Sub(i.AvailableAt)).Dur("latency", latency).Logger()

	out := prebooking.Outcome{Source: src, FiredAt: &firedAt, Latency: latency, Status: prebooking.StatusFailed}
	var rerr error
	switch {
	case berr != nil:
		out.ErrorCode, out.ErrorMessage = string(KindTransient), berr.Error()
		rerr = &Error{Kind: KindTransient, Err: berr}
	case book.Kind == aimharder.Booked:
		out.Status, out.BookingID = prebooking.StatusConfirmed, book.BookingID
	case book.Kind == aimharder.LoggedOut:
		e.dropSession(recordCtx, lg, sess)
		out.ErrorCode, out.ErrorMessage = string(KindAuthExpired), "session logged out by the platform"
		rerr = &Error{Kind: KindAuthExpired, Message: out.ErrorMessage}
	default:
		out.ErrorCode, out.ErrorMessage = string(KindRejection), book.Message
		rerr = &Error{Kind: KindRejection, Reason: book.Code, Message: book.Message}
	}
	if out.Status == prebooking.StatusConfirmed {
		count("confirmed")
	} else {
		count("failed")
	}
	return e.finish(recordCtx, lg, i, res, out, rerr)
}

// refresh renews the session token and persists the whole refreshed tuple.
func (e *Executor) refresh(ctx context.Context, lg zerolog.Logger, sess session.DeviceSession) (session.DeviceSession, *Error) {
	creds := aimharder.Credentials{Token: sess.Token, Cookies: sess.Cookies}
	tr, err := e.Refresher.UpdateToken(ctx, creds, sess.Fingerprint)
	ctx = context.WithoutCancel(ctx)
	if err == nil && tr.Kind == aimharder.TokenError {
		err = errors.New(tr.Message)
	}
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues("error").Inc()
		lg.Warn().Err(err).Msg("token refresh failed")
		if uerr := e.Sessions.UpdateTokenUpdateData(ctx, sess.Email, sess.Fingerprint, false, err.Error()); uerr != nil {
			lg.Error().Err(uerr).Msg("record refresh failure")
		}
		return sess, &Error{Kind: KindTransient, Message: "token refresh failed", Err: err}
	}
	if tr.Kind == aimharder.TokenLogout {
		metrics.TokenRefreshes.WithLabelValues("logout").Inc()
		e.dropSession(ctx, lg, sess)
		return sess, &Error{Kind: KindAuthExpired, Message: "session logged out during token refresh"}
	}

	metrics.TokenRefreshes.WithLabelValues("success").Inc()
	if err := e.Sessions.SaveRefresh(ctx, sess.Email, sess.Fingerprint, tr.NewToken, tr.Cookies); err != nil {
		// The platform already rotated the token; book with it regardless.
		lg.Error().Err(err).Msg("persist refreshed session failed")
	}
	sess.Token = tr.NewToken
	if len(tr.Cookies) > 0 {
		sess.Cookies = tr.Cookies
	}
	sess.LastTokenUpdateAt = e.Clock.Now()
	lg.Info().Msg("token refreshed")
	return sess, nil
}

// dropSession deletes only the device that was logged out.
func (e *Executor) dropSession(ctx context.Context, lg zerolog.Logger, sess session.DeviceSession) {
	err := e.Sessions.DeleteSession(ctx, sess.Email, session.DeleteScope{Fingerprint: sess.Fingerprint})
	if err != nil {
		lg.Error().Err(err).Msg("delete logged out session failed")
		return
	}
	lg.Warn().Msg("device session logged out and removed")
}

func (e *Executor) failPending(ctx context.Context, lg zerolog.Logger, i prebooking.Intent, src prebooking.Source, res Result, code, msg string, cause error) (Result, error) {
	out := prebooking.Outcome{Status: prebooking.StatusFailed, Source: src, ErrorCode: code, ErrorMessage: msg}
	if err := e.Intents.FailPending(ctx, i.ID, out); err != nil {
		if errors.Is(err, prebooking.ErrConflict) {
			res.Message = "claimed by another invocation"
			return res, ErrDuplicate
		}
		lg.Error().Err(err).Msg("fail prebooking")
		return res, err
	}
	res.Status = prebooking.StatusFailed
	res.Message = msg
	e.notify(i, out)
	return res, cause
}

func (e *Executor) finish(ctx context.Context, lg zerolog.Logger, i prebooking.Intent, res Result, out prebooking.Outcome, cause error) (Result, error) {
	res.FiredAt, res.Latency = out.FiredAt, out.Latency
	if err := e.Intents.Finish(ctx, i.ID, out); err != nil {
		lg.Error().Err(err).Str("outcome", string(out.Status)).Msg("record outcome failed")
		return res, fmt.Errorf("record outcome: %w", err)
	}
	res.Status = out.Status
	res.BookingID = out.BookingID
	res.Success = out.Status == prebooking.StatusConfirmed
	if res.Success {
		res.Message = "booked"
		lg.Info().Str("booking_id", out.BookingID).Msg("prebooking confirmed")
	} else {
		res.Message = out.ErrorMessage
		lg.Warn().Str("error_code", out.ErrorCode).Str("error", out.ErrorMessage).Msg("prebooking failed")
	}
	e.notify(i, out)
	return res, cause
}

// notify sends the outcome in the background and marks the intent notified
// once the notifier accepts it.
func (e *Executor) notify(i prebooking.Intent, out prebooking.Outcome) {
	if e.Notifier == nil {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.notifyTimeout)
		defer cancel()
		var err error
		if out.Status == prebooking.StatusConfirmed {
			err = e.Notifier.SendPrebookingSuccess(ctx, i, out)
		} else {
			err = e.Notifier.SendPrebookingFailure(ctx, i, out)
		}
		if err != nil {
			log.Error().Err(err).Str("prebooking_id", i.ID).Msg("notification failed")
			return
		}
		if err := e.Intents.MarkNotified(ctx, i.ID); err != nil {
			log.Error().Err(err).Str("prebooking_id", i.ID).Msg("mark notified failed")
		}
	}()
}

package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/example/box-scheduler/internal/executor"
	"github.com/example/box-scheduler/internal/prebooking"
	"github.com/example/box-scheduler/internal/sweep"
	"github.com/example/box-scheduler/internal/trigger"
)

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("encode response")
	}
}

// decode reads a JSON body. An empty body leaves v untouched when optional.
func decode(r *http.Request, v any, optional bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	err := dec.Decode(v)
	if optional && errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.DB.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, envelope{Message: "database unreachable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "ok"})
}

// executionStatus maps an execution error to the webhook's HTTP status.
func executionStatus(err error) int {
	var e *executor.Error
	switch {
	case err == nil, errors.Is(err, executor.ErrDuplicate):
		return http.StatusOK
	case errors.Is(err, executor.ErrIntentNotFound), errors.Is(err, executor.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.As(err, &e):
		switch e.Kind {
		case executor.KindValidation:
			if e.Reason == executor.ReasonBadToken {
				return http.StatusUnauthorized
			}
			return http.StatusBadRequest
		case executor.KindAuthExpired:
			return http.StatusUnauthorized
		case executor.KindTransient:
			return http.StatusBadGateway
		case executor.KindTimeout:
			return http.StatusGatewayTimeout
		case executor.KindRejection:
			return http.StatusConflict
		}
	}
	return http.StatusInternalServerError
}

type executionDetails struct {
	PrebookingID string            `json:"prebookingId"`
	Status       prebooking.Status `json:"status,omitempty"`
	BookingID    string            `json:"bookingId,omitempty"`
	FiredAt      *time.Time        `json:"firedAt,omitempty"`
	LatencyMS    int64             `json:"latencyMs,omitempty"`
	ErrorKind    executor.Kind     `json:"errorKind,omitempty"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var p trigger.Payload
	if err := decode(r, &p, false); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Message: "invalid JSON body"})
		return
	}
	ctx, cancel := s.invocation(r)
	defer cancel()

	res, err := s.Exec.HandleTrigger(ctx, p)
	d := executionDetails{
		PrebookingID: p.PrebookingID,
		Status:       res.Status,
		BookingID:    res.BookingID,
		FiredAt:      res.FiredAt,
		LatencyMS:    res.Latency.Milliseconds(),
		ErrorKind:    executor.KindOf(err),
	}
	msg := res.Message
	if msg == "" && err != nil {
		msg = err.Error()
	}
	status := executionStatus(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("prebooking_id", p.PrebookingID).Msg("execution failed")
		msg = "internal error"
	}
	writeJSON(w, status, envelope{Success: err == nil && res.Success, Message: msg, Details: d})
}

type cronRequest struct {
	BatchSize        int `json:"batchSize"`
	ThresholdSeconds int `json:"thresholdSeconds"`
}

func (s *Server) handleCron(w http.ResponseWriter, r *http.Request) {
	var req cronRequest
	if err := decode(r, &req, true); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Message: "invalid JSON body"})
		return
	}
	if req.BatchSize < 0 || req.ThresholdSeconds < 0 {
		writeJSON(w, http.StatusBadRequest, envelope{Message: "batchSize and thresholdSeconds must not be negative"})
		return
	}
	ctx, cancel := s.invocation(r)
	defer cancel()

	rep, err := s.Sweep.Run(ctx, sweep.Options{
		BatchSize: req.BatchSize,
		Lookahead: time.Duration(req.ThresholdSeconds) * time.Second,
	})
	if err != nil {
		log.Error().Err(err).Msg("cron sweep failed")
		writeJSON(w, http.StatusInternalServerError, envelope{Message: "sweep failed"})
		return
	}
	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Message: "processed " + strconv.Itoa(rep.Processed) + " prebookings",
		Details: rep,
	})
}

type intentRequest struct {
	UserEmail      string    `json:"userEmail"`
	Fingerprint    string    `json:"fingerprint"`
	BoxID          string    `json:"boxId"`
	BoxSubdomain   string    `json:"boxSubdomain"`
	BoxAimharderID string    `json:"boxAimharderId"`
	ClassID        string    `json:"classId"`
	ClassDay       string    `json:"classDay"`
	ClassTime      string    `json:"classTime"`
	ClassName      string    `json:"className"`
	AvailableAt    time.Time `json:"availableAt"`
}

type intentView struct {
	ID             string            `json:"id"`
	UserEmail      string            `json:"userEmail"`
	Fingerprint    string            `json:"fingerprint"`
	BoxSubdomain   string            `json:"boxSubdomain"`
	BoxAimharderID string            `json:"boxAimharderId"`
	ClassID        string            `json:"classId"`
	ClassDay       string            `json:"classDay"`
	ClassTime      string            `json:"classTime,omitempty"`
	ClassName      string            `json:"className,omitempty"`
	AvailableAt    time.Time         `json:"availableAt"`
	Status         prebooking.Status `json:"status"`
	FiredAt        *time.Time        `json:"firedAt,omitempty"`
	LatencyMS      *int              `json:"latencyMs,omitempty"`
	BookingID      *string           `json:"bookingId,omitempty"`
	ErrorCode      *string           `json:"errorCode,omitempty"`
	ErrorMessage   *string           `json:"errorMessage,omitempty"`
	ExecutedBy     *string           `json:"executedBy,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
}

func view(i prebooking.Intent) intentView {
	return intentView{
		ID: i.ID, UserEmail: i.UserEmail, Fingerprint: i.Fingerprint,
		BoxSubdomain: i.BoxSubdomain, BoxAimharderID: i.BoxAimharderID,
		ClassID: i.ClassID, ClassDay: i.ClassDay, ClassTime: i.ClassTime, ClassName: i.ClassName,
		AvailableAt: i.AvailableAt, Status: i.Status,
		FiredAt: i.FiredAt, LatencyMS: i.LatencyMS, BookingID: i.BookingID,
		ErrorCode: i.ErrorCode, ErrorMessage: i.ErrorMessage, ExecutedBy: i.ExecutedBy,
		CreatedAt: i.CreatedAt,
	}
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req intentRequest
	if err := decode(r, &req, false); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Message: "invalid JSON body"})
		return
	}
	created, err := s.Prebookings.Create(r.Context(), prebooking.Intent{
		UserEmail:      strings.TrimSpace(req.UserEmail),
		Fingerprint:    strings.TrimSpace(req.Fingerprint),
		BoxID:          req.BoxID,
		BoxSubdomain:   strings.TrimSpace(req.BoxSubdomain),
		BoxAimharderID: strings.TrimSpace(req.BoxAimharderID),
		ClassID:        strings.TrimSpace(req.ClassID),
		ClassDay:       strings.TrimSpace(req.ClassDay),
		ClassTime:      req.ClassTime,
		ClassName:      req.ClassName,
		AvailableAt:    req.AvailableAt,
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, envelope{Success: true, Message: "prebooking scheduled", Details: view(created)})
	case errors.Is(err, prebooking.ErrInvalid):
		writeJSON(w, http.StatusBadRequest, envelope{Message: err.Error()})
	case errors.Is(err, prebooking.ErrUnschedulable):
		log.Error().Err(err).Msg("schedule prebooking")
		writeJSON(w, http.StatusServiceUnavailable, envelope{Message: "could not schedule prebooking, try again"})
	default:
		log.Error().Err(err).Msg("create prebooking")
		writeJSON(w, http.StatusInternalServerError, envelope{Message: "internal error"})
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if email == "" {
		writeJSON(w, http.StatusBadRequest, envelope{Message: "email is required"})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	is, err := s.Prebookings.List(r.Context(), email, limit)
	if err != nil {
		log.Error().Err(err).Msg("list prebookings")
		writeJSON(w, http.StatusInternalServerError, envelope{Message: "internal error"})
		return
	}
	out := make([]intentView, 0, len(is))
	for _, i := range is {
		out = append(out, view(i))
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: strconv.Itoa(len(out)) + " prebookings", Details: out})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.Prebookings.Cancel(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, envelope{Success: true, Message: "prebooking cancelled"})
	case errors.Is(err, prebooking.ErrNotFound):
		writeJSON(w, http.StatusNotFound, envelope{Message: "prebooking not found"})
	case errors.Is(err, prebooking.ErrConflict):
		writeJSON(w, http.StatusConflict, envelope{Message: "prebooking is no longer pending"})
	default:
		log.Error().Err(err).Str("prebooking_id", id).Msg("cancel prebooking")
		writeJSON(w, http.StatusInternalServerError, envelope{Message: "internal error"})
	}
}

package prebooking

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusFiring    Status = "firing"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed || s == StatusCancelled
}

// Source names the entry point that executed an intent.
type Source string

const (
	SourceWebhook Source = "webhook"
	SourceSweep   Source = "sweep"
)

var (
	ErrNotFound = errors.New("prebooking not found")
	// ErrConflict means the intent was not in the status a transition expected.
	ErrConflict      = errors.New("prebooking status changed concurrently")
	ErrInvalid       = errors.New("invalid prebooking")
	ErrUnschedulable = errors.New("prebooking could not be scheduled")
)

// Intent is a user's request to book one class once it opens.
type Intent struct {
	ID          string
	UserEmail   string
	Fingerprint string

	BoxID          string
	BoxSubdomain   string
	BoxAimharderID string

	ClassID   string
	ClassDay  string // YYYYMMDD
	ClassTime string // HH:MM, informational
	ClassName string

	AvailableAt time.Time
	Status      Status

	DispatchHandle *string
	LastAttemptAt  *time.Time

	FiredAt      *time.Time
	LatencyMS    *int
	BookingID    *string
	ErrorCode    *string
	ErrorMessage *string
	ExecutedBy   *string
	EmailSent    bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Outcome is what the executor records when an intent reaches a terminal status.
type Outcome struct {
	Status       Status
	Source       Source
	FiredAt      *time.Time
	Latency      time.Duration
	BookingID    string
	ErrorCode    string
	ErrorMessage string
}

var classDayRE = regexp.MustCompile(`^\d{8}$`)

func (i Intent) Validate(now time.Time) error {
	if i.UserEmail == "" {
		return fmt.Errorf("user_email required")
	}
	if i.Fingerprint == "" {
		return fmt.Errorf("fingerprint required")
	}
	if i.BoxSubdomain == "" || i.BoxAimharderID == "" {
		return fmt.Errorf("box_subdomain and box_aimharder_id required")
	}
	if i.ClassID == "" {
		return fmt.Errorf("class_id required")
	}
	if !classDayRE.MatchString(i.ClassDay) {
		return fmt.Errorf("class_day must be YYYYMMDD")
	}
	if i.AvailableAt.IsZero() {
		return fmt.Errorf("available_at required")
	}
	if !i.AvailableAt.After(now) {
		return fmt.Errorf("available_at must be in the future")
	}
	return nil
}

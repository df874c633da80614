package prebooking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Dispatcher schedules and revokes the delayed execution trigger of an intent.
type Dispatcher interface {
	Schedule(ctx context.Context, i Intent) (handle string, err error)
	Cancel(ctx context.Context, handle string) error
}

type store interface {
	CreateScheduled(ctx context.Context, i Intent, schedule func(Intent) (string, error)) (Intent, error)
	Cancel(ctx context.Context, id string) (string, error)
	ListByUser(ctx context.Context, email string, limit int) ([]Intent, error)
}

// Service is the creation/cancellation path used by the API and CLI.
type Service struct {
	Repo       store
	Dispatcher Dispatcher
	Now        func() time.Time
}

func NewService(repo *Repo, d Dispatcher) *Service {
	return &Service{Repo: repo, Dispatcher: d, Now: time.Now}
}

func (s *Service) Create(ctx context.Context, i Intent) (Intent, error) {
	if err := i.Validate(s.Now()); err != nil {
		return Intent{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	created, err := s.Repo.CreateScheduled(ctx, i, func(in Intent) (string, error) {
		h, err := s.Dispatcher.Schedule(ctx, in)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrUnschedulable, err)
		}
		return h, nil
	})
	if err != nil {
		return Intent{}, err
	}
	log.Info().Str("prebooking_id", created.ID).Str("email", created.UserEmail).
		Time("available_at", created.AvailableAt).Msg("prebooking scheduled")
	return created, nil
}

// Cancel stops a pending intent. Revoking the broker message is best effort:
// a delivered trigger finds the intent cancelled and skips it anyway.
func (s *Service) Cancel(ctx context.Context, id string) error {
	handle, err := s.Repo.Cancel(ctx, id)
	if err != nil {
		return err
	}
	if handle == "" {
		return nil
	}
	if err := s.Dispatcher.Cancel(ctx, handle); err != nil {
		log.Warn().Err(err).Str("prebooking_id", id).Str("handle", handle).Msg("dispatch revoke failed")
	}
	return nil
}

func (s *Service) List(ctx context.Context, email string, limit int) ([]Intent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.Repo.ListByUser(ctx, email, limit)
}

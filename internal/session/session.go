package session

import (
	"errors"
	"time"
)

type Type string

const (
	TypeDevice     Type = "device"
	TypeBackground Type = "background"
)

var (
	ErrNotFound     = errors.New("session not found")
	ErrUnscopedDrop = errors.New("session delete needs a fingerprint or the background type")
)

// DeviceSession is the platform auth state for one (email, fingerprint).
type DeviceSession struct {
	Email       string
	Fingerprint string
	Type        Type
	Token       string
	Cookies     []Cookie
	IsAdmin     bool

	TokenUpdateCount     int
	TokenUpdateFailures  int
	LastTokenUpdateAt    time.Time
	LastTokenUpdateError *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s DeviceSession) TokenAge(now time.Time) time.Duration {
	return now.Sub(s.LastTokenUpdateAt)
}

// NeedsRefresh is true only when the token is strictly older than threshold.
func (s DeviceSession) NeedsRefresh(now time.Time, threshold time.Duration) bool {
	return s.TokenAge(now) > threshold
}

// DeleteScope selects exactly one session to remove.
type DeleteScope struct {
	Fingerprint string
	Type        Type
}

func (d DeleteScope) Validate() error {
	if d.Fingerprint == "" && d.Type != TypeBackground {
		return ErrUnscopedDrop
	}
	return nil
}

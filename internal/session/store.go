package session

import (
	"context"
	"fmt"

	"github.com/example/box-scheduler/internal/db"
)

// Store persists device sessions. Every write is keyed by (email, fingerprint)
// so one device's refresh can never land on another device's row.
type Store struct {
	db   *db.DB
	seal *Sealer
}

func NewStore(d *db.DB, seal *Sealer) *Store { return &Store{db: d, seal: seal} }

const sessionCols = `email,fingerprint,session_type,token,cookies,is_admin,token_update_count,token_update_failures,last_token_update_at,last_token_update_error,created_at,updated_at`

func (s *Store) GetDeviceSession(ctx context.Context, email, fingerprint string) (DeviceSession, error) {
	row := s.db.QueryRow(ctx, `SELECT `+sessionCols+` FROM device_sessions WHERE email=$1 AND fingerprint=$2`, email, fingerprint)
	var ds DeviceSession
	var typ, sealedToken, sealedCookies string
	err := row.Scan(&ds.Email, &ds.Fingerprint, &typ, &sealedToken, &sealedCookies, &ds.IsAdmin,
		&ds.TokenUpdateCount, &ds.TokenUpdateFailures, &ds.LastTokenUpdateAt, &ds.LastTokenUpdateError,
		&ds.CreatedAt, &ds.UpdatedAt)
	if err != nil {
		if db.IsNotFound(err) {
			return DeviceSession{}, ErrNotFound
		}
		return DeviceSession{}, fmt.Errorf("get session: %w", err)
	}
	ds.Type = Type(typ)
	if ds.Token, err = s.seal.OpenToken(sealedToken); err != nil {
		return DeviceSession{}, err
	}
	if ds.Cookies, err = s.seal.OpenCookies(sealedCookies); err != nil {
		return DeviceSession{}, err
	}
	return ds, nil
}

// Upsert creates or replaces the session for (email, fingerprint), e.g. after a
// platform login.
func (s *Store) Upsert(ctx context.Context, ds DeviceSession) error {
	if ds.Type == "" {
		ds.Type = TypeDevice
	}
	tok, err := s.seal.SealToken(ds.Token)
	if err != nil {
		return err
	}
	cks, err := s.seal.SealCookies(FilterRequired(ds.Cookies))
	if err != nil {
		return err
	}
	err = s.db.Exec(ctx, `
INSERT INTO device_sessions(email,fingerprint,session_type,token,cookies,is_admin,last_token_update_at)
VALUES ($1,$2,$3,$4,$5,$6,now())
ON CONFLICT (email,fingerprint) DO UPDATE
SET session_type=EXCLUDED.session_type, token=EXCLUDED.token, cookies=EXCLUDED.cookies, is_admin=EXCLUDED.is_admin,
    last_token_update_at=now(), last_token_update_error=NULL, updated_at=now()`,
		ds.Email, ds.Fingerprint, string(ds.Type), tok, cks, ds.IsAdmin)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return fmt.Errorf("upsert session: %s already has a background session", ds.Email)
		}
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

func (s *Store) UpdateRefreshToken(ctx context.Context, email, fingerprint, token string) error {
	tok, err := s.seal.SealToken(token)
	if err != nil {
		return err
	}
	return s.exactlyOne(s.db.ExecRows(ctx, `
UPDATE device_sessions SET token=$3, last_token_update_at=now(), updated_at=now()
WHERE email=$1 AND fingerprint=$2`, email, fingerprint, tok))
}

func (s *Store) UpdateCookies(ctx context.Context, email, fingerprint string, cookies []Cookie) error {
	cks, err := s.seal.SealCookies(FilterRequired(cookies))
	if err != nil {
		return err
	}
	return s.exactlyOne(s.db.ExecRows(ctx, `
UPDATE device_sessions SET cookies=$3, updated_at=now()
WHERE email=$1 AND fingerprint=$2`, email, fingerprint, cks))
}

// UpdateTokenUpdateData records the outcome of a refresh attempt.
func (s *Store) UpdateTokenUpdateData(ctx context.Context, email, fingerprint string, success bool, errMsg string) error {
	if success {
		return s.exactlyOne(s.db.ExecRows(ctx, `
UPDATE device_sessions
SET token_update_count=token_update_count+1, token_update_failures=0, last_token_update_error=NULL, updated_at=now()
WHERE email=$1 AND fingerprint=$2`, email, fingerprint))
	}
	return s.exactlyOne(s.db.ExecRows(ctx, `
UPDATE device_sessions
SET token_update_failures=token_update_failures+1, last_token_update_error=$3, updated_at=now()
WHERE email=$1 AND fingerprint=$2`, email, fingerprint, errMsg))
}

// SaveRefresh writes the whole refreshed tuple (token, cookies, counters) in a
// single statement.
func (s *Store) SaveRefresh(ctx context.Context, email, fingerprint, token string, cookies []Cookie) error {
	tok, err := s.seal.SealToken(token)
	if err != nil {
		return err
	}
	cks, err := s.seal.SealCookies(FilterRequired(cookies))
	if err != nil {
		return err
	}
	return s.exactlyOne(s.db.ExecRows(ctx, `
UPDATE device_sessions
SET token=$3, cookies=$4, token_update_count=token_update_count+1, token_update_failures=0,
    last_token_update_at=now(), last_token_update_error=NULL, updated_at=now()
WHERE email=$1 AND fingerprint=$2`, email, fingerprint, tok, cks))
}

// DeleteSession removes exactly one session. Deleting an already missing
// session is not an error.
func (s *Store) DeleteSession(ctx context.Context, email string, scope DeleteScope) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	var err error
	switch {
	case scope.Fingerprint != "" && scope.Type != "":
		err = s.db.Exec(ctx, `DELETE FROM device_sessions WHERE email=$1 AND fingerprint=$2 AND session_type=$3`,
			email, scope.Fingerprint, string(scope.Type))
	case scope.Fingerprint != "":
		err = s.db.Exec(ctx, `DELETE FROM device_sessions WHERE email=$1 AND fingerprint=$2`, email, scope.Fingerprint)
	default:
		err = s.db.Exec(ctx, `DELETE FROM device_sessions WHERE email=$1 AND session_type='background'`, email)
	}
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *Store) exactlyOne(n int64, err error) error {
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

package session

import (
	"fmt"

	"github.com/gorilla/securecookie"
)

// Sealer encrypts and authenticates credentials before they reach the database.
type Sealer struct {
	sc *securecookie.SecureCookie
}

func NewSealer(hashKey, blockKey []byte) *Sealer {
	sc := securecookie.New(hashKey, blockKey)
	sc.SetSerializer(securecookie.JSONEncoder{})
	// rows are not browser cookies: no expiry, no 4k cap
	sc.MaxAge(0)
	sc.MaxLength(0)
	return &Sealer{sc: sc}
}

func (s *Sealer) SealToken(token string) (string, error) {
	v, err := s.sc.Encode("token", token)
	if err != nil {
		return "", fmt.Errorf("seal token: %w", err)
	}
	return v, nil
}

func (s *Sealer) OpenToken(sealed string) (string, error) {
	var token string
	if err := s.sc.Decode("token", sealed, &token); err != nil {
		return "", fmt.Errorf("open token: %w", err)
	}
	return token, nil
}

func (s *Sealer) SealCookies(cs []Cookie) (string, error) {
	if len(cs) == 0 {
		return "", nil
	}
	v, err := s.sc.Encode("cookies", cs)
	if err != nil {
		return "", fmt.Errorf("seal cookies: %w", err)
	}
	return v, nil
}

func (s *Sealer) OpenCookies(sealed string) ([]Cookie, error) {
	if sealed == "" {
		return nil, nil
	}
	var cs []Cookie
	if err := s.sc.Decode("cookies", sealed, &cs); err != nil {
		return nil, fmt.Errorf("open cookies: %w", err)
	}
	return cs, nil
}

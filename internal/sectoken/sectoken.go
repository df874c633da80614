// Package sectoken binds a trigger payload to one (prebooking id, execute-at)
// pair with HMAC-SHA256. Tokens are recomputed for verification, never stored.
package sectoken

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"
)

var ErrEmptyKey = errors.New("sectoken: empty key")

type Signer struct {
	key []byte
}

func New(key []byte) (*Signer, error) {
	if len(key) == 0 {
		return nil, ErrEmptyKey
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &Signer{key: k}, nil
}

// Generate returns the hex token for id at the given instant (millisecond precision).
func (s *Signer) Generate(id string, executeAt time.Time) string {
	return hex.EncodeToString(s.mac(id, executeAt.UnixMilli()))
}

// Verify reports whether token is exactly the lowercase hex Generate returns
// for (id, executeAt). The comparison does not short-circuit on the first
// differing byte.
func (s *Signer) Verify(token, id string, executeAt time.Time) bool {
	want := hex.EncodeToString(s.mac(id, executeAt.UnixMilli()))
	return hmac.Equal([]byte(token), []byte(want))
}

func (s *Signer) mac(id string, ms int64) []byte {
	h := hmac.New(sha256.New, s.key)
	h.Write([]byte(id))
	h.Write([]byte{':'})
	h.Write([]byte(strconv.FormatInt(ms, 10)))
	return h.Sum(nil)
}

package config

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const minMasterKeyLen = 32

// Keys are the per-purpose secrets expanded from MASTER_KEY.
type Keys struct {
	TokenKey     []byte
	SealHashKey  []byte
	SealBlockKey []byte
}

func DeriveKeys(master []byte) (Keys, error) {
	if len(master) < minMasterKeyLen {
		return Keys{}, fmt.Errorf("master key must be at least %d bytes (got %d)", minMasterKeyLen, len(master))
	}
	var k Keys
	var err error
	if k.TokenKey, err = expand(master, "prebooking-token", 32); err != nil {
		return Keys{}, err
	}
	if k.SealHashKey, err = expand(master, "session-seal-hash", 32); err != nil {
		return Keys{}, err
	}
	if k.SealBlockKey, err = expand(master, "session-seal-block", 32); err != nil {
		return Keys{}, err
	}
	return k, nil
}

func expand(master []byte, info string, n int) ([]byte, error) {
	out := make([]byte, n)
	r := hkdf.New(sha256.New, master, nil, []byte(info))
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("derive %s: %w", info, err)
	}
	return out, nil
}

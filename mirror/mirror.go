package mirror

import (
	"errors"
	"fmt"
)

const (
	// KeyEmail is the storage key of the session email.
	KeyEmail = "reset_email"
	// KeyToken is the storage key of the reset token.
	KeyToken = "reset_token"
)

var (
	// ErrBackendUnavailable wraps I/O failures of a backend.
	ErrBackendUnavailable = errors.New("mirror backend unavailable")
	// ErrNilBackend is returned by New when no backend is supplied.
	ErrNilBackend = errors.New("nil mirror backend")
)

// Record is the mirrored part of a session. An empty field is absent.
type Record struct {
	Email string
	Token string
}

// IsZero reports whether nothing is stored.
func (r Record) IsZero() bool {
	return r.Email == "" && r.Token == ""
}

// Backend is a synchronous string key/value store.
// Get reports ok=false for a missing key.
type Backend interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Delete(keys ...string) error
}

// Mirror stores a Record on a Backend.
type Mirror struct {
	backend Backend
}

// New returns a Mirror over backend.
func New(backend Backend) (*Mirror, error) {
	if backend == nil {
		return nil, ErrNilBackend
	}
	return &Mirror{backend: backend}, nil
}

// Save writes the fields present in partial and leaves the others untouched.
func (m *Mirror) Save(partial Record) error {
	if partial.Email != "" {
		if err := m.backend.Set(KeyEmail, partial.Email); err != nil {
			return fmt.Errorf("save %s: %w", KeyEmail, err)
		}
	}
	if partial.Token != "" {
		if err := m.backend.Set(KeyToken, partial.Token); err != nil {
			return fmt.Errorf("save %s: %w", KeyToken, err)
		}
	}
	return nil
}

// Load returns whichever subset of the record exists.
func (m *Mirror) Load() (Record, error) {
	var rec Record

	email, ok, err := m.backend.Get(KeyEmail)
	if err != nil {
		return Record{}, fmt.Errorf("load %s: %w", KeyEmail, err)
	}
	if ok {
		rec.Email = email
	}

	token, ok, err := m.backend.Get(KeyToken)
	if err != nil {
		return Record{}, fmt.Errorf("load %s: %w", KeyToken, err)
	}
	if ok {
		rec.Token = token
	}

	return rec, nil
}

// Clear removes both keys. Clearing an empty mirror is not an error.
func (m *Mirror) Clear() error {
	if err := m.backend.Delete(KeyEmail, KeyToken); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	return nil
}

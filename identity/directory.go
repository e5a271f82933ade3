package identity

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Account is one entry of a Directory.
type Account struct {
	ID           string
	Email        string
	PasswordHash string
}

// Directory looks up accounts by email and stores password hashes. Emails are
// compared in normalized form. Lookup returns ErrUnknownAccount for a missing
// email.
type Directory interface {
	Lookup(ctx context.Context, email string) (Account, error)
	SetPasswordHash(ctx context.Context, accountID, hash string) error
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// MemoryDirectory is a process-local Directory.
type MemoryDirectory struct {
	mu      sync.RWMutex
	byEmail map[string]string
	byID    map[string]Account
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		byEmail: make(map[string]string),
		byID:    make(map[string]Account),
	}
}

// Add registers an account and returns it with a generated ID.
func (d *MemoryDirectory) Add(_ context.Context, email, passwordHash string) (Account, error) {
	email = normalizeEmail(email)
	if email == "" {
		return Account{}, ErrInvalidInput
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.byEmail[email]; ok {
		return Account{}, ErrAccountExists
	}
	acc := Account{ID: uuid.NewString(), Email: email, PasswordHash: passwordHash}
	d.byEmail[email] = acc.ID
	d.byID[acc.ID] = acc
	return acc, nil
}

func (d *MemoryDirectory) Lookup(_ context.Context, email string) (Account, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	id, ok := d.byEmail[normalizeEmail(email)]
	if !ok {
		return Account{}, ErrUnknownAccount
	}
	return d.byID[id], nil
}

func (d *MemoryDirectory) SetPasswordHash(_ context.Context, accountID, hash string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	acc, ok := d.byID[accountID]
	if !ok {
		return ErrUnknownAccount
	}
	acc.PasswordHash = hash
	d.byID[accountID] = acc
	return nil
}

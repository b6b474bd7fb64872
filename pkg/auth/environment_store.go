package auth

import (
	"fmt"
	"os"
	"time"

	"github.com/bluejorts/bluesky-archiver/pkg/bluesky"
)

const (
	envHandle      = "BSKY_ARCHIVER_HANDLE"
	envAppPassword = "BLUESKY_APP_PASSWORD"
)

// EnvironmentStore reads a single account from BSKY_ARCHIVER_HANDLE and
// BLUESKY_APP_PASSWORD. It is read-only.
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based credential store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(account *Account) error {
	return ErrStoreUnavailable
}

// Retrieve returns the environment account. A non-empty actor must match
// BSKY_ARCHIVER_HANDLE when that variable is set.
func (e *EnvironmentStore) Retrieve(actor string) (*Account, error) {
	password := os.Getenv(envAppPassword)
	if password == "" {
		return nil, ErrCredentialsNotFound
	}

	handle := ""
	if raw := os.Getenv(envHandle); raw != "" {
		parsed, err := bluesky.ParseActor(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envHandle, err)
		}
		handle = parsed
	}

	switch {
	case actor == "" && handle == "":
		return nil, ErrCredentialsNotFound
	case actor == "":
	case handle == "":
		handle = actor
	case handle != actor:
		return nil, ErrCredentialsNotFound
	}

	account := &Account{AppPassword: password, LastModified: time.Now()}
	if bluesky.IsDID(handle) {
		account.DID = handle
	} else {
		account.Handle = handle
	}
	return account, nil
}

// List returns a single account if environment variables are set
func (e *EnvironmentStore) List() ([]*Account, error) {
	account, err := e.Retrieve("")
	if err != nil {
		return []*Account{}, nil
	}
	return []*Account{account}, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(actor string) error {
	return ErrStoreUnavailable
}

// Exists checks if environment credentials exist
func (e *EnvironmentStore) Exists(actor string) bool {
	_, err := e.Retrieve(actor)
	return err == nil
}

package auth

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/adrg/xdg"

	"github.com/bluejorts/bluesky-archiver/pkg/bluesky"
	"github.com/bluejorts/bluesky-archiver/pkg/config"
)

var (
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrStoreUnavailable    = errors.New("credential store unavailable")
)

// Account is an app password for one Bluesky identity on one PDS. The DID is
// learned on the first successful login; until then the handle is the key.
type Account struct {
	Handle       string    `json:"handle"`
	DID          string    `json:"did,omitempty"`
	AppPassword  string    `json:"app_password"`
	ServiceURL   string    `json:"service_url,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// Key is the stable storage key: the DID when known, otherwise the handle
func (a *Account) Key() string {
	if a.DID != "" {
		return a.DID
	}
	return a.Handle
}

// Identifier is what createSession is called with
func (a *Account) Identifier() string {
	if a.Handle != "" {
		return a.Handle
	}
	return a.DID
}

// Matches reports whether a canonical handle or DID names this account
func (a *Account) Matches(actor string) bool {
	return actor != "" && (actor == a.Handle || actor == a.DID)
}

// Validate canonicalizes the handle and DID and checks the password format
// and service URL
func (a *Account) Validate() error {
	if a.Handle == "" && a.DID == "" {
		return fmt.Errorf("%w: a handle or DID is required", ErrInvalidCredentials)
	}
	if a.Handle != "" {
		handle, err := bluesky.ParseActor(a.Handle)
		if err != nil || bluesky.IsDID(handle) {
			return fmt.Errorf("%w: %q is not a handle", ErrInvalidCredentials, a.Handle)
		}
		a.Handle = handle
	}
	if a.DID != "" {
		did, err := bluesky.ParseActor(a.DID)
		if err != nil || !bluesky.IsDID(did) {
			return fmt.Errorf("%w: %q is not a DID", ErrInvalidCredentials, a.DID)
		}
		a.DID = did
	}
	if err := ValidateAppPassword(a.AppPassword); err != nil {
		return err
	}
	if a.ServiceURL != "" {
		u, err := url.Parse(a.ServiceURL)
		if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			return fmt.Errorf("%w: service URL %q must be an http(s) URL", ErrInvalidCredentials, a.ServiceURL)
		}
	}
	return nil
}

// CredentialStore persists accounts. Lookups take a canonical handle or DID.
type CredentialStore interface {
	Store(account *Account) error
	Retrieve(actor string) (*Account, error)
	List() ([]*Account, error)
	Delete(actor string) error
	Exists(actor string) bool
}

// findAccount returns the account named by actor, or nil
func findAccount(accounts []*Account, actor string) *Account {
	for _, account := range accounts {
		if account.Matches(actor) {
			return account
		}
	}
	return nil
}

// Manager handles credential storage with fallback mechanisms
type Manager struct {
	stores []CredentialStore
}

// NewManager uses the system keyring when available, then an encrypted file
// in the config directory, then the environment.
func NewManager() (*Manager, error) {
	var stores []CredentialStore

	if keyringStore, err := NewKeyringStore(); err == nil {
		stores = append(stores, keyringStore)
	}

	configDir := filepath.Join(xdg.ConfigHome, config.AppName)
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}
	encryptedStore, err := NewEncryptedFileStore(filepath.Join(configDir, "credentials.enc"))
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypted store: %w", err)
	}
	stores = append(stores, encryptedStore, NewEnvironmentStore())

	return &Manager{stores: stores}, nil
}

// NewManagerWithStores builds a manager over an explicit store chain
func NewManagerWithStores(stores ...CredentialStore) *Manager {
	return &Manager{stores: stores}
}

// Store validates the account and saves it in the first store that accepts it
func (m *Manager) Store(account *Account) error {
	if account == nil {
		return ErrInvalidCredentials
	}
	if err := account.Validate(); err != nil {
		return err
	}
	account.LastModified = time.Now()

	var lastErr error
	for _, store := range m.stores {
		err := store.Store(account)
		if err == nil {
			return nil
		}
		lastErr = err
	}

	if lastErr != nil {
		return fmt.Errorf("failed to store credentials: %w", lastErr)
	}
	return ErrStoreUnavailable
}

// Retrieve gets credentials for a handle or DID from the first store that has them
func (m *Manager) Retrieve(actor string) (*Account, error) {
	parsed, err := bluesky.ParseActor(actor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	for _, store := range m.stores {
		if account, err := store.Retrieve(parsed); err == nil && account != nil {
			return account, nil
		}
	}
	return nil, fmt.Errorf("%w for %s", ErrCredentialsNotFound, parsed)
}

// RetrieveDefault returns the environment account if set, otherwise the most
// recently stored one
func (m *Manager) RetrieveDefault() (*Account, error) {
	for _, store := range m.stores {
		if envStore, ok := store.(*EnvironmentStore); ok {
			if account, err := envStore.Retrieve(""); err == nil {
				return account, nil
			}
		}
	}

	accounts, err := m.List()
	if err == nil && len(accounts) > 0 {
		return accounts[0], nil
	}
	return nil, ErrCredentialsNotFound
}

// List returns every known account once, newest first. Copies that share a
// handle or DID, e.g. saved before and after the DID was learned, collapse
// into the newest.
func (m *Manager) List() ([]*Account, error) {
	var all []*Account
	for _, store := range m.stores {
		accounts, err := store.List()
		if err != nil {
			continue
		}
		all = append(all, accounts...)
	}

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].LastModified.Equal(all[j].LastModified) {
			return all[i].Key() < all[j].Key()
		}
		return all[i].LastModified.After(all[j].LastModified)
	})

	result := make([]*Account, 0, len(all))
	for _, account := range all {
		if findAccount(result, account.Handle) != nil || findAccount(result, account.DID) != nil {
			continue
		}
		result = append(result, account)
	}
	return result, nil
}

// Delete removes the account named by a handle or DID from every store
func (m *Manager) Delete(actor string) error {
	parsed, err := bluesky.ParseActor(actor)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}

	var deleted bool
	var lastErr error
	for _, store := range m.stores {
		if err := store.Delete(parsed); err == nil {
			deleted = true
		} else {
			lastErr = err
		}
	}

	if !deleted && lastErr != nil && !errors.Is(lastErr, ErrCredentialsNotFound) && !errors.Is(lastErr, ErrStoreUnavailable) {
		return fmt.Errorf("failed to delete credentials: %w", lastErr)
	}
	if !deleted {
		return fmt.Errorf("%w for %s", ErrCredentialsNotFound, parsed)
	}
	return nil
}

// DeleteAll removes all stored credentials
func (m *Manager) DeleteAll() error {
	accounts, err := m.List()
	if err != nil {
		return err
	}
	for _, account := range accounts {
		for _, actor := range []string{account.DID, account.Handle} {
			if actor != "" {
				_ = m.Delete(actor)
			}
		}
	}
	return nil
}

// SanitizeAccount returns a copy with the app password masked
func SanitizeAccount(account *Account) *Account {
	if account == nil {
		return nil
	}
	sanitized := *account
	sanitized.AppPassword = MaskString(account.AppPassword)
	return &sanitized
}

// MaskString masks all but the first and last 4 characters
func MaskString(s string) string {
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

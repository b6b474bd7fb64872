package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/zalando/go-keyring"

	"github.com/bluejorts/bluesky-archiver/pkg/config"
)

const (
	keyringService = config.AppName
	keyringPrefix  = "bluesky_"
	// keyringIndex lists stored keys, since the keyring itself cannot be enumerated
	keyringIndex = "index"
)

// KeyringStore implements CredentialStore using the system keychain
type KeyringStore struct{}

// NewKeyringStore creates a new keyring-based credential store
func NewKeyringStore() (*KeyringStore, error) {
	testKey := "test_availability"
	err := keyring.Set(keyringService, testKey, "test")
	if err != nil {
		return nil, fmt.Errorf("keyring not available: %w", err)
	}
	_ = keyring.Delete(keyringService, testKey)

	return &KeyringStore{}, nil
}

// Store saves the account under its key. An older entry for the same
// handle under a different key, saved before the DID was known, is dropped.
func (k *KeyringStore) Store(account *Account) error {
	if account == nil || account.Key() == "" {
		return ErrInvalidCredentials
	}

	data, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("failed to marshal account: %w", err)
	}
	if err := keyring.Set(keyringService, keyringPrefix+account.Key(), string(data)); err != nil {
		return fmt.Errorf("failed to store in keyring: %w", err)
	}

	stale := ""
	if previous, err := k.Retrieve(account.Handle); err == nil && previous.Key() != account.Key() {
		stale = previous.Key()
		_ = keyring.Delete(keyringService, keyringPrefix+stale)
	}
	return k.updateIndex(func(keys map[string]bool) {
		delete(keys, stale)
		keys[account.Key()] = true
	})
}

// Retrieve looks up an account by key first, then by handle through the index
func (k *KeyringStore) Retrieve(actor string) (*Account, error) {
	if actor == "" {
		return nil, ErrInvalidCredentials
	}

	account, err := k.get(actor)
	if err == nil || !errors.Is(err, ErrCredentialsNotFound) {
		return account, err
	}

	accounts, err := k.List()
	if err != nil {
		return nil, err
	}
	if account := findAccount(accounts, actor); account != nil {
		return account, nil
	}
	return nil, ErrCredentialsNotFound
}

func (k *KeyringStore) get(key string) (*Account, error) {
	data, err := keyring.Get(keyringService, keyringPrefix+key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, ErrCredentialsNotFound
		}
		return nil, fmt.Errorf("failed to retrieve from keyring: %w", err)
	}

	var account Account
	if err := json.Unmarshal([]byte(data), &account); err != nil {
		return nil, fmt.Errorf("failed to unmarshal account: %w", err)
	}
	return &account, nil
}

// List returns every indexed account
func (k *KeyringStore) List() ([]*Account, error) {
	keys, err := k.loadIndex()
	if err != nil {
		return nil, err
	}

	accounts := []*Account{}
	for key := range keys {
		if account, err := k.get(key); err == nil {
			accounts = append(accounts, account)
		}
	}
	return accounts, nil
}

// Delete removes the account named by a handle or DID
func (k *KeyringStore) Delete(actor string) error {
	account, err := k.Retrieve(actor)
	if err != nil {
		return err
	}

	key := account.Key()
	if err := keyring.Delete(keyringService, keyringPrefix+key); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return ErrCredentialsNotFound
		}
		return fmt.Errorf("failed to delete from keyring: %w", err)
	}
	return k.updateIndex(func(keys map[string]bool) { delete(keys, key) })
}

// Exists reports whether actor has stored credentials
func (k *KeyringStore) Exists(actor string) bool {
	_, err := k.Retrieve(actor)
	return err == nil
}

func (k *KeyringStore) loadIndex() (map[string]bool, error) {
	keys := make(map[string]bool)
	data, err := keyring.Get(keyringService, keyringIndex)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return keys, nil
		}
		return nil, fmt.Errorf("failed to read keyring index: %w", err)
	}

	var list []string
	if err := json.Unmarshal([]byte(data), &list); err != nil {
		return nil, fmt.Errorf("failed to parse keyring index: %w", err)
	}
	for _, h := range list {
		keys[h] = true
	}
	return keys, nil
}

func (k *KeyringStore) updateIndex(change func(map[string]bool)) error {
	keys, err := k.loadIndex()
	if err != nil {
		return err
	}
	change(keys)

	list := make([]string, 0, len(keys))
	for h := range keys {
		list = append(list, h)
	}
	sort.Strings(list)

	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("failed to marshal keyring index: %w", err)
	}
	if err := keyring.Set(keyringService, keyringIndex, string(data)); err != nil {
		return fmt.Errorf("failed to update keyring index: %w", err)
	}
	return nil
}

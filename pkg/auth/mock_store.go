package auth

import "sync"

// MockStore is an in-memory CredentialStore with error injection, for tests
type MockStore struct {
	mu       sync.Mutex
	accounts map[string]Account

	StoreError    error
	RetrieveError error
	ListError     error
	DeleteError   error
}

// NewMockStore creates an empty store
func NewMockStore() *MockStore {
	return &MockStore{accounts: make(map[string]Account)}
}

// NewMockManager creates a Manager over a single MockStore
func NewMockManager() (*Manager, *MockStore) {
	store := NewMockStore()
	return NewManagerWithStores(store), store
}

// lookup returns the key of the entry named by actor
func (m *MockStore) lookup(actor string) (string, bool) {
	for key, account := range m.accounts {
		if account.Matches(actor) {
			return key, true
		}
	}
	return "", false
}

func (m *MockStore) Store(account *Account) error {
	if m.StoreError != nil {
		return m.StoreError
	}
	if account == nil || account.Key() == "" {
		return ErrInvalidCredentials
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, actor := range []string{account.Handle, account.DID} {
		if key, ok := m.lookup(actor); ok {
			delete(m.accounts, key)
		}
	}
	m.accounts[account.Key()] = *account
	return nil
}

func (m *MockStore) Retrieve(actor string) (*Account, error) {
	if m.RetrieveError != nil {
		return nil, m.RetrieveError
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	key, ok := m.lookup(actor)
	if !ok {
		return nil, ErrCredentialsNotFound
	}
	account := m.accounts[key]
	return &account, nil
}

func (m *MockStore) List() ([]*Account, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	accounts := make([]*Account, 0, len(m.accounts))
	for _, account := range m.accounts {
		account := account
		accounts = append(accounts, &account)
	}
	return accounts, nil
}

func (m *MockStore) Delete(actor string) error {
	if m.DeleteError != nil {
		return m.DeleteError
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	key, ok := m.lookup(actor)
	if !ok {
		return ErrCredentialsNotFound
	}
	delete(m.accounts, key)
	return nil
}

func (m *MockStore) Exists(actor string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.lookup(actor)
	return ok
}

// Count returns the number of stored accounts
func (m *MockStore) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.accounts)
}

package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/renameio/v2"
	"golang.org/x/crypto/pbkdf2"
)

const (
	vaultVersion    = 2
	vaultKDF        = "pbkdf2-sha256"
	vaultIterations = 100000
	vaultSaltSize   = 32
	vaultKeySize    = 32
	envPassphrase   = "BSKY_ARCHIVER_PASSPHRASE"
	passphraseFile  = ".passphrase"
)

// vault is the on-disk envelope. Every write uses a fresh salt and nonce; the
// header is bound to the ciphertext as additional data.
type vault struct {
	Version    int    `json:"version"`
	KDF        string `json:"kdf"`
	Iterations int    `json:"iterations"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

func (v *vault) header() []byte {
	return []byte(fmt.Sprintf("%s/v%d/%d", v.KDF, v.Version, v.Iterations))
}

func (v *vault) aead(passphrase string) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(passphrase), v.Salt, v.Iterations, vaultKeySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// sealAccounts encrypts the account list into a new vault
func sealAccounts(accounts []*Account, passphrase string) (*vault, error) {
	plaintext, err := json.Marshal(accounts)
	if err != nil {
		return nil, fmt.Errorf("failed to encode accounts: %w", err)
	}

	v := &vault{Version: vaultVersion, KDF: vaultKDF, Iterations: vaultIterations, Salt: make([]byte, vaultSaltSize)}
	if _, err := rand.Read(v.Salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	gcm, err := v.aead(passphrase)
	if err != nil {
		return nil, err
	}
	v.Nonce = make([]byte, gcm.NonceSize())
	if _, err := rand.Read(v.Nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	v.Ciphertext = gcm.Seal(nil, v.Nonce, plaintext, v.header())
	return v, nil
}

// open decrypts the account list
func (v *vault) open(passphrase string) ([]*Account, error) {
	if v.Version != vaultVersion || v.KDF != vaultKDF {
		return nil, fmt.Errorf("unsupported credentials file (version %d, kdf %q)", v.Version, v.KDF)
	}
	gcm, err := v.aead(passphrase)
	if err != nil {
		return nil, err
	}
	if len(v.Nonce) != gcm.NonceSize() {
		return nil, errors.New("malformed nonce")
	}
	plaintext, err := gcm.Open(nil, v.Nonce, v.Ciphertext, v.header())
	if err != nil {
		return nil, fmt.Errorf("wrong passphrase or corrupted credentials file: %w", err)
	}

	var accounts []*Account
	if err := json.Unmarshal(plaintext, &accounts); err != nil {
		return nil, fmt.Errorf("failed to decode accounts: %w", err)
	}
	return accounts, nil
}

// EncryptedFileStore keeps accounts in an AES-GCM sealed file, for machines
// without a usable keyring
type EncryptedFileStore struct {
	path       string
	passphrase string
	mu         sync.Mutex
}

// NewEncryptedFileStore opens the store at path. The passphrase comes from
// BSKY_ARCHIVER_PASSPHRASE or a generated .passphrase file next to it.
func NewEncryptedFileStore(path string) (*EncryptedFileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	passphrase, err := loadPassphrase(filepath.Join(filepath.Dir(path), passphraseFile))
	if err != nil {
		return nil, fmt.Errorf("failed to get passphrase: %w", err)
	}
	return &EncryptedFileStore{path: path, passphrase: passphrase}, nil
}

func loadPassphrase(file string) (string, error) {
	if pass := os.Getenv(envPassphrase); pass != "" {
		return pass, nil
	}
	if content, err := os.ReadFile(file); err == nil && len(content) > 0 {
		return string(content), nil
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	passphrase := base64.RawURLEncoding.EncodeToString(raw)
	if err := renameio.WriteFile(file, []byte(passphrase), 0600); err != nil {
		return "", fmt.Errorf("failed to save passphrase: %w", err)
	}
	return passphrase, nil
}

// load returns the stored accounts; a missing file is an empty store
func (e *EncryptedFileStore) load() ([]*Account, error) {
	content, err := os.ReadFile(e.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var v vault
	if err := json.Unmarshal(content, &v); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", e.path, err)
	}
	return v.open(e.passphrase)
}

// save seals accounts into the file, or removes it when none are left
func (e *EncryptedFileStore) save(accounts []*Account) error {
	if len(accounts) == 0 {
		if err := os.Remove(e.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	}

	v, err := sealAccounts(accounts, e.passphrase)
	if err != nil {
		return err
	}
	content, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return renameio.WriteFile(e.path, content, 0600)
}

// Store adds the account, replacing any entry with the same handle or DID
func (e *EncryptedFileStore) Store(account *Account) error {
	if account == nil || account.Key() == "" {
		return ErrInvalidCredentials
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	accounts, err := e.load()
	if err != nil {
		return err
	}
	kept := accounts[:0]
	for _, existing := range accounts {
		if !existing.Matches(account.Handle) && !existing.Matches(account.DID) {
			kept = append(kept, existing)
		}
	}
	stored := *account
	return e.save(append(kept, &stored))
}

// Retrieve looks an account up by handle or DID
func (e *EncryptedFileStore) Retrieve(actor string) (*Account, error) {
	if actor == "" {
		return nil, ErrInvalidCredentials
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	accounts, err := e.load()
	if err != nil {
		return nil, err
	}
	if account := findAccount(accounts, actor); account != nil {
		return account, nil
	}
	return nil, ErrCredentialsNotFound
}

// List returns every account in the file
func (e *EncryptedFileStore) List() ([]*Account, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	accounts, err := e.load()
	if accounts == nil && err == nil {
		accounts = []*Account{}
	}
	return accounts, err
}

// Delete removes the account named by actor
func (e *EncryptedFileStore) Delete(actor string) error {
	if actor == "" {
		return ErrInvalidCredentials
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	accounts, err := e.load()
	if err != nil {
		return err
	}
	kept := accounts[:0]
	for _, account := range accounts {
		if !account.Matches(actor) {
			kept = append(kept, account)
		}
	}
	if len(kept) == len(accounts) {
		return ErrCredentialsNotFound
	}
	return e.save(kept)
}

// Exists reports whether actor has stored credentials
func (e *EncryptedFileStore) Exists(actor string) bool {
	_, err := e.Retrieve(actor)
	return err == nil
}

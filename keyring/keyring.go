// Package keyring provides secure credential storage.
// It uses the system keyring when available, falling back to
// encrypted local file storage when not. Callers outside this package
// only ever see opaque credential references.
package keyring

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/hkdf"

	"github.com/yllada/vpn-ondemand/common"
)

// DefaultService is the identifier used in the system keyring.
const DefaultService = "vpn-ondemand"

// Common errors returned by keyring operations.
var (
	ErrNotFound     = common.ErrCredentialsNotFound
	ErrEmptyProfile = errors.New("profile ID cannot be empty")
	ErrEmptySecret  = errors.New("password cannot be empty")
)

// Keyring stores profile passwords. It is safe for concurrent use.
type Keyring struct {
	service string

	mu        sync.RWMutex
	useLocal  bool
	local     map[string]string
	localFile string
	key       []byte
}

// New returns a keyring for service that keeps its fallback file in dir.
// The system keyring is checked once; when it is unusable every operation
// goes to the encrypted file instead.
func New(service, dir string) *Keyring {
	k := &Keyring{
		service:   service,
		localFile: filepath.Join(dir, common.CredentialsFileName),
	}

	check := service + "-check"
	if err := keyring.Set(service, check, "check"); err == nil {
		keyring.Delete(service, check)
		return k
	}

	common.LogWarn("System keyring unavailable, using encrypted file %s", k.localFile)
	k.enableLocal()
	return k
}

// NewLocal returns a keyring that only uses the encrypted file in dir.
func NewLocal(service, dir string) *Keyring {
	k := &Keyring{
		service:   service,
		localFile: filepath.Join(dir, common.CredentialsFileName),
	}
	k.enableLocal()
	return k
}

func (k *Keyring) enableLocal() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.useLocal {
		return
	}
	k.useLocal = true
	k.key = deriveKey(k.service)
	k.local = make(map[string]string)
	k.loadLocal()
}

// deriveKey binds the fallback file to this machine and user.
func deriveKey(service string) []byte {
	hostname, _ := os.Hostname()
	secret := fmt.Sprintf("%s-%s-%d", hostname, machineID(), os.Getuid())

	key := make([]byte, 32)
	r := hkdf.New(sha256.New, []byte(secret), []byte(service), []byte("credential-store"))
	if _, err := io.ReadFull(r, key); err != nil {
		sum := sha256.Sum256([]byte(secret))
		return sum[:]
	}
	return key
}

func machineID() string {
	data, err := os.ReadFile("/etc/machine-id")
	if err == nil {
		return strings.TrimSpace(string(data))
	}
	return "default-machine-id"
}

// loadLocal reads the fallback file. Caller holds mu.
func (k *Keyring) loadLocal() {
	data, err := os.ReadFile(k.localFile)
	if err != nil {
		return
	}
	plaintext, err := k.decrypt(data)
	if err != nil {
		common.LogWarn("Ignoring unreadable credentials file: %v", err)
		return
	}
	if err := json.Unmarshal(plaintext, &k.local); err != nil {
		common.LogWarn("Ignoring malformed credentials file: %v", err)
	}
}

// saveLocal persists the fallback store. Caller holds mu.
func (k *Keyring) saveLocal() error {
	data, err := json.Marshal(k.local)
	if err != nil {
		return err
	}
	encrypted, err := k.encrypt(data)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrEncryption, err)
	}
	if err := os.MkdirAll(filepath.Dir(k.localFile), 0700); err != nil {
		return err
	}
	return common.WriteFileAtomic(k.localFile, encrypted, 0600)
}

func (k *Keyring) encrypt(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(k.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return []byte(base64.StdEncoding.EncodeToString(ciphertext)), nil
}

func (k *Keyring) decrypt(data []byte) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(k.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("%w: ciphertext too short", common.ErrDecryption)
	}

	nonce, ciphertext := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

// Store saves a password for a VPN profile.
func (k *Keyring) Store(profileID, password string) error {
	if profileID == "" {
		return ErrEmptyProfile
	}
	if password == "" {
		return ErrEmptySecret
	}

	if !k.isLocal() {
		if err := keyring.Set(k.service, profileID, password); err == nil {
			return nil
		}
		common.LogWarn("System keyring write failed, falling back to encrypted file")
		k.enableLocal()
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.local[profileID] = password
	if err := k.saveLocal(); err != nil {
		return fmt.Errorf("%w: %v", common.ErrCredentialStorage, err)
	}
	return nil
}

// Get retrieves a password for a VPN profile.
func (k *Keyring) Get(profileID string) (string, error) {
	if profileID == "" {
		return "", ErrEmptyProfile
	}

	if !k.isLocal() {
		password, err := keyring.Get(k.service, profileID)
		if err == nil {
			return password, nil
		}
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("keyring lookup: %w", err)
	}

	k.mu.RLock()
	defer k.mu.RUnlock()
	password, ok := k.local[profileID]
	if !ok {
		return "", ErrNotFound
	}
	return password, nil
}

// Delete removes a password for a VPN profile. Deleting a missing
// password is not an error.
func (k *Keyring) Delete(profileID string) error {
	if profileID == "" {
		return ErrEmptyProfile
	}

	if !k.isLocal() {
		if err := keyring.Delete(k.service, profileID); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("keyring delete: %w", err)
		}
		return nil
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.local[profileID]; !ok {
		return nil
	}
	delete(k.local, profileID)
	return k.saveLocal()
}

// Exists checks if a credential exists for a VPN profile.
func (k *Keyring) Exists(profileID string) bool {
	_, err := k.Get(profileID)
	return err == nil
}

// Reference returns the opaque handle for a stored password.
// It fails with ErrNotFound when nothing is stored for profileID and
// returns backend errors as they are.
func (k *Keyring) Reference(profileID string) (common.CredentialReference, error) {
	if _, err := k.Get(profileID); err != nil {
		return "", err
	}
	scheme := "keyring"
	if k.isLocal() {
		scheme = "file"
	}
	return common.CredentialReference(fmt.Sprintf("%s://%s/%s", scheme, k.service, profileID)), nil
}

func (k *Keyring) isLocal() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.useLocal
}

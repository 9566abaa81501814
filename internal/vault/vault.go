// Package vault stores encrypted credentials and resolves them to plaintext
// only at the host boundary inside a sandboxed tool's http.request host
// call. No exported Vault method other than the HostResolver closure
// returned at construction ever yields a credential's plaintext value.
package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/hkdf"

	"github.com/l3ocifer/ironclaw/internal/ironerr"
)

// Kind categorizes how a credential is presented to an outbound request.
type Kind string

const (
	KindAPIKey       Kind = "apikey"
	KindBearer       Kind = "bearer"
	KindBasic        Kind = "basic"
	KindCustomHeader Kind = "custom-header"
)

// Credential is the durable, encrypted record for one secret. The record
// keeps only the sealed value; it is decrypted by a HostResolver call and by
// LeakScanner, whose automaton holds the plaintext of every credential.
type Credential struct {
	ID       string
	Kind     Kind
	Scope    []string // tool names permitted to reference this credential
	StoredAt time.Time

	nonce      []byte
	ciphertext []byte
}

// Vault holds encrypted credentials keyed by name, guarded by a master key
// fetched once from the OS keychain at startup.
type Vault struct {
	mu          sync.RWMutex
	masterKey   [32]byte
	credentials map[string]*Credential
	onMutate    []func()
}

const keyDerivationInfo = "ironclaw/vault/master-key/v1"

// Open fetches (or provisions) the master key from the OS keychain entry
// service/user pair and returns a ready Vault. The raw keychain secret is
// never used directly as an AES key; it is passed through HKDF-SHA256 so a
// short or low-entropy keychain secret still yields a full-strength key.
// The keychain lookup is retried: a freshly-started secret-service or
// keyring daemon can reject the first request or two before it's ready.
func Open(ctx context.Context, service, user string) (*Vault, error) {
	secret, err := ironerr.Retry(ctx, ironerr.DefaultRetryConfig(), func(context.Context) (string, error) {
		s, err := keyring.Get(service, user)
		if err == keyring.ErrNotFound {
			s, err = provisionMasterSecret(service, user)
		}
		if err != nil {
			return "", ironerr.Wrap(ironerr.KindIO, "vault.Open", err)
		}
		return s, nil
	})
	if err != nil {
		return nil, err
	}

	v := &Vault{credentials: make(map[string]*Credential)}
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte(keyDerivationInfo))
	if _, err := io.ReadFull(kdf, v.masterKey[:]); err != nil {
		return nil, ironerr.Wrap(ironerr.KindIO, "vault.Open", err)
	}
	return v, nil
}

func provisionMasterSecret(service, user string) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	secret := fmt.Sprintf("%x", buf)
	if err := keyring.Set(service, user, secret); err != nil {
		return "", err
	}
	return secret, nil
}

// OpenWithKey constructs a Vault directly from a 32-byte master key,
// bypassing the keychain. Used by tests and by deployments that manage
// their own key material.
func OpenWithKey(masterKey [32]byte) *Vault {
	return &Vault{masterKey: masterKey, credentials: make(map[string]*Credential)}
}

// Store encrypts plaintext under the vault's master key and registers it as
// name, scoped to the given tool names. Any previous credential of the same
// name is replaced.
func (v *Vault) Store(name string, kind Kind, plaintext string, scope []string) error {
	block, err := aes.NewCipher(v.masterKey[:])
	if err != nil {
		return ironerr.Wrap(ironerr.KindIO, "vault.Store", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return ironerr.Wrap(ironerr.KindIO, "vault.Store", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return ironerr.Wrap(ironerr.KindIO, "vault.Store", err)
	}
	ciphertext := gcm.Seal(nil, nonce, []byte(plaintext), []byte(name))

	v.mu.Lock()
	v.credentials[name] = &Credential{
		ID:         name,
		Kind:       kind,
		Scope:      append([]string(nil), scope...),
		StoredAt:   time.Now(),
		nonce:      nonce,
		ciphertext: ciphertext,
	}
	hooks := append([]func(){}, v.onMutate...)
	v.mu.Unlock()

	for _, hook := range hooks {
		hook()
	}
	return nil
}

// StaleCredentials returns the names of credentials stored longer ago than
// maxAge, oldest first — rotation candidates the heartbeat surfaces. Names
// only; values stay sealed.
func (v *Vault) StaleCredentials(maxAge time.Duration) []string {
	cutoff := time.Now().Add(-maxAge)
	v.mu.RLock()
	defer v.mu.RUnlock()
	var stale []string
	for name, cred := range v.credentials {
		if !cred.StoredAt.IsZero() && cred.StoredAt.Before(cutoff) {
			stale = append(stale, name)
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		a, b := v.credentials[stale[i]], v.credentials[stale[j]]
		if a.StoredAt.Equal(b.StoredAt) {
			return stale[i] < stale[j]
		}
		return a.StoredAt.Before(b.StoredAt)
	})
	return stale
}

// Remove deletes a credential by name.
func (v *Vault) Remove(name string) {
	v.mu.Lock()
	delete(v.credentials, name)
	hooks := append([]func(){}, v.onMutate...)
	v.mu.Unlock()
	for _, hook := range hooks {
		hook()
	}
}

// Describe returns the non-secret metadata for every stored credential, for
// audit listings. Plaintext is never included.
func (v *Vault) Describe() []Credential {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]Credential, 0, len(v.credentials))
	for _, c := range v.credentials {
		out = append(out, Credential{ID: c.ID, Kind: c.Kind, Scope: c.Scope})
	}
	return out
}

// OnMutate registers a callback invoked after every Store/Remove, so the
// leak scanner can rebuild its pattern corpus when the credential set
// changes rather than on every scan.
func (v *Vault) OnMutate(fn func()) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.onMutate = append(v.onMutate, fn)
}

func (v *Vault) decrypt(name string) (string, bool, error) {
	v.mu.RLock()
	cred, ok := v.credentials[name]
	v.mu.RUnlock()
	if !ok {
		return "", false, nil
	}

	block, err := aes.NewCipher(v.masterKey[:])
	if err != nil {
		return "", true, ironerr.Wrap(ironerr.KindIO, "vault.decrypt", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", true, ironerr.Wrap(ironerr.KindIO, "vault.decrypt", err)
	}
	plaintext, err := gcm.Open(nil, cred.nonce, cred.ciphertext, []byte(name))
	if err != nil {
		return "", true, ironerr.Wrap(ironerr.KindIO, "vault.decrypt", err)
	}
	return string(plaintext), true, nil
}

func (v *Vault) allowed(name, toolID string) bool {
	v.mu.RLock()
	cred, ok := v.credentials[name]
	v.mu.RUnlock()
	if !ok {
		return false
	}
	if len(cred.Scope) == 0 {
		return false
	}
	for _, s := range cred.Scope {
		if s == toolID || s == "*" {
			return true
		}
	}
	return false
}

// HostResolver materializes a credential's plaintext for a single sandbox
// host call. It is the only function in this package that can return
// plaintext, and it is handed out once, at sandbox runtime construction, so
// the sandboxed guest code itself never holds a reference to it.
type HostResolver func(ctx context.Context, toolID, name string) (string, error)

// NewHostResolver returns the HostResolver closure. Call this exactly once,
// at internal/sandbox runtime construction time; nothing else in the
// process should hold this closure.
func (v *Vault) NewHostResolver() HostResolver {
	return func(ctx context.Context, toolID, name string) (string, error) {
		if !v.allowed(name, toolID) {
			return "", ironerr.New(ironerr.KindPolicyDenied, "vault.ResolveForHost",
				fmt.Sprintf("tool %q is not in scope for credential %q", toolID, name))
		}
		plaintext, ok, err := v.decrypt(name)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", ironerr.New(ironerr.KindNotFound, "vault.ResolveForHost", "no such credential: "+name)
		}
		return plaintext, nil
	}
}

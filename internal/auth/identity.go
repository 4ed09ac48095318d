package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"aura-gateway/internal/hashing"
)

// Role is the authority a caller holds at the gateway boundary.
type Role string

const (
	RoleAgent           Role = "AGENT"
	RoleInternal        Role = "INTERNAL"
	RoleUser            Role = "USER"
	RoleUnauthenticated Role = "UNAUTHENTICATED"
)

var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("insufficient role")
	ErrBadCredentials  = errors.New("invalid credentials")
	// ErrVerifierBusy means no verification slot freed up in time.
	ErrVerifierBusy    = errors.New("credential verification busy")
)

const (
	defaultMaxConcurrentVerifies = 4
	defaultVerifyWait            = 250 * time.Millisecond
)

// Credentials are presented once per request; there is no session state.
type Credentials struct {
	Username string
	Password string
}

// Principal is the authenticated caller.
type Principal struct {
	Subject string
	Role    Role
}

// Anonymous is the principal of any request without valid credentials.
var Anonymous = Principal{Role: RoleUnauthenticated}

// IdentityProvider verifies credentials and reports the bound role.
// Implementations must return an error (never a partial principal) on failure.
type IdentityProvider interface {
	Authenticate(ctx context.Context, creds Credentials) (Principal, error)
}

// Binding ties one username to one role. Secret is either clear text or an
// argon2id PHC string.
type Binding struct {
	Username string
	Secret   string
	Role     Role
}

// StaticIdentityProvider checks credentials against a fixed, small set of
// bindings loaded at startup.
type StaticIdentityProvider struct {
	hasher *hashing.Hasher
	users  map[string]staticUser
	verify func(secret, encoded string) (bool, error)

	slots      *semaphore.Weighted
	verifyWait time.Duration

	// verified holds the digest of the last credential that passed for each
	// bound username, so it never grows past len(users).
	cacheMu  sync.RWMutex
	verified map[string][sha256.Size]byte

	dummyMu  sync.Once
	dummyPHC string
}

type ProviderOption func(*StaticIdentityProvider)

// WithVerifyLimit caps concurrent argon2 checks at n. A request waits at most
// wait for a slot; zero means it does not wait at all.
func WithVerifyLimit(n int, wait time.Duration) ProviderOption {
	return func(p *StaticIdentityProvider) {
		if n < 1 {
			n = 1
		}
		if wait < 0 {
			wait = 0
		}
		p.slots = semaphore.NewWeighted(int64(n))
		p.verifyWait = wait
	}
}

type staticUser struct {
	hash string
	role Role
}

func NewStaticIdentityProvider(hasher *hashing.Hasher, bindings []Binding, opts ...ProviderOption) (*StaticIdentityProvider, error) {
	p := &StaticIdentityProvider{
		hasher:     hasher,
		users:      make(map[string]staticUser, len(bindings)),
		verify:     hasher.Verify,
		slots:      semaphore.NewWeighted(defaultMaxConcurrentVerifies),
		verifyWait: defaultVerifyWait,
		verified:   make(map[string][sha256.Size]byte, len(bindings)),
	}
	for _, opt := range opts {
		opt(p)
	}
	for _, b := range bindings {
		if b.Username == "" || b.Secret == "" {
			continue
		}
		switch b.Role {
		case RoleAgent, RoleInternal, RoleUser:
		default:
			return nil, fmt.Errorf("binding %q: role %q cannot be granted", b.Username, b.Role)
		}
		if _, dup := p.users[b.Username]; dup {
			return nil, fmt.Errorf("binding %q declared twice", b.Username)
		}

		hash := b.Secret
		if !hashing.IsEncoded(hash) {
			var err error
			if hash, err = hasher.Hash(b.Secret); err != nil {
				return nil, fmt.Errorf("hash secret for %q: %w", b.Username, err)
			}
		}
		p.users[b.Username] = staticUser{hash: hash, role: b.Role}
	}
	return p, nil
}

// Len returns the number of active bindings.
func (p *StaticIdentityProvider) Len() int {
	return len(p.users)
}

// Authenticate answers repeat credentials from the verified cache. Anything
// else costs one argon2 check, and those run in a bounded number of slots.
func (p *StaticIdentityProvider) Authenticate(ctx context.Context, creds Credentials) (Principal, error) {
	digest := credentialDigest(creds)
	user, known := p.users[creds.Username]
	if known && p.isVerified(creds.Username, digest) {
		return Principal{Subject: creds.Username, Role: user.role}, nil
	}

	if err := p.acquire(ctx); err != nil {
		return Anonymous, err
	}
	defer p.slots.Release(1)

	if !known {
		// keep timing similar for unknown usernames
		_, _ = p.verify(creds.Password, p.dummyHash())
		return Anonymous, ErrBadCredentials
	}

	ok, err := p.verify(creds.Password, user.hash)
	if err != nil {
		return Anonymous, fmt.Errorf("verify %q: %w", creds.Username, err)
	}
	if !ok {
		return Anonymous, ErrBadCredentials
	}

	p.cacheMu.Lock()
	p.verified[creds.Username] = digest
	p.cacheMu.Unlock()
	return Principal{Subject: creds.Username, Role: user.role}, nil
}

func (p *StaticIdentityProvider) acquire(ctx context.Context) error {
	if p.verifyWait == 0 {
		if !p.slots.TryAcquire(1) {
			return ErrVerifierBusy
		}
		return nil
	}
	waitCtx, cancel := context.WithTimeout(ctx, p.verifyWait)
	defer cancel()
	if err := p.slots.Acquire(waitCtx, 1); err != nil {
		return ErrVerifierBusy
	}
	return nil
}

func (p *StaticIdentityProvider) isVerified(username string, digest [sha256.Size]byte) bool {
	p.cacheMu.RLock()
	cached, ok := p.verified[username]
	p.cacheMu.RUnlock()
	return ok && subtle.ConstantTimeCompare(cached[:], digest[:]) == 1
}

func credentialDigest(creds Credentials) [sha256.Size]byte {
	return sha256.Sum256([]byte(creds.Username + ":" + creds.Password))
}

func (p *StaticIdentityProvider) dummyHash() string {
	p.dummyMu.Do(func() {
		p.dummyPHC, _ = p.hasher.Hash("aura-gateway-dummy-secret")
	})
	return p.dummyPHC
}

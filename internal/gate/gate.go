// Package gate tracks whether this device completed the messaging handshake
// required to read message content.
package gate

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/lensdm/internal/bus"
	"go.uber.org/zap"
)

// State is an authentication gate state.
type State string

const (
	Unauthenticated State = "UNAUTHENTICATED"
	Authenticating  State = "AUTHENTICATING"
	Authenticated   State = "AUTHENTICATED"
	Failed          State = "FAILED"
)

var (
	// ErrAuthenticationFailed means the handshake was rejected or timed out.
	// Retry re-enters the handshake.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrInProgress is returned when a handshake is already running.
	ErrInProgress = errors.New("authentication in progress")
	// ErrInvalidTransition is returned for transitions outside the table.
	ErrInvalidTransition = errors.New("invalid gate transition")
)

// validTransitions defines allowed state transitions. UNAUTHENTICATED may
// jump straight to AUTHENTICATED when a stored credential is resumed.
var validTransitions = map[State][]State{
	Unauthenticated: {Authenticating, Authenticated},
	Authenticating:  {Authenticated, Failed, Unauthenticated},
	Authenticated:   {Unauthenticated},
	Failed:          {Authenticating, Unauthenticated},
}

// Authenticator performs the signature handshake with the messaging network.
type Authenticator interface {
	// Authenticate asks the wallet for a signature and returns the
	// messaging credential it unlocks.
	Authenticate(ctx context.Context, accountID string) (credential string, err error)
	// UseCredential installs a credential for subsequent network calls.
	UseCredential(credential string)
}

// CredentialStore persists messaging credentials. *store.DB implements it.
type CredentialStore interface {
	Get(key string) (string, bool, error)
	Put(key, value string) error
	Delete(key string) error
}

// StateChange is the payload for gate.state_changed events.
type StateChange struct {
	From State
	To   State
}

// Gate is the authentication state machine.
type Gate struct {
	auth    Authenticator
	creds   CredentialStore
	bus     *bus.Bus
	timeout time.Duration
	logger  *zap.Logger

	mu        sync.RWMutex
	current   State
	accountID string
	gen       uint64
	lastErr   error
}

// New creates a gate in the UNAUTHENTICATED state. creds may be nil, in
// which case every session needs a fresh handshake.
func New(auth Authenticator, creds CredentialStore, b *bus.Bus, timeout time.Duration, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		auth:    auth,
		creds:   creds,
		bus:     b,
		timeout: timeout,
		logger:  logger,
		current: Unauthenticated,
	}
}

// Current returns the current state.
func (g *Gate) Current() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.current
}

// AwaitingSignature reports whether a handshake is waiting on the wallet.
func (g *Gate) AwaitingSignature() bool {
	return g.Current() == Authenticating
}

// LastError returns the error of the most recent failed handshake.
func (g *Gate) LastError() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.lastErr
}

// Transition attempts to move to a new state.
func (g *Gate) Transition(to State) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.transitionLocked(to)
}

func (g *Gate) transitionLocked(to State) error {
	allowed := validTransitions[g.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("%w: from %s to %s", ErrInvalidTransition, g.current, to)
	}
	from := g.current
	g.current = to
	g.bus.Emit(bus.KindGateStateChanged, StateChange{From: from, To: to})
	return nil
}

// Request is called when the preview list is requested. It resumes a stored
// credential when one exists and otherwise runs the handshake.
func (g *Gate) Request(ctx context.Context) error {
	switch g.Current() {
	case Authenticated:
		return nil
	case Authenticating:
		return ErrInProgress
	case Failed:
		return g.LastError()
	}

	cred, ok, err := g.storedCredential()
	if err != nil {
		g.logger.Warn("failed to read stored credential", zap.Error(err))
	}
	if ok {
		g.mu.Lock()
		if g.current == Unauthenticated {
			g.auth.UseCredential(cred)
			err = g.transitionLocked(Authenticated)
		}
		g.mu.Unlock()
		if err == nil {
			g.logger.Info("resumed stored messaging credential")
		}
		return err
	}
	return g.handshake(ctx, Unauthenticated)
}

// Retry re-runs the handshake after a failure.
func (g *Gate) Retry(ctx context.Context) error {
	return g.handshake(ctx, Failed)
}

func (g *Gate) handshake(ctx context.Context, from State) error {
	g.mu.Lock()
	if g.current != from {
		cur := g.current
		g.mu.Unlock()
		if cur == Authenticating {
			return ErrInProgress
		}
		return fmt.Errorf("%w: handshake from %s", ErrInvalidTransition, cur)
	}
	if err := g.transitionLocked(Authenticating); err != nil {
		g.mu.Unlock()
		return err
	}
	gen := g.gen
	accountID := g.accountID
	g.mu.Unlock()

	g.logger.Info("awaiting signature to enable messages")
	hctx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	cred, authErr := g.auth.Authenticate(hctx, accountID)

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.gen != gen {
		// Reset while the wallet was prompting; drop the result.
		return fmt.Errorf("%w: gate reset during handshake", ErrAuthenticationFailed)
	}
	if authErr != nil {
		g.lastErr = fmt.Errorf("%w: %v", ErrAuthenticationFailed, authErr)
		g.logger.Warn("handshake failed", zap.Error(authErr))
		if err := g.transitionLocked(Failed); err != nil {
			return err
		}
		return g.lastErr
	}
	if g.creds != nil {
		if err := g.creds.Put(g.credentialKey(), cred); err != nil {
			g.logger.Warn("failed to store credential", zap.Error(err))
		}
	}
	g.auth.UseCredential(cred)
	g.lastErr = nil
	return g.transitionLocked(Authenticated)
}

// Reset returns the gate to UNAUTHENTICATED, abandoning any handshake in
// flight. forget also drops the stored credential (logout).
func (g *Gate) Reset(forget bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gen++
	g.lastErr = nil
	if forget {
		g.auth.UseCredential("")
		if g.creds != nil {
			if err := g.creds.Delete(g.credentialKey()); err != nil {
				return fmt.Errorf("forget credential: %w", err)
			}
		}
	}
	if g.current == Unauthenticated {
		return nil
	}
	return g.transitionLocked(Unauthenticated)
}

// SwitchAccount resets the gate and scopes stored credentials to accountID.
func (g *Gate) SwitchAccount(accountID string) error {
	if err := g.Reset(false); err != nil {
		return err
	}
	g.mu.Lock()
	g.accountID = accountID
	g.mu.Unlock()
	return nil
}

// HasCredential reports whether a credential is stored for the current
// account, so Request would resume without a signature prompt.
func (g *Gate) HasCredential() bool {
	_, ok, err := g.storedCredential()
	return err == nil && ok
}

func (g *Gate) storedCredential() (string, bool, error) {
	if g.creds == nil {
		return "", false, nil
	}
	g.mu.RLock()
	key := g.credentialKey()
	g.mu.RUnlock()
	return g.creds.Get(key)
}

func (g *Gate) credentialKey() string {
	return "messaging_credential:" + g.accountID
}

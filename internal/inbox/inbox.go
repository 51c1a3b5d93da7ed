// Package inbox owns one session's preview engine: the gate, the ingestion
// pipeline, the preview map, the profile store, the badge ledger and the
// name cache. It is the boundary the API layer talks to.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/lensdm/internal/badge"
	"github.com/matheus3301/lensdm/internal/bus"
	"github.com/matheus3301/lensdm/internal/convkey"
	"github.com/matheus3301/lensdm/internal/ens"
	"github.com/matheus3301/lensdm/internal/gate"
	"github.com/matheus3301/lensdm/internal/preview"
	"github.com/matheus3301/lensdm/internal/profiles"
	"github.com/matheus3301/lensdm/internal/store"
	intsync "github.com/matheus3301/lensdm/internal/sync"
	"go.uber.org/zap"
)

var (
	// ErrNoAccount is returned when no account profile is configured.
	ErrNoAccount = errors.New("no account configured")
	// ErrInvalidProfile is returned by StartConversation for a profile
	// without an id or owner.
	ErrInvalidProfile = errors.New("invalid profile")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("inbox closed")
)

// ErrorKind is the boundary form of a surfaced failure.
type ErrorKind string

const (
	ErrorNone                 ErrorKind = ""
	ErrorAuthenticationFailed ErrorKind = "AUTHENTICATION_FAILED"
	ErrorProfilesUnavailable  ErrorKind = "PROFILES_UNAVAILABLE"
)

// Account identifies the signed-in profile.
type Account struct {
	ProfileID string
	Address   string
}

// Directory is the social-graph profile service.
type Directory interface {
	FetchProfile(ctx context.Context, id string) (profiles.Profile, error)
	FetchFollowStatus(ctx context.Context, followerID string, ids []string) (map[string]bool, error)
}

// Row is one entry of the ordered preview list.
type Row struct {
	Key         string
	Profile     profiles.Profile
	Preview     preview.Preview
	HasPreview  bool
	DisplayName string
}

// Status is the loading and error state shown alongside the list.
type Status struct {
	AwaitingSignature bool
	Loading           bool
	// Progress is nil while the number of batches is unknown.
	Progress      *int
	ProfilesError ErrorKind
	Gate          gate.State
	Tab           preview.Tab
	Account       Account
}

// NameResolved is the payload of ens.resolved events.
type NameResolved struct {
	Address string
	Name    string
	Found   bool
}

// Options tune the inbox.
type Options struct {
	// PersistTab keeps the selected tab across restarts.
	PersistTab bool
	// LookupTimeout bounds background name resolution.
	LookupTimeout time.Duration
}

const tabKey = "selected_tab"

// Inbox is the session context object. Create it with New, then Open.
type Inbox struct {
	db       *store.DB
	gate     *gate.Gate
	pipeline *intsync.Pipeline
	previews *preview.Map
	badges   *badge.Tracker
	names    *ens.Cache
	dir      Directory
	bus      *bus.Bus
	opts     Options
	logger   *zap.Logger

	mu          sync.RWMutex
	account     Account
	profiles    *profiles.Store
	tab         preview.Tab
	profilesErr ErrorKind
	resolving   map[string]bool
	bg          *scope
	closed      bool
	unsubGate   func()

	// wg tracks the gate watcher.
	wg sync.WaitGroup
}

// scope groups background tasks that are cancelled together.
type scope struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newScope() *scope {
	ctx, cancel := context.WithCancel(context.Background())
	return &scope{ctx: ctx, cancel: cancel}
}

func (s *scope) stop() {
	s.cancel()
	s.wg.Wait()
}

// Deps are the collaborators an Inbox composes.
type Deps struct {
	DB        *store.DB
	Gate      *gate.Gate
	Pipeline  *intsync.Pipeline
	Previews  *preview.Map
	Badges    *badge.Tracker
	Names     *ens.Cache
	Directory Directory
	Bus       *bus.Bus
	Logger    *zap.Logger
}

// New creates an inbox for account.
func New(d Deps, account Account, opts Options) *Inbox {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if opts.LookupTimeout <= 0 {
		opts.LookupTimeout = 10 * time.Second
	}
	i := &Inbox{
		db:        d.DB,
		gate:      d.Gate,
		pipeline:  d.Pipeline,
		previews:  d.Previews,
		badges:    d.Badges,
		names:     d.Names,
		dir:       d.Directory,
		bus:       d.Bus,
		opts:      opts,
		logger:    d.Logger,
		account:   account,
		tab:       preview.Inbox,
		resolving: make(map[string]bool),
	}
	i.bg = newScope()
	d.Pipeline.OnBatch(i.handleBatch)
	return i
}

// Open loads the account's profile partition and badge ledger and starts
// following the gate.
func (i *Inbox) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	account := i.Account()
	ps, err := profiles.Open(i.db, account.ProfileID)
	if err != nil {
		return err
	}
	if err := i.badges.Load(); err != nil {
		return err
	}
	if err := i.gate.SwitchAccount(account.ProfileID); err != nil {
		return err
	}

	tab := preview.Inbox
	if i.opts.PersistTab {
		if v, ok, err := i.db.Get(tabKey); err != nil {
			i.logger.Warn("failed to load selected tab", zap.Error(err))
		} else if ok {
			if t, err := preview.ParseTab(v); err == nil {
				tab = t
			}
		}
	}

	ch, unsub := i.bus.Subscribe("gate.", 16)
	i.mu.Lock()
	i.profiles = ps
	i.tab = tab
	i.unsubGate = unsub
	i.mu.Unlock()

	i.wg.Add(1)
	go i.watchGate(ch)

	i.logger.Info("inbox opened",
		zap.String("account", account.ProfileID),
		zap.Int("profiles", ps.Len()))
	return nil
}

// Close stops ingestion and every background task.
func (i *Inbox) Close() {
	i.pipeline.Stop()
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return
	}
	i.closed = true
	bg := i.bg
	unsub := i.unsubGate
	i.mu.Unlock()

	bg.stop()
	if unsub != nil {
		unsub()
	}
	i.wg.Wait()
}

// watchGate stops ingestion whenever the gate leaves AUTHENTICATED.
func (i *Inbox) watchGate(ch <-chan bus.Event) {
	defer i.wg.Done()
	for evt := range ch {
		sc, ok := evt.Payload.(gate.StateChange)
		if !ok {
			continue
		}
		// The gate may have reopened since the event was published.
		if sc.From == gate.Authenticated && i.gate.Current() != gate.Authenticated {
			i.logger.Info("gate closed, stopping ingestion", zap.String("state", string(sc.To)))
			i.pipeline.Stop()
		}
	}
}

// Account returns the signed-in account.
func (i *Inbox) Account() Account {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.account
}

func (i *Inbox) store() *profiles.Store {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.profiles
}

// Subscribe relays bus events under namespace.
func (i *Inbox) Subscribe(namespace string, bufSize int) (<-chan bus.Event, func()) {
	return i.bus.Subscribe(namespace, bufSize)
}

// Authenticate opens the gate, running the handshake if needed, and starts
// ingestion.
func (i *Inbox) Authenticate(ctx context.Context) error {
	return i.authenticate(ctx, i.gate.Request)
}

// Retry re-runs a failed handshake and starts ingestion.
func (i *Inbox) Retry(ctx context.Context) error {
	return i.authenticate(ctx, i.gate.Retry)
}

func (i *Inbox) authenticate(ctx context.Context, open func(context.Context) error) error {
	account := i.Account()
	if account.ProfileID == "" {
		return ErrNoAccount
	}
	if err := open(ctx); err != nil {
		return err
	}
	return i.startIngestion(account)
}

func (i *Inbox) startIngestion(account Account) error {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return ErrClosed
	}
	ctx := i.bg.ctx
	i.profilesErr = ErrorNone
	i.mu.Unlock()
	return i.pipeline.Start(ctx, account.ProfileID)
}

// SwitchAccount tears down the current account's session state and opens
// the partition of account. The new account starts UNAUTHENTICATED.
func (i *Inbox) SwitchAccount(ctx context.Context, account Account) error {
	i.pipeline.Stop()
	if err := i.restartBackground(); err != nil {
		return err
	}
	i.previews.Reset()

	ps, err := profiles.Open(i.db, account.ProfileID)
	if err != nil {
		return err
	}
	if err := i.db.ClearBadges(); err != nil {
		return fmt.Errorf("clear badges: %w", err)
	}
	i.badges.Reset()
	if err := i.gate.SwitchAccount(account.ProfileID); err != nil {
		return err
	}

	i.mu.Lock()
	i.account = account
	i.profiles = ps
	i.profilesErr = ErrorNone
	i.mu.Unlock()
	i.logger.Info("switched account", zap.String("account", account.ProfileID))
	return ctx.Err()
}

// Logout forgets everything stored for this device: snapshots, badges,
// the selected tab, the messaging credential and cached names.
func (i *Inbox) Logout(ctx context.Context) error {
	i.pipeline.Stop()
	if err := i.restartBackground(); err != nil {
		return err
	}
	if err := i.gate.Reset(true); err != nil {
		return err
	}
	if err := i.db.Reset(); err != nil {
		return err
	}
	i.previews.Reset()
	i.badges.Reset()
	i.names.Reset()

	account := i.Account()
	ps, err := profiles.Open(i.db, account.ProfileID)
	if err != nil {
		return err
	}
	i.mu.Lock()
	i.profiles = ps
	i.tab = preview.Inbox
	i.profilesErr = ErrorNone
	i.mu.Unlock()
	i.logger.Info("logged out", zap.String("account", account.ProfileID))
	return ctx.Err()
}

// restartBackground cancels background tasks, opens a fresh scope and
// waits for the cancelled tasks to exit.
func (i *Inbox) restartBackground() error {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return ErrClosed
	}
	old := i.bg
	i.bg = newScope()
	i.mu.Unlock()
	old.stop()
	return nil
}

// spawn runs fn in the background scope unless the inbox is closed.
func (i *Inbox) spawn(fn func(ctx context.Context)) {
	i.mu.RLock()
	if i.closed {
		i.mu.RUnlock()
		return
	}
	bg := i.bg
	bg.wg.Add(1)
	i.mu.RUnlock()

	go func() {
		defer bg.wg.Done()
		fn(bg.ctx)
	}()
}

// Status reports the loading and error state.
func (i *Inbox) Status() Status {
	ps := i.pipeline.Status()
	st := i.store()

	i.mu.RLock()
	s := Status{
		Tab:           i.tab,
		ProfilesError: i.profilesErr,
		Account:       i.account,
	}
	i.mu.RUnlock()

	s.Gate = i.gate.Current()
	s.AwaitingSignature = i.gate.AwaitingSignature()
	s.Progress = ps.Progress
	s.Loading = ps.Running && (i.previews.Len() == 0 || st == nil || st.Len() == 0)
	switch {
	case s.Gate == gate.Failed:
		s.ProfilesError = ErrorAuthenticationFailed
	case errors.Is(ps.Err, intsync.ErrProfilesUnavailable):
		s.ProfilesError = ErrorProfilesUnavailable
	}
	return s
}

// SelectTab changes the list filter.
func (i *Inbox) SelectTab(tab preview.Tab) error {
	if _, err := preview.ParseTab(string(tab)); err != nil {
		return err
	}
	i.mu.Lock()
	i.tab = tab
	i.mu.Unlock()

	if i.opts.PersistTab {
		if err := i.db.Put(tabKey, string(tab)); err != nil {
			return fmt.Errorf("persist tab: %w", err)
		}
	}
	i.bus.Emit(bus.KindTabSelected, tab)
	return nil
}

// Tab returns the selected tab.
func (i *Inbox) Tab() preview.Tab {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.tab
}

// MarkActive selects a conversation, zeroing its unread count and badge.
// An empty key clears the selection.
func (i *Inbox) MarkActive(key string) error {
	if key != "" {
		if _, err := convkey.ParseConversationKey(key); err != nil {
			return err
		}
	}
	i.previews.SetActive(key)
	i.bus.Emit(bus.KindActiveMarked, key)
	if key == "" {
		return nil
	}
	id := badge.LedgerID(key, i.Account().ProfileID)
	if err := i.badges.Clear(id); err != nil {
		return err
	}
	i.bus.Emit(bus.KindBadgeChanged, id)
	return nil
}

// Badge returns the unread count for a badge id.
func (i *Inbox) Badge(id string) int {
	return i.badges.Total(id)
}

// UnsyncProfile drops every snapshot of profileID and re-fetches them in the
// background, so the follow flag is derived from the directory again. The
// rows are absent until the fresh snapshots are persisted.
func (i *Inbox) UnsyncProfile(ctx context.Context, profileID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	keys, err := i.store().Unsync(profileID)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return keys, nil
	}
	i.bus.Emit(bus.KindProfileUnsynced, keys)
	refetch := append([]string(nil), keys...)
	i.spawn(func(ctx context.Context) {
		if err := i.syncKeys(ctx, refetch); err != nil && ctx.Err() == nil {
			i.logger.Warn("profile refetch failed", zap.String("profile", profileID), zap.Error(err))
		}
	})
	return keys, nil
}

// StartConversation opens a conversation with p: it persists the snapshot,
// picks the tab the conversation will show under and selects it.
func (i *Inbox) StartConversation(ctx context.Context, p profiles.Profile) (string, error) {
	account := i.Account()
	if account.ProfileID == "" {
		return "", ErrNoAccount
	}
	if p.ID == "" || p.OwnedBy == "" {
		return "", fmt.Errorf("%w: id and owner are required", ErrInvalidProfile)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	key, err := convkey.NewConversationKey(p.OwnedBy, convkey.BuildConversationID(account.ProfileID, p.ID))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}
	if err := i.store().Persist(key, p); err != nil {
		return "", err
	}
	i.bus.Emit(bus.KindProfilePersisted, key)

	tab := preview.Inbox
	if p.IsFollowedByMe {
		tab = preview.Following
	}
	if err := i.SelectTab(tab); err != nil {
		return "", err
	}
	if err := i.MarkActive(key); err != nil {
		return "", err
	}
	return key, nil
}

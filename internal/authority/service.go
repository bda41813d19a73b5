// Package authority orchestrates the session lifecycle: login, startup
// rehydration, background permission refresh, logout, and the published
// authentication state the rest of the gateway consumes.
package authority

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/meridian-gw/meridian-gw/internal/closeguard"
	"github.com/meridian-gw/meridian-gw/internal/identity"
	"github.com/meridian-gw/meridian-gw/internal/nav"
	"github.com/meridian-gw/meridian-gw/internal/session"
)

// ErrLoginInFlight rejects a second login while one is still pending, so a
// racing call can never double-write credentials.
var ErrLoginInFlight = errors.New("authority: login already in flight")

// IdentityProvider is the slice of the upstream identity client the service
// depends on.
type IdentityProvider interface {
	Authenticate(ctx context.Context, username, password string) (identity.Credential, *identity.Profile, error)
	Permissions(ctx context.Context, userID int64) ([]identity.PermissionNode, error)
}

// SessionStore is the persistence surface the service drives.
type SessionStore interface {
	Save(ctx context.Context, rec *session.Record, remember bool) error
	Load(ctx context.Context) (*session.Record, bool)
	Clear(ctx context.Context) error
}

// RoutePurger empties the route cache when the session ends.
type RoutePurger interface {
	InvalidateAll()
}

// Notifier receives session lifecycle signals. Display logic stays outside
// the engine; this is the seam it hangs off.
type Notifier interface {
	// NavigateToEntry tells the navigation layer to return to the entry
	// screen after the session ended.
	NavigateToEntry()
	// SessionFailure reports a failure that changed authentication state.
	SessionFailure(err error)
}

// Service owns the published session state and coordinates the session
// store, the permission tree builder, and the route cache.
type Service struct {
	logger   *slog.Logger
	idp      IdentityProvider
	store    SessionStore
	routes   RoutePurger
	notifier Notifier

	logoutGuard closeguard.Guard

	authenticated *Cell[bool]
	user          *Cell[*identity.Profile]
	navTree       *Cell[[]nav.Item]

	mu            sync.Mutex
	loginInFlight bool
	credential    identity.Credential
	remembered    bool
	// generation increments whenever the session ends or is replaced. A
	// background refresh captures it at start and discards its result when
	// it no longer matches, so a finished logout is never undone by a
	// refresh that was already in flight.
	generation uint64

	refresh singleflight.Group

	// backgroundDone is signalled after each background refresh attempt;
	// tests synchronize on it.
	backgroundDone chan struct{}
}

// Option configures a Service.
type Option func(*Service)

// WithLogoutGuard installs a guard consulted before logout proceeds.
func WithLogoutGuard(g closeguard.Guard) Option {
	return func(s *Service) { s.logoutGuard = g }
}

// NewService constructs a Service. A nil notifier is replaced by a no-op one.
func NewService(logger *slog.Logger, idp IdentityProvider, store SessionStore, routes RoutePurger, notifier Notifier, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	s := &Service{
		logger:         logger,
		idp:            idp,
		store:          store,
		routes:         routes,
		notifier:       notifier,
		authenticated:  NewCell(false),
		user:           NewCell[*identity.Profile](nil),
		navTree:        NewCell[[]nav.Item](nil),
		backgroundDone: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Login runs the two-phase sign-in. Phase one exchanges credentials and
// persists the tokens immediately; phase two fetches permissions and builds
// the navigation tree. A phase-two failure rolls phase one back completely:
// the caller is never left authenticated with stale or absent permissions.
func (s *Service) Login(ctx context.Context, username, password string, remember bool) error {
	s.mu.Lock()
	if s.loginInFlight {
		s.mu.Unlock()
		return ErrLoginInFlight
	}
	s.loginInFlight = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.loginInFlight = false
		s.mu.Unlock()
	}()

	cred, profile, err := s.idp.Authenticate(ctx, username, password)
	if err != nil {
		return err
	}

	rec := &session.Record{
		Credential: cred,
		UserID:     profile.ID,
		Username:   profile.Username,
		FullName:   profile.FullName,
		Roles:      profile.RoleList(),
	}
	if err := s.store.Save(ctx, rec, remember); err != nil {
		return fmt.Errorf("authority: persist credential: %w", err)
	}

	nodes, err := s.idp.Permissions(ctx, profile.ID)
	if err != nil {
		s.rollbackPhaseOne(ctx)
		return err
	}

	tree, caps := nav.Build(nodes)
	if tree == nil {
		tree = []nav.Item{}
	}
	profile = profile.WithPermissions(caps)
	rec.Permissions = caps
	rec.NavTree = tree
	if err := s.store.Save(ctx, rec, remember); err != nil {
		s.rollbackPhaseOne(ctx)
		return fmt.Errorf("authority: persist session: %w", err)
	}

	s.mu.Lock()
	s.credential = cred
	s.remembered = remember
	s.generation++
	s.mu.Unlock()
	s.publish(profile, tree)

	s.logger.Info("session established",
		slog.String("username", profile.Username),
		slog.Bool("remembered", remember))
	return nil
}

// InitializeFromPersistence rehydrates a persisted session at process start.
// The cached state is published immediately as provisional, then permissions
// are re-fetched in the background; a refresh failure tears the session down
// in full so a revoked-but-cached session cannot stay usable. The return
// value reports whether provisional state was published.
func (s *Service) InitializeFromPersistence(ctx context.Context) bool {
	rec, ok := s.store.Load(ctx)
	if !ok {
		return false
	}

	if expiry, known := identity.TokenExpiry(rec.Credential.AccessToken); known && time.Now().After(expiry) {
		s.logger.Info("persisted access token expired, discarding session")
		s.teardown(ctx, errors.New("authority: persisted token expired"))
		return false
	}

	s.mu.Lock()
	s.credential = rec.Credential
	s.remembered = rec.Remembered
	gen := s.generation
	s.mu.Unlock()
	s.publish(rec.Profile(), rec.NavTree)

	s.logger.Info("session rehydrated", slog.String("username", rec.Username))

	go func() {
		s.refreshPermissions(context.WithoutCancel(ctx), rec, gen, true)
		select {
		case s.backgroundDone <- struct{}{}:
		default:
		}
	}()
	return true
}

// RevalidatePersisted re-fetches permissions for the persisted session on
// behalf of the background worker. An application rejection is fatal to the
// session; a transport failure is returned so the job can retry later.
func (s *Service) RevalidatePersisted(ctx context.Context) error {
	s.mu.Lock()
	gen := s.generation
	s.mu.Unlock()

	rec, ok := s.store.Load(ctx)
	if !ok {
		return nil
	}
	return s.refreshPermissions(ctx, rec, gen, false)
}

// refreshPermissions re-fetches the permission graph and updates the
// persisted record and published state. When fatalOnFailure is set any
// failure ends the session; otherwise only application rejections do. The
// result is discarded when the session generation moved on during the fetch.
func (s *Service) refreshPermissions(ctx context.Context, rec *session.Record, gen uint64, fatalOnFailure bool) error {
	_, err, _ := s.refresh.Do("permissions", func() (any, error) {
		nodes, err := s.idp.Permissions(ctx, rec.UserID)
		if err != nil {
			return nil, err
		}
		tree, caps := nav.Build(nodes)
		if tree == nil {
			tree = []nav.Item{}
		}
		rec.Permissions = caps
		rec.NavTree = tree

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.generation != gen {
			// The session ended or was replaced while the fetch was in
			// flight; saving now would resurrect cleared backends.
			return nil, nil
		}
		if err := s.store.Save(ctx, rec, rec.Remembered); err != nil {
			return nil, err
		}

		// Publish a fresh profile copy: identity fields keep their values,
		// only the capability set and tree change.
		if current := s.user.Get(); current != nil && current.ID == rec.UserID {
			s.user.Set(current.WithPermissions(caps))
		}
		s.navTree.Set(tree)
		return nil, nil
	})
	if err == nil {
		return nil
	}

	var rejection *identity.RejectionError
	if fatalOnFailure || errors.As(err, &rejection) {
		s.logger.Warn("permission refresh failed, ending session", slog.Any("error", err))
		s.teardown(ctx, err)
		return nil
	}
	return err
}

// Logout consults the logout guard and, when allowed, ends the session:
// both backends cleared, published state reset, route cache purged, and the
// navigation layer sent back to the entry screen. The return value reports
// whether the guard allowed the logout.
func (s *Service) Logout(ctx context.Context) (bool, error) {
	if !closeguard.Resolve(ctx, s.logoutGuard) {
		s.logger.Info("logout vetoed by close guard")
		return false, nil
	}
	return true, s.teardown(ctx, nil)
}

// ForceLogout ends the session unconditionally. The HTTP transport calls
// this when the upstream reports an authorization failure.
func (s *Service) ForceLogout(ctx context.Context, cause error) {
	s.teardown(ctx, cause)
}

func (s *Service) teardown(ctx context.Context, cause error) error {
	// The clear happens under the mutex so an in-flight refresh cannot
	// interleave its save between the clear and the generation bump.
	s.mu.Lock()
	err := s.store.Clear(ctx)
	if err != nil {
		s.logger.Warn("clear session backends", slog.Any("error", err))
	}
	s.credential = identity.Credential{}
	s.remembered = false
	s.generation++
	s.mu.Unlock()

	s.authenticated.Set(false)
	s.user.Set(nil)
	s.navTree.Set(nil)
	if s.routes != nil {
		s.routes.InvalidateAll()
	}
	if cause != nil {
		s.notifier.SessionFailure(cause)
	}
	s.notifier.NavigateToEntry()
	return err
}

func (s *Service) rollbackPhaseOne(ctx context.Context) {
	if err := s.store.Clear(ctx); err != nil {
		s.logger.Warn("rollback phase-one credential", slog.Any("error", err))
	}
}

func (s *Service) publish(profile *identity.Profile, tree []nav.Item) {
	s.user.Set(profile)
	s.navTree.Set(tree)
	s.authenticated.Set(true)
}

// Authenticated reports whether a session is established.
func (s *Service) Authenticated() bool { return s.authenticated.Get() }

// User returns the current profile, or nil outside a session.
func (s *Service) User() *identity.Profile { return s.user.Get() }

// NavTree returns the current navigation tree.
func (s *Service) NavTree() []nav.Item { return s.navTree.Get() }

// WatchAuthenticated subscribes to authentication state changes.
func (s *Service) WatchAuthenticated() (<-chan bool, func()) {
	return s.authenticated.Watch()
}

// HasPermission reports whether the current user carries the capability.
func (s *Service) HasPermission(key string) bool {
	return s.user.Get().HasPermission(key)
}

// HasRole reports whether the current user carries the role.
func (s *Service) HasRole(name string) bool {
	return s.user.Get().HasRole(name)
}

// AccessToken exposes the live access token for the HTTP transport; empty
// outside a session.
func (s *Service) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.credential.AccessToken
}

// BackgroundRefreshDone is signalled after each startup background refresh
// attempt completes, success or failure. Tests synchronize on it.
func (s *Service) BackgroundRefreshDone() <-chan struct{} {
	return s.backgroundDone
}

type nopNotifier struct{}

func (nopNotifier) NavigateToEntry()         {}
func (nopNotifier) SessionFailure(err error) {}

package authority_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-gw/meridian-gw/internal/authority"
	"github.com/meridian-gw/meridian-gw/internal/closeguard"
	"github.com/meridian-gw/meridian-gw/internal/identity"
	"github.com/meridian-gw/meridian-gw/internal/session"
	_ "github.com/meridian-gw/meridian-gw/testing"
)

// ============================================================================
// MOCKS
// ============================================================================

type mockIDP struct {
	mu sync.Mutex

	cred      identity.Credential
	authErr   error
	authGate  chan struct{} // when set, Authenticate blocks until closed
	authCalls int

	permNodes []identity.PermissionNode
	permErr   error
	permGate  chan struct{} // when set, Permissions blocks until closed
	permCalls int
}

func (m *mockIDP) Authenticate(ctx context.Context, username, password string) (identity.Credential, *identity.Profile, error) {
	m.mu.Lock()
	gate := m.authGate
	m.authCalls++
	m.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if m.authErr != nil {
		return identity.Credential{}, nil, m.authErr
	}
	return m.cred, identity.NewProfile(7, username, "Astrid Larsen", []string{"finance"}, nil), nil
}

func (m *mockIDP) Permissions(ctx context.Context, userID int64) ([]identity.PermissionNode, error) {
	m.mu.Lock()
	gate := m.permGate
	m.permCalls++
	m.mu.Unlock()
	if gate != nil {
		<-gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.permErr != nil {
		return nil, m.permErr
	}
	return m.permNodes, nil
}

type mockPurger struct {
	mu    sync.Mutex
	calls int
}

func (m *mockPurger) InvalidateAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
}

func (m *mockPurger) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockNotifier struct {
	mu       sync.Mutex
	entries  int
	failures []error
}

func (m *mockNotifier) NavigateToEntry() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries++
}

func (m *mockNotifier) SessionFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, err)
}

func (m *mockNotifier) Entries() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries
}

func (m *mockNotifier) Failures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.failures)
}

func defaultNodes() []identity.PermissionNode {
	return []identity.PermissionNode{
		{ID: 1, ParentID: 0, Label: "Inventory", Link: "/inventory", Grants: []string{"inventory:read"}, Order: 1},
		{ID: 2, ParentID: 0, Label: "Reports", Link: "/reports", Grants: []string{"reports:read"}, Order: 2},
	}
}

type fixture struct {
	svc      *authority.Service
	idp      *mockIDP
	store    *session.Store
	durable  *session.MemoryBackend
	transit  *session.MemoryBackend
	purger   *mockPurger
	notifier *mockNotifier
}

func newFixture(t *testing.T, opts ...authority.Option) *fixture {
	t.Helper()
	idp := &mockIDP{
		cred:      identity.Credential{AccessToken: "tok-abc"},
		permNodes: defaultNodes(),
	}
	durable := session.NewMemoryBackend()
	transit := session.NewMemoryBackend()
	store := session.NewStore(durable, transit, nil)
	purger := &mockPurger{}
	notifier := &mockNotifier{}
	svc := authority.NewService(nil, idp, store, purger, notifier, opts...)
	return &fixture{svc: svc, idp: idp, store: store, durable: durable, transit: transit, purger: purger, notifier: notifier}
}

func waitBackground(t *testing.T, svc *authority.Service) {
	t.Helper()
	select {
	case <-svc.BackgroundRefreshDone():
	case <-time.After(2 * time.Second):
		t.Fatal("background refresh did not finish")
	}
}

// ============================================================================
// LOGIN
// ============================================================================

func TestLoginEstablishesSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Login(ctx, "astrid", "secret", true))

	assert.True(t, f.svc.Authenticated())
	assert.Equal(t, "tok-abc", f.svc.AccessToken())
	assert.True(t, f.svc.HasPermission("inventory:read"))
	assert.True(t, f.svc.HasRole("finance"))
	assert.False(t, f.svc.HasPermission("admin:write"))

	tree := f.svc.NavTree()
	require.Len(t, tree, 2)
	assert.Equal(t, "Inventory", tree[0].Label)

	rec, ok := f.store.Load(ctx)
	require.True(t, ok)
	assert.True(t, rec.Remembered)
	assert.Equal(t, []string{"inventory:read", "reports:read"}, rec.Permissions)
}

func TestLoginPhaseTwoFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.idp.permErr = &identity.TransportError{Err: errors.New("connection refused")}
	ctx := context.Background()

	err := f.svc.Login(ctx, "astrid", "secret", true)
	require.Error(t, err)
	var transport *identity.TransportError
	assert.ErrorAs(t, err, &transport)

	assert.False(t, f.svc.Authenticated())
	assert.Empty(t, f.svc.AccessToken())
	assert.Equal(t, 0, f.durable.Len())
	assert.Equal(t, 0, f.transit.Len())
	_, ok := f.store.Load(ctx)
	assert.False(t, ok)
}

func TestLoginRejectionPassesThroughTyped(t *testing.T) {
	f := newFixture(t)
	f.idp.authErr = &identity.RejectionError{Code: identity.CodeAccountLocked, Message: "locked"}

	err := f.svc.Login(context.Background(), "astrid", "secret", false)
	var rejection *identity.RejectionError
	require.ErrorAs(t, err, &rejection)
	assert.True(t, rejection.Locked())
	assert.False(t, f.svc.Authenticated())
}

func TestSecondLoginWhileInFlightIsRejected(t *testing.T) {
	f := newFixture(t)
	gate := make(chan struct{})
	f.idp.authGate = gate

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- f.svc.Login(context.Background(), "astrid", "secret", false)
	}()

	// Wait until the first login is inside Authenticate.
	require.Eventually(t, func() bool {
		f.idp.mu.Lock()
		defer f.idp.mu.Unlock()
		return f.idp.authCalls == 1
	}, time.Second, 5*time.Millisecond)

	err := f.svc.Login(context.Background(), "astrid", "secret", false)
	assert.ErrorIs(t, err, authority.ErrLoginInFlight)

	close(gate)
	require.NoError(t, <-firstDone)
	assert.True(t, f.svc.Authenticated())
}

// ============================================================================
// LOGOUT
// ============================================================================

func TestLogoutResetsEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.Login(ctx, "astrid", "secret", true))

	allowed, err := f.svc.Logout(ctx)
	require.NoError(t, err)
	assert.True(t, allowed)

	assert.False(t, f.svc.Authenticated())
	assert.Nil(t, f.svc.User())
	assert.Nil(t, f.svc.NavTree())
	assert.Empty(t, f.svc.AccessToken())
	assert.Equal(t, 0, f.durable.Len())
	assert.Equal(t, 0, f.transit.Len())
	assert.Equal(t, 1, f.purger.Calls())
	assert.Equal(t, 1, f.notifier.Entries())
}

func TestLogoutVetoedByGuard(t *testing.T) {
	f := newFixture(t, authority.WithLogoutGuard(closeguard.FromBool(false)))
	ctx := context.Background()
	require.NoError(t, f.svc.Login(ctx, "astrid", "secret", true))

	allowed, err := f.svc.Logout(ctx)
	require.NoError(t, err)
	assert.False(t, allowed)

	assert.True(t, f.svc.Authenticated())
	assert.Equal(t, 0, f.purger.Calls())
	_, ok := f.store.Load(ctx)
	assert.True(t, ok)
}

// ============================================================================
// STARTUP REHYDRATION
// ============================================================================

func seedPersistedSession(t *testing.T, f *fixture, remember bool) {
	t.Helper()
	require.NoError(t, f.svc.Login(context.Background(), "astrid", "secret", remember))
	// Simulate a fresh process: a new service over the same backends.
	f.svc = authority.NewService(nil, f.idp, f.store, f.purger, f.notifier)
}

func TestInitializePublishesProvisionalThenRefreshes(t *testing.T) {
	f := newFixture(t)
	seedPersistedSession(t, f, true)

	// The upstream now grants an extra capability.
	f.idp.permNodes = append(defaultNodes(), identity.PermissionNode{
		ID: 3, ParentID: 0, Label: "Audit", Link: "/audit", Grants: []string{"audit:read"}, Order: 3,
	})

	require.True(t, f.svc.InitializeFromPersistence(context.Background()))
	assert.True(t, f.svc.Authenticated())
	assert.Equal(t, "tok-abc", f.svc.AccessToken())

	waitBackground(t, f.svc)
	assert.True(t, f.svc.HasPermission("audit:read"))
	require.Len(t, f.svc.NavTree(), 3)

	rec, ok := f.store.Load(context.Background())
	require.True(t, ok)
	assert.Contains(t, rec.Permissions, "audit:read")
}

func TestInitializeBackgroundFailureTearsDownFully(t *testing.T) {
	f := newFixture(t)
	seedPersistedSession(t, f, true)
	f.idp.permErr = &identity.TransportError{Err: errors.New("upstream gone")}

	require.True(t, f.svc.InitializeFromPersistence(context.Background()))
	waitBackground(t, f.svc)

	assert.False(t, f.svc.Authenticated())
	assert.Nil(t, f.svc.User())
	assert.Equal(t, 0, f.durable.Len())
	assert.Equal(t, 0, f.transit.Len())
	assert.GreaterOrEqual(t, f.purger.Calls(), 1)
	assert.GreaterOrEqual(t, f.notifier.Failures(), 1)
}

func TestLogoutDuringStartupRefreshIsNotUndone(t *testing.T) {
	f := newFixture(t)
	seedPersistedSession(t, f, true)

	gate := make(chan struct{})
	f.idp.permGate = gate

	require.True(t, f.svc.InitializeFromPersistence(context.Background()))

	// Wait until the background refresh is inside the permission fetch.
	require.Eventually(t, func() bool {
		f.idp.mu.Lock()
		defer f.idp.mu.Unlock()
		return f.idp.permCalls == 2
	}, time.Second, 5*time.Millisecond)

	allowed, err := f.svc.Logout(context.Background())
	require.NoError(t, err)
	require.True(t, allowed)

	close(gate)
	waitBackground(t, f.svc)

	// The refresh that was in flight must not re-persist the session or
	// publish a nav tree over the completed logout.
	assert.False(t, f.svc.Authenticated())
	assert.Nil(t, f.svc.User())
	assert.Nil(t, f.svc.NavTree())
	assert.Equal(t, 0, f.durable.Len())
	assert.Equal(t, 0, f.transit.Len())
	_, ok := f.store.Load(context.Background())
	assert.False(t, ok)
}

func TestInitializeWithoutPersistedSession(t *testing.T) {
	f := newFixture(t)
	assert.False(t, f.svc.InitializeFromPersistence(context.Background()))
	assert.False(t, f.svc.Authenticated())
}

func TestInitializeDiscardsExpiredToken(t *testing.T) {
	f := newFixture(t)
	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	})
	signed, err := expired.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	f.idp.cred = identity.Credential{AccessToken: signed}
	seedPersistedSession(t, f, true)

	assert.False(t, f.svc.InitializeFromPersistence(context.Background()))
	assert.False(t, f.svc.Authenticated())
	assert.Equal(t, 0, f.durable.Len())
}

// ============================================================================
// BACKGROUND REVALIDATION
// ============================================================================

func TestRevalidateTransportFailureKeepsSession(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.Login(context.Background(), "astrid", "secret", true))
	f.idp.permErr = &identity.TransportError{Err: errors.New("timeout")}

	err := f.svc.RevalidatePersisted(context.Background())
	require.Error(t, err)
	assert.True(t, f.svc.Authenticated())
	_, ok := f.store.Load(context.Background())
	assert.True(t, ok)
}

func TestRevalidateRejectionEndsSession(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.Login(context.Background(), "astrid", "secret", true))
	f.idp.permErr = &identity.RejectionError{Code: 403, Message: "revoked"}

	require.NoError(t, f.svc.RevalidatePersisted(context.Background()))
	assert.False(t, f.svc.Authenticated())
	_, ok := f.store.Load(context.Background())
	assert.False(t, ok)
}

func TestPermissionChecksDuringRevalidationAreSafe(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.Login(context.Background(), "astrid", "secret", true))

	f.idp.permNodes = append(defaultNodes(), identity.PermissionNode{
		ID: 3, ParentID: 0, Label: "Audit", Link: "/audit", Grants: []string{"audit:read"}, Order: 3,
	})

	// Hammer the read side while the refresh swaps the published profile.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				f.svc.HasPermission("inventory:read")
				f.svc.HasRole("finance")
			}
		}
	}()

	require.NoError(t, f.svc.RevalidatePersisted(context.Background()))
	close(stop)
	wg.Wait()

	assert.True(t, f.svc.HasPermission("audit:read"))
	assert.True(t, f.svc.HasRole("finance"))
}

func TestRevalidateWithoutSessionIsNoop(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.RevalidatePersisted(context.Background()))
	assert.Equal(t, 0, f.idp.permCalls)
}

// ============================================================================
// STATE CELLS
// ============================================================================

func TestWatchAuthenticatedSeesTransitions(t *testing.T) {
	f := newFixture(t)
	ch, cancel := f.svc.WatchAuthenticated()
	defer cancel()

	require.NoError(t, f.svc.Login(context.Background(), "astrid", "secret", false))

	select {
	case v := <-ch:
		assert.True(t, v)
	case <-time.After(time.Second):
		t.Fatal("no authenticated=true notification")
	}

	_, err := f.svc.Logout(context.Background())
	require.NoError(t, err)

	select {
	case v := <-ch:
		assert.False(t, v)
	case <-time.After(time.Second):
		t.Fatal("no authenticated=false notification")
	}
}

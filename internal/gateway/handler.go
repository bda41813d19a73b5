// Package gateway wires the session engine to its HTTP surface: login and
// logout, session snapshots, navigation, permission checks, and the cached
// view proxy.
package gateway

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-gw/meridian-gw/internal/authority"
	"github.com/meridian-gw/meridian-gw/internal/identity"
	"github.com/meridian-gw/meridian-gw/internal/nav"
	"github.com/meridian-gw/meridian-gw/internal/observability"
	"github.com/meridian-gw/meridian-gw/internal/platform/httpx"
	"github.com/meridian-gw/meridian-gw/internal/routecache"
)

// Handler exposes the engine over HTTP.
type Handler struct {
	logger       *slog.Logger
	authority    *authority.Service
	cache        *routecache.Cache
	metrics      *observability.Metrics
	upstream     *http.Client
	upstreamBase string
	validator    *validator.Validate
}

// NewHandler constructs a Handler. The upstream client should carry an
// identity.AuthTransport so view fetches are authorized and upstream 401s
// tear the session down.
func NewHandler(logger *slog.Logger, svc *authority.Service, cache *routecache.Cache, metrics *observability.Metrics, upstream *http.Client, upstreamBase string) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if upstream == nil {
		upstream = http.DefaultClient
	}
	return &Handler{
		logger:       logger,
		authority:    svc,
		cache:        cache,
		metrics:      metrics,
		upstream:     upstream,
		upstreamBase: strings.TrimRight(upstreamBase, "/"),
		validator:    validator.New(),
	}
}

// MountRoutes registers the gateway routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	loginLimiter := httprate.Limit(10, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP))
	r.With(loginLimiter).Post("/auth/login", h.handleLogin)
	r.Post("/auth/logout", h.handleLogout)
	r.Get("/auth/session", h.handleSession)
	r.Get("/auth/can", h.handleCan)
	r.Get("/nav", h.handleNav)
	r.Get("/view/*", h.handleView)
	r.Post("/view/*", h.handleViewMutation)
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required,min=8"`
	Remember bool   `json:"remember"`
}

type userView struct {
	ID          int64    `json:"id"`
	Username    string   `json:"username"`
	FullName    string   `json:"fullName"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

type sessionView struct {
	Authenticated bool       `json:"authenticated"`
	User          *userView  `json:"user,omitempty"`
	NavTree       []nav.Item `json:"navTree,omitempty"`
}

func (h *Handler) snapshot() sessionView {
	view := sessionView{Authenticated: h.authority.Authenticated()}
	if profile := h.authority.User(); profile != nil {
		view.User = &userView{
			ID:          profile.ID,
			Username:    profile.Username,
			FullName:    profile.FullName,
			Roles:       profile.RoleList(),
			Permissions: profile.PermissionList(),
		}
		view.NavTree = h.authority.NavTree()
	}
	return view
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var form loginRequest
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Request", "body must be JSON")
		return
	}
	if err := h.validator.Struct(form); err != nil {
		fields := make([]string, 0, 2)
		for _, fieldErr := range err.(validator.ValidationErrors) {
			fields = append(fields, fieldErr.Field())
		}
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid fields: "+strings.Join(fields, ", "))
		return
	}

	err := h.authority.Login(r.Context(), form.Username, form.Password, form.Remember)
	if err != nil {
		h.observeLoginFailure(err)
		if errors.Is(err, authority.ErrLoginInFlight) {
			httpx.Problem(w, http.StatusConflict, "Login In Flight", "a sign-in is already pending")
			return
		}
		httpx.RespondError(w, err)
		return
	}

	h.metrics.ObserveLogin(observability.LoginOK)
	httpx.JSON(w, http.StatusOK, h.snapshot())
}

func (h *Handler) observeLoginFailure(err error) {
	switch {
	case errors.Is(err, authority.ErrLoginInFlight):
		h.metrics.ObserveLogin(observability.LoginConflict)
	case isRejection(err):
		h.metrics.ObserveLogin(observability.LoginRejected)
	default:
		h.metrics.ObserveLogin(observability.LoginTransport)
	}
}

func isRejection(err error) bool {
	var rejection *identity.RejectionError
	return errors.As(err, &rejection)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	allowed, err := h.authority.Logout(r.Context())
	if err != nil {
		h.logger.Warn("logout cleanup", slog.Any("error", err))
	}
	if !allowed {
		httpx.Problem(w, http.StatusConflict, "Logout Vetoed", "a pending operation blocked the logout")
		return
	}
	h.metrics.ObserveTeardown("logout")
	httpx.JSON(w, http.StatusOK, h.snapshot())
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, h.snapshot())
}

func (h *Handler) handleNav(w http.ResponseWriter, r *http.Request) {
	if !h.authority.Authenticated() {
		httpx.RespondError(w, httpx.ErrUnauthenticated)
		return
	}
	tree := h.authority.NavTree()
	if tree == nil {
		tree = []nav.Item{}
	}
	httpx.JSON(w, http.StatusOK, tree)
}

func (h *Handler) handleCan(w http.ResponseWriter, r *http.Request) {
	if !h.authority.Authenticated() {
		httpx.RespondError(w, httpx.ErrUnauthenticated)
		return
	}
	allowed := false
	switch {
	case r.URL.Query().Get("permission") != "":
		allowed = h.authority.HasPermission(r.URL.Query().Get("permission"))
	case r.URL.Query().Get("role") != "":
		allowed = h.authority.HasRole(r.URL.Query().Get("role"))
	default:
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "permission or role query parameter required")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"allowed": allowed})
}

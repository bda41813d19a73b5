// Command idpstub is a development identity provider. It serves the
// credential and permission endpoints with a small set of bcrypt-hashed demo
// accounts and a canned permission forest, which is enough to exercise the
// gateway end to end without a real IdP.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

type account struct {
	id           int64
	username     string
	fullName     string
	passwordHash []byte
	roles        []string
	locked       bool
}

type permissionNode struct {
	ID       int64    `json:"id"`
	ParentID int64    `json:"parentId"`
	Label    string   `json:"label"`
	Link     string   `json:"link"`
	Icon     string   `json:"icon"`
	Grants   []string `json:"permissionsGranted"`
	Order    int      `json:"order"`
}

type stub struct {
	logger   *slog.Logger
	accounts map[string]*account
	forest   map[int64][]permissionNode
	secret   []byte
}

func mustHash(password string) []byte {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	return hash
}

func newStub(logger *slog.Logger) *stub {
	admin := &account{
		id:           1,
		username:     "admin",
		fullName:     "Administrator",
		passwordHash: mustHash("admin-demo-1"),
		roles:        []string{"admin", "operator"},
	}
	clerk := &account{
		id:           2,
		username:     "clerk",
		fullName:     "Front Desk Clerk",
		passwordHash: mustHash("clerk-demo-1"),
		roles:        []string{"operator"},
	}
	frozen := &account{
		id:           3,
		username:     "frozen",
		fullName:     "Locked Account",
		passwordHash: mustHash("frozen-demo-1"),
		roles:        []string{"operator"},
		locked:       true,
	}

	adminForest := []permissionNode{
		{ID: 10, ParentID: 0, Label: "Inventory", Icon: "bi-box", Grants: []string{"inventory:read"}, Order: 1},
		{ID: 11, ParentID: 10, Label: "Stock Levels", Link: "/inventory", Grants: []string{"inventory:read"}, Order: 1},
		{ID: 12, ParentID: 10, Label: "Adjustments", Link: "/inventory/adjust", Grants: []string{"inventory:write"}, Order: 2},
		{ID: 20, ParentID: 0, Label: "Reports", Icon: "bi-graph-up", Grants: []string{"reports:read"}, Order: 2},
		{ID: 21, ParentID: 20, Label: "Daily", Link: "/reports", Grants: []string{"reports:read"}, Order: 1},
		{ID: 30, ParentID: 0, Label: "Audit", Link: "/audit", Icon: "bi-shield", Grants: []string{"audit:read"}, Order: 3},
	}
	clerkForest := []permissionNode{
		{ID: 10, ParentID: 0, Label: "Inventory", Icon: "bi-box", Grants: []string{"inventory:read"}, Order: 1},
		{ID: 11, ParentID: 10, Label: "Stock Levels", Link: "/inventory", Grants: []string{"inventory:read"}, Order: 1},
	}

	return &stub{
		logger: logger,
		accounts: map[string]*account{
			admin.username:  admin,
			clerk.username:  clerk,
			frozen.username: frozen,
		},
		forest: map[int64][]permissionNode{
			admin.id: adminForest,
			clerk.id: clerkForest,
		},
		secret: []byte("idpstub-signing-secret"),
	}
}

func (s *stub) issueToken(acct *account) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(acct.id, 10),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(12 * time.Hour)),
		Issuer:    "idpstub",
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *stub) handleLogin(w http.ResponseWriter, r *http.Request) {
	var form struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	respond := func(payload any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(payload)
	}

	acct, ok := s.accounts[form.Username]
	if !ok || bcrypt.CompareHashAndPassword(acct.passwordHash, []byte(form.Password)) != nil {
		respond(map[string]any{"statusCode": 1001})
		return
	}
	if acct.locked {
		respond(map[string]any{"statusCode": 1003})
		return
	}

	token, err := s.issueToken(acct)
	if err != nil {
		s.logger.Error("sign token", slog.Any("error", err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	respond(map[string]any{
		"statusCode": 0,
		"userInfo": map[string]any{
			"id":          acct.id,
			"username":    acct.username,
			"displayName": acct.fullName,
			"roleGroup":   acct.roles,
		},
		"credential": map[string]any{
			"accessToken": token,
			"idToken":     token,
		},
	})
}

func (s *stub) handlePermissions(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("userId"), 10, 64)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	nodes, ok := s.forest[userID]
	if !ok {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(nodes)
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	addr := os.Getenv("IDPSTUB_ADDR")
	if addr == "" {
		addr = ":9096"
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s := newStub(logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer, middleware.Logger)
	r.Post("/api/auth/login", s.handleLogin)
	r.Get("/api/auth/permissions", s.handlePermissions)

	server := &http.Server{Addr: addr, Handler: r, ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second}

	go func() {
		logger.Info("idpstub listening", slog.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("idpstub server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}

package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func newIdPServer(t *testing.T, login http.HandlerFunc, perms http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	if login != nil {
		mux.HandleFunc("/api/auth/login", login)
	}
	if perms != nil {
		mux.HandleFunc("/api/auth/permissions", perms)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestAuthenticateSuccess(t *testing.T) {
	srv := newIdPServer(t, func(w http.ResponseWriter, r *http.Request) {
		var form struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&form))
		require.Equal(t, "admin", form.Username)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"statusCode": 0,
			"userInfo": map[string]any{
				"id":          int64(7),
				"username":    "admin",
				"displayName": "Administrator",
				"roleGroup":   []string{"admin"},
			},
			"credential": map[string]any{"accessToken": "tok-1", "idToken": "idt-1"},
		})
	}, nil)

	client := NewClient(srv.URL, srv.Client(), nil)
	cred, profile, err := client.Authenticate(context.Background(), "admin", "secret123")
	require.NoError(t, err)
	require.Equal(t, "tok-1", cred.AccessToken)
	require.Equal(t, "idt-1", cred.IDToken)
	require.Equal(t, int64(7), profile.ID)
	require.Equal(t, "Administrator", profile.FullName)
	require.True(t, profile.HasRole("admin"))
}

func TestAuthenticateRejectionCodes(t *testing.T) {
	cases := []struct {
		name   string
		code   int
		locked bool
	}{
		{name: "bad credentials", code: CodeBadCredentials},
		{name: "account locked", code: CodeAccountLocked, locked: true},
		{name: "unknown code", code: 4242},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newIdPServer(t, func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(map[string]any{"statusCode": tc.code})
			}, nil)

			client := NewClient(srv.URL, srv.Client(), nil)
			_, _, err := client.Authenticate(context.Background(), "user", "pass12345")

			var rejection *RejectionError
			require.ErrorAs(t, err, &rejection)
			require.Equal(t, tc.code, rejection.Code)
			require.Equal(t, tc.locked, rejection.Locked())
			require.NotEmpty(t, rejection.Message)
		})
	}
}

func TestAuthenticateTransportFailure(t *testing.T) {
	srv := newIdPServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}, nil)

	client := NewClient(srv.URL, srv.Client(), nil)
	_, _, err := client.Authenticate(context.Background(), "user", "pass12345")

	var transport *TransportError
	require.ErrorAs(t, err, &transport)
}

func TestAuthenticateUnreachableHost(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", &http.Client{Timeout: 200 * time.Millisecond}, nil)
	_, _, err := client.Authenticate(context.Background(), "user", "pass12345")

	var transport *TransportError
	require.ErrorAs(t, err, &transport)
}

func TestPermissionsDecode(t *testing.T) {
	srv := newIdPServer(t, nil, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "7", r.URL.Query().Get("userId"))
		_ = json.NewEncoder(w).Encode([]PermissionNode{
			{ID: 1, ParentID: 0, Label: "Inventory", Grants: []string{"inventory:read"}, Order: 1},
		})
	})

	client := NewClient(srv.URL, srv.Client(), nil)
	nodes, err := client.Permissions(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	require.Equal(t, "Inventory", nodes[0].Label)
}

func TestPermissionsRefused(t *testing.T) {
	srv := newIdPServer(t, nil, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	})

	client := NewClient(srv.URL, srv.Client(), nil)
	_, err := client.Permissions(context.Background(), 7)

	var rejection *RejectionError
	require.ErrorAs(t, err, &rejection)
	require.Equal(t, http.StatusForbidden, rejection.Code)
}

type staticTokens string

func (s staticTokens) AccessToken() string { return string(s) }

func TestAuthTransportAttachesBearer(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
	}))
	t.Cleanup(srv.Close)

	client := &http.Client{Transport: &AuthTransport{Tokens: staticTokens("tok-9")}}
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, "Bearer tok-9", gotAuth)
}

func TestAuthTransportReportsUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	fired := false
	client := &http.Client{Transport: &AuthTransport{
		Tokens:         staticTokens("tok-9"),
		OnUnauthorized: func(ctx context.Context) { fired = true },
	}}
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	require.True(t, fired)
}

func TestAuthTransportSkipsEmptyToken(t *testing.T) {
	var sawHeader bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, sawHeader = r.Header["Authorization"]
	}))
	t.Cleanup(srv.Close)

	client := &http.Client{Transport: &AuthTransport{Tokens: staticTokens("")}}
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	require.False(t, sawHeader)
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Now().Add(2 * time.Hour).Truncate(time.Second)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	got, known := TokenExpiry(signed)
	require.True(t, known)
	require.WithinDuration(t, exp, got, time.Second)
}

func TestTokenExpiryOpaqueToken(t *testing.T) {
	_, known := TokenExpiry("not-a-jwt")
	require.False(t, known)
}

func TestWithPermissionsLeavesOriginalUntouched(t *testing.T) {
	original := NewProfile(1, "astrid", "Astrid Larsen", []string{"finance"}, []string{"inventory:read"})
	updated := original.WithPermissions([]string{"audit:read"})

	require.True(t, original.HasPermission("inventory:read"))
	require.False(t, original.HasPermission("audit:read"))
	require.True(t, updated.HasPermission("audit:read"))
	require.False(t, updated.HasPermission("inventory:read"))
	require.True(t, updated.HasRole("finance"))
	require.Equal(t, original.ID, updated.ID)
}

func TestRejectionErrorIsNotTransport(t *testing.T) {
	var transport *TransportError
	err := error(&RejectionError{Code: CodeBadCredentials, Message: "nope"})
	require.False(t, errors.As(err, &transport))
}

// Package identity talks to the upstream identity provider: the credential
// endpoint that exchanges username/password for tokens and the permission
// endpoint that serves the flat permission graph.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Client calls the identity provider endpoints.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient constructs a Client. A nil httpClient falls back to a client
// with a 15 second timeout.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		logger:  logger,
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type userInfo struct {
	ID          int64    `json:"id"`
	Username    string   `json:"username"`
	DisplayName string   `json:"displayName"`
	RoleGroup   []string `json:"roleGroup"`
}

type loginResponse struct {
	StatusCode int        `json:"statusCode"`
	UserInfo   userInfo   `json:"userInfo"`
	Credential Credential `json:"credential"`
}

// Authenticate exchanges credentials for tokens and the operator identity.
// A recognized business failure comes back as *RejectionError; anything that
// prevented a usable response comes back as *TransportError.
func (c *Client) Authenticate(ctx context.Context, username, password string) (Credential, *Profile, error) {
	body, err := json.Marshal(loginRequest{Username: username, Password: password})
	if err != nil {
		return Credential{}, nil, fmt.Errorf("identity: marshal login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/auth/login", bytes.NewReader(body))
	if err != nil {
		return Credential{}, nil, fmt.Errorf("identity: build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Credential{}, nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	var decoded loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Credential{}, nil, &TransportError{Err: fmt.Errorf("decode login response: %w", err)}
	}

	if decoded.StatusCode != CodeOK {
		c.logger.Info("login rejected by identity provider",
			slog.Int("code", decoded.StatusCode),
			slog.String("username", username))
		return Credential{}, nil, &RejectionError{Code: decoded.StatusCode, Message: messageForCode(decoded.StatusCode)}
	}
	if decoded.Credential.AccessToken == "" {
		return Credential{}, nil, &TransportError{Err: fmt.Errorf("login response missing access token")}
	}

	profile := NewProfile(
		decoded.UserInfo.ID,
		decoded.UserInfo.Username,
		decoded.UserInfo.DisplayName,
		decoded.UserInfo.RoleGroup,
		nil,
	)
	return decoded.Credential, profile, nil
}

// Permissions fetches the flat permission-node list for the given user.
func (c *Client) Permissions(ctx context.Context, userID int64) ([]PermissionNode, error) {
	url := c.baseURL + "/api/auth/permissions?userId=" + strconv.FormatInt(userID, 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("identity: build permission request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &RejectionError{Code: resp.StatusCode, Message: "permission endpoint refused the request"}
	}

	var nodes []PermissionNode
	if err := json.NewDecoder(resp.Body).Decode(&nodes); err != nil {
		return nil, &TransportError{Err: fmt.Errorf("decode permission response: %w", err)}
	}
	return nodes, nil
}

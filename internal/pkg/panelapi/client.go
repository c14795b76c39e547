package panelapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/mohsenbt/marzsell/app/models"
)

const requestTimeout = 10 * time.Second

// Client talks to remote Marzban panels. Every call is bounded by
// requestTimeout and authenticated with a cached admin token that is
// refreshed transparently once on a 401.
type Client struct {
	http   *http.Client
	tokens TokenStore
}

// NewClient creates a panel client using the given token store.
func NewClient(tokens TokenStore) *Client {
	return &Client{
		http:   &http.Client{Timeout: requestTimeout},
		tokens: tokens,
	}
}

// AcquireToken returns a valid admin token for the panel, from cache when
// possible. Failures surface as ErrPanelUnreachable, ErrPanelTimeout or
// ErrPanelAuthFailed.
func (c *Client) AcquireToken(ctx context.Context, panel *models.Panel) (string, error) {
	if token, ok := c.tokens.Get(panel.ID); ok {
		return token, nil
	}
	return c.refreshToken(ctx, panel)
}

func (c *Client) refreshToken(ctx context.Context, panel *models.Panel) (string, error) {
	form := url.Values{}
	form.Set("username", panel.AdminUsername)
	form.Set("password", panel.AdminCredential)
	form.Set("grant_type", "password")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		panel.BaseURL+"/api/admin/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", classifyTransportError(panel, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", fmt.Errorf("%w: panel %s rejected admin credentials", ErrPanelAuthFailed, panel.Name)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("panel %s: token endpoint returned status %d", panel.Name, resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("panel %s: decode token response: %w", panel.Name, err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("%w: panel %s returned an empty token", ErrPanelAuthFailed, panel.Name)
	}

	c.tokens.Set(panel.ID, tr.AccessToken, tokenTTL)
	return tr.AccessToken, nil
}

// doAuthed performs one authenticated request, retrying exactly once with a
// fresh token when the cached one is rejected.
func (c *Client) doAuthed(ctx context.Context, panel *models.Panel, method, path string, body []byte) (int, []byte, error) {
	token, err := c.AcquireToken(ctx, panel)
	if err != nil {
		return 0, nil, err
	}

	status, respBody, err := c.doOnce(ctx, panel, method, path, body, token)
	if err != nil {
		return 0, nil, err
	}
	if status != http.StatusUnauthorized {
		return status, respBody, nil
	}

	// Cached token expired remotely; refresh once and retry.
	c.tokens.Delete(panel.ID)
	token, err = c.refreshToken(ctx, panel)
	if err != nil {
		return 0, nil, err
	}
	status, respBody, err = c.doOnce(ctx, panel, method, path, body, token)
	if err != nil {
		return 0, nil, err
	}
	if status == http.StatusUnauthorized {
		return 0, nil, fmt.Errorf("%w: panel %s rejected a fresh token", ErrPanelAuthFailed, panel.Name)
	}
	return status, respBody, nil
}

func (c *Client) doOnce(ctx context.Context, panel *models.Panel, method, path string, body []byte, token string) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, panel.BaseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, classifyTransportError(panel, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, classifyTransportError(panel, err)
	}
	return resp.StatusCode, respBody, nil
}

// CreateAccount provisions a remote account. Safe to retry: when the username
// already exists from a prior partial failure the existing account is fetched
// and returned instead of erroring.
func (c *Client) CreateAccount(ctx context.Context, panel *models.Panel, username string, dataLimitBytes, expireUnix int64) (*Account, error) {
	payload, err := json.Marshal(createUserRequest{
		Username: username,
		// Empty proxy settings let the panel fill its configured defaults.
		Proxies:   map[string]interface{}{"vless": map[string]interface{}{}},
		Inbounds:  map[string][]string{},
		DataLimit: dataLimitBytes,
		Expire:    expireUnix,
		Status:    AccountStatusActive,
	})
	if err != nil {
		return nil, fmt.Errorf("encode create request: %w", err)
	}

	status, body, err := c.doAuthed(ctx, panel, http.MethodPost, "/api/user", payload)
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK, http.StatusCreated:
		return parseAccount(panel, body)
	case http.StatusConflict:
		log.Infof("[PanelAPI] account %s already exists on panel %s, treating as created", username, panel.Name)
		return c.GetAccount(ctx, panel, username)
	default:
		return nil, fmt.Errorf("panel %s: create account returned status %d: %s", panel.Name, status, truncateBody(body))
	}
}

// GetAccount fetches the remote account, including usage counters and the
// subscription link material.
func (c *Client) GetAccount(ctx context.Context, panel *models.Panel, username string) (*Account, error) {
	status, body, err := c.doAuthed(ctx, panel, http.MethodGet, "/api/user/"+url.PathEscape(username), nil)
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK:
		return parseAccount(panel, body)
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s on panel %s", ErrAccountNotFound, username, panel.Name)
	default:
		return nil, fmt.Errorf("panel %s: get account returned status %d: %s", panel.Name, status, truncateBody(body))
	}
}

// GetAccountConfig fetches the config-bearing account view (subscription URL
// plus raw protocol links) used by the config generator.
func (c *Client) GetAccountConfig(ctx context.Context, panel *models.Panel, username string) (*Account, error) {
	return c.GetAccount(ctx, panel, username)
}

// SetAccountStatus switches the remote account between active and disabled.
func (c *Client) SetAccountStatus(ctx context.Context, panel *models.Panel, username, accountStatus string) error {
	payload, err := json.Marshal(modifyUserRequest{Status: accountStatus})
	if err != nil {
		return fmt.Errorf("encode modify request: %w", err)
	}
	status, body, err := c.doAuthed(ctx, panel, http.MethodPut, "/api/user/"+url.PathEscape(username), payload)
	if err != nil {
		return err
	}
	switch status {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s on panel %s", ErrAccountNotFound, username, panel.Name)
	default:
		return fmt.Errorf("panel %s: set status returned status %d: %s", panel.Name, status, truncateBody(body))
	}
}

// ModifyAccount updates limit and expiry on the remote account. Used on renewal.
func (c *Client) ModifyAccount(ctx context.Context, panel *models.Panel, username string, dataLimitBytes, expireUnix *int64) (*Account, error) {
	payload, err := json.Marshal(modifyUserRequest{DataLimit: dataLimitBytes, Expire: expireUnix})
	if err != nil {
		return nil, fmt.Errorf("encode modify request: %w", err)
	}
	status, body, err := c.doAuthed(ctx, panel, http.MethodPut, "/api/user/"+url.PathEscape(username), payload)
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK:
		return parseAccount(panel, body)
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s on panel %s", ErrAccountNotFound, username, panel.Name)
	default:
		return nil, fmt.Errorf("panel %s: modify account returned status %d: %s", panel.Name, status, truncateBody(body))
	}
}

// DeleteAccount removes the remote account. An already-absent account is not
// an error: the call reports (false, nil) so retries after a timeout converge.
func (c *Client) DeleteAccount(ctx context.Context, panel *models.Panel, username string) (bool, error) {
	status, body, err := c.doAuthed(ctx, panel, http.MethodDelete, "/api/user/"+url.PathEscape(username), nil)
	if err != nil {
		return false, err
	}
	switch status {
	case http.StatusOK, http.StatusNoContent:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("panel %s: delete account returned status %d: %s", panel.Name, status, truncateBody(body))
	}
}

// TestConnectivity reports whether the panel answers an authenticated system
// call. Advisory only: provisioning never consults it.
func (c *Client) TestConnectivity(ctx context.Context, panel *models.Panel) bool {
	status, _, err := c.doAuthed(ctx, panel, http.MethodGet, "/api/system", nil)
	if err != nil {
		log.Warnf("[PanelAPI] connectivity probe failed for panel %s: %v", panel.Name, err)
		return false
	}
	return status == http.StatusOK
}

func parseAccount(panel *models.Panel, body []byte) (*Account, error) {
	var account Account
	if err := json.Unmarshal(body, &account); err != nil {
		return nil, fmt.Errorf("panel %s: decode account: %w", panel.Name, err)
	}
	if account.Username == "" {
		return nil, fmt.Errorf("panel %s: account response missing username", panel.Name)
	}
	return &account, nil
}

func classifyTransportError(panel *models.Panel, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: panel %s: %v", ErrPanelTimeout, panel.Name, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: panel %s: %v", ErrPanelTimeout, panel.Name, err)
	}
	return fmt.Errorf("%w: panel %s: %v", ErrPanelUnreachable, panel.Name, err)
}

func truncateBody(body []byte) string {
	const max = 256
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

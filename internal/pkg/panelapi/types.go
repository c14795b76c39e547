package panelapi

import "errors"

// Marzban account status values.
const (
	AccountStatusActive   = "active"
	AccountStatusDisabled = "disabled"
)

var (
	// ErrPanelUnreachable marks transport-level failures. Retryable with backoff.
	ErrPanelUnreachable = errors.New("panel unreachable")
	// ErrPanelTimeout marks a request that ran into the client deadline. Retryable;
	// the remote side may still have applied the mutation.
	ErrPanelTimeout = errors.New("panel timeout")
	// ErrPanelAuthFailed marks a credential problem that survived a token refresh.
	// Not retryable without operator intervention.
	ErrPanelAuthFailed = errors.New("panel authentication failed")
	// ErrAccountNotFound marks a lookup for a username the panel does not know.
	ErrAccountNotFound = errors.New("remote account not found")
)

// Account is the subset of a remote panel user the control plane works with.
type Account struct {
	Username         string                            `json:"username"`
	Status           string                            `json:"status"`
	DataLimitBytes   int64                             `json:"data_limit"`
	UsedTrafficBytes int64                             `json:"used_traffic"`
	ExpireUnix       int64                             `json:"expire"`
	SubscriptionURL  string                            `json:"subscription_url"`
	Links            []string                          `json:"links"`
	Proxies          map[string]map[string]interface{} `json:"proxies,omitempty"`
}

// UsedTrafficGB converts the panel byte counter to the gigabyte unit stored locally.
func (a *Account) UsedTrafficGB() float64 {
	return float64(a.UsedTrafficBytes) / (1024 * 1024 * 1024)
}

// Credential returns the identity the panel issued for the account, preferring
// UUID-bearing protocols.
func (a *Account) Credential() string {
	for _, proto := range []string{"vless", "vmess", "trojan", "shadowsocks"} {
		cfg, ok := a.Proxies[proto]
		if !ok {
			continue
		}
		if id, ok := cfg["id"].(string); ok && id != "" {
			return id
		}
		if pw, ok := cfg["password"].(string); ok && pw != "" {
			return pw
		}
	}
	return ""
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type createUserRequest struct {
	Username  string                 `json:"username"`
	Proxies   map[string]interface{} `json:"proxies"`
	Inbounds  map[string][]string    `json:"inbounds"`
	DataLimit int64                  `json:"data_limit"`
	Expire    int64                  `json:"expire"`
	Status    string                 `json:"status"`
}

type modifyUserRequest struct {
	Status    string `json:"status,omitempty"`
	DataLimit *int64 `json:"data_limit,omitempty"`
	Expire    *int64 `json:"expire,omitempty"`
}

package configgen

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/mohsenbt/marzsell/app/models"
	"github.com/mohsenbt/marzsell/internal/pkg/panelapi"
)

// ErrConfigGenerationFailed marks internal rendering failures. The remote
// account stays valid; callers may retry the render without reprovisioning.
var ErrConfigGenerationFailed = errors.New("config generation failed")

// Result packages everything a customer needs to import the subscription.
// Primary is the panel-hosted subscription URL when the panel provides one,
// otherwise the combined text.
type Result struct {
	Primary      string
	PerProtocol  map[string]string
	CombinedText string
}

// Render turns the remote account's raw config material into client-importable
// share links. Links supplied by the panel are used as-is after validation;
// otherwise a default endpoint set is synthesized from the panel host with
// fresh per-render secrets (the remote account record stays the source of
// truth for real credentials).
func Render(sub *models.Subscription, panel *models.Panel, account *panelapi.Account) (*Result, error) {
	if account == nil {
		return nil, fmt.Errorf("%w: no remote account data", ErrConfigGenerationFailed)
	}

	links := account.Links
	if len(links) == 0 {
		synthesized, err := synthesizeLinks(sub, panel)
		if err != nil {
			return nil, err
		}
		links = synthesized
	}

	perProtocol := make(map[string]string, len(links))
	valid := make([]string, 0, len(links))
	for _, link := range links {
		link = strings.TrimSpace(link)
		if link == "" {
			continue
		}
		if err := ValidateLink(link); err != nil {
			return nil, err
		}
		valid = append(valid, link)
		proto := linkProtocol(link)
		if _, seen := perProtocol[proto]; !seen {
			perProtocol[proto] = link
		}
	}
	if len(valid) == 0 {
		return nil, fmt.Errorf("%w: remote account carries no usable links", ErrConfigGenerationFailed)
	}

	combined := base64.StdEncoding.EncodeToString([]byte(strings.Join(valid, "\n")))

	primary := strings.TrimSpace(account.SubscriptionURL)
	if primary != "" {
		if _, err := url.ParseRequestURI(primary); err != nil {
			return nil, fmt.Errorf("%w: panel subscription url malformed: %v", ErrConfigGenerationFailed, err)
		}
	} else {
		primary = combined
	}

	return &Result{
		Primary:      primary,
		PerProtocol:  perProtocol,
		CombinedText: combined,
	}, nil
}

// synthesizeLinks builds a default vless/vmess/trojan/shadowsocks set against
// the panel host. Secrets are generated fresh per call and are display
// placeholders only.
func synthesizeLinks(sub *models.Subscription, panel *models.Panel) ([]string, error) {
	host, err := panelHost(panel)
	if err != nil {
		return nil, err
	}

	identity := sub.RemoteCredential
	if identity == "" {
		identity = uuid.New().String()
	}
	password, err := randomSecret()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigGenerationFailed, err)
	}

	name := sub.RemoteUsername
	base := Endpoint{
		Name:    name,
		Server:  host,
		Port:    443,
		Network: "ws",
		TLS:     true,
		SNI:     host,
	}

	endpoints := []Endpoint{
		func() Endpoint { ep := base; ep.Protocol = ProtocolVLESS; ep.UUID = identity; return ep }(),
		func() Endpoint { ep := base; ep.Protocol = ProtocolVMess; ep.UUID = identity; return ep }(),
		func() Endpoint { ep := base; ep.Protocol = ProtocolTrojan; ep.Password = password; return ep }(),
		func() Endpoint { ep := base; ep.Protocol = ProtocolShadowsocks; ep.Password = password; return ep }(),
	}

	links := make([]string, 0, len(endpoints))
	for _, ep := range endpoints {
		link, err := BuildLink(ep)
		if err != nil {
			return nil, err
		}
		links = append(links, link)
	}
	return links, nil
}

func panelHost(panel *models.Panel) (string, error) {
	u, err := url.Parse(panel.BaseURL)
	if err != nil || u.Hostname() == "" {
		return "", fmt.Errorf("%w: panel base url unusable for link synthesis", ErrConfigGenerationFailed)
	}
	return u.Hostname(), nil
}

func randomSecret() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

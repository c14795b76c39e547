package configgen

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

const (
	ProtocolVLESS       = "vless"
	ProtocolVMess       = "vmess"
	ProtocolTrojan      = "trojan"
	ProtocolShadowsocks = "ss"
)

const defaultShadowsocksMethod = "chacha20-ietf-poly1305"

// Endpoint describes one protocol endpoint to encode into a client-importable
// share link.
type Endpoint struct {
	Protocol string
	Name     string
	Server   string
	Port     int
	UUID     string // vless/vmess identity
	Password string // trojan/shadowsocks secret
	Method   string // shadowsocks cipher
	Network  string // tcp, ws, grpc
	Path     string
	Host     string
	TLS      bool
	SNI      string
}

// BuildLink encodes the endpoint into its protocol's share-link format.
func BuildLink(ep Endpoint) (string, error) {
	switch ep.Protocol {
	case ProtocolVMess:
		return buildVMessLink(ep)
	case ProtocolVLESS:
		return buildVLESSLink(ep)
	case ProtocolTrojan:
		return buildTrojanLink(ep)
	case ProtocolShadowsocks:
		return buildShadowsocksLink(ep)
	default:
		return "", fmt.Errorf("%w: unsupported protocol %q", ErrConfigGenerationFailed, ep.Protocol)
	}
}

func buildVMessLink(ep Endpoint) (string, error) {
	if ep.UUID == "" || ep.Server == "" {
		return "", fmt.Errorf("%w: vmess endpoint missing uuid or server", ErrConfigGenerationFailed)
	}
	vmessData := map[string]interface{}{
		"v":    "2",
		"ps":   ep.Name,
		"add":  ep.Server,
		"port": ep.Port,
		"id":   ep.UUID,
		"aid":  "0",
		"net":  ep.Network,
		"type": "none",
		"host": ep.Host,
		"path": ep.Path,
		"tls":  "",
	}
	if ep.TLS {
		vmessData["tls"] = "tls"
		if ep.SNI != "" {
			vmessData["sni"] = ep.SNI
		}
	}

	jsonData, err := json.Marshal(vmessData)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrConfigGenerationFailed, err)
	}
	return "vmess://" + base64.StdEncoding.EncodeToString(jsonData), nil
}

func buildVLESSLink(ep Endpoint) (string, error) {
	if ep.UUID == "" || ep.Server == "" {
		return "", fmt.Errorf("%w: vless endpoint missing uuid or server", ErrConfigGenerationFailed)
	}
	u := &url.URL{
		Scheme: "vless",
		User:   url.User(ep.UUID),
		Host:   fmt.Sprintf("%s:%d", ep.Server, ep.Port),
	}

	query := url.Values{}
	query.Set("type", ep.Network)
	query.Set("security", "none")
	if ep.TLS {
		query.Set("security", "tls")
		if ep.SNI != "" {
			query.Set("sni", ep.SNI)
		}
	}
	if ep.Path != "" {
		query.Set("path", ep.Path)
	}
	if ep.Host != "" {
		query.Set("host", ep.Host)
	}

	u.RawQuery = query.Encode()
	u.Fragment = ep.Name

	return u.String(), nil
}

func buildTrojanLink(ep Endpoint) (string, error) {
	if ep.Password == "" || ep.Server == "" {
		return "", fmt.Errorf("%w: trojan endpoint missing password or server", ErrConfigGenerationFailed)
	}
	u := &url.URL{
		Scheme: "trojan",
		User:   url.User(ep.Password),
		Host:   fmt.Sprintf("%s:%d", ep.Server, ep.Port),
	}

	query := url.Values{}
	if ep.SNI != "" {
		query.Set("sni", ep.SNI)
	}
	if ep.Network != "" && ep.Network != "tcp" {
		query.Set("type", ep.Network)
	}

	u.RawQuery = query.Encode()
	u.Fragment = ep.Name

	return u.String(), nil
}

func buildShadowsocksLink(ep Endpoint) (string, error) {
	if ep.Password == "" || ep.Server == "" {
		return "", fmt.Errorf("%w: shadowsocks endpoint missing password or server", ErrConfigGenerationFailed)
	}
	method := ep.Method
	if method == "" {
		method = defaultShadowsocksMethod
	}
	userInfo := fmt.Sprintf("%s:%s", method, ep.Password)
	encoded := base64.StdEncoding.EncodeToString([]byte(userInfo))

	link := fmt.Sprintf("ss://%s@%s:%d", encoded, ep.Server, ep.Port)
	if ep.Name != "" {
		link += "#" + url.QueryEscape(ep.Name)
	}
	return link, nil
}

// ValidateLink checks structural well-formedness: a known scheme, a host part,
// and a decodable envelope for the base64-based formats. Malformed output must
// never reach a customer.
func ValidateLink(link string) error {
	if strings.TrimSpace(link) == "" {
		return fmt.Errorf("%w: empty link", ErrConfigGenerationFailed)
	}

	switch {
	case strings.HasPrefix(link, "vmess://"):
		payload := strings.TrimPrefix(link, "vmess://")
		raw, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return fmt.Errorf("%w: vmess payload is not base64: %v", ErrConfigGenerationFailed, err)
		}
		var decoded map[string]interface{}
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return fmt.Errorf("%w: vmess payload is not JSON: %v", ErrConfigGenerationFailed, err)
		}
		return nil
	case strings.HasPrefix(link, "ss://"):
		rest := strings.TrimPrefix(link, "ss://")
		at := strings.Index(rest, "@")
		if at <= 0 {
			return fmt.Errorf("%w: shadowsocks link missing user info", ErrConfigGenerationFailed)
		}
		if _, err := base64.StdEncoding.DecodeString(rest[:at]); err != nil {
			return fmt.Errorf("%w: shadowsocks user info is not base64: %v", ErrConfigGenerationFailed, err)
		}
		return nil
	case strings.HasPrefix(link, "vless://"), strings.HasPrefix(link, "trojan://"):
		u, err := url.Parse(link)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrConfigGenerationFailed, err)
		}
		if u.Host == "" || u.User == nil || u.User.Username() == "" {
			return fmt.Errorf("%w: %s link missing host or identity", ErrConfigGenerationFailed, u.Scheme)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown link scheme", ErrConfigGenerationFailed)
	}
}

// linkProtocol extracts the scheme, used as the per-protocol map key.
func linkProtocol(link string) string {
	idx := strings.Index(link, "://")
	if idx <= 0 {
		return ""
	}
	return link[:idx]
}

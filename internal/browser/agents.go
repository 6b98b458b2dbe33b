package browser

import (
	"bufio"
	"fmt"
	"io"
	"math/rand/v2"
	"net/url"
	"strings"
	"sync"
)

// DeviceType selects the family of user agents a browser impersonates
type DeviceType string

const (
	Desktop DeviceType = "desktop"
	Tablet  DeviceType = "tablet"
	Mobile  DeviceType = "mobile"
)

var userAgents = map[DeviceType][]string{
	Desktop: {
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
		"Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:120.0) Gecko/20100101 Firefox/120.0",
	},
	Tablet: {
		"Mozilla/5.0 (iPad; CPU OS 17_2 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Mobile/15E148 Safari/604.1",
		"Mozilla/5.0 (Linux; Android 13; SM-X706B) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Linux; Android 12; Lenovo TB-J606F) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/118.0.0.0 Safari/537.36",
	},
	Mobile: {
		"Mozilla/5.0 (iPhone; CPU iPhone OS 17_2 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Mobile/15E148 Safari/604.1",
		"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36",
		"Mozilla/5.0 (Linux; Android 13; SM-S918B) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Mobile Safari/537.36",
		"Mozilla/5.0 (Linux; Android 12; moto g(60)) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/118.0.0.0 Mobile Safari/537.36",
	},
}

// ValidateDeviceType checks if the device type is known
func ValidateDeviceType(d DeviceType) error {
	if _, ok := userAgents[d]; !ok {
		return fmt.Errorf("invalid device type: %s", d)
	}
	return nil
}

// DefaultUserAgent is the first known user agent of a device type
func DefaultUserAgent(d DeviceType) string {
	if agents := userAgents[d]; len(agents) > 0 {
		return agents[0]
	}
	return ""
}

// Agent is the identity a browser presents: a user agent and the proxy its
// requests go through. An empty Proxy means a direct connection.
type Agent struct {
	UserAgent string
	Proxy     string
}

// AgentPool hands out random agents
type AgentPool struct {
	mu      sync.RWMutex
	proxies []string
}

// NewAgentPool creates a pool drawing from proxies, which may be empty
func NewAgentPool(proxies []string) *AgentPool {
	return &AgentPool{proxies: proxies}
}

// SetProxies replaces the proxy list
func (p *AgentPool) SetProxies(proxies []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.proxies = proxies
}

// Proxies returns a copy of the proxy list
func (p *AgentPool) Proxies() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.proxies...)
}

// Renew picks a random user agent for the device type and a random proxy
func (p *AgentPool) Renew(device DeviceType) (Agent, error) {
	agents, ok := userAgents[device]
	if !ok {
		return Agent{}, fmt.Errorf("invalid device type: %s", device)
	}
	agent := Agent{UserAgent: agents[rand.IntN(len(agents))]}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.proxies) > 0 {
		agent.Proxy = p.proxies[rand.IntN(len(p.proxies))]
	}
	return agent, nil
}

// NormalizeProxy prefixes http:// to bare host:port entries
func NormalizeProxy(line string) (string, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", fmt.Errorf("empty proxy")
	}
	if !strings.Contains(line, "://") {
		line = "http://" + line
	}
	u, err := url.Parse(line)
	if err != nil {
		return "", fmt.Errorf("invalid proxy %q: %w", line, err)
	}
	switch u.Scheme {
	case "http", "https", "socks5", "socks5h":
	default:
		return "", fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid proxy %q: missing host", line)
	}
	return u.String(), nil
}

// LoadProxies reads one proxy per line, skipping blanks and # comments and
// dropping duplicates.
func LoadProxies(r io.Reader) ([]string, error) {
	seen := make(map[string]bool)
	var proxies []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		proxy, err := NormalizeProxy(line)
		if err != nil {
			return nil, err
		}
		if seen[proxy] {
			continue
		}
		seen[proxy] = true
		proxies = append(proxies, proxy)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read proxies: %w", err)
	}
	return proxies, nil
}

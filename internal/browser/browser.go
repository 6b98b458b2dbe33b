// Package browser fetches pages the way a real browser session would: one
// cookie jar, a consistent user agent and a proxy, all of which can be
// switched when a site starts to push back.
package browser

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/net/proxy"
	"golang.org/x/net/publicsuffix"

	"rccrawler/internal/logging"
)

// DefaultHeaders are sent with every request. Accept-Encoding is left to the
// transport so compressed bodies are decoded transparently.
var DefaultHeaders = http.Header{
	"Accept":          {"text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"},
	"Accept-Language": {"en-US,en;q=0.5"},
	"Connection":      {"keep-alive"},
}

// Request describes a page to fetch
type Request struct {
	URL     string
	Params  url.Values
	Headers http.Header
	// Binary marks non-text content such as captcha images
	Binary bool
	// ReadFromCache allows a cached copy to be returned
	ReadFromCache bool
}

// FullURL returns the URL with Params merged into its query
func (r Request) FullURL() (string, error) {
	u, err := url.Parse(r.URL)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", r.URL, err)
	}
	if len(r.Params) > 0 {
		q := u.Query()
		for k, vs := range r.Params {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Result is what a fetch produced
type Result struct {
	Outcome   Outcome
	Content   []byte
	Status    int
	Reason    string
	FromCache bool
}

// Fetcher is anything that can fetch a request
type Fetcher interface {
	Fetch(ctx context.Context, req Request) Result
}

// Browser is a session impersonating one device type
type Browser struct {
	device  DeviceType
	pool    *AgentPool
	timeout time.Duration

	mu     sync.Mutex
	agent  Agent
	client *http.Client
}

// Option configures a Browser
type Option func(*Browser)

// WithTimeout bounds each request
func WithTimeout(d time.Duration) Option {
	return func(b *Browser) { b.timeout = d }
}

// WithAgentPool sets where agents come from
func WithAgentPool(p *AgentPool) Option {
	return func(b *Browser) { b.pool = p }
}

// New creates a browser with a fresh agent
func New(device DeviceType, opts ...Option) (*Browser, error) {
	b := &Browser{
		device:  device,
		pool:    NewAgentPool(nil),
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(b)
	}
	if err := b.SwitchAgent(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Browser) String() string {
	agent := b.Agent()
	return fmt.Sprintf("<Browser: device_type=%s, user_agent=%s, proxy=%s>", b.device, agent.UserAgent, agent.Proxy)
}

// Agent returns the current agent
func (b *Browser) Agent() Agent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.agent
}

// DeviceType returns the impersonated device type
func (b *Browser) DeviceType() DeviceType {
	return b.device
}

// SwitchAgent picks a new user agent and proxy and drops all cookies
func (b *Browser) SwitchAgent() error {
	agent, err := b.pool.Renew(b.device)
	if err != nil {
		return err
	}
	transport, err := NewTransport(agent.Proxy)
	if err != nil {
		return err
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return fmt.Errorf("failed to create cookie jar: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client != nil {
		b.client.CloseIdleConnections()
	}
	b.agent = agent
	b.client = &http.Client{Transport: transport, Jar: jar, Timeout: b.timeout}
	return nil
}

// Close releases idle connections
func (b *Browser) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client != nil {
		b.client.CloseIdleConnections()
	}
}

// NewTransport returns a transport that routes through proxyURL, which may
// be an http(s) or socks5 proxy. An empty proxyURL connects directly.
func NewTransport(proxyURL string) (*http.Transport, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxyURL == "" {
		transport.Proxy = nil
		return transport, nil
	}
	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy %q: %w", proxyURL, err)
	}
	switch u.Scheme {
	case "http", "https":
		transport.Proxy = http.ProxyURL(u)
		// without this a refused CONNECT surfaces as a bare status text error
		transport.OnProxyConnectResponse = func(ctx context.Context, proxyURL *url.URL, connectReq *http.Request, connectRes *http.Response) error {
			if connectRes.StatusCode != http.StatusOK {
				return &ProxyRejectedError{Proxy: proxyURL.Redacted(), Status: connectRes.StatusCode}
			}
			return nil
		}
	case "socks5", "socks5h":
		dialer, err := proxy.FromURL(u, &net.Dialer{Timeout: 30 * time.Second})
		if err != nil {
			return nil, fmt.Errorf("invalid socks proxy %q: %w", proxyURL, err)
		}
		transport.Proxy = nil
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			transport.DialContext = cd.DialContext
		} else {
			transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		}
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
	}
	return transport, nil
}

// Fetch downloads req. Errors never escape: they become a non-success
// outcome with a reason.
func (b *Browser) Fetch(ctx context.Context, req Request) Result {
	log := logging.For("browser")

	target, err := req.FullURL()
	if err != nil {
		return Result{Outcome: Failure, Reason: err.Error()}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Result{Outcome: Failure, Reason: DescribeError(err)}
	}

	b.mu.Lock()
	agent, client := b.agent, b.client
	b.mu.Unlock()

	for k, vs := range DefaultHeaders {
		httpReq.Header[k] = append([]string(nil), vs...)
	}
	httpReq.Header.Set("User-Agent", agent.UserAgent)
	for k, vs := range req.Headers {
		httpReq.Header[http.CanonicalHeaderKey(k)] = append([]string(nil), vs...)
	}

	log.Debug("sending request", "url", target, "extra_headers", req.Headers, "proxy", agent.Proxy)

	resp, err := client.Do(httpReq)
	if err != nil {
		return Result{Outcome: ClassifyError(err), Reason: DescribeError(err)}
	}
	defer resp.Body.Close()

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{Outcome: ClassifyError(err), Status: resp.StatusCode, Reason: DescribeError(err)}
	}

	outcome := ClassifyStatus(resp.StatusCode)
	if outcome != Success {
		log.Error("non-200 response",
			"url", target,
			"request_headers", httpReq.Header,
			"status", resp.StatusCode,
			"content", truncate(content, 512),
		)
		return Result{Outcome: outcome, Status: resp.StatusCode, Reason: strconv.Itoa(resp.StatusCode)}
	}

	log.Debug("received response", "url", target, "size", humanize.Bytes(uint64(len(content))))
	return Result{Outcome: Success, Content: content, Status: resp.StatusCode}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// Package proxy manages the persisted and running proxy configuration and
// builds HTTP transports that honour it.
package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	xproxy "golang.org/x/net/proxy"

	"github.com/rabbyhub/desktop-ipc/pkg/events"
	"github.com/rabbyhub/desktop-ipc/pkg/ipc"
)

const logPrefix = "proxy:proxy"

// DefaultCheckTimeout bounds a proxy check when the caller's context has no deadline.
const DefaultCheckTimeout = 10 * time.Second

// Store persists the proxy configuration. LoadProxyConf returns nil when unset.
type Store interface {
	LoadProxyConf(ctx context.Context) (*ipc.AppProxyConf, error)
	SaveProxyConf(ctx context.Context, conf ipc.AppProxyConf) error
}

// Manager exposes the persisted configuration and the one the process runs with.
// The running configuration is captured at start; an applied change takes
// effect on the next start.
type Manager struct {
	mu        sync.Mutex
	store     Store
	publisher events.EventPublisher
	runtime   ipc.RunningAppProxyConf
	transport http.RoundTripper
}

// NewManager loads the persisted configuration and snapshots it as the running one.
func NewManager(ctx context.Context, store Store, publisher events.EventPublisher) (*Manager, error) {
	if publisher == nil {
		publisher = &events.NoOpPublisher{}
	}
	conf, err := load(ctx, store)
	if err != nil {
		return nil, fmt.Errorf("%s - load persisted proxy config: %w", logPrefix, err)
	}
	transport, err := NewTransport(conf)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - persisted proxy config unusable, running direct: %v", logPrefix, err))
		conf = DefaultConf()
		transport, _ = NewTransport(conf)
	}
	running := ipc.RunningAppProxyConf{
		ProxyType:     conf.ProxyType,
		ProxySettings: conf.ProxySettings,
		ProxyURL:      ProxyURL(conf),
	}
	slog.Info(fmt.Sprintf("%s - running with proxyType=%s", logPrefix, running.ProxyType))
	return &Manager{store: store, publisher: publisher, runtime: running, transport: transport}, nil
}

// DefaultConf is the configuration used when nothing was persisted.
func DefaultConf() ipc.AppProxyConf {
	return ipc.AppProxyConf{
		ProxyType: ipc.ProxyTypeSystem,
		ProxySettings: ipc.ProxySettings{
			Protocol: ipc.ProxyProtocolHTTP,
			Hostname: "127.0.0.1",
			Port:     8080,
		},
	}
}

// Get returns the persisted and running configurations.
func (m *Manager) Get(ctx context.Context) (*ipc.ProxyConfigResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conf, err := load(ctx, m.store)
	if err != nil {
		return nil, ipc.Errorf(ipc.CodeInternal, "load proxy config: %v", err)
	}
	return &ipc.ProxyConfigResponse{Persisted: conf, Runtime: m.runtime}, nil
}

// Apply validates and persists conf.
func (m *Manager) Apply(ctx context.Context, conf ipc.AppProxyConf) error {
	if err := Validate(conf); err != nil {
		return ipc.NewChannelError(ipc.CodeInvalidArgument, err.Error())
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.SaveProxyConf(ctx, conf); err != nil {
		return ipc.Errorf(ipc.CodeInternal, "save proxy config: %v", err)
	}
	slog.Info(fmt.Sprintf("%s - proxy config applied proxyType=%s", logPrefix, conf.ProxyType))

	// Credentials stay out of the event.
	redacted := conf
	redacted.ProxySettings.Password = ""
	if err := m.publisher.Publish(ctx, events.NewEvent(events.TopicProxyApplied, redacted)); err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to publish proxy change: %v", logPrefix, err))
	}
	return nil
}

// Check fetches req.DetectURL through the candidate proxy. Failures are
// reported in the result, never as an error.
func (m *Manager) Check(ctx context.Context, req ipc.CheckProxyConfigRequest) *ipc.CheckProxyConfigResponse {
	return Check(ctx, req)
}

// Transport returns the round tripper for the running configuration.
func (m *Manager) Transport() http.RoundTripper {
	return m.transport
}

// Check is the stateless form of Manager.Check.
func Check(ctx context.Context, req ipc.CheckProxyConfigRequest) *ipc.CheckProxyConfigResponse {
	invalid := func(format string, args ...interface{}) *ipc.CheckProxyConfigResponse {
		return &ipc.CheckProxyConfigResponse{Valid: false, ErrMsg: fmt.Sprintf(format, args...)}
	}

	target, err := url.Parse(req.DetectURL)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return invalid("Invalid detect URL: %s", req.DetectURL)
	}
	conf := ipc.AppProxyConf{ProxyType: ipc.ProxyTypeCustom, ProxySettings: req.ProxyConfig}
	if err := Validate(conf); err != nil {
		return invalid("%v", err)
	}
	transport, err := NewTransport(conf)
	if err != nil {
		return invalid("%v", err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultCheckTimeout)
		defer cancel()
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return invalid("%v", err)
	}
	resp, err := (&http.Client{Transport: transport}).Do(httpReq)
	if err != nil {
		slog.Debug(fmt.Sprintf("%s - check via %s failed: %v", logPrefix, ProxyURL(conf), err))
		return invalid("%v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusProxyAuthRequired {
		return invalid("Proxy authentication required")
	}
	return &ipc.CheckProxyConfigResponse{Valid: true}
}

// Validate checks that conf is complete for its proxy type.
func Validate(conf ipc.AppProxyConf) error {
	switch conf.ProxyType {
	case ipc.ProxyTypeNone, ipc.ProxyTypeSystem:
		return nil
	case ipc.ProxyTypeCustom:
	default:
		return fmt.Errorf("unknown proxy type %q", conf.ProxyType)
	}
	s := conf.ProxySettings
	if s.Protocol != ipc.ProxyProtocolHTTP && s.Protocol != ipc.ProxyProtocolSOCKS5 {
		return fmt.Errorf("unsupported proxy protocol %q", s.Protocol)
	}
	if s.Hostname == "" {
		return fmt.Errorf("proxy hostname is required")
	}
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("proxy port %d out of range", s.Port)
	}
	return nil
}

// ProxyURL renders conf as a proxy URL with the password redacted. It is
// empty when requests go direct or through the system proxy.
func ProxyURL(conf ipc.AppProxyConf) string {
	if conf.ProxyType != ipc.ProxyTypeCustom {
		return ""
	}
	return settingsURL(conf.ProxySettings).Redacted()
}

// NewTransport builds an http.Transport honouring conf.
func NewTransport(conf ipc.AppProxyConf) (*http.Transport, error) {
	base := http.DefaultTransport.(*http.Transport).Clone()
	switch conf.ProxyType {
	case ipc.ProxyTypeNone:
		base.Proxy = nil
		return base, nil
	case ipc.ProxyTypeSystem, "":
		base.Proxy = http.ProxyFromEnvironment
		return base, nil
	}
	if err := Validate(conf); err != nil {
		return nil, err
	}

	s := conf.ProxySettings
	switch s.Protocol {
	case ipc.ProxyProtocolHTTP:
		base.Proxy = http.ProxyURL(settingsURL(s))
	case ipc.ProxyProtocolSOCKS5:
		var auth *xproxy.Auth
		if s.Username != "" {
			auth = &xproxy.Auth{User: s.Username, Password: s.Password}
		}
		addr := net.JoinHostPort(s.Hostname, strconv.Itoa(s.Port))
		dialer, err := xproxy.SOCKS5("tcp", addr, auth, xproxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("%s - socks5 dialer: %w", logPrefix, err)
		}
		base.Proxy = nil
		if cd, ok := dialer.(xproxy.ContextDialer); ok {
			base.DialContext = cd.DialContext
		} else {
			base.DialContext = func(_ context.Context, network, address string) (net.Conn, error) {
				return dialer.Dial(network, address)
			}
		}
	}
	return base, nil
}

func settingsURL(s ipc.ProxySettings) *url.URL {
	u := &url.URL{Scheme: s.Protocol, Host: net.JoinHostPort(s.Hostname, strconv.Itoa(s.Port))}
	if s.Username != "" {
		u.User = url.UserPassword(s.Username, s.Password)
	}
	return u
}

func load(ctx context.Context, store Store) (ipc.AppProxyConf, error) {
	conf, err := store.LoadProxyConf(ctx)
	if err != nil {
		return ipc.AppProxyConf{}, err
	}
	if conf == nil {
		return DefaultConf(), nil
	}
	return *conf, nil
}

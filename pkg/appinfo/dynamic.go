package appinfo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/Masterminds/semver/v3"

	"github.com/rabbyhub/desktop-ipc/pkg/ipc"
)

const logPrefix = "appinfo:dynamic"

const (
	defaultFetchTimeout = 10 * time.Second
	maxConfigSize       = 1 << 20
)

// DynamicConfigLoader resolves the app dynamic config from a remote JSON
// document, then a local TOML file, then built-in defaults. The last
// successfully fetched remote config is kept and preferred over the file.
type DynamicConfigLoader struct {
	remoteURL  string
	filePath   string
	appVersion *semver.Version
	client     *http.Client

	mu   sync.Mutex
	last *ipc.AppDynamicConfig
}

// NewDynamicConfigLoader creates a loader. Empty remoteURL or filePath skip
// that source. appVersion is used to compute UpgradeRequired.
func NewDynamicConfigLoader(remoteURL, filePath, appVersion string, transport http.RoundTripper) *DynamicConfigLoader {
	if transport == nil {
		transport = http.DefaultTransport
	}
	v, err := semver.NewVersion(appVersion)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - app version %q is not semver, upgrade checks disabled", logPrefix, appVersion))
		v = nil
	}
	return &DynamicConfigLoader{
		remoteURL:  remoteURL,
		filePath:   filePath,
		appVersion: v,
		client:     &http.Client{Transport: transport, Timeout: defaultFetchTimeout},
	}
}

// DefaultDynamicConfig is served when no other source is available.
func DefaultDynamicConfig() ipc.AppDynamicConfig {
	return ipc.AppDynamicConfig{
		DomainMetas:    map[string]ipc.DomainMeta{},
		BlockedOrigins: []string{},
	}
}

// Load returns the best available config. When the remote source fails the
// fallback config is returned together with the error.
func (l *DynamicConfigLoader) Load(ctx context.Context) (ipc.AppDynamicConfig, error) {
	var remoteErr error
	if l.remoteURL != "" {
		cfg, err := l.fetch(ctx)
		if err == nil {
			l.mu.Lock()
			l.last = &cfg
			l.mu.Unlock()
			return l.finish(cfg), nil
		}
		slog.Warn(fmt.Sprintf("%s - remote config fetch failed: %v", logPrefix, err))
		remoteErr = err
	}

	l.mu.Lock()
	last := l.last
	l.mu.Unlock()
	if last != nil {
		return l.finish(*last), remoteErr
	}

	cfg, err := l.readFile()
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - local config unusable: %v", logPrefix, err))
		return l.finish(DefaultDynamicConfig()), errors.Join(remoteErr, err)
	}
	return l.finish(cfg), remoteErr
}

func (l *DynamicConfigLoader) fetch(ctx context.Context) (ipc.AppDynamicConfig, error) {
	var cfg ipc.AppDynamicConfig
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.remoteURL, nil)
	if err != nil {
		return cfg, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := l.client.Do(req)
	if err != nil {
		return cfg, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return cfg, fmt.Errorf("remote config returned status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxConfigSize))
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("decode remote config: %w", err)
	}
	return cfg, nil
}

// readFile loads the TOML file. A missing or unset file yields the default.
func (l *DynamicConfigLoader) readFile() (ipc.AppDynamicConfig, error) {
	if l.filePath == "" {
		return DefaultDynamicConfig(), nil
	}
	var cfg ipc.AppDynamicConfig
	if _, err := toml.DecodeFile(l.filePath, &cfg); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return DefaultDynamicConfig(), nil
		}
		return cfg, fmt.Errorf("decode %s: %w", l.filePath, err)
	}
	return cfg, nil
}

// finish fills empty collections and computes UpgradeRequired.
func (l *DynamicConfigLoader) finish(cfg ipc.AppDynamicConfig) ipc.AppDynamicConfig {
	if cfg.DomainMetas == nil {
		cfg.DomainMetas = map[string]ipc.DomainMeta{}
	}
	if cfg.BlockedOrigins == nil {
		cfg.BlockedOrigins = []string{}
	}
	cfg.UpgradeRequired = false
	if l.appVersion != nil && cfg.MinimumVersion != "" {
		minVersion, err := semver.NewVersion(cfg.MinimumVersion)
		if err != nil {
			slog.Warn(fmt.Sprintf("%s - ignoring invalid minimum_version %q", logPrefix, cfg.MinimumVersion))
		} else {
			cfg.UpgradeRequired = l.appVersion.LessThan(minVersion)
		}
	}
	return cfg
}

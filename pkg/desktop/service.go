// Package desktop implements the privileged side of the IPC surface by
// composing the dapp registry, app state, proxy, devices, page inspection,
// app info, and rabbyx forwarding.
package desktop

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/rabbyhub/desktop-ipc/pkg/appinfo"
	"github.com/rabbyhub/desktop-ipc/pkg/appstate"
	"github.com/rabbyhub/desktop-ipc/pkg/dapps"
	"github.com/rabbyhub/desktop-ipc/pkg/devices"
	"github.com/rabbyhub/desktop-ipc/pkg/events"
	"github.com/rabbyhub/desktop-ipc/pkg/ipc"
	"github.com/rabbyhub/desktop-ipc/pkg/proxy"
	"github.com/rabbyhub/desktop-ipc/pkg/webmeta"
)

const logPrefix = "desktop:service"

// RPCForwarder forwards rabbyx wallet queries.
type RPCForwarder interface {
	Query(ctx context.Context, q ipc.RabbyxRPCQuery) (*ipc.RabbyxQueryResponse, error)
}

// Resetter wipes all persisted data.
type Resetter interface {
	Clear(ctx context.Context) error
}

// Deps are the components a Service is built from. Rabbyx may be nil, in
// which case wallet queries report the engine as unavailable.
type Deps struct {
	AppVersion    string
	Dapps         *dapps.Service
	AppState      *appstate.Service
	Proxy         *proxy.Manager
	Devices       *devices.Service
	Inspector     *webmeta.Inspector
	DynamicConfig *appinfo.DynamicConfigLoader
	Rabbyx        RPCForwarder
	Resetter      Resetter
	Publisher     events.EventPublisher
}

// Service implements ipc.Handler and ipc.SendHandler.
type Service struct {
	Deps
	tabAnimating atomic.Bool
}

var (
	_ ipc.Handler     = (*Service)(nil)
	_ ipc.SendHandler = (*Service)(nil)
)

// NewService creates a Service.
func NewService(deps Deps) *Service {
	if deps.Publisher == nil {
		deps.Publisher = &events.NoOpPublisher{}
	}
	return &Service{Deps: deps}
}

// --- app info ---

// GetAppVersion answers get-app-version with the normalized version.
func (s *Service) GetAppVersion(_ context.Context) (*ipc.AppVersionResponse, error) {
	return &ipc.AppVersionResponse{Version: s.AppVersion}, nil
}

// GetOSInfo answers get-os-info.
func (s *Service) GetOSInfo(_ context.Context) (*ipc.OSInfo, error) {
	return appinfo.OSInfo(), nil
}

// GetAppDynamicConfig answers get-app-dynamic-config; a failed refresh still carries the fallback config.
func (s *Service) GetAppDynamicConfig(ctx context.Context) (*ipc.AppDynamicConfigResponse, error) {
	cfg, err := s.DynamicConfig.Load(ctx)
	resp := &ipc.AppDynamicConfigResponse{DynamicConfig: cfg}
	if err != nil {
		return resp, ipc.NewChannelError(ipc.CodeUnavailable, err.Error())
	}
	return resp, nil
}

// --- dapps ---

// DetectDapp probes rawURL and flags origins that are already registered.
func (s *Service) DetectDapp(ctx context.Context, rawURL string) (*ipc.DetectDappResponse, error) {
	res := s.Inspector.Detect(ctx, rawURL)
	if res.Data != nil {
		exists, err := s.Dapps.Exists(ctx, res.Data.FinalOrigin)
		if err != nil {
			return nil, err
		}
		if exists {
			res.Error = &ipc.DetectError{
				Type:    ipc.DetectErrorRepeat,
				Message: fmt.Sprintf("Dapp %s already exists", res.Data.FinalOrigin),
			}
		}
	}
	return &ipc.DetectDappResponse{Result: res}, nil
}

// DappsFetch answers dapps-fetch with the dapps and their partitioned order.
func (s *Service) DappsFetch(ctx context.Context) (*ipc.DappsFetchResponse, error) {
	return s.Dapps.Fetch(ctx)
}

// GetDapp answers get-dapp; an unknown origin gives a null dapp.
func (s *Service) GetDapp(ctx context.Context, origin string) (*ipc.GetDappResponse, error) {
	return s.Dapps.Get(ctx, origin)
}

// DappsPost answers dapps-post.
func (s *Service) DappsPost(ctx context.Context, dapp ipc.Dapp) (*ipc.ErrorResponse, error) {
	return &ipc.ErrorResponse{}, s.Dapps.Post(ctx, dapp)
}

// DappsPut answers dapps-put.
func (s *Service) DappsPut(ctx context.Context, dapp ipc.Dapp) error {
	return s.Dapps.Put(ctx, dapp)
}

// DappsReplace answers dapps-replace.
func (s *Service) DappsReplace(ctx context.Context, originsToDel ipc.OriginList, newDapp ipc.Dapp) (*ipc.NullableErrorResponse, error) {
	return &ipc.NullableErrorResponse{}, s.Dapps.Replace(ctx, originsToDel, newDapp)
}

// DappsDelete answers dapps-delete.
func (s *Service) DappsDelete(ctx context.Context, dapp ipc.Dapp) (*ipc.ErrorResponse, error) {
	return &ipc.ErrorResponse{}, s.Dapps.Delete(ctx, dapp.Origin)
}

// DappsTogglePin answers dapps-togglepin.
func (s *Service) DappsTogglePin(ctx context.Context, origins []string, nextPinned bool) (*ipc.ErrorResponse, error) {
	return &ipc.ErrorResponse{}, s.Dapps.TogglePin(ctx, origins, nextPinned)
}

// DappsSetOrder answers dapps-setOrder.
func (s *Service) DappsSetOrder(ctx context.Context, order ipc.DappsOrder) (*ipc.StrictErrorResponse, error) {
	return &ipc.StrictErrorResponse{}, s.Dapps.SetOrder(ctx, order)
}

// DappsPutProtocolBinding answers dapps-put-protocol-binding.
func (s *Service) DappsPutProtocolBinding(ctx context.Context, bindings ipc.ProtocolDappBindings) (*ipc.ErrorResponse, error) {
	return &ipc.ErrorResponse{}, s.Dapps.PutProtocolBindings(ctx, bindings)
}

// DappsFetchProtocolBinding answers dapps-fetch-protocol-binding.
func (s *Service) DappsFetchProtocolBinding(ctx context.Context) (*ipc.ProtocolBindingsResponse, error) {
	bindings, err := s.Dapps.FetchProtocolBindings(ctx)
	if err != nil {
		return nil, err
	}
	return &ipc.ProtocolBindingsResponse{Result: bindings}, nil
}

// --- app state ---

// GetDesktopAppState answers get-desktopAppState.
func (s *Service) GetDesktopAppState(ctx context.Context) (*ipc.DesktopAppStateResponse, error) {
	st, err := s.AppState.Get(ctx)
	if err != nil {
		return nil, err
	}
	return &ipc.DesktopAppStateResponse{State: st}, nil
}

// PutDesktopAppState merges the provided fields and returns the resulting state.
func (s *Service) PutDesktopAppState(ctx context.Context, patch ipc.DesktopAppStatePatch) (*ipc.DesktopAppStateResponse, error) {
	st, err := s.AppState.Put(ctx, patch)
	if err != nil {
		return nil, err
	}
	return &ipc.DesktopAppStateResponse{State: st}, nil
}

// ToggleActiveTabAnimating records whether the active tab is animating and
// tells the shell.
func (s *Service) ToggleActiveTabAnimating(ctx context.Context, visible bool) error {
	if s.tabAnimating.Swap(visible) == visible {
		return nil
	}
	s.publish(ctx, events.NewEvent(events.TopicActiveTabAnimating, map[string]bool{"animating": visible}))
	return nil
}

// TabAnimating reports the last recorded animating flag.
func (s *Service) TabAnimating() bool {
	return s.tabAnimating.Load()
}

// --- proxy ---

// CheckProxyConfig answers check-proxyConfig. Failures are reported in the result.
func (s *Service) CheckProxyConfig(ctx context.Context, req ipc.CheckProxyConfigRequest) (*ipc.CheckProxyConfigResponse, error) {
	return s.Proxy.Check(ctx, req), nil
}

// GetProxyConfig returns the persisted and the runtime proxy config.
func (s *Service) GetProxyConfig(ctx context.Context) (*ipc.ProxyConfigResponse, error) {
	return s.Proxy.Get(ctx)
}

// ApplyProxyConfig answers apply-proxyConfig.
func (s *Service) ApplyProxyConfig(ctx context.Context, conf ipc.AppProxyConf) error {
	return s.Proxy.Apply(ctx, conf)
}

// --- devices ---

// GetHIDDevices answers get-hid-devices.
func (s *Service) GetHIDDevices(ctx context.Context, query ipc.DeviceQuery) (*ipc.HIDDevicesResponse, error) {
	return s.Devices.HID(ctx, query)
}

// GetUSBDevices answers get-usb-devices.
func (s *Service) GetUSBDevices(ctx context.Context, query ipc.DeviceQuery) (*ipc.USBDevicesResponse, error) {
	return s.Devices.USB(ctx, query)
}

// ConfirmSelectedDevice resolves a pending device selection.
func (s *Service) ConfirmSelectedDevice(ctx context.Context, req ipc.ConfirmSelectedDeviceRequest) (*ipc.ConfirmSelectedDeviceResponse, error) {
	return s.Devices.Confirm(ctx, req)
}

// --- page inspection ---

// ParseFavicon answers parse-favicon.
func (s *Service) ParseFavicon(ctx context.Context, rawURL string) (*ipc.ParseFaviconResponse, error) {
	fav, err := s.Inspector.ParseFavicon(ctx, rawURL)
	if err != nil {
		return &ipc.ParseFaviconResponse{}, ipc.NewChannelError(ipc.CodeUnavailable, err.Error())
	}
	return &ipc.ParseFaviconResponse{Favicon: fav}, nil
}

// PreviewDapp answers preview-dapp.
func (s *Service) PreviewDapp(ctx context.Context, rawURL string) (*ipc.PreviewDappResponse, error) {
	img, err := s.Inspector.PreviewImage(ctx, rawURL)
	if err != nil {
		return &ipc.PreviewDappResponse{}, ipc.NewChannelError(ipc.CodeUnavailable, err.Error())
	}
	resp := &ipc.PreviewDappResponse{}
	if img != "" {
		resp.PreviewImg = &img
	}
	return resp, nil
}

// --- rabbyx ---

// RabbyxRPCQuery forwards a wallet RPC query to the rabbyx engine.
func (s *Service) RabbyxRPCQuery(ctx context.Context, query ipc.RabbyxRPCQuery) (*ipc.RabbyxQueryResponse, error) {
	if s.Rabbyx == nil {
		return &ipc.RabbyxQueryResponse{}, ipc.NewChannelError(ipc.CodeUnavailable, "rabbyx forwarding is not configured")
	}
	resp, err := s.Rabbyx.Query(ctx, query)
	if resp == nil {
		resp = &ipc.RabbyxQueryResponse{}
	}
	return resp, err
}

// --- send-only ---

// OpenExternalURL asks the shell to open rawURL in the system browser. Only
// http, https, and mailto URLs are forwarded.
func (s *Service) OpenExternalURL(ctx context.Context, rawURL string) error {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ipc.Errorf(ipc.CodeInvalidArgument, "invalid url %q: %v", rawURL, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		if u.Host == "" {
			return ipc.Errorf(ipc.CodeInvalidArgument, "url %q has no host", rawURL)
		}
	case "mailto":
	default:
		return ipc.Errorf(ipc.CodeInvalidArgument, "refusing to open url with scheme %q", u.Scheme)
	}
	slog.Info(fmt.Sprintf("%s - open external url %s", logPrefix, u.Redacted()))
	s.publish(ctx, events.NewEvent(events.TopicOpenExternalURL, map[string]string{"url": u.String()}))
	return nil
}

// ResetApp wipes persisted data and tells the shell to restart.
func (s *Service) ResetApp(ctx context.Context) error {
	slog.Warn(fmt.Sprintf("%s - resetting app data", logPrefix))
	if s.Resetter != nil {
		if err := s.Resetter.Clear(ctx); err != nil {
			return ipc.Errorf(ipc.CodeInternal, "reset app: %v", err)
		}
	}
	s.tabAnimating.Store(false)
	s.publish(ctx, events.NewEvent(events.TopicAppReset, nil))
	return nil
}

func (s *Service) publish(ctx context.Context, e *events.DesktopEvent) {
	if err := s.Publisher.Publish(ctx, e); err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to publish %s: %v", logPrefix, e.Topic, err))
	}
}

package client

import (
	"context"
	"encoding/json"

	"github.com/rabbyhub/desktop-ipc/pkg/ipc"
)

// Typed wrappers, one per channel. Wrappers of channels that report failure
// in-band return the record together with the error.

// GetAppVersion returns the desktop app version.
func (c *Client) GetAppVersion(ctx context.Context) (string, error) {
	var out ipc.AppVersionResponse
	err := c.Invoke(ctx, ipc.ChannelGetAppVersion, &out)
	return out.Version, err
}

// GetOSInfo returns platform, arch, release and hostname of the desktop host.
func (c *Client) GetOSInfo(ctx context.Context) (*ipc.OSInfo, error) {
	var out ipc.OSInfo
	if err := c.Invoke(ctx, ipc.ChannelGetOSInfo, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DetectDapp probes rawURL; a detection failure is reported in the result.
func (c *Client) DetectDapp(ctx context.Context, rawURL string) (*ipc.DappsDetectResult, error) {
	var out ipc.DetectDappResponse
	if err := c.Invoke(ctx, ipc.ChannelDetectDapp, &out, rawURL); err != nil {
		return nil, err
	}
	return &out.Result, nil
}

// --- dapps ---

// DappsFetch returns every dapp with the pinned and unpinned order.
func (c *Client) DappsFetch(ctx context.Context) (*ipc.DappsFetchResponse, error) {
	var out ipc.DappsFetchResponse
	if err := c.Invoke(ctx, ipc.ChannelDappsFetch, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetDapp returns the dapp registered for origin, if any.
func (c *Client) GetDapp(ctx context.Context, origin string) (*ipc.GetDappResponse, error) {
	var out ipc.GetDappResponse
	if err := c.Invoke(ctx, ipc.ChannelGetDapp, &out, origin); err != nil {
		return nil, err
	}
	return &out, nil
}

// DappsPost registers a new dapp.
func (c *Client) DappsPost(ctx context.Context, dapp ipc.Dapp) error {
	return c.Invoke(ctx, ipc.ChannelDappsPost, nil, dapp)
}

// DappsPut creates or updates a dapp.
func (c *Client) DappsPut(ctx context.Context, dapp ipc.Dapp) error {
	return c.Invoke(ctx, ipc.ChannelDappsPut, nil, dapp)
}

// DappsReplace deletes originsToDel and puts newDapp in the first one's slot.
func (c *Client) DappsReplace(ctx context.Context, originsToDel []string, newDapp ipc.Dapp) error {
	return c.Invoke(ctx, ipc.ChannelDappsReplace, nil, originsToDel, newDapp)
}

// DappsDelete removes a dapp with its order slot and protocol bindings.
func (c *Client) DappsDelete(ctx context.Context, dapp ipc.Dapp) error {
	return c.Invoke(ctx, ipc.ChannelDappsDelete, nil, dapp)
}

// DappsTogglePin moves origins to the pinned or unpinned list.
func (c *Client) DappsTogglePin(ctx context.Context, origins []string, nextPinned bool) error {
	return c.Invoke(ctx, ipc.ChannelDappsTogglePin, nil, origins, nextPinned)
}

// DappsSetOrder replaces the lists that are non-nil.
func (c *Client) DappsSetOrder(ctx context.Context, order ipc.DappsOrder) error {
	return c.Invoke(ctx, ipc.ChannelDappsSetOrder, nil, order)
}

// DappsPutProtocolBinding replaces the protocol bindings.
func (c *Client) DappsPutProtocolBinding(ctx context.Context, bindings ipc.ProtocolDappBindings) error {
	return c.Invoke(ctx, ipc.ChannelDappsPutProtocolBinding, nil, bindings)
}

// DappsFetchProtocolBinding returns the protocol bindings.
func (c *Client) DappsFetchProtocolBinding(ctx context.Context) (ipc.ProtocolDappBindings, error) {
	var out ipc.ProtocolBindingsResponse
	if err := c.Invoke(ctx, ipc.ChannelDappsFetchProtocolBinding, &out); err != nil {
		return nil, err
	}
	return out.Result, nil
}

// --- app state ---

// GetDesktopAppState returns the desktop app state.
func (c *Client) GetDesktopAppState(ctx context.Context) (*ipc.DesktopAppState, error) {
	var out ipc.DesktopAppStateResponse
	if err := c.Invoke(ctx, ipc.ChannelGetDesktopAppState, &out); err != nil {
		return nil, err
	}
	return &out.State, nil
}

// PutDesktopAppState merges patch and returns the resulting state.
func (c *Client) PutDesktopAppState(ctx context.Context, patch ipc.DesktopAppStatePatch) (*ipc.DesktopAppState, error) {
	var out ipc.DesktopAppStateResponse
	if err := c.Invoke(ctx, ipc.ChannelPutDesktopAppState, &out, patch); err != nil {
		return nil, err
	}
	return &out.State, nil
}

// ToggleActiveTabAnimating records whether the active tab is animating.
func (c *Client) ToggleActiveTabAnimating(ctx context.Context, visible bool) error {
	return c.Invoke(ctx, ipc.ChannelToggleActiveTabAnimating, nil, visible)
}

// --- proxy ---

// ValidateProxyConfig asks the desktop to reach detectURL through settings.
func (c *Client) ValidateProxyConfig(ctx context.Context, detectURL string, settings ipc.ProxySettings) (*ipc.CheckProxyConfigResponse, error) {
	var out ipc.CheckProxyConfigResponse
	req := ipc.CheckProxyConfigRequest{DetectURL: detectURL, ProxyConfig: settings}
	if err := c.Invoke(ctx, ipc.ChannelCheckProxyConfig, &out, req); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetProxyConfig returns the persisted and runtime proxy config.
func (c *Client) GetProxyConfig(ctx context.Context) (*ipc.ProxyConfigResponse, error) {
	var out ipc.ProxyConfigResponse
	if err := c.Invoke(ctx, ipc.ChannelGetProxyConfig, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ApplyProxyConfig persists conf; it takes effect on the next launch.
func (c *Client) ApplyProxyConfig(ctx context.Context, conf ipc.AppProxyConf) error {
	return c.Invoke(ctx, ipc.ChannelApplyProxyConfig, nil, conf)
}

// --- devices ---

// GetHIDDevices lists HID devices matching any of filters, or all without filters.
func (c *Client) GetHIDDevices(ctx context.Context, filters ...ipc.HIDDeviceFilter) ([]ipc.NodeHIDDeviceInfo, error) {
	var out ipc.HIDDevicesResponse
	err := c.Invoke(ctx, ipc.ChannelGetHIDDevices, &out, ipc.DeviceQuery{Filters: filters})
	return out.Devices, err
}

// GetUSBDevices lists USB devices matching any of filters, or all without filters.
func (c *Client) GetUSBDevices(ctx context.Context, filters ...ipc.HIDDeviceFilter) ([]ipc.USBDevice, error) {
	var out ipc.USBDevicesResponse
	err := c.Invoke(ctx, ipc.ChannelGetUSBDevices, &out, ipc.DeviceQuery{Filters: filters})
	return out.Devices, err
}

// ConfirmSelectedDevice resolves a pending selection; a nil device cancels it.
func (c *Client) ConfirmSelectedDevice(ctx context.Context, selectID string, device *ipc.SelectedDevice) (*ipc.ConfirmSelectedDeviceResponse, error) {
	var out ipc.ConfirmSelectedDeviceResponse
	err := c.Invoke(ctx, ipc.ChannelConfirmSelectedDevice, &out, ipc.ConfirmSelectedDeviceRequest{SelectID: selectID, Device: device})
	return &out, err
}

// --- page inspection ---

// ParseFavicon returns the best favicon of the page at rawURL.
func (c *Client) ParseFavicon(ctx context.Context, rawURL string) (*ipc.ParsedFavicon, error) {
	var out ipc.ParseFaviconResponse
	err := c.Invoke(ctx, ipc.ChannelParseFavicon, &out, rawURL)
	return out.Favicon, err
}

// PreviewDapp returns the page's preview image URL, or "" when it declares none.
func (c *Client) PreviewDapp(ctx context.Context, rawURL string) (string, error) {
	var out ipc.PreviewDappResponse
	err := c.Invoke(ctx, ipc.ChannelPreviewDapp, &out, rawURL)
	if out.PreviewImg == nil {
		return "", err
	}
	return *out.PreviewImg, err
}

// GetAppDynamicConfig returns the dynamic config; on a failed refresh the
// fallback config is returned along with the error.
func (c *Client) GetAppDynamicConfig(ctx context.Context) (*ipc.AppDynamicConfig, error) {
	var out ipc.AppDynamicConfigResponse
	err := c.Invoke(ctx, ipc.ChannelGetAppDynamicConfig, &out)
	return &out.DynamicConfig, err
}

// --- rabbyx ---

// RabbyxQuery forwards a wallet RPC call. Engine errors are reported in the
// response, not as an error.
func (c *Client) RabbyxQuery(ctx context.Context, method string, params ...interface{}) (*ipc.RabbyxQueryResponse, error) {
	raw := make([]json.RawMessage, 0, len(params))
	for _, p := range params {
		b, err := json.Marshal(p)
		if err != nil {
			return nil, ipc.Errorf(ipc.CodeInvalidArgument, "%s: encode param: %v", method, err)
		}
		raw = append(raw, b)
	}
	var out ipc.RabbyxQueryResponse
	err := c.Invoke(ctx, ipc.ChannelRabbyxRPCQuery, &out, ipc.RabbyxRPCQuery{Method: method, Params: raw})
	return &out, err
}

// --- send-only ---

// OpenExternalURL asks the shell to open rawURL in the system browser.
func (c *Client) OpenExternalURL(rawURL string) error {
	return c.Send(ipc.ChannelOpenExternalURL, rawURL)
}

// RequestResetApp asks the desktop to clear its stored data.
func (c *Client) RequestResetApp() error {
	return c.Send(ipc.ChannelResetApp)
}

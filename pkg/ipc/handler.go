package ipc

import "context"

// Handler implements every invoke channel. Adding a channel to the closed set
// means adding a method here, so a handler that misses a channel does not compile.
//
// A method returns either its response record or an error. For channels whose
// record carries an error field the dispatcher folds the error into that field,
// so implementations may return a partially filled record together with an error.
type Handler interface {
	GetAppVersion(ctx context.Context) (*AppVersionResponse, error)
	GetOSInfo(ctx context.Context) (*OSInfo, error)
	DetectDapp(ctx context.Context, url string) (*DetectDappResponse, error)
	DappsFetch(ctx context.Context) (*DappsFetchResponse, error)
	GetDapp(ctx context.Context, origin string) (*GetDappResponse, error)
	DappsPost(ctx context.Context, dapp Dapp) (*ErrorResponse, error)
	DappsPut(ctx context.Context, dapp Dapp) error
	DappsReplace(ctx context.Context, originsToDel OriginList, newDapp Dapp) (*NullableErrorResponse, error)
	DappsDelete(ctx context.Context, dapp Dapp) (*ErrorResponse, error)
	DappsTogglePin(ctx context.Context, origins []string, nextPinned bool) (*ErrorResponse, error)
	DappsSetOrder(ctx context.Context, order DappsOrder) (*StrictErrorResponse, error)
	DappsPutProtocolBinding(ctx context.Context, bindings ProtocolDappBindings) (*ErrorResponse, error)
	DappsFetchProtocolBinding(ctx context.Context) (*ProtocolBindingsResponse, error)
	GetDesktopAppState(ctx context.Context) (*DesktopAppStateResponse, error)
	PutDesktopAppState(ctx context.Context, patch DesktopAppStatePatch) (*DesktopAppStateResponse, error)
	ToggleActiveTabAnimating(ctx context.Context, visible bool) error
	CheckProxyConfig(ctx context.Context, req CheckProxyConfigRequest) (*CheckProxyConfigResponse, error)
	GetProxyConfig(ctx context.Context) (*ProxyConfigResponse, error)
	ApplyProxyConfig(ctx context.Context, conf AppProxyConf) error
	GetHIDDevices(ctx context.Context, query DeviceQuery) (*HIDDevicesResponse, error)
	GetUSBDevices(ctx context.Context, query DeviceQuery) (*USBDevicesResponse, error)
	ConfirmSelectedDevice(ctx context.Context, req ConfirmSelectedDeviceRequest) (*ConfirmSelectedDeviceResponse, error)
	ParseFavicon(ctx context.Context, url string) (*ParseFaviconResponse, error)
	PreviewDapp(ctx context.Context, url string) (*PreviewDappResponse, error)
	GetAppDynamicConfig(ctx context.Context) (*AppDynamicConfigResponse, error)
	RabbyxRPCQuery(ctx context.Context, query RabbyxRPCQuery) (*RabbyxQueryResponse, error)
}

// SendHandler implements the send-only channels.
type SendHandler interface {
	OpenExternalURL(ctx context.Context, url string) error
	ResetApp(ctx context.Context) error
}

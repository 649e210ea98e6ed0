package ipc

import "encoding/json"

// ErrorCarrier is implemented by response records that report failure in-band.
type ErrorCarrier interface {
	SetError(msg string)
}

// AppVersionResponse answers get-app-version.
type AppVersionResponse struct {
	Version string `json:"version"`
}

// DetectDappResponse answers detect-dapp.
type DetectDappResponse struct {
	Result DappsDetectResult `json:"result"`
}

// DappsFetchResponse answers dapps-fetch. PinnedList and UnpinnedList partition
// a subset of the origins in Dapps.
type DappsFetchResponse struct {
	Dapps        []Dapp   `json:"dapps"`
	PinnedList   []string `json:"pinnedList"`
	UnpinnedList []string `json:"unpinnedList"`
}

// GetDappResponse answers get-dapp.
type GetDappResponse struct {
	Dapp     *Dapp `json:"dapp"`
	IsPinned bool  `json:"isPinned"`
}

// ErrorResponse is the shape of channels that only report an optional error.
type ErrorResponse struct {
	Error string `json:"error,omitempty"`
}

// SetError records msg as the in-band error.
func (r *ErrorResponse) SetError(msg string) { r.Error = msg }

// NullableErrorResponse is the { error?: string | null } shape.
type NullableErrorResponse struct {
	Error *string `json:"error,omitempty"`
}

// SetError records msg as the in-band error.
func (r *NullableErrorResponse) SetError(msg string) { r.Error = &msg }

// StrictErrorResponse is the { error: string | null } shape; the field is always present.
type StrictErrorResponse struct {
	Error *string `json:"error"`
}

// SetError records msg as the in-band error.
func (r *StrictErrorResponse) SetError(msg string) { r.Error = &msg }

// ProtocolBindingsResponse answers dapps-fetch-protocol-binding.
type ProtocolBindingsResponse struct {
	Result ProtocolDappBindings `json:"result"`
}

// DesktopAppStateResponse answers get-desktopAppState and put-desktopAppState.
type DesktopAppStateResponse struct {
	State DesktopAppState `json:"state"`
}

// CheckProxyConfigRequest is the argument of check-proxyConfig.
type CheckProxyConfigRequest struct {
	DetectURL   string        `json:"detectURL"`
	ProxyConfig ProxySettings `json:"proxyConfig"`
}

// CheckProxyConfigResponse answers check-proxyConfig.
type CheckProxyConfigResponse struct {
	Valid  bool   `json:"valid"`
	ErrMsg string `json:"errMsg"`
}

// ProxyConfigResponse answers get-proxyConfig.
type ProxyConfigResponse struct {
	Persisted AppProxyConf        `json:"persisted"`
	Runtime   RunningAppProxyConf `json:"runtime"`
}

// DeviceQuery is the optional argument of get-hid-devices and get-usb-devices.
type DeviceQuery struct {
	Filters []HIDDeviceFilter `json:"filters,omitempty"`
}

// HIDDevicesResponse answers get-hid-devices.
type HIDDevicesResponse struct {
	Error   string              `json:"error,omitempty"`
	Devices []NodeHIDDeviceInfo `json:"devices"`
}

// SetError records msg as the in-band error; the device list stays a list.
func (r *HIDDevicesResponse) SetError(msg string) {
	r.Error = msg
	if r.Devices == nil {
		r.Devices = []NodeHIDDeviceInfo{}
	}
}

// USBDevicesResponse answers get-usb-devices.
type USBDevicesResponse struct {
	Error   string      `json:"error,omitempty"`
	Devices []USBDevice `json:"devices"`
}

// SetError records msg as the in-band error; the device list stays a list.
func (r *USBDevicesResponse) SetError(msg string) {
	r.Error = msg
	if r.Devices == nil {
		r.Devices = []USBDevice{}
	}
}

// ConfirmSelectedDeviceRequest is the argument of confirm-selected-device.
// A nil Device cancels the selection.
type ConfirmSelectedDeviceRequest struct {
	SelectID string          `json:"selectId"`
	Device   *SelectedDevice `json:"device"`
}

// ConfirmSelectedDeviceResponse answers confirm-selected-device. Error is nil for
// both an applied and a cancelled selection; Cancelled tells them apart.
type ConfirmSelectedDeviceResponse struct {
	Error     *string `json:"error"`
	Cancelled bool    `json:"cancelled,omitempty"`
}

// SetError records msg as the in-band error and clears Cancelled.
func (r *ConfirmSelectedDeviceResponse) SetError(msg string) {
	r.Error = &msg
	r.Cancelled = false
}

// ParseFaviconResponse answers parse-favicon.
type ParseFaviconResponse struct {
	Error   *string        `json:"error,omitempty"`
	Favicon *ParsedFavicon `json:"favicon"`
}

// SetError records msg as the in-band error.
func (r *ParseFaviconResponse) SetError(msg string) { r.Error = &msg }

// PreviewDappResponse answers preview-dapp. PreviewImg is an absolute image URL.
type PreviewDappResponse struct {
	Error      *string `json:"error,omitempty"`
	PreviewImg *string `json:"previewImg"`
}

// SetError records msg as the in-band error.
func (r *PreviewDappResponse) SetError(msg string) { r.Error = &msg }

// AppDynamicConfigResponse answers get-app-dynamic-config. DynamicConfig is
// populated even when Error is set.
type AppDynamicConfigResponse struct {
	Error         *string          `json:"error,omitempty"`
	DynamicConfig AppDynamicConfig `json:"dynamicConfig"`
}

// SetError records msg as the in-band error.
func (r *AppDynamicConfigResponse) SetError(msg string) { r.Error = &msg }

// RabbyxQueryResponse answers the rabbyx rpc query channel.
type RabbyxQueryResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error,omitempty"`
}

// SetError records msg as the in-band error.
func (r *RabbyxQueryResponse) SetError(msg string) { r.Error = &RPCError{Message: msg} }

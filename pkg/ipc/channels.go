// Package ipc defines the closed request/response surface exchanged between the
// desktop UI process and the privileged process: channel names, argument tuples,
// response records, the wire envelope, and the handler contracts.
package ipc

// Channel names one request/response (or send-only) operation.
type Channel string

// Invoke channels.
const (
	ChannelGetAppVersion             Channel = "get-app-version"
	ChannelGetOSInfo                 Channel = "get-os-info"
	ChannelDetectDapp                Channel = "detect-dapp"
	ChannelDappsFetch                Channel = "dapps-fetch"
	ChannelGetDapp                   Channel = "get-dapp"
	ChannelDappsPost                 Channel = "dapps-post"
	ChannelDappsPut                  Channel = "dapps-put"
	ChannelDappsReplace              Channel = "dapps-replace"
	ChannelDappsDelete               Channel = "dapps-delete"
	ChannelDappsTogglePin            Channel = "dapps-togglepin"
	ChannelDappsSetOrder             Channel = "dapps-setOrder"
	ChannelDappsPutProtocolBinding   Channel = "dapps-put-protocol-binding"
	ChannelDappsFetchProtocolBinding Channel = "dapps-fetch-protocol-binding"
	ChannelGetDesktopAppState        Channel = "get-desktopAppState"
	ChannelPutDesktopAppState        Channel = "put-desktopAppState"
	ChannelToggleActiveTabAnimating  Channel = "toggle-activetab-animating"
	ChannelCheckProxyConfig          Channel = "check-proxyConfig"
	ChannelGetProxyConfig            Channel = "get-proxyConfig"
	ChannelApplyProxyConfig          Channel = "apply-proxyConfig"
	ChannelGetHIDDevices             Channel = "get-hid-devices"
	ChannelGetUSBDevices             Channel = "get-usb-devices"
	ChannelConfirmSelectedDevice     Channel = "confirm-selected-device"
	ChannelParseFavicon              Channel = "parse-favicon"
	ChannelPreviewDapp               Channel = "preview-dapp"
	ChannelGetAppDynamicConfig       Channel = "get-app-dynamic-config"
	ChannelRabbyxRPCQuery            Channel = "__internal_rpc:rabbyx-rpc:query"
)

// Send-only channels. They never produce a response.
const (
	ChannelOpenExternalURL Channel = "__internal_rpc:app:open-external-url"
	ChannelResetApp        Channel = "__internal_rpc:app:reset-app"
)

// ChannelSpec describes the declared shape of a channel.
type ChannelSpec struct {
	Channel Channel `json:"channel"`
	// MinArgs is the number of required leading arguments.
	MinArgs int `json:"minArgs"`
	// MaxArgs is the declared tuple length.
	MaxArgs int `json:"maxArgs"`
	// Void reports that the channel resolves with no response record.
	Void bool `json:"void,omitempty"`
	// InBandError reports that the response record carries an error field.
	InBandError bool `json:"inBandError,omitempty"`
	SendOnly    bool `json:"sendOnly,omitempty"`
}

var invokeSpecs = []ChannelSpec{
	{Channel: ChannelGetAppVersion},
	{Channel: ChannelGetOSInfo},
	{Channel: ChannelDetectDapp, MinArgs: 1, MaxArgs: 1},
	{Channel: ChannelDappsFetch},
	{Channel: ChannelGetDapp, MinArgs: 1, MaxArgs: 1},
	{Channel: ChannelDappsPost, MinArgs: 1, MaxArgs: 1, InBandError: true},
	{Channel: ChannelDappsPut, MinArgs: 1, MaxArgs: 1, Void: true},
	{Channel: ChannelDappsReplace, MinArgs: 2, MaxArgs: 2, InBandError: true},
	{Channel: ChannelDappsDelete, MinArgs: 1, MaxArgs: 1, InBandError: true},
	{Channel: ChannelDappsTogglePin, MinArgs: 2, MaxArgs: 2, InBandError: true},
	{Channel: ChannelDappsSetOrder, MinArgs: 1, MaxArgs: 1, InBandError: true},
	{Channel: ChannelDappsPutProtocolBinding, MinArgs: 1, MaxArgs: 1, InBandError: true},
	{Channel: ChannelDappsFetchProtocolBinding},
	{Channel: ChannelGetDesktopAppState},
	{Channel: ChannelPutDesktopAppState, MinArgs: 1, MaxArgs: 1},
	{Channel: ChannelToggleActiveTabAnimating, MinArgs: 1, MaxArgs: 1, Void: true},
	{Channel: ChannelCheckProxyConfig, MinArgs: 1, MaxArgs: 1},
	{Channel: ChannelGetProxyConfig},
	{Channel: ChannelApplyProxyConfig, MinArgs: 1, MaxArgs: 1, Void: true},
	{Channel: ChannelGetHIDDevices, MaxArgs: 1, InBandError: true},
	{Channel: ChannelGetUSBDevices, MaxArgs: 1, InBandError: true},
	{Channel: ChannelConfirmSelectedDevice, MinArgs: 1, MaxArgs: 1, InBandError: true},
	{Channel: ChannelParseFavicon, MinArgs: 1, MaxArgs: 1, InBandError: true},
	{Channel: ChannelPreviewDapp, MinArgs: 1, MaxArgs: 1, InBandError: true},
	{Channel: ChannelGetAppDynamicConfig, InBandError: true},
	{Channel: ChannelRabbyxRPCQuery, MinArgs: 1, MaxArgs: 1, InBandError: true},
}

var sendSpecs = []ChannelSpec{
	{Channel: ChannelOpenExternalURL, MinArgs: 1, MaxArgs: 1, SendOnly: true},
	{Channel: ChannelResetApp, SendOnly: true},
}

var specIndex = func() map[Channel]ChannelSpec {
	m := make(map[Channel]ChannelSpec, len(invokeSpecs)+len(sendSpecs))
	for _, s := range invokeSpecs {
		m[s.Channel] = s
	}
	for _, s := range sendSpecs {
		m[s.Channel] = s
	}
	return m
}()

// InvokeChannels returns every invoke channel in declaration order.
func InvokeChannels() []Channel {
	out := make([]Channel, 0, len(invokeSpecs))
	for _, s := range invokeSpecs {
		out = append(out, s.Channel)
	}
	return out
}

// SendChannels returns every send-only channel.
func SendChannels() []Channel {
	out := make([]Channel, 0, len(sendSpecs))
	for _, s := range sendSpecs {
		out = append(out, s.Channel)
	}
	return out
}

// Manifest returns the declared shape of every channel, invoke channels first.
func Manifest() []ChannelSpec {
	out := make([]ChannelSpec, 0, len(invokeSpecs)+len(sendSpecs))
	out = append(out, invokeSpecs...)
	return append(out, sendSpecs...)
}

// Lookup returns the declared shape of a channel and whether it belongs to the closed set.
func Lookup(ch Channel) (ChannelSpec, bool) {
	s, ok := specIndex[ch]
	return s, ok
}

// IsInvoke reports whether ch is an invoke channel.
func (ch Channel) IsInvoke() bool {
	s, ok := specIndex[ch]
	return ok && !s.SendOnly
}

// IsSend reports whether ch is a send-only channel.
func (ch Channel) IsSend() bool {
	s, ok := specIndex[ch]
	return ok && s.SendOnly
}

package ipc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Dapp is a registered decentralized application. Origin is its primary key.
type Dapp struct {
	Origin        string `json:"origin"`
	Alias         string `json:"alias"`
	FaviconURL    string `json:"faviconUrl,omitempty"`
	FaviconBase64 string `json:"faviconBase64,omitempty"`
}

// DappsOrder holds the pinned and unpinned origin lists. A nil list means
// "not provided" and encodes as null; an empty list clears that list.
type DappsOrder struct {
	PinnedList   []string `json:"pinnedList"`
	UnpinnedList []string `json:"unpinnedList"`
}

// ProtocolDappBinding binds a protocol key to a dapp.
type ProtocolDappBinding struct {
	Origin  string `json:"origin"`
	SiteURL string `json:"siteUrl"`
}

// ProtocolDappBindings maps protocol keys to their bound dapp.
type ProtocolDappBindings map[string]ProtocolDappBinding

// OriginList accepts either a single origin string or an array of origins.
type OriginList []string

// UnmarshalJSON implements json.Unmarshaler.
func (l *OriginList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*l = OriginList{s}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("origins must be a string or an array of strings: %w", err)
	}
	*l = list
	return nil
}

// OSInfo describes the host operating system using Node-style names.
type OSInfo struct {
	Arch     string `json:"arch"`
	Platform string `json:"platform"`
	Release  string `json:"release"`
	Hostname string `json:"hostname"`
}

// Detect error types.
const (
	DetectErrorCertInvalid  = "HTTPS_CERT_INVALID"
	DetectErrorTimeout      = "TIMEOUT"
	DetectErrorInaccessible = "INACCESSIBLE"
	DetectErrorRepeat       = "REPEAT"
)

// DappsDetectResult is the outcome of probing a candidate dapp URL.
type DappsDetectResult struct {
	Data  *DetectedDapp `json:"data"`
	Error *DetectError  `json:"error,omitempty"`
}

// DetectedDapp holds what was learned about a reachable dapp.
type DetectedDapp struct {
	InputOrigin      string         `json:"inputOrigin"`
	FinalOrigin      string         `json:"finalOrigin"`
	RecommendedAlias string         `json:"recommendedAlias"`
	Icon             *ParsedFavicon `json:"icon"`
}

// DetectError classifies a failed detection.
type DetectError struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

// IconInfo is the <link> element an icon was taken from.
type IconInfo struct {
	Href  string `json:"href"`
	Rel   string `json:"rel,omitempty"`
	Sizes string `json:"sizes,omitempty"`
	Type  string `json:"type,omitempty"`
}

// ParsedFavicon is a resolved page icon.
type ParsedFavicon struct {
	IconInfo      *IconInfo `json:"iconInfo"`
	FaviconURL    string    `json:"faviconUrl,omitempty"`
	FaviconBase64 string    `json:"faviconBase64,omitempty"`
}

// DesktopAppState is the persisted shell state.
type DesktopAppState struct {
	HasStarted              bool `json:"hasStarted"`
	EnableContentProtection bool `json:"enableContentProtection"`
}

// DesktopAppStatePatch carries only the fields a caller wants to change.
type DesktopAppStatePatch struct {
	HasStarted              *bool `json:"hasStarted,omitempty"`
	EnableContentProtection *bool `json:"enableContentProtection,omitempty"`
}

// Proxy types.
const (
	ProxyTypeNone   = "none"
	ProxyTypeSystem = "system"
	ProxyTypeCustom = "custom"
)

// Proxy protocols.
const (
	ProxyProtocolHTTP   = "http"
	ProxyProtocolSOCKS5 = "socks5"
)

// ProxySettings addresses a custom proxy.
type ProxySettings struct {
	Protocol string `json:"protocol"`
	Hostname string `json:"hostname"`
	Port     int    `json:"port"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// AppProxyConf is the user-facing proxy configuration.
type AppProxyConf struct {
	ProxyType     string        `json:"proxyType"`
	ProxySettings ProxySettings `json:"proxySettings"`
}

// RunningAppProxyConf is the proxy configuration the process is running with.
type RunningAppProxyConf struct {
	ProxyType     string        `json:"proxyType"`
	ProxySettings ProxySettings `json:"proxySettings"`
	// ProxyURL is empty when requests go direct.
	ProxyURL string `json:"proxyUrl"`
}

// HIDDeviceFilter follows WebHID request filters; nil fields match anything.
type HIDDeviceFilter struct {
	VendorID  *int `json:"vendorId,omitempty"`
	ProductID *int `json:"productId,omitempty"`
	UsagePage *int `json:"usagePage,omitempty"`
	Usage     *int `json:"usage,omitempty"`
}

// NodeHIDDeviceInfo is an enumerated HID device.
type NodeHIDDeviceInfo struct {
	VendorID     int    `json:"vendorId"`
	ProductID    int    `json:"productId"`
	Path         string `json:"path,omitempty"`
	SerialNumber string `json:"serialNumber,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Product      string `json:"product,omitempty"`
	Release      int    `json:"release"`
	Interface    int    `json:"interface"`
	UsagePage    int    `json:"usagePage,omitempty"`
	Usage        int    `json:"usage,omitempty"`
}

// USBDevice is an enumerated USB device.
type USBDevice struct {
	VendorID         int    `json:"vendorId"`
	ProductID        int    `json:"productId"`
	DeviceClass      int    `json:"deviceClass"`
	DeviceSubclass   int    `json:"deviceSubclass"`
	DeviceProtocol   int    `json:"deviceProtocol"`
	ManufacturerName string `json:"manufacturerName,omitempty"`
	ProductName      string `json:"productName,omitempty"`
	SerialNumber     string `json:"serialNumber,omitempty"`
}

// HIDDevice is a candidate offered to the user during device selection.
type HIDDevice struct {
	DeviceID  string `json:"deviceId"`
	VendorID  int    `json:"vendorId"`
	ProductID int    `json:"productId"`
	Name      string `json:"name"`
	GUID      string `json:"guid,omitempty"`
}

// SelectedDevice is the part of a HIDDevice the UI sends back on confirmation.
type SelectedDevice struct {
	DeviceID  string `json:"deviceId"`
	ProductID int    `json:"productId"`
	VendorID  int    `json:"vendorId"`
}

// DomainMeta is per-domain metadata distributed through dynamic config.
type DomainMeta struct {
	Alias string   `json:"alias,omitempty" toml:"alias"`
	Tags  []string `json:"tags,omitempty" toml:"tags"`
}

// AppDynamicConfig is remotely tunable app configuration.
type AppDynamicConfig struct {
	DomainMetas     map[string]DomainMeta `json:"domain_metas,omitempty" toml:"domain_metas"`
	BlockedOrigins  []string              `json:"blocked_origins,omitempty" toml:"blocked_origins"`
	MinimumVersion  string                `json:"minimum_version,omitempty" toml:"minimum_version"`
	UpgradeRequired bool                  `json:"upgrade_required" toml:"-"`
}

// RabbyxRPCQuery is a wallet RPC call. RPCID is stamped by the privileged side.
type RabbyxRPCQuery struct {
	RPCID  string            `json:"rpcId,omitempty"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// RPCError is an Error-like value returned by the wallet engine.
type RPCError struct {
	Message string `json:"message"`
	Code    int    `json:"code,omitempty"`
}

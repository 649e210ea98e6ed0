package devices

import "github.com/rabbyhub/desktop-ipc/pkg/ipc"

// MatchHID reports whether dev satisfies every field present in f.
func MatchHID(dev ipc.NodeHIDDeviceInfo, f ipc.HIDDeviceFilter) bool {
	return eq(f.VendorID, dev.VendorID) &&
		eq(f.ProductID, dev.ProductID) &&
		eq(f.UsagePage, dev.UsagePage) &&
		eq(f.Usage, dev.Usage)
}

// MatchUSB reports whether dev satisfies the vendor and product fields of f.
// USB descriptors carry no usage page, so those fields are ignored.
func MatchUSB(dev ipc.USBDevice, f ipc.HIDDeviceFilter) bool {
	return eq(f.VendorID, dev.VendorID) && eq(f.ProductID, dev.ProductID)
}

// FilterHID returns the devices matching any of filters, in input order.
// No filters means every device.
func FilterHID(devs []ipc.NodeHIDDeviceInfo, filters []ipc.HIDDeviceFilter) []ipc.NodeHIDDeviceInfo {
	out := make([]ipc.NodeHIDDeviceInfo, 0, len(devs))
	for _, d := range devs {
		if len(filters) == 0 || anyMatch(filters, func(f ipc.HIDDeviceFilter) bool { return MatchHID(d, f) }) {
			out = append(out, d)
		}
	}
	return out
}

// FilterUSB is FilterHID for USB devices.
func FilterUSB(devs []ipc.USBDevice, filters []ipc.HIDDeviceFilter) []ipc.USBDevice {
	out := make([]ipc.USBDevice, 0, len(devs))
	for _, d := range devs {
		if len(filters) == 0 || anyMatch(filters, func(f ipc.HIDDeviceFilter) bool { return MatchUSB(d, f) }) {
			out = append(out, d)
		}
	}
	return out
}

func anyMatch(filters []ipc.HIDDeviceFilter, match func(ipc.HIDDeviceFilter) bool) bool {
	for _, f := range filters {
		if match(f) {
			return true
		}
	}
	return false
}

func eq(want *int, got int) bool {
	return want == nil || *want == got
}

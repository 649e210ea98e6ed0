package devices

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rabbyhub/desktop-ipc/pkg/events"
	"github.com/rabbyhub/desktop-ipc/pkg/ipc"
)

func intPtr(i int) *int { return &i }

const (
	ledgerVendor = 0x2c97
	trezorVendor = 0x1209
)

var testInventory = Inventory{
	HID: []ipc.NodeHIDDeviceInfo{
		{VendorID: ledgerVendor, ProductID: 0x4011, UsagePage: 0xffa0, Usage: 1, Product: "Nano X"},
		{VendorID: ledgerVendor, ProductID: 0x4011, UsagePage: 0xf1d0, Usage: 1, Product: "Nano X"},
		{VendorID: trezorVendor, ProductID: 0x53c1, UsagePage: 0xff00, Usage: 1, Product: "Trezor"},
	},
	USB: []ipc.USBDevice{
		{VendorID: ledgerVendor, ProductID: 0x4011, ProductName: "Nano X"},
		{VendorID: 0x05ac, ProductID: 0x8262, ProductName: "Keyboard"},
	},
}

func TestFilterHID(t *testing.T) {
	tests := []struct {
		name    string
		filters []ipc.HIDDeviceFilter
		want    int
	}{
		{"no filters returns all", nil, 3},
		{"empty filter matches all", []ipc.HIDDeviceFilter{{}}, 3},
		{"vendor only", []ipc.HIDDeviceFilter{{VendorID: intPtr(ledgerVendor)}}, 2},
		{"vendor and usage page", []ipc.HIDDeviceFilter{{VendorID: intPtr(ledgerVendor), UsagePage: intPtr(0xffa0)}}, 1},
		{"union of filters", []ipc.HIDDeviceFilter{{UsagePage: intPtr(0xffa0)}, {VendorID: intPtr(trezorVendor)}}, 2},
		{"no match", []ipc.HIDDeviceFilter{{VendorID: intPtr(1)}}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FilterHID(testInventory.HID, tt.filters)
			if len(got) != tt.want {
				t.Errorf("devices:devices_test - got %d devices, want %d", len(got), tt.want)
			}
			if got == nil {
				t.Errorf("devices:devices_test - expected non-nil slice")
			}
		})
	}
}

func TestFilterUSB_IgnoresUsage(t *testing.T) {
	got := FilterUSB(testInventory.USB, []ipc.HIDDeviceFilter{{VendorID: intPtr(ledgerVendor), UsagePage: intPtr(0xffa0)}})
	if len(got) != 1 || got[0].ProductName != "Nano X" {
		t.Errorf("devices:devices_test - unexpected usb match %+v", got)
	}
}

func TestFileSource(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "devices.json")
	if err := os.WriteFile(path, []byte(`{"hid":[{"vendorId":11415,"productId":16401,"release":0,"interface":0}],"usb":[]}`), 0o644); err != nil {
		t.Fatalf("devices:devices_test - write inventory: %v", err)
	}
	src := &FileSource{Path: path}
	hid, err := src.HIDDevices(ctx)
	if err != nil || len(hid) != 1 || hid[0].VendorID != ledgerVendor {
		t.Fatalf("devices:devices_test - HIDDevices = %+v, %v", hid, err)
	}

	missing := &FileSource{Path: filepath.Join(t.TempDir(), "nope.json")}
	if _, err := missing.USBDevices(ctx); err == nil {
		t.Errorf("devices:devices_test - expected error for missing inventory")
	}
}

func TestService_SourceFailureKeepsList(t *testing.T) {
	svc := NewService(&FileSource{Path: filepath.Join(t.TempDir(), "nope.json")}, nil)
	resp, err := svc.HID(context.Background(), ipc.DeviceQuery{})
	if err == nil {
		t.Fatalf("devices:devices_test - expected error")
	}
	if resp == nil || resp.Devices == nil || len(resp.Devices) != 0 {
		t.Errorf("devices:devices_test - expected empty non-nil list, got %+v", resp)
	}
}

func TestService_HIDWithQuery(t *testing.T) {
	svc := NewService(&StaticSource{Inventory: testInventory}, nil)
	resp, err := svc.HID(context.Background(), ipc.DeviceQuery{Filters: []ipc.HIDDeviceFilter{{VendorID: intPtr(trezorVendor)}}})
	if err != nil {
		t.Fatalf("devices:devices_test - HID: %v", err)
	}
	if len(resp.Devices) != 1 || resp.Devices[0].Product != "Trezor" {
		t.Errorf("devices:devices_test - unexpected devices %+v", resp.Devices)
	}
}

// promptCapture records the selectId announced by the broker.
func promptCapture() (events.EventPublisher, chan string) {
	ids := make(chan string, 4)
	return events.NewCallbackPublisher(func(_ context.Context, e *events.DesktopEvent) error {
		if p, ok := e.Payload.(SelectionPrompt); ok {
			ids <- p.SelectID
		}
		return nil
	}), ids
}

func TestBroker_ConfirmDevice(t *testing.T) {
	pub, ids := promptCapture()
	broker := NewBroker(pub, time.Second)
	svc := NewService(nil, broker)
	candidates := []ipc.HIDDevice{{DeviceID: "dev-1", VendorID: ledgerVendor, ProductID: 0x4011, Name: "Nano X"}}

	type result struct {
		sel *Selection
		err error
	}
	done := make(chan result, 1)
	go func() {
		sel, err := broker.Request(context.Background(), candidates)
		done <- result{sel, err}
	}()

	selectID := <-ids
	resp, err := svc.Confirm(context.Background(), ipc.ConfirmSelectedDeviceRequest{
		SelectID: selectID,
		Device:   &ipc.SelectedDevice{DeviceID: "dev-1", VendorID: ledgerVendor, ProductID: 0x4011},
	})
	if err != nil || resp.Error != nil || resp.Cancelled {
		t.Fatalf("devices:devices_test - Confirm = %+v, %v", resp, err)
	}

	r := <-done
	if r.err != nil || r.sel.Device == nil || r.sel.Device.DeviceID != "dev-1" {
		t.Errorf("devices:devices_test - Request = %+v, %v", r.sel, r.err)
	}
	if broker.Pending() != 0 {
		t.Errorf("devices:devices_test - selection still pending")
	}

	_, err = svc.Confirm(context.Background(), ipc.ConfirmSelectedDeviceRequest{SelectID: selectID})
	if chErr := ipc.AsChannelError(err); chErr == nil || chErr.Code != ipc.CodeNotFound {
		t.Errorf("devices:devices_test - second confirm: expected NOT_FOUND, got %v", err)
	}
}

func TestBroker_Cancel(t *testing.T) {
	pub, ids := promptCapture()
	broker := NewBroker(pub, time.Second)

	done := make(chan *Selection, 1)
	go func() {
		sel, _ := broker.Request(context.Background(), nil)
		done <- sel
	}()

	sel, err := broker.Confirm(<-ids, nil)
	if err != nil || !sel.Cancelled {
		t.Fatalf("devices:devices_test - cancel = %+v, %v", sel, err)
	}
	if got := <-done; got == nil || !got.Cancelled || got.Device != nil {
		t.Errorf("devices:devices_test - Request saw %+v", got)
	}
}

func TestBroker_RejectsDeviceNotOffered(t *testing.T) {
	pub, ids := promptCapture()
	broker := NewBroker(pub, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _, _ = broker.Request(ctx, []ipc.HIDDevice{{DeviceID: "dev-1"}}) }()

	selectID := <-ids
	if _, err := broker.Confirm(selectID, &ipc.SelectedDevice{DeviceID: "dev-2"}); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("devices:devices_test - expected ErrUnknownDevice, got %v", err)
	}
	if broker.Pending() != 1 {
		t.Errorf("devices:devices_test - rejected confirm must keep the selection pending")
	}
}

func TestBroker_Timeout(t *testing.T) {
	broker := NewBroker(nil, 20*time.Millisecond)
	_, err := broker.Request(context.Background(), nil)
	if !errors.Is(err, ErrSelectionTimeout) {
		t.Errorf("devices:devices_test - expected timeout, got %v", err)
	}
	if broker.Pending() != 0 {
		t.Errorf("devices:devices_test - timed out selection still pending")
	}
}

func TestBroker_ConfirmRacingTimeout(t *testing.T) {
	// Confirm and the timeout land close together; whichever wins, both
	// sides must agree on the outcome.
	for i := 0; i < 500; i++ {
		pub, ids := promptCapture()
		broker := NewBroker(pub, 200*time.Microsecond)

		type result struct {
			sel *Selection
			err error
		}
		done := make(chan result, 1)
		go func() {
			sel, err := broker.Request(context.Background(), nil)
			done <- result{sel, err}
		}()

		selectID := <-ids
		time.Sleep(190 * time.Microsecond)
		confirmed, confirmErr := broker.Confirm(selectID, &ipc.SelectedDevice{DeviceID: "dev-1"})
		r := <-done

		switch {
		case confirmErr == nil:
			if r.err != nil || r.sel == nil || r.sel.Device == nil || r.sel.Device.DeviceID != confirmed.Device.DeviceID {
				t.Fatalf("devices:devices_test - iteration %d: confirm applied but Request returned %+v, %v", i, r.sel, r.err)
			}
		case errors.Is(confirmErr, ErrSelectionNotFound):
			if !errors.Is(r.err, ErrSelectionTimeout) {
				t.Fatalf("devices:devices_test - iteration %d: confirm failed but Request returned %+v, %v", i, r.sel, r.err)
			}
		default:
			t.Fatalf("devices:devices_test - iteration %d: unexpected confirm error %v", i, confirmErr)
		}
		if broker.Pending() != 0 {
			t.Fatalf("devices:devices_test - iteration %d: selection left pending", i)
		}
	}
}

func TestBroker_ContextCancelled(t *testing.T) {
	broker := NewBroker(nil, time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := broker.Request(ctx, nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("devices:devices_test - expected deadline exceeded, got %v", err)
	}
}

func TestService_ConfirmRequiresSelectID(t *testing.T) {
	svc := NewService(nil, NewBroker(nil, 0))
	resp, err := svc.Confirm(context.Background(), ipc.ConfirmSelectedDeviceRequest{})
	if err == nil || resp == nil {
		t.Errorf("devices:devices_test - expected in-band failure, got %+v, %v", resp, err)
	}
}

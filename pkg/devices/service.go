package devices

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rabbyhub/desktop-ipc/pkg/ipc"
)

const serviceLogPrefix = "devices:service"

// Service answers the device channels.
type Service struct {
	source Source
	broker *Broker
}

// NewService creates a Service. A nil source serves no devices.
func NewService(source Source, broker *Broker) *Service {
	if source == nil {
		source = &StaticSource{}
	}
	return &Service{source: source, broker: broker}
}

// Broker returns the selection broker.
func (s *Service) Broker() *Broker {
	return s.broker
}

// HID lists HID devices matching query. A source failure is returned together
// with an empty list.
func (s *Service) HID(ctx context.Context, query ipc.DeviceQuery) (*ipc.HIDDevicesResponse, error) {
	devs, err := s.source.HIDDevices(ctx)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - hid enumeration failed: %v", serviceLogPrefix, err))
		return &ipc.HIDDevicesResponse{Devices: []ipc.NodeHIDDeviceInfo{}}, ipc.NewChannelError(ipc.CodeUnavailable, err.Error())
	}
	return &ipc.HIDDevicesResponse{Devices: FilterHID(devs, query.Filters)}, nil
}

// USB lists USB devices matching query.
func (s *Service) USB(ctx context.Context, query ipc.DeviceQuery) (*ipc.USBDevicesResponse, error) {
	devs, err := s.source.USBDevices(ctx)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - usb enumeration failed: %v", serviceLogPrefix, err))
		return &ipc.USBDevicesResponse{Devices: []ipc.USBDevice{}}, ipc.NewChannelError(ipc.CodeUnavailable, err.Error())
	}
	return &ipc.USBDevicesResponse{Devices: FilterUSB(devs, query.Filters)}, nil
}

// Confirm resolves a pending selection on behalf of the UI.
func (s *Service) Confirm(_ context.Context, req ipc.ConfirmSelectedDeviceRequest) (*ipc.ConfirmSelectedDeviceResponse, error) {
	if req.SelectID == "" {
		return &ipc.ConfirmSelectedDeviceResponse{}, ipc.NewChannelError(ipc.CodeInvalidArgument, "selectId is required")
	}
	if s.broker == nil {
		return &ipc.ConfirmSelectedDeviceResponse{}, ipc.NewChannelError(ipc.CodeUnavailable, "device selection is not available")
	}
	sel, err := s.broker.Confirm(req.SelectID, req.Device)
	switch {
	case errors.Is(err, ErrSelectionNotFound):
		return &ipc.ConfirmSelectedDeviceResponse{}, ipc.Errorf(ipc.CodeNotFound, "No pending selection %s", req.SelectID)
	case errors.Is(err, ErrUnknownDevice):
		return &ipc.ConfirmSelectedDeviceResponse{}, ipc.Errorf(ipc.CodeInvalidArgument, "Device %s was not offered", req.Device.DeviceID)
	case err != nil:
		return &ipc.ConfirmSelectedDeviceResponse{}, err
	}
	return &ipc.ConfirmSelectedDeviceResponse{Cancelled: sel.Cancelled}, nil
}

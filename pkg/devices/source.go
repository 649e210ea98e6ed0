// Package devices enumerates HID/USB devices, applies WebHID-style filters,
// and brokers device selection between the shell and the UI.
package devices

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rabbyhub/desktop-ipc/pkg/ipc"
)

// Source enumerates attached devices.
type Source interface {
	HIDDevices(ctx context.Context) ([]ipc.NodeHIDDeviceInfo, error)
	USBDevices(ctx context.Context) ([]ipc.USBDevice, error)
}

// Inventory is the on-disk device listing read by FileSource.
type Inventory struct {
	HID []ipc.NodeHIDDeviceInfo `json:"hid"`
	USB []ipc.USBDevice         `json:"usb"`
}

// FileSource reads a JSON Inventory on every query, so the file can be
// rewritten by whatever enumerates the hardware.
type FileSource struct {
	Path string
}

func (s *FileSource) read() (*Inventory, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read device inventory: %w", err)
	}
	var inv Inventory
	if err := json.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("parse device inventory %s: %w", s.Path, err)
	}
	return &inv, nil
}

func (s *FileSource) HIDDevices(_ context.Context) ([]ipc.NodeHIDDeviceInfo, error) {
	inv, err := s.read()
	if err != nil {
		return nil, err
	}
	return inv.HID, nil
}

func (s *FileSource) USBDevices(_ context.Context) ([]ipc.USBDevice, error) {
	inv, err := s.read()
	if err != nil {
		return nil, err
	}
	return inv.USB, nil
}

// StaticSource serves a fixed inventory. The zero value has no devices.
type StaticSource struct {
	Inventory Inventory
}

func (s *StaticSource) HIDDevices(_ context.Context) ([]ipc.NodeHIDDeviceInfo, error) {
	return s.Inventory.HID, nil
}

func (s *StaticSource) USBDevices(_ context.Context) ([]ipc.USBDevice, error) {
	return s.Inventory.USB, nil
}

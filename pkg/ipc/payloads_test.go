package ipc

import (
	"encoding/json"
	"testing"
)

const payloadsTestPrefix = "ipc:payloads_test"

func TestErrorCarriers_KeepShape(t *testing.T) {
	tests := []struct {
		name     string
		resp     ErrorCarrier
		wantKeys []string
	}{
		{"dapps-post", &ErrorResponse{}, []string{"error"}},
		{"dapps-replace", &NullableErrorResponse{}, []string{"error"}},
		{"dapps-setOrder", &StrictErrorResponse{}, []string{"error"}},
		{"get-hid-devices", &HIDDevicesResponse{}, []string{"error", "devices"}},
		{"get-usb-devices", &USBDevicesResponse{}, []string{"error", "devices"}},
		{"confirm-selected-device", &ConfirmSelectedDeviceResponse{}, []string{"error"}},
		{"parse-favicon", &ParseFaviconResponse{}, []string{"error", "favicon"}},
		{"preview-dapp", &PreviewDappResponse{}, []string{"error", "previewImg"}},
		{"get-app-dynamic-config", &AppDynamicConfigResponse{}, []string{"error", "dynamicConfig"}},
		{"rabbyx query", &RabbyxQueryResponse{}, []string{"error", "result"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.resp.SetError("boom")
			data, err := json.Marshal(tt.resp)
			if err != nil {
				t.Fatalf("%s - marshal failed: %v", payloadsTestPrefix, err)
			}
			var decoded map[string]interface{}
			if err := json.Unmarshal(data, &decoded); err != nil {
				t.Fatalf("%s - unmarshal failed: %v", payloadsTestPrefix, err)
			}
			for _, k := range tt.wantKeys {
				if _, ok := decoded[k]; !ok {
					t.Errorf("%s - %s missing key %q in %s", payloadsTestPrefix, tt.name, k, data)
				}
			}
		})
	}
}

func TestStrictErrorResponse_NullOnSuccess(t *testing.T) {
	data, err := json.Marshal(&StrictErrorResponse{})
	if err != nil {
		t.Fatalf("%s - marshal failed: %v", payloadsTestPrefix, err)
	}
	if string(data) != `{"error":null}` {
		t.Errorf("%s - got %s, want {\"error\":null}", payloadsTestPrefix, data)
	}
}

func TestGetDappResponse_NullDapp(t *testing.T) {
	data, err := json.Marshal(&GetDappResponse{})
	if err != nil {
		t.Fatalf("%s - marshal failed: %v", payloadsTestPrefix, err)
	}
	if string(data) != `{"dapp":null,"isPinned":false}` {
		t.Errorf("%s - got %s", payloadsTestPrefix, data)
	}
}

func TestChannelError(t *testing.T) {
	err := NewChannelError(CodeNotFound, "Dapp not found")
	if err.Error() != "NOT_FOUND: Dapp not found" {
		t.Errorf("%s - Error() = %q", payloadsTestPrefix, err.Error())
	}
	if err.Retryable() {
		t.Errorf("%s - NOT_FOUND should not be retryable", payloadsTestPrefix)
	}
	if !NewChannelError(CodeUnavailable, "down").Retryable() {
		t.Errorf("%s - UNAVAILABLE should be retryable", payloadsTestPrefix)
	}

	wrapped := AsChannelError(json.Unmarshal([]byte("{"), &struct{}{}))
	if wrapped.Code != CodeInternal {
		t.Errorf("%s - plain errors should map to INTERNAL_ERROR, got %s", payloadsTestPrefix, wrapped.Code)
	}
	if AsChannelError(nil) != nil {
		t.Errorf("%s - AsChannelError(nil) should be nil", payloadsTestPrefix)
	}
}

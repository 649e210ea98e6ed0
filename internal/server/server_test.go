package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"

	"github.com/rabbyhub/desktop-ipc/internal/config"
	"github.com/rabbyhub/desktop-ipc/pkg/commsutil"
	"github.com/rabbyhub/desktop-ipc/pkg/devices"
	"github.com/rabbyhub/desktop-ipc/pkg/events"
	"github.com/rabbyhub/desktop-ipc/pkg/ipc"
	"github.com/rabbyhub/desktop-ipc/pkg/memstore"
)

const serverTestPrefix = "server:server_test"

func testConfig() *config.Config {
	return &config.Config{
		StoreDriver:         config.StoreDriverMemory,
		AppVersion:          "v0.33.1",
		RequestTimeout:      5 * time.Second,
		DetectTimeout:       time.Second,
		DeviceSelectTimeout: 5 * time.Second,
		RabbyxTimeout:       time.Second,
		HealthCheckTimeout:  time.Second,
	}
}

// testServer returns a Server over a memory store without a COMMS connection.
func testServer(t *testing.T) (*Server, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	s, err := New(context.Background(), testConfig(), nil, store)
	if err != nil {
		t.Fatalf("%s - New failed: %v", serverTestPrefix, err)
	}
	t.Cleanup(s.Close)
	return s, store
}

func TestNew_InvalidVersion(t *testing.T) {
	cfg := testConfig()
	cfg.AppVersion = "not-a-version"
	if _, err := New(context.Background(), cfg, nil, memstore.New()); err == nil {
		t.Errorf("%s - expected error for invalid APP_VERSION", serverTestPrefix)
	}
}

func TestNew_NormalizesVersion(t *testing.T) {
	s, _ := testServer(t)
	if s.Desktop().AppVersion != "0.33.1" {
		t.Errorf("%s - AppVersion = %q, want 0.33.1", serverTestPrefix, s.Desktop().AppVersion)
	}
}

func TestSubscribe_WithoutComms(t *testing.T) {
	s, _ := testServer(t)
	if err := s.Subscribe(); err == nil {
		t.Errorf("%s - expected error without COMMS connection", serverTestPrefix)
	}
}

func TestAsync_CloseWaitsAndDropsLateMessages(t *testing.T) {
	s, _ := testServer(t)

	var started, finished atomic.Int32
	h := s.async(func(*comms.Msg) {
		started.Add(1)
		time.Sleep(time.Millisecond)
		finished.Add(1)
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				h(&comms.Msg{Subject: commsutil.SubjectInvoke})
			}
		}()
	}
	time.Sleep(2 * time.Millisecond)
	s.Close()

	// Everything admitted before Close has finished once Close returns.
	if started.Load() != finished.Load() {
		t.Errorf("%s - Close returned with %d handlers still running", serverTestPrefix, started.Load()-finished.Load())
	}
	wg.Wait()

	before := started.Load()
	h(&comms.Msg{Subject: commsutil.SubjectInvoke})
	time.Sleep(5 * time.Millisecond)
	if started.Load() != before {
		t.Errorf("%s - handler ran after Close", serverTestPrefix)
	}
}

func TestRequestContext(t *testing.T) {
	s, _ := testServer(t)
	tests := []struct {
		name string
		ic   *ipc.InvocationContext
		max  time.Duration
	}{
		{"no context", nil, 5 * time.Second},
		{"shorter caller timeout", &ipc.InvocationContext{TimeoutMs: 100}, 100 * time.Millisecond},
		{"longer caller timeout is capped", &ipc.InvocationContext{TimeoutMs: 60000}, 5 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := s.requestContext(tt.ic)
			defer cancel()
			deadline, ok := ctx.Deadline()
			if !ok {
				t.Fatalf("%s - expected a deadline", serverTestPrefix)
			}
			if left := time.Until(deadline); left > tt.max {
				t.Errorf("%s - deadline in %v, want <= %v", serverTestPrefix, left, tt.max)
			}
		})
	}
}

func TestHealthHandler_UnhealthyWithoutComms(t *testing.T) {
	s, _ := testServer(t)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("%s - health got status %d, want 503", serverTestPrefix, rec.Code)
	}
	var out HealthOutput
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("%s - decode health: %v", serverTestPrefix, err)
	}
	if out.Status != "unhealthy" || !out.Checks.Store || out.Checks.Comms {
		t.Errorf("%s - health = %+v", serverTestPrefix, out)
	}
}

func TestReadyHandler(t *testing.T) {
	s, _ := testServer(t)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("%s - ready got status %d, want 200", serverTestPrefix, rec.Code)
	}
	var out map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("%s - decode ready: %v", serverTestPrefix, err)
	}
	if out["status"] != "ready" {
		t.Errorf("%s - status = %q, want ready", serverTestPrefix, out["status"])
	}
}

func TestChannelsHandler(t *testing.T) {
	s, _ := testServer(t)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/channels", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("%s - channels got status %d", serverTestPrefix, rec.Code)
	}
	var specs []ipc.ChannelSpec
	if err := json.NewDecoder(rec.Body).Decode(&specs); err != nil {
		t.Fatalf("%s - decode channels: %v", serverTestPrefix, err)
	}
	if len(specs) != len(ipc.Manifest()) {
		t.Errorf("%s - got %d channels, want %d", serverTestPrefix, len(specs), len(ipc.Manifest()))
	}
}

func TestChannelHandler(t *testing.T) {
	s, _ := testServer(t)

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/channels/dapps-togglepin", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("%s - channel got status %d", serverTestPrefix, rec.Code)
	}
	var spec ipc.ChannelSpec
	if err := json.NewDecoder(rec.Body).Decode(&spec); err != nil {
		t.Fatalf("%s - decode channel: %v", serverTestPrefix, err)
	}
	if spec.Channel != ipc.ChannelDappsTogglePin || spec.MaxArgs != 2 {
		t.Errorf("%s - spec = %+v", serverTestPrefix, spec)
	}

	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/channels/no-such-channel", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("%s - unknown channel got status %d, want 404", serverTestPrefix, rec.Code)
	}
}

func TestHandleHome(t *testing.T) {
	s, store := testServer(t)
	_ = store.SaveDapp(context.Background(), ipc.Dapp{Origin: "https://app.uniswap.org", Alias: "Uniswap"})

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("%s - home got status %d, want 200", serverTestPrefix, rec.Code)
	}
	if rec.Header().Get("Content-Type") != "text/html; charset=utf-8" {
		t.Errorf("%s - Content-Type = %q", serverTestPrefix, rec.Header().Get("Content-Type"))
	}
	body := rec.Body.String()
	for _, want := range []string{"0.33.1", "1 registered", "dapps-fetch", "send-only"} {
		if !strings.Contains(body, want) {
			t.Errorf("%s - home page missing %q", serverTestPrefix, want)
		}
	}
}

func TestHandleHome_OnlyRoot(t *testing.T) {
	s, _ := testServer(t)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/other", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("%s - /other got status %d, want 404", serverTestPrefix, rec.Code)
	}
}

// --- over COMMS ---

type invokeReply struct {
	ID     string           `json:"id"`
	Ok     bool             `json:"ok"`
	Result json.RawMessage  `json:"result"`
	Error  *ipc.ErrorDetail `json:"error"`
}

func startCommsServer(t *testing.T, port int) *comms.Conn {
	t.Helper()
	ns, err := commsserver.NewServer(&commsserver.Options{Host: "127.0.0.1", Port: port, NoLog: true, NoSigs: true})
	if err != nil {
		t.Fatalf("%s - failed to create COMMS server: %v", serverTestPrefix, err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatalf("%s - COMMS server failed to start", serverTestPrefix)
	}
	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})

	nc, err := commsutil.Connect(ns.ClientURL(), "server-test")
	if err != nil {
		t.Fatalf("%s - Connect failed: %v", serverTestPrefix, err)
	}
	t.Cleanup(nc.Close)
	return nc
}

func subscribedServer(t *testing.T, port int) (*Server, *comms.Conn, *memstore.Store) {
	t.Helper()
	nc := startCommsServer(t, port)
	store := memstore.New()
	s, err := New(context.Background(), testConfig(), nc, store)
	if err != nil {
		t.Fatalf("%s - New failed: %v", serverTestPrefix, err)
	}
	if err := s.Subscribe(); err != nil {
		t.Fatalf("%s - Subscribe failed: %v", serverTestPrefix, err)
	}
	t.Cleanup(s.Close)
	return s, nc, store
}

func invoke(t *testing.T, nc *comms.Conn, data []byte) invokeReply {
	t.Helper()
	msg, err := nc.Request(commsutil.SubjectInvoke, data, 5*time.Second)
	if err != nil {
		t.Fatalf("%s - invoke request failed: %v", serverTestPrefix, err)
	}
	var reply invokeReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		t.Fatalf("%s - decode reply: %v", serverTestPrefix, err)
	}
	return reply
}

func invokeChannel(t *testing.T, nc *comms.Conn, ch ipc.Channel, args ...interface{}) invokeReply {
	t.Helper()
	raw, err := ipc.EncodeArgs(args...)
	if err != nil {
		t.Fatalf("%s - EncodeArgs: %v", serverTestPrefix, err)
	}
	data, _ := json.Marshal(ipc.InvokeRequest{ID: "req-1", Channel: ch, Args: raw})
	return invoke(t, nc, data)
}

func TestComms_Invoke(t *testing.T) {
	s, nc, _ := subscribedServer(t, 14280)

	reply := invokeChannel(t, nc, ipc.ChannelGetAppVersion)
	if !reply.Ok || reply.ID != "req-1" {
		t.Fatalf("%s - get-app-version reply = %+v", serverTestPrefix, reply)
	}
	var version ipc.AppVersionResponse
	if err := json.Unmarshal(reply.Result, &version); err != nil || version.Version != "0.33.1" {
		t.Errorf("%s - version = %+v, %v", serverTestPrefix, version, err)
	}

	reply = invokeChannel(t, nc, ipc.ChannelDappsPost, ipc.Dapp{Origin: "https://app.uniswap.org"})
	if !reply.Ok {
		t.Fatalf("%s - dapps-post reply = %+v", serverTestPrefix, reply)
	}
	reply = invokeChannel(t, nc, ipc.ChannelDappsFetch)
	var fetched ipc.DappsFetchResponse
	if err := json.Unmarshal(reply.Result, &fetched); err != nil || len(fetched.Dapps) != 1 {
		t.Errorf("%s - dapps-fetch = %+v, %v", serverTestPrefix, fetched, err)
	}

	reply = invokeChannel(t, nc, ipc.ChannelToggleActiveTabAnimating, true)
	if !reply.Ok || !s.Desktop().TabAnimating() {
		t.Errorf("%s - toggle-activetab-animating reply = %+v", serverTestPrefix, reply)
	}
}

func TestComms_InvokeErrors(t *testing.T) {
	_, nc, _ := subscribedServer(t, 14281)

	reply := invoke(t, nc, []byte("{not json"))
	if reply.Ok || reply.Error == nil || reply.Error.Code != ipc.CodeInvalidArgument {
		t.Errorf("%s - malformed envelope reply = %+v", serverTestPrefix, reply)
	}

	reply = invoke(t, nc, []byte(`{"id":"x","channel":"no-such-channel"}`))
	if reply.Ok || reply.Error == nil || reply.Error.Code != ipc.CodeChannelNotFound {
		t.Errorf("%s - unknown channel reply = %+v", serverTestPrefix, reply)
	}

	reply = invokeChannel(t, nc, ipc.ChannelGetDapp, 42)
	if reply.Ok || reply.Error == nil || reply.Error.Code != ipc.CodeInvalidArgument {
		t.Errorf("%s - bad args reply = %+v", serverTestPrefix, reply)
	}
}

func TestComms_Manifest(t *testing.T) {
	_, nc, _ := subscribedServer(t, 14282)

	msg, err := nc.Request(commsutil.SubjectManifest, nil, 5*time.Second)
	if err != nil {
		t.Fatalf("%s - manifest request failed: %v", serverTestPrefix, err)
	}
	var specs []ipc.ChannelSpec
	if err := json.Unmarshal(msg.Data, &specs); err != nil {
		t.Fatalf("%s - decode manifest: %v", serverTestPrefix, err)
	}
	if len(specs) != len(ipc.Manifest()) {
		t.Errorf("%s - manifest has %d channels, want %d", serverTestPrefix, len(specs), len(ipc.Manifest()))
	}
}

func TestComms_SendResetApp(t *testing.T) {
	_, nc, store := subscribedServer(t, 14283)
	ctx := context.Background()
	_ = store.SaveDapp(ctx, ipc.Dapp{Origin: "https://app.uniswap.org"})

	resetCh := make(chan struct{}, 1)
	sub, err := nc.Subscribe(commsutil.BuildEventSubject(commsutil.SubjectEvents, events.TopicAppReset), func(*comms.Msg) {
		resetCh <- struct{}{}
	})
	if err != nil {
		t.Fatalf("%s - subscribe failed: %v", serverTestPrefix, err)
	}
	defer sub.Unsubscribe()
	nc.Flush()

	data, _ := json.Marshal(ipc.SendMessage{Channel: ipc.ChannelResetApp})
	if err := nc.Publish(commsutil.SubjectSend, data); err != nil {
		t.Fatalf("%s - publish failed: %v", serverTestPrefix, err)
	}

	select {
	case <-resetCh:
	case <-time.After(5 * time.Second):
		t.Fatalf("%s - app.reset event not received", serverTestPrefix)
	}
	if list, _ := store.ListDapps(ctx); len(list) != 0 {
		t.Errorf("%s - store not cleared, %d dapps left", serverTestPrefix, len(list))
	}
}

func TestComms_DeviceSelection(t *testing.T) {
	_, nc, _ := subscribedServer(t, 14284)

	prompts := make(chan devices.SelectionPrompt, 1)
	sub, err := nc.Subscribe(commsutil.BuildEventSubject(commsutil.SubjectEvents, events.TopicDeviceSelectRequested), func(msg *comms.Msg) {
		var ev struct {
			Payload devices.SelectionPrompt `json:"payload"`
		}
		if err := json.Unmarshal(msg.Data, &ev); err == nil {
			prompts <- ev.Payload
		}
	})
	if err != nil {
		t.Fatalf("%s - subscribe failed: %v", serverTestPrefix, err)
	}
	defer sub.Unsubscribe()
	nc.Flush()

	candidate := ipc.HIDDevice{DeviceID: "hid-1", VendorID: 0x2c97, ProductID: 0x4011, Name: "Nano X"}
	req, _ := json.Marshal(devices.SelectionRequest{Candidates: []ipc.HIDDevice{candidate}})

	type result struct {
		reply selectionReply
		err   error
	}
	done := make(chan result, 1)
	go func() {
		msg, err := nc.Request(commsutil.SubjectDeviceSelect, req, 5*time.Second)
		if err != nil {
			done <- result{err: err}
			return
		}
		var r selectionReply
		err = json.Unmarshal(msg.Data, &r)
		done <- result{reply: r, err: err}
	}()

	var prompt devices.SelectionPrompt
	select {
	case prompt = <-prompts:
	case <-time.After(5 * time.Second):
		t.Fatalf("%s - selection prompt not published", serverTestPrefix)
	}

	reply := invokeChannel(t, nc, ipc.ChannelConfirmSelectedDevice, ipc.ConfirmSelectedDeviceRequest{
		SelectID: prompt.SelectID,
		Device:   &ipc.SelectedDevice{DeviceID: "hid-1", VendorID: 0x2c97, ProductID: 0x4011},
	})
	if !reply.Ok {
		t.Fatalf("%s - confirm reply = %+v", serverTestPrefix, reply)
	}

	res := <-done
	if res.err != nil {
		t.Fatalf("%s - selection request failed: %v", serverTestPrefix, res.err)
	}
	if res.reply.Error != nil || res.reply.Cancelled || res.reply.Device == nil || res.reply.Device.DeviceID != "hid-1" {
		t.Errorf("%s - selection reply = %+v", serverTestPrefix, res.reply)
	}
}

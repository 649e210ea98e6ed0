package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"

	"github.com/rabbyhub/desktop-ipc/internal/config"
	"github.com/rabbyhub/desktop-ipc/internal/server"
	"github.com/rabbyhub/desktop-ipc/pkg/commsutil"
	"github.com/rabbyhub/desktop-ipc/pkg/ipc"
	"github.com/rabbyhub/desktop-ipc/pkg/memstore"
)

const commandsTestPrefix = "commands:commands_test"

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCmd("test")
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestParseArgs(t *testing.T) {
	tuple := parseArgs([]string{"https://rabby.io", "true", `["a","b"]`, `{"origin":"x"}`, "12"})
	data, err := json.Marshal(tuple)
	if err != nil {
		t.Fatalf("%s - marshal: %v", commandsTestPrefix, err)
	}
	want := `["https://rabby.io",true,["a","b"],{"origin":"x"},12]`
	if string(data) != want {
		t.Errorf("%s - tuple = %s, want %s", commandsTestPrefix, data, want)
	}
	if got := parseArgs(nil); len(got) != 0 {
		t.Errorf("%s - empty args should give empty tuple, got %v", commandsTestPrefix, got)
	}
}

func TestChannels_Local(t *testing.T) {
	out, err := run(t, "channels")
	if err != nil {
		t.Fatalf("%s - channels: %v", commandsTestPrefix, err)
	}
	for _, want := range []string{"CHANNEL", "get-app-version", "dapps-put", "void", "get-hid-devices", "record + error", "__internal_rpc:app:reset-app", "send-only"} {
		if !strings.Contains(out, want) {
			t.Errorf("%s - output missing %q:\n%s", commandsTestPrefix, want, out)
		}
	}
}

func TestChannels_LocalJSON(t *testing.T) {
	out, err := run(t, "channels", "--json")
	if err != nil {
		t.Fatalf("%s - channels --json: %v", commandsTestPrefix, err)
	}
	var specs []ipc.ChannelSpec
	if err := json.Unmarshal([]byte(out), &specs); err != nil {
		t.Fatalf("%s - decode: %v", commandsTestPrefix, err)
	}
	if len(specs) != len(ipc.Manifest()) {
		t.Errorf("%s - got %d specs, want %d", commandsTestPrefix, len(specs), len(ipc.Manifest()))
	}
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	if err != nil {
		t.Fatalf("%s - version: %v", commandsTestPrefix, err)
	}
	if strings.TrimSpace(out) != "rabby-ipcctl test" {
		t.Errorf("%s - version output = %q", commandsTestPrefix, out)
	}
}

func TestInvoke_RequiresChannel(t *testing.T) {
	if _, err := run(t, "invoke"); err == nil {
		t.Errorf("%s - expected error without a channel", commandsTestPrefix)
	}
}

func TestInvoke_Unreachable(t *testing.T) {
	_, err := run(t, "--url", "nats://127.0.0.1:1", "invoke", "get-app-version")
	if err == nil || !strings.Contains(err.Error(), "connect to") {
		t.Errorf("%s - expected connect error, got %v", commandsTestPrefix, err)
	}
}

// --- against a running service ---

func startService(t *testing.T, port int) (string, *memstore.Store) {
	t.Helper()
	ns, err := commsserver.NewServer(&commsserver.Options{Host: "127.0.0.1", Port: port, NoLog: true, NoSigs: true})
	if err != nil {
		t.Fatalf("%s - failed to create COMMS server: %v", commandsTestPrefix, err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatalf("%s - COMMS server failed to start", commandsTestPrefix)
	}
	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})

	nc, err := commsutil.Connect(ns.ClientURL(), "commands-test")
	if err != nil {
		t.Fatalf("%s - Connect failed: %v", commandsTestPrefix, err)
	}
	t.Cleanup(nc.Close)

	cfg := &config.Config{
		StoreDriver:         config.StoreDriverMemory,
		AppVersion:          "0.33.1",
		RequestTimeout:      5 * time.Second,
		DetectTimeout:       time.Second,
		DeviceSelectTimeout: time.Second,
		RabbyxTimeout:       time.Second,
		HealthCheckTimeout:  time.Second,
	}
	store := memstore.New()
	s, err := server.New(context.Background(), cfg, nc, store)
	if err != nil {
		t.Fatalf("%s - server.New failed: %v", commandsTestPrefix, err)
	}
	if err := s.Subscribe(); err != nil {
		t.Fatalf("%s - Subscribe failed: %v", commandsTestPrefix, err)
	}
	t.Cleanup(s.Close)
	nc.Flush()
	return ns.ClientURL(), store
}

func TestService_InvokeAndChannels(t *testing.T) {
	url, _ := startService(t, 14290)
	flags := []string{"--url", url, "--timeout", "5s"}

	out, err := run(t, append(flags, "invoke", "get-app-version")...)
	if err != nil {
		t.Fatalf("%s - get-app-version: %v", commandsTestPrefix, err)
	}
	var version ipc.AppVersionResponse
	if err := json.Unmarshal([]byte(out), &version); err != nil || version.Version != "0.33.1" {
		t.Errorf("%s - get-app-version output = %q (%v)", commandsTestPrefix, out, err)
	}

	if _, err := run(t, append(flags, "invoke", "dapps-post", `{"origin":"https://app.uniswap.org","alias":"Uniswap"}`)...); err != nil {
		t.Fatalf("%s - dapps-post: %v", commandsTestPrefix, err)
	}
	if _, err := run(t, append(flags, "invoke", "dapps-togglepin", `["https://app.uniswap.org"]`, "true")...); err != nil {
		t.Fatalf("%s - dapps-togglepin: %v", commandsTestPrefix, err)
	}
	out, err = run(t, append(flags, "invoke", "dapps-fetch")...)
	if err != nil {
		t.Fatalf("%s - dapps-fetch: %v", commandsTestPrefix, err)
	}
	var list ipc.DappsFetchResponse
	if err := json.Unmarshal([]byte(out), &list); err != nil {
		t.Fatalf("%s - decode dapps-fetch: %v\n%s", commandsTestPrefix, err, out)
	}
	if len(list.Dapps) != 1 || len(list.PinnedList) != 1 || list.PinnedList[0] != "https://app.uniswap.org" {
		t.Errorf("%s - dapps-fetch = %+v", commandsTestPrefix, list)
	}

	out, err = run(t, append(flags, "channels", "--remote")...)
	if err != nil {
		t.Fatalf("%s - channels --remote: %v", commandsTestPrefix, err)
	}
	if !strings.Contains(out, "dapps-setOrder") {
		t.Errorf("%s - remote manifest missing dapps-setOrder:\n%s", commandsTestPrefix, out)
	}
}

func TestService_InvokeErrors(t *testing.T) {
	url, _ := startService(t, 14291)
	flags := []string{"--url", url, "--timeout", "5s"}

	cases := []struct {
		args []string
		code string
	}{
		{[]string{"invoke", "no-such-channel"}, ipc.CodeChannelNotFound},
		{[]string{"invoke", "__internal_rpc:app:open-external-url", "https://rabby.io"}, ipc.CodeChannelNotFound},
		{[]string{"invoke", "dapps-post", `{"origin":"ftp://example.com"}`}, ipc.CodeInvalidArgument},
		{[]string{"invoke", "get-dapp"}, ipc.CodeInvalidArgument},
	}
	for _, tc := range cases {
		t.Run(strings.Join(tc.args, " "), func(t *testing.T) {
			_, err := run(t, append(flags, tc.args...)...)
			if err == nil || !strings.HasPrefix(err.Error(), tc.code) {
				t.Errorf("%s - expected %s, got %v", commandsTestPrefix, tc.code, err)
			}
		})
	}
}

func TestService_SendResetApp(t *testing.T) {
	url, store := startService(t, 14292)
	ctx := context.Background()
	if err := store.SaveDapp(ctx, ipc.Dapp{Origin: "https://app.uniswap.org", Alias: "Uniswap"}); err != nil {
		t.Fatalf("%s - SaveDapp: %v", commandsTestPrefix, err)
	}

	out, err := run(t, "--url", url, "send", "__internal_rpc:app:reset-app")
	if err != nil {
		t.Fatalf("%s - send reset-app: %v", commandsTestPrefix, err)
	}
	if !strings.Contains(out, "sent __internal_rpc:app:reset-app") {
		t.Errorf("%s - send output = %q", commandsTestPrefix, out)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		list, _ := store.ListDapps(ctx)
		if len(list) == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("%s - store not cleared after reset-app, %d dapps left", commandsTestPrefix, len(list))
		}
		time.Sleep(20 * time.Millisecond)
	}

	if _, err := run(t, "--url", url, "send", "get-app-version"); err == nil {
		t.Errorf("%s - expected error sending on an invoke channel", commandsTestPrefix)
	}
}

func ExampleNewRootCmd() {
	root := NewRootCmd("dev")
	root.SetArgs([]string{"version"})
	var out bytes.Buffer
	root.SetOut(&out)
	_ = root.Execute()
	fmt.Print(out.String())
	// Output: rabby-ipcctl dev
}

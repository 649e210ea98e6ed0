package desktop

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/rabbyhub/desktop-ipc/pkg/appinfo"
	"github.com/rabbyhub/desktop-ipc/pkg/appstate"
	"github.com/rabbyhub/desktop-ipc/pkg/dapps"
	"github.com/rabbyhub/desktop-ipc/pkg/devices"
	"github.com/rabbyhub/desktop-ipc/pkg/events"
	"github.com/rabbyhub/desktop-ipc/pkg/ipc"
	"github.com/rabbyhub/desktop-ipc/pkg/memstore"
	"github.com/rabbyhub/desktop-ipc/pkg/proxy"
	"github.com/rabbyhub/desktop-ipc/pkg/webmeta"
)

const testPrefix = "desktop:service_test"

type recorder struct {
	mu     sync.Mutex
	topics []string
}

func (r *recorder) Publish(_ context.Context, e *events.DesktopEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, e.Topic)
	return nil
}

func (r *recorder) count(topic string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, t := range r.topics {
		if t == topic {
			n++
		}
	}
	return n
}

func newTestService(t *testing.T) (*Service, *memstore.Store, *recorder) {
	t.Helper()
	ctx := context.Background()
	store := memstore.New()
	rec := &recorder{}

	mgr, err := proxy.NewManager(ctx, store, rec)
	if err != nil {
		t.Fatalf("%s - proxy manager: %v", testPrefix, err)
	}
	svc := NewService(Deps{
		AppVersion:    "0.33.0",
		Dapps:         dapps.NewService(store, rec),
		AppState:      appstate.NewService(store, rec),
		Proxy:         mgr,
		Devices:       devices.NewService(&devices.StaticSource{}, devices.NewBroker(rec, 0)),
		Inspector:     webmeta.NewInspector(nil),
		DynamicConfig: appinfo.NewDynamicConfigLoader("", "", "0.33.0", nil),
		Resetter:      store,
		Publisher:     rec,
	})
	return svc, store, rec
}

func TestService_DetectDappRepeat(t *testing.T) {
	ctx := context.Background()
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><head><title>x</title></head></html>`)
	}))
	defer site.Close()

	svc, _, _ := newTestService(t)

	first, err := svc.DetectDapp(ctx, site.URL)
	if err != nil || first.Result.Error != nil || first.Result.Data == nil {
		t.Fatalf("%s - first detect = %+v, %v", testPrefix, first, err)
	}

	if _, err := svc.DappsPost(ctx, ipc.Dapp{Origin: first.Result.Data.FinalOrigin}); err != nil {
		t.Fatalf("%s - DappsPost: %v", testPrefix, err)
	}

	again, err := svc.DetectDapp(ctx, site.URL)
	if err != nil {
		t.Fatalf("%s - second detect: %v", testPrefix, err)
	}
	if again.Result.Error == nil || again.Result.Error.Type != ipc.DetectErrorRepeat {
		t.Errorf("%s - expected REPEAT, got %+v", testPrefix, again.Result.Error)
	}
}

func TestService_ToggleActiveTabAnimating(t *testing.T) {
	ctx := context.Background()
	svc, _, rec := newTestService(t)

	_ = svc.ToggleActiveTabAnimating(ctx, true)
	_ = svc.ToggleActiveTabAnimating(ctx, true)
	if !svc.TabAnimating() {
		t.Errorf("%s - expected animating", testPrefix)
	}
	_ = svc.ToggleActiveTabAnimating(ctx, false)
	if got := rec.count(events.TopicActiveTabAnimating); got != 2 {
		t.Errorf("%s - expected 2 change events, got %d", testPrefix, got)
	}
}

func TestService_OpenExternalURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"https://rabby.io", false},
		{"http://example.com/path?q=1", false},
		{"mailto:support@rabby.io", false},
		{"file:///etc/passwd", true},
		{"javascript:alert(1)", true},
		{"https://", true},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			svc, _, rec := newTestService(t)
			err := svc.OpenExternalURL(context.Background(), tt.url)
			if (err != nil) != tt.wantErr {
				t.Fatalf("%s - err=%v, wantErr=%v", testPrefix, err, tt.wantErr)
			}
			want := 1
			if tt.wantErr {
				want = 0
			}
			if got := rec.count(events.TopicOpenExternalURL); got != want {
				t.Errorf("%s - events = %d, want %d", testPrefix, got, want)
			}
		})
	}
}

func TestService_ResetApp(t *testing.T) {
	ctx := context.Background()
	svc, _, rec := newTestService(t)

	_, _ = svc.DappsPost(ctx, ipc.Dapp{Origin: "https://a.io"})
	started := true
	_, _ = svc.PutDesktopAppState(ctx, ipc.DesktopAppStatePatch{HasStarted: &started})

	if err := svc.ResetApp(ctx); err != nil {
		t.Fatalf("%s - ResetApp: %v", testPrefix, err)
	}
	list, _ := svc.DappsFetch(ctx)
	state, _ := svc.GetDesktopAppState(ctx)
	if len(list.Dapps) != 0 || state.State.HasStarted {
		t.Errorf("%s - reset left data: %+v %+v", testPrefix, list, state)
	}
	if rec.count(events.TopicAppReset) != 1 {
		t.Errorf("%s - expected app.reset event", testPrefix)
	}
}

func TestService_RabbyxUnavailable(t *testing.T) {
	svc, _, _ := newTestService(t)
	resp, err := svc.RabbyxRPCQuery(context.Background(), ipc.RabbyxRPCQuery{Method: "m"})
	if resp == nil || err == nil {
		t.Fatalf("%s - expected in-band failure, got %+v, %v", testPrefix, resp, err)
	}
	if chErr := ipc.AsChannelError(err); chErr.Code != ipc.CodeUnavailable {
		t.Errorf("%s - code = %s", testPrefix, chErr.Code)
	}
}

func TestService_PreviewDappNull(t *testing.T) {
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><head></head></html>`)
	}))
	defer site.Close()

	svc, _, _ := newTestService(t)
	resp, err := svc.PreviewDapp(context.Background(), site.URL)
	if err != nil {
		t.Fatalf("%s - PreviewDapp: %v", testPrefix, err)
	}
	if resp.PreviewImg != nil {
		t.Errorf("%s - expected null previewImg, got %q", testPrefix, *resp.PreviewImg)
	}
}

func TestService_GetAppDynamicConfig(t *testing.T) {
	svc, _, _ := newTestService(t)
	resp, err := svc.GetAppDynamicConfig(context.Background())
	if err != nil || resp.Error != nil {
		t.Fatalf("%s - GetAppDynamicConfig = %+v, %v", testPrefix, resp, err)
	}
	if resp.DynamicConfig.UpgradeRequired {
		t.Errorf("%s - default config must not require upgrade", testPrefix)
	}
}

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/rabbyhub/desktop-ipc/pkg/ipc"
)

const httpLogPrefix = "server:http"

// HealthChecks reports per-dependency status.
type HealthChecks struct {
	Store bool `json:"store"`
	Comms bool `json:"comms"`
}

// HealthOutput is the /health body.
type HealthOutput struct {
	Status    string       `json:"status"`
	Timestamp string       `json:"timestamp"`
	Checks    HealthChecks `json:"checks"`
}

// Router returns the HTTP handler: status page, health, readiness and channel manifest.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/", s.handleHome()).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ready", handleReady).Methods(http.MethodGet)
	r.HandleFunc("/channels", handleChannels).Methods(http.MethodGet)
	r.HandleFunc("/channels/{channel}", handleChannel).Methods(http.MethodGet)
	return r
}

// Health pings the store and checks the COMMS connection.
func (s *Server) Health(ctx context.Context) *HealthOutput {
	h := &HealthOutput{Timestamp: time.Now().UTC().Format(time.RFC3339)}
	if err := s.store.Ping(ctx); err != nil {
		slog.Warn(fmt.Sprintf("%s - store ping failed: %v", httpLogPrefix, err))
	} else {
		h.Checks.Store = true
	}
	h.Checks.Comms = s.nc != nil && s.nc.IsConnected()

	h.Status = "healthy"
	if !h.Checks.Store || !h.Checks.Comms {
		h.Status = "unhealthy"
	}
	return h
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
	defer cancel()
	h := s.Health(ctx)
	w.Header().Set("Content-Type", "application/json")
	if h.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(h)
}

func handleReady(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

func handleChannels(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=60")
	json.NewEncoder(w).Encode(ipc.Manifest())
}

func handleChannel(w http.ResponseWriter, r *http.Request) {
	spec, ok := ipc.Lookup(ipc.Channel(mux.Vars(r)["channel"]))
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(spec)
}

const homePageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>rabby-ipcd</title>
  <style>
    body { background: #fff; color: #000; font-family: system-ui, sans-serif; margin: 0; padding: 2rem; line-height: 1.5; }
    h1, h2 { color: #0066cc; }
    .status-healthy { color: #0066cc; font-weight: bold; }
    .status-unhealthy { color: #cc0000; font-weight: bold; }
    table { border-collapse: collapse; max-width: 900px; }
    th, td { text-align: left; padding: 0.4rem 0.75rem; border: 1px solid #ccc; }
    th { background: #f0f4f8; color: #0066cc; }
    .error { color: #cc0000; }
  </style>
</head>
<body>
  <h1>rabby-ipcd</h1>
  <section>
    <h2>Health</h2>
    <p>Status: <span class="status-{{.Health.Status}}">{{.Health.Status}}</span></p>
    <p>Version: {{.Version}}</p>
    <p>Store: {{if .Health.Checks.Store}}OK{{else}}<span class="error">Failed</span>{{end}}
       &middot; COMMS: {{if .Health.Checks.Comms}}OK{{else}}<span class="error">Disconnected</span>{{end}}</p>
  </section>
  <section>
    <h2>Dapps</h2>
    {{if .DappsError}}<p class="error">{{.DappsError}}</p>
    {{else}}<p>{{len .Dapps.Dapps}} registered, {{len .Dapps.PinnedList}} pinned.</p>{{end}}
  </section>
  <section>
    <h2>Channels</h2>
    <table>
      <thead><tr><th>Channel</th><th>Args</th><th>Reply</th></tr></thead>
      <tbody>
      {{range .Channels}}
        <tr>
          <td><a href="/channels/{{.Channel}}">{{.Channel}}</a></td>
          <td>{{.MinArgs}}..{{.MaxArgs}}</td>
          <td>{{if .SendOnly}}send-only{{else if .Void}}void{{else if .InBandError}}record + error{{else}}record{{end}}</td>
        </tr>
      {{end}}
      </tbody>
    </table>
  </section>
</body>
</html>
`

type homeData struct {
	Health     *HealthOutput
	Version    string
	Dapps      *ipc.DappsFetchResponse
	DappsError string
	Channels   []ipc.ChannelSpec
}

func (s *Server) handleHome() http.HandlerFunc {
	tmpl := template.Must(template.New("home").Parse(homePageTemplate))
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
		defer cancel()

		data := homeData{
			Health:   s.Health(ctx),
			Version:  s.desk.AppVersion,
			Channels: ipc.Manifest(),
		}
		list, err := s.desk.DappsFetch(ctx)
		if err != nil {
			data.DappsError = err.Error()
		} else {
			data.Dapps = list
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := tmpl.Execute(w, data); err != nil {
			slog.Error(fmt.Sprintf("%s - home template execute: %v", httpLogPrefix, err))
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}
}

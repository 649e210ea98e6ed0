// Package memstore is an in-process store for dapps, order, protocol bindings,
// and settings. It backs STORE_DRIVER=memory and the tests.
package memstore

import (
	"context"
	"sync"

	"github.com/rabbyhub/desktop-ipc/pkg/ipc"
)

// Store keeps everything in maps guarded by one RWMutex. Values are copied on
// the way in and out so callers never share slices with the store.
type Store struct {
	mu       sync.RWMutex
	dapps    map[string]ipc.Dapp
	order    ipc.DappsOrder
	bindings ipc.ProtocolDappBindings
	appState *ipc.DesktopAppState
	proxy    *ipc.AppProxyConf
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		dapps:    make(map[string]ipc.Dapp),
		bindings: make(ipc.ProtocolDappBindings),
	}
}

// Ping always succeeds.
func (s *Store) Ping(_ context.Context) error { return nil }

// Clear drops all data.
func (s *Store) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dapps = make(map[string]ipc.Dapp)
	s.order = ipc.DappsOrder{}
	s.bindings = make(ipc.ProtocolDappBindings)
	s.appState = nil
	s.proxy = nil
	return nil
}

func (s *Store) ListDapps(_ context.Context) ([]ipc.Dapp, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ipc.Dapp, 0, len(s.dapps))
	for _, d := range s.dapps {
		out = append(out, d)
	}
	return out, nil
}

func (s *Store) GetDapp(_ context.Context, origin string) (*ipc.Dapp, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.dapps[origin]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (s *Store) SaveDapp(_ context.Context, dapp ipc.Dapp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dapps[dapp.Origin] = dapp
	return nil
}

func (s *Store) DeleteDapps(_ context.Context, origins []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range origins {
		delete(s.dapps, o)
	}
	return nil
}

func (s *Store) LoadOrder(_ context.Context) (ipc.DappsOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ipc.DappsOrder{
		PinnedList:   copyList(s.order.PinnedList),
		UnpinnedList: copyList(s.order.UnpinnedList),
	}, nil
}

func (s *Store) SaveOrder(_ context.Context, order ipc.DappsOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = ipc.DappsOrder{
		PinnedList:   copyList(order.PinnedList),
		UnpinnedList: copyList(order.UnpinnedList),
	}
	return nil
}

func (s *Store) LoadProtocolBindings(_ context.Context) (ipc.ProtocolDappBindings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(ipc.ProtocolDappBindings, len(s.bindings))
	for k, v := range s.bindings {
		out[k] = v
	}
	return out, nil
}

func (s *Store) SaveProtocolBindings(_ context.Context, bindings ipc.ProtocolDappBindings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindings = make(ipc.ProtocolDappBindings, len(bindings))
	for k, v := range bindings {
		s.bindings[k] = v
	}
	return nil
}

// LoadAppState returns nil when nothing was saved yet.
func (s *Store) LoadAppState(_ context.Context) (*ipc.DesktopAppState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.appState == nil {
		return nil, nil
	}
	st := *s.appState
	return &st, nil
}

func (s *Store) SaveAppState(_ context.Context, state ipc.DesktopAppState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appState = &state
	return nil
}

// LoadProxyConf returns nil when nothing was saved yet.
func (s *Store) LoadProxyConf(_ context.Context) (*ipc.AppProxyConf, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.proxy == nil {
		return nil, nil
	}
	c := *s.proxy
	return &c, nil
}

func (s *Store) SaveProxyConf(_ context.Context, conf ipc.AppProxyConf) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proxy = &conf
	return nil
}

func copyList(list []string) []string {
	if list == nil {
		return nil
	}
	out := make([]string, len(list))
	copy(out, list)
	return out
}

// Package appstate keeps the persisted desktop shell state.
package appstate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rabbyhub/desktop-ipc/pkg/events"
	"github.com/rabbyhub/desktop-ipc/pkg/ipc"
)

const logPrefix = "appstate:appstate"

// Store persists the app state. LoadAppState returns nil when nothing was saved.
type Store interface {
	LoadAppState(ctx context.Context) (*ipc.DesktopAppState, error)
	SaveAppState(ctx context.Context, state ipc.DesktopAppState) error
}

// Service reads and patches the app state.
type Service struct {
	mu        sync.Mutex
	store     Store
	publisher events.EventPublisher
}

// NewService creates a new Service. A nil publisher disables events.
func NewService(store Store, publisher events.EventPublisher) *Service {
	if publisher == nil {
		publisher = &events.NoOpPublisher{}
	}
	return &Service{store: store, publisher: publisher}
}

// Get returns the current state, zero-valued when nothing was saved.
func (s *Service) Get(ctx context.Context) (ipc.DesktopAppState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

// Put merges the fields present in patch and returns the merged state.
func (s *Service) Put(ctx context.Context, patch ipc.DesktopAppStatePatch) (ipc.DesktopAppState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load(ctx)
	if err != nil {
		return state, err
	}
	if patch.HasStarted == nil && patch.EnableContentProtection == nil {
		return state, nil
	}
	if patch.HasStarted != nil {
		state.HasStarted = *patch.HasStarted
	}
	if patch.EnableContentProtection != nil {
		state.EnableContentProtection = *patch.EnableContentProtection
	}
	if err := s.store.SaveAppState(ctx, state); err != nil {
		return state, ipc.Errorf(ipc.CodeInternal, "save app state: %v", err)
	}

	slog.Info(fmt.Sprintf("%s - app state updated hasStarted=%v enableContentProtection=%v",
		logPrefix, state.HasStarted, state.EnableContentProtection))
	if err := s.publisher.Publish(ctx, events.NewEvent(events.TopicAppStateChanged, state)); err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to publish state change: %v", logPrefix, err))
	}
	return state, nil
}

func (s *Service) load(ctx context.Context) (ipc.DesktopAppState, error) {
	st, err := s.store.LoadAppState(ctx)
	if err != nil {
		return ipc.DesktopAppState{}, ipc.Errorf(ipc.CodeInternal, "load app state: %v", err)
	}
	if st == nil {
		return ipc.DesktopAppState{}, nil
	}
	return *st, nil
}

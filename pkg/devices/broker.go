package devices

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rabbyhub/desktop-ipc/pkg/events"
	"github.com/rabbyhub/desktop-ipc/pkg/ipc"
)

const brokerLogPrefix = "devices:broker"

// DefaultSelectTimeout bounds a pending selection when none is configured.
const DefaultSelectTimeout = 2 * time.Minute

var (
	// ErrSelectionNotFound is returned when a selectId is unknown or already resolved.
	ErrSelectionNotFound = errors.New("device selection not found")
	// ErrSelectionTimeout is returned by Request when nobody confirmed in time.
	ErrSelectionTimeout = errors.New("device selection timed out")
	// ErrUnknownDevice is returned when the confirmed device was not offered.
	ErrUnknownDevice = errors.New("device is not among the candidates")
)

// SelectionRequest is what the shell sends when a page asks for a device.
type SelectionRequest struct {
	Candidates []ipc.HIDDevice `json:"candidates"`
}

// SelectionPrompt is published so the UI can render the chooser.
type SelectionPrompt struct {
	SelectID   string          `json:"selectId"`
	Candidates []ipc.HIDDevice `json:"candidates"`
}

// Selection is the outcome of a request. Device is nil when Cancelled.
type Selection struct {
	SelectID  string              `json:"selectId"`
	Device    *ipc.SelectedDevice `json:"device"`
	Cancelled bool                `json:"cancelled"`
}

type pending struct {
	candidates []ipc.HIDDevice
	done       chan Selection
}

// Broker pairs shell selection requests with UI confirmations by selectId.
type Broker struct {
	mu        sync.Mutex
	pending   map[string]*pending
	publisher events.EventPublisher
	timeout   time.Duration
}

// NewBroker creates a Broker. A zero timeout uses DefaultSelectTimeout.
func NewBroker(publisher events.EventPublisher, timeout time.Duration) *Broker {
	if publisher == nil {
		publisher = &events.NoOpPublisher{}
	}
	if timeout <= 0 {
		timeout = DefaultSelectTimeout
	}
	return &Broker{
		pending:   make(map[string]*pending),
		publisher: publisher,
		timeout:   timeout,
	}
}

// Request registers a pending selection, announces it, and blocks until it is
// confirmed, cancelled, timed out, or ctx is done.
func (b *Broker) Request(ctx context.Context, candidates []ipc.HIDDevice) (*Selection, error) {
	selectID := uuid.NewString()
	p := &pending{candidates: candidates, done: make(chan Selection, 1)}

	b.mu.Lock()
	b.pending[selectID] = p
	b.mu.Unlock()

	slog.Info(fmt.Sprintf("%s - selection %s requested with %d candidates", brokerLogPrefix, selectID, len(candidates)))
	prompt := SelectionPrompt{SelectID: selectID, Candidates: candidates}
	if err := b.publisher.Publish(ctx, events.NewEvent(events.TopicDeviceSelectRequested, prompt)); err != nil {
		if sel, ok := b.abandon(selectID, p); ok {
			return sel, nil
		}
		return nil, fmt.Errorf("%s - announce selection: %w", brokerLogPrefix, err)
	}

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case sel := <-p.done:
		return &sel, nil
	case <-timer.C:
		if sel, ok := b.abandon(selectID, p); ok {
			return sel, nil
		}
		slog.Warn(fmt.Sprintf("%s - selection %s timed out", brokerLogPrefix, selectID))
		return nil, ErrSelectionTimeout
	case <-ctx.Done():
		if sel, ok := b.abandon(selectID, p); ok {
			return sel, nil
		}
		return nil, ctx.Err()
	}
}

// abandon removes selectID if it is still pending. When a Confirm already
// took it, the confirmed selection is returned with ok true.
func (b *Broker) abandon(selectID string, p *pending) (*Selection, bool) {
	b.mu.Lock()
	_, still := b.pending[selectID]
	if still {
		delete(b.pending, selectID)
	}
	b.mu.Unlock()
	if still {
		return nil, false
	}
	sel := <-p.done
	return &sel, true
}

// Confirm resolves a pending selection. A nil device cancels it.
func (b *Broker) Confirm(selectID string, device *ipc.SelectedDevice) (*Selection, error) {
	b.mu.Lock()
	p, ok := b.pending[selectID]
	if ok && device != nil && !offered(p.candidates, device) {
		b.mu.Unlock()
		return nil, ErrUnknownDevice
	}
	if ok {
		delete(b.pending, selectID)
	}
	b.mu.Unlock()

	if !ok {
		return nil, ErrSelectionNotFound
	}

	sel := Selection{SelectID: selectID, Device: device, Cancelled: device == nil}
	p.done <- sel
	slog.Info(fmt.Sprintf("%s - selection %s resolved cancelled=%v", brokerLogPrefix, selectID, sel.Cancelled))
	return &sel, nil
}

// Pending returns the number of unresolved selections.
func (b *Broker) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func offered(candidates []ipc.HIDDevice, device *ipc.SelectedDevice) bool {
	// An empty candidate list means the shell did not restrict the choice.
	if len(candidates) == 0 {
		return true
	}
	for _, c := range candidates {
		if c.DeviceID == device.DeviceID {
			return true
		}
	}
	return false
}

// Package dapps implements the dapp registry: records, pin/unpin partition,
// ordering and protocol bindings.
package dapps

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/rabbyhub/desktop-ipc/pkg/events"
	"github.com/rabbyhub/desktop-ipc/pkg/ipc"
)

const logPrefix = "dapps:service"

// Store persists dapps, their order, and protocol bindings.
type Store interface {
	ListDapps(ctx context.Context) ([]ipc.Dapp, error)
	// GetDapp returns nil, nil when the origin is unknown.
	GetDapp(ctx context.Context, origin string) (*ipc.Dapp, error)
	SaveDapp(ctx context.Context, dapp ipc.Dapp) error
	DeleteDapps(ctx context.Context, origins []string) error
	LoadOrder(ctx context.Context) (ipc.DappsOrder, error)
	SaveOrder(ctx context.Context, order ipc.DappsOrder) error
	LoadProtocolBindings(ctx context.Context) (ipc.ProtocolDappBindings, error)
	SaveProtocolBindings(ctx context.Context, bindings ipc.ProtocolDappBindings) error
}

// Service is the dapp registry. Mutations are serialized.
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

// Fetch returns all dapps with a normalized pinned/unpinned partition.
func (s *Service) Fetch(ctx context.Context) (*ipc.DappsFetchResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, order, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return &ipc.DappsFetchResponse{
		Dapps:        list,
		PinnedList:   order.PinnedList,
		UnpinnedList: order.UnpinnedList,
	}, nil
}

// Get returns one dapp. An unknown origin yields a nil dapp, not an error.
func (s *Service) Get(ctx context.Context, origin string) (*ipc.GetDappResponse, error) {
	normalized, err := NormalizeOrigin(origin)
	if err != nil {
		return &ipc.GetDappResponse{}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dapp, err := s.store.GetDapp(ctx, normalized)
	if err != nil {
		return nil, internal("get dapp", err)
	}
	if dapp == nil {
		return &ipc.GetDappResponse{}, nil
	}
	order, err := s.store.LoadOrder(ctx)
	if err != nil {
		return nil, internal("load order", err)
	}
	return &ipc.GetDappResponse{Dapp: dapp, IsPinned: contains(order.PinnedList, normalized)}, nil
}

// Exists reports whether origin is registered.
func (s *Service) Exists(ctx context.Context, origin string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dapp, err := s.store.GetDapp(ctx, origin)
	if err != nil {
		return false, internal("get dapp", err)
	}
	return dapp != nil, nil
}

// Post registers a new dapp at the end of the unpinned list.
func (s *Service) Post(ctx context.Context, dapp ipc.Dapp) error {
	dapp, err := prepare(dapp)
	if err != nil {
		return err
	}
	slog.Info(fmt.Sprintf("%s - Post origin=%s", logPrefix, dapp.Origin))

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.store.GetDapp(ctx, dapp.Origin)
	if err != nil {
		return internal("get dapp", err)
	}
	if existing != nil {
		return ipc.Errorf(ipc.CodeAlreadyExists, "Dapp already exists: %s", dapp.Origin)
	}
	if err := s.insert(ctx, dapp); err != nil {
		return err
	}
	s.publish(ctx, dapp.Origin)
	return nil
}

// Put creates or updates a dapp, keeping its list position when it exists.
func (s *Service) Put(ctx context.Context, dapp ipc.Dapp) error {
	dapp, err := prepare(dapp)
	if err != nil {
		return err
	}
	slog.Info(fmt.Sprintf("%s - Put origin=%s", logPrefix, dapp.Origin))

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.store.GetDapp(ctx, dapp.Origin)
	if err != nil {
		return internal("get dapp", err)
	}
	if existing == nil {
		if err := s.insert(ctx, dapp); err != nil {
			return err
		}
	} else if err := s.store.SaveDapp(ctx, dapp); err != nil {
		return internal("save dapp", err)
	}
	s.publish(ctx, dapp.Origin)
	return nil
}

// Replace deletes originsToDel and inserts newDapp at the list slot of the
// first deleted origin, carrying over its pinned status.
func (s *Service) Replace(ctx context.Context, originsToDel []string, newDapp ipc.Dapp) error {
	newDapp, err := prepare(newDapp)
	if err != nil {
		return err
	}
	slog.Info(fmt.Sprintf("%s - Replace %v with origin=%s", logPrefix, originsToDel, newDapp.Origin))

	s.mu.Lock()
	defer s.mu.Unlock()

	list, order, err := s.load(ctx)
	if err != nil {
		return err
	}

	drop := make(map[string]bool, len(originsToDel))
	for _, raw := range originsToDel {
		o, err := NormalizeOrigin(raw)
		if err != nil {
			return ipc.NewChannelError(ipc.CodeInvalidArgument, err.Error())
		}
		drop[o] = true
	}

	// Locate the slot of the first deleted origin that is actually listed.
	pinnedSlot, unpinnedSlot := -1, -1
	for _, raw := range originsToDel {
		o, _ := NormalizeOrigin(raw)
		if i := indexOf(order.PinnedList, o); i >= 0 {
			pinnedSlot = i
			break
		}
		if i := indexOf(order.UnpinnedList, o); i >= 0 {
			unpinnedSlot = i
			break
		}
	}

	var toDelete []string
	for _, d := range list {
		if drop[d.Origin] && d.Origin != newDapp.Origin {
			toDelete = append(toDelete, d.Origin)
		}
	}

	// The new dapp may already exist; it moves into the replaced slot.
	drop[newDapp.Origin] = true
	pinned := without(order.PinnedList, drop)
	unpinned := without(order.UnpinnedList, drop)
	if pinnedSlot >= 0 {
		pinned = insertAt(pinned, adjustSlot(order.PinnedList, drop, pinnedSlot), newDapp.Origin)
	} else if unpinnedSlot >= 0 {
		unpinned = insertAt(unpinned, adjustSlot(order.UnpinnedList, drop, unpinnedSlot), newDapp.Origin)
	} else {
		unpinned = append(unpinned, newDapp.Origin)
	}

	if len(toDelete) > 0 {
		if err := s.store.DeleteDapps(ctx, toDelete); err != nil {
			return internal("delete dapps", err)
		}
	}
	if err := s.store.SaveDapp(ctx, newDapp); err != nil {
		return internal("save dapp", err)
	}
	if err := s.store.SaveOrder(ctx, ipc.DappsOrder{PinnedList: pinned, UnpinnedList: unpinned}); err != nil {
		return internal("save order", err)
	}
	if err := s.rebindProtocols(ctx, toSet(toDelete), newDapp.Origin); err != nil {
		return err
	}
	s.publish(ctx, append(toDelete, newDapp.Origin)...)
	return nil
}

// Delete removes a dapp, its list slot, and protocol bindings pointing at it.
func (s *Service) Delete(ctx context.Context, origin string) error {
	normalized, err := NormalizeOrigin(origin)
	if err != nil {
		return ipc.NewChannelError(ipc.CodeInvalidArgument, err.Error())
	}
	slog.Info(fmt.Sprintf("%s - Delete origin=%s", logPrefix, normalized))

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.store.GetDapp(ctx, normalized)
	if err != nil {
		return internal("get dapp", err)
	}
	if existing == nil {
		return ipc.Errorf(ipc.CodeNotFound, "Dapp not found: %s", normalized)
	}

	order, err := s.store.LoadOrder(ctx)
	if err != nil {
		return internal("load order", err)
	}
	drop := map[string]bool{normalized: true}
	if err := s.store.DeleteDapps(ctx, []string{normalized}); err != nil {
		return internal("delete dapps", err)
	}
	if err := s.store.SaveOrder(ctx, ipc.DappsOrder{
		PinnedList:   without(order.PinnedList, drop),
		UnpinnedList: without(order.UnpinnedList, drop),
	}); err != nil {
		return internal("save order", err)
	}
	if err := s.rebindProtocols(ctx, drop, ""); err != nil {
		return err
	}
	s.publish(ctx, normalized)
	return nil
}

// TogglePin moves the known origins to the end of the pinned (nextPinned) or
// unpinned list. Unknown origins are skipped; if none is known the call fails.
func (s *Service) TogglePin(ctx context.Context, origins []string, nextPinned bool) error {
	slog.Info(fmt.Sprintf("%s - TogglePin %v pinned=%v", logPrefix, origins, nextPinned))

	s.mu.Lock()
	defer s.mu.Unlock()

	list, order, err := s.load(ctx)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(list))
	for _, d := range list {
		known[d.Origin] = true
	}

	var moved []string
	movedSet := make(map[string]bool)
	for _, raw := range origins {
		o, err := NormalizeOrigin(raw)
		if err != nil || !known[o] || movedSet[o] {
			continue
		}
		movedSet[o] = true
		moved = append(moved, o)
	}
	if len(moved) == 0 {
		return ipc.Errorf(ipc.CodeNotFound, "No known dapp among %v", origins)
	}

	pinned := without(order.PinnedList, movedSet)
	unpinned := without(order.UnpinnedList, movedSet)
	if nextPinned {
		pinned = append(pinned, moved...)
	} else {
		unpinned = append(unpinned, moved...)
	}
	if err := s.store.SaveOrder(ctx, ipc.DappsOrder{PinnedList: pinned, UnpinnedList: unpinned}); err != nil {
		return internal("save order", err)
	}
	s.publish(ctx, moved...)
	return nil
}

// SetOrder replaces the order of the provided lists. Every origin must be a
// registered dapp, and no origin may appear in both lists. An omitted list
// keeps its order minus origins moved into the provided list.
func (s *Service) SetOrder(ctx context.Context, next ipc.DappsOrder) error {
	slog.Info(fmt.Sprintf("%s - SetOrder pinned=%d unpinned=%d", logPrefix, len(next.PinnedList), len(next.UnpinnedList)))

	if next.PinnedList == nil && next.UnpinnedList == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list, current, err := s.load(ctx)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(list))
	for _, d := range list {
		known[d.Origin] = true
	}

	pinned, err := normalizeList(next.PinnedList, known)
	if err != nil {
		return err
	}
	unpinned, err := normalizeList(next.UnpinnedList, known)
	if err != nil {
		return err
	}
	pinnedSet, unpinnedSet := toSet(pinned), toSet(unpinned)
	for o := range pinnedSet {
		if unpinnedSet[o] {
			return ipc.Errorf(ipc.CodeInvalidArgument, "Origin %s cannot be both pinned and unpinned", o)
		}
	}

	if next.PinnedList == nil {
		pinned = without(current.PinnedList, unpinnedSet)
	}
	if next.UnpinnedList == nil {
		unpinned = without(current.UnpinnedList, pinnedSet)
	}

	order := normalizeOrder(list, ipc.DappsOrder{PinnedList: pinned, UnpinnedList: unpinned})
	if err := s.store.SaveOrder(ctx, order); err != nil {
		return internal("save order", err)
	}
	s.publish(ctx)
	return nil
}

// FetchProtocolBindings returns the protocol binding map.
func (s *Service) FetchProtocolBindings(ctx context.Context) (ipc.ProtocolDappBindings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bindings, err := s.store.LoadProtocolBindings(ctx)
	if err != nil {
		return nil, internal("load protocol bindings", err)
	}
	if bindings == nil {
		bindings = ipc.ProtocolDappBindings{}
	}
	return bindings, nil
}

// PutProtocolBindings replaces the protocol binding map. Every binding must
// reference a registered dapp.
func (s *Service) PutProtocolBindings(ctx context.Context, bindings ipc.ProtocolDappBindings) error {
	slog.Info(fmt.Sprintf("%s - PutProtocolBindings count=%d", logPrefix, len(bindings)))

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(ipc.ProtocolDappBindings, len(bindings))
	keys := make([]string, 0, len(bindings))
	for k := range bindings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, protocol := range keys {
		b := bindings[protocol]
		if protocol == "" {
			return ipc.NewChannelError(ipc.CodeInvalidArgument, "Protocol key is empty")
		}
		origin, err := NormalizeOrigin(b.Origin)
		if err != nil {
			return ipc.NewChannelError(ipc.CodeInvalidArgument, err.Error())
		}
		dapp, err := s.store.GetDapp(ctx, origin)
		if err != nil {
			return internal("get dapp", err)
		}
		if dapp == nil {
			return ipc.Errorf(ipc.CodeNotFound, "Dapp not found for protocol %s: %s", protocol, origin)
		}
		b.Origin = origin
		if b.SiteURL == "" {
			b.SiteURL = origin
		}
		out[protocol] = b
	}

	if err := s.store.SaveProtocolBindings(ctx, out); err != nil {
		return internal("save protocol bindings", err)
	}
	if err := s.publisher.Publish(ctx, events.NewEvent(events.TopicProtocolBindings, out)); err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to publish binding change: %v", logPrefix, err))
	}
	return nil
}

// --- helpers ---

// load returns dapps sorted by origin and the normalized order. Caller holds mu.
func (s *Service) load(ctx context.Context) ([]ipc.Dapp, ipc.DappsOrder, error) {
	list, err := s.store.ListDapps(ctx)
	if err != nil {
		return nil, ipc.DappsOrder{}, internal("list dapps", err)
	}
	if list == nil {
		list = []ipc.Dapp{}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Origin < list[j].Origin })
	order, err := s.store.LoadOrder(ctx)
	if err != nil {
		return nil, ipc.DappsOrder{}, internal("load order", err)
	}
	return list, normalizeOrder(list, order), nil
}

// insert saves a new dapp and appends it to the unpinned list. Caller holds mu.
func (s *Service) insert(ctx context.Context, dapp ipc.Dapp) error {
	order, err := s.store.LoadOrder(ctx)
	if err != nil {
		return internal("load order", err)
	}
	if err := s.store.SaveDapp(ctx, dapp); err != nil {
		return internal("save dapp", err)
	}
	drop := map[string]bool{dapp.Origin: true}
	order = ipc.DappsOrder{
		PinnedList:   without(order.PinnedList, drop),
		UnpinnedList: append(without(order.UnpinnedList, drop), dapp.Origin),
	}
	if err := s.store.SaveOrder(ctx, order); err != nil {
		return internal("save order", err)
	}
	return nil
}

// rebindProtocols points bindings of removed origins at target, or drops them
// when target is empty. Caller holds mu.
func (s *Service) rebindProtocols(ctx context.Context, removed map[string]bool, target string) error {
	bindings, err := s.store.LoadProtocolBindings(ctx)
	if err != nil {
		return internal("load protocol bindings", err)
	}
	changed := false
	for protocol, b := range bindings {
		if !removed[b.Origin] {
			continue
		}
		changed = true
		if target == "" {
			delete(bindings, protocol)
			continue
		}
		b.Origin = target
		b.SiteURL = target
		bindings[protocol] = b
	}
	if !changed {
		return nil
	}
	if err := s.store.SaveProtocolBindings(ctx, bindings); err != nil {
		return internal("save protocol bindings", err)
	}
	return nil
}

func (s *Service) publish(ctx context.Context, origins ...string) {
	if err := s.publisher.Publish(ctx, events.NewEvent(events.TopicDappsChanged, nil, origins...)); err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to publish dapps change: %v", logPrefix, err))
	}
}

func prepare(dapp ipc.Dapp) (ipc.Dapp, error) {
	origin, err := NormalizeOrigin(dapp.Origin)
	if err != nil {
		return dapp, ipc.NewChannelError(ipc.CodeInvalidArgument, err.Error())
	}
	dapp.Origin = origin
	if dapp.Alias == "" {
		dapp.Alias = DefaultAlias(origin)
	}
	return dapp, nil
}

// normalizeList canonicalizes and de-duplicates a provided list; nil stays nil.
func normalizeList(list []string, known map[string]bool) ([]string, error) {
	if list == nil {
		return nil, nil
	}
	out := make([]string, 0, len(list))
	seen := make(map[string]bool, len(list))
	for _, raw := range list {
		o, err := NormalizeOrigin(raw)
		if err != nil {
			return nil, ipc.NewChannelError(ipc.CodeInvalidArgument, err.Error())
		}
		if !known[o] {
			return nil, ipc.Errorf(ipc.CodeNotFound, "Dapp not found: %s", o)
		}
		if !seen[o] {
			seen[o] = true
			out = append(out, o)
		}
	}
	return out, nil
}

// adjustSlot maps an index in list to the index it has once drop is removed.
func adjustSlot(list []string, drop map[string]bool, slot int) int {
	n := 0
	for i := 0; i < slot && i < len(list); i++ {
		if !drop[list[i]] {
			n++
		}
	}
	return n
}

func internal(op string, err error) *ipc.ChannelError {
	slog.Error(fmt.Sprintf("%s - %s failed: %v", logPrefix, op, err))
	return ipc.Errorf(ipc.CodeInternal, "%s: %v", op, err)
}

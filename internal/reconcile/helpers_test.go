// StateSync - Multi-Backend Media Watch State Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/statesync

package reconcile

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/tomtom215/statesync/internal/backend"
	"github.com/tomtom215/statesync/internal/guid"
	"github.com/tomtom215/statesync/internal/queue"
	"github.com/tomtom215/statesync/internal/state"
)

// ============================================================================
// Fake backend
// ============================================================================

// fakeClient implements the parts of backend.Client the runs use. Calling
// anything else panics on the nil embedded interface.
type fakeClient struct {
	backend.Client

	bctx     backend.Context
	reg      *guid.Registry
	resolver guid.Resolver

	libs      []backend.Library
	libsErr   *backend.Error
	items     map[string][]backend.Item
	meta      map[string]backend.Item
	parents   map[string]guid.Set
	sessions  []backend.Session
	metaCalls atomic.Int32
}

func newFakeClient(name string) *fakeClient {
	u, _ := url.Parse("http://" + name + ".local")
	reg := guid.NewRegistry()
	opts := backend.DefaultOptions()
	opts.Concurrency = 2
	return &fakeClient{
		bctx:     backend.Context{Kind: backend.KindJellyfin, Name: name, URL: u, User: "u1", Options: opts},
		reg:      reg,
		resolver: guid.NewKeyResolver(name, reg, guid.EmptyRules().Jellyfin, nil),
		items:    map[string][]backend.Item{},
		meta:     map[string]backend.Item{},
		parents:  map[string]guid.Set{},
	}
}

func (f *fakeClient) addLibrary(id, typ string, items ...backend.Item) {
	f.libs = append(f.libs, backend.Library{ID: id, Title: "lib " + id, Type: typ, NativeType: typ, Supported: typ != backend.LibraryUnsupported})
	f.items[id] = items
	for _, it := range items {
		f.meta[it.ID] = it
	}
}

func (f *fakeClient) Context() backend.Context { return f.bctx }
func (f *fakeClient) Resolver() guid.Resolver  { return f.resolver }

func (f *fakeClient) GetLibrariesList(context.Context) backend.Result[[]backend.Library] {
	if f.libsErr != nil {
		return backend.Fail[[]backend.Library](f.libsErr)
	}
	return backend.OK(f.libs)
}

func (f *fakeClient) GetLibrary(_ context.Context, id string, _ backend.Options) backend.Result[[]backend.Item] {
	items, ok := f.items[id]
	if !ok {
		return backend.Failed[[]backend.Item](backend.UpstreamError(f.bctx.Name, http.StatusInternalServerError, "library %s broken", id))
	}
	return backend.OK(items)
}

func (f *fakeClient) GetMetaData(_ context.Context, id string, _ backend.MetaOptions) backend.Result[backend.Item] {
	f.metaCalls.Add(1)
	it, ok := f.meta[id]
	if !ok {
		return backend.Failed[backend.Item](backend.UpstreamError(f.bctx.Name, http.StatusNotFound, "item %s not found", id))
	}
	return backend.OK(it)
}

func (f *fakeClient) ToEntity(_ context.Context, it backend.Item, opts backend.EntityOptions) backend.Result[*state.Item] {
	if it.Type != state.TypeMovie && it.Type != state.TypeEpisode {
		return backend.Fail[*state.Item](backend.Wrap(f.bctx.Name, backend.ErrUnsupportedType, "item %s", it.ID))
	}
	ids := f.resolver.ResolveItem(it.Type, it.ID, it.RawIDs)
	return backend.OK(backend.NewEntity(f.bctx, f.reg, it, ids, f.parents[it.ParentID], opts))
}

func (f *fakeClient) GetSessions(context.Context) backend.Result[[]backend.Session] {
	return backend.OK(f.sessions)
}

func (f *fakeClient) PlayStateRequest(t backend.PlayStateTarget) (queue.Request, error) {
	method := http.MethodDelete
	if t.Watched {
		method = http.MethodPost
	}
	return queue.NewRequest(method, f.bctx.Endpoint("/played/"+t.ID, nil), nil, nil, queue.Tag{
		Backend: f.bctx.Name, Library: t.Library, Item: t.ID, Purpose: queue.PurposePlayState,
	}), nil
}

func (f *fakeClient) ProgressRequest(t backend.ProgressTarget) (queue.Request, error) {
	q := url.Values{"position": {strconv.FormatInt(t.Position, 10)}}
	return queue.NewRequest(http.MethodPost, f.bctx.Endpoint("/progress/"+t.ID, q), nil, nil, queue.Tag{
		Backend: f.bctx.Name, Library: t.Library, Item: t.ID, Purpose: queue.PurposeProgress,
	}), nil
}

func movie(id, imdb string, watched bool, date int64) backend.Item {
	raw := guid.RawIDs{}
	if imdb != "" {
		raw = guid.RawFromStrings(map[string]string{"Imdb": imdb})
	}
	return backend.Item{
		ID: id, Library: "lib-m", Type: state.TypeMovie, Title: "Movie " + id, Year: 2000,
		RawIDs: raw, Watched: watched, Date: date, LatestDate: date, AddedAt: date,
	}
}

func episode(id, tvdb, showID string, season, number int, watched bool, date int64) backend.Item {
	return backend.Item{
		ID: id, Library: "lib-s", Type: state.TypeEpisode, Title: "Episode " + id, ShowTitle: "Show",
		ParentID: showID, Season: season, Episode: number,
		RawIDs: guid.RawFromStrings(map[string]string{"Tvdb": tvdb}), Watched: watched, Date: date, LatestDate: date,
	}
}

// ============================================================================
// In-memory mapper
// ============================================================================

type staged struct {
	backend string
	item    *state.Item
}

type memMapper struct {
	mu     sync.Mutex
	items  []*state.Item
	staged []staged
	next   int
}

func (m *memMapper) lookup(item *state.Item) *state.Item {
	want := map[string]bool{}
	for _, p := range item.Pointers() {
		want[p] = true
	}
	for _, p := range item.RelativePointers() {
		want[p] = true
	}
	for _, stored := range m.items {
		if stored.Type != item.Type {
			continue
		}
		for _, p := range append(stored.Pointers(), stored.RelativePointers()...) {
			if want[p] {
				return stored
			}
		}
	}
	return nil
}

func (m *memMapper) Find(_ context.Context, item *state.Item) (*state.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if found := m.lookup(item); found != nil {
		return found.Clone(), nil
	}
	return nil, nil
}

func (m *memMapper) Add(_ context.Context, backendName string, item *state.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staged = append(m.staged, staged{backend: backendName, item: item.Clone()})
	return nil
}

func (m *memMapper) Commit(context.Context) (state.Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	summary := state.Summary{}
	for _, s := range m.staged {
		found := m.lookup(s.item)
		if found == nil {
			m.next++
			item := s.item.Clone()
			item.ID = strconv.Itoa(m.next)
			m.items = append(m.items, item)
			summary.Add(item.Type, "added", 1)
			continue
		}
		if found.Apply(s.backend, s.item) == state.ChangeNone {
			summary.Add(found.Type, "unchanged", 1)
		} else {
			summary.Add(found.Type, "updated", 1)
		}
	}
	m.staged = nil
	return summary, nil
}

func (m *memMapper) Changed(_ context.Context, since int64) ([]*state.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*state.Item
	for _, i := range m.items {
		if i.Updated > since {
			out = append(out, i.Clone())
		}
	}
	return out, nil
}

func (m *memMapper) Get(_ context.Context, id string) (*state.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, i := range m.items {
		if i.ID == id {
			return i.Clone(), nil
		}
	}
	return nil, nil
}

func (m *memMapper) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// seed stores a local item directly.
func (m *memMapper) seed(item *state.Item) *state.Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	item.ID = strconv.Itoa(m.next)
	m.items = append(m.items, item)
	return item.Clone()
}

func localMovie(imdb string, watched bool, updated int64) *state.Item {
	return &state.Item{
		Type: state.TypeMovie, Title: "Local", Watched: watched, Updated: updated,
		GUIDs:    guid.Set{guid.IMDB: imdb},
		Metadata: map[string]state.Metadata{},
		Extra:    map[string]state.Extra{},
	}
}

func checkOutcome(t *testing.T, s *Stats, itemType string, o Outcome, want int) {
	t.Helper()
	if got := s.Count(itemType, o); got != want {
		t.Errorf("%s.%s = %d, want %d (all: %v)", itemType, o, got, want, s.Snapshot())
	}
}

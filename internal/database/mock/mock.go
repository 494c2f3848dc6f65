// Package mock provides in-memory implementations of the fingerprint
// collaborators for testing.
package mock

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/kozaktomas/face-finder/internal/fingerprint"
)

type mockImage struct {
	name     string
	revision string
	data     []byte
}

// MockSource is an in-memory fingerprint.Source.
type MockSource struct {
	mu      sync.RWMutex
	images  map[string]mockImage
	fetches map[string]int

	// Error injection
	ListError   error
	FetchErrors map[string]error
}

// NewMockSource creates an empty mock source.
func NewMockSource() *MockSource {
	return &MockSource{
		images:      make(map[string]mockImage),
		fetches:     make(map[string]int),
		FetchErrors: make(map[string]error),
	}
}

// Put adds or replaces an image.
func (m *MockSource) Put(identity, revision string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.images[identity] = mockImage{name: identity + ".jpg", revision: revision, data: data}
}

// Rename changes the display name of an image without touching its revision.
func (m *MockSource) Rename(identity, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	img := m.images[identity]
	img.name = name
	m.images[identity] = img
}

// Remove deletes an image.
func (m *MockSource) Remove(identity string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.images, identity)
}

// FetchCount returns how many times an image was downloaded.
func (m *MockSource) FetchCount(identity string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fetches[identity]
}

// List implements fingerprint.Source. Images are listed in identity order.
func (m *MockSource) List(ctx context.Context) ([]fingerprint.SourceImage, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := slices.Sorted(maps.Keys(m.images))
	out := make([]fingerprint.SourceImage, 0, len(ids))
	for _, id := range ids {
		img := m.images[id]
		out = append(out, fingerprint.SourceImage{
			Identity: id,
			Name:     img.name,
			Revision: img.revision,
			Fetch:    m.fetcher(id, img.data),
		})
	}
	return out, nil
}

func (m *MockSource) fetcher(identity string, data []byte) func(context.Context) ([]byte, error) {
	return func(ctx context.Context) ([]byte, error) {
		m.mu.Lock()
		m.fetches[identity]++
		err := m.FetchErrors[identity]
		m.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return slices.Clone(data), nil
	}
}

// MockExtractor is a fingerprint.Extractor keyed by image content.
type MockExtractor struct {
	mu    sync.Mutex
	faces map[string][]fingerprint.FaceEmbedding
	bad   map[string]bool
	calls map[string]int
	total int

	// Gate, when set, blocks every Extract call until closed or the context ends.
	Gate chan struct{}
	// Started receives a value each time Extract is entered, if set.
	Started chan string

	// Error injection
	Error error
}

// NewMockExtractor creates an extractor that finds no faces in unknown images.
func NewMockExtractor() *MockExtractor {
	return &MockExtractor{
		faces: make(map[string][]fingerprint.FaceEmbedding),
		bad:   make(map[string]bool),
		calls: make(map[string]int),
	}
}

// SetFaces registers the faces found in data.
func (m *MockExtractor) SetFaces(data []byte, faces ...fingerprint.FaceEmbedding) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faces[string(data)] = faces
}

// SetUndecodable makes Extract fail with fingerprint.ErrExtraction for data.
func (m *MockExtractor) SetUndecodable(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bad[string(data)] = true
}

// Calls returns how many times data was extracted.
func (m *MockExtractor) Calls(data []byte) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[string(data)]
}

// TotalCalls returns the number of Extract calls.
func (m *MockExtractor) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

// Extract implements fingerprint.Extractor.
func (m *MockExtractor) Extract(ctx context.Context, image []byte) ([]fingerprint.FaceEmbedding, error) {
	if m.Started != nil {
		select {
		case m.Started <- string(image):
		default:
		}
	}
	if m.Gate != nil {
		select {
		case <-m.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[string(image)]++
	m.total++

	if m.Error != nil {
		return nil, m.Error
	}
	if m.bad[string(image)] {
		return nil, fmt.Errorf("%w: image: unknown format", fingerprint.ErrExtraction)
	}
	return slices.Clone(m.faces[string(image)]), nil
}

// MockStore is an in-memory fingerprint.Store.
type MockStore struct {
	mu    sync.Mutex
	snap  *fingerprint.Snapshot
	saves int

	// Error injection
	LoadError error
	SaveError error
}

// NewMockStore creates an empty store.
func NewMockStore() *MockStore {
	return &MockStore{}
}

// Put replaces the stored snapshot.
func (m *MockStore) Put(snap *fingerprint.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = snap
}

// Saved returns the last saved snapshot, or nil.
func (m *MockStore) Saved() *fingerprint.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// SaveCount returns the number of successful saves.
func (m *MockStore) SaveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// Load implements fingerprint.Store.
func (m *MockStore) Load(ctx context.Context) (*fingerprint.Snapshot, error) {
	if m.LoadError != nil {
		return nil, m.LoadError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap == nil {
		return nil, fingerprint.ErrStoreEmpty
	}
	return fingerprint.NewSnapshot(m.snap.VersionTag, m.snap.Dim, m.snap.Records()), nil
}

// Save implements fingerprint.Store.
func (m *MockStore) Save(ctx context.Context, snap *fingerprint.Snapshot) error {
	if m.SaveError != nil {
		return m.SaveError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = snap
	m.saves++
	return nil
}

package crawler

import (
	"io"
	"log/slog"
	"sync"
)

func init() {
	// Disable slog output during testing
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

type mockPage struct {
	id        int
	entry     QueueEntry
	status    string
	result    *PageData
	discovery *DiscoveryData
	errorType string
}

// MockStorage is an in-memory Storage
type MockStorage struct {
	mu     sync.Mutex
	pages  []*mockPage
	byNorm map[string]*mockPage
	meta   map[string]string
}

func NewMockStorage() *MockStorage {
	return &MockStorage{
		byNorm: make(map[string]*mockPage),
		meta:   make(map[string]string),
	}
}

func (m *MockStorage) AddToQueue(entries []QueueEntry) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	added := 0
	for _, e := range entries {
		if _, ok := m.byNorm[e.URLNormalized]; ok {
			continue
		}
		p := &mockPage{id: len(m.pages) + 1, entry: e, status: "queued"}
		m.pages = append(m.pages, p)
		m.byNorm[e.URLNormalized] = p
		added++
	}
	return added, nil
}

func (m *MockStorage) GetNextFromQueue() (*URLItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.pages {
		if p.status == "queued" {
			p.status = "processing"
			return &URLItem{ID: p.id, URL: p.entry.URL, Depth: p.entry.Depth}, nil
		}
	}
	return nil, nil
}

func (m *MockStorage) ResetProcessing() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, p := range m.pages {
		if p.status == "processing" {
			p.status = "queued"
			n++
		}
	}
	return n, nil
}

func (m *MockStorage) page(id int) *mockPage {
	if id < 1 || id > len(m.pages) {
		return nil
	}
	return m.pages[id-1]
}

func (m *MockStorage) SavePageResult(id int, page *PageData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p := m.page(id); p != nil {
		p.status = "completed"
		p.result = page
	}
	return nil
}

func (m *MockStorage) SaveDiscovery(id int, discovery *DiscoveryData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p := m.page(id); p != nil {
		p.discovery = discovery
	}
	return nil
}

func (m *MockStorage) SavePageError(id int, errorType, errorMessage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p := m.page(id); p != nil {
		p.status = "error"
		p.errorType = errorType
	}
	return nil
}

func (m *MockStorage) IsKnown(urlNormalized string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.byNorm[urlNormalized]
	return ok, nil
}

func (m *MockStorage) GetQueueStatus() (queued, processing, completed, errors int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.pages {
		switch p.status {
		case "queued":
			queued++
		case "processing":
			processing++
		case "completed":
			completed++
		case "error":
			errors++
		}
	}
	return
}

func (m *MockStorage) HasQueuedItems() (bool, error) {
	queued, processing, _, _, err := m.GetQueueStatus()
	return queued+processing > 0, err
}

func (m *MockStorage) GetMeta(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.meta[key], nil
}

func (m *MockStorage) SetMeta(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meta[key] = value
	return nil
}

func (m *MockStorage) Close() error {
	return nil
}

// snapshot returns a copy of the page stored under the identity of rawURL
func (m *MockStorage) snapshot(normalized string) (mockPage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byNorm[normalized]
	if !ok {
		return mockPage{}, false
	}
	return *p, true
}

func (m *MockStorage) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pages)
}

var _ Storage = (*MockStorage)(nil)

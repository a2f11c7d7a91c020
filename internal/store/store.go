package store

import (
	"context"
	"sync"
)

// Store persists string values grouped by namespace. Each namespace has a
// single writer.
type Store interface {
	Get(ctx context.Context, namespace, key string) (string, bool, error)
	Set(ctx context.Context, namespace, key, value string) error
	Clear(ctx context.Context, namespace string) error
}

var (
	_ Store = (*Memory)(nil)
	_ Store = (*Storage)(nil)
)

// Namespace binds a Store to one namespace.
type Namespace struct {
	store Store
	name  string
}

func NewNamespace(s Store, name string) Namespace {
	return Namespace{store: s, name: name}
}

func (n Namespace) Name() string { return n.name }

func (n Namespace) Get(ctx context.Context, key string) (string, bool, error) {
	return n.store.Get(ctx, n.name, key)
}

func (n Namespace) Set(ctx context.Context, key, value string) error {
	return n.store.Set(ctx, n.name, key, value)
}

func (n Namespace) Clear(ctx context.Context) error {
	return n.store.Clear(ctx, n.name)
}

// Bool reads a "true"/"false" flag. Missing keys read as false.
func (n Namespace) Bool(ctx context.Context, key string) (bool, error) {
	v, ok, err := n.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	return v == "true", nil
}

func (n Namespace) SetBool(ctx context.Context, key string, v bool) error {
	if v {
		return n.Set(ctx, key, "true")
	}
	return n.Set(ctx, key, "false")
}

type Memory struct {
	mu   sync.RWMutex
	data map[string]map[string]string
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string]map[string]string)}
}

func (m *Memory) Get(_ context.Context, namespace, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[namespace][key]
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, namespace, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ns, ok := m.data[namespace]
	if !ok {
		ns = make(map[string]string)
		m.data[namespace] = ns
	}
	ns[key] = value
	return nil
}

func (m *Memory) Clear(_ context.Context, namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, namespace)
	return nil
}

// Len reports how many keys a namespace holds.
func (m *Memory) Len(namespace string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data[namespace])
}

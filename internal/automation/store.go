package automation

import (
	"slices"
	"sync"

	"github.com/hongkongkiwi/android-udp-transmit-sub002/internal/transmit"
)

// ConfigStore holds the last saved config.
type ConfigStore interface {
	LoadConfig() (transmit.Config, bool)
	SaveConfig(cfg transmit.Config)
}

// PresetStore holds named configs.
type PresetStore interface {
	Preset(name string) (transmit.Config, bool)
	Put(name string, cfg transmit.Config)
	Delete(name string) bool
	Names() []string
}

// MemoryConfigStore is a ConfigStore that lives for the process lifetime.
type MemoryConfigStore struct {
	mu  sync.RWMutex
	cfg transmit.Config
	ok  bool
}

func (s *MemoryConfigStore) LoadConfig() (transmit.Config, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg, s.ok
}

func (s *MemoryConfigStore) SaveConfig(cfg transmit.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg, s.ok = cfg, true
}

// MemoryPresetStore is a PresetStore backed by a map.
type MemoryPresetStore struct {
	mu      sync.RWMutex
	presets map[string]transmit.Config
}

func NewMemoryPresetStore() *MemoryPresetStore {
	return &MemoryPresetStore{presets: make(map[string]transmit.Config)}
}

func (s *MemoryPresetStore) Put(name string, cfg transmit.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presets[name] = cfg
}

// Delete removes name and reports whether it existed.
func (s *MemoryPresetStore) Delete(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.presets[name]
	delete(s.presets, name)
	return ok
}

func (s *MemoryPresetStore) Preset(name string) (transmit.Config, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.presets[name]
	return cfg, ok
}

// Names returns the preset names in sorted order.
func (s *MemoryPresetStore) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.presets))
	for name := range s.presets {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

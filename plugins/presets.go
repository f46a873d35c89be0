package plugins

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// FavoriteName is the preset the front panel saves and recalls.
const FavoriteName = "favorite"

// ErrPresetNotFound is returned for an unknown preset name.
var ErrPresetNotFound = errors.New("preset not found")

// Preset is a named station.
type Preset struct {
	Name      string `yaml:"name" json:"name"`
	Frequency int    `yaml:"frequency" json:"frequency"`
}

type presetFile struct {
	Presets []Preset `yaml:"presets"`
}

// PresetStore keeps named stations in a YAML file. The file is rewritten
// on every change. An empty path keeps presets in memory only.
type PresetStore struct {
	mu      sync.Mutex
	path    string
	presets map[string]int
}

// NewPresetStore loads the presets at path. A missing file is an empty
// store.
func NewPresetStore(path string) (*PresetStore, error) {
	s := &PresetStore{path: path, presets: make(map[string]int)}
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read presets: %w", err)
	}

	var f presetFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse presets %s: %w", path, err)
	}
	for _, p := range f.Presets {
		s.presets[p.Name] = p.Frequency
	}
	return s, nil
}

// List returns the presets sorted by name.
func (s *PresetStore) List() []Preset {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked()
}

func (s *PresetStore) listLocked() []Preset {
	out := make([]Preset, 0, len(s.presets))
	for name, freq := range s.presets {
		out = append(out, Preset{Name: name, Frequency: freq})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns the frequency of a preset.
func (s *PresetStore) Get(name string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	freq, ok := s.presets[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrPresetNotFound, name)
	}
	return freq, nil
}

// Put stores or replaces a preset. The store is unchanged if the file
// cannot be written.
func (s *PresetStore) Put(name string, freq int) error {
	if name == "" {
		return fmt.Errorf("preset name cannot be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.presets[name]
	s.presets[name] = freq
	if err := s.saveLocked(); err != nil {
		if existed {
			s.presets[name] = prev
		} else {
			delete(s.presets, name)
		}
		return err
	}
	return nil
}

// Delete removes a preset.
func (s *PresetStore) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.presets[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPresetNotFound, name)
	}
	delete(s.presets, name)
	if err := s.saveLocked(); err != nil {
		s.presets[name] = prev
		return err
	}
	return nil
}

// Favorite returns the favorite station, or 0 if none was saved.
func (s *PresetStore) Favorite() int {
	freq, _ := s.Get(FavoriteName)
	return freq
}

// SetFavorite saves the favorite station.
func (s *PresetStore) SetFavorite(freq int) error {
	return s.Put(FavoriteName, freq)
}

func (s *PresetStore) saveLocked() error {
	if s.path == "" {
		return nil
	}
	data, err := yaml.Marshal(presetFile{Presets: s.listLocked()})
	if err != nil {
		return fmt.Errorf("failed to encode presets: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write presets: %w", err)
	}
	return nil
}

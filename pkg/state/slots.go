package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// SlotsFileName persists blue/green slot assignments under the deployment base
const SlotsFileName = "slots.json"

// Slot names
const (
	Blue  = "blue"
	Green = "green"
)

// Slot is one blue/green execution context bound to its own port
type Slot struct {
	Name      string    `json:"name"`
	Port      int       `json:"port"`
	Release   string    `json:"release,omitempty"` // release ID the slot runs
	Running   bool      `json:"running"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Slots is the persisted blue/green environment. Exactly one slot is active
// once a first blue/green deployment has succeeded.
type Slots struct {
	Active   string           `json:"active,omitempty"`
	Slots    map[string]*Slot `json:"slots"`
	Switched time.Time        `json:"switched,omitempty"`
}

// Inactive returns the name of the slot not receiving traffic. With no
// active slot yet, blue is deployed first.
func (s *Slots) Inactive() string {
	if s.Active == Blue {
		return Green
	}
	return Blue
}

// Get returns the named slot
func (s *Slots) Get(name string) *Slot {
	return s.Slots[name]
}

// Releases lists the release IDs assigned to either slot
func (s *Slots) Releases() []string {
	var ids []string
	for _, name := range []string{Blue, Green} {
		if slot := s.Get(name); slot != nil && slot.Release != "" {
			ids = append(ids, slot.Release)
		}
	}
	return ids
}

// SlotStore reads and writes slots.json
type SlotStore struct {
	basePath string
}

// NewSlotStore creates a slot store for the deployment base
func NewSlotStore(basePath string) *SlotStore {
	return &SlotStore{basePath: basePath}
}

// Path returns the slots.json location
func (s *SlotStore) Path() string {
	return filepath.Join(s.basePath, SlotsFileName)
}

// Load returns the persisted slots, initialising both slots with the given
// ports when nothing has been saved yet. Ports always follow the current
// host config.
func (s *SlotStore) Load(bluePort, greenPort int) (*Slots, error) {
	slots := &Slots{Slots: map[string]*Slot{}}

	if err := loadJSON(s.Path(), slots); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read %s: %w", SlotsFileName, err)
	}
	if slots.Slots == nil {
		slots.Slots = map[string]*Slot{}
	}

	for name, port := range map[string]int{Blue: bluePort, Green: greenPort} {
		slot, ok := slots.Slots[name]
		if !ok {
			slot = &Slot{Name: name}
			slots.Slots[name] = slot
		}
		slot.Port = port
	}
	return slots, nil
}

// Save persists slots atomically
func (s *SlotStore) Save(slots *Slots) error {
	if err := saveJSON(s.Path(), slots); err != nil {
		return fmt.Errorf("failed to write %s: %w", SlotsFileName, err)
	}
	return nil
}

func saveJSON(path string, data interface{}) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}

	// Write to a temp file, then rename over the target
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, bytes, 0644); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}

	return nil
}

func loadJSON(path string, target interface{}) error {
	bytes, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return json.Unmarshal(bytes, target)
}

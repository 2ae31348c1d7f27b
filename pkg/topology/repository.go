package topology

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// Repository looks up the topology of a device.
type Repository interface {
	Lookup(device string) (*Topology, error)
}

// MemoryRepository holds preloaded topologies. Safe for concurrent use.
type MemoryRepository struct {
	mu      sync.RWMutex
	devices map[string]*Topology
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{devices: make(map[string]*Topology)}
}

// Add registers t under its device name, replacing any earlier one.
func (r *MemoryRepository) Add(t *Topology) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[t.Device] = t
}

// Lookup implements Repository.
func (r *MemoryRepository) Lookup(device string) (*Topology, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.devices[device]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("topology: no topology for device %q", device)
}

// Devices returns the loaded device names, sorted.
func (r *MemoryRepository) Devices() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.devices))
	for d := range r.devices {
		out = append(out, d)
	}
	slices.Sort(out)
	return out
}

// LoadFiles parses the given files and adds each topology.
func (r *MemoryRepository) LoadFiles(paths ...string) error {
	for _, path := range paths {
		t, err := LoadFile(path)
		if err != nil {
			return err
		}
		r.Add(t)
	}
	return nil
}

// LoadDir recursively loads every .topo file below root.
func (r *MemoryRepository) LoadDir(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !isTopologyFile(path) {
			return nil
		}
		return r.LoadFiles(path)
	})
}

func isTopologyFile(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".topo")
}

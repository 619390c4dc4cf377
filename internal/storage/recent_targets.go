package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ConfigKeyRecentTargets is the appConfig key holding the recent targets list.
const ConfigKeyRecentTargets = "recentTargets"

// DefaultRecentCapacity is the number of targets kept.
const DefaultRecentCapacity = 5

// RecentTargets is a bounded, deduplicated, most-recent-first list of
// analyzed targets. It is persisted through kv after every mutation.
type RecentTargets struct {
	mu       sync.Mutex
	kv       KV
	capacity int
	targets  []string
}

// NewRecentTargets creates an empty list backed by kv. Call Load to read the
// persisted entries.
func NewRecentTargets(kv KV, capacity int) *RecentTargets {
	if capacity <= 0 {
		capacity = DefaultRecentCapacity
	}
	return &RecentTargets{kv: kv, capacity: capacity}
}

// Load reads the persisted list. A missing or unreadable entry yields an
// empty list; the decode error is returned so callers can log it.
func (r *RecentTargets) Load() ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.targets = nil
	if r.kv == nil {
		return []string{}, nil
	}
	raw, err := r.kv.GetConfig(ConfigKeyRecentTargets)
	if err != nil {
		return []string{}, fmt.Errorf("failed to read recent targets: %w", err)
	}
	if strings.TrimSpace(raw) == "" {
		return []string{}, nil
	}

	var stored []string
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return []string{}, fmt.Errorf("failed to parse recent targets: %w", err)
	}

	// Re-apply the invariants in case the file was edited by hand.
	for _, target := range stored {
		target = strings.TrimSpace(target)
		if target == "" || indexOf(r.targets, target) >= 0 {
			continue
		}
		if len(r.targets) == r.capacity {
			break
		}
		r.targets = append(r.targets, target)
	}
	return r.snapshotLocked(), nil
}

// Record moves target to the front, evicting the oldest entry beyond
// capacity.
func (r *RecentTargets) Record(target string) error {
	target = strings.TrimSpace(target)
	if target == "" {
		return errors.New("target is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	next := make([]string, 0, r.capacity)
	next = append(next, target)
	for _, t := range r.targets {
		if t == target {
			continue
		}
		if len(next) == r.capacity {
			break
		}
		next = append(next, t)
	}
	r.targets = next
	return r.persistLocked()
}

// Remove deletes target if present. It reports whether the list changed.
func (r *RecentTargets) Remove(target string) (bool, error) {
	target = strings.TrimSpace(target)

	r.mu.Lock()
	defer r.mu.Unlock()

	i := indexOf(r.targets, target)
	if i < 0 {
		return false, nil
	}
	r.targets = append(r.targets[:i:i], r.targets[i+1:]...)
	return true, r.persistLocked()
}

// List returns a copy of the current list.
func (r *RecentTargets) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *RecentTargets) snapshotLocked() []string {
	out := make([]string, len(r.targets))
	copy(out, r.targets)
	return out
}

func (r *RecentTargets) persistLocked() error {
	if r.kv == nil {
		return nil
	}
	data, err := json.Marshal(r.snapshotLocked())
	if err != nil {
		return fmt.Errorf("failed to serialize recent targets: %w", err)
	}
	if err := r.kv.SetConfig(ConfigKeyRecentTargets, string(data)); err != nil {
		return fmt.Errorf("failed to save recent targets: %w", err)
	}
	return nil
}

func indexOf(list []string, target string) int {
	for i, t := range list {
		if t == target {
			return i
		}
	}
	return -1
}

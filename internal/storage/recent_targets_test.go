package storage

import (
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"analyzehub/internal/config"
)

type memoryKV struct {
	values map[string]string
	writes int
	err    error
}

func newMemoryKV() *memoryKV {
	return &memoryKV{values: map[string]string{}}
}

func (m *memoryKV) GetConfig(key string) (string, error) {
	return m.values[key], nil
}

func (m *memoryKV) SetConfig(key, value string) error {
	if m.err != nil {
		return m.err
	}
	m.writes++
	m.values[key] = value
	return nil
}

func TestRecentTargets_RecordFirst(t *testing.T) {
	t.Parallel()

	kv := newMemoryKV()
	r := NewRecentTargets(kv, 5)
	if err := r.Record("alice"); err != nil {
		t.Fatal(err)
	}
	if got := r.List(); !reflect.DeepEqual(got, []string{"alice"}) {
		t.Fatalf("list=%v", got)
	}
	if kv.values[ConfigKeyRecentTargets] != `["alice"]` {
		t.Fatalf("persisted=%q", kv.values[ConfigKeyRecentTargets])
	}
}

func TestRecentTargets_EvictsOldest(t *testing.T) {
	t.Parallel()

	r := NewRecentTargets(newMemoryKV(), 5)
	for _, target := range []string{"a", "b", "c", "d", "e", "f"} {
		if err := r.Record(target); err != nil {
			t.Fatal(err)
		}
	}
	want := []string{"f", "e", "d", "c", "b"}
	if got := r.List(); !reflect.DeepEqual(got, want) {
		t.Fatalf("list=%v want %v", got, want)
	}
}

func TestRecentTargets_MoveToFront(t *testing.T) {
	t.Parallel()

	r := NewRecentTargets(newMemoryKV(), 5)
	for _, target := range []string{"b", "c", "d", "e", "f"} {
		if err := r.Record(target); err != nil {
			t.Fatal(err)
		}
	}
	if err := r.Record("c"); err != nil {
		t.Fatal(err)
	}
	want := []string{"c", "f", "e", "d", "b"}
	if got := r.List(); !reflect.DeepEqual(got, want) {
		t.Fatalf("list=%v want %v", got, want)
	}
}

func TestRecentTargets_RecordTrimsAndRejectsEmpty(t *testing.T) {
	t.Parallel()

	kv := newMemoryKV()
	r := NewRecentTargets(kv, 5)
	if err := r.Record("   "); err == nil {
		t.Fatalf("expected error for empty target")
	}
	if err := r.Record("  bob "); err != nil {
		t.Fatal(err)
	}
	if got := r.List(); !reflect.DeepEqual(got, []string{"bob"}) {
		t.Fatalf("list=%v", got)
	}
	if kv.writes != 1 {
		t.Fatalf("writes=%d want 1", kv.writes)
	}
}

func TestRecentTargets_Remove(t *testing.T) {
	t.Parallel()

	kv := newMemoryKV()
	r := NewRecentTargets(kv, 5)
	_ = r.Record("a")
	_ = r.Record("b")
	_ = r.Record("c")

	removed, err := r.Remove("b")
	if err != nil || !removed {
		t.Fatalf("removed=%v err=%v", removed, err)
	}
	if got := r.List(); !reflect.DeepEqual(got, []string{"c", "a"}) {
		t.Fatalf("list=%v", got)
	}
	if kv.values[ConfigKeyRecentTargets] != `["c","a"]` {
		t.Fatalf("persisted=%q", kv.values[ConfigKeyRecentTargets])
	}

	writes := kv.writes
	removed, err = r.Remove("zzz")
	if err != nil || removed {
		t.Fatalf("removed=%v err=%v", removed, err)
	}
	if kv.writes != writes {
		t.Fatalf("missing id must not persist")
	}
}

func TestRecentTargets_LoadRepairsStoredList(t *testing.T) {
	t.Parallel()

	kv := newMemoryKV()
	kv.values[ConfigKeyRecentTargets] = `["a","a"," ","b","c","d","e","f"]`
	r := NewRecentTargets(kv, 5)

	got, err := r.Load()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"a", "b", "c", "d", "e"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("loaded=%v want %v", got, want)
	}
}

func TestRecentTargets_LoadCorrupt(t *testing.T) {
	t.Parallel()

	kv := newMemoryKV()
	kv.values[ConfigKeyRecentTargets] = `{oops`
	r := NewRecentTargets(kv, 5)

	got, err := r.Load()
	if err == nil {
		t.Fatalf("expected decode error")
	}
	if len(got) != 0 || len(r.List()) != 0 {
		t.Fatalf("corrupt entry must load as empty, got %v", got)
	}
}

func TestRecentTargets_PersistError(t *testing.T) {
	t.Parallel()

	kv := newMemoryKV()
	kv.err = errors.New("disk full")
	r := NewRecentTargets(kv, 5)
	if err := r.Record("a"); err == nil {
		t.Fatalf("expected persist error")
	}
}

func TestRecentTargets_SurvivesRestartWithConfigFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), config.ConfigFileName)
	store, err := NewConfigFileStore(config.NewConfigLoader(path))
	if err != nil {
		t.Fatal(err)
	}
	r := NewRecentTargets(store, 5)
	_ = r.Record("alice")
	_ = r.Record("bob")

	reopened, err := NewConfigFileStore(config.NewConfigLoader(path))
	if err != nil {
		t.Fatal(err)
	}
	got, err := NewRecentTargets(reopened, 5).Load()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []string{"bob", "alice"}) {
		t.Fatalf("loaded=%v", got)
	}
}

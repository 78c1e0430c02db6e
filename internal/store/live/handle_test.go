package live

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

// recorder counts saves and keeps the last snapshot.
type recorder struct {
	mu    sync.Mutex
	count int
	last  map[string]any
}

func (r *recorder) save(state map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count++
	r.last = state
	return nil
}

func (r *recorder) snapshot() (int, map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count, r.last
}

func TestHandleDebounceCoalesces(t *testing.T) {
	rec := &recorder{}
	h := NewHandle(nil, rec.save, WithInterval(50*time.Millisecond))

	const writes = 100
	for i := 0; i < writes; i++ {
		h.Set("counter", i)
	}

	// Wait out the debounce window so the coalesced flush lands.
	time.Sleep(150 * time.Millisecond)

	count, last := rec.snapshot()
	if count >= writes/2 {
		t.Fatalf("saves = %d for %d writes, want far fewer", count, writes)
	}
	if count == 0 {
		t.Fatal("no saves at all")
	}
	if got := last["counter"]; got != writes-1 {
		t.Fatalf("persisted counter = %v, want %d", got, writes-1)
	}
}

func TestHandleFirstWriteFlushesImmediately(t *testing.T) {
	rec := &recorder{}
	h := NewHandle(nil, rec.save, WithInterval(time.Hour))

	h.Set("k", "v")

	count, last := rec.snapshot()
	if count != 1 {
		t.Fatalf("saves = %d, want 1", count)
	}
	if last["k"] != "v" {
		t.Fatalf("persisted state = %v", last)
	}
}

func TestHandleForceFlush(t *testing.T) {
	rec := &recorder{}
	h := NewHandle(map[string]any{"seed": true}, rec.save, WithInterval(time.Hour))

	h.Set("a", 1) // immediate (first flush)
	h.Set("b", 2) // pending behind the long interval

	if err := h.ForceFlush(); err != nil {
		t.Fatalf("ForceFlush: %v", err)
	}
	_, last := rec.snapshot()
	if last["a"] != 1 || last["b"] != 2 || last["seed"] != true {
		t.Fatalf("persisted state = %v", last)
	}
}

func TestHandleSnapshotIsolation(t *testing.T) {
	rec := &recorder{}
	h := NewHandle(nil, rec.save, WithInterval(time.Hour))

	h.Set("k", "first")
	_, last := rec.snapshot()
	h.Set("k", "second")

	if last["k"] != "first" {
		t.Fatalf("saved snapshot mutated after later Set: %v", last["k"])
	}
}

func TestHandleAppend(t *testing.T) {
	rec := &recorder{}
	h := NewHandle(nil, rec.save, WithInterval(10*time.Millisecond))

	for i := 0; i < 5; i++ {
		h.Append("progress", fmt.Sprintf("entry-%d", i))
	}
	if err := h.ForceFlush(); err != nil {
		t.Fatalf("ForceFlush: %v", err)
	}

	_, last := rec.snapshot()
	list, ok := last["progress"].([]any)
	if !ok || len(list) != 5 {
		t.Fatalf("progress = %v, want 5 entries", last["progress"])
	}
	if list[0] != "entry-0" || list[4] != "entry-4" {
		t.Fatalf("progress order wrong: %v", list)
	}
}

func TestHandleMapOps(t *testing.T) {
	rec := &recorder{}
	h := NewHandle(map[string]any{"keep": 1, "drop": 2}, rec.save, WithInterval(time.Hour))

	if v := h.SetDefault("keep", 99); v != 1 {
		t.Fatalf("SetDefault existing = %v, want 1", v)
	}
	if v := h.SetDefault("fresh", "x"); v != "x" {
		t.Fatalf("SetDefault new = %v, want x", v)
	}

	if v, ok := h.Pop("drop"); !ok || v != 2 {
		t.Fatalf("Pop = %v, %v", v, ok)
	}
	if _, ok := h.Get("drop"); ok {
		t.Fatal("key still present after Pop")
	}

	h.Update(map[string]any{"merged": true})
	snap := h.Snapshot()
	if snap["merged"] != true || snap["keep"] != 1 || snap["fresh"] != "x" {
		t.Fatalf("snapshot = %v", snap)
	}
}

func TestHandleConcurrentWritersBoundedSaves(t *testing.T) {
	rec := &recorder{}
	h := NewHandle(nil, rec.save, WithInterval(20*time.Millisecond))

	const writers = 2
	const writesEach = 1000
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			key := fmt.Sprintf("writer-%d", w)
			for i := 0; i < writesEach; i++ {
				h.Set(key, i)
			}
		}(w)
	}
	wg.Wait()

	if err := h.ForceFlush(); err != nil {
		t.Fatalf("ForceFlush: %v", err)
	}

	count, last := rec.snapshot()
	if count >= writers*writesEach/10 {
		t.Fatalf("saves = %d for %d writes, want bounded by the debounce", count, writers*writesEach)
	}
	for w := 0; w < writers; w++ {
		key := fmt.Sprintf("writer-%d", w)
		if last[key] != writesEach-1 {
			t.Fatalf("persisted %s = %v, want %d", key, last[key], writesEach-1)
		}
	}
	// The persisted state is exactly the final in-memory state.
	snap := h.Snapshot()
	if len(last) != len(snap) || last["writer-0"] != snap["writer-0"] || last["writer-1"] != snap["writer-1"] {
		t.Fatalf("persisted %v, in-memory %v", last, snap)
	}
}

func TestHandleCloseFlushesAndDetaches(t *testing.T) {
	rec := &recorder{}
	h := NewHandle(nil, rec.save, WithInterval(time.Hour))

	h.Set("k", "v")
	before, _ := rec.snapshot()

	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	afterClose, _ := rec.snapshot()
	if afterClose != before+1 {
		t.Fatalf("Close did not flush (saves %d -> %d)", before, afterClose)
	}

	h.Set("k", "after-close")
	time.Sleep(20 * time.Millisecond)
	final, last := rec.snapshot()
	if final != afterClose {
		t.Fatalf("mutation after Close wrote (saves %d -> %d)", afterClose, final)
	}
	if last["k"] != "v" {
		t.Fatalf("persisted value = %v, want v", last["k"])
	}
}

package chunkstore

import (
	"testing"
	"time"
)

func newTestBuffered(t *testing.T, cacheCapacity uint64) *BufferedChunkStore {
	t.Helper()
	perm, err := NewFileChunkStore(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("NewFileChunkStore: %v", err)
	}
	b := NewBufferedChunkStore(perm, cacheCapacity)
	t.Cleanup(b.Close)
	return b
}

// waitDrained gives the single background executor goroutine a chance to
// apply enqueued permanent writes before assertions run.
func waitDrained() { time.Sleep(20 * time.Millisecond) }

// S1 Cache FIFO.
func TestBufferedChunkStore_CacheFIFO(t *testing.T) {
	b := newTestBuffered(t, 125)

	a := make([]byte, 100)
	bb := make([]byte, 50)
	cc := make([]byte, 25)

	if err := b.CacheStore([]byte("a"), a); err != nil {
		t.Fatalf("CacheStore a: %v", err)
	}
	if err := b.CacheStore([]byte("b"), bb); err != nil {
		t.Fatalf("CacheStore b: %v", err)
	}
	if b.CacheHas([]byte("a")) {
		t.Fatalf("a should have been evicted once b pushed size past capacity")
	}
	if !b.CacheHas([]byte("b")) {
		t.Fatalf("b should still be cached")
	}

	if err := b.CacheStore([]byte("c"), cc); err != nil {
		t.Fatalf("CacheStore c: %v", err)
	}
	if !b.CacheHas([]byte("b")) || !b.CacheHas([]byte("c")) {
		t.Fatalf("expected {b, c} cached")
	}

	if err := b.CacheStore([]byte("a"), a); err != nil {
		t.Fatalf("CacheStore a (again): %v", err)
	}
	// cache={b:50,c:25} size=75; admitting a(100) brings it to 175, over
	// capacity 125, so the FIFO evicts only its head ("b", size 50) and
	// stops once size drops to 125 — it does not also evict "c".
	if b.CacheHas([]byte("b")) {
		t.Fatalf("expected b evicted once a re-admitted pushed size past capacity")
	}
	if !b.CacheHas([]byte("c")) {
		t.Fatalf("expected c to survive the eviction (only the head entry is pruned)")
	}
	if !b.CacheHas([]byte("a")) {
		t.Fatalf("expected a cached")
	}
}

// S2 Refcount persistence.
func TestBufferedChunkStore_MarkReinstate(t *testing.T) {
	b := newTestBuffered(t, 1024)
	x := []byte("xxxxxxxxxx")
	id := hashID(x)

	for i := 0; i < 3; i++ {
		if err := b.Store(id, x); err != nil {
			t.Fatalf("Store #%d: %v", i, err)
		}
	}
	waitDrained()
	if b.CountOf(id) != 3 {
		t.Fatalf("CountOf = %d, want 3", b.CountOf(id))
	}

	if err := b.MarkForDeletion(id); err != nil {
		t.Fatalf("MarkForDeletion: %v", err)
	}
	if err := b.MarkForDeletion(id); err != nil {
		t.Fatalf("MarkForDeletion: %v", err)
	}
	if !b.PermanentHas(id) {
		t.Fatalf("PermanentHas should remain true with marks(2) < refs(3)")
	}

	if err := b.DeleteAllMarked(); err != nil {
		t.Fatalf("DeleteAllMarked: %v", err)
	}
	waitDrained()
	if b.CountOf(id) != 3 {
		t.Fatalf("DeleteAllMarked should not fire when marks < refs; CountOf = %d", b.CountOf(id))
	}
}

func TestBufferedChunkStore_MarkToFullReclaim(t *testing.T) {
	b := newTestBuffered(t, 1024)
	x := []byte("yyyyyyyyyy")
	id := hashID(x)
	if err := b.Store(id, x); err != nil {
		t.Fatalf("Store: %v", err)
	}
	waitDrained()

	if err := b.MarkForDeletion(id); err != nil {
		t.Fatalf("MarkForDeletion: %v", err)
	}
	if b.PermanentHas(id) {
		t.Fatalf("PermanentHas should be false once marks == refs")
	}
	removable := b.GetRemovableChunks()
	if len(removable) != 1 {
		t.Fatalf("GetRemovableChunks returned %d entries, want 1", len(removable))
	}

	if err := b.PermanentStore(id); err != nil {
		t.Fatalf("PermanentStore (reinstatement): %v", err)
	}
	if !b.PermanentHas(id) {
		t.Fatalf("PermanentHas should be true again after reinstating PermanentStore")
	}
	if len(b.GetRemovableChunks()) != 0 {
		t.Fatalf("reinstated chunk should no longer be removable")
	}
}

func TestBufferedChunkStore_GetPromotesFromPermanentToCache(t *testing.T) {
	b := newTestBuffered(t, 1024)
	x := []byte("zzzzzzzzzz")
	id := hashID(x)
	if err := b.Store(id, x); err != nil {
		t.Fatalf("Store: %v", err)
	}
	waitDrained()
	b.CacheClear()
	if b.CacheHas(id) {
		t.Fatalf("CacheClear did not clear cache")
	}

	got, ok := b.Get(id)
	if !ok {
		t.Fatalf("Get failed after CacheClear despite permanent copy")
	}
	if string(got) != string(x) {
		t.Fatalf("Get returned %q, want %q", got, x)
	}
	if !b.CacheHas(id) {
		t.Fatalf("Get should admit the chunk back into the cache on a permanent hit")
	}
}

// Grounded on original_source's BEH_PermanentStore: reinstating an id
// that lives only in the permanent layer (CacheClear evicted it from the
// FIFO, and it carries no deletion mark) must still bump the on-disk
// refcount via the background executor, not silently drop the job.
func TestBufferedChunkStore_PermanentStoreReinstatesFromPermanentOnly(t *testing.T) {
	perm, err := NewFileChunkStore(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("NewFileChunkStore: %v", err)
	}
	b := NewBufferedChunkStore(perm, 1024)
	t.Cleanup(b.Close)

	x := []byte("permanent-only-content")
	id := hashID(x)
	if err := b.Store(id, x); err != nil {
		t.Fatalf("Store: %v", err)
	}
	waitDrained()

	b.CacheClear()
	if b.CacheHas(id) {
		t.Fatalf("CacheClear did not evict id from the FIFO cache")
	}

	if err := b.PermanentStore(id); err != nil {
		t.Fatalf("PermanentStore (reinstatement from permanent only): %v", err)
	}
	if b.CountOf(id) != 2 {
		t.Fatalf("in-memory CountOf = %d, want 2", b.CountOf(id))
	}
	waitDrained()

	if got := perm.CountOf(id); got != 2 {
		t.Fatalf("on-disk refcount = %d, want 2 (bump job must not require cached data)", got)
	}
}

func TestBufferedChunkStore_ModifyHashNamedRejected(t *testing.T) {
	b := newTestBuffered(t, 1024)
	x := []byte("immutable-content")
	id := hashID(x)
	if err := b.Store(id, x); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := b.Modify(id, []byte("different")); err == nil {
		t.Fatalf("Modify with non-matching hash did not error")
	}
}

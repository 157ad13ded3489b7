package metrics

import (
	"testing"
	"time"

	"github.com/maidsafe/vault-mgr/pkg/chunkstore"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector_CollectUpdatesGauges(t *testing.T) {
	perm, err := chunkstore.NewFileChunkStore(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("NewFileChunkStore: %v", err)
	}
	x := []byte("collector-test-chunk")
	id := []byte("collector-test-id")
	if err := perm.Store(id, x); err != nil {
		t.Fatalf("Store: %v", err)
	}

	calls := 0
	statsFn := func() VaultStats {
		calls++
		return VaultStats{Pending: 1, Running: 2, JoinConfirmed: 3, ValidatedClients: 4, TotalRestarts: calls}
	}

	c := NewCollector(statsFn, perm)
	c.collect()

	if got := testutil.ToFloat64(ChunksTotal); got != float64(perm.Count()) {
		t.Fatalf("ChunksTotal = %v, want %v", got, perm.Count())
	}
	if calls != 1 {
		t.Fatalf("statsFn called %d times, want 1", calls)
	}

	before := testutil.ToFloat64(VaultRestartsTotal)
	c.collect()
	after := testutil.ToFloat64(VaultRestartsTotal)
	if after-before != 1 {
		t.Fatalf("VaultRestartsTotal increased by %v, want 1 (delta-tracked across polls)", after-before)
	}
}

func TestCollector_NilFieldsAreNoOps(t *testing.T) {
	c := NewCollector(nil, nil)
	c.collect() // must not panic
}

func TestCollector_StartStop(t *testing.T) {
	c := NewCollector(func() VaultStats { return VaultStats{} }, nil)
	c.interval = time.Millisecond
	c.Start()
	time.Sleep(5 * time.Millisecond)
	c.Stop()
}

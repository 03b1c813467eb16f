package workflow

import (
	"context"
	"regexp"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/kanban_backend/models"
	"bitbucket.org/mmdatafocus/kanban_backend/utils"
)

var hexHash = regexp.MustCompile(`^[0-9a-f]{64}$`)

func TestComputeAuditHash_Deterministic(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 589_000_000, time.UTC)
	entityId := utils.NewString("42")

	h1 := ComputeAuditHash("tenant-1", 7, "card.stage_transition", "card", entityId, ts, nil)
	h2 := ComputeAuditHash("tenant-1", 7, "card.stage_transition", "card", entityId, ts, nil)
	if h1 != h2 {
		t.Fatalf("hash not deterministic: %s vs %s", h1, h2)
	}
	if !hexHash.MatchString(h1) {
		t.Fatalf("hash %q is not 64 lowercase hex chars", h1)
	}
}

func TestComputeAuditHash_EveryFieldChangesOutput(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 589_000_000, time.UTC)
	entityId := utils.NewString("42")
	prev := utils.NewString("deadbeef")

	base := ComputeAuditHash("tenant-1", 7, "card.stage_transition", "card", entityId, ts, prev)

	variants := []string{
		ComputeAuditHash("tenant-2", 7, "card.stage_transition", "card", entityId, ts, prev),
		ComputeAuditHash("tenant-1", 8, "card.stage_transition", "card", entityId, ts, prev),
		ComputeAuditHash("tenant-1", 7, "card.deactivated", "card", entityId, ts, prev),
		ComputeAuditHash("tenant-1", 7, "card.stage_transition", "loop", entityId, ts, prev),
		ComputeAuditHash("tenant-1", 7, "card.stage_transition", "card", utils.NewString("43"), ts, prev),
		ComputeAuditHash("tenant-1", 7, "card.stage_transition", "card", nil, ts, prev),
		ComputeAuditHash("tenant-1", 7, "card.stage_transition", "card", entityId, ts.Add(time.Millisecond), prev),
		ComputeAuditHash("tenant-1", 7, "card.stage_transition", "card", entityId, ts, utils.NewString("cafebabe")),
		ComputeAuditHash("tenant-1", 7, "card.stage_transition", "card", entityId, ts, nil),
	}
	seen := map[string]bool{base: true}
	for i, v := range variants {
		if seen[v] {
			t.Errorf("variant %d collided with a previous hash", i)
		}
		seen[v] = true
	}
}

func TestComputeAuditHash_GenesisSentinel(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	// A nil previous hash is hashed as the literal GENESIS string.
	withNil := ComputeAuditHash("t", 1, "a", "e", nil, ts, nil)
	withLiteral := ComputeAuditHash("t", 1, "a", "e", nil, ts, utils.NewString("GENESIS"))
	if withNil != withLiteral {
		t.Fatal("nil previous hash must hash identically to the GENESIS sentinel")
	}
}

func TestComputeAuditHash_MillisecondCanonicalization(t *testing.T) {
	// Sub-millisecond differences are canonicalized away.
	t1 := time.Date(2026, 3, 14, 9, 26, 53, 589_000_000, time.UTC)
	t2 := time.Date(2026, 3, 14, 9, 26, 53, 589_999_999, time.UTC)
	h1 := ComputeAuditHash("t", 1, "a", "e", nil, t1, nil)
	h2 := ComputeAuditHash("t", 1, "a", "e", nil, t2, nil)
	if h1 != h2 {
		t.Fatal("timestamps equal at ms precision must hash identically")
	}

	// Non-UTC inputs canonicalize to the same instant.
	loc := time.FixedZone("UTC+7", 7*3600)
	h3 := ComputeAuditHash("t", 1, "a", "e", nil, t1.In(loc), nil)
	if h1 != h3 {
		t.Fatal("zone conversion must not change the hash")
	}
}

func TestTenantLockKeys_Derivation(t *testing.T) {
	// First 16 hex chars split into two signed 32-bit halves.
	hi, lo := TenantLockKeys("0123456789abcdef")
	if hi != 0x01234567 {
		t.Errorf("hi = %d, want %d", hi, int32(0x01234567))
	}
	lowerHalf := uint32(0x89abcdef)
	if lo != int32(lowerHalf) {
		t.Errorf("lo = %d, want %d", lo, int32(lowerHalf))
	}
	if lo >= 0 {
		t.Error("0x89abcdef must map to a negative int32")
	}
}

func TestTenantLockKeys_SeparatorStripping(t *testing.T) {
	// UUID separators are ignored; only hex characters count.
	plainHi, plainLo := TenantLockKeys("0123456789abcdef0123")
	dashedHi, dashedLo := TenantLockKeys("01234567-89ab-cdef-0123-456789abcdef")
	if plainHi != dashedHi || plainLo != dashedLo {
		t.Fatal("dashed and plain forms of the same hex prefix must collide on the same lock")
	}

	// Ids sharing the first 16 hex chars share a lock by design.
	aHi, aLo := TenantLockKeys("0123456789abcdefAAAA")
	bHi, bLo := TenantLockKeys("0123456789abcdefBBBB")
	if aHi != bHi || aLo != bLo {
		t.Fatal("shared 16-hex prefixes must derive identical lock keys")
	}
}

func TestTenantLockKeys_ShortIds(t *testing.T) {
	// Short projections are zero-padded on the right.
	hi, lo := TenantLockKeys("abc")
	wantHi, wantLo := TenantLockKeys("abc0000000000000")
	if hi != wantHi || lo != wantLo {
		t.Fatalf("short id derivation mismatch: (%d,%d) vs (%d,%d)", hi, lo, wantHi, wantLo)
	}

	// Fully non-hex ids still derive stable keys.
	h1, l1 := TenantLockKeys("????")
	h2, l2 := TenantLockKeys("????")
	if h1 != h2 || l1 != l2 {
		t.Fatal("derivation must be stable for non-hex ids")
	}
}

func TestAssignChain_SequencesAndLinks(t *testing.T) {
	ts := time.Date(2026, 5, 2, 12, 0, 0, 0, time.UTC)
	entries := []*models.AuditEntry{
		{Action: "card.stage_transition", EntityType: "card", EntityId: utils.NewString("1"), CreatedAt: ts},
		{Action: "card.stage_transition", EntityType: "card", EntityId: utils.NewString("2"), CreatedAt: ts.Add(time.Second)},
		{Action: "card.stage_transition", EntityType: "card", EntityId: utils.NewString("3"), CreatedAt: ts.Add(2 * time.Second)},
	}

	assignChain("tenant-1", 0, nil, entries)

	// Sequence numbers start at 1 with no gaps.
	for i, e := range entries {
		if e.SequenceNumber != int64(i+1) {
			t.Errorf("entry %d sequence = %d, want %d", i, e.SequenceNumber, i+1)
		}
		if e.TenantId != "tenant-1" {
			t.Errorf("entry %d tenant = %q", i, e.TenantId)
		}
		if !hexHash.MatchString(e.Hash) {
			t.Errorf("entry %d hash %q is not 64 hex chars", i, e.Hash)
		}
	}

	// Genesis entry has nil previous hash; every later entry links to its
	// predecessor's hash.
	if entries[0].PreviousHash != nil {
		t.Error("first entry of a tenant must have nil previous hash")
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].PreviousHash == nil || *entries[i].PreviousHash != entries[i-1].Hash {
			t.Errorf("entry %d previous hash does not link to entry %d", i, i-1)
		}
	}

	// Each stored hash matches a recomputation from its own fields.
	for i, e := range entries {
		expected := ComputeAuditHash(e.TenantId, e.SequenceNumber, e.Action, e.EntityType, e.EntityId, e.CreatedAt, e.PreviousHash)
		if e.Hash != expected {
			t.Errorf("entry %d hash mismatch on recompute", i)
		}
	}
}

func TestAssignChain_ContinuesFromPrevious(t *testing.T) {
	ts := time.Date(2026, 5, 2, 12, 0, 0, 0, time.UTC)
	prevHash := utils.NewString("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")

	entries := []*models.AuditEntry{
		{Action: "a", EntityType: "card", CreatedAt: ts},
		{Action: "b", EntityType: "card", CreatedAt: ts},
	}
	assignChain("tenant-9", 41, prevHash, entries)

	if entries[0].SequenceNumber != 42 || entries[1].SequenceNumber != 43 {
		t.Fatalf("sequences = %d, %d; want 42, 43", entries[0].SequenceNumber, entries[1].SequenceNumber)
	}
	if entries[0].PreviousHash == nil || *entries[0].PreviousHash != *prevHash {
		t.Fatal("first batched entry must link to the stored previous hash")
	}
	if entries[1].PreviousHash == nil || *entries[1].PreviousHash != entries[0].Hash {
		t.Fatal("second batched entry must link to the first's computed hash")
	}
}

func TestWriteAuditEntries_EmptyBatchIsNoOp(t *testing.T) {
	// The writer is constructed without a store: any lock, read or insert
	// attempt would dereference the nil handle.
	w := NewAuditChainWriter(nil)
	if err := w.WriteAuditEntries(context.Background(), nil, "tenant-1", nil); err != nil {
		t.Fatalf("empty batch: %v", err)
	}
	if err := w.WriteAuditEntries(context.Background(), nil, "tenant-1", []*models.AuditEntry{}); err != nil {
		t.Fatalf("zero-length batch: %v", err)
	}
}

func TestWriteAuditEntry_NilEntry(t *testing.T) {
	w := NewAuditChainWriter(nil)
	if err := w.WriteAuditEntry(context.Background(), nil, nil); err == nil {
		t.Fatal("nil entry must be rejected")
	}
}

func TestAssignChain_DefaultsZeroTimestamps(t *testing.T) {
	entries := []*models.AuditEntry{{Action: "a", EntityType: "card"}}
	assignChain("t", 0, nil, entries)
	if entries[0].CreatedAt.IsZero() {
		t.Fatal("zero timestamps must be defaulted before hashing")
	}
	expected := ComputeAuditHash("t", 1, "a", "card", nil, entries[0].CreatedAt, nil)
	if entries[0].Hash != expected {
		t.Fatal("hash must cover the defaulted timestamp")
	}
}

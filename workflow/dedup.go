package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/kanban_backend/models"
)

const (
	defaultDedupPrefix  = "scan"
	defaultPendingTTL   = 30 * time.Second
	defaultCompletedTTL = 300 * time.Second
	defaultFailedTTL    = 30 * time.Second
)

// dedupRecord is the JSON payload stored per (card, idempotency key) claim.
type dedupRecord struct {
	Status    models.DedupStatus `json:"status"`
	TenantId  string             `json:"tenant_id"`
	Result    json.RawMessage    `json:"result,omitempty"`
	Error     string             `json:"error,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
}

// ClaimResult is the outcome of a CheckAndClaim call.
type ClaimResult struct {
	Allowed        bool
	WasReplay      bool
	CachedResult   json.RawMessage
	ExistingStatus models.DedupStatus
}

// DedupManager guarantees a scan identified by (cardId, idempotencyKey)
// triggers its downstream action at most once, while allowing retry after a
// failed attempt and returning the cached result for a completed one.
//
// Any underlying store error propagates: dedup correctness must never
// silently degrade to "always allow".
type DedupManager struct {
	Store        KVStore
	Prefix       string
	PendingTTL   time.Duration
	CompletedTTL time.Duration
	FailedTTL    time.Duration
}

func NewDedupManager(store KVStore) *DedupManager {
	return &DedupManager{
		Store:        store,
		Prefix:       defaultDedupPrefix,
		PendingTTL:   defaultPendingTTL,
		CompletedTTL: defaultCompletedTTL,
		FailedTTL:    defaultFailedTTL,
	}
}

func (m *DedupManager) key(cardId int, idempotencyKey string) string {
	return fmt.Sprintf("%s:%d:%s", m.Prefix, cardId, idempotencyKey)
}

func (m *DedupManager) readRecord(ctx context.Context, key string) (*dedupRecord, bool, error) {
	val, found, err := m.Store.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	var rec dedupRecord
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		// A corrupted payload is a hard error, not "no record".
		return nil, false, fmt.Errorf("corrupted dedup record for %s: %w", key, err)
	}
	return &rec, true, nil
}

// CheckAndClaim resolves one of four outcomes for a scan attempt: fresh claim
// allowed, completed replay, pending in-flight attempt, or failed record
// (deleted and re-claimed). The key carries no tenant, so a record claimed by
// another tenant is rejected here before any cached result can leak.
func (m *DedupManager) CheckAndClaim(ctx context.Context, cardId int, idempotencyKey string, tenantId string) (*ClaimResult, error) {
	key := m.key(cardId, idempotencyKey)

	rec, found, err := m.readRecord(ctx, key)
	if err != nil {
		return nil, err
	}
	if found {
		if rec.TenantId != tenantId {
			return nil, models.NewDomainError(models.ErrCodeTenantMismatch,
				"scan claim belongs to another tenant")
		}
		switch rec.Status {
		case models.DedupStatusCompleted:
			return &ClaimResult{
				Allowed:        false,
				WasReplay:      true,
				CachedResult:   rec.Result,
				ExistingStatus: models.DedupStatusCompleted,
			}, nil
		case models.DedupStatusPending:
			return &ClaimResult{
				Allowed:        false,
				ExistingStatus: models.DedupStatusPending,
			}, nil
		case models.DedupStatusFailed:
			// A failed attempt must not permanently block retries.
			if _, err := m.Store.Del(ctx, key); err != nil {
				return nil, err
			}
			return m.attemptClaim(ctx, key, tenantId)
		default:
			return nil, fmt.Errorf("dedup record %s has unknown status %q", key, rec.Status)
		}
	}

	return m.attemptClaim(ctx, key, tenantId)
}

func (m *DedupManager) attemptClaim(ctx context.Context, key string, tenantId string) (*ClaimResult, error) {
	rec := dedupRecord{
		Status:    models.DedupStatusPending,
		TenantId:  tenantId,
		CreatedAt: time.Now().UTC(),
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}

	ok, err := m.Store.SetNX(ctx, key, string(payload), m.PendingTTL)
	if err != nil {
		return nil, err
	}
	if ok {
		return &ClaimResult{Allowed: true}, nil
	}

	// Lost the set-if-absent race. Re-read to see what the winner left.
	existing, found, err := m.readRecord(ctx, key)
	if err != nil {
		return nil, err
	}
	if !found {
		// The winner's record already expired between our SETNX and this
		// read. Fail closed rather than risk double-processing inside the
		// race window.
		return &ClaimResult{
			Allowed:        false,
			ExistingStatus: models.DedupStatusUnknown,
		}, nil
	}
	if existing.TenantId != tenantId {
		return nil, models.NewDomainError(models.ErrCodeTenantMismatch,
			"scan claim belongs to another tenant")
	}
	if existing.Status == models.DedupStatusCompleted {
		return &ClaimResult{
			Allowed:        false,
			WasReplay:      true,
			CachedResult:   existing.Result,
			ExistingStatus: models.DedupStatusCompleted,
		}, nil
	}
	return &ClaimResult{
		Allowed:        false,
		ExistingStatus: existing.Status,
	}, nil
}

// MarkCompleted overwrites the claim with a long-TTL completed record holding
// result. A key that already expired is a no-op, not an error.
func (m *DedupManager) MarkCompleted(ctx context.Context, cardId int, idempotencyKey string, result json.RawMessage) error {
	key := m.key(cardId, idempotencyKey)
	rec, found, err := m.readRecord(ctx, key)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	rec.Status = models.DedupStatusCompleted
	rec.Result = result
	rec.Error = ""
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return m.Store.Set(ctx, key, string(payload), m.CompletedTTL)
}

// MarkFailed overwrites the claim with a short-TTL failed record. A key that
// already expired is a no-op.
func (m *DedupManager) MarkFailed(ctx context.Context, cardId int, idempotencyKey string, errorMessage string) error {
	key := m.key(cardId, idempotencyKey)
	rec, found, err := m.readRecord(ctx, key)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	rec.Status = models.DedupStatusFailed
	rec.Result = nil
	rec.Error = errorMessage
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return m.Store.Set(ctx, key, string(payload), m.FailedTTL)
}

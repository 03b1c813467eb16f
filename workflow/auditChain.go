package workflow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/kanban_backend/models"
	"gorm.io/gorm"
)

// auditGenesis substitutes for the previous hash of a tenant's first entry.
const auditGenesis = "GENESIS"

// ComputeAuditHash derives the tamper-evidence hash for one audit entry.
// The timestamp is canonicalized to millisecond-precision ISO-8601 with a Z
// suffix; fields are joined with '|', a nil entity id becomes the empty
// string and a nil previous hash becomes the GENESIS sentinel. Deterministic:
// identical inputs always yield the identical 64-char lowercase hex digest.
func ComputeAuditHash(tenantId string, sequenceNumber int64, action string, entityType string, entityId *string, timestamp time.Time, previousHash *string) string {
	entity := ""
	if entityId != nil {
		entity = *entityId
	}
	prev := auditGenesis
	if previousHash != nil {
		prev = *previousHash
	}
	canonical := timestamp.UTC().Format("2006-01-02T15:04:05.000Z")
	payload := strings.Join([]string{
		tenantId,
		strconv.FormatInt(sequenceNumber, 10),
		action,
		entityType,
		entity,
		canonical,
		prev,
	}, "|")
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// TenantLockKeys compresses a tenant id into the two int32 halves used with
// pg_advisory_xact_lock(int, int): strip non-hex separators, take the first
// 16 hex characters (padded with '0' for short ids), split into two
// 8-hex-char halves, and read each as a signed 32-bit integer. Two tenants
// sharing the same first 16 hex chars share a lock; that only
// over-serializes, never under-serializes.
func TenantLockKeys(tenantId string) (int32, int32) {
	var hexChars strings.Builder
	for _, r := range strings.ToLower(tenantId) {
		if (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') {
			hexChars.WriteRune(r)
			if hexChars.Len() == 16 {
				break
			}
		}
	}
	projected := hexChars.String()
	for len(projected) < 16 {
		projected += "0"
	}

	hi, _ := strconv.ParseUint(projected[:8], 16, 32)
	lo, _ := strconv.ParseUint(projected[8:], 16, 32)
	return int32(uint32(hi)), int32(uint32(lo))
}

// AuditChainWriter appends tamper-evident, tenant-ordered audit records. All
// concurrent writers for one tenant are serialized by a transaction-scoped
// advisory lock, so sequence numbers come out consecutive and gap-free.
type AuditChainWriter struct {
	DB *gorm.DB
}

func NewAuditChainWriter(db *gorm.DB) *AuditChainWriter {
	return &AuditChainWriter{DB: db}
}

// WriteAuditEntry appends one entry. tx may be an active transaction owned by
// the caller; when nil, the writer opens and commits its own, so it is safe
// to call standalone or nested.
func (w *AuditChainWriter) WriteAuditEntry(ctx context.Context, tx *gorm.DB, entry *models.AuditEntry) error {
	if entry == nil {
		return errors.New("audit entry is required")
	}
	if tx == nil {
		return w.DB.WithContext(ctx).Transaction(func(inner *gorm.DB) error {
			return w.writeLocked(ctx, inner, entry.TenantId, []*models.AuditEntry{entry})
		})
	}
	return w.writeLocked(ctx, tx, entry.TenantId, []*models.AuditEntry{entry})
}

// WriteAuditEntries appends a batch for one tenant: the lock is taken once,
// the latest entry read once, and the chain computed sequentially within the
// batch. An empty batch touches neither the lock nor the store.
func (w *AuditChainWriter) WriteAuditEntries(ctx context.Context, tx *gorm.DB, tenantId string, entries []*models.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if tx == nil {
		return w.DB.WithContext(ctx).Transaction(func(inner *gorm.DB) error {
			return w.writeLocked(ctx, inner, tenantId, entries)
		})
	}
	return w.writeLocked(ctx, tx, tenantId, entries)
}

func (w *AuditChainWriter) writeLocked(ctx context.Context, tx *gorm.DB, tenantId string, entries []*models.AuditEntry) error {
	if tenantId == "" {
		return errors.New("tenant id is required")
	}

	if err := acquireTenantAuditLock(ctx, tx, tenantId); err != nil {
		return err
	}

	prevSeq, prevHash, err := latestAuditPosition(ctx, tx, tenantId)
	if err != nil {
		return err
	}

	assignChain(tenantId, prevSeq, prevHash, entries)

	for _, entry := range entries {
		if err := tx.WithContext(ctx).Create(entry).Error; err != nil {
			return err
		}
	}
	return nil
}

// acquireTenantAuditLock serializes audit writers per tenant across all
// server instances. The lock is transaction-scoped: Postgres releases it at
// commit or rollback.
func acquireTenantAuditLock(ctx context.Context, tx *gorm.DB, tenantId string) error {
	hi, lo := TenantLockKeys(tenantId)
	if err := tx.WithContext(ctx).Exec("SELECT pg_advisory_xact_lock(?, ?)", hi, lo).Error; err != nil {
		return fmt.Errorf("acquire audit lock for tenant %s: %w", tenantId, err)
	}
	return nil
}

func latestAuditPosition(ctx context.Context, tx *gorm.DB, tenantId string) (int64, *string, error) {
	var latest models.AuditEntry
	err := tx.WithContext(ctx).
		Where("tenant_id = ?", tenantId).
		Order("sequence_number DESC").
		Limit(1).
		First(&latest).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil, nil
		}
		return 0, nil, err
	}
	hash := latest.Hash
	return latest.SequenceNumber, &hash, nil
}

// assignChain stamps consecutive sequence numbers and the hash chain onto
// entries, continuing from (prevSeq, prevHash). Pure over its inputs apart
// from defaulting zero timestamps, so chain assembly is testable without a
// database.
func assignChain(tenantId string, prevSeq int64, prevHash *string, entries []*models.AuditEntry) {
	seq := prevSeq
	prev := prevHash
	for _, entry := range entries {
		seq++
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = time.Now().UTC()
		}
		entry.TenantId = tenantId
		entry.SequenceNumber = seq
		entry.PreviousHash = prev
		entry.Hash = ComputeAuditHash(tenantId, seq, entry.Action, entry.EntityType, entry.EntityId, entry.CreatedAt, prev)
		h := entry.Hash
		prev = &h
	}
}

// VerifyAuditChain walks a tenant's chain in sequence order, recomputing
// every hash. It returns the sequence number of the first broken link, or 0
// when the chain is intact. Used by the audit-verify ops tool.
func (w *AuditChainWriter) VerifyAuditChain(ctx context.Context, tenantId string) (int64, error) {
	const pageSize = 500

	var prevHash *string
	var prevSeq int64
	offset := 0
	for {
		var page []models.AuditEntry
		err := w.DB.WithContext(ctx).
			Where("tenant_id = ?", tenantId).
			Order("sequence_number ASC").
			Offset(offset).
			Limit(pageSize).
			Find(&page).Error
		if err != nil {
			return 0, err
		}
		if len(page) == 0 {
			return 0, nil
		}
		for i := range page {
			entry := &page[i]
			if entry.SequenceNumber != prevSeq+1 {
				return entry.SequenceNumber, nil
			}
			if (prevHash == nil) != (entry.PreviousHash == nil) {
				return entry.SequenceNumber, nil
			}
			if prevHash != nil && entry.PreviousHash != nil && *prevHash != *entry.PreviousHash {
				return entry.SequenceNumber, nil
			}
			expected := ComputeAuditHash(entry.TenantId, entry.SequenceNumber, entry.Action,
				entry.EntityType, entry.EntityId, entry.CreatedAt, entry.PreviousHash)
			if expected != entry.Hash {
				return entry.SequenceNumber, nil
			}
			h := entry.Hash
			prevHash = &h
			prevSeq = entry.SequenceNumber
		}
		offset += len(page)
	}
}

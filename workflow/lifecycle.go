package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/kanban_backend/config"
	"bitbucket.org/mmdatafocus/kanban_backend/models"
	"bitbucket.org/mmdatafocus/kanban_backend/utils"
	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	auditActionStageTransition = "card.stage_transition"
	auditActionCardDeactivated = "card.deactivated"
	defaultPublishTimeout      = 5 * time.Second
	replayLockTTL              = 2 * time.Minute
)

// LifecycleOrchestrator composes dedup, rule validation and the audit chain
// inside one storage transaction, then fires domain events after commit.
// Construct it explicitly at startup and inject the collaborators; there is
// no lazily built global instance.
type LifecycleOrchestrator struct {
	DB     *gorm.DB
	Logger *logrus.Logger
	Dedup  *DedupManager
	Audit  *AuditChainWriter
	Events EventPublisher
	Roles  models.RolePolicy
	// Locker serializes replay batches per tenant. Optional; nil skips the
	// serialization and relies on dedup claims alone.
	Locker *redislock.Client

	PublishTimeout time.Duration
}

func NewLifecycleOrchestrator(db *gorm.DB, logger *logrus.Logger, dedup *DedupManager, audit *AuditChainWriter, events EventPublisher, roles models.RolePolicy, locker *redislock.Client) *LifecycleOrchestrator {
	return &LifecycleOrchestrator{
		DB:             db,
		Logger:         logger,
		Dedup:          dedup,
		Audit:          audit,
		Events:         events,
		Roles:          roles,
		Locker:         locker,
		PublishTimeout: defaultPublishTimeout,
	}
}

// TransitionInput describes one proposed stage change.
type TransitionInput struct {
	CardId          int
	TenantId        string
	ToStage         models.CardStage
	Method          models.TransitionMethod
	UserId          *int
	UserRole        *string
	LinkedOrderId   *int
	LinkedOrderType *string
	Metadata        *string
	IpAddress       *string
	UserAgent       *string
}

// TransitionResult is returned by TransitionCard and cached by the dedup
// manager for scan replays.
type TransitionResult struct {
	Card       *models.Card            `json:"card"`
	Transition *models.StageTransition `json:"transition"`
}

// cardSnapshot is the audit before/after state for a card.
type cardSnapshot struct {
	CurrentStage    models.CardStage `json:"current_stage"`
	IsActive        bool             `json:"is_active"`
	CompletedCycles int              `json:"completed_cycles"`
}

func snapshotJSON(card *models.Card) *string {
	b, err := json.Marshal(cardSnapshot{
		CurrentStage:    card.CurrentStage,
		IsActive:        card.Active(),
		CompletedCycles: card.CompletedCycles,
	})
	if err != nil {
		return nil
	}
	s := string(b)
	return &s
}

// TransitionCard validates and commits one stage change: the transition
// record, the card update and the chained audit entry all land in one
// transaction. Validation failures are raised before any mutation; once the
// transaction begins, any failure inside it aborts the whole thing.
func (o *LifecycleOrchestrator) TransitionCard(ctx context.Context, input TransitionInput) (*TransitionResult, error) {
	card, err := models.GetCardWithLoop(ctx, o.DB, input.CardId, input.TenantId)
	if err != nil {
		return nil, err
	}

	req := models.TransitionRequest{
		ToStage:         input.ToStage,
		Method:          input.Method,
		UserRole:        input.UserRole,
		LinkedOrderId:   input.LinkedOrderId,
		LinkedOrderType: input.LinkedOrderType,
	}
	if err := models.ValidateTransition(card, &card.Loop, req, o.Roles); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	fromStage := card.CurrentStage

	// restocked -> triggered is the cycle boundary: the finished cycle is
	// counted and the new transition belongs to the next one.
	completedCycles := card.CompletedCycles
	if fromStage == models.CardStageRestocked && input.ToStage == models.CardStageTriggered {
		completedCycles++
	}
	cycleNumber := completedCycles + 1

	before := snapshotJSON(card)

	transition := &models.StageTransition{
		TenantId:        input.TenantId,
		CardId:          card.ID,
		LoopId:          card.LoopId,
		CycleNumber:     cycleNumber,
		FromStage:       fromStage,
		ToStage:         input.ToStage,
		TransitionedAt:  now,
		Method:          input.Method,
		LinkedOrderId:   input.LinkedOrderId,
		LinkedOrderType: input.LinkedOrderType,
		Metadata:        input.Metadata,
	}

	err = o.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(transition).Error; err != nil {
			return err
		}

		// Guard on the stage we validated against: of two concurrent
		// transitions for the same card, one commits and the other sees a
		// stale fromStage here.
		res := tx.Model(&models.Card{}).
			Where("tenant_id = ? AND id = ? AND current_stage = ?", input.TenantId, card.ID, fromStage).
			Updates(map[string]interface{}{
				"current_stage":            input.ToStage,
				"current_stage_entered_at": now,
				"completed_cycles":         completedCycles,
				"updated_at":               now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return models.NewDomainErrorWithDetails(models.ErrCodeInvalidTransition,
				"card stage changed concurrently",
				map[string]any{"from_stage": fromStage, "to_stage": input.ToStage})
		}

		card.CurrentStage = input.ToStage
		card.CurrentStageEnteredAt = now
		card.CompletedCycles = completedCycles
		card.UpdatedAt = now

		entityId := strconv.Itoa(card.ID)
		entry := &models.AuditEntry{
			TenantId:      input.TenantId,
			UserId:        input.UserId,
			Action:        auditActionStageTransition,
			EntityType:    "card",
			EntityId:      &entityId,
			PreviousState: before,
			NewState:      snapshotJSON(card),
			Metadata:      input.Metadata,
			IpAddress:     input.IpAddress,
			UserAgent:     input.UserAgent,
			CreatedAt:     now,
		}
		return o.Audit.WriteAuditEntry(ctx, tx, entry)
	})
	if err != nil {
		return nil, err
	}

	o.publishTransitionEvents(ctx, card, transition)

	return &TransitionResult{Card: card, Transition: transition}, nil
}

// publishTransitionEvents fires the domain events on a detached goroutine
// with a bounded timeout. A publish failure is logged and swallowed; it never
// rolls back or fails the already-committed transition.
func (o *LifecycleOrchestrator) publishTransitionEvents(ctx context.Context, card *models.Card, transition *models.StageTransition) {
	if o.Events == nil {
		return
	}
	correlationId := utils.CorrelationIdFromContextOrNew(ctx)

	msg := config.LifecycleMessage{
		Type:          EventTypeTransition,
		TenantId:      transition.TenantId,
		CardId:        card.ID,
		LoopId:        card.LoopId,
		TransitionId:  transition.ID,
		FromStage:     string(transition.FromStage),
		ToStage:       string(transition.ToStage),
		Method:        string(transition.Method),
		CycleNumber:   transition.CycleNumber,
		OccurredAt:    transition.TransitionedAt,
		CorrelationId: correlationId,
	}

	messages := []config.LifecycleMessage{msg}
	if transition.ToStage == models.CardStageTriggered {
		// Downstream replenishment consumers watch queue entries for new
		// demand.
		queueMsg := msg
		queueMsg.Type = EventTypeQueueEntry
		messages = append(messages, queueMsg)
	}

	timeout := o.PublishTimeout
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}

	go func() {
		pubCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		for _, m := range messages {
			if err := o.Events.Publish(pubCtx, m); err != nil && o.Logger != nil {
				config.LogError(o.Logger, "workflow", "publishTransitionEvents", m.Type, m, err)
			}
		}
	}()
}

// TriggerCardByScan is the scan entry point: claim the idempotency key, check
// tenant ownership and scan conflicts, then delegate to TransitionCard with
// toStage=triggered, method=qr_scan. Every failure path marks the dedup
// record failed with a stable code before returning.
func (o *LifecycleOrchestrator) TriggerCardByScan(ctx context.Context, cardId int, tenantId string, idempotencyKey string, userId *int) (*TransitionResult, error) {
	claim, err := o.Dedup.CheckAndClaim(ctx, cardId, idempotencyKey, tenantId)
	if err != nil {
		return nil, err
	}
	if !claim.Allowed {
		if claim.WasReplay {
			var cached TransitionResult
			if err := json.Unmarshal(claim.CachedResult, &cached); err != nil {
				return nil, fmt.Errorf("corrupted cached scan result for card %d: %w", cardId, err)
			}
			return &cached, nil
		}
		return nil, models.NewDomainErrorWithDetails(models.ErrCodeScanDuplicate,
			"scan already claimed",
			map[string]any{"existing_status": claim.ExistingStatus})
	}

	result, err := o.processScan(ctx, cardId, tenantId, userId)
	if err != nil {
		o.markScanFailed(ctx, cardId, idempotencyKey, err)
		return nil, err
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	if err := o.Dedup.MarkCompleted(ctx, cardId, idempotencyKey, payload); err != nil {
		return nil, err
	}
	return result, nil
}

func (o *LifecycleOrchestrator) processScan(ctx context.Context, cardId int, tenantId string, userId *int) (*TransitionResult, error) {
	card, err := models.GetCard(ctx, o.DB, cardId)
	if err != nil {
		return nil, err
	}
	if card.TenantId != tenantId {
		return nil, models.NewDomainError(models.ErrCodeTenantMismatch, "card belongs to another tenant")
	}

	switch conflict := models.DetectScanConflict(card.CurrentStage, card.Active()); conflict {
	case models.ScanConflictNone:
	case models.ScanConflictCardInactive:
		return nil, models.NewDomainError(models.ErrCodeCardInactive, "card is inactive")
	default:
		return nil, models.NewDomainErrorWithDetails(models.ErrCodeScanConflict,
			fmt.Sprintf("scan conflicts with card state: %s", conflict),
			map[string]any{"conflict": conflict, "current_stage": card.CurrentStage})
	}

	return o.TransitionCard(ctx, TransitionInput{
		CardId:   cardId,
		TenantId: tenantId,
		ToStage:  models.CardStageTriggered,
		Method:   models.TransitionMethodQrScan,
		UserId:   userId,
	})
}

// DeactivateCard retires a card without deleting it and records the audit
// entry in the same transaction. A deactivated card accepts no transitions
// and no scans; deactivating an already-inactive card is a no-op.
func (o *LifecycleOrchestrator) DeactivateCard(ctx context.Context, cardId int, tenantId string, userId *int) (*models.Card, error) {
	card, err := models.GetCardWithLoop(ctx, o.DB, cardId, tenantId)
	if err != nil {
		return nil, err
	}
	if !card.Active() {
		return card, nil
	}

	now := time.Now().UTC()
	before := snapshotJSON(card)

	err = o.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Card{}).
			Where("tenant_id = ? AND id = ?", tenantId, cardId).
			Updates(map[string]interface{}{
				"is_active":  false,
				"updated_at": now,
			}).Error; err != nil {
			return err
		}

		card.IsActive = utils.NewFalse()
		card.UpdatedAt = now

		entityId := strconv.Itoa(card.ID)
		entry := &models.AuditEntry{
			TenantId:      tenantId,
			UserId:        userId,
			Action:        auditActionCardDeactivated,
			EntityType:    "card",
			EntityId:      &entityId,
			PreviousState: before,
			NewState:      snapshotJSON(card),
			CreatedAt:     now,
		}
		return o.Audit.WriteAuditEntry(ctx, tx, entry)
	})
	if err != nil {
		return nil, err
	}
	return card, nil
}

// markScanFailed records the failure on the dedup claim. The marking itself
// is best-effort: its own store error is logged, and the original failure is
// what the caller sees.
func (o *LifecycleOrchestrator) markScanFailed(ctx context.Context, cardId int, idempotencyKey string, cause error) {
	code, ok := models.DomainCode(cause)
	msg := string(code)
	if !ok {
		msg = cause.Error()
	}
	if err := o.Dedup.MarkFailed(ctx, cardId, idempotencyKey, msg); err != nil && o.Logger != nil {
		config.LogError(o.Logger, "workflow", "markScanFailed", idempotencyKey, nil, err)
	}
}

// ReplayScanItem is one entry of a replay batch.
type ReplayScanItem struct {
	CardId         int    `json:"card_id"`
	IdempotencyKey string `json:"idempotency_key"`
}

// ReplayScanResult is the per-item outcome. Slots line up with the input.
type ReplayScanResult struct {
	Success    bool                    `json:"success"`
	Card       *models.Card            `json:"card,omitempty"`
	Transition *models.StageTransition `json:"transition,omitempty"`
	Error      string                  `json:"error,omitempty"`
	ErrorCode  string                  `json:"error_code,omitempty"`
}

// ReplayScans processes a batch of scans independently: one item's failure is
// recorded in its result slot without aborting the rest. Replay exists to
// recover from partial outages where some scans already succeeded, so the
// completed ones simply come back as cached replays. Batches for the same
// tenant are serialized with a distributed lock when a locker is configured.
func (o *LifecycleOrchestrator) ReplayScans(ctx context.Context, items []ReplayScanItem, tenantId string, userId *int) ([]ReplayScanResult, error) {
	if o.Locker != nil {
		lock, err := o.Locker.Obtain(ctx, "replay:"+tenantId, replayLockTTL, &redislock.Options{
			RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(500*time.Millisecond), 20),
		})
		if err != nil {
			return nil, fmt.Errorf("obtain replay lock for tenant %s: %w", tenantId, err)
		}
		defer lock.Release(ctx)
	}

	results := make([]ReplayScanResult, len(items))
	for i, item := range items {
		result, err := o.TriggerCardByScan(ctx, item.CardId, tenantId, item.IdempotencyKey, userId)
		if err != nil {
			code, _ := models.DomainCode(err)
			results[i] = ReplayScanResult{
				Success:   false,
				Error:     err.Error(),
				ErrorCode: string(code),
			}
			continue
		}
		results[i] = ReplayScanResult{
			Success:    true,
			Card:       result.Card,
			Transition: result.Transition,
		}
	}
	return results, nil
}

package models

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// StageTransition is an immutable fact: this card moved from stage A to
// stage B at time T by method M. Created exactly once per committed
// transition; never mutated or deleted.
type StageTransition struct {
	ID              int              `gorm:"primary_key" json:"id"`
	TenantId        string           `gorm:"size:64;not null;index" json:"tenant_id"`
	CardId          int              `gorm:"not null;index" json:"card_id"`
	LoopId          int              `gorm:"not null;index" json:"loop_id"`
	CycleNumber     int              `gorm:"not null" json:"cycle_number"`
	FromStage       CardStage        `gorm:"size:20;not null" json:"from_stage"`
	ToStage         CardStage        `gorm:"size:20;not null" json:"to_stage"`
	TransitionedAt  time.Time        `gorm:"not null" json:"transitioned_at"`
	Method          TransitionMethod `gorm:"size:20;not null" json:"method"`
	LinkedOrderId   *int             `gorm:"index" json:"linked_order_id"`
	LinkedOrderType *string          `gorm:"size:50" json:"linked_order_type"`
	Metadata        *string          `gorm:"type:text" json:"metadata"`
	CreatedAt       time.Time        `gorm:"autoCreateTime" json:"created_at"`
}

// ListStageTransitions returns a card's transition history, newest first.
func ListStageTransitions(ctx context.Context, tx *gorm.DB, tenantId string, cardId int, limit int) ([]StageTransition, error) {
	if limit <= 0 {
		limit = 50
	}
	var transitions []StageTransition
	err := tx.WithContext(ctx).
		Where("tenant_id = ? AND card_id = ?", tenantId, cardId).
		Order("id DESC").
		Limit(limit).
		Find(&transitions).Error
	if err != nil {
		return nil, err
	}
	return transitions, nil
}

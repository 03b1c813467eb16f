package models

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// Card represents one physical/virtual kanban card bound to a loop.
// Cards are never hard-deleted; they are deactivated instead, and an
// inactive card accepts no transitions regardless of stage.
type Card struct {
	ID                    int       `gorm:"primary_key" json:"id"`
	TenantId              string    `gorm:"size:64;not null;index" json:"tenant_id"`
	LoopId                int       `gorm:"not null;index" json:"loop_id"`
	CurrentStage          CardStage `gorm:"size:20;not null" json:"current_stage"`
	IsActive              *bool     `gorm:"not null;default:true" json:"is_active"`
	CompletedCycles       int       `gorm:"not null;default:0" json:"completed_cycles"`
	CurrentStageEnteredAt time.Time `gorm:"not null" json:"current_stage_entered_at"`
	CreatedAt             time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time `gorm:"autoUpdateTime" json:"updated_at"`
	Loop                  Loop      `json:"loop"`
}

func (c Card) Active() bool {
	return c.IsActive != nil && *c.IsActive
}

// GetCardWithLoop loads a card and its loop on the given handle, scoped to
// tenant. tx may be a bare connection or an active transaction.
func GetCardWithLoop(ctx context.Context, tx *gorm.DB, cardId int, tenantId string) (*Card, error) {
	var card Card
	err := tx.WithContext(ctx).
		Preload("Loop").
		Where("tenant_id = ? AND id = ?", tenantId, cardId).
		First(&card).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewDomainError(ErrCodeCardNotFound, "card not found")
		}
		return nil, err
	}
	return &card, nil
}

// GetCard loads a card by id without tenant scoping. The scan path uses it to
// distinguish CARD_NOT_FOUND from TENANT_MISMATCH.
func GetCard(ctx context.Context, tx *gorm.DB, cardId int) (*Card, error) {
	var card Card
	err := tx.WithContext(ctx).
		Preload("Loop").
		Where("id = ?", cardId).
		First(&card).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewDomainError(ErrCodeCardNotFound, "card not found")
		}
		return nil, err
	}
	return &card, nil
}

package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/kanban_backend/config"
	"bitbucket.org/mmdatafocus/kanban_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Loop is the kanban replenishment policy a card belongs to. Read-only for
// the lifecycle core: its type gates which transitions a card may take.
type Loop struct {
	ID            int             `gorm:"primary_key" json:"id"`
	TenantId      string          `gorm:"size:64;not null;index" json:"tenant_id"`
	LoopType      LoopType        `gorm:"size:20;not null" json:"loop_type"`
	PartId        int             `gorm:"not null;index" json:"part_id"`
	FacilityId    int             `gorm:"not null;index" json:"facility_id"`
	OrderQuantity decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"order_quantity"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetLoop(ctx context.Context, id int) (*Loop, error) {
	db := config.GetDB()

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}

	var loop Loop
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantId, id).
		First(&loop).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &loop, nil
}

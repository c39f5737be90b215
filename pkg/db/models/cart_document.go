package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/campusmart-backend/pkg/types"
)

// CartDocument is the authoritative per-user cart. Version guards concurrent writers and
// AppliedSeq is the highest queued operation already folded into Lines.
type CartDocument struct {
	UserID     uuid.UUID        `gorm:"column:user_id;type:uuid;primaryKey"`
	Lines      []types.CartLine `gorm:"column:lines;type:jsonb;serializer:json;not null"`
	Version    int64            `gorm:"column:version;not null;default:0"`
	AppliedSeq int64            `gorm:"column:applied_seq;not null;default:0"`
	CreatedAt  time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (CartDocument) TableName() string { return "cart_documents" }

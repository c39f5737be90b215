package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/campusmart-backend/pkg/enums"
)

// Notification is an in-app message addressed to a seller or a buyer.
type Notification struct {
	ID          uuid.UUID              `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	RecipientID uuid.UUID              `gorm:"type:uuid;not null"`
	OrderID     *uuid.UUID             `gorm:"type:uuid"`
	Type        enums.NotificationType `gorm:"type:notification_type;not null"`
	Title       string                 `gorm:"type:text;not null"`
	Message     string                 `gorm:"type:text;not null"`
	Link        *string                `gorm:"type:text"`
	ReadAt      *time.Time             `gorm:"type:timestamptz"`
	CreatedAt   time.Time              `gorm:"type:timestamptz;default:now()"`
}

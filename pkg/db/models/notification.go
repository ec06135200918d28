package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/echopay/echopay-backend/pkg/enums"
)

// Notification stores in-app notification payloads scoped to a user.
type Notification struct {
	ID        uuid.UUID              `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	UserID    string                 `gorm:"column:user_id;type:text;not null;index" json:"userId"`
	Type      enums.NotificationType `gorm:"column:type;type:text;not null" json:"type"`
	Title     string                 `gorm:"column:title;type:text;not null" json:"title"`
	Message   string                 `gorm:"column:message;type:text;not null" json:"message"`
	CaseID    *uuid.UUID             `gorm:"column:case_id;type:uuid" json:"caseId,omitempty"`
	Link      *string                `gorm:"column:link;type:text" json:"link,omitempty"`
	ReadAt    *time.Time             `gorm:"column:read_at" json:"readAt,omitempty"`
	CreatedAt time.Time              `gorm:"column:created_at;not null" json:"createdAt"`
}

func (Notification) TableName() string { return "notifications" }

func (n *Notification) BeforeCreate(*gorm.DB) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	return nil
}

package models

import (
	"time"

	"gorm.io/datatypes"
)

// AuditLog records workflow transitions (contract proposals, signatures,
// rejections, payment intent changes) with before/after snapshots. Rows
// are append-only.
type AuditLog struct {
	ID           uint           `json:"id" gorm:"primaryKey"`
	ActorUserID  uint           `json:"actorUserID" gorm:"index;not null"`
	Action       string         `json:"action" gorm:"size:64;index"`
	ResourceType string         `json:"resourceType" gorm:"size:64;index"`
	ResourceID   uint           `json:"resourceID" gorm:"index"`
	Before       datatypes.JSON `json:"before"`
	After        datatypes.JSON `json:"after"`
	IPAddress    string         `json:"ipAddress" gorm:"size:64"`
	CreatedAt    time.Time      `json:"createdAt"`
}

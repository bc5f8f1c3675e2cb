package models

import (
	"encoding/json"
	"time"

	"bitbucket.org/intellihub/hub_backend/utils"
	"gorm.io/gorm"
)

// AuditLog is append-only. Every materialization, task transition and remote
// push lands here with its correlation keys.
type AuditLog struct {
	ID            uint      `gorm:"primary_key" json:"id"`
	ActorId       string    `gorm:"size:36;index" json:"actor_id"`
	Action        string    `gorm:"size:40;not null" json:"action"`
	EntityKind    string    `gorm:"size:40;not null" json:"entity_kind"`
	EntityId      string    `gorm:"size:64;index" json:"entity_id"`
	Before        string    `gorm:"type:text" json:"before"`
	After         string    `gorm:"type:text" json:"after"`
	SourceIp      string    `gorm:"size:45" json:"source_ip"`
	CorrelationId string    `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// CreateAuditLog writes one entry using the actor / source ip / correlation
// id carried in the transaction's context.
func CreateAuditLog(tx *gorm.DB, action string, entityKind string, entityId string, before interface{}, after interface{}) error {
	ctx := tx.Statement.Context

	var b, a string
	if before != nil {
		raw, _ := json.Marshal(before)
		b = string(raw)
	}
	if after != nil {
		raw, _ := json.Marshal(after)
		a = string(raw)
	}

	actorId, _ := utils.GetActorIdFromContext(ctx)
	sourceIp, _ := utils.GetSourceIpFromContext(ctx)
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)

	entry := AuditLog{
		ActorId:       actorId,
		Action:        action,
		EntityKind:    entityKind,
		EntityId:      entityId,
		Before:        b,
		After:         a,
		SourceIp:      sourceIp,
		CorrelationId: correlationId,
	}
	return tx.Create(&entry).Error
}

package models

import (
	"context"
	"encoding/json"
	"errors"

	"gorm.io/gorm"
)

type TicketTemplate struct {
	ID              string       `gorm:"primary_key;size:36" json:"id"`
	Name            string       `gorm:"size:255;not null" json:"name"`
	Category        string       `gorm:"size:100" json:"category"`
	Priority        TaskPriority `gorm:"size:20" json:"priority"`
	DefaultSlaHours int          `json:"default_sla_hours"`
	AutoAssignJSON  []byte       `gorm:"type:json" json:"auto_assign_rules"`
	IsActive        bool         `gorm:"default:true" json:"is_active"`
}

// TicketTemplateItem orders the task templates inside a ticket template.
type TicketTemplateItem struct {
	ID               uint   `gorm:"primary_key" json:"id"`
	TicketTemplateId string `gorm:"size:36;index;not null" json:"ticket_template_id"`
	TaskTemplateId   string `gorm:"size:36;not null" json:"task_template_id"`
	Position         int    `gorm:"not null" json:"position"`
}

type TaskTemplate struct {
	ID             string       `gorm:"primary_key;size:36" json:"id"`
	Name           string       `gorm:"size:255;not null" json:"name"`
	Description    string       `gorm:"type:text" json:"description"`
	SlaDays        *int         `json:"sla_days"`
	WarningDays    int          `json:"warning_days"`
	EscalationDays int          `json:"escalation_days"`
	Priority       TaskPriority `gorm:"size:20" json:"priority"`
	ChecklistJSON  []byte       `gorm:"type:json" json:"default_checklist"`
	Category       string       `gorm:"size:100" json:"category"`
	TagsJSON       []byte       `gorm:"type:json" json:"tags"`
}

// AutoAssignRules maps a ticket attribute to the assignee it dictates,
// e.g. {"customer_name": {"Acme SRL": "<user uuid>"}}.
type AutoAssignRules map[string]map[string]string

func (t *TicketTemplate) AutoAssign() AutoAssignRules {
	if len(t.AutoAssignJSON) == 0 {
		return nil
	}
	var rules AutoAssignRules
	if err := json.Unmarshal(t.AutoAssignJSON, &rules); err != nil {
		return nil
	}
	return rules
}

func GetTicketTemplateById(ctx context.Context, db *gorm.DB, id string) (*TicketTemplate, error) {
	var tpl TicketTemplate
	err := db.WithContext(ctx).Where("id = ?", id).Take(&tpl).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &tpl, nil
}

func ListTicketTemplateItems(ctx context.Context, db *gorm.DB, ticketTemplateId string) ([]TicketTemplateItem, error) {
	var items []TicketTemplateItem
	err := db.WithContext(ctx).
		Where("ticket_template_id = ?", ticketTemplateId).
		Order("position").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func GetTaskTemplateById(ctx context.Context, db *gorm.DB, id string) (*TaskTemplate, error) {
	var tpl TaskTemplate
	err := db.WithContext(ctx).Where("id = ?", id).Take(&tpl).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &tpl, nil
}

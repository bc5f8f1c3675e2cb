package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Ticket struct {
	ID           string       `gorm:"primary_key;size:36" json:"id"`
	ActivityId   *int         `gorm:"uniqueIndex" json:"activity_id"`
	Code         string       `gorm:"size:32;uniqueIndex;not null" json:"code"`
	Title        string       `gorm:"size:255;not null" json:"title"`
	Description  string       `gorm:"type:text" json:"description"`
	Priority     TaskPriority `gorm:"size:20" json:"priority"`
	Status       TicketStatus `gorm:"size:20;not null" json:"status"`
	Owner        string       `gorm:"size:255" json:"owner"`
	CustomerName string       `gorm:"size:255" json:"customer_name"`
	DueAt        *time.Time   `json:"due_at"`
	CreatedAt    time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

type Task struct {
	ID                 string          `gorm:"primary_key;size:36" json:"id"`
	TicketId           string          `gorm:"size:36;index;not null" json:"ticket_id"`
	Position           int             `gorm:"not null" json:"position"`
	Title              string          `gorm:"size:255;not null" json:"title"`
	Description        string          `gorm:"type:text" json:"description"`
	Status             TaskStatus      `gorm:"size:20;not null" json:"status"`
	Priority           TaskPriority    `gorm:"size:20;not null" json:"priority"`
	AssigneeId         *string         `gorm:"size:36" json:"assignee_id"`
	SlaDays            *int            `json:"sla_days"`
	WarningDays        int             `json:"warning_days"`
	EscalationDays     int             `json:"escalation_days"`
	SlaDeadline        *time.Time      `json:"sla_deadline"`
	WarningDeadline    *time.Time      `json:"warning_deadline"`
	EscalationDeadline *time.Time      `json:"escalation_deadline"`
	EstimatedHours     decimal.Decimal `gorm:"type:decimal(8,2)" json:"estimated_hours"`
	ActualHours        decimal.Decimal `gorm:"type:decimal(8,2)" json:"actual_hours"`
	ChecklistJSON      []byte          `gorm:"type:json" json:"checklist"`
	CreatedAt          time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type ChecklistItem struct {
	Text string `json:"text"`
	Done bool   `json:"done"`
}

func (t *Task) Checklist() []ChecklistItem {
	if len(t.ChecklistJSON) == 0 {
		return nil
	}
	var items []ChecklistItem
	if err := json.Unmarshal(t.ChecklistJSON, &items); err != nil {
		return nil
	}
	return items
}

func EncodeChecklist(items []ChecklistItem) []byte {
	if len(items) == 0 {
		return nil
	}
	b, _ := json.Marshal(items)
	return b
}

func GetTicketById(ctx context.Context, db *gorm.DB, id string) (*Ticket, error) {
	var ticket Ticket
	err := db.WithContext(ctx).Where("id = ?", id).Take(&ticket).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &ticket, nil
}

func GetTaskById(ctx context.Context, db *gorm.DB, id string) (*Task, error) {
	var task Task
	err := db.WithContext(ctx).Where("id = ?", id).Take(&task).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &task, nil
}

func ListTasksByTicket(ctx context.Context, db *gorm.DB, ticketId string) ([]Task, error) {
	var tasks []Task
	err := db.WithContext(ctx).
		Where("ticket_id = ?", ticketId).
		Order("position").
		Find(&tasks).Error
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

func FindTicketByActivityId(ctx context.Context, db *gorm.DB, activityId int) (*Ticket, error) {
	var ticket Ticket
	err := db.WithContext(ctx).Where("activity_id = ?", activityId).Take(&ticket).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &ticket, nil
}

// TicketCodeCounter backs the monotone human ticket codes. One row per code
// family; the next sequence is claimed inside the materializer's transaction.
type TicketCodeCounter struct {
	Family  string `gorm:"primary_key;size:16" json:"family"`
	NextSeq int    `gorm:"not null" json:"next_seq"`
}

// NextTicketCode claims the next code in the family. Must run inside the
// caller's transaction so a failed materialization does not burn sequence
// numbers across ticket rows that were never written.
func NextTicketCode(tx *gorm.DB, family string) (string, error) {
	var counter TicketCodeCounter
	err := tx.Where("family = ?", family).Take(&counter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		counter = TicketCodeCounter{Family: family, NextSeq: 1}
		if err := tx.Create(&counter).Error; err != nil {
			return "", err
		}
	} else if err != nil {
		return "", err
	}

	seq := counter.NextSeq
	if err := tx.Model(&TicketCodeCounter{}).
		Where("family = ?", family).
		Update("next_seq", seq+1).Error; err != nil {
		return "", err
	}
	return fmt.Sprintf("TCK-%s-%d", family, seq), nil
}

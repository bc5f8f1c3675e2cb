package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"bitbucket.org/intellihub/hub_backend/config"
	"bitbucket.org/intellihub/hub_backend/models"
	"bitbucket.org/intellihub/hub_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RemotePusher is the slice of the remote client the hook needs. The push is
// deliberately non-transactional with the local mutation: local write first,
// remote push second, audit log always.
type RemotePusher interface {
	Patch(ctx context.Context, kind models.EntityKind, id int, body any) (json.RawMessage, error)
}

// HookEngine reacts to task status transitions: it applies the local
// transition, mirrors it to the remote CRM activity, and closes the owning
// ticket once every task is terminal.
type HookEngine struct {
	db     *gorm.DB
	pusher RemotePusher
	logger *logrus.Logger

	// sleep is swapped in tests to avoid real backoff waits.
	sleep func(time.Duration)
}

func NewHookEngine(db *gorm.DB, pusher RemotePusher, logger *logrus.Logger) *HookEngine {
	if logger == nil {
		logger = config.GetLogger()
	}
	return &HookEngine{db: db, pusher: pusher, logger: logger, sleep: time.Sleep}
}

// OnStatusChange applies a task transition and runs the full hook:
//  1. validate against the task state machine and write the new status
//  2. push a status line to the remote activity (failures logged, not fatal)
//  3. when all tasks of the ticket are terminal and at least one completed,
//     close the ticket and push the closure upstream
//
// Every step lands in the audit log. Remote failures never roll back local
// state.
func (h *HookEngine) OnStatusChange(ctx context.Context, taskId string, oldStatus models.TaskStatus, newStatus models.TaskStatus, actorId string) error {
	if actorId != "" {
		ctx = utils.SetActorIdInContext(ctx, actorId)
	}

	task, err := models.GetTaskById(ctx, h.db, taskId)
	if err != nil {
		return err
	}
	if task == nil {
		return fmt.Errorf("task %s: %w", taskId, utils.ErrorRecordNotFound)
	}
	if task.Status != oldStatus {
		return fmt.Errorf("task %s is %s, not %s", taskId, task.Status, oldStatus)
	}
	if !oldStatus.CanTransitionTo(newStatus) {
		return fmt.Errorf("invalid task transition %s -> %s", oldStatus, newStatus)
	}

	ticket, err := models.GetTicketById(ctx, h.db, task.TicketId)
	if err != nil {
		return err
	}
	if ticket == nil {
		return fmt.Errorf("ticket %s for task %s: %w", task.TicketId, taskId, utils.ErrorRecordNotFound)
	}

	// Local write first.
	if err := h.writeTransition(ctx, taskId, oldStatus, newStatus); err != nil {
		return err
	}

	remoteId := h.activityRemoteId(ctx, ticket)
	if remoteId != 0 {
		message := fmt.Sprintf("%s / %s: %s → %s", ticket.Code, task.Title, oldStatus, newStatus)
		h.push(ctx, remoteId, "task", taskId, message)
	}

	return h.maybeCloseTicket(ctx, ticket, remoteId)
}

// writeTransition applies the status change guarded by the expected current
// status, so a transition that raced another writer affects zero rows and is
// rejected instead of double-applied.
func (h *HookEngine) writeTransition(ctx context.Context, taskId string, oldStatus models.TaskStatus, newStatus models.TaskStatus) error {
	return h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Task{}).
			Where("id = ? AND status = ?", taskId, oldStatus).
			Update("status", newStatus)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("task %s moved away from %s concurrently", taskId, oldStatus)
		}
		return models.CreateAuditLog(tx, models.AuditActionTaskTransition, "task", taskId,
			map[string]string{"status": string(oldStatus)},
			map[string]string{"status": string(newStatus)})
	})
}

// maybeCloseTicket closes the ticket iff every owned task is terminal and at
// least one is completed, then pushes the closure upstream.
func (h *HookEngine) maybeCloseTicket(ctx context.Context, ticket *models.Ticket, remoteId int) error {
	tasks, err := models.ListTasksByTicket(ctx, h.db, ticket.ID)
	if err != nil {
		return err
	}

	anyCompleted := false
	for _, task := range tasks {
		if !task.Status.IsTerminal() {
			return nil
		}
		if task.Status == models.TaskStatusCompleted {
			anyCompleted = true
		}
	}
	if len(tasks) == 0 || !anyCompleted {
		return nil
	}
	if ticket.Status == models.TicketStatusCompleted {
		return nil
	}

	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Ticket{}).
			Where("id = ?", ticket.ID).
			Updates(map[string]interface{}{
				"status":     models.TicketStatusCompleted,
				"updated_at": time.Now(),
			}).Error; err != nil {
			return err
		}
		return models.CreateAuditLog(tx, models.AuditActionTicketClosed, "ticket", ticket.ID,
			map[string]string{"status": string(ticket.Status)},
			map[string]string{"status": string(models.TicketStatusCompleted)})
	})
	if err != nil {
		return err
	}

	if remoteId != 0 {
		message := fmt.Sprintf("%s chiuso: tutte le attività completate", ticket.Code)
		h.push(ctx, remoteId, "ticket", ticket.ID, message)
	}
	return nil
}

// push patches the remote activity with an appended-history line, retrying
// transient failures. Exhausted retries leave a crm_push_failed marker in
// the audit log; local state is preserved.
func (h *HookEngine) push(ctx context.Context, remoteActivityId int, entityKind string, entityId string, message string) {
	if h.pusher == nil {
		return
	}
	body := map[string]string{"appendHistory": message}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			h.sleep(time.Second * time.Duration(1<<(attempt-1)))
		}
		_, err := h.pusher.Patch(ctx, models.EntityKindActivity, remoteActivityId, body)
		if err == nil {
			_ = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				return models.CreateAuditLog(tx, models.AuditActionCrmPush, entityKind, entityId, nil,
					map[string]string{"message": message})
			})
			return
		}
		lastErr = err
	}

	config.LogError(h.logger, "workflow", "push", fmt.Sprintf("activity %d", remoteActivityId), message, lastErr)
	_ = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return models.CreateAuditLog(tx, models.AuditActionCrmPushFailed, entityKind, entityId, nil,
			map[string]string{"message": message, "error": lastErr.Error()})
	})
}

func (h *HookEngine) activityRemoteId(ctx context.Context, ticket *models.Ticket) int {
	if ticket.ActivityId == nil {
		return 0
	}
	var activity models.Activity
	if err := h.db.WithContext(ctx).Where("id = ?", *ticket.ActivityId).Take(&activity).Error; err != nil {
		h.logger.WithFields(logrus.Fields{
			"module":   "workflow",
			"ticketId": ticket.ID,
		}).Warn("linked activity not found, skipping remote push")
		return 0
	}
	return activity.RemoteId
}

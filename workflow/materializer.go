package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"bitbucket.org/intellihub/hub_backend/config"
	"bitbucket.org/intellihub/hub_backend/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// MaterializationError means the template catalog is inconsistent (e.g. a
// ticket template references a missing task template). The whole generation
// fails for that activity; no partial ticket is ever written.
type MaterializationError struct {
	ActivityId int
	Reason     string
}

func (e *MaterializationError) Error() string {
	return fmt.Sprintf("materialization failed for activity %d: %s", e.ActivityId, e.Reason)
}

const (
	SkipAlreadyMaterialized = "already_materialized"
	SkipNoKitMatch          = "no_kit_match"
	SkipNoTemplate          = "no_template"
	SkipNotEligible         = "not_eligible"
	SkipDryRun              = "dry_run"
)

type MaterializeResult struct {
	ActivityId int    `json:"activity_id"`
	TicketId   string `json:"ticket_id,omitempty"`
	TicketCode string `json:"ticket_code,omitempty"`
	Created    bool   `json:"created"`
	SkipReason string `json:"skip_reason,omitempty"`
}

type MaterializeStats struct {
	DryRun  bool                `json:"dry_run"`
	Checked int                 `json:"checked"`
	Created int                 `json:"created"`
	Skipped int                 `json:"skipped"`
	Errors  int                 `json:"errors"`
	Results []MaterializeResult `json:"results"`
}

func (s *MaterializeStats) JSON() []byte {
	b, _ := json.MarshalIndent(s, "", "  ")
	return b
}

// DetectKit finds the catalog item whose code appears in the description as
// a whole word, case-insensitively. When several match, the longest code
// wins.
func DetectKit(description string, items []models.CatalogItem) *models.CatalogItem {
	var best *models.CatalogItem
	for i := range items {
		item := &items[i]
		if !item.IsActive || item.Code == "" {
			continue
		}
		pattern := `(?i)\b` + regexp.QuoteMeta(item.Code) + `\b`
		matched, err := regexp.MatchString(pattern, description)
		if err != nil || !matched {
			continue
		}
		if best == nil || len(item.Code) > len(best.Code) {
			best = item
		}
	}
	return best
}

// TicketPlan is the pure expansion of (activity, template catalog, now) into
// the ticket and task rows to write. The human code is not part of the plan;
// it is claimed inside the write transaction.
type TicketPlan struct {
	Title        string
	Description  string
	Priority     models.TaskPriority
	CustomerName string
	Owner        string
	DueAt        *time.Time
	Tasks        []TaskPlan
}

type TaskPlan struct {
	Position       int
	Title          string
	Description    string
	Priority       models.TaskPriority
	AssigneeId     *string
	SlaDays        *int
	WarningDays    int
	EscalationDays int
	Deadlines      DeadlineSet
	ChecklistJSON  []byte
}

// PlanTicket expands a ticket template into the full task tree for an
// activity. It performs no writes; a missing task template fails the whole
// plan.
func PlanTicket(activity *models.Activity, template *models.TicketTemplate, items []models.TicketTemplateItem, taskTemplates map[string]*models.TaskTemplate, now time.Time) (*TicketPlan, error) {
	title := activity.Subject
	if title == "" {
		title = template.Name
	}

	priority := template.Priority
	if priority == "" {
		priority = models.TaskPriorityNormale
	}

	plan := &TicketPlan{
		Title:        title,
		Description:  activity.Description,
		Priority:     priority,
		CustomerName: activity.CustomerName,
		Owner:        activity.OwnerName,
	}
	if template.DefaultSlaHours > 0 {
		due := now.Add(time.Duration(template.DefaultSlaHours) * time.Hour)
		plan.DueAt = &due
	}

	rules := template.AutoAssign()

	for _, item := range items {
		tpl, ok := taskTemplates[item.TaskTemplateId]
		if !ok || tpl == nil {
			return nil, &MaterializationError{
				ActivityId: activity.ID,
				Reason:     fmt.Sprintf("task template %s referenced by %s not found", item.TaskTemplateId, template.ID),
			}
		}

		taskPriority := tpl.Priority
		if taskPriority == "" {
			taskPriority = priority
		}

		task := TaskPlan{
			Position:       item.Position,
			Title:          tpl.Name,
			Description:    tpl.Description,
			Priority:       taskPriority,
			AssigneeId:     autoAssignee(rules, plan),
			SlaDays:        tpl.SlaDays,
			WarningDays:    tpl.WarningDays,
			EscalationDays: tpl.EscalationDays,
			Deadlines:      ComputeDeadlines(tpl.SlaDays, tpl.WarningDays, tpl.EscalationDays, now),
			ChecklistJSON:  tpl.ChecklistJSON,
		}
		plan.Tasks = append(plan.Tasks, task)
	}
	return plan, nil
}

// autoAssignee evaluates the template's auto-assign rules against the ticket
// attributes. Rules are simple maps from attribute value to user id.
func autoAssignee(rules models.AutoAssignRules, plan *TicketPlan) *string {
	if len(rules) == 0 {
		return nil
	}
	attrs := map[string]string{
		"customer_name": plan.CustomerName,
		"priority":      string(plan.Priority),
	}
	for attr, mapping := range rules {
		value, ok := attrs[attr]
		if !ok {
			continue
		}
		if userId, ok := mapping[value]; ok && userId != "" {
			return &userId
		}
	}
	return nil
}

// Materializer turns eligible activities into tickets with task trees.
// Creation is its exclusive right: nothing else writes tickets or tasks.
type Materializer struct {
	db     *gorm.DB
	logger *logrus.Logger
	family string
	now    func() time.Time

	// DryRun plans every eligible activity but writes nothing.
	DryRun bool
}

func NewMaterializer(db *gorm.DB, logger *logrus.Logger) *Materializer {
	if logger == nil {
		logger = config.GetLogger()
	}
	return &Materializer{
		db:     db,
		logger: logger,
		family: config.TicketCodeFamily(),
		now:    time.Now,
	}
}

// MaterializeActivity generates at most one ticket for the activity. It is
// idempotent: an already-materialized activity is reported as skipped.
func (m *Materializer) MaterializeActivity(ctx context.Context, activityId int) (MaterializeResult, error) {
	result := MaterializeResult{ActivityId: activityId}

	var activity models.Activity
	if err := m.db.WithContext(ctx).Where("id = ?", activityId).Take(&activity).Error; err != nil {
		return result, err
	}

	existing, err := models.FindTicketByActivityId(ctx, m.db, activityId)
	if err != nil {
		return result, err
	}
	if existing != nil {
		result.SkipReason = SkipAlreadyMaterialized
		result.TicketId = existing.ID
		return result, nil
	}

	if activity.SubtypeCode != config.IntelligenceSubtype() || activity.Closed {
		result.SkipReason = SkipNotEligible
		return result, nil
	}

	items, err := models.ListActiveCatalogItems(ctx, m.db)
	if err != nil {
		return result, err
	}
	kit := DetectKit(activity.Description, items)
	if kit == nil {
		result.SkipReason = SkipNoKitMatch
		return result, nil
	}
	if kit.TicketTemplateId == nil || *kit.TicketTemplateId == "" {
		result.SkipReason = SkipNoTemplate
		return result, nil
	}

	template, err := models.GetTicketTemplateById(ctx, m.db, *kit.TicketTemplateId)
	if err != nil {
		return result, err
	}
	if template == nil || !template.IsActive {
		result.SkipReason = SkipNoTemplate
		return result, nil
	}

	templateItems, err := models.ListTicketTemplateItems(ctx, m.db, template.ID)
	if err != nil {
		return result, err
	}
	taskTemplates := map[string]*models.TaskTemplate{}
	for _, item := range templateItems {
		tpl, err := models.GetTaskTemplateById(ctx, m.db, item.TaskTemplateId)
		if err != nil {
			return result, err
		}
		taskTemplates[item.TaskTemplateId] = tpl
	}

	plan, err := PlanTicket(&activity, template, templateItems, taskTemplates, m.now())
	if err != nil {
		return result, err
	}

	if m.DryRun {
		m.logger.WithFields(logrus.Fields{
			"module":     "workflow",
			"activityId": activityId,
			"template":   template.ID,
			"tasks":      len(plan.Tasks),
		}).Info("dry run: ticket planned, nothing written")
		result.SkipReason = SkipDryRun
		return result, nil
	}

	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		code, err := models.NextTicketCode(tx, m.family)
		if err != nil {
			return err
		}

		ticket := models.Ticket{
			ID:           uuid.NewString(),
			ActivityId:   &activity.ID,
			Code:         code,
			Title:        plan.Title,
			Description:  plan.Description,
			Priority:     plan.Priority,
			Status:       models.TicketStatusOpen,
			Owner:        plan.Owner,
			CustomerName: plan.CustomerName,
			DueAt:        plan.DueAt,
		}
		if err := tx.Create(&ticket).Error; err != nil {
			return err
		}

		for _, taskPlan := range plan.Tasks {
			task := models.Task{
				ID:                 uuid.NewString(),
				TicketId:           ticket.ID,
				Position:           taskPlan.Position,
				Title:              taskPlan.Title,
				Description:        taskPlan.Description,
				Status:             models.TaskStatusTodo,
				Priority:           taskPlan.Priority,
				AssigneeId:         taskPlan.AssigneeId,
				SlaDays:            taskPlan.SlaDays,
				WarningDays:        taskPlan.WarningDays,
				EscalationDays:     taskPlan.EscalationDays,
				SlaDeadline:        taskPlan.Deadlines.Sla,
				WarningDeadline:    taskPlan.Deadlines.Warning,
				EscalationDeadline: taskPlan.Deadlines.Escalation,
				ChecklistJSON:      taskPlan.ChecklistJSON,
			}
			if err := tx.Create(&task).Error; err != nil {
				return err
			}
		}

		if err := models.CreateAuditLog(tx, models.AuditActionMaterialize, "ticket", ticket.ID, nil, &ticket); err != nil {
			return err
		}

		result.TicketId = ticket.ID
		result.TicketCode = code
		result.Created = true
		return nil
	})
	if err != nil {
		return MaterializeResult{ActivityId: activityId}, err
	}

	m.logger.WithFields(logrus.Fields{
		"module":     "workflow",
		"activityId": activityId,
		"ticket":     result.TicketCode,
		"tasks":      len(plan.Tasks),
	}).Info("activity materialized")
	return result, nil
}

// MaterializeAll walks every Intelligence activity that has no ticket yet.
// Per-activity failures are reported and never abort the pass.
func (m *Materializer) MaterializeAll(ctx context.Context, limit int) *MaterializeStats {
	stats := &MaterializeStats{DryRun: m.DryRun}

	activities, err := models.ListActivitiesWithoutTicket(ctx, m.db, config.IntelligenceSubtype(), limit)
	if err != nil {
		config.LogError(m.logger, "workflow", "MaterializeAll", "list activities", nil, err)
		stats.Errors++
		return stats
	}

	for _, activity := range activities {
		stats.Checked++
		result, err := m.MaterializeActivity(ctx, activity.ID)
		if err != nil {
			stats.Errors++
			config.LogError(m.logger, "workflow", "MaterializeAll", fmt.Sprintf("activity %d", activity.ID), nil, err)
			continue
		}
		stats.Results = append(stats.Results, result)
		if result.Created {
			stats.Created++
		} else {
			stats.Skipped++
		}
	}
	return stats
}

package models

type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "open"
	TicketStatusInProgress TicketStatus = "in_progress"
	TicketStatusCompleted  TicketStatus = "completed"
	TicketStatusCancelled  TicketStatus = "cancelled"
)

func (s TicketStatus) IsTerminal() bool {
	return s == TicketStatusCompleted || s == TicketStatusCancelled
}

type TaskStatus string

const (
	TaskStatusTodo       TaskStatus = "todo"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusCancelled
}

// CanTransitionTo encodes the task state machine:
// todo -> in_progress -> completed, with cancelled reachable from todo or
// in_progress. Terminal states admit no further transition.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	switch s {
	case TaskStatusTodo:
		return next == TaskStatusInProgress || next == TaskStatusCompleted || next == TaskStatusCancelled
	case TaskStatusInProgress:
		return next == TaskStatusCompleted || next == TaskStatusCancelled
	default:
		return false
	}
}

type TaskPriority string

const (
	TaskPriorityBassa   TaskPriority = "bassa"
	TaskPriorityNormale TaskPriority = "normale"
	TaskPriorityAlta    TaskPriority = "alta"
	TaskPriorityCritica TaskPriority = "critica"
)

func ValidTaskPriority(p string) bool {
	switch TaskPriority(p) {
	case TaskPriorityBassa, TaskPriorityNormale, TaskPriorityAlta, TaskPriorityCritica:
		return true
	}
	return false
}

type CatalogItemType string

const (
	CatalogItemTypeSimple    CatalogItemType = "simple"
	CatalogItemTypeComposite CatalogItemType = "composite"
)

type ScrapeStatus string

const (
	ScrapeStatusPending ScrapeStatus = "pending"
	ScrapeStatusDone    ScrapeStatus = "done"
	ScrapeStatusFailed  ScrapeStatus = "failed"
)

// EntityKind names the remote entity families the sync pipeline handles.
type EntityKind string

const (
	EntityKindCompany  EntityKind = "company"
	EntityKindContact  EntityKind = "contact"
	EntityKindActivity EntityKind = "activity"
)

const (
	SyncRunStatusQueued  = "queued"
	SyncRunStatusRunning = "running"
	SyncRunStatusSuccess = "success"
	SyncRunStatusFailed  = "failed"
	SyncRunStatusPartial = "partial"
)

const (
	SyncTriggeredManual = "manual"
	SyncTriggeredSystem = "system"
)

const (
	AuditActionSyncUpsert     = "sync_upsert"
	AuditActionMaterialize    = "materialize"
	AuditActionTaskTransition = "task_transition"
	AuditActionTicketClosed   = "ticket_closed"
	AuditActionCrmPush        = "crm_push"
	AuditActionCrmPushFailed  = "crm_push_failed"
)

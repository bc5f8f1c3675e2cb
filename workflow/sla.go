package workflow

import (
	"time"

	"bitbucket.org/intellihub/hub_backend/models"
)

type DeadlineColor string

const (
	DeadlineGreen  DeadlineColor = "GREEN"
	DeadlineYellow DeadlineColor = "YELLOW"
	DeadlineOrange DeadlineColor = "ORANGE"
	DeadlineRed    DeadlineColor = "RED"
	DeadlineNoSLA  DeadlineColor = "NO_SLA"
)

type DeadlineSet struct {
	Sla        *time.Time
	Warning    *time.Time
	Escalation *time.Time
}

// ComputeDeadlines derives the three task deadlines from its SLA
// configuration and creation time:
//
//	sla        = t0 + S days
//	warning    = t0 + max(0, S-W) days
//	escalation = t0 + (S+E) days
//
// A nil slaDays yields no deadlines at all (NO_SLA task).
func ComputeDeadlines(slaDays *int, warningDays int, escalationDays int, t0 time.Time) DeadlineSet {
	if slaDays == nil {
		return DeadlineSet{}
	}
	s := *slaDays

	sla := t0.AddDate(0, 0, s)
	warningOffset := s - warningDays
	if warningOffset < 0 {
		warningOffset = 0
	}
	warning := t0.AddDate(0, 0, warningOffset)
	escalation := t0.AddDate(0, 0, s+escalationDays)

	return DeadlineSet{Sla: &sla, Warning: &warning, Escalation: &escalation}
}

// ColorFor maps a task's deadlines against the clock. The mapping is
// monotone in now: GREEN before the warning deadline, YELLOW until the SLA
// deadline, ORANGE until escalation, RED after.
func ColorFor(task *models.Task, now time.Time) DeadlineColor {
	if task.SlaDays == nil || task.SlaDeadline == nil || task.WarningDeadline == nil || task.EscalationDeadline == nil {
		return DeadlineNoSLA
	}
	switch {
	case now.Before(*task.WarningDeadline):
		return DeadlineGreen
	case !now.After(*task.SlaDeadline):
		return DeadlineYellow
	case !now.After(*task.EscalationDeadline):
		return DeadlineOrange
	default:
		return DeadlineRed
	}
}

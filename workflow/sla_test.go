package workflow

import (
	"testing"
	"time"

	"bitbucket.org/intellihub/hub_backend/models"
	"github.com/stretchr/testify/require"
)

func days(n int) *int { return &n }

func TestComputeDeadlines(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	set := ComputeDeadlines(days(10), 3, 5, t0)
	require.NotNil(t, set.Sla)
	require.Equal(t, t0.AddDate(0, 0, 10), *set.Sla)
	require.Equal(t, t0.AddDate(0, 0, 7), *set.Warning)
	require.Equal(t, t0.AddDate(0, 0, 15), *set.Escalation)
}

func TestComputeDeadlinesWarningClampedToStart(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	// Warning window larger than the SLA itself: warn from day zero.
	set := ComputeDeadlines(days(2), 5, 1, t0)
	require.Equal(t, t0, *set.Warning)
	require.Equal(t, t0.AddDate(0, 0, 2), *set.Sla)
	require.Equal(t, t0.AddDate(0, 0, 3), *set.Escalation)
}

func TestComputeDeadlinesNoSLA(t *testing.T) {
	set := ComputeDeadlines(nil, 3, 5, time.Now())
	require.Nil(t, set.Sla)
	require.Nil(t, set.Warning)
	require.Nil(t, set.Escalation)
}

func TestColorForProgression(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	set := ComputeDeadlines(days(10), 3, 5, t0)
	task := &models.Task{
		SlaDays:            days(10),
		SlaDeadline:        set.Sla,
		WarningDeadline:    set.Warning,
		EscalationDeadline: set.Escalation,
	}

	cases := []struct {
		now  time.Time
		want DeadlineColor
	}{
		{t0, DeadlineGreen},
		{t0.AddDate(0, 0, 6), DeadlineGreen},
		{t0.AddDate(0, 0, 7), DeadlineYellow},
		{t0.AddDate(0, 0, 10), DeadlineYellow},
		{t0.AddDate(0, 0, 11), DeadlineOrange},
		{t0.AddDate(0, 0, 15), DeadlineOrange},
		{t0.AddDate(0, 0, 16), DeadlineRed},
	}
	for _, c := range cases {
		if got := ColorFor(task, c.now); got != c.want {
			t.Fatalf("ColorFor at %s = %s, want %s", c.now, got, c.want)
		}
	}
}

func TestColorForIsMonotone(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	set := ComputeDeadlines(days(4), 2, 3, t0)
	task := &models.Task{
		SlaDays:            days(4),
		SlaDeadline:        set.Sla,
		WarningDeadline:    set.Warning,
		EscalationDeadline: set.Escalation,
	}

	rank := map[DeadlineColor]int{
		DeadlineGreen: 0, DeadlineYellow: 1, DeadlineOrange: 2, DeadlineRed: 3,
	}
	prev := -1
	for hour := 0; hour < 24*10; hour++ {
		color := ColorFor(task, t0.Add(time.Duration(hour)*time.Hour))
		if rank[color] < prev {
			t.Fatalf("color regressed to %s at hour %d", color, hour)
		}
		prev = rank[color]
	}
}

func TestColorForNoSLA(t *testing.T) {
	require.Equal(t, DeadlineNoSLA, ColorFor(&models.Task{}, time.Now()))
}

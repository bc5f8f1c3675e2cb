package incloudsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/intellihub/hub_backend/config"
	"bitbucket.org/intellihub/hub_backend/models"
	"bitbucket.org/intellihub/hub_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// SyncStats is the structured per-job report. It is both printed to stdout
// and persisted on the models.SyncRun row.
type SyncStats struct {
	Entity     string    `json:"entity"`
	DryRun     bool      `json:"dry_run"`
	Checked    int       `json:"checked"`
	Created    int       `json:"created"`
	Updated    int       `json:"updated"`
	Unchanged  int       `json:"unchanged"`
	Skipped    int       `json:"skipped"`
	Errors     int       `json:"errors"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	FatalError string    `json:"fatal_error,omitempty"`
}

func (s *SyncStats) JSON() []byte {
	b, _ := json.MarshalIndent(s, "", "  ")
	return b
}

// Failed reports whether the job must count as failed: any fatal error, or a
// per-record error ratio above the configured threshold.
func (s *SyncStats) Failed() bool {
	if s.FatalError != "" {
		return true
	}
	if s.Checked == 0 {
		return false
	}
	return float64(s.Errors)/float64(s.Checked) > config.SyncErrorRatioMax()
}

// Orchestrator composes client, mapper, resolver and upsert engine into
// per-entity sync jobs. One orchestrator serves one run; it holds the only
// writer.
type Orchestrator struct {
	db       *gorm.DB
	client   *Client
	resolver *Resolver
	mapper   *Mapper
	logger   *logrus.Logger

	// TriggeredBy marks run rows with their origin; scheduled runners keep
	// the default, the service sets it to manual.
	TriggeredBy string
}

func NewOrchestrator(db *gorm.DB, client *Client, logger *logrus.Logger) *Orchestrator {
	if logger == nil {
		logger = config.GetLogger()
	}
	resolver := NewResolver(db, client)
	return &Orchestrator{
		db:          db,
		client:      client,
		resolver:    resolver,
		mapper:      NewMapper(resolver, logger),
		logger:      logger,
		TriggeredBy: models.SyncTriggeredSystem,
	}
}

// SyncEntity runs one per-entity job. Per-record errors are counted and
// persisted but never abort the job; authentication failures, an unreachable
// remote and database unavailability do.
func (o *Orchestrator) SyncEntity(ctx context.Context, kind models.EntityKind, limit int, dryRun bool) *SyncStats {
	stats := &SyncStats{Entity: string(kind), DryRun: dryRun, StartTime: time.Now()}

	run, err := models.CreateSyncRun(ctx, o.db, string(kind), o.TriggeredBy, dryRun)
	if err != nil {
		stats.FatalError = fmt.Sprintf("create sync run: %v", err)
		stats.EndTime = time.Now()
		return stats
	}
	ctx = utils.SetSyncRunIdInContext(ctx, run.ID)

	now := time.Now()
	_ = o.db.WithContext(ctx).Model(run).Updates(map[string]interface{}{
		"status":     models.SyncRunStatusRunning,
		"started_at": now,
	}).Error

	o.runEntity(ctx, kind, limit, dryRun, run.ID, stats)

	stats.EndTime = time.Now()
	o.finishRun(ctx, run, stats)
	return stats
}

func (o *Orchestrator) runEntity(ctx context.Context, kind models.EntityKind, limit int, dryRun bool, runId uint, stats *SyncStats) {
	if err := o.client.Login(ctx); err != nil {
		stats.FatalError = err.Error()
		return
	}

	ids, err := o.client.ListIDs(ctx, kind, limit)
	if err != nil {
		stats.FatalError = err.Error()
		return
	}

	engine := NewUpsertEngine(o.db, BatchSizeFor(kind), o.logger)
	defer func() {
		if err := engine.Close(); err != nil && stats.FatalError == "" {
			stats.FatalError = fmt.Sprintf("final commit: %v", err)
		}
	}()

	for _, id := range ids {
		stats.Checked++
		if err := o.syncOne(ctx, engine, kind, id, dryRun, runId, stats); err != nil {
			if isFatal(err) {
				stats.FatalError = err.Error()
				return
			}
			stats.Errors++
			o.recordError(ctx, runId, kind, id, err)
		}
	}
}

func (o *Orchestrator) syncOne(ctx context.Context, engine *UpsertEngine, kind models.EntityKind, id int, dryRun bool, runId uint, stats *SyncStats) error {
	payload, err := o.client.Get(ctx, kind, id)
	if err != nil {
		return err
	}

	var result ApplyResult
	switch kind {
	case models.EntityKindCompany:
		rec, err := o.mapper.MapCompany(payload)
		if err != nil {
			return err
		}
		if dryRun {
			stats.Skipped++
			return nil
		}
		result, err = engine.ApplyCompany(ctx, rec)
		if err != nil {
			return err
		}
	case models.EntityKindContact:
		rec, err := o.mapper.MapContact(ctx, payload)
		if err != nil {
			return err
		}
		if rec.Orphan {
			o.logger.WithFields(logrus.Fields{
				"module":   "incloudsync",
				"entity":   kind,
				"remoteId": id,
			}).Info("company reference unresolved, contact kept as orphan")
		}
		if dryRun {
			stats.Skipped++
			return nil
		}
		result, err = engine.ApplyContact(ctx, rec)
		if err != nil {
			return err
		}
	case models.EntityKindActivity:
		rec, err := o.mapper.MapActivity(ctx, payload)
		if err != nil {
			return err
		}
		if dryRun {
			stats.Skipped++
			return nil
		}
		result, err = engine.ApplyActivity(ctx, rec)
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown entity kind %q", kind)
	}

	switch result.Outcome {
	case OutcomeCreated:
		stats.Created++
	case OutcomeUpdated:
		stats.Updated++
	case OutcomeUnchanged:
		stats.Unchanged++
	case OutcomeSkipped:
		stats.Skipped++
	}
	return nil
}

// SyncAll runs every entity kind in dependency order: companies first, then
// contacts and activities, both of which reference companies.
func (o *Orchestrator) SyncAll(ctx context.Context, limit int, dryRun bool) []*SyncStats {
	order := []models.EntityKind{
		models.EntityKindCompany,
		models.EntityKindContact,
		models.EntityKindActivity,
	}
	var all []*SyncStats
	for _, kind := range order {
		stats := o.SyncEntity(ctx, kind, limit, dryRun)
		all = append(all, stats)
		if stats.FatalError != "" {
			break
		}
	}
	return all
}

func (o *Orchestrator) recordError(ctx context.Context, runId uint, kind models.EntityKind, remoteId int, err error) {
	code := "sync_failed"
	retryable := true
	var mapErr *MappingError
	if errors.As(err, &mapErr) {
		code = "malformed"
		retryable = false
	}
	var rce *RemoteClientError
	if errors.As(err, &rce) {
		code = fmt.Sprintf("remote_%d", rce.Status)
	}
	config.LogError(o.logger, "incloudsync", "syncOne", fmt.Sprintf("%s/%d", kind, remoteId), nil, err)
	_ = models.CreateSyncRunError(ctx, o.db, runId, string(kind), fmt.Sprintf("%d", remoteId), code, err.Error(), nil, retryable)
}

func (o *Orchestrator) finishRun(ctx context.Context, run *models.SyncRun, stats *SyncStats) {
	status := models.SyncRunStatusSuccess
	if stats.FatalError != "" {
		status = models.SyncRunStatusFailed
	} else if stats.Errors > 0 {
		status = models.SyncRunStatusPartial
	}
	finished := stats.EndTime
	_ = o.db.WithContext(ctx).Model(run).Updates(map[string]interface{}{
		"status":      status,
		"checked":     stats.Checked,
		"created":     stats.Created,
		"updated":     stats.Updated,
		"unchanged":   stats.Unchanged,
		"skipped":     stats.Skipped,
		"errors":      stats.Errors,
		"fatal_error": stats.FatalError,
		"finished_at": finished,
		"duration_ms": finished.Sub(stats.StartTime).Milliseconds(),
	}).Error
}

// isFatal classifies errors that abort the whole job rather than one record:
// failed authentication and an unreachable remote (retries exhausted on the
// network path carry status 0).
func isFatal(err error) bool {
	var authErr *RemoteAuthError
	if errors.As(err, &authErr) {
		return true
	}
	var rce *RemoteClientError
	if errors.As(err, &rce) {
		return rce.Status == 0
	}
	return false
}

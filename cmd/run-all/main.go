package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"bitbucket.org/intellihub/hub_backend/config"
	"bitbucket.org/intellihub/hub_backend/incloudsync"
	"bitbucket.org/intellihub/hub_backend/models"
	"bitbucket.org/intellihub/hub_backend/workflow"
)

// run-all is the scheduled entry point: companies, contacts and activities in
// dependency order, then workflow materialization when the activity pass
// inserted anything new. Jobs are separated by a pause so a full pass stays
// friendly to the shared remote rate budget.
func main() {
	limit := flag.Int("limit", 0, "Optional: per-entity record cap (0 = all)")
	dryRun := flag.Bool("dry-run", false, "Fetch and map without writing to the database")
	pause := flag.Duration("pause", 5*time.Second, "Pause between jobs")
	flag.Parse()

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	config.ConnectRedis()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}
	models.MigrateTable()

	release, err := workflow.AcquireSyncRunLock(ctx, 30*time.Minute)
	if err != nil {
		fmt.Fprintf(os.Stderr, "another sync run holds the lock: %v\n", err)
		os.Exit(1)
	}
	defer release()

	client := incloudsync.NewClient(config.LoadInCloudConfig(), config.GetLogger())
	orchestrator := incloudsync.NewOrchestrator(db, client, config.GetLogger())

	failed := false
	activitiesInserted := 0

	order := []models.EntityKind{
		models.EntityKindCompany,
		models.EntityKindContact,
		models.EntityKindActivity,
	}
	for i, kind := range order {
		if i > 0 {
			time.Sleep(*pause)
		}
		stats := orchestrator.SyncEntity(ctx, kind, *limit, *dryRun)
		fmt.Println(string(stats.JSON()))
		if stats.Failed() {
			failed = true
			if stats.FatalError != "" {
				break
			}
		}
		if kind == models.EntityKindActivity {
			activitiesInserted = stats.Created
		}
	}

	if activitiesInserted > 0 && !*dryRun {
		time.Sleep(*pause)
		materializer := workflow.NewMaterializer(db, config.GetLogger())
		stats := materializer.MaterializeAll(ctx, 0)
		fmt.Println(string(stats.JSON()))
		if stats.Errors > 0 {
			failed = true
		}
	}

	if failed {
		os.Exit(1)
	}
}

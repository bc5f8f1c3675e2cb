package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"bitbucket.org/intellihub/hub_backend/config"
	"bitbucket.org/intellihub/hub_backend/incloudsync"
	"bitbucket.org/intellihub/hub_backend/models"
)

func main() {
	limit := flag.Int("limit", 0, "Optional: sync at most N activities (0 = all)")
	dryRun := flag.Bool("dry-run", false, "Fetch and map without writing to the database")
	flag.Parse()

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}
	models.MigrateTable()

	client := incloudsync.NewClient(config.LoadInCloudConfig(), config.GetLogger())
	orchestrator := incloudsync.NewOrchestrator(db, client, config.GetLogger())

	stats := orchestrator.SyncEntity(ctx, models.EntityKindActivity, *limit, *dryRun)
	fmt.Println(string(stats.JSON()))
	if stats.Failed() {
		os.Exit(1)
	}
}

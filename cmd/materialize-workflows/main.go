package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"bitbucket.org/intellihub/hub_backend/config"
	"bitbucket.org/intellihub/hub_backend/models"
	"bitbucket.org/intellihub/hub_backend/workflow"
)

func main() {
	limit := flag.Int("limit", 0, "Optional: materialize at most N activities (0 = all)")
	dryRun := flag.Bool("dry-run", false, "Plan tickets without writing anything")
	flag.Parse()

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}
	models.MigrateTable()

	materializer := workflow.NewMaterializer(db, config.GetLogger())
	materializer.DryRun = *dryRun
	stats := materializer.MaterializeAll(ctx, *limit)
	fmt.Println(string(stats.JSON()))
	if stats.Errors > 0 {
		os.Exit(1)
	}
}

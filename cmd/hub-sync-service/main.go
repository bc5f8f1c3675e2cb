package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"bitbucket.org/intellihub/hub_backend/config"
	"bitbucket.org/intellihub/hub_backend/incloudsync"
	"bitbucket.org/intellihub/hub_backend/models"
	"bitbucket.org/intellihub/hub_backend/utils"
	"bitbucket.org/intellihub/hub_backend/workflow"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

// syncBusy serializes manual triggers inside one process; the redis run lock
// covers the cross-process case.
var syncBusy atomic.Bool

func main() {
	port := os.Getenv("HUB_SYNC_PORT")
	if port == "" {
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	r := gin.New()
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if config.GetDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	r.Use(serviceTokenMiddleware())
	r.Use(requestLogger(logger))
	r.Use(gin.Recovery())

	client := incloudsync.NewClient(config.LoadInCloudConfig(), logger)

	r.POST("/api/sync/trigger", triggerSyncHandler(client, logger))
	r.GET("/api/sync/runs", syncHistoryHandler())
	r.GET("/api/sync/runs/:id", syncRunDetailHandler())
	r.POST("/api/hooks/task-status", taskStatusHandler(client, logger))

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedis()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()

	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	select {
	case <-sigCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	case err := <-serverErrCh:
		if err != nil && err != http.ErrServerClosed {
			logger.WithFields(logrus.Fields{"field": "server"}).Error(err)
		}
	}
}

// serviceTokenMiddleware gates every /api route behind the static service
// token. Unset SERVICE_TOKEN means an internal deployment with no gate.
func serviceTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		expected := strings.TrimSpace(os.Getenv("SERVICE_TOKEN"))
		if expected == "" || !strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.Next()
			return
		}
		token := c.GetHeader("token")
		if token == "" {
			auth := strings.TrimSpace(c.GetHeader("Authorization"))
			if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
				token = strings.TrimSpace(auth[7:])
			}
		}
		if token != expected {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid service token"})
			return
		}
		c.Next()
	}
}

type triggerSyncRequest struct {
	Entity string `json:"entity" binding:"required,oneof=company contact activity all"`
	Limit  int    `json:"limit" binding:"omitempty,min=0"`
	DryRun bool   `json:"dry_run"`
}

func triggerSyncHandler(client *incloudsync.Client, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req triggerSyncRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": utils.ProcessValidationErrors(err)})
			return
		}
		if !syncBusy.CompareAndSwap(false, true) {
			c.JSON(http.StatusConflict, gin.H{"error": "a sync run is already in progress"})
			return
		}

		go func() {
			defer syncBusy.Store(false)
			ctx := context.Background()

			release, err := workflow.AcquireSyncRunLock(ctx, 30*time.Minute)
			if err != nil {
				config.LogError(logger, "hub-sync-service", "triggerSync", "run lock", req, err)
				return
			}
			defer release()

			orchestrator := incloudsync.NewOrchestrator(config.GetDB(), client, logger)
			orchestrator.TriggeredBy = models.SyncTriggeredManual
			if req.Entity == "all" {
				orchestrator.SyncAll(ctx, req.Limit, req.DryRun)
				return
			}
			orchestrator.SyncEntity(ctx, models.EntityKind(req.Entity), req.Limit, req.DryRun)
		}()

		c.JSON(http.StatusAccepted, gin.H{
			"message": "sync started",
			"entity":  req.Entity,
			"dry_run": req.DryRun,
		})
	}
}

func syncHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
		runs, err := models.ListRecentSyncRuns(c.Request.Context(), config.GetDB(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"runs": runs})
	}
}

func syncRunDetailHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
			return
		}
		run, err := models.GetSyncRunById(c.Request.Context(), config.GetDB(), uint(id))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if run == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "sync run not found"})
			return
		}
		runErrors, err := models.ListSyncRunErrors(c.Request.Context(), config.GetDB(), run.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"run": run, "errors": runErrors})
	}
}

type taskStatusRequest struct {
	TaskId    string `json:"task_id" binding:"required,uuid"`
	OldStatus string `json:"old_status" binding:"required,oneof=todo in_progress completed cancelled"`
	NewStatus string `json:"new_status" binding:"required,oneof=todo in_progress completed cancelled"`
	ActorId   string `json:"actor_id"`
}

func taskStatusHandler(client *incloudsync.Client, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req taskStatusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": utils.ProcessValidationErrors(err)})
			return
		}

		ctx := c.Request.Context()
		if req.ActorId != "" {
			ctx = utils.SetActorIdInContext(ctx, req.ActorId)
		}
		ctx = utils.SetSourceIpInContext(ctx, c.ClientIP())

		engine := workflow.NewHookEngine(config.GetDB(), client, logger)
		err := engine.OnStatusChange(ctx, req.TaskId,
			models.TaskStatus(req.OldStatus), models.TaskStatus(req.NewStatus), req.ActorId)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "status applied"})
	}
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
		logger.WithFields(logrus.Fields{
			"status":         c.Writer.Status(),
			"method":         c.Request.Method,
			"path":           c.Request.URL.Path,
			"latency":        latency.String(),
			"correlation_id": cid,
		}).Info("request")
	}
}

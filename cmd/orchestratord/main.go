// Orchestrator daemon - drives tasks through their plans and exposes the
// minimal control surface (create/get/cancel task, list events, submit
// UI responses, watch) over HTTP.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/coder/websocket"

	"github.com/codeready-toolchain/orchestrator/pkg/agentruntime"
	"github.com/codeready-toolchain/orchestrator/pkg/config"
	"github.com/codeready-toolchain/orchestrator/pkg/dispatcher"
	"github.com/codeready-toolchain/orchestrator/pkg/eventlog"
	"github.com/codeready-toolchain/orchestrator/pkg/lifecycle"
	"github.com/codeready-toolchain/orchestrator/pkg/llmgateway"
	"github.com/codeready-toolchain/orchestrator/pkg/masking"
	"github.com/codeready-toolchain/orchestrator/pkg/mcp"
	"github.com/codeready-toolchain/orchestrator/pkg/planner"
	"github.com/codeready-toolchain/orchestrator/pkg/registry"
	"github.com/codeready-toolchain/orchestrator/pkg/rendezvous"
	slackpkg "github.com/codeready-toolchain/orchestrator/pkg/slack"
	"github.com/codeready-toolchain/orchestrator/pkg/taskcontext"
	"github.com/codeready-toolchain/orchestrator/pkg/taskmodel"
	"github.com/codeready-toolchain/orchestrator/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: Could not load %s file: %v", envPath, err)
		log.Printf("Continuing with existing environment variables...")
	} else {
		log.Printf("Loaded environment from %s", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	ginMode := getEnv("GIN_MODE", "release")
	gin.SetMode(ginMode)

	log.Printf("Starting %s", version.Full())
	log.Printf("HTTP Port: %s", httpPort)
	log.Printf("Config Directory: %s", *configDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		log.Fatalf("Failed to initialize configuration: %v", err)
	}

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL is required")
	}
	store, err := eventlog.Open(ctx, dsn)
	if err != nil {
		log.Fatalf("Failed to open event log: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("Error closing event log: %v", err)
		}
	}()
	log.Println("✓ Event log ready")

	reg := registry.New()
	if err := reg.Load(ctx, *configDir); err != nil {
		log.Fatalf("Failed to load agent definitions: %v", err)
	}
	templates := lifecycle.NewTemplateCatalog()
	if err := templates.Load(*configDir); err != nil {
		log.Fatalf("Failed to load task templates: %v", err)
	}
	log.Printf("✓ Catalog ready: %d agents", reg.Len())

	grpcClient, err := llmgateway.Dial(cfg.LLM.Endpoint)
	if err != nil {
		log.Fatalf("Failed to dial LLM gateway at %s: %v", cfg.LLM.Endpoint, err)
	}
	defer grpcClient.Close()
	llm := llmgateway.NewRetryingClient(grpcClient, uint64(cfg.LLM.MaxAttempts-1))

	maskingSvc := masking.NewService(cfg.MCPServerRegistry, masking.TaskMaskingConfig{
		Enabled:      true,
		PatternGroup: "security",
	})

	warnings := mcp.NewSystemWarnings()
	factory := mcp.NewClientFactory(cfg.MCPServerRegistry, maskingSvc)
	monitor := mcp.NewHealthMonitor(factory, cfg.MCPServerRegistry, warnings)
	monitor.Start(ctx)
	defer monitor.Stop()

	serverIDs := make([]string, 0, cfg.MCPServerRegistry.Len())
	for id := range cfg.MCPServerRegistry.GetAll() {
		serverIDs = append(serverIDs, id)
	}
	// tools stays a nil interface when no tool server could be reached,
	// so agents degrade to LLM-only execution instead of panicking on a
	// half-built executor.
	var tools agentruntime.ToolBackend
	toolExec, toolClient, err := factory.CreateToolExecutor(ctx, serverIDs, nil)
	if err != nil {
		log.Printf("Warning: tool servers unavailable, agents run without tools: %v", err)
	} else {
		tools = toolExec
		defer toolClient.Close()
	}

	gate := rendezvous.NewGate()
	if cfg.Slack.Enabled {
		svc := slackpkg.NewService(slackpkg.ServiceConfig{
			Token:        os.Getenv(cfg.Slack.TokenEnv),
			Channel:      cfg.Slack.Channel,
			DashboardURL: cfg.DashboardURL,
		})
		if svc != nil {
			gate = gate.WithNotifier(svc)
			log.Println("✓ Slack escalation notifier enabled")
		}
	}

	disp := dispatcher.New(reg, llm, tools, gate)
	disp.MaxSubtaskRetries = cfg.Engine.MaxSubtaskRetries
	pl := planner.New(llm, reg)

	manager := lifecycle.New(store, templates, pl, disp, gate)
	manager.RecoveryWindow = cfg.Engine.RecoveryWindow

	if err := manager.Recover(ctx); err != nil {
		log.Printf("Warning: startup recovery incomplete: %v", err)
	}

	listener := eventlog.NewListener(dsn)
	go func() {
		if err := listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Event listener stopped: %v", err)
		}
	}()

	router := gin.Default()
	api := &apiServer{
		store:    store,
		manager:  manager,
		listener: listener,
		cfg:      cfg,
	}
	api.register(router)

	srv := &http.Server{Addr: ":" + httpPort, Handler: router}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()
	log.Printf("✓ Listening on :%s", httpPort)

	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Engine.GracefulShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}
	log.Println("Shutdown complete")
}

// apiServer is the thin HTTP adapter over the engine's control surface.
// Authentication is delegated to the deployment's front proxy; the
// tenant identity it validated arrives as a header.
type apiServer struct {
	store    *eventlog.Store
	manager  *lifecycle.Manager
	listener *eventlog.Listener
	cfg      *config.Config
}

func (a *apiServer) register(router *gin.Engine) {
	router.GET("/health", a.health)

	api := router.Group("/api/v1")
	api.POST("/tasks", a.createTask)
	api.GET("/tasks/:id", a.getTask)
	api.GET("/tasks/:id/events", a.listEvents)
	api.GET("/tasks/:id/watch", a.watchTask)
	api.POST("/tasks/:id/responses/:requestID", a.submitResponse)
	api.POST("/tasks/:id/cancel", a.cancelTask)
}

func (a *apiServer) health(c *gin.Context) {
	reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := a.store.DB().PingContext(reqCtx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "unhealthy",
			"version": version.Full(),
			"error":   err.Error(),
		})
		return
	}

	stats := a.cfg.Stats()
	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"version":     version.Full(),
		"mcp_servers": stats.MCPServers,
	})
}

func callerActor(c *gin.Context) taskmodel.Actor {
	id := c.GetHeader("X-User-ID")
	if id == "" {
		id = "anonymous"
	}
	return taskmodel.Actor{Kind: "user", ID: id}
}

func (a *apiServer) createTask(c *gin.Context) {
	var body struct {
		TemplateID  string         `json:"template_id" binding:"required"`
		InitialData map[string]any `json:"initial_data"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tenantID := c.GetHeader("X-Tenant-ID")
	taskID, err := a.manager.Create(c.Request.Context(), tenantID, body.TemplateID, body.InitialData, callerActor(c))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, lifecycle.ErrTemplateNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"task_id": taskID})
}

func (a *apiServer) getTask(c *gin.Context) {
	tc := taskcontext.New(a.store, c.Param("id"))
	state, err := tc.Load(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if state.Tail == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	c.JSON(http.StatusOK, state)
}

func (a *apiServer) listEvents(c *gin.Context) {
	var since int64
	if raw := c.Query("since"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &since); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be an integer sequence number"})
			return
		}
	}

	events, err := a.store.ListSince(c.Request.Context(), c.Param("id"), since)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// watchTask streams a task's events over a websocket: the backlog past
// ?since first, then live appends as the LISTEN/NOTIFY feed reports
// them. Duplicates across the backlog/live boundary are possible; the
// client deduplicates on sequence_number.
func (a *apiServer) watchTask(c *gin.Context) {
	taskID := c.Param("id")

	conn, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := c.Request.Context()
	notifications := make(chan eventlog.TaskNotification, 16)
	a.listener.Subscribe(taskID, notifications)
	defer a.listener.Unsubscribe(taskID, notifications)

	var lastSeen int64
	push := func() error {
		events, err := a.store.ListSince(ctx, taskID, lastSeen)
		if err != nil {
			return err
		}
		for _, ev := range events {
			payload, err := json.Marshal(ev)
			if err != nil {
				return err
			}
			if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
				return err
			}
			lastSeen = ev.SequenceNumber
		}
		return nil
	}

	if err := push(); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-notifications:
			if err := push(); err != nil {
				return
			}
		}
	}
}

func (a *apiServer) submitResponse(c *gin.Context) {
	var payload map[string]any
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := a.manager.SubmitResponse(c.Request.Context(), c.Param("id"), c.Param("requestID"), payload, callerActor(c))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, rendezvous.ErrAlreadyResponded) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"acknowledged": true})
}

func (a *apiServer) cancelTask(c *gin.Context) {
	var body struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&body)
	if body.Reason == "" {
		body.Reason = "cancelled by caller"
	}

	if err := a.manager.Cancel(c.Request.Context(), c.Param("id"), callerActor(c), body.Reason); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"acknowledged": true})
}

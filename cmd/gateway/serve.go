package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/agentkernel/gateway/pkg/audit"
	"github.com/agentkernel/gateway/pkg/capability"
	"github.com/agentkernel/gateway/pkg/cleanup"
	"github.com/agentkernel/gateway/pkg/cluster"
	"github.com/agentkernel/gateway/pkg/config"
	"github.com/agentkernel/gateway/pkg/database"
	"github.com/agentkernel/gateway/pkg/degradation"
	"github.com/agentkernel/gateway/pkg/gateway"
	"github.com/agentkernel/gateway/pkg/llmrouter"
	"github.com/agentkernel/gateway/pkg/masking"
	"github.com/agentkernel/gateway/pkg/mcpclient"
	"github.com/agentkernel/gateway/pkg/policy"
	"github.com/agentkernel/gateway/pkg/reliability/budget"
	"github.com/agentkernel/gateway/pkg/reliability/circuitbreaker"
	"github.com/agentkernel/gateway/pkg/reliability/ratelimit"
	"github.com/agentkernel/gateway/pkg/scheduler"
	"github.com/agentkernel/gateway/pkg/state"
	"github.com/agentkernel/gateway/pkg/store"
	"github.com/agentkernel/gateway/pkg/taskrouter"
	"github.com/agentkernel/gateway/pkg/tools"
	"github.com/agentkernel/gateway/pkg/version"
	"github.com/agentkernel/gateway/pkg/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.Default().With("component", "gateway", "version", version.Full())

	configDir, _ := cmd.Flags().GetString("config-dir")
	cfg, err := config.Initialize(ctx, configDir)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	dbCfg, err := database.LoadConfigFromEnv()
	if err != nil {
		return fmt.Errorf("load database configuration: %w", err)
	}
	dbClient, err := database.NewClient(ctx, dbCfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer dbClient.Close()
	db := dbClient.DB()

	auditRepo := store.NewAuditLogRepo(db)
	agentRepo := store.NewAgentRepo(db)
	nodeRepo := store.NewGatewayNodeRepo(db)
	jobRunRepo := store.NewScheduledJobRunRepo(db)

	internalURL := fmt.Sprintf("ws://%s:%d/internal", os.Getenv("GATEWAY_ADVERTISE_HOST"), cfg.Gateway.Port)
	internalToken := os.Getenv(cfg.Gateway.InternalTokenEnv)
	coordinator, err := cluster.New(*cfg.Cluster, db, nodeRepo, internalURL, internalToken, logger)
	if err != nil {
		return fmt.Errorf("start cluster coordinator: %w", err)
	}
	go coordinator.Run(ctx)
	defer coordinator.Close()

	auditLog := audit.New(*cfg.Audit, coordinator.LocalNodeID(), auditRepo)

	maskCfg := masking.SecretMaskingConfig{Enabled: true, PatternGroup: "default"}
	if cfg.Defaults != nil && cfg.Defaults.SecretMasking != nil {
		sm := cfg.Defaults.SecretMasking
		maskCfg = masking.SecretMaskingConfig{Enabled: sm.Enabled, PatternGroup: sm.PatternGroup}
	}
	maskingSvc := masking.NewMaskingService(cfg.MCPServerRegistry, maskCfg)
	if maskCfg.Enabled {
		auditLog.SetMasker(maskingSvc)
	}

	go auditLog.Run(ctx)
	defer auditLog.Close()

	ruleSet, err := policy.LoadOrTemplate(*cfg.Policy)
	if err != nil {
		return fmt.Errorf("load policy rule set: %w", err)
	}
	policyEngine := policy.NewEngine(*cfg.Policy, ruleSet)
	policyEngine.SetAuditRecorder(auditLog)

	signingKey := []byte(os.Getenv(cfg.Capability.SigningKeyEnv))
	if len(signingKey) == 0 {
		return fmt.Errorf("capability signing key env %q is empty", cfg.Capability.SigningKeyEnv)
	}
	capMgr := capability.NewManager(*cfg.Capability, signingKey)
	capMgr.SetAuditRecorder(auditLog)

	mcpServerIDs := make([]string, 0, len(cfg.MCPServerRegistry.GetAll()))
	for id := range cfg.MCPServerRegistry.GetAll() {
		mcpServerIDs = append(mcpServerIDs, id)
	}
	mcpClient, err := mcpclient.NewClientFactory(cfg.MCPServerRegistry).CreateClient(ctx, mcpServerIDs)
	if err != nil {
		return fmt.Errorf("connect MCP servers: %w", err)
	}
	defer mcpClient.Close()
	var mcpResultMasker mcpclient.ResultMasker
	if maskCfg.Enabled {
		mcpResultMasker = maskingSvc
	}
	mcpAdapters, err := mcpclient.Adapters(ctx, mcpClient, mcpResultMasker)
	if err != nil {
		logger.Warn("failed to build MCP tool adapters", "error", err)
	}

	builtinTools := []tools.Tool{
		tools.ReadFileTool{},
		tools.WriteFileTool{},
		tools.ListFilesTool{},
		tools.FetchTool{Client: http.DefaultClient},
		tools.ExecTool{},
		tools.CalculateTool{},
	}
	builtinTools = append(builtinTools, mcpAdapters...)
	builtins := tools.NewRegistry(builtinTools...)
	mcpLister := mcpclient.NewLister(mcpClient)

	breakers := circuitbreaker.NewRegistry(circuitbreaker.Config{
		MaxFailures:      5,
		ResetTimeout:     30 * time.Second,
		OperationTimeout: 60 * time.Second,
	})
	budgetTracker := budget.New([]budget.Limit{
		{Period: budget.PeriodDaily, LimitUSD: 50},
		{Period: budget.PeriodMonthly, LimitUSD: 1000},
	})
	llmRouter := llmrouter.New(llmrouter.Config{
		MaxFailoverAttempts: 3,
		FailoverEnabled:     true,
		HealthCheckInterval: 30 * time.Second,
		StreamInitTimeout:   30 * time.Second,
	}, breakers, budgetTracker)
	for id, p := range cfg.LLMProviderRegistry.GetAll() {
		apiKey := os.Getenv(p.APIKeyEnv)
		provider := llmrouter.NewOpenAICompatProvider(id, p.Name, p.Model, "", apiKey)
		llmRouter.RegisterProvider(provider, p.Priority, ratelimit.Config{
			RequestsPerMinute: 60,
			TokensPerMinute:   100_000,
		})
		for _, alias := range p.Aliases {
			llmRouter.SetAlias(alias, p.Model)
		}
	}
	llmRouter.StartHealthChecks(ctx)
	defer llmRouter.StopHealthChecks()

	workerSupervisor := worker.NewSupervisor(cfg.Worker, logger)

	agentRegistry := state.NewRegistry()

	router := taskrouter.New(taskrouter.Deps{
		Agents:         agentRegistry,
		Workers:        workerSupervisor,
		LLM:            llmRouter,
		Policy:         policyEngine,
		Capability:     capMgr,
		Builtins:       builtins,
		MCPTools:       mcpLister,
		Cluster:        coordinator,
		Audit:          auditLog,
		Persister:      agentRepo,
		DefaultLimits:  defaultLimits(),
		ManifestSecret: signingKey,
		Logger:         logger,
	})

	authToken := []byte(os.Getenv(cfg.Gateway.AuthTokenEnv))
	gwServer := gateway.NewServer(gateway.Config{
		AuthToken:         authToken,
		MessagesPerMinute: cfg.Gateway.MessagesPerMinute,
		WriteTimeout:      cfg.Gateway.WriteTimeout,
	}, router, logger)
	router.SetBroadcaster(gwServer)

	sched := scheduler.New(*cfg.Scheduler, coordinator.LocalNodeID(), db, jobRunRepo, logger)
	cleanupSvc := cleanup.NewService(cfg.Retention, auditRepo, agentRepo, logger)
	if err := sched.Register(config.ScheduledJobConfig{
		Name:      "retention-sweep",
		Interval:  cfg.Retention.CleanupInterval,
		Singleton: true,
	}, cleanupSvc.Run); err != nil {
		return fmt.Errorf("register retention-sweep job: %w", err)
	}
	for _, j := range cfg.Scheduler.Jobs {
		logger.Warn("scheduled job declared in config but no handler wired", "job", j.Name)
	}

	degradationMgr := degradation.New(15*time.Second, 5*time.Second, logger)
	for _, id := range mcpServerIDs {
		degradationMgr.Register("mcp:"+id, degradation.SeverityMinor, mcpclient.HealthCheck(mcpClient, id), nil)
	}
	degradationMgr.Start(ctx)

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		status, err := database.Health(r.Context(), db)
		if err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		fmt.Fprintf(w, `{"status":%q,"leader":%t,"degradation":%q}`,
			status.Status, coordinator.IsLeader(), degradationMgr.Level())
	})
	healthMux.Handle("/metrics", promhttp.Handler())

	healthSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Gateway.HealthPort), Handler: healthMux}
	wsSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Gateway.Port), Handler: gwServer}

	errCh := make(chan error, 2)
	go func() { errCh <- healthSrv.ListenAndServe() }()
	go func() { errCh <- wsSrv.ListenAndServe() }()

	logger.Info("gateway started", "ws_port", cfg.Gateway.Port, "health_port", cfg.Gateway.HealthPort)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Gateway.DrainTimeout+5*time.Second)
	defer cancel()
	gwServer.Drain(shutdownCtx, cfg.Gateway.DrainTimeout)
	_ = wsSrv.Shutdown(shutdownCtx)
	_ = healthSrv.Shutdown(shutdownCtx)

	return nil
}

// defaultLimits applies when an agent manifest omits its own limits block.
func defaultLimits() config.LimitsConfig {
	return config.LimitsConfig{
		MaxTokensPerRequest:   8000,
		TokensPerMinute:       60000,
		MaxMemoryMB:           512,
		MaxConcurrentRequests: 4,
		CostBudgetUSD:         5,
		CPUCores:              1,
		DiskQuotaMB:           256,
	}
}

package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sequorlabs/sequor/pkg/audit"
	"github.com/sequorlabs/sequor/pkg/config"
	"github.com/sequorlabs/sequor/pkg/policy"
	"github.com/sequorlabs/sequor/pkg/runtime"
	"github.com/sequorlabs/sequor/pkg/telemetry"
)

func newServeCmd() *cobra.Command {
	var listenAddr string
	var policyFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the execution API over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if listenAddr != "" {
				cfg.Server.Address = listenAddr
			}
			return runServe(cmd.Context(), cfg, policyFile, logger)
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", "", "Address to listen on (overrides config)")
	cmd.Flags().StringVar(&policyFile, "policy-file", "", "Watch a policy file and hot-reload the admission engine")
	return cmd
}

// apiServer holds the executor behind a lock so the admission engine can be
// swapped on policy reload without restarting in-flight runs.
type apiServer struct {
	mu       sync.RWMutex
	executor *runtime.GraphExecutor
	engine   *policy.Engine
	chain    *audit.Chain
	logger   *slog.Logger
}

func (s *apiServer) current() (*runtime.GraphExecutor, *policy.Engine) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.executor, s.engine
}

func (s *apiServer) swap(executor *runtime.GraphExecutor, engine *policy.Engine) {
	s.mu.Lock()
	s.executor = executor
	s.engine = engine
	s.mu.Unlock()
}

func runServe(ctx context.Context, cfg *config.Config, policyFile string, logger *slog.Logger) error {
	shutdownTelemetry, err := telemetry.SetupProvider(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}

	metrics := telemetry.NewMetrics()

	registry := runtime.NewRegistry()
	if err := runtime.RegisterBuiltins(registry); err != nil {
		return err
	}

	var store audit.Store
	if cfg.Audit.DatabasePath != "" {
		sqlStore, err := audit.OpenSQLite(cfg.Audit.DatabasePath)
		if err != nil {
			return err
		}
		defer sqlStore.Close()
		store = sqlStore
	}

	chainOpts := []audit.ChainOption{}
	if store != nil {
		chainOpts = append(chainOpts, audit.WithStore(store))
	}
	chain := audit.NewChain(cfg.Audit.AgentID, chainOpts...)

	execCfg := runtime.ExecutorConfig{
		Retry:          cfg.Executor.RetryConfig(),
		CircuitBreaker: cfg.Executor.BreakerConfig(),
		RunTimeout:     cfg.Executor.RunTimeoutDuration(),
		FailFast:       cfg.Executor.FailFast,
	}
	makeExecutor := func(engine *policy.Engine) *runtime.GraphExecutor {
		return runtime.NewGraphExecutor(registry, execCfg,
			runtime.WithPolicyEngine(engine),
			runtime.WithAuditChain(chain),
			runtime.WithMetrics(metrics),
			runtime.WithTracer(telemetry.Tracer()),
			runtime.WithLogger(logger),
		)
	}

	engine := policy.NewEngine(cfg.Policy)
	srv := &apiServer{
		executor: makeExecutor(engine),
		engine:   engine,
		chain:    chain,
		logger:   logger,
	}

	// Policy hot reload: each update builds a fresh engine; call budgets
	// and violation logs restart with it.
	var provider *config.PolicyFileProvider
	if policyFile != "" {
		provider, err = config.NewPolicyFileProvider(policyFile, logger)
		if err != nil {
			return err
		}
		defer provider.Close()
		go func() {
			for policyCfg := range provider.Subscribe() {
				next := policy.NewEngine(policyCfg)
				srv.swap(makeExecutor(next), next)
				logger.Info("admission engine replaced", "mode", policyCfg.Mode)
			}
		}()
	}

	server := startAPIServer(cfg.Server.Address, srv, logger)

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		metricsServer = startMetricsServer(cfg.Server.MetricsAddress, metrics, logger)
	}

	waitForShutdown(server, metricsServer, shutdownTelemetry, logger)
	return nil
}

func startAPIServer(addr string, srv *apiServer, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/execute", srv.handleExecute)
	mux.HandleFunc("GET /v1/audit/summary", srv.handleAuditSummary)
	mux.HandleFunc("GET /v1/audit/export", srv.handleAuditExport)
	mux.HandleFunc("GET /v1/policy/stats", srv.handlePolicyStats)
	mux.HandleFunc("GET /v1/breakers", srv.handleBreakers)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Handler:      otelhttp.NewHandler(mux, "sequor.api"),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Error("failed to bind listener", "addr", addr, "error", err)
		os.Exit(1)
	}
	logger.Info("api listening", "addr", listener.Addr().String())

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.Error("api server failed", "error", err)
			os.Exit(1)
		}
	}()

	return server
}

func startMetricsServer(addr string, metrics *telemetry.Metrics, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	server := &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}

	logger.Info("metrics listening", "addr", addr)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	return server
}

type executeRequest struct {
	config.GraphDocument
}

func (s *apiServer) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	graph := req.ToGraph()
	executor, _ := s.current()

	result, err := executor.Execute(r.Context(), graph, req.Inputs)
	if err != nil {
		// Invalid graph: the result carries the diagnostics.
		writeJSON(w, http.StatusBadRequest, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *apiServer) handleAuditSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.chain.GetSummary())
}

func (s *apiServer) handleAuditExport(w http.ResponseWriter, r *http.Request) {
	data, err := s.chain.Export()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

func (s *apiServer) handlePolicyStats(w http.ResponseWriter, r *http.Request) {
	_, engine := s.current()
	writeJSON(w, http.StatusOK, engine.Stats())
}

func (s *apiServer) handleBreakers(w http.ResponseWriter, r *http.Request) {
	executor, _ := s.current()
	writeJSON(w, http.StatusOK, executor.Breakers().Stats())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Error("failed to encode response", "error", err)
	}
}

func waitForShutdown(server, metricsServer *http.Server, shutdownTelemetry func(context.Context) error, logger *slog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh

	logger.Info("shutting down", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("api shutdown error", "error", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			logger.Error("metrics shutdown error", "error", err)
		}
	}
	if err := shutdownTelemetry(ctx); err != nil {
		logger.Error("telemetry shutdown error", "error", err)
	}
}

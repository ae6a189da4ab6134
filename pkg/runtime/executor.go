package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/sequorlabs/sequor/internal/governance"
	"github.com/sequorlabs/sequor/pkg/audit"
	"github.com/sequorlabs/sequor/pkg/domain"
	"github.com/sequorlabs/sequor/pkg/policy"
	"github.com/sequorlabs/sequor/pkg/telemetry"
)

// ExecutorConfig tunes one executor instance. The zero value gets sensible
// defaults from NewGraphExecutor.
type ExecutorConfig struct {
	Retry          governance.RetryConfig
	CircuitBreaker governance.CircuitBreakerConfig
	// RunTimeout is the wall-clock budget for a whole run.
	RunTimeout time.Duration
	// FailFast aborts the run on the first node failure instead of
	// degrading to partial success.
	FailFast bool
}

// GraphExecutor drives composed graphs to completion. Each node passes the
// same gauntlet: run guard, admission policy, circuit breaker, input
// adaptation, retry-governed invocation, and finally the audit ledger.
//
// Breaker and policy state outlive individual runs; the executor may serve
// many concurrent runs, each with its own ExecutionContext.
type GraphExecutor struct {
	registry *Registry
	adapter  *Adapter
	retry    *governance.RetryPolicy
	breakers *governance.CircuitBreakerManager
	engine   *policy.Engine
	chain    *audit.Chain
	metrics  *telemetry.Metrics
	tracer   trace.Tracer
	logger   *slog.Logger
	config   ExecutorConfig
}

// ExecutorOption customizes executor construction.
type ExecutorOption func(*GraphExecutor)

// WithPolicyEngine gates every node through the admission engine.
func WithPolicyEngine(engine *policy.Engine) ExecutorOption {
	return func(e *GraphExecutor) { e.engine = engine }
}

// WithAuditChain records every execution and violation in the ledger.
func WithAuditChain(chain *audit.Chain) ExecutorOption {
	return func(e *GraphExecutor) { e.chain = chain }
}

// WithMetrics emits Prometheus metrics for runs and nodes.
func WithMetrics(metrics *telemetry.Metrics) ExecutorOption {
	return func(e *GraphExecutor) { e.metrics = metrics }
}

// WithTracer emits OpenTelemetry spans for runs and nodes.
func WithTracer(tracer trace.Tracer) ExecutorOption {
	return func(e *GraphExecutor) { e.tracer = tracer }
}

// WithLogger sets the executor's structured logger.
func WithLogger(logger *slog.Logger) ExecutorOption {
	return func(e *GraphExecutor) { e.logger = logger }
}

// NewGraphExecutor builds an executor over a registry of compiled
// operations.
func NewGraphExecutor(registry *Registry, config ExecutorConfig, opts ...ExecutorOption) *GraphExecutor {
	if config.Retry == (governance.RetryConfig{}) {
		config.Retry = governance.DefaultRetryConfig()
	}
	if config.CircuitBreaker == (governance.CircuitBreakerConfig{}) {
		config.CircuitBreaker = governance.DefaultCircuitBreakerConfig()
	}
	if config.RunTimeout <= 0 {
		config.RunTimeout = 30 * time.Second
	}

	e := &GraphExecutor{
		registry: registry,
		adapter:  NewAdapter(),
		retry:    governance.NewRetryPolicy(config.Retry),
		breakers: governance.NewCircuitBreakerManager(config.CircuitBreaker),
		tracer:   noop.NewTracerProvider().Tracer(telemetry.TracerName),
		logger:   slog.Default(),
		config:   config,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Breakers exposes circuit breaker state for diagnostics endpoints.
func (e *GraphExecutor) Breakers() *governance.CircuitBreakerManager {
	return e.breakers
}

// nodeOutcome is the internal result of one node attempt.
type nodeOutcome struct {
	status     ExecutionStatus
	inputs     map[string]any
	outputs    map[string]any
	err        string
	retryCount int
	skipReason string
}

// Execute runs a composed graph to completion. Node failures degrade the
// aggregate status but never escape; only an invalid graph returns an
// error alongside the (failed) result.
func (e *GraphExecutor) Execute(ctx context.Context, graph domain.Graph, initialInputs map[string]any) (*ExecutionResult, error) {
	startedAt := time.Now()
	ec := NewExecutionContext(initialInputs)

	runCtx, span := e.tracer.Start(ctx, "sequor.run", trace.WithAttributes(
		attribute.String("run.id", ec.ExecutionID()),
		attribute.Int("run.nodes", len(graph.Nodes)),
	))
	defer span.End()

	result := &ExecutionResult{
		ExecutionID: ec.ExecutionID(),
		Query:       graph.Query,
		StartedAt:   startedAt,
	}

	if !graph.Valid {
		result.Status = StatusFailed
		result.Error = fmt.Sprintf("%v: %s", domain.ErrInvalidGraph, strings.Join(graph.Diagnostics, "; "))
		e.finishRun(result, startedAt, span)
		return result, fmt.Errorf("%w: %s", domain.ErrInvalidGraph, strings.Join(graph.Diagnostics, "; "))
	}

	guard := governance.NewExecutionGuard(e.config.RunTimeout)
	guard.Start()

	e.logger.Info("run started",
		slog.String("execution_id", ec.ExecutionID()),
		slog.Int("nodes", len(graph.Nodes)))

	var runError string
	runStatus := ExecutionStatus("")

nodes:
	for _, node := range graph.Nodes {
		if runCtx.Err() != nil {
			runStatus = StatusCancelled
			runError = domain.ErrExecutionCancelled.Error()
			break
		}
		if ok, reason := guard.Check(); !ok {
			if guard.Cancelled() {
				runStatus = StatusCancelled
			} else {
				runStatus = StatusTimeout
			}
			runError = reason
			break
		}

		nodeTrace := e.executeNode(runCtx, node, ec)
		result.Traces = append(result.Traces, nodeTrace)

		if e.metrics != nil {
			e.metrics.RecordNode(node.OperationName, string(nodeTrace.Status), time.Duration(nodeTrace.DurationMs*float64(time.Millisecond)))
			e.metrics.RecordRetries(node.OperationName, nodeTrace.RetryCount)
		}

		if nodeTrace.Status == StatusFailed && e.config.FailFast {
			runError = nodeTrace.Error
			break nodes
		}
	}

	result.Status = e.aggregateStatus(result.Traces, runStatus)
	if result.Error == "" {
		result.Error = runError
	}
	result.FinalOutputs = lastSuccessfulOutputs(result.Traces)
	e.finishRun(result, startedAt, span)

	e.logger.Info("run finished",
		slog.String("execution_id", result.ExecutionID),
		slog.String("status", string(result.Status)),
		slog.Int("succeeded", result.NodesSucceeded),
		slog.Int("failed", result.NodesFailed),
		slog.Int("skipped", result.NodesSkipped))

	return result, nil
}

func (e *GraphExecutor) finishRun(result *ExecutionResult, startedAt time.Time, span trace.Span) {
	result.CompletedAt = time.Now()
	result.TotalDurationMs = float64(result.CompletedAt.Sub(startedAt)) / float64(time.Millisecond)
	result.Finalize()
	span.SetAttributes(attribute.String("run.status", string(result.Status)))
	if e.metrics != nil {
		e.metrics.RecordRun(string(result.Status), result.CompletedAt.Sub(startedAt))
	}
}

// aggregateStatus folds per-node outcomes into the run status. A run-level
// stop (timeout or cancellation) overrides node outcomes.
func (e *GraphExecutor) aggregateStatus(traces []ExecutionTrace, runStatus ExecutionStatus) ExecutionStatus {
	if runStatus != "" {
		return runStatus
	}
	succeeded := 0
	for _, t := range traces {
		if t.Status == StatusSuccess {
			succeeded++
		}
	}
	switch {
	case succeeded == len(traces):
		return StatusSuccess
	case succeeded > 0:
		return StatusPartialSuccess
	default:
		return StatusFailed
	}
}

func lastSuccessfulOutputs(traces []ExecutionTrace) map[string]any {
	for i := len(traces) - 1; i >= 0; i-- {
		if traces[i].Status == StatusSuccess {
			return traces[i].Outputs
		}
	}
	return nil
}

// executeNode runs one node through the full gauntlet and returns its
// trace.
func (e *GraphExecutor) executeNode(ctx context.Context, node domain.GraphNode, ec *ExecutionContext) ExecutionTrace {
	started := time.Now()

	nodeCtx, span := e.tracer.Start(ctx, "sequor.node", trace.WithAttributes(
		attribute.String("node.id", node.OperationID),
		attribute.String("node.operation", node.OperationName),
		attribute.Int("node.position", node.Position),
	))
	defer span.End()

	outcome := e.runNode(nodeCtx, node, ec)

	completed := time.Now()
	durationMs := float64(completed.Sub(started)) / float64(time.Millisecond)
	span.SetAttributes(attribute.String("node.status", string(outcome.status)))

	return ExecutionTrace{
		NodeID:        node.OperationID,
		OperationName: node.OperationName,
		Status:        outcome.status,
		StartedAt:     started,
		CompletedAt:   completed,
		DurationMs:    durationMs,
		Inputs:        outcome.inputs,
		Outputs:       outcome.outputs,
		Error:         outcome.err,
		RetryCount:    outcome.retryCount,
		SkippedReason: outcome.skipReason,
	}
}

func (e *GraphExecutor) runNode(ctx context.Context, node domain.GraphNode, ec *ExecutionContext) nodeOutcome {
	started := time.Now()
	elapsedMs := func() float64 {
		return float64(time.Since(started)) / float64(time.Millisecond)
	}

	descriptor, op, err := e.registry.Lookup(node.OperationID)
	if err != nil {
		// Try the human-readable name before giving up.
		descriptor, op, err = e.registry.Lookup(node.OperationName)
	}
	if err != nil {
		e.logger.Warn("operation not found",
			slog.String("node_id", node.OperationID),
			slog.String("operation", node.OperationName))
		return nodeOutcome{status: StatusFailed, err: err.Error()}
	}

	bag := e.gatherInputs(node, ec)

	// Admission gate. A denial is a permanent violation, never an
	// execution failure: the breaker is not fed and nothing is invoked.
	if e.engine != nil {
		allowed, reason := e.engine.Check(descriptor.Name, bag.Map(), descriptor.Tier)
		if !allowed {
			if e.metrics != nil {
				e.metrics.RecordPolicyDenial(reason)
			}
			if e.chain != nil {
				if _, auditErr := e.chain.LogViolation(descriptor.Name, bag.Map(), reason); auditErr != nil {
					e.logger.Error("audit append failed", slog.String("error", auditErr.Error()))
				} else if e.metrics != nil {
					e.metrics.RecordAuditEntry(audit.ActionViolation)
				}
			}
			e.logger.Warn("admission denied",
				slog.String("operation", descriptor.Name),
				slog.String("rule", reason))
			return nodeOutcome{
				status: StatusFailed,
				inputs: bag.Map(),
				err:    fmt.Sprintf("%v: %s", domain.ErrAdmissionDenied, reason),
			}
		}
	}

	// Breaker gate. A skip never feeds the breaker.
	breaker := e.breakers.Get(descriptor.Identity)
	if !breaker.CanExecute() {
		return nodeOutcome{
			status:     StatusSkipped,
			skipReason: governance.ErrCircuitOpen.Error(),
		}
	}

	ec.EnterNode(node.OperationID)
	defer ec.ExitNode()

	inputs, err := e.adapter.AdaptInputs(descriptor, bag)
	if err != nil {
		// A data-shape problem cannot be fixed by retrying.
		e.feedBreaker(breaker, descriptor.Name, false)
		e.recordExecution(descriptor.Name, bag.Map(), nil, false, elapsedMs())
		return nodeOutcome{status: StatusFailed, inputs: bag.Map(), err: err.Error()}
	}

	outputs, retryCount, invokeErr := e.invokeWithRetry(ctx, op, descriptor.Name, inputs)
	if invokeErr != nil {
		e.feedBreaker(breaker, descriptor.Name, false)
		e.recordExecution(descriptor.Name, inputs, nil, false, elapsedMs())
		return nodeOutcome{
			status:     StatusFailed,
			inputs:     inputs,
			err:        invokeErr.Error(),
			retryCount: retryCount,
		}
	}

	e.feedBreaker(breaker, descriptor.Name, true)
	ec.SetNodeOutput(node.OperationID, outputs)
	e.recordExecution(descriptor.Name, inputs, outputs, true, elapsedMs())

	return nodeOutcome{
		status:     StatusSuccess,
		inputs:     inputs,
		outputs:    outputs,
		retryCount: retryCount,
	}
}

// invokeWithRetry drives the retry loop around one operation invocation.
// The returned count is the number of retries consumed, not total attempts.
func (e *GraphExecutor) invokeWithRetry(ctx context.Context, op Operation, name string, inputs map[string]any) (map[string]any, int, error) {
	attempt := 0
	for {
		outputs, err := op.Invoke(ctx, inputs)
		if err == nil {
			return outputs, attempt, nil
		}

		if !e.retry.ShouldRetry(err, attempt) {
			if attempt >= e.retry.Config().MaxRetries && governance.IsRetryableError(err) {
				return nil, attempt, governance.WrapExhausted(err)
			}
			return nil, attempt, err
		}

		e.logger.Debug("retrying operation",
			slog.String("operation", name),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))

		if sleepErr := e.retry.Sleep(ctx, attempt); sleepErr != nil {
			return nil, attempt, sleepErr
		}
		attempt++
	}
}

// feedBreaker records an outcome and emits a metric when the breaker
// changes state as a result.
func (e *GraphExecutor) feedBreaker(breaker *governance.CircuitBreaker, operation string, success bool) {
	prev := breaker.State()
	if success {
		breaker.RecordSuccess()
	} else {
		breaker.RecordFailure()
	}
	if cur := breaker.State(); cur != prev {
		e.logger.Info("circuit breaker transition",
			slog.String("operation", operation),
			slog.String("from", string(prev)),
			slog.String("to", string(cur)))
		if e.metrics != nil {
			e.metrics.RecordBreakerTransition(operation, string(cur))
		}
	}
}

func (e *GraphExecutor) recordExecution(name string, inputs, outputs map[string]any, success bool, durationMs float64) {
	if e.chain == nil {
		return
	}
	if _, err := e.chain.LogExecution(name, inputs, outputs, success, durationMs, audit.PolicyStatusAllowed); err != nil {
		e.logger.Error("audit append failed", slog.String("error", err.Error()))
		return
	}
	if e.metrics != nil {
		e.metrics.RecordAuditEntry(audit.ActionExecute)
	}
}

// gatherInputs builds the candidate bag for a node: global run inputs
// first (sorted for determinism), then upstream node outputs, or the most
// recent output for positional chaining when no upstream edge is declared.
// Scalar upstream values are published under conventional synonym keys so
// name matching has something to bind to.
func (e *GraphExecutor) gatherInputs(node domain.GraphNode, ec *ExecutionContext) *InputBag {
	bag := NewInputBag()

	globals := ec.Variables(ScopeGlobal)
	names := make([]string, 0, len(globals))
	for name := range globals {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		bag.Put(name, globals[name].Value)
	}

	addUpstream := func(value any) {
		if value == nil {
			return
		}
		if m, ok := value.(map[string]any); ok {
			keys := make([]string, 0, len(m))
			for k := range m {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				bag.Put(k, m[k])
			}
			return
		}
		bag.Put("_previous", value)
		bag.Put("input", value)
		bag.Put("value", value)
		bag.Put("data", value)
	}

	if len(node.Upstream) > 0 {
		for _, sourceID := range node.Upstream {
			addUpstream(ec.NodeOutput(sourceID, ""))
		}
	} else {
		addUpstream(ec.PreviousOutput())
	}

	return bag
}

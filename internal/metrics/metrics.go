// Package metrics exposes Prometheus collectors for audit runs.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vinayprograms/agentkit/llm"

	"github.com/vinayprograms/auditagent/internal/pipeline"
)

const namespace = "auditagent"

// Metrics holds the collectors of one registry.
type Metrics struct {
	registry *prometheus.Registry

	runs          *prometheus.CounterVec
	attempts      prometheus.Counter
	stageDuration *prometheus.HistogramVec
	stageFailures *prometheus.CounterVec
	modelCalls    *prometheus.CounterVec
	modelLatency  prometheus.Histogram
	modelTokens   *prometheus.CounterVec
	toolCalls     *prometheus.CounterVec
	toolDuration  *prometheus.HistogramVec
	findings      *prometheus.CounterVec
}

// New creates collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "runs_total",
			Help: "Pipeline runs by final status.",
		}, []string{"status"}),
		attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "attempts_total",
			Help: "Pipeline attempts started, retries included.",
		}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "stage_duration_seconds",
			Help:    "Time spent in each stage.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"stage", "status"}),
		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "stage_failures_total",
			Help: "Stage executions that recorded an error.",
		}, []string{"stage"}),
		modelCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "model_calls_total",
			Help: "Model service calls by stage and outcome.",
		}, []string{"stage", "outcome"}),
		modelLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "model_call_duration_seconds",
			Help:    "Latency of model service calls.",
			Buckets: prometheus.DefBuckets,
		}),
		modelTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "model_tokens_total",
			Help: "Tokens reported by the model service.",
		}, []string{"direction"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "tool_calls_total",
			Help: "Tool invocations by tool and outcome.",
		}, []string{"tool", "outcome"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "tool_call_duration_seconds",
			Help:    "Tool handler duration.",
			Buckets: []float64{.005, .01, .05, .1, .5, 1, 5, 30},
		}, []string{"tool"}),
		findings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "findings_total",
			Help: "Final report findings by severity.",
		}, []string{"severity"}),
	}
	reg.MustRegister(m.runs, m.attempts, m.stageDuration, m.stageFailures,
		m.modelCalls, m.modelLatency, m.modelTokens, m.toolCalls, m.toolDuration, m.findings)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Attach registers the collectors on the controller's callbacks, chaining
// any callbacks already set.
func (m *Metrics) Attach(c *pipeline.Controller) {
	prevAttempt := c.OnAttemptStart
	c.OnAttemptStart = func(runID string, attempt int) {
		if prevAttempt != nil {
			prevAttempt(runID, attempt)
		}
		m.attempts.Inc()
	}

	prevStage := c.OnStageComplete
	c.OnStageComplete = func(runID string, res pipeline.StageResult) {
		if prevStage != nil {
			prevStage(runID, res)
		}
		m.ObserveStage(res)
	}

	prevModel := c.OnModelCall
	c.OnModelCall = func(stage string, resp *llm.ChatResponse, d time.Duration, err error) {
		if prevModel != nil {
			prevModel(stage, resp, d, err)
		}
		m.ObserveModelCall(stage, resp, d, err)
	}

	prevTool := c.OnToolCall
	c.OnToolCall = func(stage, name string, ok bool, d time.Duration) {
		if prevTool != nil {
			prevTool(stage, name, ok, d)
		}
		m.ObserveToolCall(name, ok, d)
	}

	prevRun := c.OnRunComplete
	c.OnRunComplete = func(rep *pipeline.Report, err error) {
		if prevRun != nil {
			prevRun(rep, err)
		}
		m.ObserveRun(rep)
	}
}

// ObserveStage records one stage execution.
func (m *Metrics) ObserveStage(res pipeline.StageResult) {
	status := "ok"
	if res.Error != "" {
		status = "failed"
		m.stageFailures.WithLabelValues(res.Name).Inc()
	}
	m.stageDuration.WithLabelValues(res.Name, status).Observe(res.Duration.Seconds())
}

// ObserveModelCall records one model service call.
func (m *Metrics) ObserveModelCall(stage string, resp *llm.ChatResponse, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.modelCalls.WithLabelValues(stage, outcome).Inc()
	m.modelLatency.Observe(d.Seconds())
	if resp != nil {
		m.modelTokens.WithLabelValues("input").Add(float64(resp.InputTokens))
		m.modelTokens.WithLabelValues("output").Add(float64(resp.OutputTokens))
	}
}

// ObserveToolCall records one tool invocation.
func (m *Metrics) ObserveToolCall(name string, ok bool, d time.Duration) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.toolCalls.WithLabelValues(name, outcome).Inc()
	m.toolDuration.WithLabelValues(name).Observe(d.Seconds())
}

// ObserveRun records the run status and final findings.
func (m *Metrics) ObserveRun(rep *pipeline.Report) {
	m.runs.WithLabelValues(rep.Status).Inc()
	vulns, _ := rep.FinalReport["vulnerabilities"].([]interface{})
	for _, v := range vulns {
		sev := "UNKNOWN"
		if f, ok := v.(map[string]interface{}); ok {
			if s, ok := f["severity"].(string); ok && s != "" {
				sev = s
			}
		}
		m.findings.WithLabelValues(sev).Inc()
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve exposes /metrics on addr until ctx ends.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

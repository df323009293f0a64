package automation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chatlinehq/chatline/internal/event"
)

// Executor performs one rule action. Implementations live with the services
// that own the mutated state; the engine only sequences and records.
type Executor interface {
	Execute(ctx context.Context, tenantID string, action Action, trigCtx map[string]any) error
}

// EngineStore is the persistence the engine needs.
type EngineStore interface {
	ListActiveByTrigger(ctx context.Context, tenantID, trigger string) ([]Rule, error)
	RecordRun(ctx context.Context, ruleID, tenantID, outcome string, actions []Action, errMsg string) error
}

type job struct {
	tenantID    string
	triggerType string
	trigCtx     map[string]any
}

// Engine consumes automation.trigger events off a buffered queue with a
// fixed worker pool. Enqueueing never blocks the publisher: a full queue
// drops the job and logs it.
type Engine struct {
	store   EngineStore
	exec    Executor
	logger  *slog.Logger
	queue   chan job
	workers int

	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex
}

// NewEngine creates an engine; call Subscribe and Start to activate it.
func NewEngine(log *slog.Logger, store EngineStore, exec Executor, queueSize, workers int) *Engine {
	if log == nil {
		log = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	if workers <= 0 {
		workers = 4
	}
	return &Engine{
		store:   store,
		exec:    exec,
		logger:  log.With(slog.String("component", "automation")),
		queue:   make(chan job, queueSize),
		workers: workers,
	}
}

// Subscribe registers the engine on the bus.
func (e *Engine) Subscribe(bus *event.Bus) {
	bus.Subscribe(event.TypeAutomationTrigger, e.onTrigger)
}

// Start launches the worker pool.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return
	}
	e.started = true
	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
}

// Stop closes the queue and waits for in-flight jobs to finish. Jobs still
// queued are processed; delayed actions already scheduled fire on their own
// timers and are not awaited.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	e.mu.Unlock()
	close(e.queue)
	e.wg.Wait()
}

func (e *Engine) onTrigger(_ context.Context, evt event.Event) error {
	payload, ok := evt.Payload.(event.AutomationTrigger)
	if !ok {
		return fmt.Errorf("unexpected payload %T", evt.Payload)
	}
	j := job{
		tenantID:    evt.TenantID,
		triggerType: payload.TriggerType,
		trigCtx:     payload.Context,
	}
	select {
	case e.queue <- j:
	default:
		e.logger.Warn("queue full, dropping trigger",
			slog.String("tenant_id", j.tenantID),
			slog.String("trigger", j.triggerType))
	}
	return nil
}

func (e *Engine) worker() {
	defer e.wg.Done()
	for j := range e.queue {
		e.process(context.Background(), j)
	}
}

// process runs every matching rule for one trigger. Rule failures are
// isolated: a failing rule gets a failed log row and its siblings still run.
func (e *Engine) process(ctx context.Context, j job) {
	rules, err := e.store.ListActiveByTrigger(ctx, j.tenantID, j.triggerType)
	if err != nil {
		e.logger.Error("load rules failed",
			slog.String("tenant_id", j.tenantID),
			slog.String("trigger", j.triggerType),
			slog.Any("error", err))
		return
	}
	for _, rule := range rules {
		e.runRule(ctx, rule, j)
	}
}

func (e *Engine) runRule(ctx context.Context, rule Rule, j job) {
	matched, runErr := e.dispatch(ctx, rule, j)
	if !matched {
		return
	}

	outcome := OutcomeSuccess
	errMsg := ""
	if runErr != nil {
		outcome = OutcomeFailed
		errMsg = runErr.Error()
	}
	if err := e.store.RecordRun(ctx, rule.ID, rule.TenantID, outcome, rule.Actions, errMsg); err != nil {
		e.logger.Error("record run failed",
			slog.String("rule_id", rule.ID),
			slog.Any("error", err))
	}
}

// dispatch evaluates and executes one rule, converting panics into errors.
func (e *Engine) dispatch(ctx context.Context, rule Rule, j job) (matched bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			matched = true
			err = fmt.Errorf("rule panicked: %v", r)
		}
	}()

	if !matches(rule, j.trigCtx) {
		return false, nil
	}
	matched = true

	for _, action := range rule.Actions {
		if action.DelaySeconds > 0 {
			e.schedule(rule, action, j)
			continue
		}
		if execErr := e.exec.Execute(ctx, rule.TenantID, action, j.trigCtx); execErr != nil {
			return true, fmt.Errorf("action %s: %w", action.Type, execErr)
		}
	}
	return true, nil
}

// schedule arms a one-shot timer for a delayed action. Bookkeeping already
// happened at dispatch time; a failure here only logs.
func (e *Engine) schedule(rule Rule, action Action, j job) {
	delay := time.Duration(action.DelaySeconds) * time.Second
	e.logger.Debug("scheduling delayed action",
		slog.String("rule_id", rule.ID),
		slog.String("action", action.Type),
		slog.Duration("delay", delay))
	time.AfterFunc(delay, func() {
		if err := e.exec.Execute(context.Background(), rule.TenantID, action, j.trigCtx); err != nil {
			e.logger.Warn("delayed action failed",
				slog.String("rule_id", rule.ID),
				slog.String("action", action.Type),
				slog.Any("error", err))
		}
	})
}

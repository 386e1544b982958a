package healthcheck

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Engine runs the registered health checks.
type Engine struct {
	checkers map[string]Checker
	logger   *zap.Logger
	mu       sync.RWMutex
	last     *AggregatedResult
}

// NewEngine creates a new health check engine.
func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		checkers: make(map[string]Checker),
		logger:   logger.With(zap.String("component", "healthcheck")),
	}
}

// Register adds a health checker, replacing one with the same name.
func (e *Engine) Register(checker Checker) {
	e.mu.Lock()
	defer e.mu.Unlock()

	name := checker.Name()
	e.checkers[name] = checker
	e.logger.Info("Registered health checker", zap.String("checker", name))
}

// Unregister removes a health checker from the engine.
func (e *Engine) Unregister(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.checkers, name)
	e.logger.Info("Unregistered health checker", zap.String("checker", name))
}

// CheckAll runs all registered health checks concurrently and aggregates
// the results. A checker that panics or returns nil is reported unhealthy
// or unknown respectively.
func (e *Engine) CheckAll(ctx context.Context) *AggregatedResult {
	e.mu.RLock()
	checkers := make(map[string]Checker, len(e.checkers))
	for k, v := range e.checkers {
		checkers[k] = v
	}
	e.mu.RUnlock()

	results := make(map[string]*Result, len(checkers))
	var wg sync.WaitGroup
	var resultsMu sync.Mutex

	for name, checker := range checkers {
		wg.Add(1)
		go func(n string, c Checker) {
			defer wg.Done()

			start := time.Now()
			result := e.run(ctx, n, c)
			result.Duration = time.Since(start)

			resultsMu.Lock()
			results[n] = result
			resultsMu.Unlock()
		}(name, checker)
	}
	wg.Wait()

	agg := &AggregatedResult{
		OverallStatus: DetermineOverallStatus(results),
		Components:    results,
		Timestamp:     time.Now(),
	}

	e.mu.Lock()
	e.last = agg
	e.mu.Unlock()
	return agg
}

func (e *Engine) run(ctx context.Context, name string, c Checker) (result *Result) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Health checker panicked", zap.String("checker", name), zap.Any("panic", r))
			result = NewResult(name, StatusUnhealthy, fmt.Sprintf("checker panicked: %v", r))
		}
	}()

	result = c.Check(ctx)
	if result == nil {
		result = NewResult(name, StatusUnknown, "checker returned no result")
	}
	return result
}

// Last returns the most recent aggregated result, or nil before the first check.
func (e *Engine) Last() *AggregatedResult {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.last
}

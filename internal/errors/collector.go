package errors

import (
	"sort"
	"sync"
	"time"
)

// CompileFailure records one template that failed to compile.
type CompileFailure struct {
	Template  string
	Err       error
	Timestamp time.Time
}

// ErrorCollector collects compile failures keyed by template so that the
// latest failure for a template replaces earlier ones.
type ErrorCollector struct {
	failures map[string]CompileFailure
	mutex    sync.RWMutex
}

// NewErrorCollector creates a new error collector
func NewErrorCollector() *ErrorCollector {
	return &ErrorCollector{
		failures: make(map[string]CompileFailure),
	}
}

// Add records a failure for template
func (ec *ErrorCollector) Add(template string, err error) {
	if err == nil {
		return
	}
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	ec.failures[template] = CompileFailure{
		Template:  template,
		Err:       err,
		Timestamp: time.Now(),
	}
}

// Clear forgets the failure for template, typically after it compiled
func (ec *ErrorCollector) Clear(template string) {
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	delete(ec.failures, template)
}

// Reset forgets every failure
func (ec *ErrorCollector) Reset() {
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	ec.failures = make(map[string]CompileFailure)
}

// HasErrors returns true if there are any failures
func (ec *ErrorCollector) HasErrors() bool {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	return len(ec.failures) > 0
}

// Failures returns all recorded failures sorted by template name
func (ec *ErrorCollector) Failures() []CompileFailure {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	result := make([]CompileFailure, 0, len(ec.failures))
	for _, f := range ec.failures {
		result = append(result, f)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Template < result[j].Template
	})
	return result
}

// Err joins all recorded failures into one error, nil when there are none
func (ec *ErrorCollector) Err() error {
	failures := ec.Failures()
	if len(failures) == 0 {
		return nil
	}
	errs := make([]error, len(failures))
	for i, f := range failures {
		errs[i] = f.Err
	}
	return CombineErrors(errs...)
}

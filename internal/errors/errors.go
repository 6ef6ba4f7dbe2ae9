package errors

import (
	"sort"
	"sync"
)

// ErrorCollector gathers violations and general errors from checks that must
// report every failure rather than stopping at the first one.
type ErrorCollector struct {
	violations []Violation
	errors     []error
	mutex      sync.RWMutex
}

// NewErrorCollector creates a new error collector
func NewErrorCollector() *ErrorCollector {
	return &ErrorCollector{
		violations: make([]Violation, 0),
		errors:     make([]error, 0),
	}
}

// Add records a violation.
func (ec *ErrorCollector) Add(field, rule, message string) {
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	ec.violations = append(ec.violations, Violation{Field: field, Rule: rule, Message: message})
}

// AddViolations records several violations at once.
func (ec *ErrorCollector) AddViolations(vs ...Violation) {
	if len(vs) == 0 {
		return
	}
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	ec.violations = append(ec.violations, vs...)
}

// AddError adds a general error to the collector
func (ec *ErrorCollector) AddError(err error) {
	if err == nil {
		return
	}
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	ec.errors = append(ec.errors, err)
}

// Violations returns a copy of the collected violations.
func (ec *ErrorCollector) Violations() []Violation {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	result := make([]Violation, len(ec.violations))
	copy(result, ec.violations)
	return result
}

// Errors returns a copy of the collected general errors.
func (ec *ErrorCollector) Errors() []error {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	result := make([]error, len(ec.errors))
	copy(result, ec.errors)
	return result
}

// HasErrors returns true if there are any violations or errors
func (ec *ErrorCollector) HasErrors() bool {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	return len(ec.violations) > 0 || len(ec.errors) > 0
}

// Fields returns the sorted, de-duplicated set of fields with violations.
func (ec *ErrorCollector) Fields() []string {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()

	seen := make(map[string]bool)
	var fields []string
	for _, v := range ec.violations {
		if !seen[v.Field] {
			seen[v.Field] = true
			fields = append(fields, v.Field)
		}
	}
	sort.Strings(fields)
	return fields
}

// Clear clears all errors
func (ec *ErrorCollector) Clear() {
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	ec.violations = ec.violations[:0]
	ec.errors = ec.errors[:0]
}

// ValidationError builds a single validation error from the collected
// violations, or returns nil when nothing was collected.
func (ec *ErrorCollector) ValidationError(code, message string) error {
	violations := ec.Violations()
	if len(violations) == 0 {
		return nil
	}
	return NewValidationError(code, message, violations...)
}

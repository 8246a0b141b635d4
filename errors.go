package aqmsim

import (
	"strings"

	"github.com/pkg/errors"
)

// ErrShutdown is returned when an operator interrupt or timeout stops a run.
// The pipeline drains and stops; it is not a failure of the model.
var ErrShutdown = errors.New("shutdown requested")

// ErrAlreadyRun is returned when a pipeline that has terminated is started again
var ErrAlreadyRun = errors.New("pipeline already run")

// ConfigError gathers every problem found while validating an experiment
// description or loading its packet source
type ConfigError struct {
	Problems []string
}

func (ce *ConfigError) Error() string {
	return "configuration: " + strings.Join(ce.Problems, "; ")
}

// configErrorf builds a ConfigError holding one formatted problem
func configErrorf(format string, args ...any) error {
	return &ConfigError{Problems: []string{errors.Errorf(format, args...).Error()}}
}

// InvariantError marks a broken programming contract, e.g., servicing a
// packet the queue never handed out.  These end the run.
type InvariantError struct {
	Op     string
	Detail string
}

func (ie *InvariantError) Error() string {
	return "invariant violated in " + ie.Op + ": " + ie.Detail
}

// IsConfigError tells whether err (or anything it wraps) is a ConfigError
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// IsInvariantError tells whether err (or anything it wraps) is an InvariantError
func IsInvariantError(err error) bool {
	var ie *InvariantError
	return errors.As(err, &ie)
}

// ReportErrs folds a list of errors, any of which may be nil, into a single
// ConfigError; nil when every entry is nil
func ReportErrs(errs []error) error {
	problems := make([]string, 0)
	for _, err := range errs {
		if err == nil {
			continue
		}
		var ce *ConfigError
		if errors.As(err, &ce) {
			problems = append(problems, ce.Problems...)
			continue
		}
		problems = append(problems, err.Error())
	}
	if len(problems) == 0 {
		return nil
	}
	return &ConfigError{Problems: problems}
}

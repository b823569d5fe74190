package engine

import (
	"context"
	"time"

	"github.com/hanpama/fedgate/internal/compile"
	"github.com/hanpama/fedgate/internal/transform"
	"github.com/sirupsen/logrus"
)

// ErrorReporter receives errors that turned a field into null. service is empty
// when the failure happened before any service was involved.
type ErrorReporter func(ctx context.Context, service string, err error)

// Option configures an Engine.
type Option func(*options)

type options struct {
	steps            []transform.Step
	reporter         ErrorReporter
	logger           logrus.FieldLogger
	maxConcurrency   int
	closeGracePeriod time.Duration
	variables        compile.VariablePredicate
	introspection    bool
}

func defaultOptions() options {
	return options{
		steps:            transform.Default(),
		logger:           logrus.StandardLogger(),
		closeGracePeriod: 60 * time.Second,
		variables:        compile.CustomScalarVariables,
		introspection:    true,
	}
}

// WithTransforms replaces the transform list.
func WithTransforms(steps ...transform.Step) Option {
	return func(o *options) { o.steps = steps }
}

func WithErrorReporter(r ErrorReporter) Option {
	return func(o *options) { o.reporter = r }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMaxConcurrency bounds the top-level tasks running at once per operation.
// Zero means unbounded.
func WithMaxConcurrency(n int) Option {
	return func(o *options) { o.maxConcurrency = n }
}

// WithCloseGracePeriod sets how long Close waits for in-flight executions.
func WithCloseGracePeriod(d time.Duration) Option {
	return func(o *options) { o.closeGracePeriod = d }
}

// WithAllVariables sends every argument as a variable instead of only custom
// scalars.
func WithAllVariables(all bool) Option {
	return func(o *options) {
		if all {
			o.variables = compile.AllVariables
		} else {
			o.variables = compile.CustomScalarVariables
		}
	}
}

func WithIntrospection(enabled bool) Option {
	return func(o *options) { o.introspection = enabled }
}

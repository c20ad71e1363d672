// Package errors provides a single categorized error type used across every
// daemon so deep handlers can translate failures and boundaries (HTTP
// handlers, the event bus, the update daemon's apply path) can surface them
// as structured responses without leaking internals.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Category groups errors for logging, metrics, and telemetry tagging.
type Category string

const (
	CategoryConfiguration Category = "configuration"
	CategoryNetwork       Category = "network"
	CategoryAudio         Category = "audio-processing"
	CategoryDatabase      Category = "database"
	CategoryHTTP          Category = "http-request"
	CategorySystem        Category = "system-resource"
	CategoryNotFound      Category = "not-found"
	CategoryValidation    Category = "validation"
	CategoryMQTT          Category = "mqtt"
	CategoryNotification  Category = "notification"
	CategoryUpdate        Category = "update"
	CategoryCache         Category = "cache"
	CategoryAnalysis      Category = "audio-analysis"
	CategoryModel         Category = "model"
)

// Priority is an explicit severity override consumed by the telemetry hook.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// ComponentUnknown marks an error whose origin component was not set.
const ComponentUnknown = "unknown"

// AppError wraps an error with component/category metadata and structured
// context, so a single error value can carry everything a log line or an
// HTTP error body needs.
type AppError struct {
	err       error
	component string
	category  Category
	priority  Priority
	context   map[string]string
}

func (e *AppError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("%s: %s", e.component, e.category)
	}
	return fmt.Sprintf("%s[%s]: %v", e.component, e.category, e.err)
}

func (e *AppError) Unwrap() error { return e.err }

// Category returns the error's category for dispatch/logging.
func (e *AppError) Category() Category { return e.category }

// Component returns the component that raised the error.
func (e *AppError) Component() string {
	if e.component == "" {
		return ComponentUnknown
	}
	return e.component
}

// Priority returns the explicit priority override, defaulting to medium.
func (e *AppError) Priority() Priority {
	if e.priority == "" {
		return PriorityMedium
	}
	return e.priority
}

// Context returns a copy of the structured context attached to the error.
func (e *AppError) Context() map[string]string {
	out := make(map[string]string, len(e.context))
	for k, v := range e.context {
		out[k] = v
	}
	return out
}

// Builder assembles an AppError fluently: errors.New(err).Component("x").Category(y).Build().
type Builder struct {
	err *AppError
}

// New starts a builder wrapping an existing error.
func New(err error) *Builder {
	return &Builder{err: &AppError{err: err, context: map[string]string{}}}
}

// Newf starts a builder around a freshly formatted error message.
func Newf(format string, args ...any) *Builder {
	return &Builder{err: &AppError{err: fmt.Errorf(format, args...), context: map[string]string{}}}
}

func (b *Builder) Component(name string) *Builder {
	b.err.component = name
	return b
}

func (b *Builder) Category(c Category) *Builder {
	b.err.category = c
	return b
}

func (b *Builder) Priority(p Priority) *Builder {
	b.err.priority = p
	return b
}

func (b *Builder) Context(key, value string) *Builder {
	b.err.context[key] = value
	return b
}

// Build finalizes and returns the *AppError.
func (b *Builder) Build() *AppError { return b.err }

// Is exposes standard errors.Is compatibility for sentinels.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As exposes standard errors.As compatibility.
func As(err error, target any) bool { return stderrors.As(err, target) }

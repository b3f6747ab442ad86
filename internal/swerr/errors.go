// Package swerr carries the single typed error surfaced by the toolkit.
// Callers branch on Kind and Feature, never on message text.
package swerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a toolkit error.
type Kind string

const (
	KindNotEnabled      Kind = "not enabled"
	KindNotSupported    Kind = "not supported"
	KindFailedToInstall Kind = "failed to install"
	KindFailure         Kind = "failed"
	KindInvalid         Kind = "invalid"
)

const (
	defaultEnabledFeature = "Events"
	defaultFeature        = "Service Worker"
)

// Error is the toolkit error. Message is only set for validation errors,
// which describe the offending key rather than a feature.
type Error struct {
	Kind    Kind
	Feature string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	head := e.Message
	if head == "" {
		head = fmt.Sprintf("[%s %s]", e.Feature, e.Kind)
	}
	if e.Err == nil || e.Err.Error() == "" {
		return head
	}
	return strings.Join([]string{head, e.Err.Error()}, "::")
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches errors of the same kind and feature so errors.Is works against
// the package constructors with a nil cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Feature == "" || t.Feature == e.Feature)
}

func newError(kind Kind, feature, fallback string, cause error) *Error {
	if strings.TrimSpace(feature) == "" {
		feature = fallback
	}
	return &Error{Kind: kind, Feature: feature, Err: cause}
}

// NotEnabled reports a guarded feature that is globally disabled.
func NotEnabled(feature string, cause error) *Error {
	return newError(KindNotEnabled, feature, defaultEnabledFeature, cause)
}

// NotSupported reports a capability the platform lacks.
func NotSupported(feature string, cause error) *Error {
	return newError(KindNotSupported, feature, defaultFeature, cause)
}

// FailedToInstall reports an installation-phase failure.
func FailedToInstall(feature string, cause error) *Error {
	return newError(KindFailedToInstall, feature, defaultFeature, cause)
}

// Failure wraps a failed operation.
func Failure(feature string, cause error) *Error {
	return newError(KindFailure, feature, defaultFeature, cause)
}

// IsKind reports whether err carries a toolkit error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// FeatureOf returns the feature attached to err, or "" when err is not a
// toolkit error.
func FeatureOf(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Feature
}

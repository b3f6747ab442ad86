package swerr

import (
	"fmt"
	"strings"
)

// Types lists the expected kind of every recognised worker option.
var Types = map[string]string{
	"url":            "string",
	"path":           "string",
	"partition":      "string",
	"strategy":       "string",
	"shell":          "string",
	"scope":          "string",
	"cache":          "string",
	"cacheName":      "string",
	"updateViaCache": "string",
	"offline":        "object",
	"precache":       "object",
	"maxAge":         "number",
	"maxResources":   "number",
	"maxContentSize": "number",
	"timeout":        "number",
	"strict":         "boolean",
}

// Enums lists the allowed values for enumerated options.
var Enums = map[string][]string{
	"updateViaCache": {"all", "imports", "none"},
}

func invalid(message string) *Error {
	return &Error{Kind: KindInvalid, Message: message}
}

// ExpectedType reports a value of the wrong type. An empty typ falls back
// to the registered type for key.
func ExpectedType(key, typ string) *Error {
	if typ == "" {
		typ = Types[key]
	}
	return invalid(fmt.Sprintf("Expected %s value to be a %s\n", key, typ))
}

// ExpectedArrayOfType reports a list option holding the wrong element type.
func ExpectedArrayOfType(key, typ string) *Error {
	if typ == "" {
		typ = "string"
	}
	return invalid(fmt.Sprintf("Expected value of %s to be an Array of %ss\n", key, typ))
}

// EnumerableException reports a value outside the allowed enumeration.
func EnumerableException(key string) *Error {
	return invalid(fmt.Sprintf("Expected %s value to match enumerable values\n\t[%s]\n", key, strings.Join(Enums[key], ", ")))
}

// UnknownKey reports an unrecognised option key.
func UnknownKey(key string, keys []string) *Error {
	return invalid(fmt.Sprintf("Unknown key %s given, expected one of:\n\t{ %s }\n", key, strings.Join(keys, ", ")))
}

// UnknownEventName reports an event name outside the supported set.
func UnknownEventName(eventName string, enabled []string) *Error {
	return invalid(fmt.Sprintf("event name %q is not a supported event, please select one of the following:\n\n[%s]", eventName, strings.Join(enabled, ",\t")))
}

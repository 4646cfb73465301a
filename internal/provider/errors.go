// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"errors"
	"fmt"
)

// Sentinel errors for configuration failures. Both are raised synchronously
// by the factory, before any network call.
var (
	// ErrMissingAPIKey indicates the selected provider requires a
	// credential and none was supplied.
	ErrMissingAPIKey = errors.New("API key required")

	// ErrUnsupportedProvider indicates an unknown provider tag.
	ErrUnsupportedProvider = errors.New("unsupported provider")
)

// ConfigError is a pre-flight configuration failure: missing credential or
// unknown provider tag. It always wraps one of the sentinel errors above.
type ConfigError struct {
	Provider Name
	Err      error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("provider %q: %v", e.Provider, e.Err)
}

// Unwrap returns the underlying sentinel error.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// UpstreamError is a non-2xx HTTP response from a provider. Body carries
// the raw response body as diagnostic text; it is meant for logs, not for
// end users.
type UpstreamError struct {
	Provider Name
	Status   int
	Body     string
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s API error (HTTP %d): %s", e.Provider, e.Status, e.Body)
}

// IsConfigError reports whether err is a pre-flight configuration failure.
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}

// Package usmserr defines the error taxonomy for the USMS client.
//
// Every failure surfaced by the library is one of these types, so callers
// can distinguish programmer errors (NotInitializedError) from fatal
// credential problems (AuthenticationError), recoverable session expiry
// (SessionExpiredError), transient transport failures (NetworkError) and
// unexpected portal page shapes (DataParseError).
package usmserr

import (
	"errors"
	"fmt"
)

// NotInitializedError is returned when an operation is invoked on an
// account or meter that has not been initialized, or that has been
// logged out. It is a precondition violation and is never retried.
type NotInitializedError struct {
	Op string
}

func (e *NotInitializedError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: account must be initialized first", e.Op)
	}
	return "account must be initialized first"
}

// AuthenticationError is returned when the portal rejects the configured
// credentials. It is fatal: retrying with the same credentials will not
// succeed.
type AuthenticationError struct {
	Reason string
	Err    error
}

func (e *AuthenticationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("authentication failed: %s", e.Reason)
	}
	return "authentication failed: invalid login"
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// SessionExpiredError is returned when the portal reported an expired
// session and the single automatic re-authentication attempt did not
// produce a valid session.
type SessionExpiredError struct {
	Err error
}

func (e *SessionExpiredError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("session expired and re-authentication failed: %v", e.Err)
	}
	return "session expired and re-authentication failed"
}

func (e *SessionExpiredError) Unwrap() error {
	return e.Err
}

// NetworkError is returned when the portal could not be reached, or a
// request timed out. Cached data is left untouched, so the caller may
// retry.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("request to %s failed: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("request failed: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// DataParseError is returned when a portal page did not have the expected
// shape. The existing cache entry, if any, is preserved.
type DataParseError struct {
	Page string
	Err  error
}

func (e *DataParseError) Error() string {
	if e.Page != "" {
		return fmt.Sprintf("parsing %s page: %v", e.Page, e.Err)
	}
	return fmt.Sprintf("parsing portal response: %v", e.Err)
}

func (e *DataParseError) Unwrap() error {
	return e.Err
}

// IsNotInitialized reports whether err is a NotInitializedError.
func IsNotInitialized(err error) bool {
	var target *NotInitializedError
	return errors.As(err, &target)
}

// IsAuthentication reports whether err is an AuthenticationError.
func IsAuthentication(err error) bool {
	var target *AuthenticationError
	return errors.As(err, &target)
}

// IsSessionExpired reports whether err is a SessionExpiredError.
func IsSessionExpired(err error) bool {
	var target *SessionExpiredError
	return errors.As(err, &target)
}

// IsNetwork reports whether err is a NetworkError.
func IsNetwork(err error) bool {
	var target *NetworkError
	return errors.As(err, &target)
}

// IsDataParse reports whether err is a DataParseError.
func IsDataParse(err error) bool {
	var target *DataParseError
	return errors.As(err, &target)
}

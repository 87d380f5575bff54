package server

import (
	"errors"
	"fmt"
	"strings"
)

// FailureKind classifies why a request could not be served.
type FailureKind int

const (
	KindMissingCode FailureKind = iota + 1
	KindIdentityProviderRejected
	KindTokenExchangeFailed
	KindMissingAccessToken
	KindMissingRefreshToken
	KindMissingIDToken
	KindMissingSubject
	KindTokenDecodeFailed
	KindUnauthenticated
	KindForbidden
	KindRecordStoreFailure
)

var kindNames = map[FailureKind]string{
	KindMissingCode:              "missing_code",
	KindIdentityProviderRejected: "identity_provider_rejected",
	KindTokenExchangeFailed:      "token_exchange_failed",
	KindMissingAccessToken:       "missing_access_token",
	KindMissingRefreshToken:      "missing_refresh_token",
	KindMissingIDToken:           "missing_id_token",
	KindMissingSubject:           "missing_subject",
	KindTokenDecodeFailed:        "token_decode_failed",
	KindUnauthenticated:          "unauthenticated",
	KindForbidden:                "forbidden",
	KindRecordStoreFailure:       "record_store_failure",
}

func (k FailureKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("failure_kind(%d)", int(k))
}

// AuthError is the single error type flowing through the login and guard pipelines.
// Detail and Err are for server logs only and never reach a response body.
type AuthError struct {
	Kind         FailureKind
	Detail       string
	RequiredRole string
	ActualRoles  []string
	Err          error
}

func (e *AuthError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Kind == KindForbidden {
		fmt.Fprintf(&b, " (required %q, have %v)", e.RequiredRole, e.ActualRoles)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *AuthError) Unwrap() error { return e.Err }

// authStage reports whether the kind is an authentication failure, i.e. anything
// that re-authenticating could fix.
func (k FailureKind) authStage() bool {
	return k != KindForbidden && k != KindRecordStoreFailure
}

func newFailure(kind FailureKind, detail string, cause error) *AuthError {
	return &AuthError{Kind: kind, Detail: detail, Err: cause}
}

// Unauthenticated wraps cause as a session failure.
func Unauthenticated(detail string, cause error) *AuthError {
	return newFailure(KindUnauthenticated, detail, cause)
}

// Forbidden reports an authenticated caller lacking the required role.
func Forbidden(required string, actual []string) *AuthError {
	return &AuthError{Kind: KindForbidden, RequiredRole: required, ActualRoles: actual}
}

// RecordStoreFailure wraps a persistence error.
func RecordStoreFailure(cause error) *AuthError {
	return newFailure(KindRecordStoreFailure, "", cause)
}

// Normalize folds every authentication-stage failure into KindUnauthenticated,
// keeping the original as the cause. Forbidden and RecordStoreFailure pass through.
// Errors outside the taxonomy are returned unchanged.
func Normalize(err error) error {
	var ae *AuthError
	if !errors.As(err, &ae) {
		return err
	}
	if ae.Kind == KindUnauthenticated || !ae.Kind.authStage() {
		return ae
	}
	return &AuthError{Kind: KindUnauthenticated, Detail: ae.Kind.String(), Err: err}
}

// IsUnauthenticated reports whether err should send the browser back to the IdP.
func IsUnauthenticated(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae) && ae.Kind.authStage()
}

// KindOf returns the failure kind carried by err, or zero.
func KindOf(err error) FailureKind {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return 0
}

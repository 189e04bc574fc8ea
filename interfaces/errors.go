package interfaces

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidState is returned when an operation is attempted outside
	// its required lifecycle state. It is always raised before any side
	// effect.
	ErrInvalidState = errors.New("operation not allowed in current state")

	// ErrAuthenticationFailed is returned when the identity provider
	// rejects a login. State remains at its pre-call value.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrReconstructionFailed is returned when a factor key cannot open
	// its share or the share metadata is missing or corrupted. The caller
	// may retry with a different factor.
	ErrReconstructionFailed = errors.New("share reconstruction failed")

	// ErrIntegrityViolation is returned for operations that would break a
	// structural invariant of the account. They are rejected outright and
	// never partially applied.
	ErrIntegrityViolation = errors.New("integrity violation")

	// ErrCollaboratorUnavailable is returned when an external dependency
	// (identity provider, share store, storage) fails. It is propagated,
	// never retried internally.
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")

	// ErrFactorNotFound is returned when no metadata entry exists for the
	// requested factor public key.
	ErrFactorNotFound = errors.New("factor not found")

	// ErrKeyNotFound is returned by key-value storage when the requested
	// key is absent.
	ErrKeyNotFound = errors.New("key not found")

	// ErrAccountNotFound is returned by the metadata service when no
	// record exists for the account.
	ErrAccountNotFound = errors.New("account metadata not found")

	// ErrNoTssKey is returned by the share store when no signing key has
	// been generated or imported yet.
	ErrNoTssKey = errors.New("no tss key present")

	// ErrLoginInProgress is returned when a login is attempted while
	// another login is already in flight.
	ErrLoginInProgress = errors.New("another login is already in progress")

	// ErrRedirectPending is returned by redirect-mode logins after the
	// flow state has been stashed; the flow completes through
	// HandleRedirectResult.
	ErrRedirectPending = errors.New("redirect login pending")
)

var (
	// ErrLastFactor is returned when deleting a factor would leave the
	// account without any path to reconstruction.
	ErrLastFactor = fmt.Errorf("%w: cannot delete the last remaining factor", ErrIntegrityViolation)

	// ErrActiveFactor is returned when deleting the factor the session is
	// currently authenticated with, without a replacement in place.
	ErrActiveFactor = fmt.Errorf("%w: cannot delete the active factor without a replacement", ErrIntegrityViolation)

	// ErrKeyAlreadyImported is returned when importing a signing key over
	// an account that already has one.
	ErrKeyAlreadyImported = fmt.Errorf("%w: account already has a tss key", ErrIntegrityViolation)

	// ErrStaleShare is returned when a share reference belongs to an older
	// share polynomial generation than the store's current nonce.
	ErrStaleShare = fmt.Errorf("%w: share reference is stale", ErrReconstructionFailed)
)

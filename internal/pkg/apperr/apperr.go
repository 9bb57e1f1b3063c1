// Package apperr holds the error kinds shared by every engine component.
// Domain packages re-export the ones they return so callers can match with
// errors.Is against either name.
package apperr

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
)

var (
	// ErrSelfReference is returned when an action targets the acting member.
	ErrSelfReference = errors.New("member cannot target themselves")

	// ErrBlockedRelationship is returned when a block exists in either direction.
	ErrBlockedRelationship = errors.New("relationship is blocked")

	// ErrInvalidTransition is returned when a request is not in the required source state.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrNotFound is returned when the referenced record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrExpiredGrant is returned when acting on a grant past its expiry.
	ErrExpiredGrant = errors.New("grant has expired")

	// ErrUnauthorized is returned when the actor is not allowed to perform the action.
	ErrUnauthorized = errors.New("actor is not authorized for this action")

	// ErrInvalidInput is returned when caller-provided fields fail validation.
	ErrInvalidInput = errors.New("invalid input")
)

const sqlStateCheckViolation = "23514"

// selfReferenceChecks are the CHECK constraints that reject a member acting
// on themselves, either directly or through canonical pair ordering.
var selfReferenceChecks = map[string]bool{
	"member_likes_no_self":           true,
	"user_blocks_no_self":            true,
	"access_requests_no_self":        true,
	"member_matches_canonical":       true,
	"conversation_threads_canonical": true,
}

// FromDB prefixes a driver error with the failing step. Self-reference CHECK
// violations become ErrSelfReference so repository callers see the same
// error the services return.
func FromDB(step string, err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == sqlStateCheckViolation && selfReferenceChecks[pqErr.Constraint] {
		return fmt.Errorf("%s: %w", step, ErrSelfReference)
	}
	return fmt.Errorf("%s: %w", step, err)
}

// Invalid builds an ErrInvalidInput carrying field-level details.
func Invalid(fields map[string]string) error {
	return &ValidationError{Fields: fields}
}

// ValidationError lists the fields that failed validation.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %v", ErrInvalidInput.Error(), e.Fields)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

package model

import (
	"errors"
	"fmt"
)

// ValidationError reports a malformed or unnormalizable input.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// NewValidationError creates a ValidationError.
func NewValidationError(field, value, reason string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}

// IsValidation returns true if err (or any error in its chain) is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// NotFoundError reports a referenced entity that does not exist.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// NewNotFoundError creates a NotFoundError.
func NewNotFoundError(kind, id string) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: id}
}

// IsNotFound returns true if err (or any error in its chain) is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// ConflictError reports a state conflict: a merge into an already-merged
// lead, or a lost race for a duplicate group.
type ConflictError struct {
	Reason string
	LeadID string
}

func (e *ConflictError) Error() string {
	if e.LeadID == "" {
		return "conflict: " + e.Reason
	}
	return fmt.Sprintf("conflict on lead %s: %s", e.LeadID, e.Reason)
}

// NewConflictError creates a ConflictError.
func NewConflictError(leadID, reason string) *ConflictError {
	return &ConflictError{LeadID: leadID, Reason: reason}
}

// IsConflict returns true if err (or any error in its chain) is a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// ForbiddenError reports an actor lacking the role an operation requires.
type ForbiddenError struct {
	Actor  string
	Role   string
	Action string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("actor %s with role %q may not %s", e.Actor, e.Role, e.Action)
}

// NewForbiddenError creates a ForbiddenError.
func NewForbiddenError(actor, role, action string) *ForbiddenError {
	return &ForbiddenError{Actor: actor, Role: role, Action: action}
}

// IsForbidden returns true if err (or any error in its chain) is a ForbiddenError.
func IsForbidden(err error) bool {
	var fe *ForbiddenError
	return errors.As(err, &fe)
}

package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Error taxonomy shared by the project store, template service and remote stores.
var (
	// ErrAuthRequired is returned when a mutating call has no authenticated identity.
	ErrAuthRequired = errors.New("authentication required")
	// ErrNoActiveSelection is returned when a mutation needs a selected project and none is chosen.
	ErrNoActiveSelection = errors.New("no project selected")
	// ErrSyncFailure marks a rejected or unreachable remote call.
	ErrSyncFailure = errors.New("sync failure")
	// ErrPermissionDenied is returned when a capability predicate is false.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrNotFound is returned for operations on a missing document or entity.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned by the trash lifecycle for disallowed moves.
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
	// ErrUncommittable is returned by remote stores for fields carrying no value.
	ErrUncommittable = errors.New("uncommittable field value")
	// ErrValidation marks input rejected before any remote call.
	ErrValidation = errors.New("validation failed")
)

// SyncError reports which operation failed against the remote store.
type SyncError struct {
	Op  string
	Err error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, ErrSyncFailure, e.Err)
}

// Unwrap exposes the remote cause.
func (e *SyncError) Unwrap() error { return e.Err }

// Is lets errors.Is match ErrSyncFailure.
func (e *SyncError) Is(target error) bool { return target == ErrSyncFailure }

// NotFoundError names the missing document.
type NotFoundError struct {
	Collection string
	ID         string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s/%s not found", e.Collection, e.ID)
}

// Is lets errors.Is match ErrNotFound.
func (e NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ValidationError lists the fields that failed validation.
type ValidationError struct {
	Fields []string
	Reason string
}

func (e ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed on %s: %s", strings.Join(e.Fields, ", "), e.Reason)
}

// Is lets errors.Is match ErrValidation.
func (e ValidationError) Is(target error) bool { return target == ErrValidation }

// Package domain provides the task record, its lifecycle rules and the queue's sentinel errors.
package domain

import "errors"

var (
	// ErrEnqueueFailure means the insert was not durably written
	ErrEnqueueFailure = errors.New("EnqueueFailure")
	// ErrClaimLost means another bee won the claim; a normal outcome
	ErrClaimLost = errors.New("ClaimLost")
	// ErrNoHandlerForCapability is a routing configuration error, never retried
	ErrNoHandlerForCapability = errors.New("NoHandlerForCapability")
	// ErrHandlerExecution wraps errors raised by handlers
	ErrHandlerExecution = errors.New("HandlerExecutionError")
	// ErrStuckTask marks tasks failed by the reaper after their owner vanished
	ErrStuckTask = errors.New("StuckTask")

	ErrTaskNotFound     = errors.New("task not found")
	ErrStillProcessing  = errors.New("task still processing")
	ErrInvalidTask      = errors.New("invalid task")
	ErrInvalidPriority  = errors.New("invalid priority")
	ErrDuplicateHandler = errors.New("duplicate handler")
	ErrNoEventStream    = errors.New("event stream not configured")
)

package services

import (
	"errors"
	"fmt"
)

// ===== SENTINEL ERRORS =====

var (
	// Lookup failures
	ErrTemplateNotFound = errors.New("exam template not found")
	ErrSessionNotFound  = errors.New("attempt session not found")
	ErrStudentNotFound  = errors.New("student not found")

	// Session lifecycle
	ErrNotEnrolled      = errors.New("student not enrolled in exam")
	ErrExamNotActive    = errors.New("exam is not active")
	ErrSessionExpired   = errors.New("session deadline has passed")
	ErrSessionNotActive = errors.New("session is not in progress")
	ErrStaleQuestion    = errors.New("answer submitted for a stale question")

	// Template lifecycle
	ErrInsufficientQuestionPool = errors.New("question pool too small for requested question count")
	ErrTemplateNotEditable      = errors.New("exam template can only be edited in draft")

	// Infrastructure
	ErrOracleUnavailable = errors.New("knowledge oracle unavailable")
)

// ===== TYPED ERRORS =====

// StateTransitionError reports an illegal lifecycle transition on either a
// template or a session.
type StateTransitionError struct {
	Entity string
	ID     uint
	From   string
	To     string
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("invalid %s state transition: %d cannot go from %s to %s", e.Entity, e.ID, e.From, e.To)
}

func NewStateTransitionError(entity string, id uint, from, to string) *StateTransitionError {
	return &StateTransitionError{Entity: entity, ID: id, From: from, To: to}
}

// PermissionError reports an authorization failure on a specific resource.
type PermissionError struct {
	UserID     string
	ResourceID uint
	Resource   string
	Action     string
	Reason     string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied: user %s cannot %s %s %d: %s",
		e.UserID, e.Action, e.Resource, e.ResourceID, e.Reason)
}

func NewPermissionError(userID string, resourceID uint, resource, action, reason string) *PermissionError {
	return &PermissionError{
		UserID:     userID,
		ResourceID: resourceID,
		Resource:   resource,
		Action:     action,
		Reason:     reason,
	}
}

// BusinessRuleError reports a domain rule violation that is not a plain
// validation failure.
type BusinessRuleError struct {
	Rule    string
	Message string
	Details map[string]interface{}
}

func (e *BusinessRuleError) Error() string {
	return fmt.Sprintf("business rule violation (%s): %s", e.Rule, e.Message)
}

func NewBusinessRuleError(rule, message string, details map[string]interface{}) *BusinessRuleError {
	return &BusinessRuleError{Rule: rule, Message: message, Details: details}
}

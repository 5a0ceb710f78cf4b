// Package queue provides the bounded FIFO queue of pending actions awaiting
// synchronization with the dispatch server.
package queue

import (
	"errors"
	"fmt"

	"github.com/vitalmed/vitalsync/internal/store"
)

// ActionType identifies a state-changing operation the client may queue.
type ActionType string

// The closed set of queueable action types. Anything else is rejected at
// enqueue time.
const (
	ActionCreateEmergencyRequest ActionType = "CREATE_EMERGENCY_REQUEST"
	ActionUpdateProfile          ActionType = "UPDATE_PROFILE"
	ActionCancelService          ActionType = "CANCEL_SERVICE"
	ActionRateService            ActionType = "RATE_SERVICE"
	ActionUpdateMedicalInfo      ActionType = "UPDATE_MEDICAL_INFO"
	ActionAddEmergencyContact    ActionType = "ADD_EMERGENCY_CONTACT"
)

var (
	// ErrUnknownActionType is returned for action types outside the closed set.
	ErrUnknownActionType = errors.New("unknown action type")
	// ErrMissingActionData is returned when an action carries no payload.
	ErrMissingActionData = errors.New("action data is required")
	// ErrMissingUserID is returned when an action has no owning user.
	ErrMissingUserID = errors.New("user id is required")
)

// Valid reports whether t is one of the recognized action types.
func (t ActionType) Valid() bool {
	switch t {
	case ActionCreateEmergencyRequest, ActionUpdateProfile, ActionCancelService,
		ActionRateService, ActionUpdateMedicalInfo, ActionAddEmergencyContact:
		return true
	}
	return false
}

// ValidateAction checks the structural contract of an enqueued action.
func ValidateAction(action store.Action, userID string) error {
	if !ActionType(action.Type).Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownActionType, action.Type)
	}
	if len(action.Data) == 0 {
		return ErrMissingActionData
	}
	if userID == "" {
		return ErrMissingUserID
	}
	return nil
}

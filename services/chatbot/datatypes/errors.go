// Package datatypes holds the wire and domain types shared by the chatbot
// service: inbound webhook events, outbound message shapes, the session
// record, the task draft, and the error taxonomy.
package datatypes

import "errors"

// Error taxonomy for the conversational engine and tenant resolution.
//
// Validation and not-found errors are recovered locally with a re-prompt.
// Resolution errors abort the current event. Delivery errors are logged
// and never block the conversation. Persistence errors surface to the user
// as a generic failure and discard the draft.
var (
	ErrValidation             = errors.New("invalid input for current step")
	ErrNotFound               = errors.New("referenced entity not found")
	ErrPrincipalInactive      = errors.New("user is not active")
	ErrTenantInactive         = errors.New("tenant is not active")
	ErrTenantNotFound         = errors.New("tenant not found")
	ErrMissingTenantReference = errors.New("tenant reference is required")
	ErrUpstreamDelivery       = errors.New("outbound message delivery failed")
	ErrPersistence            = errors.New("persistence operation failed")
)

// Package errs holds the sentinel errors shared between the realtime, chat,
// store and auth packages. Callers match them with errors.Is.
package errs

import "errors"

var (
	// ErrMissingToken is returned when a handshake or request carries no credential.
	ErrMissingToken = errors.New("missing token")
	// ErrInvalidToken is returned when a credential is present but fails verification.
	ErrInvalidToken = errors.New("invalid token")

	ErrChatNotFound    = errors.New("chat not found")
	ErrMessageNotFound = errors.New("message not found")
	ErrNotParticipant  = errors.New("user is not a participant of chat")

	// ErrForbidden is returned when a participant attempts an action reserved
	// for the chat creator.
	ErrForbidden = errors.New("action reserved for the chat creator")
	// ErrAlreadyParticipant is returned when adding a current member.
	ErrAlreadyParticipant = errors.New("user is already a participant")
	// ErrParticipantNotFound is returned when removing a user who is not a member.
	ErrParticipantNotFound = errors.New("user is not a participant in this chat")

	// ErrInvalidStatus is returned for presence values a client may not set.
	ErrInvalidStatus = errors.New("invalid presence status")
	ErrInvalidInput  = errors.New("invalid input")

	// ErrNotConnected is returned when a presence change names a user the
	// registry does not hold, or marks a registered user offline.
	ErrNotConnected = errors.New("user is not connected")
	// ErrHubClosed is returned by Attach once shutdown has begun.
	ErrHubClosed = errors.New("hub is shutting down")
)

// Package services defines the business logic for chat sessions, the
// distress escalation pipeline, notifications, and partner linking. This file
// centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// These errors are intended for internal use by the service layer and translation
// into user-facing messages or HTTP status codes should be performed at the
// handler/controller layer.
package services

import "errors"

// Session-related errors.
var (
	// ErrSessionNotFound indicates that the requested chat session does not
	// exist or is not accessible to the current user. Ownership failures are
	// deliberately indistinguishable from missing sessions.
	ErrSessionNotFound = errors.New("chat session not found")

	// ErrUserNotFound indicates that the acting user has no account row.
	ErrUserNotFound = errors.New("user not found")

	// ErrEmptyMessage is returned when a posted message contains no text.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrTooLong is returned when a posted message exceeds the maximum
	// configured length limit.
	ErrTooLong = errors.New("message too long")
)

// Notification-related errors.
var (
	// ErrNotificationNotFound indicates that the requested notification does
	// not exist or belongs to another user.
	ErrNotificationNotFound = errors.New("notification not found")

	// ErrMissingRecipient is returned when a notification is created without
	// a recipient. Every notification has a recipient; the sender is optional.
	ErrMissingRecipient = errors.New("notification recipient is required")

	// ErrInvalidPriority is returned when a notification priority is outside
	// the allowed set (low, normal, high, urgent).
	ErrInvalidPriority = errors.New("invalid notification priority")

	// ErrUnknownChannel is returned when a delivery update names a channel
	// outside {app, email, push, sms}.
	ErrUnknownChannel = errors.New("unknown delivery channel")
)

// Partner-related errors.
var (
	// ErrSelfLink is returned when a user attempts to link to themselves.
	ErrSelfLink = errors.New("cannot link to yourself")

	// ErrAlreadyLinked is returned when either side of a link request already
	// has an active partner.
	ErrAlreadyLinked = errors.New("user already has a partner")

	// ErrNotLinked is returned when an unlink or partner view is requested by
	// a user with no active partner.
	ErrNotLinked = errors.New("no partner linked")

	// ErrSharingDisabled is returned when the partner has not opted in to
	// routine data sharing. Distress escalation is exempt from this check.
	ErrSharingDisabled = errors.New("partner has not enabled sharing")
)

package domain

import "errors"

var (
	// ErrSessionNotFound is returned when a live session does not exist or has expired.
	ErrSessionNotFound = errors.New("game session not found")
	// ErrGameNotFound indicates the durable game instance or its template is missing/empty.
	ErrGameNotFound = errors.New("game instance not found")
	// ErrQuestionNotFound indicates a question UID is not part of the session.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrParticipantNotFound is returned when a user acts before joining.
	ErrParticipantNotFound = errors.New("participant not found in session")
	// ErrUnauthorized rejects a control command from anyone but the session owner.
	ErrUnauthorized = errors.New("not the session owner")
	// ErrValidation marks a payload that failed schema validation; the send is
	// suppressed, never corrected.
	ErrValidation = errors.New("payload validation failed")
	// ErrStoreUnavailable marks a shared-store outage; callers skip and log
	// rather than abort.
	ErrStoreUnavailable = errors.New("shared store unavailable")
	// ErrAnswersLocked rejects a submission while answers are locked.
	ErrAnswersLocked = errors.New("answers are locked")
	// ErrAnswerWindowClosed rejects a submission after the question time limit.
	ErrAnswerWindowClosed = errors.New("answer window closed")
	// ErrFlowAlreadyRunning is the duplicate-start no-op signal. It is logged
	// server-side and never surfaced to the caller.
	ErrFlowAlreadyRunning = errors.New("flow already running for access code")
)

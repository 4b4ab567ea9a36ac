package domain

import "errors"

type ErrorKind string

const (
	KindValidation   ErrorKind = "validation"
	KindNotFound     ErrorKind = "not_found"
	KindForbidden    ErrorKind = "forbidden"
	KindPrecondition ErrorKind = "precondition"
	KindTransient    ErrorKind = "transient"
	KindInvariant    ErrorKind = "invariant"
)

// Error is a typed business error. Two Errors match under errors.Is when
// their codes are equal, so wrapped sentinels and errors built with
// NewValidationError both compare cleanly.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func newError(kind ErrorKind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

// NewValidationError wraps a bad-input message under ErrValidation's code.
func NewValidationError(msg string) error {
	return newError(KindValidation, ErrValidation.Code, msg)
}

var (
	ErrValidation = newError(KindValidation, "VALIDATION", "invalid input")
	ErrForbidden  = newError(KindForbidden, "FORBIDDEN", "not allowed")
	ErrTransient  = newError(KindTransient, "TRANSIENT", "temporary failure, please try again")
	ErrInvariant  = newError(KindInvariant, "INVARIANT_VIOLATION", "internal consistency check failed")

	// Progression
	ErrCourseNotFound          = newError(KindNotFound, "COURSE_NOT_FOUND", "course not found")
	ErrVideoNotFound           = newError(KindNotFound, "VIDEO_NOT_FOUND", "video not found")
	ErrQuizNotFound            = newError(KindNotFound, "QUIZ_NOT_FOUND", "quiz not found")
	ErrPretestRequired         = newError(KindPrecondition, "PRETEST_REQUIRED", "the course pretest must be attempted first")
	ErrPreviousStageIncomplete = newError(KindPrecondition, "PREVIOUS_STAGE_INCOMPLETE", "the previous video is not completed")
	ErrPrerequisiteIncomplete  = newError(KindPrecondition, "PREREQUISITE_INCOMPLETE", "the quiz prerequisite is not completed")
	ErrAttemptLimitExceeded    = newError(KindPrecondition, "ATTEMPT_LIMIT_EXCEEDED", "maximum number of attempts reached")
	ErrRetakeNotAllowed        = newError(KindPrecondition, "RETAKE_NOT_ALLOWED", "this quiz cannot be retaken")
	ErrCourseInProgress        = newError(KindPrecondition, "COURSE_IN_PROGRESS", "course outline is locked once students have progress or certificates")

	// Reservations
	ErrSlotNotFound         = newError(KindNotFound, "SLOT_NOT_FOUND", "slot not found")
	ErrRegistrationNotFound = newError(KindNotFound, "REGISTRATION_NOT_FOUND", "registration not found")
	ErrSlotFull             = newError(KindPrecondition, "SLOT_FULL", "slot is full")
	ErrSlotInPast           = newError(KindPrecondition, "SLOT_IN_PAST", "slot has already started")
	ErrAlreadyRegistered    = newError(KindPrecondition, "ALREADY_REGISTERED", "student already holds an active registration")
	ErrNotActive            = newError(KindPrecondition, "NOT_ACTIVE", "registration is not active")
	ErrSlotOverlap          = newError(KindPrecondition, "SLOT_OVERLAP", "slot overlaps an existing slot on this room")
	ErrDuplicateSlot        = newError(KindPrecondition, "DUPLICATE_SLOT", "an identical slot already exists")

	// Certificates
	ErrCertificateExists    = newError(KindPrecondition, "CERTIFICATE_EXISTS", "certificate already issued")
	ErrCertificateNotFound  = newError(KindNotFound, "CERTIFICATE_NOT_FOUND", "certificate not found")
	ErrArtifactNotAvailable = newError(KindNotFound, "ARTIFACT_NOT_AVAILABLE", "certificate document is not available")
)

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// CodeOf returns the code of the first *Error in err's chain, or "INTERNAL".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "INTERNAL"
}

func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}

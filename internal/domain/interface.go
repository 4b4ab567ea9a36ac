package domain

import (
	"context"
	"io"
	"time"

	"traininghub-backend/pkg/calendar"
)

type ProgressRepository interface {
	GetFacts(ctx context.Context, studentID, courseID uint) (*ProgressFacts, error)
	IsVideoCompleted(ctx context.Context, studentID uint, videoID string) (bool, error)
	MarkVideoCompleted(ctx context.Context, progress *VideoProgress) error
	// ClaimQuizAttempt increments the (student, quiz) counter if it is below
	// limit. It returns the new attempt number, or claimed=false and the
	// current count when the limit is reached.
	ClaimQuizAttempt(ctx context.Context, studentID uint, quizID string, limit int) (attempt int, claimed bool, err error)
	CreateQuizAttempt(ctx context.Context, attempt *QuizAttempt) error
	GetQuizAttempts(ctx context.Context, studentID uint, quizID string) ([]QuizAttempt, error)
	// HasCourseActivity reports whether any student has recorded progress
	// or holds a certificate for the course.
	HasCourseActivity(ctx context.Context, courseID uint) (bool, error)
}

type SlotRepository interface {
	LockResource(ctx context.Context, class ResourceClass, resourceID string) error
	Create(ctx context.Context, slot *Slot) error
	GetByID(ctx context.Context, id uint) (*Slot, error)
	ListByResource(ctx context.Context, class ResourceClass, resourceID string, window calendar.Range) ([]Slot, error)
	ListInWindow(ctx context.Context, class ResourceClass, window calendar.Range) ([]Slot, error)
	IncrementActive(ctx context.Context, id uint) (bool, error)
	DecrementActive(ctx context.Context, id uint) (bool, error)
}

type RegistrationRepository interface {
	Create(ctx context.Context, reg *Registration) error
	GetByID(ctx context.Context, id uint) (*Registration, error)
	MarkCancelled(ctx context.Context, id uint, by uint, at time.Time) (bool, error)
	GetByStudentID(ctx context.Context, studentID uint) ([]Registration, error)
	CountActiveBySlot(ctx context.Context, slotID uint) (int64, error)
}

type CertificateRepository interface {
	Create(ctx context.Context, cert *Certificate) error
	GetByID(ctx context.Context, id uint) (*Certificate, error)
	GetByStudentAndCourse(ctx context.Context, studentID, courseID uint) (*Certificate, error)
	GetByStudentID(ctx context.Context, studentID uint) ([]Certificate, error)
	SetArtifact(ctx context.Context, id uint, artifactID string) error
}

// Store is the transactional boundary over the relational repositories.
// Repositories obtained from the Store passed to fn share one transaction.
type Store interface {
	Progress() ProgressRepository
	Slots() SlotRepository
	Registrations() RegistrationRepository
	Certificates() CertificateRepository
	Atomic(ctx context.Context, fn func(tx Store) error) error
}

type CourseCatalog interface { // MongoDB
	GetOutline(ctx context.Context, courseID uint) (*CourseOutline, error)
	GetVideo(ctx context.Context, videoID string) (*Video, error)
	GetQuiz(ctx context.Context, quizID string) (*Quiz, error)
	AddStage(ctx context.Context, stage *Stage) error
}

type ArtifactStore interface { // GridFS
	SaveCertificate(ctx context.Context, cert *Certificate) (string, error)
	OpenCertificate(ctx context.Context, artifactID string) (io.ReadCloser, error)
}

// EventPublisher is the fire-and-forget notification sink.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// ========== USECASES ==========

type ProgressUsecase interface {
	EvaluateState(ctx context.Context, studentID, courseID uint) (*CourseProgress, error)
	CompleteVideo(ctx context.Context, studentID uint, videoID string) error
	SubmitQuiz(ctx context.Context, studentID uint, quizID string, answers []string) (*QuizResult, error)
	AddStage(ctx context.Context, actor Actor, stage *Stage) error
}

type ReservationUsecase interface {
	CreateSlot(ctx context.Context, actor Actor, spec SlotSpec) (*Slot, error)
	CreateRecurringSlots(ctx context.Context, actor Actor, spec RecurringSlotSpec) (*RecurringResult, error)
	Reserve(ctx context.Context, studentID, slotID uint) (*Registration, error)
	Cancel(ctx context.Context, actor Actor, registrationID uint) error
	ListAvailability(ctx context.Context, class ResourceClass, window calendar.Range) ([]Availability, error)
	ListRegistrations(ctx context.Context, studentID uint) ([]Registration, error)
}

// StageListener receives stage advancement signals from the progression engine.
type StageListener interface {
	OnStageAdvanced(ctx context.Context, studentID, courseID uint) (*Certificate, error)
}

type CertificateUsecase interface {
	StageListener
	IssueCertificate(ctx context.Context, actor Actor, studentID, courseID uint) (*Certificate, error)
	GetUserCertificates(ctx context.Context, studentID uint) ([]Certificate, error)
	OpenArtifact(ctx context.Context, actor Actor, certificateID uint) (*Certificate, io.ReadCloser, error)
}

// ========== RESERVATION DTOs ==========

type SlotSpec struct {
	ResourceClass ResourceClass `json:"resource_class" binding:"required,oneof=exam room"`
	ResourceID    string        `json:"resource_id" binding:"required,max=64"`
	StartAt       time.Time     `json:"start_at" binding:"required"`
	EndAt         time.Time     `json:"end_at" binding:"required"`
	Capacity      int           `json:"capacity" binding:"required,min=1"`
}

// RecurringSlotSpec creates one slot per matching day between From and To.
// StartTime and EndTime are "15:04" wall-clock times in Location.
type RecurringSlotSpec struct {
	ResourceClass ResourceClass  `json:"resource_class" binding:"required,oneof=exam room"`
	ResourceID    string         `json:"resource_id" binding:"required,max=64"`
	From          time.Time      `json:"from" binding:"required"`
	To            time.Time      `json:"to" binding:"required"`
	Weekdays      []time.Weekday `json:"weekdays" binding:"dive,min=0,max=6"`
	StartTime     string         `json:"start_time" binding:"required"`
	EndTime       string         `json:"end_time" binding:"required"`
	Capacity      int            `json:"capacity" binding:"required,min=1"`
	Location      string         `json:"location"`
}

type SlotRejection struct {
	Date  string `json:"date"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

type RecurringResult struct {
	Created  []Slot          `json:"created"`
	Rejected []SlotRejection `json:"rejected"`
}

type Availability struct {
	SlotID        uint          `json:"slot_id"`
	ResourceClass ResourceClass `json:"resource_class"`
	ResourceID    string        `json:"resource_id"`
	StartAt       time.Time     `json:"start_at"`
	EndAt         time.Time     `json:"end_at"`
	Capacity      int           `json:"capacity"`
	Remaining     int           `json:"remaining"`
}

package domain

import (
	"time"

	"gorm.io/datatypes"
)

type Role string

const (
	RoleStudent    Role = "student"
	RoleInstructor Role = "instructor"
	RoleAdmin      Role = "admin"
)

// Actor is the verified (user, role) pair supplied by the identity layer.
type Actor struct {
	UserID uint `json:"user_id"`
	Role   Role `json:"role"`
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

func (a Actor) CanManageSlots() bool {
	return a.Role == RoleInstructor || a.Role == RoleAdmin
}

// MaxQuizAttempts bounds the attempt history kept per (student, quiz).
const MaxQuizAttempts = 20

// ========== PROGRESS (PostgreSQL) ==========

// VideoProgress - one row per (student, video); Completed never goes back to false
type VideoProgress struct {
	ID          uint       `json:"id" gorm:"primaryKey"`
	StudentID   uint       `json:"student_id" gorm:"not null;uniqueIndex:idx_video_progress_student_video"`
	VideoID     string     `json:"video_id" gorm:"type:varchar(64);not null;uniqueIndex:idx_video_progress_student_video"`
	CourseID    uint       `json:"course_id" gorm:"not null;index"`
	Completed   bool       `json:"completed" gorm:"not null;default:false"`
	CompletedAt *time.Time `json:"completed_at"`
	CreatedAt   time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}

// QuizAttempt - append-only history, at most MaxQuizAttempts rows per (student, quiz)
type QuizAttempt struct {
	ID            uint           `json:"id" gorm:"primaryKey"`
	StudentID     uint           `json:"student_id" gorm:"not null;uniqueIndex:idx_quiz_attempt_number"`
	QuizID        string         `json:"quiz_id" gorm:"type:varchar(64);not null;uniqueIndex:idx_quiz_attempt_number"`
	AttemptNumber int            `json:"attempt_number" gorm:"not null;uniqueIndex:idx_quiz_attempt_number"`
	CourseID      uint           `json:"course_id" gorm:"not null;index"`
	Answers       datatypes.JSON `json:"answers"`
	Score         int            `json:"score" gorm:"not null"`
	Passed        bool           `json:"passed" gorm:"not null;default:false"`
	SubmittedAt   time.Time      `json:"submitted_at" gorm:"not null"`
}

// QuizAttemptCounter is the per-(student, quiz) attempt counter. It is only
// ever changed through a conditional increment.
type QuizAttemptCounter struct {
	StudentID uint      `gorm:"primaryKey;autoIncrement:false"`
	QuizID    string    `gorm:"primaryKey;type:varchar(64)"`
	Attempts  int       `gorm:"not null;default:0"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// ========== CERTIFICATES ==========

type Certificate struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	Serial     string    `json:"serial" gorm:"type:varchar(64);not null;uniqueIndex"`
	StudentID  uint      `json:"student_id" gorm:"not null;uniqueIndex:idx_certificate_student_course"`
	CourseID   uint      `json:"course_id" gorm:"not null;uniqueIndex:idx_certificate_student_course"`
	IssuedBy   uint      `json:"issued_by" gorm:"not null;default:0"` // 0 = system
	ArtifactID string    `json:"artifact_id,omitempty" gorm:"type:varchar(64)"`
	IssuedAt   time.Time `json:"issued_at" gorm:"not null"`
}

func (c *Certificate) IssuedBySystem() bool { return c.IssuedBy == 0 }

// ========== RESERVATIONS ==========

type ResourceClass string

const (
	ResourceExam ResourceClass = "exam"
	ResourceRoom ResourceClass = "room"
)

func (c ResourceClass) Valid() bool {
	return c == ResourceExam || c == ResourceRoom
}

// Resource is a lock row; slot creation on a resource serializes on it.
type Resource struct {
	Class     ResourceClass `gorm:"primaryKey;type:varchar(10)"`
	Name      string        `gorm:"primaryKey;type:varchar(64)"`
	CreatedAt time.Time     `gorm:"autoCreateTime"`
}

// Slot - capacity is fixed at creation, ActiveCount is the durable seat counter
type Slot struct {
	ID            uint          `json:"id" gorm:"primaryKey"`
	ResourceClass ResourceClass `json:"resource_class" gorm:"type:varchar(10);not null;uniqueIndex:idx_slot_interval;index:idx_slot_resource"`
	ResourceID    string        `json:"resource_id" gorm:"type:varchar(64);not null;uniqueIndex:idx_slot_interval;index:idx_slot_resource"`
	StartAt       time.Time     `json:"start_at" gorm:"not null;uniqueIndex:idx_slot_interval;index"`
	EndAt         time.Time     `json:"end_at" gorm:"not null;uniqueIndex:idx_slot_interval"`
	Capacity      int           `json:"capacity" gorm:"not null;check:chk_slot_capacity,capacity > 0"`
	ActiveCount   int           `json:"active_count" gorm:"not null;default:0;check:chk_slot_active_count,active_count >= 0 AND active_count <= capacity"`
	CreatedBy     uint          `json:"created_by"`
	CreatedAt     time.Time     `json:"created_at" gorm:"autoCreateTime"`
}

// Remaining is capacity minus active registrations, never negative.
func (s *Slot) Remaining() int {
	if r := s.Capacity - s.ActiveCount; r > 0 {
		return r
	}
	return 0
}

type RegistrationStatus string

const (
	RegistrationActive    RegistrationStatus = "active"
	RegistrationCancelled RegistrationStatus = "cancelled"
)

// Registration - a student's claim on one unit of a slot's capacity.
// The two active keys are unique and cleared on cancellation, which lets the
// database enforce one active booking per slot per student and one active
// exam booking per student.
type Registration struct {
	ID             uint               `json:"id" gorm:"primaryKey"`
	StudentID      uint               `json:"student_id" gorm:"not null;index"`
	SlotID         uint               `json:"slot_id" gorm:"not null;index"`
	ResourceClass  ResourceClass      `json:"resource_class" gorm:"type:varchar(10);not null"`
	Status         RegistrationStatus `json:"status" gorm:"type:varchar(20);not null;default:'active'"`
	ActiveSlotKey  *string            `json:"-" gorm:"type:varchar(80);uniqueIndex"`
	ActiveClassKey *string            `json:"-" gorm:"type:varchar(80);uniqueIndex"`
	CreatedAt      time.Time          `json:"created_at" gorm:"not null"`
	CancelledAt    *time.Time         `json:"cancelled_at,omitempty"`
	CancelledBy    *uint              `json:"cancelled_by,omitempty"`

	// Relations
	Slot *Slot `json:"slot,omitempty" gorm:"foreignKey:SlotID"`
}

func (r *Registration) IsActive() bool { return r.Status == RegistrationActive }

// ========== MONGODB MODELS ==========

type StageKind string

const (
	StagePretest StageKind = "pretest"
	StageVideo   StageKind = "video"
	StageQuiz    StageKind = "quiz"
)

// Stage - one course stage document; courses are configured outside this service
type Stage struct {
	ID           string    `json:"id" bson:"_id"`
	CourseID     uint      `json:"course_id" bson:"course_id"`
	Kind         StageKind `json:"kind" bson:"kind"`
	Title        string    `json:"title" bson:"title"`
	Order        int       `json:"order" bson:"order"` // 0 for the pretest
	PassingScore int       `json:"passing_score,omitempty" bson:"passing_score,omitempty"`
	AllowRetake  bool      `json:"allow_retake" bson:"allow_retake"`
	AnswerKey    []string  `json:"-" bson:"answer_key,omitempty"`
	CreatedAt    time.Time `json:"created_at" bson:"created_at"`
}

type Video struct {
	ID       string `json:"id"`
	CourseID uint   `json:"course_id"`
	Title    string `json:"title"`
	Order    int    `json:"order"`
}

type Quiz struct {
	ID           string   `json:"id"`
	CourseID     uint     `json:"course_id"`
	Title        string   `json:"title"`
	Order        int      `json:"order"`
	PassingScore int      `json:"passing_score"`
	AllowRetake  bool     `json:"allow_retake"`
	AnswerKey    []string `json:"-"`
}

func (q *Quiz) IsPretest() bool { return q.Order == 0 }

// ========== NOTIFICATIONS ==========

type EventType string

const (
	EventStageAdvanced     EventType = "stage.advanced"
	EventCertificateIssued EventType = "certificate.issued"
	EventBookingConfirmed  EventType = "booking.confirmed"
	EventBookingCancelled  EventType = "booking.cancelled"
)

type Event struct {
	Type           EventType `json:"type"`
	StudentID      uint      `json:"student_id"`
	CourseID       uint      `json:"course_id,omitempty"`
	SlotID         uint      `json:"slot_id,omitempty"`
	RegistrationID uint      `json:"registration_id,omitempty"`
	CertificateID  uint      `json:"certificate_id,omitempty"`
	Serial         string    `json:"serial,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

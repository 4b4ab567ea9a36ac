package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"traininghub-backend/internal/domain"
	"traininghub-backend/pkg/calendar"
)

// Models lists every relational model, in migration order.
func Models() []interface{} {
	return []interface{}{
		&domain.VideoProgress{},
		&domain.QuizAttempt{},
		&domain.QuizAttemptCounter{},
		&domain.Certificate{},
		&domain.Resource{},
		&domain.Slot{},
		&domain.Registration{},
	}
}

// ========== STORE ==========

type store struct {
	db *gorm.DB
}

// NewStore returns the gorm-backed transactional store. All invariants that
// must survive concurrent requests are enforced here with conditional updates,
// unique keys and CHECK constraints.
func NewStore(db *gorm.DB) domain.Store {
	return &store{db}
}

func (s *store) Progress() domain.ProgressRepository { return &progressRepo{s.db} }
func (s *store) Slots() domain.SlotRepository { return &slotRepo{s.db} }
func (s *store) Registrations() domain.RegistrationRepository { return &registrationRepo{s.db} }
func (s *store) Certificates() domain.CertificateRepository { return &certificateRepo{s.db} }

func (s *store) Atomic(ctx context.Context, fn func(tx domain.Store) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&store{tx})
	})
	return translate(err, nil)
}

// ========== PROGRESS REPOSITORY ==========

type progressRepo struct {
	db *gorm.DB
}

type quizStatRow struct {
	QuizID    string
	Attempts  int
	BestScore int
	Passed    int
}

func (r *progressRepo) GetFacts(ctx context.Context, studentID, courseID uint) (*domain.ProgressFacts, error) {
	facts := domain.NewProgressFacts()
	db := r.db.WithContext(ctx)

	var videoIDs []string
	err := db.Model(&domain.VideoProgress{}).
		Where("student_id = ? AND course_id = ? AND completed = ?", studentID, courseID, true).
		Pluck("video_id", &videoIDs).Error
	if err != nil {
		return nil, translate(err, nil)
	}
	for _, id := range videoIDs {
		facts.CompletedVideos[id] = true
	}

	var rows []quizStatRow
	err = db.Model(&domain.QuizAttempt{}).
		Select("quiz_id, COUNT(*) AS attempts, MAX(score) AS best_score, MAX(CASE WHEN passed THEN 1 ELSE 0 END) AS passed").
		Where("student_id = ? AND course_id = ?", studentID, courseID).
		Group("quiz_id").
		Scan(&rows).Error
	if err != nil {
		return nil, translate(err, nil)
	}
	for _, row := range rows {
		facts.Quizzes[row.QuizID] = domain.QuizStat{Attempts: row.Attempts, BestScore: row.BestScore, Passed: row.Passed > 0}
	}
	return facts, nil
}

func (r *progressRepo) IsVideoCompleted(ctx context.Context, studentID uint, videoID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.VideoProgress{}).
		Where("student_id = ? AND video_id = ? AND completed = ?", studentID, videoID, true).
		Count(&count).Error
	return count > 0, translate(err, nil)
}

// MarkVideoCompleted upserts the row with completed=true. The first
// completion time is kept on repeated calls.
func (r *progressRepo) MarkVideoCompleted(ctx context.Context, p *domain.VideoProgress) error {
	now := time.Now()
	if p.CompletedAt == nil {
		p.CompletedAt = &now
	}
	p.Completed = true
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "student_id"}, {Name: "video_id"}},
		DoUpdates: clause.Set{
			{Column: clause.Column{Name: "completed"}, Value: true},
			{Column: clause.Column{Name: "completed_at"}, Value: gorm.Expr("COALESCE(video_progresses.completed_at, excluded.completed_at)")},
			{Column: clause.Column{Name: "updated_at"}, Value: now},
		},
	}).Create(p).Error
	return translate(err, nil)
}

func (r *progressRepo) ClaimQuizAttempt(ctx context.Context, studentID uint, quizID string, limit int) (int, bool, error) {
	db := r.db.WithContext(ctx)

	counter := domain.QuizAttemptCounter{StudentID: studentID, QuizID: quizID}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&counter).Error; err != nil {
		return 0, false, translate(err, nil)
	}

	res := db.Model(&domain.QuizAttemptCounter{}).
		Where("student_id = ? AND quiz_id = ? AND attempts < ?", studentID, quizID, limit).
		Update("attempts", gorm.Expr("attempts + 1"))
	if res.Error != nil {
		return 0, false, translate(res.Error, nil)
	}

	var current domain.QuizAttemptCounter
	if err := db.Where("student_id = ? AND quiz_id = ?", studentID, quizID).First(&current).Error; err != nil {
		return 0, false, translate(err, nil)
	}
	return current.Attempts, res.RowsAffected == 1, nil
}

func (r *progressRepo) CreateQuizAttempt(ctx context.Context, attempt *domain.QuizAttempt) error {
	err := r.db.WithContext(ctx).Create(attempt).Error
	return translate(err, fmt.Errorf("%w: attempt %d recorded twice", domain.ErrInvariant, attempt.AttemptNumber))
}

func (r *progressRepo) GetQuizAttempts(ctx context.Context, studentID uint, quizID string) ([]domain.QuizAttempt, error) {
	var attempts []domain.QuizAttempt
	err := r.db.WithContext(ctx).
		Where("student_id = ? AND quiz_id = ?", studentID, quizID).
		Order("attempt_number ASC").
		Find(&attempts).Error
	return attempts, translate(err, nil)
}

func (r *progressRepo) HasCourseActivity(ctx context.Context, courseID uint) (bool, error) {
	db := r.db.WithContext(ctx)
	for _, model := range []interface{}{&domain.VideoProgress{}, &domain.QuizAttempt{}, &domain.Certificate{}} {
		var count int64
		if err := db.Model(model).Where("course_id = ?", courseID).Limit(1).Count(&count).Error; err != nil {
			return false, translate(err, nil)
		}
		if count > 0 {
			return true, nil
		}
	}
	return false, nil
}

// ========== SLOT REPOSITORY ==========

type slotRepo struct {
	db *gorm.DB
}

// LockResource creates the resource row if needed and takes a row lock on it
// for the rest of the transaction.
func (r *slotRepo) LockResource(ctx context.Context, class domain.ResourceClass, resourceID string) error {
	db := r.db.WithContext(ctx)
	res := domain.Resource{Class: class, Name: resourceID}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&res).Error; err != nil {
		return translate(err, nil)
	}
	var locked domain.Resource
	err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("class = ? AND name = ?", class, resourceID).
		First(&locked).Error
	return translate(err, nil)
}

func (r *slotRepo) Create(ctx context.Context, slot *domain.Slot) error {
	err := r.db.WithContext(ctx).Create(slot).Error
	return translate(err, domain.ErrDuplicateSlot)
}

func (r *slotRepo) GetByID(ctx context.Context, id uint) (*domain.Slot, error) {
	var slot domain.Slot
	err := r.db.WithContext(ctx).First(&slot, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrSlotNotFound
	}
	if err != nil {
		return nil, translate(err, nil)
	}
	return &slot, nil
}

func (r *slotRepo) ListByResource(ctx context.Context, class domain.ResourceClass, resourceID string, window calendar.Range) ([]domain.Slot, error) {
	var slots []domain.Slot
	err := r.db.WithContext(ctx).
		Where("resource_class = ? AND resource_id = ?", class, resourceID).
		Where("start_at < ? AND end_at > ?", window.End, window.Start).
		Order("start_at ASC").
		Find(&slots).Error
	return slots, translate(err, nil)
}

func (r *slotRepo) ListInWindow(ctx context.Context, class domain.ResourceClass, window calendar.Range) ([]domain.Slot, error) {
	var slots []domain.Slot
	err := r.db.WithContext(ctx).
		Where("resource_class = ?", class).
		Where("start_at < ? AND end_at > ?", window.End, window.Start).
		Order("start_at ASC, id ASC").
		Find(&slots).Error
	return slots, translate(err, nil)
}

// IncrementActive takes one seat. It reports false when the slot is full.
func (r *slotRepo) IncrementActive(ctx context.Context, id uint) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.Slot{}).
		Where("id = ? AND active_count < capacity", id).
		UpdateColumn("active_count", gorm.Expr("active_count + 1"))
	if res.Error != nil {
		return false, translate(res.Error, nil)
	}
	return res.RowsAffected == 1, nil
}

// DecrementActive frees one seat. It reports false when the counter is
// already zero.
func (r *slotRepo) DecrementActive(ctx context.Context, id uint) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.Slot{}).
		Where("id = ? AND active_count > 0", id).
		UpdateColumn("active_count", gorm.Expr("active_count - 1"))
	if res.Error != nil {
		return false, translate(res.Error, nil)
	}
	return res.RowsAffected == 1, nil
}

// ========== REGISTRATION REPOSITORY ==========

type registrationRepo struct {
	db *gorm.DB
}

// ActiveSlotKey and ActiveClassKey build the values of the unique active keys.
func ActiveSlotKey(slotID, studentID uint) string {
	return fmt.Sprintf("%d:%d", slotID, studentID)
}

func ActiveClassKey(class domain.ResourceClass, studentID uint) string {
	return fmt.Sprintf("%s:%d", class, studentID)
}

func (r *registrationRepo) Create(ctx context.Context, reg *domain.Registration) error {
	slotKey := ActiveSlotKey(reg.SlotID, reg.StudentID)
	reg.ActiveSlotKey = &slotKey
	if reg.ResourceClass == domain.ResourceExam {
		classKey := ActiveClassKey(reg.ResourceClass, reg.StudentID)
		reg.ActiveClassKey = &classKey
	}
	if reg.Status == "" {
		reg.Status = domain.RegistrationActive
	}
	err := r.db.WithContext(ctx).Omit("Slot").Create(reg).Error
	return translate(err, domain.ErrAlreadyRegistered)
}

func (r *registrationRepo) GetByID(ctx context.Context, id uint) (*domain.Registration, error) {
	var reg domain.Registration
	err := r.db.WithContext(ctx).First(&reg, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrRegistrationNotFound
	}
	if err != nil {
		return nil, translate(err, nil)
	}
	return &reg, nil
}

// MarkCancelled flips an active registration to cancelled and releases its
// unique keys. It reports false if the registration was not active.
func (r *registrationRepo) MarkCancelled(ctx context.Context, id uint, by uint, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.Registration{}).
		Where("id = ? AND status = ?", id, domain.RegistrationActive).
		Updates(map[string]interface{}{
			"status":           domain.RegistrationCancelled,
			"active_slot_key":  nil,
			"active_class_key": nil,
			"cancelled_at":     at,
			"cancelled_by":     by,
		})
	if res.Error != nil {
		return false, translate(res.Error, nil)
	}
	return res.RowsAffected == 1, nil
}

func (r *registrationRepo) GetByStudentID(ctx context.Context, studentID uint) ([]domain.Registration, error) {
	var regs []domain.Registration
	err := r.db.WithContext(ctx).
		Preload("Slot").
		Where("student_id = ?", studentID).
		Order("created_at DESC, id DESC").
		Find(&regs).Error
	return regs, translate(err, nil)
}

func (r *registrationRepo) CountActiveBySlot(ctx context.Context, slotID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Registration{}).
		Where("slot_id = ? AND status = ?", slotID, domain.RegistrationActive).
		Count(&count).Error
	return count, translate(err, nil)
}

// ========== CERTIFICATE REPOSITORY ==========

type certificateRepo struct {
	db *gorm.DB
}

func (r *certificateRepo) Create(ctx context.Context, cert *domain.Certificate) error {
	err := r.db.WithContext(ctx).Create(cert).Error
	return translate(err, domain.ErrCertificateExists)
}

func (r *certificateRepo) GetByID(ctx context.Context, id uint) (*domain.Certificate, error) {
	var cert domain.Certificate
	err := r.db.WithContext(ctx).First(&cert, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrCertificateNotFound
	}
	if err != nil {
		return nil, translate(err, nil)
	}
	return &cert, nil
}

// GetByStudentAndCourse returns nil, nil when no certificate exists.
func (r *certificateRepo) GetByStudentAndCourse(ctx context.Context, studentID, courseID uint) (*domain.Certificate, error) {
	var cert domain.Certificate
	err := r.db.WithContext(ctx).
		Where("student_id = ? AND course_id = ?", studentID, courseID).
		First(&cert).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, translate(err, nil)
	}
	return &cert, nil
}

func (r *certificateRepo) GetByStudentID(ctx context.Context, studentID uint) ([]domain.Certificate, error) {
	var certs []domain.Certificate
	err := r.db.WithContext(ctx).
		Where("student_id = ?", studentID).
		Order("issued_at DESC").
		Find(&certs).Error
	return certs, translate(err, nil)
}

func (r *certificateRepo) SetArtifact(ctx context.Context, id uint, artifactID string) error {
	err := r.db.WithContext(ctx).Model(&domain.Certificate{}).
		Where("id = ?", id).
		Update("artifact_id", artifactID).Error
	return translate(err, nil)
}

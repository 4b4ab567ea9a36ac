package usecase

import (
	"context"
	"encoding/json"

	"gorm.io/datatypes"

	"traininghub-backend/internal/domain"
)

type progressUsecase struct {
	store     domain.Store
	catalog   domain.CourseCatalog
	listener  domain.StageListener
	publisher domain.EventPublisher
	opts      Options
}

func NewProgressUsecase(
	store domain.Store,
	catalog domain.CourseCatalog,
	listener domain.StageListener,
	publisher domain.EventPublisher,
	opts Options,
) domain.ProgressUsecase {
	return &progressUsecase{
		store:     store,
		catalog:   catalog,
		listener:  listener,
		publisher: publisher,
		opts:      opts.withDefaults(),
	}
}

// ========== STATE ==========

func (uc *progressUsecase) EvaluateState(ctx context.Context, studentID, courseID uint) (*domain.CourseProgress, error) {
	outline, err := uc.catalog.GetOutline(ctx, courseID)
	if err != nil {
		return nil, err
	}
	facts, err := uc.store.Progress().GetFacts(ctx, studentID, courseID)
	if err != nil {
		return nil, err
	}
	return domain.DeriveState(studentID, outline, facts), nil
}

// ========== VIDEOS ==========

func (uc *progressUsecase) CompleteVideo(ctx context.Context, studentID uint, videoID string) error {
	video, err := uc.catalog.GetVideo(ctx, videoID)
	if err != nil {
		return err
	}
	outline, err := uc.catalog.GetOutline(ctx, video.CourseID)
	if err != nil {
		return err
	}
	k := outline.VideoPosition(videoID)
	if k == 0 {
		return domain.ErrVideoNotFound
	}

	newlyCompleted := false
	err = runAtomic(ctx, uc.store, uc.opts, func(tx domain.Store) error {
		newlyCompleted = false
		facts, err := tx.Progress().GetFacts(ctx, studentID, outline.CourseID)
		if err != nil {
			return err
		}
		if outline.Pretest != nil && facts.Quizzes[outline.Pretest.ID].Attempts == 0 {
			return domain.ErrPretestRequired
		}
		if k > 1 && !facts.CompletedVideos[outline.Videos[k-2].ID] {
			return domain.ErrPreviousStageIncomplete
		}
		if facts.CompletedVideos[videoID] {
			return nil
		}

		now := uc.opts.Clock()
		if err := tx.Progress().MarkVideoCompleted(ctx, &domain.VideoProgress{
			StudentID:   studentID,
			VideoID:     videoID,
			CourseID:    outline.CourseID,
			CompletedAt: &now,
		}); err != nil {
			return err
		}
		newlyCompleted = true
		return nil
	})
	if err != nil {
		return err
	}

	if newlyCompleted {
		uc.opts.Logger.Info("video completed", "student_id", studentID, "course_id", outline.CourseID, "video_id", videoID, "order", k)
		uc.stageAdvanced(ctx, studentID, outline.CourseID)
	}
	return nil
}

// ========== QUIZZES ==========

func (uc *progressUsecase) SubmitQuiz(ctx context.Context, studentID uint, quizID string, answers []string) (*domain.QuizResult, error) {
	quiz, err := uc.catalog.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	correct, score, err := domain.Score(quiz.AnswerKey, answers)
	if err != nil {
		return nil, err
	}
	outline, err := uc.catalog.GetOutline(ctx, quiz.CourseID)
	if err != nil {
		return nil, err
	}
	k := outline.QuizPosition(quizID)
	if k < 0 {
		return nil, domain.ErrQuizNotFound
	}

	payload, err := json.Marshal(answers)
	if err != nil {
		return nil, domain.NewValidationError("answers are not encodable")
	}

	limit := domain.MaxQuizAttempts
	if !quiz.AllowRetake {
		limit = 1
	}
	result := &domain.QuizResult{
		QuizID:  quizID,
		Score:   score,
		Passed:  score >= quiz.PassingScore,
		Correct: correct,
		Total:   len(quiz.AnswerKey),
	}

	err = runAtomic(ctx, uc.store, uc.opts, func(tx domain.Store) error {
		if err := uc.checkQuizPrerequisite(ctx, tx, studentID, outline, k); err != nil {
			return err
		}

		n, claimed, err := tx.Progress().ClaimQuizAttempt(ctx, studentID, quizID, limit)
		if err != nil {
			return err
		}
		if !claimed {
			if !quiz.AllowRetake {
				return domain.ErrRetakeNotAllowed
			}
			return domain.ErrAttemptLimitExceeded
		}

		result.AttemptNumber = n
		return tx.Progress().CreateQuizAttempt(ctx, &domain.QuizAttempt{
			StudentID:     studentID,
			QuizID:        quizID,
			AttemptNumber: n,
			CourseID:      outline.CourseID,
			Answers:       datatypes.JSON(payload),
			Score:         result.Score,
			Passed:        result.Passed,
			SubmittedAt:   uc.opts.Clock(),
		})
	})
	if err != nil {
		return nil, err
	}

	uc.opts.Logger.Info("quiz attempt recorded",
		"student_id", studentID,
		"quiz_id", quizID,
		"attempt", result.AttemptNumber,
		"score", result.Score,
		"passed", result.Passed,
	)
	if result.Passed || k == 0 {
		uc.stageAdvanced(ctx, studentID, outline.CourseID)
	}
	return result, nil
}

// checkQuizPrerequisite enforces that quiz k (k >= 1) follows video min(k, N).
// In a course without videos the pretest, if any, must have been attempted.
// The pretest itself has no prerequisite.
func (uc *progressUsecase) checkQuizPrerequisite(ctx context.Context, tx domain.Store, studentID uint, outline *domain.CourseOutline, k int) error {
	if k == 0 {
		return nil
	}
	if video := outline.PrerequisiteVideo(k); video != nil {
		done, err := tx.Progress().IsVideoCompleted(ctx, studentID, video.ID)
		if err != nil {
			return err
		}
		if !done {
			return domain.ErrPrerequisiteIncomplete
		}
		return nil
	}
	if outline.Pretest == nil {
		return nil
	}
	attempts, err := tx.Progress().GetQuizAttempts(ctx, studentID, outline.Pretest.ID)
	if err != nil {
		return err
	}
	if len(attempts) == 0 {
		return domain.ErrPrerequisiteIncomplete
	}
	return nil
}

// ========== CATALOG ==========

func validateStage(stage *domain.Stage) error {
	switch stage.Kind {
	case domain.StageVideo:
		if stage.Order < 1 {
			return domain.NewValidationError("videos need an order of at least 1")
		}
	case domain.StageQuiz:
		if stage.Order < 1 {
			return domain.NewValidationError("quizzes need an order of at least 1")
		}
		fallthrough
	case domain.StagePretest:
		if len(stage.AnswerKey) == 0 {
			return domain.NewValidationError("answer_key is required for quizzes")
		}
	default:
		return domain.NewValidationError("kind must be pretest, video or quiz")
	}
	return nil
}

// AddStage appends a stage to a course outline. Outlines are frozen once any
// student has recorded progress or received a certificate for the course, so
// recorded progress always refers to the outline it was made against.
func (uc *progressUsecase) AddStage(ctx context.Context, actor domain.Actor, stage *domain.Stage) error {
	if !actor.CanManageSlots() {
		return domain.ErrForbidden
	}
	if err := validateStage(stage); err != nil {
		return err
	}
	if stage.Kind == domain.StagePretest {
		stage.Order = 0
	}

	active, err := uc.store.Progress().HasCourseActivity(ctx, stage.CourseID)
	if err != nil {
		return err
	}
	if active {
		return domain.ErrCourseInProgress
	}

	stage.CreatedAt = uc.opts.Clock()
	if err := uc.catalog.AddStage(ctx, stage); err != nil {
		return err
	}
	uc.opts.Logger.Info("stage added", "course_id", stage.CourseID, "stage_id", stage.ID, "kind", stage.Kind, "order", stage.Order, "by", actor.UserID)
	return nil
}

// stageAdvanced runs after commit. Failures here never undo the progress
// that was just recorded.
func (uc *progressUsecase) stageAdvanced(ctx context.Context, studentID, courseID uint) {
	publish(ctx, uc.publisher, uc.opts.Logger, domain.Event{
		Type:       domain.EventStageAdvanced,
		StudentID:  studentID,
		CourseID:   courseID,
		OccurredAt: uc.opts.Clock(),
	})
	if uc.listener == nil {
		return
	}
	if _, err := uc.listener.OnStageAdvanced(ctx, studentID, courseID); err != nil {
		uc.opts.Logger.Error("certificate check failed", "student_id", studentID, "course_id", courseID, "error", err)
	}
}

package domain

import (
	"sort"
	"strings"
)

// CourseOutline is the read-only ordered stage list of a course.
type CourseOutline struct {
	CourseID uint    `json:"course_id"`
	Pretest  *Quiz   `json:"pretest,omitempty"`
	Videos   []Video `json:"videos"`
	Quizzes  []Quiz  `json:"quizzes"`
}

// BuildOutline groups stage documents into an outline, sorted by Order.
// If several pretests are configured the one created first wins.
func BuildOutline(courseID uint, stages []Stage) *CourseOutline {
	out := &CourseOutline{CourseID: courseID, Videos: []Video{}, Quizzes: []Quiz{}}
	for _, s := range stages {
		switch s.Kind {
		case StageVideo:
			out.Videos = append(out.Videos, s.AsVideo())
		case StagePretest, StageQuiz:
			q := s.AsQuiz()
			if q.IsPretest() {
				if out.Pretest == nil {
					out.Pretest = &q
				}
				continue
			}
			out.Quizzes = append(out.Quizzes, q)
		}
	}
	sort.SliceStable(out.Videos, func(i, j int) bool { return out.Videos[i].Order < out.Videos[j].Order })
	sort.SliceStable(out.Quizzes, func(i, j int) bool { return out.Quizzes[i].Order < out.Quizzes[j].Order })
	return out
}

func (s Stage) AsVideo() Video {
	return Video{ID: s.ID, CourseID: s.CourseID, Title: s.Title, Order: s.Order}
}

// AsQuiz converts a quiz or pretest stage; pretests always get Order 0.
func (s Stage) AsQuiz() Quiz {
	order := s.Order
	if s.Kind == StagePretest {
		order = 0
	}
	return Quiz{
		ID:           s.ID,
		CourseID:     s.CourseID,
		Title:        s.Title,
		Order:        order,
		PassingScore: s.PassingScore,
		AllowRetake:  s.AllowRetake,
		AnswerKey:    s.AnswerKey,
	}
}

// VideoPosition returns the 1-based position of a video in the outline, or 0.
func (o *CourseOutline) VideoPosition(videoID string) int {
	for i, v := range o.Videos {
		if v.ID == videoID {
			return i + 1
		}
	}
	return 0
}

// QuizPosition returns the 1-based position of a quiz in the outline.
// The pretest is position 0; unknown quizzes return -1.
func (o *CourseOutline) QuizPosition(quizID string) int {
	if o.Pretest != nil && o.Pretest.ID == quizID {
		return 0
	}
	for i, q := range o.Quizzes {
		if q.ID == quizID {
			return i + 1
		}
	}
	return -1
}

// PrerequisiteVideo returns the video a quiz at position k depends on:
// video min(k, N). Nil for the pretest and for courses without videos.
func (o *CourseOutline) PrerequisiteVideo(k int) *Video {
	if k <= 0 || len(o.Videos) == 0 {
		return nil
	}
	if k > len(o.Videos) {
		k = len(o.Videos)
	}
	return &o.Videos[k-1]
}

// ========== DERIVED STATE ==========

type Phase string

const (
	PhasePretest  Phase = "PRETEST"
	PhaseVideo    Phase = "VIDEO"
	PhaseQuiz     Phase = "QUIZ"
	PhaseComplete Phase = "COMPLETE"
)

func (p Phase) rank() int {
	switch p {
	case PhasePretest:
		return 0
	case PhaseVideo:
		return 1
	case PhaseQuiz:
		return 2
	default:
		return 3
	}
}

// StageState is the single unlocked stage of a student in a course.
// Index is the 1-based video or quiz position; zero for PRETEST and COMPLETE.
type StageState struct {
	Phase   Phase  `json:"phase"`
	Index   int    `json:"index,omitempty"`
	StageID string `json:"stage_id,omitempty"`
}

// Before reports whether s comes strictly earlier in the course than o.
func (s StageState) Before(o StageState) bool {
	if s.Phase.rank() != o.Phase.rank() {
		return s.Phase.rank() < o.Phase.rank()
	}
	return s.Index < o.Index
}

func (s StageState) IsComplete() bool { return s.Phase == PhaseComplete }

// QuizStat summarizes a student's attempt history on one quiz.
type QuizStat struct {
	Attempts  int  `json:"attempts"`
	BestScore int  `json:"best_score"`
	Passed    bool `json:"passed"`
}

// ProgressFacts is everything committed for a (student, course) that the
// derived state depends on.
type ProgressFacts struct {
	CompletedVideos map[string]bool
	Quizzes         map[string]QuizStat
}

func NewProgressFacts() *ProgressFacts {
	return &ProgressFacts{CompletedVideos: map[string]bool{}, Quizzes: map[string]QuizStat{}}
}

type VideoStatus struct {
	VideoID   string `json:"video_id"`
	Order     int    `json:"order"`
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
}

type QuizStatus struct {
	QuizID string `json:"quiz_id"`
	Order  int    `json:"order"`
	Title  string `json:"title"`
	QuizStat
}

// CourseProgress is the response of GetCourseState.
type CourseProgress struct {
	StudentID        uint          `json:"student_id"`
	CourseID         uint          `json:"course_id"`
	State            StageState    `json:"state"`
	PretestRequired  bool          `json:"pretest_required"`
	PretestAttempted bool          `json:"pretest_attempted"`
	Videos           []VideoStatus `json:"videos"`
	Quizzes          []QuizStatus  `json:"quizzes"`
}

// DeriveState computes the current stage and per-stage flags. It is the only
// place the stage order is decided.
func DeriveState(studentID uint, outline *CourseOutline, facts *ProgressFacts) *CourseProgress {
	if facts == nil {
		facts = NewProgressFacts()
	}
	p := &CourseProgress{
		StudentID: studentID,
		CourseID:  outline.CourseID,
		Videos:    make([]VideoStatus, 0, len(outline.Videos)),
		Quizzes:   make([]QuizStatus, 0, len(outline.Quizzes)),
	}

	if outline.Pretest != nil {
		p.PretestRequired = true
		p.PretestAttempted = facts.Quizzes[outline.Pretest.ID].Attempts > 0
	}
	for _, v := range outline.Videos {
		p.Videos = append(p.Videos, VideoStatus{VideoID: v.ID, Order: v.Order, Title: v.Title, Completed: facts.CompletedVideos[v.ID]})
	}
	for _, q := range outline.Quizzes {
		p.Quizzes = append(p.Quizzes, QuizStatus{QuizID: q.ID, Order: q.Order, Title: q.Title, QuizStat: facts.Quizzes[q.ID]})
	}

	if p.PretestRequired && !p.PretestAttempted {
		p.State = StageState{Phase: PhasePretest, StageID: outline.Pretest.ID}
		return p
	}
	for i, v := range p.Videos {
		if !v.Completed {
			p.State = StageState{Phase: PhaseVideo, Index: i + 1, StageID: v.VideoID}
			return p
		}
	}
	for i, q := range p.Quizzes {
		if !q.Passed {
			p.State = StageState{Phase: PhaseQuiz, Index: i + 1, StageID: q.QuizID}
			return p
		}
	}
	p.State = StageState{Phase: PhaseComplete}
	return p
}

// ========== SCORING ==========

// QuizResult is returned by SubmitQuiz.
type QuizResult struct {
	QuizID        string `json:"quiz_id"`
	Score         int    `json:"score"`
	Passed        bool   `json:"passed"`
	AttemptNumber int    `json:"attempt_number"`
	Correct       int    `json:"correct"`
	Total         int    `json:"total"`
}

// Score grades answers against key by exact match after trimming whitespace.
// Missing and blank answers are wrong. The percentage is rounded half up.
func Score(key, answers []string) (correct, score int, err error) {
	total := len(key)
	if total == 0 {
		return 0, 0, NewValidationError("quiz has no questions")
	}
	if len(answers) > total {
		return 0, 0, NewValidationError("more answers than questions")
	}
	for i, want := range key {
		if i >= len(answers) {
			break
		}
		got := strings.TrimSpace(answers[i])
		if got != "" && got == strings.TrimSpace(want) {
			correct++
		}
	}
	score = (200*correct + total) / (2 * total)
	return correct, score, nil
}

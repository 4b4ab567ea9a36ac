package usecase

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"traininghub-backend/internal/domain"
	"traininghub-backend/internal/repository"
	"traininghub-backend/internal/repository/repotest"
)

var (
	testNow  = time.Date(2030, 1, 1, 8, 0, 0, 0, time.UTC)
	slotBase = time.Date(2030, 1, 7, 9, 0, 0, 0, time.UTC) // a Monday
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// ========== FAKES ==========

type fakeCatalog struct {
	mu     sync.Mutex
	stages map[string]domain.Stage
}

func newFakeCatalog(stages ...domain.Stage) *fakeCatalog {
	c := &fakeCatalog{stages: map[string]domain.Stage{}}
	for _, s := range stages {
		c.stages[s.ID] = s
	}
	return c
}

func (c *fakeCatalog) GetOutline(_ context.Context, courseID uint) (*domain.CourseOutline, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var stages []domain.Stage
	for _, s := range c.stages {
		if s.CourseID == courseID {
			stages = append(stages, s)
		}
	}
	if len(stages) == 0 {
		return nil, domain.ErrCourseNotFound
	}
	return domain.BuildOutline(courseID, stages), nil
}

func (c *fakeCatalog) GetVideo(_ context.Context, videoID string) (*domain.Video, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.stages[videoID]
	if !ok || s.Kind != domain.StageVideo {
		return nil, domain.ErrVideoNotFound
	}
	v := s.AsVideo()
	return &v, nil
}

func (c *fakeCatalog) GetQuiz(_ context.Context, quizID string) (*domain.Quiz, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.stages[quizID]
	if !ok || s.Kind == domain.StageVideo {
		return nil, domain.ErrQuizNotFound
	}
	q := s.AsQuiz()
	return &q, nil
}

func (c *fakeCatalog) AddStage(_ context.Context, stage *domain.Stage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stages[stage.ID] = *stage
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) count(t domain.EventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

type memoryArtifacts struct {
	mu   sync.Mutex
	docs map[string]string
}

func (m *memoryArtifacts) SaveCertificate(_ context.Context, cert *domain.Certificate) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.docs == nil {
		m.docs = map[string]string{}
	}
	id := "doc-" + cert.Serial
	m.docs[id] = string(repository.RenderCertificate(cert))
	return id, nil
}

func (m *memoryArtifacts) OpenCertificate(_ context.Context, artifactID string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[artifactID]
	if !ok {
		return nil, domain.ErrArtifactNotAvailable
	}
	return io.NopCloser(strings.NewReader(doc)), nil
}

func (m *memoryArtifacts) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs)
}

// ========== FIXTURE ==========

type fixture struct {
	db           *gorm.DB
	store        domain.Store
	clock        *testClock
	catalog      *fakeCatalog
	publisher    *recordingPublisher
	artifacts    *memoryArtifacts
	progress     domain.ProgressUsecase
	reservations domain.ReservationUsecase
	certificates domain.CertificateUsecase
}

func newFixture(t *testing.T, stages ...domain.Stage) *fixture {
	t.Helper()
	db := repotest.NewDB(t)
	f := &fixture{
		db:        db,
		store:     repository.NewStore(db),
		clock:     &testClock{now: testNow},
		catalog:   newFakeCatalog(stages...),
		publisher: &recordingPublisher{},
		artifacts: &memoryArtifacts{},
	}
	opts := Options{
		Clock:        f.clock.Now,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		RetryBackoff: time.Millisecond,
	}
	f.certificates = NewCertificateUsecase(f.store, f.catalog, f.artifacts, f.publisher, opts)
	f.progress = NewProgressUsecase(f.store, f.catalog, f.certificates, f.publisher, opts)
	f.reservations = NewReservationUsecase(f.store, f.publisher, opts)
	return f
}

func (f *fixture) count(t *testing.T, model interface{}, where ...interface{}) int64 {
	t.Helper()
	var n int64
	q := f.db.Model(model)
	if len(where) > 0 {
		q = q.Where(where[0], where[1:]...)
	}
	if err := q.Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

var (
	student    = domain.Actor{UserID: 11, Role: domain.RoleStudent}
	other      = domain.Actor{UserID: 12, Role: domain.RoleStudent}
	instructor = domain.Actor{UserID: 2, Role: domain.RoleInstructor}
	adminUser  = domain.Actor{UserID: 1, Role: domain.RoleAdmin}
)

// scenarioCourse is course 1: pretest, two videos and one quiz passing at 70.
func scenarioCourse() []domain.Stage {
	return []domain.Stage{
		{ID: "pre", CourseID: 1, Kind: domain.StagePretest, AnswerKey: []string{"x", "y"}, AllowRetake: false},
		{ID: "v1", CourseID: 1, Kind: domain.StageVideo, Order: 1},
		{ID: "v2", CourseID: 1, Kind: domain.StageVideo, Order: 2},
		{ID: "q1", CourseID: 1, Kind: domain.StageQuiz, Order: 1, PassingScore: 70, AllowRetake: true, AnswerKey: []string{"a", "b", "c"}},
	}
}

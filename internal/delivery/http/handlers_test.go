package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	delivery "traininghub-backend/internal/delivery/http"
	"traininghub-backend/internal/domain"
	"traininghub-backend/pkg/calendar"
	"traininghub-backend/pkg/utils"
)

const testSecret = "test-secret"

// ========== MOCKS ==========

type MockProgressUsecase struct {
	mock.Mock
}

func (m *MockProgressUsecase) EvaluateState(ctx context.Context, studentID, courseID uint) (*domain.CourseProgress, error) {
	args := m.Called(ctx, studentID, courseID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CourseProgress), args.Error(1)
}

func (m *MockProgressUsecase) CompleteVideo(ctx context.Context, studentID uint, videoID string) error {
	return m.Called(ctx, studentID, videoID).Error(0)
}

func (m *MockProgressUsecase) SubmitQuiz(ctx context.Context, studentID uint, quizID string, answers []string) (*domain.QuizResult, error) {
	args := m.Called(ctx, studentID, quizID, answers)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.QuizResult), args.Error(1)
}

func (m *MockProgressUsecase) AddStage(ctx context.Context, actor domain.Actor, stage *domain.Stage) error {
	return m.Called(ctx, actor, stage).Error(0)
}

type MockReservationUsecase struct {
	mock.Mock
}

func (m *MockReservationUsecase) CreateSlot(ctx context.Context, actor domain.Actor, spec domain.SlotSpec) (*domain.Slot, error) {
	args := m.Called(ctx, actor, spec)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Slot), args.Error(1)
}

func (m *MockReservationUsecase) CreateRecurringSlots(ctx context.Context, actor domain.Actor, spec domain.RecurringSlotSpec) (*domain.RecurringResult, error) {
	args := m.Called(ctx, actor, spec)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RecurringResult), args.Error(1)
}

func (m *MockReservationUsecase) Reserve(ctx context.Context, studentID, slotID uint) (*domain.Registration, error) {
	args := m.Called(ctx, studentID, slotID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Registration), args.Error(1)
}

func (m *MockReservationUsecase) Cancel(ctx context.Context, actor domain.Actor, registrationID uint) error {
	return m.Called(ctx, actor, registrationID).Error(0)
}

func (m *MockReservationUsecase) ListAvailability(ctx context.Context, class domain.ResourceClass, window calendar.Range) ([]domain.Availability, error) {
	args := m.Called(ctx, class, window)
	return args.Get(0).([]domain.Availability), args.Error(1)
}

func (m *MockReservationUsecase) ListRegistrations(ctx context.Context, studentID uint) ([]domain.Registration, error) {
	args := m.Called(ctx, studentID)
	return args.Get(0).([]domain.Registration), args.Error(1)
}

type MockCertificateUsecase struct {
	mock.Mock
}

func (m *MockCertificateUsecase) OnStageAdvanced(ctx context.Context, studentID, courseID uint) (*domain.Certificate, error) {
	args := m.Called(ctx, studentID, courseID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Certificate), args.Error(1)
}

func (m *MockCertificateUsecase) IssueCertificate(ctx context.Context, actor domain.Actor, studentID, courseID uint) (*domain.Certificate, error) {
	args := m.Called(ctx, actor, studentID, courseID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Certificate), args.Error(1)
}

func (m *MockCertificateUsecase) GetUserCertificates(ctx context.Context, studentID uint) ([]domain.Certificate, error) {
	args := m.Called(ctx, studentID)
	return args.Get(0).([]domain.Certificate), args.Error(1)
}

func (m *MockCertificateUsecase) OpenArtifact(ctx context.Context, actor domain.Actor, certificateID uint) (*domain.Certificate, io.ReadCloser, error) {
	args := m.Called(ctx, actor, certificateID)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(*domain.Certificate), args.Get(1).(io.ReadCloser), args.Error(2)
}

// ========== SETUP ==========

type testServer struct {
	router       *gin.Engine
	progress     *MockProgressUsecase
	reservations *MockReservationUsecase
	certificates *MockCertificateUsecase
}

func newTestServer() *testServer {
	gin.SetMode(gin.TestMode)
	s := &testServer{
		progress:     new(MockProgressUsecase),
		reservations: new(MockReservationUsecase),
		certificates: new(MockCertificateUsecase),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := delivery.NewHandler(s.progress, s.reservations, s.certificates, logger)
	s.router = delivery.InitRouter(handler, testSecret)
	return s
}

func (s *testServer) do(t *testing.T, method, path string, actor *domain.Actor, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, path, reader)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if actor != nil {
		token, err := utils.GenerateJWT(actor.UserID, string(actor.Role), testSecret)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

var (
	student    = &domain.Actor{UserID: 11, Role: domain.RoleStudent}
	instructor = &domain.Actor{UserID: 2, Role: domain.RoleInstructor}
	admin      = &domain.Actor{UserID: 1, Role: domain.RoleAdmin}
)

// ========== TESTS ==========

func TestHealth(t *testing.T) {
	s := newTestServer()
	w := s.do(t, "GET", "/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthMiddleware(t *testing.T) {
	s := newTestServer()

	w := s.do(t, "GET", "/api/v1/reservations", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req, _ := http.NewRequest("GET", "/api/v1/reservations", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, "POST", "/api/v1/slots", student, `{}`)
	assert.Equal(t, http.StatusForbidden, w.Code, "students cannot create slots")

	w = s.do(t, "POST", "/api/v1/admin/certificates", instructor, `{"student_id":1,"course_id":1}`)
	assert.Equal(t, http.StatusForbidden, w.Code)

	s.reservations.AssertNotCalled(t, "CreateSlot", mock.Anything, mock.Anything, mock.Anything)
	s.certificates.AssertNotCalled(t, "IssueCertificate", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestReserve(t *testing.T) {
	s := newTestServer()

	t.Run("Confirmed", func(t *testing.T) {
		reg := &domain.Registration{ID: 5, StudentID: 11, SlotID: 3, Status: domain.RegistrationActive}
		s.reservations.On("Reserve", mock.Anything, uint(11), uint(3)).Return(reg, nil).Once()

		w := s.do(t, "POST", "/api/v1/slots/3/reservations", student, "")
		assert.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, float64(5), decode(t, w)["id"])
	})

	t.Run("Slot Full", func(t *testing.T) {
		s.reservations.On("Reserve", mock.Anything, uint(11), uint(4)).Return(nil, domain.ErrSlotFull).Once()

		w := s.do(t, "POST", "/api/v1/slots/4/reservations", student, "")
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "SLOT_FULL", decode(t, w)["code"])
	})

	t.Run("Not Found", func(t *testing.T) {
		s.reservations.On("Reserve", mock.Anything, uint(11), uint(9)).Return(nil, domain.ErrSlotNotFound).Once()

		w := s.do(t, "POST", "/api/v1/slots/9/reservations", student, "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("Bad ID", func(t *testing.T) {
		w := s.do(t, "POST", "/api/v1/slots/abc/reservations", student, "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	s.reservations.AssertExpectations(t)
}

func TestCancelReservation(t *testing.T) {
	s := newTestServer()

	s.reservations.On("Cancel", mock.Anything, *student, uint(5)).Return(nil).Once()
	w := s.do(t, "DELETE", "/api/v1/reservations/5", student, "")
	assert.Equal(t, http.StatusOK, w.Code)

	s.reservations.On("Cancel", mock.Anything, *student, uint(6)).Return(domain.ErrForbidden).Once()
	w = s.do(t, "DELETE", "/api/v1/reservations/6", student, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	s.reservations.On("Cancel", mock.Anything, *admin, uint(7)).Return(domain.ErrTransient).Once()
	w = s.do(t, "DELETE", "/api/v1/reservations/7", admin, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "TRANSIENT", decode(t, w)["code"])

	s.reservations.AssertExpectations(t)
}

func TestCreateSlot(t *testing.T) {
	s := newTestServer()

	t.Run("Validation", func(t *testing.T) {
		w := s.do(t, "POST", "/api/v1/slots", instructor, `{"resource_class":"lab","resource_id":"r","start_at":"2030-01-07T09:00:00Z","end_at":"2030-01-07T10:00:00Z","capacity":0}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "VALIDATION", decode(t, w)["code"])
	})

	t.Run("Created", func(t *testing.T) {
		start := time.Date(2030, 1, 7, 9, 0, 0, 0, time.UTC)
		matches := mock.MatchedBy(func(spec domain.SlotSpec) bool {
			return spec.ResourceClass == domain.ResourceRoom && spec.ResourceID == "room-1" &&
				spec.StartAt.Equal(start) && spec.EndAt.Equal(start.Add(time.Hour)) && spec.Capacity == 2
		})
		s.reservations.On("CreateSlot", mock.Anything, *instructor, matches).Return(&domain.Slot{ID: 1, Capacity: 2}, nil).Once()

		w := s.do(t, "POST", "/api/v1/slots", instructor, `{"resource_class":"room","resource_id":"room-1","start_at":"2030-01-07T09:00:00Z","end_at":"2030-01-07T10:00:00Z","capacity":2}`)
		assert.Equal(t, http.StatusCreated, w.Code)
	})

	t.Run("Overlap", func(t *testing.T) {
		s.reservations.On("CreateSlot", mock.Anything, *admin, mock.Anything).Return(nil, domain.ErrSlotOverlap).Once()

		w := s.do(t, "POST", "/api/v1/slots", admin, `{"resource_class":"room","resource_id":"room-1","start_at":"2030-01-07T09:30:00Z","end_at":"2030-01-07T10:30:00Z","capacity":2}`)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "SLOT_OVERLAP", decode(t, w)["code"])
	})

	s.reservations.AssertExpectations(t)
}

func TestListAvailability(t *testing.T) {
	s := newTestServer()

	w := s.do(t, "GET", "/api/v1/slots?class=exam", student, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	window := calendar.Range{
		Start: time.Date(2030, 1, 7, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2030, 1, 8, 0, 0, 0, 0, time.UTC),
	}
	s.reservations.On("ListAvailability", mock.Anything, domain.ResourceExam, mock.MatchedBy(func(r calendar.Range) bool {
		return r.Start.Equal(window.Start) && r.End.Equal(window.End)
	})).Return([]domain.Availability{{SlotID: 1, Capacity: 2, Remaining: 1}}, nil).Once()

	w = s.do(t, "GET", "/api/v1/slots?class=exam&from=2030-01-07T00:00:00Z&to=2030-01-08T00:00:00Z", student, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["count"])

	s.reservations.AssertExpectations(t)
}

func TestGetCourseState(t *testing.T) {
	s := newTestServer()
	progress := &domain.CourseProgress{StudentID: 11, CourseID: 1, State: domain.StageState{Phase: domain.PhaseVideo, Index: 1, StageID: "v1"}}

	s.progress.On("EvaluateState", mock.Anything, uint(11), uint(1)).Return(progress, nil).Twice()

	w := s.do(t, "GET", "/api/v1/courses/1/state", student, "")
	assert.Equal(t, http.StatusOK, w.Code)
	state := decode(t, w)["state"].(map[string]interface{})
	assert.Equal(t, "VIDEO", state["phase"])

	w = s.do(t, "GET", "/api/v1/courses/1/state?student_id=12", student, "")
	assert.Equal(t, http.StatusForbidden, w.Code, "students only see their own state")

	w = s.do(t, "GET", "/api/v1/courses/1/state?student_id=11", instructor, "")
	assert.Equal(t, http.StatusOK, w.Code)

	s.progress.On("EvaluateState", mock.Anything, uint(11), uint(99)).Return(nil, domain.ErrCourseNotFound).Once()
	w = s.do(t, "GET", "/api/v1/courses/99/state", student, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	s.progress.AssertExpectations(t)
}

func TestProgressionEndpoints(t *testing.T) {
	s := newTestServer()

	s.progress.On("CompleteVideo", mock.Anything, uint(11), "v2").Return(domain.ErrPreviousStageIncomplete).Once()
	w := s.do(t, "POST", "/api/v1/videos/v2/complete", student, "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "PREVIOUS_STAGE_INCOMPLETE", decode(t, w)["code"])

	s.progress.On("CompleteVideo", mock.Anything, uint(11), "v1").Return(nil).Once()
	w = s.do(t, "POST", "/api/v1/videos/v1/complete", student, "")
	assert.Equal(t, http.StatusOK, w.Code)

	result := &domain.QuizResult{QuizID: "q1", Score: 67, Passed: false, AttemptNumber: 2}
	s.progress.On("SubmitQuiz", mock.Anything, uint(11), "q1", []string{"a", "b", "x"}).Return(result, nil).Once()
	w = s.do(t, "POST", "/api/v1/quizzes/q1/attempts", student, `{"answers":["a","b","x"]}`)
	assert.Equal(t, http.StatusCreated, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(67), body["score"])
	assert.Equal(t, float64(2), body["attempt_number"])

	s.progress.On("SubmitQuiz", mock.Anything, uint(11), "q1", []string{"a"}).Return(nil, domain.ErrAttemptLimitExceeded).Once()
	w = s.do(t, "POST", "/api/v1/quizzes/q1/attempts", student, `{"answers":["a"]}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, "POST", "/api/v1/videos/v1/complete", instructor, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	s.progress.AssertExpectations(t)
}

func TestCertificates(t *testing.T) {
	s := newTestServer()

	cert := &domain.Certificate{ID: 3, Serial: "TH-abc", StudentID: 11, CourseID: 1, IssuedBy: 1}
	s.certificates.On("IssueCertificate", mock.Anything, *admin, uint(11), uint(1)).Return(cert, nil).Once()
	w := s.do(t, "POST", "/api/v1/admin/certificates", admin, `{"student_id":11,"course_id":1}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "TH-abc", decode(t, w)["serial"])

	w = s.do(t, "POST", "/api/v1/admin/certificates", admin, `{"course_id":1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	s.certificates.On("GetUserCertificates", mock.Anything, uint(11)).Return([]domain.Certificate{*cert}, nil).Once()
	w = s.do(t, "GET", "/api/v1/certificates", student, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["count"])

	doc := io.NopCloser(strings.NewReader("Serial:  TH-abc"))
	s.certificates.On("OpenArtifact", mock.Anything, *student, uint(3)).Return(cert, doc, nil).Once()
	w = s.do(t, "GET", "/api/v1/certificates/3/artifact", student, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "TH-abc")
	assert.Contains(t, w.Header().Get("Content-Disposition"), "certificate-TH-abc")

	s.certificates.On("OpenArtifact", mock.Anything, *student, uint(4)).Return(nil, nil, domain.ErrArtifactNotAvailable).Once()
	w = s.do(t, "GET", "/api/v1/certificates/4/artifact", student, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	s.certificates.AssertExpectations(t)
}

func TestAddStage(t *testing.T) {
	s := newTestServer()

	s.progress.On("AddStage", mock.Anything, *instructor, mock.MatchedBy(func(st *domain.Stage) bool {
		return st.Kind == domain.StageQuiz && len(st.AnswerKey) == 0
	})).Return(domain.NewValidationError("answer_key is required for quizzes")).Once()
	w := s.do(t, "POST", "/api/v1/admin/stages", instructor, `{"course_id":1,"kind":"quiz","title":"Final","order":1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	s.progress.On("AddStage", mock.Anything, *instructor, mock.MatchedBy(func(st *domain.Stage) bool {
		return st.Kind == domain.StagePretest && st.CourseID == 1 && len(st.AnswerKey) == 2
	})).Return(nil).Once()
	w = s.do(t, "POST", "/api/v1/admin/stages", instructor, `{"course_id":1,"kind":"pretest","title":"Pre","answer_key":["a","b"]}`)
	assert.Equal(t, http.StatusCreated, w.Code)

	s.progress.On("AddStage", mock.Anything, *admin, mock.MatchedBy(func(st *domain.Stage) bool {
		return st.CourseID == 2
	})).Return(domain.ErrCourseInProgress).Once()
	w = s.do(t, "POST", "/api/v1/admin/stages", admin, `{"course_id":2,"kind":"video","title":"Extra","order":3}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "COURSE_IN_PROGRESS", decode(t, w)["code"])

	w = s.do(t, "POST", "/api/v1/admin/stages", student, `{"course_id":1,"kind":"video","title":"Intro","order":1}`)
	assert.Equal(t, http.StatusForbidden, w.Code)

	s.progress.AssertExpectations(t)
}

func TestRespondError_HidesDriverDetail(t *testing.T) {
	s := newTestServer()

	s.reservations.On("Reserve", mock.Anything, uint(11), uint(3)).
		Return(nil, fmt.Errorf("%w: %v", domain.ErrTransient, errors.New("ERROR: could not serialize access (SQLSTATE 40001)"))).Once()
	w := s.do(t, "POST", "/api/v1/slots/3/reservations", student, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decode(t, w)
	assert.Equal(t, domain.ErrTransient.Message, body["error"])
	assert.Equal(t, "TRANSIENT", body["code"])
	assert.NotContains(t, w.Body.String(), "SQLSTATE")

	s.reservations.On("Cancel", mock.Anything, *student, uint(5)).
		Return(fmt.Errorf("%w: %v", domain.ErrInvariant, errors.New("CHECK constraint failed: chk_slots_active_count"))).Once()
	w = s.do(t, "DELETE", "/api/v1/reservations/5", student, "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body = decode(t, w)
	assert.Equal(t, domain.ErrInvariant.Message, body["error"])
	assert.Equal(t, "INVARIANT_VIOLATION", body["code"])
	assert.NotContains(t, w.Body.String(), "chk_slots")

	s.reservations.On("Cancel", mock.Anything, *student, uint(6)).Return(errors.New("dial tcp: connection refused")).Once()
	w = s.do(t, "DELETE", "/api/v1/reservations/6", student, "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal server error", decode(t, w)["error"])
}

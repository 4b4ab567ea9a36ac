package http

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"traininghub-backend/internal/domain"
	"traininghub-backend/pkg/calendar"
)

type Handler struct {
	ProgressUsecase    domain.ProgressUsecase
	ReservationUsecase domain.ReservationUsecase
	CertUsecase        domain.CertificateUsecase
	Logger             *slog.Logger
}

func NewHandler(
	pu domain.ProgressUsecase,
	ru domain.ReservationUsecase,
	certu domain.CertificateUsecase,
	logger *slog.Logger,
) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		ProgressUsecase:    pu,
		ReservationUsecase: ru,
		CertUsecase:        certu,
		Logger:             logger,
	}
}

// ========== UTILITY FUNCTIONS ==========

func formatValidationErrors(err error) gin.H {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		details := make(map[string]string)
		for _, f := range ve {
			details[f.Field()] = fmt.Sprintf("Field validation for '%s' failed on the '%s' tag", f.Field(), f.Tag())
		}
		return gin.H{"error": "Validation failed", "code": domain.ErrValidation.Code, "details": details}
	}
	return gin.H{"error": "Invalid request: " + err.Error(), "code": domain.ErrValidation.Code}
}

func statusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindPrecondition:
		return http.StatusConflict
	case domain.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the {"error", "code"} envelope for a usecase error.
// Transient and internal failures only expose the generic message of their
// domain error; driver detail stays in the log.
func (h *Handler) respondError(c *gin.Context, err error) {
	status := statusFor(err)
	msg := err.Error()
	switch kind := domain.KindOf(err); {
	case kind == "":
		h.Logger.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
		msg = "internal server error"
	case kind == domain.KindInvariant:
		h.Logger.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
		msg = domainMessage(err)
	case kind == domain.KindTransient:
		h.Logger.Warn("request failed, retry exhausted", "method", c.Request.Method, "path", c.FullPath(), "error", err)
		msg = domainMessage(err)
	}
	c.JSON(status, gin.H{"error": msg, "code": domain.CodeOf(err)})
}

func domainMessage(err error) string {
	var de *domain.Error
	if errors.As(err, &de) {
		return de.Message
	}
	return err.Error()
}

func getUserID(c *gin.Context) (uint, error) {
	userID, exists := c.Get("user_id")
	if !exists {
		return 0, errors.New("user ID not found in token")
	}
	return userID.(uint), nil
}

func getUserRole(c *gin.Context) (string, error) {
	role, exists := c.Get("role")
	if !exists {
		return "", errors.New("role not found in token")
	}
	return role.(string), nil
}

func getActor(c *gin.Context) (domain.Actor, error) {
	userID, err := getUserID(c)
	if err != nil {
		return domain.Actor{}, err
	}
	role, err := getUserRole(c)
	if err != nil {
		return domain.Actor{}, err
	}
	return domain.Actor{UserID: userID, Role: domain.Role(role)}, nil
}

func parseIDParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name, "code": domain.ErrValidation.Code})
		return 0, false
	}
	return uint(id), true
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ========== PROGRESSION HANDLERS ==========

func (h *Handler) GetCourseState(c *gin.Context) {
	actor, err := getActor(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	courseID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	studentID := actor.UserID
	if raw := c.Query("student_id"); raw != "" {
		if !actor.CanManageSlots() {
			h.respondError(c, domain.ErrForbidden)
			return
		}
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil || id == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid student_id", "code": domain.ErrValidation.Code})
			return
		}
		studentID = uint(id)
	}

	progress, err := h.ProgressUsecase.EvaluateState(c.Request.Context(), studentID, courseID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, progress)
}

func (h *Handler) CompleteVideo(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	videoID := c.Param("id")
	if err := h.ProgressUsecase.CompleteVideo(c.Request.Context(), userID, videoID); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Video marked as completed", "video_id": videoID})
}

func (h *Handler) SubmitQuiz(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	var req struct {
		Answers []string `json:"answers" binding:"max=500"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, formatValidationErrors(err))
		return
	}

	result, err := h.ProgressUsecase.SubmitQuiz(c.Request.Context(), userID, c.Param("id"), req.Answers)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

// ========== SLOT HANDLERS ==========

func (h *Handler) CreateSlot(c *gin.Context) {
	actor, err := getActor(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	var spec domain.SlotSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		c.JSON(http.StatusBadRequest, formatValidationErrors(err))
		return
	}

	slot, err := h.ReservationUsecase.CreateSlot(c.Request.Context(), actor, spec)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, slot)
}

func (h *Handler) CreateRecurringSlots(c *gin.Context) {
	actor, err := getActor(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	var spec domain.RecurringSlotSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		c.JSON(http.StatusBadRequest, formatValidationErrors(err))
		return
	}

	result, err := h.ReservationUsecase.CreateRecurringSlots(c.Request.Context(), actor, spec)
	if err != nil {
		h.respondError(c, err)
		return
	}

	status := http.StatusCreated
	if len(result.Created) == 0 {
		status = http.StatusOK
	}
	c.JSON(status, result)
}

func (h *Handler) ListAvailability(c *gin.Context) {
	var q struct {
		Class domain.ResourceClass `form:"class" binding:"required,oneof=exam room"`
		From  time.Time            `form:"from" binding:"required" time_format:"2006-01-02T15:04:05Z07:00"`
		To    time.Time            `form:"to" binding:"required" time_format:"2006-01-02T15:04:05Z07:00"`
	}
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, formatValidationErrors(err))
		return
	}

	slots, err := h.ReservationUsecase.ListAvailability(c.Request.Context(), q.Class, calendar.Range{Start: q.From, End: q.To})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"slots": slots,
		"count": len(slots),
	})
}

// ========== RESERVATION HANDLERS ==========

func (h *Handler) Reserve(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	slotID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	reg, err := h.ReservationUsecase.Reserve(c.Request.Context(), userID, slotID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, reg)
}

func (h *Handler) CancelReservation(c *gin.Context) {
	actor, err := getActor(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	regID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	if err := h.ReservationUsecase.Cancel(c.Request.Context(), actor, regID); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Reservation cancelled successfully"})
}

func (h *Handler) ListRegistrations(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	regs, err := h.ReservationUsecase.ListRegistrations(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"registrations": regs,
		"count":         len(regs),
	})
}

// ========== CERTIFICATE HANDLERS ==========

func (h *Handler) GetUserCertificates(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	certs, err := h.CertUsecase.GetUserCertificates(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"certificates": certs,
		"count":        len(certs),
	})
}

func (h *Handler) IssueCertificate(c *gin.Context) {
	actor, err := getActor(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	var req struct {
		StudentID uint `json:"student_id" binding:"required"`
		CourseID  uint `json:"course_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, formatValidationErrors(err))
		return
	}

	cert, err := h.CertUsecase.IssueCertificate(c.Request.Context(), actor, req.StudentID, req.CourseID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, cert)
}

// ========== CATALOG HANDLERS ==========

// AddStage appends a stage document to a course outline.
func (h *Handler) AddStage(c *gin.Context) {
	actor, err := getActor(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	var req struct {
		CourseID     uint             `json:"course_id" binding:"required"`
		Kind         domain.StageKind `json:"kind" binding:"required,oneof=pretest video quiz"`
		Title        string           `json:"title" binding:"required,max=200"`
		Order        int              `json:"order" binding:"min=0"`
		PassingScore int              `json:"passing_score" binding:"min=0,max=100"`
		AllowRetake  bool             `json:"allow_retake"`
		AnswerKey    []string         `json:"answer_key"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, formatValidationErrors(err))
		return
	}

	stage := &domain.Stage{
		CourseID:     req.CourseID,
		Kind:         req.Kind,
		Title:        req.Title,
		Order:        req.Order,
		PassingScore: req.PassingScore,
		AllowRetake:  req.AllowRetake,
		AnswerKey:    req.AnswerKey,
	}
	if err := h.ProgressUsecase.AddStage(c.Request.Context(), actor, stage); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, stage)
}

package http

import (
	"github.com/gin-gonic/gin"
)

func InitRouter(handler *Handler, jwtSecret string) *gin.Engine {
	r := gin.Default()

	r.GET("/health", handler.Health)

	api := r.Group("/api/v1")

	// Protected Routes (Student, Instructor, Admin)
	protected := api.Group("/")
	protected.Use(AuthMiddleware(jwtSecret))
	{
		protected.GET("/courses/:id/state", handler.GetCourseState)
		protected.GET("/slots", handler.ListAvailability)
		protected.DELETE("/reservations/:id", handler.CancelReservation)
		protected.GET("/reservations", handler.ListRegistrations)
		protected.GET("/certificates", handler.GetUserCertificates)
		protected.GET("/certificates/:id/artifact", handler.DownloadCertificate)
	}

	// Student Only
	student := api.Group("/")
	student.Use(AuthMiddleware(jwtSecret, "student"))
	{
		student.POST("/videos/:id/complete", handler.CompleteVideo)
		student.POST("/quizzes/:id/attempts", handler.SubmitQuiz)
		student.POST("/slots/:id/reservations", handler.Reserve)
	}

	// Instructor & Admin Only
	instructor := api.Group("/")
	instructor.Use(AuthMiddleware(jwtSecret, "instructor", "admin"))
	{
		instructor.POST("/slots", handler.CreateSlot)
		instructor.POST("/slots/recurring", handler.CreateRecurringSlots)
		instructor.POST("/admin/stages", handler.AddStage)
	}

	// Admin Only
	admin := api.Group("/admin")
	admin.Use(AuthMiddleware(jwtSecret), RequireRole("admin"))
	{
		admin.POST("/certificates", handler.IssueCertificate)
	}

	return r
}

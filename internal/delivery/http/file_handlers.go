package http

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// DownloadCertificate streams the stored completion document of a
// certificate. Only the holder and admins get it.
func (h *Handler) DownloadCertificate(c *gin.Context) {
	actor, err := getActor(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	certID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	cert, stream, err := h.CertUsecase.OpenArtifact(c.Request.Context(), actor, certID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	defer stream.Close()

	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"certificate-%s.txt\"", cert.Serial))
	c.Header("Access-Control-Expose-Headers", "Content-Disposition")

	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, stream); err != nil {
		// headers are already sent
		h.Logger.Warn("certificate stream interrupted", "certificate_id", cert.ID, "error", err)
	}
}

package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"

	"traininghub-backend/internal/domain"
)

// ========== CERTIFICATE USECASE ==========

type certificateUsecase struct {
	store     domain.Store
	catalog   domain.CourseCatalog
	artifacts domain.ArtifactStore
	publisher domain.EventPublisher
	opts      Options
}

// NewCertificateUsecase builds the issuer. artifacts may be nil, in which
// case no completion document is stored.
func NewCertificateUsecase(
	store domain.Store,
	catalog domain.CourseCatalog,
	artifacts domain.ArtifactStore,
	publisher domain.EventPublisher,
	opts Options,
) domain.CertificateUsecase {
	return &certificateUsecase{
		store:     store,
		catalog:   catalog,
		artifacts: artifacts,
		publisher: publisher,
		opts:      opts.withDefaults(),
	}
}

func newSerial() string {
	return "TH-" + uuid.NewString()
}

// OnStageAdvanced issues the certificate once the course is complete. It is
// safe to call any number of times, concurrently, from any trigger. It returns
// nil, nil while the course is still in progress.
func (uc *certificateUsecase) OnStageAdvanced(ctx context.Context, studentID, courseID uint) (*domain.Certificate, error) {
	existing, err := uc.store.Certificates().GetByStudentAndCourse(ctx, studentID, courseID)
	if err != nil || existing != nil {
		return existing, err
	}

	outline, err := uc.catalog.GetOutline(ctx, courseID)
	if err != nil {
		return nil, err
	}
	facts, err := uc.store.Progress().GetFacts(ctx, studentID, courseID)
	if err != nil {
		return nil, err
	}
	if !domain.DeriveState(studentID, outline, facts).State.IsComplete() {
		return nil, nil
	}
	return uc.issue(ctx, studentID, courseID, 0)
}

// IssueCertificate is the admin override. It skips the completion check and
// is idempotent like OnStageAdvanced.
func (uc *certificateUsecase) IssueCertificate(ctx context.Context, actor domain.Actor, studentID, courseID uint) (*domain.Certificate, error) {
	if !actor.IsAdmin() {
		return nil, domain.ErrForbidden
	}
	if studentID == 0 || courseID == 0 {
		return nil, domain.NewValidationError("student_id and course_id are required")
	}

	existing, err := uc.store.Certificates().GetByStudentAndCourse(ctx, studentID, courseID)
	if err != nil || existing != nil {
		return existing, err
	}
	if _, err := uc.catalog.GetOutline(ctx, courseID); err != nil {
		return nil, err
	}
	return uc.issue(ctx, studentID, courseID, actor.UserID)
}

func (uc *certificateUsecase) issue(ctx context.Context, studentID, courseID, issuedBy uint) (*domain.Certificate, error) {
	cert := &domain.Certificate{}
	err := runAtomic(ctx, uc.store, uc.opts, func(tx domain.Store) error {
		*cert = domain.Certificate{
			Serial:    newSerial(),
			StudentID: studentID,
			CourseID:  courseID,
			IssuedBy:  issuedBy,
			IssuedAt:  uc.opts.Clock(),
		}
		return tx.Certificates().Create(ctx, cert)
	})
	if errors.Is(err, domain.ErrCertificateExists) {
		// lost the race to a concurrent trigger
		existing, err := uc.store.Certificates().GetByStudentAndCourse(ctx, studentID, courseID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, fmt.Errorf("%w: certificate conflict without a row", domain.ErrInvariant)
		}
		return existing, nil
	}
	if err != nil {
		return nil, err
	}

	uc.opts.Logger.Info("certificate issued", "certificate_id", cert.ID, "serial", cert.Serial, "student_id", studentID, "course_id", courseID, "issued_by", issuedBy)
	uc.storeArtifact(ctx, cert)
	publish(ctx, uc.publisher, uc.opts.Logger, domain.Event{
		Type:          domain.EventCertificateIssued,
		StudentID:     studentID,
		CourseID:      courseID,
		CertificateID: cert.ID,
		Serial:        cert.Serial,
		OccurredAt:    cert.IssuedAt,
	})
	return cert, nil
}

func (uc *certificateUsecase) storeArtifact(ctx context.Context, cert *domain.Certificate) {
	if uc.artifacts == nil {
		return
	}
	artifactID, err := uc.artifacts.SaveCertificate(ctx, cert)
	if err != nil {
		uc.opts.Logger.Warn("certificate document not stored", "certificate_id", cert.ID, "error", err)
		return
	}
	if err := uc.store.Certificates().SetArtifact(ctx, cert.ID, artifactID); err != nil {
		uc.opts.Logger.Warn("certificate document not linked", "certificate_id", cert.ID, "artifact_id", artifactID, "error", err)
		return
	}
	cert.ArtifactID = artifactID
}

func (uc *certificateUsecase) GetUserCertificates(ctx context.Context, studentID uint) ([]domain.Certificate, error) {
	return uc.store.Certificates().GetByStudentID(ctx, studentID)
}

// OpenArtifact streams the stored completion document. Only the holder and
// admins may read it; the caller closes the reader.
func (uc *certificateUsecase) OpenArtifact(ctx context.Context, actor domain.Actor, certificateID uint) (*domain.Certificate, io.ReadCloser, error) {
	cert, err := uc.store.Certificates().GetByID(ctx, certificateID)
	if err != nil {
		return nil, nil, err
	}
	if cert.StudentID != actor.UserID && !actor.IsAdmin() {
		return nil, nil, domain.ErrForbidden
	}
	if uc.artifacts == nil || cert.ArtifactID == "" {
		return nil, nil, domain.ErrArtifactNotAvailable
	}
	rc, err := uc.artifacts.OpenCertificate(ctx, cert.ArtifactID)
	if err != nil {
		return nil, nil, err
	}
	return cert, rc, nil
}

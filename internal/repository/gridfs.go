package repository

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"

	"traininghub-backend/internal/domain"
)

const certificateBucket = "certificates"

// certificateArtifactRepo shares one bucket between requests, so nothing here
// may mutate bucket state such as its read and write deadlines.
type certificateArtifactRepo struct {
	bucket *gridfs.Bucket
}

// NewCertificateArtifactRepository stores rendered certificates in GridFS.
func NewCertificateArtifactRepository(db *mongo.Database) (domain.ArtifactStore, error) {
	bucket, err := gridfs.NewBucket(db, options.GridFSBucket().SetName(certificateBucket))
	if err != nil {
		return nil, fmt.Errorf("failed to create GridFS bucket: %w", err)
	}
	return &certificateArtifactRepo{bucket: bucket}, nil
}

func (r *certificateArtifactRepo) SaveCertificate(ctx context.Context, cert *domain.Certificate) (string, error) {
	uploadOpts := options.GridFSUpload().SetMetadata(bson.M{
		"certificate_id": cert.ID,
		"serial":         cert.Serial,
		"student_id":     cert.StudentID,
		"course_id":      cert.CourseID,
		"content_type":   "text/plain; charset=utf-8",
	})

	filename := fmt.Sprintf("certificate_%s.txt", cert.Serial)
	objectID, err := r.bucket.UploadFromStream(filename, bytes.NewReader(RenderCertificate(cert)), uploadOpts)
	if err != nil {
		return "", fmt.Errorf("failed to upload certificate: %w", err)
	}
	return objectID.Hex(), nil
}

func (r *certificateArtifactRepo) OpenCertificate(ctx context.Context, artifactID string) (io.ReadCloser, error) {
	objectID, err := primitive.ObjectIDFromHex(artifactID)
	if err != nil {
		return nil, domain.ErrArtifactNotAvailable
	}

	stream, err := r.bucket.OpenDownloadStream(objectID)
	if errors.Is(err, gridfs.ErrFileNotFound) {
		return nil, domain.ErrArtifactNotAvailable
	}
	if err != nil {
		return nil, err
	}
	return stream, nil
}

// RenderCertificate produces the stored completion document.
func RenderCertificate(cert *domain.Certificate) []byte {
	issuer := "system"
	if !cert.IssuedBySystem() {
		issuer = fmt.Sprintf("user %d", cert.IssuedBy)
	}

	var b strings.Builder
	b.WriteString("CERTIFICATE OF COMPLETION\n\n")
	fmt.Fprintf(&b, "Serial:  %s\n", cert.Serial)
	fmt.Fprintf(&b, "Student: %d\n", cert.StudentID)
	fmt.Fprintf(&b, "Course:  %d\n", cert.CourseID)
	fmt.Fprintf(&b, "Issued:  %s\n", cert.IssuedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Issuer:  %s\n", issuer)
	return []byte(b.String())
}

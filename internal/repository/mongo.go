package repository

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"traininghub-backend/internal/domain"
)

const stagesCollection = "stages"

type catalogRepo struct {
	db *mongo.Database
}

func NewCourseCatalog(db *mongo.Database) domain.CourseCatalog {
	return &catalogRepo{db}
}

// EnsureCatalogIndexes creates the (course_id, order) lookup index.
func EnsureCatalogIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(stagesCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "course_id", Value: 1}, {Key: "kind", Value: 1}, {Key: "order", Value: 1}},
	})
	return err
}

func (r *catalogRepo) AddStage(ctx context.Context, stage *domain.Stage) error {
	if stage.ID == "" {
		stage.ID = primitive.NewObjectID().Hex()
	}
	if stage.CreatedAt.IsZero() {
		stage.CreatedAt = time.Now()
	}
	_, err := r.db.Collection(stagesCollection).InsertOne(ctx, stage)
	return err
}

func (r *catalogRepo) GetOutline(ctx context.Context, courseID uint) (*domain.CourseOutline, error) {
	opts := options.Find().SetSort(bson.D{{Key: "order", Value: 1}, {Key: "created_at", Value: 1}})
	cursor, err := r.db.Collection(stagesCollection).Find(ctx, bson.M{"course_id": courseID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var stages []domain.Stage
	if err := cursor.All(ctx, &stages); err != nil {
		return nil, err
	}
	if len(stages) == 0 {
		return nil, domain.ErrCourseNotFound
	}
	return domain.BuildOutline(courseID, stages), nil
}

func (r *catalogRepo) GetVideo(ctx context.Context, videoID string) (*domain.Video, error) {
	stage, err := r.findStage(ctx, bson.M{"_id": videoID, "kind": domain.StageVideo})
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrVideoNotFound
	}
	if err != nil {
		return nil, err
	}
	video := stage.AsVideo()
	return &video, nil
}

func (r *catalogRepo) GetQuiz(ctx context.Context, quizID string) (*domain.Quiz, error) {
	filter := bson.M{"_id": quizID, "kind": bson.M{"$in": []domain.StageKind{domain.StageQuiz, domain.StagePretest}}}
	stage, err := r.findStage(ctx, filter)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrQuizNotFound
	}
	if err != nil {
		return nil, err
	}
	quiz := stage.AsQuiz()
	return &quiz, nil
}

func (r *catalogRepo) findStage(ctx context.Context, filter bson.M) (*domain.Stage, error) {
	var stage domain.Stage
	if err := r.db.Collection(stagesCollection).FindOne(ctx, filter).Decode(&stage); err != nil {
		return nil, err
	}
	return &stage, nil
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/joseph-ayodele/imagetext/constants"
	"github.com/joseph-ayodele/imagetext/internal/common"
	"github.com/joseph-ayodele/imagetext/internal/entity"
)

const mongoJobsCollection = "jobs"

type mongoJob struct {
	JobID         string    `bson:"_id"`
	Status        string    `bson:"status"`
	OriginalKey   string    `bson:"original_s3_key"`
	DerivedKey    *string   `bson:"preprocessed_s3_key,omitempty"`
	ExtractedText *string   `bson:"extracted_text,omitempty"`
	ErrorMessage  *string   `bson:"error_message,omitempty"`
	CreatedAt     time.Time `bson:"timestamp"`
	UpdatedAt     time.Time `bson:"updated_at"`
}

func (m mongoJob) toEntity() *entity.Job {
	return &entity.Job{
		ID:            m.JobID,
		Status:        constants.JobStatus(m.Status),
		OriginalKey:   m.OriginalKey,
		DerivedKey:    m.DerivedKey,
		ExtractedText: m.ExtractedText,
		ErrorMessage:  m.ErrorMessage,
		CreatedAt:     m.CreatedAt.UTC(),
		UpdatedAt:     m.UpdatedAt.UTC(),
	}
}

// ConnectMongo establishes a connection to MongoDB and verifies it with a ping.
func ConnectMongo(ctx context.Context, uri string, logger *slog.Logger) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to create MongoDB client: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	logger.Info("connected to mongodb")
	return client, nil
}

type mongoJobRepo struct {
	col *mongo.Collection
	log *slog.Logger
}

// NewMongoJobRepository returns a JobRepository over db.jobs and ensures the
// index used by stale scans.
func NewMongoJobRepository(ctx context.Context, db *mongo.Database, log *slog.Logger) (JobRepository, error) {
	if log == nil {
		log = slog.Default()
	}
	col := db.Collection(mongoJobsCollection)
	_, err := col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "status", Value: 1}, {Key: "updated_at", Value: 1}},
	})
	if err != nil {
		return nil, fmt.Errorf("create jobs index: %w", err)
	}
	return &mongoJobRepo{col: col, log: log}, nil
}

func (r *mongoJobRepo) Create(ctx context.Context, job *entity.Job) error {
	_, err := r.col.InsertOne(ctx, mongoJob{
		JobID:       job.ID,
		Status:      string(job.Status),
		OriginalKey: job.OriginalKey,
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
	})
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("create job %s: %w", job.ID, common.ErrJobExists)
	}
	if err != nil {
		r.log.Error("job create failed", "job_id", job.ID, "err", err)
		return fmt.Errorf("create job %s: %w", job.ID, err)
	}
	return nil
}

func (r *mongoJobRepo) Get(ctx context.Context, jobID string) (*entity.Job, error) {
	var m mongoJob
	err := r.col.FindOne(ctx, bson.M{"_id": jobID}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("get job %s: %w", jobID, common.ErrJobNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return m.toEntity(), nil
}

func (r *mongoJobRepo) Complete(ctx context.Context, jobID string, c entity.Completion) error {
	return r.transition(ctx, jobID, constants.JobStatusCompleted, bson.M{
		"status":              string(constants.JobStatusCompleted),
		"extracted_text":      c.ExtractedText,
		"preprocessed_s3_key": c.DerivedKey,
		"updated_at":          c.At,
	})
}

func (r *mongoJobRepo) Fail(ctx context.Context, jobID string, f entity.Failure) error {
	return r.transition(ctx, jobID, constants.JobStatusFailed, bson.M{
		"status":        string(constants.JobStatusFailed),
		"error_message": f.Message,
		"updated_at":    f.At,
	})
}

func (r *mongoJobRepo) transition(ctx context.Context, jobID string, to constants.JobStatus, set bson.M) error {
	res, err := r.col.UpdateOne(ctx,
		bson.M{"_id": jobID, "status": string(constants.JobStatusPending)},
		bson.M{"$set": set},
	)
	if err != nil {
		r.log.Error("job transition failed", "job_id", jobID, "to", to, "err", err)
		return fmt.Errorf("update job %s: %w", jobID, err)
	}
	if res.MatchedCount == 1 {
		r.log.Info("job transitioned", "job_id", jobID, "to", to)
		return nil
	}
	if _, err := r.Get(ctx, jobID); err != nil {
		return err
	}
	return fmt.Errorf("update job %s to %s: %w", jobID, to, common.ErrConflict)
}

func (r *mongoJobRepo) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]*entity.Job, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := r.col.Find(ctx, bson.M{
		"status":     string(constants.JobStatusPending),
		"updated_at": bson.M{"$lt": olderThan},
	}, opts)
	if err != nil {
		return nil, fmt.Errorf("list stale jobs: %w", err)
	}
	defer cur.Close(ctx)
	var docs []mongoJob
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode stale jobs: %w", err)
	}
	out := make([]*entity.Job, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toEntity())
	}
	return out, nil
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"netbrain/internal/constants"
	apperrors "netbrain/pkg/errors"
)

// PayloadRepository keeps the documents the benchmark pipeline writes along
// the way: incoming payloads, submitted benchmarks and task logs.
type PayloadRepository struct {
	incoming   *mongo.Collection
	benchmarks *mongo.Collection
	taskLogs   *mongo.Collection
}

func NewPayloadRepository(db *mongo.Database) *PayloadRepository {
	return &PayloadRepository{
		incoming:   db.Collection(constants.CollectionIncomingPayload),
		benchmarks: db.Collection(constants.CollectionBenchmarkPayload),
		taskLogs:   db.Collection(constants.CollectionTaskLog),
	}
}

func (r *PayloadRepository) InsertIncoming(ctx context.Context, p *IncomingPayload) error {
	prepare(&p.ID, &p.CreatedTime)
	if _, err := r.incoming.InsertOne(ctx, p); err != nil {
		return fmt.Errorf("failed to insert incoming payload: %w", err)
	}
	return nil
}

func (r *PayloadRepository) SetIncomingStatus(ctx context.Context, id, status string) error {
	return setFields(ctx, r.incoming, id, bson.M{"status": status})
}

func (r *PayloadRepository) InsertBenchmark(ctx context.Context, p *BenchmarkPayload) error {
	prepare(&p.ID, &p.CreatedTime)
	if _, err := r.benchmarks.InsertOne(ctx, p); err != nil {
		return fmt.Errorf("failed to insert benchmark payload: %w", err)
	}
	return nil
}

func (r *PayloadRepository) SetBenchmarkStatus(ctx context.Context, id, status string) error {
	return setFields(ctx, r.benchmarks, id, bson.M{"status": status})
}

func (r *PayloadRepository) InsertTaskLog(ctx context.Context, l *TaskLog) error {
	prepare(&l.ID, &l.CreatedTime)
	if _, err := r.taskLogs.InsertOne(ctx, l); err != nil {
		return fmt.Errorf("failed to insert task log: %w", err)
	}
	return nil
}

func (r *PayloadRepository) GetTaskLog(ctx context.Context, id string) (*TaskLog, error) {
	var l TaskLog
	err := r.taskLogs.FindOne(ctx, bson.M{"_id": id}).Decode(&l)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperrors.ErrNotFound.WithDetail("task_log_id", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task log: %w", err)
	}
	return &l, nil
}

// FindTaskLogByTaskName returns the newest log for a task name.
func (r *PayloadRepository) FindTaskLogByTaskName(ctx context.Context, taskName string) (*TaskLog, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "created_datetime", Value: -1}})

	var l TaskLog
	err := r.taskLogs.FindOne(ctx, bson.M{"task_name": taskName}, opts).Decode(&l)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperrors.ErrNotFound.WithDetail("task_name", taskName)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find task log: %w", err)
	}
	return &l, nil
}

func (r *PayloadRepository) SetTaskLogStatus(ctx context.Context, id, status string) error {
	return setFields(ctx, r.taskLogs, id, bson.M{"status": status})
}

func (r *PayloadRepository) SetTaskLogContent(ctx context.Context, id, content, status string) error {
	return setFields(ctx, r.taskLogs, id, bson.M{"content": content, "status": status})
}

func prepare(id *string, created *time.Time) {
	if *id == "" {
		*id = uuid.New().String()
	}
	if created.IsZero() {
		*created = time.Now().UTC()
	}
}

func setFields(ctx context.Context, c *mongo.Collection, id string, fields bson.M) error {
	result, err := c.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": fields})
	if err != nil {
		return fmt.Errorf("failed to update %s %s: %w", c.Name(), id, err)
	}
	if result.MatchedCount == 0 {
		return apperrors.ErrNotFound.WithDetail("collection", c.Name()).WithDetail("id", id)
	}
	return nil
}

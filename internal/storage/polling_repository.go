package storage

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"netbrain/internal/constants"
	"netbrain/internal/polling"
	apperrors "netbrain/pkg/errors"
)

// updatableFields are the polling entry fields other components may set.
var updatableFields = map[string]struct{}{
	polling.FieldLastSync:     {},
	polling.FieldLastSchedule: {},
	polling.FieldInterval:     {},
}

// PollingRepository stores polling entries. It is the polling manager's
// backing store.
type PollingRepository struct {
	collection *mongo.Collection
}

func NewPollingRepository(db *mongo.Database) *PollingRepository {
	return &PollingRepository{
		collection: db.Collection(constants.CollectionPollingEntries),
	}
}

func (r *PollingRepository) CreateEntry(ctx context.Context, rec polling.Record) error {
	if rec.ID == "" {
		return apperrors.ErrValidation.WithDetail("reason", "polling entry id is required")
	}

	_, err := r.collection.InsertOne(ctx, rec)
	if mongo.IsDuplicateKeyError(err) {
		return apperrors.ErrValidation.WithCause(err).WithDetail("entry_id", rec.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to create polling entry: %w", err)
	}
	return nil
}

func (r *PollingRepository) ListAssignments(ctx context.Context) ([]polling.Record, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})

	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list polling entries: %w", err)
	}
	defer cursor.Close(ctx)

	var records []polling.Record
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode polling entries: %w", err)
	}
	return records, nil
}

func (r *PollingRepository) GetAssignment(ctx context.Context, id string) (polling.Record, error) {
	var rec polling.Record
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return polling.Record{}, apperrors.ErrNotFound.WithDetail("entry_id", id)
	}
	if err != nil {
		return polling.Record{}, fmt.Errorf("failed to get polling entry %s: %w", id, err)
	}
	return rec, nil
}

func (r *PollingRepository) UpdateAssignmentField(ctx context.Context, id, field string, value interface{}) error {
	if _, ok := updatableFields[field]; !ok {
		return apperrors.ErrValidation.WithDetail("field", field)
	}

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{field: value}})
	if err != nil {
		return fmt.Errorf("failed to update %s of polling entry %s: %w", field, id, err)
	}
	if result.MatchedCount == 0 {
		return apperrors.ErrNotFound.WithDetail("entry_id", id)
	}
	return nil
}

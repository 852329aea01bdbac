package migrations

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"netbrain/internal/constants"
)

var indexes = map[string][]mongo.IndexModel{
	constants.CollectionPollingEntries: {
		{
			Keys:    bson.D{{Key: "domain", Value: 1}, {Key: "campaign", Value: 1}},
			Options: options.Index().SetName("idx_polling_entries_domain_campaign"),
		},
	},
	constants.CollectionIncomingPayload: {
		{
			Keys:    bson.D{{Key: "cid", Value: 1}},
			Options: options.Index().SetName("idx_incoming_payload_cid"),
		},
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "created_datetime", Value: -1}},
			Options: options.Index().SetName("idx_incoming_payload_status_created"),
		},
	},
	constants.CollectionBenchmarkPayload: {
		{
			Keys:    bson.D{{Key: "parent_id", Value: 1}},
			Options: options.Index().SetName("idx_benchmark_payload_parent_id"),
		},
	},
	constants.CollectionTaskLog: {
		{
			Keys:    bson.D{{Key: "task_name", Value: 1}, {Key: "created_datetime", Value: -1}},
			Options: options.Index().SetName("idx_task_log_task_name_created"),
		},
		{
			Keys:    bson.D{{Key: "status", Value: 1}},
			Options: options.Index().SetName("idx_task_log_status"),
		},
	},
}

// EnsureMongoIndexes creates the indexes of every collection the service
// writes. Collections themselves are created on first insert.
func EnsureMongoIndexes(ctx context.Context, db *mongo.Database) error {
	for name, models := range indexes {
		_, err := db.Collection(name).Indexes().CreateMany(ctx, models)
		if err != nil && !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("failed to create indexes on %s: %w", name, err)
		}
	}
	return nil
}

// IndexNames lists the index names expected on a collection.
func IndexNames(collection string) []string {
	var names []string
	for _, m := range indexes[collection] {
		if m.Options != nil && m.Options.Name != nil {
			names = append(names, *m.Options.Name)
		}
	}
	return names
}

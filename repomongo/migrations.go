package repomongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var ErrMigrationFailed = errors.New("migration failed")

type migration struct {
	run  func(ctx context.Context, db *mongo.Database) error
	name string
}

// Migration describes migration that is made in the repository database.
type Migration struct {
	Name string `json:"name" bson:"name"`
}

func uniqueIndex(collection string, keys bson.D) func(ctx context.Context, db *mongo.Database) error {
	return func(ctx context.Context, db *mongo.Database) error {
		_, err := db.Collection(collection).
			Indexes().
			CreateOne(ctx, mongo.IndexModel{
				Keys:    keys,
				Options: options.Index().SetUnique(true),
			})
		return err
	}
}

var migrations = []migration{
	{
		name: "index_name_migrations",
		run:  uniqueIndex(migrationsCollection, bson.D{{Key: "name", Value: 1}}),
	},
	{
		name: "index_batch_invoice_audit_records",
		run:  uniqueIndex(auditRecordsCollection, bson.D{{Key: "batch_id", Value: 1}, {Key: "invoice_index", Value: 1}}),
	},
	{
		name: "index_essential_hash_audit_records",
		run: func(ctx context.Context, db *mongo.Database) error {
			_, err := db.Collection(auditRecordsCollection).
				Indexes().
				CreateOne(ctx, mongo.IndexModel{
					Keys: bson.M{"essential_hash": 1},
				})
			return err
		},
	},
	{
		name: "index_level_created_at_logs",
		run: func(ctx context.Context, db *mongo.Database) error {
			_, err := db.Collection(logsCollection).
				Indexes().
				CreateOne(ctx, mongo.IndexModel{
					Keys: bson.D{{Key: "level", Value: 1}, {Key: "created_at", Value: -1}},
				})
			return err
		},
	},
}

func (c DataBase) migrated(ctx context.Context, name string) (bool, error) {
	err := c.inner.Collection(migrationsCollection).FindOne(ctx, bson.M{"name": name}).Err()
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return false, nil
	default:
		return false, err
	}
}

func (c DataBase) saveMigrated(ctx context.Context, name string) error {
	_, err := c.inner.Collection(migrationsCollection).InsertOne(ctx, Migration{Name: name})
	return err
}

// RunMigration runs all migrations that were not applied yet, in order.
func (c DataBase) RunMigration(ctx context.Context) error {
	for _, m := range migrations {
		done, err := c.migrated(ctx, m.name)
		if err != nil {
			return errors.Join(ErrMigrationFailed, err)
		}
		if done {
			continue
		}
		if err := m.run(ctx, &c.inner); err != nil {
			return errors.Join(ErrMigrationFailed, fmt.Errorf("migration %s", m.name), err)
		}
		if err := c.saveMigrated(ctx, m.name); err != nil {
			return errors.Join(ErrMigrationFailed, err)
		}
	}
	return nil
}

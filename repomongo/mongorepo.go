package repomongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	migrationsCollection      = "migrations"
	auditRecordsCollection    = "auditRecords"
	auditRecordKeysCollection = "auditRecordKeys"
	logsCollection            = "logs"
)

// DBConfig contains configuration for the document database.
type DBConfig struct {
	ConnStr      string `yaml:"conn_str"`
	DatabaseName string `yaml:"database_name"`
}

// DataBase provides document database access for audit records and logs.
type DataBase struct {
	inner mongo.Database
}

// Connect creates new connection to the repository and returns pointer to the DataBase.
func Connect(ctx context.Context, cfg DBConfig) (*DataBase, error) {
	cli, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.ConnStr))
	if err != nil {
		return nil, err
	}

	ctxx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()
	if err := cli.Ping(ctxx, readpref.Primary()); err != nil {
		return nil, err
	}

	return &DataBase{*cli.Database(cfg.DatabaseName)}, nil
}

// Disconnect disconnects user from database
func (c DataBase) Disconnect(ctx context.Context) error {
	return c.inner.Client().Disconnect(ctx)
}

// Ping checks if the connection to the database is still alive.
func (c DataBase) Ping(ctx context.Context) error {
	return c.inner.Client().Ping(ctx, readpref.Primary())
}

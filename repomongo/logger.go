package repomongo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bartossh/Settlementis/logger"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Write writes log to the database.
// p is a marshaled logger.Log.
func (db DataBase) Write(p []byte) (n int, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	var l logger.Log
	if err := json.Unmarshal(p, &l); err != nil {
		return 0, err
	}
	if l.ID == nil {
		l.ID = primitive.NewObjectID()
	}
	if _, err := db.inner.Collection(logsCollection).InsertOne(ctx, l); err != nil {
		return 0, err
	}
	return len(p), nil
}

package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bartossh/Settlementis/logger"
)

// Write writes log to the database.
// p is a marshaled logger.Log.
func (db DataBase) Write(p []byte) (n int, err error) {
	var l logger.Log
	if err := json.Unmarshal(p, &l); err != nil {
		return 0, errors.Join(ErrUnmarshalFailed, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	_, err = db.inner.ExecContext(ctx,
		"INSERT INTO logs (level, service, msg, created_at) VALUES ($1, $2, $3, $4)",
		l.Level, l.Service, l.Msg, l.CreatedAt.UnixMicro(),
	)
	if err != nil {
		return 0, errors.Join(ErrInsertFailed, err)
	}
	return len(p), nil
}

package logging

import (
	"encoding/json"
	"io"
	"time"

	"github.com/bartossh/Settlementis/logger"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	levelDebug = "debug"
	levelInfo  = "info"
	levelWarn  = "warn"
	levelError = "error"
	levelFatal = "fatal"
)

// Helper helps with writing logs to io.Writers.
// Helper implements logger.Logger interface.
// Writing is done concurrently with out blocking the current thread.
type Helper struct {
	callOnErr   func(error)
	callOnFatal func(error)
	service     string
	writers     []io.Writer
}

// New creates new Helper.
// callOnFatal is called after the fatal log is written, it may be nil.
func New(service string, callOnErr, callOnFatal func(error), writers ...io.Writer) Helper {
	if callOnErr == nil {
		callOnErr = func(error) {}
	}
	return Helper{callOnErr: callOnErr, callOnFatal: callOnFatal, service: service, writers: writers}
}

// Debug writes debug log.
func (h Helper) Debug(msg string) {
	h.write(h.log(levelDebug, msg), nil)
}

// Info writes info log.
func (h Helper) Info(msg string) {
	h.write(h.log(levelInfo, msg), nil)
}

// Warn writes warning log.
func (h Helper) Warn(msg string) {
	h.write(h.log(levelWarn, msg), nil)
}

// Error writes error log.
func (h Helper) Error(msg string) {
	h.write(h.log(levelError, msg), nil)
}

// Fatal writes fatal log and calls callOnFatal when all writers are done.
func (h Helper) Fatal(msg string) {
	done := make(chan struct{})
	h.write(h.log(levelFatal, msg), done)
	<-done
	if h.callOnFatal != nil {
		h.callOnFatal(fatalError(msg))
	}
}

func (h Helper) log(level, msg string) *logger.Log {
	return &logger.Log{
		ID:        primitive.NewObjectID(),
		Level:     level,
		Msg:       msg,
		CreatedAt: time.Now(),
		Service:   h.service,
	}
}

func (h Helper) write(l *logger.Log, done chan<- struct{}) {
	go func() {
		if done != nil {
			defer close(done)
		}
		raw, err := json.Marshal(l)
		if err != nil {
			h.callOnErr(err)
			return
		}
		for _, w := range h.writers {
			if _, err := w.Write(raw); err != nil {
				h.callOnErr(err)
			}
		}
	}()
}

type fatalError string

func (e fatalError) Error() string { return string(e) }

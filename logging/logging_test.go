package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bartossh/Settlementis/logger"
	"github.com/stretchr/testify/assert"
)

type syncBuffer struct {
	mux  sync.Mutex
	logs []logger.Log
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	var l logger.Log
	if err := json.Unmarshal(p, &l); err != nil {
		return 0, err
	}
	b.mux.Lock()
	defer b.mux.Unlock()
	b.logs = append(b.logs, l)
	return len(p), nil
}

func (b *syncBuffer) len() int {
	b.mux.Lock()
	defer b.mux.Unlock()
	return len(b.logs)
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) { return 0, errors.New("disk full") }

func TestHelperWritesToAllWriters(t *testing.T) {
	a, b := &syncBuffer{}, &syncBuffer{}
	h := New("settlement", func(err error) { t.Error(err) }, nil, a, b)
	h.Debug("debug")
	h.Info("info")
	h.Warn("warn")
	h.Error("error")

	assert.Eventually(t, func() bool { return a.len() == 4 && b.len() == 4 }, time.Second, 5*time.Millisecond)
	a.mux.Lock()
	defer a.mux.Unlock()
	for _, l := range a.logs {
		assert.Equal(t, "settlement", l.Service)
		assert.Equal(t, l.Level, l.Msg)
	}
}

func TestHelperFatalCallsBack(t *testing.T) {
	buf := &syncBuffer{}
	var fatal error
	h := New("settlement", nil, func(err error) { fatal = err }, buf)
	h.Fatal("cannot start")
	assert.Equal(t, 1, buf.len())
	assert.EqualError(t, fatal, "cannot start")
}

func TestHelperReportsWriterErrors(t *testing.T) {
	var mux sync.Mutex
	var errs int
	h := New("settlement", func(err error) {
		mux.Lock()
		defer mux.Unlock()
		errs++
	}, nil, failingWriter{}, &bytes.Buffer{})
	h.Info("x")
	assert.Eventually(t, func() bool {
		mux.Lock()
		defer mux.Unlock()
		return errs == 1
	}, time.Second, 5*time.Millisecond)
}

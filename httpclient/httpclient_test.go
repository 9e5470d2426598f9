package httpclient

import (
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMakePostDecodesJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("Token"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer srv.Close()

	var out struct {
		OK bool `json:"ok"`
	}
	err := MakePost(time.Second, srv.URL, map[string]string{"a": "b"}, &out, Header{Key: "Token", Value: "secret"})
	assert.Nil(t, err)
	assert.True(t, out.OK)
}

func TestMakeGetStatusCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := MakeGet(time.Second, srv.URL, nil)
	assert.ErrorIs(t, err, ErrStatusCodeMismatch)
	code, ok := StatusCode(err)
	assert.True(t, ok)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestMakeGetContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "hello")
	}))
	defer srv.Close()

	var out map[string]any
	assert.ErrorIs(t, MakeGet(time.Second, srv.URL, &out), ErrContentTypeMismatch)
}

func TestMakeGetRequestFailed(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	assert.Nil(t, err)
	addr := l.Addr().String()
	l.Close()

	err = MakeGet(200*time.Millisecond, "http://"+addr, nil)
	assert.ErrorIs(t, err, ErrRequestFailed)
	_, ok := StatusCode(err)
	assert.False(t, ok)
}

package httpclient

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"
)

var (
	ErrRequestFailed       = fmt.Errorf("request failed")
	ErrStatusCodeMismatch  = fmt.Errorf("status code mismatch")
	ErrContentTypeMismatch = fmt.Errorf("content type mismatch")
	ErrRejectedByServer    = fmt.Errorf("rejected by server")
)

// StatusCodeError carries unexpected status code of the response.
type StatusCodeError struct {
	Code int
}

func (e *StatusCodeError) Error() string {
	return fmt.Sprintf("unexpected status code %d", e.Code)
}

// StatusCode returns the unexpected status code carried by err if any.
func StatusCode(err error) (int, bool) {
	var sce *StatusCodeError
	if errors.As(err, &sce) {
		return sce.Code, true
	}
	return 0, false
}

// Header is a request header.
type Header struct {
	Key   string
	Value string
}

// MakePost posts out as JSON and decodes JSON response in to in.
// If in is nil response body is ignored.
func MakePost(timeout time.Duration, url string, out, in any, headers ...Header) error {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)

	req.SetRequestURI(url)
	req.Header.SetMethod("POST")
	req.Header.SetContentType("application/json")
	for _, h := range headers {
		req.Header.Set(h.Key, h.Value)
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return err
	}
	req.SetBody(raw)

	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	if err := fasthttp.DoTimeout(req, resp, timeout); err != nil {
		return errors.Join(ErrRequestFailed, err)
	}

	switch resp.StatusCode() {
	case fasthttp.StatusOK, fasthttp.StatusCreated, fasthttp.StatusAccepted:
	case fasthttp.StatusNoContent:
		return nil
	default:
		return errors.Join(ErrStatusCodeMismatch, &StatusCodeError{Code: resp.StatusCode()})
	}

	return decode(resp, in)
}

// MakeGet gets the url and decodes JSON response in to out.
// If out is nil response body is ignored.
func MakeGet(timeout time.Duration, url string, out any, headers ...Header) error {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)

	req.SetRequestURI(url)
	req.Header.SetMethod("GET")
	for _, h := range headers {
		req.Header.Set(h.Key, h.Value)
	}

	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	if err := fasthttp.DoTimeout(req, resp, timeout); err != nil {
		return errors.Join(ErrRequestFailed, err)
	}

	switch resp.StatusCode() {
	case fasthttp.StatusOK:
	case fasthttp.StatusNoContent:
		return nil
	default:
		return errors.Join(ErrStatusCodeMismatch, &StatusCodeError{Code: resp.StatusCode()})
	}

	return decode(resp, out)
}

func decode(resp *fasthttp.Response, v any) error {
	if v == nil {
		return nil
	}
	contentType := resp.Header.Peek("Content-Type")
	if bytes.Index(contentType, []byte("application/json")) != 0 {
		return errors.Join(
			ErrContentTypeMismatch,
			fmt.Errorf("expected content type application/json but got %s", contentType))
	}
	return json.Unmarshal(resp.Body(), v)
}

// Package response holds the value handlers return: a status, headers
// and a fully buffered body.
package response

import (
	"encoding/json"
	"net/http"
	"strconv"
)

const (
	ContentTypeJSON = "application/json"
	ContentTypeText = "text/plain; charset=utf-8"
	ContentTypeHTML = "text/html; charset=utf-8"
)

type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

func New(status int) *Response {
	return &Response{Status: status, Header: make(http.Header)}
}

/////////////////////////////////////////////////////////////////////
/////// CONSTRUCTORS
/////////////////////////////////////////////////////////////////////

// JSON encodes v as the response body.
func JSON(status int, v any) (*Response, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return Bytes(status, ContentTypeJSON, body), nil
}

// MustJSON is like JSON but panics if v cannot be encoded.
func MustJSON(status int, v any) *Response {
	res, err := JSON(status, v)
	if err != nil {
		panic(err)
	}
	return res
}

func Text(status int, text string) *Response {
	return Bytes(status, ContentTypeText, []byte(text))
}

func HTML(status int, html string) *Response {
	return Bytes(status, ContentTypeHTML, []byte(html))
}

func Bytes(status int, contentType string, body []byte) *Response {
	res := New(status)
	if contentType != "" {
		res.Header.Set("Content-Type", contentType)
	}
	res.Body = body
	return res
}

func OK() *Response {
	return Bytes(http.StatusOK, ContentTypeJSON, []byte(`{"ok":true}`))
}

func NoContent() *Response {
	return New(http.StatusNoContent)
}

func Redirect(status int, location string) *Response {
	res := New(status)
	res.Header.Set("Location", location)
	return res
}

// ErrorBody is the JSON shape of every framework error response.
type ErrorBody struct {
	Kind   string `json:"kind"`
	Detail any    `json:"detail"`
}

// Error builds an error response. A nil detail becomes the status text.
func Error(status int, kind string, detail any) *Response {
	if detail == nil {
		detail = http.StatusText(status)
	}
	res, err := JSON(status, ErrorBody{Kind: kind, Detail: detail})
	if err != nil {
		return MustJSON(status, ErrorBody{Kind: kind, Detail: http.StatusText(status)})
	}
	return res
}

/////////////////////////////////////////////////////////////////////
/////// HELPERS
/////////////////////////////////////////////////////////////////////

// WithHeader sets a header and returns the response for chaining.
func (res *Response) WithHeader(key, value string) *Response {
	if res.Header == nil {
		res.Header = make(http.Header)
	}
	res.Header.Set(key, value)
	return res
}

func (res *Response) IsError() bool    { return res.Status >= 400 }
func (res *Response) IsRedirect() bool { return res.Status >= 300 && res.Status < 400 }

// Write copies the response to w. Content-Length is always set from
// the body, even when omitBody is true, so HEAD responses match GET.
func (res *Response) Write(w http.ResponseWriter, omitBody bool) error {
	h := w.Header()
	for k, vals := range res.Header {
		h[k] = append([]string(nil), vals...)
	}

	status := res.Status
	if status == 0 {
		status = http.StatusOK
	}
	if status != http.StatusNoContent && status != http.StatusNotModified {
		h.Set("Content-Length", strconv.Itoa(len(res.Body)))
	}

	w.WriteHeader(status)
	if omitBody || len(res.Body) == 0 {
		return nil
	}
	_, err := w.Write(res.Body)
	return err
}

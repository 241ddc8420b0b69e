package mux

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/panther-now/panther/kit/validate"
)

const DefaultMaxBodyBytes int64 = 10 << 20

var validator = validate.New()

type bodyState struct {
	rawOnce sync.Once
	raw     []byte
	rawErr  error

	dataOnce sync.Once
	data     any
	dataErr  error
}

type mediaKind uint8

const (
	mediaRaw mediaKind = iota
	mediaJSON
	mediaForm
	mediaMultipart
	mediaUnsupported
)

func classifyMedia(contentType string) (mediaKind, map[string]string, error) {
	if contentType == "" {
		return mediaRaw, nil, nil
	}
	mt, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return mediaUnsupported, nil, &UnsupportedMediaTypeError{ContentType: contentType}
	}
	switch {
	case mt == "application/json" || strings.HasSuffix(mt, "+json"):
		return mediaJSON, params, nil
	case mt == "application/x-www-form-urlencoded":
		return mediaForm, params, nil
	case mt == "multipart/form-data":
		if params["boundary"] == "" {
			return mediaUnsupported, nil, &BodyParseError{Err: errors.New("multipart body has no boundary")}
		}
		return mediaMultipart, params, nil
	case mt == "text/plain" || mt == "application/octet-stream":
		return mediaRaw, params, nil
	}
	return mediaUnsupported, nil, &UnsupportedMediaTypeError{ContentType: contentType}
}

// Body reads the whole request body once, up to the dispatcher's size
// limit. Later calls return the same bytes.
func (c *Ctx) Body() ([]byte, error) {
	bs := c.state.body
	bs.rawOnce.Do(func() {
		r := c.Request()
		if r.Body == nil || r.Body == http.NoBody {
			bs.raw = []byte{}
			return
		}
		limit := c.dispatcher.opts.MaxBodyBytes
		raw, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, limit))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				bs.rawErr = &BodyTooLargeError{Limit: limit}
				return
			}
			bs.rawErr = &BodyParseError{Err: fmt.Errorf("error reading body: %w", err)}
			return
		}
		bs.raw = raw
	})
	return bs.raw, bs.rawErr
}

/*
Data parses the body according to its Content-Type, once:

  - application/json (and +json types): any, as decoded by encoding/json
  - application/x-www-form-urlencoded, multipart/form-data: url.Values
  - text/plain, application/octet-stream, or no Content-Type: []byte

Other types fail with *UnsupportedMediaTypeError; bodies that do not
parse fail with *BodyParseError. An empty JSON body yields nil.
*/
func (c *Ctx) Data() (any, error) {
	bs := c.state.body
	bs.dataOnce.Do(func() {
		bs.data, bs.dataErr = c.parseData()
	})
	return bs.data, bs.dataErr
}

func (c *Ctx) parseData() (any, error) {
	kind, params, err := classifyMedia(c.Header("Content-Type"))
	if err != nil {
		return nil, err
	}
	raw, err := c.Body()
	if err != nil {
		return nil, err
	}

	switch kind {
	case mediaJSON:
		if len(bytes.TrimSpace(raw)) == 0 {
			return nil, nil
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, &BodyParseError{Err: fmt.Errorf("error decoding JSON: %w", err)}
		}
		return v, nil
	case mediaForm:
		values, err := url.ParseQuery(string(raw))
		if err != nil {
			return nil, &BodyParseError{Err: fmt.Errorf("error decoding form: %w", err)}
		}
		return values, nil
	case mediaMultipart:
		return c.parseMultipart(raw, params["boundary"])
	default:
		return raw, nil
	}
}

// Only the value parts of a multipart form are kept; file parts are
// read and discarded.
func (c *Ctx) parseMultipart(raw []byte, boundary string) (url.Values, error) {
	mr := multipart.NewReader(bytes.NewReader(raw), boundary)
	form, err := mr.ReadForm(c.dispatcher.opts.MaxBodyBytes)
	if err != nil {
		return nil, &BodyParseError{Err: fmt.Errorf("error decoding multipart form: %w", err)}
	}
	defer form.RemoveAll()
	return url.Values(form.Value), nil
}

// Bind decodes a JSON or form body into the struct dst points to and
// validates it against its `validate` tags. An empty body leaves dst
// unchanged and still validates it.
func (c *Ctx) Bind(dst any) error {
	kind, _, err := classifyMedia(c.Header("Content-Type"))
	if err != nil {
		return err
	}
	raw, err := c.Body()
	if err != nil {
		return err
	}

	switch {
	case len(raw) == 0:
		err = validator.Struct(dst)
	case kind == mediaJSON:
		err = validator.JSONBytesInto(raw, dst)
	case kind == mediaForm || kind == mediaMultipart:
		data, dataErr := c.Data()
		if dataErr != nil {
			return dataErr
		}
		err = validator.URLValuesInto(data.(url.Values), dst)
	default:
		return &UnsupportedMediaTypeError{ContentType: c.Header("Content-Type")}
	}
	if err != nil {
		return &BodyParseError{Err: err}
	}
	return nil
}

// BindQuery decodes the query string into the struct dst points to and
// validates it.
func (c *Ctx) BindQuery(dst any) error {
	if err := validator.URLValuesInto(c.Query(), dst); err != nil {
		return &BodyParseError{Err: err}
	}
	return nil
}

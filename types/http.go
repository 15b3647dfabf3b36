package types

import (
	"io"
	"net/textproto"
	"strconv"

	"github.com/valyala/bytebufferpool"

	"github.com/saiset-co/sai-dispatch/utils"
)

// Handler is the terminal capability a route resolves to. Any returned error
// propagates through the executor chain to the connection lifecycle, which
// turns it into a 500 response.
type Handler func(req *Request, res *Response) error

// Executor drives the middleware chain toward the terminal handler. Calling
// Next more than once per middleware invocation, or not at all, is legal:
// not calling it short-circuits everything downstream.
type Executor interface {
	Next() error
}

type Middleware interface {
	Name() string
	Execute(req *Request, res *Response, exec Executor) error
}

type MiddlewareManager interface {
	RegisterMiddlewares() error
	Register(middleware Middleware) error
	Use(name string, params map[string]interface{}) error
	Seal() error
	Chain() []Middleware
	Clear()
}

type HTTPServer interface {
	LifecycleManager
}

type Router interface {
	Register(method, pattern string, handler Handler) error
	GET(pattern string, handler Handler) error
	POST(pattern string, handler Handler) error
	PUT(pattern string, handler Handler) error
	DELETE(pattern string, handler Handler) error
	PATCH(pattern string, handler Handler) error
	HEAD(pattern string, handler Handler) error
	OPTIONS(pattern string, handler Handler) error
	TRACE(pattern string, handler Handler) error
	Match(method, path string) (Handler, map[string]string, bool)
	Seal()
}

// Request is built once per connection after parsing and is owned by that
// connection's worker. Params is nil unless a pattern route matched.
type Request struct {
	Method     string
	RawTarget  string
	Path       string
	Proto      string
	Query      map[string]string
	Params     map[string]string
	Headers    map[string]string
	Body       []byte
	RemoteAddr string
	App        interface{}
}

// Param returns the named path parameter. Handlers registered on exact
// routes get no parameters at all, so absence is a real error condition.
func (r *Request) Param(name string) (string, error) {
	if r.Params == nil {
		return "", Errorf(ErrPathParamMissing, "name: %s", name)
	}
	value, exists := r.Params[name]
	if !exists {
		return "", Errorf(ErrPathParamMissing, "name: %s", name)
	}
	return value, nil
}

func (r *Request) QueryValue(name string) string {
	return r.Query[name]
}

func (r *Request) Header(name string) string {
	return r.Headers[textproto.CanonicalMIMEHeaderKey(name)]
}

// AppOf returns the shared application context the server was instantiated
// with, typed. A server without an app context, or a mismatched type
// assertion, yields ErrAppContextMissing.
func AppOf[T any](req *Request) (T, error) {
	app, ok := req.App.(T)
	if !ok {
		var zero T
		return zero, ErrAppContextMissing
	}
	return app, nil
}

type HeaderKV struct {
	Name  string
	Value string
}

// Response accumulates status, ordered headers and body; nothing reaches the
// wire until the connection lifecycle flushes it once.
type Response struct {
	status  int
	headers []HeaderKV
	body    *bytebufferpool.ByteBuffer
	writer  io.Writer
	flushed bool
}

func NewResponse(w io.Writer) *Response {
	return &Response{
		status: StatusOK,
		body:   bytebufferpool.Get(),
		writer: w,
	}
}

func (r *Response) SetStatus(code int) {
	r.status = code
}

func (r *Response) Status() int {
	return r.status
}

// SetHeader appends; repeated names produce repeated header lines in
// append order.
func (r *Response) SetHeader(name, value string) {
	r.headers = append(r.headers, HeaderKV{Name: name, Value: value})
}

func (r *Response) SetContentType(value string) {
	for i := range r.headers {
		if r.headers[i].Name == "Content-Type" {
			r.headers[i].Value = value
			return
		}
	}
	r.SetHeader("Content-Type", value)
}

func (r *Response) Headers() []HeaderKV {
	return r.headers
}

func (r *Response) HeaderValue(name string) string {
	for _, kv := range r.headers {
		if kv.Name == name {
			return kv.Value
		}
	}
	return ""
}

func (r *Response) Write(p []byte) (int, error) {
	return r.body.Write(p)
}

func (r *Response) WriteString(s string) (int, error) {
	return r.body.WriteString(s)
}

func (r *Response) JSON(status int, data interface{}) error {
	encoded, err := utils.Marshal(data)
	if err != nil {
		return WrapError(err, "failed to encode response body")
	}

	r.status = status
	r.SetContentType("application/json")
	r.body.Reset()
	_, err = r.body.Write(encoded)
	return err
}

func (r *Response) BodyBytes() []byte {
	return r.body.B
}

func (r *Response) BodyLen() int {
	return r.body.Len()
}

// SwapBody replaces the accumulated body, used by encoding middleware after
// the downstream chain has written.
func (r *Response) SwapBody(p []byte) {
	r.body.Reset()
	r.body.B = append(r.body.B, p...)
}

func (r *Response) ResetBody() {
	r.body.Reset()
}

func (r *Response) Flushed() bool {
	return r.flushed
}

// Flush performs the single terminal write: status line, headers and body.
// A second call is a contract violation and reports it instead of writing.
func (r *Response) Flush() error {
	if r.flushed {
		return ErrResponseAlreadyWritten
	}
	r.flushed = true

	head := bytebufferpool.Get()
	defer bytebufferpool.Put(head)

	head.WriteString("HTTP/1.1 ")
	head.WriteString(strconv.Itoa(r.status))
	head.WriteString(" ")
	head.WriteString(StatusText(r.status))
	head.WriteString("\r\n")

	if r.body.Len() > 0 && r.HeaderValue("Content-Type") == "" {
		r.SetHeader("Content-Type", "text/plain; charset=utf-8")
	}

	for _, kv := range r.headers {
		head.WriteString(kv.Name)
		head.WriteString(": ")
		head.WriteString(kv.Value)
		head.WriteString("\r\n")
	}

	head.WriteString("Content-Length: ")
	head.WriteString(strconv.Itoa(r.body.Len()))
	head.WriteString("\r\n\r\n")

	if _, err := r.writer.Write(head.B); err != nil {
		return WrapError(err, "failed to write response head")
	}

	if r.body.Len() > 0 {
		if _, err := r.writer.Write(r.body.B); err != nil {
			return WrapError(err, "failed to write response body")
		}
	}

	return nil
}

// Release returns pooled buffers; the response must not be used afterwards.
func (r *Response) Release() {
	if r.body != nil {
		bytebufferpool.Put(r.body)
		r.body = nil
	}
}

const (
	StatusOK                  = 200
	StatusCreated             = 201
	StatusNoContent           = 204
	StatusMovedPermanently    = 301
	StatusFound               = 302
	StatusNotModified         = 304
	StatusBadRequest          = 400
	StatusUnauthorized        = 401
	StatusForbidden           = 403
	StatusNotFound            = 404
	StatusMethodNotAllowed    = 405
	StatusRequestTimeout      = 408
	StatusConflict            = 409
	StatusPayloadTooLarge     = 413
	StatusTooManyRequests     = 429
	StatusInternalServerError = 500
	StatusNotImplemented      = 501
	StatusBadGateway          = 502
	StatusServiceUnavailable  = 503
)

var statusText = map[int]string{
	StatusOK:                  "OK",
	StatusCreated:             "Created",
	StatusNoContent:           "No Content",
	StatusMovedPermanently:    "Moved Permanently",
	StatusFound:               "Found",
	StatusNotModified:         "Not Modified",
	StatusBadRequest:          "Bad Request",
	StatusUnauthorized:        "Unauthorized",
	StatusForbidden:           "Forbidden",
	StatusNotFound:            "Not Found",
	StatusMethodNotAllowed:    "Method Not Allowed",
	StatusRequestTimeout:      "Request Timeout",
	StatusConflict:            "Conflict",
	StatusPayloadTooLarge:     "Payload Too Large",
	StatusTooManyRequests:     "Too Many Requests",
	StatusInternalServerError: "Internal Server Error",
	StatusNotImplemented:      "Not Implemented",
	StatusBadGateway:          "Bad Gateway",
	StatusServiceUnavailable:  "Service Unavailable",
}

func StatusText(code int) string {
	if text, exists := statusText[code]; exists {
		return text
	}
	return "Unknown"
}

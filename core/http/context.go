package http

import (
	"encoding/json"

	"golang.org/x/sys/unix"

	"github.com/searchktools/shard-server/core/pools"
)

// Context carries one request/response exchange on a raw file descriptor.
// It lives inside the connection slot and is reset in place per request;
// the response buffer it writes into is the slot's owned buffer, so the
// steady-state response path allocates nothing.
type Context struct {
	fd  int
	req *Request
	buf *pools.Buffer

	// Matched prefix length from the URL trie; the remainder of the path
	// is what a prefix handler (e.g. the file server) operates on.
	matchedLen int

	statusCode int
}

// Reset rebinds the context to a fresh exchange.
func (c *Context) Reset(fd int, req *Request, buf *pools.Buffer) {
	c.fd = fd
	c.req = req
	c.buf = buf
	c.matchedLen = 0
	c.statusCode = 200
}

// Request information methods

func (c *Context) Method() string {
	return c.req.Method
}

func (c *Context) Path() string {
	return c.req.Path
}

// RemainingPath returns the part of the path past the matched route prefix.
func (c *Context) RemainingPath() string {
	if c.matchedLen > len(c.req.Path) {
		return ""
	}
	return c.req.Path[c.matchedLen:]
}

// SetMatchedLen records how much of the path the router matched.
func (c *Context) SetMatchedLen(n int) {
	c.matchedLen = n
}

func (c *Context) Query(key string) string {
	if c.req.Query == nil {
		return ""
	}
	return c.req.Query[key]
}

func (c *Context) Header(key string) string {
	return c.req.Header(key)
}

func (c *Context) Body() []byte {
	return c.req.Body
}

// FD exposes the underlying descriptor for zero-copy senders.
func (c *Context) FD() int {
	return c.fd
}

// Status returns the status code of the response built so far.
func (c *Context) Status() int {
	return c.statusCode
}

// Bind unmarshals the request body into v.
func (c *Context) Bind(v any) error {
	return json.Unmarshal(c.req.Body, v)
}

// writeHead renders the status line and fixed headers into the buffer.
func (c *Context) writeHead(code int, contentType string, contentLength int) {
	c.statusCode = code
	c.buf.Reset()
	c.buf.AppendString("HTTP/1.1 ")
	c.buf.AppendInt(code)
	c.buf.AppendByte(' ')
	c.buf.AppendString(StatusText(code))
	c.buf.AppendString("\r\nContent-Type: ")
	c.buf.AppendString(contentType)
	c.buf.AppendString("\r\nContent-Length: ")
	c.buf.AppendInt(contentLength)
	c.buf.AppendString("\r\n\r\n")
}

// String sends a plain text response
func (c *Context) String(code int, s string) {
	c.writeHead(code, "text/plain", len(s))
	c.buf.AppendString(s)
	c.Flush()
}

// JSON sends a JSON response
func (c *Context) JSON(code int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.Error(500, "Failed to marshal JSON")
		return
	}
	c.writeHead(code, "application/json", len(data))
	c.buf.Append(data)
	c.Flush()
}

// Bytes sends a raw bytes response
func (c *Context) Bytes(code int, data []byte) {
	c.Data(code, "application/octet-stream", data)
}

// Data sends a response with custom content type
func (c *Context) Data(code int, contentType string, data []byte) {
	c.writeHead(code, contentType, len(data))
	c.buf.Append(data)
	c.Flush()
}

// Head sends only a status line and headers, leaving the body to be
// transferred by the caller (e.g. via sendfile).
func (c *Context) Head(code int, contentType string, contentLength int) error {
	c.writeHead(code, contentType, contentLength)
	return c.Flush()
}

// Error sends an error response
func (c *Context) Error(code int, message string) {
	c.JSON(code, map[string]any{
		"code":    code,
		"message": message,
	})
}

// Flush writes the buffered response to the socket, handling partial
// writes. On EAGAIN the write is retried: response sizes are bounded by
// the buffer and the socket buffer drains as the peer reads.
func (c *Context) Flush() error {
	data := c.buf.Bytes()
	written := 0
	for written < len(data) {
		n, err := unix.Write(c.fd, data[written:])
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				continue
			}
			return err
		}
		written += n
	}
	return nil
}

package pscan

import (
	"mime"
	"net/http"
	"strings"
	"time"
)

// Request metadata of a captured exchange
type Request struct {
	Method  string
	URI     string
	Headers http.Header
}

// Response metadata and body of a captured exchange
type Response struct {
	StatusCode  int
	Headers     http.Header
	Body        []byte
	ContentType string
	IsText      bool // set by the capture source, see IsTextContentType
}

// Exchange is an immutable snapshot of a request/response pair taken at the
// time of interception. Once handed to the scanner it is shared by pointer
// between every rule and must not be modified.
type Exchange struct {
	ID       uint64
	Request  *Request
	Response *Response
	Captured time.Time
}

// NewExchange assigns the next exchange ID and classifies the response
// content type if the capture source did not.
func NewExchange(req *Request, resp *Response) *Exchange {
	if resp != nil && !resp.IsText {
		resp.IsText = IsTextContentType(resp.ContentType)
	}
	return &Exchange{
		ID:       NextExchangeID(),
		Request:  req,
		Response: resp,
		Captured: time.Now(),
	}
}

// URI of the request or empty if we have none
func (e *Exchange) URI() string {
	if e.Request == nil {
		return ""
	}
	return e.Request.URI
}

// HasTextBody is true for non-empty responses classified as text
func (e *Exchange) HasTextBody() bool {
	return e.Response != nil && len(e.Response.Body) > 0 && e.Response.IsText
}

// IsTextContentType returns true for media types that carry readable text
func IsTextContentType(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	}

	if strings.HasPrefix(mediaType, "text/") {
		return true
	}
	for _, t := range []string{"html", "xml", "json", "javascript", "ecmascript"} {
		if strings.Contains(mediaType, t) {
			return true
		}
	}
	return false
}

package httptts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/time/rate"
)

// MaxBodySize caps how much of a response body is read.
const MaxBodySize = 32 << 20

// ErrEmptyAudio is returned by Synthesize for a 200 response without a body.
var ErrEmptyAudio = errors.New("empty audio response")

// StatusError is returned by Synthesize for non-200 responses.
type StatusError struct {
	Code        int
	Body        string
	ContentType string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("engine returned HTTP %d", e.Code)
	}
	return fmt.Sprintf("engine returned HTTP %d: %s", e.Code, e.Body)
}

// Response is a fully read engine response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// ContentType returns the Content-Type header, or "" when absent.
func (r *Response) ContentType() string {
	return r.Header.Get("Content-Type")
}

// Text returns the body decoded with the charset named in Content-Type.
func (r *Response) Text() string {
	return DecodeBody(r.Body, r.ContentType())
}

// DecodeBody converts body to a UTF-8 string. The charset parameter of
// contentType picks the decoder; UTF-8 is assumed when it is missing or
// unknown.
func DecodeBody(body []byte, contentType string) string {
	if _, params, err := mime.ParseMediaType(contentType); err == nil {
		if cs := params["charset"]; cs != "" {
			if enc, err := htmlindex.Get(cs); err == nil {
				if out, err := enc.NewDecoder().Bytes(body); err == nil {
					return string(out)
				}
			}
		}
	}
	if !utf8.Valid(body) {
		// Unlabelled non-UTF-8 bodies are almost always GBK from Chinese
		// engines; GB18030 is a superset.
		if out, err := simplifiedchinese.GB18030.NewDecoder().Bytes(body); err == nil {
			return string(out)
		}
	}
	return strings.ToValidUTF8(string(body), "\uFFFD")
}

// ClientOptions configures a Client.
type ClientOptions struct {
	// RequestsPerMinute limits outbound requests; zero disables the limit.
	RequestsPerMinute int
	// Transport overrides the HTTP transport, mainly for tests.
	Transport http.RoundTripper
}

// Client executes engine requests. It keeps cookies between requests so
// endpoints that hand out session cookies keep working, and can forget them
// with ResetCookies.
type Client struct {
	mu        sync.RWMutex
	http      *http.Client
	transport http.RoundTripper
	limiter   *rate.Limiter
}

// NewClient creates a client.
func NewClient(opts ClientOptions) *Client {
	limit := rate.Inf
	if opts.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(opts.RequestsPerMinute))
	}
	c := &Client{
		transport: opts.Transport,
		limiter:   rate.NewLimiter(limit, 1),
	}
	c.ResetCookies()
	return c
}

// Limit is the outbound request rate; rate.Inf when unlimited.
func (c *Client) Limit() rate.Limit {
	return c.limiter.Limit()
}

// ResetCookies drops every stored cookie.
func (c *Client) ResetCookies() {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		// cookiejar.New never fails with these options.
		log.Error("Failed to create cookie jar", "error", err)
		return
	}
	c.mu.Lock()
	c.http = &http.Client{Transport: c.transport, Jar: jar}
	c.mu.Unlock()
}

// Do sends the request for text and reads the whole response. Only transport
// failures are errors; any HTTP status is returned as a Response.
func (c *Client) Do(ctx context.Context, e Engine, text string) (*Response, error) {
	e = e.WithDefaults()

	req, err := e.NewRequest(text)
	if err != nil {
		return nil, err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait cancelled: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	c.mu.RLock()
	client := c.http
	c.mu.RUnlock()

	log.Debug("Engine request", "engine", e.Name, "method", req.Method, "url", req.URL.Redacted())
	resp, err := client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", e.Name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", e.Name, err)
	}
	log.Debug("Engine response", "engine", e.Name, "status", resp.StatusCode, "bytes", len(body))

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// Audio is a successful synthesis result.
type Audio struct {
	Data        []byte
	ContentType string
}

// Synthesize is Do with the response checked: a non-200 status becomes a
// *StatusError and an empty body becomes ErrEmptyAudio.
func (c *Client) Synthesize(ctx context.Context, e Engine, text string) (Audio, error) {
	resp, err := c.Do(ctx, e, text)
	if err != nil {
		return Audio{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return Audio{}, &StatusError{
			Code:        resp.StatusCode,
			Body:        resp.Text(),
			ContentType: resp.ContentType(),
		}
	}
	if len(resp.Body) == 0 {
		return Audio{}, ErrEmptyAudio
	}
	return Audio{Data: resp.Body, ContentType: resp.ContentType()}, nil
}

// Bound is an engine paired with the client that runs it.
type Bound struct {
	client *Client
	engine Engine
}

// Bind pairs e with c.
func (c *Client) Bind(e Engine) *Bound {
	return &Bound{client: c, engine: e}
}

// Name returns the engine name.
func (b *Bound) Name() string {
	return b.engine.Name
}

// Engine returns the bound engine definition.
func (b *Bound) Engine() Engine {
	return b.engine
}

// AudioResponse requests audio for text without interpreting the status.
func (b *Bound) AudioResponse(ctx context.Context, text string) (*Response, error) {
	return b.client.Do(ctx, b.engine, text)
}

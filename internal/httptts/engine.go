// Package httptts describes HTTP text-to-speech engines and executes their
// requests. An engine is a URL and optional body template; synthesizing text
// renders the templates and returns whatever audio the endpoint sends back.
package httptts

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"text/template"
	"time"
)

// Default parameter values used when an engine leaves them unset.
const (
	DefaultRate    = 50
	DefaultVolume  = 50
	DefaultPitch   = 50
	DefaultTimeout = 10 * time.Second
)

// ErrInvalidEngine is wrapped by every validation failure.
var ErrInvalidEngine = errors.New("invalid engine")

// Engine is one HTTP TTS endpoint definition.
//
// URL and Body are text/template strings rendered with a Request. Besides
// the builtin functions, templates may call json to emit a quoted JSON string.
type Engine struct {
	ID          int64             `yaml:"-" json:"id"`
	Name        string            `yaml:"name" json:"name"`
	URL         string            `yaml:"url" json:"url"`
	Method      string            `yaml:"method,omitempty" json:"method,omitempty"`
	Body        string            `yaml:"body,omitempty" json:"body,omitempty"`
	Headers     map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	ContentType string            `yaml:"content_type,omitempty" json:"content_type,omitempty"`
	Rate        int               `yaml:"rate,omitempty" json:"rate,omitempty"`
	Volume      int               `yaml:"volume,omitempty" json:"volume,omitempty"`
	Pitch       int               `yaml:"pitch,omitempty" json:"pitch,omitempty"`
	Timeout     time.Duration     `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// Request is the data available to URL and Body templates.
type Request struct {
	Text   string
	Rate   int
	Volume int
	Pitch  int
}

var templateFuncs = template.FuncMap{
	"json": func(v any) (string, error) {
		b, err := json.Marshal(v)
		return string(b), err
	},
}

// WithDefaults returns a copy of e with unset fields filled in.
func (e Engine) WithDefaults() Engine {
	if e.Method == "" {
		e.Method = http.MethodGet
		if e.Body != "" {
			e.Method = http.MethodPost
		}
	}
	e.Method = strings.ToUpper(e.Method)
	if e.Rate == 0 {
		e.Rate = DefaultRate
	}
	if e.Volume == 0 {
		e.Volume = DefaultVolume
	}
	if e.Pitch == 0 {
		e.Pitch = DefaultPitch
	}
	if e.Timeout <= 0 {
		e.Timeout = DefaultTimeout
	}
	return e
}

// Validate checks that the engine can produce a request.
func (e Engine) Validate() error {
	e = e.WithDefaults()

	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidEngine)
	}
	if e.URL == "" {
		return fmt.Errorf("%w %q: url is required", ErrInvalidEngine, e.Name)
	}
	switch e.Method {
	case http.MethodGet, http.MethodPost, http.MethodPut:
	default:
		return fmt.Errorf("%w %q: unsupported method %s", ErrInvalidEngine, e.Name, e.Method)
	}
	for name, v := range map[string]int{"rate": e.Rate, "volume": e.Volume, "pitch": e.Pitch} {
		if v < 0 || v > 100 {
			return fmt.Errorf("%w %q: %s must be between 0 and 100, got %d", ErrInvalidEngine, e.Name, name, v)
		}
	}

	u, _, err := e.render(Request{Text: "test", Rate: e.Rate, Volume: e.Volume, Pitch: e.Pitch})
	if err != nil {
		return fmt.Errorf("%w %q: %w", ErrInvalidEngine, e.Name, err)
	}
	parsed, err := url.Parse(u)
	if err != nil {
		return fmt.Errorf("%w %q: %w", ErrInvalidEngine, e.Name, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%w %q: url scheme must be http or https", ErrInvalidEngine, e.Name)
	}
	return nil
}

// render executes the URL and Body templates.
func (e Engine) render(req Request) (string, string, error) {
	u, err := execute("url", e.URL, req)
	if err != nil {
		return "", "", err
	}
	var body string
	if e.Body != "" {
		if body, err = execute("body", e.Body, req); err != nil {
			return "", "", err
		}
	}
	return strings.TrimSpace(u), body, nil
}

func execute(name, text string, req Request) (string, error) {
	tmpl, err := template.New(name).Funcs(templateFuncs).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("failed to parse %s template: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, req); err != nil {
		return "", fmt.Errorf("failed to render %s template: %w", name, err)
	}
	return buf.String(), nil
}

// NewRequest builds the HTTP request for text. The caller owns the context
// deadline; Engine.Timeout is applied by Client.
func (e Engine) NewRequest(text string) (*http.Request, error) {
	e = e.WithDefaults()
	u, body, err := e.render(Request{Text: text, Rate: e.Rate, Volume: e.Volume, Pitch: e.Pitch})
	if err != nil {
		return nil, err
	}

	var req *http.Request
	if body != "" {
		req, err = http.NewRequest(e.Method, u, strings.NewReader(body))
	} else {
		req, err = http.NewRequest(e.Method, u, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	if body != "" {
		ct := e.ContentType
		if ct == "" {
			ct = "application/json"
		}
		req.Header.Set("Content-Type", ct)
	}
	for k, v := range e.Headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// Package updates asks the release feed whether a newer tts-server exists.
package updates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/mod/semver"
)

// DefaultURL is the latest-release endpoint of the project.
const DefaultURL = "https://api.github.com/repos/jing332/tts-server-go/releases/latest"

const defaultTimeout = 10 * time.Second

// ErrNoRelease is returned when the feed has no published release.
var ErrNoRelease = errors.New("no published release")

// Release is the subset of a GitHub release used here.
type Release struct {
	Tag         string    `json:"tag_name"`
	Name        string    `json:"name"`
	URL         string    `json:"html_url"`
	Notes       string    `json:"body"`
	PublishedAt time.Time `json:"published_at"`
}

// Result compares the running version with the latest release.
type Result struct {
	Current string
	Latest  Release
	// Newer is set when Latest is a higher version than Current.
	Newer bool
	// Comparable is false for development builds without a version.
	Comparable bool
}

// Checker fetches the latest release. The zero value uses DefaultURL and
// http.DefaultClient.
type Checker struct {
	URL    string
	Client *http.Client
}

// Latest returns the newest published release.
func (c Checker) Latest(ctx context.Context) (Release, error) {
	url := c.URL
	if url == "" {
		url = DefaultURL
	}
	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Release{}, fmt.Errorf("unable to create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := client.Do(req)
	if err != nil {
		return Release{}, fmt.Errorf("unable to reach release feed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return Release{}, ErrNoRelease
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Release{}, fmt.Errorf("release feed returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var r Release
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return Release{}, fmt.Errorf("malformed release: %w", err)
	}
	if r.Tag == "" {
		return Release{}, ErrNoRelease
	}
	return r, nil
}

// Check compares current against the latest release.
func (c Checker) Check(ctx context.Context, current string) (Result, error) {
	latest, err := c.Latest(ctx)
	if err != nil {
		return Result{}, err
	}
	res := Result{Current: current, Latest: latest}

	cur, lat := canonical(current), canonical(latest.Tag)
	if cur == "" || lat == "" {
		log.Debug("Version not comparable", "current", current, "latest", latest.Tag)
		return res, nil
	}
	res.Comparable = true
	res.Newer = semver.Compare(lat, cur) > 0
	return res, nil
}

// canonical turns "1.2.3" or "v1.2.3" into a semver string, or "" when v is
// not a version.
func canonical(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return ""
	}
	return semver.Canonical(v)
}

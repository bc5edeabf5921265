// Package backend talks to the peer-review REST API: the review matrix of an
// assignment and the assignment list of a course.
package backend

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"peer-review-matrix/matrix"
)

const maxErrorBody = 512

// Assignment is one entry of a course's assignment list. The backend schema
// is opaque here; Fields keeps every attribute as sent.
type Assignment struct {
	Index  int            `json:"index"`
	Name   string         `json:"name"`
	Fields map[string]any `json:"fields"`
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	CacheTTL   time.Duration
	RateLimit  rate.Limit
	Burst      int
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client fetches matrices and assignment lists. Assignment lists are cached
// per course for CacheTTL; matrices are always fetched fresh.
type Client struct {
	baseURL    string
	token      string
	cacheTTL   time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger

	assignmentMutex     sync.Mutex
	assignmentCache     map[assignmentKey][]Assignment
	assignmentTimestamp map[assignmentKey]time.Time
}

// assignmentKey scopes cached assignment lists to the credentials that
// fetched them.
type assignmentKey struct {
	courseID  string
	principal string
}

// New validates the options and builds a Client.
func New(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("backend: invalid base URL %q", opts.BaseURL)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	limit := opts.RateLimit
	if limit <= 0 {
		limit = rate.Inf
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL:             base,
		token:               opts.Token,
		cacheTTL:            opts.CacheTTL,
		httpClient:          httpClient,
		limiter:             rate.NewLimiter(limit, burst),
		logger:              logger.Named("backend"),
		assignmentCache:     make(map[assignmentKey][]Assignment),
		assignmentTimestamp: make(map[assignmentKey]time.Time),
	}, nil
}

type tokenKey struct{}

// WithToken attaches a bearer token to ctx. It takes precedence over the
// token configured on the Client.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

func (c *Client) tokenFor(ctx context.Context) string {
	if t, ok := ctx.Value(tokenKey{}).(string); ok && t != "" {
		return t
	}
	return c.token
}

// Principal identifies the credentials a request on ctx is sent with,
// without exposing the token. Requests without a token share "".
func (c *Client) Principal(ctx context.Context) string {
	token := c.tokenFor(ctx)
	if token == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:16])
}

// FetchMatrix retrieves and flattens the review matrix of one assignment.
// assignmentIndex is 1-based.
func (c *Client) FetchMatrix(ctx context.Context, courseID string, assignmentIndex int) ([]matrix.ReviewRecord, error) {
	if courseID == "" {
		return nil, errors.New("fetch matrix: empty course id")
	}
	if assignmentIndex < 1 {
		return nil, fmt.Errorf("fetch matrix: assignment index %d is not 1-based", assignmentIndex)
	}
	path := fmt.Sprintf("/peer-review/assignments/%s/%s/matrix", url.PathEscape(courseID), strconv.Itoa(assignmentIndex))

	var records []matrix.ReviewRecord
	err := c.getJSON(ctx, "fetch matrix", path, func(body io.Reader) error {
		var err error
		records, err = DecodeMatrix(body)
		return err
	})
	if err != nil {
		return nil, err
	}
	c.logger.Debug("matrix fetched",
		zap.String("course_id", courseID),
		zap.Int("assignment_index", assignmentIndex),
		zap.Int("records", len(records)))
	return records, nil
}

// FetchAssignments retrieves the assignment list of a course, served from
// the cache while it is younger than CacheTTL. Cached lists are only reused
// for the same credentials.
func (c *Client) FetchAssignments(ctx context.Context, courseID string) ([]Assignment, error) {
	if courseID == "" {
		return nil, errors.New("fetch assignments: empty course id")
	}

	key := assignmentKey{courseID: courseID, principal: c.Principal(ctx)}
	c.assignmentMutex.Lock()
	if a, ok := c.assignmentCache[key]; ok && time.Since(c.assignmentTimestamp[key]) < c.cacheTTL {
		c.assignmentMutex.Unlock()
		return a, nil
	}
	c.assignmentMutex.Unlock()

	path := fmt.Sprintf("/assignments/professor/courses/%s/assignments", url.PathEscape(courseID))
	var assignments []Assignment
	err := c.getJSON(ctx, "fetch assignments", path, func(body io.Reader) error {
		var err error
		assignments, err = decodeAssignments(body)
		return err
	})
	if err != nil {
		return nil, err
	}

	if c.cacheTTL > 0 {
		c.assignmentMutex.Lock()
		c.assignmentCache[key] = assignments
		c.assignmentTimestamp[key] = time.Now()
		c.assignmentMutex.Unlock()
	}
	return assignments, nil
}

func (c *Client) getJSON(ctx context.Context, op, path string, decode func(io.Reader) error) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if token := c.tokenFor(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if err := decode(resp.Body); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

var assignmentNameFields = []string{"assignment_name", "name", "title"}

func decodeAssignments(r io.Reader) ([]Assignment, error) {
	var raw []map[string]any
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	assignments := make([]Assignment, 0, len(raw))
	for i, fields := range raw {
		a := Assignment{Index: i + 1, Fields: fields}
		for _, key := range assignmentNameFields {
			if s, ok := fields[key].(string); ok && strings.TrimSpace(s) != "" {
				a.Name = s
				break
			}
		}
		if a.Name == "" {
			a.Name = "Assignment " + strconv.Itoa(a.Index)
		}
		assignments = append(assignments, a)
	}
	return assignments, nil
}

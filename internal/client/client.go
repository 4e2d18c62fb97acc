// Package client is the HTTP client for the kitchend daemon, used by the
// kitchenctl CLI and by the sync bridge's write-back path.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prepline/kitchend/internal/api"
	"github.com/prepline/kitchend/internal/model"
)

const (
	watchScannerInitialBuffer = 64 * 1024
	watchScannerMaxBuffer     = 10 * 1024 * 1024
	defaultUnaryTimeout       = 10 * time.Second
)

type Client struct {
	baseURL      string
	client       *http.Client
	unaryTimeout time.Duration
}

func New(baseURL string) *Client {
	return NewWithClient(baseURL, &http.Client{})
}

func NewWithClient(baseURL string, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{}
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		client:       client,
		unaryTimeout: defaultUnaryTimeout,
	}
}

func (c *Client) WithUnaryTimeout(timeout time.Duration) *Client {
	if c == nil {
		return nil
	}
	clone := *c
	clone.unaryTimeout = timeout
	return &clone
}

// FeedURL is the websocket endpoint for the venue's change feed.
func (c *Client) FeedURL(venueID string) string {
	base := c.baseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/v1/venues/" + url.PathEscape(venueID) + "/feed"
}

type RequestError struct {
	StatusCode int
	Code       string
	Message    string
}

var ErrWatchPayloadInvalid = errors.New("watch payload invalid")

func (e *RequestError) Error() string {
	if e == nil {
		return ""
	}
	code := strings.TrimSpace(e.Code)
	message := strings.TrimSpace(e.Message)
	if code != "" && message != "" {
		return fmt.Sprintf("%s: %s", code, message)
	}
	if code != "" {
		if e.StatusCode > 0 {
			return fmt.Sprintf("http %d: %s", e.StatusCode, code)
		}
		return code
	}
	if message != "" {
		if e.StatusCode > 0 {
			return fmt.Sprintf("http %d: %s", e.StatusCode, message)
		}
		return message
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("http %d", e.StatusCode)
	}
	return "http error"
}

func (e *RequestError) Retryable() bool {
	if e == nil {
		return false
	}
	if e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout {
		return true
	}
	return e.StatusCode >= 500
}

func (c *Client) Health(ctx context.Context) (api.HealthResponse, error) {
	body, err := c.request(ctx, http.MethodGet, "/v1/health", nil, nil, false)
	if err != nil {
		return api.HealthResponse{}, err
	}
	var resp api.HealthResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return api.HealthResponse{}, fmt.Errorf("decode health response: %w", err)
	}
	return resp, nil
}

func (c *Client) ListTimers(ctx context.Context, venueID string) (api.TimersEnvelope, error) {
	body, err := c.request(ctx, http.MethodGet, c.venuePath(venueID, "timers"), nil, nil, false)
	if err != nil {
		return api.TimersEnvelope{}, err
	}
	var env api.TimersEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return api.TimersEnvelope{}, fmt.Errorf("decode timers envelope: %w", err)
	}
	return env, nil
}

func (c *Client) GetTimer(ctx context.Context, venueID, timerID string) (api.TimerEnvelope, error) {
	body, err := c.request(ctx, http.MethodGet, c.venuePath(venueID, "timers", timerID), nil, nil, false)
	if err != nil {
		return api.TimerEnvelope{}, err
	}
	var env api.TimerEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return api.TimerEnvelope{}, fmt.Errorf("decode timer envelope: %w", err)
	}
	return env, nil
}

func (c *Client) StartTimer(ctx context.Context, venueID string, req api.StartTimerRequest) (api.TimerEnvelope, error) {
	body, err := c.request(ctx, http.MethodPost, c.venuePath(venueID, "timers"), nil, req, false)
	if err != nil {
		return api.TimerEnvelope{}, err
	}
	var env api.TimerEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return api.TimerEnvelope{}, fmt.Errorf("decode timer envelope: %w", err)
	}
	return env, nil
}

// UpsertTimer writes a full record. The daemon applies it last-writer-wins.
func (c *Client) UpsertTimer(ctx context.Context, t model.Timer) error {
	req := api.UpsertTimerRequest{Timer: api.FromTimer(t)}
	_, err := c.request(ctx, http.MethodPut, c.venuePath(t.VenueID, "timers", t.ID), nil, req, false)
	return err
}

func (c *Client) DeleteTimer(ctx context.Context, venueID, timerID string) error {
	_, err := c.request(ctx, http.MethodDelete, c.venuePath(venueID, "timers", timerID), nil, nil, false)
	return err
}

func (c *Client) PauseTimer(ctx context.Context, venueID, timerID string) error {
	return c.postAction(ctx, venueID, timerID, "pause", nil)
}

func (c *Client) ResumeTimer(ctx context.Context, venueID, timerID string) error {
	return c.postAction(ctx, venueID, timerID, "resume", nil)
}

func (c *Client) AddTime(ctx context.Context, venueID, timerID string, seconds int64) error {
	return c.postAction(ctx, venueID, timerID, "add-time", api.AddTimeRequest{Seconds: seconds})
}

func (c *Client) SnoozeTimer(ctx context.Context, venueID, timerID string, intervalSeconds int64) error {
	return c.postAction(ctx, venueID, timerID, "snooze", api.SnoozeRequest{IntervalSeconds: intervalSeconds})
}

func (c *Client) DismissTimer(ctx context.Context, venueID, timerID string) error {
	return c.postAction(ctx, venueID, timerID, "dismiss", nil)
}

func (c *Client) postAction(ctx context.Context, venueID, timerID, action string, body any) error {
	_, err := c.request(ctx, http.MethodPost, c.venuePath(venueID, "timers", timerID, action), nil, body, false)
	return err
}

type WatchOptions struct {
	Cursor string
}

type WatchLoopOptions struct {
	Cursor          string
	PollInterval    time.Duration
	RetryMinBackoff time.Duration
	RetryMaxBackoff time.Duration
	Once            bool
}

// WatchOnce fetches one ndjson batch and the cursor to resume from.
func (c *Client) WatchOnce(ctx context.Context, venueID string, opts WatchOptions) ([]api.FeedLine, string, error) {
	query := url.Values{}
	if cursor := strings.TrimSpace(opts.Cursor); cursor != "" {
		query.Set("cursor", cursor)
	}
	body, err := c.request(ctx, http.MethodGet, c.venuePath(venueID, "watch"), query, nil, true)
	if err != nil {
		return nil, "", err
	}
	return decodeFeedLines(body)
}

// WatchLoop polls the watch endpoint, retrying transient failures with
// exponential backoff and feeding every line to onLine in order.
func (c *Client) WatchLoop(ctx context.Context, venueID string, opts WatchLoopOptions, onLine func(api.FeedLine) error) error {
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	minBackoff := opts.RetryMinBackoff
	if minBackoff <= 0 {
		minBackoff = 250 * time.Millisecond
	}
	maxBackoff := opts.RetryMaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 4 * time.Second
	}
	if maxBackoff < minBackoff {
		maxBackoff = minBackoff
	}
	cursor := strings.TrimSpace(opts.Cursor)
	backoff := minBackoff

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		lines, nextCursor, err := c.WatchOnce(ctx, venueID, WatchOptions{Cursor: cursor})
		if err != nil {
			if opts.Once {
				return err
			}
			if errors.Is(err, ErrWatchPayloadInvalid) {
				return err
			}
			var reqErr *RequestError
			if errors.As(err, &reqErr) && !reqErr.Retryable() {
				return err
			}
			if waitErr := sleepWithContext(ctx, backoff); waitErr != nil {
				return waitErr
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		backoff = minBackoff
		if nextCursor != "" {
			cursor = nextCursor
		}
		for _, line := range lines {
			if onLine == nil {
				continue
			}
			if err := onLine(line); err != nil {
				return err
			}
		}
		if opts.Once {
			return nil
		}
		if err := sleepWithContext(ctx, pollInterval); err != nil {
			return err
		}
	}
}

func (c *Client) venuePath(venueID string, parts ...string) string {
	path := "/v1/venues/" + url.PathEscape(venueID)
	for _, p := range parts {
		path += "/" + url.PathEscape(p)
	}
	return path
}

func (c *Client) request(ctx context.Context, method, path string, query url.Values, body any, longLived bool) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	reqCtx := ctx
	if !longLived && c.unaryTimeout > 0 {
		if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > c.unaryTimeout {
			var cancel context.CancelFunc
			reqCtx, cancel = context.WithTimeout(ctx, c.unaryTimeout)
			defer cancel()
		}
	}
	var reqBody io.Reader
	if body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reqBody = buf
	}
	req, err := http.NewRequestWithContext(reqCtx, method, u, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		var er api.ErrorResponse
		if err := json.Unmarshal(payload, &er); err == nil && er.Error.Code != "" {
			return nil, &RequestError{
				StatusCode: resp.StatusCode,
				Code:       er.Error.Code,
				Message:    er.Error.Message,
			}
		}
		return nil, &RequestError{
			StatusCode: resp.StatusCode,
			Code:       fmt.Sprintf("HTTP_%d", resp.StatusCode),
			Message:    strings.TrimSpace(string(payload)),
		}
	}
	return payload, nil
}

func decodeFeedLines(body []byte) ([]api.FeedLine, string, error) {
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, watchScannerInitialBuffer), watchScannerMaxBuffer)
	lines := make([]api.FeedLine, 0)
	nextCursor := ""
	for scanner.Scan() {
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var line api.FeedLine
		if err := json.Unmarshal([]byte(raw), &line); err != nil {
			return nil, "", fmt.Errorf("%w: decode feed line: %v", ErrWatchPayloadInvalid, err)
		}
		if strings.TrimSpace(line.Cursor) != "" {
			nextCursor = strings.TrimSpace(line.Cursor)
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, "", fmt.Errorf("%w: scan feed lines: %v", ErrWatchPayloadInvalid, err)
	}
	return lines, nextCursor, nil
}

func sleepWithContext(ctx context.Context, wait time.Duration) error {
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

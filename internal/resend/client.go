// Package resend is the client for the transactional email provider: paged
// listings of sent and received messages, single-message detail, and sends.
// All provider calls are serialized through a shared throttle gate.
package resend

import (
	"bytes"
	"context"
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
)

const defaultPageLimit = 100

// BatchSendGroupSize bounds how many independent sends go out concurrently.
const BatchSendGroupSize = 50

var ErrMissingAPIKey = errors.New("resend api key is required")

type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("resend http %d: %s", e.StatusCode, e.Message)
}

// Event is one entry from a sent or received listing. Raw preserves the
// provider's payload verbatim for audit alongside the typed fields.
type Event struct {
	ID        string         `json:"id"`
	From      string         `json:"from"`
	To        []string       `json:"to"`
	Subject   string         `json:"subject"`
	LastEvent string         `json:"last_event"`
	CreatedAt string         `json:"created_at"`
	Raw       map[string]any `json:"-"`
}

// Page is one listing page. NextCursor is the last item's ID.
type Page struct {
	Items      []Event
	NextCursor string
	HasMore    bool
}

// Detail is the full content of one message.
type Detail struct {
	ID        string   `json:"id"`
	From      string   `json:"from"`
	To        []string `json:"to"`
	Subject   string   `json:"subject"`
	HTML      string   `json:"html"`
	Text      string   `json:"text"`
	LastEvent string   `json:"last_event"`
	CreatedAt string   `json:"created_at"`
}

type Message struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Bcc     []string `json:"bcc,omitempty"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html,omitempty"`
	Text    string   `json:"text,omitempty"`
}

type SendResult struct {
	ID string `json:"id"`
}

type ClientOptions struct {
	BaseURL          string
	APIKey           string
	HTTPClient       *http.Client
	ThrottleInterval time.Duration
	MaxRetries       int
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	PageLimit        int
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	throttle   *Throttle
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	pageLimit  int
}

func NewClient(opts ClientOptions) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.resend.com"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	pageLimit := opts.PageLimit
	if pageLimit <= 0 {
		pageLimit = defaultPageLimit
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(opts.APIKey),
		httpClient: httpClient,
		throttle:   NewThrottle(opts.ThrottleInterval),
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
		pageLimit:  pageLimit,
	}
}

// ListSentEvents returns one page of sent messages, newest first.
func (c *Client) ListSentEvents(ctx context.Context, cursor string) (Page, error) {
	return c.listPage(ctx, "/emails", cursor)
}

// ListReceivedEvents returns one page of inbound messages, newest first.
func (c *Client) ListReceivedEvents(ctx context.Context, cursor string) (Page, error) {
	return c.listPage(ctx, "/emails/received", cursor)
}

func (c *Client) listPage(ctx context.Context, path, cursor string) (Page, error) {
	if err := c.throttle.Wait(ctx); err != nil {
		return Page{}, err
	}
	q := url.Values{}
	q.Set("limit", strconv.Itoa(c.pageLimit))
	if cursor != "" {
		q.Set("after", cursor)
	}
	var body struct {
		Data    []json.RawMessage `json:"data"`
		HasMore bool              `json:"has_more"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path+"?"+q.Encode(), nil, &body); err != nil {
		return Page{}, err
	}
	page := Page{HasMore: body.HasMore}
	for _, raw := range body.Data {
		var event Event
		if err := json.Unmarshal(raw, &event); err != nil {
			continue
		}
		var rawMap map[string]any
		if err := json.Unmarshal(raw, &rawMap); err == nil {
			event.Raw = rawMap
		}
		page.Items = append(page.Items, event)
	}
	if len(page.Items) > 0 {
		page.NextCursor = page.Items[len(page.Items)-1].ID
	}
	return page, nil
}

// ListAllSent walks every sent page through the throttle gate. When since is
// non-nil, iteration stops at the first item older than the bound: listings
// are reverse-chronological, so the first out-of-bound item terminates the
// scan. Items newer than until are skipped but do not stop the scan.
func (c *Client) ListAllSent(ctx context.Context, since, until *time.Time) ([]Event, error) {
	return c.listAll(ctx, c.ListSentEvents, since, until)
}

// ListAllReceived is ListAllSent for the inbound listing.
func (c *Client) ListAllReceived(ctx context.Context, since, until *time.Time) ([]Event, error) {
	return c.listAll(ctx, c.ListReceivedEvents, since, until)
}

func (c *Client) listAll(
	ctx context.Context,
	fetch func(ctx context.Context, cursor string) (Page, error),
	since, until *time.Time,
) ([]Event, error) {
	var events []Event
	cursor := ""
	for {
		page, err := fetch(ctx, cursor)
		if err != nil {
			return events, err
		}
		for _, event := range page.Items {
			ts, ok := parseEventTime(event.CreatedAt)
			if ok && since != nil && ts.Before(*since) {
				return events, nil
			}
			if ok && until != nil && ts.After(*until) {
				continue
			}
			events = append(events, event)
		}
		if !page.HasMore || page.NextCursor == "" {
			return events, nil
		}
		cursor = page.NextCursor
	}
}

// GetEventDetail fetches one message's authoritative content and timestamps.
func (c *Client) GetEventDetail(ctx context.Context, id string) (Detail, error) {
	if err := c.throttle.Wait(ctx); err != nil {
		return Detail{}, err
	}
	var out Detail
	err := c.doJSON(ctx, http.MethodGet, "/emails/"+url.PathEscape(id), nil, &out)
	return out, err
}

// Send submits one message and returns the provider-assigned ID.
func (c *Client) Send(ctx context.Context, msg Message) (SendResult, error) {
	if err := c.throttle.Wait(ctx); err != nil {
		return SendResult{}, err
	}
	var out SendResult
	err := c.doJSON(ctx, http.MethodPost, "/emails", msg, &out)
	return out, err
}

// BatchSend issues independent sends in concurrent groups of
// BatchSendGroupSize. Results line up with the input order; a failed member
// leaves a zero SendResult and its error in the matching slot.
func (c *Client) BatchSend(ctx context.Context, msgs []Message) ([]SendResult, []error) {
	results := make([]SendResult, len(msgs))
	errs := make([]error, len(msgs))
	for start := 0; start < len(msgs); start += BatchSendGroupSize {
		end := start + BatchSendGroupSize
		if end > len(msgs) {
			end = len(msgs)
		}
		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], errs[i] = c.Send(ctx, msgs[i])
			}(i)
		}
		wg.Wait()
	}
	return results, errs
}

func (c *Client) doJSON(ctx context.Context, method, requestPath string, body, out any) error {
	if c.apiKey == "" {
		return ErrMissingAPIKey
	}
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
				if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}
		payload, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(payload) == 0 {
				return nil
			}
			return json.Unmarshal(payload, out)
		}

		if (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && attempt < c.maxRetries {
			if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}

		message := strings.TrimSpace(string(payload))
		var parsed struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(payload, &parsed) == nil && strings.TrimSpace(parsed.Message) != "" {
			message = parsed.Message
		}
		return &HTTPError{StatusCode: resp.StatusCode, Message: message}
	}
}

func (c *Client) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfterSeconds(retryAfterHeader); retryAfter > 0 {
		if retryAfter > c.maxDelay {
			return c.maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	if delay > c.maxDelay {
		return c.maxDelay
	}
	return delay
}

func parseRetryAfterSeconds(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func parseEventTime(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999-07:00",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
	}
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

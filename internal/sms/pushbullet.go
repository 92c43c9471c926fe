package sms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultAPIBaseURL = "https://api.pushbullet.com"

// defaultMessagingPackage identifies Android's stock messaging app; mirror
// pushes from it are treated as an SMS fallback signal.
const defaultMessagingPackage = "com.google.android.apps.messaging"

type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d", e.StatusCode)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// Wire shapes below mirror the relay's JSON contract and must stay
// compatible bit-for-bit.

type streamFrame struct {
	Type    string       `json:"type"`
	Subtype string       `json:"subtype"`
	Push    *pushPayload `json:"push"`
}

type pushPayload struct {
	Type            string         `json:"type"`
	PackageName     string         `json:"package_name"`
	ApplicationName string         `json:"application_name"`
	Title           string         `json:"title"`
	Body            string         `json:"body"`
	Notifications   []Notification `json:"notifications"`
}

type Push struct {
	Iden          string         `json:"iden"`
	Type          string         `json:"type"`
	Modified      float64        `json:"modified"`
	Notifications []Notification `json:"notifications"`
}

type Notification struct {
	ThreadID  string  `json:"thread_id"`
	Title     string  `json:"title"`
	Body      string  `json:"body"`
	Timestamp float64 `json:"timestamp"`
}

type Device struct {
	Iden     string `json:"iden"`
	Nickname string `json:"nickname"`
	Active   bool   `json:"active"`
	HasSMS   bool   `json:"has_sms"`
}

type Thread struct {
	ID         string          `json:"id"`
	Recipients []ThreadContact `json:"recipients"`
	Latest     *ThreadMessage  `json:"latest"`
}

type ThreadContact struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

type ThreadMessage struct {
	Body      string  `json:"body"`
	Timestamp float64 `json:"timestamp"`
	Direction string  `json:"direction"`
}

// Client issues authenticated request/response calls against the relay's
// REST API. The bearer credential travels in a header and is never logged.
type Client struct {
	baseURL    string
	token      func() string
	httpClient *http.Client
}

// NewClient builds a relay REST client. token is called per request so a
// rotated credential takes effect without rebuilding the client.
func NewClient(baseURL string, token func() string, httpClient *http.Client) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultAPIBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{baseURL: baseURL, token: token, httpClient: httpClient}
}

// RecentPushes fetches the relay's recent-activity list.
func (c *Client) RecentPushes(ctx context.Context, limit int) ([]Push, error) {
	q := url.Values{}
	q.Set("limit", fmt.Sprintf("%d", limit))
	q.Set("active", "true")
	var out struct {
		Pushes []Push `json:"pushes"`
	}
	if err := c.getJSON(ctx, "/v2/pushes?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return out.Pushes, nil
}

func (c *Client) Devices(ctx context.Context) ([]Device, error) {
	var out struct {
		Devices []Device `json:"devices"`
	}
	if err := c.getJSON(ctx, "/v2/devices", &out); err != nil {
		return nil, err
	}
	return out.Devices, nil
}

// DeviceThreads fetches the SMS thread list of one device.
func (c *Client) DeviceThreads(ctx context.Context, deviceIden string) ([]Thread, error) {
	var out struct {
		Threads []Thread `json:"threads"`
	}
	path := fmt.Sprintf("/v2/permanents/%s_threads", url.PathEscape(deviceIden))
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Threads, nil
}

func (c *Client) getJSON(ctx context.Context, requestPath string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+requestPath, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Access-Token", c.token())
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	payload, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errPayload struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.Unmarshal(payload, &errPayload)
		return &HTTPError{StatusCode: resp.StatusCode, Message: errPayload.Error.Message}
	}
	if out == nil || len(payload) == 0 {
		return nil
	}
	return json.Unmarshal(payload, out)
}

package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"storyboard/domain"
)

const defaultRequestTimeout = 10 * time.Second

// API is the board wire protocol as seen from the client side.
type API interface {
	Settings(ctx context.Context) (domain.BoardSettings, error)
	List(ctx context.Context, product, sprint string) (ListResult, error)
	LastChange(ctx context.Context) (domain.Marker, error)
	Login(ctx context.Context, username, password string) error
	Logout(ctx context.Context) error
	// Move submits a status change. ok is false when the server answered
	// with the "0" failure sentinel.
	Move(ctx context.Context, id, status string) (marker domain.Marker, ok bool, err error)
	UpdateCard(ctx context.Context, id string, fields map[string]string) (CardPatch, error)
	AddCard(ctx context.Context, fields map[string]string) (CardPatch, error)
}

// ListResult is the payload of the list endpoint.
type ListResult struct {
	AuthedUser string                 `json:"authed_user"`
	Authed     int                    `json:"authed"`
	Data       map[string]domain.Card `json:"data"`
	Loaded     domain.Marker          `json:"loaded"`
	Sprints    []string               `json:"sprints"`
}

// CardPatch is the payload returned by updateCard and addCard: the
// fields the server actually applied plus the marker it advanced to.
type CardPatch struct {
	Timestamp domain.Marker     `json:"timestamp"`
	ID        string            `json:"id"`
	Data      map[string]string `json:"data"`
}

// ServerError is a critical error payload reported by the server. The
// session surfaces it as a blocking alert instead of crashing.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return "server error: " + e.Message
}

type errorPayload struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
}

// Client speaks the board protocol over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *log.Logger

	mu    sync.Mutex
	token string
}

// NewClient creates a wire client for the board rooted at baseURL. A
// nil httpClient gets a default with a request timeout, so a dead
// server shows up as a failed commit rather than a hung gesture.
func NewClient(baseURL string, httpClient *http.Client, logger *log.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		logger:  logger,
	}
}

// Token returns the bearer token held after a successful login.
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// SetToken installs a bearer token obtained out of band.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) Settings(ctx context.Context) (domain.BoardSettings, error) {
	var out domain.BoardSettings
	err := c.getJSON(ctx, "/xhr/settings", nil, &out)
	return out, err
}

func (c *Client) List(ctx context.Context, product, sprint string) (ListResult, error) {
	q := url.Values{}
	q.Set("product", product)
	q.Set("sprint", sprint)
	var out ListResult
	err := c.getJSON(ctx, "/xhr/list", q, &out)
	return out, err
}

func (c *Client) LastChange(ctx context.Context) (domain.Marker, error) {
	body, err := c.do(ctx, http.MethodGet, "/xhr/lastchange", nil)
	if err != nil {
		return domain.MarkerZero, err
	}
	return domain.ParseMarker(strings.TrimSpace(string(body)))
}

func (c *Client) Login(ctx context.Context, username, password string) error {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)
	var out struct {
		Token string `json:"token"`
	}
	if err := c.postForm(ctx, "/xhr/login", form, &out); err != nil {
		return err
	}
	c.SetToken(out.Token)
	return nil
}

func (c *Client) Logout(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/xhr/logout", nil)
	c.SetToken("")
	return err
}

func (c *Client) Move(ctx context.Context, id, status string) (domain.Marker, bool, error) {
	form := url.Values{}
	form.Set("id", id)
	form.Set("status", status)
	body, err := c.do(ctx, http.MethodPost, "/xhr/move", strings.NewReader(form.Encode()))
	if err != nil {
		return domain.MarkerZero, false, err
	}
	raw := strings.TrimSpace(string(body))
	if raw == domain.MarkerZero.String() {
		return domain.MarkerZero, false, nil
	}
	marker, err := domain.ParseMarker(raw)
	if err != nil {
		return domain.MarkerZero, false, err
	}
	return marker, true, nil
}

func (c *Client) UpdateCard(ctx context.Context, id string, fields map[string]string) (CardPatch, error) {
	form := url.Values{}
	form.Set("id", id)
	for k, v := range fields {
		if k == "id" {
			continue
		}
		form.Set(k, v)
	}
	var out CardPatch
	err := c.postForm(ctx, "/xhr/updateCard", form, &out)
	return out, err
}

func (c *Client) AddCard(ctx context.Context, fields map[string]string) (CardPatch, error) {
	form := url.Values{}
	for k, v := range fields {
		form.Set(k, v)
	}
	var out CardPatch
	err := c.postForm(ctx, "/xhr/addCard", form, &out)
	return out, err
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	p := path
	if len(query) > 0 {
		p += "?" + query.Encode()
	}
	body, err := c.do(ctx, http.MethodGet, p, nil)
	if err != nil {
		return err
	}
	return decodeJSON(body, out)
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values, out any) error {
	body, err := c.do(ctx, http.MethodPost, path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return decodeJSON(body, out)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if srvErr := criticalError(data); srvErr != nil {
		return nil, srvErr
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	return data, nil
}

// criticalError detects the structured {error:true, message} payload
// the server uses for critical failures on any endpoint.
func criticalError(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if !strings.HasPrefix(trimmed, "{") || !strings.Contains(trimmed, "\"error\"") {
		return nil
	}
	var p errorPayload
	if err := sonic.UnmarshalString(trimmed, &p); err != nil || !p.Error {
		return nil
	}
	return &ServerError{Message: p.Message}
}

func decodeJSON(data []byte, out any) error {
	return sonic.Unmarshal(data, out)
}

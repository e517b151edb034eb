package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	credstore "velofood-client-go/internal/domain/credentials/store"
	platformerrors "velofood-client-go/internal/platform/errors"
	"velofood-client-go/internal/platform/logging"
)

const logTag = "API"

const (
	contentTypeHypermedia = "application/ld+json"
	contentTypeJSON       = "application/json"
)

// Client talks to the marketplace backend. It attaches the stored bearer
// token to every authorized request and recovers transparently from expired
// tokens: a 401 triggers a single token refresh shared by all concurrent
// requests, after which the original requests are replayed once.
type Client struct {
	baseURL   string
	http      *http.Client
	store     credstore.Store
	logger    *logging.Logger
	refresher *refresher

	// sessionToken authenticates guest carts. It is only used when the
	// credential store holds no complete token pair.
	sessionToken string
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client (tests inject a
// httptest transport this way).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithTimeout sets the per-request timeout. A hung call then surfaces as a
// network failure instead of stalling its mutation queue forever.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.http.Timeout = timeout
		}
	}
}

// NewClient creates a Client for the given base URL, reading and persisting
// credentials through the provided store.
func NewClient(baseURL string, store credstore.Store, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		store:   store,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.refresher = newRefresher(c.exchangeRefreshToken)
	return c
}

// BaseURL returns the backend base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// CloneWithSession returns a client that authenticates with a guest cart
// session token instead of stored credentials. The clone shares the base URL
// and transport but cannot refresh: a rejected session surfaces as a session
// error.
func (c *Client) CloneWithSession(token string) *Client {
	clone := &Client{
		baseURL:      c.baseURL,
		http:         c.http,
		store:        c.store,
		logger:       c.logger,
		sessionToken: token,
	}
	clone.refresher = newRefresher(clone.exchangeRefreshToken)
	return clone
}

type requestOptions struct {
	anonymous bool
	headers   map[string]string
}

// RequestOption customises a single request.
type RequestOption func(*requestOptions)

// Anonymous sends the request without credentials, with a plain JSON content
// type.
func Anonymous() RequestOption {
	return func(o *requestOptions) {
		o.anonymous = true
	}
}

// WithHeader adds a header to the request.
func WithHeader(key, value string) RequestOption {
	return func(o *requestOptions) {
		if o.headers == nil {
			o.headers = make(map[string]string)
		}
		o.headers[key] = value
	}
}

// Get issues a GET request and returns the decoded body.
func (c *Client) Get(ctx context.Context, uri string, opts ...RequestOption) (Document, error) {
	return c.request(ctx, http.MethodGet, uri, nil, opts...)
}

// Post issues a POST request. A nil body is sent as an empty object so the
// server always receives something parseable.
func (c *Client) Post(ctx context.Context, uri string, body any, opts ...RequestOption) (Document, error) {
	return c.request(ctx, http.MethodPost, uri, body, opts...)
}

// Put issues a PUT request. A nil body is sent as an empty object.
func (c *Client) Put(ctx context.Context, uri string, body any, opts ...RequestOption) (Document, error) {
	return c.request(ctx, http.MethodPut, uri, body, opts...)
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, uri string, opts ...RequestOption) (Document, error) {
	return c.request(ctx, http.MethodDelete, uri, nil, opts...)
}

func (c *Client) request(ctx context.Context, method, uri string, body any, opts ...RequestOption) (Document, error) {
	options := requestOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	c.logger.DebugTag(logTag, method+" "+uri)

	token := ""
	if !options.anonymous {
		token = c.bearerToken(ctx)
	}

	doc, status, err := c.send(ctx, method, uri, body, token, options)
	if err != nil {
		return nil, err
	}

	if status == http.StatusUnauthorized && !options.anonymous {
		return c.recoverUnauthorized(ctx, method, uri, body, options, doc)
	}

	return c.finish(doc, status)
}

// recoverUnauthorized funnels a 401 through the refresh coordinator and
// replays the original request with the new token. Exactly one refresh call
// runs no matter how many requests fail at the same time.
func (c *Client) recoverUnauthorized(ctx context.Context, method, uri string, body any, options requestOptions, failure Document) (Document, error) {
	creds, err := c.store.Load(ctx)
	if err != nil || !creds.Complete() {
		// Nothing to refresh with: guest sessions and anonymous users
		// get the rejection as-is.
		return nil, platformerrors.New(platformerrors.KindSession, "api.request", ResolveErrorMessage(failure))
	}

	c.logger.InfoTag(logTag, "request not authorized, refreshing token")

	token, err := c.refresher.await(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, platformerrors.Wrap(platformerrors.KindRefresh, "api.refresh", "token refresh failed", err)
	}

	c.logger.InfoTag(logTag, "retrying request", "uri", uri)

	doc, status, err := c.send(ctx, method, uri, body, token, options)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		// The fresh token was rejected too. No second refresh.
		return nil, platformerrors.New(platformerrors.KindSession, "api.request", ResolveErrorMessage(doc))
	}
	return c.finish(doc, status)
}

// bearerToken picks the token for an authorized request: the stored pair
// when complete, otherwise the guest session token if any.
func (c *Client) bearerToken(ctx context.Context) string {
	creds, err := c.store.Load(ctx)
	if err == nil && creds.Complete() {
		return creds.AccessToken
	}
	return c.sessionToken
}

// send performs one request/response exchange and decodes the body. It never
// interprets status codes beyond decoding.
func (c *Client) send(ctx context.Context, method, uri string, body any, token string, options requestOptions) (Document, int, error) {
	var reader io.Reader
	if body == nil && (method == http.MethodPost || method == http.MethodPut) {
		body = Document{}
	}
	if body != nil {
		data, err := sonic.Marshal(body)
		if err != nil {
			return nil, 0, platformerrors.Wrap(platformerrors.KindClient, "api.encode", "encode request body", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.resolve(uri), reader)
	if err != nil {
		return nil, 0, platformerrors.Wrap(platformerrors.KindClient, "api.request", "build request", err)
	}

	if options.anonymous {
		req.Header.Set("Content-Type", contentTypeJSON)
	} else {
		req.Header.Set("Content-Type", contentTypeHypermedia)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	for key, value := range options.headers {
		req.Header.Set(key, value)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, platformerrors.Wrap(platformerrors.KindNetwork, "api.send", "no response received", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, platformerrors.Wrap(platformerrors.KindNetwork, "api.read", "read response body", err)
	}

	doc := Document{}
	if len(raw) > 0 {
		if err := sonic.Unmarshal(raw, &doc); err != nil {
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil, 0, platformerrors.Wrap(platformerrors.KindServer, "api.decode", "malformed response body", err)
			}
			// Error statuses may carry non-JSON bodies; keep going
			// with an empty document.
			doc = Document{}
		}
	}
	return doc, resp.StatusCode, nil
}

// finish maps a decoded exchange to the caller-facing result.
func (c *Client) finish(doc Document, status int) (Document, error) {
	switch {
	case status >= 200 && status < 300:
		return doc, nil
	case status >= 500:
		return nil, platformerrors.Wrap(platformerrors.KindServer, "api.request", "server error",
			&APIError{StatusCode: status, Body: doc})
	default:
		return nil, platformerrors.Wrap(platformerrors.KindClient, "api.request", "request rejected",
			&APIError{StatusCode: status, Body: doc})
	}
}

func (c *Client) resolve(uri string) string {
	if strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://") {
		return uri
	}
	if !strings.HasPrefix(uri, "/") {
		uri = "/" + uri
	}
	return c.baseURL + uri
}

package bluesky

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bluesky-social/indigo/atproto/syntax"

	apperrors "github.com/bluejorts/bluesky-archiver/pkg/errors"
	"github.com/bluejorts/bluesky-archiver/pkg/logger"
)

const (
	MethodCreateSession  = "com.atproto.server.createSession"
	MethodGetActorLikes  = "app.bsky.feed.getActorLikes"
	MethodGetAuthorFeed  = "app.bsky.feed.getAuthorFeed"
	MethodGetBlob        = "com.atproto.sync.getBlob"
	defaultUserAgent     = "bsky-archiver/1.0"
	maxResponseBodyBytes = 64 << 20
)

// Client talks XRPC to a PDS. It holds no session; callers pass one in.
type Client struct {
	httpClient *http.Client
	baseURL    string
	headers    map[string]string
	maxBody    int64
	logger     logger.Logger
}

// NewClient creates a client for the given XRPC base URL, e.g. https://bsky.social/xrpc
func NewClient(baseURL string, timeout time.Duration, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		headers: map[string]string{
			"User-Agent": defaultUserAgent,
			"Accept":     "application/json",
		},
		maxBody: maxResponseBodyBytes,
		logger:  log,
	}
}

// Login exchanges a handle and app password for a session
func (c *Client) Login(ctx context.Context, identifier, password string) (*Session, error) {
	payload, err := json.Marshal(map[string]string{
		"identifier": identifier,
		"password":   password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode login request: %w", err)
	}

	status, body, err := c.Request(ctx, nil, http.MethodPost, MethodCreateSession, nil, payload)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		c.logger.WarnWithFields("Login rejected", map[string]interface{}{
			"identifier": identifier,
			"status":     status,
		})
		return nil, apperrors.NewAuthError(status, body)
	}

	var resp struct {
		DID        string `json:"did"`
		Handle     string `json:"handle"`
		AccessJWT  string `json:"accessJwt"`
		RefreshJWT string `json:"refreshJwt"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, apperrors.NewDecodeError(MethodCreateSession, err, body)
	}
	if resp.AccessJWT == "" {
		return nil, apperrors.NewDecodeError(MethodCreateSession, fmt.Errorf("missing accessJwt"), body)
	}
	did, err := syntax.ParseDID(resp.DID)
	if err != nil {
		return nil, apperrors.NewDecodeError(MethodCreateSession, err, body)
	}
	handle := resp.Handle
	if h, err := syntax.ParseHandle(handle); err == nil {
		handle = h.Normalize().String()
	}

	session := newSession(did.String(), handle, resp.AccessJWT, resp.RefreshJWT)
	c.logger.InfoWithFields("Logged in", map[string]interface{}{
		"did":    session.DID,
		"handle": session.Handle,
	})
	return session, nil
}

// Request sends one XRPC call and returns the raw status and body. It does
// not interpret the status; a non-nil error means the call never completed.
func (c *Client) Request(ctx context.Context, session *Session, method, path string, query url.Values, body []byte) (int, []byte, error) {
	endpoint := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if session != nil {
		req.Header.Set("Authorization", "Bearer "+session.AccessJWT)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.ErrorWithFields("HTTP request failed", map[string]interface{}{
			"method":   method,
			"path":     path,
			"error":    err.Error(),
			"duration": time.Since(start),
		})
		return 0, nil, apperrors.NewNetworkError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return resp.StatusCode, nil, apperrors.NewNetworkError(fmt.Errorf("failed to read response body: %w", err))
	}
	if int64(len(data)) > c.maxBody {
		c.logger.ErrorWithFields("Response body too large", map[string]interface{}{
			"method": method,
			"path":   path,
			"status": resp.StatusCode,
			"limit":  c.maxBody,
		})
		return resp.StatusCode, nil, apperrors.NewNetworkError(fmt.Errorf("%s response body exceeds %d bytes", path, c.maxBody))
	}

	c.logger.DebugWithFields("HTTP request completed", map[string]interface{}{
		"method":   method,
		"path":     path,
		"status":   resp.StatusCode,
		"bytes":    len(data),
		"duration": time.Since(start),
	})
	return resp.StatusCode, data, nil
}

// DownloadBlob fetches a blob's bytes. Any non-2xx status is an error; it is
// not retried here.
func (c *Client) DownloadBlob(ctx context.Context, session *Session, did, cid string) ([]byte, error) {
	q := url.Values{}
	q.Set("did", did)
	q.Set("cid", cid)

	status, body, err := c.Request(ctx, session, http.MethodGet, MethodGetBlob, q, nil)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, apperrors.NewAPIError(MethodGetBlob, status, body)
	}
	return body, nil
}

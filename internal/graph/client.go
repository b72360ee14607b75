// Package graph implements a small bearer-token client for the Microsoft Graph REST API
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/hashicorp/go-cleanhttp"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxBodySize bounds the amount of bytes read from a single upstream response
var maxBodySize int64 = 10 << 20

// ErrBodyTooLarge is returned when an upstream response body exceeds the size limit
var ErrBodyTooLarge = errors.New("the upstream response body is too large")

// UpstreamError is returned whenever the remote API responds with a non-2xx status code
type UpstreamError struct {
	Status      int
	ContentType string
	Body        []byte
}

func (err *UpstreamError) Error() string {
	return fmt.Sprintf("upstream API responded with status %d", err.Status)
}

// Response represents a successful (2xx) upstream response
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

// JSON decodes the response body into a generic JSON value.
// An empty body (i.e. 204 No Content) decodes to nil.
func (response *Response) JSON() (any, error) {
	if len(bytes.TrimSpace(response.Body)) == 0 {
		return nil, nil
	}
	var value any
	if err := json.Unmarshal(response.Body, &value); err != nil {
		return nil, fmt.Errorf("could not decode the upstream response: %w", err)
	}
	return value, nil
}

// Client calls the Graph API on behalf of a user
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
}

// New creates a new Graph API client.
// A timeout of 0 leaves requests unbounded (apart from the context they are issued with).
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		timeout:    timeout,
		httpClient: cleanhttp.DefaultPooledClient(),
	}
}

// Me retrieves the profile of the signed-in user
func (client *Client) Me(ctx context.Context, accessToken string) (*Response, error) {
	return client.do(ctx, accessToken, http.MethodGet, client.baseURL+"/me", nil, client.timeout)
}

// Users retrieves the list of users of the directory
func (client *Client) Users(ctx context.Context, accessToken string) (*Response, error) {
	return client.do(ctx, accessToken, http.MethodGet, client.baseURL+"/users", nil, client.timeout)
}

// UpdateUser updates the properties of a user using a PATCH request
func (client *Client) UpdateUser(ctx context.Context, accessToken, id string, update any) (*Response, error) {
	body, err := json.Marshal(update)
	if err != nil {
		return nil, err
	}
	target := client.baseURL + "/users/" + url.PathEscape(id)
	return client.do(ctx, accessToken, http.MethodPatch, target, body, client.timeout)
}

// Get issues a GET request against an arbitrary absolute URL, bounded by the given timeout
func (client *Client) Get(ctx context.Context, accessToken, target string, timeout time.Duration) (*Response, error) {
	return client.do(ctx, accessToken, http.MethodGet, target, nil, timeout)
}

func (client *Client) do(ctx context.Context, accessToken, method, target string, body []byte, timeout time.Duration) (*Response, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	request, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	request.Header.Set("Authorization", "Bearer "+accessToken)
	request.Header.Set("Accept", "application/json")
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := client.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer response.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(response.Body, maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("%s %s: could not read the response body: %w", method, target, err)
	}
	if int64(len(payload)) > maxBodySize {
		return nil, fmt.Errorf("%s %s (status %d): %w", method, target, response.StatusCode, ErrBodyTooLarge)
	}

	contentType := response.Header.Get("Content-Type")
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return nil, &UpstreamError{
			Status:      response.StatusCode,
			ContentType: contentType,
			Body:        payload,
		}
	}
	return &Response{
		Status:      response.StatusCode,
		ContentType: contentType,
		Body:        payload,
	}, nil
}

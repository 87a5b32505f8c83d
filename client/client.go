package client

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/foomo/storysync/pkg/handler"
	"github.com/foomo/storysync/pkg/story"
	"github.com/foomo/storysync/pkg/utils"
	"github.com/foomo/storysync/requests"
	"github.com/foomo/storysync/responses"
	"github.com/pkg/errors"
)

// Client a storysync client
type Client struct {
	t transport
}

func New(t transport) *Client {
	return &Client{
		t: t,
	}
}

// NewHTTPClient returns a client for the http surface mounted at server, e.g. http://localhost:8080/storysync
func NewHTTPClient(server string, opts ...HTTPClientOption) (*Client, error) {
	if !utils.IsValidURL(server) {
		return nil, errors.Errorf("invalid server url %q", server)
	}
	o := &httpClientOptions{client: http.DefaultClient}
	for _, opt := range opts {
		opt(o)
	}
	return New(NewHTTPTransport(strings.TrimSuffix(server, "/"), o.client)), nil
}

// NewSocketClient returns a client for the socket surface listening on address
func NewSocketClient(address string, connectionPoolSize int, waitTimeout time.Duration) (*Client, error) {
	if _, _, err := net.SplitHostPort(address); err != nil {
		return nil, errors.Wrap(err, "invalid address")
	}
	return New(NewSocketTransport(address, connectionPoolSize, waitTimeout)), nil
}

// ------------------------------------------------------------------------------------------------
// ~ Options
// ------------------------------------------------------------------------------------------------

type (
	httpClientOptions struct {
		client *http.Client
	}
	HTTPClientOption func(*httpClientOptions)
)

func WithHTTPClient(v *http.Client) HTTPClientOption {
	return func(o *httpClientOptions) {
		o.client = v
	}
}

// ------------------------------------------------------------------------------------------------
// ~ Public methods
// ------------------------------------------------------------------------------------------------

// GetStories loads one page of stories
func (c *Client) GetStories(ctx context.Context, page, size int, locationOnly bool) (*responses.Stories, error) {
	response := &responses.Stories{}
	if err := c.t.call(ctx, handler.RouteGetStories, &requests.Stories{Page: page, Size: size, LocationOnly: locationOnly}, response); err != nil {
		return nil, err
	}
	return response, nil
}

// SubmitStory uploads a story, or queues it when the server is offline
func (c *Client) SubmitStory(ctx context.Context, request *requests.SubmitStory) (*responses.Submit, error) {
	response := &responses.Submit{}
	if err := c.t.call(ctx, handler.RouteSubmitStory, request, response); err != nil {
		return nil, err
	}
	return response, nil
}

func (c *Client) DeleteStory(ctx context.Context, id string) error {
	return c.t.call(ctx, handler.RouteDeleteStory, &requests.DeleteStory{ID: id}, &responses.Status{})
}

func (c *Client) Search(ctx context.Context, query string) ([]story.Story, error) {
	response := &responses.Search{}
	if err := c.t.call(ctx, handler.RouteSearch, &requests.Search{Query: query}, response); err != nil {
		return nil, err
	}
	return response.Stories, nil
}

// Subscribe registers the push subscription the caller obtained from its push service
func (c *Client) Subscribe(ctx context.Context, request *requests.Subscribe) (*responses.Subscription, error) {
	response := &responses.Subscription{}
	if err := c.t.call(ctx, handler.RouteSubscribe, request, response); err != nil {
		return nil, err
	}
	return response, nil
}

func (c *Client) Unsubscribe(ctx context.Context) error {
	return c.t.call(ctx, handler.RouteUnsubscribe, &requests.Unsubscribe{}, &responses.Status{})
}

// Close releases the connections of the client
func (c *Client) Close() {
	c.t.shutdown()
}

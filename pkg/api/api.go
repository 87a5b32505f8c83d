package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/foomo/storysync/pkg/fetch"
	"github.com/foomo/storysync/pkg/story"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	DefaultBaseURL = "https://story-api.dicoding.dev/v1"

	pathRegister   = "/register"
	pathLogin      = "/login"
	pathStories    = "/stories"
	pathGuestStory = "/stories/guest"
	pathSubscribe  = "/notifications/subscribe"
)

type (
	// API speaks the story service's wire contract on top of the fetch client.
	API struct {
		l       *zap.Logger
		client  *fetch.Client
		baseURL string
	}
	// Page selects a slice of the story list. Location 1 only returns stories with coordinates.
	Page struct {
		Page     int
		Size     int
		Location int
	}
	LoginResult struct {
		UserID string `json:"userId"`
		Name   string `json:"name"`
		Token  string `json:"token"`
	}
	envelope struct {
		Error       bool          `json:"error"`
		Message     string        `json:"message"`
		ListStory   []story.Story `json:"listStory,omitempty"`
		Story       *story.Story  `json:"story,omitempty"`
		LoginResult *LoginResult  `json:"loginResult,omitempty"`
	}
)

// ------------------------------------------------------------------------------------------------
// ~ Constructor
// ------------------------------------------------------------------------------------------------

func New(l *zap.Logger, client *fetch.Client, baseURL string) *API {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &API{
		l:       l.Named("api"),
		client:  client,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

// ------------------------------------------------------------------------------------------------
// ~ Public methods
// ------------------------------------------------------------------------------------------------

func (a *API) BaseURL() string {
	return a.baseURL
}

// ListStories fetches one page of the authoritative story list.
func (a *API) ListStories(ctx context.Context, p Page) ([]story.Story, error) {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Size < 1 {
		p.Size = 10
	}
	q := url.Values{}
	q.Set("page", strconv.Itoa(p.Page))
	q.Set("size", strconv.Itoa(p.Size))
	q.Set("location", strconv.Itoa(p.Location))

	env, err := a.call(ctx, fetch.Request{Method: http.MethodGet, URL: a.baseURL + pathStories + "?" + q.Encode()}, fetch.DefaultRetries)
	if err != nil {
		return nil, err
	}
	return env.ListStory, nil
}

func (a *API) GetStory(ctx context.Context, id string) (story.Story, error) {
	env, err := a.call(ctx, fetch.Request{Method: http.MethodGet, URL: a.baseURL + pathStories + "/" + url.PathEscape(id)}, fetch.DefaultRetries)
	if err != nil {
		return story.Story{}, err
	}
	if env.Story == nil {
		return story.Story{}, errors.Errorf("story %s missing in response", id)
	}
	return *env.Story, nil
}

// SubmitStory uploads a prepared submission. Non-2xx replies are retried like transport failures.
func (a *API) SubmitStory(ctx context.Context, p *story.Payload) error {
	_, err := a.call(ctx, a.uploadRequest(pathStories, p, false), fetch.DefaultRetries)
	return err
}

// SubmitGuestStory uploads without a token.
func (a *API) SubmitGuestStory(ctx context.Context, p *story.Payload) error {
	_, err := a.call(ctx, a.uploadRequest(pathGuestStory, p, true), fetch.DefaultRetries)
	return err
}

func (a *API) Register(ctx context.Context, name, email, password string) error {
	req, err := a.jsonRequest(http.MethodPost, pathRegister, map[string]string{
		"name":     name,
		"email":    email,
		"password": password,
	})
	if err != nil {
		return err
	}
	req.NoAuth = true
	_, err = a.call(ctx, req, 0)
	return err
}

func (a *API) Login(ctx context.Context, email, password string) (LoginResult, error) {
	req, err := a.jsonRequest(http.MethodPost, pathLogin, map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return LoginResult{}, err
	}
	req.NoAuth = true
	env, err := a.call(ctx, req, 0)
	if err != nil {
		return LoginResult{}, err
	}
	if env.LoginResult == nil {
		return LoginResult{}, errors.New("login result missing in response")
	}
	return *env.LoginResult, nil
}

// SubscribePush registers the subscription's endpoint and keys with the service.
func (a *API) SubscribePush(ctx context.Context, sub story.Subscription) error {
	req, err := a.jsonRequest(http.MethodPost, pathSubscribe, sub)
	if err != nil {
		return err
	}
	_, err = a.call(ctx, req, fetch.DefaultRetries)
	return err
}

func (a *API) UnsubscribePush(ctx context.Context, endpoint string) error {
	req, err := a.jsonRequest(http.MethodDelete, pathSubscribe, map[string]string{"endpoint": endpoint})
	if err != nil {
		return err
	}
	_, err = a.call(ctx, req, fetch.DefaultRetries)
	return err
}

// ------------------------------------------------------------------------------------------------
// ~ Private methods
// ------------------------------------------------------------------------------------------------

func (a *API) uploadRequest(path string, p *story.Payload, guest bool) fetch.Request {
	return fetch.Request{
		Method: http.MethodPost,
		URL:    a.baseURL + path,
		Header: http.Header{"Content-Type": []string{p.ContentType}},
		Body:   p.Body,
		NoAuth: guest,
	}
}

func (a *API) jsonRequest(method, path string, body any) (fetch.Request, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return fetch.Request{}, errors.Wrap(err, "failed to encode request")
	}
	return fetch.Request{
		Method: method,
		URL:    a.baseURL + path,
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Body:   data,
	}, nil
}

// call performs req and decodes the envelope, an envelope flagged as error is a NetworkError.
func (a *API) call(ctx context.Context, req fetch.Request, retries int) (*envelope, error) {
	resp, err := a.client.DoWithRetries(ctx, req, retries)
	if err != nil {
		return nil, err
	}
	env := &envelope{}
	if len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, env); err != nil {
			return nil, &story.NetworkError{URL: req.URL, Attempts: 1, Status: resp.StatusCode, Err: errors.Wrap(err, "failed to decode response")}
		}
	}
	if env.Error {
		a.l.Warn("service replied with error", zap.String("url", req.URL), zap.String("message", env.Message))
		return nil, &story.NetworkError{URL: req.URL, Attempts: 1, Status: resp.StatusCode, Err: errors.New(env.Message)}
	}
	return env, nil
}

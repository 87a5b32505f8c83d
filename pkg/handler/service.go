package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/foomo/storysync/pkg/app"
	"github.com/foomo/storysync/pkg/coordinator"
	"github.com/foomo/storysync/pkg/metrics"
	"github.com/foomo/storysync/pkg/story"
	"github.com/foomo/storysync/pkg/subscription"
	"github.com/foomo/storysync/requests"
	"github.com/foomo/storysync/responses"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// fallbackReply is sent when a reply can not be encoded
var fallbackReply = []byte(`{"reply":{"status":500,"code":3,"message":"could not encode reply"}}`)

// executor runs routes against the collaborator facade, shared by the http and socket surfaces.
type executor struct {
	l   *zap.Logger
	svc *app.Service
}

// ------------------------------------------------------------------------------------------------
// ~ Private methods
// ------------------------------------------------------------------------------------------------

func (e *executor) handleRequest(ctx context.Context, route Route, jsonBytes []byte, source string) []byte {
	start := time.Now()

	reply := e.executeRequest(ctx, route, jsonBytes)
	result := "success"
	if _, ok := reply.(*responses.Error); ok {
		result = "error"
	}

	metrics.ServiceRequestCounter.WithLabelValues(string(route), result, source).Inc()
	metrics.ServiceRequestDuration.WithLabelValues(string(route), result, source).Observe(time.Since(start).Seconds())

	bytes, err := e.encodeReply(reply)
	if err != nil {
		return fallbackReply
	}
	return bytes
}

func (e *executor) executeRequest(ctx context.Context, route Route, jsonBytes []byte) interface{} {
	var (
		reply             interface{}
		apiErr            error
		jsonErr           error
		processIfJSONIsOk = func(err error, processingFunc func()) {
			if err != nil {
				jsonErr = err
				return
			}
			processingFunc()
		}
	)

	switch route {
	case RouteGetStories:
		req := &requests.Stories{}
		processIfJSONIsOk(json.Unmarshal(jsonBytes, req), func() {
			var res coordinator.Result
			res, apiErr = e.svc.GetStories(ctx, req.Page, req.Size, req.LocationOnly)
			reply = &responses.Stories{Stories: nonNil(res.Stories), Source: string(res.Source)}
		})
	case RouteSubmitStory:
		req := &requests.SubmitStory{}
		processIfJSONIsOk(json.Unmarshal(jsonBytes, req), func() {
			var res app.SubmitResult
			res, apiErr = e.svc.SubmitStory(ctx, req.Submission())
			reply = &responses.Submit{Story: res.Story, Queued: res.Queued}
		})
	case RouteDeleteStory:
		req := &requests.DeleteStory{}
		processIfJSONIsOk(json.Unmarshal(jsonBytes, req), func() {
			if req.ID == "" {
				apiErr = story.NewValidationError("id", "must not be empty")
				return
			}
			apiErr = e.svc.DeleteStory(ctx, req.ID)
			reply = &responses.Status{Success: apiErr == nil}
		})
	case RouteSearch:
		req := &requests.Search{}
		processIfJSONIsOk(json.Unmarshal(jsonBytes, req), func() {
			var res []story.Story
			res, apiErr = e.svc.Search(ctx, req.Query)
			reply = &responses.Search{Stories: nonNil(res)}
		})
	case RouteSubscribe:
		req := &requests.Subscribe{}
		processIfJSONIsOk(json.Unmarshal(jsonBytes, req), func() {
			var sub story.Subscription
			sub, apiErr = e.svc.Subscribe(ctx, subscription.Provided{Subscription: req.Subscription(), Denied: req.Denied})
			reply = &responses.Subscription{Endpoint: sub.Endpoint, Keys: sub.Keys}
		})
	case RouteUnsubscribe:
		req := &requests.Unsubscribe{}
		processIfJSONIsOk(json.Unmarshal(jsonBytes, req), func() {
			apiErr = e.svc.Unsubscribe(ctx, subscription.Provided{})
			reply = &responses.Status{Success: apiErr == nil}
		})
	default:
		return responses.NewBadRequest(responses.CodeUnknownRoute, "unknown handler: "+string(route))
	}

	// error handling
	if jsonErr != nil {
		e.l.Error("could not read incoming json", zap.Error(jsonErr))
		return responses.NewBadRequest(responses.CodeInvalidJSON, "could not read incoming json "+jsonErr.Error())
	} else if apiErr != nil {
		return e.apiError(route, apiErr)
	}
	return reply
}

func (e *executor) apiError(route Route, err error) *responses.Error {
	var (
		validationErr   *story.ValidationError
		subscriptionErr *story.SubscriptionError
	)
	switch {
	case errors.As(err, &validationErr):
		e.l.Info("rejected invalid request", zap.String("route", string(route)), zap.Error(err))
		return responses.NewBadRequest(responses.CodeValidation, validationErr.Error())
	case errors.As(err, &subscriptionErr):
		e.l.Warn("subscription failed", zap.Error(err))
		ret := responses.NewError(responses.CodeSubscription, subscriptionErr.Error())
		if subscriptionErr.Denied {
			ret.Status = http.StatusForbidden
		}
		return ret
	default:
		e.l.Error("an API error occurred", zap.String("route", string(route)), zap.Error(err))
		return responses.NewError(responses.CodeInternal, "internal error "+err.Error())
	}
}

// encodeReply takes an interface and encodes it as JSON
// it returns the resulting JSON and a marshalling error
func (e *executor) encodeReply(reply interface{}) (bytes []byte, err error) {
	bytes, err = json.Marshal(map[string]interface{}{
		"reply": reply,
	})
	if err != nil {
		e.l.Error("could not encode reply", zap.Error(err))
	}
	return
}

func nonNil(v []story.Story) []story.Story {
	if v == nil {
		return []story.Story{}
	}
	return v
}

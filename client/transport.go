package client

import (
	"context"

	"github.com/foomo/storysync/pkg/handler"
	"github.com/foomo/storysync/responses"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type transport interface {
	call(ctx context.Context, route handler.Route, request interface{}, response interface{}) error
	shutdown()
}

type serverResponse struct {
	Reply jsoniter.RawMessage `json:"reply"`
}

// decodeReply unwraps the reply envelope, remote errors are returned as responses.Error.
func decodeReply(data []byte, response interface{}) error {
	var envelope serverResponse
	if err := json.Unmarshal(data, &envelope); err != nil {
		return errors.Wrapf(err, "could not unmarshal response %q", string(data))
	}
	if len(envelope.Reply) == 0 {
		return errors.New("empty reply")
	}
	remoteErr := responses.Error{}
	if err := json.Unmarshal(envelope.Reply, &remoteErr); err == nil && remoteErr.Code != 0 {
		return remoteErr
	}
	if response == nil {
		return nil
	}
	return errors.Wrap(json.Unmarshal(envelope.Reply, response), "could not unmarshal reply")
}

package endpoint

import (
	"context"
	"time"

	"github.com/go-kit/kit/endpoint"
)

// sendTimeout bounds a single send made through the endpoint.
const sendTimeout = 10 * time.Second

// Sender wraps the method used by the send endpoint.
type Sender interface {
	Send(ctx context.Context, body string) error
}

// SendRequest contains the body of a message to send.
type SendRequest struct {
	Body string `json:"body"`
}

// SendResponse contains the result of a call to the Send endpoint.
type SendResponse struct {
	e error
}

// Failed indicates if the message could not be sent.
func (s SendResponse) Failed() error {
	return s.e
}

// MakeSendEndpoint creates an endpoint for sending messages.
func MakeSendEndpoint(s Sender) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (response interface{}, err error) {
		ctx, cancel := context.WithTimeout(ctx, sendTimeout)
		defer cancel()

		req := request.(SendRequest)
		err = s.Send(ctx, req.Body)
		return SendResponse{e: err}, nil
	}
}

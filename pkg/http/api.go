package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	gohttp "net/http"

	"github.com/VictoriaMetrics/metrics"
	"github.com/go-kit/kit/endpoint"
	"github.com/go-kit/kit/transport/http"
	"github.com/pkg/errors"

	sendendpoint "github.com/rwool/servicebus-demo/pkg/endpoint"
)

// NewHTTPHandler returns a handler that makes the send endpoint available via
// HTTP, along with /metrics and /liveness.
func NewHTTPHandler(endpoint endpoint.Endpoint, options map[string][]http.ServerOption) gohttp.Handler {
	if options == nil {
		options = make(map[string][]http.ServerOption)
	}
	m := gohttp.NewServeMux()
	makeSendHandler(m, endpoint, options["Send"]...)
	m.HandleFunc("/metrics", func(w gohttp.ResponseWriter, _ *gohttp.Request) {
		metrics.WritePrometheus(w, false)
	})
	m.HandleFunc("/liveness", func(gohttp.ResponseWriter, *gohttp.Request) {})
	return m
}

type errorResponse struct {
	Error string
}

func encodeSendResponse(_ context.Context, w gohttp.ResponseWriter, r interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if v, ok := r.(endpoint.Failer); ok && v.Failed() != nil {
		w.WriteHeader(gohttp.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(errorResponse{Error: v.Failed().Error()})
		return nil
	}
	_, err := io.WriteString(w, "{}\n")
	return errors.WithStack(err)
}

// errInvalidMessage is returned by the decoder for requests without a body.
var errInvalidMessage = errors.New("invalid message")

func decodeSendRequest(_ context.Context, req *gohttp.Request) (i interface{}, e error) {
	decoder := json.NewDecoder(req.Body)
	decoder.DisallowUnknownFields()
	defer func() {
		err := req.Body.Close()
		if e != nil && err != nil {
			e = errors.Wrapf(e, "multiple errors: %s", err)
			return
		}
		if err != nil {
			e = err
		}
	}()
	var sr sendendpoint.SendRequest
	err := decoder.Decode(&sr)
	if err == io.EOF {
		err = nil
	}
	if err != nil {
		return nil, errors.Wrap(errInvalidMessage, err.Error())
	}

	if sr.Body == "" {
		return nil, errInvalidMessage
	}
	return sr, nil
}

// encodeError writes decode failures as 400 and anything else as 500.
func encodeError(_ context.Context, err error, w gohttp.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	code := gohttp.StatusInternalServerError
	if errors.Cause(err) == errInvalidMessage {
		code = gohttp.StatusBadRequest
	}
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: err.Error()})
}

func makeSendHandler(m *gohttp.ServeMux, endpoint endpoint.Endpoint, options ...http.ServerOption) {
	options = append([]http.ServerOption{http.ServerErrorEncoder(encodeError)}, options...)
	handler := http.NewServer(endpoint,
		decodeSendRequest,
		encodeSendResponse,
		options...)
	hf := func(w gohttp.ResponseWriter, r *gohttp.Request) {
		if r.Method != gohttp.MethodPost {
			w.WriteHeader(gohttp.StatusMethodNotAllowed)
			_, _ = fmt.Fprintf(w, "Invalid request method %s", r.Method)
			return
		}
		handler.ServeHTTP(w, r)
	}
	m.Handle("/messages", gohttp.HandlerFunc(hf))
}

// Package transport executes compiled documents against services speaking
// GraphQL over HTTP.
package transport

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hanpama/fedgate/internal/reqid"
	"github.com/hanpama/fedgate/internal/service"
	jsoniter "github.com/json-iterator/go"
	"google.golang.org/grpc/metadata"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Transport is a service.Execution that posts documents to the endpoints
// reported by an EndpointProvider.
type Transport struct {
	opts   *Options
	client *resty.Client
	closed atomic.Bool
}

var _ service.Execution = (*Transport)(nil)

func New(opts ...Option) *Transport {
	o := defaultOptions()
	for _, f := range opts {
		f(o)
	}
	client := resty.New()
	if o.HTTPClient != nil {
		client = resty.NewWithClient(o.HTTPClient)
	}
	client.JSONMarshal = json.Marshal
	client.JSONUnmarshal = json.Unmarshal
	client.SetRetryCount(o.RetryCount)
	client.SetHeader("Accept", "application/graphql-response+json, application/json")
	client.SetHeaders(o.Headers)
	return &Transport{opts: o, client: client}
}

type request struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

type response struct {
	Data       map[string]any   `json:"data"`
	Errors     []map[string]any `json:"errors"`
	Extensions map[string]any   `json:"extensions"`
}

func (t *Transport) Execute(ctx context.Context, params *service.Parameters) (*service.Result, error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}
	if t.opts.Provider == nil {
		return nil, fmt.Errorf("transport: provider not configured")
	}

	// A hydration timeout bounds the backing call; otherwise the default
	// applies only when the caller set no deadline.
	switch {
	case params.Hydration != nil && params.Hydration.Timeout > 0:
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, params.Hydration.Timeout)
		defer cancel()
	default:
		if _, ok := ctx.Deadline(); !ok && t.opts.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, t.opts.Timeout)
			defer cancel()
		}
	}

	endpoints, err := t.opts.Provider.Endpoints(ctx, params.Service)
	if err != nil {
		return nil, fmt.Errorf("endpoints of %s: %w", params.Service, err)
	}
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("endpoints of %s: %w", params.Service, ErrNoEndpoints)
	}
	endpoint := endpoints[rand.Intn(len(endpoints))]

	req := t.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(request{Query: params.QueryText, OperationName: params.OperationName, Variables: params.Variables})
	if md, ok := metadata.FromOutgoingContext(ctx); ok {
		for k, v := range md {
			if len(v) > 0 {
				req.SetHeader(k, strings.Join(v, ", "))
			}
		}
	}
	if id := params.ExecutionID; id != "" {
		req.SetHeader(reqid.Header, id)
	}

	start := time.Now()
	resp, err := req.Post(endpoint)
	log := t.opts.Logger.WithField("service", params.Service).WithField("endpoint", endpoint)
	if err != nil {
		log.WithError(err).Debug("request failed")
		return nil, err
	}
	log.WithField("status", resp.StatusCode()).WithField("duration", time.Since(start)).Debug("request finished")

	var out response
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		if resp.IsError() {
			return nil, fmt.Errorf("%s responded %s", params.Service, resp.Status())
		}
		return nil, fmt.Errorf("decoding response of %s: %w", params.Service, err)
	}
	if resp.IsError() && out.Data == nil && len(out.Errors) == 0 {
		return nil, fmt.Errorf("%s responded %s", params.Service, resp.Status())
	}
	return &service.Result{Data: out.Data, Errors: out.Errors, Extensions: out.Extensions}, nil
}

func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	t.client.GetClient().CloseIdleConnections()
	return nil
}

package otel

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/hanpama/fedgate/internal/eventbus"
	"github.com/hanpama/fedgate/internal/events"
	"github.com/hanpama/fedgate/internal/reqid"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSubscriberBuildsSpanTree(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	bus := eventbus.New()
	unsubscribe := newSubscriber(tp.Tracer("test")).register(bus)
	defer unsubscribe()

	ctx, id := reqid.NewContext(context.Background())
	req := httptest.NewRequest("POST", "/graphql", nil)

	eventbus.PublishTo(ctx, bus, events.HTTPStart{Request: req})
	eventbus.PublishTo(ctx, bus, events.GraphQLStart{ExecutionID: id, OperationName: "Pets"})
	eventbus.PublishTo(ctx, bus, events.ServiceCallStart{CallID: "c1", Service: "pets"})
	eventbus.PublishTo(ctx, bus, events.ServiceCallFinish{CallID: "c1", Service: "pets", Err: errors.New("down")})
	eventbus.PublishTo(ctx, bus, events.GraphQLFinish{ExecutionID: id, OperationType: "query", ErrorCount: 1})
	eventbus.PublishTo(ctx, bus, events.HTTPFinish{Request: req, Status: 200})

	spans := rec.Ended()
	require.Len(t, spans, 3)
	service, operation, http := spans[0], spans[1], spans[2]
	require.Equal(t, "graphql.service", service.Name())
	require.Equal(t, "graphql.operation", operation.Name())
	require.Equal(t, "http.request", http.Name())

	require.Equal(t, operation.SpanContext().SpanID(), service.Parent().SpanID())
	require.Equal(t, http.SpanContext().SpanID(), operation.Parent().SpanID())
	require.Equal(t, codes.Error, service.Status().Code)
}

func TestSetupWithoutEndpoint(t *testing.T) {
	shutdown, err := Setup(context.Background(), eventbus.New(), "", "fedgate")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

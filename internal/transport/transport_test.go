package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/hanpama/fedgate/internal/reqid"
	"github.com/hanpama/fedgate/internal/service"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/metadata"
)

func serve(t *testing.T, h http.HandlerFunc) string {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestExecutePostsDocument(t *testing.T) {
	var body map[string]any
	var header http.Header
	url := serve(t, func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Clone()
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"dog":{"name":"Rex"}},"errors":[{"message":"partial"}],"extensions":{"cost":1}}`))
	})
	tp := New(WithProvider(NewStaticEndpoints(map[string][]string{"pets": {url}})), WithHeader("X-Gateway", "fedgate"))

	ctx := metadata.NewOutgoingContext(context.Background(), metadata.Pairs("x-tenant", "acme"))
	res, err := tp.Execute(ctx, &service.Parameters{
		Service:       "pets",
		QueryText:     `query Q($id: ID) { dog(id: $id) { name } }`,
		OperationName: "Q",
		Variables:     map[string]any{"id": "d1"},
		ExecutionID:   "exec-1",
	})
	require.NoError(t, err)

	want := &service.Result{
		Data:       map[string]any{"dog": map[string]any{"name": "Rex"}},
		Errors:     []map[string]any{{"message": "partial"}},
		Extensions: map[string]any{"cost": float64(1)},
	}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, map[string]any{
		"query":         `query Q($id: ID) { dog(id: $id) { name } }`,
		"operationName": "Q",
		"variables":     map[string]any{"id": "d1"},
	}, body)
	require.Equal(t, "acme", header.Get("X-Tenant"))
	require.Equal(t, "exec-1", header.Get(reqid.Header))
	require.Equal(t, "fedgate", header.Get("X-Gateway"))
	require.Equal(t, "application/json", header.Get("Content-Type"))
}

func TestExecuteNoEndpoints(t *testing.T) {
	tp := New(WithProvider(NewStaticEndpoints(nil)))
	_, err := tp.Execute(context.Background(), &service.Parameters{Service: "pets"})
	require.ErrorIs(t, err, ErrNoEndpoints)

	_, err = New().Execute(context.Background(), &service.Parameters{Service: "pets"})
	require.Error(t, err)
}

func TestExecuteErrorStatus(t *testing.T) {
	plain := serve(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	})
	graphql := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/graphql-response+json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"errors":[{"message":"Cannot query field \"nope\""}]}`))
	})
	tp := New(WithProvider(NewStaticEndpoints(map[string][]string{"a": {plain}, "b": {graphql}})))

	_, err := tp.Execute(context.Background(), &service.Parameters{Service: "a", QueryText: "{ x }"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "502")

	res, err := tp.Execute(context.Background(), &service.Parameters{Service: "b", QueryText: "{ nope }"})
	require.NoError(t, err)
	require.Nil(t, res.Data)
	require.Equal(t, []map[string]any{{"message": `Cannot query field "nope"`}}, res.Errors)
}

func TestExecuteHydrationTimeout(t *testing.T) {
	release := make(chan struct{})
	url := serve(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	t.Cleanup(func() { close(release) })
	tp := New(WithProvider(NewStaticEndpoints(map[string][]string{"users": {url}})))

	start := time.Now()
	_, err := tp.Execute(context.Background(), &service.Parameters{
		Service:   "users",
		QueryText: "{ user(id: 1) { name } }",
		Hydration: &service.HydrationDetails{Timeout: 20 * time.Millisecond},
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestClose(t *testing.T) {
	tp := New(WithProvider(NewStaticEndpoints(map[string][]string{"pets": {"http://127.0.0.1:1"}})))
	require.NoError(t, tp.Close())
	require.NoError(t, tp.Close())
	_, err := tp.Execute(context.Background(), &service.Parameters{Service: "pets"})
	require.ErrorIs(t, err, ErrClosed)
}

func TestStaticEndpointsCopies(t *testing.T) {
	src := map[string][]string{"pets": {"http://a"}}
	p := NewStaticEndpoints(src)
	src["pets"][0] = "http://changed"

	got, err := p.Endpoints(context.Background(), "pets")
	require.NoError(t, err)
	require.Equal(t, []string{"http://a"}, got)

	p.Set("pets", "http://b", "http://c")
	got, _ = p.Endpoints(context.Background(), "pets")
	require.Equal(t, []string{"http://b", "http://c"}, got)
}

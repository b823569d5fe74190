package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/hanpama/fedgate/internal/engine"
	"github.com/hanpama/fedgate/internal/fedtest"
	"github.com/hanpama/fedgate/internal/reqid"
	"github.com/hanpama/fedgate/internal/service"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/metadata"
)

type executorFunc func(ctx context.Context, req *engine.Request) (*service.Result, error)

func (f executorFunc) Execute(ctx context.Context, req *engine.Request) (*service.Result, error) {
	return f(ctx, req)
}

func hello(ctx context.Context, req *engine.Request) (*service.Result, error) {
	return &service.Result{Data: map[string]any{"hello": "world"}}, nil
}

func post(t *testing.T, h http.Handler, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", "/", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestForwardedHeaders(t *testing.T) {
	var captured metadata.MD
	h := New(executorFunc(func(ctx context.Context, req *engine.Request) (*service.Result, error) {
		captured, _ = metadata.FromOutgoingContext(ctx)
		return hello(ctx, req)
	}), WithMetadataHeaders("X-Test"))

	w := post(t, h, `{"query":"{ hello }"}`, "X-Test", "abc", "X-Other", "nope")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, []string{"abc"}, captured.Get("x-test"))
	require.Empty(t, captured.Get("x-other"))
}

func TestForwardedHeadersDefaultEmpty(t *testing.T) {
	var captured metadata.MD
	h := New(executorFunc(func(ctx context.Context, req *engine.Request) (*service.Result, error) {
		captured, _ = metadata.FromOutgoingContext(ctx)
		return hello(ctx, req)
	}))

	w := post(t, h, `{"query":"{ hello }"}`, "X-Test", "abc")
	require.Equal(t, http.StatusOK, w.Code)
	require.Empty(t, captured.Get("x-test"))
}

func TestCORSAndPreflight(t *testing.T) {
	h := New(executorFunc(hello), WithCORS("*"))

	w := post(t, h, `{"query":"{ hello }"}`, "Origin", "http://example.com")
	require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	pre := httptest.NewRequest("OPTIONS", "/", nil)
	pre.Header.Set("Origin", "http://example.com")
	pre.Header.Set("Access-Control-Request-Headers", "X-Test")
	pw := httptest.NewRecorder()
	h.ServeHTTP(pw, pre)
	require.Equal(t, http.StatusNoContent, pw.Code)
	require.Equal(t, "*", pw.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "X-Test", pw.Header().Get("Access-Control-Allow-Headers"))
}

func TestMaxBodyBytes(t *testing.T) {
	h := New(executorFunc(hello), WithMaxBodyBytes(10))
	w := post(t, h, `{"query":"1234567890"}`)
	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestRequestID(t *testing.T) {
	var capturedMD metadata.MD
	var capturedID string
	h := New(executorFunc(func(ctx context.Context, req *engine.Request) (*service.Result, error) {
		capturedMD, _ = metadata.FromOutgoingContext(ctx)
		capturedID, _ = reqid.FromContext(ctx)
		return hello(ctx, req)
	}))

	w := post(t, h, `{"query":"{ hello }"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, capturedID)
	require.Equal(t, []string{capturedID}, capturedMD.Get(reqid.Header))
	require.Equal(t, capturedID, w.Header().Get(reqid.Header))

	w = post(t, h, `{"query":"{ hello }"}`, reqid.Header, "given-id")
	require.Equal(t, "given-id", capturedID)
	require.Equal(t, "given-id", w.Header().Get(reqid.Header))
}

func TestGetAndBatch(t *testing.T) {
	var seen []*engine.Request
	h := New(executorFunc(func(ctx context.Context, req *engine.Request) (*service.Result, error) {
		seen = append(seen, req)
		return hello(ctx, req)
	}))

	query := url.Values{"query": {"{ hello }"}, "operationName": {"Op"}, "variables": {`{"a":1}`}}
	req := httptest.NewRequest("GET", "/?"+query.Encode(), nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "Op", seen[0].OperationName)
	require.Equal(t, map[string]any{"a": float64(1)}, seen[0].Variables)

	w = post(t, h, `[{"query":"{ hello }"},{"query":"{ hello }"}]`)
	require.Equal(t, http.StatusOK, w.Code)
	var out []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Len(t, out, 2)
	require.Equal(t, map[string]any{"hello": "world"}, out[1]["data"])
}

func TestExecutorFailures(t *testing.T) {
	h := New(executorFunc(func(ctx context.Context, req *engine.Request) (*service.Result, error) {
		return nil, engine.ErrClosed
	}))
	w := post(t, h, `{"query":"{ hello }"}`)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = post(t, h, `not json`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "invalid JSON", decode(t, w)["errors"].([]any)[0].(map[string]any)["message"])
}

func deferred() *service.Result {
	ch := make(chan *service.Incremental, 1)
	ch <- &service.Incremental{
		Path:    []any{"dog"},
		Label:   "more",
		Data:    map[string]any{"age": 3},
		HasNext: false,
	}
	close(ch)
	return &service.Result{Data: map[string]any{"dog": map[string]any{"name": "Rex"}}, Incremental: ch}
}

func TestIncrementalFoldedWithoutMultipart(t *testing.T) {
	h := New(executorFunc(func(ctx context.Context, req *engine.Request) (*service.Result, error) {
		return deferred(), nil
	}))
	w := post(t, h, `{"query":"{ dog { name } }"}`)
	require.Equal(t, http.StatusOK, w.Code)

	want := map[string]any{"data": map[string]any{"dog": map[string]any{"name": "Rex", "age": float64(3)}}}
	if diff := cmp.Diff(want, decode(t, w)); diff != "" {
		t.Errorf("response mismatch (-want +got):\n%s", diff)
	}
}

func TestIncrementalMultipart(t *testing.T) {
	h := New(executorFunc(func(ctx context.Context, req *engine.Request) (*service.Result, error) {
		return deferred(), nil
	}))
	w := post(t, h, `{"query":"{ dog { name } }"}`, "Accept", "multipart/mixed")
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "multipart/mixed"))

	body := w.Body.String()
	require.True(t, strings.HasSuffix(body, "\r\n-----\r\n"))
	parts := strings.Split(strings.TrimSuffix(body, "\r\n-----\r\n"), "\r\n---\r\n")
	require.Len(t, parts, 3)

	payload := func(part string) map[string]any {
		_, raw, ok := strings.Cut(part, "\r\n\r\n")
		require.True(t, ok)
		var out map[string]any
		require.NoError(t, json.Unmarshal([]byte(raw), &out))
		return out
	}
	require.Equal(t, true, payload(parts[1])["hasNext"])
	want := map[string]any{
		"hasNext": false,
		"incremental": []any{map[string]any{
			"path":  []any{"dog"},
			"label": "more",
			"data":  map[string]any{"age": float64(3)},
		}},
	}
	if diff := cmp.Diff(want, payload(parts[2])); diff != "" {
		t.Errorf("payload mismatch (-want +got):\n%s", diff)
	}
}

func TestHandlerWithEngine(t *testing.T) {
	_, _, services := fedtest.Services()
	e, err := engine.New(fedtest.Blueprint(t), services)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close(context.Background()) })

	w := post(t, New(e), `{"query":"query ($id: ID!) { dog(id: $id) { name age owner { name } } }","variables":{"id":"d1"}}`)
	require.Equal(t, http.StatusOK, w.Code)
	want := map[string]any{"data": map[string]any{"dog": map[string]any{
		"name":  "Rex",
		"age":   float64(3),
		"owner": map[string]any{"name": "Ann"},
	}}}
	if diff := cmp.Diff(want, decode(t, w)); diff != "" {
		t.Errorf("response mismatch (-want +got):\n%s", diff)
	}
}

package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/hanpama/fedgate/internal/fedtest"
	"github.com/hanpama/fedgate/internal/merge"
	"github.com/hanpama/fedgate/internal/reqid"
	"github.com/hanpama/fedgate/internal/service"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T, services map[string]service.Execution, opts ...Option) *Engine {
	t.Helper()
	e, err := New(fedtest.Blueprint(t), services, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	return e
}

func execute(t *testing.T, e *Engine, query string) *service.Result {
	t.Helper()
	res, err := e.Execute(context.Background(), &Request{Query: query})
	require.NoError(t, err)
	return res
}

func TestExecuteRenamesAndHydrates(t *testing.T) {
	_, users, services := fedtest.Services()
	e := newEngine(t, services)

	res := execute(t, e, `{
  rex: dog(id: "d1") { name age collarName owner { name } friends { name } }
  fido: dog(id: "d2") { age collarName friends { id } }
}`)
	require.Empty(t, res.Errors)

	want := map[string]any{
		"rex": map[string]any{
			"name":       "Rex",
			"age":        3,
			"collarName": "red",
			"owner":      map[string]any{"name": "Ann"},
			"friends": []any{
				map[string]any{"name": "Bob"},
				map[string]any{"name": "Cy"},
				map[string]any{"name": "Ann"},
			},
		},
		"fido": map[string]any{
			"age":        5,
			"collarName": nil,
			"friends":    []any{map[string]any{"id": "u3"}, nil},
		},
	}
	if diff := cmp.Diff(want, res.Data); diff != "" {
		t.Errorf("data mismatch (-want +got):\n%s", diff)
	}

	var batches int
	for _, c := range users.Calls() {
		require.NotNil(t, c.Hydration)
		if c.Hydration.Batched {
			batches++
			require.LessOrEqual(t, strings.Count(c.QueryText, `"u`), 2)
		}
	}
	// Rex needs two chunks of two ids, Fido one.
	require.Equal(t, 3, batches)
}

func TestExecuteAbstractTypes(t *testing.T) {
	_, _, services := fedtest.Services()
	e := newEngine(t, services)

	res := execute(t, e, `{ pets { __typename name ... on Dog { age } ... on Cat { lives } } }`)
	require.Empty(t, res.Errors)

	want := map[string]any{
		"pets": []any{
			map[string]any{"__typename": "Dog", "name": "Rex", "age": 3},
			map[string]any{"__typename": "Cat", "name": "Tom", "lives": 9},
		},
	}
	if diff := cmp.Diff(want, res.Data); diff != "" {
		t.Errorf("data mismatch (-want +got):\n%s", diff)
	}
}

func TestExecuteNamespacedAndTypeName(t *testing.T) {
	pets, users, services := fedtest.Services()
	e := newEngine(t, services)

	res := execute(t, e, `{ __typename catalog { __typename breeds sellers { name } } }`)
	require.Empty(t, res.Errors)

	want := map[string]any{
		"__typename": "Query",
		"catalog": map[string]any{
			"__typename": "Catalog",
			"breeds":     []any{"lab", "pug"},
			"sellers":    []any{map[string]any{"name": "Ann"}},
		},
	}
	if diff := cmp.Diff(want, res.Data); diff != "" {
		t.Errorf("data mismatch (-want +got):\n%s", diff)
	}
	require.Len(t, pets.Calls(), 1)
	require.Len(t, users.Calls(), 1)
	require.NotContains(t, pets.Calls()[0].QueryText, "sellers")
}

func TestExecuteIntrospection(t *testing.T) {
	_, _, services := fedtest.Services()

	res := execute(t, newEngine(t, services), `{ __type(name: "Dog") { name kind } }`)
	require.Empty(t, res.Errors)
	require.Equal(t, map[string]any{"__type": map[string]any{"name": "Dog", "kind": "OBJECT"}}, res.Data)

	res = execute(t, newEngine(t, services, WithIntrospection(false)), `{ __schema { queryType { name } } }`)
	// __schema is non-null, so the error nulls the whole data.
	require.Nil(t, res.Data)
	require.Len(t, res.Errors, 1)
	require.Equal(t, "introspection is disabled", res.Errors[0]["message"])
}

func TestExecuteServiceFailure(t *testing.T) {
	_, users, services := fedtest.Services()
	users.Err = errors.New("connection refused")

	var mu sync.Mutex
	var reported []string
	e := newEngine(t, services, WithErrorReporter(func(_ context.Context, svc string, err error) {
		mu.Lock()
		defer mu.Unlock()
		reported = append(reported, svc)
	}))

	ctx := context.Background()
	ctx, id := reqid.NewContext(ctx)
	res, err := e.Execute(ctx, &Request{Query: `{ user(id: "u1") { name } dog(id: "d1") { name owner { name } } }`})
	require.NoError(t, err)

	require.Equal(t, map[string]any{
		"user": nil,
		"dog":  map[string]any{"name": "Rex", "owner": nil},
	}, res.Data)
	require.Len(t, res.Errors, 2)

	var userErr map[string]any
	for _, e := range res.Errors {
		if path, ok := e["path"].([]any); ok && len(path) == 1 && path[0] == "user" {
			userErr = e
		}
	}
	require.NotNil(t, userErr)
	want := map[string]any{
		"classification": service.ClassificationDataFetching,
		"executionId":    id,
		"service":        "users",
	}
	if diff := cmp.Diff(want, userErr["extensions"]); diff != "" {
		t.Errorf("extensions mismatch (-want +got):\n%s", diff)
	}
	require.ElementsMatch(t, []string{"users", "users"}, reported)
}

func TestExecuteMissingKeyBecomesNull(t *testing.T) {
	_, _, services := fedtest.Services()
	services["pets"] = service.ExecutionFunc(func(ctx context.Context, params *service.Parameters) (*service.Result, error) {
		return &service.Result{Data: map[string]any{}, Errors: []map[string]any{{"message": "partial"}}}, nil
	})
	res := execute(t, newEngine(t, services), `{ dog(id: "d1") { name } }`)
	require.Equal(t, map[string]any{"dog": nil}, res.Data)
	require.Equal(t, []map[string]any{{"message": "partial"}}, res.Errors)
}

func TestExecuteNonNullBubblesToData(t *testing.T) {
	_, _, services := fedtest.Services()
	services["pets"] = service.ExecutionFunc(func(ctx context.Context, params *service.Parameters) (*service.Result, error) {
		return &service.Result{Data: map[string]any{"dogs": nil}}, nil
	})
	res := execute(t, newEngine(t, services), `{ dogs { name } }`)
	require.Nil(t, res.Data)
}

func TestExecuteRequestErrors(t *testing.T) {
	_, _, services := fedtest.Services()
	e := newEngine(t, services)

	res := execute(t, e, `{ dog(id: "d1") { name `)
	require.Nil(t, res.Data)
	require.Len(t, res.Errors, 1)

	res = execute(t, e, `{ dog(id: "d1") { nope } }`)
	require.Nil(t, res.Data)
	require.NotEmpty(t, res.Errors)

	res, err := e.Execute(context.Background(), &Request{Query: `query ($id: ID!) { dog(id: $id) { name } }`})
	require.NoError(t, err)
	require.Nil(t, res.Data)
	require.NotEmpty(t, res.Errors)
}

func TestExecutePanicAborts(t *testing.T) {
	_, _, services := fedtest.Services()
	services["users"] = service.ExecutionFunc(func(ctx context.Context, params *service.Parameters) (*service.Result, error) {
		panic("boom")
	})
	res, err := newEngine(t, services).Execute(context.Background(), &Request{Query: `{ user(id: "u1") { name } }`})
	require.Error(t, err)
	require.Nil(t, res)
	require.Contains(t, err.Error(), "boom")
}

func TestExecuteMutationsInOrder(t *testing.T) {
	pets, _, services := fedtest.Services()
	e := newEngine(t, services, WithMaxConcurrency(8))

	res := execute(t, e, `mutation {
  a: renameDog(id: "d1", name: "Max") { name }
  b: renameDog(id: "d2", name: "Bo") { name }
}`)
	require.Empty(t, res.Errors)
	require.Equal(t, map[string]any{
		"a": map[string]any{"name": "Max"},
		"b": map[string]any{"name": "Bo"},
	}, res.Data)

	calls := pets.Calls()
	require.Len(t, calls, 2)
	require.Contains(t, calls[0].QueryText, `"Max"`)
	require.Contains(t, calls[1].QueryText, `"Bo"`)
	require.True(t, strings.HasPrefix(strings.TrimSpace(calls[0].QueryText), "mutation"))
}

func TestExecuteDeferredTopLevel(t *testing.T) {
	_, _, services := fedtest.Services()
	e := newEngine(t, services)

	res := execute(t, e, `{
  dog(id: "d1") { name }
  ... @defer(label: "later") { catalog { breeds } }
}`)
	require.Empty(t, res.Errors)
	require.Equal(t, map[string]any{"dog": map[string]any{"name": "Rex"}}, res.Data)
	require.NotNil(t, res.Incremental)

	var got []*service.Incremental
	for inc := range res.Incremental {
		got = append(got, inc)
	}
	want := []*service.Incremental{{
		Path:    []any{},
		Label:   "later",
		Data:    map[string]any{"catalog": map[string]any{"breeds": []any{"lab", "pug"}}},
		HasNext: false,
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("incremental mismatch (-want +got):\n%s", diff)
	}
}

func TestExecuteTranslatesNestedDeferredPayloads(t *testing.T) {
	_, _, services := fedtest.Services()
	services["pets"] = service.ExecutionFunc(func(ctx context.Context, params *service.Parameters) (*service.Result, error) {
		ch := make(chan *service.Incremental, 1)
		ch <- &service.Incremental{
			Path:    []any{"dog"},
			Label:   "more",
			Data:    map[string]any{"rename__age__years": 3},
			HasNext: false,
		}
		close(ch)
		return &service.Result{Data: map[string]any{"dog": map[string]any{"name": "Rex"}}, Incremental: ch}, nil
	})
	e := newEngine(t, services)

	res := execute(t, e, `{ dog(id: "d1") { name ... @defer(label: "more") { age } } }`)
	folded, err := merge.FoldIncremental(context.Background(), res)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"dog": map[string]any{"name": "Rex", "age": 3}}, folded.Data)
}

func TestClose(t *testing.T) {
	_, _, services := fedtest.Services()
	release := make(chan struct{})
	started := make(chan struct{})
	services["users"] = service.ExecutionFunc(func(ctx context.Context, params *service.Parameters) (*service.Result, error) {
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &service.Result{Data: map[string]any{"user": nil}}, nil
	})
	e, err := New(fedtest.Blueprint(t), services, WithCloseGracePeriod(10*time.Millisecond))
	require.NoError(t, err)

	done := make(chan *service.Result)
	go func() {
		res, _ := e.Execute(context.Background(), &Request{Query: `{ user(id: "u1") { name } }`})
		done <- res
	}()
	<-started

	require.ErrorIs(t, e.Close(context.Background()), ErrGracePeriodExceeded)
	res := <-done
	require.Equal(t, map[string]any{"user": nil}, res.Data)
	require.Len(t, res.Errors, 1)

	_, err = e.Execute(context.Background(), &Request{Query: `{ __typename }`})
	require.ErrorIs(t, err, ErrClosed)
}

func TestNewRequiresEveryService(t *testing.T) {
	_, err := New(fedtest.Blueprint(t), map[string]service.Execution{"pets": fedtest.Pets()})
	require.Error(t, err)
}

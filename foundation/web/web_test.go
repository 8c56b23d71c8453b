package web_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/ardanlabs/opledger/foundation/web"
	"github.com/stretchr/testify/require"
)

func TestHandle(t *testing.T) {
	var order []string
	mw := func(name string) web.Middleware {
		return func(next web.Handler) web.Handler {
			return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
				order = append(order, name)
				return next(ctx, w, r)
			}
		}
	}

	app := web.NewApp(make(chan os.Signal, 1), mw("app"))

	h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		v, err := web.GetValues(ctx)
		require.NoError(t, err)
		require.NotEmpty(t, v.TraceID)

		resp := map[string]string{"type": web.Param(r, "type")}
		return web.Respond(ctx, w, resp, http.StatusOK)
	}
	app.Handle(http.MethodGet, "v1", "/objects/:type", h, mw("route"))

	w := httptest.NewRecorder()
	app.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/objects/user", nil))

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, []string{"app", "route"}, order)

	var resp map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Equal(t, "user", resp["type"])
}

func TestRespondWithoutValues(t *testing.T) {
	w := httptest.NewRecorder()
	require.NoError(t, web.Respond(context.Background(), w, []int{1, 2}, http.StatusAccepted))
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Equal(t, "[1,2]", w.Body.String())
}

func TestDecode(t *testing.T) {
	var v struct {
		Name string `json:"name"`
	}

	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"alice"}`))
	require.NoError(t, web.Decode(r, &v))
	require.Equal(t, "alice", v.Name)

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"age":3}`))
	require.Error(t, web.Decode(r, &v))
}

func TestShutdownError(t *testing.T) {
	shutdown := make(chan os.Signal, 1)
	app := web.NewApp(shutdown)

	h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		return web.NewShutdownError("integrity issue")
	}
	app.Handle(http.MethodGet, "", "/fail", h)

	app.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/fail", nil))

	select {
	case <-shutdown:
	default:
		t.Fatal("expected a shutdown signal")
	}
}

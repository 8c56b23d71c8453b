package mid_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/ardanlabs/opledger/business/sys/validate"
	"github.com/ardanlabs/opledger/business/web/errs"
	"github.com/ardanlabs/opledger/business/web/mid"
	"github.com/ardanlabs/opledger/foundation/blockchain/rules"
	"github.com/ardanlabs/opledger/foundation/web"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestErrors(t *testing.T) {
	log := zap.NewNop().Sugar()

	app := web.NewApp(make(chan os.Signal, 1),
		mid.Logger(log),
		mid.Errors(log),
		mid.Metrics(),
		mid.Panics(),
	)

	handler := func(err error) web.Handler {
		return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			return err
		}
	}

	app.Handle(http.MethodGet, "", "/rejected", handler(rules.Reject(rules.OpHashIsDuplicated, "op %s", "abc")))
	app.Handle(http.MethodGet, "", "/trusted", handler(errs.NewTrusted(errors.New("not found"), http.StatusNotFound)))
	app.Handle(http.MethodGet, "", "/fields", handler(validate.FieldErrors{{Field: "hash", Error: "hash is required"}}))
	app.Handle(http.MethodGet, "", "/internal", handler(errors.New("disk on fire")))
	app.Handle(http.MethodGet, "", "/panic", func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		panic("boom")
	})

	tt := []struct {
		path   string
		status int
		check  func(t *testing.T, er errs.Response)
	}{
		{"/rejected", http.StatusBadRequest, func(t *testing.T, er errs.Response) {
			require.Equal(t, string(rules.OpHashIsDuplicated), er.Code)
		}},
		{"/trusted", http.StatusNotFound, func(t *testing.T, er errs.Response) {
			require.Equal(t, "not found", er.Error)
		}},
		{"/fields", http.StatusBadRequest, func(t *testing.T, er errs.Response) {
			require.Equal(t, "hash is required", er.Fields["hash"])
		}},
		{"/internal", http.StatusInternalServerError, func(t *testing.T, er errs.Response) {
			require.Equal(t, http.StatusText(http.StatusInternalServerError), er.Error)
		}},
		{"/panic", http.StatusInternalServerError, func(t *testing.T, er errs.Response) {}},
	}

	for _, tst := range tt {
		t.Run(tst.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			app.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tst.path, nil))
			require.Equal(t, tst.status, w.Code)

			var er errs.Response
			require.NoError(t, json.NewDecoder(w.Body).Decode(&er))
			tst.check(t, er)
		})
	}
}

func TestCors(t *testing.T) {
	app := web.NewApp(make(chan os.Signal, 1), mid.Cors("*"))
	app.Handle(http.MethodGet, "", "/", func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		return web.Respond(ctx, w, nil, http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	app.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

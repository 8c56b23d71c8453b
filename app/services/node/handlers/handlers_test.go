package handlers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/ardanlabs/opledger/app/services/node/handlers"
	"github.com/ardanlabs/opledger/business/web/errs"
	"github.com/ardanlabs/opledger/foundation/blockchain/database"
	"github.com/ardanlabs/opledger/foundation/blockchain/genesis"
	"github.com/ardanlabs/opledger/foundation/blockchain/rules"
	"github.com/ardanlabs/opledger/foundation/blockchain/signature"
	"github.com/ardanlabs/opledger/foundation/blockchain/state"
	"github.com/ardanlabs/opledger/foundation/blockchain/storage/memory"
	"github.com/ardanlabs/opledger/foundation/events"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const serverUser = "server"

type result struct {
	Status  string   `json:"status"`
	Msg     string   `json:"msg"`
	Removed []string `json:"removed"`
}

type service struct {
	t       *testing.T
	kp      signature.KeyPair
	public  http.Handler
	private http.Handler
	debug   http.Handler
	cfg     handlers.MuxConfig
}

func newService(t *testing.T) *service {
	kp, err := signature.GenerateKeyPair()
	require.NoError(t, err)

	storage, err := memory.New()
	require.NoError(t, err)

	st, err := state.New(state.Config{
		Storage:    storage,
		Genesis:    genesis.Default(),
		ServerUser: serverUser,
		ServerKey:  kp,
		Mode:       state.ModeBlockCreation,
	})
	require.NoError(t, err)
	t.Cleanup(func() { st.Shutdown() })

	log := zap.NewNop().Sugar()
	cfg := handlers.MuxConfig{
		Shutdown: make(chan os.Signal, 1),
		Log:      log,
		State:    st,
		Evts:     events.New("viewer:"),
	}

	return &service{
		t:       t,
		kp:      kp,
		public:  handlers.PublicMux(cfg),
		private: handlers.PrivateMux(cfg),
		debug:   handlers.DebugMux("test", log, st),
		cfg:     cfg,
	}
}

func (s *service) op(key string) *database.Operation {
	op := database.NewOperation("user")
	require.NoError(s.t, op.AddNew(database.NewObject("user", key)))
	require.NoError(s.t, rules.SignOperation(op, serverUser, s.kp))
	return op
}

func (s *service) call(h http.Handler, method string, path string, body any, resp any) int {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, path, &buf))

	if resp != nil {
		require.NoError(s.t, json.NewDecoder(w.Body).Decode(resp), w.Body.String())
	}

	return w.Code
}

// =============================================================================

func TestOperations(t *testing.T) {
	s := newService(t)
	op := s.op("alice")

	var res result
	require.Equal(t, http.StatusOK, s.call(s.public, http.MethodPost, "/v1/ops/add", op, &res))
	require.Equal(t, "OK", res.Status)

	var er errs.Response
	require.Equal(t, http.StatusBadRequest, s.call(s.public, http.MethodPost, "/v1/ops/add", op, &er))
	require.Equal(t, string(rules.OpHashIsDuplicated), er.Code)

	unsigned := database.NewOperation("user")
	require.Equal(t, http.StatusBadRequest, s.call(s.public, http.MethodPost, "/v1/ops/add", unsigned, &er))
	require.Contains(t, er.Fields, "signature")

	var queue struct {
		Count int `json:"count"`
	}
	require.Equal(t, http.StatusOK, s.call(s.public, http.MethodGet, "/v1/ops/queue", nil, &queue))
	require.Equal(t, 1, queue.Count)

	var obj map[string]any
	require.Equal(t, http.StatusOK, s.call(s.public, http.MethodGet, "/v1/objects/user/alice", nil, &obj))
	require.Equal(t, []any{"user", "alice"}, obj["id"])

	require.Equal(t, http.StatusNotFound, s.call(s.public, http.MethodGet, "/v1/objects/user/bob", nil, &er))
}

func TestBlocks(t *testing.T) {
	s := newService(t)

	var res result
	require.Equal(t, http.StatusBadRequest, s.call(s.private, http.MethodPost, "/v1/mgmt/create", nil, &res))
	require.Equal(t, "FAILED", res.Status)

	require.Equal(t, http.StatusOK, s.call(s.public, http.MethodPost, "/v1/ops/add", s.op("alice"), &res))

	var bd database.BlockData
	require.Equal(t, http.StatusOK, s.call(s.private, http.MethodPost, "/v1/mgmt/create", nil, &bd))
	require.Equal(t, 0, bd.BlockID)
	require.Len(t, bd.Ops, 1)

	var headers []database.BlockData
	require.Equal(t, http.StatusOK, s.call(s.public, http.MethodGet, "/v1/blocks", nil, &headers))
	require.Len(t, headers, 1)
	require.Empty(t, headers[0].Ops)

	raw := signature.RawHash(bd.Hash)
	var full database.BlockData
	require.Equal(t, http.StatusOK, s.call(s.public, http.MethodGet, "/v1/block-by-hash?hash="+raw, nil, &full))
	require.Equal(t, bd.Hash, full.Hash)

	require.Equal(t, http.StatusOK, s.call(s.public, http.MethodGet, "/v1/block-by-hash?hash=00", nil, &full))
	require.Equal(t, -1, full.BlockID)

	require.Equal(t, http.StatusOK, s.call(s.private, http.MethodPost, "/v1/mgmt/revert-1-block", nil, &res))
	require.Equal(t, "OK", res.Status)

	var st state.Status
	require.Equal(t, http.StatusOK, s.call(s.public, http.MethodGet, "/v1/status", nil, &st))
	require.Equal(t, -1, st.LastBlockID)
	require.Equal(t, 1, st.QueueSize)
}

func TestManagement(t *testing.T) {
	s := newService(t)

	alice := s.op("alice")
	var res result
	require.Equal(t, http.StatusOK, s.call(s.public, http.MethodPost, "/v1/ops/add", alice, &res))

	var er errs.Response
	body := map[string][]string{"hashes": {}}
	require.Equal(t, http.StatusBadRequest, s.call(s.private, http.MethodPost, "/v1/mgmt/delete-queue-ops", body, &er))

	body = map[string][]string{"hashes": {alice.RawHash()}}
	require.Equal(t, http.StatusOK, s.call(s.private, http.MethodPost, "/v1/mgmt/delete-queue-ops", body, &res))
	require.Equal(t, []string{alice.RawHash()}, res.Removed)

	require.Equal(t, http.StatusOK, s.call(s.private, http.MethodPost, "/v1/mgmt/toggle-blocks-pause", nil, &res))
	require.Equal(t, "OK", res.Status)

	var st state.Status
	s.call(s.public, http.MethodGet, "/v1/status", nil, &st)
	require.Equal(t, state.ModeNone.String(), st.Mode)

	require.Equal(t, http.StatusOK, s.call(s.private, http.MethodPost, "/v1/mgmt/toggle-pause", nil, &res))
	s.call(s.public, http.MethodGet, "/v1/status", nil, &st)
	require.Equal(t, state.StatusLocked, st.State)

	w := httptest.NewRecorder()
	s.debug.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/debug/readiness", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	require.Equal(t, http.StatusOK, s.call(s.private, http.MethodPost, "/v1/mgmt/toggle-pause", nil, &res))
	s.call(s.public, http.MethodGet, "/v1/status", nil, &st)
	require.Equal(t, state.StatusReady, st.State)

	w = httptest.NewRecorder()
	s.debug.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/debug/readiness", nil))
	require.Equal(t, http.StatusOK, w.Code)
}

func TestListeners(t *testing.T) {
	s := newService(t)

	cfg := s.cfg
	cfg.CORSOrigin = "https://ledger.example"
	public := handlers.PublicMux(cfg)

	w := httptest.NewRecorder()
	public.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/status", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "https://ledger.example", w.Header().Get("Access-Control-Allow-Origin"))

	w = httptest.NewRecorder()
	public.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/preflight", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "https://ledger.example", w.Header().Get("Access-Control-Allow-Origin"))

	w = httptest.NewRecorder()
	s.public.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/status", nil))
	require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w = httptest.NewRecorder()
	public.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/mgmt/create", nil))
	require.Contains(t, []int{http.StatusNotFound, http.StatusMethodNotAllowed}, w.Code)

	w = httptest.NewRecorder()
	s.private.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/mgmt/orphaned-blocks", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	w = httptest.NewRecorder()
	s.debug.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	s.debug.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/debug/liveness", nil))
	require.Equal(t, http.StatusOK, w.Code)
}

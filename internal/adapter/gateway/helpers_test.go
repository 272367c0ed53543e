package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"wasm-arena/internal/domain"
	"wasm-arena/internal/infra/config"
	"wasm-arena/internal/infra/logger"
	"wasm-arena/internal/plugin"
	"wasm-arena/internal/plugin/wasm"
	"wasm-arena/internal/plugin/wasm/wasmtest"
	"wasm-arena/internal/usecase/eventbus"
	"wasm-arena/internal/usecase/match"
)

const tttMetadata = `{"name":"Tic-Tac-Toe","minPlayers":2,"maxPlayers":2}`

type testEnv struct {
	srv     *Server
	http    *httptest.Server
	loader  *plugin.Loader
	matches *match.Service
	bus     *eventbus.Bus
	token   string
}

// newTestEnv wires a gateway over a real loader, match service and bus.
// A non-empty token enables auth.
func newTestEnv(t *testing.T, token string) *testEnv {
	t.Helper()
	ctx := context.Background()

	bus := eventbus.New(slog.New(slog.DiscardHandler))
	t.Cleanup(bus.Close)

	rt, err := wasm.NewRuntime(ctx, wasm.DefaultRuntimeConfig(), logger.Discard(), bus)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close(context.Background()) })

	_, err = wasmtest.Install(ctx, rt.Inner(), wasmtest.TicTacToe{})
	require.NoError(t, err)

	registry := plugin.NewRegistry()
	loader := plugin.NewLoader(rt, registry, nil, bus, logger.Discard())

	svc := match.NewService(match.ServiceDeps{
		Games:  registry,
		Bus:    bus,
		Logger: logger.Discard(),
		Match:  config.MatchConfig{HumanMoveTimeout: time.Minute, Retention: time.Hour},
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})

	var auth Authenticator
	if token != "" {
		auth = NewStaticTokenAuth([]string{token})
	}
	srv := NewServer(Deps{
		Games:   loader,
		Matches: svc,
		Bus:     bus,
		Auth:    auth,
		Logger:  logger.Discard(),
		Config:  config.GatewayConfig{RequestTimeout: 10 * time.Second, MaxUploadBytes: 1 << 20},
		Version: "test",
	})
	srv.Subscribe()

	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)

	return &testEnv{srv: srv, http: hs, loader: loader, matches: svc, bus: bus, token: token}
}

// loadGame registers the reference tic-tac-toe module directly.
func (e *testEnv) loadGame(t *testing.T) string {
	t.Helper()
	g, err := e.loader.LoadFromJSON(context.Background(), tttModule(), []byte(tttMetadata))
	require.NoError(t, err)
	return g.ID
}

func tttModule() []byte {
	return wasmtest.Module(wasmtest.Options{Allocator: true, Notation: 1})
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.http.URL+path, r)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	resp, err := e.http.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) upload(t *testing.T, module []byte, metadata string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if module != nil {
		fw, err := mw.CreateFormFile("module", "game.wasm")
		require.NoError(t, err)
		_, err = fw.Write(module)
		require.NoError(t, err)
	}
	if metadata != "" {
		require.NoError(t, mw.WriteField("metadata", metadata))
	}
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, e.http.URL+"/api/games", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	resp, err := e.http.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

// awaitPending polls until player has a pending move request.
func (e *testEnv) awaitPending(t *testing.T, id string, player domain.Player) {
	t.Helper()
	require.Eventually(t, func() bool {
		sum, err := e.matches.Get(id)
		if err != nil {
			return false
		}
		return sum.Players[player.Index()].Pending
	}, 5*time.Second, 5*time.Millisecond, "%s never asked for a move", player)
}

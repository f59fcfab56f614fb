package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hirewire/messaging-service/internal/auth"
	"github.com/hirewire/messaging-service/internal/config"
	"github.com/hirewire/messaging-service/internal/domain"
	"github.com/hirewire/messaging-service/internal/service"
	"github.com/hirewire/messaging-service/internal/store"
	"github.com/hirewire/messaging-service/internal/ws"
)

type testEnv struct {
	server    *Server
	store     *store.Badger
	validator *auth.Validator
	hub       *ws.Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := zap.NewNop().Sugar()

	b, err := store.NewBadger("", log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close(context.Background()) })

	hub := ws.NewHub(log)
	dispatcher := ws.NewDispatcher(hub, nil, "test-node", log)
	svc := service.NewMessaging(b, b, dispatcher, nil, log)
	validator := auth.NewValidator("test-secret")

	cfg := &config.Config{}
	cfg.Server.Port = "0"
	cfg.WS.SendBuffer = 16
	cfg.WS.RateLimitPerSec = 100

	server := NewServer(cfg, svc, hub, nil, validator, log)
	return &testEnv{server: server, store: b, validator: validator, hub: hub}
}

func (e *testEnv) seedUser(t *testing.T, id string) {
	t.Helper()
	err := e.store.PutUser(context.Background(), domain.User{
		ID: id, Name: id, Role: domain.RoleSeeker, Active: true,
	})
	require.NoError(t, err)
}

func (e *testEnv) request(t *testing.T, method, path, asUser string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if asUser != "" {
		token, err := e.validator.Sign(asUser)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.server.App().Test(req, 5000)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestAPI_RequiresAuth(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)

	resp := env.request(t, http.MethodGet, "/api/v1/messages", "", nil)
	req.Equal(http.StatusUnauthorized, resp.StatusCode)

	r := httptest.NewRequest(http.MethodGet, "/api/v1/messages", nil)
	r.Header.Set("Authorization", "Bearer not-a-token")
	resp, err := env.server.App().Test(r, 5000)
	req.NoError(err)
	req.Equal(http.StatusUnauthorized, resp.StatusCode)
}

func TestAPI_SendAndFetchThread(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	env.seedUser(t, "alice")
	env.seedUser(t, "bob")

	resp := env.request(t, http.MethodPost, "/api/v1/messages", "alice",
		map[string]string{"receiverId": "bob", "content": "halo"})
	req.Equal(http.StatusCreated, resp.StatusCode)

	var created struct {
		Data domain.Message `json:"data"`
	}
	decodeBody(t, resp, &created)
	req.NotEmpty(created.Data.ID)
	req.Equal("alice", created.Data.SenderID)
	req.False(created.Data.IsRead)

	// Both sides see the identical thread.
	for _, caller := range []string{"alice", "bob"} {
		counterpart := "bob"
		if caller == "bob" {
			counterpart = "alice"
		}
		resp := env.request(t, http.MethodGet, "/api/v1/messages/"+counterpart, caller, nil)
		req.Equal(http.StatusOK, resp.StatusCode)

		var thread struct {
			Data []domain.Message `json:"data"`
		}
		decodeBody(t, resp, &thread)
		req.Len(thread.Data, 1)
		req.Equal(created.Data.ID, thread.Data[0].ID)
	}
}

func TestAPI_SendValidation(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	env.seedUser(t, "alice")
	env.seedUser(t, "bob")

	resp := env.request(t, http.MethodPost, "/api/v1/messages", "alice",
		map[string]string{"receiverId": "bob", "content": ""})
	req.Equal(http.StatusBadRequest, resp.StatusCode)

	resp = env.request(t, http.MethodPost, "/api/v1/messages", "alice",
		map[string]string{"receiverId": "bob", "content": strings.Repeat("x", 4001)})
	req.Equal(http.StatusBadRequest, resp.StatusCode)

	resp = env.request(t, http.MethodPost, "/api/v1/messages", "alice",
		map[string]string{"receiverId": "alice", "content": "hi me"})
	req.Equal(http.StatusBadRequest, resp.StatusCode)

	// Rejected sends created nothing.
	resp = env.request(t, http.MethodGet, "/api/v1/messages/bob", "alice", nil)
	var thread struct {
		Data []domain.Message `json:"data"`
	}
	decodeBody(t, resp, &thread)
	req.Empty(thread.Data)
}

func TestAPI_SendToUnknownReceiver(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	env.seedUser(t, "alice")

	resp := env.request(t, http.MethodPost, "/api/v1/messages", "alice",
		map[string]string{"receiverId": "ghost", "content": "hello?"})
	req.Equal(http.StatusNotFound, resp.StatusCode)
}

func TestAPI_ConversationsAndMarkRead(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	env.seedUser(t, "alice")
	env.seedUser(t, "bob")

	for i := 0; i < 2; i++ {
		resp := env.request(t, http.MethodPost, "/api/v1/messages", "alice",
			map[string]string{"receiverId": "bob", "content": "ping"})
		req.Equal(http.StatusCreated, resp.StatusCode)
	}

	resp := env.request(t, http.MethodGet, "/api/v1/messages", "bob", nil)
	req.Equal(http.StatusOK, resp.StatusCode)
	var convs struct {
		Data []domain.Conversation `json:"data"`
	}
	decodeBody(t, resp, &convs)
	req.Len(convs.Data, 1)
	req.Equal("alice", convs.Data[0].Counterpart.ID)
	req.EqualValues(2, convs.Data[0].UnreadCount)

	resp = env.request(t, http.MethodPatch, "/api/v1/messages/alice/read", "bob", nil)
	req.Equal(http.StatusOK, resp.StatusCode)
	var marked struct {
		UpdatedCount int64 `json:"updatedCount"`
	}
	decodeBody(t, resp, &marked)
	req.EqualValues(2, marked.UpdatedCount)

	// Idempotent: second call reports zero, still a success.
	resp = env.request(t, http.MethodPatch, "/api/v1/messages/alice/read", "bob", nil)
	req.Equal(http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &marked)
	req.EqualValues(0, marked.UpdatedCount)
}

func TestAPI_ThreadPagination(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	env.seedUser(t, "alice")
	env.seedUser(t, "bob")

	for i := 0; i < 7; i++ {
		resp := env.request(t, http.MethodPost, "/api/v1/messages", "alice",
			map[string]string{"receiverId": "bob", "content": "m"})
		req.Equal(http.StatusCreated, resp.StatusCode)
	}

	var page struct {
		Data       []domain.Message `json:"data"`
		NextCursor string           `json:"nextCursor"`
	}
	resp := env.request(t, http.MethodGet, "/api/v1/messages/alice?limit=3", "bob", nil)
	decodeBody(t, resp, &page)
	req.Len(page.Data, 3)
	req.NotEmpty(page.NextCursor)

	seen := map[string]bool{}
	for _, m := range page.Data {
		seen[m.ID] = true
	}
	resp = env.request(t, http.MethodGet, "/api/v1/messages/alice?limit=3&cursor="+page.NextCursor, "bob", nil)
	decodeBody(t, resp, &page)
	req.Len(page.Data, 3)
	for _, m := range page.Data {
		req.False(seen[m.ID], "pages must not overlap")
	}
}

func TestAPI_Health(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)

	resp, err := env.server.App().Test(httptest.NewRequest(http.MethodGet, "/health", nil), 5000)
	req.NoError(err)
	req.Equal(http.StatusOK, resp.StatusCode)
}

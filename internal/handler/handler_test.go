package handler_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/shared-lists/internal/handler"
	"github.com/sakif/shared-lists/internal/notify"
	"github.com/sakif/shared-lists/internal/repository"
	"github.com/sakif/shared-lists/internal/service"
	"github.com/sakif/shared-lists/internal/store"
)

// memRepo is an in-memory repository.DocumentRepository.
type memRepo struct {
	mu       sync.Mutex
	docs     map[string][]byte
	writeErr error
}

func (m *memRepo) Read(_ context.Context, doc string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.docs[doc]
	if !ok {
		return nil, repository.ErrNotExist
	}
	return data, nil
}

func (m *memRepo) Write(_ context.Context, doc string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.docs[doc] = append([]byte(nil), data...)
	return nil
}

func (m *memRepo) Close() error { return nil }

type testEnv struct {
	router   *chi.Mux
	repo     *memRepo
	notifier *notify.Notifier
}

// newTestEnv wires the real store, services and handlers the way the
// server does, on top of an in-memory repository.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	repo := &memRepo{docs: map[string][]byte{}}

	st, err := store.Open(context.Background(), repo, logger, store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	n := notify.New(logger, notify.Options{})
	t.Cleanup(n.Stop)

	lists := service.NewListService(st, n, logger, nil)
	users := service.NewUserService(st, n, logger, nil)

	items := handler.NewItemHandler(lists, logger)
	listH := handler.NewListHandler(lists, logger)
	userH := handler.NewUserHandler(users, logger)
	events := handler.NewEventsHandler(n, time.Second, "*", logger)

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Get("/items/{list}", items.HandleList)
		r.Post("/items/{list}", items.HandleAdd)
		r.Delete("/items/{list}", items.HandleClear)
		r.Delete("/items/{list}/completed", items.HandleDeleteCompleted)
		r.Patch("/items/{list}/{id}", items.HandleUpdate)
		r.Delete("/items/{list}/{id}", items.HandleDelete)
		r.Post("/items/{list}/{id}/amount", items.HandleAdjustAmount)

		r.Get("/lists", listH.HandleList)
		r.Post("/lists", listH.HandleCreate)
		r.Get("/lists/{list}", listH.HandleGet)
		r.Delete("/lists/{list}", listH.HandleDelete)

		r.Get("/users", userH.HandleList)
		r.Post("/users/register", userH.HandleRegister)
		r.Delete("/users/{username}", userH.HandleDelete)
		r.Get("/favorites/{username}", userH.HandleFavorites)
		r.Post("/favorites/{username}/{list}", userH.HandleToggleFavorite)

		r.Get("/events", events.HandleSSE)
		r.Get("/events/ws", events.HandleWebSocket)
	})

	return &testEnv{router: r, repo: repo, notifier: n}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

type itemJSON struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Completed bool   `json:"completed"`
	Amount    int    `json:"amount"`
	AddedBy   string `json:"addedBy"`
}

type itemResult struct {
	Success bool     `json:"success"`
	Item    itemJSON `json:"item"`
}

type errorJSON struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field"`
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&v), "body: %s", rr.Body.String())
	return v
}

func TestItems_AddAndList(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/api/items/groceries", `{"text":"Milk","amount":2,"id":1700000000000}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	added := decode[itemResult](t, rr)
	assert.True(t, added.Success)
	assert.Equal(t, "1700000000000", added.Item.ID)
	assert.Equal(t, 2, added.Item.Amount)
	assert.Equal(t, "Guest", added.Item.AddedBy)

	rr = env.do(t, http.MethodGet, "/api/items/groceries", "")
	require.Equal(t, http.StatusOK, rr.Code)
	items := decode[[]itemJSON](t, rr)
	require.Len(t, items, 1)
	assert.Equal(t, "Milk", items[0].Text)

	rr = env.do(t, http.MethodGet, "/api/items/unknown", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())
}

func TestItems_AddValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"missing text", `{"amount":1}`, "text"},
		{"text too long", `{"text":"` + strings.Repeat("x", 129) + `"}`, "text"},
		{"amount below one", `{"text":"Milk","amount":0}`, "amount"},
		{"amount as string", `{"text":"Milk","amount":"3"}`, "amount"},
		{"malformed json", `{"text":`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, "/api/items/groceries", tt.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			got := decode[errorJSON](t, rr)
			assert.Equal(t, "validation_error", got.Error)
			assert.Equal(t, tt.field, got.Field)
		})
	}
}

func TestItems_UpdateAdjustDelete(t *testing.T) {
	env := newTestEnv(t)

	added := decode[itemResult](t, env.do(t, http.MethodPost, "/api/items/groceries", `{"text":"Milk"}`))
	id := added.Item.ID

	rr := env.do(t, http.MethodPatch, "/api/items/groceries/"+id, `{"completed":true,"id":"other","addedBy":"mallory"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	updated := decode[itemResult](t, rr)
	assert.True(t, updated.Item.Completed)
	assert.Equal(t, id, updated.Item.ID)
	assert.Equal(t, "Guest", updated.Item.AddedBy)

	rr = env.do(t, http.MethodPatch, "/api/items/groceries/"+id, `{"foo":"bar"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodPatch, "/api/items/groceries/missing", `{"completed":true}`)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = env.do(t, http.MethodPost, "/api/items/groceries/"+id+"/amount", `{"delta":4}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 5, decode[itemResult](t, rr).Item.Amount)

	rr = env.do(t, http.MethodPost, "/api/items/groceries/"+id+"/amount", `{"delta":-100}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, decode[itemResult](t, rr).Item.Amount)

	rr = env.do(t, http.MethodDelete, "/api/items/groceries/"+id, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"success":true}`, rr.Body.String())

	rr = env.do(t, http.MethodDelete, "/api/items/groceries/"+id, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "not_found", decode[errorJSON](t, rr).Error)
}

func TestItems_DeleteCompletedAndClear(t *testing.T) {
	env := newTestEnv(t)

	milk := decode[itemResult](t, env.do(t, http.MethodPost, "/api/items/groceries", `{"text":"Milk"}`))
	env.do(t, http.MethodPost, "/api/items/groceries", `{"text":"Eggs"}`)
	env.do(t, http.MethodPatch, "/api/items/groceries/"+milk.Item.ID, `{"completed":true}`)

	rr := env.do(t, http.MethodDelete, "/api/items/groceries/completed", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"success":true,"removed":1}`, rr.Body.String())

	rr = env.do(t, http.MethodDelete, "/api/items/groceries", "")
	require.Equal(t, http.StatusOK, rr.Code)

	rr = env.do(t, http.MethodGet, "/api/items/groceries", "")
	assert.JSONEq(t, `[]`, rr.Body.String())
}

func TestLists(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/api/lists", `{"name":"groceries","displayName":"Groceries","createdBy":"sam"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.JSONEq(t, `{"success":true,"listId":"groceries"}`, rr.Body.String())

	rr = env.do(t, http.MethodPost, "/api/lists", `{"name":"groceries"}`)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = env.do(t, http.MethodPost, "/api/lists", `{"displayName":"Anything"}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	generated := decode[struct {
		ListID string `json:"listId"`
	}](t, rr)
	assert.NotEmpty(t, generated.ListID)

	for _, text := range []string{"Milk", "Eggs", "Bread"} {
		env.do(t, http.MethodPost, "/api/items/groceries", `{"text":"`+text+`"}`)
	}

	rr = env.do(t, http.MethodGet, "/api/lists/groceries", "")
	require.Equal(t, http.StatusOK, rr.Code)
	sum := decode[struct {
		Name        string `json:"name"`
		DisplayName string `json:"displayName"`
		ItemCount   int    `json:"itemCount"`
	}](t, rr)
	assert.Equal(t, "Groceries", sum.DisplayName)
	assert.Equal(t, 3, sum.ItemCount)

	rr = env.do(t, http.MethodGet, "/api/lists", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[[]json.RawMessage](t, rr), 2)

	rr = env.do(t, http.MethodDelete, "/api/lists/groceries", "")
	require.Equal(t, http.StatusOK, rr.Code)

	rr = env.do(t, http.MethodGet, "/api/lists/groceries", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = env.do(t, http.MethodGet, "/api/items/groceries", "")
	assert.JSONEq(t, `[]`, rr.Body.String())
}

func TestLists_UnicodeNames(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/api/lists", `{"name":"Einkäufe"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = env.do(t, http.MethodPost, "/api/items/Eink%C3%A4ufe", `{"text":"Milch"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	// Adding to an unknown list creates it under the decoded name.
	rr = env.do(t, http.MethodPost, "/api/items/Weekend%20BBQ", `{"text":"Charcoal"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = env.do(t, http.MethodGet, "/api/lists/Eink%C3%A4ufe", "")
	require.Equal(t, http.StatusOK, rr.Code)
	sum := decode[struct {
		Name      string `json:"name"`
		ItemCount int    `json:"itemCount"`
	}](t, rr)
	assert.Equal(t, "Einkäufe", sum.Name)
	assert.Equal(t, 1, sum.ItemCount)

	rr = env.do(t, http.MethodGet, "/api/items/Weekend%20BBQ", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[[]itemJSON](t, rr), 1)

	rr = env.do(t, http.MethodPost, "/api/lists", `{"name":"what?"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestUsersAndFavorites(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/api/users/register", `{"username":"Sam","displayName":"Sam S."}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = env.do(t, http.MethodGet, "/api/users", "")
	require.Equal(t, http.StatusOK, rr.Code)
	users := decode[[]struct {
		Name        string `json:"name"`
		DisplayName string `json:"displayName"`
	}](t, rr)
	require.Len(t, users, 1)
	assert.Equal(t, "sam", users[0].Name)
	assert.Equal(t, "Sam S.", users[0].DisplayName)

	rr = env.do(t, http.MethodPost, "/api/favorites/sam/groceries", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"success":true,"favorites":["groceries"]}`, rr.Body.String())

	rr = env.do(t, http.MethodGet, "/api/favorites/sam", "")
	assert.JSONEq(t, `["groceries"]`, rr.Body.String())

	rr = env.do(t, http.MethodPost, "/api/favorites/sam/groceries", "")
	assert.JSONEq(t, `{"success":true,"favorites":[]}`, rr.Body.String())

	rr = env.do(t, http.MethodPost, "/api/favorites/nobody/groceries", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = env.do(t, http.MethodDelete, "/api/users/sam", "")
	require.Equal(t, http.StatusOK, rr.Code)
	rr = env.do(t, http.MethodDelete, "/api/users/sam", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestStorageFailure(t *testing.T) {
	env := newTestEnv(t)

	env.repo.mu.Lock()
	env.repo.writeErr = errors.New("/var/data/lists.json: read-only file system")
	env.repo.mu.Unlock()

	rr := env.do(t, http.MethodPost, "/api/items/groceries", `{"text":"Milk"}`)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	got := decode[errorJSON](t, rr)
	assert.Equal(t, "storage_error", got.Error)
	assert.NotContains(t, got.Message, "/var/data")
}

func TestEvents_SSE(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	lines := bufio.NewReader(resp.Body)

	readEvent := func() notify.Event {
		t.Helper()
		line, err := lines.ReadString('\n')
		require.NoError(t, err)
		blank, err := lines.ReadString('\n')
		require.NoError(t, err)
		require.Equal(t, "\n", blank)

		var ev notify.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &ev))
		return ev
	}

	connected := readEvent()
	assert.Equal(t, notify.TypeConnected, connected.Type)
	assert.NotEmpty(t, connected.ClientID)

	post, err := http.Post(srv.URL+"/api/items/groceries", "application/json", strings.NewReader(`{"text":"Milk"}`))
	require.NoError(t, err)
	post.Body.Close()

	assert.Equal(t, notify.Event{Type: notify.TypeUpdate, Kind: notify.KindItems}, readEvent())
}

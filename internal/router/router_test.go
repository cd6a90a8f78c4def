package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"stocksync/internal/handler"
	"stocksync/internal/metrics"
	"stocksync/internal/middleware"
	"stocksync/internal/model"
	"stocksync/internal/platform"
	"stocksync/internal/repository"
	"stocksync/internal/service"
	"stocksync/internal/webhook"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	adminKey = "s3cret-admin"
	secret   = "hush"
	shop     = "alpha.myshopify.com"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Meta    *struct {
		Page  int   `json:"page"`
		Limit int   `json:"limit"`
		Total int64 `json:"total"`
	} `json:"meta"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type server struct {
	http.Handler
	store *repository.SQLStore
}

func newServer(t *testing.T) *server {
	t.Helper()
	store, err := repository.NewSQLiteStore(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	reg := metrics.NewRegistry()
	engine := service.NewEngine(service.EngineDeps{
		Store:       store,
		Platform:    platform.NewMemoryClient(),
		Credentials: repository.NewStaticCredentialRepository(nil),
		Metrics:     reg,
	}, service.DefaultEngineConfig())
	ledger := service.NewLedger(store, 3)
	intake := service.NewIntake(ledger, nil, service.NewHandler(engine, ledger, reg))
	inventory := service.NewInventoryService(store, nil)

	h := New(Config{
		Handler:          handler.New("test", map[string]func(context.Context) error{"store": store.Ping}),
		WebhookHandler:   handler.NewWebhookHandler(intake, secret),
		InventoryHandler: handler.NewInventoryHandler(inventory),
		AdminHandler:     handler.NewAdminHandler(engine, store, nil, "sqlite"),
		LogHandler:       handler.NewLogHandler(inventory, engine.Conflicts()),
		AdminAuth:        middleware.NewAdminAuth(middleware.AuthConfig{AdminKeys: []string{adminKey}}),
		Metrics:          reg.Handler(),
	})
	return &server{Handler: h, store: store}
}

func (s *server) do(t *testing.T, req *http.Request) (int, envelope) {
	t.Helper()
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec.Code, env
}

func (s *server) admin(t *testing.T, method, path, body string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(middleware.HeaderAdminKey, adminKey)
	return s.do(t, req)
}

func (s *server) deliver(t *testing.T, eventID, topic, body string, sign bool) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks", strings.NewReader(body))
	req.Header.Set(webhook.HeaderWebhookID, eventID)
	req.Header.Set(webhook.HeaderTopic, topic)
	req.Header.Set(webhook.HeaderShopDomain, shop)
	if sign {
		req.Header.Set(webhook.HeaderHmac, webhook.Sign([]byte(body), secret))
	}
	return s.do(t, req)
}

const productBody = `{"id": 7, "title": "Mug", "variants": [{"id": 70, "sku": "MUG-1", "title": "Default Title", "inventory_item_id": 700}]}`

func TestHealthAndReady(t *testing.T) {
	s := newServer(t)

	code, env := s.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)

	code, env = s.do(t, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"store"`)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhook_Signature(t *testing.T) {
	s := newServer(t)

	code, env := s.deliver(t, "evt-1", webhook.TopicProductsCreate, productBody, false)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "UNAUTHORIZED", env.Error.Code)

	code, env = s.deliver(t, "evt-1", webhook.TopicProductsCreate, productBody, true)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), string(service.ReceiveProcessed))

	code, env = s.deliver(t, "evt-1", webhook.TopicProductsCreate, productBody, true)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), string(service.ReceiveDuplicate))

	code, env = s.admin(t, http.MethodGet, "/admin/products/MUG-1", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"sku":"MUG-1"`)
}

func TestWebhook_Rejections(t *testing.T) {
	s := newServer(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks", strings.NewReader(`{}`))
	req.Header.Set(webhook.HeaderHmac, webhook.Sign([]byte(`{}`), secret))
	code, env := s.do(t, req)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)

	code, env = s.deliver(t, "evt-2", webhook.TopicOrdersCreate, `{"id": 1}`, true)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "INVALID_PAYLOAD", env.Error.Code)

	code, env = s.deliver(t, "evt-3", "carts/update", `{}`, true)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), string(service.ReceiveIgnored))
}

func TestAdmin_RequiresKey(t *testing.T) {
	s := newServer(t)

	code, _ := s.do(t, httptest.NewRequest(http.MethodGet, "/admin/stats", nil))
	assert.Equal(t, http.StatusUnauthorized, code)

	req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	code, _ = s.do(t, req)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, env := s.admin(t, http.MethodGet, "/admin/stats", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"db_type":"sqlite"`)
}

func TestAdmin_Replicas(t *testing.T) {
	s := newServer(t)

	code, _ := s.deliver(t, "evt-1", webhook.TopicProductsCreate, productBody, true)
	require.Equal(t, http.StatusOK, code)
	code, _ = s.deliver(t, "evt-2", webhook.TopicAppUninstalled, `{"id": 1, "domain": "`+shop+`"}`, true)
	require.Equal(t, http.StatusOK, code)

	r, err := s.store.GetReplicaByDomain(context.Background(), shop)
	require.NoError(t, err)
	assert.False(t, r.Active)

	code, env := s.admin(t, http.MethodPost, "/admin/replicas/"+shop+"/bulk-push", "")
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "CONFLICT", env.Error.Code)

	code, _ = s.admin(t, http.MethodPost, "/admin/replicas/"+shop+"/enable", "")
	require.Equal(t, http.StatusOK, code)
	r, err = s.store.GetReplicaByDomain(context.Background(), shop)
	require.NoError(t, err)
	assert.True(t, r.Propagates())

	code, env = s.admin(t, http.MethodGet, "/admin/replicas", "")
	require.Equal(t, http.StatusOK, code)
	var replicas []model.StoreReplica
	require.NoError(t, json.Unmarshal(env.Data, &replicas))
	require.Len(t, replicas, 1)
	assert.Equal(t, shop, replicas[0].Domain)

	code, _ = s.admin(t, http.MethodPost, "/admin/replicas/unknown.myshopify.com/disable", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAdmin_OperationsAndConflicts(t *testing.T) {
	s := newServer(t)

	code, _ := s.deliver(t, "evt-1", webhook.TopicProductsCreate, productBody, true)
	require.Equal(t, http.StatusOK, code)

	code, env := s.admin(t, http.MethodGet, "/admin/operations?status=completed&limit=10", "")
	require.Equal(t, http.StatusOK, code)
	require.NotNil(t, env.Meta)
	assert.Equal(t, int64(1), env.Meta.Total)
	assert.Equal(t, 10, env.Meta.Limit)

	code, env = s.admin(t, http.MethodGet, "/admin/operations?status=bogus", "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)

	code, _ = s.admin(t, http.MethodGet, "/admin/operations?product_id=abc", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = s.admin(t, http.MethodGet, "/admin/conflicts", "")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[]`, string(env.Data))

	code, _ = s.admin(t, http.MethodPost, "/admin/conflicts/99/resolve", `{"strategy": "use_lowest"}`)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = s.admin(t, http.MethodPost, "/admin/conflicts/99/resolve", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.admin(t, http.MethodGet, "/admin/products/NOPE", "")
	assert.Equal(t, http.StatusNotFound, code)
}

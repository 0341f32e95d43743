package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	nethttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/marketplace-support/internal/api/http/handlers"
	"github.com/spec-kit/marketplace-support/internal/auth"
	"github.com/spec-kit/marketplace-support/internal/domain"
	"github.com/spec-kit/marketplace-support/internal/events"
	"github.com/spec-kit/marketplace-support/internal/observability"
	"github.com/spec-kit/marketplace-support/internal/persistence"
	"github.com/spec-kit/marketplace-support/internal/repository/memory"
	"github.com/spec-kit/marketplace-support/internal/service"
	"github.com/spec-kit/marketplace-support/internal/storage"
)

type testServer struct {
	app    *fiber.App
	tokens map[string]string
}

func newTestServer(t *testing.T, rateLimit int64) *testServer {
	t.Helper()
	logger := zap.NewNop()
	repos := memory.NewStore().Repositories()
	ctx := context.Background()
	require.NoError(t, repos.Orders.Create(ctx, &domain.Order{
		ID: "order-1", UserID: "buyer-1", SellerID: "seller-1", PaymentIntentID: "pi_123",
		Status: domain.OrderStatusDelivered, Currency: "usd", TotalAmount: 5000, CreatedAt: time.Now(),
	}))
	require.NoError(t, repos.Agents.Create(ctx, &domain.Agent{ID: "agent-1", Name: "Ada", Active: true}))

	dispatcher := events.NewInMemoryDispatcher(logger)
	tickets := service.NewTicketService(service.TicketDependencies{
		TicketRepo:  repos.Tickets,
		MessageRepo: repos.Messages,
		HistoryRepo: repos.History,
		OrderRepo:   repos.Orders,
		ProductRepo: repos.Products,
		AgentRepo:   repos.Agents,
		Dispatcher:  dispatcher,
		Logger:      logger,
	})
	refunds := service.NewRefundService(service.RefundDependencies{
		RefundRepo:  repos.Refunds,
		OrderRepo:   repos.Orders,
		Idempotency: persistence.NewMemoryIdempotencyStore(),
		Dispatcher:  dispatcher,
		Logger:      logger,
	})
	files, err := storage.NewFileStorage(t.TempDir(), 1<<20)
	require.NoError(t, err)

	tm := auth.NewTokenManager("test-secret", "", time.Hour)
	metrics := observability.NewMetrics()
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	RegisterMiddlewares(app, logger, metrics, 5*time.Second)
	RegisterRoutes(app, RouteConfig{
		Health:         handlers.NewHealthHandler("marketplace-support", "test", nil, metrics),
		Tickets:        handlers.NewTicketsHandler(tickets, files),
		AdminTickets:   handlers.NewAdminTicketsHandler(tickets, service.NewAssignmentService(tickets, repos.Agents)),
		Refunds:        handlers.NewRefundsHandler(refunds, files),
		Orders:         handlers.NewOrdersHandler(service.NewOrderService(repos.Orders)),
		Uploads:        handlers.NewUploadsHandler(files, logger),
		AuthMiddleware: auth.NewAuthMiddleware(tm),
		RateLimit:      RateLimitMiddleware(rateLimit, time.Minute),
	})

	srv := &testServer{app: app, tokens: map[string]string{}}
	for _, p := range []domain.Principal{
		{UserID: "buyer-1", Role: domain.RoleBuyer},
		{UserID: "buyer-2", Role: domain.RoleBuyer},
		{UserID: "admin-1", Role: domain.RoleAdmin},
	} {
		token, _, err := tm.GenerateToken(p)
		require.NoError(t, err)
		srv.tokens[p.UserID] = token
	}
	return srv
}

type apiResponse struct {
	status  int
	headers map[string]string
	Data    json.RawMessage `json:"data"`
	Error   struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func (s *testServer) do(t *testing.T, method, path, user string, body any, headers map[string]string) apiResponse {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return s.send(t, req, user)
}


func (s *testServer) send(t *testing.T, req *nethttp.Request, user string) apiResponse {
	t.Helper()
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+s.tokens[user])
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out apiResponse
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	out.status = resp.StatusCode
	out.headers = map[string]string{
		"Idempotent-Replayed": resp.Header.Get("Idempotent-Replayed"),
		"X-RateLimit-Limit":   resp.Header.Get("X-RateLimit-Limit"),
	}
	return out
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

type ticketBody struct {
	ID         string  `json:"id"`
	Status     string  `json:"status"`
	AssignedTo *string `json:"assigned_to"`
	Messages   []struct {
		Body     string `json:"body"`
		Internal bool   `json:"internal"`
	} `json:"messages"`
}

type refundBody struct {
	ID          string  `json:"id"`
	Status      string  `json:"status"`
	Amount      int64   `json:"amount"`
	ProcessedAt *string `json:"processed_at"`
}

func TestHealthAndUnknownRoutes(t *testing.T) {
	srv := newTestServer(t, 100)

	resp := srv.do(t, "GET", "/health/live", "", nil, nil)
	assert.Equal(t, fiber.StatusOK, resp.status)

	resp = srv.do(t, "GET", "/health/ready", "", nil, nil)
	assert.Equal(t, fiber.StatusOK, resp.status)

	resp = srv.do(t, "GET", "/nowhere", "", nil, nil)
	assert.Equal(t, fiber.StatusNotFound, resp.status)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)
}

func TestAuthenticationAndRoles(t *testing.T) {
	srv := newTestServer(t, 100)

	resp := srv.do(t, "GET", "/api/v1/tickets", "", nil, nil)
	assert.Equal(t, fiber.StatusUnauthorized, resp.status)
	assert.Equal(t, "UNAUTHORIZED", resp.Error.Code)

	resp = srv.do(t, "GET", "/api/v1/admin/tickets", "buyer-1", nil, nil)
	assert.Equal(t, fiber.StatusForbidden, resp.status)
	assert.Equal(t, "FORBIDDEN", resp.Error.Code)

	resp = srv.do(t, "GET", "/api/v1/admin/agents", "admin-1", nil, nil)
	require.Equal(t, fiber.StatusOK, resp.status)
	agents := decode[[]map[string]any](t, resp.Data)
	require.Len(t, agents, 1)
	assert.Equal(t, "agent-1", agents[0]["id"])
}

func TestTicketLifecycle(t *testing.T) {
	srv := newTestServer(t, 100)

	resp := srv.do(t, "POST", "/api/v1/tickets", "buyer-1", map[string]any{
		"title":       "Lamp arrived broken",
		"description": "The shade is cracked",
		"category":    "order_issue",
		"order_id":    "order-1",
	}, nil)
	require.Equal(t, fiber.StatusCreated, resp.status, resp.Error.Message)
	created := decode[ticketBody](t, resp.Data)
	assert.Equal(t, "OPEN", created.Status)
	base := "/api/v1/tickets/" + created.ID

	resp = srv.do(t, "POST", "/api/v1/tickets", "buyer-1", map[string]any{
		"title": "x", "description": "y", "category": "nonsense",
	}, nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.status)
	assert.Equal(t, "VALIDATION_FAILED", resp.Error.Code)

	resp = srv.do(t, "GET", base, "buyer-2", nil, nil)
	assert.Equal(t, fiber.StatusForbidden, resp.status)

	resp = srv.do(t, "POST", base+"/messages", "buyer-1", map[string]any{"body": "   "}, nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.status)

	resp = srv.do(t, "POST", base+"/messages", "buyer-1", map[string]any{"body": "note", "internal": true}, nil)
	assert.Equal(t, fiber.StatusForbidden, resp.status)

	resp = srv.do(t, "POST", base+"/messages", "buyer-1", map[string]any{"body": "Photos attached later"}, nil)
	assert.Equal(t, fiber.StatusCreated, resp.status)
	resp = srv.do(t, "POST", base+"/messages", "admin-1", map[string]any{"body": "check courier", "internal": true}, nil)
	assert.Equal(t, fiber.StatusCreated, resp.status)

	resp = srv.do(t, "GET", base, "buyer-1", nil, nil)
	require.Equal(t, fiber.StatusOK, resp.status)
	assert.Len(t, decode[ticketBody](t, resp.Data).Messages, 1)

	resp = srv.do(t, "GET", base, "admin-1", nil, nil)
	require.Equal(t, fiber.StatusOK, resp.status)
	assert.Len(t, decode[ticketBody](t, resp.Data).Messages, 2)

	resp = srv.do(t, "PUT", "/api/v1/admin/tickets/"+created.ID+"/status", "admin-1", map[string]any{"status": "IN_PROGRESS"}, nil)
	require.Equal(t, fiber.StatusOK, resp.status)
	assert.Equal(t, "IN_PROGRESS", decode[ticketBody](t, resp.Data).Status)

	resp = srv.do(t, "PUT", "/api/v1/admin/tickets/"+created.ID+"/assignee", "admin-1", map[string]any{"agent_id": "agent-1"}, nil)
	require.Equal(t, fiber.StatusOK, resp.status)
	assigned := decode[ticketBody](t, resp.Data)
	require.NotNil(t, assigned.AssignedTo)
	assert.Equal(t, "agent-1", *assigned.AssignedTo)

	resp = srv.do(t, "PATCH", "/api/v1/admin/tickets/"+created.ID, "admin-1", map[string]any{"priority": "urgent"}, nil)
	assert.Equal(t, fiber.StatusOK, resp.status)

	resp = srv.do(t, "GET", base+"/history", "buyer-1", nil, nil)
	require.Equal(t, fiber.StatusOK, resp.status)
	assert.Len(t, decode[[]map[string]any](t, resp.Data), 2)

	resp = srv.do(t, "POST", base+"/close", "buyer-1", nil, nil)
	require.Equal(t, fiber.StatusOK, resp.status)
	assert.Equal(t, "CLOSED", decode[ticketBody](t, resp.Data).Status)

	resp = srv.do(t, "PUT", "/api/v1/admin/tickets/"+created.ID+"/status", "admin-1", map[string]any{"status": "OPEN"}, nil)
	assert.Equal(t, fiber.StatusConflict, resp.status)
	assert.Equal(t, "INVALID_TRANSITION", resp.Error.Code)

	resp = srv.do(t, "GET", "/api/v1/tickets?status=all&search=LAMP", "buyer-1", nil, nil)
	require.Equal(t, fiber.StatusOK, resp.status)
	assert.Len(t, decode[[]ticketBody](t, resp.Data), 1)

	resp = srv.do(t, "GET", "/api/v1/tickets?status=OPEN", "buyer-1", nil, nil)
	require.Equal(t, fiber.StatusOK, resp.status)
	assert.Empty(t, decode[[]ticketBody](t, resp.Data))

	resp = srv.do(t, "GET", "/api/v1/tickets?status=bogus", "buyer-1", nil, nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.status)
}

func TestRefundFlow(t *testing.T) {
	srv := newTestServer(t, 100)
	key := map[string]string{handlers.HeaderIdempotencyKey: "retry-1"}
	payload := map[string]any{"payment_intent_id": "pi_123", "amount": 2097, "reason": "requested_by_customer"}

	first := srv.do(t, "POST", "/api/v1/refunds", "buyer-1", payload, key)
	require.Equal(t, fiber.StatusCreated, first.status, first.Error.Message)
	refund := decode[refundBody](t, first.Data)
	assert.Equal(t, "pending", refund.Status)
	assert.Equal(t, int64(2097), refund.Amount)

	replay := srv.do(t, "POST", "/api/v1/refunds", "buyer-1", payload, key)
	require.Equal(t, fiber.StatusOK, replay.status)
	assert.Equal(t, refund.ID, decode[refundBody](t, replay.Data).ID)
	assert.Equal(t, "true", replay.headers["Idempotent-Replayed"])

	changed := srv.do(t, "POST", "/api/v1/refunds", "buyer-1", map[string]any{"payment_intent_id": "pi_123", "amount": 1}, key)
	assert.Equal(t, fiber.StatusConflict, changed.status)
	assert.Equal(t, "CONFLICT", changed.Error.Code)

	resp := srv.do(t, "POST", "/api/v1/refunds", "buyer-2", payload, nil)
	assert.Equal(t, fiber.StatusForbidden, resp.status)

	resp = srv.do(t, "POST", "/api/v1/refunds", "buyer-1", map[string]any{"payment_intent_id": "pi_123", "amount": 5000}, nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.status)

	resp = srv.do(t, "POST", "/api/v1/refunds", "buyer-1", map[string]any{
		"payment_intent_id": "pi_123", "amount": 10, "images": []string{"buyer-1/missing.png"},
	}, nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.status)

	resp = srv.do(t, "POST", "/api/v1/admin/refunds/"+refund.ID+"/approve", "buyer-1", nil, nil)
	assert.Equal(t, fiber.StatusForbidden, resp.status)

	resp = srv.do(t, "POST", "/api/v1/admin/refunds/"+refund.ID+"/approve", "admin-1", nil, nil)
	require.Equal(t, fiber.StatusOK, resp.status)
	approved := decode[refundBody](t, resp.Data)
	assert.Equal(t, "succeeded", approved.Status)
	assert.NotNil(t, approved.ProcessedAt)

	resp = srv.do(t, "POST", "/api/v1/admin/refunds/"+refund.ID+"/reject", "admin-1", nil, nil)
	assert.Equal(t, fiber.StatusConflict, resp.status)
	assert.Equal(t, "INVALID_TRANSITION", resp.Error.Code)

	resp = srv.do(t, "GET", "/api/v1/refunds?status=succeeded", "buyer-1", nil, nil)
	require.Equal(t, fiber.StatusOK, resp.status)
	assert.Len(t, decode[[]refundBody](t, resp.Data), 1)

	resp = srv.do(t, "GET", "/api/v1/refunds/"+refund.ID, "buyer-2", nil, nil)
	assert.Equal(t, fiber.StatusForbidden, resp.status)
}

func TestOrders(t *testing.T) {
	srv := newTestServer(t, 100)

	resp := srv.do(t, "GET", "/api/v1/orders", "buyer-1", nil, nil)
	require.Equal(t, fiber.StatusOK, resp.status)
	assert.Len(t, decode[[]map[string]any](t, resp.Data), 1)

	resp = srv.do(t, "GET", "/api/v1/orders/order-1", "buyer-2", nil, nil)
	assert.Equal(t, fiber.StatusForbidden, resp.status)

	resp = srv.do(t, "GET", "/api/v1/orders/missing", "admin-1", nil, nil)
	assert.Equal(t, fiber.StatusNotFound, resp.status)
}

func multipartRequest(t *testing.T, fileName string, content []byte) *nethttp.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	req := httptest.NewRequest("POST", "/api/v1/uploads", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestUploadsFeedAttachments(t *testing.T) {
	srv := newTestServer(t, 100)
	png := []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0x0D, 'I', 'H', 'D', 'R'}

	resp := srv.send(t, multipartRequest(t, "receipt.png", png), "buyer-1")
	require.Equal(t, fiber.StatusCreated, resp.status, resp.Error.Message)
	upload := decode[map[string]any](t, resp.Data)
	assert.Equal(t, "image/png", upload["mime_type"])
	storageKey := upload["storage_key"].(string)

	resp = srv.send(t, multipartRequest(t, "notes.txt", []byte("hello there")), "buyer-1")
	assert.Equal(t, fiber.StatusBadRequest, resp.status)

	resp = srv.do(t, "POST", "/api/v1/refunds", "buyer-1", map[string]any{
		"payment_intent_id": "pi_123", "amount": 100, "images": []string{storageKey},
	}, nil)
	assert.Equal(t, fiber.StatusCreated, resp.status)

	resp = srv.do(t, "POST", "/api/v1/tickets", "buyer-2", map[string]any{
		"title": "Wrong item", "description": "Sent a chair", "category": "order_issue",
	}, nil)
	require.Equal(t, fiber.StatusCreated, resp.status, resp.Error.Message)
	messages := "/api/v1/tickets/" + decode[ticketBody](t, resp.Data).ID + "/messages"
	attach := map[string]any{
		"body":        "see photo",
		"attachments": []map[string]any{{"storage_key": storageKey, "file_name": "receipt.png", "mime_type": "image/png", "size_bytes": len(png)}},
	}

	resp = srv.do(t, "POST", messages, "buyer-2", attach, nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.status)
	assert.Equal(t, "VALIDATION_FAILED", resp.Error.Code)

	resp = srv.do(t, "POST", messages, "admin-1", attach, nil)
	assert.Equal(t, fiber.StatusCreated, resp.status, resp.Error.Message)
}

func TestRateLimit(t *testing.T) {
	srv := newTestServer(t, 2)

	for i := 0; i < 2; i++ {
		resp := srv.do(t, "GET", "/api/v1/orders", "buyer-1", nil, nil)
		require.Equal(t, fiber.StatusOK, resp.status)
		assert.Equal(t, "2", resp.headers["X-RateLimit-Limit"])
	}
	resp := srv.do(t, "GET", "/api/v1/orders", "buyer-1", nil, nil)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.status)
	assert.Equal(t, "RATE_LIMITED", resp.Error.Code)

	resp = srv.do(t, "GET", "/api/v1/orders", "buyer-2", nil, nil)
	assert.Equal(t, fiber.StatusOK, resp.status)
}

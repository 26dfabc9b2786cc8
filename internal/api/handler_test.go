package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"storefront/internal/catalog"
	"storefront/internal/models"
	"storefront/internal/redisclient"
	"storefront/internal/service"
	"storefront/internal/session"
	"storefront/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const backpackJSON = `{"id":1,"title":"Backpack","price":109.95,"description":"pack","category":"men's clothing","image":"bag.jpg","rating":{"rate":3.9,"count":120}}`
const jacketJSON = `{"id":3,"title":"Jacket","price":55.99,"description":"jacket","category":"men's clothing","image":"jacket.jpg","rating":{"rate":4.7,"count":500}}`

type memoryOrders struct {
	mu     sync.Mutex
	orders map[string]*models.Order
	err    error
}

func newMemoryOrders() *memoryOrders {
	return &memoryOrders{orders: map[string]*models.Order{}}
}

func (m *memoryOrders) CreateOrder(_ context.Context, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	order.ID = fmt.Sprintf("order-%d", len(m.orders)+1)
	order.CreatedAt = time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	m.orders[order.ID] = order
	return nil
}

func (m *memoryOrders) GetOrderByID(_ context.Context, id string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return nil, store.ErrOrderNotFound
	}
	return order, nil
}

type testEnv struct {
	router  *gin.Engine
	orders  *memoryOrders
	catalog *httptest.Server

	// requests for the electronics category block until released
	slowStarted chan struct{}
	slowRelease chan struct{}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	slowStarted := make(chan struct{}, 1)
	slowRelease := make(chan struct{})

	mux := http.NewServeMux()
	mux.HandleFunc("/products", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "[%s,%s]", backpackJSON, jacketJSON)
	})
	mux.HandleFunc("/products/", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/products/1":
			fmt.Fprint(w, backpackJSON)
		case "/products/3":
			fmt.Fprint(w, jacketJSON)
		case "/products/category/men's clothing":
			fmt.Fprintf(w, "[%s,%s]", backpackJSON, jacketJSON)
		case "/products/category/electronics":
			select {
			case slowStarted <- struct{}{}:
			default:
			}
			select {
			case <-slowRelease:
			case <-r.Context().Done():
			}
			fmt.Fprint(w, "[]")
		case "/products/500":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			// the catalog answers unknown ids with an empty body
			w.WriteHeader(http.StatusOK)
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(slowRelease) })

	mr := miniredis.RunT(t)
	idempotency := redisclient.NewFromRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	client := catalog.NewClient(srv.URL, 5*time.Second)
	orders := newMemoryOrders()
	submitter := service.NewOrderService(orders, nil, idempotency, time.Hour)
	handler := NewHandler(session.NewManager(client), client, submitter, orders)

	router := gin.New()
	handler.SetupRoutes(router)
	return &testEnv{
		router:      router,
		orders:      orders,
		catalog:     srv,
		slowStarted: slowStarted,
		slowRelease: slowRelease,
	}
}

func (e *testEnv) do(t *testing.T, method, path, sessionID string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set(SessionHeader, sessionID)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
}

type cartBody struct {
	Items      []models.CartLineItem `json:"items"`
	TotalItems int                   `json:"totalItems"`
	TotalPrice decimal.Decimal       `json:"totalPrice"`
}

var validCustomer = models.Customer{
	Name:    "Ada Lovelace",
	Email:   "ada@example.com",
	Phone:   "555-0100",
	Address: "12 Analytical Row",
	City:    "London",
	ZipCode: "N1 9GU",
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestSessionHeaderIsIssuedAndReused(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/cart", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	id := w.Header().Get(SessionHeader)
	require.NotEmpty(t, id)

	w = env.do(t, http.MethodGet, "/api/v1/cart", id, nil)
	assert.Equal(t, id, w.Header().Get(SessionHeader))
}

func TestListProducts(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/products/category/men%27s%20clothing", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Category     string           `json:"category"`
		CategoryName string           `json:"category_name"`
		Products     []models.Product `json:"products"`
	}
	decode(t, w, &body)
	assert.Equal(t, "men's clothing", body.Category)
	assert.Equal(t, "Men's Clothing", body.CategoryName)
	assert.Len(t, body.Products, 2)

	id := w.Header().Get(SessionHeader)
	w = env.do(t, http.MethodGet, "/api/v1/listing", id, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var view struct {
		Seq      uint64           `json:"seq"`
		Loaded   bool             `json:"loaded"`
		Products []models.Product `json:"products"`
	}
	decode(t, w, &view)
	assert.Equal(t, uint64(1), view.Seq)
	assert.True(t, view.Loaded)
	assert.Len(t, view.Products, 2)
}

func TestGetProduct(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/products/1", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Product models.Product `json:"product"`
		Stock   int            `json:"stock"`
	}
	decode(t, w, &body)
	assert.Equal(t, "Backpack", body.Product.Title)
	assert.Equal(t, catalog.DisplayStock, body.Stock)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/v1/products/999", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/v1/products/abc", "", nil).Code)
	assert.Equal(t, http.StatusBadGateway, env.do(t, http.MethodGet, "/api/v1/products/500", "", nil).Code)
}

func TestCatalogUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.catalog.Close()

	w := env.do(t, http.MethodGet, "/api/v1/products", "", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "Failed to load products")
}

func TestCartFlow(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/cart/items", "", gin.H{"product_id": 1, "quantity": 2})
	require.Equal(t, http.StatusOK, w.Code)
	id := w.Header().Get(SessionHeader)

	w = env.do(t, http.MethodPost, "/api/v1/cart/items", id, gin.H{"product_id": 3, "quantity": 1})
	require.Equal(t, http.StatusOK, w.Code)

	var cart cartBody
	decode(t, w, &cart)
	assert.Equal(t, 3, cart.TotalItems)
	assert.True(t, decimal.RequireFromString("275.89").Equal(cart.TotalPrice), cart.TotalPrice.String())

	w = env.do(t, http.MethodPut, "/api/v1/cart/items/1", id, gin.H{"quantity": 0})
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &cart)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, int64(3), cart.Items[0].ID)

	w = env.do(t, http.MethodDelete, "/api/v1/cart/items/3", id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &cart)
	assert.Empty(t, cart.Items)
	assert.Zero(t, cart.TotalItems)
}

func TestAddCartItem_Validation(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/v1/cart/items", "", gin.H{"quantity": 1}).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/api/v1/cart/items", "", gin.H{"product_id": 999, "quantity": 1}).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPut, "/api/v1/cart/items/1", "", gin.H{}).Code)
}

func TestCartsAreScopedToSessions(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/cart/items", "", gin.H{"product_id": 1, "quantity": 1})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/cart", "", nil)
	var cart cartBody
	decode(t, w, &cart)
	assert.Empty(t, cart.Items)
}

func TestCheckoutFlow(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/cart/items", "", gin.H{"product_id": 1, "quantity": 2})
	id := w.Header().Get(SessionHeader)

	w = env.do(t, http.MethodGet, "/api/v1/checkout", id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var summary struct {
		Checkout service.CheckoutState `json:"checkout"`
		Summary  struct {
			Total    decimal.Decimal `json:"total"`
			Shipping decimal.Decimal `json:"shipping"`
		} `json:"summary"`
	}
	decode(t, w, &summary)
	assert.Equal(t, service.CheckoutEditing, summary.Checkout.Status)
	assert.True(t, decimal.RequireFromString("219.9").Equal(summary.Summary.Total))
	assert.True(t, summary.Summary.Shipping.IsZero())

	w = env.do(t, http.MethodPost, "/api/v1/checkout", id, validCustomer)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp service.SubmitOrderResponse
	decode(t, w, &resp)
	assert.Equal(t, "order-1", resp.OrderID)
	assert.Equal(t, 2, resp.TotalItems)

	w = env.do(t, http.MethodGet, "/api/v1/cart", id, nil)
	var cart cartBody
	decode(t, w, &cart)
	assert.Empty(t, cart.Items)

	w = env.do(t, http.MethodGet, "/api/v1/orders/"+resp.OrderID, id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var order models.Order
	decode(t, w, &order)
	assert.Equal(t, validCustomer, order.Customer)
	assert.Equal(t, models.OrderStatusPending, order.Status)

	// confirmed checkouts stay confirmed until reset
	w = env.do(t, http.MethodPost, "/api/v1/checkout", id, validCustomer)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), service.ErrCheckoutConfirmed.Error())
	assert.Len(t, env.orders.orders, 1)

	w = env.do(t, http.MethodDelete, "/api/v1/checkout", id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), string(service.CheckoutEditing))
}

func TestCheckout_EmptyCart(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/checkout", "", validCustomer)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Empty(t, env.orders.orders)
}

func TestCheckout_InvalidCustomer(t *testing.T) {
	env := newTestEnv(t)

	invalid := validCustomer
	invalid.Email = "not-an-email"
	w := env.do(t, http.MethodPost, "/api/v1/checkout", "", invalid)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Email")
}

func TestCheckout_PersistenceFailureKeepsCart(t *testing.T) {
	env := newTestEnv(t)
	env.orders.err = errors.New("connection refused")

	w := env.do(t, http.MethodPost, "/api/v1/cart/items", "", gin.H{"product_id": 3, "quantity": 1})
	id := w.Header().Get(SessionHeader)

	w = env.do(t, http.MethodPost, "/api/v1/checkout", id, validCustomer)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "error processing your order"))

	w = env.do(t, http.MethodGet, "/api/v1/cart", id, nil)
	var cart cartBody
	decode(t, w, &cart)
	assert.Len(t, cart.Items, 1)

	w = env.do(t, http.MethodGet, "/api/v1/checkout", id, nil)
	assert.Contains(t, w.Body.String(), string(service.CheckoutFailed))
}

func TestGetOrder_NotFound(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/v1/orders/missing", "", nil).Code)
}

func TestListProducts_SupersededRequestConflicts(t *testing.T) {
	env := newTestEnv(t)
	id := env.do(t, http.MethodGet, "/api/v1/cart", "", nil).Header().Get(SessionHeader)

	slow := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		slow <- env.do(t, http.MethodGet, "/api/v1/products/category/electronics", id, nil)
	}()
	select {
	case <-env.slowStarted:
	case <-time.After(5 * time.Second):
		t.Fatal("catalog request never started")
	}

	w := env.do(t, http.MethodGet, "/api/v1/products", id, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var first *httptest.ResponseRecorder
	select {
	case first = <-slow:
	case <-time.After(5 * time.Second):
		t.Fatal("superseded request did not return")
	}
	assert.Equal(t, http.StatusConflict, first.Code)
	assert.Contains(t, first.Body.String(), catalog.ErrSuperseded.Error())

	w = env.do(t, http.MethodGet, "/api/v1/listing", id, nil)
	var view struct {
		Seq      uint64           `json:"seq"`
		Category string           `json:"category"`
		Products []models.Product `json:"products"`
	}
	decode(t, w, &view)
	assert.Equal(t, uint64(2), view.Seq)
	assert.Empty(t, view.Category)
	assert.Len(t, view.Products, 2)
}

func TestCheckout_IdempotencyKeyIsPerSession(t *testing.T) {
	env := newTestEnv(t)

	submit := func(sessionID string) *httptest.ResponseRecorder {
		raw, err := json.Marshal(validCustomer)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(SessionHeader, sessionID)
		req.Header.Set("Idempotency-Key", "k1")
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, req)
		return w
	}

	w := env.do(t, http.MethodPost, "/api/v1/cart/items", "", gin.H{"product_id": 1, "quantity": 1})
	sessionA := w.Header().Get(SessionHeader)
	w = env.do(t, http.MethodPost, "/api/v1/cart/items", "", gin.H{"product_id": 3, "quantity": 4})
	sessionB := w.Header().Get(SessionHeader)
	require.NotEqual(t, sessionA, sessionB)

	w = submit(sessionA)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var first service.SubmitOrderResponse
	decode(t, w, &first)

	w = submit(sessionB)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var second service.SubmitOrderResponse
	decode(t, w, &second)
	assert.False(t, second.Replayed)
	assert.NotEqual(t, first.OrderID, second.OrderID)
	assert.Equal(t, 4, second.TotalItems)
	assert.Len(t, env.orders.orders, 2)

	// a retry from the first session replays its own order
	require.Equal(t, http.StatusOK, env.do(t, http.MethodDelete, "/api/v1/checkout", sessionA, nil).Code)
	w = submit(sessionA)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var replayed service.SubmitOrderResponse
	decode(t, w, &replayed)
	assert.True(t, replayed.Replayed)
	assert.Equal(t, first.OrderID, replayed.OrderID)
	assert.Equal(t, 1, replayed.TotalItems)
	assert.True(t, decimal.RequireFromString("109.95").Equal(replayed.TotalPrice))
	assert.Len(t, env.orders.orders, 2)
}

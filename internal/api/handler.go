package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"storefront/internal/cart"
	"storefront/internal/catalog"
	"storefront/internal/models"
	"storefront/internal/service"
	"storefront/internal/session"
	"storefront/internal/store"
	"storefront/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SessionHeader carries the storefront session id in both directions
const SessionHeader = "X-Session-ID"

const sessionKey = "session"

// ProductReader looks up single products
type ProductReader interface {
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
}

// OrderReader reads back stored orders
type OrderReader interface {
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
}

// Handler contains HTTP handlers
type Handler struct {
	sessions  *session.Manager
	products  ProductReader
	submitter service.Submitter
	orders    OrderReader
	logger    *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	sessions *session.Manager,
	products ProductReader,
	submitter service.Submitter,
	orders OrderReader,
) *Handler {
	return &Handler{
		sessions:  sessions,
		products:  products,
		submitter: submitter,
		orders:    orders,
		logger:    util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.Use(h.sessionMiddleware())
	{
		v1.GET("/categories", h.listCategories)
		v1.GET("/products", h.listProducts)
		v1.GET("/products/category/:category", h.listProducts)
		v1.GET("/products/:id", h.getProduct)
		v1.GET("/listing", h.currentListing)

		v1.GET("/cart", h.getCart)
		v1.POST("/cart/items", h.addCartItem)
		v1.PUT("/cart/items/:id", h.updateCartItem)
		v1.DELETE("/cart/items/:id", h.removeCartItem)
		v1.DELETE("/cart", h.clearCart)

		v1.GET("/checkout", h.getCheckout)
		v1.POST("/checkout", h.submitCheckout)
		v1.DELETE("/checkout", h.resetCheckout)

		v1.GET("/orders/:id", h.getOrder)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ready",
		"sessions": h.sessions.Len(),
		"time":     time.Now().Unix(),
	})
}

// sessionMiddleware resolves the caller's session and echoes its id back
func (h *Handler) sessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, _ := h.sessions.Get(c.GetHeader(SessionHeader))
		c.Set(sessionKey, sess)
		c.Header(SessionHeader, sess.ID)
		c.Next()
	}
}

func currentSession(c *gin.Context) *session.Session {
	return c.MustGet(sessionKey).(*session.Session)
}

func (h *Handler) listCategories(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"categories": catalog.Categories})
}

// listProducts serves the home listing and category listings
func (h *Handler) listProducts(c *gin.Context) {
	sess := currentSession(c)
	category := c.Param("category")

	products, err := sess.Listing.Load(c.Request.Context(), category)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"category":      category,
		"category_name": catalog.FormatCategoryName(category),
		"products":      products,
	})
}

func (h *Handler) currentListing(c *gin.Context) {
	view := currentSession(c).Listing.Current()

	resp := gin.H{
		"seq":      view.Seq,
		"loaded":   view.Loaded,
		"category": view.Category,
		"products": view.Products,
	}
	if view.Err != nil {
		resp["error"] = "Failed to load products. Please try again later."
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) getProduct(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product ID"})
		return
	}

	product, err := h.products.GetProduct(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if product == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"product":       product,
		"category_name": catalog.FormatCategoryName(product.Category),
		"stock":         catalog.DisplayStock,
	})
}

func (h *Handler) getCart(c *gin.Context) {
	c.JSON(http.StatusOK, currentSession(c).Cart.Snapshot())
}

// AddCartItemRequest adds quantity of a catalog product to the cart
type AddCartItemRequest struct {
	ProductID int64 `json:"product_id" binding:"required"`
	Quantity  int   `json:"quantity"`
}

func (h *Handler) addCartItem(c *gin.Context) {
	var req AddCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	product, err := h.products.GetProduct(c.Request.Context(), req.ProductID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if product == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
		return
	}

	state := currentSession(c).Cart.AddItem(cart.ItemFromProduct(product), req.Quantity)
	util.CartMutationsTotal.WithLabelValues("add").Inc()
	c.JSON(http.StatusOK, state)
}

// UpdateCartItemRequest sets a line's quantity; zero or less removes the line
type UpdateCartItemRequest struct {
	Quantity *int `json:"quantity" binding:"required"`
}

func (h *Handler) updateCartItem(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product ID"})
		return
	}

	var req UpdateCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	state := currentSession(c).Cart.UpdateQuantity(id, *req.Quantity)
	util.CartMutationsTotal.WithLabelValues("update").Inc()
	c.JSON(http.StatusOK, state)
}

func (h *Handler) removeCartItem(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product ID"})
		return
	}

	state := currentSession(c).Cart.RemoveItem(id)
	util.CartMutationsTotal.WithLabelValues("remove").Inc()
	c.JSON(http.StatusOK, state)
}

func (h *Handler) clearCart(c *gin.Context) {
	state := currentSession(c).Cart.ClearCart()
	util.CartMutationsTotal.WithLabelValues("clear").Inc()
	c.JSON(http.StatusOK, state)
}

type summaryLine struct {
	ID        int64           `json:"id"`
	Title     string          `json:"title"`
	Quantity  int             `json:"quantity"`
	LineTotal decimal.Decimal `json:"line_total"`
}

type orderSummary struct {
	Lines    []summaryLine   `json:"lines"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Shipping decimal.Decimal `json:"shipping"`
	Total    decimal.Decimal `json:"total"`
}

func summarize(state cart.State) orderSummary {
	lines := make([]summaryLine, 0, len(state.Items))
	for _, item := range state.Items {
		lines = append(lines, summaryLine{
			ID:        item.ID,
			Title:     item.Title,
			Quantity:  item.Quantity,
			LineTotal: item.LineTotal(),
		})
	}

	// shipping is free
	return orderSummary{
		Lines:    lines,
		Subtotal: state.TotalPrice,
		Shipping: decimal.Zero,
		Total:    state.TotalPrice,
	}
}

func (h *Handler) getCheckout(c *gin.Context) {
	sess := currentSession(c)
	c.JSON(http.StatusOK, gin.H{
		"checkout": sess.Checkout.State(),
		"summary":  summarize(sess.Cart.Snapshot()),
	})
}

func (h *Handler) submitCheckout(c *gin.Context) {
	var customer models.Customer
	if err := c.ShouldBindJSON(&customer); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	sess := currentSession(c)
	resp, err := sess.Checkout.Submit(c.Request.Context(), h.submitter, customer, sess.Cart, c.GetHeader("Idempotency-Key"))
	if err != nil {
		util.SessionLogger(sess.ID).Warn("Checkout failed", zap.Error(err))
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) resetCheckout(c *gin.Context) {
	sess := currentSession(c)
	if err := sess.Checkout.Reset(); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"checkout": sess.Checkout.State()})
}

func (h *Handler) getOrder(c *gin.Context) {
	order, err := h.orders.GetOrderByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// writeError maps domain errors onto HTTP statuses
func (h *Handler) writeError(c *gin.Context, err error) {
	var (
		netErr     *catalog.NetworkError
		persistErr *service.PersistenceError
	)

	switch {
	case errors.As(err, &netErr):
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "Failed to load products. Please try again later.",
			"details": err.Error(),
		})
	case errors.Is(err, catalog.ErrSuperseded):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrEmptyCart):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrCheckoutInProgress), errors.Is(err, service.ErrCheckoutConfirmed):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &persistErr):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "There was an error processing your order. Please try again.",
			"details": err.Error(),
		})
	case errors.Is(err, store.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
	case errors.Is(err, context.Canceled):
		c.JSON(http.StatusConflict, gin.H{"error": "request cancelled"})
	default:
		h.logger.Error("Unhandled error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Internal error",
			"details": err.Error(),
		})
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}

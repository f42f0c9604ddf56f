package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"checkout-service/internal/service"
	"checkout-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const userIDKey = "user_id"

// Pinger reports whether a backing dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	carts    *service.CartService
	checkout *service.CheckoutService
	orders   *service.OrderService
	payments *service.PaymentService
	db       Pinger
	logger   *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	carts *service.CartService,
	checkout *service.CheckoutService,
	orders *service.OrderService,
	payments *service.PaymentService,
	db Pinger,
) *Handler {
	return &Handler{
		carts:    carts,
		checkout: checkout,
		orders:   orders,
		payments: payments,
		db:       db,
		logger:   util.ComponentLogger("api"),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1", requireUser())
	{
		v1.GET("/cart", h.getCart)
		v1.POST("/cart/items", h.addCartItem)
		v1.PATCH("/cart/items/:id", h.updateCartItem)
		v1.DELETE("/cart/items/:id", h.removeCartItem)
		v1.DELETE("/cart", h.clearCart)

		v1.POST("/checkout", h.createCheckout)

		v1.GET("/orders/:id", h.getOrder)
		v1.GET("/orders/:id/payments", h.listOrderPayments)
		v1.POST("/orders/:id/cancel", h.cancelOrder)

		v1.POST("/payment-intents", h.createPaymentIntent)
		v1.POST("/payment-intents/:id/confirm", h.confirmPaymentIntent)
		v1.POST("/payment-intents/:id/verify", h.verifyPaymentIntent)

		v1.POST("/payments/:id/refund", h.refundPayment)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready only when the database answers
func (h *Handler) readinessCheck(c *gin.Context) {
	if err := h.db.Ping(c.Request.Context()); err != nil {
		h.logger.Warn("Readiness check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unavailable",
			"time":   time.Now().Unix(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

type addCartItemRequest struct {
	CatalogItemID int64 `json:"catalog_item_id" binding:"required"`
	Quantity      int   `json:"quantity"`
}

type updateCartItemRequest struct {
	Quantity *int `json:"quantity" binding:"required"`
}

func (h *Handler) getCart(c *gin.Context) {
	view, err := h.carts.GetCart(c.Request.Context(), c.GetInt64(userIDKey))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) addCartItem(c *gin.Context) {
	var req addCartItemRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	view, err := h.carts.AddLine(c.Request.Context(), c.GetInt64(userIDKey), req.CatalogItemID, req.Quantity)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

func (h *Handler) updateCartItem(c *gin.Context) {
	lineID, ok := pathID(c)
	if !ok {
		return
	}
	var req updateCartItemRequest
	if !bindJSON(c, &req) {
		return
	}

	view, err := h.carts.SetLineQuantity(c.Request.Context(), c.GetInt64(userIDKey), lineID, *req.Quantity)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) removeCartItem(c *gin.Context) {
	lineID, ok := pathID(c)
	if !ok {
		return
	}
	view, err := h.carts.RemoveLine(c.Request.Context(), c.GetInt64(userIDKey), lineID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) clearCart(c *gin.Context) {
	view, err := h.carts.Clear(c.Request.Context(), c.GetInt64(userIDKey))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// createCheckout turns the caller's cart into a pending order
func (h *Handler) createCheckout(c *gin.Context) {
	var req service.CheckoutRequest
	if !bindJSON(c, &req) {
		return
	}
	req.UserID = c.GetInt64(userIDKey)
	req.IdempotencyKey = c.GetHeader("Idempotency-Key")

	res, err := h.checkout.Checkout(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, res.Order)
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}
	order, err := h.orders.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) listOrderPayments(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}
	payments, err := h.orders.ListOrderPayments(c.Request.Context(), orderID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": payments})
}

func (h *Handler) cancelOrder(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}
	order, err := h.orders.CancelOrder(c.Request.Context(), orderID, c.GetInt64(userIDKey))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// createPaymentIntent returns a payment handle for an order
func (h *Handler) createPaymentIntent(c *gin.Context) {
	var req service.CreateIntentRequest
	if !bindJSON(c, &req) {
		return
	}

	res, err := h.payments.CreateOrReuseIntent(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	switch res.Outcome {
	case service.OutcomeCreated:
		c.JSON(http.StatusCreated, res)
	case service.OutcomeAlreadyPaid:
		c.JSON(http.StatusConflict, gin.H{
			"error":   string(service.KindConflict),
			"reason":  "order has already been paid",
			"payment": res.Payment,
		})
	default:
		c.JSON(http.StatusOK, res)
	}
}

func (h *Handler) confirmPaymentIntent(c *gin.Context) {
	var req service.ConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBindError(c, err)
		return
	}

	res, err := h.payments.Confirm(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) verifyPaymentIntent(c *gin.Context) {
	res, err := h.payments.Verify(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) refundPayment(c *gin.Context) {
	paymentID, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.payments.RefundPayment(c.Request.Context(), paymentID); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// requireUser resolves the caller from the X-User-ID header set by the auth proxy
func requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := strconv.ParseInt(c.GetHeader("X-User-ID"), 10, 64)
		if err != nil || userID <= 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":  "unauthorized",
				"reason": "missing or invalid X-User-ID header",
			})
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  string(service.KindValidation),
			"reason": "invalid id",
		})
		return 0, false
	}
	return id, true
}

func bindJSON(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		writeBindError(c, err)
		return false
	}
	return true
}

func writeBindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":  string(service.KindValidation),
		"reason": "invalid request body: " + err.Error(),
	})
}

func statusForKind(kind service.Kind) int {
	switch kind {
	case service.KindValidation, service.KindGateway:
		return http.StatusBadRequest
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindConflict:
		return http.StatusConflict
	case service.KindTransient:
		return http.StatusServiceUnavailable
	case service.KindNotImplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(c *gin.Context, err error) {
	kind := service.KindOf(err)
	status := statusForKind(kind)
	if status == http.StatusInternalServerError || status == http.StatusServiceUnavailable {
		h.logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.JSON(status, gin.H{
		"error":  string(kind),
		"reason": service.ReasonOf(err),
	})
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

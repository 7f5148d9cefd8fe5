package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"storefront-events/internal/domain"
	"storefront-events/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const maxWebhookBody = 64 << 10

type createOrderReq struct {
	Items           []domain.LineItem      `json:"items"`
	ShippingAddress domain.ShippingAddress `json:"shippingAddress"`
	PaymentMethod   domain.PaymentMethod   `json:"paymentMethod"`
	PaymentIntentID string                 `json:"paymentIntentId"`
}

func (s *Server) createOrder(c *gin.Context) {
	var req createOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	o, created, err := s.deps.Orders.PlaceOrder(c.Request.Context(), service.CreateOrderInput{
		UserID:          principal(c).UserID,
		Items:           req.Items,
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
		PaymentIntentID: req.PaymentIntentID,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	if !created {
		c.JSON(http.StatusOK, o)
		return
	}
	c.JSON(http.StatusCreated, o)
}

func (s *Server) listOrders(c *gin.Context) {
	orders, err := s.deps.Orders.ListMine(c.Request.Context(), principal(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

func (s *Server) getOrder(c *gin.Context) {
	id, ok := s.pathID(c)
	if !ok {
		return
	}
	o, err := s.deps.Orders.Get(c.Request.Context(), id, principal(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

type transitionReq struct {
	Status domain.OrderStatus `json:"status"`
}

func (s *Server) transitionOrder(c *gin.Context) {
	id, ok := s.pathID(c)
	if !ok {
		return
	}
	var req transitionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	o, err := s.deps.Orders.Transition(c.Request.Context(), id, req.Status, principal(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (s *Server) cancelOrder(c *gin.Context) {
	id, ok := s.pathID(c)
	if !ok {
		return
	}
	o, err := s.deps.Orders.Cancel(c.Request.Context(), id, principal(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (s *Server) markPaid(c *gin.Context) {
	id, ok := s.pathID(c)
	if !ok {
		return
	}
	o, err := s.deps.Orders.MarkCashPaid(c.Request.Context(), id, principal(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

type createIntentReq struct {
	Items           []domain.IntentItem    `json:"items"`
	ShippingAddress domain.ShippingAddress `json:"shippingAddress"`
}

type createIntentResp struct {
	PaymentIntentID string `json:"paymentIntentId"`
	ClientSecret    string `json:"clientSecret"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
}

func (s *Server) createPaymentIntent(c *gin.Context) {
	var req createIntentReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	pi, err := s.deps.Checkout.CreateIntent(c.Request.Context(), principal(c).UserID, req.Items, req.ShippingAddress)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, createIntentResp{
		PaymentIntentID: pi.ID,
		ClientSecret:    pi.ClientSecret,
		Amount:          pi.Amount,
		Currency:        pi.Currency,
	})
}

// stripeWebhook acknowledges every verified event with 200 so the provider
// stops retrying. Only a bad signature is a client error; anything else is a
// 500 and the provider retries.
func (s *Server) stripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "body too large"})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	outcome, err := s.deps.Webhooks.Handle(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	if errors.Is(err, domain.ErrInvalidSignature) {
		s.log.Warn("webhook rejected", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
		return
	}
	if err != nil {
		s.log.Error("webhook failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true, "outcome": outcome})
}

func (s *Server) listNotifications(c *gin.Context) {
	page, err1 := queryInt(c, "page")
	size, err2 := queryInt(c, "pageSize")
	if err := errors.Join(err1, err2); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pagination"})
		return
	}
	res, err := s.deps.Notifications.List(c.Request.Context(), principal(c), page, size,
		domain.NotificationFilter(c.Query("filter")))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) unreadCount(c *gin.Context) {
	n, err := s.deps.Notifications.UnreadCount(c.Request.Context(), principal(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}

func (s *Server) markRead(c *gin.Context) {
	id, ok := s.pathID(c)
	if !ok {
		return
	}
	if err := s.deps.Notifications.MarkRead(c.Request.Context(), id, principal(c)); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) markAllRead(c *gin.Context) {
	n, err := s.deps.Notifications.MarkAllRead(c.Request.Context(), principal(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}

func (s *Server) clearNotifications(c *gin.Context) {
	n, err := s.deps.Notifications.ClearAll(c.Request.Context(), principal(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

type broadcastReq struct {
	Message string `json:"message"`
}

func (s *Server) broadcast(c *gin.Context) {
	var req broadcastReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	n, err := s.deps.Announcements.Broadcast(c.Request.Context(), principal(c), c.GetHeader("Idempotency-Key"), req.Message)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recipients": n})
}

func (s *Server) pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(c *gin.Context, key string) (int, error) {
	v := c.Query(key)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

package httpapi

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"vitrine/internal/domain"
	"vitrine/internal/payment"
	"vitrine/internal/repository"
	"vitrine/internal/service"
)

type Server struct {
	engine     *gin.Engine
	products   *service.ProductService
	orders     *service.OrderService
	reconciler *service.Reconciler
	downloads  *service.DownloadService
	payments   *payment.Registry
	log        logrus.FieldLogger
}

func NewServer(products *service.ProductService, orders *service.OrderService, reconciler *service.Reconciler, downloads *service.DownloadService, payments *payment.Registry, log logrus.FieldLogger) *Server {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	s := &Server{
		engine:     r,
		products:   products,
		orders:     orders,
		reconciler: reconciler,
		downloads:  downloads,
		payments:   payments,
		log:        log,
	}
	s.registerRoutes()
	return s
}

func (s *Server) Engine() *gin.Engine { return s.engine }

func (s *Server) registerRoutes() {
	// Swagger UI
	s.engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	api := s.engine.Group("/api")
	{
		products := api.Group("/products")
		products.GET("", s.listProducts)
		products.GET(":id", s.getProduct)

		orders := api.Group("/orders")
		orders.POST("", s.createOrder)
		orders.GET("", s.listOrders)
		orders.GET(":id", s.getOrder)
		orders.PUT(":id", s.updateOrder)
		orders.DELETE(":id", s.deleteOrder)

		payments := api.Group("/payments/:provider")
		payments.POST("create", s.createPayment)
		payments.POST("webhook", s.paymentWebhook)
		payments.GET(":id/status", s.paymentStatus)
		payments.POST(":id/capture", s.capturePayment)
		payments.GET(":id/resolve", s.resolvePayment)

		download := api.Group("/download")
		download.POST("generate", s.generateDownloadLink)
		download.GET("temp/:token", s.redeemDownloadLink)
	}
}

// Product handlers

// @Summary List products
// @Tags products
// @Produce json
// @Success 200 {array} domain.Product
// @Router /products [get]
func (s *Server) listProducts(c *gin.Context) {
	list, err := s.products.List(c)
	if err != nil {
		c.JSON(mapErrorToStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, list)
}

// @Summary Get product by id
// @Tags products
// @Produce json
// @Param id path string true "Product ID"
// @Success 200 {object} domain.Product
// @Failure 404 {object} map[string]string
// @Router /products/{id} [get]
func (s *Server) getProduct(c *gin.Context) {
	p, err := s.products.GetByID(c, c.Param("id"))
	if err != nil {
		c.JSON(mapErrorToStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, p)
}

// Order handlers

type lineItemReq struct {
	ID    string  `json:"id"`
	Title string  `json:"title"`
	Price float64 `json:"price"`
}

type orderReq struct {
	Name            string        `json:"name"`
	TelegramDiscord string        `json:"telegramDiscord"`
	SteamProfile    string        `json:"steamProfile"`
	Style           string        `json:"style"`
	ColorTheme      string        `json:"colorTheme"`
	Items           []lineItemReq `json:"items"`
	Status          string        `json:"status"`
}

func (r orderReq) toParams() service.CreateParams {
	items := make([]domain.LineItem, len(r.Items))
	for i, it := range r.Items {
		items[i] = domain.LineItem{ProductID: it.ID, Title: it.Title, Price: it.Price}
	}
	return service.CreateParams{
		Name:            r.Name,
		TelegramDiscord: r.TelegramDiscord,
		SteamProfile:    r.SteamProfile,
		Style:           r.Style,
		ColorTheme:      r.ColorTheme,
		Items:           items,
		Status:          domain.OrderStatus(r.Status),
	}
}

// orderResponse заказ плюс ссылки на скачивание для оплаченных заказов
type orderResponse struct {
	*domain.Order
	Downloads []service.IssuedLink `json:"downloads,omitempty"`
}

// @Summary Create order
// @Tags orders
// @Accept json
// @Produce json
// @Param input body orderReq true "Order"
// @Success 201 {object} domain.Order
// @Failure 400 {object} map[string]string
// @Router /orders [post]
func (s *Server) createOrder(c *gin.Context) {
	var req orderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	o, err := s.orders.CreateOrder(c, req.toParams())
	if err != nil {
		c.JSON(mapErrorToStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, o)
}

// @Summary List orders
// @Tags orders
// @Produce json
// @Success 200 {array} domain.Order
// @Router /orders [get]
func (s *Server) listOrders(c *gin.Context) {
	list, err := s.orders.ListOrders(c)
	if err != nil {
		c.JSON(mapErrorToStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, list)
}

// @Summary Get order by id
// @Tags orders
// @Produce json
// @Param id path string true "Order ID"
// @Success 200 {object} orderResponse
// @Failure 404 {object} map[string]string
// @Router /orders/{id} [get]
func (s *Server) getOrder(c *gin.Context) {
	o, err := s.orders.GetOrder(c, c.Param("id"))
	if err != nil {
		c.JSON(mapErrorToStatus(err), gin.H{"error": err.Error()})
		return
	}
	resp := orderResponse{Order: o}
	if o.Status == domain.OrderStatusPaid {
		links, err := s.downloads.IssueLinks(c, o.ID)
		if err != nil {
			s.log.WithError(err).WithField("order", o.ID).Warn("issuing download links failed")
		} else {
			resp.Downloads = links
		}
	}
	c.JSON(http.StatusOK, resp)
}

// @Summary Update order
// @Tags orders
// @Accept json
// @Produce json
// @Param id path string true "Order ID"
// @Param input body orderReq true "Order"
// @Success 200 {object} domain.Order
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /orders/{id} [put]
func (s *Server) updateOrder(c *gin.Context) {
	var req orderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	o, err := s.orders.UpdateOrder(c, c.Param("id"), req.toParams())
	if err != nil {
		c.JSON(mapErrorToStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, o)
}

// @Summary Delete order
// @Tags orders
// @Param id path string true "Order ID"
// @Success 204
// @Failure 404 {object} map[string]string
// @Router /orders/{id} [delete]
func (s *Server) deleteOrder(c *gin.Context) {
	if err := s.orders.DeleteOrder(c, c.Param("id")); err != nil {
		c.JSON(mapErrorToStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// Payment handlers

type createPaymentReq struct {
	Amount      *float64          `json:"amount"`
	Currency    string            `json:"currency"`
	Description string            `json:"description"`
	ReturnURL   string            `json:"returnUrl"`
	OrderID     string            `json:"orderId"`
	Metadata    map[string]string `json:"metadata"`
}

func (r createPaymentReq) orderID() string {
	if r.Metadata != nil {
		if v := r.Metadata["orderId"]; v != "" {
			return v
		}
		if v := r.Metadata["order_id"]; v != "" {
			return v
		}
	}
	return r.OrderID
}

// @Summary Initiate payment via provider
// @Tags payments
// @Accept json
// @Produce json
// @Param provider path string true "Provider tag" Enums(yookassa, stripe, paypal)
// @Param input body createPaymentReq true "Payment"
// @Success 201 {object} payment.Payment
// @Failure 400 {object} map[string]string
// @Failure 502 {object} map[string]string
// @Router /payments/{provider}/create [post]
func (s *Server) createPayment(c *gin.Context) {
	adapter, err := s.payments.Get(c.Param("provider"))
	if err != nil {
		c.JSON(mapErrorToStatus(err), gin.H{"error": err.Error()})
		return
	}
	var req createPaymentReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	orderID := req.orderID()
	if orderID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "metadata.orderId is required"})
		return
	}
	o, err := s.orders.GetOrder(c, orderID)
	if err != nil {
		// платёж без существующего заказа не создаётся
		c.JSON(http.StatusBadRequest, gin.H{"error": "order not found, create order first via POST /api/orders"})
		return
	}
	amount := o.TotalPrice
	if req.Amount != nil {
		amount = *req.Amount
	}
	p, err := adapter.Initiate(c, payment.InitiateParams{
		OrderID:     orderID,
		Amount:      amount,
		Currency:    req.Currency,
		Description: req.Description,
		ReturnURL:   req.ReturnURL,
	})
	if err != nil {
		c.JSON(mapErrorToStatus(err), gin.H{"error": err.Error()})
		return
	}
	// бесплатный или тестовый платёж рассчитан сразу — проводим через сверку
	if p.Outcome != nil {
		if _, err := s.reconciler.Apply(c, *p.Outcome); err != nil {
			s.log.WithError(err).WithField("order", orderID).Error("applying pre-settled outcome failed")
		}
	}
	c.JSON(http.StatusCreated, p)
}

type outcomeResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Paid    bool   `json:"paid"`
	OrderID string `json:"orderId,omitempty"`
}

func (s *Server) applyAndRespond(c *gin.Context, out domain.Outcome) {
	if out.OrderID != "" && out.Status.Settled() {
		if _, err := s.reconciler.Apply(c, out); err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{
				"order": out.OrderID,
				"tx":    out.TransactionID,
			}).Error("applying outcome failed")
		}
	}
	c.JSON(http.StatusOK, outcomeResponse{
		ID:      out.TransactionID,
		Status:  string(out.Status),
		Paid:    out.Status == domain.OutcomeSucceeded,
		OrderID: out.OrderID,
	})
}

// @Summary Poll payment status
// @Tags payments
// @Produce json
// @Param provider path string true "Provider tag" Enums(yookassa, stripe, paypal)
// @Param id path string true "Provider transaction ID"
// @Param orderId query string false "Order hint for test payments"
// @Success 200 {object} outcomeResponse
// @Failure 502 {object} map[string]string
// @Router /payments/{provider}/{id}/status [get]
func (s *Server) paymentStatus(c *gin.Context) {
	adapter, err := s.payments.Get(c.Param("provider"))
	if err != nil {
		c.JSON(mapErrorToStatus(err), gin.H{"error": err.Error()})
		return
	}
	out, err := adapter.PollStatus(c, c.Param("id"), c.Query("orderId"))
	if err != nil {
		c.JSON(mapErrorToStatus(err), gin.H{"error": err.Error()})
		return
	}
	s.applyAndRespond(c, out)
}

// @Summary Capture payment
// @Tags payments
// @Produce json
// @Param provider path string true "Provider tag" Enums(yookassa, stripe, paypal)
// @Param id path string true "Provider transaction ID"
// @Success 200 {object} outcomeResponse
// @Failure 502 {object} map[string]string
// @Router /payments/{provider}/{id}/capture [post]
func (s *Server) capturePayment(c *gin.Context) {
	adapter, err := s.payments.Get(c.Param("provider"))
	if err != nil {
		c.JSON(mapErrorToStatus(err), gin.H{"error": err.Error()})
		return
	}
	out, err := adapter.Capture(c, c.Param("id"))
	if err != nil {
		c.JSON(mapErrorToStatus(err), gin.H{"error": err.Error()})
		return
	}
	s.applyAndRespond(c, out)
}

// @Summary Payment provider webhook
// @Tags payments
// @Accept json
// @Produce json
// @Param provider path string true "Provider tag" Enums(yookassa, stripe, paypal)
// @Success 200 {object} map[string]bool
// @Failure 400 {object} map[string]string
// @Router /payments/{provider}/webhook [post]
func (s *Server) paymentWebhook(c *gin.Context) {
	adapter, err := s.payments.Get(c.Param("provider"))
	if err != nil {
		c.JSON(mapErrorToStatus(err), gin.H{"error": err.Error()})
		return
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	out, err := adapter.HandleWebhook(c.Request, body)
	if err != nil {
		if errors.Is(err, payment.ErrSignature) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid webhook signature"})
			return
		}
		c.JSON(mapErrorToStatus(err), gin.H{"error": err.Error()})
		return
	}
	if out.OrderID != "" && out.Status.Settled() {
		if _, err := s.reconciler.Apply(c, out); err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{
				"order": out.OrderID,
				"tx":    out.TransactionID,
			}).Error("applying webhook outcome failed")
		}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// @Summary Resolve internal order by provider transaction
// @Tags payments
// @Produce json
// @Param provider path string true "Provider tag" Enums(paypal)
// @Param id path string true "Provider transaction ID"
// @Success 200 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /payments/{provider}/{id}/resolve [get]
func (s *Server) resolvePayment(c *gin.Context) {
	adapter, err := s.payments.Get(c.Param("provider"))
	if err != nil {
		c.JSON(mapErrorToStatus(err), gin.H{"error": err.Error()})
		return
	}
	resolver, ok := adapter.(*payment.PayPalAdapter)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "resolution is not supported for this provider"})
		return
	}
	orderID, via, err := resolver.ResolveOrderID(c, c.Param("id"))
	if err != nil {
		c.JSON(mapErrorToStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orderId": orderID, "via": via})
}

// Download handlers

type generateLinkReq struct {
	OrderID   string `json:"orderId"`
	ProductID string `json:"productId"`
}

// @Summary Generate download link for a paid order
// @Tags downloads
// @Accept json
// @Produce json
// @Param input body generateLinkReq true "Order and product"
// @Success 201 {object} service.IssuedLink
// @Failure 403 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /download/generate [post]
func (s *Server) generateDownloadLink(c *gin.Context) {
	var req generateLinkReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	link, err := s.downloads.GenerateLink(c, req.OrderID, req.ProductID)
	if err != nil {
		c.JSON(mapErrorToStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, link)
}

// @Summary Redeem download link
// @Tags downloads
// @Produce octet-stream
// @Param token path string true "Link token"
// @Success 200 {file} binary
// @Failure 404 {object} map[string]string
// @Failure 410 {object} map[string]string
// @Router /download/temp/{token} [get]
func (s *Server) redeemDownloadLink(c *gin.Context) {
	f, err := s.downloads.Redeem(c, c.Param("token"))
	if err != nil {
		c.JSON(mapErrorToStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.FileAttachment(f.Path, f.Name)
}

func mapErrorToStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrLinkExpired):
		return http.StatusGone
	case errors.Is(err, service.ErrOrderNotPaid), errors.Is(err, service.ErrProductNotInOrder):
		return http.StatusForbidden
	case errors.Is(err, service.ErrNoPrivateFile):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, payment.ErrUnknownProvider), errors.Is(err, payment.ErrOrderUnresolved):
		return http.StatusNotFound
	case errors.Is(err, payment.ErrSignature):
		return http.StatusBadRequest
	case errors.Is(err, payment.ErrProvider):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

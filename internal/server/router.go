package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/waitline/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/waitline/backend/internal/queue"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const queueIDContextKey = "waitline_queue_id"

var (
	errMissingQueueService  = errors.New("queue service dependency required")
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingDispatcher    = errors.New("realtime dispatcher dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// Dependencies collects everything the HTTP layer needs.
type Dependencies struct {
	QueueService  *queue.Service
	TokenManager  *auth.TokenIssuer
	Realtime      *RealtimeDispatcher
	PublicBaseURL string
	Logger        *zap.Logger
}

// NewHTTPHandler wires the routes for queue lifecycle, joining, the vendor
// dashboard, and the realtime stream.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.QueueService == nil {
		return nil, errMissingQueueService
	}
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Realtime == nil {
		return nil, errMissingDispatcher
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		queues:     deps.QueueService,
		tokens:     deps.TokenManager,
		dispatcher: deps.Realtime,
		baseURL:    strings.TrimRight(deps.PublicBaseURL, "/"),
		logger:     logger,
	}

	router.POST("/queues", handler.handleCreateQueue)
	router.GET("/queues/:queueId", handler.handleGetQueue)
	router.GET("/queues/:queueId/customers", handler.handleRoster)
	router.POST("/queues/:queueId/auth", handler.handleDashboardAuth)
	router.POST("/queues/:queueId/customers", handler.handleJoin)
	router.DELETE("/queues/:queueId/customers/:customerId", handler.handleLeave)
	router.GET("/queues/:queueId/stream", handler.handleStream)

	dashboard := router.Group("/queues/:queueId")
	dashboard.Use(handler.authorizeDashboard)
	dashboard.POST("/serve", handler.handleServeNext)
	dashboard.POST("/clear", handler.handleClearQueue)
	dashboard.PATCH("", handler.handlePatchQueue)
	dashboard.DELETE("", handler.handleDeleteQueue)

	return router, nil
}

type httpHandler struct {
	queues     *queue.Service
	tokens     *auth.TokenIssuer
	dispatcher *RealtimeDispatcher
	baseURL    string
	logger     *zap.Logger
}

type queuePayload struct {
	QueueID      string    `json:"queue_id"`
	BusinessName string    `json:"business_name"`
	IsActive     bool      `json:"is_active"`
	ServedCount  int64     `json:"served_count"`
	Protected    bool      `json:"protected"`
	CreatedAt    time.Time `json:"created_at"`
	QueueURL     string    `json:"queue_url"`
}

type customerPayload struct {
	CustomerID string     `json:"customer_id"`
	QueueID    string     `json:"queue_id"`
	Name       string     `json:"name"`
	Phone      string     `json:"phone,omitempty"`
	Message    string     `json:"message,omitempty"`
	Position   int        `json:"position"`
	Status     string     `json:"status"`
	JoinedAt   time.Time  `json:"joined_at"`
	ServedAt   *time.Time `json:"served_at,omitempty"`
}

func (h *httpHandler) queuePayload(q queue.Queue) queuePayload {
	return queuePayload{
		QueueID:      q.QueueID,
		BusinessName: q.BusinessName,
		IsActive:     q.IsActive,
		ServedCount:  q.ServedCount,
		Protected:    q.ContactSecret() != "",
		CreatedAt:    q.CreatedAt,
		QueueURL:     h.queueURL(q.QueueID),
	}
}

// queueURL renders the shareable customer-facing link for a queue id.
func (h *httpHandler) queueURL(queueID string) string {
	return h.baseURL + "/q/" + queueID
}

func customerToPayload(c queue.Customer) customerPayload {
	return customerPayload{
		CustomerID: c.CustomerID,
		QueueID:    c.QueueID,
		Name:       c.Name,
		Phone:      c.Phone,
		Message:    c.Message,
		Position:   c.Position,
		Status:     string(c.Status),
		JoinedAt:   c.JoinedAt,
		ServedAt:   c.ServedAt,
	}
}

type createQueueRequestPayload struct {
	BusinessName string `json:"business_name"`
	ContactEmail string `json:"contact_email"`
	ContactPhone string `json:"contact_phone"`
}

type createQueueResponsePayload struct {
	Queue       queuePayload `json:"queue"`
	AccessToken string       `json:"access_token"`
	ExpiresIn   int64        `json:"expires_in"`
	TokenType   string       `json:"token_type"`
}

func (h *httpHandler) handleCreateQueue(c *gin.Context) {
	var request createQueueRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	created, err := h.queues.CreateQueue(c.Request.Context(), queue.CreateQueueRequest{
		BusinessName: request.BusinessName,
		ContactEmail: request.ContactEmail,
		ContactPhone: request.ContactPhone,
	})
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	// The creator holds the contact secret by definition, so the dashboard
	// token is issued alongside the queue.
	token, expiresIn, err := h.tokens.IssueDashboardToken(c.Request.Context(), created.QueueID)
	if err != nil {
		h.logger.Error("failed to issue dashboard token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusCreated, createQueueResponsePayload{
		Queue:       h.queuePayload(created),
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

func (h *httpHandler) handleGetQueue(c *gin.Context) {
	found, err := h.queues.GetQueue(c.Request.Context(), c.Param("queueId"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"queue": h.queuePayload(found)})
}

func (h *httpHandler) handleRoster(c *gin.Context) {
	members, err := h.queues.Roster(c.Request.Context(), c.Param("queueId"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	payloads := make([]customerPayload, 0, len(members))
	for _, member := range members {
		payloads = append(payloads, customerToPayload(member))
	}
	c.JSON(http.StatusOK, gin.H{"customers": payloads})
}

type dashboardAuthRequestPayload struct {
	Secret string `json:"secret"`
}

type dashboardAuthResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleDashboardAuth(c *gin.Context) {
	queueID := c.Param("queueId")

	var request dashboardAuthRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	found, err := h.queues.GetQueue(c.Request.Context(), queueID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	if !auth.Authenticate(found.ContactSecret(), strings.TrimSpace(request.Secret)) {
		h.logger.Info("dashboard secret mismatch", zap.String("queue_id", queueID))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	token, expiresIn, err := h.tokens.IssueDashboardToken(c.Request.Context(), queueID)
	if err != nil {
		h.logger.Error("failed to issue dashboard token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, dashboardAuthResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

type joinRequestPayload struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

func (h *httpHandler) handleJoin(c *gin.Context) {
	queueID := c.Param("queueId")

	var request joinRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	joined, err := h.queues.Join(c.Request.Context(), queueID, queue.JoinRequest{
		Name:    request.Name,
		Phone:   request.Phone,
		Message: request.Message,
	})
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	h.publishQueueChange(queueID, joined.CustomerID)
	c.JSON(http.StatusCreated, gin.H{"customer": customerToPayload(joined)})
}

// handleLeave lets a customer abandon its own membership. The customer id
// returned by join is the caller's only handle; no recovery path exists.
func (h *httpHandler) handleLeave(c *gin.Context) {
	queueID := c.Param("queueId")
	customerID := c.Param("customerId")

	if err := h.queues.Remove(c.Request.Context(), queueID, customerID); err != nil {
		h.respondServiceError(c, err)
		return
	}

	h.publishQueueChange(queueID, customerID)
	c.JSON(http.StatusOK, gin.H{"removed": customerID})
}

func (h *httpHandler) handleServeNext(c *gin.Context) {
	queueID := c.Param("queueId")

	served, err := h.queues.ServeNext(c.Request.Context(), queueID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	if served == nil {
		c.JSON(http.StatusOK, gin.H{"served": nil})
		return
	}

	h.publishQueueChange(queueID, served.CustomerID)
	c.JSON(http.StatusOK, gin.H{"served": customerToPayload(*served)})
}

func (h *httpHandler) handleClearQueue(c *gin.Context) {
	queueID := c.Param("queueId")

	cleared, err := h.queues.ClearQueue(c.Request.Context(), queueID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	h.publishQueueChange(queueID)
	c.JSON(http.StatusOK, gin.H{"cleared": cleared})
}

type patchQueueRequestPayload struct {
	IsActive *bool `json:"is_active"`
}

func (h *httpHandler) handlePatchQueue(c *gin.Context) {
	queueID := c.Param("queueId")

	var request patchQueueRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.IsActive == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	updated, err := h.queues.SetQueueActive(c.Request.Context(), queueID, *request.IsActive)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"queue": h.queuePayload(updated)})
}

func (h *httpHandler) handleDeleteQueue(c *gin.Context) {
	queueID := c.Param("queueId")

	if err := h.queues.DeleteQueue(c.Request.Context(), queueID); err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": queueID})
}

// authorizeDashboard requires a bearer token whose subject matches the queue
// id in the path, so a token for one queue grants nothing on another.
func (h *httpHandler) authorizeDashboard(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Info("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if subject != c.Param("queueId") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(queueIDContextKey, subject)
	c.Next()
}

func (h *httpHandler) publishQueueChange(queueID string, customerIDs ...string) {
	h.dispatcher.Publish(RealtimeMessage{
		QueueID:     queueID,
		EventType:   RealtimeEventQueueChanged,
		CustomerIDs: customerIDs,
		Timestamp:   time.Now().UTC(),
	})
}

func (h *httpHandler) respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, queue.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
	case errors.Is(err, queue.ErrQueueNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "queue_not_found"})
	case errors.Is(err, queue.ErrQueueInactive):
		c.JSON(http.StatusConflict, gin.H{"error": "queue_inactive"})
	case errors.Is(err, queue.ErrCustomerNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "customer_not_found"})
	case errors.Is(err, queue.ErrCreateFailed):
		h.logger.Error("queue creation exhausted id attempts", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed"})
	default:
		h.logger.Error("queue operation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store_unavailable"})
	}
}

package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"points-service/internal/metrics"
	"points-service/internal/middleware"
	"points-service/internal/services"
	"points-service/pkg/common"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// Handler exposes the points services over HTTP.
type Handler struct {
	Ledger      *services.LedgerService
	Funding     *services.FundingService
	Redemptions *services.RedemptionService
	Purchases   *services.PurchaseService
	Webhooks    *services.WebhookService
}

func NewHandler(ledger *services.LedgerService, funding *services.FundingService, redemptions *services.RedemptionService,
	purchases *services.PurchaseService, webhooks *services.WebhookService) *Handler {
	return &Handler{
		Ledger:      ledger,
		Funding:     funding,
		Redemptions: redemptions,
		Purchases:   purchases,
		Webhooks:    webhooks,
	}
}

// RegisterRoutes mounts every route on r. Member routes go through auth and the rate limiter.
func (h *Handler) RegisterRoutes(r *gin.Engine, verifier *middleware.TokenVerifier, limiter *middleware.RateLimiter) {
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "Welcome To Points service"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	r.POST("/webhooks/flutterwave", h.FlutterwaveWebhook)

	api := r.Group("/api/v1", middleware.RequireAuth(verifier))
	if limiter != nil {
		api.Use(limiter.Middleware())
	}

	points := api.Group("/points")
	points.GET("/balance", h.GetBalance)
	points.GET("/transactions", h.GetTransactions)
	points.POST("/transfer", h.TransferPoints)

	tasks := api.Group("/tasks")
	tasks.POST("", h.CreateTask)
	tasks.GET("/:id/funding", h.GetTaskFunding)
	tasks.POST("/:id/completions", h.CompleteTask)
	tasks.POST("/:id/cancel", h.CancelTask)

	redemptions := api.Group("/redemptions")
	redemptions.POST("", h.Redeem)
	redemptions.GET("", h.ListRedemptions)
	redemptions.GET("/:id", h.GetRedemption)

	purchases := api.Group("/purchases")
	purchases.GET("/packages", h.ListPackages)
	purchases.POST("", h.InitiatePurchase)
	purchases.POST("/verify", h.VerifyPurchase)

	admin := api.Group("/admin", middleware.RequireOperator())
	admin.POST("/points/award", h.AwardPoints)
	admin.POST("/redemptions/:id/reconcile", h.ReconcileRedemption)
}

func paramID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, common.NewErrorResponse("invalid "+name, nil, http.StatusBadRequest))
		return 0, false
	}
	return uint(id), true
}

func queryInt(c *gin.Context, name string, fallback int) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return fallback
	}
	return v
}

func bindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, common.NewErrorResponse(err.Error(), gin.H{"code": "VALIDATION_ERROR"}, http.StatusBadRequest))
}

// respondError maps service errors onto the response envelope. record, when non-nil,
// is returned alongside the error so callers can see what was persisted.
func respondError(c *gin.Context, err error, record interface{}) {
	var (
		validation *services.ValidationError
		duplicate  *services.DuplicateRequestError
		gateway    *services.ExternalGatewayError
		reconcile  *services.ReconciliationRequiredError
	)

	switch {
	case errors.As(err, &reconcile):
		c.JSON(http.StatusAccepted, common.NewErrorResponse(
			"Your redemption was delivered but needs a manual review. Please contact support with the reference.",
			gin.H{
				"code":               "RECONCILIATION_REQUIRED",
				"reference":          reconcile.Reference,
				"external_reference": reconcile.ExternalReference,
				"retryable":          false,
				"action":             "contact_support",
				"record":             record,
			}, http.StatusAccepted))
	case errors.As(err, &duplicate):
		c.JSON(http.StatusConflict, common.NewErrorResponse(err.Error(), gin.H{
			"code":      "DUPLICATE_REQUEST",
			"retryable": false,
			"existing":  duplicate.Existing,
		}, http.StatusConflict))
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, common.NewErrorResponse(err.Error(), gin.H{
			"code":  "VALIDATION_ERROR",
			"field": validation.Field,
		}, http.StatusBadRequest))
	case errors.As(err, &gateway):
		action := "retry_with_new_key"
		if gateway.OutcomeUnknown {
			action = "contact_support"
		}
		c.JSON(http.StatusBadGateway, common.NewErrorResponse("The provider could not complete the request", gin.H{
			"code":      "GATEWAY_ERROR",
			"retryable": !gateway.OutcomeUnknown,
			"action":    action,
			"record":    record,
		}, http.StatusBadGateway))
	case errors.Is(err, services.ErrInsufficientBalance):
		c.JSON(http.StatusBadRequest, common.NewErrorResponse(err.Error(), gin.H{"code": "INSUFFICIENT_BALANCE"}, http.StatusBadRequest))
	case errors.Is(err, services.ErrMemberNotFound),
		errors.Is(err, services.ErrTaskNotFound),
		errors.Is(err, services.ErrRedemptionNotFound),
		errors.Is(err, services.ErrPurchaseNotFound):
		c.JSON(http.StatusNotFound, common.NewErrorResponse(err.Error(), gin.H{"code": "NOT_FOUND"}, http.StatusNotFound))
	case errors.Is(err, services.ErrForbidden),
		errors.Is(err, services.ErrMemberInactive),
		errors.Is(err, services.ErrFraudRejected):
		c.JSON(http.StatusForbidden, common.NewErrorResponse(err.Error(), gin.H{"code": "FORBIDDEN", "record": record}, http.StatusForbidden))
	case errors.Is(err, services.ErrInvalidState):
		c.JSON(http.StatusConflict, common.NewErrorResponse(err.Error(), gin.H{"code": "INVALID_STATE", "record": record}, http.StatusConflict))
	case errors.Is(err, services.ErrInvalidSignature):
		c.JSON(http.StatusUnauthorized, common.NewErrorResponse(err.Error(), nil, http.StatusUnauthorized))
	default:
		log.WithError(err).WithField("path", c.FullPath()).Error("request failed")
		c.JSON(http.StatusInternalServerError, common.NewErrorResponse("Something went wrong", nil, http.StatusInternalServerError))
	}
}

package handlers

import (
	"net/http"

	"points-service/internal/middleware"
	"points-service/internal/models"
	"points-service/internal/services"
	"points-service/pkg/common"

	"github.com/gin-gonic/gin"
)

func (h *Handler) ListPackages(c *gin.Context) {
	c.JSON(http.StatusOK, common.NewSuccessResponse(h.Purchases.Packages(), "Packages retrieved"))
}

func (h *Handler) InitiatePurchase(c *gin.Context) {
	var req services.InitiatePurchaseDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	req.MemberID = middleware.MemberID(c)

	purchase, err := h.Purchases.InitiatePurchase(c.Request.Context(), req)
	if err != nil {
		respondError(c, err, purchase)
		return
	}
	c.JSON(http.StatusCreated, common.NewStatusResponse(http.StatusCreated, purchase, "Checkout created"))
}

type VerifyPurchaseRequest struct {
	Reference string `json:"reference" binding:"required"`
}

func (h *Handler) VerifyPurchase(c *gin.Context) {
	var req VerifyPurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	result, err := h.Purchases.VerifyPurchase(c.Request.Context(), req.Reference, middleware.MemberID(c))
	if err != nil {
		var record interface{}
		if result != nil {
			record = result.Purchase
		}
		respondError(c, err, record)
		return
	}

	message := "Payment verified, points credited"
	switch {
	case result.AlreadyProcessed:
		message = "Payment already processed"
	case result.Purchase.Status == models.PurchaseStatusPending:
		message = "Payment is still pending"
	case result.Purchase.Status == models.PurchaseStatusFailed:
		message = "Payment was not successful"
	}
	c.JSON(http.StatusOK, common.NewSuccessResponse(result, message))
}

// FlutterwaveWebhook acknowledges provider callbacks. Anything that fails after the
// signature check is answered with a 5xx so the provider redelivers.
func (h *Handler) FlutterwaveWebhook(c *gin.Context) {
	var req services.FlutterwaveWebhookDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	result, err := h.Webhooks.HandleFlutterwave(c.Request.Context(), c.GetHeader("verif-hash"), req)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, common.NewSuccessResponse(result, "Webhook received"))
}

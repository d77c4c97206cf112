package handlers

import (
	"net/http"

	"points-service/internal/middleware"
	"points-service/internal/services"
	"points-service/pkg/common"

	"github.com/gin-gonic/gin"
)

const idempotencyHeader = "Idempotency-Key"

func (h *Handler) Redeem(c *gin.Context) {
	var req services.RedeemDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	req.MemberID = middleware.MemberID(c)
	if key := c.GetHeader(idempotencyHeader); key != "" {
		req.IdempotencyKey = key
	}

	rec, err := h.Redemptions.Redeem(c.Request.Context(), req)
	if err != nil {
		respondError(c, err, rec)
		return
	}
	c.JSON(http.StatusCreated, common.NewStatusResponse(http.StatusCreated, rec, "Redemption completed"))
}

func (h *Handler) ListRedemptions(c *gin.Context) {
	result, err := h.Redemptions.ListRedemptions(c.Request.Context(), middleware.MemberID(c), c.Query("status"),
		queryInt(c, "page", 1), queryInt(c, "limit", common.DefaultPageSize))
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) GetRedemption(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	rec, err := h.Redemptions.GetRedemption(c.Request.Context(), middleware.MemberID(c), id)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, common.NewSuccessResponse(rec, "Redemption retrieved"))
}

func (h *Handler) ReconcileRedemption(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req services.ReconcileDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	req.RedemptionID = id
	req.OperatorID = middleware.MemberID(c)

	rec, err := h.Redemptions.Reconcile(c.Request.Context(), req)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, common.NewSuccessResponse(rec, "Redemption reconciled"))
}

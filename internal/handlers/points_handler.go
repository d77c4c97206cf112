package handlers

import (
	"errors"
	"net/http"
	"time"

	"points-service/internal/middleware"
	"points-service/internal/models"
	"points-service/internal/services"
	"points-service/pkg/common"

	"github.com/gin-gonic/gin"
)

func (h *Handler) GetBalance(c *gin.Context) {
	summary, err := h.Ledger.GetBalanceSummary(c.Request.Context(), middleware.MemberID(c))
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, common.NewSuccessResponse(summary, "Balance retrieved"))
}

func parseDate(value string) *time.Time {
	if value == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return &t
		}
	}
	return nil
}

func (h *Handler) GetTransactions(c *gin.Context) {
	filter := services.HistoryFilterDTO{
		MemberID:        middleware.MemberID(c),
		TransactionType: c.Query("type"),
		Source:          c.Query("source"),
		ReferenceType:   c.Query("reference_type"),
		Direction:       c.Query("direction"),
		From:            parseDate(c.Query("from")),
		To:              parseDate(c.Query("to")),
		Page:            queryInt(c, "page", 1),
		Limit:           queryInt(c, "limit", common.DefaultPageSize),
	}
	result, err := h.Ledger.GetTransactionHistory(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) TransferPoints(c *gin.Context) {
	var req services.TransferPointsDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	req.FromMemberID = middleware.MemberID(c)

	result, err := h.Ledger.TransferPoints(c.Request.Context(), req)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, common.NewSuccessResponse(result, "Points transferred"))
}

type AwardPointsRequest struct {
	MemberID        uint   `json:"member_id" binding:"required"`
	Amount          int64  `json:"amount" binding:"required"`
	TransactionType string `json:"transaction_type"`
	Source          string `json:"source"`
	ReferenceID     string `json:"reference_id"`
	Description     string `json:"description"`
}

// AwardPoints credits points on behalf of an operator, e.g. activity rewards or adjustments.
func (h *Handler) AwardPoints(c *gin.Context) {
	var req AwardPointsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	txType := req.TransactionType
	switch txType {
	case "":
		txType = models.TxTypeEarn
	case models.TxTypeEarn, models.TxTypeReferral, models.TxTypeAdjustment:
	default:
		bindError(c, errors.New("transaction_type must be earn, referral or adjustment"))
		return
	}
	source := req.Source
	if source == "" {
		source = models.SourceOperator
	}

	entry, err := h.Ledger.Award(c.Request.Context(), services.PointMovementDTO{
		MemberID:        req.MemberID,
		Amount:          req.Amount,
		TransactionType: txType,
		Source:          source,
		ReferenceType:   models.RefTypeManual,
		ReferenceID:     req.ReferenceID,
		Description:     req.Description,
		Metadata:        map[string]interface{}{"awarded_by": middleware.MemberID(c)},
	})
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusCreated, common.NewStatusResponse(http.StatusCreated, entry, "Points awarded"))
}

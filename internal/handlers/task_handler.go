package handlers

import (
	"net/http"

	"points-service/internal/middleware"
	"points-service/internal/services"
	"points-service/pkg/common"

	"github.com/gin-gonic/gin"
)

func (h *Handler) CreateTask(c *gin.Context) {
	var req services.FundTaskDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	req.CreatorID = middleware.MemberID(c)

	result, err := h.Funding.CreateAndFund(c.Request.Context(), req)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusCreated, common.NewStatusResponse(http.StatusCreated, result, "Task created and funded"))
}

func (h *Handler) GetTaskFunding(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	funding, err := h.Funding.GetFunding(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, common.NewSuccessResponse(funding, "Task funding retrieved"))
}

func (h *Handler) CompleteTask(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req services.CompleteTaskDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	req.TaskID = id
	req.VerifierID = middleware.MemberID(c)

	result, err := h.Funding.CompleteAndPayout(c.Request.Context(), req)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	message := "Completion rejected"
	if req.Approved {
		message = "Completion approved and paid"
	}
	c.JSON(http.StatusOK, common.NewSuccessResponse(result, message))
}

func (h *Handler) CancelTask(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	funding, err := h.Funding.CancelAndRefund(c.Request.Context(), services.CancelTaskDTO{
		TaskID:      id,
		CancellerID: middleware.MemberID(c),
	})
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, common.NewSuccessResponse(funding, "Task cancelled and refunded"))
}

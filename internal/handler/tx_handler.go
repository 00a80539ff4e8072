package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Josh0007-sunday/chainproofserver/internal/middleware"
	"github.com/Josh0007-sunday/chainproofserver/internal/models"
	"github.com/Josh0007-sunday/chainproofserver/internal/services"
)

// VerifyPaymentHandler 验证付款到服务钱包的交易
func (h *Handler) VerifyPaymentHandler(c *gin.Context) {
	h.verify(c, h.Payments)
}

// VerifyRewardPoolPaymentHandler 验证付款到奖励池的交易
func (h *Handler) VerifyRewardPoolPaymentHandler(c *gin.Context) {
	h.verify(c, h.RewardPoolPayments)
}

func (h *Handler) verify(c *gin.Context, v middleware.PaymentVerifier) {
	if v == nil {
		unavailable(c, "verifier")
		return
	}
	var req models.VerifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if req.RequesterID == "" {
		req.RequesterID = c.GetHeader(middleware.HeaderRequesterID)
	}

	res, err := v.Verify(c.Request.Context(), req.Transaction, req.Endpoint, req.RequesterID)
	if err != nil {
		h.Log.Error("支付验证异常 request=%s: %v", c.GetString(middleware.ContextRequestID), err)
		c.JSON(http.StatusInternalServerError, models.VerifyPaymentResponse{Error: "internal error"})
		return
	}

	c.JSON(statusFor(res), toResponse(res, v.Config().Network))
}

// statusFor maps a verification outcome to an HTTP status.
func statusFor(res *services.Result) int {
	switch {
	case res.Accepted:
		return http.StatusOK
	case res.Failure != nil && res.Failure.Reason == services.ReasonMalformedTransaction:
		return http.StatusBadRequest
	default:
		return http.StatusPaymentRequired
	}
}

func toResponse(res *services.Result, network models.Network) models.VerifyPaymentResponse {
	out := models.VerifyPaymentResponse{
		Accepted:      res.Accepted,
		Record:        res.Record,
		FailureReason: res.FailureReason(),
	}
	if res.Failure != nil {
		out.Error = res.Failure.Error()
	}
	if res.Record != nil {
		out.UIAmount = res.Record.UIAmount()
	}
	if res.Signature != "" {
		out.ExplorerURL = services.ExplorerURL(res.Signature, network.Cluster())
	}
	return out
}

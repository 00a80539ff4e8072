package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// GetPaymentHandler 根据交易签名查询支付记录
func (h *Handler) GetPaymentHandler(c *gin.Context) {
	if h.Store == nil {
		unavailable(c, "store")
		return
	}
	signature := c.Param("signature")
	rec, err := h.Store.FindBySignature(c.Request.Context(), signature)
	if err != nil {
		h.Log.Error("查询支付记录失败 %s: %v", signature, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询失败"})
		return
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "payment not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"record":   rec,
		"uiAmount": rec.UIAmount(),
	})
}

// ListPaymentsHandler 查询某个请求方的支付记录，?requester=&limit=
func (h *Handler) ListPaymentsHandler(c *gin.Context) {
	if h.Store == nil {
		unavailable(c, "store")
		return
	}
	requester := c.Query("requester")
	if requester == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "requester is required"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	recs, err := h.Store.ListByRequester(c.Request.Context(), requester, limit)
	if err != nil {
		h.Log.Error("查询支付记录失败 requester=%s: %v", requester, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"requester": requester,
		"count":     len(recs),
		"records":   recs,
	})
}

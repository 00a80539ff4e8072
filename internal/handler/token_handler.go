package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Josh0007-sunday/chainproofserver/internal/services"
)

// TokenRiskHandler 代币风险评分
func (h *Handler) TokenRiskHandler(c *gin.Context) {
	if h.Scorer == nil {
		unavailable(c, "scorer")
		return
	}
	report, err := h.Scorer.RiskScore(c.Request.Context(), c.Param("mint"))
	if err != nil {
		h.scoringError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// TokenClassificationHandler 代币分类（meme / utility）
func (h *Handler) TokenClassificationHandler(c *gin.Context) {
	if h.Scorer == nil {
		unavailable(c, "scorer")
		return
	}
	cls, err := h.Scorer.Classify(c.Request.Context(), c.Param("mint"))
	if err != nil {
		h.scoringError(c, err)
		return
	}
	c.JSON(http.StatusOK, cls)
}

// TokenRegistryHandler 查询代币在程序中的注册与质押状态
func (h *Handler) TokenRegistryHandler(c *gin.Context) {
	if h.Registry == nil {
		unavailable(c, "registry")
		return
	}
	st, err := h.Registry.Lookup(c.Request.Context(), c.Param("mint"))
	if err != nil {
		h.scoringError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) scoringError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidMint):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrAccountNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrBadDiscriminator):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		h.Log.Error("代币评分失败 %s: %v", c.Param("mint"), err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "chain data unavailable"})
	}
}

// RewardPoolHandler 查询奖励池状态
func (h *Handler) RewardPoolHandler(c *gin.Context) {
	if h.RewardPool == nil {
		unavailable(c, "reward pool")
		return
	}
	snap, err := h.RewardPool.Snapshot(c.Request.Context())
	switch {
	case err == nil:
		c.JSON(http.StatusOK, snap)
	case errors.Is(err, services.ErrAccountNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrBadDiscriminator):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		h.Log.Error("查询奖励池失败: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "chain data unavailable"})
	}
}

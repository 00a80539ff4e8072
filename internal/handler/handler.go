package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Josh0007-sunday/chainproofserver/internal/middleware"
	"github.com/Josh0007-sunday/chainproofserver/internal/models"
	"github.com/Josh0007-sunday/chainproofserver/internal/services"
	"github.com/Josh0007-sunday/chainproofserver/utils"
)

// RecordStore is the read side of the payment store used by the API.
type RecordStore interface {
	FindBySignature(ctx context.Context, signature string) (*models.PaymentRecord, error)
	ListByRequester(ctx context.Context, requesterID string, limit int) ([]models.PaymentRecord, error)
	HasConfirmedPayment(ctx context.Context, requesterID, endpoint string) (bool, error)
	Ping(ctx context.Context) error
}

type RewardPoolReader interface {
	Snapshot(ctx context.Context) (*services.RewardPoolSnapshot, error)
}

type RegistryReader interface {
	Lookup(ctx context.Context, mint string) (*services.RegistryStatus, error)
}

type TokenScorer interface {
	RiskScore(ctx context.Context, mint string) (*services.RiskReport, error)
	Classify(ctx context.Context, mint string) (*services.Classification, error)
}

// Handler holds the collaborators of every route. Optional fields may be nil,
// in which case their routes answer 503.
type Handler struct {
	Payments           middleware.PaymentVerifier
	RewardPoolPayments middleware.PaymentVerifier
	Store              RecordStore
	RewardPool         RewardPoolReader
	Registry           RegistryReader
	Scorer             TokenScorer
	GateEnabled        bool
	GatedEndpoints     []string // route patterns; empty means every token route
	Metrics            http.Handler
	Log                *utils.Logger
}

func (h *Handler) gated(pattern string) bool {
	if !h.GateEnabled || h.Payments == nil {
		return false
	}
	if len(h.GatedEndpoints) == 0 {
		return true
	}
	for _, e := range h.GatedEndpoints {
		if e == pattern {
			return true
		}
	}
	return false
}

func RegisterRoutes(r *gin.Engine, h *Handler) {
	InitStartTime()

	r.GET("/healthz", HealthzHandler)
	r.GET("/readyz", h.ReadinessHandler)
	if h.Metrics != nil {
		r.GET("/metrics", middleware.LocalOnly(), gin.WrapH(h.Metrics))
	}

	api := r.Group("/api")
	api.POST("/payments/verify", h.VerifyPaymentHandler)
	api.POST("/reward-pool/payments/verify", h.VerifyRewardPoolPaymentHandler)
	api.GET("/payments/:signature", h.GetPaymentHandler)
	api.GET("/payments", h.ListPaymentsHandler)
	api.GET("/reward-pool", h.RewardPoolHandler)
	api.GET("/tokens/:mint/registry", h.TokenRegistryHandler)

	for pattern, fn := range map[string]gin.HandlerFunc{
		"/api/tokens/:mint/risk":           h.TokenRiskHandler,
		"/api/tokens/:mint/classification": h.TokenClassificationHandler,
	} {
		chain := []gin.HandlerFunc{}
		if h.gated(pattern) {
			chain = append(chain, middleware.RequirePayment(h.Store, h.Payments, h.Log))
		}
		r.GET(pattern, append(chain, fn)...)
	}
}

func unavailable(c *gin.Context, what string) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": what + " not configured"})
}

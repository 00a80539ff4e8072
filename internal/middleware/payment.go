package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Josh0007-sunday/chainproofserver/internal/models"
	"github.com/Josh0007-sunday/chainproofserver/internal/services"
	"github.com/Josh0007-sunday/chainproofserver/utils"
)

const (
	HeaderRequesterID = "X-Requester-ID"
	HeaderPayment     = "X-Payment"
	ContextPayment    = "payment_record"
)

type PaymentChecker interface {
	HasConfirmedPayment(ctx context.Context, requesterID, endpoint string) (bool, error)
}

type PaymentVerifier interface {
	Verify(ctx context.Context, encodedTx, endpoint, requesterID string) (*services.Result, error)
	Config() services.VerifierConfig
}

// RequirePayment answers 402 unless the requester already paid for this path or
// the X-Payment header carries a transaction that verifies now. Payments are
// recorded against the concrete request path.
func RequirePayment(checker PaymentChecker, verifier PaymentVerifier, log *utils.Logger) gin.HandlerFunc {
	cfg := verifier.Config()
	return func(c *gin.Context) {
		endpoint := c.Request.URL.Path
		requester := c.GetHeader(HeaderRequesterID)
		ctx := c.Request.Context()

		requirements := models.PaymentRequirements{
			Endpoint:  endpoint,
			Network:   string(cfg.Network),
			TokenMint: cfg.Mint.String(),
			Recipient: cfg.Recipient.String(),
			MinAmount: cfg.MinAmount,
			Header:    HeaderPayment,
		}

		if payment := c.GetHeader(HeaderPayment); payment != "" {
			res, err := verifier.Verify(ctx, payment, endpoint, requester)
			if err != nil {
				log.Error("支付校验异常 %s: %v", endpoint, err)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "payment verification unavailable"})
				return
			}
			if !res.Accepted {
				status := http.StatusPaymentRequired
				if res.Failure != nil && res.Failure.Reason == services.ReasonMalformedTransaction {
					status = http.StatusBadRequest
				}
				c.AbortWithStatusJSON(status, gin.H{
					"error":         "payment rejected",
					"failureReason": res.FailureReason(),
					"requirements":  requirements,
				})
				return
			}
			// a confirmed signature replays as accepted, so it must belong to this path and requester
			if !paidFor(res.Record, endpoint, requester) {
				c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{
					"error":        "payment was made for another endpoint or requester",
					"requirements": requirements,
				})
				return
			}
			c.Set(ContextPayment, res.Record)
			c.Next()
			return
		}

		if requester != "" {
			ok, err := checker.HasConfirmedPayment(ctx, requester, endpoint)
			if err != nil {
				log.Error("查询支付记录失败 %s: %v", requester, err)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "payment lookup failed"})
				return
			}
			if ok {
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{
			"error":        "payment required",
			"requirements": requirements,
		})
	}
}

func paidFor(rec *models.PaymentRecord, endpoint, requester string) bool {
	if rec == nil || rec.Endpoint != endpoint {
		return false
	}
	return rec.RequesterID == "" || rec.RequesterID == requester
}

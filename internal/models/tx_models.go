package models

// VerifyPaymentRequest 支付验证请求
type VerifyPaymentRequest struct {
	Transaction string `json:"transaction" binding:"required"` // base64 已签名交易
	Endpoint    string `json:"endpoint" binding:"required"`
	RequesterID string `json:"requesterId"`
}

// VerifyPaymentResponse is the body returned for every verification outcome.
type VerifyPaymentResponse struct {
	Accepted      bool           `json:"accepted"`
	Record        *PaymentRecord `json:"record,omitempty"`
	UIAmount      string         `json:"uiAmount,omitempty"`
	FailureReason string         `json:"failureReason,omitempty"`
	Error         string         `json:"error,omitempty"`
	ExplorerURL   string         `json:"explorerUrl,omitempty"`
}

// PaymentRequirements tells a client how to pay for a gated endpoint.
type PaymentRequirements struct {
	Endpoint  string `json:"endpoint"`
	Network   string `json:"network"`
	TokenMint string `json:"tokenMint"`
	Recipient string `json:"recipient"`
	MinAmount uint64 `json:"minAmount"`
	Header    string `json:"header"`
}

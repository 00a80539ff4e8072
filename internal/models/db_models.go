package models

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus is the lifecycle state of a PaymentRecord.
type PaymentStatus string

const (
	StatusPending   PaymentStatus = "pending"
	StatusConfirmed PaymentStatus = "confirmed"
	StatusFailed    PaymentStatus = "failed"
)

// Terminal reports whether the status can no longer change.
func (s PaymentStatus) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// Network is the Solana cluster a payment was made on.
type Network string

const (
	Mainnet Network = "mainnet"
	Devnet  Network = "devnet"
	Testnet Network = "testnet"
)

// ParseNetwork accepts the cluster names used in config ("mainnet-beta" is an alias for mainnet).
func ParseNetwork(s string) (Network, bool) {
	switch s {
	case "mainnet", "mainnet-beta":
		return Mainnet, true
	case "devnet":
		return Devnet, true
	case "testnet":
		return Testnet, true
	}
	return "", false
}

// Cluster returns the explorer cluster query value.
func (n Network) Cluster() string {
	if n == Mainnet {
		return "mainnet-beta"
	}
	return string(n)
}

// PaymentRecord 支付记录，每个交易签名一条
type PaymentRecord struct {
	ID          uint          `gorm:"primaryKey" json:"-" bson:"-"`
	Signature   string        `gorm:"uniqueIndex;size:88;not null" json:"signature" bson:"signature"`
	Amount      uint64        `gorm:"not null" json:"amount" bson:"amount"`
	Decimals    uint8         `json:"decimals" bson:"decimals"`
	TokenMint   string        `gorm:"size:44;not null" json:"tokenMint" bson:"tokenMint"`
	Sender      string        `gorm:"size:44" json:"sender" bson:"sender"`
	Recipient   string        `gorm:"size:44" json:"recipient" bson:"recipient"`
	Endpoint    string        `gorm:"size:255;index:idx_requester_endpoint,priority:2" json:"endpoint" bson:"endpoint"`
	RequesterID string        `gorm:"size:128;index:idx_requester_endpoint,priority:1" json:"requesterId,omitempty" bson:"requesterId,omitempty"`
	Variant     string        `gorm:"size:32" json:"variant" bson:"variant"`
	Status      PaymentStatus `gorm:"size:20;default:'pending';index" json:"status" bson:"status"`
	Network     Network       `gorm:"size:10" json:"network" bson:"network"`
	Slot        *uint64       `json:"slot,omitempty" bson:"slot,omitempty"`
	BlockTime   *time.Time    `json:"blockTime,omitempty" bson:"blockTime,omitempty"`
	FailReason  string        `gorm:"size:64" json:"failureReason,omitempty" bson:"failureReason,omitempty"`
	CreatedAt   time.Time     `json:"createdAt" bson:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt" bson:"updatedAt"`
	VerifiedAt  *time.Time    `json:"verifiedAt,omitempty" bson:"verifiedAt,omitempty"`
}

// TableName overrides the table name
func (PaymentRecord) TableName() string {
	return "payment_records"
}

// UIAmount renders the minor-unit amount using the mint's decimals.
func (r *PaymentRecord) UIAmount() string {
	amt := decimal.NewFromBigInt(new(big.Int).SetUint64(r.Amount), -int32(r.Decimals))
	return amt.String()
}

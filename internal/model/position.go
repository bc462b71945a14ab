package model

import "github.com/shopspring/decimal"

// ProtocolUnknown labels positions whose asset type no strategy claims.
const ProtocolUnknown = "Unknown"

// Position is a transient per-asset valuation result. It is rebuilt on
// every valuation pass and never persisted.
type Position struct {
	ObjectID string          `json:"objectId"`
	Type     string          `json:"type"`
	Protocol string          `json:"protocol"`
	ValueUSD decimal.Decimal `json:"valueUsd"`
}

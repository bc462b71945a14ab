package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Vault is a tracked on-chain custody vault.
type Vault struct {
	ID           string          `json:"id"`
	Owner        string          `json:"owner"`
	Name         string          `json:"name"`
	StrategyType string          `json:"strategyType"`
	TVL          decimal.Decimal `json:"tvl"`
	APY          decimal.Decimal `json:"apy"`
	IsActive     bool            `json:"isActive"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// VaultHistory is an append-only TVL snapshot for chart consumption.
type VaultHistory struct {
	VaultID   string          `json:"vaultId"`
	TVL       decimal.Decimal `json:"tvl"`
	APY       decimal.Decimal `json:"apy"`
	Timestamp time.Time       `json:"timestamp"`
}

// VaultStats aggregates counts and total TVL over active vaults.
type VaultStats struct {
	TotalVaults  int             `json:"totalVaults"`
	ActiveVaults int             `json:"activeVaults"`
	TotalTVL     decimal.Decimal `json:"totalTVL"`
}

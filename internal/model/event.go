package model

// Event names emitted by the vault module, matched against the last
// segment of the full Move event type.
const (
	EventVaultCreated   = "VaultCreated"
	EventAssetDeposited = "AssetDeposited"
	EventAssetWithdrawn = "AssetWithdrawn"
	EventVaultDestroyed = "VaultDestroyed"
)

// VaultCreatedEvent is the decoded VaultCreated payload.
type VaultCreatedEvent struct {
	ID           string `json:"id"`
	Owner        string `json:"owner"`
	Name         string `json:"name"`
	StrategyType string `json:"strategy_type"`
	Timestamp    string `json:"timestamp"`
}

// AssetDepositedEvent is the decoded AssetDeposited payload.
type AssetDepositedEvent struct {
	VaultID   string `json:"vault_id"`
	AssetType string `json:"asset_type"`
	AssetKey  string `json:"asset_key"`
	Timestamp string `json:"timestamp"`
}

// AssetWithdrawnEvent is the decoded AssetWithdrawn payload.
type AssetWithdrawnEvent struct {
	VaultID   string `json:"vault_id"`
	AssetKey  string `json:"asset_key"`
	Timestamp string `json:"timestamp"`
}

// VaultDestroyedEvent is the decoded VaultDestroyed payload.
type VaultDestroyedEvent struct {
	ID string `json:"id"`
}

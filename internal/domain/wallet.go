package domain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// WalletTier classifies a funding wallet by custody friction. Hot wallets
// carry the smallest limits and sign fastest; cold wallets carry the largest
// limits and the most friction.
type WalletTier string

const (
	WalletHot  WalletTier = "hot"
	WalletWarm WalletTier = "warm"
	WalletCold WalletTier = "cold"
)

// WalletSelectionOrder is the fixed order in which the executor considers
// funding wallets for a transfer.
var WalletSelectionOrder = []WalletTier{WalletHot, WalletWarm, WalletCold}

// WalletConfig describes one funding wallet and its spend limits.
type WalletConfig struct {
	Address     common.Address
	Tier        WalletTier
	MaxSingleTx decimal.Decimal
	DailyLimit  decimal.Decimal
	IsActive    bool
}

package strategy

import (
	"context"

	"derivbot/internal/command"
	"derivbot/pkg/types"
)

// Venue is everything a Strategy needs from the exchange adapter beyond
// what CommandHandler already uses: account/leverage/position-mode setup
// at startup (§4.7 step 1) and the venue's own current positions for
// reconciliation (§4.8).
type Venue interface {
	command.Venue

	GetAccountInfo(ctx context.Context) (*types.Account, error)
	IsHedgeMode(ctx context.Context) (bool, error)
	ChangePositionMode(ctx context.Context, hedge bool) error
	ChangeLeverage(ctx context.Context, symbol types.Symbol, leverage int) error
	GetPositions(ctx context.Context) ([]types.AccountPosition, error)
}

// Store is everything a Strategy needs from the document store beyond what
// CommandHandler already uses: fetching OPEN positions and their orders at
// startup (§4.8).
type Store interface {
	command.Store

	FindOpenPositions(ctx context.Context, strategyID string, symbols []types.Symbol) ([]types.Position, error)
	FindOrders(ctx context.Context, ids []string) ([]types.Order, error)
}

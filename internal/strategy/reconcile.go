package strategy

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"derivbot/pkg/types"
)

// reconcile implements §4.8's startup reconciliation: stored OPEN positions
// are intersected against the venue's own view per symbol; a symbol whose
// reconciled count disagrees with the venue's nonzero position count is
// marked busy (no new entries) rather than crashing. LocalStorage is then
// seeded with the stored positions and every order attached to them,
// regardless of busy status — busy only blocks checkSignal, not bookkeeping.
func (s *Strategy) reconcile(ctx context.Context) error {
	symbols := make([]types.Symbol, len(s.cfg.Symbols))
	for i, sym := range s.cfg.Symbols {
		symbols[i] = types.Symbol(sym)
	}

	stored, err := s.store.FindOpenPositions(ctx, s.cfg.ID, symbols)
	if err != nil {
		return fmt.Errorf("find_open_positions: %w", err)
	}
	venue, err := s.venue.GetPositions(ctx)
	if err != nil {
		return fmt.Errorf("get_positions: %w", err)
	}

	storedBySymbol := make(map[types.Symbol][]types.Position)
	for _, p := range stored {
		storedBySymbol[p.Symbol] = append(storedBySymbol[p.Symbol], p)
	}
	venueBySymbol := make(map[types.Symbol][]types.AccountPosition)
	for _, p := range venue {
		venueBySymbol[p.Symbol] = append(venueBySymbol[p.Symbol], p)
	}

	var orderIDs []string
	for _, sym := range symbols {
		symStored := storedBySymbol[sym]
		contract := s.contractFor(sym)

		reconciled, nonZeroVenue := 0, 0
		for _, vp := range venueBySymbol[sym] {
			if !vp.Quantity.IsPositive() {
				continue
			}
			nonZeroVenue++
			for _, sp := range symStored {
				if sp.Side == vp.Side && positionsMatch(sp, vp, contract) {
					reconciled++
					break
				}
			}
		}

		if reconciled != nonZeroVenue {
			s.busy[sym] = true
			s.logger.Warn("symbol marked busy: stored/venue positions disagree",
				"symbol", sym, "reconciled", reconciled, "venue_positions", nonZeroVenue)
		}

		for _, sp := range symStored {
			s.storage.SetPosition(sym, sp)
			orderIDs = append(orderIDs, sp.Orders...)
		}
	}

	orders, err := s.store.FindOrders(ctx, orderIDs)
	if err != nil {
		return fmt.Errorf("find_orders: %w", err)
	}
	ordersBySymbol := make(map[types.Symbol][]types.Order)
	for _, o := range orders {
		ordersBySymbol[o.Symbol] = append(ordersBySymbol[o.Symbol], o)
	}
	for _, sym := range symbols {
		s.storage.SetOrders(sym, ordersBySymbol[sym])
	}

	return nil
}

func (s *Strategy) contractFor(symbol types.Symbol) types.Contract {
	if ss, ok := s.state.Get(symbol); ok {
		return ss.Contract
	}
	return types.Contract{}
}

// positionsMatch reports whether a stored position and the venue's own view
// of it agree closely enough to trust: quantity rounds to the same lot, and
// entry price agrees within one lot-size unit of tolerance (§4.8). Lacking a
// sharper definition of "lot_size precision" for a price field, lot size is
// used directly as the price tolerance — it is the only per-contract
// precision the reconciliation step has in hand.
func positionsMatch(stored types.Position, venue types.AccountPosition, contract types.Contract) bool {
	if !stored.Quantity.Equal(contract.RoundToLotSize(venue.Quantity)) {
		return false
	}
	tolerance := contract.LotSize
	if tolerance.IsZero() {
		tolerance = decimal.New(1, -8)
	}
	return stored.EntryPrice.Sub(venue.EntryPrice).Abs().LessThanOrEqual(tolerance)
}

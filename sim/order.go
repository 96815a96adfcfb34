package sim

import (
	"fmt"
	"math"

	log "github.com/sirupsen/logrus"

	"github.com/rustyeddy/tradereplay/events"
	"github.com/rustyeddy/tradereplay/trade"
)

// OrderRequest describes a bracket market order. A nil Size asks the
// engine to size the position from the account's risk settings.
type OrderRequest struct {
	Direction  trade.Direction
	Entry      float64
	StopLoss   float64
	TakeProfit float64
	Size       *float64
}

// PlaceOrder validates req and opens a trade. Every failure wraps
// ErrOrderRejected and leaves the account untouched.
func (e *Engine) PlaceOrder(req OrderRequest) (trade.Trade, error) {
	if err := checkLevels(req, e.cfg.MinSLDistance); err != nil {
		return trade.Trade{}, reject(err)
	}
	if req.Size != nil && !positive(*req.Size) {
		return trade.Trade{}, reject(fmt.Errorf("%w: %v", ErrInvalidSize, *req.Size))
	}

	e.mu.Lock()

	if n := e.openCountLocked(); n >= e.cfg.MaxOpenPositions {
		e.mu.Unlock()
		return trade.Trade{}, reject(fmt.Errorf("%w: %d open", ErrPositionLimit, n))
	}

	var size float64
	if req.Size != nil {
		size = *req.Size
	} else {
		size = e.riskSizeLocked(req.Entry, req.StopLoss)
		if !positive(size) {
			e.mu.Unlock()
			return trade.Trade{}, reject(fmt.Errorf("%w: risk sizing gave %v", ErrInvalidSize, size))
		}
	}

	e.nextID++
	t := &trade.Trade{
		ID:         e.nextID,
		Direction:  req.Direction,
		EntryPrice: req.Entry,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		Size:       size,
		EntryTime:  e.now(),
		Status:     trade.Open,
	}
	e.trades = append(e.trades, t)
	e.revalueLocked()

	snap := t.Snapshot()
	e.pending = append(e.pending, events.New(events.TradeOpened, snap, snap.EntryTime))
	e.mu.Unlock()

	e.log.WithFields(log.Fields{
		"trade": snap.ID,
		"dir":   snap.Direction,
		"entry": snap.EntryPrice,
		"size":  snap.Size,
	}).Debug("trade opened")

	e.deliver()
	return snap, nil
}

// RiskSize is the size an order without an explicit size would get at
// the current balance.
func (e *Engine) RiskSize(entry, stopLoss float64) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.riskSizeLocked(entry, stopLoss)
}

// riskSizeLocked risks RiskPerTrade of the balance over the stop distance,
// capped at DefaultLotSize.
func (e *Engine) riskSizeLocked(entry, stopLoss float64) float64 {
	dist := math.Abs(entry - stopLoss)
	if dist == 0 {
		return 0
	}
	size := e.balance * e.cfg.RiskPerTrade / dist
	return math.Min(size, e.cfg.DefaultLotSize)
}

func checkLevels(req OrderRequest, minDist float64) error {
	if !req.Direction.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidDirection, req.Direction)
	}
	if !positive(req.Entry) || !positive(req.StopLoss) || !positive(req.TakeProfit) {
		return fmt.Errorf("%w: entry=%v sl=%v tp=%v", ErrInvalidPrice, req.Entry, req.StopLoss, req.TakeProfit)
	}

	switch req.Direction {
	case trade.Long:
		if !(req.StopLoss < req.Entry && req.Entry < req.TakeProfit) {
			return fmt.Errorf("%w: long needs sl < entry < tp", ErrInvalidLevels)
		}
	case trade.Short:
		if !(req.TakeProfit < req.Entry && req.Entry < req.StopLoss) {
			return fmt.Errorf("%w: short needs tp < entry < sl", ErrInvalidLevels)
		}
	}

	if dist := math.Abs(req.Entry - req.StopLoss); dist < minDist {
		return fmt.Errorf("%w: %v < %v", ErrStopTooClose, dist, minDist)
	}
	return nil
}

func reject(err error) error {
	return fmt.Errorf("%w: %w", ErrOrderRejected, err)
}

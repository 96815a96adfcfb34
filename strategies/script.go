package strategies

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"

	"github.com/rustyeddy/tradereplay/sim"
	"github.com/rustyeddy/tradereplay/trade"
)

// Script actions, matched case-insensitively.
const (
	ActionOpen     = "OPEN"
	ActionClose    = "CLOSE"
	ActionCloseAll = "CLOSE_ALL"
)

// Action is one scripted order event, fired when the replay reaches Tick.
type Action struct {
	Tick       int
	Kind       string
	Direction  trade.Direction
	StopLoss   float64
	TakeProfit float64
	Size       *float64
	TradeID    int64
	Price      *float64
}

// scriptRow is the CSV shape:
//
//	tick,event,direction,stop_loss,take_profit,size,trade_id,price
//
// OPEN:      direction, stop_loss, take_profit, optional size
// OPEN_SLTP: same as OPEN
// CLOSE:     trade_id, optional price
// CLOSE_ALL: no arguments
type scriptRow struct {
	Tick       string `csv:"tick"`
	Event      string `csv:"event"`
	Direction  string `csv:"direction"`
	StopLoss   string `csv:"stop_loss"`
	TakeProfit string `csv:"take_profit"`
	Size       string `csv:"size"`
	TradeID    string `csv:"trade_id"`
	Price      string `csv:"price"`
}

// Script replays a fixed list of order actions. Each action fires at
// most once, the first time the replay moves forward onto its tick;
// ticks skipped by a seek are not fired.
type Script struct {
	actions map[int][]Action
	high    int
}

func NewScript(actions []Action) *Script {
	s := &Script{actions: make(map[int][]Action), high: -1}
	for _, a := range actions {
		s.actions[a.Tick] = append(s.actions[a.Tick], a)
	}
	return s
}

func LoadScript(path string) (*Script, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	s, err := ParseScript(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

func ParseScript(r io.Reader) (*Script, error) {
	var rows []scriptRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}

	actions := make([]Action, 0, len(rows))
	for i, row := range rows {
		a, err := row.toAction()
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+2, err)
		}
		actions = append(actions, a)
	}
	return NewScript(actions), nil
}

func (r scriptRow) toAction() (Action, error) {
	tick, err := strconv.Atoi(strings.TrimSpace(r.Tick))
	if err != nil || tick < 0 {
		return Action{}, fmt.Errorf("bad tick %q", r.Tick)
	}
	a := Action{Tick: tick}

	switch kind := strings.ToUpper(strings.TrimSpace(r.Event)); kind {
	case ActionOpen, "OPEN_SLTP":
		a.Kind = ActionOpen
		if a.Direction, err = trade.ParseDirection(r.Direction); err != nil {
			return Action{}, fmt.Errorf("%s: %w", kind, err)
		}
		if a.StopLoss, err = parseFloat("stop_loss", r.StopLoss); err != nil {
			return Action{}, fmt.Errorf("%s: %w", kind, err)
		}
		if a.TakeProfit, err = parseFloat("take_profit", r.TakeProfit); err != nil {
			return Action{}, fmt.Errorf("%s: %w", kind, err)
		}
		if a.Size, err = optionalFloat("size", r.Size); err != nil {
			return Action{}, fmt.Errorf("%s: %w", kind, err)
		}

	case ActionClose:
		a.Kind = ActionClose
		id, err := strconv.ParseInt(strings.TrimSpace(r.TradeID), 10, 64)
		if err != nil || id <= 0 {
			return Action{}, fmt.Errorf("CLOSE: bad trade_id %q", r.TradeID)
		}
		a.TradeID = id
		if a.Price, err = optionalFloat("price", r.Price); err != nil {
			return Action{}, fmt.Errorf("CLOSE: %w", err)
		}

	case ActionCloseAll:
		a.Kind = ActionCloseAll

	default:
		return Action{}, fmt.Errorf("unknown event %q", r.Event)
	}
	return a, nil
}

func parseFloat(name, raw string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("bad %s %q", name, raw)
	}
	return v, nil
}

func optionalFloat(name, raw string) (*float64, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	v, err := parseFloat(name, raw)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// Ticks lists the ticks that carry actions, sorted.
func (s *Script) Ticks() []int {
	out := make([]int, 0, len(s.actions))
	for t := range s.actions {
		out = append(out, t)
	}
	sort.Ints(out)
	return out
}

func (s *Script) OnTick(_ context.Context, b Broker, tick Tick) error {
	if tick.Index <= s.high {
		return nil
	}
	s.high = tick.Index

	var errs []error
	for _, a := range s.actions[tick.Index] {
		if err := s.apply(b, tick, a); err != nil {
			errs = append(errs, fmt.Errorf("%s at tick %d: %w", a.Kind, tick.Index, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Script) apply(b Broker, tick Tick, a Action) error {
	switch a.Kind {
	case ActionOpen:
		_, err := b.PlaceOrder(sim.OrderRequest{
			Direction:  a.Direction,
			Entry:      tick.Candle.Close,
			StopLoss:   a.StopLoss,
			TakeProfit: a.TakeProfit,
			Size:       a.Size,
		})
		return err
	case ActionClose:
		_, err := b.CloseTrade(a.TradeID, a.Price)
		return err
	case ActionCloseAll:
		b.CloseAll()
		return nil
	}
	return fmt.Errorf("unknown action %q", a.Kind)
}

func (s *Script) Reset() {
	s.high = -1
}

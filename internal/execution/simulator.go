package execution

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"signalEngine/internal/domain"
	"signalEngine/internal/ports"
	"signalEngine/internal/risk"
)

const (
	defaultSlippage = 0.001
	maxSlippage     = 0.02
	minTimingScore  = 0.8
	minConfidence   = 30
)

// Market impact buckets recorded on each executed trade.
const (
	ImpactLow    = "low"
	ImpactMedium = "medium"
	ImpactHigh   = "high"
)

// Simulator is the final stage of the pipeline: it authorizes a sized order,
// models slippage and market impact, and settles the result against the
// ledger. Buys open a trade atomically; sells liquidate profitable open buys.
type Simulator struct {
	trades        ports.TradeRepository
	ledger        ports.PortfolioRepository
	portfolioName string
	logger        ports.Logger
	events        ports.EventSink
}

func NewSimulator(trades ports.TradeRepository, ledger ports.PortfolioRepository, portfolioName string, logger ports.Logger, events ports.EventSink) *Simulator {
	return &Simulator{
		trades:        trades,
		ledger:        ledger,
		portfolioName: portfolioName,
		logger:        logger,
		events:        events,
	}
}

// Execute runs the authorization checklist and then opens or liquidates.
// A refused order is not an error; the refusal comes back in Reason.
func (s *Simulator) Execute(ctx context.Context, req risk.ExecRequest) (*risk.ExecResult, error) {
	op := "Execute"
	symbol := req.Instrument.Symbol

	refuse := func(reason string) *risk.ExecResult {
		s.logger.Info(ctx, op+": order refused", map[string]interface{}{
			"symbol": symbol, "direction": string(req.Direction), "reason": reason,
		})
		s.events.Emit(ctx, ports.NewEvent("executor", ports.EventInfo, "order refused", map[string]interface{}{
			"symbol": symbol, "direction": string(req.Direction), "reason": reason,
		}))
		return &risk.ExecResult{Reason: reason}
	}

	pf, err := s.ledger.GetPortfolio(ctx, s.portfolioName)
	if err != nil {
		return nil, fmt.Errorf("loading portfolio %q: %w", s.portfolioName, err)
	}
	if pf == nil {
		return nil, fmt.Errorf("%w: portfolio %q", ports.ErrNotFound, s.portfolioName)
	}

	amount := req.Size.USD(req.Price)
	if req.Direction == domain.Buy && pf.CashBalance < amount {
		return refuse(fmt.Sprintf("insufficient balance: have %.2f, need %.2f", pf.CashBalance, amount)), nil
	}

	openCount, err := s.trades.CountOpen(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting open trades: %w", err)
	}
	if req.Direction == domain.Buy && openCount >= req.Config.MaxPositions {
		return refuse(fmt.Sprintf("max open positions reached (%d)", openCount)), nil
	}

	if req.Anchor.Signal == nil || req.Anchor.Confidence < minConfidence {
		return refuse("anchor signal confidence too low"), nil
	}

	timing, timingReason := timingScore(req.Now, req.Anchor.Signal)
	if timing < minTimingScore {
		return refuse("poor execution timing: " + timingReason), nil
	}

	slip, err := s.estimateSlippage(ctx, symbol, amount, req.Now)
	if err != nil {
		return nil, err
	}
	impact, err := s.estimateImpact(ctx, symbol, amount, req.Now)
	if err != nil {
		return nil, err
	}

	// Slippage always moves the fill against the order.
	execPrice := req.Price * (1 + slip)
	if req.Direction == domain.Sell {
		execPrice = req.Price * (1 - slip)
	}

	if req.Direction == domain.Sell {
		return s.liquidate(ctx, req, pf.ID, execPrice, slip, impact)
	}
	return s.openPosition(ctx, req, pf.ID, execPrice, slip, impact, timing)
}

func (s *Simulator) openPosition(ctx context.Context, req risk.ExecRequest, portfolioID int64, execPrice, slip float64, impact string, timing float64) (*risk.ExecResult, error) {
	op := "openPosition"
	symbol := req.Instrument.Symbol

	plan, err := risk.PlanExits(execPrice, req.Direction, req.Config)
	if err != nil {
		return nil, fmt.Errorf("planning exits for %s: %w", symbol, err)
	}

	trade := &domain.Trade{
		Ref:           uuid.NewString(),
		Symbol:        symbol,
		AssetClass:    req.Instrument.AssetClass,
		Direction:     req.Direction,
		EntryPrice:    execPrice,
		Confidence:    req.Anchor.Confidence,
		Strategy:      req.Anchor.StrategyName(),
		Status:        domain.StatusExecuted,
		ExecutedAt:    req.Now,
		StopLoss:      plan.StopLoss,
		TakeProfit:    plan.TakeProfit,
		TrailingStop:  plan.TrailingStop,
		TrailingLevel: plan.TrailingLevel,
		MinPrice:      execPrice,
		MaxPrice:      execPrice,
		Slippage:      slip,
		MarketImpact:  impact,
		ExecQuality:   timing,
		SignalIDs:     req.SignalIDs,
	}
	if req.Size.Mode == risk.ModeQuantity {
		trade.Quantity = req.Size.Value
		trade.Notional = req.Size.Value * execPrice
	} else {
		trade.Notional = req.Size.Value
		trade.Quantity = math.Round(req.Size.Value/execPrice*1e6) / 1e6
	}

	if err := s.ledger.OpenTrade(ctx, portfolioID, trade); err != nil {
		return nil, fmt.Errorf("opening trade for %s: %w", symbol, err)
	}

	s.logger.Info(ctx, op+": trade opened", map[string]interface{}{
		"symbol": symbol, "tradeID": trade.ID, "ref": trade.Ref, "entryPrice": execPrice,
		"quantity": trade.Quantity, "notional": trade.Notional, "stopLoss": trade.StopLoss,
		"takeProfit": trade.TakeProfit, "slippage": slip, "impact": impact,
	})
	s.events.Emit(ctx, ports.NewEvent("executor", ports.EventInfo, "position opened", map[string]interface{}{
		"symbol": symbol, "tradeID": trade.ID, "ref": trade.Ref, "entryPrice": execPrice,
		"notional": trade.Notional, "strategy": trade.Strategy,
	}))

	return &risk.ExecResult{Trade: trade, Action: "open_position", Slippage: slip, Impact: impact}, nil
}

// liquidate closes the profitable open buy trades for the symbol at the
// current price. Losing trades stay open for the monitor's exits to handle.
func (s *Simulator) liquidate(ctx context.Context, req risk.ExecRequest, portfolioID int64, execPrice, slip float64, impact string) (*risk.ExecResult, error) {
	op := "liquidate"
	symbol := req.Instrument.Symbol

	pos, err := s.ledger.FindPosition(ctx, portfolioID, symbol)
	if err != nil {
		return nil, fmt.Errorf("loading position for %s: %w", symbol, err)
	}
	if pos == nil {
		return &risk.ExecResult{Reason: "no open position to liquidate"}, nil
	}

	open, err := s.trades.FindOpenBySymbol(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("loading open trades for %s: %w", symbol, err)
	}

	var closed []*domain.Trade
	for _, t := range open {
		if t.Direction != domain.Buy {
			continue
		}
		pnl := t.UnrealizedPNL(execPrice)
		if pnl <= 0 {
			continue
		}
		t.Status = domain.StatusClosed
		t.ExitPrice = execPrice
		t.PNL = pnl
		t.ClosedAt = req.Now
		t.CloseReason = domain.CloseReasonLiquidation
		if err := s.ledger.CloseTrade(ctx, portfolioID, t); err != nil {
			return nil, fmt.Errorf("closing trade %d: %w", t.ID, err)
		}
		closed = append(closed, t)

		s.events.Emit(ctx, ports.NewEvent("executor", ports.EventInfo, "position liquidated", map[string]interface{}{
			"symbol": symbol, "tradeID": t.ID, "exitPrice": execPrice, "pnl": pnl,
		}))
	}

	if len(closed) == 0 {
		return &risk.ExecResult{Reason: "no profitable buy trades to close"}, nil
	}

	s.logger.Info(ctx, op+": liquidation complete", map[string]interface{}{
		"symbol": symbol, "closed": len(closed), "exitPrice": execPrice, "slippage": slip,
	})
	return &risk.ExecResult{Closed: closed, Action: "liquidate", Slippage: slip, Impact: impact}, nil
}

// timingScore rates the moment of execution. Market hours score best, the
// opening and closing half hours are penalized, and stale signals lose a bit.
func timingScore(now time.Time, anchor *domain.Signal) (float64, string) {
	score := 1.0
	reason := "normal market hours"

	hour, minute := now.Hour(), now.Minute()
	switch {
	case hour < 9 || hour > 16:
		score = 0.7
		reason = "outside market hours"
	case hour == 9 && minute < 30:
		score = 0.8
		reason = "opening volatility window"
	case hour == 16 && minute > 30:
		score = 0.9
		reason = "closing window"
	default:
		score = 1.1
	}

	age := anchor.Age(now)
	switch {
	case age < 2*time.Minute:
		score *= 1.1
	case age > 15*time.Minute:
		score *= 0.9
		if reason == "normal market hours" {
			reason = "stale signal"
		}
	}
	return score, reason
}

// estimateSlippage derives a slippage fraction from recent price volatility
// for the symbol, scaled up when the order dwarfs the recent average size.
func (s *Simulator) estimateSlippage(ctx context.Context, symbol string, amount float64, now time.Time) (float64, error) {
	recent, err := s.trades.FindRecentBySymbol(ctx, symbol, now.Add(-6*time.Hour))
	if err != nil {
		return 0, fmt.Errorf("loading recent trades for %s: %w", symbol, err)
	}
	if len(recent) < 2 {
		return defaultSlippage, nil
	}

	var prices []float64
	var sizeSum float64
	for _, t := range recent {
		prices = append(prices, t.EntryPrice)
		sizeSum = sizeSum + t.NotionalValue()
	}
	avgSize := sizeSum / float64(len(recent))

	// Mean absolute relative change between consecutive entry prices.
	var changeSum float64
	for i := 1; i < len(prices); i++ {
		if prices[i-1] != 0 {
			changeSum += math.Abs(prices[i]-prices[i-1]) / prices[i-1]
		}
	}
	vol := changeSum / float64(len(prices)-1)

	slip := math.Max(defaultSlippage, vol*0.5)
	if avgSize > 0 && amount > avgSize {
		slip *= amount / avgSize
	}
	return clampFloat(slip, defaultSlippage, maxSlippage), nil
}

// estimateImpact classifies the order against the average recent trade size.
func (s *Simulator) estimateImpact(ctx context.Context, symbol string, amount float64, now time.Time) (string, error) {
	recent, err := s.trades.FindRecentBySymbol(ctx, symbol, now.Add(-24*time.Hour))
	if err != nil {
		return "", fmt.Errorf("loading recent trades for %s: %w", symbol, err)
	}
	if len(recent) == 0 {
		return ImpactLow, nil
	}
	var sizeSum float64
	for _, t := range recent {
		sizeSum += t.NotionalValue()
	}
	avgSize := sizeSum / float64(len(recent))
	if avgSize <= 0 {
		return ImpactLow, nil
	}
	ratio := amount / avgSize
	switch {
	case ratio > 3:
		return ImpactHigh, nil
	case ratio > 1.5:
		return ImpactMedium, nil
	default:
		return ImpactLow, nil
	}
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

package risk

import (
	"context"
	"fmt"
	"time"

	"signalEngine/internal/domain"
	"signalEngine/internal/ports"
)

// ExecRequest is the fully sized, approved order handed to the executor.
type ExecRequest struct {
	Instrument domain.Instrument
	Direction  domain.Direction
	Size       Size
	Anchor     ActiveSignal
	SignalIDs  []int64
	Price      float64
	Config     Config
	Now        time.Time
}

// ExecResult reports what the executor did. Exactly one of Trade or Closed
// is populated on success; Reason is set when the order was refused.
type ExecResult struct {
	Trade    *domain.Trade
	Closed   []*domain.Trade
	Action   string
	Reason   string
	Slippage float64
	Impact   string
}

// Executor authorizes and carries out a sized order.
type Executor interface {
	Execute(ctx context.Context, req ExecRequest) (*ExecResult, error)
}

// Outcome is the result of one full decision cycle for a symbol.
type Outcome struct {
	Direction domain.Direction
	Approved  bool
	Executed  bool
	Reason    string
	Rule      string
	Regime    Regime
	SignalIDs []int64
	Trade     *domain.Trade
	Closed    []*domain.Trade
}

// Engine runs the decision pipeline for one symbol: filter signals, estimate
// conditions, resolve direction, approve, size, and hand off to the executor.
type Engine struct {
	cfg        Config
	filter     *SignalFilter
	conditions *ConditionEstimator
	resolver   *Resolver
	approval   *ApprovalEngine
	sizer      *Sizer
	executor   Executor

	signals       ports.SignalRepository
	portfolio     ports.PortfolioRepository
	portfolioName string

	logger ports.Logger
	events ports.EventSink
}

// EngineParams bundles the collaborators an Engine needs.
type EngineParams struct {
	Config        Config
	Filter        *SignalFilter
	Conditions    *ConditionEstimator
	Resolver      *Resolver
	Approval      *ApprovalEngine
	Sizer         *Sizer
	Executor      Executor
	Signals       ports.SignalRepository
	Portfolio     ports.PortfolioRepository
	PortfolioName string
	Logger        ports.Logger
	Events        ports.EventSink
}

func NewEngine(p EngineParams) (*Engine, error) {
	switch {
	case p.Filter == nil, p.Conditions == nil, p.Resolver == nil, p.Approval == nil, p.Sizer == nil:
		return nil, fmt.Errorf("%w: all pipeline stages are required", ports.ErrInvalidRequest)
	case p.Executor == nil:
		return nil, fmt.Errorf("%w: executor is required", ports.ErrInvalidRequest)
	case p.Signals == nil || p.Portfolio == nil:
		return nil, fmt.Errorf("%w: repositories are required", ports.ErrInvalidRequest)
	case p.Logger == nil || p.Events == nil:
		return nil, fmt.Errorf("%w: logger and event sink are required", ports.ErrInvalidRequest)
	case p.PortfolioName == "":
		return nil, fmt.Errorf("%w: portfolio name is required", ports.ErrInvalidRequest)
	}
	return &Engine{
		cfg:           p.Config,
		filter:        p.Filter,
		conditions:    p.Conditions,
		resolver:      p.Resolver,
		approval:      p.Approval,
		sizer:         p.Sizer,
		executor:      p.Executor,
		signals:       p.Signals,
		portfolio:     p.Portfolio,
		portfolioName: p.PortfolioName,
		logger:        p.Logger,
		events:        p.Events,
	}, nil
}

// EvaluateSymbol runs one decision cycle. It never returns an error for a
// routine rejection; those come back as an Outcome with a Reason.
func (e *Engine) EvaluateSymbol(ctx context.Context, inst domain.Instrument, price float64, now time.Time) (*Outcome, error) {
	op := "EvaluateSymbol"
	symbol := inst.Symbol

	cond := e.conditions.Estimate(ctx, now)
	cfg := cond.Overlay().Apply(e.cfg)

	pf, err := e.portfolio.GetPortfolio(ctx, e.portfolioName)
	if err != nil {
		return nil, fmt.Errorf("loading portfolio %q: %w", e.portfolioName, err)
	}
	if pf == nil {
		return nil, fmt.Errorf("%w: portfolio %q", ports.ErrNotFound, e.portfolioName)
	}
	capital := pf.CashBalance * cond.CapitalScale()
	if capital > pf.CashBalance {
		capital = pf.CashBalance
	}

	signals := e.filter.ActiveSignals(ctx, symbol, now)
	signals = e.filter.FilterByConditions(ctx, signals, cond)
	if len(signals) == 0 {
		return &Outcome{Reason: "no actionable signals"}, nil
	}

	res := e.resolver.Resolve(ctx, signals, cfg, now)
	if res.Direction == "" {
		return &Outcome{Reason: res.Reason, Regime: res.Regime}, nil
	}

	approval := e.approval.Evaluate(ctx, res.Signals, res.Direction, cfg)
	if !approval.Approved {
		return &Outcome{Direction: res.Direction, Reason: approval.Reason, Regime: res.Regime}, nil
	}

	ids := make([]int64, 0, len(res.Signals))
	for _, s := range res.Signals {
		ids = append(ids, s.ID)
	}

	outcome := &Outcome{
		Direction: res.Direction,
		Approved:  true,
		Rule:      approval.Rule,
		Regime:    res.Regime,
		SignalIDs: ids,
	}

	// Liquidations need no new position size; the executor closes what is
	// already open.
	var size Size
	if res.Direction == domain.Buy {
		var ok bool
		var reason string
		size, ok, reason, err = e.sizer.Size(ctx, SizeRequest{
			Instrument: inst,
			Price:      price,
			Capital:    capital,
			Confidence: approval.Anchor.Confidence,
			Now:        now,
		}, cfg)
		if err != nil {
			return nil, fmt.Errorf("sizing %s trade: %w", symbol, err)
		}
		if !ok {
			outcome.Reason = reason
			e.events.Emit(ctx, ports.NewEvent("engine", ports.EventInfo, "trade not sized", map[string]interface{}{
				"symbol": symbol, "direction": string(res.Direction), "reason": reason,
			}))
			return outcome, nil
		}
	}

	result, err := e.executor.Execute(ctx, ExecRequest{
		Instrument: inst,
		Direction:  res.Direction,
		Size:       size,
		Anchor:     approval.Anchor,
		SignalIDs:  ids,
		Price:      price,
		Config:     cfg,
		Now:        now,
	})
	if err != nil {
		return nil, fmt.Errorf("executing %s %s: %w", string(res.Direction), symbol, err)
	}

	outcome.Reason = result.Reason
	outcome.Trade = result.Trade
	outcome.Closed = result.Closed
	outcome.Executed = result.Trade != nil || len(result.Closed) > 0

	if outcome.Executed {
		if err := e.signals.MarkExecuted(ctx, ids); err != nil {
			e.logger.Warn(ctx, op+": failed to mark signals executed", map[string]interface{}{"signalIDs": ids, "error": err.Error()})
		}
	}

	e.logger.Info(ctx, op+": decision cycle complete", map[string]interface{}{
		"symbol": symbol, "direction": string(res.Direction), "approved": true,
		"rule": approval.Rule, "executed": outcome.Executed, "reason": outcome.Reason,
	})
	return outcome, nil
}

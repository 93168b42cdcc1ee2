package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"signalEngine/internal/domain"
	"signalEngine/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements ports.SignalRepository, ports.TradeRepository and
// ports.PortfolioRepository on SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository opens the database, verifies the connection and ensures the
// schema exists.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/signal_engine.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// WAL mode lets the monitor's readers proceed while a settlement commits.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	cfg.Logger.Info(context.Background(), "SQLite database ready", map[string]interface{}{"path": dbPath})
	return repo, nil
}

func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS signals (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		direction TEXT NOT NULL,
		strategy_name TEXT NOT NULL,
		tier TEXT NOT NULL,
		strategy_score REAL NOT NULL DEFAULT 0,
		validity_minutes INTEGER NOT NULL DEFAULT 15,
		confidence INTEGER NOT NULL,
		timeframe TEXT NOT NULL DEFAULT '',
		received_at TIMESTAMP NOT NULL,
		executed INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ref TEXT NOT NULL,
		symbol TEXT NOT NULL,
		asset_class TEXT NOT NULL DEFAULT 'crypto',
		direction TEXT NOT NULL,
		entry_price REAL NOT NULL,
		quantity REAL NOT NULL DEFAULT 0,
		notional REAL NOT NULL DEFAULT 0,
		stop_loss REAL NOT NULL DEFAULT 0,
		take_profit REAL NOT NULL DEFAULT 0,
		trailing_stop REAL NOT NULL DEFAULT 0,
		trailing_level REAL NOT NULL DEFAULT 0,
		highest_price REAL NOT NULL DEFAULT 0,
		confidence INTEGER NOT NULL DEFAULT 0,
		strategy TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		executed_at TIMESTAMP NOT NULL,
		closed_at TIMESTAMP DEFAULT NULL,
		exit_price REAL DEFAULT NULL,
		pnl REAL NOT NULL DEFAULT 0,
		max_drawdown REAL NOT NULL DEFAULT 0,
		min_price REAL NOT NULL DEFAULT 0,
		max_price REAL NOT NULL DEFAULT 0,
		close_reason TEXT DEFAULT NULL,
		slippage REAL NOT NULL DEFAULT 0,
		market_impact TEXT NOT NULL DEFAULT '',
		exec_quality REAL NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS trade_signals (
		trade_id INTEGER NOT NULL,
		signal_id INTEGER NOT NULL,
		PRIMARY KEY (trade_id, signal_id)
	);

	CREATE TABLE IF NOT EXISTS portfolios (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		cash_balance REAL NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS positions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		portfolio_id INTEGER NOT NULL,
		symbol TEXT NOT NULL,
		quantity REAL NOT NULL,
		avg_price REAL NOT NULL,
		last_buy TIMESTAMP NOT NULL,
		UNIQUE (portfolio_id, symbol)
	);

	CREATE INDEX IF NOT EXISTS idx_signals_symbol_received ON signals (symbol, received_at);
	CREATE INDEX IF NOT EXISTS idx_trades_symbol_status ON trades (symbol, status);
	CREATE INDEX IF NOT EXISTS idx_trades_status_executed_at ON trades (status, executed_at);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// --- SignalRepository Implementation ---

const signalColumns = `id, symbol, direction, strategy_name, tier, strategy_score, validity_minutes, confidence, timeframe, received_at, executed`

// CreateSignal stores a signal and returns its assigned ID. The strategy
// pipeline is the normal writer; this also backs the replay tool and tests.
func (r *Repository) CreateSignal(ctx context.Context, s *domain.Signal) (int64, error) {
	const query = `
	INSERT INTO signals (symbol, direction, strategy_name, tier, strategy_score, validity_minutes, confidence, timeframe, received_at, executed)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	if s.Strategy == nil {
		return 0, fmt.Errorf("%w: signal requires a strategy", ports.ErrInvalidRequest)
	}
	result, err := r.db.ExecContext(ctx, query,
		s.Symbol, string(s.Direction), s.Strategy.Name, string(s.Strategy.Tier), s.Strategy.Score,
		s.Strategy.ValidityMinutes, s.Confidence, s.Timeframe, s.ReceivedAt, s.Executed)
	if err != nil {
		return 0, fmt.Errorf("failed to insert signal for symbol %s: %w", s.Symbol, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for signal %s: %w", s.Symbol, err)
	}
	s.ID = id
	return id, nil
}

// FindBySymbol retrieves all stored signals for a symbol, newest first.
func (r *Repository) FindBySymbol(ctx context.Context, symbol string) ([]*domain.Signal, error) {
	query := `SELECT ` + signalColumns + ` FROM signals WHERE symbol = ? ORDER BY received_at DESC`

	rows, err := r.db.QueryContext(ctx, query, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to query signals for symbol %s: %w", symbol, err)
	}
	defer rows.Close()

	signals := make([]*domain.Signal, 0)
	for rows.Next() {
		s, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan signal for symbol %s: %w", symbol, err)
		}
		signals = append(signals, s)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating signal rows: %w", err)
	}
	return signals, nil
}

// MarkExecuted flags the given signals as consumed by a trade.
func (r *Repository) MarkExecuted(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	query := `UPDATE signals SET executed = 1 WHERE id IN (` + placeholders + `)`

	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to mark signals executed: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected marking signals: %w", err)
	}
	if affected < int64(len(ids)) {
		r.logger.Warn(ctx, "Some signals were not found when marking executed", map[string]interface{}{"requested": len(ids), "updated": affected})
	}
	return nil
}

func scanSignal(scanner interface{ Scan(...interface{}) error }) (*domain.Signal, error) {
	var s domain.Signal
	var strat domain.StrategyRef
	var direction, tier string
	var executed int
	err := scanner.Scan(&s.ID, &s.Symbol, &direction, &strat.Name, &tier, &strat.Score,
		&strat.ValidityMinutes, &s.Confidence, &s.Timeframe, &s.ReceivedAt, &executed)
	if err != nil {
		return nil, err
	}
	s.Direction = domain.Direction(direction)
	strat.Tier = domain.PriorityTier(tier)
	s.Strategy = &strat
	s.Executed = executed != 0
	return &s, nil
}

// --- TradeRepository Implementation ---

const tradeColumns = `id, ref, symbol, asset_class, direction, entry_price, quantity, notional,
	stop_loss, take_profit, trailing_stop, trailing_level, highest_price,
	confidence, strategy, status, executed_at, closed_at, COALESCE(exit_price, 0),
	pnl, max_drawdown, min_price, max_price, COALESCE(close_reason, ''), slippage, market_impact, exec_quality`

// UpdateTrade persists price-driven mutations for an open trade.
func (r *Repository) UpdateTrade(ctx context.Context, trade *domain.Trade) error {
	const query = `
	UPDATE trades
	SET trailing_level = ?, highest_price = ?, pnl = ?, max_drawdown = ?, min_price = ?, max_price = ?
	WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		trade.TrailingLevel, trade.HighestPrice, trade.PNL, trade.MaxDrawdown,
		trade.MinPrice, trade.MaxPrice, trade.ID)
	if err != nil {
		return fmt.Errorf("failed to update trade ID %d: %w", trade.ID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for trade ID %d: %w", trade.ID, err)
	}
	if affected == 0 {
		return fmt.Errorf("trade ID %d not found for update: %w", trade.ID, ports.ErrNotFound)
	}
	return nil
}

// FindOpen retrieves all EXECUTED trades.
func (r *Repository) FindOpen(ctx context.Context) ([]*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE status = ? ORDER BY executed_at ASC`
	return r.queryTrades(ctx, query, string(domain.StatusExecuted))
}

// FindOpenBySymbol retrieves EXECUTED trades for a symbol, oldest first.
func (r *Repository) FindOpenBySymbol(ctx context.Context, symbol string) ([]*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE symbol = ? AND status = ? ORDER BY executed_at ASC`
	return r.queryTrades(ctx, query, symbol, string(domain.StatusExecuted))
}

// HasOpen reports whether the symbol currently has an EXECUTED trade.
func (r *Repository) HasOpen(ctx context.Context, symbol string) (bool, error) {
	const query = `SELECT COUNT(*) FROM trades WHERE symbol = ? AND status = ?`
	var count int
	if err := r.db.QueryRowContext(ctx, query, symbol, string(domain.StatusExecuted)).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to count open trades for symbol %s: %w", symbol, err)
	}
	return count > 0, nil
}

// CountOpen returns the number of EXECUTED trades across all symbols.
func (r *Repository) CountOpen(ctx context.Context) (int, error) {
	const query = `SELECT COUNT(*) FROM trades WHERE status = ?`
	var count int
	if err := r.db.QueryRowContext(ctx, query, string(domain.StatusExecuted)).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count open trades: %w", err)
	}
	return count, nil
}

// CountToday counts trades executed since local midnight.
func (r *Repository) CountToday(ctx context.Context) (int, error) {
	const query = `SELECT COUNT(*) FROM trades WHERE executed_at >= ?`
	var count int
	if err := r.db.QueryRowContext(ctx, query, startOfToday()).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count today's trades: %w", err)
	}
	return count, nil
}

// CountTodayBySymbol counts trades executed since local midnight for a symbol.
func (r *Repository) CountTodayBySymbol(ctx context.Context, symbol string) (int, error) {
	const query = `SELECT COUNT(*) FROM trades WHERE symbol = ? AND executed_at >= ?`
	var count int
	if err := r.db.QueryRowContext(ctx, query, symbol, startOfToday()).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count today's trades for symbol %s: %w", symbol, err)
	}
	return count, nil
}

// FindClosedSince retrieves CLOSED trades executed at or after since.
func (r *Repository) FindClosedSince(ctx context.Context, since time.Time) ([]*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE status = ? AND executed_at >= ? ORDER BY executed_at ASC`
	return r.queryTrades(ctx, query, string(domain.StatusClosed), since)
}

// FindRecentBySymbol retrieves EXECUTED and CLOSED trades for a symbol
// executed at or after since, oldest first.
func (r *Repository) FindRecentBySymbol(ctx context.Context, symbol string, since time.Time) ([]*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE symbol = ? AND status IN (?, ?) AND executed_at >= ? ORDER BY executed_at ASC`
	return r.queryTrades(ctx, query, symbol, string(domain.StatusExecuted), string(domain.StatusClosed), since)
}

func (r *Repository) queryTrades(ctx context.Context, query string, args ...interface{}) ([]*domain.Trade, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade rows: %w", err)
	}
	return trades, nil
}

func scanTrade(scanner interface{ Scan(...interface{}) error }) (*domain.Trade, error) {
	var t domain.Trade
	var assetClass, direction, status, closeReason string
	var closedAt sql.NullTime
	err := scanner.Scan(&t.ID, &t.Ref, &t.Symbol, &assetClass, &direction, &t.EntryPrice, &t.Quantity, &t.Notional,
		&t.StopLoss, &t.TakeProfit, &t.TrailingStop, &t.TrailingLevel, &t.HighestPrice,
		&t.Confidence, &t.Strategy, &status, &t.ExecutedAt, &closedAt, &t.ExitPrice,
		&t.PNL, &t.MaxDrawdown, &t.MinPrice, &t.MaxPrice, &closeReason, &t.Slippage, &t.MarketImpact, &t.ExecQuality)
	if err != nil {
		return nil, err
	}
	t.AssetClass = domain.AssetClass(assetClass)
	t.Direction = domain.Direction(direction)
	t.Status = domain.TradeStatus(status)
	t.CloseReason = domain.CloseReason(closeReason)
	if closedAt.Valid {
		t.ClosedAt = closedAt.Time
	}
	return &t, nil
}

func startOfToday() time.Time {
	now := time.Now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}

// --- PortfolioRepository Implementation ---

// CreatePortfolio inserts a portfolio if one with the name does not exist and
// returns it either way. Intended for startup wiring.
func (r *Repository) CreatePortfolio(ctx context.Context, name string, initialBalance float64) (*domain.Portfolio, error) {
	existing, err := r.GetPortfolio(ctx, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	const query = `INSERT INTO portfolios (name, cash_balance, created_at) VALUES (?, ?, ?)`
	createdAt := time.Now().UTC()
	result, err := r.db.ExecContext(ctx, query, name, initialBalance, createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert portfolio %s: %w", name, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert ID for portfolio %s: %w", name, err)
	}
	r.logger.Info(ctx, "Portfolio created", map[string]interface{}{"portfolioID": id, "name": name, "balance": initialBalance})
	return &domain.Portfolio{ID: id, Name: name, CashBalance: initialBalance, CreatedAt: createdAt}, nil
}

// GetPortfolio retrieves a portfolio by name. Returns nil, nil if absent.
func (r *Repository) GetPortfolio(ctx context.Context, name string) (*domain.Portfolio, error) {
	const query = `SELECT id, name, cash_balance, created_at FROM portfolios WHERE name = ?`

	var p domain.Portfolio
	err := r.db.QueryRowContext(ctx, query, name).Scan(&p.ID, &p.Name, &p.CashBalance, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query portfolio %s: %w", name, err)
	}
	return &p, nil
}

// FindPosition retrieves the portfolio's position for a symbol.
// Returns nil, nil if no position is held.
func (r *Repository) FindPosition(ctx context.Context, portfolioID int64, symbol string) (*domain.Position, error) {
	const query = `
	SELECT id, portfolio_id, symbol, quantity, avg_price, last_buy
	FROM positions WHERE portfolio_id = ? AND symbol = ?`

	var p domain.Position
	err := r.db.QueryRowContext(ctx, query, portfolioID, symbol).Scan(&p.ID, &p.Portfolio, &p.Symbol, &p.Quantity, &p.AvgPrice, &p.LastBuy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query position %s for portfolio %d: %w", symbol, portfolioID, err)
	}
	return &p, nil
}

// FindPositions retrieves all positions held by the portfolio.
func (r *Repository) FindPositions(ctx context.Context, portfolioID int64) ([]*domain.Position, error) {
	const query = `
	SELECT id, portfolio_id, symbol, quantity, avg_price, last_buy
	FROM positions WHERE portfolio_id = ? ORDER BY symbol ASC`

	rows, err := r.db.QueryContext(ctx, query, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions for portfolio %d: %w", portfolioID, err)
	}
	defer rows.Close()

	positions := make([]*domain.Position, 0)
	for rows.Next() {
		var p domain.Position
		if err := rows.Scan(&p.ID, &p.Portfolio, &p.Symbol, &p.Quantity, &p.AvgPrice, &p.LastBuy); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, &p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating position rows: %w", err)
	}
	return positions, nil
}

// OpenTrade executes a buy atomically: the cash debit, the position upsert
// and the trade insert commit together or not at all.
func (r *Repository) OpenTrade(ctx context.Context, portfolioID int64, trade *domain.Trade) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin open-trade transaction: %w", err)
	}
	defer tx.Rollback()

	var balance float64
	err = tx.QueryRowContext(ctx, `SELECT cash_balance FROM portfolios WHERE id = ?`, portfolioID).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("portfolio %d: %w", portfolioID, ports.ErrNotFound)
		}
		return fmt.Errorf("failed to read balance for portfolio %d: %w", portfolioID, err)
	}

	amount := trade.NotionalValue()
	if balance < amount {
		return fmt.Errorf("portfolio %d has %.2f, trade needs %.2f: %w", portfolioID, balance, amount, ports.ErrInsufficientFunds)
	}

	// One open trade per symbol, enforced inside the transaction so two
	// concurrent buys cannot both slip through.
	var openCount int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM trades WHERE symbol = ? AND status = ?`, trade.Symbol, string(domain.StatusExecuted)).Scan(&openCount)
	if err != nil {
		return fmt.Errorf("failed to check open trades for symbol %s: %w", trade.Symbol, err)
	}
	if openCount > 0 {
		return fmt.Errorf("symbol %s already has an open trade: %w", trade.Symbol, ports.ErrTradeConflict)
	}

	if _, err = tx.ExecContext(ctx, `UPDATE portfolios SET cash_balance = cash_balance - ? WHERE id = ?`, amount, portfolioID); err != nil {
		return fmt.Errorf("failed to debit portfolio %d: %w", portfolioID, err)
	}

	qty := trade.UnitQuantity()
	var pos domain.Position
	err = tx.QueryRowContext(ctx, `SELECT id, quantity, avg_price FROM positions WHERE portfolio_id = ? AND symbol = ?`, portfolioID, trade.Symbol).
		Scan(&pos.ID, &pos.Quantity, &pos.AvgPrice)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, `INSERT INTO positions (portfolio_id, symbol, quantity, avg_price, last_buy) VALUES (?, ?, ?, ?, ?)`,
			portfolioID, trade.Symbol, qty, trade.EntryPrice, trade.ExecutedAt)
		if err != nil {
			return fmt.Errorf("failed to insert position for symbol %s: %w", trade.Symbol, err)
		}
	case err != nil:
		return fmt.Errorf("failed to read position for symbol %s: %w", trade.Symbol, err)
	default:
		newQty := pos.Quantity + qty
		newAvg := (pos.AvgPrice*pos.Quantity + trade.EntryPrice*qty) / newQty
		_, err = tx.ExecContext(ctx, `UPDATE positions SET quantity = ?, avg_price = ?, last_buy = ? WHERE id = ?`,
			newQty, newAvg, trade.ExecutedAt, pos.ID)
		if err != nil {
			return fmt.Errorf("failed to update position for symbol %s: %w", trade.Symbol, err)
		}
	}

	const insertTrade = `
	INSERT INTO trades (ref, symbol, asset_class, direction, entry_price, quantity, notional,
		stop_loss, take_profit, trailing_stop, trailing_level, highest_price,
		confidence, strategy, status, executed_at, pnl, max_drawdown, min_price, max_price,
		slippage, market_impact, exec_quality)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := tx.ExecContext(ctx, insertTrade,
		trade.Ref, trade.Symbol, string(trade.AssetClass), string(trade.Direction), trade.EntryPrice, trade.Quantity, trade.Notional,
		trade.StopLoss, trade.TakeProfit, trade.TrailingStop, trade.TrailingLevel, trade.HighestPrice,
		trade.Confidence, trade.Strategy, string(trade.Status), trade.ExecutedAt, trade.PNL, trade.MaxDrawdown,
		trade.MinPrice, trade.MaxPrice, trade.Slippage, trade.MarketImpact, trade.ExecQuality)
	if err != nil {
		return fmt.Errorf("failed to insert trade for symbol %s: %w", trade.Symbol, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert ID for trade %s: %w", trade.Symbol, err)
	}

	for _, signalID := range trade.SignalIDs {
		if _, err = tx.ExecContext(ctx, `INSERT OR IGNORE INTO trade_signals (trade_id, signal_id) VALUES (?, ?)`, id, signalID); err != nil {
			return fmt.Errorf("failed to link trade %d to signal %d: %w", id, signalID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit open-trade transaction: %w", err)
	}
	trade.ID = id
	r.logger.Debug(ctx, "Trade opened", map[string]interface{}{"tradeID": id, "symbol": trade.Symbol, "amount": amount})
	return nil
}

// CloseTrade commits a close atomically: the trade's terminal fields, the
// position shrink and the cash credit go in one transaction.
func (r *Repository) CloseTrade(ctx context.Context, portfolioID int64, trade *domain.Trade) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin close-trade transaction: %w", err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM trades WHERE id = ?`, trade.ID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("trade %d: %w", trade.ID, ports.ErrNotFound)
		}
		return fmt.Errorf("failed to read status for trade %d: %w", trade.ID, err)
	}
	if domain.TradeStatus(status) != domain.StatusExecuted {
		return fmt.Errorf("trade %d has status %s: %w", trade.ID, status, ports.ErrTradeNotOpen)
	}

	const updateTrade = `
	UPDATE trades
	SET status = ?, exit_price = ?, pnl = ?, closed_at = ?, close_reason = ?,
	    trailing_level = ?, highest_price = ?, max_drawdown = ?, min_price = ?, max_price = ?
	WHERE id = ?`
	if _, err = tx.ExecContext(ctx, updateTrade,
		string(trade.Status), trade.ExitPrice, trade.PNL, trade.ClosedAt, string(trade.CloseReason),
		trade.TrailingLevel, trade.HighestPrice, trade.MaxDrawdown, trade.MinPrice, trade.MaxPrice,
		trade.ID); err != nil {
		return fmt.Errorf("failed to update trade %d: %w", trade.ID, err)
	}

	if trade.Direction == domain.Buy {
		qty := trade.UnitQuantity()

		var pos domain.Position
		err = tx.QueryRowContext(ctx, `SELECT id, quantity FROM positions WHERE portfolio_id = ? AND symbol = ?`, portfolioID, trade.Symbol).
			Scan(&pos.ID, &pos.Quantity)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			// The ledger disagrees with the trade log. Settle the cash side
			// and surface the inconsistency instead of failing the close.
			r.logger.Warn(ctx, "No position found while closing trade", map[string]interface{}{"tradeID": trade.ID, "symbol": trade.Symbol})
		case err != nil:
			return fmt.Errorf("failed to read position for symbol %s: %w", trade.Symbol, err)
		case pos.Quantity < qty:
			r.logger.Warn(ctx, "Position smaller than closing trade, leaving position unchanged", map[string]interface{}{
				"tradeID": trade.ID, "symbol": trade.Symbol, "positionQty": pos.Quantity, "tradeQty": qty,
			})
		case pos.Quantity-qty <= 1e-9:
			if _, err = tx.ExecContext(ctx, `DELETE FROM positions WHERE id = ?`, pos.ID); err != nil {
				return fmt.Errorf("failed to delete position for symbol %s: %w", trade.Symbol, err)
			}
		default:
			if _, err = tx.ExecContext(ctx, `UPDATE positions SET quantity = quantity - ? WHERE id = ?`, qty, pos.ID); err != nil {
				return fmt.Errorf("failed to shrink position for symbol %s: %w", trade.Symbol, err)
			}
		}

		proceeds := qty * trade.ExitPrice
		if _, err = tx.ExecContext(ctx, `UPDATE portfolios SET cash_balance = cash_balance + ? WHERE id = ?`, proceeds, portfolioID); err != nil {
			return fmt.Errorf("failed to credit portfolio %d: %w", portfolioID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit close-trade transaction: %w", err)
	}
	r.logger.Debug(ctx, "Trade closed", map[string]interface{}{"tradeID": trade.ID, "symbol": trade.Symbol, "pnl": trade.PNL, "reason": string(trade.CloseReason)})
	return nil
}

package database

import (
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"
)

// TradeRepository handles all persistence operations for signals, trades,
// heartbeats and error logs. Every method is a single-statement transaction:
// commit on success, rollback on error.
type TradeRepository struct {
	db *Database
}

// NewTradeRepository creates a repository over the given connection.
func NewTradeRepository(db *Database) *TradeRepository {
	return &TradeRepository{db: db}
}

// InitSchema creates or migrates the four scanner tables. The unique index
// on trades.signal_id enforces the one-trade-per-signal invariant.
func (r *TradeRepository) InitSchema() error {
	if err := r.db.db.AutoMigrate(&Signal{}, &Trade{}, &Heartbeat{}, &ErrorLog{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// CreateSignal persists a new signal and fills in its ID.
func (r *TradeRepository) CreateSignal(signal *Signal) error {
	if err := r.db.db.Create(signal).Error; err != nil {
		return fmt.Errorf("CreateSignal: %w", err)
	}
	return nil
}

// CreateTrade persists a new trade and fills in its ID. Fails if the signal
// already has a trade.
func (r *TradeRepository) CreateTrade(trade *Trade) error {
	if err := r.db.db.Create(trade).Error; err != nil {
		return fmt.Errorf("CreateTrade: %w", err)
	}
	return nil
}

// GetTradeByID fetches a single trade. Returns an error when not found.
func (r *TradeRepository) GetTradeByID(id int64) (*Trade, error) {
	var trade Trade
	if err := r.db.db.First(&trade, id).Error; err != nil {
		return nil, fmt.Errorf("GetTradeByID %d: %w", id, err)
	}
	return &trade, nil
}

// GetOpenTrades returns open trades, optionally filtered by symbol alias.
func (r *TradeRepository) GetOpenTrades(symbolAlias string) ([]Trade, error) {
	query := r.db.db.Where("state = ?", StateOpen)
	if symbolAlias != "" {
		query = query.Where("symbol_alias = ?", symbolAlias)
	}

	var trades []Trade
	if err := query.Order("open_time_utc ASC").Find(&trades).Error; err != nil {
		return nil, fmt.Errorf("GetOpenTrades: %w", err)
	}
	return trades, nil
}

// GetClosedTrades returns non-open trades filtered by alias and direction,
// ordered by close time descending, limited to limit rows (0 = no limit).
func (r *TradeRepository) GetClosedTrades(symbolAlias, direction string, limit int) ([]Trade, error) {
	query := r.db.db.Where("state <> ?", StateOpen)
	if symbolAlias != "" {
		query = query.Where("symbol_alias = ?", symbolAlias)
	}
	if direction != "" {
		query = query.Where("direction = ?", direction)
	}
	query = query.Order("close_time_utc DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var trades []Trade
	if err := query.Find(&trades).Error; err != nil {
		return nil, fmt.Errorf("GetClosedTrades: %w", err)
	}
	return trades, nil
}

// GetClosedTradeIDs returns the IDs of every non-open trade. Used to seed
// the state machine's closed set at startup.
func (r *TradeRepository) GetClosedTradeIDs() ([]int64, error) {
	var ids []int64
	err := r.db.db.Model(&Trade{}).
		Where("state <> ?", StateOpen).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("GetClosedTradeIDs: %w", err)
	}
	return ids, nil
}

// CountOpenTrades counts open trades, optionally for a single symbol.
func (r *TradeRepository) CountOpenTrades(symbolAlias string) (int64, error) {
	query := r.db.db.Model(&Trade{}).Where("state = ?", StateOpen)
	if symbolAlias != "" {
		query = query.Where("symbol_alias = ?", symbolAlias)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("CountOpenTrades: %w", err)
	}
	return count, nil
}

// GetSignalsSince returns signals generated at or after the cutoff, newest
// first. Used by the periodic email summary.
func (r *TradeRepository) GetSignalsSince(cutoff time.Time) ([]Signal, error) {
	var signals []Signal
	err := r.db.db.Where("time_generated_utc >= ?", cutoff).
		Order("time_generated_utc DESC").
		Find(&signals).Error
	if err != nil {
		return nil, fmt.Errorf("GetSignalsSince: %w", err)
	}
	return signals, nil
}

// GetTradesClosedSince returns trades closed at or after the cutoff, newest
// first.
func (r *TradeRepository) GetTradesClosedSince(cutoff time.Time) ([]Trade, error) {
	var trades []Trade
	err := r.db.db.Where("state <> ? AND close_time_utc >= ?", StateOpen, cutoff).
		Order("close_time_utc DESC").
		Find(&trades).Error
	if err != nil {
		return nil, fmt.Errorf("GetTradesClosedSince: %w", err)
	}
	return trades, nil
}

// UpdateTradeState closes a trade: state, close time, close price and close
// reason are written atomically. The WHERE clause requires the row to still
// be Open, so a trade leaves Open at most once even across processes.
// Returns the updated trade.
func (r *TradeRepository) UpdateTradeState(tradeID int64, newState TradeState, closeTimeUTC time.Time, closePrice float64, closeReason string) (*Trade, error) {
	result := r.db.db.Model(&Trade{}).
		Where("id = ? AND state = ?", tradeID, StateOpen).
		Updates(map[string]interface{}{
			"state":          newState,
			"close_time_utc": closeTimeUTC,
			"close_price":    closePrice,
			"close_reason":   closeReason,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("UpdateTradeState %d: %w", tradeID, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("UpdateTradeState %d: %w", tradeID, gorm.ErrRecordNotFound)
	}
	return r.GetTradeByID(tradeID)
}

// UpdateTradeSLTP updates stop loss and/or take profit on an open trade.
// Nil pointers leave the corresponding field untouched.
func (r *TradeRepository) UpdateTradeSLTP(tradeID int64, newSL, newTP *float64) (*Trade, error) {
	updates := map[string]interface{}{}
	if newSL != nil {
		updates["stop_loss"] = *newSL
	}
	if newTP != nil {
		updates["take_profit"] = *newTP
	}
	if len(updates) == 0 {
		return r.GetTradeByID(tradeID)
	}

	result := r.db.db.Model(&Trade{}).Where("id = ?", tradeID).Updates(updates)
	if result.Error != nil {
		return nil, fmt.Errorf("UpdateTradeSLTP %d: %w", tradeID, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("UpdateTradeSLTP %d: %w", tradeID, gorm.ErrRecordNotFound)
	}
	return r.GetTradeByID(tradeID)
}

// SaveHeartbeat appends a heartbeat record.
func (r *TradeRepository) SaveHeartbeat(hb *Heartbeat) error {
	if err := r.db.db.Create(hb).Error; err != nil {
		return fmt.Errorf("SaveHeartbeat: %w", err)
	}
	return nil
}

// SaveErrorLog appends an error log record.
func (r *TradeRepository) SaveErrorLog(entry *ErrorLog) error {
	if err := r.db.db.Create(entry).Error; err != nil {
		return fmt.Errorf("SaveErrorLog: %w", err)
	}
	return nil
}

// GetRecentErrors returns error logs from the past window, newest first,
// optionally filtered by symbol.
func (r *TradeRepository) GetRecentErrors(window time.Duration, symbolAlias string) ([]ErrorLog, error) {
	cutoff := time.Now().UTC().Add(-window)
	query := r.db.db.Where("timestamp_utc >= ?", cutoff)
	if symbolAlias != "" {
		query = query.Where("symbol_alias = ?", symbolAlias)
	}

	var logs []ErrorLog
	if err := query.Order("timestamp_utc DESC").Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("GetRecentErrors: %w", err)
	}
	return logs, nil
}

// MaeMfeStats summarises the adverse/favourable excursions of recent closed
// trades. Medians and means are nil when the corresponding partition is
// empty. The excursion is approximated from close prices because intrabar
// extremes are not stored.
type MaeMfeStats struct {
	MedianMAE *float64 `json:"median_mae"`
	MedianMFE *float64 `json:"median_mfe"`
	AvgMAE    *float64 `json:"avg_mae"`
	AvgMFE    *float64 `json:"avg_mfe"`
	Count     int      `json:"count"`
}

// GetMaeMfeStats aggregates up to the 100 most recent closed trades for the
// given (alias, direction) pair.
func (r *TradeRepository) GetMaeMfeStats(symbolAlias, direction string, limit int) (MaeMfeStats, error) {
	if limit <= 0 {
		limit = 100
	}
	trades, err := r.GetClosedTrades(symbolAlias, direction, limit)
	if err != nil {
		return MaeMfeStats{}, err
	}
	return ComputeMaeMfe(trades, direction), nil
}

// ComputeMaeMfe partitions per-trade close-price pnl into adverse (MAE) and
// favourable (MFE) excursions and returns median and mean of each.
func ComputeMaeMfe(trades []Trade, direction string) MaeMfeStats {
	var maes, mfes []float64

	for _, t := range trades {
		if t.ClosePrice == nil {
			continue
		}
		pnl := *t.ClosePrice - t.ActualEntry
		if direction == DirectionSell {
			pnl = t.ActualEntry - *t.ClosePrice
		}
		if pnl < 0 {
			maes = append(maes, -pnl)
		} else {
			mfes = append(mfes, pnl)
		}
	}

	return MaeMfeStats{
		MedianMAE: median(maes),
		MedianMFE: median(mfes),
		AvgMAE:    mean(maes),
		AvgMFE:    mean(mfes),
		Count:     len(trades),
	}
}

func median(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	var m float64
	if len(sorted)%2 == 1 {
		m = sorted[mid]
	} else {
		m = (sorted[mid-1] + sorted[mid]) / 2
	}
	return &m
}

func mean(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	m := sum / float64(len(values))
	return &m
}

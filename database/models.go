// Package database provides GORM models and repository operations for the
// market scanner: signals, trades, heartbeats and error logs on PostgreSQL.
package database

import "time"

// TradeState is the lifecycle state of a trade. Only transitions out of
// StateOpen are allowed; a closed trade never reopens.
type TradeState string

const (
	StateOpen         TradeState = "Open"
	StateClosedByTp   TradeState = "ClosedByTp"
	StateClosedBySl   TradeState = "ClosedBySl"
	StateClosedManual TradeState = "ClosedManual"
	StateExpired      TradeState = "Expired"
)

// IsClosed reports whether the state is any non-Open state.
func (s TradeState) IsClosed() bool {
	return s != StateOpen
}

// Trade directions.
const (
	DirectionBuy  = "buy"
	DirectionSell = "sell"
)

// Signal is a generated trading signal. Immutable after creation.
type Signal struct {
	ID               int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	SymbolAlias      string    `gorm:"size:32;index;not null" json:"symbol_alias"`
	VendorSymbol     string    `gorm:"size:32;not null" json:"vendor_symbol"`
	Direction        string    `gorm:"size:4;not null" json:"direction"` // buy, sell
	TimeGeneratedUTC time.Time `gorm:"index;not null" json:"time_generated_utc"`
	EntryPrice       float64   `gorm:"type:decimal(15,5);not null" json:"entry_price"`
	InitialSL        float64   `gorm:"type:decimal(15,5);not null" json:"initial_sl"`
	InitialTP        float64   `gorm:"type:decimal(15,5);not null" json:"initial_tp"`
	StrategyName     string    `gorm:"size:64;not null" json:"strategy_name"`
	Notes            string    `json:"notes,omitempty"`
	EstimatedRR      *float64  `gorm:"type:decimal(10,4)" json:"estimated_rr,omitempty"`
}

// TableName specifies the table name for Signal
func (Signal) TableName() string {
	return "signals"
}

// Trade is the lifecycle record spawned from a signal. Each signal has at
// most one trade (unique index on signal_id). CloseTimeUTC, ClosePrice and
// CloseReason are set exactly when State != Open.
type Trade struct {
	ID           int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	SignalID     int64      `gorm:"uniqueIndex;not null" json:"signal_id"`
	SymbolAlias  string     `gorm:"size:32;index;not null" json:"symbol_alias"`
	VendorSymbol string     `gorm:"size:32;not null" json:"vendor_symbol"`
	Direction    string     `gorm:"size:4;not null" json:"direction"`
	PlannedEntry float64    `gorm:"type:decimal(15,5);not null" json:"planned_entry"`
	ActualEntry  float64    `gorm:"type:decimal(15,5);not null" json:"actual_entry"`
	StopLoss     float64    `gorm:"type:decimal(15,5);not null" json:"stop_loss"`
	TakeProfit   float64    `gorm:"type:decimal(15,5);not null" json:"take_profit"`
	State        TradeState `gorm:"size:16;index;not null;default:Open" json:"state"`
	OpenTimeUTC  time.Time  `gorm:"index;not null" json:"open_time_utc"`
	CloseTimeUTC *time.Time `gorm:"index" json:"close_time_utc,omitempty"`
	ClosePrice   *float64   `gorm:"type:decimal(15,5)" json:"close_price,omitempty"`
	CloseReason  *string    `json:"close_reason,omitempty"`
}

// TableName specifies the table name for Trade
func (Trade) TableName() string {
	return "trades"
}

// Heartbeat is an append-only per-symbol liveness record.
type Heartbeat struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	SymbolAlias    string    `gorm:"size:32;index;not null" json:"symbol_alias"`
	TimestampUTC   time.Time `gorm:"index;not null" json:"timestamp_utc"`
	OpenTradeCount int       `gorm:"not null" json:"open_trade_count"`
	LastError      string    `json:"last_error,omitempty"`
}

// TableName specifies the table name for Heartbeat
func (Heartbeat) TableName() string {
	return "heartbeats"
}

// ErrorLog is an append-only audit record of runtime and data errors.
type ErrorLog struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	TimestampUTC  time.Time `gorm:"index;not null" json:"timestamp_utc"`
	Component     string    `gorm:"size:64;not null" json:"component"`
	Severity      string    `gorm:"size:16;not null" json:"severity"` // CRITICAL, ERROR, WARNING
	Message       string    `gorm:"not null" json:"message"`
	ExceptionType string    `gorm:"size:64" json:"exception_type,omitempty"`
	SymbolAlias   string    `gorm:"size:32;index" json:"symbol_alias,omitempty"`
	StackTrace    string    `gorm:"type:text" json:"stack_trace,omitempty"`
}

// TableName specifies the table name for ErrorLog
func (ErrorLog) TableName() string {
	return "error_logs"
}

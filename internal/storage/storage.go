// Package storage persists canonicalized trade outcomes, observed fills and
// operator-facing error lines for later inspection. SQLite by default; a
// postgres DSN switches drivers.
package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/okxtrader/agent/internal/bus"
	"github.com/okxtrader/agent/internal/model"
)

type Store struct {
	db *gorm.DB
}

// OrderRecord is one canonicalized place outcome.
type OrderRecord struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	InstID    string `gorm:"index"`
	Side      string
	Price     decimal.Decimal `gorm:"type:decimal(20,8)"`
	Size      decimal.Decimal `gorm:"type:decimal(20,8)"`
	OrderID   string          `gorm:"index"`
	PosSide   string
	Operator  string
	Success   bool
	Message   string
	CreatedAt time.Time
}

// CancelRecord is one canonicalized cancel outcome.
type CancelRecord struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	InstID    string `gorm:"index"`
	OrderID   string `gorm:"index"`
	Operator  string
	Success   bool
	Message   string
	CreatedAt time.Time
}

// FillRecord is one execution event observed on a private channel.
type FillRecord struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	InstID      string `gorm:"index"`
	Side        string
	Price       decimal.Decimal `gorm:"type:decimal(20,8)"`
	Size        decimal.Decimal `gorm:"type:decimal(20,8)"`
	OrderID     string          `gorm:"index"`
	TradeID     string          `gorm:"uniqueIndex"`
	PosSide     string
	ExecType    string
	Fee         decimal.Decimal `gorm:"type:decimal(20,8)"`
	FeeCurrency string
	PNL         decimal.Decimal `gorm:"type:decimal(20,8)"`
	Tag         string
	FillTime    time.Time
	CreatedAt   time.Time
}

// ErrorRecord is an operator-facing error line, including raw advisor
// output on decision-parse failures.
type ErrorRecord struct {
	ID        uint `gorm:"primaryKey;autoIncrement"`
	Message   string
	CreatedAt time.Time
}

// New opens the store at dbPath. A postgres:// or postgresql:// DSN selects
// the postgres driver; anything else is treated as a SQLite file path whose
// parent directory is created on demand.
func New(dbPath string) (*Store, error) {
	var db *gorm.DB
	var err error
	if strings.HasPrefix(dbPath, "postgres://") || strings.HasPrefix(dbPath, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dbPath), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Msg("trade ledger connected (PostgreSQL)")
	} else {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
		db, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", dbPath).Msg("trade ledger initialized (SQLite)")
	}
	if err := db.AutoMigrate(&OrderRecord{}, &CancelRecord{}, &FillRecord{}, &ErrorRecord{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// RecordTradeEvent persists whichever arm of the event is populated.
func (s *Store) RecordTradeEvent(evt model.TradeEvent) error {
	switch {
	case evt.Order != nil:
		return s.db.Create(&OrderRecord{
			InstID:   evt.Order.InstID,
			Side:     string(evt.Order.Side),
			Price:    decimal.NewFromFloat(evt.Order.Price),
			Size:     decimal.NewFromFloat(evt.Order.Size),
			OrderID:  evt.Order.OrderID,
			PosSide:  posSideStr(evt.Order.PosSide),
			Operator: evt.Order.Operator.Label(),
			Success:  evt.Order.Success,
			Message:  evt.Order.Message,
		}).Error
	case evt.Cancel != nil:
		return s.db.Create(&CancelRecord{
			InstID:   evt.Cancel.InstID,
			OrderID:  evt.Cancel.OrdID,
			Operator: evt.Cancel.Operator.Label(),
			Success:  evt.Cancel.Success,
			Message:  evt.Cancel.Message,
		}).Error
	case evt.Fill != nil:
		return s.RecordFill(*evt.Fill)
	default:
		return nil
	}
}

// RecordFill persists an execution event; duplicate trade ids are ignored
// since private channels can replay the same fill across reconnects.
func (s *Store) RecordFill(fill model.TradeFill) error {
	record := FillRecord{
		InstID:      fill.InstID,
		Side:        string(fill.Side),
		Price:       decimal.NewFromFloat(fill.Price),
		Size:        decimal.NewFromFloat(fill.Size),
		OrderID:     fill.OrderID,
		TradeID:     fill.TradeID,
		PosSide:     posSideStr(fill.PosSide),
		ExecType:    fill.ExecType,
		Fee:         decimal.NewFromFloat(fill.Fee),
		FeeCurrency: fill.FeeCurrency,
		PNL:         decimal.NewFromFloat(fill.PNL),
		Tag:         fill.Tag,
		FillTime:    time.UnixMilli(fill.FillTimeMs),
	}
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&record).Error
}

// AppendMessage implements the decision executor's error store.
func (s *Store) AppendMessage(message string) error {
	return s.db.Create(&ErrorRecord{Message: message}).Error
}

// RecentFills returns the newest fills up to limit, for reporting.
func (s *Store) RecentFills(limit int) ([]FillRecord, error) {
	var fills []FillRecord
	err := s.db.Order("fill_time desc").Limit(limit).Find(&fills).Error
	return fills, err
}

// Run subscribes the store to the command bus and persists trade results and
// error lines until ctx is cancelled.
func (s *Store) Run(ctx context.Context, sub *bus.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-sub.C():
			if !ok {
				return
			}
			switch cmd.Kind {
			case bus.KindTradeResult:
				if err := s.RecordTradeEvent(cmd.TradeResult); err != nil {
					log.Warn().Err(err).Msg("failed to persist trade event")
				}
			case bus.KindError:
				if err := s.AppendMessage(cmd.ErrorText); err != nil {
					log.Warn().Err(err).Msg("failed to persist error line")
				}
			case bus.KindExit:
				return
			}
		}
	}
}

func posSideStr(ps *model.PosSide) string {
	if ps == nil {
		return ""
	}
	return string(*ps)
}

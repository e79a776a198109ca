// internal/storage/postgres/postgres.go
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rovshanmuradov/solana-sentinel/internal/storage"
	"github.com/rovshanmuradov/solana-sentinel/internal/storage/models"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// gormLogger adapts zap to gorm's logger.Interface.
type gormLogger struct {
	zapLogger *zap.Logger
	logLevel  logger.LogLevel
}

func newGormLogger(zapLogger *zap.Logger) logger.Interface {
	return &gormLogger{
		zapLogger: zapLogger,
		logLevel:  logger.Warn,
	}
}

func (l *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	newLogger := *l
	newLogger.logLevel = level
	return &newLogger
}

func (l *gormLogger) Info(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Info {
		l.zapLogger.Sugar().Infof(msg, data...)
	}
}

func (l *gormLogger) Warn(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Warn {
		l.zapLogger.Sugar().Warnf(msg, data...)
	}
}

func (l *gormLogger) Error(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Error {
		l.zapLogger.Sugar().Errorf(msg, data...)
	}
}

func (l *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.logLevel <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()

	fields := []zap.Field{
		zap.Duration("elapsed", elapsed),
		zap.String("sql", sql),
		zap.Int64("rows", rows),
	}

	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		l.zapLogger.Error("trace", append(fields, zap.Error(err))...)
		return
	}

	if l.logLevel >= logger.Info {
		l.zapLogger.Info("trace", fields...)
	}
}

// postgresStorage implements storage.Storage on gorm/Postgres.
type postgresStorage struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewStorage(dsn string, zapLogger *zap.Logger) (storage.Storage, error) {
	gl := newGormLogger(zapLogger.Named("gorm"))

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gl,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		DisableForeignKeyConstraintWhenMigrating: true,
		SkipDefaultTransaction:                   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return &postgresStorage{
		db:     db,
		logger: zapLogger,
	}, nil
}

func (s *postgresStorage) LoadMonitor(ctx context.Context, positionID string) (*models.MonitorState, error) {
	var state models.MonitorState
	err := s.db.WithContext(ctx).Where("position_id = ?", positionID).First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load monitor state: %w", err)
	}
	return &state, nil
}

func (s *postgresStorage) UpsertMonitor(ctx context.Context, state *models.MonitorState) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "position_id"}},
		UpdateAll: true,
	}).Create(state).Error
	if err != nil {
		return fmt.Errorf("failed to upsert monitor state: %w", err)
	}
	return nil
}

func (s *postgresStorage) UpdateStatus(ctx context.Context, positionID string, status string) error {
	result := s.db.WithContext(ctx).Model(&models.MonitorState{}).
		Where("position_id = ?", positionID).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *postgresStorage) SaveTrade(ctx context.Context, trade *models.Trade) error {
	if err := s.db.WithContext(ctx).Create(trade).Error; err != nil {
		return fmt.Errorf("failed to save trade: %w", err)
	}
	return nil
}

func (s *postgresStorage) ListTrades(ctx context.Context, userID string, limit, offset int) ([]*models.Trade, error) {
	var trades []*models.Trade
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&trades).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}
	return trades, nil
}

func (s *postgresStorage) RunMigrations() error {
	s.logger.Info("Running database migrations")
	return s.db.AutoMigrate(
		&models.MonitorState{},
		&models.Trade{},
	)
}

func (s *postgresStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

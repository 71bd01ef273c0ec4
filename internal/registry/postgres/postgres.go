// Package postgres backs the swap registry, wallet storage, and recovery
// ledger with gorm on the postgres driver.
package postgres

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/solrelay/mixer/internal/apperrors"
	"github.com/solrelay/mixer/internal/registry/models"
)

// gormZapLogger adapts zap to gorm's logger.Interface.
type gormZapLogger struct {
	zapLogger *zap.Logger
	logLevel  gormlogger.LogLevel
}

func newGormLogger(zapLogger *zap.Logger) gormlogger.Interface {
	return &gormZapLogger{zapLogger: zapLogger, logLevel: gormlogger.Warn}
}

func (l *gormZapLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	newLogger := *l
	newLogger.logLevel = level
	return &newLogger
}

func (l *gormZapLogger) Info(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= gormlogger.Info {
		l.zapLogger.Sugar().Infof(msg, data...)
	}
}

func (l *gormZapLogger) Warn(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= gormlogger.Warn {
		l.zapLogger.Sugar().Warnf(msg, data...)
	}
}

func (l *gormZapLogger) Error(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= gormlogger.Error {
		l.zapLogger.Sugar().Errorf(msg, data...)
	}
}

func (l *gormZapLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.logLevel <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := []zap.Field{
		zap.Duration("elapsed", elapsed),
		zap.String("sql", sql),
		zap.Int64("rows", rows),
	}
	if err != nil {
		l.zapLogger.Error("gorm trace", append(fields, zap.Error(err))...)
		return
	}
	if l.logLevel >= gormlogger.Info {
		l.zapLogger.Info("gorm trace", fields...)
	}
}

// Open connects to Postgres and tunes the connection pool.
func Open(dsn string, zapLogger *zap.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: newGormLogger(zapLogger.Named("gorm")),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get database handle: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}

// swapRegistry implements registry.Registry.
type swapRegistry struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewRegistry returns a registry.Registry backed by db.
func NewRegistry(db *gorm.DB, zapLogger *zap.Logger) *swapRegistry {
	return &swapRegistry{db: db, logger: zapLogger.Named("registry")}
}

func (r *swapRegistry) RunMigrations() error {
	var lockObtained bool
	if err := r.db.Raw("SELECT pg_try_advisory_lock(?)", 9100).Scan(&lockObtained).Error; err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	if !lockObtained {
		return fmt.Errorf("another migration is in progress")
	}
	defer r.db.Exec("SELECT pg_advisory_unlock(?)", 9100)

	return r.db.AutoMigrate(
		&models.IntermediateWallet{},
		&models.Swap{},
		&models.SwapStep{},
		&models.MixingWindow{},
		&models.RecoveryRecord{},
		&models.DepositCounter{},
		&models.EncryptedMemo{},
	)
}

func (r *swapRegistry) CreateWallet(ctx context.Context, wallet *models.IntermediateWallet) error {
	if err := r.db.WithContext(ctx).Create(wallet).Error; err != nil {
		return apperrors.Wrap(apperrors.KindRPC, "create intermediate wallet", err)
	}
	return nil
}

func (r *swapRegistry) GetWallet(ctx context.Context, walletID string) (*models.IntermediateWallet, error) {
	var wallet models.IntermediateWallet
	err := r.db.WithContext(ctx).Where("wallet_id = ?", walletID).First(&wallet).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindNotFound, "wallet not found", err)
	}
	return &wallet, nil
}

func (r *swapRegistry) MarkWalletUsed(ctx context.Context, walletID string, usedAt time.Time) error {
	return r.db.WithContext(ctx).Model(&models.IntermediateWallet{}).
		Where("wallet_id = ? AND active = true", walletID).
		Updates(map[string]interface{}{
			"active":  false,
			"used_at": usedAt,
		}).Error
}

func (r *swapRegistry) CountActiveWallets(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.IntermediateWallet{}).
		Where("active = true").
		Count(&count).Error
	if err != nil {
		return 0, apperrors.Wrap(apperrors.KindRPC, "count active wallets", err)
	}
	return count, nil
}

func (r *swapRegistry) SetObservedBalance(ctx context.Context, walletID string, lamports uint64) error {
	return r.db.WithContext(ctx).Model(&models.IntermediateWallet{}).
		Where("wallet_id = ?", walletID).
		Update("observed_balance", lamports).Error
}

func (r *swapRegistry) CreateSwap(ctx context.Context, swap *models.Swap) error {
	if err := r.db.WithContext(ctx).Create(swap).Error; err != nil {
		return apperrors.Wrap(apperrors.KindRPC, "create swap", err)
	}
	return nil
}

func (r *swapRegistry) GetSwap(ctx context.Context, transactionID string) (*models.Swap, error) {
	var swap models.Swap
	err := r.db.WithContext(ctx).
		Preload("Steps", func(db *gorm.DB) *gorm.DB { return db.Order("swap_steps.step_index asc") }).
		Where("transaction_id = ?", transactionID).
		First(&swap).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindNotFound, "swap not found", err)
	}
	return &swap, nil
}

func (r *swapRegistry) ListPendingSwaps(ctx context.Context, limit int) ([]*models.Swap, error) {
	var swaps []*models.Swap
	err := r.db.WithContext(ctx).
		Where("status = ?", models.StatusPending).
		Order("created_at asc").
		Limit(limit).
		Find(&swaps).Error
	return swaps, err
}

func (r *swapRegistry) AppendStep(ctx context.Context, step *models.SwapStep) error {
	if err := r.db.WithContext(ctx).Create(step).Error; err != nil {
		return apperrors.Wrap(apperrors.KindRPC, "append swap step", err)
	}
	return nil
}

// TransitionStatus performs a conditional `WHERE status = from` update,
// surfacing apperrors.KindStatusConflict when the precondition does not
// hold; a lost race is never silently ignored.
func (r *swapRegistry) TransitionStatus(ctx context.Context, transactionID, from, to string) error {
	res := r.db.WithContext(ctx).Model(&models.Swap{}).
		Where("transaction_id = ? AND status = ?", transactionID, from).
		Update("status", to)
	if res.Error != nil {
		return apperrors.Wrap(apperrors.KindRPC, "transition status", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.New(apperrors.KindStatusConflict,
			fmt.Sprintf("swap %s: expected status %q before transition to %q", transactionID, from, to))
	}
	return nil
}

func (r *swapRegistry) SetError(ctx context.Context, transactionID, message string) error {
	return r.db.WithContext(ctx).Model(&models.Swap{}).
		Where("transaction_id = ?", transactionID).
		Updates(map[string]interface{}{
			"status":        models.StatusFailed,
			"error_message": message,
		}).Error
}

func (r *swapRegistry) SetFinalSig(ctx context.Context, transactionID, sig string, completedAt time.Time) error {
	return r.db.WithContext(ctx).Model(&models.Swap{}).
		Where("transaction_id = ?", transactionID).
		Updates(map[string]interface{}{
			"final_sig":    sig,
			"completed_at": completedAt,
		}).Error
}

// UpsertWindow creates or increments one MixingWindow bucket. It tolerates
// concurrent increments from multiple in-flight swaps; tx_count and
// total_amount are only eventually consistent with the window's true
// membership, and readers must tolerate mid-flight increments.
func (r *swapRegistry) UpsertWindow(ctx context.Context, windowID string, start, end time.Time, amountLamports uint64) (*models.MixingWindow, error) {
	var win models.MixingWindow
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("window_id = ?", windowID).First(&win).Error
		switch {
		case err == gorm.ErrRecordNotFound:
			win = models.MixingWindow{
				WindowID:    windowID,
				Start:       start,
				End:         end,
				TotalAmount: amountLamports,
				TxCount:     1,
			}
			return tx.Create(&win).Error
		case err != nil:
			return err
		default:
			if err := tx.Model(&models.MixingWindow{}).
				Where("window_id = ?", windowID).
				Updates(map[string]interface{}{
					"total_amount": gorm.Expr("total_amount + ?", amountLamports),
					"tx_count":     gorm.Expr("tx_count + 1"),
				}).Error; err != nil {
				return err
			}
			return tx.Where("window_id = ?", windowID).First(&win).Error
		}
	})
	if err != nil {
		return nil, err
	}
	return &win, nil
}

func (r *swapRegistry) StoreMemo(ctx context.Context, memo *models.EncryptedMemo) error {
	return r.db.WithContext(ctx).Create(memo).Error
}

func (r *swapRegistry) GetMemo(ctx context.Context, transactionID string) (*models.EncryptedMemo, error) {
	var memo models.EncryptedMemo
	err := r.db.WithContext(ctx).Where("transaction_id = ?", transactionID).First(&memo).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindNotFound, "memo not found", err)
	}
	return &memo, nil
}

// IncrementDepositCounter upserts the singleton "main" row with a single
// INSERT ... ON CONFLICT DO UPDATE, then re-reads the total. Using an upsert
// rather than read-modify-write means a failed insert never advances the
// counter, satisfying the strict-monotonicity property.
func (r *swapRegistry) IncrementDepositCounter(ctx context.Context) (uint64, error) {
	var counter models.DepositCounter
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Exec(
			`INSERT INTO deposit_counters (name, total_deposits, last_updated)
			 VALUES (?, 1, ?)
			 ON CONFLICT (name) DO UPDATE SET
			   total_deposits = deposit_counters.total_deposits + 1,
			   last_updated = EXCLUDED.last_updated`,
			models.MainCounterName, time.Now().UTC().UnixNano(),
		)
		if res.Error != nil {
			return res.Error
		}
		return tx.Where("name = ?", models.MainCounterName).First(&counter).Error
	})
	if err != nil {
		return 0, apperrors.Wrap(apperrors.KindRPC, "increment deposit counter", err)
	}
	return counter.TotalDeposits, nil
}

func (r *swapRegistry) CurrentDepositCount(ctx context.Context) (uint64, error) {
	var counter models.DepositCounter
	err := r.db.WithContext(ctx).Where("name = ?", models.MainCounterName).First(&counter).Error
	if err == gorm.ErrRecordNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, apperrors.Wrap(apperrors.KindRPC, "read deposit counter", err)
	}
	return counter.TotalDeposits, nil
}

// OpenRecoveryRecord is idempotent on conflict: a concurrent or retried
// "open" for the same transaction must not overwrite the original snapshot
// of the counter.
func (r *swapRegistry) OpenRecoveryRecord(ctx context.Context, transactionID string, depositCountAtCreate uint64, recoveryKeyHash string) error {
	res := r.db.WithContext(ctx).Exec(
		`INSERT INTO recovery_records (transaction_id, deposit_count_at_create, recovery_key_hash, available)
		 VALUES (?, ?, ?, false)
		 ON CONFLICT (transaction_id) DO NOTHING`,
		transactionID, depositCountAtCreate, recoveryKeyHash,
	)
	if res.Error != nil {
		return apperrors.Wrap(apperrors.KindRPC, "open recovery record", res.Error)
	}
	return nil
}

func (r *swapRegistry) GetRecoveryRecord(ctx context.Context, transactionID string) (*models.RecoveryRecord, error) {
	var rec models.RecoveryRecord
	err := r.db.WithContext(ctx).Where("transaction_id = ?", transactionID).First(&rec).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindNotFound, "recovery record not found", err)
	}
	return &rec, nil
}

// MarkRecoveryAvailable only ever flips false -> true, never the reverse,
// so reported availability never reverts.
func (r *swapRegistry) MarkRecoveryAvailable(ctx context.Context, transactionID string) error {
	return r.db.WithContext(ctx).Model(&models.RecoveryRecord{}).
		Where("transaction_id = ? AND available = false", transactionID).
		Update("available", true).Error
}

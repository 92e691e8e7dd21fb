package oplog

import (
	"context"
	"os"

	"github.com/MarkoPoloResearchLab/pointswallet/pkg/wallet"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileConfig enables rotated file output next to stdout.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// NewLogger returns a production JSON logger. When file.Path is set the same
// entries are also written to a size-rotated file.
func NewLogger(file FileConfig) (*zap.Logger, error) {
	if file.Path == "" {
		return zap.NewProduction()
	}
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderConfig)
	rotated := zapcore.AddSync(&lumberjack.Logger{
		Filename:   file.Path,
		MaxSize:    file.MaxSizeMB,
		MaxBackups: file.MaxBackups,
		MaxAge:     file.MaxAgeDays,
		Compress:   true,
	})
	core := zapcore.NewTee(
		zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), zap.InfoLevel),
		zapcore.NewCore(encoder, rotated, zap.InfoLevel),
	)
	return zap.New(core, zap.AddCaller()), nil
}

// Logger forwards wallet operation logs to zap.
type Logger struct {
	logger *zap.Logger
}

// New returns a Logger. A nil zap logger discards everything.
func New(logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{logger: logger.Named("wallet")}
}

// LogOperation writes one structured line per operation. Failures log at error level.
func (logger *Logger) LogOperation(_ context.Context, entry wallet.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
	}
	if entry.Actor != "" {
		fields = append(fields, zap.String("actor", entry.Actor))
	}
	if !entry.BusinessUnitID.IsZero() {
		fields = append(fields, zap.String("business_unit_id", entry.BusinessUnitID.String()))
	}
	if walletID := entry.WalletID.String(); walletID != "" {
		fields = append(fields, zap.String("wallet_id", walletID))
	}
	if entryID := entry.EntryID.String(); entryID != "" {
		fields = append(fields, zap.String("entry_id", entryID))
	}
	if entry.EntryType != "" {
		fields = append(fields, zap.String("entry_type", entry.EntryType.String()))
	}
	if entry.EntryStatus != "" {
		fields = append(fields, zap.String("entry_status", entry.EntryStatus.String()))
	}
	if !entry.Amount.IsZero() {
		fields = append(fields, zap.String("amount", entry.Amount.String()))
	}
	if entry.Error != nil {
		logger.logger.Error("wallet operation failed", append(fields, zap.Error(entry.Error))...)
		return
	}
	logger.logger.Info("wallet operation", fields...)
}

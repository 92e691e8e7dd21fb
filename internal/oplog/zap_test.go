package oplog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/MarkoPoloResearchLab/pointswallet/pkg/wallet"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogOperationWritesFields(test *testing.T) {
	test.Parallel()
	core, recorded := observer.New(zapcore.InfoLevel)
	logger := New(zap.New(core))
	businessUnitID, err := wallet.NewBusinessUnitID("bu-1")
	if err != nil {
		test.Fatalf("business unit: %v", err)
	}
	logger.LogOperation(context.Background(), wallet.OperationLog{
		Operation:      "record_movement",
		Actor:          "pos-1",
		BusinessUnitID: businessUnitID,
		EntryType:      wallet.EntryEarn,
		Amount:         decimal.NewFromInt(25),
		Status:         "ok",
	})
	logger.LogOperation(context.Background(), wallet.OperationLog{
		Operation: "unlock",
		Status:    "error",
		Error:     errors.New("boom"),
	})

	entries := recorded.All()
	if len(entries) != 2 {
		test.Fatalf("expected 2 entries, got %d", len(entries))
	}
	first := entries[0].ContextMap()
	if entries[0].Level != zapcore.InfoLevel || first["business_unit_id"] != "bu-1" || first["amount"] != "25" || first["entry_type"] != "earn" {
		test.Fatalf("unexpected info entry %+v", first)
	}
	if _, ok := first["wallet_id"]; ok {
		test.Fatalf("expected empty wallet id to be omitted")
	}
	if entries[1].Level != zapcore.ErrorLevel || entries[1].ContextMap()["error"] != "boom" {
		test.Fatalf("unexpected error entry %+v", entries[1].ContextMap())
	}
}

func TestNewLoggerWithFile(test *testing.T) {
	test.Parallel()
	logger, err := NewLogger(FileConfig{Path: filepath.Join(test.TempDir(), "walletd.log"), MaxSizeMB: 1})
	if err != nil {
		test.Fatalf("logger: %v", err)
	}
	logger.Info("hello")
	_ = logger.Sync()
}

func TestNilLoggerDiscards(test *testing.T) {
	test.Parallel()
	New(nil).LogOperation(context.Background(), wallet.OperationLog{Operation: "noop"})
}

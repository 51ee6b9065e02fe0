package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fatflowers/entitler/internal/models"
	cfgpkg "github.com/fatflowers/entitler/pkg/config"
	"github.com/fatflowers/entitler/pkg/types"
)

func TestNewDB_SQLiteMigratesAndEnforcesUniqueness(t *testing.T) {
	cfg := &cfgpkg.Config{Database: cfgpkg.DBConfig{Driver: "sqlite", DSN: "file::memory:"}}
	gdb, err := NewDB(zap.NewNop().Sugar(), cfg)
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, Migrate(gdb))

	tx := &models.Transaction{
		ID: "0190a0a0-0000-7000-8000-000000000001", UserID: "u1", ProviderID: types.PaymentProviderApple,
		TransactionID: "1000", PaymentItemID: "gold", ProductID: "gold", Type: types.TransactionTypeSubscription,
		Status: types.TransactionStatusSuccess,
	}
	require.NoError(t, gdb.Create(tx).Error)

	dup := *tx
	dup.ID = "0190a0a0-0000-7000-8000-000000000002"
	err = gdb.Create(&dup).Error
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))
}

func TestNewDB_RejectsUnknownDriver(t *testing.T) {
	cfg := &cfgpkg.Config{Database: cfgpkg.DBConfig{Driver: "oracle", DSN: "x"}}
	_, err := NewDB(zap.NewNop().Sugar(), cfg)
	require.Error(t, err)
}

func TestIsUniqueViolation(t *testing.T) {
	assert.False(t, IsUniqueViolation(nil))
	assert.False(t, IsUniqueViolation(errors.New("connection refused")))
	assert.True(t, IsUniqueViolation(fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey)))
	assert.True(t, IsUniqueViolation(errors.New(`ERROR: duplicate key value violates unique constraint "unique_provider_id_transaction_id" (SQLSTATE 23505)`)))
}

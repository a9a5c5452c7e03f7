package repo

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"meshreg/internal/models"
)

// newTestDB — отдельная именованная in-memory БД на каждый тест
// (безымянную sqlite выдаёт по одной на соединение пула).
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	d, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, d.AutoMigrate(
		&models.Node{},
		&models.NodeSecret{},
		&models.NodeState{},
		&models.Mail{},
	))
	return d
}

package setup

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	gormkv "movie-match/internal/infra/kv/gorm"
)

func TestDBConfig_DSN(t *testing.T) {
	dsn, err := DBConfig{User: "mm", Password: "pw"}.DSN()
	require.NoError(t, err)
	assert.Equal(t, "mm:pw@tcp(127.0.0.1:3306)/movie_match?charset=utf8mb4&parseTime=True&loc=UTC", dsn)

	_, err = DBConfig{Password: "pw"}.DSN()
	assert.Error(t, err)
	_, err = DBConfig{User: "mm"}.DSN()
	assert.Error(t, err)
}

func TestMigrateDB(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:migrate?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, MigrateDB(db))
	assert.True(t, db.Migrator().HasTable(&gormkv.ItemRow{}))
	assert.True(t, db.Migrator().HasTable(&gormkv.IndexRow{}))
	// 重复迁移是幂等的
	assert.NoError(t, MigrateDB(db))

	assert.Error(t, MigrateDB(nil))
}

func TestInitRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := InitRedis(mr.Addr(), "", 0)
	require.NoError(t, err)
	defer client.Close()

	_, err = InitRedis("", "", 0)
	assert.Error(t, err)
}

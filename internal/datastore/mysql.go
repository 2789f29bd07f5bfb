package datastore

import (
	"net"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/tphakala/gordon-go/internal/conf"
	"github.com/tphakala/gordon-go/internal/errors"
	"github.com/tphakala/gordon-go/internal/logger"
)

// MySQL server error numbers worth retrying.
const (
	mysqlLockWaitTimeout = 1205
	mysqlDeadlock        = 1213
)

// MySQLStore implements Interface on a MySQL server.
type MySQLStore struct {
	DataStore
	Settings conf.MySQLSettings
}

// DSN returns the driver connection string for the configured server.
func (store *MySQLStore) DSN() string {
	cfg := gomysql.NewConfig()
	cfg.User = store.Settings.Username
	cfg.Passwd = store.Settings.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(store.Settings.Host, store.Settings.Port)
	cfg.DBName = store.Settings.Database
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}

// Open connects to the server and migrates the schema.
func (store *MySQLStore) Open() error {
	if store.Settings.Host == "" || store.Settings.Database == "" {
		return errors.Newf("mysql host and database are required").
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if store.log == nil {
		store.log = GetLogger()
	}

	db, err := gorm.Open(mysql.Open(store.DSN()), store.gormConfig())
	if err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("db_type", "mysql").
			Context("host", store.Settings.Host).
			Context("database", store.Settings.Database).
			Build()
	}

	store.DB = db
	store.retryable = isMySQLRetryable
	store.log.Debug("mysql database opened",
		logger.String("host", store.Settings.Host),
		logger.String("database", store.Settings.Database))
	return store.migrate("mysql")
}

func isMySQLRetryable(err error) bool {
	var mysqlErr *gomysql.MySQLError
	if !errors.As(err, &mysqlErr) {
		return false
	}
	return mysqlErr.Number == mysqlLockWaitTimeout || mysqlErr.Number == mysqlDeadlock
}

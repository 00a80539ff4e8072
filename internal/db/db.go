package db

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Josh0007-sunday/chainproofserver/internal/models"
	"github.com/Josh0007-sunday/chainproofserver/utils"
)

// Options 数据库连接参数
type Options struct {
	Driver       string // mysql | postgres | sqlite
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	ConnMaxLife  time.Duration
	Retries      int
	Verbose      bool
}

func dialector(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case "mysql", "":
		return mysql.Open(dsn), nil
	case "postgres":
		return postgres.Open(dsn), nil
	case "sqlite":
		if dsn == "" {
			dsn = "file::memory:"
		}
		return sqlite.Open(dsn), nil
	}
	return nil, fmt.Errorf("unsupported database driver %q", driver)
}

// Open connects with exponential backoff, configures the pool and migrates the schema.
func Open(opts Options, log *utils.Logger) (*gorm.DB, error) {
	d, err := dialector(opts.Driver, opts.DSN)
	if err != nil {
		return nil, err
	}

	gormLogger := logger.Default.LogMode(logger.Silent)
	if opts.Verbose {
		gormLogger = logger.Default.LogMode(logger.Info)
	}

	retries := opts.Retries
	if retries <= 0 {
		retries = 1
	}
	var conn *gorm.DB
	backoff := time.Second
	for attempt := 1; attempt <= retries; attempt++ {
		conn, err = gorm.Open(d, &gorm.Config{Logger: gormLogger})
		if err == nil {
			break
		}
		log.Warn("数据库连接失败 (第 %d/%d 次): %v", attempt, retries, err)
		if attempt < retries {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", opts.Driver, err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	if opts.Driver == "sqlite" {
		// in-memory sqlite is per connection
		sqlDB.SetMaxOpenConns(1)
	} else {
		if opts.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
		}
		if opts.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
		}
		if opts.ConnMaxLife > 0 {
			sqlDB.SetConnMaxLifetime(opts.ConnMaxLife)
		}
	}

	if err := conn.AutoMigrate(&models.PaymentRecord{}); err != nil {
		return nil, fmt.Errorf("表迁移失败: %w", err)
	}
	log.Info("数据库初始化完成 (driver=%s, dsn=%s)", opts.Driver, redactDSN(opts.DSN))
	return conn, nil
}

// redactDSN hides the password of user:pass@ and password=... style DSNs.
func redactDSN(dsn string) string {
	if at := strings.LastIndex(dsn, "@"); at > 0 {
		start := 0
		if i := strings.Index(dsn[:at], "://"); i >= 0 {
			start = i + 3
		}
		if colon := strings.Index(dsn[start:at], ":"); colon >= 0 {
			return dsn[:start+colon+1] + "******" + dsn[at:]
		}
	}
	fields := strings.Fields(dsn)
	for i, f := range fields {
		if strings.HasPrefix(f, "password=") {
			fields[i] = "password=******"
		}
	}
	if len(fields) > 1 {
		return strings.Join(fields, " ")
	}
	return dsn
}

// internal/pkg/database/database.go
package database

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	_ "github.com/lib/pq" // postgres database/sql 驱动
)

const (
	DialectMySQL    = "mysql"
	DialectPostgres = "postgres"
)

// Options 描述一个关系型数据库连接
type Options struct {
	Driver       string
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	MaxOpenConns int
	MaxIdleConns int
	LogLevel     gormlogger.LogLevel
}

// MySQLDSN 使用驱动自带的 Config 拼装 DSN，避免手写转义
func MySQLDSN(o Options) string {
	cfg := mysql.NewConfig()
	cfg.User = o.User
	cfg.Passwd = o.Password
	cfg.Net = "tcp"
	cfg.Addr = o.Host + ":" + strconv.Itoa(o.Port)
	cfg.DBName = o.Name
	cfg.ParseTime = true
	// UPDATE 返回匹配行数而不是变更行数，按行号更新后判断是否需要插入依赖这一点
	cfg.ClientFoundRows = true
	cfg.Loc = time.UTC
	// 命名锁不建立读快照，必须用 READ COMMITTED，加锁之后的读取才能看到锁等待期间别人提交的数据
	cfg.Params = map[string]string{
		"charset":               "utf8mb4",
		"transaction_isolation": "'READ-COMMITTED'",
	}
	return cfg.FormatDSN()
}

// PostgresDSN 返回 lib/pq 的 key=value 形式连接串
func PostgresDSN(o Options) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable TimeZone=UTC",
		o.Host, o.Port, o.User, o.Password, o.Name)
}

// Open 按驱动类型打开 gorm 连接
func Open(o Options) (*gorm.DB, error) {
	gcfg := &gorm.Config{Logger: gormlogger.Default.LogMode(logLevel(o.LogLevel))}

	var (
		db  *gorm.DB
		err error
	)
	switch o.Driver {
	case DialectMySQL:
		db, err = gorm.Open(gormmysql.Open(MySQLDSN(o)), gcfg)
	case DialectPostgres:
		var sqlDB *sql.DB
		sqlDB, err = sql.Open("postgres", PostgresDSN(o))
		if err != nil {
			return nil, errors.Wrap(err, "open postgres")
		}
		db, err = gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), gcfg)
	default:
		return nil, errors.Errorf("unsupported database driver %q", o.Driver)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "open %s database", o.Driver)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "get sql.DB")
	}
	if o.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(o.MaxOpenConns)
	}
	if o.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(o.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)
	return db, nil
}

func logLevel(l gormlogger.LogLevel) gormlogger.LogLevel {
	if l == 0 {
		return gormlogger.Warn
	}
	return l
}

package database

import (
	"strings"
	"testing"

	"github.com/go-sql-driver/mysql"
)

func TestMySQLDSN(t *testing.T) {
	dsn := MySQLDSN(Options{Host: "db", Port: 3306, User: "wms", Password: "p@ss", Name: "wms"})
	if !strings.HasPrefix(dsn, "wms:p@ss@tcp(db:3306)/wms?") {
		t.Fatalf("unexpected dsn prefix: %s", dsn)
	}
	for _, want := range []string{"parseTime=true", "clientFoundRows=true", "charset=utf8mb4"} {
		if !strings.Contains(dsn, want) {
			t.Errorf("dsn %q missing %q", dsn, want)
		}
	}

	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		t.Fatalf("ParseDSN: %v", err)
	}
	if got := parsed.Params["transaction_isolation"]; got != "'READ-COMMITTED'" {
		t.Errorf("transaction_isolation = %q, want 'READ-COMMITTED'", got)
	}
}

func TestPostgresDSN(t *testing.T) {
	dsn := PostgresDSN(Options{Host: "pg", Port: 5432, User: "wms", Password: "x", Name: "wms"})
	for _, want := range []string{"host=pg", "port=5432", "dbname=wms", "sslmode=disable"} {
		if !strings.Contains(dsn, want) {
			t.Errorf("dsn %q missing %q", dsn, want)
		}
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(Options{Driver: "sqlite"}); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

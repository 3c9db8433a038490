package persistence

import (
	"strings"
	"testing"
	"time"

	"nexus-wms/internal/service/reservation/domain"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

func TestMySQLLockNameFitsLimit(t *testing.T) {
	long := domain.BusinessKey{Channel: "AMAZON", Shop: strings.Repeat("s", 64), Warehouse: 12, Ref: strings.Repeat("r", 128)}
	name := mysqlLockName(long.LockName())
	if len(name) > 64 {
		t.Fatalf("lock name %q is %d chars, limit is 64", name, len(name))
	}
	if name != mysqlLockName(long.LockName()) {
		t.Error("lock name must be deterministic")
	}
	other := long
	other.Ref = "other"
	if name == mysqlLockName(other.LockName()) {
		t.Error("different keys should map to different lock names")
	}
}

func TestLockSeconds(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want int
	}{
		{0, -1},
		{500 * time.Millisecond, 1},
		{5 * time.Second, 5},
		{5500 * time.Millisecond, 6},
	}
	for _, tc := range cases {
		if got := lockSeconds(tc.in); got != tc.want {
			t.Errorf("lockSeconds(%v) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestClassifyError(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		wantLock bool
	}{
		{"mysql lock wait", &mysql.MySQLError{Number: 1205, Message: "Lock wait timeout exceeded"}, true},
		{"mysql deadlock", errors.Wrap(&mysql.MySQLError{Number: 1213}, "update"), true},
		{"mysql user lock deadlock", &mysql.MySQLError{Number: 3058}, true},
		{"mysql duplicate", &mysql.MySQLError{Number: 1062}, false},
		{"pg lock not available", &pq.Error{Code: "55P03"}, true},
		{"pg deadlock", &pq.Error{Code: "40P01"}, true},
		{"pg unique violation", &pq.Error{Code: "23505"}, false},
		{"shortage", &domain.ShortageError{Item: 1}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classifyError(tc.err)
			if errors.Is(got, domain.ErrLockTimeout) != tc.wantLock {
				t.Errorf("classifyError(%v) = %v, lock timeout = %v", tc.err, got, !tc.wantLock)
			}
		})
	}
	if classifyError(nil) != nil {
		t.Error("nil must stay nil")
	}
}

func TestNewLocker(t *testing.T) {
	for _, d := range []string{"mysql", "postgres"} {
		l, err := NewLocker(d, time.Second)
		if err != nil {
			t.Fatalf("NewLocker(%s): %v", d, err)
		}
		if l.Dialect() != d {
			t.Errorf("Dialect() = %s, want %s", l.Dialect(), d)
		}
	}
	if _, err := NewLocker("sqlite", time.Second); err == nil {
		t.Error("expected error for unknown dialect")
	}
}

func TestMapperKeepsNullCorrelation(t *testing.T) {
	m := &ReservationModel{ID: 3, Channel: "PDD", Shop: "S1", Warehouse: 1, Ref: "R", Status: "open"}
	r := toDomainReservation(m)
	if r.CorrelationID != "" || r.Key.String() != "PDD:S1:1:R" || r.Status != domain.StatusOpen {
		t.Errorf("unexpected mapping: %+v", r)
	}
	if nullableString("") != nil {
		t.Error("empty correlation id should map to NULL")
	}
}

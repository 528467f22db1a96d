package postgresql

import (
	"strings"
	"testing"
	"time"
)

func TestDialect_Placeholder(t *testing.T) {
	d := NewDialect()
	tests := map[int]string{1: "$1", 2: "$2", 10: "$10"}
	for i, want := range tests {
		if got := d.GetPlaceholder(i); got != want {
			t.Errorf("GetPlaceholder(%d) = %q, want %q", i, got, want)
		}
	}
}

func TestDialect_Conversions(t *testing.T) {
	d := NewDialect()
	if d.ConvertBoolToStorage(true) != true {
		t.Error("bools should be stored natively")
	}
	ts := time.Date(2025, 1, 2, 3, 4, 5, 0, time.FixedZone("KST", 9*3600))
	stored, ok := d.ConvertTimeToStorage(ts).(time.Time)
	if !ok || stored.Location() != time.UTC || !stored.Equal(ts) {
		t.Errorf("ConvertTimeToStorage = %v", stored)
	}
	if back, err := d.ConvertTimeFromStorage(&ts); err != nil || !back.Equal(ts) {
		t.Errorf("from *time.Time = %v, %v", back, err)
	}
	if back, err := d.ConvertTimeFromStorage(nil); err != nil || !back.IsZero() {
		t.Errorf("from nil = %v, %v", back, err)
	}
	if _, err := d.ConvertTimeFromStorage("2025-01-01"); err == nil {
		t.Error("expected error for string")
	}
}

func TestDialect_EnsureStatements(t *testing.T) {
	stmts := NewDialect().GetEnsureStatements("p_topologies", "p_runs")
	if len(stmts) != 3 || !strings.Contains(stmts[0], "TIMESTAMPTZ") || !strings.Contains(stmts[1], "p_runs") {
		t.Errorf("unexpected statements: %v", stmts)
	}
	if NewDialect().GetDriverName() != "postgresql" {
		t.Error("driver name")
	}
}

func TestConfig_GetDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"explicit dsn wins", Config{DSN: "postgres://a@b/c", Host: "ignored"}, "postgres://a@b/c"},
		{"components", Config{Host: "db", User: "app", Password: "p@ss", DBName: "deploys"}, "postgres://app:p%40ss@db:5432/deploys?sslmode=disable"},
		{"custom port and ssl", Config{Host: "db", Port: 6543, User: "u", Password: "p", DBName: "d", SSLMode: "require"}, "postgres://u:p@db:6543/d?sslmode=require"},
		{"nothing", Config{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.GetDSN(); got != tt.want {
				t.Errorf("GetDSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

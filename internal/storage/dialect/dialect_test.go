package dialect

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		dialectType DialectType
		wantName    string
		wantErr     bool
	}{
		{"sqlite", SQLite, "sqlite", false},
		{"postgres", Postgres, "postgres", false},
		{"mysql", DialectType("mysql"), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := New(tt.dialectType)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if err == nil && d.Name() != tt.wantName {
				t.Errorf("Name() = %v, want %v", d.Name(), tt.wantName)
			}
		})
	}
}

func TestFromDriverName(t *testing.T) {
	tests := []struct {
		driverName string
		wantName   string
		wantErr    bool
	}{
		{"sqlite", "sqlite", false},
		{"sqlite3", "sqlite", false},
		{"postgres", "postgres", false},
		{"postgresql", "postgres", false},
		{"unknown", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.driverName, func(t *testing.T) {
			d, err := FromDriverName(tt.driverName)
			if (err != nil) != tt.wantErr {
				t.Errorf("FromDriverName() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if err == nil && d.Name() != tt.wantName {
				t.Errorf("Name() = %v, want %v", d.Name(), tt.wantName)
			}
		})
	}
}

func TestPostgresRebind(t *testing.T) {
	d := postgresDialect{}
	got := d.Rebind("SELECT * FROM interactions WHERE application = ? AND invoked_at >= ?")
	want := "SELECT * FROM interactions WHERE application = $1 AND invoked_at >= $2"
	if got != want {
		t.Errorf("Rebind() = %q, want %q", got, want)
	}
}

func TestPostgresErrorClassification(t *testing.T) {
	d := postgresDialect{}
	serialization := fmt.Errorf("commit: %w", &pq.Error{Code: "40001"})
	unique := &pq.Error{Code: "23505"}

	if !d.IsSerializationFailure(serialization) {
		t.Error("40001 should be a serialization failure")
	}
	if d.IsSerializationFailure(unique) {
		t.Error("23505 should not be a serialization failure")
	}
	if !d.IsUniqueViolation(unique) {
		t.Error("23505 should be a unique violation")
	}
	if d.IsUniqueViolation(errors.New("boom")) {
		t.Error("plain error should not be a unique violation")
	}
	if opts := d.TxOptions(); opts == nil || opts.Isolation != sql.LevelSerializable {
		t.Errorf("TxOptions() = %+v, want serializable", opts)
	}
}

func TestSQLiteSingleWriter(t *testing.T) {
	d := sqliteDialect{}
	if d.MaxOpenConns() != 1 {
		t.Errorf("MaxOpenConns() = %d, want 1", d.MaxOpenConns())
	}
	if d.IsSerializationFailure(errors.New("database is locked")) {
		t.Error("untyped error should not be classified")
	}
}

func TestTypes(t *testing.T) {
	for _, dt := range []DialectType{SQLite, Postgres} {
		d, err := New(dt)
		if err != nil {
			t.Fatal(err)
		}
		types := d.Types()
		if types.Serial == "" || types.Timestamp == "" || types.Float == "" || types.Text == "" {
			t.Errorf("%s: incomplete column types %+v", dt, types)
		}
	}
}

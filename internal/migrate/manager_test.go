package migrate

import (
	"context"
	"errors"
	"io/fs"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
)

func testSources() (fs.FS, fs.FS) {
	migrations := fstest.MapFS{
		"0001_users.up.sql":   {Data: []byte("create table a (id int);")},
		"0001_users.down.sql": {Data: []byte("drop table a;")},
		"0002_roles.up.sql":   {Data: []byte("create table b (id int); create table c (id int);")},
		"0002_roles.down.sql": {Data: []byte("drop table c; drop table b;")},
	}
	seeds := fstest.MapFS{
		"0001_demo.sql": {Data: []byte("insert into a values (1);")},
	}
	return migrations, seeds
}

func expectEnsureTables(mock sqlmock.Sqlmock) {
	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table if not exists schema_seeds").WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestUpAppliesPendingOnly(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mgr := NewManager(db, WithSources(testSources()))

	expectEnsureTables(mock)
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_users.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("create table b").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table c").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("insert into schema_migrations").
		WithArgs("0002_roles.up.sql", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := mgr.Up(context.Background()); err != nil {
		t.Fatalf("Up: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpRollsBackFailedMigration(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mgr := NewManager(db, WithSources(testSources()))

	expectEnsureTables(mock)
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}))
	mock.ExpectBegin()
	mock.ExpectExec("create table a").WillReturnError(errBoom)
	mock.ExpectRollback()

	err = mgr.Up(context.Background())
	if err == nil || !strings.Contains(err.Error(), "0001_users.up.sql") {
		t.Fatalf("expected error naming migration, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDownRevertsLatest(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mgr := NewManager(db, WithSources(testSources()))

	expectEnsureTables(mock)
	mock.ExpectQuery("select name from schema_migrations order by applied_at").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_users.up.sql").AddRow("0002_roles.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("drop table c").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("drop table b").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("delete from schema_migrations").
		WithArgs("0002_roles.up.sql").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := mgr.Down(context.Background()); err != nil {
		t.Fatalf("Down: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSeedSkipsApplied(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mgr := NewManager(db, WithSources(testSources()))

	expectEnsureTables(mock)
	mock.ExpectQuery("select name from schema_seeds").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_demo.sql"))

	if err := mgr.Seed(context.Background()); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestEmbeddedSchema(t *testing.T) {
	migrations, seeds := Embedded()
	ups, err := collectSQL(migrations, ".up.sql")
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(ups) != 2 || ups[0] != "0001_users.up.sql" {
		t.Fatalf("unexpected migrations: %v", ups)
	}
	for _, up := range ups {
		down := strings.TrimSuffix(up, ".up.sql") + ".down.sql"
		if _, err := fs.Stat(migrations, down); err != nil {
			t.Fatalf("missing %s: %v", down, err)
		}
	}
	body, err := fs.ReadFile(seeds, "0001_demo_users.sql")
	if err != nil {
		t.Fatalf("read seed: %v", err)
	}
	for _, user := range []string{"'system'", "'sample1'", "'sample2'"} {
		if !strings.Contains(string(body), user) {
			t.Fatalf("seed missing user %s", user)
		}
	}
}

func TestSplitStatementsRespectsQuotes(t *testing.T) {
	stmts := splitStatements("insert into t values ('a;b'); select 1;")
	if len(stmts) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(stmts), stmts)
	}
}

var errBoom = errors.New("boom")

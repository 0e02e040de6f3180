package authz

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestPGPrincipalStoreFind(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "username", "email", "department", "clearance_level", "organization", "name"}).
		AddRow(int64(42), "mira", "mira@org7.example", "engineering", int64(3), "org-7", "Editor")
	mock.ExpectQuery(regexp.QuoteMeta(principalQuery)).
		WithArgs(int64(42)).
		WillReturnRows(rows)

	store := NewPGPrincipalStore(db)
	p, err := store.Find(context.Background(), 42)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if p.Username != "mira" || p.Organization != "org-7" || p.Clearance != 3 {
		t.Fatalf("unexpected principal: %+v", p)
	}
	if len(p.Roles) != 1 || p.Roles[0] != "editor" {
		t.Fatalf("role not normalized: %v", p.Roles)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPGPrincipalStoreFindMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(principalQuery)).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "email", "department", "clearance_level", "organization", "name"}))

	_, err = NewPGPrincipalStore(db).Find(context.Background(), 7)
	if !errors.Is(err, ErrPrincipalNotFound) {
		t.Fatalf("expected ErrPrincipalNotFound, got %v", err)
	}
}

func TestPGPrincipalStoreFallbackProjection(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(principalQuery)).
		WithArgs(int64(42)).
		WillReturnError(errors.New(`pq: column u.clearance_level does not exist (SQLSTATE 42703)`))
	mock.ExpectQuery(regexp.QuoteMeta(principalFallbackQuery)).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "role"}).AddRow(int64(42), "['admin','user']"))

	p, err := NewPGPrincipalStore(db).Find(context.Background(), 42)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(p.Roles) != 2 || p.Roles[0] != "admin" || p.Roles[1] != "user" {
		t.Fatalf("list-shaped role string not normalized: %v", p.Roles)
	}
	if p.Organization != "" || p.Clearance != 0 {
		t.Fatalf("fallback projection should leave attributes empty: %+v", p)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPGPrincipalStoreOutage(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(principalQuery)).
		WithArgs(int64(42)).
		WillReturnError(errors.New("dial tcp: connection refused"))

	_, err = NewPGPrincipalStore(db).Find(context.Background(), 42)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestPGResourceStoreFind(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "uploaded_by", "organization", "department", "sensitivity"}).
		AddRow(int64(9), int64(42), "org-7", "engineering", int64(2))
	mock.ExpectQuery(regexp.QuoteMeta(resourceQuery)).
		WithArgs(int64(9)).
		WillReturnRows(rows)

	r, err := NewPGResourceStore(db).Find(context.Background(), 9)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if r == nil || r.OwnerID != 42 || r.Sensitivity != 2 {
		t.Fatalf("unexpected resource: %+v", r)
	}
}

func TestPGResourceStoreMissingRowIsNotAnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(resourceQuery)).
		WithArgs(int64(404)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "uploaded_by", "organization", "department", "sensitivity"}))

	r, err := NewPGResourceStore(db).Find(context.Background(), 404)
	if err != nil {
		t.Fatalf("missing resource must not error: %v", err)
	}
	if r != nil {
		t.Fatalf("expected nil resource, got %+v", r)
	}
}

package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
)

func TestRegisterDeviceTokenIgnoresDuplicates(t *testing.T) {
	db, mock := newMock(t)
	repo := &DeviceTokenRepository{DB: db, Dialect: MySQL}

	mock.ExpectExec(q(`INSERT INTO device_tokens`)).WithArgs("user-1", "tok", sqlmock.AnyArg()).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})

	if err := repo.Register(context.Background(), "user-1", "tok", time.Now()); err != nil {
		t.Fatalf("duplicate registration should succeed, got %v", err)
	}
}

func TestTokensForUser(t *testing.T) {
	db, mock := newMock(t)
	repo := &DeviceTokenRepository{DB: db, Dialect: Postgres}

	mock.ExpectQuery(q(`SELECT token FROM device_tokens WHERE user_id = $1`)).WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"token"}).AddRow("a").AddRow("b"))

	tokens, err := repo.TokensForUser(context.Background(), "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(tokens) != 2 || tokens[0] != "a" || tokens[1] != "b" {
		t.Fatalf("unexpected tokens %v", tokens)
	}
}

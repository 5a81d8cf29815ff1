package rooms

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func newMockedService(t *testing.T) (*Service, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{DisableAutomaticPing: true})
	if err != nil {
		t.Fatalf("failed to open gorm over sqlmock: %v", err)
	}
	service, err := NewService(ServiceConfig{Database: db, IDProvider: &staticIDGenerator{ids: []string{"snap-1"}}})
	if err != nil {
		t.Fatalf("failed to construct rooms service: %v", err)
	}
	return service, mock
}

func TestLoadRoomReportsDriverFailure(t *testing.T) {
	service, mock := newMockedService(t)
	driverErr := errors.New("connection reset")
	mock.ExpectQuery(`SELECT .* FROM "rooms"`).WillReturnError(driverErr)

	_, err := service.LoadRoom(context.Background(), mustRoomID(t, "r1"))
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) || serviceErr.Code() != "rooms.load_room.query_failed" {
		t.Fatalf("expected query_failed service error, got %v", err)
	}
	if !errors.Is(err, driverErr) {
		t.Fatalf("expected driver error to be wrapped, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestListSnapshotsReportsDriverFailure(t *testing.T) {
	service, mock := newMockedService(t)
	mock.ExpectQuery(`SELECT .* FROM "room_snapshots"`).WillReturnError(errors.New("timeout"))

	_, err := service.ListSnapshots(context.Background(), mustRoomID(t, "r1"), 0)
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) || serviceErr.Code() != "rooms.list_snapshots.query_failed" {
		t.Fatalf("expected query_failed service error, got %v", err)
	}
}

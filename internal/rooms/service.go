package rooms

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// ServiceError carries a stable code of the form "rooms.<operation>.<reason>".
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew      = "rooms.service.new"
	opCreateRoom      = "rooms.create_room"
	opLoadRoom        = "rooms.load_room"
	opSaveRoom        = "rooms.save_room"
	opCreateSnapshot  = "rooms.create_snapshot"
	opListSnapshots   = "rooms.list_snapshots"
	fieldRoomID       = "room_id"
	fieldAuthorID     = "author_id"
	queryRoomID       = fieldRoomID + " = ?"
	orderSnapshotDesc = "created_at_ms DESC, snapshot_id DESC"

	reasonMissingDatabase   = "missing_database"
	reasonInvalidRoomID     = "invalid_room_id"
	reasonInvalidSnapshot   = "invalid_snapshot"
	reasonRoomNotFound      = "room_not_found"
	reasonRoomExists        = "room_exists"
	reasonQueryFailed       = "query_failed"
	reasonInsertFailed      = "insert_failed"
	reasonUpdateFailed      = "update_failed"
	reasonIDGenerationError = "id_generation_failed"

	defaultSnapshotLimit = 20
	maxSnapshotLimit     = 100
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ServiceConfig wires the room service dependencies.
type ServiceConfig struct {
	Database             *gorm.DB
	Clock                func() time.Time
	IDProvider           IDProvider
	Logger               *zap.Logger
	DefaultSnapshotLimit int
	MaxSnapshotLimit     int
}

// IDProvider issues unique identifiers for rooms and snapshots.
type IDProvider interface {
	NewID() (string, error)
}

// Service is the document store: rooms hold the authoritative text and
// snapshots form an append-only history per room.
type Service struct {
	db                   *gorm.DB
	clock                func() time.Time
	idProvider           IDProvider
	logger               *zap.Logger
	defaultSnapshotLimit int
	maxSnapshotLimit     int
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, reasonMissingDatabase, errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	maxLimit := cfg.MaxSnapshotLimit
	if maxLimit <= 0 {
		maxLimit = maxSnapshotLimit
	}
	defaultLimit := cfg.DefaultSnapshotLimit
	if defaultLimit <= 0 {
		defaultLimit = defaultSnapshotLimit
	}
	if defaultLimit > maxLimit {
		defaultLimit = maxLimit
	}

	return &Service{
		db:                   cfg.Database,
		clock:                clock,
		idProvider:           cfg.IDProvider,
		logger:               logger,
		defaultSnapshotLimit: defaultLimit,
		maxSnapshotLimit:     maxLimit,
	}, nil
}

// CreateRoom persists a new room, filling defaults for empty draft fields.
func (s *Service) CreateRoom(ctx context.Context, draft RoomDraft) (Room, error) {
	if s.db == nil {
		s.logError(opCreateRoom, reasonMissingDatabase, errMissingDatabase)
		return Room{}, newServiceError(opCreateRoom, reasonMissingDatabase, errMissingDatabase)
	}

	rawID := draft.RoomID
	if strings.TrimSpace(rawID) == "" {
		generated, err := s.idProvider.NewID()
		if err != nil {
			s.logError(opCreateRoom, reasonIDGenerationError, err)
			return Room{}, newServiceError(opCreateRoom, reasonIDGenerationError, err)
		}
		rawID = generated
	}
	roomID, err := NewRoomID(rawID)
	if err != nil {
		return Room{}, newServiceError(opCreateRoom, reasonInvalidRoomID, err)
	}

	nowMillis := s.clock().UTC().UnixMilli()
	room := Room{
		RoomID:          roomID.String(),
		Name:            fallback(draft.Name, DefaultRoomName),
		Code:            draft.Code,
		Language:        NormalizeLanguageTag(draft.Language),
		CreatedAtMillis: nowMillis,
		UpdatedAtMillis: nowMillis,
	}
	if room.Code == "" {
		room.Code = DefaultCode
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Room
		err := tx.Where(queryRoomID, room.RoomID).Take(&existing).Error
		if err == nil {
			return newServiceError(opCreateRoom, reasonRoomExists, ErrRoomExists)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logError(opCreateRoom, reasonQueryFailed, err, zap.String(fieldRoomID, room.RoomID))
			return newServiceError(opCreateRoom, reasonQueryFailed, err)
		}
		if err := tx.Create(&room).Error; err != nil {
			s.logError(opCreateRoom, reasonInsertFailed, err, zap.String(fieldRoomID, room.RoomID))
			return newServiceError(opCreateRoom, reasonInsertFailed, err)
		}
		return nil
	})
	if txErr != nil {
		return Room{}, txErr
	}

	s.logger.Info("room created", zap.String(fieldRoomID, room.RoomID), zap.String("language", room.Language))
	return room, nil
}

// LoadRoom returns the current document of a room.
func (s *Service) LoadRoom(ctx context.Context, roomID RoomID) (Room, error) {
	if s.db == nil {
		s.logError(opLoadRoom, reasonMissingDatabase, errMissingDatabase)
		return Room{}, newServiceError(opLoadRoom, reasonMissingDatabase, errMissingDatabase)
	}

	var room Room
	err := s.db.WithContext(ctx).Where(queryRoomID, roomID.String()).Take(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Room{}, newServiceError(opLoadRoom, reasonRoomNotFound, ErrRoomNotFound)
	}
	if err != nil {
		s.logError(opLoadRoom, reasonQueryFailed, err, zap.String(fieldRoomID, roomID.String()))
		return Room{}, newServiceError(opLoadRoom, reasonQueryFailed, err)
	}
	return room, nil
}

// SaveRoom overwrites the code and language of an existing room.
func (s *Service) SaveRoom(ctx context.Context, roomID RoomID, code, language string) (Room, error) {
	if s.db == nil {
		s.logError(opSaveRoom, reasonMissingDatabase, errMissingDatabase)
		return Room{}, newServiceError(opSaveRoom, reasonMissingDatabase, errMissingDatabase)
	}

	var saved Room
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&Room{}).
			Where(queryRoomID, roomID.String()).
			Updates(map[string]any{
				"code":          code,
				"language":      NormalizeLanguageTag(language),
				"updated_at_ms": s.clock().UTC().UnixMilli(),
			})
		if result.Error != nil {
			s.logError(opSaveRoom, reasonUpdateFailed, result.Error, zap.String(fieldRoomID, roomID.String()))
			return newServiceError(opSaveRoom, reasonUpdateFailed, result.Error)
		}
		if result.RowsAffected == 0 {
			return newServiceError(opSaveRoom, reasonRoomNotFound, ErrRoomNotFound)
		}
		if err := tx.Where(queryRoomID, roomID.String()).Take(&saved).Error; err != nil {
			s.logError(opSaveRoom, reasonQueryFailed, err, zap.String(fieldRoomID, roomID.String()))
			return newServiceError(opSaveRoom, reasonQueryFailed, err)
		}
		return nil
	})
	if txErr != nil {
		return Room{}, txErr
	}
	return saved, nil
}

// CreateSnapshot appends an immutable copy of the supplied code to the room history.
func (s *Service) CreateSnapshot(ctx context.Context, draft SnapshotDraft) (Snapshot, error) {
	if s.db == nil {
		s.logError(opCreateSnapshot, reasonMissingDatabase, errMissingDatabase)
		return Snapshot{}, newServiceError(opCreateSnapshot, reasonMissingDatabase, errMissingDatabase)
	}
	if draft.RoomID == "" {
		return Snapshot{}, newServiceError(opCreateSnapshot, reasonInvalidRoomID, fmt.Errorf("%w: empty", ErrInvalidRoomID))
	}
	if draft.Code == "" {
		return Snapshot{}, newServiceError(opCreateSnapshot, reasonInvalidSnapshot, fmt.Errorf("%w: empty code", ErrInvalidSnapshot))
	}
	authorID, err := NewUserID(draft.AuthorID)
	if err != nil {
		return Snapshot{}, newServiceError(opCreateSnapshot, reasonInvalidSnapshot, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err))
	}

	snapshotID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreateSnapshot, reasonIDGenerationError, err, zap.String(fieldRoomID, draft.RoomID.String()))
		return Snapshot{}, newServiceError(opCreateSnapshot, reasonIDGenerationError, err)
	}

	snapshot := Snapshot{
		SnapshotID:      snapshotID,
		RoomID:          draft.RoomID.String(),
		Code:            draft.Code,
		AuthorID:        authorID.String(),
		AuthorName:      fallback(draft.AuthorName, DefaultAuthorName),
		CreatedAtMillis: s.clock().UTC().UnixMilli(),
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Room{}).Where(queryRoomID, snapshot.RoomID).Count(&count).Error; err != nil {
			s.logError(opCreateSnapshot, reasonQueryFailed, err, zap.String(fieldRoomID, snapshot.RoomID))
			return newServiceError(opCreateSnapshot, reasonQueryFailed, err)
		}
		if count == 0 {
			return newServiceError(opCreateSnapshot, reasonRoomNotFound, ErrRoomNotFound)
		}
		if err := tx.Create(&snapshot).Error; err != nil {
			s.logError(opCreateSnapshot, reasonInsertFailed, err,
				zap.String(fieldRoomID, snapshot.RoomID),
				zap.String(fieldAuthorID, snapshot.AuthorID))
			return newServiceError(opCreateSnapshot, reasonInsertFailed, err)
		}
		return nil
	})
	if txErr != nil {
		return Snapshot{}, txErr
	}

	s.logger.Info("snapshot created",
		zap.String(fieldRoomID, snapshot.RoomID),
		zap.String(fieldAuthorID, snapshot.AuthorID),
		zap.String("snapshot_id", snapshot.SnapshotID))
	return snapshot, nil
}

// ListSnapshots returns the most recent snapshots of a room, newest first.
// A non-positive limit selects the default; limits above the maximum are capped.
func (s *Service) ListSnapshots(ctx context.Context, roomID RoomID, limit int) ([]Snapshot, error) {
	if s.db == nil {
		s.logError(opListSnapshots, reasonMissingDatabase, errMissingDatabase)
		return nil, newServiceError(opListSnapshots, reasonMissingDatabase, errMissingDatabase)
	}

	var snapshots []Snapshot
	if err := s.db.WithContext(ctx).
		Where(queryRoomID, roomID.String()).
		Order(orderSnapshotDesc).
		Limit(s.SnapshotLimit(limit)).
		Find(&snapshots).Error; err != nil {
		s.logError(opListSnapshots, reasonQueryFailed, err, zap.String(fieldRoomID, roomID.String()))
		return nil, newServiceError(opListSnapshots, reasonQueryFailed, err)
	}
	return snapshots, nil
}

// LatestSnapshot returns the newest snapshot of a room, or nil when none exist.
func (s *Service) LatestSnapshot(ctx context.Context, roomID RoomID) (*Snapshot, error) {
	snapshots, err := s.ListSnapshots(ctx, roomID, 1)
	if err != nil {
		return nil, err
	}
	if len(snapshots) == 0 {
		return nil, nil
	}
	return &snapshots[0], nil
}

// SnapshotLimit resolves a requested list size against the configured bounds.
func (s *Service) SnapshotLimit(requested int) int {
	if requested <= 0 {
		return s.defaultSnapshotLimit
	}
	if requested > s.maxSnapshotLimit {
		return s.maxSnapshotLimit
	}
	return requested
}

func fallback(value, defaultValue string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return defaultValue
	}
	return trimmed
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("rooms service error", attrs...)
}

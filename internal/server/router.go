package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/coderoom/internal/realtime"
	"github.com/MarcoPoloResearchLab/coderoom/internal/rooms"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const roomIDParam = "roomID"

var (
	errMissingRoomsService = errors.New("rooms service dependency required")
	errMissingBroker       = errors.New("realtime broker dependency required")
)

type Dependencies struct {
	RoomsService *rooms.Service
	Broker       *realtime.Broker
	Logger       *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.RoomsService == nil {
		return nil, errMissingRoomsService
	}
	if deps.Broker == nil {
		return nil, errMissingBroker
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		roomsService: deps.RoomsService,
		broker:       deps.Broker,
		logger:       logger,
	}

	router.GET("/languages", handler.handleListLanguages)
	router.POST("/rooms", handler.handleCreateRoom)
	router.GET("/rooms/:"+roomIDParam, handler.handleGetRoom)
	router.PUT("/rooms/:"+roomIDParam, handler.handleSaveRoom)
	router.POST("/rooms/:"+roomIDParam+"/snapshots", handler.handleCreateSnapshot)
	router.GET("/rooms/:"+roomIDParam+"/snapshots", handler.handleListSnapshots)
	router.GET(realtime.WebSocketPath, handler.handleRealtime)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders: []string{"Content-Type"},
		MaxAge:       12 * time.Hour,
	})
}

type httpHandler struct {
	roomsService *rooms.Service
	broker       *realtime.Broker
	logger       *zap.Logger
}

type createRoomRequest struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Code     string `json:"code"`
	Language string `json:"language"`
}

type saveRoomRequest struct {
	Code     *string `json:"code"`
	Language string  `json:"language"`
}

type createSnapshotRequest struct {
	Code     string `json:"code"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

type snapshotListResponse struct {
	Snapshots []rooms.SnapshotResponse `json:"snapshots"`
}

type languageListResponse struct {
	Languages []rooms.Language `json:"languages"`
}

func (h *httpHandler) handleListLanguages(c *gin.Context) {
	c.JSON(http.StatusOK, languageListResponse{Languages: rooms.Languages()})
}

func (h *httpHandler) handleCreateRoom(c *gin.Context) {
	var request createRoomRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	room, err := h.roomsService.CreateRoom(c.Request.Context(), rooms.RoomDraft{
		RoomID:   request.ID,
		Name:     request.Name,
		Code:     request.Code,
		Language: request.Language,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rooms.NewRoomResponse(room, nil))
}

func (h *httpHandler) handleGetRoom(c *gin.Context) {
	roomID, ok := h.roomIDFromPath(c)
	if !ok {
		return
	}

	room, err := h.roomsService.LoadRoom(c.Request.Context(), roomID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	latest, err := h.roomsService.LatestSnapshot(c.Request.Context(), roomID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rooms.NewRoomResponse(room, latest))
}

func (h *httpHandler) handleSaveRoom(c *gin.Context) {
	roomID, ok := h.roomIDFromPath(c)
	if !ok {
		return
	}

	var request saveRoomRequest
	if err := c.ShouldBindJSON(&request); err != nil || request.Code == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	room, err := h.roomsService.SaveRoom(c.Request.Context(), roomID, *request.Code, request.Language)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rooms.NewRoomResponse(room, nil))
}

func (h *httpHandler) handleCreateSnapshot(c *gin.Context) {
	roomID, ok := h.roomIDFromPath(c)
	if !ok {
		return
	}

	var request createSnapshotRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if request.Code == "" || strings.TrimSpace(request.UserID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_fields"})
		return
	}

	snapshot, err := h.roomsService.CreateSnapshot(c.Request.Context(), rooms.SnapshotDraft{
		RoomID:     roomID,
		Code:       request.Code,
		AuthorID:   request.UserID,
		AuthorName: request.UserName,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rooms.NewSnapshotResponse(snapshot))
}

func (h *httpHandler) handleListSnapshots(c *gin.Context) {
	roomID, ok := h.roomIDFromPath(c)
	if !ok {
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
			return
		}
		limit = parsed
	}

	snapshots, err := h.roomsService.ListSnapshots(c.Request.Context(), roomID, limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	response := snapshotListResponse{Snapshots: make([]rooms.SnapshotResponse, 0, len(snapshots))}
	for _, snapshot := range snapshots {
		response.Snapshots = append(response.Snapshots, rooms.NewSnapshotResponse(snapshot))
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) roomIDFromPath(c *gin.Context) (rooms.RoomID, bool) {
	roomID, err := rooms.NewRoomID(c.Param(roomIDParam))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_room_id"})
		return "", false
	}
	return roomID, true
}

// respondError maps service failures onto HTTP statuses, exposing the stable error code.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	reason := "internal_error"
	switch {
	case errors.Is(err, rooms.ErrRoomNotFound):
		status, reason = http.StatusNotFound, "room_not_found"
	case errors.Is(err, rooms.ErrRoomExists):
		status, reason = http.StatusConflict, "room_exists"
	case errors.Is(err, rooms.ErrInvalidRoomID):
		status, reason = http.StatusBadRequest, "invalid_room_id"
	case errors.Is(err, rooms.ErrInvalidSnapshot), errors.Is(err, rooms.ErrInvalidUserID):
		status, reason = http.StatusBadRequest, "invalid_snapshot"
	default:
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}

	body := gin.H{"error": reason}
	var serviceErr *rooms.ServiceError
	if errors.As(err, &serviceErr) {
		body["code"] = serviceErr.Code()
	}
	c.JSON(status, body)
}

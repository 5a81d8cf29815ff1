// Package apiclient talks to the coderoom REST API and implements the
// document store consumed by collaboration sessions.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/coderoom/internal/rooms"
	"go.uber.org/zap"
)

const defaultRequestTimeout = 15 * time.Second

var errMissingBaseURL = errors.New("apiclient: base url is required")

// Config wires a Client.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client is safe for concurrent use.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	logger     *zap.Logger
}

// StatusError reports a non-success response. It unwraps to the matching rooms
// sentinel so callers can test with errors.Is.
type StatusError struct {
	Method string
	Path   string
	Status int
	Reason string
	Code   string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("apiclient: %s %s: %d %s (%s)", e.Method, e.Path, e.Status, e.Reason, e.Code)
	}
	return fmt.Sprintf("apiclient: %s %s: %d %s", e.Method, e.Path, e.Status, e.Reason)
}

func (e *StatusError) Unwrap() error {
	switch {
	case e.Status == http.StatusNotFound:
		return rooms.ErrRoomNotFound
	case e.Status == http.StatusConflict:
		return rooms.ErrRoomExists
	case e.Reason == "invalid_room_id":
		return rooms.ErrInvalidRoomID
	case e.Reason == "invalid_snapshot", e.Reason == "missing_fields":
		return rooms.ErrInvalidSnapshot
	default:
		return nil
	}
}

func NewClient(cfg Config) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if trimmed == "" {
		return nil, errMissingBaseURL
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("apiclient: parse base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("apiclient: unsupported scheme %q", parsed.Scheme)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{baseURL: parsed, httpClient: httpClient, logger: logger}, nil
}

type createRoomRequest struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name,omitempty"`
	Code     string `json:"code,omitempty"`
	Language string `json:"language,omitempty"`
}

type saveRoomRequest struct {
	Code     string `json:"code"`
	Language string `json:"language,omitempty"`
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

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (c *Client) CreateRoom(ctx context.Context, draft rooms.RoomDraft) (rooms.Room, error) {
	var response rooms.RoomResponse
	err := c.do(ctx, http.MethodPost, "/rooms", nil, createRoomRequest{
		ID:       draft.RoomID,
		Name:     draft.Name,
		Code:     draft.Code,
		Language: draft.Language,
	}, &response)
	if err != nil {
		return rooms.Room{}, err
	}
	return response.Room(), nil
}

// FetchRoom returns the room together with its latest snapshot, if any.
func (c *Client) FetchRoom(ctx context.Context, roomID rooms.RoomID) (rooms.RoomResponse, error) {
	var response rooms.RoomResponse
	if err := c.do(ctx, http.MethodGet, roomPath(roomID), nil, nil, &response); err != nil {
		return rooms.RoomResponse{}, err
	}
	return response, nil
}

func (c *Client) LoadRoom(ctx context.Context, roomID rooms.RoomID) (rooms.Room, error) {
	response, err := c.FetchRoom(ctx, roomID)
	if err != nil {
		return rooms.Room{}, err
	}
	return response.Room(), nil
}

func (c *Client) SaveRoom(ctx context.Context, roomID rooms.RoomID, code, language string) (rooms.Room, error) {
	var response rooms.RoomResponse
	err := c.do(ctx, http.MethodPut, roomPath(roomID), nil, saveRoomRequest{Code: code, Language: language}, &response)
	if err != nil {
		return rooms.Room{}, err
	}
	return response.Room(), nil
}

func (c *Client) CreateSnapshot(ctx context.Context, draft rooms.SnapshotDraft) (rooms.Snapshot, error) {
	var response rooms.SnapshotResponse
	err := c.do(ctx, http.MethodPost, roomPath(draft.RoomID)+"/snapshots", nil, createSnapshotRequest{
		Code:     draft.Code,
		UserID:   draft.AuthorID,
		UserName: draft.AuthorName,
	}, &response)
	if err != nil {
		return rooms.Snapshot{}, err
	}
	return response.Snapshot(), nil
}

func (c *Client) ListSnapshots(ctx context.Context, roomID rooms.RoomID, limit int) ([]rooms.Snapshot, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var response snapshotListResponse
	if err := c.do(ctx, http.MethodGet, roomPath(roomID)+"/snapshots", query, nil, &response); err != nil {
		return nil, err
	}
	snapshots := make([]rooms.Snapshot, 0, len(response.Snapshots))
	for _, snapshot := range response.Snapshots {
		snapshots = append(snapshots, snapshot.Snapshot())
	}
	return snapshots, nil
}

func (c *Client) Languages(ctx context.Context) ([]rooms.Language, error) {
	var response languageListResponse
	if err := c.do(ctx, http.MethodGet, "/languages", nil, nil, &response); err != nil {
		return nil, err
	}
	return response.Languages, nil
}

func roomPath(roomID rooms.RoomID) string {
	return "/rooms/" + url.PathEscape(roomID.String())
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, target any) error {
	endpoint := c.baseURL.JoinPath(path)
	if len(query) > 0 {
		endpoint.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("apiclient: encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return fmt.Errorf("apiclient: build %s %s: %w", method, path, err)
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	request.Header.Set("Accept", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("apiclient: %s %s: %w", method, path, err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		statusErr := &StatusError{Method: method, Path: path, Status: response.StatusCode}
		var payload errorResponse
		if decodeErr := json.NewDecoder(response.Body).Decode(&payload); decodeErr == nil {
			statusErr.Reason, statusErr.Code = payload.Error, payload.Code
		}
		if statusErr.Reason == "" {
			statusErr.Reason = http.StatusText(response.StatusCode)
		}
		c.logger.Debug("api request rejected",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", response.StatusCode),
			zap.String("reason", statusErr.Reason),
		)
		return statusErr
	}

	if target == nil {
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(target); err != nil {
		return fmt.Errorf("apiclient: decode %s %s: %w", method, path, err)
	}
	return nil
}

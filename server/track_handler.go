package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"SyncFM/logger"
	"SyncFM/model"
	"SyncFM/repository"

	"github.com/gorilla/mux"
)

// TrackHandler 曲库 HTTP 处理器
type TrackHandler struct {
	tracks repository.TrackRepository
}

// NewTrackHandler 创建曲库处理器
func NewTrackHandler(tracks repository.TrackRepository) *TrackHandler {
	return &TrackHandler{tracks: tracks}
}

// ListTracksResponse 曲目列表响应
type ListTracksResponse struct {
	Tracks []*model.Track `json:"tracks"`
	Total  int64          `json:"total"`
}

// ListTracksHandler 分页查询曲库
func (h *TrackHandler) ListTracksHandler(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)

	tracks, total, err := h.tracks.ListTracks(r.Context(), limit, offset)
	if err != nil {
		logger.Error("failed to list tracks", logger.ErrorField(err))
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &ListTracksResponse{Tracks: tracks, Total: total})
}

// GetTrackHandler 查询单个曲目
func (h *TrackHandler) GetTrackHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid track id")
		return
	}

	track, err := h.tracks.GetTrackByID(r.Context(), id)
	if err != nil {
		logger.Error("failed to get track", logger.Int64("trackId", id), logger.ErrorField(err))
		writeDomainError(w, err)
		return
	}
	if track == nil {
		writeDomainError(w, repository.ErrTrackNotFound)
		return
	}
	writeJSON(w, http.StatusOK, track)
}

// CreateTrackRequest 入库请求
type CreateTrackRequest struct {
	Title    string  `json:"title"`
	Artist   string  `json:"artist"`
	Album    string  `json:"album"`
	Duration float64 `json:"duration"`
}

// CreateTrackHandler 新曲目入库
func (h *TrackHandler) CreateTrackHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateTrackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	if req.Duration < 0 {
		writeError(w, http.StatusBadRequest, "duration must be non-negative")
		return
	}

	track := &model.Track{
		Title:    req.Title,
		Artist:   req.Artist,
		Album:    req.Album,
		Duration: req.Duration,
	}
	if err := h.tracks.CreateTrack(r.Context(), track); err != nil {
		logger.Error("failed to create track", logger.ErrorField(err))
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, track)
}

// parsePagination 解析 limit/offset 查询参数，缺省不分页
func parsePagination(r *http.Request) (limit, offset int) {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			offset = n
		}
	}
	return limit, offset
}

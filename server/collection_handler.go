package server

import (
	"encoding/json"
	"net/http"

	"SyncFM/logger"
	"SyncFM/model"
	"SyncFM/repository"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// CollectionHandler 有序集合 HTTP 处理器
type CollectionHandler struct {
	store repository.CollectionStore
}

// NewCollectionHandler 创建集合处理器
func NewCollectionHandler(store repository.CollectionStore) *CollectionHandler {
	return &CollectionHandler{store: store}
}

// CreateCollectionRequest 创建集合请求
type CreateCollectionRequest struct {
	Name     string  `json:"name"`
	Type     string  `json:"type"`
	ParentID *string `json:"parentId,omitempty"`
}

// CreateCollectionHandler 创建歌单或文件夹
func (h *CollectionHandler) CreateCollectionHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateCollectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	switch req.Type {
	case model.CollectionTypePlaylist, model.CollectionTypeFolder:
	case "":
		req.Type = model.CollectionTypePlaylist
	default:
		writeError(w, http.StatusBadRequest, "invalid collection type")
		return
	}

	c := &model.Collection{
		ID:       uuid.New().String(),
		Type:     req.Type,
		Name:     req.Name,
		ParentID: req.ParentID,
	}
	if err := h.store.Create(r.Context(), c); err != nil {
		logger.Error("failed to create collection", logger.ErrorField(err))
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// GetCollectionHandler 查询集合及其条目（支持 limit/offset 分页）
func (h *CollectionHandler) GetCollectionHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	limit, offset := parsePagination(r)

	if limit > 0 || offset > 0 {
		entries, total, err := h.store.List(r.Context(), id, limit, offset)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"id":      id,
			"entries": entries,
			"total":   total,
		})
		return
	}

	c, err := h.store.Get(r.Context(), id)
	if err != nil {
		logger.Error("failed to get collection", logger.String("collectionId", id), logger.ErrorField(err))
		writeDomainError(w, err)
		return
	}
	if c == nil {
		writeDomainError(w, repository.ErrCollectionNotFound)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// DeleteCollectionHandler 删除集合。内建集合（曲库、公共队列）受保护。
func (h *CollectionHandler) DeleteCollectionHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.store.Delete(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

// EntryRequest 条目操作请求。position 省略时：插入追加到末尾，
// 移除删第一处匹配。
type EntryRequest struct {
	TrackID  int64 `json:"trackId"`
	Position *int  `json:"position,omitempty"`
}

// InsertEntryHandler 插入条目
func (h *CollectionHandler) InsertEntryHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req EntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	c, err := h.store.Insert(r.Context(), id, req.TrackID, req.Position)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// RemoveEntryHandler 移除条目
func (h *CollectionHandler) RemoveEntryHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req EntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	c, err := h.store.Remove(r.Context(), id, req.TrackID, req.Position)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// MoveEntryRequest 移动条目请求。oldPosition 省略时移动第一处匹配。
type MoveEntryRequest struct {
	TrackID     int64 `json:"trackId"`
	NewPosition int   `json:"newPosition"`
	OldPosition *int  `json:"oldPosition,omitempty"`
}

// MoveEntryHandler 移动条目到新位置
func (h *CollectionHandler) MoveEntryHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req MoveEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	c, err := h.store.Move(r.Context(), id, req.TrackID, req.NewPosition, req.OldPosition)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// ClearEntriesHandler 清空集合条目
func (h *CollectionHandler) ClearEntriesHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.store.Clear(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

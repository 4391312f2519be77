package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"SyncFM/core/room"
	"SyncFM/repository"
)

// writeJSON 写出 JSON 响应
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

// errorResponse 统一的错误响应体
type errorResponse struct {
	Error string `json:"error"`
}

// writeError 写出错误响应
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, &errorResponse{Error: message})
}

// writeDomainError 按领域错误映射 HTTP 状态码
func writeDomainError(w http.ResponseWriter, err error) {
	writeError(w, statusForError(err), err.Error())
}

// statusForError 领域错误到 HTTP 状态码的映射
func statusForError(err error) int {
	switch {
	case errors.Is(err, repository.ErrCollectionNotFound),
		errors.Is(err, repository.ErrEntryNotFound),
		errors.Is(err, repository.ErrTrackNotFound),
		errors.Is(err, room.ErrRoomNotFound):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrInvalidPosition),
		errors.Is(err, room.ErrNoTrackLoaded):
		return http.StatusBadRequest
	case errors.Is(err, repository.ErrProtectedCollection),
		errors.Is(err, repository.ErrVirtualCollection):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

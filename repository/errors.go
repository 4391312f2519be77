package repository

import "errors"

// Sentinel errors returned by the data layer. Handlers map these to status
// codes; callers test with errors.Is.
var (
	ErrCollectionNotFound  = errors.New("collection not found")
	ErrEntryNotFound       = errors.New("collection entry not found")
	ErrInvalidPosition     = errors.New("invalid position")
	ErrProtectedCollection = errors.New("collection cannot be deleted")
	ErrVirtualCollection   = errors.New("virtual collection cannot be modified directly")
	ErrTrackNotFound       = errors.New("track not found")
)

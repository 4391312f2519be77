package repository

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"SyncFM/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	// 每个测试独立的共享缓存内存库，连接池内多连接可见同一份数据
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Track{}, &model.Collection{}, &model.CollectionEntry{}))
	return db
}

func newTestStore(t *testing.T) (CollectionStore, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	return NewGormCollectionStore(db), db
}

// seedTracks 入库 n 首曲目，返回ID切片
func seedTracks(t *testing.T, db *gorm.DB, n int) []int64 {
	t.Helper()
	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		track := &model.Track{
			Title:    fmt.Sprintf("Track %c", 'A'+i),
			Artist:   fmt.Sprintf("Artist %c", 'A'+i),
			Duration: 180,
		}
		require.NoError(t, db.Create(track).Error)
		ids = append(ids, track.ID)
	}
	return ids
}

func seedPlaylist(t *testing.T, store CollectionStore, id string) {
	t.Helper()
	require.NoError(t, store.Create(context.Background(), &model.Collection{
		ID:   id,
		Type: model.CollectionTypePlaylist,
		Name: id,
	}))
}

// trackOrder 返回成员列表的曲目ID顺序，同时断言 position 为密集的 0..N-1
func trackOrder(t *testing.T, entries []model.EntryWithTrack) []int64 {
	t.Helper()
	ids := make([]int64, 0, len(entries))
	for i, e := range entries {
		assert.Equal(t, i, e.Position, "positions must be dense 0..N-1")
		ids = append(ids, e.TrackID)
	}
	return ids
}

func intPtr(v int) *int { return &v }

func TestInsertAppendsToEnd(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()
	tracks := seedTracks(t, db, 3)
	seedPlaylist(t, store, "pl")

	for _, id := range tracks {
		_, err := store.Insert(ctx, "pl", id, nil)
		require.NoError(t, err)
	}

	c, err := store.Get(ctx, "pl")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, tracks, trackOrder(t, c.Entries))
}

func TestInsertAtPositionShiftsUp(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()
	tracks := seedTracks(t, db, 4)
	seedPlaylist(t, store, "pl")

	a, b, cID, d := tracks[0], tracks[1], tracks[2], tracks[3]
	for _, id := range []int64{a, b, cID} {
		_, err := store.Insert(ctx, "pl", id, nil)
		require.NoError(t, err)
	}

	res, err := store.Insert(ctx, "pl", d, intPtr(1))
	require.NoError(t, err)
	assert.Equal(t, []int64{a, d, b, cID}, trackOrder(t, res.Entries))
}

func TestInsertAtCountAppends(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()
	tracks := seedTracks(t, db, 2)
	seedPlaylist(t, store, "pl")

	_, err := store.Insert(ctx, "pl", tracks[0], nil)
	require.NoError(t, err)

	// position == 当前长度等价于追加
	res, err := store.Insert(ctx, "pl", tracks[1], intPtr(1))
	require.NoError(t, err)
	assert.Equal(t, []int64{tracks[0], tracks[1]}, trackOrder(t, res.Entries))
}

func TestInsertRejectsNegativePosition(t *testing.T) {
	store, db := newTestStore(t)
	tracks := seedTracks(t, db, 1)
	seedPlaylist(t, store, "pl")

	_, err := store.Insert(context.Background(), "pl", tracks[0], intPtr(-1))
	assert.ErrorIs(t, err, ErrInvalidPosition)
}

func TestInsertUnknownCollection(t *testing.T) {
	store, db := newTestStore(t)
	tracks := seedTracks(t, db, 1)

	_, err := store.Insert(context.Background(), "nope", tracks[0], nil)
	assert.ErrorIs(t, err, ErrCollectionNotFound)
}

func TestInsertAllowsDuplicateTracks(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()
	tracks := seedTracks(t, db, 1)
	seedPlaylist(t, store, "pl")

	_, err := store.Insert(ctx, "pl", tracks[0], nil)
	require.NoError(t, err)
	res, err := store.Insert(ctx, "pl", tracks[0], nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{tracks[0], tracks[0]}, trackOrder(t, res.Entries))
}

func TestRemoveShiftsDown(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()
	tracks := seedTracks(t, db, 3)
	seedPlaylist(t, store, "pl")
	for _, id := range tracks {
		_, err := store.Insert(ctx, "pl", id, nil)
		require.NoError(t, err)
	}

	res, err := store.Remove(ctx, "pl", tracks[1], nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{tracks[0], tracks[2]}, trackOrder(t, res.Entries))
}

func TestRemoveFirstOccurrenceOfDuplicate(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()
	tracks := seedTracks(t, db, 2)
	seedPlaylist(t, store, "pl")

	// [A, B, A]
	for _, id := range []int64{tracks[0], tracks[1], tracks[0]} {
		_, err := store.Insert(ctx, "pl", id, nil)
		require.NoError(t, err)
	}

	res, err := store.Remove(ctx, "pl", tracks[0], nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{tracks[1], tracks[0]}, trackOrder(t, res.Entries))
}

func TestRemoveExactPositionOfDuplicate(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()
	tracks := seedTracks(t, db, 2)
	seedPlaylist(t, store, "pl")

	// [A, B, A]
	for _, id := range []int64{tracks[0], tracks[1], tracks[0]} {
		_, err := store.Insert(ctx, "pl", id, nil)
		require.NoError(t, err)
	}

	res, err := store.Remove(ctx, "pl", tracks[0], intPtr(2))
	require.NoError(t, err)
	assert.Equal(t, []int64{tracks[0], tracks[1]}, trackOrder(t, res.Entries))
}

func TestRemoveMissingEntry(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()
	tracks := seedTracks(t, db, 2)
	seedPlaylist(t, store, "pl")
	_, err := store.Insert(ctx, "pl", tracks[0], nil)
	require.NoError(t, err)

	_, err = store.Remove(ctx, "pl", tracks[1], nil)
	assert.ErrorIs(t, err, ErrEntryNotFound)

	// position 指定但不匹配同样算未命中
	_, err = store.Remove(ctx, "pl", tracks[0], intPtr(5))
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestMoveBackward(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()
	tracks := seedTracks(t, db, 3)
	seedPlaylist(t, store, "pl")
	for _, id := range tracks {
		_, err := store.Insert(ctx, "pl", id, nil)
		require.NoError(t, err)
	}

	// [A,B,C] -> C 移到 0 -> [C,A,B]
	res, err := store.Move(ctx, "pl", tracks[2], 0, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{tracks[2], tracks[0], tracks[1]}, trackOrder(t, res.Entries))
}

func TestMoveForward(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()
	tracks := seedTracks(t, db, 4)
	seedPlaylist(t, store, "pl")
	for _, id := range tracks {
		_, err := store.Insert(ctx, "pl", id, nil)
		require.NoError(t, err)
	}

	// [A,B,C,D] -> A 移到 2 -> [B,C,A,D]
	res, err := store.Move(ctx, "pl", tracks[0], 2, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{tracks[1], tracks[2], tracks[0], tracks[3]}, trackOrder(t, res.Entries))
}

func TestMoveThenInsertThenRemove(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()
	tracks := seedTracks(t, db, 4)
	seedPlaylist(t, store, "pl")

	a, b, cID, d := tracks[0], tracks[1], tracks[2], tracks[3]
	for _, id := range []int64{a, b, cID} {
		_, err := store.Insert(ctx, "pl", id, nil)
		require.NoError(t, err)
	}

	// [A,B,C] -> move C to 0 -> [C,A,B]
	res, err := store.Move(ctx, "pl", cID, 0, nil)
	require.NoError(t, err)
	require.Equal(t, []int64{cID, a, b}, trackOrder(t, res.Entries))

	// insert D at 1 -> [C,D,A,B]
	res, err = store.Insert(ctx, "pl", d, intPtr(1))
	require.NoError(t, err)
	require.Equal(t, []int64{cID, d, a, b}, trackOrder(t, res.Entries))

	// remove A -> [C,D,B]
	res, err = store.Remove(ctx, "pl", a, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{cID, d, b}, trackOrder(t, res.Entries))
}

func TestMoveNoOp(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()
	tracks := seedTracks(t, db, 2)
	seedPlaylist(t, store, "pl")
	for _, id := range tracks {
		_, err := store.Insert(ctx, "pl", id, nil)
		require.NoError(t, err)
	}

	res, err := store.Move(ctx, "pl", tracks[1], 1, nil)
	require.NoError(t, err)
	assert.Equal(t, tracks, trackOrder(t, res.Entries))
}

func TestMoveRejectsOutOfRange(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()
	tracks := seedTracks(t, db, 2)
	seedPlaylist(t, store, "pl")
	for _, id := range tracks {
		_, err := store.Insert(ctx, "pl", id, nil)
		require.NoError(t, err)
	}

	_, err := store.Move(ctx, "pl", tracks[0], -1, nil)
	assert.ErrorIs(t, err, ErrInvalidPosition)

	_, err = store.Move(ctx, "pl", tracks[0], 2, nil)
	assert.ErrorIs(t, err, ErrInvalidPosition)
}

func TestMoveDuplicateWithOldPosition(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()
	tracks := seedTracks(t, db, 2)
	seedPlaylist(t, store, "pl")

	// [A, B, A]
	for _, id := range []int64{tracks[0], tracks[1], tracks[0]} {
		_, err := store.Insert(ctx, "pl", id, nil)
		require.NoError(t, err)
	}

	// 指定移动位于 2 的那份 A 到 0 -> [A,A,B]
	res, err := store.Move(ctx, "pl", tracks[0], 0, intPtr(2))
	require.NoError(t, err)
	assert.Equal(t, []int64{tracks[0], tracks[0], tracks[1]}, trackOrder(t, res.Entries))
}

func TestClearKeepsCollection(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()
	tracks := seedTracks(t, db, 2)
	seedPlaylist(t, store, "pl")
	for _, id := range tracks {
		_, err := store.Insert(ctx, "pl", id, nil)
		require.NoError(t, err)
	}

	require.NoError(t, store.Clear(ctx, "pl"))

	c, err := store.Get(ctx, "pl")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Empty(t, c.Entries)
}

func TestDeleteProtectedCollections(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureCollection(ctx, model.LibraryCollectionID, model.CollectionTypeLibrary, "Library"))
	require.NoError(t, store.EnsureCollection(ctx, model.QueueCollectionID, model.CollectionTypePlaylist, "Queue"))

	assert.ErrorIs(t, store.Delete(ctx, model.LibraryCollectionID), ErrProtectedCollection)
	assert.ErrorIs(t, store.Delete(ctx, model.QueueCollectionID), ErrProtectedCollection)
}

func TestDeleteRemovesEntries(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()
	tracks := seedTracks(t, db, 2)
	seedPlaylist(t, store, "pl")
	for _, id := range tracks {
		_, err := store.Insert(ctx, "pl", id, nil)
		require.NoError(t, err)
	}

	require.NoError(t, store.Delete(ctx, "pl"))

	c, err := store.Get(ctx, "pl")
	require.NoError(t, err)
	assert.Nil(t, c)

	var count int64
	require.NoError(t, db.Model(&model.CollectionEntry{}).Where("collection_id = ?", "pl").Count(&count).Error)
	assert.Zero(t, count)
}

func TestDeleteUnknownCollection(t *testing.T) {
	store, _ := newTestStore(t)
	assert.ErrorIs(t, store.Delete(context.Background(), "nope"), ErrCollectionNotFound)
}

func TestLibraryIsVirtual(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()
	tracks := seedTracks(t, db, 3)
	require.NoError(t, store.EnsureCollection(ctx, model.LibraryCollectionID, model.CollectionTypeLibrary, "Library"))

	// 虚拟集合拒绝一切成员变更
	_, err := store.Insert(ctx, model.LibraryCollectionID, tracks[0], nil)
	assert.ErrorIs(t, err, ErrVirtualCollection)
	_, err = store.Remove(ctx, model.LibraryCollectionID, tracks[0], nil)
	assert.ErrorIs(t, err, ErrVirtualCollection)
	_, err = store.Move(ctx, model.LibraryCollectionID, tracks[0], 0, nil)
	assert.ErrorIs(t, err, ErrVirtualCollection)
	assert.ErrorIs(t, store.Clear(ctx, model.LibraryCollectionID), ErrVirtualCollection)

	// 成员由曲库派生，位置密集
	entries, total, err := store.List(ctx, model.LibraryCollectionID, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, trackOrder(t, entries), 3)
}

func TestLibraryPaginationOffsetsPositions(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()
	seedTracks(t, db, 5)
	require.NoError(t, store.EnsureCollection(ctx, model.LibraryCollectionID, model.CollectionTypeLibrary, "Library"))

	entries, total, err := store.List(ctx, model.LibraryCollectionID, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, entries, 2)
	assert.Equal(t, 2, entries[0].Position)
	assert.Equal(t, 3, entries[1].Position)
}

func TestListPagination(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()
	tracks := seedTracks(t, db, 5)
	seedPlaylist(t, store, "pl")
	for _, id := range tracks {
		_, err := store.Insert(ctx, "pl", id, nil)
		require.NoError(t, err)
	}

	entries, total, err := store.List(ctx, "pl", 2, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, entries, 2)
	assert.Equal(t, tracks[2], entries[0].TrackID)
	assert.Equal(t, tracks[3], entries[1].TrackID)
	assert.Equal(t, 2, entries[0].Position)
	assert.Equal(t, 3, entries[1].Position)
}

func TestListJoinsTrackMetadata(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()
	tracks := seedTracks(t, db, 1)
	seedPlaylist(t, store, "pl")
	_, err := store.Insert(ctx, "pl", tracks[0], nil)
	require.NoError(t, err)

	entries, _, err := store.List(ctx, "pl", 0, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Track A", entries[0].Title)
	assert.Equal(t, "Artist A", entries[0].Artist)
	assert.Equal(t, float64(180), entries[0].Duration)
}

func TestGetMissingReturnsNil(t *testing.T) {
	store, _ := newTestStore(t)
	c, err := store.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestEnsureCollectionIdempotent(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.EnsureCollection(ctx, "room:1", model.CollectionTypePlaylist, "Room 1 Playlist"))
	require.NoError(t, store.EnsureCollection(ctx, "room:1", model.CollectionTypePlaylist, "Renamed"))

	c, err := store.Get(ctx, "room:1")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "Room 1 Playlist", c.Name)
}

package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"SyncFM/model"

	"gorm.io/gorm"
)

// CollectionStore defines the contract for ordered track collections.
//
// Every mutating operation keeps the position column of a collection dense:
// after any call, positions read back as exactly 0..N-1. The same track may
// appear at several positions; optional position arguments disambiguate
// duplicates. Mutations are atomic (one transaction) and serialized per
// collection id on top of that, so concurrent callers can never observe or
// produce a gapped sequence.
type CollectionStore interface {
	Get(ctx context.Context, id string) (*model.CollectionWithEntries, error)
	Create(ctx context.Context, c *model.Collection) error
	Delete(ctx context.Context, id string) error
	EnsureCollection(ctx context.Context, id, ctype, name string) error
	Insert(ctx context.Context, collectionID string, trackID int64, position *int) (*model.CollectionWithEntries, error)
	Remove(ctx context.Context, collectionID string, trackID int64, position *int) (*model.CollectionWithEntries, error)
	Move(ctx context.Context, collectionID string, trackID int64, newPosition int, oldPosition *int) (*model.CollectionWithEntries, error)
	Clear(ctx context.Context, collectionID string) error
	List(ctx context.Context, collectionID string, limit, offset int) ([]model.EntryWithTrack, int64, error)
}

// gormCollectionStore implements CollectionStore on GORM.
type gormCollectionStore struct {
	db *gorm.DB

	// 每个集合一把互斥锁，串行化同一集合上的变更
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewGormCollectionStore creates a new instance of gormCollectionStore.
func NewGormCollectionStore(db *gorm.DB) CollectionStore {
	return &gormCollectionStore{
		db:    db,
		locks: make(map[string]*sync.Mutex),
	}
}

// lockCollection acquires the per-collection mutex and returns the release func.
func (s *gormCollectionStore) lockCollection(id string) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// ========== 位移辅助 ==========
//
// position 列带 (collection_id, position) 唯一约束，整段平移不能让任何中间
// 状态出现重复。做法是两段式：先把区间内的行“泊”到各不相同的负数位
// （-(position+2)，恒 ≤ -2），再一次性翻回目标位。移动单行时的哨兵位 -1
// 不会与泊位区间冲突。

// shiftUpRange moves positions in the closed interval [from, to] up by one.
func shiftUpRange(tx *gorm.DB, collectionID string, from, to int) error {
	if from > to {
		return nil
	}
	err := tx.Model(&model.CollectionEntry{}).
		Where("collection_id = ? AND position BETWEEN ? AND ?", collectionID, from, to).
		Update("position", gorm.Expr("-(position + 2)")).Error
	if err != nil {
		return fmt.Errorf("failed to park entries for shift up: %w", err)
	}
	err = tx.Model(&model.CollectionEntry{}).
		Where("collection_id = ? AND position <= ?", collectionID, -2).
		Update("position", gorm.Expr("-position - 1")).Error
	if err != nil {
		return fmt.Errorf("failed to unpark entries for shift up: %w", err)
	}
	return nil
}

// shiftDownRange moves positions in the closed interval [from, to] down by one.
func shiftDownRange(tx *gorm.DB, collectionID string, from, to int) error {
	if from > to {
		return nil
	}
	err := tx.Model(&model.CollectionEntry{}).
		Where("collection_id = ? AND position BETWEEN ? AND ?", collectionID, from, to).
		Update("position", gorm.Expr("-(position + 2)")).Error
	if err != nil {
		return fmt.Errorf("failed to park entries for shift down: %w", err)
	}
	err = tx.Model(&model.CollectionEntry{}).
		Where("collection_id = ? AND position <= ?", collectionID, -2).
		Update("position", gorm.Expr("-position - 3")).Error
	if err != nil {
		return fmt.Errorf("failed to unpark entries for shift down: %w", err)
	}
	return nil
}

// getCollectionRow loads the collection metadata row inside tx.
func getCollectionRow(tx *gorm.DB, id string) (*model.Collection, error) {
	var col model.Collection
	err := tx.Where("id = ?", id).First(&col).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrCollectionNotFound
		}
		return nil, fmt.Errorf("failed to query collection %s: %w", id, err)
	}
	return &col, nil
}

// requireMutable loads the collection and rejects virtual ones.
func requireMutable(tx *gorm.DB, id string) (*model.Collection, error) {
	col, err := getCollectionRow(tx, id)
	if err != nil {
		return nil, err
	}
	if col.Type == model.CollectionTypeLibrary {
		return nil, ErrVirtualCollection
	}
	return col, nil
}

func countEntries(tx *gorm.DB, collectionID string) (int, error) {
	var count int64
	err := tx.Model(&model.CollectionEntry{}).
		Where("collection_id = ?", collectionID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count entries: %w", err)
	}
	return int(count), nil
}

func touchCollection(tx *gorm.DB, id string) error {
	return tx.Model(&model.Collection{}).
		Where("id = ?", id).
		Update("updated_at", time.Now()).Error
}

// ========== 集合 CRUD ==========

// Create 创建集合
func (s *gormCollectionStore) Create(ctx context.Context, c *model.Collection) error {
	if c.Type == "" {
		c.Type = model.CollectionTypePlaylist
	}
	return s.db.WithContext(ctx).Create(c).Error
}

// EnsureCollection 创建集合，已存在则不做任何修改（启动期的隐式创建用）
func (s *gormCollectionStore) EnsureCollection(ctx context.Context, id, ctype, name string) error {
	col := model.Collection{ID: id, Type: ctype, Name: name}
	return s.db.WithContext(ctx).
		Where("id = ?", id).
		Attrs(model.Collection{Type: ctype, Name: name}).
		FirstOrCreate(&col).Error
}

// Delete 删除集合及其全部成员。固定集合（曲库、播放队列）不可删除。
func (s *gormCollectionStore) Delete(ctx context.Context, id string) error {
	if id == model.LibraryCollectionID || id == model.QueueCollectionID {
		return ErrProtectedCollection
	}

	unlock := s.lockCollection(id)
	defer unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := getCollectionRow(tx, id); err != nil {
			return err
		}
		if err := tx.Where("collection_id = ?", id).Delete(&model.CollectionEntry{}).Error; err != nil {
			return fmt.Errorf("failed to delete entries of %s: %w", id, err)
		}
		return tx.Where("id = ?", id).Delete(&model.Collection{}).Error
	})
}

// Get 返回集合元数据加完整有序成员列表。library 类型为虚拟集合，成员列表
// 直接由曲库派生。集合不存在时返回 nil。
func (s *gormCollectionStore) Get(ctx context.Context, id string) (*model.CollectionWithEntries, error) {
	var col model.Collection
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&col).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query collection %s: %w", id, err)
	}

	entries, _, err := s.List(ctx, id, 0, 0)
	if err != nil {
		return nil, err
	}
	return &model.CollectionWithEntries{Collection: col, Entries: entries}, nil
}

// ========== 成员变更 ==========

// Insert adds trackID to the collection. With no position it appends; with a
// position it shifts every entry at or after that slot up by one first.
func (s *gormCollectionStore) Insert(ctx context.Context, collectionID string, trackID int64, position *int) (*model.CollectionWithEntries, error) {
	if position != nil && *position < 0 {
		return nil, ErrInvalidPosition
	}

	unlock := s.lockCollection(collectionID)
	defer unlock()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := requireMutable(tx, collectionID); err != nil {
			return err
		}

		count, err := countEntries(tx, collectionID)
		if err != nil {
			return err
		}

		target := count // 默认追加到末尾
		if position != nil && *position < count {
			target = *position
			if err := shiftUpRange(tx, collectionID, target, count-1); err != nil {
				return err
			}
		}

		entry := model.CollectionEntry{
			CollectionID: collectionID,
			TrackID:      trackID,
			Position:     target,
			AddedAt:      time.Now(),
		}
		if err := tx.Create(&entry).Error; err != nil {
			return fmt.Errorf("failed to insert entry: %w", err)
		}
		return touchCollection(tx, collectionID)
	})
	if err != nil {
		return nil, err
	}

	return s.Get(ctx, collectionID)
}

// Remove deletes one entry. With a position it removes exactly that occurrence;
// without one it removes the earliest occurrence of trackID. Entries after the
// removed slot shift down by one.
func (s *gormCollectionStore) Remove(ctx context.Context, collectionID string, trackID int64, position *int) (*model.CollectionWithEntries, error) {
	unlock := s.lockCollection(collectionID)
	defer unlock()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := requireMutable(tx, collectionID); err != nil {
			return err
		}

		count, err := countEntries(tx, collectionID)
		if err != nil {
			return err
		}

		q := tx.Where("collection_id = ? AND track_id = ?", collectionID, trackID)
		if position != nil {
			q = q.Where("position = ?", *position)
		}

		var entry model.CollectionEntry
		if err := q.Order("position ASC").First(&entry).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return ErrEntryNotFound
			}
			return fmt.Errorf("failed to locate entry: %w", err)
		}

		if err := tx.Delete(&model.CollectionEntry{}, entry.ID).Error; err != nil {
			return fmt.Errorf("failed to delete entry: %w", err)
		}
		if err := shiftDownRange(tx, collectionID, entry.Position+1, count-1); err != nil {
			return err
		}
		return touchCollection(tx, collectionID)
	})
	if err != nil {
		return nil, err
	}

	return s.Get(ctx, collectionID)
}

// Move relocates one entry to newPosition, with oldPosition disambiguating
// duplicate tracks. The moving entry is parked at the sentinel slot -1 to free
// its position before the in-between entries shift, so the unique index on
// (collection_id, position) holds at every statement boundary.
func (s *gormCollectionStore) Move(ctx context.Context, collectionID string, trackID int64, newPosition int, oldPosition *int) (*model.CollectionWithEntries, error) {
	if newPosition < 0 {
		return nil, ErrInvalidPosition
	}

	unlock := s.lockCollection(collectionID)
	defer unlock()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := requireMutable(tx, collectionID); err != nil {
			return err
		}

		count, err := countEntries(tx, collectionID)
		if err != nil {
			return err
		}
		if newPosition >= count {
			return ErrInvalidPosition
		}

		q := tx.Where("collection_id = ? AND track_id = ?", collectionID, trackID)
		if oldPosition != nil {
			q = q.Where("position = ?", *oldPosition)
		}

		var mover model.CollectionEntry
		if err := q.Order("position ASC").First(&mover).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return ErrEntryNotFound
			}
			return fmt.Errorf("failed to locate entry: %w", err)
		}

		if mover.Position == newPosition {
			return nil // no-op
		}

		// 先把移动行泊到哨兵位，腾出它的槽
		if err := tx.Model(&model.CollectionEntry{}).
			Where("id = ?", mover.ID).
			Update("position", -1).Error; err != nil {
			return fmt.Errorf("failed to park moving entry: %w", err)
		}

		if newPosition < mover.Position {
			// 后移区间 [new, old-1]
			if err := shiftUpRange(tx, collectionID, newPosition, mover.Position-1); err != nil {
				return err
			}
		} else {
			// 前移区间 [old+1, new]
			if err := shiftDownRange(tx, collectionID, mover.Position+1, newPosition); err != nil {
				return err
			}
		}

		if err := tx.Model(&model.CollectionEntry{}).
			Where("id = ?", mover.ID).
			Update("position", newPosition).Error; err != nil {
			return fmt.Errorf("failed to place moving entry: %w", err)
		}
		return touchCollection(tx, collectionID)
	})
	if err != nil {
		return nil, err
	}

	return s.Get(ctx, collectionID)
}

// Clear 清空集合成员，保留集合本身
func (s *gormCollectionStore) Clear(ctx context.Context, collectionID string) error {
	unlock := s.lockCollection(collectionID)
	defer unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := requireMutable(tx, collectionID); err != nil {
			return err
		}
		if err := tx.Where("collection_id = ?", collectionID).Delete(&model.CollectionEntry{}).Error; err != nil {
			return fmt.Errorf("failed to clear entries: %w", err)
		}
		return touchCollection(tx, collectionID)
	})
}

// ========== 读取 ==========

// List returns one page of entries ordered by position, plus the total entry
// count. limit <= 0 returns everything. For the virtual library collection the
// page is derived from the track catalog ordered by artist then title.
func (s *gormCollectionStore) List(ctx context.Context, collectionID string, limit, offset int) ([]model.EntryWithTrack, int64, error) {
	col, err := getCollectionRow(s.db.WithContext(ctx), collectionID)
	if err != nil {
		return nil, 0, err
	}

	if col.Type == model.CollectionTypeLibrary {
		return s.listLibrary(ctx, limit, offset)
	}

	var total int64
	err = s.db.WithContext(ctx).Model(&model.CollectionEntry{}).
		Where("collection_id = ?", collectionID).
		Count(&total).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count entries: %w", err)
	}

	q := s.db.WithContext(ctx).
		Table("collection_entries AS e").
		Select("e.track_id AS track_id, e.position AS position, e.added_at AS added_at, "+
			"COALESCE(t.title, '') AS title, COALESCE(t.artist, '') AS artist, "+
			"COALESCE(t.album, '') AS album, COALESCE(t.duration, 0) AS duration").
		Joins("LEFT JOIN tracks AS t ON t.id = e.track_id").
		Where("e.collection_id = ?", collectionID).
		Order("e.position ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}

	entries := make([]model.EntryWithTrack, 0)
	if err := q.Scan(&entries).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list entries: %w", err)
	}
	return entries, total, nil
}

// listLibrary 虚拟曲库集合：成员由 tracks 表派生，position 为排序序号
func (s *gormCollectionStore) listLibrary(ctx context.Context, limit, offset int) ([]model.EntryWithTrack, int64, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&model.Track{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count tracks: %w", err)
	}

	q := s.db.WithContext(ctx).Model(&model.Track{}).Order("artist ASC, title ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}

	var tracks []model.Track
	if err := q.Find(&tracks).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list library tracks: %w", err)
	}

	entries := make([]model.EntryWithTrack, 0, len(tracks))
	for i, t := range tracks {
		entries = append(entries, model.EntryWithTrack{
			TrackID:  t.ID,
			Position: offset + i,
			AddedAt:  t.CreatedAt,
			Title:    t.Title,
			Artist:   t.Artist,
			Album:    t.Album,
			Duration: t.Duration,
		})
	}
	return entries, total, nil
}

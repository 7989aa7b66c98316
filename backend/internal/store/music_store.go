package store

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

var ErrMusicNotFound = errors.New("store: music not found")

type MusicStore struct{ db *gorm.DB }

func NewMusicStore(db *gorm.DB) *MusicStore {
	return &MusicStore{db: db}
}

func (s *MusicStore) Insert(ctx context.Context, m *Music) error {
	return s.db.WithContext(ctx).Create(m).Error
}

// ListByUser 按创建时间倒序返回一个用户的作品列表。
func (s *MusicStore) ListByUser(ctx context.Context, userID uint64) ([]Music, error) {
	var musics []Music
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&musics).Error
	return musics, err
}

// UpdateStatus 推进作品的生命周期（processing → ready / failed）。
// url 只在 ready 时有值，失败路径传空串把半成品链接清掉。
// 不检查 RowsAffected：值没变化时 MySQL 也报 0 行。
func (s *MusicStore) UpdateStatus(ctx context.Context, musicID uint64, status, url string) error {
	return s.db.WithContext(ctx).Model(&Music{}).
		Where("id = ?", musicID).
		Updates(map[string]interface{}{"status": status, "url": url}).Error
}

// Delete 只允许删除属于该用户的作品。
func (s *MusicStore) Delete(ctx context.Context, userID, musicID uint64) error {
	res := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", musicID, userID).
		Delete(&Music{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrMusicNotFound
	}
	return nil
}

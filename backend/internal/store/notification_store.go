package store

import (
	"context"

	"gorm.io/gorm"
)

type NotificationStore struct{ db *gorm.DB }

func NewNotificationStore(db *gorm.DB) *NotificationStore {
	return &NotificationStore{db: db}
}

func (s *NotificationStore) Insert(ctx context.Context, n *Notification) error {
	return s.db.WithContext(ctx).Create(n).Error
}

func (s *NotificationStore) ListByUser(ctx context.Context, userID uint64, limit, offset int) ([]Notification, error) {
	var list []Notification
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&list).Error
	return list, err
}

func (s *NotificationStore) UnreadCount(ctx context.Context, userID uint64) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&Notification{}).
		Where("user_id = ? AND `read` = ?", userID, false).
		Count(&count).Error
	return count, err
}

// MarkRead 把指定 id 的未读通知置为已读；ids 为空则全部置为已读。
func (s *NotificationStore) MarkRead(ctx context.Context, userID uint64, ids []uint64) error {
	q := s.db.WithContext(ctx).
		Model(&Notification{}).
		Where("user_id = ? AND `read` = ?", userID, false)
	if len(ids) > 0 {
		q = q.Where("id IN ?", ids)
	}
	return q.Update("read", true).Error
}

func (s *NotificationStore) InsertHistory(ctx context.Context, h *ProcessHistory) error {
	return s.db.WithContext(ctx).Create(h).Error
}

func (s *NotificationStore) ListHistory(ctx context.Context, userID uint64, limit, offset int) ([]ProcessHistory, error) {
	var list []ProcessHistory
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&list).Error
	return list, err
}

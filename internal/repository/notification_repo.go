package repository

import (
	"context"
	"errors"
	"time"

	"sproutmarket/internal/model"

	"gorm.io/gorm"
)

var ErrNotificationNotFound = errors.New("通知不存在")

// NotificationFilter Unread 为 nil 时不过滤已读状态
type NotificationFilter struct {
	Unread *bool
	Type   string
}

// NotificationStats 通知统计
type NotificationStats struct {
	Total  int64            `json:"total"`
	Unread int64            `json:"unread"`
	Read   int64            `json:"read"`
	ByType map[string]int64 `json:"by_type"`
}

type NotificationRepository struct {
	db *gorm.DB
}

func NewNotificationRepository(db *gorm.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

func (r *NotificationRepository) Create(ctx context.Context, n *model.Notification) error {
	if n.Metadata == nil {
		n.Metadata = model.JSONMap{}
	}
	return r.db.WithContext(ctx).Create(n).Error
}

// MarkEmailSent 只在渠道确认投递后调用
func (r *NotificationRepository) MarkEmailSent(ctx context.Context, id int64, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.Notification{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"email_sent": true, "email_sent_at": at}).Error
}

func (r *NotificationRepository) MarkPushSent(ctx context.Context, id int64, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.Notification{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"push_sent": true, "push_sent_at": at}).Error
}

func (r *NotificationRepository) GetForUser(ctx context.Context, userID, id int64) (*model.Notification, error) {
	var n model.Notification
	err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&n).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotificationNotFound
		}
		return nil, err
	}
	return &n, nil
}

func (r *NotificationRepository) List(ctx context.Context, userID int64, f NotificationFilter, page Page) ([]*model.Notification, int64, error) {
	var list []*model.Notification
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Notification{}).Where("user_id = ?", userID)
	if f.Unread != nil {
		query = query.Where("is_read = ?", !*f.Unread)
	}
	if f.Type != "" {
		query = query.Where("type = ?", f.Type)
	}
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := query.
		Order("created_at DESC, id DESC").
		Offset(page.Offset()).
		Limit(page.Limit()).
		Find(&list).Error
	return list, total, err
}

func (r *NotificationRepository) Recent(ctx context.Context, userID int64, limit int) ([]*model.Notification, error) {
	var list []*model.Notification
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&list).Error
	return list, err
}

// MarkRead 已读的通知保持原 read_at
func (r *NotificationRepository) MarkRead(ctx context.Context, userID, id int64, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&model.Notification{}).
		Where("id = ? AND user_id = ? AND is_read = ?", id, userID, false).
		Updates(map[string]interface{}{"is_read": true, "read_at": at})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetForUser(ctx, userID, id); err != nil {
			return err
		}
	}
	return nil
}

// MarkAllRead ids 为空时标记全部未读通知
func (r *NotificationRepository) MarkAllRead(ctx context.Context, userID int64, ids []int64, at time.Time) (int64, error) {
	query := r.db.WithContext(ctx).
		Model(&model.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false)
	if len(ids) > 0 {
		query = query.Where("id IN ?", ids)
	}
	result := query.Updates(map[string]interface{}{"is_read": true, "read_at": at})
	return result.RowsAffected, result.Error
}

func (r *NotificationRepository) UnreadCount(ctx context.Context, userID int64) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&model.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Count(&n).Error
	return n, err
}

func (r *NotificationRepository) Delete(ctx context.Context, userID, id int64) error {
	result := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&model.Notification{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

// ClearAll onlyRead 为 true 时只删除已读通知
func (r *NotificationRepository) ClearAll(ctx context.Context, userID int64, onlyRead bool) (int64, error) {
	query := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if onlyRead {
		query = query.Where("is_read = ?", true)
	}
	result := query.Delete(&model.Notification{})
	return result.RowsAffected, result.Error
}

func (r *NotificationRepository) Stats(ctx context.Context, userID int64) (*NotificationStats, error) {
	var rows []struct {
		Type   string
		IsRead bool
		N      int64
	}
	err := r.db.WithContext(ctx).
		Model(&model.Notification{}).
		Select("type, is_read, COUNT(*) AS n").
		Where("user_id = ?", userID).
		Group("type, is_read").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	stats := &NotificationStats{ByType: map[string]int64{}}
	for _, row := range rows {
		stats.Total += row.N
		stats.ByType[row.Type] += row.N
		if row.IsRead {
			stats.Read += row.N
		} else {
			stats.Unread += row.N
		}
	}
	return stats, nil
}

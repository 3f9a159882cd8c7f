package handler

import (
	"strconv"

	"sproutmarket/internal/repository"
	"sproutmarket/pkg/response"

	"github.com/gin-gonic/gin"
)

// ============================================================
// 站内通知
// ============================================================

// ListNotifications 通知列表
// GET /api/notifications?unread=true&type=sale_made
func (h *Handler) ListNotifications(c *gin.Context) {
	f := repository.NotificationFilter{Type: c.Query("type")}
	if raw := c.Query("unread"); raw != "" {
		unread, err := strconv.ParseBool(raw)
		if err != nil {
			response.ParamError(c, "unread 只能是 true 或 false")
			return
		}
		f.Unread = &unread
	}
	page := pageParams(c)
	items, total, err := h.notificationService.List(c.Request.Context(), userID(c), f, page)
	if err != nil {
		response.Fail(c, err)
		return
	}
	writePage(c, items, total, page)
}

// GetNotification 详情，同时标记为已读
// GET /api/notifications/:id
func (h *Handler) GetNotification(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	n, err := h.notificationService.Get(c.Request.Context(), userID(c), id)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, n)
}

// MarkRead 标记已读
// POST /api/notifications/:id/read
func (h *Handler) MarkRead(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	n, already, err := h.notificationService.MarkRead(c.Request.Context(), userID(c), id)
	if err != nil {
		response.Fail(c, err)
		return
	}
	msg := "已标记为已读"
	if already {
		msg = "通知此前已读"
	}
	response.Success(c, gin.H{"notification": n, "message": msg})
}

type MarkAllReadRequest struct {
	IDs []int64 `json:"notification_ids"`
}

// MarkAllRead 全部或指定通知标记已读
// POST /api/notifications/read-all
func (h *Handler) MarkAllRead(c *gin.Context) {
	var req MarkAllReadRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BindError(c, err)
			return
		}
	}
	n, err := h.notificationService.MarkAllRead(c.Request.Context(), userID(c), req.IDs)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, gin.H{"updated": n})
}

// DeleteNotification 删除通知
// DELETE /api/notifications/:id
func (h *Handler) DeleteNotification(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.notificationService.Delete(c.Request.Context(), userID(c), id); err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, gin.H{"message": "通知已删除"})
}

// UnreadCount 未读数量
// GET /api/notifications/unread-count
func (h *Handler) UnreadCount(c *gin.Context) {
	n, err := h.notificationService.UnreadCount(c.Request.Context(), userID(c))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, gin.H{"unread_count": n})
}

// RecentNotifications 最近通知
// GET /api/notifications/recent
func (h *Handler) RecentNotifications(c *gin.Context) {
	items, err := h.notificationService.Recent(c.Request.Context(), userID(c))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, items)
}

// ClearAllNotifications 清空全部通知
// DELETE /api/notifications/clear-all
func (h *Handler) ClearAllNotifications(c *gin.Context) {
	n, err := h.notificationService.ClearAll(c.Request.Context(), userID(c))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, gin.H{"deleted": n})
}

// ClearReadNotifications 清空已读通知
// DELETE /api/notifications/clear-read
func (h *Handler) ClearReadNotifications(c *gin.Context) {
	n, err := h.notificationService.ClearRead(c.Request.Context(), userID(c))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, gin.H{"deleted": n})
}

// NotificationStats 通知统计
// GET /api/notifications/stats
func (h *Handler) NotificationStats(c *gin.Context) {
	st, err := h.notificationService.Stats(c.Request.Context(), userID(c))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, st)
}

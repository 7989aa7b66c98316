package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lucasmd12/Criaii/backend/internal/relay"
	"github.com/lucasmd12/Criaii/backend/internal/store"
)

const defaultPageSize = 50

type NotificationHandler struct {
	notifications *store.NotificationStore
	relay         *relay.Relay
}

func NewNotificationHandler(ns *store.NotificationStore, r *relay.Relay) *NotificationHandler {
	return &NotificationHandler{notifications: ns, relay: r}
}

type markReadReq struct {
	// 为空表示全部标记已读
	IDs []uint64 `json:"ids"`
}

// List 返回通知列表和未读数。通知是实时事件的兜底真相，
// 所以这里直接读库，不走缓存。
func (h *NotificationHandler) List(c *gin.Context) {
	userID := c.GetUint64("userId")
	if userID == 0 {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "User context missing"})
		return
	}

	limit, offset := pagination(c)
	list, err := h.notifications.ListByUser(c.Request.Context(), userID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取通知失败"})
		return
	}
	unread, err := h.notifications.UnreadCount(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取未读数失败"})
		return
	}

	out := make([]gin.H, 0, len(list))
	for _, n := range list {
		out = append(out, gin.H{
			"id":        n.ID,
			"title":     n.Title,
			"message":   n.Message,
			"type":      n.Type,
			"read":      n.Read,
			"metadata":  n.Metadata,
			"createdAt": n.CreatedAt.Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"notifications": out, "unreadCount": unread})
}

func (h *NotificationHandler) MarkRead(c *gin.Context) {
	userID := c.GetUint64("userId")
	if userID == 0 {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "User context missing"})
		return
	}

	var req markReadReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "JSON格式错误"})
		return
	}

	if err := h.notifications.MarkRead(c.Request.Context(), userID, req.IDs); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "标记已读失败"})
		return
	}

	// 同一用户的其他设备据此刷新未读角标
	h.relay.Publish(c.Request.Context(), relay.EventDataChanged,
		strconv.FormatUint(userID, 10), relay.DataChangedPayload{Resource: "notifications"})

	c.JSON(http.StatusOK, gin.H{"message": "ok"})
}

// History 返回生成过程的检查点留痕，按时间倒序。
func (h *NotificationHandler) History(c *gin.Context) {
	userID := c.GetUint64("userId")
	if userID == 0 {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "User context missing"})
		return
	}

	limit, offset := pagination(c)
	list, err := h.notifications.ListHistory(c.Request.Context(), userID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取历史失败"})
		return
	}

	out := make([]gin.H, 0, len(list))
	for _, hrec := range list {
		out = append(out, gin.H{
			"processId": hrec.ProcessID,
			"step":      hrec.Step,
			"status":    hrec.Status,
			"message":   hrec.Message,
			"createdAt": hrec.CreatedAt.Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"history": out})
}

func pagination(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageSize)))
	if limit <= 0 || limit > 200 {
		limit = defaultPageSize
	}
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

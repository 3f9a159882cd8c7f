package handler

import (
	"log"
	"net/http"

	"sproutmarket/pkg/response"

	"github.com/gin-gonic/gin"
)

// ============================================================
// 高级会员订阅
// ============================================================

// CreateSubscription 创建订阅，返回首期支付的 client secret
// POST /api/subscriptions
func (h *Handler) CreateSubscription(c *gin.Context) {
	res, err := h.subscriptionService.Create(c.Request.Context(), userID(c))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Created(c, res)
}

// CancelSubscription 到期后取消
// POST /api/subscriptions/cancel
func (h *Handler) CancelSubscription(c *gin.Context) {
	res, err := h.subscriptionService.Cancel(c.Request.Context(), userID(c))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, res)
}

// ReactivateSubscription 撤销到期取消
// POST /api/subscriptions/reactivate
func (h *Handler) ReactivateSubscription(c *gin.Context) {
	res, err := h.subscriptionService.Reactivate(c.Request.Context(), userID(c))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, res)
}

// SubscriptionStatus 订阅状态
// GET /api/subscriptions/status
func (h *Handler) SubscriptionStatus(c *gin.Context) {
	st, err := h.subscriptionService.Status(c.Request.Context(), userID(c))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, st)
}

// SubscriptionHistory 订阅记录
// GET /api/subscriptions/history
func (h *Handler) SubscriptionHistory(c *gin.Context) {
	page := pageParams(c)
	items, total, err := h.subscriptionService.History(c.Request.Context(), userID(c), page)
	if err != nil {
		response.Fail(c, err)
		return
	}
	writePage(c, items, total, page)
}

// SubscriptionBenefits 会员权益说明
// GET /api/subscriptions/benefits
func (h *Handler) SubscriptionBenefits(c *gin.Context) {
	response.Success(c, h.subscriptionService.Benefits())
}

// StripeWebhook 验签失败返回 400；已验签事件即使处理失败也返回 200，避免渠道重复投递
// POST /api/subscriptions/webhook
func (h *Handler) StripeWebhook(c *gin.Context) {
	payload, err := c.GetRawData()
	if err != nil {
		response.ParamError(c, "读取请求体失败")
		return
	}
	ev, err := h.subscriptionService.ParseWebhook(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		log.Printf("[Webhook] 验签失败: %v", err)
		response.Error(c, http.StatusBadRequest, "签名或负载无效")
		return
	}
	if err := h.subscriptionService.HandleEvent(c.Request.Context(), ev); err != nil {
		log.Printf("[Webhook] 事件处理失败: id=%s, type=%s, err=%v", ev.ID, ev.Type, err)
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

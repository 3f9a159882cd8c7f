package handler

import (
	"strings"

	"sproutmarket/internal/apperr"
	"sproutmarket/internal/service"
	"sproutmarket/pkg/response"

	"github.com/gin-gonic/gin"
)

// ============================================================
// 购物车
// ============================================================

// GetCart 购物车（实时价格）
// GET /api/cart
func (h *Handler) GetCart(c *gin.Context) {
	view, err := h.cartService.View(c.Request.Context(), userID(c))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, view)
}

type AddCartItemRequest struct {
	ProductID int64 `json:"product_id" binding:"required,gt=0"`
	Quantity  int   `json:"quantity" binding:"omitempty,gte=1"`
}

// AddCartItem 加入购物车，已存在时累加
// POST /api/cart/items
func (h *Handler) AddCartItem(c *gin.Context) {
	var req AddCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	view, err := h.cartService.AddItem(c.Request.Context(), userID(c), req.ProductID, req.Quantity)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, view)
}

type UpdateCartItemRequest struct {
	Quantity int `json:"quantity" binding:"required,gte=1"`
}

// UpdateCartItem 修改数量
// PATCH /api/cart/items/:product_id
func (h *Handler) UpdateCartItem(c *gin.Context) {
	productID, ok := idParam(c, "product_id")
	if !ok {
		return
	}
	var req UpdateCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}
	view, err := h.cartService.UpdateItem(c.Request.Context(), userID(c), productID, req.Quantity)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, view)
}

// RemoveCartItem 移除商品
// DELETE /api/cart/items/:product_id
func (h *Handler) RemoveCartItem(c *gin.Context) {
	productID, ok := idParam(c, "product_id")
	if !ok {
		return
	}
	view, err := h.cartService.RemoveItem(c.Request.Context(), userID(c), productID)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, view)
}

// ClearCart 清空购物车
// DELETE /api/cart
func (h *Handler) ClearCart(c *gin.Context) {
	if err := h.cartService.Clear(c.Request.Context(), userID(c)); err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, gin.H{"message": "购物车已清空"})
}

// ============================================================
// 结算
// ============================================================

// InitiateCheckout 校验购物车并创建支付意图
// POST /api/checkout/initiate
func (h *Handler) InitiateCheckout(c *gin.Context) {
	var req service.BuyerInfo
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}
	resp, err := h.checkoutService.InitiateCheckout(c.Request.Context(), userID(c), req)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, resp)
}

type ConfirmPaymentRequest struct {
	PaymentIntentID string `json:"payment_intent_id" binding:"required"`
	service.BuyerInfo
}

// ConfirmPayment 支付成功后落单，同一支付重复确认返回原订单
// POST /api/checkout/confirm
func (h *Handler) ConfirmPayment(c *gin.Context) {
	var req ConfirmPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}
	pid := strings.TrimSpace(req.PaymentIntentID)
	if pid == "" {
		response.Fail(c, apperr.Validation("payment_intent_id", "payment_intent_id 不能为空"))
		return
	}
	order, created, err := h.checkoutService.ConfirmPayment(c.Request.Context(), userID(c), pid, req.BuyerInfo)
	if err != nil {
		response.Fail(c, err)
		return
	}
	if created {
		response.Created(c, order)
		return
	}
	response.Success(c, order)
}

// ============================================================
// 订单与销售
// ============================================================

// ListOrders 我的订单
// GET /api/orders
func (h *Handler) ListOrders(c *gin.Context) {
	page := pageParams(c)
	items, total, err := h.checkoutService.Orders(c.Request.Context(), userID(c), page)
	if err != nil {
		response.Fail(c, err)
		return
	}
	writePage(c, items, total, page)
}

// GetOrder 订单详情
// GET /api/orders/:id
func (h *Handler) GetOrder(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	order, err := h.checkoutService.Order(c.Request.Context(), userID(c), id)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, order)
}

// RecentOrders 最近订单
// GET /api/orders/recent
func (h *Handler) RecentOrders(c *gin.Context) {
	items, err := h.checkoutService.RecentOrders(c.Request.Context(), userID(c))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, items)
}

// OrderStats 购买统计
// GET /api/orders/stats
func (h *Handler) OrderStats(c *gin.Context) {
	st, err := h.checkoutService.OrderStats(c.Request.Context(), userID(c))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, st)
}

// ListSales 我参与的销售
// GET /api/sales
func (h *Handler) ListSales(c *gin.Context) {
	page := pageParams(c)
	items, total, err := h.checkoutService.Sales(c.Request.Context(), userID(c), page)
	if err != nil {
		response.Fail(c, err)
		return
	}
	writePage(c, items, total, page)
}

// SalesStats 销售统计
// GET /api/sales/stats
func (h *Handler) SalesStats(c *gin.Context) {
	st, err := h.checkoutService.SalesStats(c.Request.Context(), userID(c))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, st)
}

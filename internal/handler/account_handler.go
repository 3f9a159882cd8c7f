package handler

import (
	"sproutmarket/internal/service"
	"sproutmarket/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// ============================================================
// 认证相关接口
// ============================================================

// Register 注册
// POST /api/auth/register
func (h *Handler) Register(c *gin.Context) {
	var req service.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}
	user, err := h.authService.Register(c.Request.Context(), &req)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Created(c, gin.H{
		"user":    user,
		"message": "注册成功，请查收邮箱验证码",
	})
}

type VerifyEmailRequest struct {
	Username string `json:"username" binding:"required"`
	Code     string `json:"code" binding:"required"`
}

// VerifyEmail 邮箱验证
// POST /api/auth/verify-email
func (h *Handler) VerifyEmail(c *gin.Context) {
	var req VerifyEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}
	if err := h.authService.VerifyEmail(c.Request.Context(), req.Username, req.Code); err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, gin.H{"message": "邮箱验证成功"})
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login 登录
// POST /api/auth/login
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}
	resp, err := h.authService.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, resp)
}

type ForgotPasswordRequest struct {
	Username string `json:"username" binding:"required"`
}

// ForgotPassword 发送重置密码验证码
// POST /api/auth/forgot-password
func (h *Handler) ForgotPassword(c *gin.Context) {
	var req ForgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}
	if err := h.authService.ForgotPassword(c.Request.Context(), req.Username); err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, gin.H{"message": "验证码已发送"})
}

type ResetPasswordRequest struct {
	Username    string `json:"username" binding:"required"`
	Code        string `json:"code" binding:"required"`
	NewPassword string `json:"new_password" binding:"required,min=8"`
}

// ResetPassword 使用验证码重置密码
// POST /api/auth/reset-password
func (h *Handler) ResetPassword(c *gin.Context) {
	var req ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}
	if err := h.authService.ConfirmForgotPassword(c.Request.Context(), req.Username, req.Code, req.NewPassword); err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, gin.H{"message": "密码已重置"})
}

// Logout 登出
// POST /api/auth/logout
func (h *Handler) Logout(c *gin.Context) {
	if err := h.authService.Logout(c.Request.Context(), c.GetString(ctxTokenKey)); err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, gin.H{"message": "已登出"})
}

// ============================================================
// 账户相关接口
// ============================================================

// GetProfile 当前用户资料
// GET /api/users/me
func (h *Handler) GetProfile(c *gin.Context) {
	user, err := h.accountService.Profile(c.Request.Context(), userID(c))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, user)
}

// UpdateProfile 更新资料
// PATCH /api/users/me
func (h *Handler) UpdateProfile(c *gin.Context) {
	var req service.UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}
	user, err := h.accountService.UpdateProfile(c.Request.Context(), userID(c), &req)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, user)
}

// GetBalance 查询余额
// GET /api/users/me/balance
func (h *Handler) GetBalance(c *gin.Context) {
	balance, err := h.accountService.Balance(c.Request.Context(), userID(c))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, balance)
}

type WithdrawRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// Withdraw 提现登记
// POST /api/users/me/withdraw
func (h *Handler) Withdraw(c *gin.Context) {
	var req WithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}
	resp, err := h.accountService.Withdraw(c.Request.Context(), userID(c), req.Amount)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Created(c, resp)
}

// ListTransactions 流水列表，可按 type 过滤
// GET /api/transactions?type=sale&page=1&page_size=20
func (h *Handler) ListTransactions(c *gin.Context) {
	page := pageParams(c)
	items, total, err := h.accountService.Transactions(c.Request.Context(), userID(c), c.Query("type"), page)
	if err != nil {
		response.Fail(c, err)
		return
	}
	writePage(c, items, total, page)
}

// GetTransaction 流水详情
// GET /api/transactions/:id
func (h *Handler) GetTransaction(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	txn, err := h.accountService.Transaction(c.Request.Context(), userID(c), id)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, txn)
}

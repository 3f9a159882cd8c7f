package service

import "sproutmarket/internal/apperr"

// 业务错误，调用点可用 WithField / WithDetails / Msg 附加上下文
var (
	ErrNotAuthenticated  = apperr.New(apperr.KindUnauthorized, "not_authenticated", "未登录或登录已失效")
	ErrInvalidCredential = apperr.New(apperr.KindUnauthorized, "invalid_credentials", "用户名或密码错误")
	ErrEmailNotVerified  = apperr.New(apperr.KindUnauthorized, "email_not_verified", "邮箱尚未验证")
	ErrUserExists        = apperr.Conflict("user_exists", "用户名或邮箱已被注册")
	ErrCodeMismatch      = apperr.Validation("code", "验证码错误或已过期")
	ErrUserNotFound      = apperr.NotFound("user_not_found", "用户不存在")

	ErrCategoryNotFound   = apperr.NotFound("category_not_found", "分类不存在")
	ErrInvalidCategories  = apperr.Validation("category_ids", "商品需要选择 1 到 3 个有效分类")
	ErrProductNotFound    = apperr.NotFound("product_not_found", "商品不存在")
	ErrProductLimit       = apperr.Conflict("product_limit_reached", "已达到可上架商品数量上限")
	ErrNotProductOwner    = apperr.Forbidden("not_product_owner", "只能操作自己的商品")
	ErrProductDeleted     = apperr.InvalidState("product_deleted", "商品已删除")
	ErrProductNotDeleted  = apperr.InvalidState("product_not_deleted", "商品未被删除")
	ErrMainImageRequired  = apperr.Validation("image1", "至少需要上传一张主图")
	ErrInvalidImage       = apperr.Validation("image", "图片格式或大小不符合要求")
	ErrImageUploadFailed  = apperr.New(apperr.KindExternal, "image_upload_failed", "图片上传失败")
	ErrInvalidOrdering    = apperr.Validation("ordering", "不支持的排序字段")
	ErrInvalidTransaction = apperr.Validation("transaction_type", "不支持的流水类型")

	ErrProductUnavailable   = apperr.InvalidState("product_unavailable", "商品已下架或缺货")
	ErrOwnProduct           = apperr.Forbidden("own_product", "不能购买自己的商品")
	ErrInsufficientStock    = apperr.Conflict("insufficient_stock", "库存不足")
	ErrNotInCart            = apperr.NotFound("not_in_cart", "商品不在购物车中")
	ErrCartEmpty            = apperr.InvalidState("cart_empty", "购物车为空")
	ErrCheckoutBusy         = apperr.Conflict("checkout_in_progress", "结算处理中，请稍后重试")
	ErrInvalidQuantityValue = apperr.Validation("quantity", "数量至少为 1")

	ErrPaymentNotFound          = apperr.NotFound("payment_not_found", "支付记录不存在")
	ErrPaymentIncomplete        = apperr.InvalidState("payment_incomplete", "支付尚未完成")
	ErrPaymentOwnershipMismatch = apperr.Forbidden("payment_ownership_mismatch", "支付记录不属于当前用户")
	ErrPaymentAmountMismatch    = apperr.Validation("payment_intent_id", "支付金额或币种不匹配")
	ErrPaymentAlreadyUsed       = apperr.Conflict("payment_already_used", "该支付已被使用")
	ErrOrderNotFound            = apperr.NotFound("order_not_found", "订单不存在")

	ErrExchangeNotFound    = apperr.NotFound("exchange_not_found", "交换不存在")
	ErrNotExchangeOwner    = apperr.Forbidden("not_exchange_owner", "只能操作自己的交换")
	ErrExchangeClosed      = apperr.InvalidState("exchange_completed", "交换已完成，无法修改")
	ErrExchangeNotActive   = apperr.InvalidState("exchange_not_active", "交换不是进行中状态")
	ErrExchangeNotCanceled = apperr.InvalidState("exchange_not_canceled", "只有已取消的交换可以重新激活")
	ErrOwnExchange         = apperr.Forbidden("own_exchange", "不能对自己的交换报价")
	ErrCapacityExceeded    = apperr.Conflict("capacity_exceeded", "该交换的待处理报价已满")
	ErrDuplicateOffer      = apperr.Conflict("duplicate_offer", "你已对该交换提交过待处理报价")
	ErrOfferNotFound       = apperr.NotFound("offer_not_found", "报价不存在")
	ErrAlreadyResolved     = apperr.InvalidState("already_resolved", "报价已处理")
	ErrListingInactive     = apperr.InvalidState("listing_inactive", "交换已结束")
	ErrInvalidAction       = apperr.Validation("action", "action 只能是 accept 或 reject")
	ErrExchangeBusy        = apperr.Conflict("exchange_busy", "交换正在处理其他报价，请稍后重试")

	ErrNotificationNotFound = apperr.NotFound("notification_not_found", "通知不存在")

	ErrAlreadyPremium       = apperr.Conflict("already_premium", "已是高级会员")
	ErrNoSubscription       = apperr.NotFound("subscription_not_found", "没有订阅记录")
	ErrSubscriptionInactive = apperr.InvalidState("subscription_inactive", "订阅不是有效状态")
	ErrNotCanceling         = apperr.InvalidState("subscription_not_canceling", "订阅未设置到期取消")

	ErrInvalidAmount       = apperr.Validation("amount", "金额必须大于 0")
	ErrBalanceNotEnough    = apperr.Conflict("insufficient_balance", "可用余额不足")
	ErrTransactionNotFound = apperr.NotFound("transaction_not_found", "流水不存在")
)

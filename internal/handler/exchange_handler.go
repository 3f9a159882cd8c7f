package handler

import (
	"strconv"
	"strings"

	"sproutmarket/internal/apperr"
	"sproutmarket/internal/repository"
	"sproutmarket/internal/service"
	"sproutmarket/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// ============================================================
// 植物交换
// ============================================================

func exchangeFilter(c *gin.Context) (repository.ExchangeFilter, error) {
	f := repository.ExchangeFilter{
		Location: c.Query("location"),
		Search:   c.Query("search"),
	}
	bounds := []struct {
		key string
		dst **decimal.Decimal
	}{
		{"min_height", &f.MinHeight},
		{"max_height", &f.MaxHeight},
		{"min_width", &f.MinWidth},
		{"max_width", &f.MaxWidth},
	}
	for _, b := range bounds {
		v, err := queryDecimal(c, b.key)
		if err != nil {
			return f, err
		}
		*b.dst = v
	}
	return f, nil
}

// ListExchanges 进行中的交换
// GET /api/exchanges?location=cdmx&min_height=10&search=cactus
func (h *Handler) ListExchanges(c *gin.Context) {
	f, err := exchangeFilter(c)
	if err != nil {
		response.Fail(c, err)
		return
	}
	page := pageParams(c)
	items, total, err := h.exchangeService.List(c.Request.Context(), f, page)
	if err != nil {
		response.Fail(c, err)
		return
	}
	writePage(c, items, total, page)
}

// ExchangePaymentIntent 创建发布费支付意图
// POST /api/exchanges/payment-intent
func (h *Handler) ExchangePaymentIntent(c *gin.Context) {
	intent, err := h.exchangeService.CreatePublicationIntent(c.Request.Context(), userID(c))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, intent)
}

// CreateExchange 支付完成后发布交换（multipart 表单）
// POST /api/exchanges
func (h *Handler) CreateExchange(c *gin.Context) {
	f := &form{c: c}
	in := &service.ExchangeInput{
		PlantInput:      f.plant(),
		Location:        f.text("location"),
		PaymentIntentID: f.text("payment_intent_id"),
	}
	images, closeImages := f.images()
	defer closeImages()
	in.Images = images
	if f.err == nil && in.PaymentIntentID == "" {
		f.fail("payment_intent_id", "payment_intent_id 不能为空")
	}
	if f.err != nil {
		response.Fail(c, f.err)
		return
	}

	ex, err := h.exchangeService.Create(c.Request.Context(), userID(c), in)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Created(c, ex)
}

// MyExchanges 我发布的交换
// GET /api/exchanges/mine?status=active
func (h *Handler) MyExchanges(c *gin.Context) {
	page := pageParams(c)
	items, total, err := h.exchangeService.Mine(c.Request.Context(), userID(c), c.Query("status"), page)
	if err != nil {
		response.Fail(c, err)
		return
	}
	writePage(c, items, total, page)
}

// GetExchange 交换详情；发布者可见待处理报价
// GET /api/exchanges/:id
func (h *Handler) GetExchange(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	detail, err := h.exchangeService.Get(c.Request.Context(), id, userID(c))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, detail)
}

// UpdateExchange 部分更新
// PATCH /api/exchanges/:id
func (h *Handler) UpdateExchange(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	f := &form{c: c}
	patch := &service.ExchangePatch{
		PlantCommonName:     f.str("plant_common_name"),
		PlantScientificName: f.str("plant_scientific_name"),
		Description:         f.str("description"),
		WidthCM:             f.nullDecimal("width_cm"),
		HeightCM:            f.nullDecimal("height_cm"),
		Location:            f.str("location"),
	}
	changes, closeImages := f.imageChanges()
	defer closeImages()
	patch.Images = changes
	if f.err != nil {
		response.Fail(c, f.err)
		return
	}

	ex, err := h.exchangeService.Update(c.Request.Context(), userID(c), id, patch)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, ex)
}

// CancelExchange 取消交换，待处理报价全部拒绝
// DELETE /api/exchanges/:id
func (h *Handler) CancelExchange(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	ex, err := h.exchangeService.Cancel(c.Request.Context(), userID(c), id)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, ex)
}

// ReactivateExchange 重新激活已取消的交换
// POST /api/exchanges/:id/reactivate
func (h *Handler) ReactivateExchange(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	ex, err := h.exchangeService.Reactivate(c.Request.Context(), userID(c), id)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, ex)
}

// ExchangeOffers 交换收到的报价，仅发布者可见
// GET /api/exchanges/:id/offers?status=pending
func (h *Handler) ExchangeOffers(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	page := pageParams(c)
	items, total, err := h.exchangeService.Offers(c.Request.Context(), userID(c), id, c.Query("status"), page)
	if err != nil {
		response.Fail(c, err)
		return
	}
	writePage(c, items, total, page)
}

// ExchangeOfferStats 报价按状态计数
// GET /api/exchanges/:id/offer-stats
func (h *Handler) ExchangeOfferStats(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	stats, err := h.exchangeService.OfferStats(c.Request.Context(), userID(c), id)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, stats)
}

// ============================================================
// 交换报价
// ============================================================

// CreateOffer 对交换提交报价（multipart 表单，需 exchange_id）
// POST /api/exchange-offers
func (h *Handler) CreateOffer(c *gin.Context) {
	f := &form{c: c}
	exchangeID, err := strconv.ParseInt(f.text("exchange_id"), 10, 64)
	if err != nil || exchangeID <= 0 {
		response.Fail(c, apperr.Validation("exchange_id", "exchange_id 参数错误"))
		return
	}
	in := f.plant()
	images, closeImages := f.images()
	defer closeImages()
	in.Images = images
	if f.err != nil {
		response.Fail(c, f.err)
		return
	}

	offer, err := h.exchangeService.CreateOffer(c.Request.Context(), userID(c), exchangeID, &in)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Created(c, offer)
}

// MyOffers 我发出的报价
// GET /api/exchange-offers/mine?status=pending
func (h *Handler) MyOffers(c *gin.Context) {
	page := pageParams(c)
	items, total, err := h.exchangeService.MyOffers(c.Request.Context(), userID(c), c.Query("status"), page)
	if err != nil {
		response.Fail(c, err)
		return
	}
	writePage(c, items, total, page)
}

// GetOffer 报价详情，报价人或交换发布者可见
// GET /api/exchange-offers/:id
func (h *Handler) GetOffer(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	offer, err := h.exchangeService.Offer(c.Request.Context(), userID(c), id)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, offer)
}

type RespondOfferRequest struct {
	Action string `json:"action" binding:"required"`
}

// RespondToOffer 接受或拒绝报价
// POST /api/exchange-offers/:id/respond
func (h *Handler) RespondToOffer(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req RespondOfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}
	action := strings.ToLower(strings.TrimSpace(req.Action))
	result, err := h.exchangeService.RespondToOffer(c.Request.Context(), userID(c), id, action)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, result)
}

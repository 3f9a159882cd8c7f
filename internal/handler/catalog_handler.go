package handler

import (
	"sproutmarket/internal/apperr"
	"sproutmarket/internal/repository"
	"sproutmarket/internal/service"
	"sproutmarket/pkg/response"

	"github.com/gin-gonic/gin"
)

// ============================================================
// 分类与商品
// ============================================================

// ListCategories 分类列表
// GET /api/categories
func (h *Handler) ListCategories(c *gin.Context) {
	items, err := h.catalogService.Categories(c.Request.Context())
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, items)
}

// GetCategory 按 slug 查询分类
// GET /api/categories/:slug
func (h *Handler) GetCategory(c *gin.Context) {
	cat, err := h.catalogService.CategoryBySlug(c.Request.Context(), c.Param("slug"))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, cat)
}

// CategoryProducts 分类下的在售商品
// GET /api/categories/:slug/products
func (h *Handler) CategoryProducts(c *gin.Context) {
	page := pageParams(c)
	items, total, err := h.catalogService.ProductsByCategory(c.Request.Context(), c.Param("slug"), page)
	if err != nil {
		response.Fail(c, err)
		return
	}
	writePage(c, items, total, page)
}

// productFilter 解析商品列表查询参数
func productFilter(c *gin.Context) (repository.ProductFilter, error) {
	f := repository.ProductFilter{
		SellerUsername: c.Query("seller"),
		City:           c.Query("city"),
		PremiumOnly:    queryBool(c, "premium"),
		InStock:        queryBool(c, "in_stock"),
		Search:         c.Query("search"),
		Ordering:       c.Query("ordering"),
	}
	ids, err := parseIDs(c.QueryArray("category"))
	if err != nil {
		return f, apperr.Validation("category", "category 必须是整数列表")
	}
	f.CategoryIDs = ids
	if f.MinPrice, err = queryDecimal(c, "min_price"); err != nil {
		return f, err
	}
	if f.MaxPrice, err = queryDecimal(c, "max_price"); err != nil {
		return f, err
	}
	return f, nil
}

// ListProducts 商品列表
// GET /api/products?category=1,2&min_price=10&search=monstera&ordering=-price_mxn
func (h *Handler) ListProducts(c *gin.Context) {
	f, err := productFilter(c)
	if err != nil {
		response.Fail(c, err)
		return
	}
	page := pageParams(c)
	items, total, err := h.catalogService.ListProducts(c.Request.Context(), f, page)
	if err != nil {
		response.Fail(c, err)
		return
	}
	writePage(c, items, total, page)
}

// FeaturedProducts 推荐商品
// GET /api/products/featured
func (h *Handler) FeaturedProducts(c *gin.Context) {
	items, err := h.catalogService.Featured(c.Request.Context())
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, items)
}

// MyProducts 我发布的商品
// GET /api/products/mine?status=active
func (h *Handler) MyProducts(c *gin.Context) {
	page := pageParams(c)
	items, total, err := h.catalogService.MyProducts(c.Request.Context(), userID(c), c.Query("status"), page)
	if err != nil {
		response.Fail(c, err)
		return
	}
	writePage(c, items, total, page)
}

// GetProduct 商品详情，非卖家浏览时计数
// GET /api/products/:id
func (h *Handler) GetProduct(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	p, err := h.catalogService.GetProduct(c.Request.Context(), id, userID(c))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, p)
}

// CreateProduct 发布商品（multipart 表单）
// POST /api/products
func (h *Handler) CreateProduct(c *gin.Context) {
	f := &form{c: c}
	in := &service.ProductInput{
		CommonName:     f.text("common_name"),
		ScientificName: f.text("scientific_name"),
		Description:    f.text("description"),
		CategoryIDs:    f.ids("category_ids"),
	}
	if q := f.integer("quantity"); q != nil {
		in.Quantity = *q
	}
	if p := f.decimal("price_mxn"); p != nil {
		in.PriceMXN = *p
	}
	if v := f.nullDecimal("width_cm"); v != nil {
		in.WidthCM = *v
	}
	if v := f.nullDecimal("height_cm"); v != nil {
		in.HeightCM = *v
	}
	if v := f.nullDecimal("weight_kg"); v != nil {
		in.WeightKG = *v
	}
	images, closeImages := f.images()
	defer closeImages()
	in.Images = images
	if f.err != nil {
		response.Fail(c, f.err)
		return
	}

	p, err := h.catalogService.CreateProduct(c.Request.Context(), userID(c), in)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Created(c, p)
}

// UpdateProduct 部分更新，未提交的字段保持不变
// PATCH /api/products/:id
func (h *Handler) UpdateProduct(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	f := &form{c: c}
	patch := &service.ProductPatch{
		CommonName:     f.str("common_name"),
		ScientificName: f.str("scientific_name"),
		Description:    f.str("description"),
		Quantity:       f.integer("quantity"),
		PriceMXN:       f.decimal("price_mxn"),
		WidthCM:        f.nullDecimal("width_cm"),
		HeightCM:       f.nullDecimal("height_cm"),
		WeightKG:       f.nullDecimal("weight_kg"),
		Status:         f.str("status"),
		CategoryIDs:    f.ids("category_ids"),
	}
	changes, closeImages := f.imageChanges()
	defer closeImages()
	patch.Images = changes
	if f.err != nil {
		response.Fail(c, f.err)
		return
	}

	p, err := h.catalogService.UpdateProduct(c.Request.Context(), userID(c), id, patch)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, p)
}

// DeleteProduct 软删除
// DELETE /api/products/:id
func (h *Handler) DeleteProduct(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.catalogService.DeleteProduct(c.Request.Context(), userID(c), id); err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, gin.H{"message": "商品已删除"})
}

// ReactivateProduct 重新上架已删除商品
// POST /api/products/:id/reactivate
func (h *Handler) ReactivateProduct(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	p, err := h.catalogService.ReactivateProduct(c.Request.Context(), userID(c), id)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, p)
}

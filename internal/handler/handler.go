package handler

import (
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"sproutmarket/internal/apperr"
	"sproutmarket/internal/infrastructure/storage"
	"sproutmarket/internal/model"
	"sproutmarket/internal/repository"
	"sproutmarket/internal/service"
	"sproutmarket/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

const (
	ctxUserKey  = "current_user"
	ctxTokenKey = "access_token"
)

// Services 处理器依赖的全部业务服务
type Services struct {
	Auth         *service.AuthService
	Account      *service.AccountService
	Catalog      *service.CatalogService
	Cart         *service.CartService
	Checkout     *service.CheckoutService
	Exchange     *service.ExchangeService
	Notification *service.NotificationService
	Subscription *service.SubscriptionService
}

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	authService         *service.AuthService
	accountService      *service.AccountService
	catalogService      *service.CatalogService
	cartService         *service.CartService
	checkoutService     *service.CheckoutService
	exchangeService     *service.ExchangeService
	notificationService *service.NotificationService
	subscriptionService *service.SubscriptionService
}

// NewHandler 创建处理器实例
func NewHandler(s Services) *Handler {
	return &Handler{
		authService:         s.Auth,
		accountService:      s.Account,
		catalogService:      s.Catalog,
		cartService:         s.Cart,
		checkoutService:     s.Checkout,
		exchangeService:     s.Exchange,
		notificationService: s.Notification,
		subscriptionService: s.Subscription,
	}
}

// currentUser 认证中间件写入的当前用户，未登录时为 nil
func currentUser(c *gin.Context) *model.User {
	v, ok := c.Get(ctxUserKey)
	if !ok {
		return nil
	}
	u, _ := v.(*model.User)
	return u
}

// userID 未登录时返回 0
func userID(c *gin.Context) int64 {
	if u := currentUser(c); u != nil {
		return u.ID
	}
	return 0
}

func pageParams(c *gin.Context) repository.Page {
	page, _ := strconv.Atoi(c.Query("page"))
	size, _ := strconv.Atoi(c.Query("page_size"))
	return repository.Page{Page: page, PageSize: size}
}

// writePage 输出规范化后的页码
func writePage(c *gin.Context, items interface{}, total int64, p repository.Page) {
	response.Page(c, items, total, p.Offset()/p.Limit()+1, p.Limit())
}

// idParam 解析路径中的正整数 ID，失败时已写入响应
func idParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		response.Fail(c, apperr.Validation(name, name+" 参数错误"))
		return 0, false
	}
	return id, true
}

// queryBool 接受 true/1/yes
func queryBool(c *gin.Context, key string) bool {
	switch strings.ToLower(c.Query(key)) {
	case "true", "1", "yes":
		return true
	}
	return false
}

func queryDecimal(c *gin.Context, key string) (*decimal.Decimal, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, apperr.Validation(key, key+" 必须是数字")
	}
	return &d, nil
}

func parseIDs(raw []string) ([]int64, error) {
	var ids []int64
	for _, r := range raw {
		for _, part := range strings.Split(r, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// ============================================================
// 表单解析
// ============================================================

// form 包装 multipart/urlencoded 表单，记录第一个解析错误
type form struct {
	c   *gin.Context
	err error
}

func (f *form) fail(field, msg string) {
	if f.err == nil {
		f.err = apperr.Validation(field, msg)
	}
}

func (f *form) str(key string) *string {
	v, ok := f.c.GetPostForm(key)
	if !ok {
		return nil
	}
	v = strings.TrimSpace(v)
	return &v
}

func (f *form) text(key string) string {
	if v := f.str(key); v != nil {
		return *v
	}
	return ""
}

func (f *form) integer(key string) *int {
	v := f.str(key)
	if v == nil {
		return nil
	}
	n, err := strconv.Atoi(*v)
	if err != nil {
		f.fail(key, key+" 必须是整数")
		return nil
	}
	return &n
}

func (f *form) decimal(key string) *decimal.Decimal {
	v := f.str(key)
	if v == nil {
		return nil
	}
	d, err := decimal.NewFromString(*v)
	if err != nil {
		f.fail(key, key+" 必须是数字")
		return nil
	}
	return &d
}

// nullDecimal 字段存在且为空串时表示清空
func (f *form) nullDecimal(key string) *decimal.NullDecimal {
	v := f.str(key)
	if v == nil {
		return nil
	}
	if *v == "" {
		return &decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(*v)
	if err != nil {
		f.fail(key, key+" 必须是数字")
		return nil
	}
	return &decimal.NullDecimal{Decimal: d, Valid: true}
}

func (f *form) ids(key string) []int64 {
	raw, ok := f.c.GetPostFormArray(key)
	if !ok {
		return nil
	}
	ids, err := parseIDs(raw)
	if err != nil {
		f.fail(key, key+" 必须是整数列表")
		return nil
	}
	return ids
}

// imageField 第 slot 个图片位对应的表单字段 image1..image3
func imageField(slot int) string {
	return "image" + strconv.Itoa(slot+1)
}

// images 读取 image1..image3，返回的 closer 必须调用
func (f *form) images() (map[int]*storage.File, func()) {
	files := map[int]*storage.File{}
	var opened []multipart.File
	closer := func() {
		for _, o := range opened {
			o.Close()
		}
	}

	mf, err := f.c.MultipartForm()
	if err != nil {
		if !errors.Is(err, http.ErrNotMultipart) {
			f.fail("image", "表单解析失败")
		}
		return files, closer
	}
	for slot := 0; slot < model.MaxImages; slot++ {
		headers := mf.File[imageField(slot)]
		if len(headers) == 0 {
			continue
		}
		fh := headers[0]
		body, err := fh.Open()
		if err != nil {
			f.fail(imageField(slot), "图片读取失败")
			continue
		}
		opened = append(opened, body)
		files[slot] = &storage.File{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Size:        fh.Size,
			Body:        body,
		}
	}
	return files, closer
}

// imageChanges 上传的图片加上 clear_imageN=true 的清除请求
func (f *form) imageChanges() (service.ImageChanges, func()) {
	uploads, closer := f.images()
	changes := service.ImageChanges{Uploads: uploads}
	for slot := 0; slot < model.MaxImages; slot++ {
		switch strings.ToLower(f.text("clear_" + imageField(slot))) {
		case "true", "1", "yes":
			changes.Clear = append(changes.Clear, slot)
		}
	}
	return changes, closer
}

// plant 交换与报价共用的植物字段
func (f *form) plant() service.PlantInput {
	in := service.PlantInput{
		PlantCommonName:     f.text("plant_common_name"),
		PlantScientificName: f.text("plant_scientific_name"),
		Description:         f.text("description"),
	}
	if w := f.nullDecimal("width_cm"); w != nil {
		in.WidthCM = *w
	}
	if h := f.nullDecimal("height_cm"); h != nil {
		in.HeightCM = *h
	}
	return in
}

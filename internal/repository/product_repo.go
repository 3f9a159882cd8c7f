package repository

import (
	"context"
	"errors"

	"sproutmarket/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrProductNotFound      = errors.New("商品不存在")
	ErrProductStatusInvalid = errors.New("商品状态不合法")
	ErrStockNotEnough       = errors.New("库存不足")
)

// ProductFilter 商品列表筛选条件，零值字段不参与过滤
type ProductFilter struct {
	Status         string
	SellerID       int64
	CategoryIDs    []int64
	CategorySlug   string
	MinPrice       *decimal.Decimal
	MaxPrice       *decimal.Decimal
	SellerUsername string
	City           string
	PremiumOnly    bool
	InStock        bool
	Search         string
	Ordering       string
}

var productOrderings = map[string]string{
	"created_at":  "products.created_at ASC",
	"-created_at": "products.created_at DESC",
	"price_mxn":   "products.price_mxn ASC",
	"-price_mxn":  "products.price_mxn DESC",
	"view_count":  "products.view_count ASC",
	"-view_count": "products.view_count DESC",
}

// 默认排序：高级会员卖家优先，其次最新发布
const defaultProductOrder = "users.is_premium DESC, products.created_at DESC, products.id DESC"

func ValidProductOrdering(o string) bool {
	_, ok := productOrderings[o]
	return ok || o == ""
}

type ProductRepository struct {
	db *gorm.DB
}

func NewProductRepository(db *gorm.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

func (r *ProductRepository) Create(ctx context.Context, tx *gorm.DB, product *model.Product) error {
	return pick(r.db, tx).WithContext(ctx).Create(product).Error
}

func (r *ProductRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.Product, error) {
	var product model.Product
	err := pick(r.db, tx).WithContext(ctx).
		Preload("Seller").
		Preload("Categories").
		Where("id = ?", id).
		First(&product).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}
	return &product, nil
}

// GetForUpdate 行锁读取，只能在事务中调用
func (r *ProductRepository) GetForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*model.Product, error) {
	var product model.Product
	err := forUpdate(tx.WithContext(ctx)).Where("id = ?", id).First(&product).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}
	return &product, nil
}

func (r *ProductRepository) GetByIDs(ctx context.Context, tx *gorm.DB, ids []int64) (map[int64]*model.Product, error) {
	out := make(map[int64]*model.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var products []*model.Product
	err := pick(r.db, tx).WithContext(ctx).
		Preload("Seller").
		Where("id IN ?", ids).
		Find(&products).Error
	if err != nil {
		return nil, err
	}
	for _, p := range products {
		out[p.ID] = p
	}
	return out, nil
}

// Save 保存商品本身的字段，关联关系单独维护
func (r *ProductRepository) Save(ctx context.Context, tx *gorm.DB, product *model.Product) error {
	return pick(r.db, tx).WithContext(ctx).Omit(clause.Associations).Save(product).Error
}

func (r *ProductRepository) UpdateImages(ctx context.Context, tx *gorm.DB, id int64, images model.ImageSlots) error {
	return pick(r.db, tx).WithContext(ctx).
		Model(&model.Product{}).
		Where("id = ?", id).
		UpdateColumn("images", images).Error
}

func (r *ProductRepository) ReplaceCategories(ctx context.Context, tx *gorm.DB, product *model.Product, categories []model.Category) error {
	return pick(r.db, tx).WithContext(ctx).Model(product).Association("Categories").Replace(categories)
}

// Delete 物理删除，只用于创建失败后的补偿
func (r *ProductRepository) Delete(ctx context.Context, tx *gorm.DB, product *model.Product) error {
	return pick(r.db, tx).WithContext(ctx).Select("Categories").Delete(product).Error
}

// UpdateStatus 条件更新状态，当前状态不是 from 时返回 ErrProductStatusInvalid
func (r *ProductRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, id int64, from, to string) error {
	result := pick(r.db, tx).WithContext(ctx).
		Model(&model.Product{}).
		Where("id = ? AND status = ?", id, from).
		UpdateColumn("status", to)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrProductStatusInvalid
	}
	return nil
}

// DecrementStock 扣减库存，扣到 0 时同时转为缺货
//
// product 必须是同一事务里 GetForUpdate 读到的行；quantity >= ? 条件保证不会扣成负数。
func (r *ProductRepository) DecrementStock(ctx context.Context, tx *gorm.DB, product *model.Product, qty int) error {
	status := product.StatusAfterDecrement(qty)
	result := tx.WithContext(ctx).
		Model(&model.Product{}).
		Where("id = ? AND quantity >= ?", product.ID, qty).
		UpdateColumns(map[string]interface{}{
			"quantity": gorm.Expr("quantity - ?", qty),
			"status":   status,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStockNotEnough
	}
	product.Quantity -= qty
	product.Status = status
	return nil
}

func (r *ProductRepository) IncrementViews(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).
		Model(&model.Product{}).
		Where("id = ?", id).
		UpdateColumn("view_count", gorm.Expr("view_count + 1")).Error
}

// CountActiveBySeller 卖家在售商品数，用于发布上限
func (r *ProductRepository) CountActiveBySeller(ctx context.Context, tx *gorm.DB, sellerID int64) (int64, error) {
	var n int64
	err := pick(r.db, tx).WithContext(ctx).
		Model(&model.Product{}).
		Where("seller_id = ? AND status = ?", sellerID, model.ProductStatusActive).
		Count(&n).Error
	return n, err
}

func (r *ProductRepository) filtered(ctx context.Context, f ProductFilter) *gorm.DB {
	q := r.db.WithContext(ctx).
		Model(&model.Product{}).
		Joins("JOIN users ON users.id = products.seller_id")

	if f.Status != "" {
		q = q.Where("products.status = ?", f.Status)
	}
	if f.SellerID != 0 {
		q = q.Where("products.seller_id = ?", f.SellerID)
	}
	if len(f.CategoryIDs) > 0 {
		q = q.Where("products.id IN (SELECT product_id FROM product_categories WHERE category_id IN ?)", f.CategoryIDs)
	}
	if f.CategorySlug != "" {
		q = q.Where(`products.id IN (SELECT pc.product_id FROM product_categories pc
			JOIN categories c ON c.id = pc.category_id WHERE c.slug = ?)`, f.CategorySlug)
	}
	if f.MinPrice != nil {
		q = q.Where("products.price_mxn >= ?", *f.MinPrice)
	}
	if f.MaxPrice != nil {
		q = q.Where("products.price_mxn <= ?", *f.MaxPrice)
	}
	if f.SellerUsername != "" {
		q = q.Where("users.username = ?", f.SellerUsername)
	}
	if f.City != "" {
		q = q.Where("LOWER(users.city) = LOWER(?)", f.City)
	}
	if f.PremiumOnly {
		q = q.Where("users.is_premium = ?", true)
	}
	if f.InStock {
		q = q.Where("products.quantity > 0")
	}
	if f.Search != "" {
		p := likePattern(f.Search)
		q = q.Where("(products.common_name LIKE ?"+likeEscape+" OR products.scientific_name LIKE ?"+likeEscape+
			" OR products.description LIKE ?"+likeEscape+")", p, p, p)
	}
	return q
}

func (r *ProductRepository) List(ctx context.Context, f ProductFilter, page Page) ([]*model.Product, int64, error) {
	var products []*model.Product
	var total int64

	query := r.filtered(ctx, f)
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	order := defaultProductOrder
	if o, ok := productOrderings[f.Ordering]; ok {
		order = o
	}

	err := query.
		Preload("Seller").
		Preload("Categories").
		Order(order).
		Offset(page.Offset()).
		Limit(page.Limit()).
		Find(&products).Error
	return products, total, err
}

// Featured 首页推荐：高级会员卖家优先，其次浏览量
func (r *ProductRepository) Featured(ctx context.Context, limit int) ([]*model.Product, error) {
	var products []*model.Product
	err := r.filtered(ctx, ProductFilter{Status: model.ProductStatusActive}).
		Preload("Seller").
		Preload("Categories").
		Order("users.is_premium DESC, products.view_count DESC, products.id DESC").
		Limit(limit).
		Find(&products).Error
	return products, err
}

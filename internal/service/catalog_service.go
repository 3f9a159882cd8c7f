package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"

	"sproutmarket/internal/apperr"
	"sproutmarket/internal/config"
	"sproutmarket/internal/infrastructure/storage"
	"sproutmarket/internal/model"
	"sproutmarket/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type CatalogService struct {
	db           *gorm.DB
	cfg          *config.Config
	categoryRepo *repository.CategoryRepository
	productRepo  *repository.ProductRepository
	userRepo     *repository.UserRepository
	images       imageKeeper
}

func NewCatalogService(db *gorm.DB, store storage.ObjectStore, cfg *config.Config) *CatalogService {
	return &CatalogService{
		db:           db,
		cfg:          cfg,
		categoryRepo: repository.NewCategoryRepository(db),
		productRepo:  repository.NewProductRepository(db),
		userRepo:     repository.NewUserRepository(db),
		images:       imageKeeper{store: store, maxBytes: cfg.Server.MaxUploadMB << 20},
	}
}

type ProductInput struct {
	CommonName     string
	ScientificName string
	Description    string
	Quantity       int
	PriceMXN       decimal.Decimal
	WidthCM        decimal.NullDecimal
	HeightCM       decimal.NullDecimal
	WeightKG       decimal.NullDecimal
	CategoryIDs    []int64
	Images         map[int]*storage.File
}

// ProductPatch nil 字段保持不变
type ProductPatch struct {
	CommonName     *string
	ScientificName *string
	Description    *string
	Quantity       *int
	PriceMXN       *decimal.Decimal
	WidthCM        *decimal.NullDecimal
	HeightCM       *decimal.NullDecimal
	WeightKG       *decimal.NullDecimal
	Status         *string
	CategoryIDs    []int64
	Images         ImageChanges
}

func (s *CatalogService) Categories(ctx context.Context) ([]*model.Category, error) {
	return s.categoryRepo.ListActive(ctx)
}

func (s *CatalogService) CategoryBySlug(ctx context.Context, slug string) (*model.Category, error) {
	c, err := s.categoryRepo.GetBySlug(ctx, slug)
	if errors.Is(err, repository.ErrCategoryNotFound) {
		return nil, ErrCategoryNotFound
	}
	return c, err
}

// ListProducts 公开列表只返回在售商品
func (s *CatalogService) ListProducts(ctx context.Context, f repository.ProductFilter, page repository.Page) ([]*model.Product, int64, error) {
	if !repository.ValidProductOrdering(f.Ordering) {
		return nil, 0, ErrInvalidOrdering
	}
	f.Status = model.ProductStatusActive
	f.SellerID = 0
	return s.productRepo.List(ctx, f, page)
}

func (s *CatalogService) ProductsByCategory(ctx context.Context, slug string, page repository.Page) ([]*model.Product, int64, error) {
	if _, err := s.CategoryBySlug(ctx, slug); err != nil {
		return nil, 0, err
	}
	return s.productRepo.List(ctx, repository.ProductFilter{
		Status:       model.ProductStatusActive,
		CategorySlug: slug,
	}, page)
}

// MyProducts 卖家自己的商品，包括缺货和已删除
func (s *CatalogService) MyProducts(ctx context.Context, sellerID int64, status string, page repository.Page) ([]*model.Product, int64, error) {
	return s.productRepo.List(ctx, repository.ProductFilter{
		SellerID: sellerID,
		Status:   status,
		Ordering: "-created_at",
	}, page)
}

func (s *CatalogService) Featured(ctx context.Context) ([]*model.Product, error) {
	return s.productRepo.Featured(ctx, s.cfg.Business.FeaturedProductsLimit)
}

// GetProduct 非卖家本人查看时浏览量 +1；viewerID 为 0 表示匿名
func (s *CatalogService) GetProduct(ctx context.Context, id, viewerID int64) (*model.Product, error) {
	product, err := s.productRepo.GetByID(ctx, nil, id)
	if err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}
	if product.Status != model.ProductStatusActive && product.SellerID != viewerID {
		return nil, ErrProductNotFound
	}
	if product.SellerID != viewerID {
		if err := s.productRepo.IncrementViews(ctx, id); err != nil {
			log.Printf("[Catalog] 更新浏览量失败: productID=%d, err=%v", id, err)
		} else {
			product.ViewCount++
		}
	}
	return product, nil
}

func (s *CatalogService) resolveCategories(ctx context.Context, tx *gorm.DB, ids []int64) ([]model.Category, error) {
	uniq := dedupe(ids)
	if len(uniq) < model.MinProductCategories || len(uniq) > model.MaxProductCategories || len(uniq) != len(ids) {
		return nil, ErrInvalidCategories
	}
	cats, err := s.categoryRepo.GetActiveByIDs(ctx, tx, uniq)
	if err != nil {
		return nil, err
	}
	if len(cats) != len(uniq) {
		return nil, ErrInvalidCategories.Msg("一个或多个分类无效")
	}
	return cats, nil
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func validateProductFields(price decimal.Decimal, quantity int) error {
	if !price.IsPositive() {
		return apperr.Validation("price_mxn", "价格必须大于 0")
	}
	if quantity < 0 {
		return apperr.Validation("quantity", "库存不能为负数")
	}
	return nil
}

// CreateProduct 校验上架额度和分类后落库，再上传图片；上传失败删除商品
func (s *CatalogService) CreateProduct(ctx context.Context, sellerID int64, in *ProductInput) (*model.Product, error) {
	if err := validateProductFields(in.PriceMXN, in.Quantity); err != nil {
		return nil, err
	}
	if in.Images[0] == nil {
		return nil, ErrMainImageRequired
	}
	if err := s.images.validate(ImageChanges{Uploads: in.Images}); err != nil {
		return nil, err
	}

	seller, err := s.userRepo.GetByID(ctx, nil, sellerID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	cats, err := s.resolveCategories(ctx, nil, in.CategoryIDs)
	if err != nil {
		return nil, err
	}

	product := &model.Product{
		SellerID:       sellerID,
		CommonName:     in.CommonName,
		ScientificName: in.ScientificName,
		Description:    in.Description,
		Quantity:       in.Quantity,
		PriceMXN:       in.PriceMXN.Round(2),
		WidthCM:        in.WidthCM,
		HeightCM:       in.HeightCM,
		WeightKG:       in.WeightKG,
		Status:         model.ProductStatusActive,
	}

	create := func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			// 锁住卖家行，串行化同一卖家的并发上架
			if _, err := s.userRepo.GetForUpdate(ctx, tx, sellerID); err != nil {
				return err
			}
			n, err := s.productRepo.CountActiveBySeller(ctx, tx, sellerID)
			if err != nil {
				return err
			}
			if limit := s.productLimit(seller); n >= int64(limit) {
				return ErrProductLimit.WithDetails(map[string]any{"limit": limit, "is_premium": seller.IsPremium})
			}
			if err := s.productRepo.Create(ctx, tx, product); err != nil {
				return fmt.Errorf("创建商品失败: %w", err)
			}
			return s.productRepo.ReplaceCategories(ctx, tx, product, cats)
		})
	}
	saveImages := func(slots model.ImageSlots) error {
		product.Images = slots
		return s.productRepo.UpdateImages(ctx, nil, product.ID, slots)
	}
	rollback := func() error {
		return s.productRepo.Delete(ctx, nil, product)
	}

	if _, err := createWithImages(ctx, s.images, storage.FolderProducts, in.Images, create, saveImages, rollback); err != nil {
		return nil, err
	}

	log.Printf("[Catalog] 商品上架: productID=%d, sellerID=%d", product.ID, sellerID)
	return s.productRepo.GetByID(ctx, nil, product.ID)
}

func (s *CatalogService) productLimit(u *model.User) int {
	if u.IsPremium {
		return s.cfg.Business.PremiumProductLimit
	}
	return s.cfg.Business.FreeProductLimit
}

func (s *CatalogService) ownProduct(ctx context.Context, tx *gorm.DB, sellerID, id int64) (*model.Product, error) {
	product, err := s.productRepo.GetByID(ctx, tx, id)
	if err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}
	if product.SellerID != sellerID {
		return nil, ErrNotProductOwner
	}
	return product, nil
}

func (s *CatalogService) UpdateProduct(ctx context.Context, sellerID, id int64, p *ProductPatch) (*model.Product, error) {
	product, err := s.ownProduct(ctx, nil, sellerID, id)
	if err != nil {
		return nil, err
	}
	if product.Status == model.ProductStatusDeleted {
		return nil, ErrProductDeleted
	}
	if err := s.images.validate(p.Images); err != nil {
		return nil, err
	}
	for _, slot := range p.Images.Clear {
		if slot == 0 && p.Images.Uploads[0] == nil {
			return nil, ErrMainImageRequired
		}
	}

	if p.CommonName != nil {
		product.CommonName = *p.CommonName
	}
	if p.ScientificName != nil {
		product.ScientificName = *p.ScientificName
	}
	if p.Description != nil {
		product.Description = *p.Description
	}
	if p.Quantity != nil {
		product.Quantity = *p.Quantity
	}
	if p.PriceMXN != nil {
		product.PriceMXN = p.PriceMXN.Round(2)
	}
	if p.WidthCM != nil {
		product.WidthCM = *p.WidthCM
	}
	if p.HeightCM != nil {
		product.HeightCM = *p.HeightCM
	}
	if p.WeightKG != nil {
		product.WeightKG = *p.WeightKG
	}
	if p.Status != nil {
		if *p.Status != model.ProductStatusActive && *p.Status != model.ProductStatusOutOfStock {
			return nil, apperr.Validation("status", "状态只能是 active 或 out_of_stock")
		}
		product.Status = *p.Status
	}
	if err := validateProductFields(product.PriceMXN, product.Quantity); err != nil {
		return nil, err
	}

	var cats []model.Category
	if p.CategoryIDs != nil {
		if cats, err = s.resolveCategories(ctx, nil, p.CategoryIDs); err != nil {
			return nil, err
		}
	}

	stale, fresh, err := s.images.apply(ctx, storage.FolderProducts, &product.Images, p.Images)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.productRepo.Save(ctx, tx, product); err != nil {
			return fmt.Errorf("保存商品失败: %w", err)
		}
		if cats != nil {
			return s.productRepo.ReplaceCategories(ctx, tx, product, cats)
		}
		return nil
	})
	if err != nil {
		s.images.discard(ctx, fresh)
		return nil, err
	}
	s.images.discard(ctx, stale)

	return s.productRepo.GetByID(ctx, nil, id)
}

// DeleteProduct 软删除
func (s *CatalogService) DeleteProduct(ctx context.Context, sellerID, id int64) error {
	product, err := s.ownProduct(ctx, nil, sellerID, id)
	if err != nil {
		return err
	}
	if product.Status == model.ProductStatusDeleted {
		return nil
	}
	err = s.productRepo.UpdateStatus(ctx, nil, id, product.Status, model.ProductStatusDeleted)
	if errors.Is(err, repository.ErrProductStatusInvalid) {
		return apperr.Conflict("product_changed", "商品状态已变化，请重试")
	}
	return err
}

// ReactivateProduct 恢复软删除的商品，按库存决定 active 或 out_of_stock
func (s *CatalogService) ReactivateProduct(ctx context.Context, sellerID, id int64) (*model.Product, error) {
	product, err := s.ownProduct(ctx, nil, sellerID, id)
	if err != nil {
		return nil, err
	}
	if product.Status != model.ProductStatusDeleted {
		return nil, ErrProductNotDeleted
	}

	to := product.StatusAfterRestore()
	if to == model.ProductStatusActive {
		seller, err := s.userRepo.GetByID(ctx, nil, sellerID)
		if err != nil {
			return nil, err
		}
		n, err := s.productRepo.CountActiveBySeller(ctx, nil, sellerID)
		if err != nil {
			return nil, err
		}
		if limit := s.productLimit(seller); n >= int64(limit) {
			return nil, ErrProductLimit.WithDetails(map[string]any{"limit": limit, "is_premium": seller.IsPremium})
		}
	}

	if err := s.productRepo.UpdateStatus(ctx, nil, id, model.ProductStatusDeleted, to); err != nil {
		if errors.Is(err, repository.ErrProductStatusInvalid) {
			return nil, ErrProductNotDeleted
		}
		return nil, err
	}
	product.Status = to
	return product, nil
}

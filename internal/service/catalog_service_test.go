package service

import (
	"context"
	"testing"

	"sproutmarket/internal/config"
	"sproutmarket/internal/infrastructure/storage"
	"sproutmarket/internal/model"
	"sproutmarket/internal/repository"
	"sproutmarket/internal/testutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newCatalog(t *testing.T) (*gorm.DB, *testutil.Store, *config.Config, *CatalogService) {
	t.Helper()
	db := testutil.OpenDB(t)
	cfg := testutil.Config()
	store := testutil.NewStore()
	return db, store, cfg, NewCatalogService(db, store, cfg)
}

func categoryIDs(t *testing.T, db *gorm.DB, n int) []int64 {
	t.Helper()
	var ids []int64
	require.NoError(t, db.Model(&model.Category{}).Order("id").Limit(n).Pluck("id", &ids).Error)
	require.Len(t, ids, n)
	return ids
}

func productInput(t *testing.T, db *gorm.DB, name string) *ProductInput {
	return &ProductInput{
		CommonName:  name,
		Description: name + " en maceta",
		Quantity:    4,
		PriceMXN:    decimal.RequireFromString("149.999"),
		CategoryIDs: categoryIDs(t, db, 2),
		Images: map[int]*storage.File{
			0: testutil.Image(name + "-1.png"),
			1: testutil.Image(name + "-2.png"),
		},
	}
}

func TestCreateProduct(t *testing.T) {
	ctx := context.Background()
	db, store, _, svc := newCatalog(t)
	seller := testutil.CreateUser(t, db, "marisol")

	p, err := svc.CreateProduct(ctx, seller.ID, productInput(t, db, "calathea"))
	require.NoError(t, err)
	assert.Equal(t, model.ProductStatusActive, p.Status)
	assert.True(t, decimal.RequireFromString("150").Equal(p.PriceMXN))
	assert.Len(t, p.Categories, 2)
	assert.NotEmpty(t, p.Images.Main())
	assert.Equal(t, 2, store.Count())

	in := productInput(t, db, "sin-foto")
	delete(in.Images, 0)
	_, err = svc.CreateProduct(ctx, seller.ID, in)
	assert.ErrorIs(t, err, ErrMainImageRequired)

	in = productInput(t, db, "gratis")
	in.PriceMXN = decimal.Zero
	_, err = svc.CreateProduct(ctx, seller.ID, in)
	assert.Error(t, err)

	in = productInput(t, db, "repetida")
	in.CategoryIDs = []int64{in.CategoryIDs[0], in.CategoryIDs[0]}
	_, err = svc.CreateProduct(ctx, seller.ID, in)
	assert.ErrorIs(t, err, ErrInvalidCategories)

	in = productInput(t, db, "muchas")
	in.CategoryIDs = categoryIDs(t, db, 4)
	_, err = svc.CreateProduct(ctx, seller.ID, in)
	assert.ErrorIs(t, err, ErrInvalidCategories)

	in = productInput(t, db, "fantasma")
	in.CategoryIDs = []int64{999999}
	_, err = svc.CreateProduct(ctx, seller.ID, in)
	assert.ErrorIs(t, err, ErrInvalidCategories)

	in = productInput(t, db, "documento")
	in.Images[0] = &storage.File{Name: "doc.pdf", Size: 10, Body: testutil.Image("x").Body}
	_, err = svc.CreateProduct(ctx, seller.ID, in)
	assert.ErrorIs(t, err, ErrInvalidImage)
}

func TestCreateProductEnforcesListingLimit(t *testing.T) {
	ctx := context.Background()
	db, _, cfg, svc := newCatalog(t)
	cfg.Business.FreeProductLimit = 2
	seller := testutil.CreateUser(t, db, "marisol")

	first, err := svc.CreateProduct(ctx, seller.ID, productInput(t, db, "uno"))
	require.NoError(t, err)
	_, err = svc.CreateProduct(ctx, seller.ID, productInput(t, db, "dos"))
	require.NoError(t, err)
	_, err = svc.CreateProduct(ctx, seller.ID, productInput(t, db, "tres"))
	assert.ErrorIs(t, err, ErrProductLimit)

	// 删除后腾出名额，恢复时再次检查
	require.NoError(t, svc.DeleteProduct(ctx, seller.ID, first.ID))
	_, err = svc.CreateProduct(ctx, seller.ID, productInput(t, db, "tres"))
	require.NoError(t, err)
	_, err = svc.ReactivateProduct(ctx, seller.ID, first.ID)
	assert.ErrorIs(t, err, ErrProductLimit)

	require.NoError(t, db.Model(&model.User{}).Where("id = ?", seller.ID).UpdateColumn("is_premium", true).Error)
	restored, err := svc.ReactivateProduct(ctx, seller.ID, first.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProductStatusActive, restored.Status)
}

func TestCreateProductRemovesRowWhenUploadFails(t *testing.T) {
	ctx := context.Background()
	db, store, _, svc := newCatalog(t)
	seller := testutil.CreateUser(t, db, "marisol")
	store.FailAfter = 2

	_, err := svc.CreateProduct(ctx, seller.ID, productInput(t, db, "fallida"))
	require.ErrorIs(t, err, ErrImageUploadFailed)

	var n int64
	require.NoError(t, db.Model(&model.Product{}).Count(&n).Error)
	assert.Zero(t, n)
	// 第一张已上传的图也被清理
	assert.Zero(t, store.Count())
	assert.Len(t, store.Deleted, 1)
}

func TestUpdateProduct(t *testing.T) {
	ctx := context.Background()
	db, store, _, svc := newCatalog(t)
	seller := testutil.CreateUser(t, db, "marisol")
	other := testutil.CreateUser(t, db, "tomas")
	p, err := svc.CreateProduct(ctx, seller.ID, productInput(t, db, "ficus"))
	require.NoError(t, err)
	second, _ := p.Images.Get(1)

	_, err = svc.UpdateProduct(ctx, other.ID, p.ID, &ProductPatch{})
	assert.ErrorIs(t, err, ErrNotProductOwner)

	qty := 0
	price := decimal.RequireFromString("99.5")
	updated, err := svc.UpdateProduct(ctx, seller.ID, p.ID, &ProductPatch{
		Quantity:    &qty,
		PriceMXN:    &price,
		CategoryIDs: categoryIDs(t, db, 1),
		Images:      ImageChanges{Clear: []int{1}},
	})
	require.NoError(t, err)
	assert.Equal(t, model.ProductStatusOutOfStock, updated.Status)
	assert.True(t, price.Equal(updated.PriceMXN))
	assert.Len(t, updated.Categories, 1)
	_, ok := updated.Images.Get(1)
	assert.False(t, ok)
	assert.Contains(t, store.Deleted, second)

	_, err = svc.UpdateProduct(ctx, seller.ID, p.ID, &ProductPatch{Images: ImageChanges{Clear: []int{0}}})
	assert.ErrorIs(t, err, ErrMainImageRequired)

	bad := "deleted"
	_, err = svc.UpdateProduct(ctx, seller.ID, p.ID, &ProductPatch{Status: &bad})
	assert.Error(t, err)

	require.NoError(t, svc.DeleteProduct(ctx, seller.ID, p.ID))
	_, err = svc.UpdateProduct(ctx, seller.ID, p.ID, &ProductPatch{})
	assert.ErrorIs(t, err, ErrProductDeleted)

	// 缺货商品恢复后仍是缺货
	restored, err := svc.ReactivateProduct(ctx, seller.ID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProductStatusOutOfStock, restored.Status)
	_, err = svc.ReactivateProduct(ctx, seller.ID, p.ID)
	assert.ErrorIs(t, err, ErrProductNotDeleted)
}

func TestGetProductVisibilityAndViews(t *testing.T) {
	ctx := context.Background()
	db, _, _, svc := newCatalog(t)
	seller := testutil.CreateUser(t, db, "marisol")
	p := testutil.CreateProduct(t, db, seller, "aloe", "35.00", 3)

	got, err := svc.GetProduct(ctx, p.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ViewCount)

	// 卖家本人查看不计数
	got, err = svc.GetProduct(ctx, p.ID, seller.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ViewCount)

	require.NoError(t, svc.DeleteProduct(ctx, seller.ID, p.ID))
	_, err = svc.GetProduct(ctx, p.ID, 0)
	assert.ErrorIs(t, err, ErrProductNotFound)
	_, err = svc.GetProduct(ctx, p.ID, seller.ID)
	require.NoError(t, err)

	list, total, err := svc.ListProducts(ctx, repository.ProductFilter{}, repository.Page{})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, list)

	_, _, err = svc.ListProducts(ctx, repository.ProductFilter{Ordering: "seller_id"}, repository.Page{})
	assert.ErrorIs(t, err, ErrInvalidOrdering)

	mine, total, err := svc.MyProducts(ctx, seller.ID, "", repository.Page{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, mine, 1)
}

func TestCategories(t *testing.T) {
	ctx := context.Background()
	db, _, _, svc := newCatalog(t)
	seller := testutil.CreateUser(t, db, "marisol")
	testutil.CreateProduct(t, db, seller, "aloe", "35.00", 3)

	cats, err := svc.Categories(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, cats)

	_, err = svc.CategoryBySlug(ctx, "no-existe")
	assert.ErrorIs(t, err, ErrCategoryNotFound)

	// CreateProduct 默认放在第一个分类
	_, total, err := svc.ProductsByCategory(ctx, cats[0].Slug, repository.Page{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

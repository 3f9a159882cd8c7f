package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sproutmarket/internal/model"
	"sproutmarket/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CartItemView 购物车行按商品当前价格展示
type CartItemView struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Product   *model.Product  `json:"product,omitempty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Available bool            `json:"available"`
}

type CartView struct {
	ID         int64           `json:"id"`
	Items      []CartItemView  `json:"items"`
	TotalItems int             `json:"total_items"`
	Total      decimal.Decimal `json:"total"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

type CartService struct {
	db          *gorm.DB
	cartRepo    *repository.CartRepository
	productRepo *repository.ProductRepository
}

func NewCartService(db *gorm.DB) *CartService {
	return &CartService{
		db:          db,
		cartRepo:    repository.NewCartRepository(db),
		productRepo: repository.NewProductRepository(db),
	}
}

func (s *CartService) View(ctx context.Context, userID int64) (*CartView, error) {
	cart, err := s.cartRepo.GetOrCreate(ctx, nil, userID)
	if err != nil {
		return nil, fmt.Errorf("获取购物车失败: %w", err)
	}
	return s.render(ctx, cart)
}

// render 已下架或已删除的商品仍然展示，但不计入合计
func (s *CartService) render(ctx context.Context, cart *model.Cart) (*CartView, error) {
	products, err := s.productRepo.GetByIDs(ctx, nil, cart.Items.ProductIDs())
	if err != nil {
		return nil, err
	}

	view := &CartView{
		ID:        cart.ID,
		Items:     make([]CartItemView, 0, len(cart.Items)),
		Total:     decimal.Zero,
		UpdatedAt: cart.UpdatedAt,
	}
	for _, line := range cart.Items {
		item := CartItemView{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: decimal.Zero,
			Subtotal:  decimal.Zero,
		}
		if p, ok := products[line.ProductID]; ok {
			item.Product = p
			item.UnitPrice = p.PriceMXN
			item.Subtotal = p.PriceMXN.Mul(decimal.NewFromInt(int64(line.Quantity))).Round(2)
			item.Available = p.InStock() && p.Quantity >= line.Quantity
			if p.Status == model.ProductStatusActive {
				view.Total = view.Total.Add(item.Subtotal)
				view.TotalItems += line.Quantity
			}
		}
		view.Items = append(view.Items, item)
	}
	return view, nil
}

// mutate 在购物车行锁内修改条目
func (s *CartService) mutate(ctx context.Context, userID int64, fn func(model.CartLines) (model.CartLines, error)) (*CartView, error) {
	if _, err := s.cartRepo.GetOrCreate(ctx, nil, userID); err != nil {
		return nil, fmt.Errorf("获取购物车失败: %w", err)
	}

	var cart *model.Cart
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		cart, err = s.cartRepo.GetByUserIDForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}
		items, err := fn(cart.Items)
		if err != nil {
			return err
		}
		if err := s.cartRepo.SaveItems(ctx, tx, cart.ID, items); err != nil {
			return err
		}
		cart.Items = items
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.render(ctx, cart)
}

func cartLineError(err error) error {
	switch {
	case errors.Is(err, model.ErrLineNotInCart):
		return ErrNotInCart
	case errors.Is(err, model.ErrInvalidQuantity):
		return ErrInvalidQuantityValue
	case errors.Is(err, model.ErrInvalidProductID):
		return ErrProductNotFound
	}
	return err
}

// AddItem 只能加入他人的在售商品，已在购物车中的累加数量
func (s *CartService) AddItem(ctx context.Context, userID, productID int64, quantity int) (*CartView, error) {
	line, err := model.NewCartLine(productID, quantity)
	if err != nil {
		return nil, cartLineError(err)
	}
	product, err := s.productRepo.GetByID(ctx, nil, productID)
	if err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}
	if product.Status != model.ProductStatusActive {
		return nil, ErrProductUnavailable
	}
	if product.SellerID == userID {
		return nil, ErrOwnProduct
	}
	return s.mutate(ctx, userID, func(items model.CartLines) (model.CartLines, error) {
		return items.Add(line), nil
	})
}

func (s *CartService) UpdateItem(ctx context.Context, userID, productID int64, quantity int) (*CartView, error) {
	return s.mutate(ctx, userID, func(items model.CartLines) (model.CartLines, error) {
		out, err := items.SetQuantity(productID, quantity)
		return out, cartLineError(err)
	})
}

func (s *CartService) RemoveItem(ctx context.Context, userID, productID int64) (*CartView, error) {
	return s.mutate(ctx, userID, func(items model.CartLines) (model.CartLines, error) {
		out, err := items.Remove(productID)
		return out, cartLineError(err)
	})
}

func (s *CartService) Clear(ctx context.Context, userID int64) error {
	_, err := s.mutate(ctx, userID, func(model.CartLines) (model.CartLines, error) {
		return model.CartLines{}, nil
	})
	return err
}

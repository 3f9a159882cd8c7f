package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	"sproutmarket/internal/apperr"
	"sproutmarket/internal/config"
	"sproutmarket/internal/infrastructure/lock"
	"sproutmarket/internal/infrastructure/payment"
	"sproutmarket/internal/model"
	"sproutmarket/internal/repository"
	"sproutmarket/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// 库存降到该值及以下时提醒卖家
const lowStockThreshold = 3

type BuyerInfo struct {
	Name    string `json:"buyer_name" binding:"required,max=200"`
	Phone   string `json:"buyer_phone" binding:"required,max=15"`
	Address string `json:"buyer_address" binding:"required"`
}

type CheckoutResponse struct {
	ClientSecret    string          `json:"client_secret"`
	PaymentIntentID string          `json:"payment_intent_id"`
	Amount          decimal.Decimal `json:"amount"`
	AmountCents     int64           `json:"amount_cents"`
	Currency        string          `json:"currency"`
	BuyerInfo       BuyerInfo       `json:"buyer_info"`
	CartItems       int             `json:"cart_items"`
}

type OrderStats struct {
	TotalOrders  int64           `json:"total_orders"`
	TotalSpent   decimal.Decimal `json:"total_spent"`
	AverageOrder decimal.Decimal `json:"average_order"`
}

// SaleView 卖家视角的订单，只包含自己的商品行
type SaleView struct {
	*model.Order
	Items        model.OrderLines `json:"items"`
	UserSubtotal decimal.Decimal  `json:"user_subtotal"`
	UserEarnings decimal.Decimal  `json:"user_earnings"`
}

type SalesStats struct {
	TotalSales     decimal.Decimal `json:"total_sales"`
	TotalEarnings  decimal.Decimal `json:"total_earnings"`
	CommissionPaid decimal.Decimal `json:"commission_paid"`
	ItemsSold      int             `json:"items_sold"`
	OrdersCount    int             `json:"orders_count"`
}

type CheckoutService struct {
	db              *gorm.DB
	redisClient     *redis.Client
	cfg             *config.Config
	gateway         payment.Gateway
	notifier        *NotificationService
	cartRepo        *repository.CartRepository
	productRepo     *repository.ProductRepository
	userRepo        *repository.UserRepository
	orderRepo       *repository.OrderRepository
	transactionRepo *repository.TransactionRepository
	outboxRepo      *repository.OutboxRepository
}

func NewCheckoutService(db *gorm.DB, redisClient *redis.Client, gateway payment.Gateway, notifier *NotificationService, cfg *config.Config) *CheckoutService {
	return &CheckoutService{
		db:              db,
		redisClient:     redisClient,
		cfg:             cfg,
		gateway:         gateway,
		notifier:        notifier,
		cartRepo:        repository.NewCartRepository(db),
		productRepo:     repository.NewProductRepository(db),
		userRepo:        repository.NewUserRepository(db),
		orderRepo:       repository.NewOrderRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		outboxRepo:      repository.NewOutboxRepository(db),
	}
}

// checkLine 校验一行是否可购买
func checkLine(p *model.Product, buyerID int64, qty int) error {
	details := map[string]any{"product_id": p.ID, "product_name": p.CommonName}
	if p.Status != model.ProductStatusActive {
		return ErrProductUnavailable.WithField("product_id").WithDetails(details)
	}
	if p.SellerID == buyerID {
		return ErrOwnProduct.WithField("product_id").WithDetails(details)
	}
	if p.Quantity < qty {
		details["available"] = p.Quantity
		details["requested"] = qty
		return ErrInsufficientStock.WithField("product_id").WithDetails(details)
	}
	return nil
}

func toCents(amount decimal.Decimal) int64 {
	return amount.Round(2).Shift(2).IntPart()
}

// commissionOf 平台佣金，保留两位小数
func (s *CheckoutService) commissionOf(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(s.cfg.Business.CommissionRateDecimal()).Round(2)
}

// sellerNet 卖家实收
func (s *CheckoutService) sellerNet(gross decimal.Decimal) decimal.Decimal {
	return gross.Sub(s.commissionOf(gross))
}

// orderCommission 订单佣金取小计减去各卖家实收之和，佣金流水与销售流水加起来等于购买流水
func (s *CheckoutService) orderCommission(lines model.OrderLines) decimal.Decimal {
	_, totals := lines.SellerTotals()
	net := decimal.Zero
	for _, gross := range totals {
		net = net.Add(s.sellerNet(gross))
	}
	return lines.Subtotal().Sub(net)
}

// InitiateCheckout 校验购物车并创建 PaymentIntent，不修改本地数据
func (s *CheckoutService) InitiateCheckout(ctx context.Context, userID int64, buyer BuyerInfo) (*CheckoutResponse, error) {
	cart, err := s.cartRepo.GetByUserID(ctx, nil, userID)
	if err != nil {
		if errors.Is(err, repository.ErrCartNotFound) {
			return nil, ErrCartEmpty
		}
		return nil, err
	}
	if cart.IsEmpty() {
		return nil, ErrCartEmpty
	}

	products, err := s.productRepo.GetByIDs(ctx, nil, cart.Items.ProductIDs())
	if err != nil {
		return nil, err
	}
	total := decimal.Zero
	for _, line := range cart.Items {
		p, ok := products[line.ProductID]
		if !ok {
			return nil, ErrProductNotFound.WithField("product_id").WithDetails(map[string]any{"product_id": line.ProductID})
		}
		if err := checkLine(p, userID, line.Quantity); err != nil {
			return nil, err
		}
		total = total.Add(p.PriceMXN.Mul(decimal.NewFromInt(int64(line.Quantity))).Round(2))
	}

	user, err := s.userRepo.GetByID(ctx, nil, userID)
	if err != nil {
		return nil, err
	}

	currency := s.cfg.Business.Currency
	intent, err := s.gateway.CreatePaymentIntent(ctx, payment.CreateIntentParams{
		AmountMinor: toCents(total),
		Currency:    currency,
		Description: fmt.Sprintf("Compra de %d productos - SproutMarket", len(cart.Items)),
		Metadata: map[string]string{
			payment.UserMetadataKey: strconv.FormatInt(userID, 10),
			"user_email":            user.Email,
			"cart_id":               strconv.FormatInt(cart.ID, 10),
			"buyer_name":            buyer.Name,
			"buyer_phone":           buyer.Phone,
		},
	})
	if err != nil {
		return nil, apperr.External("stripe", err)
	}

	log.Printf("[Checkout] 创建支付: userID=%d, intent=%s, amount=%s", userID, intent.ID, total)

	return &CheckoutResponse{
		ClientSecret:    intent.ClientSecret,
		PaymentIntentID: intent.ID,
		Amount:          total,
		AmountCents:     toCents(total),
		Currency:        currency,
		BuyerInfo:       buyer,
		CartItems:       len(cart.Items),
	}, nil
}

// existingOrder 同一 PaymentIntent 已生成订单时直接返回
func (s *CheckoutService) existingOrder(ctx context.Context, userID int64, paymentID string) (*model.Order, error) {
	order, err := s.orderRepo.GetByPaymentID(ctx, nil, paymentID)
	if err != nil {
		return nil, fmt.Errorf("查询订单失败: %w", err)
	}
	if order != nil && order.BuyerID != userID {
		return nil, ErrPaymentAlreadyUsed
	}
	return order, nil
}

// ConfirmPayment 支付成功后生成订单
//
// 同一事务内按商品ID顺序加行锁、复核库存、扣减库存、写订单快照、记账并清空购物车；
// 任一行复核失败整体回滚。返回的 bool 表示本次是否新建了订单。
func (s *CheckoutService) ConfirmPayment(ctx context.Context, userID int64, paymentIntentID string, buyer BuyerInfo) (*model.Order, bool, error) {
	if paymentIntentID == "" {
		return nil, false, apperr.Validation("payment_intent_id", "payment_intent_id 必填")
	}

	if order, err := s.existingOrder(ctx, userID, paymentIntentID); err != nil || order != nil {
		return order, false, err
	}

	intent, err := s.gateway.RetrievePaymentIntent(ctx, paymentIntentID)
	if err != nil {
		if errors.Is(err, payment.ErrIntentNotFound) {
			return nil, false, ErrPaymentNotFound
		}
		return nil, false, apperr.External("stripe", err)
	}
	if intent.Status != payment.IntentSucceeded {
		return nil, false, ErrPaymentIncomplete.WithDetails(map[string]any{"status": intent.Status})
	}
	if !intent.OwnedBy(userID) {
		return nil, false, ErrPaymentOwnershipMismatch
	}

	checkoutLock := lock.NewCheckoutLock(s.redisClient, userID)
	if err := checkoutLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		if errors.Is(err, lock.ErrLockFailed) {
			return nil, false, ErrCheckoutBusy
		}
		return nil, false, fmt.Errorf("获取结算锁失败: %w", err)
	}
	defer checkoutLock.Unlock(context.Background())

	// 拿到锁后再查一次，防止并发重复提交
	if order, err := s.existingOrder(ctx, userID, paymentIntentID); err != nil || order != nil {
		return order, false, err
	}

	var (
		order   *model.Order
		touched []*model.Product
		sellers map[int64]*model.User
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cart, err := s.cartRepo.GetByUserIDForUpdate(ctx, tx, userID)
		if err != nil {
			if errors.Is(err, repository.ErrCartNotFound) {
				return ErrCartEmpty
			}
			return err
		}
		if cart.IsEmpty() {
			return ErrCartEmpty
		}

		// 固定加锁顺序，避免两个结算互相等待
		ids := append([]int64(nil), cart.Items.ProductIDs()...)
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		locked := make(map[int64]*model.Product, len(ids))
		for _, id := range ids {
			p, err := s.productRepo.GetForUpdate(ctx, tx, id)
			if err != nil {
				if errors.Is(err, repository.ErrProductNotFound) {
					return ErrProductNotFound.WithField("product_id").WithDetails(map[string]any{"product_id": id})
				}
				return err
			}
			locked[id] = p
		}

		sellerIDs := make([]int64, 0, len(locked))
		for _, p := range locked {
			sellerIDs = append(sellerIDs, p.SellerID)
		}
		sellers, err = s.userRepo.GetByIDs(ctx, tx, dedupe(sellerIDs))
		if err != nil {
			return err
		}

		lines := make(model.OrderLines, 0, len(cart.Items))
		for _, item := range cart.Items {
			p := locked[item.ProductID]
			if err := checkLine(p, userID, item.Quantity); err != nil {
				return err
			}
			username := ""
			if seller, ok := sellers[p.SellerID]; ok {
				username = seller.Username
			}
			line, err := model.NewOrderLine(p, username, item.Quantity)
			if err != nil {
				return apperr.Validation("items", err.Error())
			}
			lines = append(lines, line)
		}

		// 按锁定后的价格复核实付金额，不一致整体回滚
		subtotal := lines.Subtotal()
		if cents := toCents(subtotal); cents != intent.Amount || !strings.EqualFold(intent.Currency, s.cfg.Business.Currency) {
			log.Printf("[Checkout] 支付金额与订单不一致: intent=%s, paid=%d %s, now=%d", intent.ID, intent.Amount, intent.Currency, cents)
			return ErrPaymentAmountMismatch.WithDetails(map[string]any{
				"expected_cents": cents,
				"paid_cents":     intent.Amount,
				"currency":       intent.Currency,
			})
		}

		for _, item := range cart.Items {
			p := locked[item.ProductID]
			if err := s.productRepo.DecrementStock(ctx, tx, p, item.Quantity); err != nil {
				if errors.Is(err, repository.ErrStockNotEnough) {
					return ErrInsufficientStock.WithField("product_id").WithDetails(map[string]any{"product_id": p.ID})
				}
				return fmt.Errorf("扣减库存失败: %w", err)
			}
			touched = append(touched, p)
		}

		commission := s.orderCommission(lines)

		order = &model.Order{
			OrderNo:         idgen.GenerateOrderNo(),
			BuyerID:         userID,
			BuyerName:       buyer.Name,
			BuyerPhone:      buyer.Phone,
			BuyerAddress:    buyer.Address,
			Items:           lines,
			SubtotalMXN:     subtotal,
			CommissionMXN:   commission,
			TotalMXN:        subtotal,
			StripePaymentID: intent.ID,
			Status:          model.OrderStatusCompleted,
		}
		if err := s.orderRepo.Create(ctx, tx, order); err != nil {
			return fmt.Errorf("创建订单失败: %w", err)
		}

		if err := s.recordLedger(ctx, tx, order, userID); err != nil {
			return err
		}

		if err := s.cartRepo.Clear(ctx, tx, cart.ID); err != nil {
			return fmt.Errorf("清空购物车失败: %w", err)
		}

		return s.outboxRepo.Enqueue(ctx, tx, s.cfg.Kafka.Topic.OrderEvents, model.EventOrderCompleted, order.OrderNo, map[string]interface{}{
			"order_no":       order.OrderNo,
			"order_id":       order.ID,
			"buyer_id":       userID,
			"subtotal_mxn":   subtotal.StringFixed(2),
			"commission_mxn": commission.StringFixed(2),
			"items":          len(lines),
			"payment_id":     intent.ID,
		})
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			if existing, ferr := s.existingOrder(ctx, userID, paymentIntentID); ferr == nil && existing != nil {
				return existing, false, nil
			}
		}
		return nil, false, err
	}

	log.Printf("[Checkout] 订单完成: orderNo=%s, buyerID=%d, total=%s", order.OrderNo, userID, order.TotalMXN)
	s.notifyOrder(ctx, order, sellers, touched)
	return order, true, nil
}

// recordLedger 买家支付、平台佣金、每个卖家一条销售流水，并给卖家入账
func (s *CheckoutService) recordLedger(ctx context.Context, tx *gorm.DB, order *model.Order, buyerID int64) error {
	ref := order.ID
	buyer := buyerID
	if err := s.transactionRepo.Create(ctx, tx, &model.Transaction{
		UserID:        &buyer,
		Type:          model.TransactionTypePurchase,
		AmountMXN:     order.TotalMXN,
		StripeID:      order.StripePaymentID,
		ReferenceID:   &ref,
		ReferenceType: model.ReferenceTypeOrder,
		Description:   fmt.Sprintf("Compra - Orden %s", order.OrderNo),
	}); err != nil {
		return fmt.Errorf("记录购买流水失败: %w", err)
	}

	if err := s.transactionRepo.Create(ctx, tx, &model.Transaction{
		Type:          model.TransactionTypeCommission,
		AmountMXN:     order.CommissionMXN,
		ReferenceID:   &ref,
		ReferenceType: model.ReferenceTypeOrder,
		Description:   fmt.Sprintf("Comisión - Orden %s", order.OrderNo),
	}); err != nil {
		return fmt.Errorf("记录佣金流水失败: %w", err)
	}

	sellerOrder, totals := order.Items.SellerTotals()
	for _, sellerID := range sellerOrder {
		gross := totals[sellerID]
		net := s.sellerNet(gross)
		if err := s.userRepo.Credit(ctx, tx, sellerID, net); err != nil {
			return fmt.Errorf("卖家入账失败: %w", err)
		}
		seller, err := s.userRepo.GetByID(ctx, tx, sellerID)
		if err != nil {
			return err
		}
		sid := sellerID
		if err := s.transactionRepo.Create(ctx, tx, &model.Transaction{
			UserID:        &sid,
			Type:          model.TransactionTypeSale,
			AmountMXN:     net,
			BalanceAfter:  decimal.NewNullDecimal(seller.AvailableBalanceMXN),
			ReferenceID:   &ref,
			ReferenceType: model.ReferenceTypeOrder,
			Description:   fmt.Sprintf("Venta - Orden %s", order.OrderNo),
			Metadata:      model.JSONMap{"gross_mxn": gross.StringFixed(2)},
		}); err != nil {
			return fmt.Errorf("记录销售流水失败: %w", err)
		}
	}
	return nil
}

func (s *CheckoutService) notifyOrder(ctx context.Context, order *model.Order, sellers map[int64]*model.User, touched []*model.Product) {
	if buyer, err := s.userRepo.GetByID(ctx, nil, order.BuyerID); err == nil {
		s.notifier.PurchaseConfirmed(ctx, buyer, order)
	}
	sellerOrder, totals := order.Items.SellerTotals()
	for _, sellerID := range sellerOrder {
		seller, ok := sellers[sellerID]
		if !ok {
			continue
		}
		gross := totals[sellerID]
		s.notifier.SaleMade(ctx, seller, order, order.Items.ForSeller(sellerID), s.sellerNet(gross))
	}
	for _, p := range touched {
		if p.Quantity <= lowStockThreshold {
			if seller, ok := sellers[p.SellerID]; ok {
				s.notifier.LowStock(ctx, seller, p)
			}
		}
	}
}

func (s *CheckoutService) Orders(ctx context.Context, buyerID int64, page repository.Page) ([]*model.Order, int64, error) {
	return s.orderRepo.ListByBuyer(ctx, buyerID, page)
}

func (s *CheckoutService) Order(ctx context.Context, buyerID, orderID int64) (*model.Order, error) {
	order, err := s.orderRepo.GetForBuyer(ctx, buyerID, orderID)
	if errors.Is(err, repository.ErrOrderNotFound) {
		return nil, ErrOrderNotFound
	}
	return order, err
}

func (s *CheckoutService) RecentOrders(ctx context.Context, buyerID int64) ([]*model.Order, error) {
	orders, _, err := s.orderRepo.ListByBuyer(ctx, buyerID, repository.Page{Page: 1, PageSize: s.cfg.Business.RecentOrdersLimit})
	return orders, err
}

func (s *CheckoutService) OrderStats(ctx context.Context, buyerID int64) (*OrderStats, error) {
	st, err := s.orderRepo.StatsByBuyer(ctx, buyerID)
	if err != nil {
		return nil, err
	}
	out := &OrderStats{TotalOrders: st.TotalOrders, TotalSpent: st.TotalSpent, AverageOrder: decimal.Zero}
	if st.TotalOrders > 0 {
		out.AverageOrder = st.TotalSpent.Div(decimal.NewFromInt(st.TotalOrders)).Round(2)
	}
	return out, nil
}

// sales 卖家参与的已完成订单，按销售流水关联
func (s *CheckoutService) sales(ctx context.Context, sellerID int64) ([]*SaleView, error) {
	ids, err := s.transactionRepo.ReferenceIDs(ctx, sellerID, model.TransactionTypeSale, model.ReferenceTypeOrder)
	if err != nil {
		return nil, err
	}
	orders, err := s.orderRepo.ListByIDs(ctx, ids, model.OrderStatusCompleted)
	if err != nil {
		return nil, err
	}
	views := make([]*SaleView, 0, len(orders))
	for _, o := range orders {
		mine := o.Items.ForSeller(sellerID)
		if len(mine) == 0 {
			continue
		}
		sub := mine.Subtotal()
		views = append(views, &SaleView{
			Order:        o,
			Items:        mine,
			UserSubtotal: sub,
			UserEarnings: s.sellerNet(sub),
		})
	}
	return views, nil
}

func (s *CheckoutService) Sales(ctx context.Context, sellerID int64, page repository.Page) ([]*SaleView, int64, error) {
	views, err := s.sales(ctx, sellerID)
	if err != nil {
		return nil, 0, err
	}
	total := int64(len(views))
	start := page.Offset()
	if start > len(views) {
		start = len(views)
	}
	end := start + page.Limit()
	if end > len(views) {
		end = len(views)
	}
	return views[start:end], total, nil
}

func (s *CheckoutService) SalesStats(ctx context.Context, sellerID int64) (*SalesStats, error) {
	views, err := s.sales(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	st := &SalesStats{
		TotalSales:     decimal.Zero,
		TotalEarnings:  decimal.Zero,
		CommissionPaid: decimal.Zero,
		OrdersCount:    len(views),
	}
	for _, v := range views {
		st.TotalSales = st.TotalSales.Add(v.UserSubtotal)
		st.TotalEarnings = st.TotalEarnings.Add(v.UserEarnings)
		st.ItemsSold += v.Items.TotalItems()
	}
	st.CommissionPaid = st.TotalSales.Sub(st.TotalEarnings)
	return st, nil
}

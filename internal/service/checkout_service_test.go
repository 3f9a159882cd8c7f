package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"sproutmarket/internal/model"
	"sproutmarket/internal/repository"
	"sproutmarket/internal/testutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type checkoutEnv struct {
	db       *gorm.DB
	gateway  *testutil.Gateway
	mailer   *testutil.Mailer
	cart     *CartService
	checkout *CheckoutService
}

func newCheckoutEnv(t *testing.T) *checkoutEnv {
	t.Helper()
	db := testutil.OpenDB(t)
	_, rdb := testutil.OpenRedis(t)
	cfg := testutil.Config()
	gw := testutil.NewGateway()
	mailer := &testutil.Mailer{}
	notifier := NewNotificationService(db, mailer, &testutil.Pusher{}, cfg)
	return &checkoutEnv{
		db:       db,
		gateway:  gw,
		mailer:   mailer,
		cart:     NewCartService(db),
		checkout: NewCheckoutService(db, rdb, gw, notifier, cfg),
	}
}

func (e *checkoutEnv) countRows(t *testing.T, m any, query string, args ...any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(m).Where(query, args...).Count(&n).Error)
	return n
}

func TestConfirmPaymentCreatesOrderAndLedger(t *testing.T) {
	ctx := context.Background()
	env := newCheckoutEnv(t)
	seller := testutil.CreateUser(t, env.db, "marisol")
	buyer := testutil.CreateUser(t, env.db, "tomas")
	product := testutil.CreateProduct(t, env.db, seller, "monstera", "100.00", 5)

	_, err := env.cart.AddItem(ctx, buyer.ID, product.ID, 2)
	require.NoError(t, err)

	resp, err := env.checkout.InitiateCheckout(ctx, buyer.ID, BuyerInfo{Name: "Tomás", Phone: "5512345678"})
	require.NoError(t, err)
	assert.Equal(t, int64(20000), resp.AmountCents)
	assert.True(t, decimal.RequireFromString("200").Equal(resp.Amount))
	env.gateway.Succeed(resp.PaymentIntentID)

	order, created, err := env.checkout.ConfirmPayment(ctx, buyer.ID, resp.PaymentIntentID, BuyerInfo{Name: "Tomás", Address: "Av. Reforma 1"})
	require.NoError(t, err)
	require.True(t, created)
	assert.True(t, decimal.RequireFromString("200").Equal(order.SubtotalMXN))
	assert.True(t, decimal.RequireFromString("200").Equal(order.TotalMXN))
	assert.True(t, decimal.RequireFromString("20").Equal(order.CommissionMXN))
	assert.Equal(t, model.OrderStatusCompleted, order.Status)
	require.Len(t, order.Items, 1)
	assert.Equal(t, "marisol", order.Items[0].SellerUsername)

	p := testutil.Reload[model.Product](t, env.db, product.ID)
	assert.Equal(t, 3, p.Quantity)

	s := testutil.Reload[model.User](t, env.db, seller.ID)
	assert.True(t, decimal.RequireFromString("180").Equal(s.AvailableBalanceMXN), s.AvailableBalanceMXN.String())

	assert.Equal(t, int64(1), env.countRows(t, &model.Transaction{}, "type = ? AND user_id = ?", model.TransactionTypePurchase, buyer.ID))
	assert.Equal(t, int64(1), env.countRows(t, &model.Transaction{}, "type = ? AND user_id IS NULL", model.TransactionTypeCommission))
	var sale model.Transaction
	require.NoError(t, env.db.Where("type = ? AND user_id = ?", model.TransactionTypeSale, seller.ID).First(&sale).Error)
	assert.True(t, decimal.RequireFromString("180").Equal(sale.AmountMXN))
	require.True(t, sale.BalanceAfter.Valid)
	assert.True(t, decimal.RequireFromString("180").Equal(sale.BalanceAfter.Decimal))

	view, err := env.cart.View(ctx, buyer.ID)
	require.NoError(t, err)
	assert.Empty(t, view.Items)

	assert.Equal(t, int64(1), env.countRows(t, &model.OutboxMessage{}, "event_type = ?", model.EventOrderCompleted))

	// 买家确认、卖家销售、低库存各一条
	assert.Equal(t, int64(1), env.countRows(t, &model.Notification{}, "user_id = ? AND type = ?", buyer.ID, model.NotificationPurchaseConfirmation))
	assert.Equal(t, int64(1), env.countRows(t, &model.Notification{}, "user_id = ? AND type = ?", seller.ID, model.NotificationSale))
	assert.Equal(t, int64(1), env.countRows(t, &model.Notification{}, "user_id = ? AND type = ?", seller.ID, model.NotificationLowStock))
}

func TestConfirmPaymentIsIdempotent(t *testing.T) {
	ctx := context.Background()
	env := newCheckoutEnv(t)
	seller := testutil.CreateUser(t, env.db, "marisol")
	buyer := testutil.CreateUser(t, env.db, "tomas")
	product := testutil.CreateProduct(t, env.db, seller, "pothos", "45.50", 10)

	_, err := env.cart.AddItem(ctx, buyer.ID, product.ID, 1)
	require.NoError(t, err)
	pi := env.gateway.SucceededIntent(buyer.ID, 4550)

	first, created, err := env.checkout.ConfirmPayment(ctx, buyer.ID, pi, BuyerInfo{})
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := env.checkout.ConfirmPayment(ctx, buyer.ID, pi, BuyerInfo{})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	assert.Equal(t, int64(1), env.countRows(t, &model.Order{}, "stripe_payment_id = ?", pi))
	assert.Equal(t, 9, testutil.Reload[model.Product](t, env.db, product.ID).Quantity)

	// 别人拿同一笔支付来确认
	other := testutil.CreateUser(t, env.db, "intrusa")
	_, _, err = env.checkout.ConfirmPayment(ctx, other.ID, pi, BuyerInfo{})
	assert.ErrorIs(t, err, ErrPaymentAlreadyUsed)
}

func TestConfirmPaymentRollsBackOnInsufficientStock(t *testing.T) {
	ctx := context.Background()
	env := newCheckoutEnv(t)
	seller := testutil.CreateUser(t, env.db, "marisol")
	buyer := testutil.CreateUser(t, env.db, "tomas")
	plenty := testutil.CreateProduct(t, env.db, seller, "helecho", "30.00", 10)
	scarce := testutil.CreateProduct(t, env.db, seller, "bonsai", "500.00", 1)

	_, err := env.cart.AddItem(ctx, buyer.ID, plenty.ID, 2)
	require.NoError(t, err)
	_, err = env.cart.AddItem(ctx, buyer.ID, scarce.ID, 1)
	require.NoError(t, err)

	// 另一位买家先买走了最后一棵
	require.NoError(t, env.db.Model(&model.Product{}).Where("id = ?", scarce.ID).UpdateColumn("quantity", 0).Error)

	pi := env.gateway.SucceededIntent(buyer.ID, 56000)
	_, _, err = env.checkout.ConfirmPayment(ctx, buyer.ID, pi, BuyerInfo{})
	require.ErrorIs(t, err, ErrInsufficientStock)

	assert.Equal(t, 10, testutil.Reload[model.Product](t, env.db, plenty.ID).Quantity)
	assert.Zero(t, env.countRows(t, &model.Order{}, "buyer_id = ?", buyer.ID))
	assert.Zero(t, env.countRows(t, &model.Transaction{}, "1 = 1"))
	assert.True(t, testutil.Reload[model.User](t, env.db, seller.ID).AvailableBalanceMXN.IsZero())

	view, err := env.cart.View(ctx, buyer.ID)
	require.NoError(t, err)
	assert.Len(t, view.Items, 2)
}

func TestConfirmPaymentRejectsInvalidIntents(t *testing.T) {
	ctx := context.Background()
	env := newCheckoutEnv(t)
	seller := testutil.CreateUser(t, env.db, "marisol")
	buyer := testutil.CreateUser(t, env.db, "tomas")
	product := testutil.CreateProduct(t, env.db, seller, "cactus", "80.00", 4)
	_, err := env.cart.AddItem(ctx, buyer.ID, product.ID, 1)
	require.NoError(t, err)

	_, _, err = env.checkout.ConfirmPayment(ctx, buyer.ID, "", BuyerInfo{})
	assert.Error(t, err)

	_, _, err = env.checkout.ConfirmPayment(ctx, buyer.ID, "pi_missing", BuyerInfo{})
	assert.ErrorIs(t, err, ErrPaymentNotFound)

	resp, err := env.checkout.InitiateCheckout(ctx, buyer.ID, BuyerInfo{})
	require.NoError(t, err)
	_, _, err = env.checkout.ConfirmPayment(ctx, buyer.ID, resp.PaymentIntentID, BuyerInfo{})
	assert.ErrorIs(t, err, ErrPaymentIncomplete)

	foreign := env.gateway.SucceededIntent(seller.ID, 8000)
	_, _, err = env.checkout.ConfirmPayment(ctx, buyer.ID, foreign, BuyerInfo{})
	assert.ErrorIs(t, err, ErrPaymentOwnershipMismatch)

	assert.Equal(t, 4, testutil.Reload[model.Product](t, env.db, product.ID).Quantity)
}

func TestInitiateCheckoutValidatesCart(t *testing.T) {
	ctx := context.Background()
	env := newCheckoutEnv(t)
	seller := testutil.CreateUser(t, env.db, "marisol")
	buyer := testutil.CreateUser(t, env.db, "tomas")

	_, err := env.checkout.InitiateCheckout(ctx, buyer.ID, BuyerInfo{})
	assert.ErrorIs(t, err, ErrCartEmpty)

	product := testutil.CreateProduct(t, env.db, seller, "orquidea", "250.00", 2)
	_, err = env.cart.AddItem(ctx, buyer.ID, product.ID, 3)
	require.NoError(t, err)
	_, err = env.checkout.InitiateCheckout(ctx, buyer.ID, BuyerInfo{})
	assert.ErrorIs(t, err, ErrInsufficientStock)

	_, err = env.cart.UpdateItem(ctx, buyer.ID, product.ID, 2)
	require.NoError(t, err)
	env.gateway.FailCreate = true
	_, err = env.checkout.InitiateCheckout(ctx, buyer.ID, BuyerInfo{})
	assert.Error(t, err)
	assert.Empty(t, env.gateway.Intents)
}

func TestCartRules(t *testing.T) {
	ctx := context.Background()
	env := newCheckoutEnv(t)
	seller := testutil.CreateUser(t, env.db, "marisol")
	buyer := testutil.CreateUser(t, env.db, "tomas")
	product := testutil.CreateProduct(t, env.db, seller, "suculenta", "25.00", 8)

	_, err := env.cart.AddItem(ctx, seller.ID, product.ID, 1)
	assert.ErrorIs(t, err, ErrOwnProduct)

	_, err = env.cart.AddItem(ctx, buyer.ID, product.ID, 0)
	assert.ErrorIs(t, err, ErrInvalidQuantityValue)

	_, err = env.cart.AddItem(ctx, buyer.ID, 999999, 1)
	assert.ErrorIs(t, err, ErrProductNotFound)

	_, err = env.cart.AddItem(ctx, buyer.ID, product.ID, 2)
	require.NoError(t, err)
	view, err := env.cart.AddItem(ctx, buyer.ID, product.ID, 3)
	require.NoError(t, err)
	require.Len(t, view.Items, 1)
	assert.Equal(t, 5, view.Items[0].Quantity)
	assert.Equal(t, 5, view.TotalItems)
	assert.True(t, decimal.RequireFromString("125").Equal(view.Total))

	_, err = env.cart.UpdateItem(ctx, buyer.ID, product.ID+1, 1)
	assert.ErrorIs(t, err, ErrNotInCart)

	view, err = env.cart.RemoveItem(ctx, buyer.ID, product.ID)
	require.NoError(t, err)
	assert.Empty(t, view.Items)

	require.NoError(t, env.db.Model(&model.Product{}).Where("id = ?", product.ID).UpdateColumn("status", model.ProductStatusDeleted).Error)
	_, err = env.cart.AddItem(ctx, buyer.ID, product.ID, 1)
	assert.ErrorIs(t, err, ErrProductUnavailable)
}

func TestSalesStats(t *testing.T) {
	ctx := context.Background()
	env := newCheckoutEnv(t)
	seller := testutil.CreateUser(t, env.db, "marisol")
	buyer := testutil.CreateUser(t, env.db, "tomas")
	product := testutil.CreateProduct(t, env.db, seller, "lavanda", "60.00", 10)

	_, err := env.cart.AddItem(ctx, buyer.ID, product.ID, 3)
	require.NoError(t, err)
	pi := env.gateway.SucceededIntent(buyer.ID, 18000)
	_, _, err = env.checkout.ConfirmPayment(ctx, buyer.ID, pi, BuyerInfo{})
	require.NoError(t, err)

	sales, total, err := env.checkout.Sales(ctx, seller.ID, repository.Page{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, sales, 1)

	orders, total, err := env.checkout.Orders(ctx, buyer.ID, repository.Page{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, orders, 1)

	_, err = env.checkout.Order(ctx, seller.ID, orders[0].ID)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestConfirmPaymentRejectsAmountMismatch(t *testing.T) {
	ctx := context.Background()
	env := newCheckoutEnv(t)
	seller := testutil.CreateUser(t, env.db, "marisol")
	buyer := testutil.CreateUser(t, env.db, "tomas")
	product := testutil.CreateProduct(t, env.db, seller, "agave", "100.00", 20)

	_, err := env.cart.AddItem(ctx, buyer.ID, product.ID, 1)
	require.NoError(t, err)
	resp, err := env.checkout.InitiateCheckout(ctx, buyer.ID, BuyerInfo{})
	require.NoError(t, err)
	env.gateway.Succeed(resp.PaymentIntentID)

	// 支付后购物车数量被改大
	_, err = env.cart.UpdateItem(ctx, buyer.ID, product.ID, 10)
	require.NoError(t, err)

	_, created, err := env.checkout.ConfirmPayment(ctx, buyer.ID, resp.PaymentIntentID, BuyerInfo{})
	require.ErrorIs(t, err, ErrPaymentAmountMismatch)
	assert.False(t, created)

	assert.Equal(t, 20, testutil.Reload[model.Product](t, env.db, product.ID).Quantity)
	assert.Zero(t, env.countRows(t, &model.Order{}, "buyer_id = ?", buyer.ID))
	assert.Zero(t, env.countRows(t, &model.Transaction{}, "1 = 1"))
	assert.True(t, testutil.Reload[model.User](t, env.db, seller.ID).AvailableBalanceMXN.IsZero())

	// 币种不符同样拒绝
	_, err = env.cart.UpdateItem(ctx, buyer.ID, product.ID, 1)
	require.NoError(t, err)
	usd := env.gateway.SucceededIntent(buyer.ID, 10000)
	env.gateway.Intents[usd].Currency = "usd"
	_, _, err = env.checkout.ConfirmPayment(ctx, buyer.ID, usd, BuyerInfo{})
	assert.ErrorIs(t, err, ErrPaymentAmountMismatch)
}

func TestLedgerBalancesAcrossSellers(t *testing.T) {
	ctx := context.Background()
	env := newCheckoutEnv(t)
	ana := testutil.CreateUser(t, env.db, "ana")
	bruno := testutil.CreateUser(t, env.db, "bruno")
	buyer := testutil.CreateUser(t, env.db, "tomas")
	first := testutil.CreateProduct(t, env.db, ana, "suculenta", "10.05", 5)
	second := testutil.CreateProduct(t, env.db, bruno, "tillandsia", "10.05", 5)

	_, err := env.cart.AddItem(ctx, buyer.ID, first.ID, 1)
	require.NoError(t, err)
	_, err = env.cart.AddItem(ctx, buyer.ID, second.ID, 1)
	require.NoError(t, err)
	pi := env.gateway.SucceededIntent(buyer.ID, 2010)

	order, _, err := env.checkout.ConfirmPayment(ctx, buyer.ID, pi, BuyerInfo{})
	require.NoError(t, err)
	// 每个卖家 10.05 - 1.01
	assert.True(t, decimal.RequireFromString("2.02").Equal(order.CommissionMXN), order.CommissionMXN.String())

	var rows []model.Transaction
	require.NoError(t, env.db.Where("reference_id = ?", order.ID).Find(&rows).Error)
	purchase, rest := decimal.Zero, decimal.Zero
	for _, row := range rows {
		switch row.Type {
		case model.TransactionTypePurchase:
			purchase = purchase.Add(row.AmountMXN)
		case model.TransactionTypeSale, model.TransactionTypeCommission:
			rest = rest.Add(row.AmountMXN)
		}
	}
	assert.True(t, decimal.RequireFromString("20.10").Equal(purchase))
	assert.True(t, purchase.Equal(rest), "purchase=%s sales+commission=%s", purchase, rest)
	assert.True(t, decimal.RequireFromString("9.04").Equal(testutil.Reload[model.User](t, env.db, ana.ID).AvailableBalanceMXN))
}

func TestConcurrentConfirmationsNeverOversell(t *testing.T) {
	ctx := context.Background()
	env := newCheckoutEnv(t)
	seller := testutil.CreateUser(t, env.db, "marisol")
	product := testutil.CreateProduct(t, env.db, seller, "bonsai", "50.00", 3)

	const buyers = 4
	intents := make(map[int64]string, buyers)
	for i := 0; i < buyers; i++ {
		b := testutil.CreateUser(t, env.db, fmt.Sprintf("comprador%d", i))
		_, err := env.cart.AddItem(ctx, b.ID, product.ID, 2)
		require.NoError(t, err)
		intents[b.ID] = env.gateway.SucceededIntent(b.ID, 10000)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for buyerID, pi := range intents {
		wg.Add(1)
		go func(buyerID int64, pi string) {
			defer wg.Done()
			_, _, err := env.checkout.ConfirmPayment(ctx, buyerID, pi, BuyerInfo{})
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}(buyerID, pi)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, ErrInsufficientStock)
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, testutil.Reload[model.Product](t, env.db, product.ID).Quantity)
	assert.Equal(t, int64(1), env.countRows(t, &model.Order{}, "1 = 1"))
}

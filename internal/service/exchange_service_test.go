package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"sproutmarket/internal/infrastructure/storage"
	"sproutmarket/internal/model"
	"sproutmarket/internal/repository"
	"sproutmarket/internal/testutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type exchangeEnv struct {
	db       *gorm.DB
	gateway  *testutil.Gateway
	store    *testutil.Store
	exchange *ExchangeService
}

func newExchangeEnv(t *testing.T) *exchangeEnv {
	t.Helper()
	db := testutil.OpenDB(t)
	_, rdb := testutil.OpenRedis(t)
	cfg := testutil.Config()
	gw := testutil.NewGateway()
	store := testutil.NewStore()
	notifier := NewNotificationService(db, &testutil.Mailer{}, &testutil.Pusher{}, cfg)
	return &exchangeEnv{
		db:       db,
		gateway:  gw,
		store:    store,
		exchange: NewExchangeService(db, rdb, gw, store, notifier, cfg),
	}
}

func plant(name string) PlantInput {
	return PlantInput{
		PlantCommonName: name,
		Description:     name + " sana, lista para intercambio",
		HeightCM:        decimal.NewNullDecimal(decimal.NewFromInt(40)),
		Images:          map[int]*storage.File{0: testutil.Image(name + ".png")},
	}
}

// publish 支付发布费并发布一个交换
func (e *exchangeEnv) publish(t *testing.T, owner *model.User, name string) *model.Exchange {
	t.Helper()
	pi := e.gateway.SucceededIntent(owner.ID, 9000)
	ex, err := e.exchange.Create(context.Background(), owner.ID, &ExchangeInput{PlantInput: plant(name), Location: "CDMX", PaymentIntentID: pi})
	require.NoError(t, err)
	return ex
}

func (e *exchangeEnv) offer(t *testing.T, offeror *model.User, exchangeID int64) *model.ExchangeOffer {
	t.Helper()
	in := plant(fmt.Sprintf("oferta-%d", offeror.ID))
	o, err := e.exchange.CreateOffer(context.Background(), offeror.ID, exchangeID, &in)
	require.NoError(t, err)
	return o
}

func TestCreateExchangeVerifiesPublicationFee(t *testing.T) {
	ctx := context.Background()
	env := newExchangeEnv(t)
	owner := testutil.CreateUser(t, env.db, "rosa")

	intent, err := env.exchange.CreatePublicationIntent(ctx, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(9000), intent.AmountCents)
	assert.Equal(t, "mxn", intent.Currency)

	// 未完成支付
	_, err = env.exchange.Create(ctx, owner.ID, &ExchangeInput{PlantInput: plant("agave"), PaymentIntentID: intent.PaymentIntentID})
	assert.ErrorIs(t, err, ErrPaymentIncomplete)

	// 金额不对
	cheap := env.gateway.SucceededIntent(owner.ID, 5000)
	_, err = env.exchange.Create(ctx, owner.ID, &ExchangeInput{PlantInput: plant("agave"), PaymentIntentID: cheap})
	assert.ErrorIs(t, err, ErrPaymentAmountMismatch)

	// 别人的支付
	stranger := testutil.CreateUser(t, env.db, "extraño")
	foreign := env.gateway.SucceededIntent(stranger.ID, 9000)
	_, err = env.exchange.Create(ctx, owner.ID, &ExchangeInput{PlantInput: plant("agave"), PaymentIntentID: foreign})
	assert.ErrorIs(t, err, ErrPaymentOwnershipMismatch)

	env.gateway.Succeed(intent.PaymentIntentID)
	ex, err := env.exchange.Create(ctx, owner.ID, &ExchangeInput{PlantInput: plant("agave"), Location: "Oaxaca", PaymentIntentID: intent.PaymentIntentID})
	require.NoError(t, err)
	assert.Equal(t, model.ExchangeStatusActive, ex.Status)
	assert.NotEmpty(t, ex.Images.Main())
	assert.Equal(t, 1, env.store.Count())

	var fee model.Transaction
	require.NoError(t, env.db.Where("type = ? AND user_id = ?", model.TransactionTypeExchangePublication, owner.ID).First(&fee).Error)
	assert.True(t, decimal.RequireFromString("90").Equal(fee.AmountMXN))

	// 同一笔支付不能发布两次
	_, err = env.exchange.Create(ctx, owner.ID, &ExchangeInput{PlantInput: plant("agave"), PaymentIntentID: intent.PaymentIntentID})
	assert.ErrorIs(t, err, ErrPaymentAlreadyUsed)
}

func TestCreateExchangeRequiresMainImage(t *testing.T) {
	env := newExchangeEnv(t)
	owner := testutil.CreateUser(t, env.db, "rosa")
	in := plant("agave")
	in.Images = nil
	_, err := env.exchange.Create(context.Background(), owner.ID, &ExchangeInput{PlantInput: in, PaymentIntentID: env.gateway.SucceededIntent(owner.ID, 9000)})
	assert.ErrorIs(t, err, ErrMainImageRequired)
}

func TestCreateExchangeRemovesRowWhenUploadFails(t *testing.T) {
	ctx := context.Background()
	env := newExchangeEnv(t)
	owner := testutil.CreateUser(t, env.db, "rosa")
	env.store.FailAfter = 1

	pi := env.gateway.SucceededIntent(owner.ID, 9000)
	_, err := env.exchange.Create(ctx, owner.ID, &ExchangeInput{PlantInput: plant("agave"), PaymentIntentID: pi})
	require.ErrorIs(t, err, ErrImageUploadFailed)

	var n int64
	require.NoError(t, env.db.Model(&model.Exchange{}).Count(&n).Error)
	assert.Zero(t, n)
	require.NoError(t, env.db.Model(&model.Transaction{}).Count(&n).Error)
	assert.Zero(t, n)

	// 支付未被占用，可以重试
	env.store.FailAfter = 0
	_, err = env.exchange.Create(ctx, owner.ID, &ExchangeInput{PlantInput: plant("agave"), PaymentIntentID: pi})
	require.NoError(t, err)
}

func TestCreateOfferRules(t *testing.T) {
	ctx := context.Background()
	env := newExchangeEnv(t)
	owner := testutil.CreateUser(t, env.db, "rosa")
	ex := env.publish(t, owner, "agave")

	own := plant("propia")
	_, err := env.exchange.CreateOffer(ctx, owner.ID, ex.ID, &own)
	assert.ErrorIs(t, err, ErrOwnExchange)

	offerors := make([]*model.User, 0, model.MaxPendingOffers)
	for i := 0; i < model.MaxPendingOffers; i++ {
		u := testutil.CreateUser(t, env.db, fmt.Sprintf("ofertante%d", i))
		offerors = append(offerors, u)
		env.offer(t, u, ex.ID)
	}

	again := plant("repetida")
	_, err = env.exchange.CreateOffer(ctx, offerors[0].ID, ex.ID, &again)
	// 已满时先报容量错误
	assert.ErrorIs(t, err, ErrCapacityExceeded)

	late := testutil.CreateUser(t, env.db, "tardio")
	extra := plant("extra")
	_, err = env.exchange.CreateOffer(ctx, late.ID, ex.ID, &extra)
	assert.ErrorIs(t, err, ErrCapacityExceeded)

	detail, err := env.exchange.Get(ctx, ex.ID, owner.ID)
	require.NoError(t, err)
	assert.True(t, detail.IsOwner)
	assert.False(t, detail.CanReceiveOffers)
	assert.Len(t, detail.Pending, model.MaxPendingOffers)

	public, err := env.exchange.Get(ctx, ex.ID, late.ID)
	require.NoError(t, err)
	assert.Empty(t, public.Pending)
}

func TestCreateOfferRejectsDuplicatePending(t *testing.T) {
	ctx := context.Background()
	env := newExchangeEnv(t)
	owner := testutil.CreateUser(t, env.db, "rosa")
	offeror := testutil.CreateUser(t, env.db, "pablo")
	ex := env.publish(t, owner, "agave")

	env.offer(t, offeror, ex.ID)
	in := plant("otra")
	_, err := env.exchange.CreateOffer(ctx, offeror.ID, ex.ID, &in)
	assert.ErrorIs(t, err, ErrDuplicateOffer)

	_, err = env.exchange.CreateOffer(ctx, offeror.ID, ex.ID+100, &in)
	assert.ErrorIs(t, err, ErrExchangeNotFound)
}

func TestCreateOfferRemovesRowWhenUploadFails(t *testing.T) {
	ctx := context.Background()
	env := newExchangeEnv(t)
	owner := testutil.CreateUser(t, env.db, "rosa")
	offeror := testutil.CreateUser(t, env.db, "pablo")
	ex := env.publish(t, owner, "agave")

	env.store.FailAfter = 2
	in := plant("helecho")
	_, err := env.exchange.CreateOffer(ctx, offeror.ID, ex.ID, &in)
	require.ErrorIs(t, err, ErrImageUploadFailed)

	var n int64
	require.NoError(t, env.db.Model(&model.ExchangeOffer{}).Count(&n).Error)
	assert.Zero(t, n)

	// 失败的报价不占名额
	env.store.FailAfter = 0
	env.offer(t, offeror, ex.ID)
}

func TestAcceptOfferRejectsSiblings(t *testing.T) {
	ctx := context.Background()
	env := newExchangeEnv(t)
	owner := testutil.CreateUser(t, env.db, "rosa")
	ex := env.publish(t, owner, "agave")

	a := env.offer(t, testutil.CreateUser(t, env.db, "ana"), ex.ID)
	b := env.offer(t, testutil.CreateUser(t, env.db, "beto"), ex.ID)
	c := env.offer(t, testutil.CreateUser(t, env.db, "carla"), ex.ID)

	_, err := env.exchange.RespondToOffer(ctx, a.OfferorID, a.ID, OfferActionAccept)
	assert.ErrorIs(t, err, ErrNotExchangeOwner)

	_, err = env.exchange.RespondToOffer(ctx, owner.ID, a.ID, "maybe")
	assert.ErrorIs(t, err, ErrInvalidAction)

	res, err := env.exchange.RespondToOffer(ctx, owner.ID, b.ID, OfferActionAccept)
	require.NoError(t, err)
	assert.Equal(t, 2, res.AutoRejected)
	assert.Equal(t, model.OfferStatusAccepted, res.Offer.Status)
	assert.Equal(t, model.ExchangeStatusExchanged, res.Exchange.Status)

	assert.Equal(t, model.OfferStatusRejected, testutil.Reload[model.ExchangeOffer](t, env.db, a.ID).Status)
	assert.Equal(t, model.OfferStatusRejected, testutil.Reload[model.ExchangeOffer](t, env.db, c.ID).Status)

	_, err = env.exchange.RespondToOffer(ctx, owner.ID, a.ID, OfferActionAccept)
	assert.ErrorIs(t, err, ErrAlreadyResolved)

	_, err = env.exchange.Update(ctx, owner.ID, ex.ID, &ExchangePatch{})
	assert.ErrorIs(t, err, ErrExchangeClosed)

	var n int64
	require.NoError(t, env.db.Model(&model.Notification{}).Where("type = ?", model.NotificationOfferRejected).Count(&n).Error)
	assert.Equal(t, int64(2), n)
}

func TestRejectOfferLeavesOthersPending(t *testing.T) {
	ctx := context.Background()
	env := newExchangeEnv(t)
	owner := testutil.CreateUser(t, env.db, "rosa")
	ex := env.publish(t, owner, "agave")

	a := env.offer(t, testutil.CreateUser(t, env.db, "ana"), ex.ID)
	b := env.offer(t, testutil.CreateUser(t, env.db, "beto"), ex.ID)

	res, err := env.exchange.RespondToOffer(ctx, owner.ID, a.ID, OfferActionReject)
	require.NoError(t, err)
	assert.Zero(t, res.AutoRejected)
	assert.Equal(t, model.ExchangeStatusActive, res.Exchange.Status)
	assert.Equal(t, model.OfferStatusPending, testutil.Reload[model.ExchangeOffer](t, env.db, b.ID).Status)

	stats, err := env.exchange.OfferStats(ctx, owner.ID, ex.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats[model.OfferStatusPending])
	assert.Equal(t, int64(1), stats[model.OfferStatusRejected])

	// 被拒的人可以再报一次
	in := plant("segunda")
	_, err = env.exchange.CreateOffer(ctx, a.OfferorID, ex.ID, &in)
	require.NoError(t, err)
}

func TestCancelAndReactivateExchange(t *testing.T) {
	ctx := context.Background()
	env := newExchangeEnv(t)
	owner := testutil.CreateUser(t, env.db, "rosa")
	ex := env.publish(t, owner, "agave")
	a := env.offer(t, testutil.CreateUser(t, env.db, "ana"), ex.ID)

	_, err := env.exchange.Reactivate(ctx, owner.ID, ex.ID)
	assert.ErrorIs(t, err, ErrExchangeNotCanceled)

	other := testutil.CreateUser(t, env.db, "beto")
	_, err = env.exchange.Cancel(ctx, other.ID, ex.ID)
	assert.ErrorIs(t, err, ErrNotExchangeOwner)

	canceled, err := env.exchange.Cancel(ctx, owner.ID, ex.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExchangeStatusCanceled, canceled.Status)
	assert.Equal(t, model.OfferStatusRejected, testutil.Reload[model.ExchangeOffer](t, env.db, a.ID).Status)

	// 重复取消不报错
	_, err = env.exchange.Cancel(ctx, owner.ID, ex.ID)
	require.NoError(t, err)

	// 已取消的交换对其他人不可见，也不能报价
	_, err = env.exchange.Get(ctx, ex.ID, other.ID)
	assert.ErrorIs(t, err, ErrExchangeNotFound)
	in := plant("tarde")
	_, err = env.exchange.CreateOffer(ctx, other.ID, ex.ID, &in)
	assert.ErrorIs(t, err, ErrExchangeNotActive)

	list, total, err := env.exchange.List(ctx, repository.ExchangeFilter{}, repository.Page{})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, list)

	active, err := env.exchange.Reactivate(ctx, owner.ID, ex.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExchangeStatusActive, active.Status)

	_, total, err = env.exchange.List(ctx, repository.ExchangeFilter{}, repository.Page{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestUpdateExchangeReplacesImages(t *testing.T) {
	ctx := context.Background()
	env := newExchangeEnv(t)
	owner := testutil.CreateUser(t, env.db, "rosa")
	ex := env.publish(t, owner, "agave")
	oldMain := ex.Images.Main()

	loc := "Puebla"
	updated, err := env.exchange.Update(ctx, owner.ID, ex.ID, &ExchangePatch{
		Location: &loc,
		Images:   ImageChanges{Uploads: map[int]*storage.File{0: testutil.Image("nueva.png")}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Puebla", updated.Location)
	assert.NotEqual(t, oldMain, updated.Images.Main())
	assert.Contains(t, env.store.Deleted, oldMain)

	_, err = env.exchange.Update(ctx, owner.ID, ex.ID, &ExchangePatch{Images: ImageChanges{Clear: []int{0}}})
	assert.ErrorIs(t, err, ErrMainImageRequired)

	empty := ""
	_, err = env.exchange.Update(ctx, owner.ID, ex.ID, &ExchangePatch{Description: &empty})
	assert.Error(t, err)
}

func TestConcurrentOffersRespectCapacity(t *testing.T) {
	ctx := context.Background()
	env := newExchangeEnv(t)
	owner := testutil.CreateUser(t, env.db, "rosa")
	ex := env.publish(t, owner, "helecho")

	const creators = 8
	offerors := make([]*model.User, creators)
	for i := range offerors {
		offerors[i] = testutil.CreateUser(t, env.db, fmt.Sprintf("ofertante%d", i))
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, u := range offerors {
		wg.Add(1)
		go func(u *model.User) {
			defer wg.Done()
			in := plant(fmt.Sprintf("oferta-%d", u.ID))
			_, err := env.exchange.CreateOffer(ctx, u.ID, ex.ID, &in)
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}(u)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, ErrCapacityExceeded)
	}
	assert.Equal(t, 4, ok)

	var pending int64
	require.NoError(t, env.db.Model(&model.ExchangeOffer{}).
		Where("exchange_id = ? AND status = ?", ex.ID, model.OfferStatusPending).Count(&pending).Error)
	assert.Equal(t, int64(4), pending)
}

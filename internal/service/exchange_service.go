package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"sproutmarket/internal/apperr"
	"sproutmarket/internal/config"
	"sproutmarket/internal/infrastructure/lock"
	"sproutmarket/internal/infrastructure/payment"
	"sproutmarket/internal/infrastructure/storage"
	"sproutmarket/internal/model"
	"sproutmarket/internal/repository"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	OfferActionAccept = "accept"
	OfferActionReject = "reject"
)

type ExchangeService struct {
	db              *gorm.DB
	redisClient     *redis.Client
	cfg             *config.Config
	gateway         payment.Gateway
	notifier        *NotificationService
	exchangeRepo    *repository.ExchangeRepository
	offerRepo       *repository.OfferRepository
	userRepo        *repository.UserRepository
	transactionRepo *repository.TransactionRepository
	outboxRepo      *repository.OutboxRepository
	images          imageKeeper
}

func NewExchangeService(db *gorm.DB, redisClient *redis.Client, gateway payment.Gateway, store storage.ObjectStore, notifier *NotificationService, cfg *config.Config) *ExchangeService {
	return &ExchangeService{
		db:              db,
		redisClient:     redisClient,
		cfg:             cfg,
		gateway:         gateway,
		notifier:        notifier,
		exchangeRepo:    repository.NewExchangeRepository(db),
		offerRepo:       repository.NewOfferRepository(db),
		userRepo:        repository.NewUserRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		outboxRepo:      repository.NewOutboxRepository(db),
		images:          imageKeeper{store: store, maxBytes: cfg.Server.MaxUploadMB << 20},
	}
}

// PlantInput 交换和报价共用的植物描述
type PlantInput struct {
	PlantCommonName     string
	PlantScientificName string
	Description         string
	WidthCM             decimal.NullDecimal
	HeightCM            decimal.NullDecimal
	Images              map[int]*storage.File
}

type ExchangeInput struct {
	PlantInput
	Location        string
	PaymentIntentID string
}

// ExchangePatch nil 字段保持不变
type ExchangePatch struct {
	PlantCommonName     *string
	PlantScientificName *string
	Description         *string
	WidthCM             *decimal.NullDecimal
	HeightCM            *decimal.NullDecimal
	Location            *string
	Images              ImageChanges
}

type PublicationIntent struct {
	ClientSecret    string          `json:"client_secret"`
	PaymentIntentID string          `json:"payment_intent_id"`
	Amount          decimal.Decimal `json:"amount"`
	AmountCents     int64           `json:"amount_cents"`
	Currency        string          `json:"currency"`
}

// ExchangeDetail 详情；PendingOffers 只对发布者返回
type ExchangeDetail struct {
	*model.Exchange
	IsOwner          bool                   `json:"is_owner"`
	CanReceiveOffers bool                   `json:"can_receive_offers"`
	Pending          []*model.ExchangeOffer `json:"pending_offers,omitempty"`
}

type RespondResult struct {
	Offer        *model.ExchangeOffer `json:"offer"`
	Exchange     *model.Exchange      `json:"exchange"`
	Action       string               `json:"action"`
	AutoRejected int                  `json:"auto_rejected"`
}

func (s *ExchangeService) maxPending() int64 {
	if s.cfg.Business.MaxPendingOffers > 0 {
		return int64(s.cfg.Business.MaxPendingOffers)
	}
	return model.MaxPendingOffers
}

func validatePlantFields(commonName, description string, width, height decimal.NullDecimal) error {
	if strings.TrimSpace(commonName) == "" {
		return apperr.Validation("plant_common_name", "植物名称必填")
	}
	if strings.TrimSpace(description) == "" {
		return apperr.Validation("description", "描述必填")
	}
	if width.Valid && !width.Decimal.IsPositive() {
		return apperr.Validation("width_cm", "宽度必须大于 0")
	}
	if height.Valid && !height.Decimal.IsPositive() {
		return apperr.Validation("height_cm", "高度必须大于 0")
	}
	return nil
}

func validatePlant(in *PlantInput) error {
	if err := validatePlantFields(in.PlantCommonName, in.Description, in.WidthCM, in.HeightCM); err != nil {
		return err
	}
	if in.Images[0] == nil {
		return ErrMainImageRequired
	}
	return nil
}

// CreatePublicationIntent 发布交换前支付固定发布费
func (s *ExchangeService) CreatePublicationIntent(ctx context.Context, userID int64) (*PublicationIntent, error) {
	fee := s.cfg.Business.ExchangeFee()
	currency := s.cfg.Business.Currency
	intent, err := s.gateway.CreatePaymentIntent(ctx, payment.CreateIntentParams{
		AmountMinor: toCents(fee),
		Currency:    currency,
		Description: "Publicación de intercambio - SproutMarket",
		Metadata: map[string]string{
			payment.UserMetadataKey: strconv.FormatInt(userID, 10),
			"type":                  model.TransactionTypeExchangePublication,
		},
	})
	if err != nil {
		return nil, apperr.External("stripe", err)
	}
	return &PublicationIntent{
		ClientSecret:    intent.ClientSecret,
		PaymentIntentID: intent.ID,
		Amount:          fee,
		AmountCents:     toCents(fee),
		Currency:        currency,
	}, nil
}

// verifyPublication 发布费必须已支付、金额币种正确、属于本人且未被使用
func (s *ExchangeService) verifyPublication(ctx context.Context, userID int64, paymentID string) (*payment.Intent, error) {
	if paymentID == "" {
		return nil, apperr.Validation("stripe_payment_id", "stripe_payment_id 必填")
	}
	intent, err := s.gateway.RetrievePaymentIntent(ctx, paymentID)
	if err != nil {
		if errors.Is(err, payment.ErrIntentNotFound) {
			return nil, ErrPaymentNotFound.WithField("stripe_payment_id")
		}
		return nil, apperr.External("stripe", err)
	}
	if intent.Status != payment.IntentSucceeded {
		return nil, ErrPaymentIncomplete.WithField("stripe_payment_id")
	}
	expected := toCents(s.cfg.Business.ExchangeFee())
	if intent.Amount != expected || !strings.EqualFold(intent.Currency, s.cfg.Business.Currency) {
		return nil, ErrPaymentAmountMismatch.WithField("stripe_payment_id").WithDetails(map[string]any{
			"expected_cents": expected,
			"paid_cents":     intent.Amount,
			"currency":       intent.Currency,
		})
	}
	if !intent.OwnedBy(userID) {
		return nil, ErrPaymentOwnershipMismatch.WithField("stripe_payment_id")
	}
	used, err := s.exchangeRepo.ExistsByPaymentID(ctx, nil, paymentID)
	if err != nil {
		return nil, err
	}
	if used {
		return nil, ErrPaymentAlreadyUsed.WithField("stripe_payment_id")
	}
	return intent, nil
}

// Create 验证发布费后落库，再上传图片；上传失败删除交换
func (s *ExchangeService) Create(ctx context.Context, userID int64, in *ExchangeInput) (*model.Exchange, error) {
	if err := validatePlant(&in.PlantInput); err != nil {
		return nil, err
	}
	if err := s.images.validate(ImageChanges{Uploads: in.Images}); err != nil {
		return nil, err
	}
	intent, err := s.verifyPublication(ctx, userID, in.PaymentIntentID)
	if err != nil {
		return nil, err
	}

	fee := s.cfg.Business.ExchangeFee()
	exchange := &model.Exchange{
		UserID:              userID,
		PlantCommonName:     in.PlantCommonName,
		PlantScientificName: in.PlantScientificName,
		Description:         in.Description,
		WidthCM:             in.WidthCM,
		HeightCM:            in.HeightCM,
		Location:            in.Location,
		StripePaymentID:     intent.ID,
		Status:              model.ExchangeStatusActive,
	}

	create := func() error {
		if err := s.exchangeRepo.Create(ctx, nil, exchange); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrPaymentAlreadyUsed.WithField("stripe_payment_id")
			}
			return fmt.Errorf("创建交换失败: %w", err)
		}
		return nil
	}
	// 图片、发布费流水和事件在同一事务内写入，失败时整体回滚再删除交换
	saveImages := func(slots model.ImageSlots) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := s.exchangeRepo.UpdateImages(ctx, tx, exchange.ID, slots); err != nil {
				return err
			}
			uid, ref := userID, exchange.ID
			if err := s.transactionRepo.Create(ctx, tx, &model.Transaction{
				UserID:        &uid,
				Type:          model.TransactionTypeExchangePublication,
				AmountMXN:     fee,
				StripeID:      intent.ID,
				ReferenceID:   &ref,
				ReferenceType: model.ReferenceTypeExchange,
				Description:   fmt.Sprintf("Publicación de intercambio: %s", exchange.PlantCommonName),
			}); err != nil {
				return fmt.Errorf("记录发布费流水失败: %w", err)
			}
			exchange.Images = slots
			return s.outboxRepo.Enqueue(ctx, tx, s.cfg.Kafka.Topic.ExchangeEvents, model.EventExchangePublished,
				strconv.FormatInt(exchange.ID, 10), map[string]interface{}{
					"exchange_id": exchange.ID,
					"user_id":     userID,
					"fee_mxn":     fee.StringFixed(2),
					"payment_id":  intent.ID,
				})
		})
	}
	rollback := func() error {
		return s.exchangeRepo.Delete(ctx, nil, exchange.ID)
	}

	if _, err := createWithImages(ctx, s.images, storage.FolderExchanges, in.Images, create, saveImages, rollback); err != nil {
		return nil, err
	}

	log.Printf("[Exchange] 发布交换: exchangeID=%d, userID=%d, payment=%s", exchange.ID, userID, intent.ID)
	return s.exchangeRepo.GetByID(ctx, nil, exchange.ID)
}

// List 公开列表只返回进行中的交换
func (s *ExchangeService) List(ctx context.Context, f repository.ExchangeFilter, page repository.Page) ([]*model.Exchange, int64, error) {
	f.Status = model.ExchangeStatusActive
	f.UserID = 0
	return s.exchangeRepo.List(ctx, f, page)
}

func (s *ExchangeService) Mine(ctx context.Context, userID int64, status string, page repository.Page) ([]*model.Exchange, int64, error) {
	return s.exchangeRepo.List(ctx, repository.ExchangeFilter{UserID: userID, Status: status}, page)
}

func (s *ExchangeService) load(ctx context.Context, id int64) (*model.Exchange, error) {
	exchange, err := s.exchangeRepo.GetByID(ctx, nil, id)
	if err != nil {
		if errors.Is(err, repository.ErrExchangeNotFound) {
			return nil, ErrExchangeNotFound
		}
		return nil, err
	}
	return exchange, nil
}

// Get viewerID 为 0 表示匿名；非发布者看不到已关闭的交换
func (s *ExchangeService) Get(ctx context.Context, id, viewerID int64) (*ExchangeDetail, error) {
	exchange, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	isOwner := viewerID != 0 && exchange.UserID == viewerID
	if !isOwner && exchange.Status != model.ExchangeStatusActive {
		return nil, ErrExchangeNotFound
	}
	if err := s.exchangeRepo.WithPendingCount(ctx, exchange); err != nil {
		return nil, err
	}
	detail := &ExchangeDetail{
		Exchange:         exchange,
		IsOwner:          isOwner,
		CanReceiveOffers: exchange.Status == model.ExchangeStatusActive && exchange.PendingOffers < s.maxPending(),
	}
	if isOwner {
		pending, _, err := s.offerRepo.ListByExchange(ctx, id, model.OfferStatusPending, repository.Page{Page: 1, PageSize: int(s.maxPending())})
		if err != nil {
			return nil, err
		}
		detail.Pending = pending
	}
	return detail, nil
}

func (s *ExchangeService) own(ctx context.Context, userID, id int64) (*model.Exchange, error) {
	exchange, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if exchange.UserID != userID {
		return nil, ErrNotExchangeOwner
	}
	return exchange, nil
}

func (s *ExchangeService) Update(ctx context.Context, userID, id int64, p *ExchangePatch) (*model.Exchange, error) {
	exchange, err := s.own(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if exchange.Status == model.ExchangeStatusExchanged {
		return nil, ErrExchangeClosed
	}
	if err := s.images.validate(p.Images); err != nil {
		return nil, err
	}
	for _, slot := range p.Images.Clear {
		if slot == 0 && p.Images.Uploads[0] == nil {
			return nil, ErrMainImageRequired
		}
	}

	if p.PlantCommonName != nil {
		exchange.PlantCommonName = *p.PlantCommonName
	}
	if p.PlantScientificName != nil {
		exchange.PlantScientificName = *p.PlantScientificName
	}
	if p.Description != nil {
		exchange.Description = *p.Description
	}
	if p.WidthCM != nil {
		exchange.WidthCM = *p.WidthCM
	}
	if p.HeightCM != nil {
		exchange.HeightCM = *p.HeightCM
	}
	if p.Location != nil {
		exchange.Location = *p.Location
	}
	if err := validatePlantFields(exchange.PlantCommonName, exchange.Description, exchange.WidthCM, exchange.HeightCM); err != nil {
		return nil, err
	}

	stale, fresh, err := s.images.apply(ctx, storage.FolderExchanges, &exchange.Images, p.Images)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := s.exchangeRepo.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		// 读到的状态可能已过期
		if locked.Status == model.ExchangeStatusExchanged {
			return ErrExchangeClosed
		}
		exchange.Status = locked.Status
		return s.exchangeRepo.Save(ctx, tx, exchange)
	})
	if err != nil {
		s.images.discard(ctx, fresh)
		return nil, err
	}
	s.images.discard(ctx, stale)

	return s.load(ctx, id)
}

func (s *ExchangeService) withExchangeLock(ctx context.Context, exchangeID int64, fn func() error) error {
	l := lock.NewExchangeOfferLock(s.redisClient, exchangeID)
	if err := l.Lock(ctx, 50*time.Millisecond, 40); err != nil {
		if errors.Is(err, lock.ErrLockFailed) {
			return ErrExchangeBusy
		}
		return fmt.Errorf("获取交换锁失败: %w", err)
	}
	defer l.Unlock(context.Background())
	return fn()
}

// Cancel 拒绝全部待处理报价后取消；已取消时直接返回
func (s *ExchangeService) Cancel(ctx context.Context, userID, id int64) (*model.Exchange, error) {
	if _, err := s.own(ctx, userID, id); err != nil {
		return nil, err
	}

	var rejected []*model.ExchangeOffer
	err := s.withExchangeLock(ctx, id, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			exchange, err := s.exchangeRepo.GetForUpdate(ctx, tx, id)
			if err != nil {
				return err
			}
			switch exchange.Status {
			case model.ExchangeStatusCanceled:
				return nil
			case model.ExchangeStatusExchanged:
				return ErrExchangeClosed
			}
			if rejected, err = s.offerRepo.RejectPending(ctx, tx, id, 0); err != nil {
				return fmt.Errorf("拒绝待处理报价失败: %w", err)
			}
			if err := s.exchangeRepo.UpdateStatus(ctx, tx, id, exchange.Status, model.ExchangeStatusCanceled); err != nil {
				return err
			}
			return s.outboxRepo.Enqueue(ctx, tx, s.cfg.Kafka.Topic.ExchangeEvents, model.EventExchangeCanceled,
				strconv.FormatInt(id, 10), map[string]interface{}{
					"exchange_id":     id,
					"user_id":         userID,
					"rejected_offers": len(rejected),
				})
		})
	})
	if err != nil {
		return nil, err
	}

	if len(rejected) > 0 {
		log.Printf("[Exchange] 取消交换: exchangeID=%d, 拒绝报价 %d 个", id, len(rejected))
		s.notifyRejected(ctx, id, rejected)
	}
	return s.load(ctx, id)
}

// Reactivate 只允许 canceled -> active
func (s *ExchangeService) Reactivate(ctx context.Context, userID, id int64) (*model.Exchange, error) {
	exchange, err := s.own(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if exchange.Status != model.ExchangeStatusCanceled {
		return nil, ErrExchangeNotCanceled
	}
	err = s.exchangeRepo.UpdateStatus(ctx, nil, id, model.ExchangeStatusCanceled, model.ExchangeStatusActive)
	if err != nil {
		if errors.Is(err, repository.ErrExchangeStatusInvalid) {
			return nil, ErrExchangeNotCanceled
		}
		return nil, err
	}
	return s.load(ctx, id)
}

// CreateOffer 容量和重复检查与插入在同一把交换锁和同一事务内完成；图片上传失败删除报价
func (s *ExchangeService) CreateOffer(ctx context.Context, offerorID, exchangeID int64, in *PlantInput) (*model.ExchangeOffer, error) {
	if err := validatePlant(in); err != nil {
		return nil, err
	}
	if err := s.images.validate(ImageChanges{Uploads: in.Images}); err != nil {
		return nil, err
	}

	offer := &model.ExchangeOffer{
		ExchangeID:          exchangeID,
		OfferorID:           offerorID,
		PlantCommonName:     in.PlantCommonName,
		PlantScientificName: in.PlantScientificName,
		Description:         in.Description,
		WidthCM:             in.WidthCM,
		HeightCM:            in.HeightCM,
	}
	var pending int64

	create := func() error {
		return s.withExchangeLock(ctx, exchangeID, func() error {
			return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				exchange, err := s.exchangeRepo.GetForUpdate(ctx, tx, exchangeID)
				if err != nil {
					if errors.Is(err, repository.ErrExchangeNotFound) {
						return ErrExchangeNotFound.WithField("exchange_id")
					}
					return err
				}
				if exchange.Status != model.ExchangeStatusActive {
					return ErrExchangeNotActive.WithField("exchange_id")
				}
				if exchange.UserID == offerorID {
					return ErrOwnExchange.WithField("exchange_id")
				}
				n, err := s.offerRepo.CountPending(ctx, tx, exchangeID)
				if err != nil {
					return err
				}
				if n >= s.maxPending() {
					return ErrCapacityExceeded.WithField("exchange_id").WithDetails(map[string]any{"pending": n, "max": s.maxPending()})
				}
				dup, err := s.offerRepo.HasPending(ctx, tx, exchangeID, offerorID)
				if err != nil {
					return err
				}
				if dup {
					return ErrDuplicateOffer.WithField("exchange_id")
				}
				if err := s.offerRepo.Create(ctx, tx, offer); err != nil {
					if errors.Is(err, repository.ErrOfferDuplicate) {
						return ErrDuplicateOffer.WithField("exchange_id")
					}
					return fmt.Errorf("创建报价失败: %w", err)
				}
				pending = n + 1
				return nil
			})
		})
	}
	saveImages := func(slots model.ImageSlots) error {
		offer.Images = slots
		return s.offerRepo.UpdateImages(ctx, nil, offer.ID, slots)
	}
	rollback := func() error {
		return s.offerRepo.Delete(ctx, nil, offer.ID)
	}

	if _, err := createWithImages(ctx, s.images, storage.FolderOffers, in.Images, create, saveImages, rollback); err != nil {
		return nil, err
	}

	log.Printf("[Exchange] 新报价: offerID=%d, exchangeID=%d, offerorID=%d, pending=%d", offer.ID, exchangeID, offerorID, pending)

	full, err := s.offerRepo.GetByID(ctx, nil, offer.ID)
	if err != nil {
		return nil, err
	}
	if full.Exchange != nil {
		if owner, err := s.userRepo.GetByID(ctx, nil, full.Exchange.UserID); err == nil {
			s.notifier.OfferReceived(ctx, owner, full.Exchange, full, full.Offeror, pending)
		}
	}
	return full, nil
}

// RespondToOffer 发布者接受或拒绝报价
//
// 接受时报价 -> accepted、交换 -> exchanged，其余 pending 报价批量 -> rejected；
// 拒绝只改这一条报价。
func (s *ExchangeService) RespondToOffer(ctx context.Context, responderID, offerID int64, action string) (*RespondResult, error) {
	if action != OfferActionAccept && action != OfferActionReject {
		return nil, ErrInvalidAction
	}
	head, err := s.offerRepo.GetByID(ctx, nil, offerID)
	if err != nil {
		if errors.Is(err, repository.ErrOfferNotFound) {
			return nil, ErrOfferNotFound.WithField("offer_id")
		}
		return nil, err
	}
	exchangeID := head.ExchangeID

	var rejected []*model.ExchangeOffer
	err = s.withExchangeLock(ctx, exchangeID, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			exchange, err := s.exchangeRepo.GetForUpdate(ctx, tx, exchangeID)
			if err != nil {
				if errors.Is(err, repository.ErrExchangeNotFound) {
					return ErrOfferNotFound.WithField("offer_id")
				}
				return err
			}
			offer, err := s.offerRepo.GetForUpdate(ctx, tx, offerID)
			if err != nil {
				if errors.Is(err, repository.ErrOfferNotFound) {
					return ErrOfferNotFound.WithField("offer_id")
				}
				return err
			}
			if exchange.UserID != responderID {
				return ErrNotExchangeOwner.WithField("offer_id")
			}
			if offer.Status != model.OfferStatusPending {
				return ErrAlreadyResolved.WithField("offer_id").WithDetails(map[string]any{"status": offer.Status})
			}
			if exchange.Status != model.ExchangeStatusActive {
				return ErrListingInactive.WithField("offer_id").WithDetails(map[string]any{"exchange_status": exchange.Status})
			}

			if action == OfferActionReject {
				return s.offerRepo.Resolve(ctx, tx, offerID, model.OfferStatusRejected)
			}

			if err := s.offerRepo.Resolve(ctx, tx, offerID, model.OfferStatusAccepted); err != nil {
				return err
			}
			if err := s.exchangeRepo.UpdateStatus(ctx, tx, exchangeID, model.ExchangeStatusActive, model.ExchangeStatusExchanged); err != nil {
				return err
			}
			if rejected, err = s.offerRepo.RejectPending(ctx, tx, exchangeID, offerID); err != nil {
				return fmt.Errorf("拒绝其他报价失败: %w", err)
			}
			return s.outboxRepo.Enqueue(ctx, tx, s.cfg.Kafka.Topic.ExchangeEvents, model.EventOfferAccepted,
				strconv.FormatInt(exchangeID, 10), map[string]interface{}{
					"exchange_id":   exchangeID,
					"offer_id":      offerID,
					"owner_id":      responderID,
					"offeror_id":    offer.OfferorID,
					"auto_rejected": len(rejected),
				})
		})
	})
	if err != nil {
		if errors.Is(err, repository.ErrOfferStatusInvalid) {
			return nil, ErrAlreadyResolved.WithField("offer_id")
		}
		if errors.Is(err, repository.ErrExchangeStatusInvalid) {
			return nil, ErrListingInactive.WithField("offer_id")
		}
		return nil, err
	}

	offer, err := s.offerRepo.GetByID(ctx, nil, offerID)
	if err != nil {
		return nil, err
	}
	exchange, err := s.load(ctx, exchangeID)
	if err != nil {
		return nil, err
	}

	log.Printf("[Exchange] 响应报价: offerID=%d, action=%s, 自动拒绝 %d 个", offerID, action, len(rejected))

	if action == OfferActionAccept {
		s.notifier.OfferAccepted(ctx, exchange.User, offer.Offeror, exchange, offer)
		s.notifyRejected(ctx, exchangeID, rejected)
	} else {
		s.notifier.OfferRejected(ctx, offer.Offeror, exchange, offer)
	}

	return &RespondResult{Offer: offer, Exchange: exchange, Action: action, AutoRejected: len(rejected)}, nil
}

func (s *ExchangeService) notifyRejected(ctx context.Context, exchangeID int64, rejected []*model.ExchangeOffer) {
	if len(rejected) == 0 {
		return
	}
	exchange, err := s.exchangeRepo.GetByID(ctx, nil, exchangeID)
	if err != nil {
		return
	}
	ids := make([]int64, 0, len(rejected))
	for _, o := range rejected {
		ids = append(ids, o.OfferorID)
	}
	users, err := s.userRepo.GetByIDs(ctx, nil, dedupe(ids))
	if err != nil {
		log.Printf("[Exchange] 加载报价人失败: %v", err)
		return
	}
	for _, o := range rejected {
		if u, ok := users[o.OfferorID]; ok {
			s.notifier.OfferRejected(ctx, u, exchange, o)
		}
	}
}

// MyOffers 我发出的报价
func (s *ExchangeService) MyOffers(ctx context.Context, offerorID int64, status string, page repository.Page) ([]*model.ExchangeOffer, int64, error) {
	return s.offerRepo.ListByOfferor(ctx, offerorID, status, page)
}

// Offers 发布者查看交换收到的报价
func (s *ExchangeService) Offers(ctx context.Context, ownerID, exchangeID int64, status string, page repository.Page) ([]*model.ExchangeOffer, int64, error) {
	if _, err := s.own(ctx, ownerID, exchangeID); err != nil {
		return nil, 0, err
	}
	return s.offerRepo.ListByExchange(ctx, exchangeID, status, page)
}

// OfferStats 交换下各状态报价数
func (s *ExchangeService) OfferStats(ctx context.Context, ownerID, exchangeID int64) (map[string]int64, error) {
	if _, err := s.own(ctx, ownerID, exchangeID); err != nil {
		return nil, err
	}
	return s.offerRepo.StatusCounts(ctx, exchangeID)
}

func (s *ExchangeService) Offer(ctx context.Context, userID, offerID int64) (*model.ExchangeOffer, error) {
	offer, err := s.offerRepo.GetByID(ctx, nil, offerID)
	if err != nil {
		if errors.Is(err, repository.ErrOfferNotFound) {
			return nil, ErrOfferNotFound
		}
		return nil, err
	}
	if offer.OfferorID != userID && (offer.Exchange == nil || offer.Exchange.UserID != userID) {
		return nil, ErrOfferNotFound
	}
	return offer, nil
}

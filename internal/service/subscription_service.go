package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"sproutmarket/internal/apperr"
	"sproutmarket/internal/config"
	"sproutmarket/internal/infrastructure/payment"
	"sproutmarket/internal/model"
	"sproutmarket/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type SubscriptionService struct {
	db              *gorm.DB
	cfg             *config.Config
	gateway         payment.Gateway
	notifier        *NotificationService
	subRepo         *repository.SubscriptionRepository
	userRepo        *repository.UserRepository
	transactionRepo *repository.TransactionRepository
	outboxRepo      *repository.OutboxRepository
	now             func() time.Time
}

func NewSubscriptionService(db *gorm.DB, gateway payment.Gateway, notifier *NotificationService, cfg *config.Config) *SubscriptionService {
	return &SubscriptionService{
		db:              db,
		cfg:             cfg,
		gateway:         gateway,
		notifier:        notifier,
		subRepo:         repository.NewSubscriptionRepository(db),
		userRepo:        repository.NewUserRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		outboxRepo:      repository.NewOutboxRepository(db),
		now:             time.Now,
	}
}

type CreateSubscriptionResult struct {
	SubscriptionID   string          `json:"subscription_id"`
	ClientSecret     string          `json:"client_secret"`
	Status           string          `json:"status"`
	CurrentPeriodEnd *time.Time      `json:"current_period_end"`
	Amount           decimal.Decimal `json:"amount"`
}

type SubscriptionChange struct {
	Message          string     `json:"message"`
	Status           string     `json:"status"`
	CurrentPeriodEnd *time.Time `json:"current_period_end"`
}

type SubscriptionStatus struct {
	HasSubscription    bool       `json:"has_subscription"`
	IsPremium          bool       `json:"is_premium"`
	Status             string     `json:"status,omitempty"`
	CurrentPeriodStart *time.Time `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd  bool       `json:"cancel_at_period_end"`
}

type PlanLimits struct {
	MaxProducts int  `json:"max_products"`
	Priority    bool `json:"priority"`
}

type Benefits struct {
	Price       string          `json:"price"`
	Currency    string          `json:"currency"`
	Amount      decimal.Decimal `json:"amount"`
	Benefits    []string        `json:"benefits"`
	FreePlan    PlanLimits      `json:"free_plan_limits"`
	PremiumPlan PlanLimits      `json:"premium_plan_limits"`
}

func fromGateway(userID int64, sub *payment.Subscription) *model.Subscription {
	return &model.Subscription{
		UserID:               userID,
		StripeSubscriptionID: sub.ID,
		StripeCustomerID:     sub.CustomerID,
		StripePriceID:        sub.PriceID,
		Status:               sub.Status,
		CancelAtPeriodEnd:    sub.CancelAtPeriodEnd,
		CurrentPeriodStart:   sub.CurrentPeriodStart,
		CurrentPeriodEnd:     sub.CurrentPeriodEnd,
		CanceledAt:           sub.CanceledAt,
		EndedAt:              sub.EndedAt,
		Metadata:             model.JSONMap{"stripe_subscription": sub.ID},
	}
}

func (s *SubscriptionService) user(ctx context.Context, userID int64) (*model.User, error) {
	u, err := s.userRepo.GetByID(ctx, nil, userID)
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil, ErrUserNotFound
	}
	return u, err
}

// ensureCustomer 首次订阅时在支付渠道创建客户
func (s *SubscriptionService) ensureCustomer(ctx context.Context, u *model.User) (string, error) {
	if u.StripeCustomerID != "" {
		return u.StripeCustomerID, nil
	}
	id, err := s.gateway.CreateCustomer(ctx, u.Email, u.FullName(), map[string]string{
		payment.UserMetadataKey: strconv.FormatInt(u.ID, 10),
		"username":              u.Username,
	})
	if err != nil {
		return "", apperr.External("stripe", err)
	}
	if err := s.userRepo.UpdateFields(ctx, nil, u.ID, map[string]interface{}{"stripe_customer_id": id}); err != nil {
		return "", fmt.Errorf("保存客户ID失败: %w", err)
	}
	u.StripeCustomerID = id
	return id, nil
}

// Create 创建未完成的订阅，客户端用 client_secret 完成首期支付，会员状态由 webhook 同步
func (s *SubscriptionService) Create(ctx context.Context, userID int64) (*CreateSubscriptionResult, error) {
	u, err := s.user(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.IsPremium {
		return nil, ErrAlreadyPremium
	}
	customerID, err := s.ensureCustomer(ctx, u)
	if err != nil {
		return nil, err
	}

	sub, err := s.gateway.CreateSubscription(ctx, payment.CreateSubscriptionParams{
		CustomerID: customerID,
		PriceID:    s.cfg.Stripe.PremiumPriceID,
		Metadata: map[string]string{
			payment.UserMetadataKey: strconv.FormatInt(userID, 10),
			"user_email":            u.Email,
		},
	})
	if err != nil {
		return nil, apperr.External("stripe", err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.subRepo.Upsert(ctx, tx, fromGateway(userID, sub)); err != nil {
			return fmt.Errorf("保存订阅失败: %w", err)
		}
		return s.userRepo.UpdateFields(ctx, tx, userID, map[string]interface{}{"stripe_subscription_id": sub.ID})
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[Subscription] 创建订阅: userID=%d, subscription=%s, status=%s", userID, sub.ID, sub.Status)
	return &CreateSubscriptionResult{
		SubscriptionID:   sub.ID,
		ClientSecret:     sub.ClientSecret,
		Status:           sub.Status,
		CurrentPeriodEnd: sub.CurrentPeriodEnd,
		Amount:           s.cfg.Business.PremiumPrice(),
	}, nil
}

// setCancel 修改渠道侧的到期取消标记并同步本地记录
func (s *SubscriptionService) setCancel(ctx context.Context, u *model.User, cancel bool) (*payment.Subscription, error) {
	sub, err := s.gateway.SetCancelAtPeriodEnd(ctx, u.StripeSubscriptionID, cancel)
	if err != nil {
		return nil, apperr.External("stripe", err)
	}
	local := fromGateway(u.ID, sub)
	if cancel && local.CanceledAt == nil {
		now := s.now().UTC()
		local.CanceledAt = &now
	}
	if !cancel {
		local.CanceledAt = nil
	}
	if err := s.subRepo.Upsert(ctx, nil, local); err != nil {
		return nil, fmt.Errorf("同步订阅失败: %w", err)
	}
	return sub, nil
}

// Cancel 到期取消，当前周期内保留会员权益
func (s *SubscriptionService) Cancel(ctx context.Context, userID int64) (*SubscriptionChange, error) {
	u, err := s.user(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.StripeSubscriptionID == "" {
		return nil, ErrNoSubscription
	}
	sub, err := s.setCancel(ctx, u, true)
	if err != nil {
		return nil, err
	}
	log.Printf("[Subscription] 到期取消: userID=%d, subscription=%s", userID, sub.ID)
	s.notifier.SubscriptionCanceled(ctx, u, sub.CurrentPeriodEnd)
	return &SubscriptionChange{
		Message:          "Suscripción cancelada. Mantendrás acceso premium hasta el fin del periodo.",
		Status:           model.SubscriptionStatusCanceled,
		CurrentPeriodEnd: sub.CurrentPeriodEnd,
	}, nil
}

// Reactivate 撤销到期取消，只在周期结束前有效
func (s *SubscriptionService) Reactivate(ctx context.Context, userID int64) (*SubscriptionChange, error) {
	u, err := s.user(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.StripeSubscriptionID == "" {
		return nil, ErrNoSubscription
	}
	local, err := s.subRepo.GetByStripeID(ctx, nil, u.StripeSubscriptionID)
	if err != nil && !errors.Is(err, repository.ErrSubscriptionNotFound) {
		return nil, err
	}
	if local != nil {
		if local.EndedAt != nil || !local.GrantsPremium() {
			return nil, ErrSubscriptionInactive
		}
		if !local.CancelAtPeriodEnd {
			return nil, ErrNotCanceling
		}
	}
	sub, err := s.setCancel(ctx, u, false)
	if err != nil {
		return nil, err
	}
	log.Printf("[Subscription] 恢复订阅: userID=%d, subscription=%s", userID, sub.ID)
	return &SubscriptionChange{
		Message:          "Suscripción reactivada exitosamente",
		Status:           sub.Status,
		CurrentPeriodEnd: sub.CurrentPeriodEnd,
	}, nil
}

// Status 优先以支付渠道为准，渠道不可用时退回本地记录
func (s *SubscriptionService) Status(ctx context.Context, userID int64) (*SubscriptionStatus, error) {
	u, err := s.user(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.StripeSubscriptionID == "" {
		return &SubscriptionStatus{IsPremium: u.IsPremium}, nil
	}
	sub, err := s.gateway.RetrieveSubscription(ctx, u.StripeSubscriptionID)
	if err == nil {
		return &SubscriptionStatus{
			HasSubscription:    true,
			IsPremium:          u.IsPremium,
			Status:             sub.Status,
			CurrentPeriodStart: sub.CurrentPeriodStart,
			CurrentPeriodEnd:   sub.CurrentPeriodEnd,
			CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		}, nil
	}
	log.Printf("[Subscription] 查询渠道订阅失败，使用本地记录: userID=%d, err=%v", userID, err)

	local, lerr := s.subRepo.GetByStripeID(ctx, nil, u.StripeSubscriptionID)
	if lerr != nil {
		if errors.Is(lerr, repository.ErrSubscriptionNotFound) {
			return &SubscriptionStatus{IsPremium: u.IsPremium}, nil
		}
		return nil, lerr
	}
	return &SubscriptionStatus{
		HasSubscription:    true,
		IsPremium:          u.IsPremium,
		Status:             local.Status,
		CurrentPeriodStart: local.CurrentPeriodStart,
		CurrentPeriodEnd:   local.CurrentPeriodEnd,
		CancelAtPeriodEnd:  local.CancelAtPeriodEnd,
	}, nil
}

func (s *SubscriptionService) History(ctx context.Context, userID int64, page repository.Page) ([]*model.Subscription, int64, error) {
	return s.subRepo.ListByUser(ctx, userID, page)
}

func (s *SubscriptionService) Benefits() *Benefits {
	b := s.cfg.Business
	return &Benefits{
		Price:    b.PremiumPrice().StringFixed(0) + " MXN/mes",
		Currency: "MXN",
		Amount:   b.PremiumPrice(),
		Benefits: []string{
			fmt.Sprintf("Publicar hasta %d productos (vs %d en plan gratuito)", b.PremiumProductLimit, b.FreeProductLimit),
			"Tus productos aparecen primero en el catálogo",
			"Badge de vendedor premium visible",
			"Soporte prioritario",
			"Estadísticas avanzadas de ventas",
		},
		FreePlan:    PlanLimits{MaxProducts: b.FreeProductLimit},
		PremiumPlan: PlanLimits{MaxProducts: b.PremiumProductLimit, Priority: true},
	}
}

// ParseWebhook 校验签名并解析事件
func (s *SubscriptionService) ParseWebhook(payload []byte, signature string) (*payment.Event, error) {
	return s.gateway.ConstructEvent(payload, signature)
}

// HandleEvent 处理已验签的 webhook 事件；未知事件忽略
func (s *SubscriptionService) HandleEvent(ctx context.Context, ev *payment.Event) error {
	switch ev.Type {
	case payment.EventSubscriptionCreated, payment.EventSubscriptionUpdated, payment.EventSubscriptionDeleted:
		sub, err := payment.ParseSubscription(ev.Data)
		if err != nil {
			return err
		}
		return s.syncSubscription(ctx, ev.Type, sub)
	case payment.EventInvoicePaymentSucceed:
		inv, err := payment.ParseInvoice(ev.Data)
		if err != nil {
			return err
		}
		return s.invoicePaid(ctx, inv)
	case payment.EventInvoicePaymentFailed:
		inv, err := payment.ParseInvoice(ev.Data)
		if err != nil {
			return err
		}
		u, err := s.userRepo.GetByStripeCustomerID(ctx, nil, inv.CustomerID)
		if err != nil {
			return fmt.Errorf("按客户ID查找用户失败: customer=%s: %w", inv.CustomerID, err)
		}
		log.Printf("[Subscription] 扣款失败: userID=%d, invoice=%s", u.ID, inv.ID)
		s.notifier.PaymentFailed(ctx, u, inv.ID)
		return nil
	default:
		log.Printf("[Subscription] 忽略事件: id=%s, type=%s", ev.ID, ev.Type)
		return nil
	}
}

// syncSubscription 写入订阅记录并同步用户会员状态
func (s *SubscriptionService) syncSubscription(ctx context.Context, eventType string, sub *payment.Subscription) error {
	u, err := s.userRepo.GetByStripeCustomerID(ctx, nil, sub.CustomerID)
	if err != nil {
		return fmt.Errorf("按客户ID查找用户失败: customer=%s: %w", sub.CustomerID, err)
	}

	local := fromGateway(u.ID, sub)
	premium := local.GrantsPremium()
	expires := sub.CurrentPeriodEnd
	if eventType == payment.EventSubscriptionDeleted {
		local.Status = model.SubscriptionStatusCanceled
		if local.EndedAt == nil {
			now := s.now().UTC()
			local.EndedAt = &now
		}
		premium, expires = false, nil
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.subRepo.Upsert(ctx, tx, local); err != nil {
			return fmt.Errorf("保存订阅失败: %w", err)
		}
		if err := s.userRepo.SetPremium(ctx, tx, u.ID, premium, expires, sub.ID); err != nil {
			return fmt.Errorf("同步会员状态失败: %w", err)
		}
		log.Printf("[Subscription] %s: userID=%d, subscription=%s, status=%s, premium=%v", eventType, u.ID, sub.ID, local.Status, premium)
		return s.outboxRepo.Enqueue(ctx, tx, s.cfg.Kafka.Topic.SubscriptionEvents, model.EventSubscriptionChanged, sub.ID, map[string]interface{}{
			"user_id":         u.ID,
			"subscription_id": sub.ID,
			"status":          local.Status,
			"is_premium":      premium,
			"source_event":    eventType,
		})
	})
}

// invoicePaid 记录订阅扣款流水，同一笔支付重放时跳过
func (s *SubscriptionService) invoicePaid(ctx context.Context, inv *payment.Invoice) error {
	u, err := s.userRepo.GetByStripeCustomerID(ctx, nil, inv.CustomerID)
	if err != nil {
		return fmt.Errorf("按客户ID查找用户失败: customer=%s: %w", inv.CustomerID, err)
	}
	stripeID := inv.PaymentIntent
	if stripeID == "" {
		stripeID = inv.ID
	}
	amount := decimal.New(inv.AmountPaid, -2)

	var periodEnd *time.Time
	created := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		exists, err := s.transactionRepo.ExistsByStripeID(ctx, tx, model.TransactionTypeSubscription, stripeID)
		if err != nil || exists {
			return err
		}
		uid := u.ID
		t := &model.Transaction{
			UserID:        &uid,
			Type:          model.TransactionTypeSubscription,
			AmountMXN:     amount,
			StripeID:      stripeID,
			ReferenceType: model.ReferenceTypeSubscription,
			Description:   "Suscripción Premium",
			Metadata:      model.JSONMap{"invoice_id": inv.ID, "subscription_id": inv.SubscriptionID},
		}
		if local, err := s.subRepo.GetByStripeID(ctx, tx, inv.SubscriptionID); err == nil {
			ref := local.ID
			t.ReferenceID = &ref
			periodEnd = local.CurrentPeriodEnd
		}
		if err := s.transactionRepo.Create(ctx, tx, t); err != nil {
			return fmt.Errorf("记录订阅流水失败: %w", err)
		}
		created = true
		return nil
	})
	if err != nil {
		return err
	}
	if !created {
		log.Printf("[Subscription] 重复的扣款事件，跳过: invoice=%s", inv.ID)
		return nil
	}

	log.Printf("[Subscription] 订阅扣款: userID=%d, invoice=%s, amount=%s", u.ID, inv.ID, amount)
	s.notifier.SubscriptionRenewed(ctx, u, amount, periodEnd)
	return nil
}

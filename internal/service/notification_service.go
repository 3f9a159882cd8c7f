package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"sproutmarket/internal/config"
	"sproutmarket/internal/infrastructure/notify"
	"sproutmarket/internal/model"
	"sproutmarket/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// NotifyRequest 一条站内通知及其投递渠道
type NotifyRequest struct {
	User     *model.User
	Type     string
	Title    string
	Message  string
	Metadata model.JSONMap
	Email    bool
	Push     bool
}

type NotificationService struct {
	cfg      *config.Config
	repo     *repository.NotificationRepository
	userRepo *repository.UserRepository
	mailer   notify.Mailer
	pusher   notify.Pusher
	now      func() time.Time
}

func NewNotificationService(db *gorm.DB, mailer notify.Mailer, pusher notify.Pusher, cfg *config.Config) *NotificationService {
	return &NotificationService{
		cfg:      cfg,
		repo:     repository.NewNotificationRepository(db),
		userRepo: repository.NewUserRepository(db),
		mailer:   mailer,
		pusher:   pusher,
		now:      time.Now,
	}
}

// Notify 先落库，再分别尝试邮件和推送；渠道失败只记日志，不回滚记录
func (s *NotificationService) Notify(ctx context.Context, req NotifyRequest) (*model.Notification, error) {
	n := &model.Notification{
		UserID:   req.User.ID,
		Type:     req.Type,
		Title:    req.Title,
		Message:  strings.TrimSpace(req.Message),
		Metadata: req.Metadata,
	}
	if err := s.repo.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("保存通知失败: %w", err)
	}

	if req.Email && s.mailer != nil && req.User.Email != "" && req.User.IsEmailVerified {
		if _, err := s.mailer.SendEmail(ctx, req.User.Email, n.Title, n.Message); err != nil {
			log.Printf("[Notify] 邮件发送失败: notificationID=%d, userID=%d, err=%v", n.ID, n.UserID, err)
		} else {
			at := s.now()
			if err := s.repo.MarkEmailSent(ctx, n.ID, at); err != nil {
				log.Printf("[Notify] 更新邮件状态失败: notificationID=%d, err=%v", n.ID, err)
			} else {
				n.EmailSent, n.EmailSentAt = true, &at
			}
		}
	}

	if req.Push && s.pusher != nil {
		if _, err := s.pusher.Publish(ctx, n.Title, n.Message); err != nil {
			if !errors.Is(err, notify.ErrChannelDisabled) {
				log.Printf("[Notify] 推送失败: notificationID=%d, userID=%d, err=%v", n.ID, n.UserID, err)
			}
		} else {
			at := s.now()
			if err := s.repo.MarkPushSent(ctx, n.ID, at); err != nil {
				log.Printf("[Notify] 更新推送状态失败: notificationID=%d, err=%v", n.ID, err)
			} else {
				n.PushSent, n.PushSentAt = true, &at
			}
		}
	}

	return n, nil
}

// fire 业务已提交后的通知，失败不影响调用方
func (s *NotificationService) fire(ctx context.Context, req NotifyRequest) {
	if s == nil || req.User == nil {
		return
	}
	if _, err := s.Notify(ctx, req); err != nil {
		log.Printf("[Notify] %s 通知失败: userID=%d, err=%v", req.Type, req.User.ID, err)
	}
}

func (s *NotificationService) List(ctx context.Context, userID int64, f repository.NotificationFilter, page repository.Page) ([]*model.Notification, int64, error) {
	return s.repo.List(ctx, userID, f, page)
}

// Get 查看详情时自动标记为已读
func (s *NotificationService) Get(ctx context.Context, userID, id int64) (*model.Notification, error) {
	n, err := s.repo.GetForUser(ctx, userID, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotificationNotFound) {
			return nil, ErrNotificationNotFound
		}
		return nil, err
	}
	if !n.IsRead {
		at := s.now()
		if err := s.repo.MarkRead(ctx, userID, id, at); err != nil {
			return nil, err
		}
		n.IsRead, n.ReadAt = true, &at
	}
	return n, nil
}

// MarkRead 返回通知此前是否已读
func (s *NotificationService) MarkRead(ctx context.Context, userID, id int64) (*model.Notification, bool, error) {
	n, err := s.repo.GetForUser(ctx, userID, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotificationNotFound) {
			return nil, false, ErrNotificationNotFound
		}
		return nil, false, err
	}
	if n.IsRead {
		return n, true, nil
	}
	at := s.now()
	if err := s.repo.MarkRead(ctx, userID, id, at); err != nil {
		return nil, false, err
	}
	n.IsRead, n.ReadAt = true, &at
	return n, false, nil
}

func (s *NotificationService) MarkAllRead(ctx context.Context, userID int64, ids []int64) (int64, error) {
	return s.repo.MarkAllRead(ctx, userID, ids, s.now())
}

func (s *NotificationService) Delete(ctx context.Context, userID, id int64) error {
	err := s.repo.Delete(ctx, userID, id)
	if errors.Is(err, repository.ErrNotificationNotFound) {
		return ErrNotificationNotFound
	}
	return err
}

func (s *NotificationService) UnreadCount(ctx context.Context, userID int64) (int64, error) {
	return s.repo.UnreadCount(ctx, userID)
}

func (s *NotificationService) Recent(ctx context.Context, userID int64) ([]*model.Notification, error) {
	return s.repo.Recent(ctx, userID, s.cfg.Business.RecentNotificationsMax)
}

func (s *NotificationService) ClearAll(ctx context.Context, userID int64) (int64, error) {
	return s.repo.ClearAll(ctx, userID, false)
}

func (s *NotificationService) ClearRead(ctx context.Context, userID int64) (int64, error) {
	return s.repo.ClearAll(ctx, userID, true)
}

func (s *NotificationService) Stats(ctx context.Context, userID int64) (*repository.NotificationStats, error) {
	return s.repo.Stats(ctx, userID)
}

func mxn(d decimal.Decimal) string {
	return "$" + d.StringFixed(2) + " MXN"
}

func orEmpty(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

func (s *NotificationService) PurchaseConfirmed(ctx context.Context, buyer *model.User, order *model.Order) {
	s.fire(ctx, NotifyRequest{
		User:  buyer,
		Type:  model.NotificationPurchaseConfirmation,
		Title: fmt.Sprintf("Confirmación de compra - Orden %s", order.OrderNo),
		Message: fmt.Sprintf(`Hola %s,

Tu orden ha sido confirmada.

- Número de orden: %s
- Total pagado: %s
- Productos: %d artículo(s)

Entrega a: %s, %s, %s

Los vendedores se pondrán en contacto contigo para coordinar la entrega.`,
			order.BuyerName, order.OrderNo, mxn(order.TotalMXN), order.Items.TotalItems(),
			order.BuyerName, order.BuyerPhone, order.BuyerAddress),
		Metadata: model.JSONMap{"order_id": order.ID, "order_no": order.OrderNo},
		Email:    true,
		Push:     true,
	})
}

func (s *NotificationService) SaleMade(ctx context.Context, seller *model.User, order *model.Order, lines model.OrderLines, earnings decimal.Decimal) {
	var b strings.Builder
	for _, l := range lines {
		fmt.Fprintf(&b, "- %s x%d = %s\n", l.ProductName, l.Quantity, mxn(l.Subtotal))
	}
	subtotal := lines.Subtotal()
	s.fire(ctx, NotifyRequest{
		User:  seller,
		Type:  model.NotificationSale,
		Title: fmt.Sprintf("¡Nueva venta! - Orden %s", order.OrderNo),
		Message: fmt.Sprintf(`Hola %s,

Has realizado una venta en SproutMarket.

%s
- Subtotal: %s
- Tu ganancia: %s
- Comisión plataforma: %s

Comprador: %s, %s, %s`,
			seller.FullName(), b.String(), mxn(subtotal), mxn(earnings), mxn(subtotal.Sub(earnings)),
			order.BuyerName, order.BuyerPhone, order.BuyerAddress),
		Metadata: model.JSONMap{"order_id": order.ID, "earnings": earnings.StringFixed(2)},
		Email:    true,
		Push:     true,
	})
}

// LowStock 商品售罄或库存见底时提醒卖家
func (s *NotificationService) LowStock(ctx context.Context, seller *model.User, product *model.Product) {
	s.fire(ctx, NotifyRequest{
		User:  seller,
		Type:  model.NotificationLowStock,
		Title: fmt.Sprintf("Alerta de stock bajo - %s", product.CommonName),
		Message: fmt.Sprintf(`Hola %s,

- Producto: %s
- Stock actual: %d unidades
- Precio: %s

Si se agota, el producto aparecerá como "Agotado" hasta que agregues más stock.`,
			seller.FullName(), product.CommonName, product.Quantity, mxn(product.PriceMXN)),
		Metadata: model.JSONMap{"product_id": product.ID, "quantity": product.Quantity},
		Email:    true,
	})
}

func (s *NotificationService) OfferReceived(ctx context.Context, owner *model.User, exchange *model.Exchange, offer *model.ExchangeOffer, offeror *model.User, pending int64) {
	s.fire(ctx, NotifyRequest{
		User:  owner,
		Type:  model.NotificationExchangeOffer,
		Title: fmt.Sprintf("Nueva oferta de intercambio - %s", exchange.PlantCommonName),
		Message: fmt.Sprintf(`Hola %s,

%s ofrece %s (%s) por tu %s.

%s

Tienes %d/%d ofertas pendientes.`,
			owner.FullName(), offeror.FullName(), offer.PlantCommonName, orEmpty(offer.PlantScientificName, "-"),
			exchange.PlantCommonName, offer.Description, pending, s.cfg.Business.MaxPendingOffers),
		Metadata: model.JSONMap{"exchange_id": exchange.ID, "offer_id": offer.ID},
		Email:    true,
		Push:     true,
	})
}

// OfferAccepted 通知双方交换已达成
func (s *NotificationService) OfferAccepted(ctx context.Context, owner, offeror *model.User, exchange *model.Exchange, offer *model.ExchangeOffer) {
	md := model.JSONMap{"exchange_id": exchange.ID, "offer_id": offer.ID}
	s.fire(ctx, NotifyRequest{
		User:  offeror,
		Type:  model.NotificationOfferAccepted,
		Title: fmt.Sprintf("¡Tu oferta fue aceptada! - %s", exchange.PlantCommonName),
		Message: fmt.Sprintf(`Hola %s,

Tu oferta de %s por %s fue aceptada.

Contacto: %s, %s, %s
Ubicación: %s`,
			offeror.FullName(), offer.PlantCommonName, exchange.PlantCommonName,
			owner.FullName(), owner.Email, orEmpty(owner.PhoneNumber, "No proporcionado"), exchange.Location),
		Metadata: md,
		Email:    true,
		Push:     true,
	})
	s.fire(ctx, NotifyRequest{
		User:  owner,
		Type:  model.NotificationOfferAccepted,
		Title: fmt.Sprintf("Intercambio confirmado - %s", exchange.PlantCommonName),
		Message: fmt.Sprintf(`Hola %s,

Aceptaste la oferta de %s por tu %s.

Contacto: %s, %s, %s`,
			owner.FullName(), offer.PlantCommonName, exchange.PlantCommonName,
			offeror.FullName(), offeror.Email, orEmpty(offeror.PhoneNumber, "No proporcionado")),
		Metadata: md,
		Email:    true,
		Push:     true,
	})
}

// OfferRejected 拒绝不发推送
func (s *NotificationService) OfferRejected(ctx context.Context, offeror *model.User, exchange *model.Exchange, offer *model.ExchangeOffer) {
	s.fire(ctx, NotifyRequest{
		User:  offeror,
		Type:  model.NotificationOfferRejected,
		Title: fmt.Sprintf("Oferta no aceptada - %s", exchange.PlantCommonName),
		Message: fmt.Sprintf(`Hola %s,

Tu oferta de %s para %s no fue aceptada en esta ocasión.

Puedes hacer otra oferta o crear tu propia publicación de intercambio (%s).`,
			offeror.FullName(), offer.PlantCommonName, exchange.PlantCommonName, mxn(s.cfg.Business.ExchangeFee())),
		Metadata: model.JSONMap{"exchange_id": exchange.ID, "offer_id": offer.ID},
		Email:    true,
	})
}

func (s *NotificationService) SubscriptionRenewed(ctx context.Context, user *model.User, amount decimal.Decimal, periodEnd *time.Time) {
	until := "-"
	if periodEnd != nil {
		until = periodEnd.Format("2006-01-02")
	}
	s.fire(ctx, NotifyRequest{
		User:  user,
		Type:  model.NotificationSubscriptionRenewal,
		Title: "Suscripción Premium activa",
		Message: fmt.Sprintf(`Hola %s,

Recibimos tu pago de %s. Tu suscripción Premium está activa hasta %s.`,
			user.FullName(), mxn(amount), until),
		Metadata: model.JSONMap{"amount": amount.StringFixed(2)},
		Email:    true,
		Push:     true,
	})
}

func (s *NotificationService) SubscriptionCanceled(ctx context.Context, user *model.User, periodEnd *time.Time) {
	until := "el final del periodo actual"
	if periodEnd != nil {
		until = periodEnd.Format("2006-01-02")
	}
	s.fire(ctx, NotifyRequest{
		User:  user,
		Type:  model.NotificationSubscriptionCanceled,
		Title: "Suscripción Premium cancelada",
		Message: fmt.Sprintf(`Hola %s,

Tu suscripción Premium fue cancelada. Conservarás los beneficios hasta %s.`,
			user.FullName(), until),
		Email: true,
	})
}

func (s *NotificationService) PaymentFailed(ctx context.Context, user *model.User, invoiceID string) {
	s.fire(ctx, NotifyRequest{
		User:  user,
		Type:  model.NotificationPaymentFailed,
		Title: "No pudimos procesar tu pago",
		Message: fmt.Sprintf(`Hola %s,

El cobro de tu suscripción Premium falló. Actualiza tu método de pago para conservar tus beneficios.`,
			user.FullName()),
		Metadata: model.JSONMap{"invoice_id": invoiceID},
		Email:    true,
		Push:     true,
	})
}

func (s *NotificationService) WithdrawalRegistered(ctx context.Context, user *model.User, amount, balance decimal.Decimal) {
	s.fire(ctx, NotifyRequest{
		User:  user,
		Type:  model.NotificationWithdrawalCompleted,
		Title: "Retiro registrado",
		Message: fmt.Sprintf(`Hola %s,

Registramos tu retiro de %s. Saldo disponible: %s.`,
			user.FullName(), mxn(amount), mxn(balance)),
		Metadata: model.JSONMap{"amount": amount.StringFixed(2)},
		Email:    true,
	})
}

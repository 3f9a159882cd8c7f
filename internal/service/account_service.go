package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"sproutmarket/internal/config"
	"sproutmarket/internal/model"
	"sproutmarket/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type AccountService struct {
	db              *gorm.DB
	cfg             *config.Config
	userRepo        *repository.UserRepository
	transactionRepo *repository.TransactionRepository
	outboxRepo      *repository.OutboxRepository
	notifier        *NotificationService
}

func NewAccountService(db *gorm.DB, notifier *NotificationService, cfg *config.Config) *AccountService {
	return &AccountService{
		db:              db,
		cfg:             cfg,
		userRepo:        repository.NewUserRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		outboxRepo:      repository.NewOutboxRepository(db),
		notifier:        notifier,
	}
}

// UpdateProfileRequest 只更新非空字段
type UpdateProfileRequest struct {
	FirstName    *string `json:"first_name" binding:"omitempty,max=150"`
	LastName     *string `json:"last_name" binding:"omitempty,max=150"`
	PhoneNumber  *string `json:"phone_number" binding:"omitempty,max=20"`
	City         *string `json:"city" binding:"omitempty,max=100"`
	State        *string `json:"state" binding:"omitempty,max=100"`
	Location     *string `json:"location" binding:"omitempty,max=255"`
	BusinessName *string `json:"business_name" binding:"omitempty,max=200"`
}

type BalanceResponse struct {
	AvailableBalance decimal.Decimal `json:"available_balance"`
	TotalEarned      decimal.Decimal `json:"total_earned"`
	TotalWithdrawn   decimal.Decimal `json:"total_withdrawn"`
	Currency         string          `json:"currency"`
}

type WithdrawResponse struct {
	Transaction      *model.Transaction `json:"transaction"`
	AvailableBalance decimal.Decimal    `json:"available_balance"`
}

func (s *AccountService) Profile(ctx context.Context, userID int64) (*model.User, error) {
	user, err := s.userRepo.GetByID(ctx, nil, userID)
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil, ErrUserNotFound
	}
	return user, err
}

func (s *AccountService) UpdateProfile(ctx context.Context, userID int64, req *UpdateProfileRequest) (*model.User, error) {
	fields := map[string]interface{}{}
	set := func(col string, v *string) {
		if v != nil {
			fields[col] = *v
		}
	}
	set("first_name", req.FirstName)
	set("last_name", req.LastName)
	set("phone_number", req.PhoneNumber)
	set("city", req.City)
	set("state", req.State)
	set("location", req.Location)
	set("business_name", req.BusinessName)

	if len(fields) > 0 {
		if err := s.userRepo.UpdateFields(ctx, nil, userID, fields); err != nil {
			if errors.Is(err, repository.ErrUserNotFound) {
				return nil, ErrUserNotFound
			}
			return nil, fmt.Errorf("更新资料失败: %w", err)
		}
	}
	return s.Profile(ctx, userID)
}

func (s *AccountService) Balance(ctx context.Context, userID int64) (*BalanceResponse, error) {
	user, err := s.Profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	earned, err := s.transactionRepo.SumByUser(ctx, userID, model.TransactionTypeSale)
	if err != nil {
		return nil, err
	}
	withdrawn, err := s.transactionRepo.SumByUser(ctx, userID, model.TransactionTypeWithdrawal)
	if err != nil {
		return nil, err
	}
	return &BalanceResponse{
		AvailableBalance: user.AvailableBalanceMXN,
		TotalEarned:      earned,
		TotalWithdrawn:   withdrawn,
		Currency:         "MXN",
	}, nil
}

// Withdraw 只记账：扣减可用余额并追加 withdrawal 流水，实际打款在系统外完成
func (s *AccountService) Withdraw(ctx context.Context, userID int64, amount decimal.Decimal) (*WithdrawResponse, error) {
	amount = amount.Round(2)
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	var (
		txn  *model.Transaction
		user *model.User
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.userRepo.Debit(ctx, tx, userID, amount); err != nil {
			if errors.Is(err, repository.ErrBalanceNotEnough) {
				return ErrBalanceNotEnough
			}
			if errors.Is(err, repository.ErrUserNotFound) {
				return ErrUserNotFound
			}
			return fmt.Errorf("扣减余额失败: %w", err)
		}

		var err error
		user, err = s.userRepo.GetByID(ctx, tx, userID)
		if err != nil {
			return err
		}

		uid := userID
		txn = &model.Transaction{
			UserID:       &uid,
			Type:         model.TransactionTypeWithdrawal,
			AmountMXN:    amount,
			BalanceAfter: decimal.NewNullDecimal(user.AvailableBalanceMXN),
			Description:  fmt.Sprintf("Retiro de %s", mxn(amount)),
		}
		if err := s.transactionRepo.Create(ctx, tx, txn); err != nil {
			return fmt.Errorf("记录流水失败: %w", err)
		}

		return s.outboxRepo.Enqueue(ctx, tx, s.cfg.Kafka.Topic.OrderEvents, model.EventWithdrawalRegistered, txn.TransactionNo, map[string]interface{}{
			"transaction_no": txn.TransactionNo,
			"user_id":        userID,
			"amount_mxn":     amount.StringFixed(2),
		})
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[Account] 提现登记: userID=%d, amount=%s, balance=%s", userID, amount, user.AvailableBalanceMXN)
	s.notifier.WithdrawalRegistered(ctx, user, amount, user.AvailableBalanceMXN)

	return &WithdrawResponse{Transaction: txn, AvailableBalance: user.AvailableBalanceMXN}, nil
}

func (s *AccountService) Transactions(ctx context.Context, userID int64, txType string, page repository.Page) ([]*model.Transaction, int64, error) {
	if txType != "" && !model.IsTransactionType(txType) {
		return nil, 0, ErrInvalidTransaction
	}
	return s.transactionRepo.ListByUser(ctx, userID, txType, page)
}

func (s *AccountService) Transaction(ctx context.Context, userID, id int64) (*model.Transaction, error) {
	t, err := s.transactionRepo.GetForUser(ctx, userID, id)
	if errors.Is(err, repository.ErrTransactionNotFound) {
		return nil, ErrTransactionNotFound
	}
	return t, err
}

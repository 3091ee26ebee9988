// Package notification delivers withdrawal status emails. Delivery is
// best-effort: a failed send is logged and never rolls back the financial
// state transition it describes.
package notification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	"github.com/vaultpay/wallet_service/internal/domain/entities"
)

// Config holds notification delivery configuration
type Config struct {
	Provider  string // "sendgrid" or "log"
	APIKey    string
	FromEmail string
	FromName  string
}

// RecipientResolver maps a user ID to a deliverable email address
type RecipientResolver interface {
	EmailForUser(ctx context.Context, userID uuid.UUID) (string, error)
}

// Service sends withdrawal lifecycle notifications
type Service struct {
	config   Config
	client   *sendgrid.Client
	resolver RecipientResolver
	logger   *zap.Logger
}

// NewService creates a notification service. An empty or "log" provider
// degrades to log-only delivery, which is what development environments use.
func NewService(cfg Config, resolver RecipientResolver, logger *zap.Logger) (*Service, error) {
	var client *sendgrid.Client

	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "sendgrid":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, fmt.Errorf("sendgrid api key is required")
		}
		client = sendgrid.NewSendClient(cfg.APIKey)
	case "", "log":
		// log-only
	default:
		return nil, fmt.Errorf("unsupported notification provider: %s", cfg.Provider)
	}

	return &Service{
		config:   cfg,
		client:   client,
		resolver: resolver,
		logger:   logger,
	}, nil
}

// NotifyWithdrawal tells the user about a withdrawal status change
func (s *Service) NotifyWithdrawal(ctx context.Context, userID uuid.UUID, tx *entities.Transaction) {
	subject, body := s.composeWithdrawal(tx)

	if s.client == nil {
		s.logger.Info("withdrawal notification (log provider)",
			zap.String("user_id", userID.String()),
			zap.String("merchant_ref", tx.MerchantRef),
			zap.String("status", string(tx.Status)),
		)
		return
	}

	email, err := s.resolver.EmailForUser(ctx, userID)
	if err != nil {
		s.logger.Warn("failed to resolve notification recipient",
			zap.Error(err),
			zap.String("user_id", userID.String()),
		)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	from := mail.NewEmail(s.config.FromName, s.config.FromEmail)
	to := mail.NewEmail("", email)
	message := mail.NewSingleEmail(from, subject, to, body, "")

	resp, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		s.logger.Warn("failed to send withdrawal notification",
			zap.Error(err),
			zap.String("user_id", userID.String()),
			zap.String("merchant_ref", tx.MerchantRef),
		)
		return
	}
	if resp.StatusCode >= 400 {
		s.logger.Warn("withdrawal notification rejected by provider",
			zap.Int("status", resp.StatusCode),
			zap.String("merchant_ref", tx.MerchantRef),
		)
	}
}

func (s *Service) composeWithdrawal(tx *entities.Transaction) (subject, body string) {
	switch tx.Status {
	case entities.TransactionStatusProcessing:
		subject = "Your withdrawal is being processed"
		body = fmt.Sprintf(
			"Your withdrawal of %s to %s (%s) has been sent to our payment partner and is being processed. Reference: %s.",
			tx.Amount.StringFixed(2), tx.Counterparty.AccountName, tx.Counterparty.AccountNumber, tx.MerchantRef)
	case entities.TransactionStatusSuccess:
		subject = "Your withdrawal was successful"
		body = fmt.Sprintf(
			"Your withdrawal of %s to %s (%s) has completed. Reference: %s.",
			tx.Amount.StringFixed(2), tx.Counterparty.AccountName, tx.Counterparty.AccountNumber, tx.MerchantRef)
	case entities.TransactionStatusFailed:
		subject = "Your withdrawal failed"
		reason := "the transfer could not be completed"
		if tx.FailureReason != nil {
			reason = *tx.FailureReason
		}
		// never claim a refund that has not landed
		refundLine := "Any debited funds have been returned to your wallet."
		if tx.RefundPending {
			refundLine = "The debited funds have not yet been returned; our team is on it and your balance will be restored shortly."
		}
		body = fmt.Sprintf(
			"Your withdrawal of %s to %s (%s) failed: %s. %s Reference: %s.",
			tx.Amount.StringFixed(2), tx.Counterparty.AccountName, tx.Counterparty.AccountNumber, reason, refundLine, tx.MerchantRef)
	default:
		subject = "Withdrawal update"
		body = fmt.Sprintf("Your withdrawal %s is now %s.", tx.MerchantRef, tx.Status)
	}
	return subject, body
}

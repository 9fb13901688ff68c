package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	accesstokendomain "github.com/smallbiznis/iahome/internal/accesstoken/domain"
	"github.com/smallbiznis/iahome/internal/clock"
	"github.com/smallbiznis/iahome/internal/config"
	ledgerdomain "github.com/smallbiznis/iahome/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/iahome/internal/observability/metrics"
	"github.com/smallbiznis/iahome/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/iahome/internal/payment/domain"
	profiledomain "github.com/smallbiznis/iahome/internal/profile/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	outcomeApplied    = "applied"
	outcomeLogged     = "logged"
	outcomeIgnored    = "ignored"
	outcomeDuplicate  = "duplicate"
	outcomeUnresolved = "unresolved"
	outcomeFailed     = "failed"
	outcomeMalformed  = "malformed"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	Cfg          config.Config
	Clock        clock.Clock
	GenID        *snowflake.Node
	Policy       *config.TokenPolicyHolder
	Repo         paymentdomain.Repository
	Ledger       ledgerdomain.Service
	Profiles     profiledomain.Service
	AccessTokens accesstokendomain.Service `optional:"true"`
	ObsMetrics   *obsmetrics.Metrics       `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	clock        clock.Clock
	genID        *snowflake.Node
	policy       *config.TokenPolicyHolder
	repo         paymentdomain.Repository
	ledger       ledgerdomain.Service
	profiles     profiledomain.Service
	accessTokens accesstokendomain.Service
	obsMetrics   *obsmetrics.Metrics
	adapter      paymentdomain.Adapter
}

func NewService(p Params) paymentdomain.Service {
	svc := &Service{
		db:           p.DB,
		log:          p.Log.Named("payment.webhook"),
		clock:        p.Clock,
		genID:        p.GenID,
		policy:       p.Policy,
		repo:         p.Repo,
		ledger:       p.Ledger,
		profiles:     p.Profiles,
		accessTokens: p.AccessTokens,
		obsMetrics:   p.ObsMetrics,
	}
	if secret := strings.TrimSpace(p.Cfg.Stripe.WebhookSecret); secret != "" {
		svc.adapter = stripe.New(secret, p.Cfg.Stripe.WebhookTolerance)
	}
	return svc
}

func (s *Service) IngestWebhook(ctx context.Context, payload []byte, headers http.Header) error {
	if s.adapter == nil {
		s.log.Error("stripe webhook secret is not configured")
		return paymentdomain.ErrWebhookSecretMissing
	}
	if err := s.adapter.Verify(ctx, payload, headers); err != nil {
		s.log.Warn("stripe webhook rejected", zap.Error(err))
		return err
	}

	event, err := s.adapter.Parse(ctx, payload)
	if err != nil {
		s.log.Warn("stripe webhook payload could not be parsed", zap.Error(err))
		s.obsMetrics.RecordPaymentEvent(ctx, "unknown", outcomeMalformed)
		return nil
	}

	log := s.log.With(
		zap.String("event_id", event.EventID()),
		zap.String("event_type", event.EventType()),
	)
	if _, ok := event.(paymentdomain.Ignored); ok {
		log.Debug("stripe event ignored")
		s.obsMetrics.RecordPaymentEvent(ctx, event.EventType(), outcomeIgnored)
		return nil
	}

	outcome, err := s.process(ctx, log, event, payload)
	if err != nil {
		log.Error("stripe event processing failed", zap.Error(err))
		outcome = outcomeFailed
	}
	s.obsMetrics.RecordPaymentEvent(ctx, event.EventType(), outcome)
	return nil
}

func (s *Service) process(ctx context.Context, log *zap.Logger, event paymentdomain.Event, payload []byte) (string, error) {
	userID, err := s.resolveUser(ctx, event)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrUserUnresolved) {
			log.Warn("stripe event has no resolvable user")
			return outcomeUnresolved, nil
		}
		return "", err
	}

	now := s.clock.Now().UTC()
	record := &paymentdomain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        paymentdomain.ProviderStripe,
		ProviderEventID: event.EventID(),
		EventType:       event.EventType(),
		UserID:          userID,
		Payload:         datatypes.JSON(payload),
		ReceivedAt:      now,
	}
	if _, err := s.repo.InsertEvent(ctx, s.db, record); err != nil {
		return "", fmt.Errorf("record payment event: %w", err)
	}
	stored, err := s.repo.FindEvent(ctx, s.db, paymentdomain.ProviderStripe, event.EventID())
	if err != nil {
		return "", err
	}
	if stored == nil {
		return "", paymentdomain.ErrInvalidEvent
	}
	if stored.ProcessedAt != nil {
		log.Info("stripe event already processed")
		return outcomeDuplicate, nil
	}

	outcome := outcomeLogged
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		claimed, err := s.repo.Claim(ctx, tx, stored.ID, now)
		if err != nil {
			return err
		}
		if !claimed {
			outcome = outcomeDuplicate
			return nil
		}
		applied, err := s.apply(ctx, tx, log, userID, event)
		if err != nil {
			return err
		}
		if applied {
			outcome = outcomeApplied
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return outcome, nil
}

// apply performs the ledger mutation for event and reports whether anything
// beyond logging happened.
func (s *Service) apply(ctx context.Context, tx *gorm.DB, log *zap.Logger, userID string, event paymentdomain.Event) (bool, error) {
	policy := s.policy.Get()

	switch e := event.(type) {
	case paymentdomain.CheckoutCompleted:
		return s.applyCheckout(ctx, tx, log, userID, policy, e)

	case paymentdomain.InvoicePaid:
		switch e.BillingReason {
		case paymentdomain.BillingReasonSubscriptionCreate:
			tokens, name := subscriptionTokens(policy, e.Tokens, e.PackageType, e.PackageName)
			_, err := s.ledger.CreditTx(ctx, tx, ledgerdomain.CreditRequest{
				UserID:               userID,
				Tokens:               tokens,
				Mode:                 ledgerdomain.CreditRecordOnly,
				TransactionType:      ledgerdomain.TransactionSubscriptionInitial,
				PackageName:          name,
				PackageType:          e.PackageType,
				Amount:               e.AmountPaid,
				Currency:             e.Currency,
				StripePaymentID:      e.InvoiceID,
				StripeSubscriptionID: e.SubscriptionID,
				ExternalEventID:      e.ID,
				Description:          "First subscription invoice",
			})
			return err == nil, err
		case paymentdomain.BillingReasonSubscriptionCycle:
			tokens, name := subscriptionTokens(policy, e.Tokens, e.PackageType, e.PackageName)
			res, err := s.ledger.CreditTx(ctx, tx, ledgerdomain.CreditRequest{
				UserID:               userID,
				Tokens:               tokens,
				Mode:                 ledgerdomain.CreditReplace,
				TransactionType:      ledgerdomain.TransactionSubscriptionRenewal,
				PackageName:          name,
				PackageType:          e.PackageType,
				Amount:               e.AmountPaid,
				Currency:             e.Currency,
				StripePaymentID:      e.InvoiceID,
				StripeSubscriptionID: e.SubscriptionID,
				ExternalEventID:      e.ID,
				Description:          "Monthly subscription renewal",
			})
			if err != nil {
				return false, err
			}
			log.Info("subscription renewed",
				zap.String("user_id", userID),
				zap.Int64("previous_tokens", res.PreviousTokens),
				zap.Int64("tokens", res.Tokens),
			)
			return true, nil
		default:
			log.Info("invoice paid with unhandled billing reason", zap.String("billing_reason", e.BillingReason))
			return false, nil
		}

	case paymentdomain.InvoiceFailed:
		log.Warn("invoice payment failed",
			zap.String("user_id", userID),
			zap.String("subscription_id", e.SubscriptionID),
			zap.Int64("attempt_count", e.AttemptCount),
		)
	case paymentdomain.SubscriptionDeleted:
		log.Info("subscription canceled",
			zap.String("user_id", userID),
			zap.String("subscription_id", e.SubscriptionID),
		)
	case paymentdomain.PaymentIntentSucceeded:
		log.Info("payment intent succeeded", zap.String("payment_intent_id", e.PaymentIntentID), zap.Int64("amount", e.Amount))
	case paymentdomain.PaymentIntentFailed:
		log.Warn("payment intent failed", zap.String("payment_intent_id", e.PaymentIntentID), zap.String("reason", e.FailureMessage))
	}
	return false, nil
}

func (s *Service) applyCheckout(ctx context.Context, tx *gorm.DB, log *zap.Logger, userID string, policy config.TokenPolicy, e paymentdomain.CheckoutCompleted) (bool, error) {
	base := ledgerdomain.CreditRequest{
		UserID:               userID,
		PackageType:          e.PackageType,
		Amount:               e.AmountTotal,
		Currency:             e.Currency,
		StripePaymentID:      firstNonEmpty(e.PaymentIntentID, e.SessionID),
		StripeSubscriptionID: e.SubscriptionID,
		ExternalEventID:      e.ID,
	}

	switch e.Kind {
	case paymentdomain.CheckoutSubscription:
		tokens, name := subscriptionTokens(policy, e.Tokens, e.PackageType, e.PackageName)
		req := base
		req.Tokens = tokens
		req.Mode = ledgerdomain.CreditReplace
		req.TransactionType = ledgerdomain.TransactionSubscriptionInitial
		req.PackageName = name
		req.Description = "Subscription started"
		res, err := s.ledger.CreditTx(ctx, tx, req)
		if err != nil {
			return false, err
		}
		log.Info("subscription activated",
			zap.String("user_id", userID),
			zap.Int64("previous_tokens", res.PreviousTokens),
			zap.Int64("tokens", res.Tokens),
		)
		return true, nil

	case paymentdomain.CheckoutModulePurchase:
		if s.accessTokens == nil {
			return false, errors.New("access token service unavailable")
		}
		issued, err := s.accessTokens.IssueTx(ctx, tx, accesstokendomain.IssueRequest{
			UserID:      userID,
			ModuleID:    e.ModuleID,
			ModuleName:  e.ModuleName,
			Description: "Purchased via Stripe checkout",
		})
		if err != nil {
			return false, err
		}
		req := base
		req.Tokens = e.Tokens
		req.Mode = ledgerdomain.CreditRecordOnly
		if e.Tokens > 0 {
			req.Mode = ledgerdomain.CreditAdd
		}
		req.TransactionType = ledgerdomain.TransactionModulePurchase
		req.PackageName = e.PackageName
		req.Description = "Module purchase: " + firstNonEmpty(e.ModuleName, e.ModuleID)
		if _, err := s.ledger.CreditTx(ctx, tx, req); err != nil {
			return false, err
		}
		log.Info("module purchased",
			zap.String("user_id", userID),
			zap.String("module_id", e.ModuleID),
			zap.String("token_id", issued.Token.ID.String()),
		)
		return true, nil

	default:
		tokens, name := e.Tokens, e.PackageName
		if pkg, ok := policy.Package(e.PackageType); ok {
			if tokens <= 0 {
				tokens = pkg.Tokens
			}
			if name == "" {
				name = pkg.Name
			}
		}
		if tokens <= 0 {
			return false, paymentdomain.ErrTokensUnresolved
		}
		req := base
		req.Tokens = tokens
		req.Mode = ledgerdomain.CreditAdd
		req.TransactionType = ledgerdomain.TransactionTokenPurchase
		req.PackageName = name
		req.Description = "Token purchase"
		res, err := s.ledger.CreditTx(ctx, tx, req)
		if err != nil {
			return false, err
		}
		log.Info("tokens purchased",
			zap.String("user_id", userID),
			zap.Int64("tokens_added", tokens),
			zap.Int64("tokens", res.Tokens),
		)
		return true, nil
	}
}

// resolveUser maps the event's customer to a profile id. Events without a
// customer, such as payment intents, resolve to the empty id.
func (s *Service) resolveUser(ctx context.Context, event paymentdomain.Event) (string, error) {
	var customer paymentdomain.Customer
	switch e := event.(type) {
	case paymentdomain.CheckoutCompleted:
		customer = e.Customer
	case paymentdomain.InvoicePaid:
		customer = e.Customer
	case paymentdomain.InvoiceFailed:
		customer = e.Customer
	case paymentdomain.SubscriptionDeleted:
		customer = e.Customer
	default:
		return "", nil
	}

	for _, identifier := range []string{customer.UserID, customer.Email} {
		if strings.TrimSpace(identifier) == "" {
			continue
		}
		profile, err := s.profiles.Resolve(ctx, identifier)
		if err == nil {
			return profile.ID, nil
		}
		if !errors.Is(err, profiledomain.ErrNotFound) && !errors.Is(err, profiledomain.ErrInvalidIdentifier) {
			return "", err
		}
	}

	if mutatesLedger(event) {
		return "", paymentdomain.ErrUserUnresolved
	}
	return "", nil
}

func mutatesLedger(event paymentdomain.Event) bool {
	switch event.(type) {
	case paymentdomain.CheckoutCompleted, paymentdomain.InvoicePaid:
		return true
	}
	return false
}

// subscriptionTokens picks the quota: explicit metadata, then the configured
// package, then the global subscription quota.
func subscriptionTokens(policy config.TokenPolicy, tokens int64, packageType, packageName string) (int64, string) {
	pkg, ok := policy.Package(packageType)
	if tokens <= 0 && ok {
		tokens = pkg.Tokens
	}
	if tokens <= 0 {
		tokens = policy.SubscriptionQuota
	}
	if packageName == "" && ok {
		packageName = pkg.Name
	}
	if packageName == "" {
		packageName = "Monthly Subscription"
	}
	return tokens, packageName
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

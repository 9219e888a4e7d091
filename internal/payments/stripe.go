package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/sitesmith-dev/sitesmith/internal/config"
	"github.com/sitesmith-dev/sitesmith/internal/models"
	"github.com/sitesmith-dev/sitesmith/internal/tokens"
	"github.com/stripe/stripe-go/v76"
	checkoutsession "github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/webhook"
)

// Errors returned by the payments service.
var (
	// ErrUnknownPack indicates the requested token pack is not configured.
	ErrUnknownPack = errors.New("payments: unknown token pack")
	// ErrCreditFailed indicates the token credit after a paid checkout failed.
	ErrCreditFailed = errors.New("payments: credit failed")
)

// Service creates Stripe checkout sessions for token packs and turns
// confirmed checkouts into token credits. It trusts Stripe's webhook
// signature for payment authenticity and nothing else.
type Service struct {
	engine *tokens.Engine
	cfg    config.StripeConfig
}

// NewService constructs a payments Service.
func NewService(engine *tokens.Engine, cfg config.StripeConfig) *Service {
	stripe.Key = cfg.SecretKey
	return &Service{engine: engine, cfg: cfg}
}

// Packs returns the purchasable token packs.
func (s *Service) Packs() []config.TokenPack {
	out := make([]config.TokenPack, len(s.cfg.Packs))
	copy(out, s.cfg.Packs)
	return out
}

// CreateCheckoutSession starts a Stripe checkout for one token pack and
// returns the hosted payment URL.
func (s *Service) CreateCheckoutSession(user *models.User, packID string) (sessionID, url string, err error) {
	pack := s.cfg.Pack(packID)
	if pack == nil {
		return "", "", ErrUnknownPack
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String("usd"),
					UnitAmount: stripe.Int64(pack.PriceCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(pack.Name),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(s.cfg.SuccessURL),
		CancelURL:  stripe.String(s.cfg.CancelURL),
	}
	if strings.TrimSpace(user.Email) != "" {
		params.CustomerEmail = stripe.String(user.Email)
	}
	params.AddMetadata("user_id", strconv.FormatUint(user.ID, 10))
	params.AddMetadata("pack_id", pack.ID)
	params.AddMetadata("tokens", strconv.FormatInt(pack.Tokens, 10))

	sess, errNew := checkoutsession.New(params)
	if errNew != nil {
		return "", "", fmt.Errorf("payments: create checkout session: %w", errNew)
	}
	return sess.ID, sess.URL, nil
}

// HandleWebhook verifies and dispatches a Stripe webhook delivery.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, errVerify := webhook.ConstructEvent(payload, signature, s.cfg.WebhookSecret)
	if errVerify != nil {
		return fmt.Errorf("payments: webhook signature verification failed: %w", errVerify)
	}

	switch event.Type {
	case "checkout.session.completed":
		return s.handleCheckoutCompleted(ctx, event)
	default:
		log.WithField("type", event.Type).Debug("ignoring stripe webhook event")
		return nil
	}
}

// handleCheckoutCompleted credits the purchased tokens exactly once per
// checkout session; replays are absorbed by the ledger's external ref.
func (s *Service) handleCheckoutCompleted(ctx context.Context, event stripe.Event) error {
	var sess stripe.CheckoutSession
	if errParse := json.Unmarshal(event.Data.Raw, &sess); errParse != nil {
		return fmt.Errorf("payments: parse checkout session: %w", errParse)
	}

	userID, errUser := strconv.ParseUint(sess.Metadata["user_id"], 10, 64)
	if errUser != nil {
		return fmt.Errorf("payments: checkout session %s missing user_id metadata", sess.ID)
	}
	amount, errAmount := strconv.ParseInt(sess.Metadata["tokens"], 10, 64)
	if errAmount != nil || amount <= 0 {
		return fmt.Errorf("payments: checkout session %s has invalid tokens metadata", sess.ID)
	}

	description := "token pack purchase"
	if packID := strings.TrimSpace(sess.Metadata["pack_id"]); packID != "" {
		description = "token pack purchase: " + packID
	}

	res := s.engine.Credit(ctx, userID, amount, models.TransactionPurchase, description, sess.ID)
	if !res.Success {
		return fmt.Errorf("%w: %s (%s)", ErrCreditFailed, res.Reason, res.Message)
	}

	log.WithFields(log.Fields{
		"user_id": userID,
		"tokens":  amount,
		"session": sess.ID,
	}).Info("credited token pack purchase")
	return nil
}

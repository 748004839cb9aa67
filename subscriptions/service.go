package subscriptions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	"aula-backend/config"
	"aula-backend/email"
)

// Service reconcilia el estado local con Stripe y crea sesiones de checkout.
// Si STRIPE_SECRET_KEY no está configurada el servicio queda deshabilitado (nil).
type Service struct {
	db            *sql.DB
	repo          *Repository
	provider      ProviderClient
	mailer        *email.Mailer
	secretKey     string
	webhookSecret string
	successURL    string
	cancelURL     string
	sc            *client.API
	invalidKey    bool // once detected, short-circuit further remote calls
	lookupTimeout time.Duration
}

var ErrStripeInvalidAPIKey = errors.New("stripe_invalid_api_key")

func maskKey(k string) string {
	if len(k) < 12 {
		return "****"
	}
	return k[:7] + "..." + k[len(k)-4:]
}

// NewService returns a configured service or nil when the Stripe key is missing.
func NewService(cfg *config.Config, db *sql.DB, repo *Repository, mailer *email.Mailer) *Service {
	if cfg.StripeSecretKey == "" {
		return nil
	}
	sc := &client.API{}
	sc.Init(cfg.StripeSecretKey, nil)
	return &Service{
		db:            db,
		repo:          repo,
		provider:      newStripeClient(cfg.StripeSecretKey),
		mailer:        mailer,
		secretKey:     cfg.StripeSecretKey,
		webhookSecret: cfg.StripeWebhookSecret,
		successURL:    cfg.StripeSuccessURL,
		cancelURL:     cfg.StripeCancelURL,
		sc:            sc,
		lookupTimeout: 10 * time.Second,
	}
}

// WebhookSecret expone el secreto compartido al handler del webhook.
func (s *Service) WebhookSecret() string { return s.webhookSecret }

func (s *Service) ensureStripeProductAndPrice(ctx context.Context, p *Plan) error {
	if p.Price == 0 { // Free plan: no Stripe objects needed
		return nil
	}
	if p.StripeProductID == "" {
		prod, err := s.sc.Products.New(&stripe.ProductParams{Name: stripe.String(p.Name)})
		if err != nil {
			return err
		}
		p.StripeProductID = prod.ID
	}
	// Ensure price: fetch existing to compare amount (if stored)
	if p.StripePriceID != "" {
		if pr, err := s.sc.Prices.Get(p.StripePriceID, nil); err == nil {
			current := pr.UnitAmount
			desired := int64(p.Price * 100)
			if current != desired { // create new price; keep old for historic invoices
				price, err := s.newRecurringPrice(p, desired)
				if err != nil {
					return err
				}
				p.StripePriceID = price.ID
			}
		} else { // price id invalid -> recreate
			p.StripePriceID = ""
		}
	}
	if p.StripePriceID == "" {
		price, err := s.newRecurringPrice(p, int64(p.Price*100))
		if err != nil {
			return err
		}
		p.StripePriceID = price.ID
	}
	return nil
}

func (s *Service) newRecurringPrice(p *Plan, unitAmount int64) (*stripe.Price, error) {
	interval := "month"
	if strings.EqualFold(p.Billing, "Anual") {
		interval = "year"
	}
	return s.sc.Prices.New(&stripe.PriceParams{
		Product:    stripe.String(p.StripeProductID),
		Currency:   stripe.String(p.Currency),
		UnitAmount: stripe.Int64(unitAmount),
		Recurring:  &stripe.PriceRecurringParams{Interval: stripe.String(interval)},
	})
}

// CreateCheckoutSession crea una Checkout Session en modo suscripción para
// un plan y devuelve URL + sessionID. La metadata user_id es la clave de
// correlación que luego exige el verificador del webhook.
func (s *Service) CreateCheckoutSession(ctx context.Context, userID, planID int) (string, string, error) {
	if s == nil {
		return "", "", errors.New("stripe no configurado")
	}
	plan, err := s.repo.GetPlanByID(planID)
	if err != nil || plan == nil {
		return "", "", fmt.Errorf("plan inválido")
	}
	if err := s.ensureStripeProductAndPrice(ctx, plan); err != nil {
		if s.detectInvalidKey("ensure", err) {
			return "", "", ErrStripeInvalidAPIKey
		}
		return "", "", err
	}
	_ = s.repo.UpdatePlan(plan.ID, plan)
	params := &stripe.CheckoutSessionParams{
		SuccessURL: stripe.String(s.successURL),
		CancelURL:  stripe.String(s.cancelURL),
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Price:    stripe.String(plan.StripePriceID),
			Quantity: stripe.Int64(1),
		}},
		Metadata: map[string]string{
			"user_id": strconv.Itoa(userID),
			"plan_id": strconv.Itoa(planID),
		},
	}
	if s.invalidKey {
		return "", "", ErrStripeInvalidAPIKey
	}
	sess, err := s.sc.CheckoutSessions.New(params)
	if err != nil {
		if s.detectInvalidKey("checkout", err) {
			return "", "", ErrStripeInvalidAPIKey
		}
		log.Printf("[STRIPE][checkout] error: %v", err)
		return "", "", err
	}
	return sess.URL, sess.ID, nil
}

// CreateClassCheckoutSession crea una Checkout Session de pago único para la
// compra de una clase. El webhook creará la fila de clase al completarse.
func (s *Service) CreateClassCheckoutSession(ctx context.Context, userID int, className string, priceCents int64, currency string) (string, string, error) {
	if s == nil {
		return "", "", errors.New("stripe no configurado")
	}
	if s.invalidKey {
		return "", "", ErrStripeInvalidAPIKey
	}
	params := &stripe.CheckoutSessionParams{
		SuccessURL: stripe.String(s.successURL),
		CancelURL:  stripe.String(s.cancelURL),
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(priceCents),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String("Clase: " + className),
				},
			},
			Quantity: stripe.Int64(1),
		}},
		Metadata: map[string]string{
			"user_id":    strconv.Itoa(userID),
			"purchase":   "class",
			"class_name": className,
		},
	}
	sess, err := s.sc.CheckoutSessions.New(params)
	if err != nil {
		if s.detectInvalidKey("class_checkout", err) {
			return "", "", ErrStripeInvalidAPIKey
		}
		return "", "", err
	}
	return sess.URL, sess.ID, nil
}

func (s *Service) detectInvalidKey(tag string, err error) bool {
	var se *stripe.Error
	if errors.As(err, &se) && (se.HTTPStatusCode == 401 || strings.Contains(strings.ToLower(se.Msg), "invalid api key")) {
		log.Printf("[STRIPE][%s] invalid api key (%s): %v", tag, maskKey(s.secretKey), se)
		s.invalidKey = true
		return true
	}
	return false
}

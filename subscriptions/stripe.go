package subscriptions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	stripe "github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
)

// Tipos de evento que el motor reconoce; el resto se ignora (con 200 para
// cortar la redelivery).
const (
	KindCheckoutCompleted   = "checkout.session.completed"
	KindSubscriptionUpdated = "customer.subscription.updated"
	KindSubscriptionDeleted = "customer.subscription.deleted"
	KindIgnored             = "ignored"
)

// ErrVerification: firma inválida, payload malformado o metadata de
// correlación ausente. Se rechaza antes de abrir transacción alguna.
var ErrVerification = errors.New("evento no verificable")

// ErrFatalEvent: el evento jamás podrá procesarse (p. ej. el customer no
// trae user_id). Se registra como incidente de integridad y se responde 200
// para frenar la redelivery infinita.
var ErrFatalEvent = errors.New("evento irresoluble")

// ErrPlanNotRecognized: el price externo no mapea a un plan interno. Falla
// retryable; el proveedor reenviará el evento.
var ErrPlanNotRecognized = errors.New("plan no reconocido")

// Event es la forma tipada de una notificación ya verificada.
type Event struct {
	Kind      string
	Created   time.Time
	Checkout  *CheckoutEvent
	SubChange *SubChangeEvent
}

// CheckoutEvent corresponde a checkout.session.completed.
type CheckoutEvent struct {
	SessionID      string
	Mode           string // "subscription" o "payment"
	UserID         int
	SubscriptionID string
	InvoiceID      string
	Purchase       string // metadata: "class" marca compra de clase
	ClassName      string
}

// SubChangeEvent corresponde a customer.subscription.updated / deleted.
type SubChangeEvent struct {
	SubscriptionID string
	CustomerID     string
	Status         string
	PeriodEnd      time.Time
	Deleted        bool
}

// VerifyEvent valida la autenticidad del cuerpo crudo contra la cabecera de
// firma y lo decodifica a un evento tipado. Función pura sobre bytes: no
// produce ningún efecto.
func VerifyEvent(payload []byte, sigHeader, secret string) (*Event, error) {
	raw, err := webhook.ConstructEvent(payload, sigHeader, secret)
	if err != nil {
		return nil, fmt.Errorf("%w: firma inválida: %v", ErrVerification, err)
	}
	ev := &Event{Kind: string(raw.Type), Created: time.Unix(raw.Created, 0)}
	switch raw.Type {
	case KindCheckoutCompleted:
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(raw.Data.Raw, &sess); err != nil {
			return nil, fmt.Errorf("%w: payload malformado: %v", ErrVerification, err)
		}
		uid, err := strconv.Atoi(sess.Metadata["user_id"])
		if err != nil || uid <= 0 {
			return nil, fmt.Errorf("%w: metadata sin user_id", ErrVerification)
		}
		ce := &CheckoutEvent{
			SessionID: sess.ID,
			Mode:      string(sess.Mode),
			UserID:    uid,
			Purchase:  sess.Metadata["purchase"],
			ClassName: sess.Metadata["class_name"],
		}
		if sess.Subscription != nil {
			ce.SubscriptionID = sess.Subscription.ID
		}
		if sess.Invoice != nil {
			ce.InvoiceID = sess.Invoice.ID
		}
		ev.Checkout = ce
	case KindSubscriptionUpdated, KindSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(raw.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("%w: payload malformado: %v", ErrVerification, err)
		}
		sc := &SubChangeEvent{
			SubscriptionID: sub.ID,
			Status:         mapProviderStatus(string(sub.Status)),
			PeriodEnd:      time.Unix(sub.CurrentPeriodEnd, 0),
			Deleted:        raw.Type == KindSubscriptionDeleted,
		}
		if sub.Customer != nil {
			sc.CustomerID = sub.Customer.ID
		}
		if sc.CustomerID == "" {
			return nil, fmt.Errorf("%w: evento sin customer", ErrVerification)
		}
		ev.SubChange = sc
	default:
		ev.Kind = KindIgnored
	}
	return ev, nil
}

// mapProviderStatus reduce los estados del proveedor a los cuatro internos.
func mapProviderStatus(s string) string {
	switch s {
	case "trialing":
		return StatusTrialing
	case "active":
		return StatusActive
	case "past_due", "unpaid", "incomplete":
		return StatusPastDue
	default:
		return StatusCanceled
	}
}

// ProviderSubscription es la vista mínima del objeto vivo del proveedor que
// necesita el reconciliador.
type ProviderSubscription struct {
	PriceID     string
	Status      string
	PeriodStart time.Time
	PeriodEnd   time.Time
	InvoiceID   string
}

// ProviderClient abstrae las consultas en vivo al proveedor de pagos para
// poder sustituirlas en tests.
type ProviderClient interface {
	GetSubscription(ctx context.Context, id string) (*ProviderSubscription, error)
	// GetCustomerUserID resuelve el user_id interno desde la metadata del
	// customer. found=false indica el caso fatal (sin user_id).
	GetCustomerUserID(ctx context.Context, customerID string) (userID int, found bool, err error)
}

type stripeClient struct {
	sc *client.API
}

func newStripeClient(secretKey string) *stripeClient {
	sc := &client.API{}
	sc.Init(secretKey, nil)
	return &stripeClient{sc: sc}
}

func (c *stripeClient) GetSubscription(ctx context.Context, id string) (*ProviderSubscription, error) {
	params := &stripe.SubscriptionParams{Params: stripe.Params{Context: ctx}}
	sub, err := c.sc.Subscriptions.Get(id, params)
	if err != nil {
		return nil, err
	}
	ps := &ProviderSubscription{
		Status:      mapProviderStatus(string(sub.Status)),
		PeriodStart: time.Unix(sub.CurrentPeriodStart, 0),
		PeriodEnd:   time.Unix(sub.CurrentPeriodEnd, 0),
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		ps.PriceID = sub.Items.Data[0].Price.ID
	}
	if sub.LatestInvoice != nil {
		ps.InvoiceID = sub.LatestInvoice.ID
	}
	return ps, nil
}

func (c *stripeClient) GetCustomerUserID(ctx context.Context, customerID string) (int, bool, error) {
	params := &stripe.CustomerParams{Params: stripe.Params{Context: ctx}}
	cust, err := c.sc.Customers.Get(customerID, params)
	if err != nil {
		return 0, false, err
	}
	uid, convErr := strconv.Atoi(cust.Metadata["user_id"])
	if convErr != nil || uid <= 0 {
		return 0, false, nil
	}
	return uid, true, nil
}

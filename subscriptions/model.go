package subscriptions

import "time"

// Estados de una suscripción. canceled es terminal para ese ciclo de cobro;
// un checkout nuevo vuelve a entrar en active.
const (
	StatusTrialing = "trialing"
	StatusActive   = "active"
	StatusPastDue  = "past_due"
	StatusCanceled = "canceled"
)

type Plan struct {
	ID              int     `json:"id"`
	Name            string  `json:"name"`
	Currency        string  `json:"currency"`
	Price           float64 `json:"price"`
	Billing         string  `json:"billing"`
	StripeProductID string  `json:"stripe_product_id,omitempty"`
	StripePriceID   string  `json:"stripe_price_id,omitempty"`
}

type Subscription struct {
	ID                 int        `json:"id"`
	UserID             int        `json:"user_id"`
	PlanID             *int       `json:"plan_id"` // nil = trial de sistema
	Status             string     `json:"status"`
	CurrentPeriodStart time.Time  `json:"current_period_start"`
	CurrentPeriodEnd   *time.Time `json:"current_period_end"`
	PaymentProvider    string     `json:"payment_provider"`
	InvoiceID          string     `json:"invoice_id"`
	EventTime          *time.Time `json:"-"`
	Plan               *Plan      `json:"subscription_plan,omitempty"`
}

// IsPaidTrack reports whether the row belongs to a real plan (a bare system
// trial has no plan).
func (s *Subscription) IsPaidTrack() bool {
	return s != nil && s.PlanID != nil
}

// precedenceRank orders rows for primary selection:
// active > trialing con plan > trial de sistema > resto.
func precedenceRank(s *Subscription) int {
	switch {
	case s.Status == StatusActive:
		return 0
	case s.Status == StatusTrialing && s.IsPaidTrack():
		return 1
	case s.Status == StatusTrialing:
		return 2
	default:
		return 3
	}
}

// Primary selecciona la suscripción primaria de un usuario entre varias
// filas candidatas según las reglas de precedencia.
func Primary(subs []Subscription) *Subscription {
	var best *Subscription
	for i := range subs {
		s := &subs[i]
		if best == nil || precedenceRank(s) < precedenceRank(best) ||
			(precedenceRank(s) == precedenceRank(best) && s.ID > best.ID) {
			best = s
		}
	}
	return best
}

// Entitled deriva si el usuario tiene acceso premium a partir de su
// suscripción primaria.
func Entitled(primary *Subscription, isPermanentFree bool, now time.Time) bool {
	if isPermanentFree {
		return true
	}
	if primary == nil {
		return false
	}
	switch {
	case primary.Status == StatusActive:
		return true
	case primary.Status == StatusTrialing && primary.IsPaidTrack():
		return true
	case primary.Status == StatusTrialing:
		// Trial de sistema: válido solo mientras no haya expirado.
		return primary.CurrentPeriodEnd != nil && primary.CurrentPeriodEnd.After(now)
	}
	return false
}

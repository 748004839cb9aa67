package subscriptions

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"aula-backend/conn"
	"aula-backend/migrations"
)

// ProcessEvent aplica un evento verificado al estado local, de forma
// idempotente, dentro de una sola transacción. Cualquier error revierte
// todas las escrituras del evento (suscripción, clase, recompensa y
// notificación); la aplicación parcial está prohibida.
func (s *Service) ProcessEvent(ctx context.Context, ev *Event) error {
	switch ev.Kind {
	case KindCheckoutCompleted:
		return s.processCheckout(ctx, ev)
	case KindSubscriptionUpdated, KindSubscriptionDeleted:
		return s.processSubChange(ctx, ev)
	default:
		log.Printf("[STRIPE][webhook] evento ignorado: %s", ev.Kind)
		return nil
	}
}

func (s *Service) processCheckout(ctx context.Context, ev *Event) error {
	ce := ev.Checkout
	if ce.Mode != "subscription" {
		// Pago único: solo la compra de clase toca estado.
		if ce.Purchase != "class" {
			log.Printf("[STRIPE][checkout] pago único sin purchase=class ignorado session=%s", ce.SessionID)
			return nil
		}
		return conn.WithTx(ctx, s.db, func(tx *sql.Tx) error {
			return applyClassPurchase(NewStore(tx), ce)
		})
	}

	var reward *RewardResult
	err := conn.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		// Única llamada de red dentro de la transacción: consulta en vivo
		// de la suscripción del proveedor, con timeout acotado. Si vence,
		// la transacción se revierte y el proveedor reenviará.
		lctx, cancel := context.WithTimeout(ctx, s.lookupTimeout)
		defer cancel()
		ps, err := s.provider.GetSubscription(lctx, ce.SubscriptionID)
		if err != nil {
			return fmt.Errorf("consultando suscripción %s: %w", ce.SubscriptionID, err)
		}
		r, err := applyCheckout(NewStore(tx), ce, ps, ev.Created)
		reward = r
		return err
	})
	if err != nil {
		return err
	}
	if reward != nil && s.mailer != nil {
		if u := migrations.GetUserByID(reward.ReferrerID); u != nil {
			s.mailer.SendReferralReward(u.Email, reward.Referrals)
		}
	}
	return nil
}

func (s *Service) processSubChange(ctx context.Context, ev *Event) error {
	sc := ev.SubChange
	lctx, cancel := context.WithTimeout(ctx, s.lookupTimeout)
	defer cancel()
	userID, found, err := s.provider.GetCustomerUserID(lctx, sc.CustomerID)
	if err != nil {
		return fmt.Errorf("consultando customer %s: %w", sc.CustomerID, err)
	}
	if !found {
		// Incidente de integridad aguas arriba: un customer sin user_id no
		// se resolverá jamás, por reintentos que haga el proveedor.
		return fmt.Errorf("%w: customer %s sin user_id", ErrFatalEvent, sc.CustomerID)
	}
	return conn.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		return applySubChange(NewStore(tx), userID, sc, ev.Created)
	})
}

// applyCheckout es la transición checkout_completed (modo suscripción) de la
// máquina de estados: mapea el price externo a plan interno, hace el upsert
// por user_id y dispara el cálculo de recompensas en la misma transacción.
func applyCheckout(st Store, ce *CheckoutEvent, ps *ProviderSubscription, eventTime time.Time) (*RewardResult, error) {
	plan, err := st.PlanByStripePrice(ps.PriceID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		// Retryable a propósito: un plan recién creado puede mapearse antes
		// de que el proveedor reenvíe.
		return nil, fmt.Errorf("%w: price %s", ErrPlanNotRecognized, ps.PriceID)
	}
	prior, err := st.SubscriptionForUpdate(ce.UserID)
	if err != nil {
		return nil, err
	}
	status := StatusActive
	if ps.Status == StatusTrialing {
		status = StatusTrialing // trial de un plan pagado, cuenta como vía de pago
	}
	invoiceID := ps.InvoiceID
	if invoiceID == "" {
		invoiceID = ce.InvoiceID
	}
	et := eventTime
	sub := &Subscription{
		UserID:             ce.UserID,
		PlanID:             &plan.ID,
		Status:             status,
		CurrentPeriodStart: ps.PeriodStart,
		CurrentPeriodEnd:   &ps.PeriodEnd,
		PaymentProvider:    "stripe",
		InvoiceID:          invoiceID,
		EventTime:          &et,
	}
	if err := st.UpsertSubscription(prior, sub); err != nil {
		return nil, err
	}
	log.Printf("[STRIPE][reconcile] user=%d plan=%d status=%s fin=%s", ce.UserID, plan.ID, status, ps.PeriodEnd.Format(time.RFC3339))
	return grantReferralRewards(st, ce.UserID, eventTime)
}

// applySubChange aplica subscription_updated / subscription_deleted:
// last-write-wins sobre status y current_period_end, solo cuando el evento
// es estrictamente más nuevo que el último aplicado.
func applySubChange(st Store, userID int, sc *SubChangeEvent, eventTime time.Time) error {
	status := sc.Status
	if sc.Deleted {
		status = StatusCanceled
	}
	updated, err := st.UpdateStatusPeriod(userID, status, sc.PeriodEnd, eventTime)
	if err != nil {
		return err
	}
	if !updated {
		// Sin fila previa o evento más viejo que el estado actual: cero
		// filas tocadas, sin error.
		log.Printf("[STRIPE][reconcile] sub change sin efecto user=%d status=%s", userID, status)
		return nil
	}
	log.Printf("[STRIPE][reconcile] user=%d status=%s fin=%s", userID, status, sc.PeriodEnd.Format(time.RFC3339))
	return nil
}

// applyClassPurchase crea la clase comprada con su código de acceso. La
// clave natural stripe_session_id vuelve inocua la redelivery.
func applyClassPurchase(st Store, ce *CheckoutEvent) error {
	name := ce.ClassName
	if name == "" {
		name = "Clase sin nombre"
	}
	created, err := st.CreateClass(ce.UserID, name, newJoinCode(), ce.SessionID)
	if err != nil {
		return err
	}
	if !created {
		log.Printf("[STRIPE][class] session %s ya procesada, se ignora", ce.SessionID)
		return nil
	}
	log.Printf("[STRIPE][class] clase creada user=%d session=%s", ce.UserID, ce.SessionID)
	return nil
}

func newJoinCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

package subscriptions

import (
	"database/sql"
	"time"

	"aula-backend/conn"
)

// Store es la vista transaccional que usan el reconciliador y el cálculo de
// recompensas. La implementación MySQL opera sobre la transacción abierta;
// los tests usan un doble en memoria.
type Store interface {
	PlanByStripePrice(priceID string) (*Plan, error)
	SubscriptionForUpdate(userID int) (*Subscription, error)
	UpsertSubscription(prior, s *Subscription) error
	UpdateStatusPeriod(userID int, status string, periodEnd, eventTime time.Time) (bool, error)

	ReferrerOf(userID int) (int, error)
	CountSuccessfulReferrals(referrerID int) (int, error)
	RewardsGranted(userID int) (int, error)
	SetRewardsGranted(userID, n int) error
	ActiveSubscription(userID int) (*Subscription, error)
	ExtendPeriod(subscriptionID int, newEnd time.Time) error

	InsertNotification(userID int, title, message, ntype string) error
	CreateClass(ownerUserID int, name, joinCode, sessionID string) (bool, error)
}

type mysqlStore struct {
	q conn.DBTX
}

// NewStore returns a Store bound to the given connection or transaction.
func NewStore(q conn.DBTX) Store {
	return &mysqlStore{q: q}
}

const subColumns = "id, user_id, plan_id, status, current_period_start, current_period_end, payment_provider, invoice_id, event_time"

func scanSubscription(row *sql.Row) (*Subscription, error) {
	var s Subscription
	var planID sql.NullInt64
	var end, eventTime sql.NullTime
	if err := row.Scan(&s.ID, &s.UserID, &planID, &s.Status, &s.CurrentPeriodStart, &end, &s.PaymentProvider, &s.InvoiceID, &eventTime); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if planID.Valid {
		v := int(planID.Int64)
		s.PlanID = &v
	}
	if end.Valid {
		t := end.Time
		s.CurrentPeriodEnd = &t
	}
	if eventTime.Valid {
		t := eventTime.Time
		s.EventTime = &t
	}
	return &s, nil
}

func (st *mysqlStore) PlanByStripePrice(priceID string) (*Plan, error) {
	row := st.q.QueryRow(`SELECT id, name, currency, price, billing, stripe_product_id, stripe_price_id FROM subscription_plans WHERE stripe_price_id = ? LIMIT 1`, priceID)
	var p Plan
	if err := row.Scan(&p.ID, &p.Name, &p.Currency, &p.Price, &p.Billing, &p.StripeProductID, &p.StripePriceID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// SubscriptionForUpdate toma el lock de fila del usuario durante la
// transacción; es el único mecanismo de control de concurrencia entre
// webhooks simultáneos.
func (st *mysqlStore) SubscriptionForUpdate(userID int) (*Subscription, error) {
	row := st.q.QueryRow(`SELECT `+subColumns+` FROM subscriptions WHERE user_id = ? ORDER BY id DESC LIMIT 1 FOR UPDATE`, userID)
	return scanSubscription(row)
}

// UpsertSubscription aplica el upsert por user_id sobre la fila que
// SubscriptionForUpdate ya dejó bloqueada: con fila previa actualiza por id
// (un trial de sistema queda superseded), sin ella inserta. La decisión no
// puede apoyarse en RowsAffected: el driver reporta filas cambiadas, no
// coincidentes, y una redelivery con valores idénticos cambia cero filas.
func (st *mysqlStore) UpsertSubscription(prior, s *Subscription) error {
	if prior != nil {
		_, err := st.q.Exec(`UPDATE subscriptions SET plan_id=?, status=?, current_period_start=?, current_period_end=?, payment_provider=?, invoice_id=?, event_time=? WHERE id=?`,
			s.PlanID, s.Status, s.CurrentPeriodStart, s.CurrentPeriodEnd, s.PaymentProvider, s.InvoiceID, s.EventTime, prior.ID)
		if err != nil {
			return err
		}
		s.ID = prior.ID
		return nil
	}
	res, err := st.q.Exec(`INSERT INTO subscriptions (user_id, plan_id, status, current_period_start, current_period_end, payment_provider, invoice_id, event_time) VALUES (?,?,?,?,?,?,?,?)`,
		s.UserID, s.PlanID, s.Status, s.CurrentPeriodStart, s.CurrentPeriodEnd, s.PaymentProvider, s.InvoiceID, s.EventTime)
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err == nil {
		s.ID = int(id)
	}
	return nil
}

// UpdateStatusPeriod actualiza estado y fin de periodo solo cuando el evento
// es estrictamente más nuevo que el último aplicado (last-write-wins con
// control de monotonicidad). Devuelve false si no había fila que actualizar.
func (st *mysqlStore) UpdateStatusPeriod(userID int, status string, periodEnd, eventTime time.Time) (bool, error) {
	res, err := st.q.Exec(`UPDATE subscriptions SET status=?, current_period_end=?, event_time=? WHERE user_id=? AND (event_time IS NULL OR event_time < ?)`,
		status, periodEnd, eventTime, userID, eventTime)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (st *mysqlStore) ReferrerOf(userID int) (int, error) {
	var id int
	err := st.q.QueryRow(`SELECT referrer_user_id FROM referrals WHERE referred_user_id = ? LIMIT 1`, userID).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

// CountSuccessfulReferrals cuenta referidos cuya suscripción está en
// active/trialing con plan real. Un trial de sistema no cuenta.
func (st *mysqlStore) CountSuccessfulReferrals(referrerID int) (int, error) {
	var n int
	err := st.q.QueryRow(`SELECT COUNT(DISTINCT r.referred_user_id)
		FROM referrals r
		JOIN subscriptions s ON s.user_id = r.referred_user_id
		WHERE r.referrer_user_id = ?
		  AND s.status IN (?, ?)
		  AND s.plan_id IS NOT NULL`, referrerID, StatusActive, StatusTrialing).Scan(&n)
	return n, err
}

func (st *mysqlStore) RewardsGranted(userID int) (int, error) {
	var n int
	err := st.q.QueryRow(`SELECT rewards_granted FROM users WHERE id = ?`, userID).Scan(&n)
	return n, err
}

func (st *mysqlStore) SetRewardsGranted(userID, n int) error {
	_, err := st.q.Exec(`UPDATE users SET rewards_granted = ? WHERE id = ?`, n, userID)
	return err
}

func (st *mysqlStore) ActiveSubscription(userID int) (*Subscription, error) {
	row := st.q.QueryRow(`SELECT `+subColumns+` FROM subscriptions WHERE user_id = ? AND status = ? ORDER BY id DESC LIMIT 1 FOR UPDATE`, userID, StatusActive)
	return scanSubscription(row)
}

func (st *mysqlStore) ExtendPeriod(subscriptionID int, newEnd time.Time) error {
	_, err := st.q.Exec(`UPDATE subscriptions SET current_period_end = ? WHERE id = ?`, newEnd, subscriptionID)
	return err
}

func (st *mysqlStore) InsertNotification(userID int, title, message, ntype string) error {
	_, err := st.q.Exec("INSERT INTO notifications (user_id, title, message, type) VALUES (?,?,?,?)", userID, title, message, ntype)
	return err
}

// CreateClass inserta la clase comprada; stripe_session_id UNIQUE hace que
// una redelivery del webhook sea un no-op. Devuelve false si ya existía.
func (st *mysqlStore) CreateClass(ownerUserID int, name, joinCode, sessionID string) (bool, error) {
	res, err := st.q.Exec(`INSERT IGNORE INTO classes (owner_user_id, name, join_code, stripe_session_id) VALUES (?,?,?,?)`,
		ownerUserID, name, joinCode, sessionID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

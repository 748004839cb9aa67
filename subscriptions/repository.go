package subscriptions

import (
	"database/sql"
	"time"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetPlans() ([]Plan, error) {
	rows, err := r.db.Query(`SELECT id, name, currency, price, billing, stripe_product_id, stripe_price_id FROM subscription_plans`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	plans := []Plan{}
	for rows.Next() {
		var p Plan
		if err := rows.Scan(&p.ID, &p.Name, &p.Currency, &p.Price, &p.Billing, &p.StripeProductID, &p.StripePriceID); err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

// GetPlanByID returns a plan by its ID
func (r *Repository) GetPlanByID(id int) (*Plan, error) {
	row := r.db.QueryRow(`SELECT id, name, currency, price, billing, stripe_product_id, stripe_price_id FROM subscription_plans WHERE id=? LIMIT 1`, id)
	var p Plan
	if err := row.Scan(&p.ID, &p.Name, &p.Currency, &p.Price, &p.Billing, &p.StripeProductID, &p.StripePriceID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (r *Repository) CreatePlan(p *Plan) error {
	res, err := r.db.Exec(`INSERT INTO subscription_plans (name, currency, price, billing, stripe_product_id, stripe_price_id) VALUES (?,?,?,?,?,?)`,
		p.Name, p.Currency, p.Price, p.Billing, p.StripeProductID, p.StripePriceID)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	p.ID = int(id)
	return nil
}

func (r *Repository) UpdatePlan(id int, p *Plan) error {
	_, err := r.db.Exec(`UPDATE subscription_plans SET name=?, currency=?, price=?, billing=?, stripe_product_id=?, stripe_price_id=? WHERE id=?`,
		p.Name, p.Currency, p.Price, p.Billing, p.StripeProductID, p.StripePriceID, id)
	return err
}

func (r *Repository) DeletePlan(id int) error {
	_, err := r.db.Exec(`DELETE FROM subscription_plans WHERE id=?`, id)
	return err
}

// GetSubscriptions lists subscriptions (optionally for one user) joined with
// their plan when they have one.
func (r *Repository) GetSubscriptions(userID int) ([]Subscription, error) {
	rows, err := r.db.Query(`SELECT s.id, s.user_id, s.plan_id, s.status, s.current_period_start, s.current_period_end, s.payment_provider, s.invoice_id,
		p.id, p.name, p.currency, p.price, p.billing, p.stripe_product_id, p.stripe_price_id
		FROM subscriptions s LEFT JOIN subscription_plans p ON s.plan_id = p.id
		WHERE (?=0 OR s.user_id=?)`, userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	subs := []Subscription{}
	for rows.Next() {
		var s Subscription
		var planID sql.NullInt64
		var end sql.NullTime
		var pID sql.NullInt64
		var pName, pCurrency, pBilling, pProduct, pPrice sql.NullString
		var pAmount sql.NullFloat64
		err := rows.Scan(&s.ID, &s.UserID, &planID, &s.Status, &s.CurrentPeriodStart, &end, &s.PaymentProvider, &s.InvoiceID,
			&pID, &pName, &pCurrency, &pAmount, &pBilling, &pProduct, &pPrice)
		if err != nil {
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
		if pID.Valid {
			s.Plan = &Plan{ID: int(pID.Int64), Name: pName.String, Currency: pCurrency.String, Price: pAmount.Float64, Billing: pBilling.String, StripeProductID: pProduct.String, StripePriceID: pPrice.String}
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

// GetPrimarySubscription devuelve la suscripción primaria del usuario según
// precedencia: active > trialing con plan > trial de sistema.
func (r *Repository) GetPrimarySubscription(userID int) (*Subscription, error) {
	row := r.db.QueryRow(`SELECT `+subColumns+` FROM subscriptions WHERE user_id = ?
		ORDER BY CASE
			WHEN status = 'active' THEN 0
			WHEN status = 'trialing' AND plan_id IS NOT NULL THEN 1
			WHEN status = 'trialing' THEN 2
			ELSE 3
		END, id DESC LIMIT 1`, userID)
	return scanSubscription(row)
}

// EnsureSystemTrial crea el trial de sistema de 30 días si el usuario aún no
// tiene ninguna suscripción. Idempotente: una segunda verificación no crea
// otra fila.
func (r *Repository) EnsureSystemTrial(userID int, days int) error {
	var count int
	if err := r.db.QueryRow("SELECT COUNT(1) FROM subscriptions WHERE user_id = ?", userID).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	now := time.Now()
	end := now.AddDate(0, 0, days)
	_, err := r.db.Exec(`INSERT INTO subscriptions (user_id, plan_id, status, current_period_start, current_period_end) VALUES (?, NULL, ?, ?, ?)`,
		userID, StatusTrialing, now, end)
	return err
}

package referrals

import (
	"database/sql"
	"fmt"
	"time"
)

// Referral es el enlace inmutable referidor → referido; se crea una sola vez
// en el registro y nunca se actualiza.
type Referral struct {
	ID             int       `json:"id"`
	ReferrerUserID int       `json:"referrer_user_id"`
	ReferredUserID int       `json:"referred_user_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// Stats resume el estado del programa de referidos para un usuario.
type Stats struct {
	ReferralCode    string `json:"referral_code"`
	TotalInvited    int    `json:"total_invited"`
	ActiveInvited   int    `json:"active_invited"`
	RewardsGranted  int    `json:"rewards_granted"`
	NextRewardAfter int    `json:"next_reward_after"`
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Create enlaza referidor y referido. El lado referido es UNIQUE: un usuario
// solo puede ser referido una vez, y nunca por sí mismo.
func (r *Repository) Create(referrerUserID, referredUserID int) error {
	if referrerUserID == referredUserID {
		return fmt.Errorf("un usuario no puede referirse a sí mismo")
	}
	_, err := r.db.Exec(`INSERT IGNORE INTO referrals (referrer_user_id, referred_user_id) VALUES (?, ?)`,
		referrerUserID, referredUserID)
	return err
}

// ListByReferrer returns every referral made by a user.
func (r *Repository) ListByReferrer(referrerUserID int) ([]Referral, error) {
	rows, err := r.db.Query(`SELECT id, referrer_user_id, referred_user_id, created_at FROM referrals WHERE referrer_user_id = ?`, referrerUserID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Referral{}
	for rows.Next() {
		var ref Referral
		if err := rows.Scan(&ref.ID, &ref.ReferrerUserID, &ref.ReferredUserID, &ref.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}

// GetStats calcula invitados totales y exitosos (suscripción active/trialing
// con plan real) para el panel del usuario.
func (r *Repository) GetStats(userID int) (*Stats, error) {
	var st Stats
	row := r.db.QueryRow(`SELECT referral_code, rewards_granted FROM users WHERE id = ? LIMIT 1`, userID)
	if err := row.Scan(&st.ReferralCode, &st.RewardsGranted); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if err := r.db.QueryRow(`SELECT COUNT(1) FROM referrals WHERE referrer_user_id = ?`, userID).Scan(&st.TotalInvited); err != nil {
		return nil, err
	}
	err := r.db.QueryRow(`SELECT COUNT(DISTINCT r.referred_user_id)
		FROM referrals r
		JOIN subscriptions s ON s.user_id = r.referred_user_id
		WHERE r.referrer_user_id = ?
		  AND s.status IN ('active','trialing')
		  AND s.plan_id IS NOT NULL`, userID).Scan(&st.ActiveInvited)
	if err != nil {
		return nil, err
	}
	st.NextRewardAfter = 5 - st.ActiveInvited%5
	return &st, nil
}

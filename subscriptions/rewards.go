package subscriptions

import (
	"fmt"
	"log"
	"time"
)

// RewardResult describe una recompensa recién otorgada para que el llamador
// envíe el correo después del commit.
type RewardResult struct {
	ReferrerID int
	Referrals  int
}

// grantReferralRewards recalcula las referencias exitosas del referidor del
// usuario que acaba de pagar y otorga las recompensas de hito pendientes.
// Corre dentro de la misma transacción que el upsert de la suscripción:
// o se confirman ambos o ninguno.
//
// Una referencia exitosa es un referido con suscripción active/trialing y
// plan real. La recompensa se gana en cada múltiplo positivo de 5; el
// contador rewards_granted del usuario evita otorgarla dos veces cuando el
// proveedor reenvía el mismo evento.
func grantReferralRewards(st Store, payingUserID int, now time.Time) (*RewardResult, error) {
	referrerID, err := st.ReferrerOf(payingUserID)
	if err != nil {
		return nil, err
	}
	if referrerID == 0 {
		return nil, nil
	}
	successful, err := st.CountSuccessfulReferrals(referrerID)
	if err != nil {
		return nil, err
	}
	earned := successful / 5
	granted, err := st.RewardsGranted(referrerID)
	if err != nil {
		return nil, err
	}
	if earned <= granted {
		return nil, nil
	}

	active, err := st.ActiveSubscription(referrerID)
	if err != nil {
		return nil, err
	}
	if active == nil || active.CurrentPeriodEnd == nil {
		// Sin suscripción activa no hay periodo que extender: la recompensa
		// se pierde (política deliberada). Se registra igualmente como
		// otorgada para no duplicarla después.
		log.Printf("[REWARDS][skip] referrer=%d referidos=%d sin suscripción activa", referrerID, successful)
		if err := st.SetRewardsGranted(referrerID, earned); err != nil {
			return nil, err
		}
		return nil, nil
	}

	// Un mes calendario por cada hito pendiente (normalmente uno; con 10
	// referidos en un mismo recálculo serían dos).
	newEnd := active.CurrentPeriodEnd.AddDate(0, earned-granted, 0)
	if err := st.ExtendPeriod(active.ID, newEnd); err != nil {
		return nil, err
	}
	if err := st.SetRewardsGranted(referrerID, earned); err != nil {
		return nil, err
	}
	msg := fmt.Sprintf("Ya tienes %d referidos con suscripción activa. Tu suscripción se extendió hasta %s.", successful, newEnd.Format("2006-01-02"))
	if err := st.InsertNotification(referrerID, "¡Has ganado un mes gratis!", msg, "referral_reward"); err != nil {
		return nil, err
	}
	log.Printf("[REWARDS][grant] referrer=%d referidos=%d hitos=%d nuevo_fin=%s", referrerID, successful, earned-granted, newEnd.Format(time.RFC3339))
	return &RewardResult{ReferrerID: referrerID, Referrals: successful}, nil
}

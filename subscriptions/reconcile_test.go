package subscriptions

import (
	"testing"
	"time"
)

// memStore es el doble en memoria de Store para probar la máquina de
// estados sin base de datos.
type memStore struct {
	plans     map[string]Plan // por stripe_price_id
	subs      []*Subscription
	nextSubID int
	referrals map[int]int // referred -> referrer
	rewards   map[int]int
	notifs    []memNotif
	classes   map[string]memClass // por session id
}

type memNotif struct {
	UserID               int
	Title, Message, Type string
}

type memClass struct {
	OwnerID        int
	Name, JoinCode string
}

func newMemStore() *memStore {
	return &memStore{
		plans:     map[string]Plan{},
		referrals: map[int]int{},
		rewards:   map[int]int{},
		classes:   map[string]memClass{},
	}
}

func (m *memStore) PlanByStripePrice(priceID string) (*Plan, error) {
	if p, ok := m.plans[priceID]; ok {
		cp := p
		return &cp, nil
	}
	return nil, nil
}

func (m *memStore) SubscriptionForUpdate(userID int) (*Subscription, error) {
	var latest *Subscription
	for _, s := range m.subs {
		if s.UserID == userID && (latest == nil || s.ID > latest.ID) {
			latest = s
		}
	}
	return latest, nil
}

func (m *memStore) UpsertSubscription(prior, s *Subscription) error {
	if prior != nil {
		for _, cur := range m.subs {
			if cur.ID == prior.ID {
				id := cur.ID
				*cur = *s
				cur.ID = id
				s.ID = id
				return nil
			}
		}
	}
	m.nextSubID++
	s.ID = m.nextSubID
	cp := *s
	m.subs = append(m.subs, &cp)
	return nil
}

func (m *memStore) UpdateStatusPeriod(userID int, status string, periodEnd, eventTime time.Time) (bool, error) {
	updated := false
	for _, s := range m.subs {
		if s.UserID != userID {
			continue
		}
		if s.EventTime != nil && !s.EventTime.Before(eventTime) {
			continue
		}
		s.Status = status
		end := periodEnd
		s.CurrentPeriodEnd = &end
		et := eventTime
		s.EventTime = &et
		updated = true
	}
	return updated, nil
}

func (m *memStore) ReferrerOf(userID int) (int, error) {
	return m.referrals[userID], nil
}

func (m *memStore) CountSuccessfulReferrals(referrerID int) (int, error) {
	n := 0
	for referred, referrer := range m.referrals {
		if referrer != referrerID {
			continue
		}
		for _, s := range m.subs {
			if s.UserID == referred && (s.Status == StatusActive || s.Status == StatusTrialing) && s.PlanID != nil {
				n++
				break
			}
		}
	}
	return n, nil
}

func (m *memStore) RewardsGranted(userID int) (int, error) { return m.rewards[userID], nil }

func (m *memStore) SetRewardsGranted(userID, n int) error {
	m.rewards[userID] = n
	return nil
}

func (m *memStore) ActiveSubscription(userID int) (*Subscription, error) {
	var latest *Subscription
	for _, s := range m.subs {
		if s.UserID == userID && s.Status == StatusActive && (latest == nil || s.ID > latest.ID) {
			latest = s
		}
	}
	return latest, nil
}

func (m *memStore) ExtendPeriod(subscriptionID int, newEnd time.Time) error {
	for _, s := range m.subs {
		if s.ID == subscriptionID {
			end := newEnd
			s.CurrentPeriodEnd = &end
		}
	}
	return nil
}

func (m *memStore) InsertNotification(userID int, title, message, ntype string) error {
	m.notifs = append(m.notifs, memNotif{UserID: userID, Title: title, Message: message, Type: ntype})
	return nil
}

func (m *memStore) CreateClass(ownerUserID int, name, joinCode, sessionID string) (bool, error) {
	if _, ok := m.classes[sessionID]; ok {
		return false, nil
	}
	m.classes[sessionID] = memClass{OwnerID: ownerUserID, Name: name, JoinCode: joinCode}
	return true, nil
}

func (m *memStore) addSub(userID int, planID *int, status string, end time.Time) *Subscription {
	m.nextSubID++
	e := end
	s := &Subscription{ID: m.nextSubID, UserID: userID, PlanID: planID, Status: status, CurrentPeriodStart: end.AddDate(0, -1, 0), CurrentPeriodEnd: &e}
	m.subs = append(m.subs, s)
	return s
}

func intPtr(n int) *int { return &n }

var baseTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func checkoutEvent(userID int) (*CheckoutEvent, *ProviderSubscription) {
	ce := &CheckoutEvent{SessionID: "cs_1", Mode: "subscription", UserID: userID, SubscriptionID: "sub_1"}
	ps := &ProviderSubscription{
		PriceID:     "price_X",
		Status:      StatusActive,
		PeriodStart: baseTime,
		PeriodEnd:   baseTime.AddDate(0, 1, 0),
		InvoiceID:   "in_1",
	}
	return ce, ps
}

func TestApplyCheckout_Idempotent(t *testing.T) {
	st := newMemStore()
	st.plans["price_X"] = Plan{ID: 1, Name: "Mensual", StripePriceID: "price_X"}
	ce, ps := checkoutEvent(10)

	if _, err := applyCheckout(st, ce, ps, baseTime); err != nil {
		t.Fatalf("primera aplicación: %v", err)
	}
	if len(st.subs) != 1 {
		t.Fatalf("esperaba 1 fila, hay %d", len(st.subs))
	}
	first := *st.subs[0]

	// Redelivery del mismo evento.
	if _, err := applyCheckout(st, ce, ps, baseTime); err != nil {
		t.Fatalf("segunda aplicación: %v", err)
	}
	if len(st.subs) != 1 {
		t.Fatalf("la redelivery creó otra fila: %d", len(st.subs))
	}
	second := *st.subs[0]
	if first.Status != second.Status || !first.CurrentPeriodEnd.Equal(*second.CurrentPeriodEnd) || *first.PlanID != *second.PlanID || first.InvoiceID != second.InvoiceID {
		t.Fatalf("la fila cambió tras la redelivery: %+v vs %+v", first, second)
	}
}

func TestApplyCheckout_UnknownPlanIsRetryable(t *testing.T) {
	st := newMemStore()
	ce, ps := checkoutEvent(10)

	_, err := applyCheckout(st, ce, ps, baseTime)
	if err == nil {
		t.Fatal("esperaba error de plan no reconocido")
	}
	if len(st.subs) != 0 {
		t.Fatalf("no debió escribir nada: %d filas", len(st.subs))
	}
}

func TestApplyCheckout_SupersedesSystemTrial(t *testing.T) {
	st := newMemStore()
	st.plans["price_X"] = Plan{ID: 1, StripePriceID: "price_X"}
	st.addSub(10, nil, StatusTrialing, baseTime.AddDate(0, 0, 20))
	ce, ps := checkoutEvent(10)

	if _, err := applyCheckout(st, ce, ps, baseTime); err != nil {
		t.Fatal(err)
	}
	if len(st.subs) != 1 {
		t.Fatalf("esperaba que el trial de sistema quedara superseded, hay %d filas", len(st.subs))
	}
	if st.subs[0].Status != StatusActive || st.subs[0].PlanID == nil {
		t.Fatalf("fila inesperada: %+v", st.subs[0])
	}
}

func setupReferrer(st *memStore, referrerID int, referredActive int) {
	st.plans["price_X"] = Plan{ID: 1, StripePriceID: "price_X"}
	st.addSub(referrerID, intPtr(1), StatusActive, baseTime.AddDate(0, 1, 0))
	for i := 0; i < referredActive; i++ {
		uid := 100 + i
		st.referrals[uid] = referrerID
		st.addSub(uid, intPtr(1), StatusActive, baseTime.AddDate(0, 1, 0))
	}
}

func TestRewards_FifthReferralGrantsOneMonth(t *testing.T) {
	st := newMemStore()
	referrer := 1
	setupReferrer(st, referrer, 4)
	// U5 se registra referido y paga.
	st.referrals[105] = referrer
	before := *mustActiveEnd(t, st, referrer)

	ce, ps := checkoutEvent(105)
	reward, err := applyCheckout(st, ce, ps, baseTime)
	if err != nil {
		t.Fatal(err)
	}
	if reward == nil || reward.ReferrerID != referrer || reward.Referrals != 5 {
		t.Fatalf("recompensa inesperada: %+v", reward)
	}
	after := *mustActiveEnd(t, st, referrer)
	if !after.Equal(before.AddDate(0, 1, 0)) {
		t.Fatalf("el fin de periodo debió avanzar un mes: %s -> %s", before, after)
	}
	if n := countNotifs(st, referrer, "referral_reward"); n != 1 {
		t.Fatalf("esperaba 1 notificación de recompensa, hay %d", n)
	}
}

func TestRewards_NoDoubleGrantOnRedelivery(t *testing.T) {
	st := newMemStore()
	referrer := 1
	setupReferrer(st, referrer, 4)
	st.referrals[105] = referrer

	ce, ps := checkoutEvent(105)
	if _, err := applyCheckout(st, ce, ps, baseTime); err != nil {
		t.Fatal(err)
	}
	endAfterFirst := *mustActiveEnd(t, st, referrer)

	// El proveedor reenvía el mismo evento.
	reward, err := applyCheckout(st, ce, ps, baseTime)
	if err != nil {
		t.Fatal(err)
	}
	if reward != nil {
		t.Fatalf("la redelivery no debe otorgar otra recompensa: %+v", reward)
	}
	if end := *mustActiveEnd(t, st, referrer); !end.Equal(endAfterFirst) {
		t.Fatalf("el periodo se extendió dos veces: %s vs %s", endAfterFirst, end)
	}
	if n := countNotifs(st, referrer, "referral_reward"); n != 1 {
		t.Fatalf("esperaba 1 notificación, hay %d", n)
	}
}

func TestRewards_SystemTrialDoesNotCount(t *testing.T) {
	st := newMemStore()
	referrer := 1
	setupReferrer(st, referrer, 4)
	// El quinto referido solo tiene trial de sistema (plan NULL).
	st.referrals[105] = referrer
	st.addSub(105, nil, StatusTrialing, baseTime.AddDate(0, 0, 30))

	n, err := st.CountSuccessfulReferrals(referrer)
	if err != nil {
		t.Fatal(err)
	}
	if n != 4 {
		t.Fatalf("el trial de sistema no debe contar: esperaba 4, hay %d", n)
	}
	if _, err := grantReferralRewards(st, 105, baseTime); err != nil {
		t.Fatal(err)
	}
	if len(st.notifs) != 0 {
		t.Fatalf("no debió haber recompensa: %+v", st.notifs)
	}
}

func TestRewards_ReferrerWithoutActiveSubscriptionForfeits(t *testing.T) {
	st := newMemStore()
	referrer := 1
	st.plans["price_X"] = Plan{ID: 1, StripePriceID: "price_X"}
	// Cinco referidos activos, pero el referidor no tiene suscripción activa.
	for i := 0; i < 5; i++ {
		uid := 100 + i
		st.referrals[uid] = referrer
		st.addSub(uid, intPtr(1), StatusActive, baseTime.AddDate(0, 1, 0))
	}
	reward, err := grantReferralRewards(st, 100, baseTime)
	if err != nil {
		t.Fatal(err)
	}
	if reward != nil || len(st.notifs) != 0 {
		t.Fatal("sin suscripción activa no hay recompensa")
	}
	// La recompensa queda registrada como otorgada para no duplicarla luego.
	if st.rewards[referrer] != 1 {
		t.Fatalf("rewards_granted=%d, esperaba 1", st.rewards[referrer])
	}
}

func TestRewards_TenReferralsEarnTwoMilestones(t *testing.T) {
	st := newMemStore()
	referrer := 1
	setupReferrer(st, referrer, 10)
	before := *mustActiveEnd(t, st, referrer)

	reward, err := grantReferralRewards(st, 100, baseTime)
	if err != nil {
		t.Fatal(err)
	}
	if reward == nil || reward.Referrals != 10 {
		t.Fatalf("recompensa inesperada: %+v", reward)
	}
	after := *mustActiveEnd(t, st, referrer)
	if !after.Equal(before.AddDate(0, 2, 0)) {
		t.Fatalf("10 referidos son 2 hitos (2 meses): %s -> %s", before, after)
	}
}

func TestApplySubChange_NoPriorRowIsNoop(t *testing.T) {
	st := newMemStore()
	sc := &SubChangeEvent{SubscriptionID: "sub_9", CustomerID: "cus_9", Status: StatusCanceled, PeriodEnd: baseTime, Deleted: true}

	if err := applySubChange(st, 42, sc, baseTime); err != nil {
		t.Fatalf("no debe fallar sin fila previa: %v", err)
	}
	if len(st.subs) != 0 {
		t.Fatalf("no debe insertar: %d filas", len(st.subs))
	}
}

func TestApplySubChange_StaleEventIsIgnored(t *testing.T) {
	st := newMemStore()
	s := st.addSub(10, intPtr(1), StatusActive, baseTime.AddDate(0, 1, 0))
	newer := baseTime.Add(time.Hour)
	s.EventTime = &newer

	stale := &SubChangeEvent{Status: StatusPastDue, PeriodEnd: baseTime.AddDate(0, 0, 1)}
	if err := applySubChange(st, 10, stale, baseTime); err != nil {
		t.Fatal(err)
	}
	if s.Status != StatusActive {
		t.Fatalf("un evento viejo no debe pisar estado más nuevo: %s", s.Status)
	}
}

func TestApplySubChange_UpdatesStatusAndPeriod(t *testing.T) {
	st := newMemStore()
	st.addSub(10, intPtr(1), StatusActive, baseTime.AddDate(0, 1, 0))

	newEnd := baseTime.AddDate(0, 2, 0)
	sc := &SubChangeEvent{Status: StatusPastDue, PeriodEnd: newEnd}
	if err := applySubChange(st, 10, sc, baseTime.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if st.subs[0].Status != StatusPastDue || !st.subs[0].CurrentPeriodEnd.Equal(newEnd) {
		t.Fatalf("fila no actualizada: %+v", st.subs[0])
	}
}

func TestApplyClassPurchase_DuplicateSessionIgnored(t *testing.T) {
	st := newMemStore()
	ce := &CheckoutEvent{SessionID: "cs_class_1", Mode: "payment", UserID: 7, Purchase: "class", ClassName: "Álgebra"}

	if err := applyClassPurchase(st, ce); err != nil {
		t.Fatal(err)
	}
	if err := applyClassPurchase(st, ce); err != nil {
		t.Fatal(err)
	}
	if len(st.classes) != 1 {
		t.Fatalf("la redelivery creó clases duplicadas: %d", len(st.classes))
	}
	cl := st.classes["cs_class_1"]
	if cl.Name != "Álgebra" || cl.JoinCode == "" {
		t.Fatalf("clase inesperada: %+v", cl)
	}
}

func mustActiveEnd(t *testing.T, st *memStore, userID int) *time.Time {
	t.Helper()
	s, err := st.ActiveSubscription(userID)
	if err != nil || s == nil || s.CurrentPeriodEnd == nil {
		t.Fatalf("sin suscripción activa para user=%d", userID)
	}
	return s.CurrentPeriodEnd
}

func countNotifs(st *memStore, userID int, ntype string) int {
	n := 0
	for _, nf := range st.notifs {
		if nf.UserID == userID && nf.Type == ntype {
			n++
		}
	}
	return n
}

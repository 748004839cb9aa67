package subscriptions

import (
	"testing"
	"time"
)

func TestPrimary_ActiveWinsOverPaidTrial(t *testing.T) {
	plan := 1
	subs := []Subscription{
		{ID: 1, UserID: 10, PlanID: &plan, Status: StatusTrialing},
		{ID: 2, UserID: 10, PlanID: &plan, Status: StatusActive},
	}
	p := Primary(subs)
	if p == nil || p.Status != StatusActive {
		t.Fatalf("la primaria debió ser la activa: %+v", p)
	}
}

func TestPrimary_PaidTrialWinsOverSystemTrial(t *testing.T) {
	plan := 1
	subs := []Subscription{
		{ID: 1, UserID: 10, Status: StatusTrialing},                 // trial de sistema
		{ID: 2, UserID: 10, PlanID: &plan, Status: StatusTrialing},  // trial de plan pagado
		{ID: 3, UserID: 10, PlanID: &plan, Status: StatusCanceled},
	}
	p := Primary(subs)
	if p == nil || p.ID != 2 {
		t.Fatalf("la primaria debió ser el trial pagado: %+v", p)
	}
}

func TestPrimary_Empty(t *testing.T) {
	if p := Primary(nil); p != nil {
		t.Fatalf("sin filas no hay primaria: %+v", p)
	}
}

func TestEntitled(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	plan := 1
	future := now.AddDate(0, 0, 10)
	past := now.AddDate(0, 0, -1)

	cases := []struct {
		name    string
		sub     *Subscription
		free    bool
		entitle bool
	}{
		{"permanent free sin suscripción", nil, true, true},
		{"sin suscripción", nil, false, false},
		{"activa", &Subscription{Status: StatusActive}, false, true},
		{"trial pagado", &Subscription{Status: StatusTrialing, PlanID: &plan}, false, true},
		{"trial de sistema vigente", &Subscription{Status: StatusTrialing, CurrentPeriodEnd: &future}, false, true},
		{"trial de sistema expirado", &Subscription{Status: StatusTrialing, CurrentPeriodEnd: &past}, false, false},
		{"cancelada", &Subscription{Status: StatusCanceled, PlanID: &plan}, false, false},
		{"past_due", &Subscription{Status: StatusPastDue, PlanID: &plan}, false, false},
	}
	for _, tc := range cases {
		if got := Entitled(tc.sub, tc.free, now); got != tc.entitle {
			t.Errorf("%s: Entitled=%v, esperaba %v", tc.name, got, tc.entitle)
		}
	}
}

package subscriptions

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	stripe "github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

const testWebhookSecret = "whsec_test_secret"

// signedPayload construye el cuerpo del evento y su cabecera Stripe-Signature.
func signedPayload(t *testing.T, eventType string, object map[string]any) ([]byte, string) {
	t.Helper()
	body := map[string]any{
		"id":          "evt_test_1",
		"object":      "event",
		"api_version": stripe.APIVersion,
		"created":     time.Now().Unix(),
		"type":        eventType,
		"data":        map[string]any{"object": object},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	sig := webhook.ComputeSignature(now, payload, testWebhookSecret)
	header := fmt.Sprintf("t=%d,v1=%s", now.Unix(), hex.EncodeToString(sig))
	return payload, header
}

func checkoutObject(metadata map[string]any) map[string]any {
	return map[string]any{
		"id":           "cs_test_1",
		"object":       "checkout.session",
		"mode":         "subscription",
		"metadata":     metadata,
		"subscription": "sub_test_1",
	}
}

func TestVerifyEvent_BadSignatureRejected(t *testing.T) {
	payload, _ := signedPayload(t, "checkout.session.completed", checkoutObject(map[string]any{"user_id": "10"}))

	_, err := VerifyEvent(payload, "t=1,v1=deadbeef", testWebhookSecret)
	if !errors.Is(err, ErrVerification) {
		t.Fatalf("esperaba ErrVerification, obtuve %v", err)
	}
}

func TestVerifyEvent_MissingUserIDRejected(t *testing.T) {
	payload, header := signedPayload(t, "checkout.session.completed", checkoutObject(map[string]any{}))

	_, err := VerifyEvent(payload, header, testWebhookSecret)
	if !errors.Is(err, ErrVerification) {
		t.Fatalf("esperaba ErrVerification por metadata sin user_id, obtuve %v", err)
	}
}

func TestVerifyEvent_CheckoutDecoded(t *testing.T) {
	payload, header := signedPayload(t, "checkout.session.completed", checkoutObject(map[string]any{
		"user_id": "10", "purchase": "class", "class_name": "Historia",
	}))

	ev, err := VerifyEvent(payload, header, testWebhookSecret)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Kind != KindCheckoutCompleted || ev.Checkout == nil {
		t.Fatalf("evento inesperado: %+v", ev)
	}
	ce := ev.Checkout
	if ce.UserID != 10 || ce.SessionID != "cs_test_1" || ce.SubscriptionID != "sub_test_1" || ce.Purchase != "class" || ce.ClassName != "Historia" {
		t.Fatalf("campos mal decodificados: %+v", ce)
	}
}

func TestVerifyEvent_SubscriptionUpdatedDecoded(t *testing.T) {
	end := time.Now().AddDate(0, 1, 0).Unix()
	payload, header := signedPayload(t, "customer.subscription.updated", map[string]any{
		"id":                 "sub_test_1",
		"object":             "subscription",
		"status":             "past_due",
		"current_period_end": end,
		"customer":           "cus_test_1",
	})

	ev, err := VerifyEvent(payload, header, testWebhookSecret)
	if err != nil {
		t.Fatal(err)
	}
	sc := ev.SubChange
	if sc == nil || sc.CustomerID != "cus_test_1" || sc.Status != StatusPastDue || sc.Deleted {
		t.Fatalf("evento inesperado: %+v", sc)
	}
	if sc.PeriodEnd.Unix() != end {
		t.Fatalf("period end mal decodificado: %d vs %d", sc.PeriodEnd.Unix(), end)
	}
}

func TestVerifyEvent_UnknownKindIgnored(t *testing.T) {
	payload, header := signedPayload(t, "invoice.paid", map[string]any{"id": "in_1", "object": "invoice"})

	ev, err := VerifyEvent(payload, header, testWebhookSecret)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Kind != KindIgnored {
		t.Fatalf("esperaba kind ignorado, obtuve %s", ev.Kind)
	}
}

func TestMapProviderStatus(t *testing.T) {
	cases := map[string]string{
		"trialing":           StatusTrialing,
		"active":             StatusActive,
		"past_due":           StatusPastDue,
		"unpaid":             StatusPastDue,
		"canceled":           StatusCanceled,
		"incomplete_expired": StatusCanceled,
	}
	for in, want := range cases {
		if got := mapProviderStatus(in); got != want {
			t.Errorf("mapProviderStatus(%q) = %q, esperaba %q", in, got, want)
		}
	}
}

// fakeProvider sustituye las consultas en vivo a Stripe en los tests.
type fakeProvider struct {
	sub       *ProviderSubscription
	userID    int
	found     bool
	lookupErr error
}

func (f *fakeProvider) GetSubscription(ctx context.Context, id string) (*ProviderSubscription, error) {
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	return f.sub, nil
}

func (f *fakeProvider) GetCustomerUserID(ctx context.Context, customerID string) (int, bool, error) {
	if f.lookupErr != nil {
		return 0, false, f.lookupErr
	}
	return f.userID, f.found, nil
}

func webhookRouter(svc *Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(nil, svc).RegisterRoutes(r)
	return r
}

func postWebhook(r *gin.Engine, payload []byte, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/stripe/webhook", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", header)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestWebhook_BadSignatureIs400(t *testing.T) {
	svc := &Service{webhookSecret: testWebhookSecret, lookupTimeout: time.Second}
	r := webhookRouter(svc)

	payload, _ := signedPayload(t, "checkout.session.completed", checkoutObject(map[string]any{"user_id": "10"}))
	w := postWebhook(r, payload, "t=1,v1=deadbeef")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("esperaba 400, obtuve %d: %s", w.Code, w.Body.String())
	}
}

func TestWebhook_IgnoredKindAcknowledged(t *testing.T) {
	svc := &Service{webhookSecret: testWebhookSecret, lookupTimeout: time.Second}
	r := webhookRouter(svc)

	payload, header := signedPayload(t, "invoice.paid", map[string]any{"id": "in_1", "object": "invoice"})
	w := postWebhook(r, payload, header)
	if w.Code != http.StatusOK {
		t.Fatalf("esperaba 200, obtuve %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Received bool `json:"received"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || !resp.Received {
		t.Fatalf("respuesta inesperada: %s", w.Body.String())
	}
}

// El caso fatal (customer sin user_id) se reconoce con 200 sin escribir nada:
// el proveedor no debe reenviar un evento que jamás podrá resolverse.
func TestWebhook_UnresolvableUserAcknowledged(t *testing.T) {
	svc := &Service{
		webhookSecret: testWebhookSecret,
		provider:      &fakeProvider{found: false},
		lookupTimeout: time.Second,
	}
	r := webhookRouter(svc)

	payload, header := signedPayload(t, "customer.subscription.deleted", map[string]any{
		"id":                 "sub_test_1",
		"object":             "subscription",
		"status":             "canceled",
		"current_period_end": time.Now().Unix(),
		"customer":           "cus_orphan",
	})
	w := postWebhook(r, payload, header)
	if w.Code != http.StatusOK {
		t.Fatalf("el caso fatal se reconoce con 200, obtuve %d: %s", w.Code, w.Body.String())
	}
}

// Un fallo transitorio del proveedor debe devolver 5xx para provocar la
// redelivery.
func TestWebhook_ProviderErrorIs500(t *testing.T) {
	svc := &Service{
		webhookSecret: testWebhookSecret,
		provider:      &fakeProvider{lookupErr: errors.New("timeout")},
		lookupTimeout: time.Second,
	}
	r := webhookRouter(svc)

	payload, header := signedPayload(t, "customer.subscription.updated", map[string]any{
		"id":                 "sub_test_1",
		"object":             "subscription",
		"status":             "active",
		"current_period_end": time.Now().Unix(),
		"customer":           "cus_test_1",
	})
	w := postWebhook(r, payload, header)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("esperaba 500, obtuve %d: %s", w.Code, w.Body.String())
	}
}

package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

const webhookSecret = "whsec_test"

func signBody(body []byte) string {
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func newWebhookFixture(t *testing.T, enforce bool) (*paymentFixture, http.Handler) {
	t.Helper()
	f := newPaymentFixture(t)
	wh := NewWebhookHandler(slog.Default(), f.svc, webhookSecret, enforce, nil, nil)
	r := chi.NewRouter()
	r.Route("/webhooks", wh.MountRoutes)
	return f, r
}

func postWebhook(t *testing.T, h http.Handler, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/paymongo", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set("Signature", signature)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWebhookPaidCompletesPayment(t *testing.T) {
	f, h := newWebhookFixture(t, true)
	p := initiateProcessing(t, f)

	body := []byte(`{"event_type":"link.payment.paid","data":{"id":"link_123","attributes":{"status":"paid"}}}`)
	rec := postWebhook(t, h, body, signBody(body))

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"success"}`, rec.Body.String())

	stored, err := f.repo.Get(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, stored.Status)
	require.Len(t, f.receivables.paidCalls, 1)
}

func TestWebhookRedeliveryIsIdempotent(t *testing.T) {
	f, h := newWebhookFixture(t, true)
	initiateProcessing(t, f)

	body := []byte(`{"event_type":"link.payment.paid","data":{"id":"link_123","attributes":{"status":"paid"}}}`)
	first := postWebhook(t, h, body, signBody(body))
	second := postWebhook(t, h, body, signBody(body))

	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, http.StatusOK, second.Code)
	require.Len(t, f.receivables.paidCalls, 1)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	f, h := newWebhookFixture(t, true)
	p := initiateProcessing(t, f)

	body := []byte(`{"event_type":"link.payment.paid","data":{"id":"link_123","attributes":{"status":"paid"}}}`)
	rec := postWebhook(t, h, body, "deadbeef")

	require.Equal(t, http.StatusBadRequest, rec.Code)

	stored, err := f.repo.Get(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, StatusProcessing, stored.Status)
	require.Empty(t, f.receivables.paidCalls)
}

func TestWebhookRejectsMissingSignature(t *testing.T) {
	_, h := newWebhookFixture(t, true)

	body := []byte(`{"event_type":"link.payment.paid","data":{"id":"link_123"}}`)
	rec := postWebhook(t, h, body, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookSkipsVerificationOutsideProduction(t *testing.T) {
	f, h := newWebhookFixture(t, false)
	p := initiateProcessing(t, f)

	body := []byte(`{"event_type":"link.payment.paid","data":{"id":"link_123","attributes":{"status":"paid"}}}`)
	rec := postWebhook(t, h, body, "")

	require.Equal(t, http.StatusOK, rec.Code)
	stored, err := f.repo.Get(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, stored.Status)
}

func TestWebhookIgnoresUnknownEventType(t *testing.T) {
	f, h := newWebhookFixture(t, true)
	p := initiateProcessing(t, f)

	body := []byte(`{"event_type":"link.payment.refunded","data":{"id":"link_123","attributes":{"status":"refunded"}}}`)
	rec := postWebhook(t, h, body, signBody(body))

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"success"}`, rec.Body.String())

	stored, err := f.repo.Get(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, StatusProcessing, stored.Status)
}

func TestWebhookUnknownProviderIDIsGracefulNoop(t *testing.T) {
	f, h := newWebhookFixture(t, true)

	body := []byte(`{"event_type":"link.payment.paid","data":{"id":"link_foreign","attributes":{"status":"paid"}}}`)
	rec := postWebhook(t, h, body, signBody(body))

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"success"}`, rec.Body.String())
	require.Empty(t, f.receivables.paidCalls)
}

func TestWebhookFailedEventMarksFailure(t *testing.T) {
	f, h := newWebhookFixture(t, true)
	p := initiateProcessing(t, f)

	body := []byte(`{"event_type":"link.payment.failed","data":{"id":"link_123","attributes":{"status":"unpaid"}}}`)
	rec := postWebhook(t, h, body, signBody(body))

	require.Equal(t, http.StatusOK, rec.Code)
	stored, err := f.repo.Get(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, stored.Status)
	require.Empty(t, f.receivables.paidCalls)
}

func TestWebhookRejectsMalformedBody(t *testing.T) {
	_, h := newWebhookFixture(t, true)

	body := []byte(`{not json`)
	rec := postWebhook(t, h, body, signBody(body))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

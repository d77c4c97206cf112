package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"points-service/internal/config"
	"points-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlutterwaveTestService(t *testing.T, handler http.HandlerFunc) *FlutterwaveService {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	db := setupTestDB(t)
	return NewFlutterwaveService(db, config.FlutterwaveConfig{
		BaseURL:     srv.URL,
		SecretKey:   "FLWSECK_TEST",
		WebhookHash: "hash",
		Currency:    "NGN",
		Country:     "NG",
		Timeout:     2 * time.Second,
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func TestFlutterwavePurchaseAirtime(t *testing.T) {
	bodies := make(chan map[string]interface{}, 1)
	svc := newFlutterwaveTestService(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/bills", r.URL.Path)
		assert.Equal(t, "Bearer FLWSECK_TEST", r.Header.Get("Authorization"))
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		bodies <- body
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status": "success",
			"data":   map[string]interface{}{"flw_ref": "BPUSSD123", "tx_ref": "RDM-1"},
		})
	})

	ref, err := svc.PurchaseAirtime(context.Background(), "+2348031234567", 30000, "RDM-1")
	require.NoError(t, err)
	assert.Equal(t, "BPUSSD123", ref)
	got := <-bodies
	assert.Equal(t, 300.0, got["amount"])
	assert.Equal(t, "AIRTIME", got["type"])

	var logs []models.GatewayLog
	require.NoError(t, svc.DB.Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.True(t, logs[0].Success)
	assert.Equal(t, "purchase_airtime", logs[0].Operation)
}

func TestFlutterwavePurchaseDataPaths(t *testing.T) {
	paths := make(chan string, 2)
	svc := newFlutterwaveTestService(t, func(w http.ResponseWriter, r *http.Request) {
		paths <- r.URL.Path
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "success", "data": map[string]interface{}{"flw_ref": "D1"}})
	})

	_, err := svc.PurchaseData(context.Background(), "+2348031234567", 50000, "RDM-2", "BIL108", "MD136")
	require.NoError(t, err)
	_, err = svc.PurchaseData(context.Background(), "+2348031234567", 50000, "RDM-3", "MTN 1GB", "")
	require.NoError(t, err)
	assert.Equal(t, "/v3/billers/BIL108/items/MD136/payment", <-paths)
	assert.Equal(t, "/v3/bills", <-paths)
}

func TestFlutterwaveErrorClassification(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusBadRequest)
	svc := newFlutterwaveTestService(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, int(status.Load()), map[string]interface{}{"status": "error", "message": "Insufficient balance"})
	})

	_, err := svc.PurchaseAirtime(context.Background(), "+2348031234567", 100, "RDM-4")
	var gwErr *GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, http.StatusBadRequest, gwErr.StatusCode)
	assert.Equal(t, "Insufficient balance", gwErr.Message)
	assert.False(t, outcomeUnknown(err))

	status.Store(http.StatusBadGateway)
	_, err = svc.PurchaseAirtime(context.Background(), "+2348031234567", 100, "RDM-5")
	assert.True(t, outcomeUnknown(err))
}

func TestFlutterwaveTimeoutIsUnknown(t *testing.T) {
	svc := newFlutterwaveTestService(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := svc.PurchaseAirtime(ctx, "+2348031234567", 100, "RDM-6")
	require.Error(t, err)
	assert.True(t, outcomeUnknown(err))
}

func TestFlutterwaveResolveAndVerify(t *testing.T) {
	svc := newFlutterwaveTestService(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v3/accounts/resolve":
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"status": "success",
				"data":   map[string]interface{}{"account_number": "0123456789", "account_name": "ADA OKAFOR"},
			})
		case "/v3/transactions/verify_by_reference":
			assert.Equal(t, "PUR-1", r.URL.Query().Get("tx_ref"))
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"status": "success",
				"data":   map[string]interface{}{"status": "successful", "amount": 4750.5, "currency": "NGN", "flw_ref": "FLW-MOCK"},
			})
		default:
			http.NotFound(w, r)
		}
	})

	name, err := svc.VerifyBankAccount(context.Background(), "0123456789", "044")
	require.NoError(t, err)
	assert.Equal(t, "ADA OKAFOR", name)

	charge, err := svc.VerifyCharge(context.Background(), "PUR-1")
	require.NoError(t, err)
	assert.Equal(t, ChargeStatusSuccess, charge.Status)
	assert.Equal(t, int64(475050), charge.AmountPaidMinor)
	assert.Equal(t, "FLW-MOCK", charge.ExternalRef)
}

func TestFlutterwaveVerifyWebhook(t *testing.T) {
	svc := &FlutterwaveService{Config: config.FlutterwaveConfig{WebhookHash: "hash"}}
	assert.True(t, svc.VerifyWebhook("hash"))
	assert.False(t, svc.VerifyWebhook("HASH"))
	assert.False(t, svc.VerifyWebhook(""))

	empty := &FlutterwaveService{}
	assert.False(t, empty.VerifyWebhook(""))
}

func TestOutcomeUnknown(t *testing.T) {
	assert.False(t, outcomeUnknown(nil))
	assert.True(t, outcomeUnknown(context.DeadlineExceeded))
	assert.False(t, outcomeUnknown(&GatewayError{StatusCode: 422}))
	assert.True(t, outcomeUnknown(&GatewayError{StatusCode: 500}))
}

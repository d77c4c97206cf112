package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"points-service/internal/config"
	"points-service/internal/database"
	"points-service/internal/middleware"
	"points-service/internal/models"
	"points-service/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const webhookHash = "test-hash"

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) PurchaseAirtime(ctx context.Context, phone string, amountMinor int64, reference string) (string, error) {
	args := m.Called(ctx, phone, amountMinor, reference)
	return args.String(0), args.Error(1)
}

func (m *mockGateway) PurchaseData(ctx context.Context, phone string, amountMinor int64, reference, billerCode, itemCode string) (string, error) {
	args := m.Called(ctx, phone, amountMinor, reference, billerCode, itemCode)
	return args.String(0), args.Error(1)
}

func (m *mockGateway) VerifyBankAccount(ctx context.Context, accountNumber, bankCode string) (string, error) {
	args := m.Called(ctx, accountNumber, bankCode)
	return args.String(0), args.Error(1)
}

func (m *mockGateway) InitiateBankTransfer(ctx context.Context, req services.BankTransferRequest) (*services.BankTransferResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*services.BankTransferResult)
	return res, args.Error(1)
}

func (m *mockGateway) VerifyCharge(ctx context.Context, reference string) (*services.ChargeVerification, error) {
	args := m.Called(ctx, reference)
	res, _ := args.Get(0).(*services.ChargeVerification)
	return res, args.Error(1)
}

func (m *mockGateway) CreatePaymentLink(ctx context.Context, req services.PaymentLinkRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

type envelope struct {
	Status  int             `json:"status"`
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	t        *testing.T
	db       *gorm.DB
	gw       *mockGateway
	ledger   *services.LedgerService
	router   *gin.Engine
	verifier *middleware.TokenVerifier
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.Connect(config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    "file:" + t.Name() + "?mode=memory&cache=shared",
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	points := config.PointsConfig{
		NairaPerPoint:         decimal.NewFromInt(1),
		PurchaseNairaPerPoint: decimal.NewFromInt(1),
		Airtime:               config.ProductLimit{MinPoints: 100, MaxPoints: 10000},
		Data:                  config.ProductLimit{MinPoints: 100, MaxPoints: 20000},
		Cash:                  config.ProductLimit{MinPoints: 1000, MaxPoints: 100000},
		Packages:              config.ParsePackages("starter:500:500"),
		CustomMinPoints:       100,
		CustomMaxPoints:       100000,
		AmountTolerance:       decimal.NewFromFloat(0.01),
		PendingPurchaseTTL:    time.Hour,
		StaleRedemptionAfter:  15 * time.Minute,
	}

	gw := &mockGateway{}
	ledger := services.NewLedgerService(db)
	audit := services.NewAuditService(db)
	redemptions := services.NewRedemptionService(db, ledger, audit, gw, nil, nil, points, time.Second)
	purchases := services.NewPurchaseService(db, ledger, audit, gw, points, "NGN", time.Second)
	flutterwave := services.NewFlutterwaveService(db, config.FlutterwaveConfig{WebhookHash: webhookHash})
	webhooks := services.NewWebhookService(flutterwave, purchases, redemptions, nil)

	verifier := middleware.NewTokenVerifier("handler-secret")
	router := gin.New()
	NewHandler(ledger, services.NewFundingService(db, ledger, audit), redemptions, purchases, webhooks).
		RegisterRoutes(router, verifier, nil)

	return &testServer{t: t, db: db, gw: gw, ledger: ledger, router: router, verifier: verifier}
}

func (s *testServer) member(balance int64) uint {
	s.t.Helper()
	m := &models.Member{Username: "ada", Email: "ada@example.com", Phone: "08031234567", Status: models.MemberStatusActive}
	require.NoError(s.t, s.db.Create(m).Error)
	if balance > 0 {
		_, err := s.ledger.Award(context.Background(), services.PointMovementDTO{
			MemberID:        m.ID,
			Amount:          balance,
			TransactionType: models.TxTypeEarn,
			Source:          models.SourceSystem,
		})
		require.NoError(s.t, err)
	}
	return m.ID
}

func (s *testServer) token(memberID uint, role string) string {
	s.t.Helper()
	tok, err := s.verifier.Sign(memberID, role, time.Hour)
	require.NoError(s.t, err)
	return tok
}

func (s *testServer) do(method, path, token string, body interface{}, headers map[string]string) (*httptest.ResponseRecorder, envelope) {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	return w, env
}

func (s *testServer) balance(token string) int64 {
	s.t.Helper()
	w, env := s.do(http.MethodGet, "/api/v1/points/balance", token, nil, nil)
	require.Equal(s.t, http.StatusOK, w.Code)
	var summary services.BalanceSummary
	require.NoError(s.t, json.Unmarshal(env.Data, &summary))
	return summary.Balance
}

func TestPingAndAuth(t *testing.T) {
	s := newTestServer(t)

	w, _ := s.do(http.MethodGet, "/ping", "", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(http.MethodGet, "/api/v1/points/balance", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRedeemAirtime(t *testing.T) {
	s := newTestServer(t)
	id := s.member(1000)
	tok := s.token(id, middleware.RoleMember)

	s.gw.On("PurchaseAirtime", mock.Anything, "+2348031234567", int64(30000), mock.AnythingOfType("string")).
		Return("FLW-AIR-1", nil).Once()

	body := gin.H{"product_type": "airtime", "points": 300, "phone_number": "0803 123 4567"}
	headers := map[string]string{"Idempotency-Key": "redeem-1"}

	w, env := s.do(http.MethodPost, "/api/v1/redemptions", tok, body, headers)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var rec models.PointRedemption
	require.NoError(t, json.Unmarshal(env.Data, &rec))
	assert.Equal(t, models.RedemptionStatusCompleted, rec.Status)
	assert.Equal(t, "redeem-1", rec.IdempotencyKey)
	assert.Equal(t, int64(700), s.balance(tok))

	// replaying the key is rejected and does not reach the gateway again
	w, env = s.do(http.MethodPost, "/api/v1/redemptions", tok, body, headers)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, string(env.Data), "DUPLICATE_REQUEST")
	assert.Equal(t, int64(700), s.balance(tok))
	s.gw.AssertExpectations(t)

	w, _ = s.do(http.MethodGet, fmt.Sprintf("/api/v1/redemptions/%d", rec.ID), tok, nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	other := s.token(s.member(0), middleware.RoleMember)
	w, _ = s.do(http.MethodGet, fmt.Sprintf("/api/v1/redemptions/%d", rec.ID), other, nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRedeemValidation(t *testing.T) {
	s := newTestServer(t)
	tok := s.token(s.member(1000), middleware.RoleMember)

	w, env := s.do(http.MethodPost, "/api/v1/redemptions", tok,
		gin.H{"product_type": "airtime", "points": 300, "phone_number": "12345", "idempotency_key": "v-1"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, string(env.Data), "phone_number")

	w, _ = s.do(http.MethodPost, "/api/v1/redemptions", tok, gin.H{"product_type": "airtime"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env = s.do(http.MethodPost, "/api/v1/redemptions", tok,
		gin.H{"product_type": "airtime", "points": 5000, "phone_number": "08031234567", "idempotency_key": "v-2"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, string(env.Data), "INSUFFICIENT_BALANCE")
	s.gw.AssertNotCalled(t, "PurchaseAirtime", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRedeemGatewayRejection(t *testing.T) {
	s := newTestServer(t)
	tok := s.token(s.member(1000), middleware.RoleMember)

	s.gw.On("PurchaseAirtime", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("", &services.GatewayError{StatusCode: 400, Message: "invalid customer"}).Once()

	w, env := s.do(http.MethodPost, "/api/v1/redemptions", tok,
		gin.H{"product_type": "airtime", "points": 300, "phone_number": "08031234567"},
		map[string]string{"Idempotency-Key": "gw-1"})
	assert.Equal(t, http.StatusBadGateway, w.Code)

	var data map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, true, data["retryable"])
	assert.Equal(t, "retry_with_new_key", data["action"])
	assert.Equal(t, int64(1000), s.balance(tok))
}

func TestAdminRoutesRequireOperator(t *testing.T) {
	s := newTestServer(t)
	target := s.member(0)
	memberTok := s.token(target, middleware.RoleMember)
	operatorTok := s.token(s.member(0), middleware.RoleOperator)

	award := gin.H{"member_id": target, "amount": 250, "description": "survey"}

	w, _ := s.do(http.MethodPost, "/api/v1/admin/points/award", memberTok, award, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = s.do(http.MethodPost, "/api/v1/admin/points/award", operatorTok, award, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, int64(250), s.balance(memberTok))

	w, _ = s.do(http.MethodPost, "/api/v1/admin/points/award", operatorTok,
		gin.H{"member_id": target, "amount": 10, "transaction_type": "redemption"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTransferAndHistory(t *testing.T) {
	s := newTestServer(t)
	from := s.member(500)
	to := s.member(0)
	tok := s.token(from, middleware.RoleMember)

	w, _ := s.do(http.MethodPost, "/api/v1/points/transfer", tok, gin.H{"to_member_id": to, "amount": 200}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, int64(300), s.balance(tok))
	assert.Equal(t, int64(200), s.balance(s.token(to, middleware.RoleMember)))

	w, _ = s.do(http.MethodGet, "/api/v1/points/transactions?direction=debit", tok, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Count int64             `json:"count"`
		Data  []json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, int64(1), page.Count)
}

func TestTaskFundingFlow(t *testing.T) {
	s := newTestServer(t)
	creator := s.member(500)
	tok := s.token(creator, middleware.RoleMember)

	w, env := s.do(http.MethodPost, "/api/v1/tasks", tok,
		gin.H{"title": "Beach cleanup", "points_per_completion": 100, "max_completions": 2}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created services.FundingResult
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, int64(300), s.balance(tok))

	w, _ = s.do(http.MethodGet, fmt.Sprintf("/api/v1/tasks/%d/funding", created.Task.ID), tok, nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(http.MethodPost, fmt.Sprintf("/api/v1/tasks/%d/cancel", created.Task.ID), tok, nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, int64(500), s.balance(tok))

	w, _ = s.do(http.MethodGet, "/api/v1/tasks/abc/funding", tok, nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPurchaseCheckoutAndVerify(t *testing.T) {
	s := newTestServer(t)
	id := s.member(0)
	tok := s.token(id, middleware.RoleMember)

	s.gw.On("CreatePaymentLink", mock.Anything, mock.MatchedBy(func(req services.PaymentLinkRequest) bool {
		return req.AmountMinor == 50000
	})).Return("https://checkout.example.com/pay", nil).Once()

	w, env := s.do(http.MethodPost, "/api/v1/purchases", tok, gin.H{"mode": "package", "package_id": "starter"}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var purchase models.PointPurchase
	require.NoError(t, json.Unmarshal(env.Data, &purchase))
	assert.Equal(t, "https://checkout.example.com/pay", purchase.CheckoutLink)

	s.gw.On("VerifyCharge", mock.Anything, purchase.Reference).Return(&services.ChargeVerification{
		Status:          services.ChargeStatusSuccess,
		AmountPaidMinor: 50000,
		Currency:        "NGN",
		ExternalRef:     "FLW-CHG-1",
	}, nil).Once()

	w, env = s.do(http.MethodPost, "/api/v1/purchases/verify", tok, gin.H{"reference": purchase.Reference}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Payment verified, points credited", env.Message)
	assert.Equal(t, int64(500), s.balance(tok))

	w, env = s.do(http.MethodPost, "/api/v1/purchases/verify", tok, gin.H{"reference": purchase.Reference}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Payment already processed", env.Message)
	assert.Equal(t, int64(500), s.balance(tok))
	s.gw.AssertExpectations(t)

	w, _ = s.do(http.MethodGet, "/api/v1/purchases/packages", tok, nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestFlutterwaveWebhookSignature(t *testing.T) {
	s := newTestServer(t)
	event := gin.H{"event": "charge.completed", "data": gin.H{"tx_ref": "PUR-UNKNOWN"}}

	w, _ := s.do(http.MethodPost, "/webhooks/flutterwave", "", event, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = s.do(http.MethodPost, "/webhooks/flutterwave", "", event, map[string]string{"verif-hash": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// unknown purchases are acknowledged so the provider stops redelivering
	w, _ = s.do(http.MethodPost, "/webhooks/flutterwave", "", event, map[string]string{"verif-hash": webhookHash})
	assert.Equal(t, http.StatusOK, w.Code)

	w, env := s.do(http.MethodPost, "/webhooks/flutterwave", "", gin.H{"event": "subscription.cancelled"},
		map[string]string{"verif-hash": webhookHash})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"handled":false`)
}

package services

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"points-service/internal/config"
	"points-service/internal/metrics"
	"points-service/internal/models"
	"points-service/pkg/common"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const providerFlutterwave = "flutterwave"

// FlutterwaveService implements ValueGateway against the Flutterwave v3 API.
// Every exchange is kept in gateway_logs.
type FlutterwaveService struct {
	DB     *gorm.DB
	Config config.FlutterwaveConfig
	client *common.HTTPClient
}

func NewFlutterwaveService(db *gorm.DB, cfg config.FlutterwaveConfig) *FlutterwaveService {
	return &FlutterwaveService{
		DB:     db,
		Config: cfg,
		client: common.NewHTTPClient(cfg.Timeout),
	}
}

func (s *FlutterwaveService) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + s.Config.SecretKey}
}

func (s *FlutterwaveService) logCallback(operation, reference string, request interface{}, res *common.HTTPResult, callErr error) {
	reqBytes, _ := json.Marshal(request)
	entry := models.GatewayLog{
		Provider:  providerFlutterwave,
		Operation: operation,
		Reference: reference,
		Request:   string(reqBytes),
	}
	if res != nil {
		entry.Response = res.Raw
		entry.HTTPStatus = res.StatusCode
		entry.Success = callErr == nil
	}
	if callErr != nil && res == nil {
		entry.Response = callErr.Error()
	}
	if err := s.DB.Create(&entry).Error; err != nil {
		log.WithError(err).WithField("reference", reference).Warn("failed to write gateway log")
	}
}

// call performs one request and turns a non-success envelope into a *GatewayError.
func (s *FlutterwaveService) call(ctx context.Context, operation, method, path, reference string, payload interface{}) (map[string]interface{}, error) {
	start := time.Now()
	endpoint := s.Config.BaseURL + path

	var (
		res *common.HTTPResult
		err error
	)
	if method == "GET" {
		res, err = s.client.Get(ctx, endpoint, s.headers())
	} else {
		res, err = s.client.Post(ctx, endpoint, payload, s.headers())
	}
	metrics.GatewayLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())

	if err == nil {
		err = checkEnvelope(res)
	}
	s.logCallback(operation, reference, payload, res, err)
	if err != nil {
		return nil, err
	}

	data, _ := res.Body["data"].(map[string]interface{})
	if data == nil {
		data = map[string]interface{}{}
	}
	return data, nil
}

func checkEnvelope(res *common.HTTPResult) error {
	message := "unexpected response"
	if res.Body != nil {
		if m, ok := res.Body["message"].(string); ok && m != "" {
			message = m
		}
	}
	if res.StatusCode >= 300 {
		return &GatewayError{StatusCode: res.StatusCode, Message: message}
	}
	if res.Body == nil {
		// a 2xx we cannot parse is treated like a provider fault: the action may have happened
		return &GatewayError{StatusCode: 502, Message: "unparseable response"}
	}
	if status, _ := res.Body["status"].(string); status != "success" {
		return &GatewayError{StatusCode: 400, Message: message}
	}
	return nil
}

// toNaira converts kobo to the major-unit number the API expects.
func toNaira(amountMinor int64) float64 {
	return decimal.New(amountMinor, -2).InexactFloat64()
}

func stringField(data map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		switch v := data[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return decimal.NewFromFloat(v).String()
		}
	}
	return ""
}

func (s *FlutterwaveService) PurchaseAirtime(ctx context.Context, phone string, amountMinor int64, reference string) (string, error) {
	payload := map[string]interface{}{
		"country":    s.Config.Country,
		"customer":   phone,
		"amount":     toNaira(amountMinor),
		"recurrence": "ONCE",
		"type":       "AIRTIME",
		"reference":  reference,
	}
	data, err := s.call(ctx, "purchase_airtime", "POST", "/v3/bills", reference, payload)
	if err != nil {
		return "", err
	}
	return stringField(data, "flw_ref", "tx_ref", "reference"), nil
}

func (s *FlutterwaveService) PurchaseData(ctx context.Context, phone string, amountMinor int64, reference, billerCode, itemCode string) (string, error) {
	payload := map[string]interface{}{
		"country":     s.Config.Country,
		"customer_id": phone,
		"amount":      toNaira(amountMinor),
		"reference":   reference,
	}
	path := fmt.Sprintf("/v3/billers/%s/items/%s/payment", url.PathEscape(billerCode), url.PathEscape(itemCode))
	if itemCode == "" {
		// bundles without an item code go through the generic bills endpoint
		path = "/v3/bills"
		payload["customer"] = phone
		payload["type"] = "DATA_BUNDLE"
		payload["biller_name"] = billerCode
		payload["recurrence"] = "ONCE"
	}
	data, err := s.call(ctx, "purchase_data", "POST", path, reference, payload)
	if err != nil {
		return "", err
	}
	return stringField(data, "flw_ref", "tx_ref", "reference"), nil
}

func (s *FlutterwaveService) VerifyBankAccount(ctx context.Context, accountNumber, bankCode string) (string, error) {
	payload := map[string]interface{}{
		"account_number": accountNumber,
		"account_bank":   bankCode,
	}
	data, err := s.call(ctx, "resolve_account", "POST", "/v3/accounts/resolve", accountNumber, payload)
	if err != nil {
		return "", err
	}
	name := stringField(data, "account_name")
	if name == "" {
		return "", &GatewayError{StatusCode: 422, Message: "account could not be resolved"}
	}
	return name, nil
}

func (s *FlutterwaveService) InitiateBankTransfer(ctx context.Context, req BankTransferRequest) (*BankTransferResult, error) {
	narration := req.Narration
	if narration == "" {
		narration = "Points redemption payout"
	}
	payload := map[string]interface{}{
		"account_bank":     req.BankCode,
		"account_number":   req.AccountNumber,
		"amount":           toNaira(req.AmountMinor),
		"narration":        narration,
		"currency":         s.Config.Currency,
		"reference":        req.Reference,
		"beneficiary_name": req.BeneficiaryName,
	}
	data, err := s.call(ctx, "initiate_transfer", "POST", "/v3/transfers", req.Reference, payload)
	if err != nil {
		return nil, err
	}
	return &BankTransferResult{
		TransferID: stringField(data, "id", "reference"),
		Status:     stringField(data, "status"),
	}, nil
}

func (s *FlutterwaveService) VerifyCharge(ctx context.Context, reference string) (*ChargeVerification, error) {
	path := "/v3/transactions/verify_by_reference?tx_ref=" + url.QueryEscape(reference)
	data, err := s.call(ctx, "verify_charge", "GET", path, reference, nil)
	if err != nil {
		return nil, err
	}

	result := &ChargeVerification{
		Currency:    stringField(data, "currency"),
		ExternalRef: stringField(data, "flw_ref", "id"),
	}
	if amount, ok := data["amount"].(float64); ok {
		result.AmountPaidMinor = decimal.NewFromFloat(amount).Shift(2).Round(0).IntPart()
	}
	switch stringField(data, "status") {
	case "successful", "success":
		result.Status = ChargeStatusSuccess
	case "pending", "":
		result.Status = ChargeStatusPending
	default:
		result.Status = ChargeStatusFailed
	}
	return result, nil
}

func (s *FlutterwaveService) CreatePaymentLink(ctx context.Context, req PaymentLinkRequest) (string, error) {
	payload := map[string]interface{}{
		"tx_ref":       req.Reference,
		"amount":       toNaira(req.AmountMinor),
		"currency":     s.Config.Currency,
		"redirect_url": s.Config.RedirectURL,
		"customer": map[string]interface{}{
			"email":       req.Email,
			"phonenumber": req.Phone,
			"name":        req.Name,
		},
		"customizations": map[string]interface{}{
			"title": req.Title,
		},
	}
	data, err := s.call(ctx, "create_payment_link", "POST", "/v3/payments", req.Reference, payload)
	if err != nil {
		return "", err
	}
	link := stringField(data, "link")
	if link == "" {
		return "", &GatewayError{StatusCode: 502, Message: "no checkout link returned"}
	}
	return link, nil
}

// VerifyWebhook checks the verif-hash header against the configured secret hash.
func (s *FlutterwaveService) VerifyWebhook(signature string) bool {
	if s.Config.WebhookHash == "" || signature == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(signature), []byte(s.Config.WebhookHash)) == 1
}

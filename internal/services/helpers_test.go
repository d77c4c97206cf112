package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"points-service/internal/config"
	"points-service/internal/database"
	"points-service/internal/models"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Connect(config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    "file:" + t.Name() + "?mode=memory&cache=shared",
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	t.Cleanup(func() {
		sqlDB, err := db.DB()
		if err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func testPointsConfig() config.PointsConfig {
	return config.PointsConfig{
		NairaPerPoint:         decimal.NewFromInt(1),
		PurchaseNairaPerPoint: decimal.NewFromInt(1),
		Airtime:               config.ProductLimit{MinPoints: 100, MaxPoints: 10000},
		Data:                  config.ProductLimit{MinPoints: 100, MaxPoints: 20000},
		Cash:                  config.ProductLimit{MinPoints: 1000, MaxPoints: 100000},
		Packages:              config.ParsePackages("starter:500:500,plus:5000:4750"),
		CustomMinPoints:       100,
		CustomMaxPoints:       1000000,
		AmountTolerance:       decimal.NewFromFloat(0.01),
		PendingPurchaseTTL:    24 * time.Hour,
		StaleRedemptionAfter:  15 * time.Minute,
	}
}

// seedMember creates a member and credits an opening balance through the ledger.
func seedMember(t *testing.T, db *gorm.DB, status string, balance int64) *models.Member {
	t.Helper()
	member := &models.Member{Username: "member", Email: "member@example.com", Phone: "08031234567", Status: status}
	require.NoError(t, db.Create(member).Error)

	if balance > 0 {
		ledger := NewLedgerService(db)
		err := db.Transaction(func(tx *gorm.DB) error {
			_, err := ledger.AddPoints(tx, PointMovementDTO{
				MemberID:        member.ID,
				Amount:          balance,
				TransactionType: models.TxTypeEarn,
				Source:          models.SourceSystem,
				Description:     "opening balance",
			})
			return err
		})
		require.NoError(t, err)
	}
	return member
}

func balanceOf(t *testing.T, db *gorm.DB, memberID uint) int64 {
	t.Helper()
	balance, err := NewLedgerService(db).GetBalance(context.Background(), memberID)
	require.NoError(t, err)
	return balance
}

// fakeGateway is a scriptable ValueGateway. Unset hooks succeed.
type fakeGateway struct {
	mu    sync.Mutex
	calls map[string]int

	airtime   func(ctx context.Context, phone string, amountMinor int64, reference string) (string, error)
	data      func(ctx context.Context, phone string, amountMinor int64, reference, billerCode, itemCode string) (string, error)
	resolve   func(ctx context.Context, accountNumber, bankCode string) (string, error)
	transfer  func(ctx context.Context, req BankTransferRequest) (*BankTransferResult, error)
	verify    func(ctx context.Context, reference string) (*ChargeVerification, error)
	checkout  func(ctx context.Context, req PaymentLinkRequest) (string, error)
	lastTrans BankTransferRequest
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{calls: map[string]int{}}
}

func (g *fakeGateway) record(op string) {
	g.mu.Lock()
	g.calls[op]++
	g.mu.Unlock()
}

func (g *fakeGateway) count(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[op]
}

func (g *fakeGateway) PurchaseAirtime(ctx context.Context, phone string, amountMinor int64, reference string) (string, error) {
	g.record("airtime")
	if g.airtime != nil {
		return g.airtime(ctx, phone, amountMinor, reference)
	}
	return "FLW-AIR-" + reference, nil
}

func (g *fakeGateway) PurchaseData(ctx context.Context, phone string, amountMinor int64, reference, billerCode, itemCode string) (string, error) {
	g.record("data")
	if g.data != nil {
		return g.data(ctx, phone, amountMinor, reference, billerCode, itemCode)
	}
	return "FLW-DATA-" + reference, nil
}

func (g *fakeGateway) VerifyBankAccount(ctx context.Context, accountNumber, bankCode string) (string, error) {
	g.record("resolve")
	if g.resolve != nil {
		return g.resolve(ctx, accountNumber, bankCode)
	}
	return "ADA OKAFOR", nil
}

func (g *fakeGateway) InitiateBankTransfer(ctx context.Context, req BankTransferRequest) (*BankTransferResult, error) {
	g.record("transfer")
	g.mu.Lock()
	g.lastTrans = req
	g.mu.Unlock()
	if g.transfer != nil {
		return g.transfer(ctx, req)
	}
	return &BankTransferResult{TransferID: "4242", Status: "NEW"}, nil
}

func (g *fakeGateway) VerifyCharge(ctx context.Context, reference string) (*ChargeVerification, error) {
	g.record("verify")
	if g.verify != nil {
		return g.verify(ctx, reference)
	}
	return &ChargeVerification{Status: ChargeStatusPending}, nil
}

func (g *fakeGateway) CreatePaymentLink(ctx context.Context, req PaymentLinkRequest) (string, error) {
	g.record("checkout")
	if g.checkout != nil {
		return g.checkout(ctx, req)
	}
	return "https://checkout.example.com/pay/" + req.Reference, nil
}

// fakeQueue records enqueued tasks.
type fakeQueue struct {
	mu    sync.Mutex
	tasks []*asynq.Task
	err   error
}

func (q *fakeQueue) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return nil, q.err
	}
	q.tasks = append(q.tasks, task)
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

func (q *fakeQueue) types() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.tasks))
	for _, t := range q.tasks {
		out = append(out, t.Type())
	}
	return out
}

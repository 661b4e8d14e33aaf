package biz_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"sms-service/internal/biz"
	"sms-service/internal/conf"
	"sms-service/internal/data"
	smsErrors "sms-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const testSecret = "whsec_test"

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordedEvent struct {
	UserID string
	Event  string
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (n *recordingNotifier) Publish(_ context.Context, userID, event string, _ interface{}) {
	n.mu.Lock()
	n.events = append(n.events, recordedEvent{UserID: userID, Event: event})
	n.mu.Unlock()
}

func (n *recordingNotifier) Count(event string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.events {
		if e.Event == event {
			c++
		}
	}
	return c
}

// fakeProvider 内存供应商，同一幂等 key 返回同一号码
type fakeProvider struct {
	mu    sync.Mutex
	clock *testClock
	seq   int
	calls map[string]int

	purchased map[string]*biz.ProviderPurchaseReply
	rented    map[string]*biz.ProviderRentReply
	status    map[string]*biz.ProviderStatusReply
	rentState map[string]*biz.ProviderRentStatusReply

	purchaseErr error
	// 在取得 mu 之前执行，模拟供应商调用期间的并发事件
	beforeExtend        func()
	beforeSetRentStatus func()
}

func newFakeProvider(clock *testClock) *fakeProvider {
	return &fakeProvider{
		clock:     clock,
		calls:     make(map[string]int),
		purchased: make(map[string]*biz.ProviderPurchaseReply),
		rented:    make(map[string]*biz.ProviderRentReply),
		status:    make(map[string]*biz.ProviderStatusReply),
		rentState: make(map[string]*biz.ProviderRentStatusReply),
	}
}

func (p *fakeProvider) Calls(method string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[method]
}

func (p *fakeProvider) SetStatus(externalID string, state biz.ProviderState, code string) {
	p.mu.Lock()
	p.status[externalID] = &biz.ProviderStatusReply{State: state, Code: code}
	p.mu.Unlock()
}

func (p *fakeProvider) SetRentStatus(externalID string, reply *biz.ProviderRentStatusReply) {
	p.mu.Lock()
	p.rentState[externalID] = reply
	p.mu.Unlock()
}

func (p *fakeProvider) PurchaseActivation(_ context.Context, req *biz.ProviderPurchaseRequest) (*biz.ProviderPurchaseReply, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["PurchaseActivation"]++
	if p.purchaseErr != nil {
		return nil, p.purchaseErr
	}
	if r, ok := p.purchased[req.IdempotencyKey]; ok {
		return r, nil
	}
	p.seq++
	r := &biz.ProviderPurchaseReply{
		ExternalID:  fmt.Sprintf("act-%d", p.seq),
		PhoneNumber: fmt.Sprintf("+7999000%04d", p.seq),
		Cost:        decimal.RequireFromString("0.20"),
	}
	p.purchased[req.IdempotencyKey] = r
	p.status[r.ExternalID] = &biz.ProviderStatusReply{State: biz.ProviderWaiting}
	return r, nil
}

func (p *fakeProvider) CheckActivationStatus(_ context.Context, externalID string) (*biz.ProviderStatusReply, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["CheckActivationStatus"]++
	r, ok := p.status[externalID]
	if !ok {
		return nil, smsErrors.ErrProviderRejected("NO_ACTIVATION")
	}
	return r, nil
}

func (p *fakeProvider) setActivation(method, externalID string, state biz.ProviderState) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[method]++
	if _, ok := p.status[externalID]; !ok {
		return smsErrors.ErrProviderRejected("NO_ACTIVATION")
	}
	p.status[externalID] = &biz.ProviderStatusReply{State: state}
	return nil
}

func (p *fakeProvider) CancelActivation(_ context.Context, externalID string) error {
	return p.setActivation("CancelActivation", externalID, biz.ProviderCancelled)
}

func (p *fakeProvider) ConfirmActivation(_ context.Context, externalID string) error {
	return p.setActivation("ConfirmActivation", externalID, biz.ProviderFinished)
}

func (p *fakeProvider) RequestRetry(_ context.Context, externalID string) error {
	return p.setActivation("RequestRetry", externalID, biz.ProviderWaitingRetry)
}

func (p *fakeProvider) RentNumber(_ context.Context, req *biz.ProviderRentRequest) (*biz.ProviderRentReply, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["RentNumber"]++
	if r, ok := p.rented[req.IdempotencyKey]; ok {
		return r, nil
	}
	p.seq++
	r := &biz.ProviderRentReply{
		ExternalID:  fmt.Sprintf("rent-%d", p.seq),
		PhoneNumber: fmt.Sprintf("+4470000%04d", p.seq),
		EndDate:     p.clock.Now().Add(time.Duration(req.Hours) * time.Hour),
	}
	p.rented[req.IdempotencyKey] = r
	p.rentState[r.ExternalID] = &biz.ProviderRentStatusReply{State: biz.ProviderActive}
	return r, nil
}

func (p *fakeProvider) CheckRentalStatus(_ context.Context, externalID string) (*biz.ProviderRentStatusReply, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["CheckRentalStatus"]++
	r, ok := p.rentState[externalID]
	if !ok {
		return nil, smsErrors.ErrProviderRejected("NO_ID_RENT")
	}
	return r, nil
}

func (p *fakeProvider) ExtendRental(_ context.Context, externalID string, hours int32) (*biz.ProviderRentReply, error) {
	if p.beforeExtend != nil {
		p.beforeExtend()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["ExtendRental"]++
	for _, r := range p.rented {
		if r.ExternalID == externalID {
			r.EndDate = r.EndDate.Add(time.Duration(hours) * time.Hour)
			return &biz.ProviderRentReply{ExternalID: externalID, PhoneNumber: r.PhoneNumber, EndDate: r.EndDate}, nil
		}
	}
	return nil, smsErrors.ErrProviderRejected("NO_ID_RENT")
}

func (p *fakeProvider) SetRentalStatus(_ context.Context, externalID string, action biz.RentAction) error {
	if p.beforeSetRentStatus != nil {
		p.beforeSetRentStatus()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["SetRentalStatus"]++
	state := biz.ProviderFinished
	if action == biz.RentActionCancel {
		state = biz.ProviderCancelled
	}
	p.rentState[externalID] = &biz.ProviderRentStatusReply{State: state}
	return nil
}

// mockProvider testify mock，用于注入失败
type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) PurchaseActivation(ctx context.Context, req *biz.ProviderPurchaseRequest) (*biz.ProviderPurchaseReply, error) {
	args := m.Called(ctx, req)
	if r, ok := args.Get(0).(*biz.ProviderPurchaseReply); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockProvider) CheckActivationStatus(ctx context.Context, externalID string) (*biz.ProviderStatusReply, error) {
	args := m.Called(ctx, externalID)
	if r, ok := args.Get(0).(*biz.ProviderStatusReply); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockProvider) CancelActivation(ctx context.Context, externalID string) error {
	return m.Called(ctx, externalID).Error(0)
}

func (m *mockProvider) ConfirmActivation(ctx context.Context, externalID string) error {
	return m.Called(ctx, externalID).Error(0)
}

func (m *mockProvider) RequestRetry(ctx context.Context, externalID string) error {
	return m.Called(ctx, externalID).Error(0)
}

func (m *mockProvider) RentNumber(ctx context.Context, req *biz.ProviderRentRequest) (*biz.ProviderRentReply, error) {
	args := m.Called(ctx, req)
	if r, ok := args.Get(0).(*biz.ProviderRentReply); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockProvider) CheckRentalStatus(ctx context.Context, externalID string) (*biz.ProviderRentStatusReply, error) {
	args := m.Called(ctx, externalID)
	if r, ok := args.Get(0).(*biz.ProviderRentStatusReply); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockProvider) ExtendRental(ctx context.Context, externalID string, hours int32) (*biz.ProviderRentReply, error) {
	args := m.Called(ctx, externalID, hours)
	if r, ok := args.Get(0).(*biz.ProviderRentReply); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockProvider) SetRentalStatus(ctx context.Context, externalID string, action biz.RentAction) error {
	return m.Called(ctx, externalID, action).Error(0)
}

type testEnv struct {
	clock    *testClock
	provider biz.ProviderClient
	fake     *fakeProvider
	notifier *recordingNotifier

	ledgerRepo biz.LedgerRepo
	actRepo    biz.ActivationRepo
	rentRepo   biz.RentalRepo

	ledger      *biz.LedgerUseCase
	activations *biz.ActivationUseCase
	rentals     *biz.RentalUseCase
	webhook     *biz.WebhookUseCase
	reconciler  *biz.Reconciler
	sleeps      int

	tm      biz.Transaction
	locker  biz.Locker
	pricing *biz.PricingConfig
	now     biz.Clock
	logger  log.Logger
}

func newTestEnv(t *testing.T) *testEnv {
	clock := &testClock{now: testStart}
	fake := newFakeProvider(clock)
	env := newTestEnvWith(t, clock, fake)
	env.fake = fake
	return env
}

func newTestEnvWith(t *testing.T, clock *testClock, provider biz.ProviderClient) *testEnv {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()) + "_" + uuid.NewString()[:8]
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// 单连接串行化事务，嵌套调用必须复用 ctx 中的事务
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, data.Migrate(db))

	c := &conf.Bootstrap{
		Pricing: &conf.Pricing{
			Activations:   map[string]float64{"tg": 0.5, "wa": 0.8},
			RentalsHourly: map[string]float64{"tg": 0.25},
		},
		Poller: &conf.Poller{
			BatchSize:     100,
			ProviderDelay: conf.NewDuration(0),
		},
		Webhook: &conf.Webhook{Secret: testSecret},
	}
	logger := log.NewFilter(log.DefaultLogger, log.FilterLevel(log.LevelError))

	d, cleanup, err := data.NewData(c, logger, db, nil, nil)
	require.NoError(t, err)
	t.Cleanup(cleanup)

	env := &testEnv{
		clock:      clock,
		provider:   provider,
		notifier:   &recordingNotifier{},
		ledgerRepo: data.NewLedgerRepo(d, logger),
		actRepo:    data.NewActivationRepo(d, logger),
		rentRepo:   data.NewRentalRepo(d, logger),
	}
	tm := data.NewTransaction(d)
	locker := data.NewLocker(nil, logger)
	pricing := biz.NewPricingConfig(c)
	now := biz.Clock(clock.Now)
	env.tm, env.locker, env.pricing, env.now, env.logger = tm, locker, pricing, now, logger

	env.ledger = biz.NewLedgerUseCase(env.ledgerRepo, tm, env.notifier, logger)
	env.activations = biz.NewActivationUseCase(env.actRepo, env.ledgerRepo, tm, provider, pricing, locker, env.notifier, now, logger)
	env.rentals = biz.NewRentalUseCase(env.rentRepo, env.ledgerRepo, tm, provider, pricing, locker, env.notifier, now, logger)
	env.webhook = biz.NewWebhookUseCase(c, env.activations, env.rentals, env.actRepo, env.rentRepo, logger)
	env.reconciler = biz.NewReconciler(c, env.activations, env.rentals, env.actRepo, env.rentRepo, now, logger)
	env.reconciler.SetSleep(func(context.Context, time.Duration) { env.sleeps++ })
	return env
}

func (e *testEnv) fund(t *testing.T, userID, amount string) {
	t.Helper()
	_, err := e.ledger.Recharge(context.Background(), userID, decimal.RequireFromString(amount), "")
	require.NoError(t, err)
}

func (e *testEnv) balance(t *testing.T, userID string) string {
	t.Helper()
	u, err := e.ledgerRepo.GetUser(context.Background(), userID)
	require.NoError(t, err)
	require.NotNil(t, u)
	return u.Balance.StringFixed(2)
}

func (e *testEnv) entries(t *testing.T, userID string, typ biz.EntryType) []*biz.LedgerEntry {
	t.Helper()
	list, _, err := e.ledgerRepo.ListEntries(context.Background(), userID, 1, 100)
	require.NoError(t, err)
	var out []*biz.LedgerEntry
	for _, en := range list {
		if en.Type == typ {
			out = append(out, en)
		}
	}
	return out
}

func (e *testEnv) purchase(t *testing.T, userID, token string) *biz.Activation {
	t.Helper()
	a, err := e.activations.Purchase(context.Background(), &biz.PurchaseActivationRequest{
		UserID:     userID,
		Service:    "tg",
		Country:    "ru",
		OrderToken: token,
	})
	require.NoError(t, err)
	return a
}

func (e *testEnv) rent(t *testing.T, userID, token string, hours int32) *biz.Rental {
	t.Helper()
	r, err := e.rentals.Rent(context.Background(), &biz.RentNumberRequest{
		UserID:        userID,
		Service:       "tg",
		Country:       "ru",
		DurationHours: hours,
		OrderToken:    token,
	})
	require.NoError(t, err)
	return r
}

func (e *testEnv) deliver(t *testing.T, body string) (*biz.WebhookResult, error) {
	t.Helper()
	return e.webhook.Handle(context.Background(), []byte(body), biz.Sign([]byte(testSecret), []byte(body)), "127.0.0.1:9000")
}

package biz_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"sms-service/internal/biz"
	"sms-service/internal/constants"
	smsErrors "sms-service/internal/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestWebhook_CodeThenCompleteThenReplay(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "u1", "10.00")
	a := env.purchase(t, "u1", "tok-d")

	res, err := env.deliver(t, fmt.Sprintf(`{"id":%q,"status":"STATUS_OK","code":"70707"}`, a.ExternalID))
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, constants.OrderKindActivation, res.OrderKind)

	_, err = env.deliver(t, fmt.Sprintf(`{"id":%q,"status":8}`, a.ExternalID))
	require.NoError(t, err)
	got, err := env.activations.Get(context.Background(), "u1", a.ID)
	require.NoError(t, err)
	assert.Equal(t, biz.ActivationCompleted, got.Status)
	assert.Equal(t, "70707", got.Code)

	for _, status := range []string{"8", "6", "STATUS_CANCEL"} {
		res, err = env.deliver(t, fmt.Sprintf(`{"id":%q,"status":%q}`, a.ExternalID, status))
		require.NoError(t, err)
		assert.False(t, res.Changed)
	}
	got, err = env.activations.Get(context.Background(), "u1", a.ID)
	require.NoError(t, err)
	assert.Equal(t, biz.ActivationCompleted, got.Status)
	assert.Empty(t, env.entries(t, "u1", biz.EntryRefund))
	assert.Equal(t, "9.50", env.balance(t, "u1"))
}

func TestWebhook_BadSignatureChangesNothing(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "u1", "10.00")
	a := env.purchase(t, "u1", "tok-1")
	body := []byte(fmt.Sprintf(`{"id":%q,"status":"STATUS_CANCEL"}`, a.ExternalID))

	_, err := env.webhook.Handle(context.Background(), body, biz.Sign([]byte("wrong"), body), "203.0.113.9:443")

	assert.True(t, smsErrors.IsReason(err, smsErrors.ReasonInvalidSignature))
	got, err := env.activations.Get(context.Background(), "u1", a.ID)
	require.NoError(t, err)
	assert.Equal(t, biz.ActivationWaitSMS, got.Status)
	assert.Equal(t, "9.50", env.balance(t, "u1"))
}

func TestWebhook_UnknownOrder(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.deliver(t, `{"id":"does-not-exist","status":"STATUS_OK","code":"1"}`)

	assert.True(t, smsErrors.IsReason(err, smsErrors.ReasonOrderNotFound))
}

func TestWebhook_RentalMessagesAndCancel(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "u1", "10.00")
	r := env.rent(t, "u1", "rent-1", 4)
	body := fmt.Sprintf(`{"id":%q,"status":"STATUS_ACTIVE","endDate":"2026-03-01 20:00:00","messages":[{"phoneFrom":"WhatsApp","text":"123-456","date":"2026-03-01 12:01:00"}]}`, r.ExternalID)

	res, err := env.deliver(t, body)
	require.NoError(t, err)
	assert.Equal(t, constants.OrderKindRental, res.OrderKind)
	_, err = env.deliver(t, body)
	require.NoError(t, err)

	got, err := env.rentals.Get(context.Background(), "u1", r.ID)
	require.NoError(t, err)
	assert.Len(t, got.Messages, 1)
	assert.True(t, time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC).Equal(got.ExpiresAt))

	env.clock.Advance(10 * time.Minute)
	res, err = env.deliver(t, fmt.Sprintf(`{"id":%q,"status":"STATUS_CANCEL"}`, r.ExternalID))
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, "9.80", env.balance(t, "u1"))
}

func TestWebhookAndPollerRace_SingleRefund(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "u1", "10.00")
	a := env.purchase(t, "u1", "tok-1")
	env.fake.SetStatus(a.ExternalID, biz.ProviderCancelled, "")
	body := fmt.Sprintf(`{"id":%q,"status":"STATUS_CANCEL"}`, a.ExternalID)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = env.webhook.Handle(context.Background(), []byte(body), biz.Sign([]byte(testSecret), []byte(body)), "")
		}()
		go func() {
			defer wg.Done()
			_, _ = env.activations.Sync(context.Background(), a, constants.SourcePoller)
		}()
	}
	wg.Wait()

	assert.Len(t, env.entries(t, "u1", biz.EntryRefund), 1)
	assert.Equal(t, "10.00", env.balance(t, "u1"))
	ok, err := env.ledger.Audit(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReconcilerTick(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "u1", "10.00")
	waiting := env.purchase(t, "u1", "tok-1")
	coded := env.purchase(t, "u1", "tok-2")
	rental := env.rent(t, "u1", "rent-1", 1)
	env.fake.SetStatus(coded.ExternalID, biz.ProviderCodeReceived, "5150")

	report := env.reconciler.Tick(context.Background())

	assert.False(t, report.Skipped)
	assert.Equal(t, 3, report.Checked)
	assert.Equal(t, 1, report.Transitioned)
	assert.Zero(t, report.Failed)
	assert.Equal(t, 2, env.sleeps)

	got, err := env.activations.Get(context.Background(), "u1", coded.ID)
	require.NoError(t, err)
	assert.Equal(t, biz.ActivationReceived, got.Status)
	assert.Equal(t, int32(1), got.CheckCount)
	require.NotNil(t, got.LastCheckAt)

	// 到期后本地过期，不再调用供应商
	calls := env.fake.Calls("CheckActivationStatus") + env.fake.Calls("CheckRentalStatus")
	env.clock.Advance(time.Hour)
	report = env.reconciler.Tick(context.Background())
	assert.Equal(t, 3, report.Expired)
	assert.Equal(t, calls, env.fake.Calls("CheckActivationStatus")+env.fake.Calls("CheckRentalStatus"))

	w, err := env.activations.Get(context.Background(), "u1", waiting.ID)
	require.NoError(t, err)
	assert.Equal(t, biz.ActivationCancelled, w.Status)
	c, err := env.activations.Get(context.Background(), "u1", coded.ID)
	require.NoError(t, err)
	assert.Equal(t, biz.ActivationCompleted, c.Status)
	r, err := env.rentals.Get(context.Background(), "u1", rental.ID)
	require.NoError(t, err)
	assert.Equal(t, biz.RentalExpired, r.Status)

	// 只有仍在等待的激活单退款
	assert.Len(t, env.entries(t, "u1", biz.EntryRefund), 1)
	assert.Equal(t, "9.25", env.balance(t, "u1"))

	report = env.reconciler.Tick(context.Background())
	assert.Zero(t, report.Checked)
}

func TestReconcilerTick_ExpiryBoundary(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "u1", "10.00")
	a := env.purchase(t, "u1", "tok-1")

	env.clock.Advance(constants.ActivationWindow - time.Millisecond)
	report := env.reconciler.Tick(context.Background())
	assert.Zero(t, report.Expired)
	got, err := env.activations.Get(context.Background(), "u1", a.ID)
	require.NoError(t, err)
	assert.Equal(t, biz.ActivationWaitSMS, got.Status)

	env.clock.Advance(time.Millisecond)
	report = env.reconciler.Tick(context.Background())
	assert.Equal(t, 1, report.Expired)
	assert.Equal(t, "10.00", env.balance(t, "u1"))
}

func TestReconcilerTick_IsolatesProviderFailures(t *testing.T) {
	clock := &testClock{now: testStart}
	p := new(mockProvider)
	env := newTestEnvWith(t, clock, p)
	env.fund(t, "u1", "10.00")

	for i, ext := range []string{"ext-1", "ext-2", "ext-3"} {
		token := fmt.Sprintf("tok-%d", i+1)
		p.On("PurchaseActivation", mock.Anything, mock.MatchedBy(func(req *biz.ProviderPurchaseRequest) bool {
			return req.IdempotencyKey == token
		})).Return(&biz.ProviderPurchaseReply{ExternalID: ext, PhoneNumber: "+1555000" + ext, Cost: decimal.Zero}, nil).Once()
		env.purchase(t, "u1", token)
		clock.Advance(time.Second)
	}
	p.On("CheckActivationStatus", mock.Anything, "ext-1").Return(nil, smsErrors.ErrProviderUnavailable(fmt.Errorf("timeout"))).Once()
	p.On("CheckActivationStatus", mock.Anything, "ext-2").Return(&biz.ProviderStatusReply{State: biz.ProviderCodeReceived, Code: "4321"}, nil).Once()
	p.On("CheckActivationStatus", mock.Anything, "ext-3").Return(nil, smsErrors.ErrProviderRejected("NO_ACTIVATION")).Once()

	report := env.reconciler.Tick(context.Background())

	assert.Equal(t, 3, report.Checked)
	assert.Equal(t, 2, report.Failed)
	assert.Equal(t, 1, report.Transitioned)
	p.AssertExpectations(t)

	got, err := env.actRepo.GetByExternalID(context.Background(), "ext-2")
	require.NoError(t, err)
	assert.Equal(t, biz.ActivationReceived, got.Status)
	failed, err := env.actRepo.GetByExternalID(context.Background(), "ext-1")
	require.NoError(t, err)
	assert.Equal(t, biz.ActivationWaitSMS, failed.Status)
	assert.Equal(t, "8.50", env.balance(t, "u1"))
}

func TestReconcilerTick_SkipsWhileRunning(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "u1", "10.00")
	env.purchase(t, "u1", "tok-1")
	env.purchase(t, "u1", "tok-2")

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	env.reconciler.SetSleep(func(ctx context.Context, d time.Duration) {
		once.Do(func() { close(entered) })
		<-release
	})

	done := make(chan *biz.TickReport)
	go func() { done <- env.reconciler.Tick(context.Background()) }()
	<-entered

	skipped := env.reconciler.Tick(context.Background())
	assert.True(t, skipped.Skipped)
	assert.Zero(t, skipped.Checked)

	close(release)
	first := <-done
	assert.False(t, first.Skipped)
	assert.Equal(t, 2, first.Checked)
}

func TestReconcilerTick_StopsOnCancel(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "u1", "10.00")
	env.purchase(t, "u1", "tok-1")
	env.purchase(t, "u1", "tok-2")

	ctx, cancel := context.WithCancel(context.Background())
	env.reconciler.SetSleep(func(context.Context, time.Duration) { cancel() })

	report := env.reconciler.Tick(ctx)

	assert.Equal(t, 1, report.Checked)
	assert.Zero(t, report.Failed)
	assert.Equal(t, 1, env.fake.Calls("CheckActivationStatus"))
}

package biz

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"sms-service/internal/conf"
	smsErrors "sms-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWebhook(secret string) *WebhookUseCase {
	return NewWebhookUseCase(&conf.Bootstrap{Webhook: &conf.Webhook{Secret: secret}}, nil, nil, nil, nil, log.DefaultLogger)
}

func TestWebhookVerify(t *testing.T) {
	uc := newTestWebhook("s3cret")
	body := []byte(`{"id":"1001","status":"STATUS_OK","code":"4242"}`)
	sig := Sign([]byte("s3cret"), body)

	assert.True(t, uc.Verify(body, sig))
	assert.True(t, uc.Verify(body, "sha256="+sig))
	assert.False(t, uc.Verify(body, Sign([]byte("other"), body)))
	assert.False(t, uc.Verify([]byte(`{"id":"1002"}`), sig))
	assert.False(t, uc.Verify(body, ""))
	assert.False(t, uc.Verify(body, "not-hex"))
}

func TestWebhookVerify_EmptySecretRejectsAll(t *testing.T) {
	uc := newTestWebhook("")
	body := []byte(`{}`)

	assert.False(t, uc.Verify(body, Sign(nil, body)))
	assert.False(t, uc.Verify(body, Sign([]byte(""), body)))
}

func TestWebhookHandle_RejectsBeforeParsing(t *testing.T) {
	uc := newTestWebhook("s3cret")

	_, err := uc.Handle(context.Background(), []byte(`{"id":"1"}`), "deadbeef", "10.0.0.1:5000")
	assert.True(t, smsErrors.IsReason(err, smsErrors.ReasonInvalidSignature))

	body := []byte(`not json`)
	_, err = uc.Handle(context.Background(), body, Sign([]byte("s3cret"), body), "10.0.0.1:5000")
	assert.True(t, smsErrors.IsReason(err, smsErrors.ReasonInvalidPayload))

	body = []byte(`{"status":"STATUS_OK"}`)
	_, err = uc.Handle(context.Background(), body, Sign([]byte("s3cret"), body), "10.0.0.1:5000")
	assert.True(t, smsErrors.IsReason(err, smsErrors.ReasonInvalidPayload))
}

func TestWebhookHandle_UnknownStatusIgnored(t *testing.T) {
	uc := newTestWebhook("s3cret")
	body := []byte(`{"id":"1001","status":"STATUS_SOMETHING_NEW"}`)

	res, err := uc.Handle(context.Background(), body, Sign([]byte("s3cret"), body), "")
	require.NoError(t, err)
	assert.True(t, res.Ignored)
	assert.False(t, res.Changed)
}

func TestWebhookPayload_NumericStatus(t *testing.T) {
	var p WebhookPayload
	require.NoError(t, json.Unmarshal([]byte(`{"id":"7","status":3,"code":"555"}`), &p))
	assert.Equal(t, "3", string(p.Status))

	require.NoError(t, json.Unmarshal([]byte(`{"id":"7","status":"STATUS_OK"}`), &p))
	assert.Equal(t, "STATUS_OK", string(p.Status))

	assert.Error(t, json.Unmarshal([]byte(`{"id":"7","status":true}`), &p))
}

func TestWebhookPayload_RentalMessages(t *testing.T) {
	var p WebhookPayload
	require.NoError(t, json.Unmarshal([]byte(`{
		"id": "9",
		"status": "STATUS_ACTIVE",
		"endDate": "2026-01-02 10:00:00",
		"messages": [{"phoneFrom": "Telegram", "text": "code 777", "service": "tg", "date": "2026-01-01T10:05:00Z"}]
	}`), &p))

	msgs := p.rentalMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Telegram", msgs[0].From)
	assert.Equal(t, time.Date(2026, 1, 1, 10, 5, 0, 0, time.UTC), msgs[0].ReceivedAt)
}

func TestParseProviderTime(t *testing.T) {
	want := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	for _, s := range []string{"2026-01-02T10:00:00Z", "2026-01-02T13:00:00+03:00", "2026-01-02T10:00:00", "2026-01-02 10:00:00"} {
		got, ok := ParseProviderTime(s)
		assert.True(t, ok, s)
		assert.True(t, want.Equal(got), s)
	}

	_, ok := ParseProviderTime("")
	assert.False(t, ok)
	_, ok = ParseProviderTime("yesterday")
	assert.False(t, ok)
}

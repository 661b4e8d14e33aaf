package data

import (
	"context"
	"fmt"
	nethttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"sms-service/internal/biz"
	"sms-service/internal/conf"
	smsErrors "sms-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestProvider 按 action 分发的假供应商
func newTestProvider(t *testing.T, handler func(w nethttp.ResponseWriter, r *nethttp.Request)) biz.ProviderClient {
	t.Helper()
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.URL.Path != providerAPIPath || r.URL.Query().Get("api_key") != "k" {
			w.WriteHeader(nethttp.StatusForbidden)
			fmt.Fprint(w, "BAD_KEY")
			return
		}
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	p, cleanup, err := NewProviderClient(&conf.Bootstrap{Provider: &conf.Provider{
		Endpoint: srv.URL,
		ApiKey:   "k",
		Timeout:  conf.NewDuration(2 * time.Second),
	}}, log.DefaultLogger)
	require.NoError(t, err)
	t.Cleanup(cleanup)
	return p
}

func TestNewProviderClient_RequiresEndpoint(t *testing.T) {
	_, _, err := NewProviderClient(&conf.Bootstrap{}, log.DefaultLogger)
	assert.Error(t, err)
}

func TestProviderClient_PurchaseActivation(t *testing.T) {
	p := newTestProvider(t, func(w nethttp.ResponseWriter, r *nethttp.Request) {
		q := r.URL.Query()
		if q.Get("action") != "getNumberV2" || q.Get("orderId") != "tok-1" || q.Get("maxPrice") != "0.3" {
			fmt.Fprint(w, "BAD_ACTION")
			return
		}
		fmt.Fprint(w, `{"activationId":12345,"phoneNumber":"79991234567","activationCost":"0.21"}`)
	})
	maxPrice := decimal.RequireFromString("0.3")

	reply, err := p.PurchaseActivation(context.Background(), &biz.ProviderPurchaseRequest{
		Service:        "tg",
		Country:        "0",
		MaxPrice:       &maxPrice,
		IdempotencyKey: "tok-1",
	})

	require.NoError(t, err)
	assert.Equal(t, "12345", reply.ExternalID)
	assert.Equal(t, "79991234567", reply.PhoneNumber)
	assert.Equal(t, "0.21", reply.Cost.StringFixed(2))
}

func TestProviderClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		reason string
	}{
		{"no numbers", nethttp.StatusOK, "NO_NUMBERS", smsErrors.ReasonProviderRejected},
		{"max price", nethttp.StatusOK, "WRONG_MAX_PRICE:0.5", smsErrors.ReasonProviderRejected},
		{"forbidden", nethttp.StatusForbidden, "denied", smsErrors.ReasonProviderRejected},
		{"server error", nethttp.StatusInternalServerError, "oops", smsErrors.ReasonProviderUnavailable},
		{"garbage", nethttp.StatusOK, "<html>maintenance</html>", smsErrors.ReasonProviderUnavailable},
		{"malformed json", nethttp.StatusOK, `{"activationId":`, smsErrors.ReasonProviderUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProvider(t, func(w nethttp.ResponseWriter, r *nethttp.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})
			_, err := p.PurchaseActivation(context.Background(), &biz.ProviderPurchaseRequest{Service: "tg", Country: "0"})
			assert.True(t, smsErrors.IsReason(err, tt.reason), "got %v", err)
		})
	}
}

func TestProviderClient_CheckActivationStatus(t *testing.T) {
	statuses := map[string]string{
		"1": "STATUS_OK:55555",
		"2": "STATUS_WAIT_CODE",
		"3": "STATUS_CANCEL",
		"4": "NO_ACTIVATION",
	}
	p := newTestProvider(t, func(w nethttp.ResponseWriter, r *nethttp.Request) {
		fmt.Fprint(w, statuses[r.URL.Query().Get("id")])
	})
	ctx := context.Background()

	got, err := p.CheckActivationStatus(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, biz.ProviderCodeReceived, got.State)
	assert.Equal(t, "55555", got.Code)

	got, err = p.CheckActivationStatus(ctx, "2")
	require.NoError(t, err)
	assert.Equal(t, biz.ProviderWaiting, got.State)
	assert.Empty(t, got.Code)

	got, err = p.CheckActivationStatus(ctx, "3")
	require.NoError(t, err)
	assert.Equal(t, biz.ProviderCancelled, got.State)

	_, err = p.CheckActivationStatus(ctx, "4")
	assert.True(t, smsErrors.IsReason(err, smsErrors.ReasonProviderRejected))
}

func TestProviderClient_SetStatus(t *testing.T) {
	var got []string
	p := newTestProvider(t, func(w nethttp.ResponseWriter, r *nethttp.Request) {
		q := r.URL.Query()
		got = append(got, q.Get("status"))
		switch q.Get("status") {
		case "8":
			fmt.Fprint(w, "ACCESS_CANCEL")
		case "6":
			fmt.Fprint(w, "ACCESS_ACTIVATION")
		default:
			fmt.Fprint(w, "EARLY_CANCEL_DENIED")
		}
	})
	ctx := context.Background()

	assert.NoError(t, p.CancelActivation(ctx, "1"))
	assert.NoError(t, p.ConfirmActivation(ctx, "1"))
	err := p.RequestRetry(ctx, "1")
	assert.True(t, smsErrors.IsReason(err, smsErrors.ReasonProviderRejected))
	assert.Equal(t, []string{"8", "6", "3"}, got)
}

func TestProviderClient_Rentals(t *testing.T) {
	p := newTestProvider(t, func(w nethttp.ResponseWriter, r *nethttp.Request) {
		q := r.URL.Query()
		switch q.Get("action") {
		case "getRentNumber":
			fmt.Fprint(w, `{"status":"success","phone":{"id":777,"endDate":"2026-03-01 16:00:00","number":"79990000000"}}`)
		case "continueRentNumber":
			fmt.Fprint(w, `{"status":"error","message":"NO_ID_RENT"}`)
		case "getRentStatus":
			if q.Get("id") == "777" {
				fmt.Fprint(w, `{"status":"success","quantity":"2","values":{"1":{"phoneFrom":"WA","text":"second","service":"wa","date":"2026-03-01 12:10:00"},"0":{"phoneFrom":"TG","text":"first","service":"tg","date":"2026-03-01 12:05:00"}}}`)
				return
			}
			fmt.Fprint(w, `{"status":"error","message":"STATUS_WAIT_CODE"}`)
		case "setRentStatus":
			fmt.Fprint(w, `{"status":"success"}`)
		}
	})
	ctx := context.Background()

	rent, err := p.RentNumber(ctx, &biz.ProviderRentRequest{Service: "tg", Country: "0", Hours: 4, IdempotencyKey: "r-1"})
	require.NoError(t, err)
	assert.Equal(t, "777", rent.ExternalID)
	assert.Equal(t, "79990000000", rent.PhoneNumber)
	assert.True(t, time.Date(2026, 3, 1, 16, 0, 0, 0, time.UTC).Equal(rent.EndDate))

	_, err = p.ExtendRental(ctx, "777", 2)
	assert.True(t, smsErrors.IsReason(err, smsErrors.ReasonProviderRejected))

	status, err := p.CheckRentalStatus(ctx, "777")
	require.NoError(t, err)
	assert.Equal(t, biz.ProviderActive, status.State)
	require.Len(t, status.Messages, 2)
	assert.Equal(t, "first", status.Messages[0].Text)
	assert.Equal(t, "second", status.Messages[1].Text)

	status, err = p.CheckRentalStatus(ctx, "778")
	require.NoError(t, err)
	assert.Equal(t, biz.ProviderWaiting, status.State)
	assert.Empty(t, status.Messages)

	assert.NoError(t, p.SetRentalStatus(ctx, "777", biz.RentActionCancel))
}

package data

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	nethttp "net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"sms-service/internal/biz"
	"sms-service/internal/conf"
	"sms-service/internal/constants"
	smsErrors "sms-service/internal/errors"
	"sms-service/internal/metrics"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/shopspring/decimal"
)

const (
	providerAPIPath        = "/stubs/handler_api.php"
	defaultProviderTimeout = 10 * time.Second
)

// 明确拒绝类的文本错误，其余未知文本按不可用处理
var providerRejections = []string{
	"NO_NUMBERS",
	"NO_BALANCE",
	"NO_ACTIVATION",
	"BAD_KEY",
	"BAD_ACTION",
	"BAD_SERVICE",
	"BAD_STATUS",
	"BAD_COUNTRY",
	"WRONG_MAX_PRICE",
	"WRONG_ACTIVATION_ID",
	"WRONG_OPERATOR",
	"EARLY_CANCEL_DENIED",
	"CANT_CANCEL",
	"BANNED",
	"NO_ID_RENT",
	"INVALID_PHONE",
	"INVALID_TIME",
	"CHANNELS_LIMIT",
}

// providerClient sms-activate 风格的供应商 HTTP 客户端（实现 biz.ProviderClient）
type providerClient struct {
	client  *http.Client
	apiKey  string
	log     *log.Helper
	metrics *metrics.SMSMetrics
}

// NewProviderClient 创建供应商客户端
func NewProviderClient(c *conf.Bootstrap, logger log.Logger) (biz.ProviderClient, func(), error) {
	if c.Provider == nil || c.Provider.Endpoint == "" {
		return nil, nil, fmt.Errorf("provider config is nil")
	}
	timeout := defaultProviderTimeout
	if c.Provider.Timeout != nil {
		timeout = c.Provider.Timeout.AsDuration()
	}
	client, err := http.NewClient(
		context.Background(),
		http.WithEndpoint(c.Provider.Endpoint),
		http.WithTimeout(timeout),
		http.WithMiddleware(
			recovery.Recovery(),
		),
		http.WithResponseDecoder(decodeRawBody),
		http.WithErrorDecoder(decodeProviderError),
	)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := client.Close(); err != nil {
			log.NewHelper(logger).Warnf("failed to close provider client: %v", err)
		}
	}
	return &providerClient{
		client:  client,
		apiKey:  c.Provider.ApiKey,
		log:     log.NewHelper(logger),
		metrics: metrics.GetMetrics(),
	}, cleanup, nil
}

// decodeRawBody 供应商混用纯文本与 JSON，统一按原始字节返回
func decodeRawBody(_ context.Context, res *nethttp.Response, v interface{}) error {
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	out, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("unexpected reply type %T", v)
	}
	*out = body
	return nil
}

func decodeProviderError(_ context.Context, res *nethttp.Response) error {
	if res.StatusCode >= 200 && res.StatusCode <= 299 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
	return kerrors.New(res.StatusCode, "PROVIDER_HTTP_"+strconv.Itoa(res.StatusCode), strings.TrimSpace(string(body)))
}

// call 调用一个 action，返回原始响应体；HTTP 4xx 视为拒绝，其余失败视为结果未知
func (p *providerClient) call(ctx context.Context, action string, params url.Values) ([]byte, error) {
	start := time.Now()
	if params == nil {
		params = url.Values{}
	}
	params.Set("api_key", p.apiKey)
	params.Set("action", action)

	var body []byte
	err := p.client.Invoke(ctx, nethttp.MethodGet, providerAPIPath+"?"+params.Encode(), nil, &body)
	if p.metrics != nil {
		p.metrics.ProviderCallDuration.WithLabelValues(action).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if se := kerrors.FromError(err); se != nil && se.Code >= 400 && se.Code < 500 {
			p.observe(action, constants.ResultRejected)
			return nil, smsErrors.ErrProviderRejected(fmt.Sprintf("http %d: %s", se.Code, se.Message))
		}
		p.observe(action, constants.ResultFailed)
		p.log.Warnf("Provider call failed: action=%s, error=%v", action, err)
		return nil, smsErrors.ErrProviderUnavailable(err)
	}
	return body, nil
}

func (p *providerClient) observe(action, result string) {
	if p.metrics != nil {
		p.metrics.ProviderCallTotal.WithLabelValues(action, result).Inc()
	}
}

// textError 把纯文本错误响应转换为业务错误
func (p *providerClient) textError(action string, body []byte) error {
	text := strings.TrimSpace(string(body))
	for _, r := range providerRejections {
		if strings.HasPrefix(text, r) {
			p.observe(action, constants.ResultRejected)
			return smsErrors.ErrProviderRejected(text)
		}
	}
	p.observe(action, constants.ResultFailed)
	return smsErrors.ErrProviderUnavailable(fmt.Errorf("unexpected response to %s: %q", action, truncate(text, 128)))
}

type numberReply struct {
	ActivationID   json.Number `json:"activationId"`
	PhoneNumber    string      `json:"phoneNumber"`
	ActivationCost json.Number `json:"activationCost"`
}

// PurchaseActivation 购买激活号码（getNumberV2）
func (p *providerClient) PurchaseActivation(ctx context.Context, req *biz.ProviderPurchaseRequest) (*biz.ProviderPurchaseReply, error) {
	const action = "getNumberV2"
	params := url.Values{}
	params.Set("service", req.Service)
	params.Set("country", req.Country)
	if req.Operator != "" {
		params.Set("operator", req.Operator)
	}
	if req.MaxPrice != nil {
		params.Set("maxPrice", req.MaxPrice.String())
	}
	if req.IdempotencyKey != "" {
		params.Set("orderId", req.IdempotencyKey)
	}
	body, err := p.call(ctx, action, params)
	if err != nil {
		return nil, err
	}
	if !looksLikeJSON(body) {
		return nil, p.textError(action, body)
	}
	var r numberReply
	if err := json.Unmarshal(body, &r); err != nil || r.ActivationID == "" {
		p.observe(action, constants.ResultFailed)
		return nil, smsErrors.ErrProviderUnavailable(fmt.Errorf("malformed getNumberV2 reply: %q", truncate(string(body), 128)))
	}
	cost, _ := decimal.NewFromString(r.ActivationCost.String())
	p.observe(action, constants.ResultSuccess)
	return &biz.ProviderPurchaseReply{
		ExternalID:  r.ActivationID.String(),
		PhoneNumber: r.PhoneNumber,
		Cost:        cost,
	}, nil
}

// CheckActivationStatus 查询激活状态（getStatus），返回 STATUS_XXX[:code]
func (p *providerClient) CheckActivationStatus(ctx context.Context, externalID string) (*biz.ProviderStatusReply, error) {
	const action = "getStatus"
	body, err := p.call(ctx, action, url.Values{"id": {externalID}})
	if err != nil {
		return nil, err
	}
	text := strings.TrimSpace(string(body))
	word, code, _ := strings.Cut(text, ":")
	state, ok := biz.ParseProviderState(word)
	if !ok {
		return nil, p.textError(action, body)
	}
	p.observe(action, constants.ResultSuccess)
	if state != biz.ProviderCodeReceived {
		code = ""
	}
	return &biz.ProviderStatusReply{State: state, Code: code}, nil
}

// setStatus 状态码：8 取消，6 完成，3 重发
func (p *providerClient) setStatus(ctx context.Context, externalID string, status int, want string) error {
	const action = "setStatus"
	body, err := p.call(ctx, action, url.Values{"id": {externalID}, "status": {strconv.Itoa(status)}})
	if err != nil {
		return err
	}
	if !strings.HasPrefix(strings.TrimSpace(string(body)), want) {
		return p.textError(action, body)
	}
	p.observe(action, constants.ResultSuccess)
	return nil
}

func (p *providerClient) CancelActivation(ctx context.Context, externalID string) error {
	return p.setStatus(ctx, externalID, 8, "ACCESS_CANCEL")
}

func (p *providerClient) ConfirmActivation(ctx context.Context, externalID string) error {
	return p.setStatus(ctx, externalID, 6, "ACCESS_ACTIVATION")
}

func (p *providerClient) RequestRetry(ctx context.Context, externalID string) error {
	return p.setStatus(ctx, externalID, 3, "ACCESS_RETRY_GET")
}

type rentEnvelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Phone   *rentPhone      `json:"phone"`
	Values  json.RawMessage `json:"values"`
}

type rentPhone struct {
	ID      json.Number `json:"id"`
	EndDate string      `json:"endDate"`
	Number  string      `json:"number"`
}

type rentValue struct {
	PhoneFrom string `json:"phoneFrom"`
	Text      string `json:"text"`
	Service   string `json:"service"`
	Date      string `json:"date"`
}

func (p *providerClient) rentCall(ctx context.Context, action string, params url.Values) (*rentEnvelope, error) {
	body, err := p.call(ctx, action, params)
	if err != nil {
		return nil, err
	}
	if !looksLikeJSON(body) {
		return nil, p.textError(action, body)
	}
	var env rentEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		p.observe(action, constants.ResultFailed)
		return nil, smsErrors.ErrProviderUnavailable(fmt.Errorf("malformed %s reply: %w", action, err))
	}
	return &env, nil
}

func (p *providerClient) rentReply(action string, env *rentEnvelope) (*biz.ProviderRentReply, error) {
	if env.Status != "success" || env.Phone == nil {
		return nil, p.textError(action, []byte(env.Message))
	}
	p.observe(action, constants.ResultSuccess)
	endDate, _ := biz.ParseProviderTime(env.Phone.EndDate)
	return &biz.ProviderRentReply{
		ExternalID:  env.Phone.ID.String(),
		PhoneNumber: env.Phone.Number,
		EndDate:     endDate,
	}, nil
}

// RentNumber 租用号码（getRentNumber）
func (p *providerClient) RentNumber(ctx context.Context, req *biz.ProviderRentRequest) (*biz.ProviderRentReply, error) {
	const action = "getRentNumber"
	params := url.Values{}
	params.Set("service", req.Service)
	params.Set("country", req.Country)
	params.Set("rent_time", strconv.Itoa(int(req.Hours)))
	if req.Operator != "" {
		params.Set("operator", req.Operator)
	}
	if req.MaxPrice != nil {
		params.Set("maxPrice", req.MaxPrice.String())
	}
	if req.IdempotencyKey != "" {
		params.Set("orderId", req.IdempotencyKey)
	}
	env, err := p.rentCall(ctx, action, params)
	if err != nil {
		return nil, err
	}
	return p.rentReply(action, env)
}

// ExtendRental 续租（continueRentNumber）
func (p *providerClient) ExtendRental(ctx context.Context, externalID string, hours int32) (*biz.ProviderRentReply, error) {
	const action = "continueRentNumber"
	env, err := p.rentCall(ctx, action, url.Values{"id": {externalID}, "rent_time": {strconv.Itoa(int(hours))}})
	if err != nil {
		return nil, err
	}
	return p.rentReply(action, env)
}

// CheckRentalStatus 查询租赁状态与短信（getRentStatus）。
// 无短信时供应商返回 error/STATUS_WAIT_CODE，这不是错误。
func (p *providerClient) CheckRentalStatus(ctx context.Context, externalID string) (*biz.ProviderRentStatusReply, error) {
	const action = "getRentStatus"
	env, err := p.rentCall(ctx, action, url.Values{"id": {externalID}})
	if err != nil {
		return nil, err
	}
	if env.Status != "success" {
		state, ok := biz.ParseProviderState(env.Message)
		if !ok {
			return nil, p.textError(action, []byte(env.Message))
		}
		p.observe(action, constants.ResultSuccess)
		return &biz.ProviderRentStatusReply{State: state}, nil
	}

	reply := &biz.ProviderRentStatusReply{State: biz.ProviderActive}
	if len(env.Values) > 0 {
		var values map[string]rentValue
		if err := json.Unmarshal(env.Values, &values); err != nil {
			p.observe(action, constants.ResultFailed)
			return nil, smsErrors.ErrProviderUnavailable(fmt.Errorf("malformed getRentStatus values: %w", err))
		}
		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			a, _ := strconv.Atoi(keys[i])
			b, _ := strconv.Atoi(keys[j])
			return a < b
		})
		for _, k := range keys {
			v := values[k]
			at, _ := biz.ParseProviderTime(v.Date)
			reply.Messages = append(reply.Messages, biz.RentalMessage{
				From:       v.PhoneFrom,
				Text:       v.Text,
				Service:    v.Service,
				ReceivedAt: at,
			})
		}
	}
	p.observe(action, constants.ResultSuccess)
	return reply, nil
}

// SetRentalStatus 结束（1）或取消（2）租赁
func (p *providerClient) SetRentalStatus(ctx context.Context, externalID string, status biz.RentAction) error {
	const action = "setRentStatus"
	env, err := p.rentCall(ctx, action, url.Values{"id": {externalID}, "status": {strconv.Itoa(int(status))}})
	if err != nil {
		return err
	}
	if env.Status != "success" {
		return p.textError(action, []byte(env.Message))
	}
	p.observe(action, constants.ResultSuccess)
	return nil
}

func looksLikeJSON(b []byte) bool {
	s := strings.TrimSpace(string(b))
	return strings.HasPrefix(s, "{")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

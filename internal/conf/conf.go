package conf

import (
	"encoding/json"
	"fmt"
	"time"
)

// Bootstrap 服务配置根节点
type Bootstrap struct {
	Server    *Server    `json:"server"`
	Data      *Data      `json:"data"`
	Provider  *Provider  `json:"provider"`
	Pricing   *Pricing   `json:"pricing"`
	Poller    *Poller    `json:"poller"`
	Webhook   *Webhook   `json:"webhook"`
	RateLimit *RateLimit `json:"rate_limit"`
	Notify    *Notify    `json:"notify"`
}

// Server HTTP / gRPC 监听配置
type Server struct {
	Http *Server_HTTP `json:"http"`
	Grpc *Server_GRPC `json:"grpc"`
}

type Server_HTTP struct {
	Network string    `json:"network"`
	Addr    string    `json:"addr"`
	Timeout *Duration `json:"timeout"`
}

type Server_GRPC struct {
	Network string    `json:"network"`
	Addr    string    `json:"addr"`
	Timeout *Duration `json:"timeout"`
}

// Data 存储配置
type Data struct {
	Database *Data_Database `json:"database"`
	Redis    *Data_Redis    `json:"redis"`
	Rocketmq *Data_RocketMQ `json:"rocketmq"`
}

type Data_Database struct {
	Driver      string `json:"driver"`
	Source      string `json:"source"`
	AutoMigrate bool   `json:"auto_migrate"`
}

type Data_Redis struct {
	Addr         string    `json:"addr"`
	Password     string    `json:"password"`
	Db           int32     `json:"db"`
	ReadTimeout  *Duration `json:"read_timeout"`
	WriteTimeout *Duration `json:"write_timeout"`
}

type Data_RocketMQ struct {
	Enabled     bool     `json:"enabled"`
	NameServers []string `json:"name_servers"`
	GroupName   string   `json:"group_name"`
	Topic       string   `json:"topic"`
	RetryTimes  int32    `json:"retry_times"`
}

// Provider 号码供应商配置
type Provider struct {
	Endpoint string    `json:"endpoint"`
	ApiKey   string    `json:"api_key"`
	Timeout  *Duration `json:"timeout"`
}

// Pricing 价格配置，key 格式 service[:country[:operator]]
type Pricing struct {
	DefaultActivation float64            `json:"default_activation"`
	DefaultRentalHour float64            `json:"default_rental_hour"`
	Activations       map[string]float64 `json:"activations"`
	RentalsHourly     map[string]float64 `json:"rentals_hourly"`
}

// Poller 对账轮询配置
type Poller struct {
	Enabled       bool      `json:"enabled"`
	Spec          string    `json:"spec"`
	BatchSize     int32     `json:"batch_size"`
	ProviderDelay *Duration `json:"provider_delay"`
	TickTimeout   *Duration `json:"tick_timeout"`
}

// Webhook 回调签名配置
type Webhook struct {
	Secret          string `json:"secret"`
	SignatureHeader string `json:"signature_header"`
}

// RateLimit 限流配置
type RateLimit struct {
	Enabled bool      `json:"enabled"`
	Backend string    `json:"backend"` // memory / redis
	Rate    float64   `json:"rate"`
	Burst   int32     `json:"burst"`
	Window  *Duration `json:"window"`
	MaxKeys int32     `json:"max_keys"`
	IdleTTL *Duration `json:"idle_ttl"`
}

// Notify 通知投递配置
type Notify struct {
	QueueSize     int32     `json:"queue_size"`
	ChannelPrefix string    `json:"channel_prefix"`
	SendTimeout   *Duration `json:"send_timeout"`
}

// Duration 支持 "1.5s" / "300ms" 形式的配置时长
type Duration struct {
	time.Duration
}

// NewDuration 用于代码中构造配置
func NewDuration(d time.Duration) *Duration {
	return &Duration{Duration: d}
}

// AsDuration 返回 time.Duration，nil 时为 0
func (d *Duration) AsDuration() time.Duration {
	if d == nil {
		return 0
	}
	return d.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
		return nil
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		d.Duration = parsed
		return nil
	default:
		return fmt.Errorf("invalid duration type %T", v)
	}
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/rushteam/reclearn/engine"
	"github.com/rushteam/reclearn/feedback"
	"github.com/rushteam/reclearn/pkg/logging"
	"github.com/rushteam/reclearn/refresh"
	"github.com/rushteam/reclearn/service"
)

const (
	// EnvPrefix 是环境变量前缀，层级用双下划线分隔：RECLEARN_REFRESH__WORKERS -> refresh.workers
	EnvPrefix = "RECLEARN_"

	// ConfigPathEnvVar 指定配置文件路径
	ConfigPathEnvVar = "RECLEARN_CONFIG"
)

// 存储驱动。
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
)

// Settings 是进程配置。
//
// 加载顺序（后者覆盖前者）：
//  1. DefaultSettings 中的默认值
//  2. YAML 配置文件（可选）
//  3. RECLEARN_ 前缀的环境变量
type Settings struct {
	Log       logging.Config       `koanf:"log"`
	HTTP      HTTPSettings         `koanf:"http"`
	Store     StoreSettings        `koanf:"store"`
	Embedding service.Config       `koanf:"embedding"`
	Recommend engine.Options       `koanf:"recommend"`
	Feedback  FeedbackSettings     `koanf:"feedback"`
	Refresh   RefreshSettings      `koanf:"refresh"`
	Kafka     feedback.KafkaConfig `koanf:"kafka"`

	// PipelineFile 为非空时从 YAML/JSON 文件构建个性化流水线，替换默认流水线
	PipelineFile string `koanf:"pipeline_file"`
}

// HTTPSettings 是 HTTP 服务配置。
type HTTPSettings struct {
	Addr            string        `koanf:"addr" validate:"required"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// StoreSettings 是文档存储配置。
type StoreSettings struct {
	Driver   string `koanf:"driver" validate:"oneof=memory redis"`
	Addr     string `koanf:"addr" validate:"required_if=Driver redis"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db" validate:"min=0"`
	Prefix   string `koanf:"prefix"`
}

// FeedbackSettings 是反馈处理配置。
type FeedbackSettings struct {
	Threshold int           `koanf:"threshold" validate:"min=1"`
	Window    time.Duration `koanf:"window"`

	// TimeZone 是统计桶与画像小时/星期使用的时区（IANA 名称）
	TimeZone string `koanf:"time_zone"`
}

// Location 解析 TimeZone，为空时返回 UTC。
func (f FeedbackSettings) Location() (*time.Location, error) {
	if f.TimeZone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(f.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("feedback.time_zone: %w", err)
	}
	return loc, nil
}

// RefreshSettings 是刷新调度配置。
type RefreshSettings struct {
	Interval      time.Duration `koanf:"interval"`
	Workers       int           `koanf:"workers" validate:"min=1"`
	UserTimeout   time.Duration `koanf:"user_timeout"`
	MaxAttempts   int           `koanf:"max_attempts" validate:"min=1"`
	Backoff       time.Duration `koanf:"backoff"`
	MaxBackoff    time.Duration `koanf:"max_backoff"`
	DedupeWindow  time.Duration `koanf:"dedupe_window"`
	MaxBatchUsers int           `koanf:"max_batch_users" validate:"min=1"`
	QueueBuffer   int           `koanf:"queue_buffer" validate:"min=0"`
	RunOnStart    bool          `koanf:"run_on_start"`
}

// RetryPolicy 转换为重试策略。
func (r RefreshSettings) RetryPolicy() refresh.RetryPolicy {
	return refresh.RetryPolicy{
		MaxAttempts: r.MaxAttempts,
		Backoff:     r.Backoff,
		MaxBackoff:  r.MaxBackoff,
	}
}

// DefaultSettings 返回默认配置：内存存储、不启用向量化服务与 Kafka。
func DefaultSettings() *Settings {
	log := logging.DefaultConfig()
	log.Output = nil
	retry := refresh.DefaultRetryPolicy()
	return &Settings{
		Log: log,
		HTTP: HTTPSettings{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreSettings{
			Driver: DriverMemory,
			Addr:   "localhost:6379",
			Prefix: "reclearn",
		},
		Embedding: service.DefaultConfig(),
		Recommend: engine.DefaultOptions(),
		Feedback: FeedbackSettings{
			Threshold: feedback.DefaultThreshold,
			Window:    feedback.DefaultWindow,
			TimeZone:  "UTC",
		},
		Refresh: RefreshSettings{
			Interval:      refresh.DefaultInterval,
			Workers:       refresh.DefaultWorkers,
			UserTimeout:   refresh.DefaultUserTimeout,
			MaxAttempts:   retry.MaxAttempts,
			Backoff:       retry.Backoff,
			MaxBackoff:    retry.MaxBackoff,
			DedupeWindow:  refresh.DefaultDedupeWindow,
			MaxBatchUsers: refresh.DefaultMaxBatchUsers,
			QueueBuffer:   1024,
		},
		Kafka: feedback.DefaultKafkaConfig(),
	}
}

// sliceConfigPaths 是环境变量中以逗号分隔的列表字段
var sliceConfigPaths = []string{
	"kafka.brokers",
}

// Load 加载配置。path 为空时读取 RECLEARN_CONFIG 指向的文件，仍为空则只使用默认值与环境变量。
func Load(path string) (*Settings, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(DefaultSettings(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path == "" {
		path = os.Getenv(ConfigPathEnvVar)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}
	if err := processSliceFields(k); err != nil {
		return nil, err
	}

	s := &Settings{}
	if err := k.Unmarshal("", s); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// envTransformFunc：RECLEARN_EMBEDDING__API_KEY -> embedding.api_key
func envTransformFunc(key string) string {
	if key == ConfigPathEnvVar {
		return ""
	}
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	return strings.ReplaceAll(key, "__", ".")
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		s, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if err := k.Set(path, out); err != nil {
			return fmt.Errorf("set %s: %w", path, err)
		}
	}
	return nil
}

// Validate 校验字段约束与跨字段约束。
func (s *Settings) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid settings: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid settings: %w", err)
	}
	if s.Embedding.Provider == service.ProviderOpenAI && s.Embedding.APIKey == "" {
		return errors.New("invalid settings: embedding.api_key is required for provider openai")
	}
	if _, err := s.Feedback.Location(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	return nil
}

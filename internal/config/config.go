package config

import (
	"errors"

	"github.com/caarlos0/env/v11"
	"github.com/sysu-ecnc-dev/ad-planner/backend/internal/domain"
)

type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	Server      struct {
		Port            string `env:"PORT" envDefault:"3000"`
		ReadTimeout     int    `env:"READ_TIMEOUT" envDefault:"10"`
		WriteTimeout    int    `env:"WRITE_TIMEOUT" envDefault:"15"`
		IdleTimeout     int    `env:"IDLE_TIMEOUT" envDefault:"60"`
		ShutdownTimeout int    `env:"SHUTDOWN_TIMEOUT" envDefault:"10"`
		MaxUploadSize   int64  `env:"MAX_UPLOAD_SIZE" envDefault:"10485760"` // 10 MiB
	} `envPrefix:"SERVER_"`
	Database struct {
		DSN                string `env:"DSN,required"`
		ConnectTimeout     int    `env:"CONNECT_TIMEOUT" envDefault:"10"`
		QueryTimeout       int    `env:"QUERY_TIMEOUT" envDefault:"10"`
		TransactionTimeout int    `env:"TRANSACTION_TIMEOUT" envDefault:"20"`
		MaxOpenConns       int    `env:"MAX_OPEN_CONNS" envDefault:"10"`
		MaxIdleConns       int    `env:"MAX_IDLE_CONNS" envDefault:"10"`
		MaxIdleTime        int    `env:"MAX_IDLE_TIME" envDefault:"60"`
	} `envPrefix:"DATABASE_"`
	InitialAdmin struct {
		Username string `env:"USERNAME" envDefault:"admin"`
		Password string `env:"PASSWORD,required"`
		FullName string `env:"FULL_NAME" envDefault:"管理员"`
		Email    string `env:"EMAIL,required"`
	} `envPrefix:"INITIAL_ADMIN_"`
	JWT struct {
		Expiration int    `env:"EXPIRATION" envDefault:"1209600"` // 14 天
		Secret     string `env:"SECRET,required"`
	} `envPrefix:"JWT_"`
	Email struct {
		// SMTP.Host 为空时不发送任务完成通知
		SMTP struct {
			Username    string `env:"USERNAME"`
			Password    string `env:"PASSWORD"`
			Host        string `env:"HOST"`
			Port        int    `env:"PORT" envDefault:"465"`
			DialTimeout int    `env:"DIAL_TIMEOUT" envDefault:"10"`
		} `envPrefix:"SMTP_"`
	} `envPrefix:"EMAIL_"`
	RabbitMQ struct {
		DSN            string `env:"DSN,required"`
		PublishTimeout int    `env:"PUBLISH_TIMEOUT" envDefault:"10"`
		Queue          string `env:"QUEUE" envDefault:"optimization_queue"`
	} `envPrefix:"RABBITMQ_"`
	Redis struct {
		Host               string `env:"HOST" envDefault:"localhost"`
		Port               int    `env:"PORT" envDefault:"6379"`
		Password           string `env:"PASSWORD,required"`
		ConnectTimeout     int    `env:"CONNECT_TIMEOUT" envDefault:"10"`
		OperationTimeout   int    `env:"OPERATION_TIMEOUT" envDefault:"5"`
		ProgressExpiration int    `env:"PROGRESS_EXPIRATION" envDefault:"86400"` // 1 天
	} `envPrefix:"REDIS_"`
	Worker struct {
		Concurrency int    `env:"CONCURRENCY" envDefault:"2"`
		MetricsPort string `env:"METRICS_PORT" envDefault:"9100"`
	} `envPrefix:"WORKER_"`
	Optimizer Optimizer `envPrefix:"OPTIMIZER_"`
}

// Optimizer 优化任务的默认参数，请求中没有给出的参数使用这里的值
type Optimizer struct {
	PopulationSize   int       `env:"POPULATION_SIZE" envDefault:"100"`
	MaxGenerations   int       `env:"MAX_GENERATIONS" envDefault:"50"`
	ParentCount      int       `env:"PARENT_COUNT" envDefault:"50"`
	EliteCount       int       `env:"ELITE_COUNT" envDefault:"2"`
	ScrambleRate     float64   `env:"SCRAMBLE_RATE" envDefault:"0.1"`
	GaussianRate     float64   `env:"GAUSSIAN_RATE" envDefault:"0.2"`
	MaxAttempts      int       `env:"MAX_ATTEMPTS" envDefault:"1000"`
	StallGenerations int       `env:"STALL_GENERATIONS" envDefault:"0"`
	TimeLimit        int       `env:"TIME_LIMIT" envDefault:"300"` // 秒
	BudgetMin        float64   `env:"BUDGET_MIN" envDefault:"100"`
	BudgetMax        float64   `env:"BUDGET_MAX" envDefault:"300"`
	CostTable        []float64 `env:"COST_TABLE" envSeparator:"," envDefault:"15,10,8,8,12"`
}

func (o *Optimizer) Budget() domain.Budget {
	return domain.Budget{Min: o.BudgetMin, Max: o.BudgetMax}
}

// Costs 返回每个广告位每小时的成本，配置的数量不对时使用默认值
func (o *Optimizer) Costs() domain.CostTable {
	if len(o.CostTable) != domain.SlotCount {
		return domain.DefaultCostTable
	}

	costs := domain.CostTable{}
	copy(costs[:], o.CostTable)
	return costs
}

// Defaults 返回一个任务参数模板，Seed 由调用方决定
func (o *Optimizer) Defaults() domain.OptimizationParameters {
	return domain.OptimizationParameters{
		PopulationSize:   o.PopulationSize,
		MaxGenerations:   o.MaxGenerations,
		ParentCount:      o.ParentCount,
		EliteCount:       o.EliteCount,
		ScrambleRate:     o.ScrambleRate,
		GaussianRate:     o.GaussianRate,
		MaxAttempts:      o.MaxAttempts,
		StallGenerations: o.StallGenerations,
		TimeLimitSeconds: o.TimeLimit,
	}
}

func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, firstError(err)
	}

	return cfg, nil
}

// LoadOptimizerConfig 只读取优化参数，命令行工具在离线模式下不需要数据库等配置
func LoadOptimizerConfig() (*Optimizer, error) {
	cfg := &Optimizer{}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: "OPTIMIZER_"}); err != nil {
		return nil, firstError(err)
	}

	return cfg, nil
}

func firstError(err error) error {
	aggErr := env.AggregateError{}
	if ok := errors.As(err, &aggErr); ok && len(aggErr.Errors) > 0 {
		// 只返回第一个错误使得日志更清晰
		return aggErr.Errors[0]
	}
	return err
}

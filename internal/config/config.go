package config

import (
	"errors"
	"fmt"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Server struct {
		Port            string `env:"PORT" envDefault:"3000"`
		ReadTimeout     int    `env:"READ_TIMEOUT" envDefault:"10"`
		WriteTimeout    int    `env:"WRITE_TIMEOUT" envDefault:"30"` // 手动触发排班需要等待预言机返回，因此比普通接口长一些
		IdleTimeout     int    `env:"IDLE_TIMEOUT" envDefault:"60"`
		ShutdownTimeout int    `env:"SHUTDOWN_TIMEOUT" envDefault:"10"`
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
	JWT struct {
		Secret string `env:"SECRET,required"`
	} `envPrefix:"JWT_"`
	Email struct {
		SMTP struct {
			Username    string `env:"USERNAME,required"`
			Password    string `env:"PASSWORD,required"`
			Host        string `env:"HOST,required"`
			Port        int    `env:"PORT" envDefault:"465"`
			DialTimeout int    `env:"DIAL_TIMEOUT" envDefault:"10"`
		} `envPrefix:"SMTP_"`
	} `envPrefix:"EMAIL_"`
	RabbitMQ struct {
		DSN            string `env:"DSN,required"`
		Queue          string `env:"QUEUE" envDefault:"email_queue"`
		PublishTimeout int    `env:"PUBLISH_TIMEOUT" envDefault:"10"`
		DispatchBuffer int    `env:"DISPATCH_BUFFER" envDefault:"256"`
	} `envPrefix:"RABBITMQ_"`
	Redis struct {
		Host           string `env:"HOST" envDefault:"localhost"`
		Port           int    `env:"PORT" envDefault:"6379"`
		Password       string `env:"PASSWORD,required"`
		ConnectTimeout int    `env:"CONNECT_TIMEOUT" envDefault:"10"`
	} `envPrefix:"REDIS_"`
	Oracle struct {
		URL     string `env:"URL" envDefault:"http://localhost:5001/score_and_assign"`
		Timeout int    `env:"TIMEOUT" envDefault:"10"`
	} `envPrefix:"ORACLE_"`
	Allocation struct {
		MaxShiftsPerDay   int `env:"MAX_SHIFTS_PER_DAY" envDefault:"1"`
		MaxShiftsPerWeek  int `env:"MAX_SHIFTS_PER_WEEK" envDefault:"5"`
		MaxShiftsPerMonth int `env:"MAX_SHIFTS_PER_MONTH" envDefault:"20"`
		RunLockTTL        int `env:"RUN_LOCK_TTL" envDefault:"120"`
		RunLockWait       int `env:"RUN_LOCK_WAIT" envDefault:"30"`
		RunTimeout        int `env:"RUN_TIMEOUT" envDefault:"90"` // 必须小于 RUN_LOCK_TTL
	} `envPrefix:"ALLOCATION_"`
	Monitor struct {
		Interval        int    `env:"INTERVAL" envDefault:"300"` // 5 分钟
		AbsenteeismHour int    `env:"ABSENTEEISM_HOUR" envDefault:"10"`
		Timezone        string `env:"TIMEZONE" envDefault:"Local"`
	} `envPrefix:"MONITOR_"`
	Supervisor struct {
		Email string `env:"EMAIL"`
	} `envPrefix:"SUPERVISOR_"`
	Seed struct {
		EmailDomain string `env:"EMAIL_DOMAIN" envDefault:"example.com"`
	} `envPrefix:"SEED_"`
}

func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		aggErr := env.AggregateError{}
		if ok := errors.As(err, &aggErr); ok {
			// 只返回第一个错误使得日志更清晰
			return nil, aggErr.Errors[0]
		}
		return nil, err
	}

	// 锁续期失败时，排班也会在锁过期之前结束
	if cfg.Allocation.RunTimeout <= 0 || cfg.Allocation.RunTimeout >= cfg.Allocation.RunLockTTL {
		return nil, fmt.Errorf("ALLOCATION_RUN_TIMEOUT (%d) 必须大于 0 且小于 ALLOCATION_RUN_LOCK_TTL (%d)", cfg.Allocation.RunTimeout, cfg.Allocation.RunLockTTL)
	}

	return cfg, nil
}

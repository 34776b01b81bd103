package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/allocator"
	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/config"
	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/coordinator"
	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/engine"
	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/handler"
	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/metrics"
	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/monitor"
	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/notify"
	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/oracle"
	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/repository"
	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/runlock"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const runLockKey = "allocation:run"

func main() {
	/**********************************************
	 * 创建 logger
	 **********************************************/
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	/**********************************************
	 * 加载配置
	 **********************************************/
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("无法加载配置文件", "error", err)
		return
	}

	location, err := time.LoadLocation(cfg.Monitor.Timezone)
	if err != nil {
		logger.Error("无法加载时区", "timezone", cfg.Monitor.Timezone, "error", err)
		return
	}

	/**********************************************
	 * 连接数据库
	 **********************************************/
	dbpool, err := sql.Open("pgx", cfg.Database.DSN)
	if err != nil {
		logger.Error("无法创建数据库连接池", "error", err)
		return
	}
	defer dbpool.Close()

	dbpool.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	dbpool.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	dbpool.SetConnMaxIdleTime(time.Duration(cfg.Database.MaxIdleTime) * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Database.ConnectTimeout)*time.Second)
	defer cancel()

	// sql.Open 只是创建数据库连接池对象，并不会立即连接到数据库，因此需要显式地 ping 一下
	if err := dbpool.PingContext(ctx); err != nil {
		logger.Error("无法连接到数据库", "error", err)
		return
	}

	/**********************************************
	 * 创建 repository
	 **********************************************/
	repo := repository.NewRepository(cfg, dbpool)

	/**********************************************
	 * 连接 rabbitmq
	 **********************************************/
	conn, err := amqp.Dial(cfg.RabbitMQ.DSN)
	if err != nil {
		logger.Error("无法连接到 rabbitmq", "error", err)
		return
	}
	defer conn.Close()

	// 建立通道
	ch, err := conn.Channel()
	if err != nil {
		logger.Error("无法建立通道", "error", err)
		return
	}
	defer ch.Close()

	// 声明队列
	_, err = ch.QueueDeclare(
		cfg.RabbitMQ.Queue,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		logger.Error("无法声明队列", "error", err)
		return
	}

	/**********************************************
	 * 连接 redis
	 **********************************************/
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       0,
	})
	defer rdb.Close()

	ctx, cancel = context.WithTimeout(context.Background(), time.Duration(cfg.Redis.ConnectTimeout)*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Error("无法连接到 redis", "error", err)
		return
	}

	/**********************************************
	 * 创建指标
	 **********************************************/
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	/**********************************************
	 * 创建排班引擎
	 **********************************************/
	publisher := notify.NewPublisher(ch, notify.Options{
		Queue:          cfg.RabbitMQ.Queue,
		PublishTimeout: time.Duration(cfg.RabbitMQ.PublishTimeout) * time.Second,
		Buffer:         cfg.RabbitMQ.DispatchBuffer,
		Metrics:        m,
	})

	oracleClient := oracle.NewClient(cfg.Oracle.URL, time.Duration(cfg.Oracle.Timeout)*time.Second)

	eng := engine.New(repo, oracleClient, publisher, engine.Options{
		Limits: allocator.Limits{
			MaxShiftsPerDay:   cfg.Allocation.MaxShiftsPerDay,
			MaxShiftsPerWeek:  cfg.Allocation.MaxShiftsPerWeek,
			MaxShiftsPerMonth: cfg.Allocation.MaxShiftsPerMonth,
		},
		SupervisorEmail: cfg.Supervisor.Email,
		Metrics:         m,
	})

	/**********************************************
	 * 启动排班协调器
	 **********************************************/
	lock := runlock.New(
		rdb,
		runLockKey,
		time.Duration(cfg.Allocation.RunLockTTL)*time.Second,
		time.Duration(cfg.Allocation.RunLockWait)*time.Second,
	)

	coord := coordinator.New(eng, lock, coordinator.Options{
		RunTimeout: time.Duration(cfg.Allocation.RunTimeout) * time.Second,
		Metrics:    m,
	})
	coord.Start()

	/**********************************************
	 * 启动监控
	 **********************************************/
	scanner := monitor.NewScanner(repo, coord, eng, monitor.Options{
		Interval:        time.Duration(cfg.Monitor.Interval) * time.Second,
		AbsenteeismHour: cfg.Monitor.AbsenteeismHour,
		Location:        location,
		Metrics:         m,
	})

	scanCtx, stopScanner := context.WithCancel(context.Background())
	defer stopScanner()

	scannerDone := make(chan struct{})
	go func() {
		defer close(scannerDone)
		scanner.Run(scanCtx)
	}()

	/**********************************************
	 * 创建 handler
	 **********************************************/
	metricsHandler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	handler, err := handler.NewHandler(cfg, repo, eng, coord, metricsHandler)
	if err != nil {
		logger.Error("无法创建 handler", "error", err)
		return
	}
	handler.RegisterRoutes()

	/**********************************************
	 * 启动 HTTP 服务器
	 **********************************************/
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      handler.Mux,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("正在启动服务器...", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("无法启动服务器", slog.String("error", err.Error()))
			return
		}
	}()

	<-quit
	logger.Info("正在关闭服务器...")

	ctx, cancel = context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("关闭服务器失败", slog.String("error", err.Error()))
	}

	// 先停止触发源，再等待正在执行的排班，最后把排队中的邮件发出去
	stopScanner()
	<-scannerDone

	if err := coord.Stop(ctx); err != nil {
		logger.Error("关闭排班协调器失败", "error", err)
	}
	if err := publisher.Close(ctx); err != nil {
		logger.Error("关闭邮件发布器失败", "error", err)
	}
	logger.Info("服务器已成功关闭")
}

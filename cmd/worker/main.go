package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/sourcegraph/conc/pool"
	"github.com/sysu-ecnc-dev/ad-planner/backend/internal/config"
	"github.com/sysu-ecnc-dev/ad-planner/backend/internal/domain"
	"github.com/sysu-ecnc-dev/ad-planner/backend/internal/progress"
	"github.com/sysu-ecnc-dev/ad-planner/backend/internal/repository"
	"github.com/sysu-ecnc-dev/ad-planner/backend/internal/worker"
	"github.com/wneessen/go-mail"
)

func main() {
	/**********************************************
	 * 创建 logger
	 **********************************************/
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	/**********************************************
	 * 读取配置文件
	 **********************************************/
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("无法读取 .env 文件", "error", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("无法读取配置文件", slog.String("error", err.Error()))
		return
	}

	/**********************************************
	 * 连接数据库
	 **********************************************/
	dbpool, err := repository.Open(cfg)
	if err != nil {
		logger.Error("无法连接到数据库", "error", err)
		return
	}
	defer dbpool.Close()

	repo := repository.NewRepository(cfg, dbpool)

	/**********************************************
	 * 连接 redis
	 **********************************************/
	rdb := redis.NewClient(&redis.Options{
		Addr:        fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password:    cfg.Redis.Password,
		DialTimeout: time.Duration(cfg.Redis.ConnectTimeout) * time.Second,
	})
	defer rdb.Close()

	progressStore := progress.NewStore(rdb, time.Duration(cfg.Redis.ProgressExpiration)*time.Second)

	/**********************************************
	 * 创建邮件客户端（可选）
	 **********************************************/
	var notifier worker.Notifier
	if cfg.Email.SMTP.Host != "" {
		client, err := mail.NewClient(cfg.Email.SMTP.Host,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithSSL(),
			mail.WithPort(cfg.Email.SMTP.Port),
			mail.WithUsername(cfg.Email.SMTP.Username),
			mail.WithPassword(cfg.Email.SMTP.Password),
			mail.WithTimeout(time.Duration(cfg.Email.SMTP.DialTimeout)*time.Second),
		)
		if err != nil {
			logger.Error("无法创建邮件客户端", slog.String("error", err.Error()))
			return
		}
		defer client.Close()

		notifier = worker.NewMailer(client, cfg.Email.SMTP.Username)
	} else {
		logger.Info("没有配置 SMTP 服务器，不发送任务完成通知")
	}

	runner := worker.NewRunner(repo, progressStore, notifier, cfg.Optimizer.Costs(), cfg.Optimizer.Budget())

	/**********************************************
	 * 连接 RabbitMQ
	 **********************************************/
	conn, err := amqp.Dial(cfg.RabbitMQ.DSN)
	if err != nil {
		logger.Error("无法连接到 RabbitMQ", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	// 创建通道
	ch, err := conn.Channel()
	if err != nil {
		logger.Error("无法创建通道", slog.String("error", err.Error()))
		return
	}
	defer ch.Close()

	// 每个 worker 同时最多领取 Concurrency 个任务
	if err := ch.Qos(cfg.Worker.Concurrency, 0, false); err != nil {
		logger.Error("无法设置预取数量", slog.String("error", err.Error()))
		return
	}

	// 声明队列
	q, err := ch.QueueDeclare(
		cfg.RabbitMQ.Queue, // 队列名称
		true,               // 是否持久化
		false,              // 是否自动删除
		false,              // 是否独占
		false,              // 是否不等待
		nil,                // 额外参数
	)
	if err != nil {
		logger.Error("无法声明队列", slog.String("error", err.Error()))
		return
	}

	// 消费消息，手动确认
	msgs, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		logger.Error("无法消费消息", slog.String("error", err.Error()))
		return
	}

	/**********************************************
	 * 暴露 prometheus 指标
	 **********************************************/
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Worker.MetricsPort),
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("无法启动指标服务器", slog.String("error", err.Error()))
		}
	}()

	// 监听 CTRL+C
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// 用于关闭 goroutine 的上下文
	ctx, cancel := context.WithCancel(context.Background())
	p := pool.New().WithMaxGoroutines(cfg.Worker.Concurrency)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					logger.Error("RabbitMQ 通道已关闭")
					return
				}
				p.Go(func() {
					handleDelivery(ctx, runner, msg)
				})
			}
		}
	}()

	logger.Info("等待优化任务...（按 CTRL+C 退出）", "concurrency", cfg.Worker.Concurrency)
	select {
	case <-sigChan:
	case <-done:
	}

	// 优雅退出，正在执行的任务会被取消并记录为失败
	logger.Info("正在关闭 optimization worker...")
	cancel()
	<-done
	p.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = metricsSrv.Shutdown(shutdownCtx)

	logger.Info("optimization worker 已成功关闭")
}

func handleDelivery(ctx context.Context, runner *worker.Runner, msg amqp.Delivery) {
	job := domain.OptimizationJob{}
	if err := json.Unmarshal(msg.Body, &job); err != nil {
		slog.Error("任务反序列化失败", slog.String("body", string(msg.Body)), slog.String("error", err.Error()))
		_ = msg.Nack(false, false)
		return
	}

	if err := runner.Process(ctx, job); err != nil {
		requeue := !errors.Is(err, worker.ErrDiscard)
		slog.Error("任务处理失败", "runID", job.RunID, "requeue", requeue, "error", err)
		_ = msg.Nack(false, requeue)
		return
	}

	_ = msg.Ack(false)
}

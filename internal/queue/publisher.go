package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sysu-ecnc-dev/ad-planner/backend/internal/domain"
)

var ErrNacked = errors.New("RabbitMQ 拒绝了任务消息")

// Publisher 以 confirm 模式把优化任务投递到队列
// 消息带 mandatory 标志，无法路由的消息会被退回，通过 HandleReturns 处理
type Publisher struct {
	ch    *amqp.Channel
	queue string
}

func NewPublisher(ch *amqp.Channel, queue string) (*Publisher, error) {
	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("无法开启 confirm 模式: %w", err)
	}

	return &Publisher{
		ch:    ch,
		queue: queue,
	}, nil
}

// Publish 等到 broker 确认之后才返回
func (p *Publisher) Publish(ctx context.Context, job domain.OptimizationJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}

	confirmation, err := p.ch.PublishWithDeferredConfirmWithContext(
		ctx,
		"",      // 默认交换机
		p.queue, // 路由键即队列名
		true,    // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    job.RunID,
			Body:         body,
		},
	)
	if err != nil {
		return err
	}

	acked, err := confirmation.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("等待 RabbitMQ 确认超时: %w", err)
	}
	if !acked {
		return fmt.Errorf("%w: 任务 %s", ErrNacked, job.RunID)
	}
	return nil
}

// HandleReturns 在后台监听被退回的消息，通道关闭时退出
// broker 会先发送退回再发送确认，所以被退回的任务 Publish 仍然返回 nil
func (p *Publisher) HandleReturns(onReturn func(job domain.OptimizationJob)) {
	returns := p.ch.NotifyReturn(make(chan amqp.Return, 16))

	go func() {
		for ret := range returns {
			job, err := DecodeReturn(ret)
			if err != nil {
				slog.Error("无法解析被退回的任务", "messageID", ret.MessageId, "error", err)
				continue
			}
			slog.Error("任务无法路由到队列，已被退回", "runID", job.RunID, "replyCode", ret.ReplyCode, "replyText", ret.ReplyText)
			onReturn(job)
		}
	}()
}

func DecodeReturn(ret amqp.Return) (domain.OptimizationJob, error) {
	job := domain.OptimizationJob{}
	if err := json.Unmarshal(ret.Body, &job); err != nil {
		return job, err
	}
	if job.RunID == "" {
		job.RunID = ret.MessageId
	}
	if job.RunID == "" {
		return job, errors.New("消息中没有任务 ID")
	}
	return job, nil
}

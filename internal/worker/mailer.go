package worker

import (
	"context"
	"fmt"
	"text/template"

	"github.com/sysu-ecnc-dev/ad-planner/backend/internal/domain"
	"github.com/wneessen/go-mail"
)

const MailTypeRunFinished = "run_finished"

var runFinishedTemplate = template.Must(template.New(MailTypeRunFinished).Parse(`优化任务 {{.RunID}} 已结束。

状态: {{.Status}}
迭代代数: {{.Generations}}
{{- if .StopReason}}
停止原因: {{.StopReason}}
{{- end}}
{{- if .ErrorMessage}}
错误信息: {{.ErrorMessage}}
{{- else}}
最优方案预测点击量: {{printf "%.2f" .PredictedClicks}}
最优方案成本: {{printf "%.1f" .Cost}}
{{- end}}
`))

type Mailer struct {
	client *mail.Client
	from   string
}

func NewMailer(client *mail.Client, from string) *Mailer {
	return &Mailer{
		client: client,
		from:   from,
	}
}

func (m *Mailer) Send(ctx context.Context, msg domain.MailMessage) error {
	email := mail.NewMsg()
	if err := email.From(m.from); err != nil {
		return fmt.Errorf("无法设置邮件发件人: %w", err)
	}
	if err := email.To(msg.To); err != nil {
		return fmt.Errorf("无法设置邮件收件人: %w", err)
	}

	switch msg.Type {
	case MailTypeRunFinished:
		if err := email.SetBodyTextTemplate(runFinishedTemplate, msg.Data); err != nil {
			return fmt.Errorf("无法设置邮件正文: %w", err)
		}
		email.Subject("广告投放优化 - 任务已结束")
	default:
		return fmt.Errorf("不支持的邮件类型: %s", msg.Type)
	}

	return m.client.DialAndSendWithContext(ctx, email)
}

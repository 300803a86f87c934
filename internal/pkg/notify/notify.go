package notify

import (
	"context"
)

// Notifier 定义告警通知接口。
//
// 通知是 fire-and-forget 的：发送失败只记日志，绝不让核查 / 审计
// 运行因此报错。
type Notifier interface {
	// Send 发送一条纯文本告警。
	//
	// 参数:
	//   ctx: 上下文
	//   subject: 邮件主题
	//   body: 纯文本正文（运行汇总）
	Send(ctx context.Context, subject, body string) error
}

// Noop 空实现，未配置邮件时使用。
type Noop struct{}

func (Noop) Send(ctx context.Context, subject, body string) error { return nil }

package gateway

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/story-sync/story-sync/internal/story"
)

// Notifier 抽象通知展示能力：推送到达时显示通知，点击时唤起应用窗口。
type Notifier interface {
	Display(ctx context.Context, msg story.PushMessage) error
	FocusApp(ctx context.Context) error
}

// LogNotifier 是默认实现，把通知写入结构化日志。
// 桌面环境可注入真正的系统通知实现替换它。
type LogNotifier struct {
	Logger *logrus.Logger
}

func (n *LogNotifier) Display(ctx context.Context, msg story.PushMessage) error {
	n.Logger.WithFields(logrus.Fields{
		"action": "notification",
		"title":  msg.Title,
		"body":   msg.Options.Body,
	}).Info("notification displayed")
	return nil
}

func (n *LogNotifier) FocusApp(ctx context.Context) error {
	n.Logger.WithFields(logrus.Fields{
		"action": "notification_click",
	}).Info("focus application window")
	return nil
}

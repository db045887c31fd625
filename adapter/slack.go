package adapter

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
)

type SlackNotifier struct {
	webhook string
}

func NewSlackNotifier(webhook string) *SlackNotifier {
	return &SlackNotifier{webhook: webhook}
}

func (sn *SlackNotifier) Notify(ctx context.Context, target, message string) error {
	msg := &slack.WebhookMessage{
		Channel: target,
		Text:    fmt.Sprintf(":rotating_light: %s", message),
	}
	if err := slack.PostWebhookContext(ctx, sn.webhook, msg); err != nil {
		return Transient("send message to slack is err: %v", err)
	}
	return nil
}

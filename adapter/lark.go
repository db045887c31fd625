package adapter

import (
	"context"
	"fmt"

	"github.com/go-lark/lark"
	"github.com/go-lark/lark/card"
)

type LarkNotifier struct {
	larkBot *lark.Bot
}

func NewLarkNotifier(webhook string) *LarkNotifier {
	return &LarkNotifier{larkBot: lark.NewNotificationBot(webhook)}
}

func (ln *LarkNotifier) Notify(ctx context.Context, target, message string) error {
	msg := lark.NewMsgBuffer(lark.MsgInteractive)
	outMsg := msg.Card(ln.composeCard(target, message).String()).Build()
	if _, err := ln.larkBot.PostNotificationV2(outMsg); err != nil {
		return Transient("send message to lark is err: %v", err)
	}
	return nil
}

func (ln *LarkNotifier) composeCard(target, message string) *card.Block {
	builder := lark.NewCardBuilder()
	elements := []card.Element{
		builder.Div().Text(builder.Text(fmt.Sprintf("**Channel:**\n%s", target)).LarkMd()),
		builder.Hr(),
		builder.Div().Text(builder.Text(message).LarkMd()),
	}
	return builder.Card(elements...).Title("Reactor Action").Red()
}

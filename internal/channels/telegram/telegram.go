// Package telegram pushes conversation output to Telegram chats via the Bot
// API. Each conversation is bound to a chat id in configuration.
package telegram

import (
	"context"
	"fmt"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/nextlevelbuilder/morgana/internal/config"
	"github.com/nextlevelbuilder/morgana/pkg/protocol"
)

// Channel is the Telegram push adapter. Quick replies become an inline
// keyboard; rich cards are flattened to text since Telegram has no
// structured card surface.
type Channel struct {
	bot *telego.Bot
	cfg config.TelegramConfig
}

func New(cfg config.TelegramConfig) (*Channel, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Channel{bot: bot, cfg: cfg}, nil
}

func (c *Channel) Name() string { return "telegram" }

// SendStructured delivers one finished response. Conversations without a
// configured chat binding are silently skipped; other channels still get
// the message.
func (c *Channel) SendStructured(ctx context.Context, conversationID string, resp *protocol.ConversationResponse) error {
	chatID, ok := c.cfg.ChatIDs[conversationID]
	if !ok {
		return nil
	}

	msg := tu.Message(tu.ID(chatID), renderText(resp))
	if len(resp.QuickReplies) > 0 {
		rows := make([][]telego.InlineKeyboardButton, 0, len(resp.QuickReplies))
		for _, qr := range resp.QuickReplies {
			rows = append(rows, tu.InlineKeyboardRow(
				tu.InlineKeyboardButton(qr.Label).WithCallbackData(qr.Value),
			))
		}
		msg = msg.WithReplyMarkup(tu.InlineKeyboard(rows...))
	}

	if _, err := c.bot.SendMessage(ctx, msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// SendChunk is a no-op: Telegram messages cannot stream.
func (c *Channel) SendChunk(context.Context, string, protocol.StreamChunk) error {
	return nil
}

// renderText flattens the response and any rich card into plain text.
func renderText(resp *protocol.ConversationResponse) string {
	var b strings.Builder
	b.WriteString(resp.Response)

	if card := resp.RichCard; card != nil {
		b.WriteString("\n\n")
		b.WriteString(card.Title)
		if card.Subtitle != "" {
			b.WriteString("\n")
			b.WriteString(card.Subtitle)
		}
		renderComponents(&b, card.Components, 0)
	}
	return b.String()
}

func renderComponents(b *strings.Builder, comps []protocol.CardComponent, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, comp := range comps {
		switch comp.Type {
		case "text_block":
			fmt.Fprintf(b, "\n%s%s", indent, comp.Text)
		case "key_value":
			fmt.Fprintf(b, "\n%s%s: %s", indent, comp.Key, comp.Value)
		case "divider":
			fmt.Fprintf(b, "\n%s---", indent)
		case "list":
			for _, item := range comp.Items {
				fmt.Fprintf(b, "\n%s- %s", indent, item)
			}
		case "badge":
			fmt.Fprintf(b, "\n%s[%s]", indent, comp.Label)
		case "section":
			if comp.Title != "" {
				fmt.Fprintf(b, "\n%s%s", indent, comp.Title)
			}
			renderComponents(b, comp.Components, depth+1)
		case "grid":
			renderComponents(b, comp.Components, depth)
		}
	}
}

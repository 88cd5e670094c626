package telegram

import (
	"context"
	"path/filepath"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"pdfile/internal/logging"
	"pdfile/internal/prompts"
	"pdfile/internal/services"
)

// Render implements prompts.Renderer.
func (b *Bot) Render(ctx context.Context, p prompts.Prompt) error {
	chatID, err := b.chatID(p.UserID)
	if err != nil {
		return err
	}
	out := b.catalog.Render(p)

	if out.Attachment != "" {
		if err := b.request(ctx, tgbotapi.NewChatAction(chatID, tgbotapi.ChatUploadDocument)); err != nil {
			b.logger.Debug("chat action failed", logging.Error(err))
		}
		doc := tgbotapi.NewDocument(chatID, tgbotapi.FilePath(out.Attachment))
		doc.Caption = out.Text
		return b.send(ctx, doc, "send document "+filepath.Base(out.Attachment))
	}
	if out.Text == "" {
		return nil
	}

	msg := tgbotapi.NewMessage(chatID, out.Text)
	switch {
	case out.LinkURL != "":
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL(out.LinkLabel, out.LinkURL)),
		)
	case len(out.Keyboard) > 0:
		msg.ReplyMarkup = replyKeyboard(out.Keyboard)
	}
	return b.send(ctx, msg, "send message "+p.Key)
}

func replyKeyboard(rows [][]string) tgbotapi.ReplyKeyboardMarkup {
	buttons := make([][]tgbotapi.KeyboardButton, 0, len(rows))
	for _, row := range rows {
		line := make([]tgbotapi.KeyboardButton, len(row))
		for i, label := range row {
			line[i] = tgbotapi.NewKeyboardButton(label)
		}
		buttons = append(buttons, line)
	}
	markup := tgbotapi.NewReplyKeyboard(buttons...)
	markup.ResizeKeyboard = true
	return markup
}

func (b *Bot) send(ctx context.Context, c tgbotapi.Chattable, what string) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}
	if _, err := b.api.Send(c); err != nil {
		return services.Wrap(services.ErrExternalTool, "telegram", "render", what, err)
	}
	return nil
}

func (b *Bot) request(ctx context.Context, c tgbotapi.Chattable) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := b.api.Request(c)
	return err
}

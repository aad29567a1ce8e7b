// Package bot routes Telegram updates between customers in private chats and
// operators in the support chat.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/memohai/supportbot/internal/support"
)

// Telegram limits for message text and media captions.
const (
	maxTextLength    = 4096
	maxCaptionLength = 1024
)

const (
	signatureSeparator = "\n\n"
	truncatedMark      = "…"
)

// BotAPI is the subset of *tgbotapi.BotAPI the router needs.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Router turns updates into support service calls and outbound messages.
type Router struct {
	api           BotAPI
	support       *support.Service
	supportChatID int64
	states        *conversations
	logger        *slog.Logger
}

func NewRouter(log *slog.Logger, api BotAPI, svc *support.Service, supportChatID int64) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		api:           api,
		support:       svc,
		supportChatID: supportChatID,
		states:        newConversations(),
		logger:        log.With(slog.String("component", "router")),
	}
}

// State returns the conversation state of a user.
func (r *Router) State(userID int64) State {
	return r.states.get(userID)
}

// HandleUpdate processes one update to completion.
func (r *Router) HandleUpdate(ctx context.Context, update tgbotapi.Update) error {
	switch {
	case update.CallbackQuery != nil:
		return r.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		msg := update.Message
		if msg.Chat == nil || msg.From == nil {
			return nil
		}
		if msg.Chat.ID == r.supportChatID {
			return r.handleSupportChat(ctx, msg)
		}
		if msg.Chat.IsPrivate() {
			return r.handlePrivate(ctx, msg)
		}
	}
	return nil
}

func (r *Router) handlePrivate(ctx context.Context, msg *tgbotapi.Message) error {
	userID := msg.From.ID
	banned, err := r.support.IsBanned(ctx, userID)
	if err != nil {
		return fmt.Errorf("check ban for user %d: %w", userID, err)
	}
	if banned {
		r.logger.Debug("message from banned user dropped", slog.Int64("user_id", userID))
		return nil
	}

	if msg.IsCommand() {
		switch msg.Command() {
		case "start":
			return r.handleStart(ctx, msg)
		case "help":
			return r.reply(msg.Chat.ID, textHelp, nil)
		}
	}
	switch {
	case msg.Contact != nil && r.states.get(userID) == StateAwaitingContact:
		return r.handleContact(ctx, msg)
	case msg.Text != "" || len(msg.Photo) > 0:
		return r.forwardToSupport(ctx, msg)
	default:
		return r.reply(msg.Chat.ID, textUnsupported, nil)
	}
}

func (r *Router) handleStart(ctx context.Context, msg *tgbotapi.Message) error {
	if _, err := r.support.RegisterPlatformUser(ctx, msg.From.ID, msg.From.UserName); err != nil {
		return err
	}
	r.states.set(msg.From.ID, StateAwaitingContact)
	return r.reply(msg.Chat.ID, textAskContact, contactKeyboard())
}

func (r *Router) handleContact(ctx context.Context, msg *tgbotapi.Message) error {
	userID := msg.From.ID
	if msg.Contact.UserID != userID {
		return r.reply(msg.Chat.ID, textForeignContact, contactKeyboard())
	}

	customer, err := r.support.RegisterCustomer(ctx, userID, msg.Contact.PhoneNumber)
	switch {
	case errors.Is(err, support.ErrUserNotFoundOnSite):
		return r.reply(msg.Chat.ID, textNotFoundOnSite, contactKeyboard())
	case errors.Is(err, support.ErrPhoneAlreadyBelongsCustomer):
		r.logger.Warn("phone already bound", slog.Int64("user_id", userID), slog.Any("error", err))
		return r.reply(msg.Chat.ID, textPhoneTaken, contactKeyboard())
	case err != nil:
		r.states.set(userID, StateIdle)
		if sendErr := r.reply(msg.Chat.ID, textRegistrationFailed, removeKeyboard()); sendErr != nil {
			r.logger.Error("send apology failed", slog.Int64("user_id", userID), slog.Any("error", sendErr))
		}
		return fmt.Errorf("register customer %d: %w", userID, err)
	}

	r.states.set(userID, StateIdle)
	if err := r.reply(msg.Chat.ID, fmt.Sprintf(textGreeting, customer.FirstName), removeKeyboard()); err != nil {
		return err
	}
	return r.reply(msg.Chat.ID, textUsage, nil)
}

func (r *Router) forwardToSupport(ctx context.Context, msg *tgbotapi.Message) error {
	userID := msg.From.ID
	if _, err := r.support.RegisterPlatformUser(ctx, userID, msg.From.UserName); err != nil {
		return err
	}
	signature := r.signature(ctx, msg.From)
	keyboard := messageKeyboard(userID, false, false)

	var chattable tgbotapi.Chattable
	if len(msg.Photo) > 0 {
		photo := tgbotapi.NewPhoto(r.supportChatID, tgbotapi.FileID(pickPhoto(msg.Photo).FileID))
		photo.Caption = joinSignature(msg.Caption, signature, maxCaptionLength)
		photo.ParseMode = tgbotapi.ModeHTML
		photo.ReplyMarkup = keyboard
		chattable = photo
	} else {
		text := tgbotapi.NewMessage(r.supportChatID, joinSignature(msg.Text, signature, maxTextLength))
		text.ParseMode = tgbotapi.ModeHTML
		text.ReplyMarkup = keyboard
		chattable = text
	}

	sent, err := r.api.Send(chattable)
	if err != nil {
		if replyErr := r.reply(msg.Chat.ID, textForwardFailed, nil); replyErr != nil {
			r.logger.Error("send forward failure notice failed", slog.Int64("user_id", userID), slog.Any("error", replyErr))
		}
		return fmt.Errorf("forward message of user %d: %w", userID, err)
	}
	if _, err := r.support.RecordForwardedMessage(ctx, userID, sent.MessageID); err != nil {
		return err
	}
	r.logger.Info("message forwarded",
		slog.Int64("user_id", userID),
		slog.Int("support_chat_message_id", sent.MessageID),
	)
	return nil
}

func (r *Router) signature(ctx context.Context, from *tgbotapi.User) string {
	if customer, ok := r.support.FindCustomerByUserID(ctx, from.ID); ok {
		name := customer.FullName()
		if name == "" {
			name = telegramName(from)
		}
		return fmt.Sprintf(textSignatureCustomer, escapeHTML(name), escapeHTML(customer.Phone))
	}
	return fmt.Sprintf(textSignatureAnonymous, escapeHTML(telegramName(from)), from.ID)
}

func (r *Router) handleSupportChat(ctx context.Context, msg *tgbotapi.Message) error {
	if msg.IsCommand() && msg.Command() == "help" {
		return r.replyTo(msg, textOperatorHelp)
	}
	if msg.ReplyToMessage == nil || msg.From.IsBot {
		return nil
	}

	forwarded, ok := r.support.FindForwardedMessage(ctx, msg.ReplyToMessage.MessageID)
	if !ok {
		return r.replyTo(msg, textNotDelivered)
	}

	var chattable tgbotapi.Chattable
	switch {
	case len(msg.Photo) > 0:
		photo := tgbotapi.NewPhoto(forwarded.UserID, tgbotapi.FileID(pickPhoto(msg.Photo).FileID))
		photo.Caption = msg.Caption
		chattable = photo
	case msg.Text != "":
		chattable = tgbotapi.NewMessage(forwarded.UserID, msg.Text)
	default:
		return r.replyTo(msg, textUnsupportedOperator)
	}
	if _, err := r.api.Send(chattable); err != nil {
		r.logger.Warn("deliver reply failed",
			slog.Int64("user_id", forwarded.UserID),
			slog.Int64("operator_id", msg.From.ID),
			slog.Any("error", err),
		)
		return r.replyTo(msg, textNotDelivered)
	}

	if _, err := r.support.RegisterPlatformUser(ctx, msg.From.ID, msg.From.UserName); err != nil {
		return err
	}
	if _, err := r.support.RegisterOperator(ctx, msg.From.ID); err != nil {
		return err
	}
	forwarded, err := r.support.SetAnswered(ctx, forwarded.ID, true)
	if err != nil {
		return err
	}
	r.logger.Info("reply delivered",
		slog.Int64("user_id", forwarded.UserID),
		slog.Int64("operator_id", msg.From.ID),
	)
	return r.refreshButtons(ctx, forwarded)
}

func (r *Router) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) error {
	notice, err := r.applyCallback(ctx, cb)
	if _, answerErr := r.api.Request(tgbotapi.NewCallback(cb.ID, notice)); answerErr != nil {
		r.logger.Warn("answer callback failed", slog.String("callback_id", cb.ID), slog.Any("error", answerErr))
	}
	return err
}

// applyCallback performs the button action and returns the notice shown to the operator.
func (r *Router) applyCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) (string, error) {
	data, err := ParseCallback(cb.Data)
	if err != nil || data.Question != QuestionCustomerMessage {
		return textUnknownAction, nil
	}
	if cb.Message == nil || cb.From == nil {
		return textUnknownMessage, nil
	}
	forwarded, ok := r.support.FindForwardedMessage(ctx, cb.Message.MessageID)
	if !ok {
		return textUnknownMessage, nil
	}

	switch data.Answer {
	case AnswerBan:
		_, err = r.support.Ban(ctx, cb.From.ID, forwarded.UserID)
	case AnswerUnban:
		_, err = r.support.Unban(ctx, cb.From.ID, forwarded.UserID)
	case AnswerAnswered, AnswerUnanswered:
		forwarded, err = r.support.SetAnswered(ctx, forwarded.ID, data.Answer == AnswerAnswered)
	default:
		return textUnknownAction, nil
	}
	if err != nil {
		return "", err
	}
	return "", r.refreshButtons(ctx, forwarded)
}

// refreshButtons redraws the button pair from the stored state.
func (r *Router) refreshButtons(ctx context.Context, forwarded support.ForwardedMessage) error {
	banned, err := r.support.IsBanned(ctx, forwarded.UserID)
	if err != nil {
		return err
	}
	edit := tgbotapi.NewEditMessageReplyMarkup(r.supportChatID, forwarded.SupportChatMessageID,
		messageKeyboard(forwarded.UserID, banned, forwarded.Answered))
	if _, err := r.api.Request(edit); err != nil {
		if isStaleEdit(err) {
			r.logger.Warn("button refresh skipped",
				slog.Int("support_chat_message_id", forwarded.SupportChatMessageID),
				slog.Any("error", err),
			)
			return nil
		}
		return fmt.Errorf("refresh buttons: %w", err)
	}
	return nil
}

func (r *Router) reply(chatID int64, text string, markup any) error {
	msg := tgbotapi.NewMessage(chatID, text)
	if markup != nil {
		msg.ReplyMarkup = markup
	}
	_, err := r.api.Send(msg)
	return err
}

func (r *Router) replyTo(to *tgbotapi.Message, text string) error {
	msg := tgbotapi.NewMessage(to.Chat.ID, text)
	msg.ReplyToMessageID = to.MessageID
	_, err := r.api.Send(msg)
	return err
}

// isStaleEdit reports edits rejected because the markup is unchanged or the message is gone.
func isStaleEdit(err error) bool {
	text := err.Error()
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		text = apiErr.Message
	}
	text = strings.ToLower(text)
	return strings.Contains(text, "message is not modified") ||
		strings.Contains(text, "message to edit not found")
}

// joinSignature escapes body and appends the signature, cutting the body so the result
// stays within limit characters.
func joinSignature(body, signature string, limit int) string {
	body = strings.TrimSpace(body)
	budget := limit - utf8.RuneCountInString(signature) - len(signatureSeparator)
	if body == "" || budget <= 0 {
		return signature
	}
	escaped := escapeHTML(body)
	if utf8.RuneCountInString(escaped) > budget {
		escaped = truncateEscaped(body, budget-1) + truncatedMark
	}
	return escaped + signatureSeparator + signature
}

// truncateEscaped escapes the longest prefix of body whose escaped form fits in budget runes.
func truncateEscaped(body string, budget int) string {
	var b strings.Builder
	used := 0
	for _, r := range body {
		piece := escapeHTML(string(r))
		n := utf8.RuneCountInString(piece)
		if used+n > budget {
			break
		}
		b.WriteString(piece)
		used += n
	}
	return strings.TrimSpace(b.String())
}

func escapeHTML(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeHTML, s)
}

func telegramName(u *tgbotapi.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = strings.TrimSpace(u.UserName)
	}
	return name
}

func pickPhoto(items []tgbotapi.PhotoSize) tgbotapi.PhotoSize {
	if len(items) == 0 {
		return tgbotapi.PhotoSize{}
	}
	best := items[0]
	for _, item := range items[1:] {
		if item.FileSize > best.FileSize {
			best = item
			continue
		}
		if item.Width*item.Height > best.Width*best.Height {
			best = item
		}
	}
	return best
}

package bot

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/supportbot/internal/directory"
	"github.com/memohai/supportbot/internal/logger"
	"github.com/memohai/supportbot/internal/store/badgerstore"
	"github.com/memohai/supportbot/internal/support"
)

const (
	supportChat int64 = -100500
	customerID  int64 = 42
	operatorID  int64 = 7
)

type harness struct {
	api     *fakeAPI
	router  *Router
	service *support.Service
	nextMsg int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, err := badgerstore.Open("", logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	svc := support.NewService(logger.Nop(), st, directory.NewStatic(map[string]string{"79990001122": "Ivan"}))
	api := newFakeAPI()
	return &harness{api: api, router: NewRouter(logger.Nop(), api, svc, supportChat), service: svc, nextMsg: 1}
}

func (h *harness) message(chatID, fromID int64, chatType string) *tgbotapi.Message {
	h.nextMsg++
	return &tgbotapi.Message{
		MessageID: h.nextMsg,
		From:      &tgbotapi.User{ID: fromID, FirstName: "Ivan", LastName: "Ivanov", UserName: "ivan"},
		Chat:      &tgbotapi.Chat{ID: chatID, Type: chatType},
	}
}

func (h *harness) private(text string) *tgbotapi.Message {
	msg := h.message(customerID, customerID, "private")
	msg.Text = text
	if strings.HasPrefix(text, "/") {
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(text)}}
	}
	return msg
}

func (h *harness) handle(t *testing.T, msg *tgbotapi.Message) {
	t.Helper()
	require.NoError(t, h.router.HandleUpdate(context.Background(), tgbotapi.Update{Message: msg}))
}

func (h *harness) press(t *testing.T, supportMessageID int, data string) {
	t.Helper()
	update := tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb",
		From:    &tgbotapi.User{ID: operatorID, UserName: "op"},
		Message: &tgbotapi.Message{MessageID: supportMessageID, Chat: &tgbotapi.Chat{ID: supportChat, Type: "supergroup"}},
		Data:    data,
	}}
	require.NoError(t, h.router.HandleUpdate(context.Background(), update))
}

// forward sends a private text and returns the id of its copy in the support chat.
func (h *harness) forward(t *testing.T, text string) int {
	t.Helper()
	h.handle(t, h.private(text))
	sent, ok := h.api.lastSent().(tgbotapi.MessageConfig)
	require.True(t, ok)
	require.Equal(t, supportChat, sent.ChatID)
	return h.api.nextID
}

func buttonLabels(markup *tgbotapi.InlineKeyboardMarkup) [2]string {
	row := markup.InlineKeyboard[0]
	return [2]string{row[0].Text, row[1].Text}
}

func TestButtonPair(t *testing.T) {
	assert.Equal(t, [2]string{"Ban", "Unanswered"}, ButtonPair(false, false))
	assert.Equal(t, [2]string{"Unban", "Unanswered"}, ButtonPair(true, false))
	assert.Equal(t, [2]string{"Ban", "Answered"}, ButtonPair(false, true))
	assert.Equal(t, [2]string{"Unban", "Answered"}, ButtonPair(true, true))
}

func TestCallbackCodec(t *testing.T) {
	cb := Callback{Question: QuestionCustomerMessage, Answer: AnswerBan, Data: "42"}
	assert.Equal(t, "btn:customer_textmessage:ban:42", cb.Encode())

	parsed, err := ParseCallback(cb.Encode())
	require.NoError(t, err)
	assert.Equal(t, cb, parsed)

	parsed, err = ParseCallback("btn:q:a:x:y")
	require.NoError(t, err)
	assert.Equal(t, "x:y", parsed.Data)

	for _, raw := range []string{"", "btn", "btn:q", "other:q:a:d", "btn::a:d"} {
		_, err := ParseCallback(raw)
		assert.Error(t, err, raw)
	}
}

func TestOnboarding(t *testing.T) {
	h := newHarness(t)

	h.handle(t, h.private("/start"))
	assert.Equal(t, StateAwaitingContact, h.router.State(customerID))
	ask, ok := h.api.lastSent().(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, textAskContact, ask.Text)
	kb, ok := ask.ReplyMarkup.(tgbotapi.ReplyKeyboardMarkup)
	require.True(t, ok)
	assert.True(t, kb.Keyboard[0][0].RequestContact)

	contact := h.message(customerID, customerID, "private")
	contact.Contact = &tgbotapi.Contact{PhoneNumber: "79990001122", FirstName: "Ivan", UserID: customerID}
	h.handle(t, contact)

	assert.Equal(t, StateIdle, h.router.State(customerID))
	texts := h.api.textsTo(customerID)
	require.Len(t, texts, 3)
	assert.Equal(t, "Hello, Ivan!", texts[1])
	assert.Equal(t, textUsage, texts[2])

	customer, found := h.service.FindCustomerByUserID(context.Background(), customerID)
	require.True(t, found)
	assert.Equal(t, "Ivan", customer.FirstName)
}

func TestOnboardingUnknownPhoneKeepsWaiting(t *testing.T) {
	h := newHarness(t)
	h.handle(t, h.private("/start"))

	contact := h.message(customerID, customerID, "private")
	contact.Contact = &tgbotapi.Contact{PhoneNumber: "+1 555 0100", UserID: customerID}
	h.handle(t, contact)

	assert.Equal(t, StateAwaitingContact, h.router.State(customerID))
	sent, ok := h.api.lastSent().(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, textNotFoundOnSite, sent.Text)
	assert.IsType(t, tgbotapi.ReplyKeyboardMarkup{}, sent.ReplyMarkup)
}

func TestOnboardingPhoneTaken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.service.RegisterCustomer(ctx, 99, "79990001122")
	require.NoError(t, err)

	h.handle(t, h.private("/start"))
	contact := h.message(customerID, customerID, "private")
	contact.Contact = &tgbotapi.Contact{PhoneNumber: "79990001122", UserID: customerID}
	h.handle(t, contact)

	assert.Equal(t, StateAwaitingContact, h.router.State(customerID))
	sent, ok := h.api.lastSent().(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, textPhoneTaken, sent.Text)
}

func TestOnboardingForeignContact(t *testing.T) {
	cases := map[string]int64{
		"another user":   1234,
		"phonebook card": 0,
	}
	for name, contactUserID := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			h.handle(t, h.private("/start"))

			contact := h.message(customerID, customerID, "private")
			contact.Contact = &tgbotapi.Contact{PhoneNumber: "79990001122", UserID: contactUserID}
			h.handle(t, contact)

			assert.Equal(t, StateAwaitingContact, h.router.State(customerID))
			sent, ok := h.api.lastSent().(tgbotapi.MessageConfig)
			require.True(t, ok)
			assert.Equal(t, textForeignContact, sent.Text)
			_, found := h.service.FindCustomerByUserID(context.Background(), customerID)
			assert.False(t, found)
		})
	}
}

func TestContactOutsideOnboardingIsUnsupported(t *testing.T) {
	h := newHarness(t)
	contact := h.message(customerID, customerID, "private")
	contact.Contact = &tgbotapi.Contact{PhoneNumber: "79990001122", UserID: customerID}
	h.handle(t, contact)

	assert.Equal(t, []string{textUnsupported}, h.api.textsTo(customerID))
}

func TestHelpCommands(t *testing.T) {
	h := newHarness(t)
	h.handle(t, h.private("/help"))
	assert.Equal(t, []string{textHelp}, h.api.textsTo(customerID))

	msg := h.message(supportChat, operatorID, "supergroup")
	msg.Text = "/help"
	msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 5}}
	h.handle(t, msg)
	assert.Equal(t, []string{textOperatorHelp}, h.api.textsTo(supportChat))
}

func TestForwardAnonymousText(t *testing.T) {
	h := newHarness(t)
	id := h.forward(t, "where is my <order>?")

	sent := h.api.lastSent().(tgbotapi.MessageConfig)
	assert.Equal(t, tgbotapi.ModeHTML, sent.ParseMode)
	assert.Contains(t, sent.Text, "where is my &lt;order&gt;?")
	assert.Contains(t, sent.Text, "Anonymous: <b>Ivan Ivanov</b> (id 42)")
	markup, ok := sent.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	assert.Equal(t, [2]string{"Ban", "Unanswered"}, buttonLabels(&markup))

	fm, found := h.service.FindForwardedMessage(context.Background(), id)
	require.True(t, found)
	assert.Equal(t, customerID, fm.UserID)
	assert.False(t, fm.Answered)
}

func TestForwardCustomerPhoto(t *testing.T) {
	h := newHarness(t)
	_, err := h.service.RegisterCustomer(context.Background(), customerID, "79990001122")
	require.NoError(t, err)

	msg := h.message(customerID, customerID, "private")
	msg.Caption = "broken item"
	msg.Photo = []tgbotapi.PhotoSize{
		{FileID: "small", Width: 90, Height: 90, FileSize: 1000},
		{FileID: "large", Width: 800, Height: 800, FileSize: 90000},
	}
	h.handle(t, msg)

	photo, ok := h.api.lastSent().(tgbotapi.PhotoConfig)
	require.True(t, ok)
	assert.Equal(t, supportChat, photo.ChatID)
	assert.Equal(t, tgbotapi.FileID("large"), photo.File)
	assert.Contains(t, photo.Caption, "broken item")
	assert.Contains(t, photo.Caption, "<b>Ivan</b>, phone 79990001122")
}

func TestForwardLongTextIsCut(t *testing.T) {
	h := newHarness(t)
	h.forward(t, strings.Repeat("<", 3000))

	sent := h.api.lastSent().(tgbotapi.MessageConfig)
	assert.LessOrEqual(t, utf8.RuneCountInString(sent.Text), maxTextLength)
	assert.True(t, strings.HasPrefix(sent.Text, "&lt;&lt;"))
	assert.Contains(t, sent.Text, "…\n\n")
	assert.True(t, strings.HasSuffix(sent.Text, "Anonymous: <b>Ivan Ivanov</b> (id 42)"))
	assert.NotContains(t, sent.Text, "&l…")
}

func TestForwardLongCaptionIsCut(t *testing.T) {
	h := newHarness(t)
	msg := h.message(customerID, customerID, "private")
	msg.Caption = strings.Repeat("ё", 2000)
	msg.Photo = []tgbotapi.PhotoSize{{FileID: "p", Width: 10, Height: 10}}
	h.handle(t, msg)

	photo, ok := h.api.lastSent().(tgbotapi.PhotoConfig)
	require.True(t, ok)
	assert.LessOrEqual(t, utf8.RuneCountInString(photo.Caption), maxCaptionLength)
	assert.True(t, strings.HasSuffix(photo.Caption, "(id 42)"))
}

func TestForwardShortTextIsKept(t *testing.T) {
	assert.Equal(t, "hi\n\nsig", joinSignature(" hi ", "sig", maxTextLength))
	assert.Equal(t, "sig", joinSignature("", "sig", maxTextLength))
	assert.Equal(t, "ab…\n\nsig", joinSignature("abcdef", "sig", 8))
}

func TestForwardFailureNotifiesUser(t *testing.T) {
	h := newHarness(t)
	h.api.sendErr[supportChat] = errBlocked

	err := h.router.HandleUpdate(context.Background(), tgbotapi.Update{Message: h.private("hello")})
	assert.ErrorIs(t, err, errBlocked)
	assert.Equal(t, []string{textForwardFailed}, h.api.textsTo(customerID))
	unanswered, err := h.service.ListUnanswered(context.Background())
	require.NoError(t, err)
	assert.Empty(t, unanswered)
}

func TestUnsupportedContent(t *testing.T) {
	h := newHarness(t)
	msg := h.message(customerID, customerID, "private")
	msg.Sticker = &tgbotapi.Sticker{FileID: "s"}
	h.handle(t, msg)

	assert.Equal(t, []string{textUnsupported}, h.api.textsTo(customerID))
	assert.Empty(t, h.api.textsTo(supportChat))
}

func TestBannedUserIsIgnored(t *testing.T) {
	h := newHarness(t)
	_, err := h.service.Ban(context.Background(), operatorID, customerID)
	require.NoError(t, err)

	h.handle(t, h.private("hello"))
	h.handle(t, h.private("/start"))
	sticker := h.message(customerID, customerID, "private")
	sticker.Sticker = &tgbotapi.Sticker{FileID: "s"}
	h.handle(t, sticker)

	assert.Zero(t, h.api.sentCount())
	unanswered, err := h.service.ListUnanswered(context.Background())
	require.NoError(t, err)
	assert.Empty(t, unanswered)
}

func TestOperatorReply(t *testing.T) {
	h := newHarness(t)
	id := h.forward(t, "hello")

	reply := h.message(supportChat, operatorID, "supergroup")
	reply.Text = "Hi! How can we help?"
	reply.ReplyToMessage = &tgbotapi.Message{MessageID: id}
	h.handle(t, reply)

	assert.Equal(t, []string{"Hi! How can we help?"}, h.api.textsTo(customerID))
	fm, ok := h.service.FindForwardedMessage(context.Background(), id)
	require.True(t, ok)
	assert.True(t, fm.Answered)

	edits := h.api.edits()
	require.Len(t, edits, 1)
	assert.Equal(t, id, edits[0].MessageID)
	assert.Equal(t, [2]string{"Ban", "Answered"}, buttonLabels(edits[0].ReplyMarkup))

	isOp, err := h.service.IsOperator(context.Background(), operatorID)
	require.NoError(t, err)
	assert.True(t, isOp)
}

func TestOperatorReplyToUnknownMessage(t *testing.T) {
	h := newHarness(t)
	reply := h.message(supportChat, operatorID, "supergroup")
	reply.Text = "hi"
	reply.ReplyToMessage = &tgbotapi.Message{MessageID: 123456}
	h.handle(t, reply)

	assert.Equal(t, []string{textNotDelivered}, h.api.textsTo(supportChat))
	assert.Empty(t, h.api.textsTo(customerID))
}

func TestOperatorReplyDeliveryFailure(t *testing.T) {
	h := newHarness(t)
	id := h.forward(t, "hello")
	h.api.sendErr[customerID] = errBlocked

	reply := h.message(supportChat, operatorID, "supergroup")
	reply.Text = "hi"
	reply.ReplyToMessage = &tgbotapi.Message{MessageID: id}
	h.handle(t, reply)

	texts := h.api.textsTo(supportChat)
	assert.Equal(t, textNotDelivered, texts[len(texts)-1])
	fm, ok := h.service.FindForwardedMessage(context.Background(), id)
	require.True(t, ok)
	assert.False(t, fm.Answered)
}

func TestOperatorReplyStaleEditIsSwallowed(t *testing.T) {
	h := newHarness(t)
	id := h.forward(t, "hello")
	h.api.requestFn = func(c tgbotapi.Chattable) error {
		if _, ok := c.(tgbotapi.EditMessageReplyMarkupConfig); ok {
			return &tgbotapi.Error{Code: 400, Message: "Bad Request: message is not modified"}
		}
		return nil
	}

	reply := h.message(supportChat, operatorID, "supergroup")
	reply.Text = "hi"
	reply.ReplyToMessage = &tgbotapi.Message{MessageID: id}
	h.handle(t, reply)

	fm, ok := h.service.FindForwardedMessage(context.Background(), id)
	require.True(t, ok)
	assert.True(t, fm.Answered)
}

func TestRefreshPropagatesOtherEditErrors(t *testing.T) {
	h := newHarness(t)
	id := h.forward(t, "hello")
	h.api.requestFn = func(c tgbotapi.Chattable) error {
		if _, ok := c.(tgbotapi.EditMessageReplyMarkupConfig); ok {
			return errors.New("connection reset")
		}
		return nil
	}

	reply := h.message(supportChat, operatorID, "supergroup")
	reply.Text = "hi"
	reply.ReplyToMessage = &tgbotapi.Message{MessageID: id}
	err := h.router.HandleUpdate(context.Background(), tgbotapi.Update{Message: reply})
	assert.Error(t, err)
}

func TestAnsweredToggleIsIdempotent(t *testing.T) {
	h := newHarness(t)
	id := h.forward(t, "hello")
	data := func(answer string) string {
		return Callback{Question: QuestionCustomerMessage, Answer: answer, Data: "42"}.Encode()
	}

	h.press(t, id, data(AnswerAnswered))
	h.press(t, id, data(AnswerUnanswered))

	edits := h.api.edits()
	require.Len(t, edits, 2)
	assert.Equal(t, [2]string{"Ban", "Answered"}, buttonLabels(edits[0].ReplyMarkup))
	assert.Equal(t, [2]string{"Ban", "Unanswered"}, buttonLabels(edits[1].ReplyMarkup))
	fm, ok := h.service.FindForwardedMessage(context.Background(), id)
	require.True(t, ok)
	assert.False(t, fm.Answered)
	assert.Len(t, h.api.callbacks(), 2)
}

func TestBanToggle(t *testing.T) {
	h := newHarness(t)
	id := h.forward(t, "hello")
	ctx := context.Background()

	h.press(t, id, Callback{Question: QuestionCustomerMessage, Answer: AnswerBan, Data: "42"}.Encode())
	banned, err := h.service.IsBanned(ctx, customerID)
	require.NoError(t, err)
	assert.True(t, banned)
	edits := h.api.edits()
	require.Len(t, edits, 1)
	assert.Equal(t, [2]string{"Unban", "Unanswered"}, buttonLabels(edits[0].ReplyMarkup))

	h.press(t, id, Callback{Question: QuestionCustomerMessage, Answer: AnswerUnban, Data: "42"}.Encode())
	banned, err = h.service.IsBanned(ctx, customerID)
	require.NoError(t, err)
	assert.False(t, banned)
}

func TestCallbackUnknownMessage(t *testing.T) {
	h := newHarness(t)
	h.press(t, 999, Callback{Question: QuestionCustomerMessage, Answer: AnswerBan, Data: "42"}.Encode())
	h.press(t, 999, "garbage")

	callbacks := h.api.callbacks()
	require.Len(t, callbacks, 2)
	assert.Equal(t, textUnknownMessage, callbacks[0].Text)
	assert.Equal(t, textUnknownAction, callbacks[1].Text)
	assert.Empty(t, h.api.edits())
}

func TestIsStaleEdit(t *testing.T) {
	assert.True(t, isStaleEdit(&tgbotapi.Error{Message: "Bad Request: message is not modified: specified new message content"}))
	assert.True(t, isStaleEdit(errors.New("Bad Request: message to edit not found")))
	assert.False(t, isStaleEdit(errors.New("Too Many Requests")))
}

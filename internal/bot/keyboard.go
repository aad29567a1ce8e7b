package bot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	callbackPrefix = "btn"

	// QuestionCustomerMessage tags the buttons attached to a relayed customer message.
	QuestionCustomerMessage = "customer_textmessage"

	AnswerBan        = "ban"
	AnswerUnban      = "unban"
	AnswerAnswered   = "answered"
	AnswerUnanswered = "unanswered"
)

var errBadCallback = errors.New("malformed callback data")

// Callback is the payload carried by an inline button.
type Callback struct {
	Question string
	Answer   string
	Data     string
}

func (c Callback) Encode() string {
	return strings.Join([]string{callbackPrefix, c.Question, c.Answer, c.Data}, ":")
}

// ParseCallback decodes "btn:<question>:<answer>:<data>". Data may itself contain colons.
func ParseCallback(raw string) (Callback, error) {
	parts := strings.SplitN(raw, ":", 4)
	if len(parts) != 4 || parts[0] != callbackPrefix || parts[1] == "" || parts[2] == "" {
		return Callback{}, fmt.Errorf("%w: %q", errBadCallback, raw)
	}
	return Callback{Question: parts[1], Answer: parts[2], Data: parts[3]}, nil
}

// ButtonPair returns the labels shown under a relayed message.
func ButtonPair(banned, answered bool) [2]string {
	pair := [2]string{"Ban", "Unanswered"}
	if banned {
		pair[0] = "Unban"
	}
	if answered {
		pair[1] = "Answered"
	}
	return pair
}

// messageKeyboard builds the ban and answered buttons. Each button carries the action
// that flips the state it currently shows.
func messageKeyboard(userID int64, banned, answered bool) tgbotapi.InlineKeyboardMarkup {
	labels := ButtonPair(banned, answered)
	banAnswer := AnswerBan
	if banned {
		banAnswer = AnswerUnban
	}
	answeredAnswer := AnswerAnswered
	if answered {
		answeredAnswer = AnswerUnanswered
	}
	data := strconv.FormatInt(userID, 10)
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData(labels[0],
			Callback{Question: QuestionCustomerMessage, Answer: banAnswer, Data: data}.Encode()),
		tgbotapi.NewInlineKeyboardButtonData(labels[1],
			Callback{Question: QuestionCustomerMessage, Answer: answeredAnswer, Data: data}.Encode()),
	))
}

func contactKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(tgbotapi.NewKeyboardButtonRow(
		tgbotapi.NewKeyboardButtonContact(textContactButton),
	))
	kb.OneTimeKeyboard = true
	kb.ResizeKeyboard = true
	return kb
}

func removeKeyboard() tgbotapi.ReplyKeyboardRemove {
	return tgbotapi.NewRemoveKeyboard(false)
}

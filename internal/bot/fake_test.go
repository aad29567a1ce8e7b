package bot

import (
	"errors"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// fakeAPI records outbound chattables and hands out increasing message ids.
type fakeAPI struct {
	mu        sync.Mutex
	sent      []tgbotapi.Chattable
	requests  []tgbotapi.Chattable
	nextID    int
	sendErr   map[int64]error
	requestFn func(tgbotapi.Chattable) error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{nextID: 1000, sendErr: map[int64]error{}}
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	chatID := chatOf(c)
	if err := f.sendErr[chatID]; err != nil {
		return tgbotapi.Message{}, err
	}
	f.sent = append(f.sent, c)
	f.nextID++
	return tgbotapi.Message{MessageID: f.nextID, Chat: &tgbotapi.Chat{ID: chatID}}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	if f.requestFn != nil {
		if err := f.requestFn(c); err != nil {
			return nil, err
		}
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

// textsTo returns texts and captions sent to chatID in order.
func (f *fakeAPI) textsTo(chatID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.sent {
		switch m := c.(type) {
		case tgbotapi.MessageConfig:
			if m.ChatID == chatID {
				out = append(out, m.Text)
			}
		case tgbotapi.PhotoConfig:
			if m.ChatID == chatID {
				out = append(out, m.Caption)
			}
		}
	}
	return out
}

func (f *fakeAPI) lastSent() tgbotapi.Chattable {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeAPI) edits() []tgbotapi.EditMessageReplyMarkupConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tgbotapi.EditMessageReplyMarkupConfig
	for _, c := range f.requests {
		if e, ok := c.(tgbotapi.EditMessageReplyMarkupConfig); ok {
			out = append(out, e)
		}
	}
	return out
}

func (f *fakeAPI) callbacks() []tgbotapi.CallbackConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tgbotapi.CallbackConfig
	for _, c := range f.requests {
		if cb, ok := c.(tgbotapi.CallbackConfig); ok {
			out = append(out, cb)
		}
	}
	return out
}

func (f *fakeAPI) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func chatOf(c tgbotapi.Chattable) int64 {
	switch m := c.(type) {
	case tgbotapi.MessageConfig:
		return m.ChatID
	case tgbotapi.PhotoConfig:
		return m.ChatID
	}
	return 0
}

var errBlocked = errors.New("forbidden: bot was blocked by the user")

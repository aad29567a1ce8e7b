// Package directory resolves customer phone numbers to names in the external customer directory.
package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/memohai/supportbot/internal/config"
)

// ErrNotFound is returned when no directory entry matches the phone.
var ErrNotFound = errors.New("phone not found in directory")

// Lookup finds the name registered for a phone number.
type Lookup interface {
	LookupNameByPhone(ctx context.Context, phone string) (string, error)
}

// NormalizePhone keeps digits only, so "+7 (999) 000-11-22" and "79990001122" match.
func NormalizePhone(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Static is an in-memory directory, used for development and tests.
type Static struct {
	names map[string]string
}

func NewStatic(entries map[string]string) *Static {
	names := make(map[string]string, len(entries))
	for phone, name := range entries {
		if p := NormalizePhone(phone); p != "" {
			names[p] = strings.TrimSpace(name)
		}
	}
	return &Static{names: names}
}

func (s *Static) LookupNameByPhone(_ context.Context, phone string) (string, error) {
	name, ok := s.names[NormalizePhone(phone)]
	if !ok {
		return "", ErrNotFound
	}
	return name, nil
}

// New builds the directory selected by cfg.Provider.
func New(log *slog.Logger, cfg config.DirectoryConfig) (Lookup, error) {
	switch cfg.Provider {
	case config.ProviderStatic, "":
		return NewStatic(cfg.Static), nil
	case config.ProviderAirtable:
		timeout := time.Duration(cfg.Airtable.TimeoutSeconds) * time.Second
		return NewAirtable(log, cfg.Airtable, nil, timeout)
	default:
		return nil, fmt.Errorf("unknown directory provider: %s", cfg.Provider)
	}
}

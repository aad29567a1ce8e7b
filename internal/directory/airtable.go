package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/memohai/supportbot/internal/config"
)

// Airtable looks phones up in an Airtable table through the REST API.
type Airtable struct {
	http       *http.Client
	limiter    *rate.Limiter
	endpoint   string
	apiKey     string
	phoneField string
	nameField  string
	logger     *slog.Logger
}

type airtableList struct {
	Records []struct {
		ID     string         `json:"id"`
		Fields map[string]any `json:"fields"`
	} `json:"records"`
}

// NewAirtable validates cfg and builds the client. A nil httpClient gets one with the given timeout.
func NewAirtable(log *slog.Logger, cfg config.AirtableConfig, httpClient *http.Client, timeout time.Duration) (*Airtable, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("airtable api_key is required")
	}
	if strings.TrimSpace(cfg.BaseID) == "" || strings.TrimSpace(cfg.Table) == "" {
		return nil, errors.New("airtable base_id and table are required")
	}
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = config.DefaultAirtableBaseURL
	}
	return &Airtable{
		http:       httpClient,
		limiter:    rate.NewLimiter(limit, 1),
		endpoint:   baseURL + "/v0/" + url.PathEscape(cfg.BaseID) + "/" + url.PathEscape(cfg.Table),
		apiKey:     cfg.APIKey,
		phoneField: cfg.PhoneField,
		nameField:  cfg.NameField,
		logger:     log.With(slog.String("component", "airtable")),
	}, nil
}

func (a *Airtable) LookupNameByPhone(ctx context.Context, phone string) (string, error) {
	phone = NormalizePhone(phone)
	if phone == "" {
		return "", ErrNotFound
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return "", err
	}

	query := url.Values{}
	query.Set("filterByFormula", fmt.Sprintf("{%s}='%s'", a.phoneField, phone))
	query.Set("maxRecords", "1")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("airtable request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("airtable status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var list airtableList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return "", fmt.Errorf("airtable decode: %w", err)
	}
	if len(list.Records) == 0 {
		return "", ErrNotFound
	}
	name, _ := list.Records[0].Fields[a.nameField].(string)
	name = strings.TrimSpace(name)
	if name == "" {
		a.logger.Warn("directory record without name", slog.String("record_id", list.Records[0].ID))
		return "", ErrNotFound
	}
	return name, nil
}

// Package extract разбирает свободный текст клиента в поля диалога.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/Spok95/repair-bot/internal/dialog"
)

var (
	ErrTimeout     = errors.New("extraction timed out")
	ErrBadResponse = errors.New("extraction: malformed model response")
)

// Client — экстрактор поверх OpenAI-совместимого chat completions API.
type Client struct {
	api   openai.Client
	model string
	log   *slog.Logger
}

func NewClient(apiKey, baseURL, model string, log *slog.Logger) *Client {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// повтор на таймауте съедает весь бюджет хода
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Client{api: openai.NewClient(opts...), model: model, log: log}
}

func (c *Client) Extract(ctx context.Context, text string, st dialog.State) (dialog.Extraction, error) {
	resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt(text, st)),
		},
		Temperature: openai.Float(0),
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return dialog.Extraction{}, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return dialog.Extraction{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return dialog.Extraction{}, fmt.Errorf("%w: no choices", ErrBadResponse)
	}

	raw := resp.Choices[0].Message.Content
	ext, err := Parse(raw)
	if err != nil {
		c.log.Warn("unparseable extraction", "raw", raw, "err", err)
		return dialog.Extraction{}, err
	}
	c.log.Debug("extracted", "step", st.Step, "fields", len(ext.Fields), "confidence", ext.Confidence)
	return ext, nil
}

type response struct {
	Fields     map[string]any `json:"fields"`
	Confidence float64        `json:"confidence"`
	Correction bool           `json:"correction"`
}

// Parse разбирает JSON-ответ модели. Неизвестные поля и пустые значения
// отбрасываются, ```json-обёртка допускается.
func Parse(raw string) (dialog.Extraction, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	if i := strings.IndexByte(s, '{'); i > 0 {
		s = s[i:]
	}

	var r response
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return dialog.Extraction{}, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}

	ext := dialog.Extraction{
		Fields:     make(map[dialog.Field]string, len(r.Fields)),
		Confidence: min(max(r.Confidence, 0), 1),
		Correction: r.Correction,
	}
	for k, v := range r.Fields {
		f := dialog.Field(k)
		if _, ok := knownFields[f]; !ok || v == nil {
			continue
		}
		val := strings.TrimSpace(fmt.Sprint(v))
		if val == "" {
			continue
		}
		ext.Fields[f] = val
	}
	return ext, nil
}

var knownFields = map[dialog.Field]struct{}{
	dialog.FieldCategory:       {},
	dialog.FieldBrand:          {},
	dialog.FieldModel:          {},
	dialog.FieldRepairType:     {},
	dialog.FieldProblem:        {},
	dialog.FieldName:           {},
	dialog.FieldPhone:          {},
	dialog.FieldUrgency:        {},
	dialog.FieldPreviousRepair: {},
	dialog.FieldPreferredTime:  {},
	dialog.FieldDecision:       {},
	dialog.FieldIntent:         {},
}

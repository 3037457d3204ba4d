package enrichment

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/time/rate"

	"finscribe/internal/config"
	"finscribe/internal/errkind"
	"finscribe/internal/logger"
	"finscribe/pkg/models"
)

const (
	openAIName       = "openai"
	defaultModel     = "gpt-4o-mini"
	maxResponseToken = 2000
)

// OpenAI enriches structured text through the chat completions API in JSON
// mode. Any OpenAI-compatible endpoint works via base_url.
type OpenAI struct {
	client        *openai.Client
	cfg           config.OpenAISection
	schema        *jsonschema.Schema
	schemaVersion string
	limiter       *rate.Limiter
	log           zerolog.Logger
}

// NewOpenAI creates the provider from configuration.
func NewOpenAI(cfg config.OpenAISection, schemaVersion string) (*OpenAI, error) {
	const op = "NewOpenAI"

	if cfg.APIKey == "" {
		return nil, &EnrichmentError{Provider: openAIName, Op: op, Err: fmt.Errorf("%w: OPENAI_API_KEY not set", ErrMissingCredentials)}
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.TimeoutSeconds > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second}
	}

	return NewOpenAIWithClient(openai.NewClientWithConfig(clientCfg), cfg, schemaVersion)
}

// NewOpenAIWithClient creates the provider around an existing client.
func NewOpenAIWithClient(client *openai.Client, cfg config.OpenAISection, schemaVersion string) (*OpenAI, error) {
	if schemaVersion == "" {
		schemaVersion = SchemaV1
	}
	schema, err := CompileInvoiceSchema(schemaVersion)
	if err != nil {
		return nil, &EnrichmentError{Provider: openAIName, Op: "NewOpenAIWithClient", Err: err}
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}

	return &OpenAI{
		client:        client,
		cfg:           cfg,
		schema:        schema,
		schemaVersion: schemaVersion,
		limiter:       newLimiter(cfg.RequestsPerMinute),
		log:           logger.WithComponent("enrichment.openai"),
	}, nil
}

// newLimiter spaces requests evenly; a non-positive rpm disables limiting.
func newLimiter(rpm int) *rate.Limiter {
	if rpm <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1)
}

func (o *OpenAI) Name() string { return openAIName }

func (o *OpenAI) ModelVersion() string { return o.cfg.Model }

// Enrich asks the model for an invoice, retrying on transport errors and on
// output that is not valid JSON or does not match the schema.
func (o *OpenAI) Enrich(ctx context.Context, structuredText string, fileBytes []byte) (*models.EnrichmentResult, error) {
	const op = "Enrich"
	start := time.Now()

	if strings.TrimSpace(structuredText) == "" {
		return nil, errkind.New(errkind.UnrepresentableInput, "enrichment.Enrich", nil, "empty structured text")
	}

	req := o.buildRequest(structuredText, fileBytes)

	o.log.Debug().
		Int("text_length", len(structuredText)).
		Str("model", o.cfg.Model).
		Float32("temperature", o.cfg.Temperature).
		Bool("image_attached", len(req.Messages[1].MultiContent) > 0).
		Msg("Sending enrichment request")

	var (
		lastErr   error
		candidate []byte
	)
	for attempt := 1; attempt <= o.cfg.MaxRetries; attempt++ {
		if err := o.limiter.Wait(ctx); err != nil {
			return nil, &EnrichmentError{Provider: openAIName, Op: op, Err: err}
		}

		resp, err := o.client.CreateChatCompletion(ctx, req)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, &EnrichmentError{Provider: openAIName, Op: op, Err: ctxErr}
			}
			lastErr = err
			o.log.Warn().
				Err(err).
				Int("attempt", attempt).
				Int("max_retries", o.cfg.MaxRetries).
				Msg("Completion request failed, retrying")
			continue
		}

		if len(resp.Choices) == 0 {
			lastErr = ErrNoChoices
			continue
		}

		content := []byte(stripCodeFence(resp.Choices[0].Message.Content))
		if !json.Valid(content) {
			lastErr = fmt.Errorf("response is not valid JSON")
			o.log.Warn().
				Str("response", string(content)).
				Int("attempt", attempt).
				Msg("Failed to parse completion response, retrying")
			continue
		}

		if err := ValidateInvoiceJSON(o.schema, content); err != nil {
			lastErr = fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
			candidate = content
			o.log.Warn().
				Err(err).
				Int("attempt", attempt).
				Msg("Completion response does not match schema, retrying")
			continue
		}

		result, err := decodeResult(content)
		if err != nil {
			lastErr = err
			continue
		}
		result.Status = StatusSuccess

		o.log.Info().
			Str("response_model", resp.Model).
			Int("line_items", len(result.StructuredData.LineItems)).
			Int("attempt", attempt).
			Int("total_tokens", resp.Usage.TotalTokens).
			Msg("Successfully extracted invoice data")

		return o.finish(result, start), nil
	}

	if candidate != nil {
		if result, err := decodeResult(candidate); err == nil {
			o.log.Warn().
				Err(lastErr).
				Msg("Using last schema-mismatched response as partial result")
			result.Status = StatusPartial
			return o.finish(result, start), nil
		}
	}

	return nil, &EnrichmentError{
		Provider: openAIName,
		Op:       op,
		Err:      fmt.Errorf("all %d attempts failed, last error: %w", o.cfg.MaxRetries, lastErr),
	}
}

func (o *OpenAI) finish(result *models.EnrichmentResult, start time.Time) *models.EnrichmentResult {
	result.ModelVersion = o.cfg.Model
	result.ProcessingTimeMS = time.Since(start).Milliseconds()
	return result
}

func (o *OpenAI) buildRequest(structuredText string, fileBytes []byte) openai.ChatCompletionRequest {
	prompt := "Extract the invoice from the following document. Blocks are labeled " +
		"[TABLE], [KEY-VALUE], [LIST], [HEADER], [FOOTER] or [TEXT].\n\n" + structuredText

	user := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt}
	if o.cfg.AttachImages && len(fileBytes) > 0 {
		if mime := http.DetectContentType(fileBytes); isAttachableImage(mime) {
			user.Content = ""
			user.MultiContent = []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: prompt},
				{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL:    "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(fileBytes),
						Detail: openai.ImageURLDetailAuto,
					},
				},
			}
		}
	}

	return openai.ChatCompletionRequest{
		Model:       o.cfg.Model,
		Temperature: o.cfg.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt(o.schemaVersion),
			},
			user,
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		MaxTokens: maxResponseToken,
	}
}

func isAttachableImage(mime string) bool {
	switch mime {
	case "image/png", "image/jpeg", "image/gif", "image/webp":
		return true
	}
	return false
}

func systemPrompt(schemaVersion string) string {
	return fmt.Sprintf(`You extract financial data from invoices and receipts (schema %s).

Return ONLY a JSON object with these fields:
- invoice_number, invoice_date, due_date: strings or null; dates as YYYY-MM-DD
- vendor, client: objects {"name", "address", "tax_id"} or null
- line_items: array of {"description", "quantity", "unit_price", "line_total"}
- financial_summary: {"subtotal", "tax_amount", "tax_rate", "discount_amount", "grand_total", "currency"}
- confidence_scores: object mapping field names to a confidence between 0 and 1

Rules:
- Amounts are plain numbers without currency symbols or thousands separators
- tax_rate is a fraction (0.19 for 19%%), omit it when not printed
- currency is an ISO 4217 code
- Copy the printed totals even if they do not add up; do not correct arithmetic
- Use null for missing values and an empty array when there are no line items`, schemaVersion)
}

// stripCodeFence removes a ```json ... ``` wrapper some models add despite
// JSON mode.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

type envelope struct {
	models.Invoice
	ConfidenceScores map[string]float64 `json:"confidence_scores"`
}

func decodeResult(content []byte) (*models.EnrichmentResult, error) {
	var env envelope
	if err := json.Unmarshal(content, &env); err != nil {
		return nil, fmt.Errorf("decode invoice: %w", err)
	}
	if env.LineItems == nil {
		env.LineItems = []models.LineItem{}
	}

	var scores map[string]float64
	if len(env.ConfidenceScores) > 0 {
		scores = make(map[string]float64, len(env.ConfidenceScores))
		for field, score := range env.ConfidenceScores {
			scores[field] = min(max(score, 0), 1)
		}
	}

	return &models.EnrichmentResult{
		StructuredData:   env.Invoice,
		ConfidenceScores: scores,
	}, nil
}

// IsRetryable reports whether err came from a transient provider condition
// that a later run may not hit.
func IsRetryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	return errors.Is(err, context.DeadlineExceeded)
}

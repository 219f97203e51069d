// Package gemini implements the free-form Prisma chat on top of Google's
// Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"google.golang.org/genai"

	"github.com/mcards/prismabot/internal/config"
	"github.com/mcards/prismabot/internal/database"
)

// Client generates Prisma replies for messages outside the guided dialog.
type Client interface {
	// GenerateReply answers the last message of history. workspace is an
	// optional block describing the chat's project.
	GenerateReply(ctx context.Context, history []*database.Message, workspace, botUsername, botFirstName string) (string, error)

	// GenerateImageReply is GenerateReply for a last message that carries
	// a picture.
	GenerateImageReply(ctx context.Context, history []*database.Message, image Image, workspace, botUsername, botFirstName string) (string, error)

	// FallbackReply returns one of the configured static replies.
	FallbackReply() string
}

// Image is an inline picture sent along with the last history message.
type Image struct {
	Data     []byte
	MIMEType string
}

type sdkClient struct {
	genaiClient      *genai.Client
	log              *slog.Logger
	contentConfig    *genai.GenerateContentConfig
	defaultModelName string
	maxRetries       int
	retryDelay       time.Duration
	fallbacks        []string
	breaker          *gobreaker.CircuitBreaker
}

// NewClient creates a Gemini client from configuration.
func NewClient(ctx context.Context, cfg config.GeminiConfig, log *slog.Logger) (Client, error) {
	return newClient(ctx, cfg, log, genai.HTTPOptions{})
}

func newClient(ctx context.Context, cfg config.GeminiConfig, log *slog.Logger, httpOpts genai.HTTPOptions) (*sdkClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if log == nil {
		log = slog.Default()
	}

	gi, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: httpOpts,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	temperature := cfg.Temperature
	baseCfg := &genai.GenerateContentConfig{
		Temperature: &temperature,
	}
	if cfg.SystemInstruction != "" {
		baseCfg.SystemInstruction = genai.NewContentFromText(cfg.SystemInstruction, genai.RoleUser)
	}

	fallbacks := cfg.FallbackReplies
	if len(fallbacks) == 0 {
		fallbacks = config.DefaultFallbackReplies
	}

	logger := log.With("component", "gemini_client")
	logger.Info("Gemini client initialized", "model", cfg.ModelName, "breaker_failures", cfg.BreakerFailures)
	return &sdkClient{
		genaiClient:      gi,
		log:              logger,
		contentConfig:    baseCfg,
		defaultModelName: cfg.ModelName,
		maxRetries:       cfg.MaxRetries,
		retryDelay:       time.Duration(cfg.RetryDelaySeconds) * time.Second,
		fallbacks:        fallbacks,
		breaker:          newBreaker(cfg, logger),
	}, nil
}

// newBreaker returns nil when the breaker is disabled.
func newBreaker(cfg config.GeminiConfig, log *slog.Logger) *gobreaker.CircuitBreaker {
	if cfg.BreakerFailures <= 0 {
		return nil
	}
	failures := uint32(cfg.BreakerFailures)

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "gemini",
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// A caller giving up says nothing about the API's health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("Circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})
}

// withInstruction returns a copy of the base config whose system
// instruction starts with the bot header and ends with the workspace block.
func (c *sdkClient) withInstruction(botUsername, botFirstName, workspace string) *genai.GenerateContentConfig {
	copyCfg := *c.contentConfig

	text := fmt.Sprintf(ChatHeader, botFirstName, botUsername, botUsername)
	if c.contentConfig.SystemInstruction != nil && len(c.contentConfig.SystemInstruction.Parts) > 0 {
		text += c.contentConfig.SystemInstruction.Parts[0].Text
	}
	if workspace != "" {
		text += "\n\n" + workspace
	}

	copyCfg.SystemInstruction = genai.NewContentFromText(text, genai.RoleUser)
	return &copyCfg
}

func (c *sdkClient) GenerateReply(ctx context.Context, history []*database.Message, workspace, botUsername, botFirstName string) (string, error) {
	if len(history) == 0 {
		return "", fmt.Errorf("no messages to reply to")
	}
	c.log.DebugContext(ctx, "Generating reply", "message_count", len(history), "has_workspace", workspace != "")

	resp, err := c.generate(ctx, c.defaultModelName, historyContents(history), c.withInstruction(botUsername, botFirstName, workspace))
	if err != nil {
		return "", err
	}
	return c.extractText(ctx, resp)
}

func (c *sdkClient) GenerateImageReply(ctx context.Context, history []*database.Message, image Image, workspace, botUsername, botFirstName string) (string, error) {
	if len(history) == 0 {
		return "", fmt.Errorf("no messages to reply to")
	}
	if len(image.Data) == 0 {
		return "", fmt.Errorf("image is empty")
	}
	mimeType := image.MIMEType
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	c.log.DebugContext(ctx, "Generating image reply", "message_count", len(history), "image_bytes", len(image.Data), "mime_type", mimeType)

	contents := historyContents(history)
	last := contents[len(contents)-1]
	if last.Role != genai.RoleUser {
		last = genai.NewContentFromParts(nil, genai.RoleUser)
		contents = append(contents, last)
	}
	last.Parts = append(last.Parts,
		genai.NewPartFromBytes(image.Data, mimeType),
		genai.NewPartFromText(imageInstruction),
	)

	resp, err := c.generate(ctx, c.defaultModelName, contents, c.withInstruction(botUsername, botFirstName, workspace))
	if err != nil {
		return "", err
	}
	return c.extractText(ctx, resp)
}

func historyContents(history []*database.Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history))
	for _, m := range history {
		var role genai.Role = genai.RoleUser
		if m.Role == database.RoleBot {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(formatMessage(m), role))
	}
	return contents
}

func (c *sdkClient) FallbackReply() string {
	return c.fallbacks[rand.IntN(len(c.fallbacks))]
}

// apiErrorCode extracts the HTTP status of a genai API error, which the SDK
// may return by value or by pointer.
func apiErrorCode(err error) (int, bool) {
	for e := err; e != nil; e = errors.Unwrap(e) {
		switch v := any(e).(type) {
		case genai.APIError:
			return v.Code, true
		case *genai.APIError:
			if v != nil {
				return v.Code, true
			}
		}
	}
	return 0, false
}

func isRetriable(err error) bool {
	code, ok := apiErrorCode(err)
	return ok && (code == http.StatusInternalServerError || code == http.StatusServiceUnavailable)
}

// generate runs the retrying call through the circuit breaker, failing
// fast while the circuit is open.
func (c *sdkClient) generate(ctx context.Context, modelName string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	if c.breaker == nil {
		return c.generateContentWithRetries(ctx, modelName, contents, cfg)
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.generateContentWithRetries(ctx, modelName, contents, cfg)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.log.WarnContext(ctx, "Skipping Gemini call, circuit is open", "error", err)
			return nil, fmt.Errorf("gemini unavailable: %w", err)
		}
		return nil, err
	}
	return out.(*genai.GenerateContentResponse), nil
}

func (c *sdkClient) generateContentWithRetries(ctx context.Context, modelName string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	var err error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		var resp *genai.GenerateContentResponse
		resp, err = c.genaiClient.Models.GenerateContent(ctx, modelName, contents, cfg)
		if err == nil {
			return resp, nil
		}

		if !isRetriable(err) {
			c.log.ErrorContext(ctx, "Gemini API call failed with non-retriable error", "error", err)
			return nil, fmt.Errorf("gemini API call failed: %w", err)
		}
		if attempt == c.maxRetries {
			break
		}

		c.log.WarnContext(ctx, "Retrying Gemini API call", "attempt", attempt+1, "max_retries", c.maxRetries, "delay", c.retryDelay, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.retryDelay):
		}
	}

	c.log.ErrorContext(ctx, "Gemini API call failed after max retries", "error", err)
	return nil, fmt.Errorf("gemini API call failed after %d retries: %w", c.maxRetries, err)
}

func (c *sdkClient) extractText(ctx context.Context, resp *genai.GenerateContentResponse) (string, error) {
	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != genai.BlockedReasonUnspecified && fmt.Sprint(fb.BlockReason) != "" {
		reason := fmt.Sprint(fb.BlockReason)
		if fb.BlockReasonMessage != "" {
			reason = fb.BlockReasonMessage
		}
		c.log.WarnContext(ctx, "Gemini request blocked", "reason", reason)
		return "", fmt.Errorf("reply blocked by safety filter: %s", reason)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		finishReason := "unknown"
		if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason != genai.FinishReasonUnspecified {
			finishReason = fmt.Sprint(resp.Candidates[0].FinishReason)
		}
		return "", fmt.Errorf("reply has no content, finish reason: %s", finishReason)
	}

	text := stripEchoedPrefix(resp.Text())
	if text == "" {
		return "", fmt.Errorf("reply is empty after stripping prefixes")
	}
	return text, nil
}

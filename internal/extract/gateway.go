// Package extract asks a language model to validate one intake answer and
// turns its JSON reply into an intake.Decision.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/intake-chat/internal/intake"
	"github.com/ashureev/intake-chat/internal/metrics"
	"github.com/bytedance/sonic"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ErrMalformedReply means the model answered with something other than a JSON
// object carrying a string message and a boolean valid flag.
var ErrMalformedReply = errors.New("malformed extraction reply")

// ChatModel is the part of an eino chat model the gateway uses.
type ChatModel interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

// ModelConfig selects an OpenAI-compatible endpoint.
type ModelConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// NewOpenAIModel builds the production chat model.
func NewOpenAIModel(ctx context.Context, cfg ModelConfig) (ChatModel, error) {
	cm, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		BaseURL: cfg.BaseURL,
		Timeout: cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("init chat model: %w", err)
	}
	return cm, nil
}

// Gateway implements intake.Extractor on top of a chat model.
type Gateway struct {
	model   ChatModel
	timeout time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewGateway creates a gateway. A zero timeout leaves the deadline to the
// caller's context; m may be nil.
func NewGateway(cm ChatModel, timeout time.Duration, m *metrics.Metrics, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		model:   cm,
		timeout: timeout,
		metrics: m,
		logger:  logger,
	}
}

// Extract sends the step contract and the user's answer to the model and
// decodes its verdict. There is no retry.
func (g *Gateway) Extract(ctx context.Context, contract intake.Contract, input string) (intake.Decision, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	step := string(contract.Step)
	start := time.Now()

	resp, err := g.model.Generate(ctx, []*schema.Message{
		schema.SystemMessage(contract.Instructions),
		schema.UserMessage(contract.UserContent(input)),
	})
	elapsed := time.Since(start)
	if err != nil {
		reason := "model_error"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "timeout"
		}
		g.metrics.Extraction(step, elapsed, reason)
		g.logger.Warn("Extraction call failed", "step", step, "elapsed", elapsed, "error", err)
		return intake.Decision{}, fmt.Errorf("call model: %w", err)
	}
	if resp == nil {
		g.metrics.Extraction(step, elapsed, "malformed")
		return intake.Decision{}, fmt.Errorf("%w: empty response", ErrMalformedReply)
	}

	decision, err := ParseReply(resp.Content)
	if err != nil {
		g.metrics.Extraction(step, elapsed, "malformed")
		g.logger.Warn("Extraction reply rejected",
			"step", step,
			"reply_length", len(resp.Content),
			"error", err,
		)
		return intake.Decision{}, err
	}

	g.metrics.Extraction(step, elapsed, "")
	g.logger.Debug("Extraction completed", "step", step, "elapsed", elapsed, "valid", decision.Valid)
	return decision, nil
}

var _ intake.Extractor = (*Gateway)(nil)

// ParseReply decodes a model reply. Markdown code fences around the JSON are
// tolerated.
func ParseReply(content string) (intake.Decision, error) {
	body := stripCodeFence(content)
	if body == "" {
		return intake.Decision{}, fmt.Errorf("%w: empty content", ErrMalformedReply)
	}

	var raw map[string]any
	if err := sonic.UnmarshalString(body, &raw); err != nil {
		return intake.Decision{}, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	if raw == nil {
		return intake.Decision{}, fmt.Errorf("%w: not an object", ErrMalformedReply)
	}

	message, ok := raw["message"].(string)
	if !ok {
		return intake.Decision{}, fmt.Errorf("%w: missing string field message", ErrMalformedReply)
	}
	valid, ok := raw["valid"].(bool)
	if !ok {
		return intake.Decision{}, fmt.Errorf("%w: missing boolean field valid", ErrMalformedReply)
	}

	delete(raw, "message")
	delete(raw, "valid")
	return intake.Decision{
		Valid:   valid,
		Message: message,
		Fields:  raw,
	}, nil
}

func stripCodeFence(content string) string {
	s := strings.TrimSpace(content)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	// Drop the opening fence together with its info string, e.g. ```json.
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

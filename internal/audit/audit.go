// Package audit asks a language model to second-guess a detection before
// the dashboard raises an alert. In the caatinga, NDVI collapse during
// the dry season looks exactly like clearing; the audit weighs the
// numbers and says which it believes. Audit failures never fail a run.
package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sertao-labs/sentinela/internal/aggregate"
)

// Client defines the model API operations the auditor uses.
type Client interface {
	CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error)
}

// MessageRequest is our own request type for CreateMessage.
type MessageRequest struct {
	Model     string
	MaxTokens int64
	System    string
	Messages  []Message
}

// Message represents a single conversational message.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// MessageResponse is our own response type from CreateMessage.
type MessageResponse struct {
	ID         string
	Model      string
	Text       string
	StopReason string
	Usage      TokenUsage
}

// TokenUsage tracks token consumption.
type TokenUsage struct {
	InputTokens  int64
	OutputTokens int64
}

// sdkClient implements Client using the official anthropic-sdk-go.
type sdkClient struct {
	client sdk.Client
}

// NewClient creates a model client backed by the SDK.
func NewClient(apiKey string) Client {
	return &sdkClient{
		client: sdk.NewClient(
			option.WithAPIKey(apiKey),
		),
	}
}

func (c *sdkClient) CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: req.MaxTokens,
		Messages:  toSDKMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, eris.Wrap(err, "audit: create message")
	}

	var text strings.Builder
	for _, b := range msg.Content {
		if b.Type == "text" {
			text.WriteString(b.Text)
		}
	}

	return &MessageResponse{
		ID:         msg.ID,
		Model:      string(msg.Model),
		Text:       text.String(),
		StopReason: string(msg.StopReason),
		Usage: TokenUsage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
	}, nil
}

func toSDKMessages(msgs []Message) []sdk.MessageParam {
	out := make([]sdk.MessageParam, len(msgs))
	for i, m := range msgs {
		block := sdk.NewTextBlock(m.Content)
		switch m.Role {
		case "assistant":
			out[i] = sdk.NewAssistantMessage(block)
		default:
			out[i] = sdk.NewUserMessage(block)
		}
	}
	return out
}

// Finding is what the auditor receives about a detection.
type Finding struct {
	ROIName       string
	Lens          string
	ReferenceDate time.Time
	SceneDate     time.Time
	CloudCover    float64
	Area          aggregate.AreaResult
	MeanIndex     float64 // index mean over the ROI for the current scene
	BaselineMean  float64 // baseline mean, vegetation lens only
}

// Assessment is the auditor's opinion.
type Assessment struct {
	Verdict string `json:"verdict"` // free-text, first line of the reply
	Detail  string `json:"detail"`
	Model   string `json:"model,omitempty"`
}

const systemPrompt = `Você é um analista de sensoriamento remoto do semiárido brasileiro.
Avalie alertas de mudança detectados por índices espectrais sobre municípios.
Considere a sazonalidade da caatinga: quedas de NDVI na estação seca são
esperadas e não indicam desmatamento. Responda em português, direto ao ponto:
primeira linha com o veredito (provável desmatamento / provável seca sazonal /
inconclusivo), depois uma justificativa curta baseada nos números.`

// Auditor runs model audits over detections.
type Auditor struct {
	client    Client
	model     string
	maxTokens int64
}

// NewAuditor creates an auditor using the given model.
func NewAuditor(client Client, model string) *Auditor {
	return &Auditor{client: client, model: model, maxTokens: 1024}
}

// Audit asks the model whether the finding looks like real change or a
// seasonal artifact. Errors are returned for the caller to log; a run
// must not fail because the audit did.
func (a *Auditor) Audit(ctx context.Context, f Finding) (*Assessment, error) {
	resp, err := a.client.CreateMessage(ctx, MessageRequest{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		System:    systemPrompt,
		Messages:  []Message{{Role: "user", Content: buildPrompt(f)}},
	})
	if err != nil {
		return nil, err
	}

	zap.L().Debug("audit: model reply",
		zap.String("model", resp.Model),
		zap.Int64("input_tokens", resp.Usage.InputTokens),
		zap.Int64("output_tokens", resp.Usage.OutputTokens),
	)

	verdict, detail, _ := strings.Cut(strings.TrimSpace(resp.Text), "\n")
	return &Assessment{
		Verdict: strings.TrimSpace(verdict),
		Detail:  strings.TrimSpace(detail),
		Model:   resp.Model,
	}, nil
}

func buildPrompt(f Finding) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Região: %s\n", f.ROIName)
	fmt.Fprintf(&b, "Análise: %s\n", f.Lens)
	fmt.Fprintf(&b, "Data de referência: %s\n", f.ReferenceDate.Format("2006-01-02"))
	fmt.Fprintf(&b, "Data da cena: %s (nuvens: %.1f%%)\n", f.SceneDate.Format("2006-01-02"), f.CloudCover)

	switch f.Area.Status {
	case aggregate.StatusUnavailable:
		b.WriteString("Área detectada: não pôde ser computada dentro do orçamento\n")
	default:
		fmt.Fprintf(&b, "Área detectada: %.2f ha (escala %.0f m)\n", f.Area.Hectares, f.Area.ScaleM)
	}

	fmt.Fprintf(&b, "Índice médio atual sobre a região: %.3f\n", f.MeanIndex)
	if f.BaselineMean != 0 {
		fmt.Fprintf(&b, "Índice médio histórico (mediana ~1 ano antes): %.3f\n", f.BaselineMean)
	}

	b.WriteString("\nEste alerta indica mudança real ou artefato sazonal?")
	return b.String()
}

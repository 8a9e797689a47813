// Package docparse extracts intake fields from uploaded client documents
// using the Claude Messages API.
package docparse

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/gosuda/taskrelay/internal/domain"
)

const (
	DefaultModel     = "claude-sonnet-4-5"
	defaultMaxTokens = 1024
)

var (
	// ErrEmptyDocument is returned when the uploaded file has no content.
	ErrEmptyDocument = fmt.Errorf("docparse: empty document: %w", domain.ErrInvalidInput) //nolint:gochecknoglobals // sentinel error
	// ErrUnsupportedType is returned for media types the model cannot read.
	ErrUnsupportedType = fmt.Errorf("docparse: unsupported media type: %w", domain.ErrInvalidInput) //nolint:gochecknoglobals // sentinel error
	// ErrNoText is returned when the model reply carries no text block.
	ErrNoText = errors.New("docparse: no text in model response") //nolint:gochecknoglobals // sentinel error
)

const extractPrompt = `Please extract the following information from this document and return it as JSON:
- client_name: The client's full name
- email: The client's email address
- state: The state (if mentioned)
- form_url: The target form URL (if mentioned, otherwise use a placeholder)

Return ONLY valid JSON, no other text. Use this format:
{
  "client_name": "...",
  "email": "...",
  "state": "...",
  "form_url": "https://your-lawmatics-url.com/form"
}`

// MessagesClient is the subset of the Anthropic SDK used here. It is
// satisfied by *sdk.MessageService.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Fields is the structured data pulled out of a document.
type Fields struct {
	ClientName string `json:"client_name"`
	Email      string `json:"email"`
	State      string `json:"state"`
	FormURL    string `json:"form_url"`
}

// Parser sends documents to the model and decodes its reply.
type Parser struct {
	msg   MessagesClient
	model string
}

func New(msg MessagesClient, model string) *Parser {
	if model == "" {
		model = DefaultModel
	}
	return &Parser{msg: msg, model: model}
}

// NewFromAPIKey builds a Parser on the default Anthropic HTTP client.
func NewFromAPIKey(apiKey, model string) (*Parser, error) {
	if apiKey == "" {
		return nil, errors.New("docparse.NewFromAPIKey: api key is required")
	}
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&client.Messages, model), nil
}

// Parse extracts Fields from data. An empty mediaType is treated as PDF.
func (p *Parser) Parse(ctx context.Context, data []byte, mediaType string) (*Fields, error) {
	if len(data) == 0 {
		return nil, ErrEmptyDocument
	}

	doc, err := documentBlock(data, mediaType)
	if err != nil {
		return nil, err
	}

	msg, err := p.msg.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(p.model),
		MaxTokens: defaultMaxTokens,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(doc, sdk.NewTextBlock(extractPrompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("docparse.Parser.Parse: messages.new: %w", err)
	}

	text, ok := firstText(msg)
	if !ok {
		return nil, ErrNoText
	}

	var fields Fields
	if err := json.Unmarshal([]byte(StripCodeFence(text)), &fields); err != nil {
		return nil, fmt.Errorf("docparse.Parser.Parse: decode reply: %w", err)
	}
	return &fields, nil
}

func documentBlock(data []byte, mediaType string) (sdk.ContentBlockParamUnion, error) {
	if i := strings.IndexByte(mediaType, ';'); i >= 0 {
		mediaType = mediaType[:i]
	}
	mediaType = strings.TrimSpace(strings.ToLower(mediaType))

	switch mediaType {
	case "", "application/pdf", "application/octet-stream":
		return sdk.NewDocumentBlock(sdk.Base64PDFSourceParam{
			Data: base64.StdEncoding.EncodeToString(data),
		}), nil
	case "text/plain":
		return sdk.NewDocumentBlock(sdk.PlainTextSourceParam{Data: string(data)}), nil
	case "image/jpeg", "image/png", "image/gif", "image/webp":
		return sdk.NewImageBlockBase64(mediaType, base64.StdEncoding.EncodeToString(data)), nil
	default:
		return sdk.ContentBlockParamUnion{}, fmt.Errorf("%w: %s", ErrUnsupportedType, mediaType)
	}
}

func firstText(msg *sdk.Message) (string, bool) {
	if msg == nil {
		return "", false
	}
	for _, block := range msg.Content {
		if block.Type == "text" {
			return block.Text, true
		}
	}
	return "", false
}

// StripCodeFence removes a surrounding markdown code fence, with or without
// a language tag, from a model reply.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

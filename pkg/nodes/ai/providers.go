package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/dukex/nodebase/pkg/models"
	"github.com/openai/openai-go"
	openaioption "github.com/openai/openai-go/option"
	"google.golang.org/genai"
)

// The SDKs do not retry; failed calls are retried by the step runner.
const sdkMaxRetries = 0

type openAI struct{}

func (openAI) nodeType() models.NodeType { return models.NodeTypeOpenAI }
func (openAI) credential() models.CredentialProvider { return models.CredentialProviderOpenAI }
func (openAI) defaultModel() string { return "gpt-4o-mini" }

func (openAI) generate(ctx context.Context, cfg clientConfig, prompt Prompt) (string, error) {
	opts := []openaioption.RequestOption{
		openaioption.WithAPIKey(cfg.apiKey),
		openaioption.WithHTTPClient(cfg.httpClient),
		openaioption.WithMaxRetries(sdkMaxRetries),
	}

	if cfg.baseURL != "" {
		opts = append(opts, openaioption.WithBaseURL(strings.TrimSuffix(cfg.baseURL, "/")+"/v1/"))
	}

	client := openai.NewClient(opts...)

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if prompt.System != "" {
		messages = append(messages, openai.SystemMessage(prompt.System))
	}

	messages = append(messages, openai.UserMessage(prompt.User))

	completion, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(prompt.Model),
		Messages: messages,
	})
	if err != nil {
		return "", err
	}

	if len(completion.Choices) == 0 {
		return "", errEmptyCompletion
	}

	return completion.Choices[0].Message.Content, nil
}

func (openAI) statusCode(err error) (int, bool) {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode, true
	}

	return 0, false
}

const anthropicMaxTokens = 4096

type anthropicProvider struct{}

func (anthropicProvider) nodeType() models.NodeType { return models.NodeTypeAnthropic }
func (anthropicProvider) credential() models.CredentialProvider { return models.CredentialProviderAnthropic }
func (anthropicProvider) defaultModel() string { return "claude-3-5-haiku-latest" }

func (anthropicProvider) generate(ctx context.Context, cfg clientConfig, prompt Prompt) (string, error) {
	opts := []anthropicoption.RequestOption{
		anthropicoption.WithAPIKey(cfg.apiKey),
		anthropicoption.WithHTTPClient(cfg.httpClient),
		anthropicoption.WithMaxRetries(sdkMaxRetries),
	}

	if cfg.baseURL != "" {
		opts = append(opts, anthropicoption.WithBaseURL(strings.TrimSuffix(cfg.baseURL, "/")+"/"))
	}

	client := anthropic.NewClient(opts...)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(prompt.Model),
		MaxTokens: anthropicMaxTokens,
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt.User))},
	}

	if prompt.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: prompt.System}}
	}

	message, err := client.Messages.New(ctx, params)
	if err != nil {
		return "", err
	}

	var text strings.Builder

	for _, block := range message.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	if text.Len() == 0 {
		return "", errEmptyCompletion
	}

	return text.String(), nil
}

func (anthropicProvider) statusCode(err error) (int, bool) {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode, true
	}

	return 0, false
}

const geminiAPIVersion = "v1beta"

type geminiProvider struct{}

func (geminiProvider) nodeType() models.NodeType { return models.NodeTypeGemini }
func (geminiProvider) credential() models.CredentialProvider { return models.CredentialProviderGemini }
func (geminiProvider) defaultModel() string { return "gemini-2.0-flash" }

func (geminiProvider) generate(ctx context.Context, cfg clientConfig, prompt Prompt) (string, error) {
	httpOptions := genai.HTTPOptions{APIVersion: geminiAPIVersion}
	if cfg.baseURL != "" {
		httpOptions.BaseURL = strings.TrimSuffix(cfg.baseURL, "/") + "/"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      cfg.apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  cfg.httpClient,
		HTTPOptions: httpOptions,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create gemini client: %w", err)
	}

	var config *genai.GenerateContentConfig
	if prompt.System != "" {
		config = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(prompt.System, genai.RoleUser),
		}
	}

	resp, err := client.Models.GenerateContent(ctx, prompt.Model, genai.Text(prompt.User), config)
	if err != nil {
		return "", err
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errEmptyCompletion
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			text.WriteString(part.Text)
		}
	}

	if text.Len() == 0 {
		return "", errEmptyCompletion
	}

	return text.String(), nil
}

func (geminiProvider) statusCode(err error) (int, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, true
	}

	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return apiErrPtr.Code, true
	}

	return 0, false
}

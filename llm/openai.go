// ABOUTME: OpenAI Chat Completions client with base URL support for compatible providers.
// ABOUTME: Wraps every call in the retry policy and classifies API failures into the typed error hierarchy.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAIClient implements Client using the OpenAI Chat Completions API.
// A custom base URL enables OpenAI-compatible providers.
type OpenAIClient struct {
	client openai.Client
	model  string
	policy RetryPolicy
}

// OpenAIOption configures an OpenAIClient.
type OpenAIOption func(*OpenAIClient)

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(policy RetryPolicy) OpenAIOption {
	return func(c *OpenAIClient) {
		c.policy = policy
	}
}

// NewOpenAIClient creates a Chat Completions client. An empty baseURL targets
// the OpenAI API; an empty model falls back per-request to Request.Model.
func NewOpenAIClient(apiKey, model, baseURL string, opts ...OpenAIOption) *OpenAIClient {
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}
	c := &OpenAIClient{
		client: openai.NewClient(reqOpts...),
		model:  model,
		policy: DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete sends a completion request, retrying transient failures.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (*Response, error) {
	params := c.buildParams(req)

	return Retry(ctx, c.policy, func() (*Response, error) {
		resp, err := c.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return nil, classifyOpenAIError(err)
		}
		return convertResponse(resp), nil
	})
}

func (c *OpenAIClient) buildParams(req Request) openai.ChatCompletionNewParams {
	model := req.Model
	if model == "" {
		model = c.model
	}

	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(model),
	}

	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.JSONMode {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		default:
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}
	params.Messages = messages

	return params
}

func convertResponse(resp *openai.ChatCompletion) *Response {
	out := &Response{
		Model:        resp.Model,
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
	}
	if len(resp.Choices) > 0 {
		out.Text = resp.Choices[0].Message.Content
	}
	return out
}

// classifyOpenAIError converts SDK failures into the typed hierarchy so the
// retry wrapper can decide retryability.
func classifyOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return ErrorFromStatusCode(apiErr.StatusCode, fmt.Sprintf("openai: HTTP %d", apiErr.StatusCode), "openai", "")
	}
	return ClassifyNetworkError(err)
}

var _ Client = (*OpenAIClient)(nil)

// Package openaicap implements the optional concrete Classifier,
// Transcriber, and VisionDescriber capabilities on top of
// github.com/sashabaranov/go-openai, the LLM client the pack's worker
// service already depends on.
package openaicap

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/chittyos/chittyrouter-sub005/capability"
	openai "github.com/sashabaranov/go-openai"
)

// Client adapts an *openai.Client to the gateway's capability contracts.
type Client struct {
	api   *openai.Client
	model string
}

// New builds a Client. model is the chat-completion model used for
// classification, e.g. "gpt-4o-mini".
func New(apiKey, model string) *Client {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &Client{api: openai.NewClient(apiKey), model: model}
}

type classifyResponse struct {
	Category    string   `json:"category"`
	Sentiment   string   `json:"sentiment"`
	UrgencyHint string   `json:"urgency_hint"`
	Entities    []string `json:"entities"`
}

const classifyPrompt = `Classify the following message. Respond with a single JSON object and no prose, with keys:
category (string), sentiment (string), urgency_hint (one of CRITICAL, HIGH, MEDIUM, LOW, or empty), entities (array of strings).`

// Classify implements capability.Classifier.
func (c *Client) Classify(ctx context.Context, contentHash, subject, body string) (capability.Classification, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: classifyPrompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf("Subject: %s\n\n%s", subject, body)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		return capability.Classification{}, capability.NewError(capability.DependencyUnavailable, "openai_classify_failed", err)
	}
	if len(resp.Choices) == 0 {
		return capability.Classification{}, capability.NewError(capability.DependencyUnavailable, "openai_empty_response", nil)
	}

	var parsed classifyResponse
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &parsed); err != nil {
		return capability.Classification{}, capability.NewError(capability.DependencyUnavailable, "openai_bad_json", err)
	}

	return capability.Classification{
		Category:    parsed.Category,
		Sentiment:   parsed.Sentiment,
		UrgencyHint: parsed.UrgencyHint,
		Entities:    parsed.Entities,
	}, nil
}

// Transcribe implements capability.Transcriber via Whisper.
func (c *Client) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, string, error) {
	resp, err := c.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		Reader:   bytes.NewReader(audio),
		FilePath: "audio" + extFromMIME(mimeType),
	})
	if err != nil {
		return "", "", capability.NewError(capability.DependencyUnavailable, "openai_transcribe_failed", err)
	}
	return resp.Text, resp.Language, nil
}

// Describe implements capability.VisionDescriber via a vision-capable
// chat completion.
func (c *Client) Describe(ctx context.Context, media []byte, mimeType string) (string, error) {
	dataURL := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(media)
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: "Describe this media for an audit log entry, in one sentence."},
					{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: dataURL}},
				},
			},
		},
	})
	if err != nil {
		return "", capability.NewError(capability.DependencyUnavailable, "openai_describe_failed", err)
	}
	if len(resp.Choices) == 0 {
		return "", capability.NewError(capability.DependencyUnavailable, "openai_empty_response", nil)
	}
	return resp.Choices[0].Message.Content, nil
}

func extFromMIME(mimeType string) string {
	switch mimeType {
	case "audio/mpeg":
		return ".mp3"
	case "audio/wav":
		return ".wav"
	default:
		return ".m4a"
	}
}

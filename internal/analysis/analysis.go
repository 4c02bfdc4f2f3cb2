package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/GideonEse/fete/internal/session"
)

const analystModel = openai.ChatModelGPT4_1Mini

const systemPrompt = `You are an expert attendance data analyst. You will be provided with attendance records and a specific question or request for analysis. Your task is to analyze the data and provide a clear and concise answer to the question.

The data includes member names, arrival times, their status (on-time or late), and exit times where recorded.`

// Analyzer answers free-text questions about flattened attendance records.
type Analyzer interface {
	Analyze(ctx context.Context, query, records string) (string, error)
}

// OpenAI implements Analyzer over the chat completions API.
type OpenAI struct {
	client openai.Client
}

// NewOpenAI creates an analyzer with the given API key.
func NewOpenAI(apiKey string) *OpenAI {
	return &OpenAI{client: openai.NewClient(option.WithAPIKey(apiKey))}
}

// Analyze sends the records and query in one completion. No retries: a
// failure is reported to the caller as-is.
func (a *OpenAI) Analyze(ctx context.Context, query, records string) (string, error) {
	userContent := fmt.Sprintf("Attendance Data:\n%s\n\nAnalysis Request:\n%s", records, query)

	resp, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: analystModel,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userContent),
		},
		MaxTokens: openai.Int(500),
	})
	if err != nil {
		return "", fmt.Errorf("analysis request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("analysis: empty response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// FlattenAttendees renders attendees one per line for the analyst:
// name, arrival time, status, and the exit time when recorded.
func FlattenAttendees(attendees []session.Attendee) string {
	var b strings.Builder
	for i := len(attendees) - 1; i >= 0; i-- {
		a := attendees[i]
		b.WriteString(a.Name)
		b.WriteString(", ")
		b.WriteString(a.ArrivalTime.Format("15:04"))
		b.WriteString(", ")
		b.WriteString(string(a.Status))
		if a.ExitTime != nil {
			b.WriteString(", exit ")
			b.WriteString(a.ExitTime.Format("15:04"))
		}
		b.WriteString("\n")
	}
	return b.String()
}

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"duck-analyst/internal/domain"
	"duck-analyst/internal/llm"
)

// SummaryKind selects the narrative template.
type SummaryKind string

// Summary kinds. Data and empty share the result template.
const (
	SummaryData    SummaryKind = "data"
	SummaryEmpty   SummaryKind = "empty"
	SummaryFailure SummaryKind = "error"
	SummaryChat    SummaryKind = "chat"
)

// SummaryInput is everything the summarizer may narrate.
type SummaryInput struct {
	Kind      SummaryKind
	Question  string
	Result    *domain.ExecutionResult
	ExecError *domain.ExecutionError
	// Failure describes a turn that never reached execution.
	Failure string
}

// Summarizer turns a finished turn into prose.
type Summarizer interface {
	Summarize(ctx context.Context, in SummaryInput) (string, error)
}

const summarizerSystemPrompt = `You are a business analyst assistant.

Turn query results into clear, actionable insights for business users.

- Lead with the most important finding and use specific, well formatted numbers (1,234.56; 1.2M; 23.5%%).
- Be conversational and concise: 3-5 sentences for simple questions.
- Mention filters or time periods that apply and note limitations of the data.
- Never mention SQL, table names, column names or database operations.

The current response type is %q.
- data: summarize the key findings; state single values directly.
- empty: explain that nothing matched, suggest likely reasons and alternative questions.
- error: explain in plain words that the data could not be retrieved and suggest a rephrasing. Never show raw errors.
- chat: respond conversationally and offer help with data questions.`

// LLMSummarizer narrates with a chat model and falls back to fixed text when
// the model is unavailable.
type LLMSummarizer struct {
	model  llm.ChatModel
	logger *slog.Logger
}

// NewLLMSummarizer creates a summarizer backed by model.
func NewLLMSummarizer(model llm.ChatModel, logger *slog.Logger) *LLMSummarizer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &LLMSummarizer{model: model, logger: logger}
}

func (s *LLMSummarizer) Summarize(ctx context.Context, in SummaryInput) (string, error) {
	answer, err := s.model.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: fmt.Sprintf(summarizerSystemPrompt, in.Kind)},
			{Role: llm.RoleUser, Content: SummaryPrompt(in)},
		},
		Temperature: 0.3,
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		s.logger.Warn("summarizer unavailable, using fallback answer", "kind", in.Kind, "error", err)
		return FallbackAnswer(in), nil
	}
	return strings.TrimSpace(answer), nil
}

// SummaryPrompt renders the user message for one of the three templates:
// a result (data or empty), a failure, or a conversational reply.
func SummaryPrompt(in SummaryInput) string {
	var b strings.Builder
	switch in.Kind {
	case SummaryData, SummaryEmpty:
		fmt.Fprintf(&b, "## User Question\n%s\n\n", in.Question)
		if in.Result == nil || in.Result.RowCount == 0 {
			b.WriteString("## Query Information\nThe query executed successfully but returned no results.\n\n")
			b.WriteString("Explain why no data was found and suggest how the question could be changed.")
			return b.String()
		}
		b.WriteString("## Query Information\n")
		fmt.Fprintf(&b, "- Execution time: %s\n", FormatElapsed(in.Result.Elapsed))
		fmt.Fprintf(&b, "- Rows returned: %d", in.Result.RowCount)
		if in.Result.Truncated {
			b.WriteString(" (truncated)")
		}
		fmt.Fprintf(&b, "\n\n## Query Results\n%s\n\n", FormatResults(in.Result, MaxPromptRows))
		b.WriteString("Provide a clear, business-friendly summary that directly answers the question.")
	case SummaryFailure:
		fmt.Fprintf(&b, "## User Question\n%s\n\n## Error Information\n", in.Question)
		if in.ExecError != nil {
			fmt.Fprintf(&b, "Error type: %s\nDetails: %s\n", errorTypeLabel(in.ExecError), in.ExecError.Message)
			if in.ExecError.Hint != "" {
				fmt.Fprintf(&b, "Hint: %s\n", in.ExecError.Hint)
			}
		} else {
			details := in.Failure
			if details == "" {
				details = "An unexpected error occurred"
			}
			fmt.Fprintf(&b, "Error type: could not build a valid query\nDetails: %s\n", details)
		}
		b.WriteString("\nExplain that the data could not be retrieved and suggest how to rephrase the question. Be helpful and encouraging.")
	default:
		fmt.Fprintf(&b, "## User Message\n%s\n\n", in.Question)
		b.WriteString("The message was classified as conversation rather than a data question.\n")
		b.WriteString("Respond conversationally and offer to help with data analysis questions.")
	}
	return b.String()
}

// FallbackAnswer is used when no model answer is available.
func FallbackAnswer(in SummaryInput) string {
	switch in.Kind {
	case SummaryFailure:
		return "I encountered an issue processing your request. Could you try rephrasing your question?"
	case SummaryData:
		if in.Result != nil && in.Result.RowCount > 0 {
			plural := "s"
			if in.Result.RowCount == 1 {
				plural = ""
			}
			return fmt.Sprintf("I found %d result%s for your query. Please review the data below.", in.Result.RowCount, plural)
		}
	case SummaryChat:
		return "Hello! I can help you analyze the data sources configured for this workspace. What would you like to know?"
	}
	return "I wasn't able to find any matching data for your query. Try narrowing or rephrasing your question."
}

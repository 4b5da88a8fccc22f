package agent

import (
	"context"
	"fmt"
	"strings"

	"duck-analyst/internal/domain"
	"duck-analyst/internal/llm"
)

// RouteInput is what the router sees of a turn.
type RouteInput struct {
	Question string
	Tables   []string
	History  []domain.TurnRecord
}

// RouteDecision is the router's classification.
type RouteDecision struct {
	Intent        domain.Intent
	Confidence    float64
	Reasoning     string
	Clarification string
}

// Router classifies a turn.
type Router interface {
	Route(ctx context.Context, in RouteInput) (RouteDecision, error)
}

const routerSystemPrompt = `You are an intent classifier for a data analytics assistant.

Classify the user's message into exactly one category:

1. "query": the user wants to retrieve, filter, aggregate or analyze data.
   Examples: "What were total sales last month?", "Top 10 products by revenue"
2. "summarize": the user wants an interpretation of results already shown.
   Examples: "Explain these numbers", "Summarize the trends"
3. "chat": greetings, thanks, questions about the assistant, off-topic talk.
   Examples: "Hello", "What can you do?"
4. "clarify": the request is too vague to answer without more information.
   Examples: "Show me the report" (which report?), "Compare them" (compare what?)

Guidelines:
- Default to "query" for data-related requests unless truly ambiguous.
- Use "clarify" sparingly and only when critical information is missing.
- Consider the conversation so far when resolving references.

## Available Data
%s

Respond with a JSON object:
{"intent": "query|summarize|chat|clarify", "confidence": 0.0-1.0, "reasoning": "...", "clarification_question": "... (only for clarify)"}`

// LLMRouter classifies turns with a chat model.
type LLMRouter struct {
	model llm.ChatModel
}

// NewLLMRouter creates a router backed by model.
func NewLLMRouter(model llm.ChatModel) *LLMRouter {
	return &LLMRouter{model: model}
}

func (r *LLMRouter) Route(ctx context.Context, in RouteInput) (RouteDecision, error) {
	tables := "No tables are loaded yet."
	if len(in.Tables) > 0 {
		tables = "Available tables: " + strings.Join(in.Tables, ", ")
	}

	var user strings.Builder
	if recent := recentQuestions(in.History, 3); recent != "" {
		user.WriteString("Recent conversation:\n" + recent + "\n")
	}
	fmt.Fprintf(&user, "User message: %q\n\nClassify this message.", in.Question)

	raw, err := r.model.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: fmt.Sprintf(routerSystemPrompt, tables)},
			{Role: llm.RoleUser, Content: user.String()},
		},
		JSON: true,
	})
	if err != nil {
		return RouteDecision{}, err
	}

	var out struct {
		Intent        string  `json:"intent"`
		Confidence    float64 `json:"confidence"`
		Reasoning     string  `json:"reasoning"`
		Clarification string  `json:"clarification_question"`
	}
	if err := llm.DecodeJSON(raw, &out); err != nil {
		return RouteDecision{}, err
	}
	intent, ok := parseIntent(out.Intent)
	if !ok {
		return RouteDecision{}, fmt.Errorf("router returned unknown intent %q", out.Intent)
	}
	return RouteDecision{
		Intent:        intent,
		Confidence:    out.Confidence,
		Reasoning:     out.Reasoning,
		Clarification: out.Clarification,
	}, nil
}

// parseIntent accepts both the short labels used in the prompt and the
// domain names.
func parseIntent(s string) (domain.Intent, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "query", string(domain.IntentAnalytical):
		return domain.IntentAnalytical, true
	case "summarize", string(domain.IntentSummarize):
		return domain.IntentSummarize, true
	case "chat", string(domain.IntentChat):
		return domain.IntentChat, true
	case "clarify", string(domain.IntentAmbiguous):
		return domain.IntentAmbiguous, true
	}
	return "", false
}

func recentQuestions(history []domain.TurnRecord, n int) string {
	if len(history) > n {
		history = history[len(history)-n:]
	}
	var b strings.Builder
	for _, h := range history {
		fmt.Fprintf(&b, "- %s\n", h.Question)
	}
	return b.String()
}

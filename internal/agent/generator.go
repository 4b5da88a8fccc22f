package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"duck-analyst/internal/domain"
	"duck-analyst/internal/llm"
	"duck-analyst/internal/validator"
)

// GenerateInput conditions one generation attempt. PreviousSQL and Errors
// are set on retries.
type GenerateInput struct {
	Question      string
	SchemaContext string
	PreviousSQL   string
	Errors        []string
	History       []domain.TurnRecord
	Today         time.Time
}

// Generator produces SQL candidates.
type Generator interface {
	Generate(ctx context.Context, in GenerateInput) (*domain.Candidate, error)
}

const generatorSystemPrompt = `You are an expert DuckDB SQL analyst.

Translate the user's question into one accurate, efficient DuckDB query.

## Rules
- Generate exactly one SELECT statement. Never use INSERT, UPDATE, DELETE, DROP, ALTER, CREATE or any other DDL/DML.
- Always include a LIMIT clause: LIMIT 100 for exploration, or the number the user asks for ("top 5" means LIMIT 5).
- Query tables only by the names listed below. Never read files or call read_* functions.
- Use the exact column names from the schema and double-quote names with spaces or special characters.
- Check column types before handling dates: compare DATE columns directly, parse VARCHAR dates with strptime.
- Use DATE_TRUNC for period comparisons and 'YYYY-MM-DD' literals. Today is %s.
- GROUP BY every non-aggregated selected column. Use NULLIF to avoid division by zero.

## Available Schema
%s

Respond with a JSON object:
{"sql_query": "...", "explanation": "...", "tables_used": ["..."], "confidence": 0.0-1.0}`

// LLMGenerator generates SQL with a chat model.
type LLMGenerator struct {
	model llm.ChatModel
}

// NewLLMGenerator creates a generator backed by model.
func NewLLMGenerator(model llm.ChatModel) *LLMGenerator {
	return &LLMGenerator{model: model}
}

func (g *LLMGenerator) Generate(ctx context.Context, in GenerateInput) (*domain.Candidate, error) {
	schema := in.SchemaContext
	if schema == "" {
		schema = "No schema context available."
	}
	today := in.Today
	if today.IsZero() {
		today = time.Now()
	}

	raw, err := g.model.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: fmt.Sprintf(generatorSystemPrompt, today.Format(time.DateOnly), schema)},
			{Role: llm.RoleUser, Content: generatorUserPrompt(in)},
		},
		JSON: true,
	})
	if err != nil {
		return nil, err
	}

	var out struct {
		SQL         string   `json:"sql_query"`
		Explanation string   `json:"explanation"`
		Tables      []string `json:"tables_used"`
		Confidence  *float64 `json:"confidence"`
	}
	if err := llm.DecodeJSON(raw, &out); err != nil {
		return nil, err
	}
	sql := strings.TrimSpace(out.SQL)
	if sql == "" {
		return nil, fmt.Errorf("model returned no SQL")
	}
	return newCandidate(sql, out.Explanation, out.Tables, out.Confidence), nil
}

func generatorUserPrompt(in GenerateInput) string {
	var b strings.Builder
	if len(in.History) > 0 {
		last := in.History[len(in.History)-1]
		b.WriteString("## Previous Turn\n")
		fmt.Fprintf(&b, "Question: %s\n", last.Question)
		if last.SQL != "" {
			fmt.Fprintf(&b, "SQL: %s\n", last.SQL)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "## User Question\n%s\n", in.Question)

	if len(in.Errors) > 0 {
		b.WriteString("\n## Previous Attempt Failed\nYour previous SQL query had errors:\n\n")
		for _, e := range in.Errors {
			fmt.Fprintf(&b, "- %s\n", e)
		}
		if in.PreviousSQL != "" {
			fmt.Fprintf(&b, "\nPrevious SQL:\n```sql\n%s\n```\n", in.PreviousSQL)
		}
		b.WriteString("\nFix these issues in your new query. Check that every table and column exists in the schema.\n")
	}
	return b.String()
}

// newCandidate fills in the referenced tables from the SQL when the model
// did not list them and clamps confidence to [0, 1].
func newCandidate(sql, explanation string, tables []string, confidence *float64) *domain.Candidate {
	if len(tables) == 0 {
		tables = validator.ReferencedTables(sql)
	}
	c := 1.0
	if confidence != nil {
		c = min(max(*confidence, 0), 1)
	}
	return &domain.Candidate{
		RawSQL:           sql,
		Explanation:      explanation,
		ReferencedTables: tables,
		Confidence:       c,
	}
}

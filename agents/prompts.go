// ABOUTME: System prompts per agent role and the shared schema/semantics context builders.
// ABOUTME: Prompts demand strict JSON and forbid inventing tables or columns beyond the provided catalog.
package agents

import (
	"fmt"
	"strings"

	"github.com/sifthq/sift/orchestrator"
	"github.com/sifthq/sift/schema"
)

// plannerSystemPrompt instructs the planner to break a question into SELECT
// steps or ask for clarification, never both.
const plannerSystemPrompt = `You are a SQL analysis planner. Given a question and a database schema,
produce an ordered plan of read-only SELECT steps that answers the question.

Rules:
- Use ONLY tables and columns from the provided schema. Never invent names.
- Each step must be answerable by a single SELECT statement.
- If the question is too ambiguous to plan, return status CLARIFICATION_NEEDED
  with the questions a human must answer, and no steps.
- Prefer the fewest steps that fully answer the question.

Output ONLY valid JSON with this exact schema (no markdown, no commentary):

{
  "status": "READY|CLARIFICATION_NEEDED",
  "overall_goal": "one sentence",
  "steps": [
    {"step_number": 1, "description": "what this step finds", "reasoning": "why it is needed"}
  ],
  "clarification_questions": ["only when status is CLARIFICATION_NEEDED"],
  "clarification_context": "why clarification is needed"
}`

// sqlWriterSystemPrompt instructs the writer to emit exactly one SELECT.
const sqlWriterSystemPrompt = `You are a SQL writer. Given one plan step and a database schema, write a
single PostgreSQL SELECT statement that performs the step.

Rules:
- Use ONLY tables and columns from the provided schema. Never invent names.
- One statement, SELECT or WITH only. Never modify data.
- Never use SELECT *; enumerate the columns you need.
- Apply stored semantic definitions when a business term from the question
  matches one.

Output ONLY valid JSON (no markdown, no commentary):

{"sql": "SELECT ..."}`

// interpreterSystemPrompt instructs the interpreter to summarize results and
// self-report what the run needs next.
const interpreterSystemPrompt = `You are a results interpreter. Given a question, the executed plan, and the
result sets, explain what the data says in plain language.

Decide what the run needs next:
- needs_refinement: the results do not answer the question and the plan
  should change. Include a concrete refinement_hint.
- needs_next_step: the results are fine but later plan steps remain.
- neither: the question is answered.

Output ONLY valid JSON (no markdown, no commentary):

{
  "summary": "plain-language answer grounded in the actual numbers",
  "needs_refinement": false,
  "needs_next_step": false,
  "refinement_hint": ""
}`

// deciderSystemPrompt instructs the decision function to pick the next state.
const deciderSystemPrompt = `You are the state decision function for a question-answering run. Given the
current mode and sub-state plus what each tool reported needing, choose the
next mode and sub-state.

Valid QUERY sub-states: PLAN, CLARIFY, EXECUTE, INTERPRET, ANSWER.
Valid DISCOVERY sub-states: GET_DATA, ANALYZE, VALIDATE, SUGGEST, APPROVE, STORE.
An empty sub-state terminates the mode.

Output ONLY valid JSON (no markdown, no commentary):

{"next_mode": "QUERY", "next_substate": "EXECUTE", "reasoning": "...", "confidence": 0.9}`

// analystSystemPrompt instructs the discovery analyst to find data patterns.
const analystSystemPrompt = `You are a data pattern analyst. Given sampled rows from one table, find
patterns that would make useful business-term definitions: status codes with
consistent meanings, derivable flags, naming conventions, value groupings.

For each pattern, propose a short business term and a SELECT statement that
would confirm the pattern holds beyond the sample. Report confidence between
0 and 1. Return an empty list when the sample shows nothing noteworthy.

Output ONLY valid JSON (no markdown, no commentary):

{
  "discoveries": [
    {
      "pattern": "what the data shows",
      "confidence": 0.8,
      "suggested_semantic": "short business term",
      "validation_query": "SELECT ...",
      "table_name": "...",
      "column_name": "...",
      "evidence": ["sample values or counts supporting the pattern"]
    }
  ]
}`

// schemaContext renders catalog metadata the way every prompt consumes it.
func schemaContext(tables []schema.TableMetadata) string {
	if len(tables) == 0 {
		return "Schema: (no tables available)"
	}

	var b strings.Builder
	b.WriteString("Schema:\n")
	for _, t := range tables {
		fmt.Fprintf(&b, "- %s (~%d rows): %s\n", t.TableName, t.EstimatedRowCount, strings.Join(t.Columns, ", "))
		for _, fk := range t.ForeignKeys {
			fmt.Fprintf(&b, "  fk: %s.%s -> %s.%s\n", t.TableName, fk.FromColumn, fk.ToTable, fk.ToColumn)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// semanticsContext renders stored business-term definitions, or nothing.
func semanticsContext(semantics []orchestrator.Semantic) string {
	if len(semantics) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Stored semantics:\n")
	for _, s := range semantics {
		fmt.Fprintf(&b, "- %q means: %s", s.Term, s.Definition)
		if s.SQLFragment != "" {
			fmt.Fprintf(&b, " (SQL: %s)", s.SQLFragment)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// resultsContext renders executed steps and their result shapes for the
// interpreter and planner.
func resultsContext(steps []orchestrator.Step, results []orchestrator.StepResult) string {
	if len(results) == 0 {
		return ""
	}

	descriptions := map[int]string{}
	for _, s := range steps {
		descriptions[s.StepNumber] = s.Description
	}

	var b strings.Builder
	b.WriteString("Results so far:\n")
	for _, r := range results {
		if r.Result == nil {
			continue
		}
		fmt.Fprintf(&b, "- step %d (%s): %d rows, columns [%s]\n",
			r.StepNumber, descriptions[r.StepNumber], r.Result.RowCount, strings.Join(r.Result.Columns, ", "))
		for i, row := range r.Result.Rows {
			if i >= 10 {
				fmt.Fprintf(&b, "  ... %d more rows\n", r.Result.RowCount-i)
				break
			}
			fmt.Fprintf(&b, "  %v\n", row)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// joinSections glues non-empty prompt sections with blank lines.
func joinSections(sections ...string) string {
	var kept []string
	for _, s := range sections {
		if s != "" {
			kept = append(kept, s)
		}
	}
	return strings.Join(kept, "\n\n")
}

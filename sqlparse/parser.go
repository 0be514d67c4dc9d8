// ABOUTME: Heuristic structural parser that extracts tables, columns, joins, CTEs, and grain from SQL text.
// ABOUTME: Best-effort regex extraction for downstream metadata validation; never fails on malformed input.
package sqlparse

import (
	"regexp"
	"strings"
)

// ColumnRef is a column reference extracted from a statement. Table is empty
// when the reference was unqualified and could not be resolved to a table.
type ColumnRef struct {
	Table  string
	Column string
}

// JoinRef records one JOIN between two tables and its ON condition text.
type JoinRef struct {
	From      string
	To        string
	Condition string
}

// Grain describes the aggregation level of a query's result set.
type Grain string

const (
	GrainRowLevel      Grain = "row_level"
	GrainDaily         Grain = "daily"
	GrainMonthly       Grain = "monthly"
	GrainCustomerLevel Grain = "customer_level"
	GrainOrderLevel    Grain = "order_level"
	GrainCustom        Grain = "custom"
)

// Parsed is the structural summary of one SQL statement. All fields are
// best-effort: a failed extraction yields empty fields, never an error.
type Parsed struct {
	Tables          []string
	Columns         []ColumnRef
	Joins           []JoinRef
	CTENames        map[string]bool
	Grain           Grain
	HasAggregations bool
	HasGroupBy      bool
}

// IsCTE reports whether name was declared as a CTE in this statement.
func (p *Parsed) IsCTE(name string) bool {
	return p.CTENames[strings.ToLower(name)]
}

var (
	lineCommentRe  = regexp.MustCompile(`--[^\n]*`)
	blockCommentRe = regexp.MustCompile(`(?s)/\*.*?\*/`)
	whitespaceRe   = regexp.MustCompile(`\s+`)

	cteRe       = regexp.MustCompile(`(?i)(?:\bWITH\s+|,\s*)([a-z_][a-z0-9_]*)\s+AS\s*\(`)
	fromJoinRe  = regexp.MustCompile(`(?i)\b(?:FROM|JOIN)\s+"?([a-z_][a-z0-9_]*)"?`)
	aliasTailRe = regexp.MustCompile(`(?i)^\s+(?:AS\s+)?([a-z_][a-z0-9_]*)`)
	joinCondRe  = regexp.MustCompile(`(?i)\bJOIN\s+"?([a-z_][a-z0-9_]*)"?(?:\s+(?:AS\s+)?[a-z_][a-z0-9_]*)?\s+ON\s+(.+?)(?:\b(?:LEFT|RIGHT|INNER|OUTER|FULL|CROSS)?\s*JOIN\b|\bWHERE\b|\bGROUP\b|\bORDER\b|\bLIMIT\b|;|$)`)
	qualifiedRe = regexp.MustCompile(`\b([a-zA-Z_][a-zA-Z0-9_]*)\.([a-zA-Z_][a-zA-Z0-9_]*)\b`)
	selectRe    = regexp.MustCompile(`(?i)\bSELECT\s+(?:DISTINCT\s+)?(.*?)\s+FROM\b`)
	identRe     = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
	aggregateRe = regexp.MustCompile(`(?i)\b(COUNT|SUM|AVG|MIN|MAX)\s*\(`)
	groupByRe   = regexp.MustCompile(`(?i)\bGROUP\s+BY\s+(.*?)(?:\bHAVING\b|\bORDER\s+BY\b|\bLIMIT\b|;|$)`)
)

// stopWords are tokens that follow FROM/JOIN or appear in SELECT lists but are
// never identifiers we should treat as tables, aliases, or columns.
var stopWords = map[string]bool{
	"select": true, "from": true, "where": true, "on": true, "join": true,
	"inner": true, "left": true, "right": true, "full": true, "cross": true,
	"outer": true, "group": true, "order": true, "by": true, "limit": true,
	"having": true, "union": true, "using": true, "lateral": true, "as": true,
	"and": true, "or": true, "not": true, "case": true, "when": true,
	"then": true, "else": true, "end": true, "null": true, "distinct": true,
	"asc": true, "desc": true, "between": true, "like": true, "in": true,
	"is": true, "exists": true, "true": true, "false": true,
}

// Parse extracts the structural summary of sql. It never panics: malformed or
// unrecognized input simply produces empty fields. The output is a heuristic
// signal for confidence scoring, not an authoritative parse.
func Parse(sql string) *Parsed {
	parsed := &Parsed{
		Tables:   []string{},
		Columns:  []ColumnRef{},
		Joins:    []JoinRef{},
		CTENames: map[string]bool{},
		Grain:    GrainRowLevel,
	}

	normalized := normalize(sql)
	if normalized == "" {
		return parsed
	}

	for _, m := range cteRe.FindAllStringSubmatch(normalized, -1) {
		parsed.CTENames[strings.ToLower(m[1])] = true
	}

	aliases := parsed.extractTables(normalized)
	parsed.extractJoins(normalized, aliases)
	seen := parsed.extractQualifiedColumns(normalized, aliases)
	parsed.extractSelectColumns(normalized, seen)

	parsed.HasAggregations = aggregateRe.MatchString(normalized)
	parsed.HasGroupBy = groupByRe.MatchString(normalized)
	parsed.Grain = inferGrain(normalized, parsed.HasAggregations)

	return parsed
}

// normalize strips comments and collapses whitespace.
func normalize(sql string) string {
	out := lineCommentRe.ReplaceAllString(sql, " ")
	out = blockCommentRe.ReplaceAllString(out, " ")
	out = whitespaceRe.ReplaceAllString(out, " ")
	return strings.TrimSpace(out)
}

// extractTables collects FROM/JOIN targets and returns the alias -> table map.
// Aliases are resolved in a separate peek at the text following each match so
// a bare "FROM x JOIN y" never consumes the JOIN keyword as an alias.
func (p *Parsed) extractTables(sql string) map[string]string {
	aliases := map[string]string{}
	seen := map[string]bool{}

	for _, idx := range fromJoinRe.FindAllStringSubmatchIndex(sql, -1) {
		table := strings.ToLower(sql[idx[2]:idx[3]])
		if stopWords[table] {
			continue
		}
		if !seen[table] {
			seen[table] = true
			p.Tables = append(p.Tables, table)
		}
		if tail := aliasTailRe.FindStringSubmatch(sql[idx[1]:]); tail != nil {
			if alias := strings.ToLower(tail[1]); !stopWords[alias] {
				aliases[alias] = table
			}
		}
	}
	return aliases
}

// extractJoins records JOIN pairs. The "from" side is the first table in the
// statement; the "to" side the joined table, with aliases resolved.
func (p *Parsed) extractJoins(sql string, aliases map[string]string) {
	if len(p.Tables) == 0 {
		return
	}
	base := p.Tables[0]

	for _, m := range joinCondRe.FindAllStringSubmatch(sql, -1) {
		to := strings.ToLower(m[1])
		if resolved, ok := aliases[to]; ok {
			to = resolved
		}
		if stopWords[to] {
			continue
		}
		p.Joins = append(p.Joins, JoinRef{
			From:      base,
			To:        to,
			Condition: strings.TrimSpace(m[2]),
		})
	}
}

// extractQualifiedColumns resolves alias.column references back to real tables.
// CTE-qualified columns keep the CTE as their table; they are exempted from
// schema validation downstream. Returns the set of column names already seen.
func (p *Parsed) extractQualifiedColumns(sql string, aliases map[string]string) map[string]bool {
	seen := map[string]bool{}

	for _, m := range qualifiedRe.FindAllStringSubmatch(sql, -1) {
		qualifier := strings.ToLower(m[1])
		column := strings.ToLower(m[2])
		if stopWords[qualifier] || stopWords[column] {
			continue
		}

		table := qualifier
		if resolved, ok := aliases[qualifier]; ok {
			table = resolved
		}

		key := table + "." + column
		if seen[key] {
			continue
		}
		seen[key] = true
		seen[column] = true
		p.Columns = append(p.Columns, ColumnRef{Table: table, Column: column})
	}
	return seen
}

// extractSelectColumns picks up unqualified identifiers in the SELECT list
// that were not already captured as qualified references.
func (p *Parsed) extractSelectColumns(sql string, seen map[string]bool) {
	m := selectRe.FindStringSubmatch(sql)
	if m == nil {
		return
	}

	for _, item := range strings.Split(m[1], ",") {
		item = strings.TrimSpace(item)
		if item == "" || strings.Contains(item, "(") || strings.Contains(item, ".") {
			continue
		}
		// Strip a trailing alias: "amount AS total" -> "amount".
		if fields := strings.Fields(item); len(fields) > 0 {
			item = fields[0]
		}
		name := strings.ToLower(item)
		if !identRe.MatchString(item) || stopWords[name] || seen[name] {
			continue
		}
		seen[name] = true
		p.Columns = append(p.Columns, ColumnRef{Column: name})
	}
}

// grainKeywords maps GROUP BY column-name substrings to grains, checked in order.
var grainKeywords = []struct {
	substr string
	grain  Grain
}{
	{"date", GrainDaily},
	{"day", GrainDaily},
	{"created_at", GrainDaily},
	{"month", GrainMonthly},
	{"customer", GrainCustomerLevel},
	{"user", GrainCustomerLevel},
	{"order", GrainOrderLevel},
}

// inferGrain derives the aggregation level from the GROUP BY clause. Without a
// GROUP BY the result is row_level whether or not the query aggregates.
func inferGrain(sql string, hasAggregations bool) Grain {
	m := groupByRe.FindStringSubmatch(sql)
	if m == nil {
		return GrainRowLevel
	}

	clause := strings.ToLower(m[1])
	for _, gk := range grainKeywords {
		if strings.Contains(clause, gk.substr) {
			return gk.grain
		}
	}
	return GrainCustom
}

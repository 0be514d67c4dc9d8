// ABOUTME: Pure safety filter applied to every model-generated SQL statement before execution.
// ABOUTME: Rejects mutating keywords, SELECT *, fabricated table names, and multi-statement input; caps row counts with LIMIT.
package guard

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultRowLimit is the LIMIT appended to statements that do not carry one.
const DefaultRowLimit = 200

// Result is the outcome of validating one candidate SQL statement.
// Reason is set only when Valid is false; SanitizedSQL only when Valid is true.
type Result struct {
	Valid        bool
	Reason       string
	SanitizedSQL string
}

// dangerousKeywords are statement types that must never reach the database.
// The list is checked in order so the reported reason is deterministic.
var dangerousKeywords = []string{
	"INSERT", "UPDATE", "DELETE", "DROP", "CREATE", "ALTER",
	"TRUNCATE", "GRANT", "REVOKE", "EXEC", "EXECUTE", "CALL",
}

var (
	dangerousRe = make(map[string]*regexp.Regexp, len(dangerousKeywords))

	selectOrWithRe  = regexp.MustCompile(`(?i)\b(SELECT|WITH)\b`)
	selectStarRe    = regexp.MustCompile(`(?i)\bSELECT\s+\*`)
	undefinedRefRe  = regexp.MustCompile(`(?i)\b(FROM|JOIN)\s+"?undefined"?\b`)
	limitRe         = regexp.MustCompile(`(?i)\bLIMIT\s+\d+`)
	trailingSemisRe = regexp.MustCompile(`;+\s*$`)
)

func init() {
	for _, kw := range dangerousKeywords {
		dangerousRe[kw] = regexp.MustCompile(`(?i)\b` + kw + `\b`)
	}
}

// Guard validates candidate SQL text. The zero value uses DefaultRowLimit.
type Guard struct {
	// RowLimit is the cap appended to statements without an explicit LIMIT.
	RowLimit int
}

// New returns a Guard with the given row limit, or DefaultRowLimit if limit <= 0.
func New(limit int) *Guard {
	if limit <= 0 {
		limit = DefaultRowLimit
	}
	return &Guard{RowLimit: limit}
}

// Validate runs the ordered safety checks against sql. The first failing check
// wins. On success the returned SanitizedSQL carries an enforced LIMIT and a
// single trailing semicolon. Validate is pure and must be applied exactly once
// per candidate: re-validating already-sanitized SQL is not supported.
func (g *Guard) Validate(sql string) Result {
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return Result{Valid: false, Reason: "Empty SQL statement"}
	}

	for _, kw := range dangerousKeywords {
		if dangerousRe[kw].MatchString(trimmed) {
			return Result{Valid: false, Reason: fmt.Sprintf("Dangerous keyword %s is not allowed", kw)}
		}
	}

	if !selectOrWithRe.MatchString(trimmed) {
		return Result{Valid: false, Reason: "Only SELECT (or WITH) statements are allowed"}
	}

	if selectStarRe.MatchString(trimmed) {
		return Result{Valid: false, Reason: "SELECT * is not allowed; enumerate columns explicitly"}
	}

	if undefinedRefRe.MatchString(trimmed) {
		return Result{Valid: false, Reason: `Query references an "undefined" table; the table name was never resolved`}
	}

	if count := statementCount(trimmed); count > 1 {
		return Result{Valid: false, Reason: fmt.Sprintf("Multiple SQL statements are not allowed (found %d)", count)}
	}

	return Result{Valid: true, SanitizedSQL: g.sanitize(trimmed)}
}

// statementCount counts semicolon-delimited non-empty statements.
func statementCount(sql string) int {
	count := 0
	for _, part := range strings.Split(sql, ";") {
		if strings.TrimSpace(part) != "" {
			count++
		}
	}
	return count
}

// sanitize appends a LIMIT when none is present and normalizes the statement
// to end with exactly one semicolon. A statement ending in ORDER BY gets the
// LIMIT after that clause, which is simply the end of the statement text.
func (g *Guard) sanitize(sql string) string {
	out := trailingSemisRe.ReplaceAllString(sql, "")
	out = strings.TrimSpace(out)

	if !limitRe.MatchString(out) {
		limit := g.RowLimit
		if limit <= 0 {
			limit = DefaultRowLimit
		}
		out = fmt.Sprintf("%s LIMIT %d", out, limit)
	}

	return out + ";"
}

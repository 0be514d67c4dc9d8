// ABOUTME: Metadata-driven validator that cross-references parsed SQL structure against catalog metadata.
// ABOUTME: Produces validity, a deduction-based confidence score, facts/assumptions/unknowns, and performance risk.
package schema

import (
	"fmt"
	"strings"

	"github.com/sifthq/sift/sqlparse"
)

// Risk classifies the expected execution cost of a statement.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// Thresholds above which a table is considered large enough to carry
// performance risk when scanned.
const (
	largeTableRows  = 100_000
	largeTableBytes = 1 << 30 // 1 GiB
)

// Confidence bounds for validation results.
const (
	MinConfidence = 0.1
	MaxConfidence = 1.0
)

// ValidationResult is the outcome of checking one parsed statement against
// catalog metadata. Valid is true iff Issues is empty; assumptions and
// unknowns lower confidence without invalidating.
type ValidationResult struct {
	Valid           bool
	Issues          []string
	Confidence      float64
	Facts           []string
	Assumptions     []string
	Unknowns        []string
	Grain           sqlparse.Grain
	PerformanceRisk Risk
	TablesValidated bool
	ColumnsValidated bool
	JoinsValidated  bool
}

// Validate cross-references parsed structure against the given table metadata.
// Confidence starts at 1.0 and is reduced per finding: 0.2 for an unknown
// table, 0.1 for an unknown column, 0.15 for a join with no foreign-key
// backing, and 0.2/0.1 for high/medium performance risk on large tables.
func Validate(parsed *sqlparse.Parsed, tables []TableMetadata) ValidationResult {
	res := ValidationResult{
		Confidence:       MaxConfidence,
		Issues:           []string{},
		Facts:            []string{},
		Assumptions:      []string{},
		Unknowns:         []string{},
		Grain:            parsed.Grain,
		PerformanceRisk:  RiskLow,
		TablesValidated:  true,
		ColumnsValidated: true,
		JoinsValidated:   true,
	}

	cat := newCatalog(tables)

	res.checkTables(parsed, cat)
	res.checkColumns(parsed, cat)
	res.checkJoins(parsed, cat)
	res.checkPerformance(parsed, cat)

	res.Confidence = clamp(res.Confidence)
	res.Valid = len(res.Issues) == 0
	return res
}

func (r *ValidationResult) checkTables(parsed *sqlparse.Parsed, cat catalog) {
	for _, table := range parsed.Tables {
		if parsed.IsCTE(table) {
			continue
		}
		meta, ok := cat.lookup(table)
		if !ok {
			r.Issues = append(r.Issues, fmt.Sprintf("table %q does not exist in the schema", table))
			r.Confidence -= 0.2
			r.TablesValidated = false
			continue
		}
		r.Facts = append(r.Facts, fmt.Sprintf("table %q exists (~%d rows)", table, meta.EstimatedRowCount))
	}
}

func (r *ValidationResult) checkColumns(parsed *sqlparse.Parsed, cat catalog) {
	for _, col := range parsed.Columns {
		switch {
		case col.Table != "" && parsed.IsCTE(col.Table):
			// CTE output columns cannot be checked against the catalog.
			r.Assumptions = append(r.Assumptions,
				fmt.Sprintf("column %q comes from CTE %q and is not schema-validated", col.Column, col.Table))

		case col.Table != "":
			meta, ok := cat.lookup(col.Table)
			if !ok {
				// The missing table was already counted as a table issue.
				continue
			}
			if meta.HasColumn(col.Column) {
				r.Facts = append(r.Facts, fmt.Sprintf("column %s.%s exists", col.Table, col.Column))
			} else {
				r.Issues = append(r.Issues, fmt.Sprintf("column %q does not exist on table %q", col.Column, col.Table))
				r.Confidence -= 0.1
				r.ColumnsValidated = false
			}

		default:
			if table, ok := findColumnOwner(parsed, cat, col.Column); ok {
				r.Facts = append(r.Facts, fmt.Sprintf("column %s.%s exists", table, col.Column))
			} else {
				r.Issues = append(r.Issues, fmt.Sprintf("column %q does not match any referenced table", col.Column))
				r.Confidence -= 0.1
				r.ColumnsValidated = false
			}
		}
	}
}

// findColumnOwner searches the referenced real tables for an unqualified column.
func findColumnOwner(parsed *sqlparse.Parsed, cat catalog, column string) (string, bool) {
	for _, table := range parsed.Tables {
		if parsed.IsCTE(table) {
			// Columns projected by a CTE cannot be enumerated; treat a CTE in
			// scope as unable to claim the column.
			continue
		}
		if meta, ok := cat.lookup(table); ok && meta.HasColumn(column) {
			return table, true
		}
	}
	return "", false
}

func (r *ValidationResult) checkJoins(parsed *sqlparse.Parsed, cat catalog) {
	for _, join := range parsed.Joins {
		if parsed.IsCTE(join.From) || parsed.IsCTE(join.To) {
			continue
		}
		if cat.relatedByForeignKey(join.From, join.To) {
			r.Facts = append(r.Facts, fmt.Sprintf("join %s -> %s is backed by a foreign key", join.From, join.To))
			continue
		}
		// An unbacked join is an assumption, not a hard failure.
		r.Assumptions = append(r.Assumptions,
			fmt.Sprintf("no foreign key links %q and %q; join condition %q is unverified", join.From, join.To, join.Condition))
		r.Confidence -= 0.15
		r.JoinsValidated = false
	}
}

func (r *ValidationResult) checkPerformance(parsed *sqlparse.Parsed, cat catalog) {
	used := usedIdentifiers(parsed)

	for _, table := range parsed.Tables {
		meta, ok := cat.lookup(table)
		if !ok {
			continue
		}
		if meta.EstimatedRowCount <= largeTableRows && meta.TotalSizeBytes <= largeTableBytes {
			continue
		}

		if indexCovers(meta, used) {
			r.escalateRisk(RiskMedium)
			r.Confidence -= 0.1
		} else {
			r.escalateRisk(RiskHigh)
			r.Confidence -= 0.2
			r.Unknowns = append(r.Unknowns,
				fmt.Sprintf("large table %q (~%d rows) is queried without touching an indexed column", table, meta.EstimatedRowCount))
		}
	}
}

// usedIdentifiers collects every identifier the query visibly touches:
// extracted column names plus tokens inside join conditions.
func usedIdentifiers(parsed *sqlparse.Parsed) map[string]bool {
	used := map[string]bool{}
	for _, col := range parsed.Columns {
		used[strings.ToLower(col.Column)] = true
	}
	for _, join := range parsed.Joins {
		for _, tok := range strings.FieldsFunc(join.Condition, func(r rune) bool {
			return !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '.')
		}) {
			if i := strings.LastIndex(tok, "."); i >= 0 {
				tok = tok[i+1:]
			}
			used[strings.ToLower(tok)] = true
		}
	}
	return used
}

// indexCovers reports whether any index column on the table appears among the
// identifiers the query uses.
func indexCovers(meta *TableMetadata, used map[string]bool) bool {
	for _, idx := range meta.Indexes {
		for _, col := range idx.Columns {
			if used[strings.ToLower(col)] {
				return true
			}
		}
	}
	return false
}

func (r *ValidationResult) escalateRisk(risk Risk) {
	if r.PerformanceRisk == RiskHigh {
		return
	}
	if risk == RiskHigh || (risk == RiskMedium && r.PerformanceRisk == RiskLow) {
		r.PerformanceRisk = risk
	}
}

func clamp(v float64) float64 {
	if v < MinConfidence {
		return MinConfidence
	}
	if v > MaxConfidence {
		return MaxConfidence
	}
	return v
}

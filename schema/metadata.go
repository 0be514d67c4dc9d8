// ABOUTME: Table metadata model used for zero-hallucination validation of model-generated SQL.
// ABOUTME: Mirrors what the database catalog reports: columns, sizes, primary keys, indexes, and foreign keys.
package schema

import "strings"

// Index describes one index on a table.
type Index struct {
	Name    string
	Columns []string
}

// ForeignKey describes one outbound foreign-key relationship.
type ForeignKey struct {
	FromColumn string
	ToTable    string
	ToColumn   string
}

// TableMetadata is the catalog snapshot for one table.
type TableMetadata struct {
	TableName         string
	EstimatedRowCount int64
	TotalSizeBytes    int64
	Columns           []string
	PrimaryKeyColumns []string
	Indexes           []Index
	ForeignKeys       []ForeignKey
}

// HasColumn reports whether the table has the named column (case-insensitive).
func (t *TableMetadata) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if strings.EqualFold(c, name) {
			return true
		}
	}
	return false
}

// catalog indexes a metadata slice by lowercased table name.
type catalog map[string]*TableMetadata

func newCatalog(tables []TableMetadata) catalog {
	c := make(catalog, len(tables))
	for i := range tables {
		c[strings.ToLower(tables[i].TableName)] = &tables[i]
	}
	return c
}

func (c catalog) lookup(name string) (*TableMetadata, bool) {
	t, ok := c[strings.ToLower(name)]
	return t, ok
}

// relatedByForeignKey reports whether a foreign key links tables a and b in
// either direction.
func (c catalog) relatedByForeignKey(a, b string) bool {
	return c.hasForeignKeyTo(a, b) || c.hasForeignKeyTo(b, a)
}

func (c catalog) hasForeignKeyTo(from, to string) bool {
	t, ok := c.lookup(from)
	if !ok {
		return false
	}
	for _, fk := range t.ForeignKeys {
		if strings.EqualFold(fk.ToTable, to) {
			return true
		}
	}
	return false
}

// ABOUTME: Read-only Postgres gateway: executes guarded SELECTs and snapshots catalog metadata.
// ABOUTME: Metadata comes from pg_catalog and information_schema so validation never trusts model output.
package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sifthq/sift/orchestrator"
	"github.com/sifthq/sift/schema"
)

// Gateway wraps a pgx connection pool for query execution and catalog reads.
type Gateway struct {
	pool       *pgxpool.Pool
	schemaName string
}

// OpenPostgres connects a pool to connStr and verifies it with a ping.
func OpenPostgres(ctx context.Context, connStr string) (*Gateway, error) {
	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(pingCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Gateway{pool: pool, schemaName: "public"}, nil
}

// Close releases the pool.
func (g *Gateway) Close() {
	g.pool.Close()
}

// Execute runs one statement and materializes the full result set.
func (g *Gateway) Execute(ctx context.Context, sql string) (*orchestrator.SQLResult, error) {
	start := time.Now()

	rows, err := g.pool.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
	}

	var data [][]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		data = append(data, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return &orchestrator.SQLResult{
		Columns:  columns,
		Rows:     data,
		RowCount: len(data),
		Duration: time.Since(start),
	}, nil
}

// AllTableMetadata snapshots every ordinary table in the target schema:
// estimated row counts and sizes from pg_class, columns from
// information_schema, plus primary keys, indexes, and foreign keys.
func (g *Gateway) AllTableMetadata(ctx context.Context) ([]schema.TableMetadata, error) {
	byName := map[string]*schema.TableMetadata{}
	var order []string

	tableRows, err := g.pool.Query(ctx, `
		SELECT c.relname, GREATEST(c.reltuples, 0)::bigint, pg_total_relation_size(c.oid)
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE c.relkind = 'r' AND n.nspname = $1
		ORDER BY c.relname`, g.schemaName)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	for tableRows.Next() {
		var meta schema.TableMetadata
		if err := tableRows.Scan(&meta.TableName, &meta.EstimatedRowCount, &meta.TotalSizeBytes); err != nil {
			tableRows.Close()
			return nil, fmt.Errorf("scan table row: %w", err)
		}
		byName[meta.TableName] = &meta
		order = append(order, meta.TableName)
	}
	tableRows.Close()
	if err := tableRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}

	if err := g.loadColumns(ctx, byName); err != nil {
		return nil, err
	}
	if err := g.loadIndexes(ctx, byName); err != nil {
		return nil, err
	}
	if err := g.loadForeignKeys(ctx, byName); err != nil {
		return nil, err
	}

	tables := make([]schema.TableMetadata, 0, len(order))
	for _, name := range order {
		tables = append(tables, *byName[name])
	}
	return tables, nil
}

func (g *Gateway) loadColumns(ctx context.Context, byName map[string]*schema.TableMetadata) error {
	rows, err := g.pool.Query(ctx, `
		SELECT table_name, column_name
		FROM information_schema.columns
		WHERE table_schema = $1
		ORDER BY table_name, ordinal_position`, g.schemaName)
	if err != nil {
		return fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var table, column string
		if err := rows.Scan(&table, &column); err != nil {
			return fmt.Errorf("scan column row: %w", err)
		}
		if meta, ok := byName[table]; ok {
			meta.Columns = append(meta.Columns, column)
		}
	}
	return rows.Err()
}

func (g *Gateway) loadIndexes(ctx context.Context, byName map[string]*schema.TableMetadata) error {
	rows, err := g.pool.Query(ctx, `
		SELECT t.relname, i.relname, a.attname, ix.indisprimary
		FROM pg_index ix
		JOIN pg_class t ON t.oid = ix.indrelid
		JOIN pg_class i ON i.oid = ix.indexrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(ix.indkey)
		WHERE n.nspname = $1
		ORDER BY t.relname, i.relname, a.attnum`, g.schemaName)
	if err != nil {
		return fmt.Errorf("query indexes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var table, index, column string
		var primary bool
		if err := rows.Scan(&table, &index, &column, &primary); err != nil {
			return fmt.Errorf("scan index row: %w", err)
		}
		meta, ok := byName[table]
		if !ok {
			continue
		}
		if primary {
			meta.PrimaryKeyColumns = append(meta.PrimaryKeyColumns, column)
		}
		appendIndexColumn(meta, index, column)
	}
	return rows.Err()
}

func appendIndexColumn(meta *schema.TableMetadata, index, column string) {
	for i := range meta.Indexes {
		if meta.Indexes[i].Name == index {
			meta.Indexes[i].Columns = append(meta.Indexes[i].Columns, column)
			return
		}
	}
	meta.Indexes = append(meta.Indexes, schema.Index{Name: index, Columns: []string{column}})
}

func (g *Gateway) loadForeignKeys(ctx context.Context, byName map[string]*schema.TableMetadata) error {
	rows, err := g.pool.Query(ctx, `
		SELECT tc.table_name, kcu.column_name, ccu.table_name, ccu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON kcu.constraint_name = tc.constraint_name AND kcu.table_schema = tc.table_schema
		JOIN information_schema.constraint_column_usage ccu
			ON ccu.constraint_name = tc.constraint_name AND ccu.table_schema = tc.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_schema = $1`, g.schemaName)
	if err != nil {
		return fmt.Errorf("query foreign keys: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var table, column, toTable, toColumn string
		if err := rows.Scan(&table, &column, &toTable, &toColumn); err != nil {
			return fmt.Errorf("scan foreign key row: %w", err)
		}
		if meta, ok := byName[table]; ok {
			meta.ForeignKeys = append(meta.ForeignKeys, schema.ForeignKey{
				FromColumn: column,
				ToTable:    toTable,
				ToColumn:   toColumn,
			})
		}
	}
	return rows.Err()
}

// ConnString assembles a pgx connection string from discrete parts, with
// localhost defaults suitable for development.
func ConnString(host, port, database, user, password string) string {
	if host == "" {
		host = "localhost"
	}
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		user, password, host, port, database)
}

var _ orchestrator.QueryExecutor = (*Gateway)(nil)
var _ orchestrator.MetadataStore = (*Gateway)(nil)

// SetSchema switches the catalog schema the gateway reads. Names that are not
// plain lowercase identifiers are ignored.
func (g *Gateway) SetSchema(name string) {
	if validSchemaName(name) {
		g.schemaName = name
	}
}

func validSchemaName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range strings.ToLower(name) {
		if r != '_' && (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

package database

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/semmidev/bastion/internal/domain"
)

const insertBatchSize = 1000

// systemSchemas are never enumerated or backed up.
var systemSchemas = map[string]bool{
	"information_schema": true,
	"performance_schema": true,
	"mysql":              true,
	"sys":                true,
}

// MySQL implements domain.Connector against a MySQL server. Dumps are
// written statement-by-statement into the caller's writer; the full
// dump never exists in memory.
type MySQL struct {
	target   domain.Target
	password string
}

// NewMySQL is a domain.ConnectorFactory.
func NewMySQL(target domain.Target, password string) domain.Connector {
	return &MySQL{target: target, password: password}
}

func (m *MySQL) open(database string, multiStatements bool) (*sql.DB, error) {
	cfg := mysql.Config{
		User:                 m.target.User,
		Passwd:               m.password,
		Net:                  "tcp",
		Addr:                 m.target.Addr(),
		DBName:               database,
		Params:               map[string]string{"charset": "utf8mb4"},
		ParseTime:            true,
		AllowNativePasswords: true,
		MultiStatements:      multiStatements,
	}

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("open mysql connection: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Hour)
	return db, nil
}

func (m *MySQL) Ping(ctx context.Context) error {
	db, err := m.open("", false)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping %s: %w", m.target.Addr(), err)
	}
	return nil
}

// ListDatabases enumerates the live databases on the target, skipping
// system schemas.
func (m *MySQL) ListDatabases(ctx context.Context) ([]string, error) {
	db, err := m.open("", false)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, "SHOW DATABASES")
	if err != nil {
		return nil, fmt.Errorf("list databases: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan database name: %w", err)
		}
		if !systemSchemas[name] {
			names = append(names, name)
		}
	}
	return names, rows.Err()
}

// Dump writes a logical dump of one database to w, respecting the
// structure/data options. It reads inside a single transaction for a
// consistent snapshot.
func (m *MySQL) Dump(ctx context.Context, database string, opts domain.BackupOptions, w io.Writer) error {
	db, err := m.open(database, false)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping %s: %w", m.target.Addr(), err)
	}

	tx, err := db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("begin dump transaction: %w", err)
	}
	defer tx.Rollback()

	bw := bufio.NewWriter(w)

	if err := writeHeader(bw, m.target.Host, database); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	fmt.Fprint(bw, "SET FOREIGN_KEY_CHECKS=0;\n\n")

	tables, err := listObjects(ctx, tx,
		`SELECT table_name FROM information_schema.tables
		 WHERE table_schema = DATABASE() AND table_type = 'BASE TABLE'`)
	if err != nil {
		return fmt.Errorf("list tables: %w", err)
	}

	for _, table := range tables {
		if opts.IncludeStructure {
			if err := m.dumpTableStructure(ctx, tx, bw, table); err != nil {
				return fmt.Errorf("dump structure of %s: %w", table, err)
			}
		}
		if opts.IncludeData {
			if err := m.dumpTableData(ctx, tx, bw, table); err != nil {
				return fmt.Errorf("dump data of %s: %w", table, err)
			}
		}
	}

	if opts.IncludeStructure {
		views, err := listObjects(ctx, tx,
			`SELECT table_name FROM information_schema.views WHERE table_schema = DATABASE()`)
		if err != nil {
			return fmt.Errorf("list views: %w", err)
		}
		for _, view := range views {
			if err := m.dumpView(ctx, tx, bw, view); err != nil {
				return fmt.Errorf("dump view %s: %w", view, err)
			}
		}
	}

	fmt.Fprint(bw, "\nSET FOREIGN_KEY_CHECKS=1;\n")

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flush dump: %w", err)
	}
	return nil
}

func (m *MySQL) dumpTableStructure(ctx context.Context, tx *sql.Tx, w io.Writer, table string) error {
	var name, createSQL string
	if err := tx.QueryRowContext(ctx, "SHOW CREATE TABLE `"+table+"`").Scan(&name, &createSQL); err != nil {
		return err
	}

	fmt.Fprintf(w, "--\n-- Table structure for table `%s`\n--\n\n", table)
	fmt.Fprintf(w, "DROP TABLE IF EXISTS `%s`;\n%s;\n\n", table, createSQL)
	return nil
}

func (m *MySQL) dumpTableData(ctx context.Context, tx *sql.Tx, w io.Writer, table string) error {
	columns, err := tableColumns(ctx, tx, table)
	if err != nil {
		return err
	}
	if len(columns) == 0 {
		return nil
	}

	rows, err := tx.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM `%s`", strings.Join(columns, ", "), table))
	if err != nil {
		return err
	}
	defer rows.Close()

	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}

	var batch []string
	wroteHeader := false
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		_, err := fmt.Fprintf(w, "INSERT INTO `%s` (%s) VALUES\n%s;\n",
			table, strings.Join(columns, ", "), strings.Join(batch, ",\n"))
		batch = batch[:0]
		return err
	}

	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}

		if !wroteHeader {
			fmt.Fprintf(w, "--\n-- Dumping data for table `%s`\n--\n\n", table)
			fmt.Fprintf(w, "LOCK TABLES `%s` WRITE;\n", table)
			wroteHeader = true
		}

		fields := make([]string, len(values))
		for i, v := range values {
			fields[i] = formatValue(v)
		}
		batch = append(batch, "("+strings.Join(fields, ", ")+")")

		if len(batch) >= insertBatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if err := flush(); err != nil {
		return err
	}
	if wroteHeader {
		fmt.Fprint(w, "UNLOCK TABLES;\n\n")
	}
	return nil
}

func (m *MySQL) dumpView(ctx context.Context, tx *sql.Tx, w io.Writer, view string) error {
	var name, createSQL, charset, collation string
	if err := tx.QueryRowContext(ctx, "SHOW CREATE VIEW `"+view+"`").
		Scan(&name, &createSQL, &charset, &collation); err != nil {
		return err
	}

	fmt.Fprintf(w, "--\n-- View structure for view `%s`\n--\n\n", view)
	fmt.Fprintf(w, "DROP VIEW IF EXISTS `%s`;\n%s;\n\n", view, createSQL)
	return nil
}

// Restore replays a dump stream into database. The returned count of
// applied statements lets the caller distinguish a clean failure from
// one that left the database half-written.
func (m *MySQL) Restore(ctx context.Context, database string, r io.Reader) (int64, error) {
	db, err := m.open(database, true)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return 0, fmt.Errorf("ping %s: %w", m.target.Addr(), err)
	}

	var applied int64
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var stmt strings.Builder
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "--") {
			continue
		}

		stmt.WriteString(text)
		stmt.WriteString(" ")

		if strings.HasSuffix(text, ";") {
			ran, err := m.executeStatement(ctx, db, stmt.String())
			if err != nil {
				return applied, fmt.Errorf("line %d: %w", line, err)
			}
			if ran {
				applied++
			}
			stmt.Reset()
		}
	}
	if err := scanner.Err(); err != nil {
		return applied, fmt.Errorf("read dump stream: %w", err)
	}

	if rest := strings.TrimSpace(stmt.String()); rest != "" && rest != ";" {
		if _, err := db.ExecContext(ctx, rest); err != nil {
			return applied, fmt.Errorf("final statement: %w", err)
		}
		applied++
	}

	return applied, nil
}

// executeStatement runs one statement, skipping client-side noise
// (LOCK/UNLOCK TABLES) and unwrapping MySQL version comments.
func (m *MySQL) executeStatement(ctx context.Context, db *sql.DB, statement string) (bool, error) {
	statement = strings.TrimSpace(statement)
	if statement == "" || statement == ";" {
		return false, nil
	}

	if skip, inner := classifyStatement(statement); skip {
		if inner == "" {
			return false, nil
		}
		statement = inner
	}

	if _, err := db.ExecContext(ctx, statement); err != nil {
		return false, err
	}
	return true, nil
}

// classifyStatement reports whether a statement should be skipped or
// replaced. Version-gated comments (/*!40101 ... */;) are unwrapped to
// their inner SQL.
func classifyStatement(statement string) (skip bool, inner string) {
	upper := strings.ToUpper(statement)
	if strings.HasPrefix(upper, "LOCK TABLES") || strings.HasPrefix(upper, "UNLOCK TABLES") {
		return true, ""
	}

	if strings.HasPrefix(statement, "/*!") && strings.HasSuffix(statement, "*/;") {
		body := statement[3 : len(statement)-3]
		if len(body) > 5 {
			return true, strings.TrimSpace(body[5:])
		}
		return true, ""
	}

	return false, ""
}

func (m *MySQL) Close() error {
	// Connections are scoped per operation; nothing held open.
	return nil
}

func writeHeader(w io.Writer, host, database string) error {
	_, err := fmt.Fprintf(w, `-- Dump created by bastion
-- Host: %s    Database: %s
-- ------------------------------------------------------

/*!40101 SET @OLD_CHARACTER_SET_CLIENT=@@CHARACTER_SET_CLIENT */;
/*!50503 SET NAMES utf8mb4 */;
/*!40103 SET @OLD_TIME_ZONE=@@TIME_ZONE */;
/*!40103 SET TIME_ZONE='+00:00' */;
/*!40014 SET @OLD_UNIQUE_CHECKS=@@UNIQUE_CHECKS, UNIQUE_CHECKS=0 */;
/*!40014 SET @OLD_FOREIGN_KEY_CHECKS=@@FOREIGN_KEY_CHECKS, FOREIGN_KEY_CHECKS=0 */;

`, host, database)
	return err
}

func listObjects(ctx context.Context, tx *sql.Tx, query string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func tableColumns(ctx context.Context, tx *sql.Tx, table string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, "SHOW COLUMNS FROM `"+table+"`")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var field, typ, null, key, def, extra sql.NullString
		if err := rows.Scan(&field, &typ, &null, &key, &def, &extra); err != nil {
			return nil, err
		}
		columns = append(columns, "`"+field.String+"`")
	}
	return columns, rows.Err()
}

func formatValue(v any) string {
	if v == nil {
		return "NULL"
	}

	switch val := v.(type) {
	case []byte:
		return "'" + escapeString(string(val)) + "'"
	case string:
		return "'" + escapeString(val) + "'"
	case time.Time:
		return "'" + val.Format("2006-01-02 15:04:05") + "'"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", val)
	case float32, float64:
		return fmt.Sprintf("%g", val)
	case bool:
		if val {
			return "1"
		}
		return "0"
	default:
		return "'" + escapeString(fmt.Sprintf("%v", val)) + "'"
	}
}

func escapeString(s string) string {
	replacer := strings.NewReplacer(
		`\`, `\\`,
		`'`, `\'`,
		`"`, `\"`,
		"\n", `\n`,
		"\r", `\r`,
		"\t", `\t`,
	)
	return replacer.Replace(s)
}

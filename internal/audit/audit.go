// Package audit keeps a local SQLite log of tool executions. Auditing is
// best-effort: a failed insert is logged to stderr and never fails the tool
// call that produced it.
package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS tool_executions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	tool_name TEXT NOT NULL,
	status TEXT NOT NULL,
	input_params TEXT,
	result TEXT,
	error TEXT,
	execution_time_ms INTEGER,
	executed_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_tool_executions_tool_name ON tool_executions(tool_name);
CREATE INDEX IF NOT EXISTS idx_tool_executions_executed_at ON tool_executions(executed_at);
`

// Execution is one recorded tool call.
type Execution struct {
	Tool     string
	Status   string
	Params   map[string]any
	Result   any
	Err      string
	Duration time.Duration
}

// Log is a SQLite-backed execution log.
type Log struct {
	db     *sql.DB
	logger *log.Logger
}

// Open creates or opens the execution log at path.
func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize audit schema: %w", err)
	}
	return &Log{
		db:     db,
		logger: log.New(os.Stderr, "[remote-mcp] ", log.LstdFlags),
	}, nil
}

// Record inserts one execution row. Failures are logged, not returned.
func (l *Log) Record(exec Execution) {
	params, _ := json.Marshal(exec.Params)
	var result []byte
	if exec.Result != nil {
		result, _ = json.Marshal(exec.Result)
	}

	_, err := l.db.Exec(
		`INSERT INTO tool_executions (tool_name, status, input_params, result, error, execution_time_ms)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		exec.Tool, exec.Status, string(params), string(result), exec.Err,
		exec.Duration.Milliseconds(),
	)
	if err != nil {
		l.logger.Printf("audit insert failed for %s: %v", exec.Tool, err)
	}
}

// Recent returns the latest executions, newest first.
func (l *Log) Recent(limit int) ([]Execution, error) {
	rows, err := l.db.Query(
		`SELECT tool_name, status, input_params, error, execution_time_ms
		 FROM tool_executions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var execs []Execution
	for rows.Next() {
		var e Execution
		var params string
		var ms int64
		if err := rows.Scan(&e.Tool, &e.Status, &params, &e.Err, &ms); err != nil {
			return nil, err
		}
		if params != "" {
			_ = json.Unmarshal([]byte(params), &e.Params)
		}
		e.Duration = time.Duration(ms) * time.Millisecond
		execs = append(execs, e)
	}
	return execs, rows.Err()
}

// Close releases the underlying database handle.
func (l *Log) Close() error {
	return l.db.Close()
}

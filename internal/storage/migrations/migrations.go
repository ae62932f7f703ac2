// Package migrations 按版本号幂等推进 sqlite schema。
// 脚本内嵌于二进制，文件名形如 001_init.sql，数字前缀即版本。
package migrations

import (
	"database/sql"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
)

// script 一个待执行的迁移脚本。
type script struct {
	version int
	name    string
	body    string
}

// Run 把库推进到最新 schema。已应用的版本跳过；每个脚本连同
// 版本记录在同一事务内执行，失败即回滚，库不会停在半个脚本上。
func Run(db *sql.DB) error {
	if err := ensureLedger(db); err != nil {
		return fmt.Errorf("init schema ledger: %w", err)
	}

	applied, err := appliedVersions(db)
	if err != nil {
		return fmt.Errorf("read schema ledger: %w", err)
	}

	scripts, err := loadScripts()
	if err != nil {
		return fmt.Errorf("load migration scripts: %w", err)
	}
	sort.Slice(scripts, func(i, j int) bool { return scripts[i].version < scripts[j].version })

	for _, s := range scripts {
		if applied[s.version] {
			continue
		}
		if err := apply(db, s); err != nil {
			return fmt.Errorf("apply %s: %w", s.name, err)
		}
	}
	return nil
}

// Version 返回当前 schema 版本，空库为 0。
func Version(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}

// Pending 返回尚未应用的版本号，升序。
func Pending(db *sql.DB) ([]int, error) {
	applied, err := appliedVersions(db)
	if err != nil {
		return nil, err
	}

	scripts, err := loadScripts()
	if err != nil {
		return nil, err
	}

	var pending []int
	for _, s := range scripts {
		if !applied[s.version] {
			pending = append(pending, s.version)
		}
	}
	sort.Ints(pending)
	return pending, nil
}

func ensureLedger(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

func appliedVersions(db *sql.DB) (map[int]bool, error) {
	rows, err := db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func loadScripts() ([]script, error) {
	entries, err := fs.ReadDir(FS, "scripts")
	if err != nil {
		return nil, err
	}

	var scripts []script
	for _, entry := range entries {
		version, ok := versionOf(entry.Name())
		if !ok {
			continue
		}
		// embed.FS 路径恒为正斜杠，这里不能走 filepath
		body, err := fs.ReadFile(FS, "scripts/"+entry.Name())
		if err != nil {
			return nil, err
		}
		scripts = append(scripts, script{version: version, name: entry.Name(), body: string(body)})
	}
	return scripts, nil
}

// versionOf 从 001_init.sql 式文件名提取版本号。
func versionOf(filename string) (int, bool) {
	if !strings.HasSuffix(filename, ".sql") {
		return 0, false
	}
	prefix, _, found := strings.Cut(filename, "_")
	if !found {
		return 0, false
	}
	v, err := strconv.Atoi(prefix)
	if err != nil {
		return 0, false
	}
	return v, true
}

func apply(db *sql.DB, s script) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(s.body); err != nil {
		return fmt.Errorf("execute SQL: %w", err)
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", s.version); err != nil {
		return fmt.Errorf("record version: %w", err)
	}
	return tx.Commit()
}

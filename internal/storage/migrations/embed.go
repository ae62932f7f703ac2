package migrations

import "embed"

// FS 迁移脚本，文件名形如 001_init.sql，前缀即版本号。
//
//go:embed scripts/*.sql
var FS embed.FS

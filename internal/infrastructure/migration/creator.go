package migration

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"
)

const migrationUpTemplate = `-- Migration: {{.Name}}
-- Created: {{.Timestamp}}
-- Description: {{.Description}}
{{if .Staging}}
CREATE TABLE IF NOT EXISTS {{.Staging.Table}} (
{{- range .Staging.KeyColumns}}
    {{.}} VARCHAR(100) NOT NULL,
{{- end}}
    -- vendor columns go here

    etl_batch_id VARCHAR(36) NOT NULL,
    etl_created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    etl_updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    etl_source VARCHAR(100) NOT NULL,
    PRIMARY KEY ({{.Staging.PrimaryKey}})
);

CREATE INDEX IF NOT EXISTS idx_{{.Staging.Table}}_etl_batch_id ON {{.Staging.Table}} (etl_batch_id);
CREATE INDEX IF NOT EXISTS idx_{{.Staging.Table}}_etl_created_at ON {{.Staging.Table}} (etl_created_at);
{{else}}
-- Write your UP migration SQL here
{{end}}`

const migrationDownTemplate = `-- Migration: {{.Name}} (Rollback)
-- Created: {{.Timestamp}}
{{if .Staging}}
DROP TABLE IF EXISTS {{.Staging.Table}};
{{else}}
-- Write your DOWN migration SQL here
{{end}}`

// StagingTable describes a staging table to scaffold. Append tables are keyed
// by batch plus business key so every batch keeps its own copy.
type StagingTable struct {
	Table      string
	KeyColumns []string
	Append     bool
}

// PrimaryKey returns the primary key column list for the table
func (s StagingTable) PrimaryKey() string {
	cols := s.KeyColumns
	if s.Append {
		cols = append([]string{"etl_batch_id"}, cols...)
	}
	return strings.Join(cols, ", ")
}

// MigrationFile represents a migration file pair
type MigrationFile struct {
	Version     string
	Name        string
	Description string
	Timestamp   string
	UpPath      string
	DownPath    string
	Staging     *StagingTable
}

// CreateMigration creates a new, empty migration file pair
func CreateMigration(migrationsDir, name, description string) (*MigrationFile, error) {
	return createMigration(migrationsDir, name, description, nil, time.Now())
}

// CreateStagingMigration creates a migration pair that adds a staging table
// with the ETL metadata columns.
func CreateStagingMigration(migrationsDir string, staging StagingTable) (*MigrationFile, error) {
	if sanitizeName(staging.Table) != staging.Table || staging.Table == "" {
		return nil, fmt.Errorf("invalid staging table name %q", staging.Table)
	}
	if len(staging.KeyColumns) == 0 {
		return nil, fmt.Errorf("staging table %s needs at least one key column", staging.Table)
	}
	return createMigration(migrationsDir, "create_"+staging.Table, "Staging table "+staging.Table, &staging, time.Now())
}

func createMigration(migrationsDir, name, description string, staging *StagingTable, now time.Time) (*MigrationFile, error) {
	if err := os.MkdirAll(migrationsDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create migrations directory: %w", err)
	}

	// YYYYMMDDHHMMSS sorts after the hand-numbered base migrations.
	version := now.Format("20060102150405")
	baseName := fmt.Sprintf("%s_%s", version, sanitizeName(name))

	mf := &MigrationFile{
		Version:     version,
		Name:        name,
		Description: description,
		Timestamp:   now.Format(time.RFC3339),
		UpPath:      filepath.Join(migrationsDir, baseName+".up.sql"),
		DownPath:    filepath.Join(migrationsDir, baseName+".down.sql"),
		Staging:     staging,
	}

	if err := createMigrationFile(mf.UpPath, migrationUpTemplate, mf); err != nil {
		return nil, fmt.Errorf("failed to create up migration: %w", err)
	}
	if err := createMigrationFile(mf.DownPath, migrationDownTemplate, mf); err != nil {
		_ = os.Remove(mf.UpPath)
		return nil, fmt.Errorf("failed to create down migration: %w", err)
	}
	return mf, nil
}

// createMigrationFile creates a single migration file from template
func createMigrationFile(path, tmplContent string, data *MigrationFile) error {
	tmpl, err := template.New("migration").Parse(tmplContent)
	if err != nil {
		return fmt.Errorf("failed to parse template: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", path, err)
	}
	defer f.Close()

	if err := tmpl.Execute(f, data); err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}
	return nil
}

// sanitizeName converts a name to lower snake case, dropping other characters
func sanitizeName(name string) string {
	result := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			result = append(result, c)
		case c >= 'A' && c <= 'Z':
			result = append(result, c+'a'-'A')
		case c == ' ' || c == '-' || c == '_':
			if len(result) > 0 && result[len(result)-1] != '_' {
				result = append(result, '_')
			}
		}
	}
	return strings.TrimSuffix(string(result), "_")
}

// ListMigrations returns the base names of the up migrations in a directory
func ListMigrations(migrationsDir string) ([]string, error) {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	migrations := make([]string, 0)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if base, ok := strings.CutSuffix(entry.Name(), ".up.sql"); ok {
			migrations = append(migrations, base)
		}
	}
	return migrations, nil
}

package panel

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "modernc.org/sqlite"
)

// DeepValidator opens a downloaded payload with the pure-Go SQLite driver and runs
// PRAGMA quick_check
type DeepValidator struct {
	TempDir string
}

// NewDeepValidator creates a validator writing scratch copies under tempDir (os.TempDir when empty)
func NewDeepValidator(tempDir string) *DeepValidator {
	return &DeepValidator{TempDir: tempDir}
}

// Validate implements Validator
func (v *DeepValidator) Validate(ctx context.Context, payload []byte) error {
	file, err := os.CreateTemp(v.TempDir, "panel-check-*.db")
	if err != nil {
		return fmt.Errorf("failed to create scratch file: %w", err)
	}
	path := file.Name()
	defer os.Remove(path)

	if _, err := file.Write(payload); err != nil {
		file.Close()
		return fmt.Errorf("failed to write scratch file: %w", err)
	}
	if err := file.Close(); err != nil {
		return err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return err
	}
	defer db.Close()

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&result); err != nil {
		return err
	}
	if result != "ok" {
		return fmt.Errorf("quick_check: %s", result)
	}
	return nil
}

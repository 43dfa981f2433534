package db

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
)

//go:embed migrations/001_init.sql
var schemaV1 string

// Migrate applies the schema. Every statement is idempotent, so it is safe to
// run on each start.
func Migrate(ctx context.Context, s *Store) error {
	for _, stmt := range splitStatements(schemaV1) {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			log.Errorf("Migration statement failed: %v", err)
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	log.Info("Database schema is up to date.")
	return nil
}

func splitStatements(script string) []string {
	var out []string
	for _, part := range strings.Split(script, ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

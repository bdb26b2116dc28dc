package repository

import (
	"strings"

	"quill/internal/database"

	"gorm.io/gorm"
)

// readDB prefers the replica for list and search queries.
func readDB(primary *gorm.DB) *gorm.DB {
	if db := database.GetReadDB(); db != nil {
		return db
	}
	return primary
}

const likeEscape = `\`

// likePattern builds a case-insensitive substring pattern for LOWER(col) LIKE ?.
func likePattern(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(term)) + "%"
}

func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

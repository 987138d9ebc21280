package db

import (
	"errors"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	// PostgreSQL (error code 23505)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
		return true
	}

	// MySQL (error code 1062)
	if strings.Contains(err.Error(), "Error 1062") {
		return true
	}

	// SQLite (error code 2067)
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return true
	}

	return false
}

var (
	pgConstraintPattern     = regexp.MustCompile(`unique constraint "([^"]+)"`)
	mysqlConstraintPattern  = regexp.MustCompile("for key '([^']+)'")
	sqliteConstraintPattern = regexp.MustCompile(`UNIQUE constraint failed: ([^\n(]+)`)
)

// DuplicateKeyTarget names what a unique violation tripped: the index name on
// postgres and mysql, the comma separated column list on sqlite. It returns ""
// when err is not a unique violation or the driver gave no detail.
func DuplicateKeyTarget(err error) string {
	if !IsDuplicateKeyErr(err) {
		return ""
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.ConstraintName != "" {
		return pgErr.ConstraintName
	}

	msg := err.Error()
	for _, p := range []*regexp.Regexp{pgConstraintPattern, mysqlConstraintPattern, sqliteConstraintPattern} {
		if m := p.FindStringSubmatch(msg); len(m) == 2 {
			target := strings.TrimSpace(m[1])
			// mysql 8 prefixes the table name
			if i := strings.LastIndex(target, "."); i >= 0 && p == mysqlConstraintPattern {
				target = target[i+1:]
			}
			return target
		}
	}
	return ""
}

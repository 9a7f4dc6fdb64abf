package cache

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	stringLiteralRe = regexp.MustCompile(`'(?:[^']|'')*'`)
	identifierRe    = regexp.MustCompile(`[a-z_][a-z0-9_]*`)
	insertHeadRe    = regexp.MustCompile(`^insert\s+into\s+[a-z0-9_.]+\s*\(([^)]*)\)\s*values\s*`)
	comparisonRe    = regexp.MustCompile(`\b(?:[a-z_][a-z0-9_]*\.)?([a-z_][a-z0-9_]*)\s*=\s*(\$\d+|-?\d+)\b`)
	castSuffixRe    = regexp.MustCompile(`::[a-z0-9_ ]+$`)
)

const guildColumn = "guild_id"

// Statement is what the cache could infer about a write statement
type Statement struct {
	Kind    string
	Tables  []string
	Columns []string
	values  map[string]string
}

// ParseStatement works out which known tables a write touches and which
// value feeds its guild_id column. It is deliberately shallow: joins, CTEs
// and statements without a literal guild_id reference fail with ErrSchemaParse.
func ParseStatement(query string, knownTables []string) (*Statement, error) {
	cleaned := strings.ToLower(strings.TrimSpace(query))
	cleaned = stringLiteralRe.ReplaceAllString(cleaned, "''")
	cleaned = strings.ReplaceAll(cleaned, `"`, "")
	cleaned = strings.TrimSuffix(strings.TrimSpace(cleaned), ";")

	kind := leadingKeyword(cleaned)
	switch kind {
	case "select":
		return nil, fmt.Errorf("%w: SELECT cannot be used to update the cache", ErrUnsupportedStatement)
	case "insert", "update", "delete":
	default:
		return nil, fmt.Errorf("%w: unrecognised statement %q", ErrSchemaParse, kind)
	}

	stmt := &Statement{
		Kind:   kind,
		values: make(map[string]string),
	}

	known := make(map[string]bool, len(knownTables))
	for _, t := range knownTables {
		known[strings.ToLower(t)] = true
	}
	seen := make(map[string]bool)
	for _, ident := range identifierRe.FindAllString(cleaned, -1) {
		if known[ident] && !seen[ident] {
			seen[ident] = true
			stmt.Tables = append(stmt.Tables, ident)
		}
	}
	if len(stmt.Tables) == 0 {
		return nil, fmt.Errorf("%w: no known table in statement", ErrSchemaParse)
	}

	var err error
	if kind == "insert" {
		err = stmt.parseInsert(cleaned)
	} else {
		stmt.parseComparisons(cleaned)
	}
	if err != nil {
		return nil, err
	}

	if len(stmt.Columns) == 0 {
		return nil, fmt.Errorf("%w: no columns found", ErrSchemaParse)
	}
	if _, ok := stmt.values[guildColumn]; !ok {
		return nil, fmt.Errorf("%w: statement does not reference %s", ErrSchemaParse, guildColumn)
	}

	return stmt, nil
}

// GuildID resolves the guild the statement writes to from its bound args
func (s *Statement) GuildID(args []any) (int64, error) {
	expr := strings.TrimSpace(castSuffixRe.ReplaceAllString(s.values[guildColumn], ""))

	if strings.HasPrefix(expr, "$") {
		n, err := strconv.Atoi(expr[1:])
		if err != nil || n < 1 || n > len(args) {
			return 0, fmt.Errorf("%w: %s refers to missing argument %s", ErrSchemaParse, guildColumn, expr)
		}
		id, ok := toInt64(args[n-1])
		if !ok {
			return 0, fmt.Errorf("%w: argument %s is not a guild id (%T)", ErrSchemaParse, expr, args[n-1])
		}
		return id, nil
	}

	id, err := strconv.ParseInt(expr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s is bound to %q", ErrSchemaParse, guildColumn, expr)
	}
	return id, nil
}

func (s *Statement) parseInsert(cleaned string) error {
	head := insertHeadRe.FindStringSubmatchIndex(cleaned)
	if head == nil {
		return fmt.Errorf("%w: INSERT needs an explicit column list and VALUES", ErrSchemaParse)
	}

	columns := splitTopLevel(cleaned[head[2]:head[3]])
	values, ok := firstTuple(cleaned[head[1]:])
	if !ok {
		return fmt.Errorf("%w: malformed VALUES tuple", ErrSchemaParse)
	}
	if len(columns) != len(values) {
		return fmt.Errorf("%w: %d columns but %d values", ErrSchemaParse, len(columns), len(values))
	}

	for i, column := range columns {
		s.addColumn(column, values[i])
	}
	return nil
}

func (s *Statement) parseComparisons(cleaned string) {
	for _, m := range comparisonRe.FindAllStringSubmatch(cleaned, -1) {
		s.addColumn(m[1], m[2])
	}
}

func (s *Statement) addColumn(column, value string) {
	column = strings.TrimSpace(column)
	if column == "" {
		return
	}
	if _, exists := s.values[column]; exists {
		return
	}
	s.Columns = append(s.Columns, column)
	s.values[column] = strings.TrimSpace(value)
}

func leadingKeyword(s string) string {
	end := strings.IndexFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z')
	})
	if end < 0 {
		return s
	}
	return s[:end]
}

// firstTuple returns the comma separated items of the parenthesised group
// at the start of s.
func firstTuple(s string) ([]string, bool) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "(") {
		return nil, false
	}

	depth := 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return splitTopLevel(s[1:i]), true
			}
		}
	}
	return nil, false
}

// splitTopLevel splits on commas that are not nested inside parentheses
func splitTopLevel(s string) []string {
	var parts []string
	depth, start := 0, 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	if tail := strings.TrimSpace(s[start:]); tail != "" || len(parts) > 0 {
		parts = append(parts, tail)
	}
	return parts
}

func toInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	case uint64:
		return int64(x), true
	case uint32:
		return int64(x), true
	case string:
		id, err := strconv.ParseInt(x, 10, 64)
		return id, err == nil
	default:
		return 0, false
	}
}

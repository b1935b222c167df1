// Package sqlguard decides whether a machine-generated query may run against
// the read-only KPI mart.
//
// The policy is checked in a fixed order and stops at the first violation, so
// the same input always yields the same rejection kind:
//
//  1. the statement must start with SELECT
//  2. it must not contain a statement separator
//  3. it must not contain a denylisted keyword as a whole word
//  4. it must reference the allowed table
package sqlguard

import (
	"fmt"
	"regexp"
	"strings"
)

type ErrorKind string

const (
	NotARead         ErrorKind = "NOT_A_READ"
	MultiStatement   ErrorKind = "MULTI_STATEMENT"
	ForbiddenKeyword ErrorKind = "FORBIDDEN_KEYWORD"
	UnknownTable     ErrorKind = "UNKNOWN_TABLE"
)

// DefaultDenylist covers row mutation, DDL, attaching external databases,
// bulk copy/export, session configuration and procedure execution.
var DefaultDenylist = []string{
	"insert", "update", "delete", "drop", "alter", "create",
	"attach", "detach", "copy", "pragma", "call", "execute", "exec",
	"truncate", "install", "load", "export", "import",
	"set", "reset", "vacuum", "checkpoint",
}

// IsDenylisted reports whether word is in DefaultDenylist. Table and column
// names must not be, or every query naming them would be rejected.
func IsDenylisted(word string) bool {
	word = strings.ToLower(strings.TrimSpace(word))
	for _, denied := range DefaultDenylist {
		if word == denied {
			return true
		}
	}
	return false
}

type Verdict struct {
	Accepted bool
	Kind     ErrorKind
	Message  string
	// Keyword is the denylisted word that matched, for ForbiddenKeyword.
	Keyword string
}

func accepted() Verdict {
	return Verdict{Accepted: true}
}

func rejected(kind ErrorKind, message string) Verdict {
	return Verdict{Kind: kind, Message: message}
}

// Err returns nil for an accepted verdict and a *RejectionError otherwise.
func (v Verdict) Err() error {
	if v.Accepted {
		return nil
	}
	return &RejectionError{Kind: v.Kind, Message: v.Message}
}

type RejectionError struct {
	Kind    ErrorKind
	Message string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Validator holds only values fixed at construction and is safe for
// concurrent use.
type Validator struct {
	table     string
	forbidden *regexp.Regexp
	tableRef  *regexp.Regexp
}

func New(table string, denylist []string) (*Validator, error) {
	table = strings.TrimSpace(table)
	if table == "" {
		return nil, fmt.Errorf("allowed table is required")
	}
	if len(denylist) == 0 {
		denylist = DefaultDenylist
	}
	words := make([]string, 0, len(denylist))
	for _, word := range denylist {
		word = strings.TrimSpace(word)
		if word == "" {
			continue
		}
		if strings.EqualFold(word, table) {
			return nil, fmt.Errorf("denylist keyword %q is the allowed table", word)
		}
		words = append(words, regexp.QuoteMeta(strings.ToLower(word)))
	}
	if len(words) == 0 {
		return nil, fmt.Errorf("denylist has no usable keywords")
	}
	return &Validator{
		table:     table,
		forbidden: regexp.MustCompile(`(?i)\b(` + strings.Join(words, "|") + `)\b`),
		tableRef:  regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(table) + `\b`),
	}, nil
}

func (v *Validator) Table() string {
	return v.table
}

func (v *Validator) Validate(query string) Verdict {
	s := strings.TrimSpace(query)

	if !strings.HasPrefix(strings.ToLower(s), "select") {
		return rejected(NotARead, "only SELECT statements are allowed")
	}
	if strings.Contains(s, ";") {
		return rejected(MultiStatement, "statement separator ';' is not allowed; exactly one statement is permitted")
	}
	if match := v.forbidden.FindString(s); match != "" {
		verdict := rejected(ForbiddenKeyword, fmt.Sprintf("forbidden keyword %q (DDL/DML/session commands are not allowed)", strings.ToUpper(match)))
		verdict.Keyword = strings.ToLower(match)
		return verdict
	}
	if !v.tableRef.MatchString(stripCommentsAndLiterals(s)) {
		return rejected(UnknownTable, fmt.Sprintf("query must read from %s", v.table))
	}
	return accepted()
}

// stripCommentsAndLiterals blanks out -- and /* */ comments and single-quoted
// string literals so a table name mentioned only inside them does not count
// as a reference. Double-quoted identifiers are kept.
func stripCommentsAndLiterals(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '-' && i+1 < len(s) && s[i+1] == '-':
			for i < len(s) && s[i] != '\n' {
				i++
			}
			b.WriteByte(' ')
		case s[i] == '/' && i+1 < len(s) && s[i+1] == '*':
			i += 2
			for i < len(s) && !(s[i] == '*' && i+1 < len(s) && s[i+1] == '/') {
				i++
			}
			i++
			b.WriteByte(' ')
		case s[i] == '\'':
			i++
			for i < len(s) {
				if s[i] == '\'' {
					if i+1 < len(s) && s[i+1] == '\'' {
						i += 2
						continue
					}
					break
				}
				i++
			}
			b.WriteString("''")
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

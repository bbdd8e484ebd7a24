// Package validate checks submitted form values against per-field rules and
// collects readable messages for every failure.
package validate

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/atinyakov/memberauth/internal/models"
)

// Kind tags a Rule.
type Kind int

const (
	KindRequired Kind = iota
	KindMin
	KindMax
	KindMatches
	KindUnique
)

// Rule is a single constraint on a field. N is the length bound for
// KindMin/KindMax; Ref is the other field for KindMatches and the table for
// KindUnique.
type Rule struct {
	Kind Kind
	N    int
	Ref  string
}

// Required rejects an empty or blank value.
func Required() Rule { return Rule{Kind: KindRequired} }

// Min rejects values shorter than n characters.
func Min(n int) Rule { return Rule{Kind: KindMin, N: n} }

// Max rejects values longer than n characters.
func Max(n int) Rule { return Rule{Kind: KindMax, N: n} }

// Matches rejects a value that differs from the submitted field, compared
// exactly as typed.
func Matches(field string) Rule { return Rule{Kind: KindMatches, Ref: field} }

// Unique rejects a value already present in the same-named column of table.
func Unique(table string) Rule { return Rule{Kind: KindUnique, Ref: table} }

// Field names a form field and its rules, checked in order.
type Field struct {
	Name  string
	Rules []Rule
}

// For builds a Field.
func For(name string, rules ...Rule) Field {
	return Field{Name: name, Rules: rules}
}

// Source yields submitted values; url.Values satisfies it.
type Source interface {
	Get(key string) string
}

// Finder looks up rows for uniqueness checks.
type Finder interface {
	Get(ctx context.Context, table string, where models.Where) (models.RowSet, error)
}

// Result holds the messages collected by Check.
type Result struct {
	Errors []string
}

// Passed reports whether no rule failed.
func (r Result) Passed() bool { return len(r.Errors) == 0 }

// Validator evaluates rule sets.
type Validator struct {
	records Finder
}

// New returns a Validator using records for uniqueness checks.
func New(records Finder) *Validator {
	return &Validator{records: records}
}

// Check evaluates fields against source. Rules other than Required are
// skipped for empty values. A store failure during a uniqueness check is
// returned as an error.
func (v *Validator) Check(ctx context.Context, source Source, fields ...Field) (Result, error) {
	var res Result
	for _, f := range fields {
		value := strings.TrimSpace(source.Get(f.Name))
		for _, rule := range f.Rules {
			if rule.Kind == KindRequired {
				if value == "" {
					res.Errors = append(res.Errors, fmt.Sprintf("%s is required", f.Name))
				}
				continue
			}
			if value == "" {
				continue
			}
			msg, err := v.apply(ctx, source, f.Name, value, rule)
			if err != nil {
				return Result{}, err
			}
			if msg != "" {
				res.Errors = append(res.Errors, msg)
			}
		}
	}
	return res, nil
}

func (v *Validator) apply(ctx context.Context, source Source, name, value string, rule Rule) (string, error) {
	switch rule.Kind {
	case KindMin:
		if utf8.RuneCountInString(value) < rule.N {
			return fmt.Sprintf("%s must be a minimum of %d characters", name, rule.N), nil
		}
	case KindMax:
		if utf8.RuneCountInString(value) > rule.N {
			return fmt.Sprintf("%s must be a maximum of %d characters", name, rule.N), nil
		}
	case KindMatches:
		if source.Get(name) != source.Get(rule.Ref) {
			return fmt.Sprintf("%s must match %s", rule.Ref, name), nil
		}
	case KindUnique:
		set, err := v.records.Get(ctx, rule.Ref, models.Eq(name, value))
		if err != nil {
			return "", fmt.Errorf("unique check %s.%s: %w", rule.Ref, name, err)
		}
		if set.Count() > 0 {
			return fmt.Sprintf("%s already exists.", name), nil
		}
	}
	return "", nil
}

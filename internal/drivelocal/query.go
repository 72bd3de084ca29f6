package drivelocal

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidQuery = errors.New("invalid query")

// Query is the subset of the files.list query language the store speaks:
// equality on name, mimeType and trashed plus parent membership, all
// joined by "and". Nil fields don't constrain the search.
type Query struct {
	Name     *string
	MimeType *string
	Parent   *string
	Trashed  *bool
}

type tokenKind int

const (
	tokWord tokenKind = iota
	tokString
	tokEquals
)

type token struct {
	kind tokenKind
	text string
}

// ParseQuery parses q. An empty q matches every file.
func ParseQuery(q string) (Query, error) {
	toks, err := lex(q)
	if err != nil {
		return Query{}, err
	}

	var (
		query Query
		term  []token
	)
	flush := func() error {
		if len(term) == 0 {
			return fmt.Errorf("%w: empty term", ErrInvalidQuery)
		}
		if err := query.apply(term); err != nil {
			return err
		}
		term = term[:0]
		return nil
	}
	for _, t := range toks {
		if t.kind == tokWord && strings.EqualFold(t.text, "and") {
			if err := flush(); err != nil {
				return Query{}, err
			}
			continue
		}
		term = append(term, t)
	}
	if len(toks) > 0 {
		if err := flush(); err != nil {
			return Query{}, err
		}
	}

	return query, nil
}

func (q *Query) apply(term []token) error {
	// '<id>' in parents
	if len(term) == 3 && term[0].kind == tokString &&
		term[1].kind == tokWord && term[1].text == "in" &&
		term[2].kind == tokWord && term[2].text == "parents" {
		parent := term[0].text
		q.Parent = &parent
		return nil
	}

	if len(term) != 3 || term[0].kind != tokWord || term[1].kind != tokEquals {
		return fmt.Errorf("%w: unsupported term %q", ErrInvalidQuery, render(term))
	}

	field, val := term[0].text, term[2]
	switch field {
	case "name", "mimeType":
		if val.kind != tokString {
			return fmt.Errorf("%w: %s needs a quoted value", ErrInvalidQuery, field)
		}
		v := val.text
		if field == "name" {
			q.Name = &v
		} else {
			q.MimeType = &v
		}
	case "trashed":
		if val.kind != tokWord || (val.text != "true" && val.text != "false") {
			return fmt.Errorf("%w: trashed needs true or false", ErrInvalidQuery)
		}
		b := val.text == "true"
		q.Trashed = &b
	default:
		return fmt.Errorf("%w: unknown field %q", ErrInvalidQuery, field)
	}

	return nil
}

func lex(s string) ([]token, error) {
	var toks []token
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '=':
			toks = append(toks, token{kind: tokEquals, text: "="})
			i++
		case c == '\'':
			lit, n, err := scanString(s[i:])
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{kind: tokString, text: lit})
			i += n
		case isWordByte(c):
			j := i
			for j < len(s) && isWordByte(s[j]) {
				j++
			}
			toks = append(toks, token{kind: tokWord, text: s[i:j]})
			i = j
		default:
			return nil, fmt.Errorf("%w: unexpected %q at %d", ErrInvalidQuery, c, i)
		}
	}

	return toks, nil
}

// scanString reads a quoted literal from the start of s and returns its
// unescaped value and how many bytes it spanned.
func scanString(s string) (string, int, error) {
	var b strings.Builder
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if i+1 >= len(s) {
				return "", 0, fmt.Errorf("%w: dangling escape", ErrInvalidQuery)
			}
			i++
			b.WriteByte(s[i])
		case '\'':
			return b.String(), i + 1, nil
		default:
			b.WriteByte(s[i])
		}
	}

	return "", 0, fmt.Errorf("%w: unterminated string", ErrInvalidQuery)
}

func isWordByte(c byte) bool {
	return c == '_' || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}

func render(term []token) string {
	parts := make([]string, len(term))
	for i, t := range term {
		parts[i] = t.text
	}
	return strings.Join(parts, " ")
}

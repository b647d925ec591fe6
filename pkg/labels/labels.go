// Package labels implements label sets and the boolean label expressions
// used to pick a template for a capacity request.
//
// A template declares a whitespace separated set of atoms ("linux docker").
// A request carries an expression over atoms using !, &&, ||, -> (implies),
// <-> (iff) and parentheses ("linux && !arm"). Operator precedence, from
// tightest to loosest: !, &&, ||, ->, <->.
package labels

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// Set is an unordered collection of label atoms.
type Set map[string]struct{}

// ParseSet splits s on whitespace into a Set.
func ParseSet(s string) Set {
	set := make(Set)
	for _, atom := range strings.Fields(s) {
		set[atom] = struct{}{}
	}
	return set
}

// Has reports whether atom is in the set.
func (s Set) Has(atom string) bool {
	_, ok := s[atom]
	return ok
}

// String renders the set sorted, space separated.
func (s Set) String() string {
	atoms := make([]string, 0, len(s))
	for a := range s {
		atoms = append(atoms, a)
	}
	sort.Strings(atoms)
	return strings.Join(atoms, " ")
}

// Expression is a parsed label expression.
type Expression interface {
	Matches(Set) bool
	String() string
}

type atom string

func (a atom) Matches(s Set) bool { return s.Has(string(a)) }
func (a atom) String() string     { return string(a) }

type not struct{ x Expression }

func (n not) Matches(s Set) bool { return !n.x.Matches(s) }
func (n not) String() string     { return "!" + n.x.String() }

type binary struct {
	op   string
	l, r Expression
}

func (b binary) Matches(s Set) bool {
	l, r := b.l.Matches(s), b.r.Matches(s)
	switch b.op {
	case "&&":
		return l && r
	case "||":
		return l || r
	case "->":
		return !l || r
	default: // <->
		return l == r
	}
}

func (b binary) String() string {
	return "(" + b.l.String() + " " + b.op + " " + b.r.String() + ")"
}

// Parse parses expr. An empty or blank expr yields a nil Expression, which
// callers treat as "no label requested".
func Parse(expr string) (Expression, error) {
	toks, err := tokenize(expr)
	if err != nil {
		return nil, err
	}
	if len(toks) == 0 {
		return nil, nil
	}

	p := &parser{toks: toks}
	e, err := p.iff()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.toks) {
		return nil, fmt.Errorf("unexpected %q in label expression %q", p.toks[p.pos], expr)
	}
	return e, nil
}

// MustParse is like Parse but panics on error.
func MustParse(expr string) Expression {
	e, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return e
}

var operators = []string{"<->", "->", "&&", "||", "!", "(", ")"}

func tokenize(s string) ([]string, error) {
	var toks []string
	for i := 0; i < len(s); {
		if unicode.IsSpace(rune(s[i])) {
			i++
			continue
		}
		if op := operatorAt(s, i); op != "" {
			toks = append(toks, op)
			i += len(op)
			continue
		}
		start := i
		for i < len(s) && !unicode.IsSpace(rune(s[i])) && operatorAt(s, i) == "" {
			if s[i] == '&' || s[i] == '|' || s[i] == '<' {
				return nil, fmt.Errorf("invalid operator at offset %d in label expression %q", i, s)
			}
			i++
		}
		toks = append(toks, s[start:i])
	}
	return toks, nil
}

func operatorAt(s string, i int) string {
	for _, op := range operators {
		if strings.HasPrefix(s[i:], op) {
			return op
		}
	}
	return ""
}

type parser struct {
	toks []string
	pos  int
}

func (p *parser) peek() string {
	if p.pos < len(p.toks) {
		return p.toks[p.pos]
	}
	return ""
}

func (p *parser) binaryLevel(op string, next func() (Expression, error)) (Expression, error) {
	l, err := next()
	if err != nil {
		return nil, err
	}
	for p.peek() == op {
		p.pos++
		r, err := next()
		if err != nil {
			return nil, err
		}
		l = binary{op: op, l: l, r: r}
	}
	return l, nil
}

func (p *parser) iff() (Expression, error)     { return p.binaryLevel("<->", p.implies) }
func (p *parser) implies() (Expression, error) { return p.binaryLevel("->", p.or) }
func (p *parser) or() (Expression, error)      { return p.binaryLevel("||", p.and) }
func (p *parser) and() (Expression, error)     { return p.binaryLevel("&&", p.unary) }

func (p *parser) unary() (Expression, error) {
	switch tok := p.peek(); tok {
	case "":
		return nil, fmt.Errorf("unexpected end of label expression")
	case "!":
		p.pos++
		x, err := p.unary()
		if err != nil {
			return nil, err
		}
		return not{x: x}, nil
	case "(":
		p.pos++
		x, err := p.iff()
		if err != nil {
			return nil, err
		}
		if p.peek() != ")" {
			return nil, fmt.Errorf("missing closing parenthesis in label expression")
		}
		p.pos++
		return x, nil
	case ")", "&&", "||", "->", "<->":
		return nil, fmt.Errorf("unexpected %q in label expression", tok)
	default:
		p.pos++
		return atom(tok), nil
	}
}

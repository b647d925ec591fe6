package workspace

import "strings"

// Variables is an insertion-ordered set of terraform variables
type Variables struct {
	keys   []string
	values map[string]string
}

// NewVariables returns an empty variable set
func NewVariables() *Variables {
	return &Variables{values: make(map[string]string)}
}

// Set adds or replaces a variable. Replacing keeps the original position.
func (v *Variables) Set(key, value string) {
	if _, ok := v.values[key]; !ok {
		v.keys = append(v.keys, key)
	}
	v.values[key] = value
}

// Get returns the value of key
func (v *Variables) Get(key string) (string, bool) {
	val, ok := v.values[key]
	return val, ok
}

// Keys returns the variable names in insertion order
func (v *Variables) Keys() []string {
	return append([]string(nil), v.keys...)
}

// Len returns the number of variables
func (v *Variables) Len() int {
	return len(v.keys)
}

// Clone returns an independent copy
func (v *Variables) Clone() *Variables {
	c := &Variables{
		keys:   append([]string(nil), v.keys...),
		values: make(map[string]string, len(v.values)),
	}
	for k, val := range v.values {
		c.values[k] = val
	}
	return c
}

var valueEscaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
	"${", "$${",
	"%{", "%%{",
)

// Render serializes the variables in tfvars syntax, one KEY= "value" line
// per variable
func (v *Variables) Render() string {
	lines := make([]string, 0, len(v.keys))
	for _, k := range v.keys {
		lines = append(lines, k+`= "`+valueEscaper.Replace(v.values[k])+`"`)
	}
	return strings.Join(lines, "\n")
}

// Package naming encodes and decodes agent identifiers.
//
// An identifier has the form terrapool-<pool>-<template>-<uuid>. Pool and
// template names are restricted to [A-Za-z0-9.] so the dash separators stay
// unambiguous, which lets the pool and template of any node be recovered from
// its name alone without a side database.
package naming

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// Prefix is the fixed system tag every agent name starts with.
const Prefix = "terrapool"

const (
	segmentRegex = `([a-zA-Z\d.]+)`
	uuidRegex    = `([[:xdigit:]]{8}-[[:xdigit:]]{4}-[[:xdigit:]]{4}-[[:xdigit:]]{4}-[[:xdigit:]]{12})`
)

var (
	poolPattern     = regexp.MustCompile("^" + segmentRegex + "$")
	templatePattern = regexp.MustCompile("^" + segmentRegex + "$")
	agentPattern    = regexp.MustCompile("^" + regexp.QuoteMeta(Prefix) + "-" + segmentRegex + "-" + segmentRegex + "-" + uuidRegex + "$")
)

// Identifier is a decoded agent name.
type Identifier struct {
	Pool     string
	Template string
	UUID     string
}

// String renders the identifier in its canonical form.
func (id Identifier) String() string {
	return fmt.Sprintf("%s-%s-%s-%s", Prefix, id.Pool, id.Template, id.UUID)
}

// New returns an identifier with a fresh random UUID.
func New(pool, template string) Identifier {
	return Identifier{
		Pool:     pool,
		Template: template,
		UUID:     uuid.New().String(),
	}
}

// Generate returns a fresh agent name for the given pool and template.
func Generate(pool, template string) string {
	return New(pool, template).String()
}

// Parse decodes candidate. The second return value is false when candidate
// is not an agent name; that is not an error.
func Parse(candidate string) (Identifier, bool) {
	m := agentPattern.FindStringSubmatch(candidate)
	if m == nil {
		return Identifier{}, false
	}
	return Identifier{Pool: m[1], Template: m[2], UUID: m[3]}, true
}

// BelongsToPool reports whether candidate is an agent of pool.
func BelongsToPool(candidate, pool string) bool {
	id, ok := Parse(candidate)
	return ok && id.Pool == pool
}

// BelongsToTemplate reports whether candidate is an agent of template in pool.
func BelongsToTemplate(candidate, pool, template string) bool {
	id, ok := Parse(candidate)
	return ok && id.Pool == pool && id.Template == template
}

// IsValidPoolName reports whether name can be used as a pool name.
func IsValidPoolName(name string) bool {
	return poolPattern.MatchString(name)
}

// IsValidTemplateName reports whether name can be used as a template name.
func IsValidTemplateName(name string) bool {
	return templatePattern.MatchString(name)
}

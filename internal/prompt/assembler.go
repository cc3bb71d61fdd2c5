package prompt

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/contentive/orchestrator/internal/templates"
)

// Assembled is the final prompt, split into the sections the provider client
// maps onto its message roles. Hash identifies the exact prompt bytes.
type Assembled struct {
	System  string
	Context string
	Task    string
	Schema  string
	Hash    string
}

// Text returns the full prompt as one document, system section included.
// Used for hashing and logging.
func (a *Assembled) Text() string {
	return a.System + "\n\n" + a.UserText()
}

// UserText returns the user-role portion of the prompt.
func (a *Assembled) UserText() string {
	sections := []string{a.Context, a.Task, a.Schema}
	nonEmpty := sections[:0]
	for _, s := range sections {
		if s != "" {
			nonEmpty = append(nonEmpty, s)
		}
	}
	return strings.Join(nonEmpty, "\n\n")
}

// Assemble renders the bundle through the template into the final prompt.
// Context fields are emitted in sorted order and history in chronological
// order, so the same bundle always yields the same bytes and the same hash.
func Assemble(bundle *Bundle, tpl *templates.Template) *Assembled {
	a := &Assembled{
		System:  strings.TrimSpace(tpl.Role),
		Context: contextSection(bundle),
		Task:    taskSection(bundle, tpl),
		Schema:  strings.TrimSpace(tpl.OutputSchema.Describe()),
	}

	sum := sha256.Sum256([]byte(a.Text()))
	a.Hash = hex.EncodeToString(sum[:])
	return a
}

func contextSection(bundle *Bundle) string {
	var b strings.Builder
	b.WriteString("Business context:\n")

	names := make([]string, 0, len(bundle.Fields))
	for name := range bundle.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		b.WriteString(fmt.Sprintf("- %s: %s\n", name, bundle.Fields[name]))
	}

	if len(bundle.History) > 0 {
		b.WriteString("\nRecent exchanges in this session, oldest first:\n")
		for _, ex := range bundle.History {
			b.WriteString(fmt.Sprintf("- [%s] %s\n", ex.TaskType, ex.Summary))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func taskSection(bundle *Bundle, tpl *templates.Template) string {
	body := tpl.Instructions
	for _, name := range templates.Placeholders(tpl.Instructions) {
		if value, ok := bundle.Fields[name]; ok {
			body = replacePlaceholder(body, name, value)
		}
	}
	return strings.TrimSpace(body)
}

// replacePlaceholder substitutes every {{name}} occurrence, tolerating inner
// whitespace, without regex recompilation per call.
func replacePlaceholder(body, name, value string) string {
	var b strings.Builder
	for {
		open := strings.Index(body, "{{")
		if open < 0 {
			b.WriteString(body)
			return b.String()
		}
		end := strings.Index(body[open:], "}}")
		if end < 0 {
			b.WriteString(body)
			return b.String()
		}
		end += open
		inner := strings.TrimSpace(body[open+2 : end])
		b.WriteString(body[:open])
		if inner == name {
			b.WriteString(value)
		} else {
			b.WriteString(body[open : end+2])
		}
		body = body[end+2:]
	}
}

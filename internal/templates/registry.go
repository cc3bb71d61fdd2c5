package templates

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/contentive/orchestrator/internal/metrics"
	"github.com/contentive/orchestrator/internal/models"
)

// Registry maps each task type to its single prompt template. It is populated
// from disk during startup and sealed with Finalize; after that, reads are
// lock-free because the map is never written again.
type Registry struct {
	templates map[models.TaskType]Entry
	finalized bool
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{templates: make(map[models.TaskType]Entry)}
}

// LoadDirectory loads every YAML template under the provided directory.
func (r *Registry) LoadDirectory(root string) error {
	if r.finalized {
		return fmt.Errorf("registry already finalized")
	}
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("stat template directory %s: %w", root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("template path %s is not a directory", root)
	}

	var failures []string
	walkFn := func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", path, walkErr))
			return nil
		}
		if d.IsDir() || !isYAML(path) {
			return nil
		}
		if err := r.loadFile(path); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", path, err))
		}
		return nil
	}
	if err := filepath.WalkDir(root, walkFn); err != nil {
		return fmt.Errorf("walk template directory %s: %w", root, err)
	}

	if len(failures) > 0 {
		return &LoadError{Failures: failures}
	}
	return nil
}

func (r *Registry) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	var tpl Template
	if err := yaml.Unmarshal(data, &tpl); err != nil {
		metrics.TemplateValidationErrors.WithLabelValues("decode").Inc()
		return fmt.Errorf("decode template: %w", err)
	}
	if tpl.MaxOutputTokens == 0 {
		tpl.MaxOutputTokens = DefaultMaxOutputTokens
	}

	if err := ValidateTemplate(&tpl); err != nil {
		if vErr, ok := err.(*ValidationError); ok {
			for _, issue := range vErr.Issues {
				metrics.TemplateValidationErrors.WithLabelValues(issue.Code).Inc()
			}
		} else {
			metrics.TemplateValidationErrors.WithLabelValues("validate").Inc()
		}
		return err
	}

	if _, exists := r.templates[tpl.TaskType]; exists {
		metrics.TemplateValidationErrors.WithLabelValues("duplicate").Inc()
		return fmt.Errorf("duplicate template for task type %q", tpl.TaskType)
	}

	hash := sha256.Sum256(data)
	r.templates[tpl.TaskType] = Entry{
		Template:    &tpl,
		SourcePath:  path,
		ContentHash: hex.EncodeToString(hash[:]),
	}
	metrics.TemplatesLoaded.WithLabelValues(string(tpl.TaskType)).Inc()
	return nil
}

// Register adds a template directly, for construction in tests and embedded
// defaults. Same duplicate and validation rules as loadFile.
func (r *Registry) Register(tpl *Template) error {
	if r.finalized {
		return fmt.Errorf("registry already finalized")
	}
	if tpl.MaxOutputTokens == 0 {
		tpl.MaxOutputTokens = DefaultMaxOutputTokens
	}
	if err := ValidateTemplate(tpl); err != nil {
		return err
	}
	if _, exists := r.templates[tpl.TaskType]; exists {
		return fmt.Errorf("duplicate template for task type %q", tpl.TaskType)
	}
	r.templates[tpl.TaskType] = Entry{Template: tpl}
	return nil
}

// Finalize seals the registry and verifies the mapping is exhaustive: every
// member of the closed task type set must resolve to exactly one template.
func (r *Registry) Finalize() error {
	var missing []string
	for _, t := range models.AllTaskTypes() {
		if _, ok := r.templates[t]; !ok {
			missing = append(missing, string(t))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("no template registered for task types: %s", strings.Join(missing, ", "))
	}
	r.finalized = true
	return nil
}

// Resolve returns the template for the task type.
func (r *Registry) Resolve(t models.TaskType) (*Template, *models.Error) {
	entry, ok := r.templates[t]
	if !ok {
		return nil, models.Errorf(models.KindUnknownTaskType, "no template registered for task type %q", t)
	}
	return entry.Template, nil
}

// List returns summaries of all loaded templates, sorted by task type.
func (r *Registry) List() []Summary {
	summaries := make([]Summary, 0, len(r.templates))
	for _, entry := range r.templates {
		summaries = append(summaries, Summary{
			TaskType:    entry.Template.TaskType,
			Version:     entry.Template.Version,
			ContentHash: entry.ContentHash,
			SourcePath:  entry.SourcePath,
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].TaskType < summaries[j].TaskType
	})
	return summaries
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// LoadError aggregates template loading failures.
type LoadError struct {
	Failures []string
}

func (e *LoadError) Error() string {
	if len(e.Failures) == 0 {
		return "template load failed"
	}
	return fmt.Sprintf("%d template(s) failed to load: %s", len(e.Failures), strings.Join(e.Failures, "; "))
}

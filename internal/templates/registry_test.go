package templates

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contentive/orchestrator/internal/models"
)

const textContentYAML = `
task_type: text_content
version: "1"
role: You are a senior social media copywriter for small businesses.
model_tier: light
required_context: [business_name, platform, topic]
instructions: |
  Write one {{platform}} post for {{business_name}} about {{topic}}.
output_schema:
  fields:
    - name: content
      type: string
      required: true
    - name: hashtags
      type: list
      required: true
      items:
        type: string
`

func writeTemplate(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func templateYAML(taskType string) string {
	return fmt.Sprintf(`
task_type: %s
version: "1"
role: You are a marketing strategist.
model_tier: light
required_context: [business_name]
instructions: Produce output for {{business_name}}.
output_schema:
  fields:
    - name: summary
      type: string
      required: true
`, taskType)
}

func TestLoadDirectoryAndResolve(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "text_content.yaml", textContentYAML)

	r := NewRegistry()
	require.NoError(t, r.LoadDirectory(dir))

	tpl, err := r.Resolve(models.TaskTextContent)
	require.Nil(t, err)
	assert.Equal(t, models.TaskTextContent, tpl.TaskType)
	assert.Equal(t, []string{"business_name", "platform", "topic"}, tpl.RequiredContext)
	assert.Equal(t, DefaultMaxOutputTokens, tpl.MaxOutputTokens)

	list := r.List()
	require.Len(t, list, 1)
	assert.NotEmpty(t, list[0].ContentHash)
}

func TestResolveUnknownTaskType(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve(models.TaskCustomerReply)
	require.NotNil(t, err)
	assert.Equal(t, models.KindUnknownTaskType, err.Kind)
}

func TestLoadDirectoryRejectsDuplicates(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "a.yaml", textContentYAML)
	writeTemplate(t, dir, "b.yaml", textContentYAML)

	r := NewRegistry()
	err := r.LoadDirectory(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestLoadDirectoryAggregatesFailures(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "ok.yaml", textContentYAML)
	writeTemplate(t, dir, "broken.yaml", "task_type: [not, a, scalar")
	writeTemplate(t, dir, "ignored.txt", "not yaml at all")

	r := NewRegistry()
	err := r.LoadDirectory(dir)
	require.Error(t, err)
	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Len(t, loadErr.Failures, 1)

	// The valid template still loaded.
	_, rerr := r.Resolve(models.TaskTextContent)
	assert.Nil(t, rerr)
}

func TestFinalizeRequiresFullCoverage(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "text_content.yaml", textContentYAML)

	r := NewRegistry()
	require.NoError(t, r.LoadDirectory(dir))
	err := r.Finalize()
	require.Error(t, err)
	assert.Contains(t, err.Error(), string(models.TaskCustomerReply))
}

func TestFinalizeSealsRegistry(t *testing.T) {
	dir := t.TempDir()
	for _, taskType := range models.AllTaskTypes() {
		writeTemplate(t, dir, string(taskType)+".yaml", templateYAML(string(taskType)))
	}

	r := NewRegistry()
	require.NoError(t, r.LoadDirectory(dir))
	require.NoError(t, r.Finalize())

	for _, taskType := range models.AllTaskTypes() {
		tpl, err := r.Resolve(taskType)
		require.Nil(t, err)
		assert.Equal(t, taskType, tpl.TaskType)
	}

	assert.Error(t, r.Register(&Template{TaskType: models.TaskTextContent}))
}

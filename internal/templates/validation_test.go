package templates

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contentive/orchestrator/internal/models"
	"github.com/contentive/orchestrator/internal/schema"
)

func validTemplate() *Template {
	return &Template{
		TaskType:        models.TaskCustomerReply,
		Version:         "1",
		Role:            "You reply to customer messages on behalf of the business.",
		ModelTier:       models.TierLight,
		MaxOutputTokens: 512,
		RequiredContext: []string{"business_name", "customer_message"},
		Instructions:    "Reply to this message for {{business_name}}: {{customer_message}}",
		OutputSchema: schema.Schema{Fields: []schema.Field{
			{Name: "reply", Type: schema.TypeString, Required: true},
			{Name: "escalate", Type: schema.TypeBool, Required: true},
		}},
	}
}

func issueCodes(err error) []string {
	vErr, ok := err.(*ValidationError)
	if !ok {
		return nil
	}
	codes := make([]string, 0, len(vErr.Issues))
	for _, issue := range vErr.Issues {
		codes = append(codes, issue.Code)
	}
	return codes
}

func TestValidateTemplateAccepts(t *testing.T) {
	require.NoError(t, ValidateTemplate(validTemplate()))
}

func TestValidateTemplateIssues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Template)
		code   string
	}{
		{"unknown task type", func(tpl *Template) { tpl.TaskType = "email_blast" }, "task_type"},
		{"empty role", func(tpl *Template) { tpl.Role = "  " }, "role"},
		{"empty instructions", func(tpl *Template) { tpl.Instructions = "" }, "instructions"},
		{"bad tier", func(tpl *Template) { tpl.ModelTier = "enormous" }, "model_tier"},
		{"duplicate context field", func(tpl *Template) {
			tpl.RequiredContext = append(tpl.RequiredContext, "business_name")
		}, "required_context"},
		{"orphan placeholder", func(tpl *Template) {
			tpl.Instructions = "Reply about {{secret_field}}."
		}, "placeholder"},
		{"broken schema", func(tpl *Template) {
			tpl.OutputSchema = schema.Schema{Fields: []schema.Field{{Name: "x", Type: "tensor"}}}
		}, "output_schema"},
		{"nonconforming fallback", func(tpl *Template) {
			tpl.Fallback = `{"reply": 42}`
		}, "fallback"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tpl := validTemplate()
			tt.mutate(tpl)
			err := ValidateTemplate(tpl)
			require.Error(t, err)
			assert.Contains(t, issueCodes(err), tt.code)
		})
	}
}

func TestValidateTemplateAcceptsConformingFallback(t *testing.T) {
	tpl := validTemplate()
	tpl.Fallback = `{"reply": "Thanks for reaching out. A teammate will get back to you shortly.", "escalate": true}`
	require.NoError(t, ValidateTemplate(tpl))
}

func TestPlaceholders(t *testing.T) {
	names := Placeholders("Use {{a}} then {{ b }} then {{a}} again.")
	assert.Equal(t, []string{"a", "b"}, names)
}

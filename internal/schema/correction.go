package schema

import "strings"

// CorrectionInstruction builds the repair message appended to a retry
// prompt. It names every offending field with the exact constraint that was
// violated.
func CorrectionInstruction(errs []FieldError) string {
	if len(errs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Your previous response did not match the required format. ")
	b.WriteString("Correct the following and return the complete JSON object again, with no other text:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.String())
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

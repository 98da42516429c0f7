// Package texts holds the user-facing strings a turn may send to a client.
package texts

// Texts are the messages shown to users. Empty fields fall back to Default.
type Texts struct {
	Internal          string `yaml:"internal" json:"internal"`
	ContextLength     string `yaml:"context_length" json:"context_length"`
	ContentFilter     string `yaml:"content_filter" json:"content_filter"`
	FailedToolUse     string `yaml:"failed_tool_use" json:"failed_tool_use"`
	MissingModel      string `yaml:"missing_model" json:"missing_model"`
	MissingPrompt     string `yaml:"missing_prompt" json:"missing_prompt"`
	GroupQuota        string `yaml:"group_quota" json:"group_quota"`
	UserQuota         string `yaml:"user_quota" json:"user_quota"`
	NoSummary         string `yaml:"no_summary" json:"no_summary"`
	ToolDeclined      string `yaml:"tool_declined" json:"tool_declined"`
	ConfirmToolPrompt string `yaml:"confirm_tool_prompt" json:"confirm_tool_prompt"`
}

// Default returns the built-in English texts.
func Default() Texts {
	return Texts{
		Internal:          "An internal error occurred. Please try again later.",
		ContextLength:     "The conversation is too long for the selected model. Start a new chat or shorten your message.",
		ContentFilter:     "The request was blocked by the content filter.",
		FailedToolUse:     "The model failed to use a tool correctly. Please try again.",
		MissingModel:      "No language model is configured for this assistant.",
		MissingPrompt:     "No prompt is configured for this assistant.",
		GroupQuota:        "Monthly token limit exceeded for user group.",
		UserQuota:         "Monthly token limit exceeded for user.",
		NoSummary:         "New chat",
		ToolDeclined:      "The user declined to run this tool.",
		ConfirmToolPrompt: "Allow the assistant to use %s?",
	}
}

// WithDefaults fills empty fields from Default.
func (t Texts) WithDefaults() Texts {
	d := Default()
	fill := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	fill(&t.Internal, d.Internal)
	fill(&t.ContextLength, d.ContextLength)
	fill(&t.ContentFilter, d.ContentFilter)
	fill(&t.FailedToolUse, d.FailedToolUse)
	fill(&t.MissingModel, d.MissingModel)
	fill(&t.MissingPrompt, d.MissingPrompt)
	fill(&t.GroupQuota, d.GroupQuota)
	fill(&t.UserQuota, d.UserQuota)
	fill(&t.NoSummary, d.NoSummary)
	fill(&t.ToolDeclined, d.ToolDeclined)
	fill(&t.ConfirmToolPrompt, d.ConfirmToolPrompt)
	return t
}

package client

import "strings"

// geminiSafetySettings disables provider side filtering on Gemini models,
// which otherwise refuse to look at scam text.
var geminiSafetySettings = []map[string]any{
	{"category": "HARM_CATEGORY_HARASSMENT", "threshold": "OFF"},
	{"category": "HARM_CATEGORY_HATE_SPEECH", "threshold": "OFF"},
	{"category": "HARM_CATEGORY_SEXUALLY_EXPLICIT", "threshold": "OFF"},
	{"category": "HARM_CATEGORY_DANGEROUS_CONTENT", "threshold": "OFF"},
	{"category": "HARM_CATEGORY_CIVIC_INTEGRITY", "threshold": "OFF"},
}

// ExtraFields builds the provider specific request fields for a model.
func ExtraFields(modelName string, maxTokens int) map[string]any {
	fields := map[string]any{
		"max_tokens": maxTokens,
	}

	if strings.Contains(strings.ToLower(modelName), "gemini") {
		fields["safety_settings"] = geminiSafetySettings
	}

	return fields
}

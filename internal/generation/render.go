package generation

import (
	"strings"

	"brokerflow/api/internal/llm"
)

// Render turns a model answer into display text plus the parsed JSON as metadata.
// Output that is not a JSON object is kept verbatim with empty metadata.
func Render(genType, raw string) (string, map[string]any) {
	parsed, err := llm.Decode[map[string]any](raw)
	if err != nil || parsed == nil {
		return raw, map[string]any{}
	}

	switch genType {
	case TypeAdCopy:
		return renderAd(parsed), parsed
	case TypeEmailBRF, TypeEmailBuyer, TypeEmailSeller, TypeBRFApplication:
		return "Ämne: " + str(parsed["subject"]) + "\n\n" + str(parsed["body"]), parsed
	case TypeAccessRequest, TypeSettlementDraft:
		if text := str(parsed["full_text"]); text != "" {
			return text, parsed
		}
		return raw, parsed
	default:
		return raw, parsed
	}
}

func renderAd(parsed map[string]any) string {
	sections := make([]string, 0, 5)
	add := func(section string) {
		if strings.TrimSpace(section) != "" {
			sections = append(sections, section)
		}
	}

	if headline := str(parsed["headline"]); headline != "" {
		add("# " + headline)
	}
	add(str(parsed["intro"]))

	if items, ok := parsed["highlights"].([]any); ok {
		bullets := make([]string, 0, len(items))
		for _, item := range items {
			if text := str(item); strings.TrimSpace(text) != "" {
				bullets = append(bullets, "• "+text)
			}
		}
		add(strings.Join(bullets, "\n"))
	}

	if summary := str(parsed["association_summary"]); strings.TrimSpace(summary) != "" {
		add("**Föreningen:** " + summary)
	}
	add(str(parsed["area_description"]))

	return strings.Join(sections, "\n\n")
}

func str(value any) string {
	text, _ := value.(string)
	return text
}

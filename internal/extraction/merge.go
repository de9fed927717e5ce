package extraction

import (
	"sort"
	"strconv"
	"strings"

	"brokerflow/api/internal/store"
)

// Merged is the per-field union of every completed extraction of an assignment.
type Merged struct {
	Data             map[string]any `json:"data"`
	Confidence       map[string]any `json:"confidence"`
	SourceReferences map[string]any `json:"source_references"`
	ExtractionIDs    []string       `json:"extraction_ids"`
}

// Merge overlays completed extractions oldest first; the newest non-empty value of a field wins.
// Extractions created at the same instant are applied in id order.
func Merge(extractions []store.Extraction) Merged {
	ordered := make([]store.Extraction, 0, len(extractions))
	for _, item := range extractions {
		if item.Status == store.ExtractionCompleted {
			ordered = append(ordered, item)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].CreatedAt.Equal(ordered[j].CreatedAt) {
			return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
		}
		return ordered[i].ID < ordered[j].ID
	})

	out := Merged{
		Data:             map[string]any{},
		Confidence:       map[string]any{},
		SourceReferences: map[string]any{},
		ExtractionIDs:    make([]string, 0, len(ordered)),
	}
	for _, item := range ordered {
		out.ExtractionIDs = append(out.ExtractionIDs, item.ID)
		for key, value := range item.ExtractedJSON {
			if isBlank(value) {
				continue
			}
			out.Data[key] = value
			if confidence, ok := item.ConfidenceJSON[key]; ok && confidence != nil {
				out.Confidence[key] = confidence
			}
			if source, ok := item.SourceReferences[key]; ok && !isBlank(source) {
				out.SourceReferences[key] = source
			}
		}
	}
	return out
}

// CoerceValues normalises reviewer input: numeric strings become numbers and empty strings become null.
func CoerceValues(values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for key, value := range values {
		text, ok := value.(string)
		if !ok {
			out[key] = value
			continue
		}
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			out[key] = nil
			continue
		}
		if number, err := strconv.ParseFloat(trimmed, 64); err == nil && !strings.ContainsAny(trimmed, "xXpP") && !isNonFinite(trimmed) {
			out[key] = number
			continue
		}
		out[key] = value
	}
	return out
}

func isNonFinite(text string) bool {
	lower := strings.ToLower(strings.TrimLeft(text, "+-"))
	return strings.HasPrefix(lower, "inf") || lower == "nan"
}

func isBlank(value any) bool {
	if value == nil {
		return true
	}
	text, ok := value.(string)
	return ok && text == ""
}

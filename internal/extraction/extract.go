// Package extraction turns document text into classified, structured property data.
package extraction

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"brokerflow/api/internal/llm"
)

const (
	DocMaklarbild        = "maklarbild"
	DocArsredovisning    = "arsredovisning"
	DocStadgar           = "stadgar"
	DocKontrakt          = "kontrakt"
	DocPlanritning       = "planritning"
	DocEnergideklaration = "energideklaration"
	DocOvrigt            = "ovrigt"
)

var docTypes = map[string]bool{
	DocMaklarbild:        true,
	DocArsredovisning:    true,
	DocStadgar:           true,
	DocKontrakt:          true,
	DocPlanritning:       true,
	DocEnergideklaration: true,
	DocOvrigt:            true,
}

func IsDocType(value string) bool {
	return docTypes[value]
}

// Completer is the part of llm.Provider the extractors need.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (llm.Response, error)
}

type Classification struct {
	DocType       string
	Confidence    float64
	Reasoning     string
	PromptVersion string
	TokenCount    int
}

type Fields struct {
	Data             map[string]any
	Confidence       map[string]any
	SourceReferences map[string]any
	PromptVersion    string
	TokenCount       int
}

type ContractResult struct {
	Data          map[string]any
	Confidence    map[string]any
	PromptVersion string
	TokenCount    int
}

// Classify asks the model for a document type. Only transport failures are returned;
// unusable output falls back to ovrigt with zero confidence.
func Classify(ctx context.Context, completer Completer, text string) (Classification, error) {
	response, err := completer.Complete(ctx, llm.Request{
		SystemPrompt: classifySystemPrompt,
		UserPrompt:   classifyUserPrompt(text),
		MaxTokens:    500,
		Temperature:  0.1,
	})
	if err != nil {
		return Classification{}, fmt.Errorf("classify document: %w", err)
	}

	out := Classification{
		DocType:       DocOvrigt,
		PromptVersion: ClassifyPromptVersion,
		TokenCount:    response.TokenCount,
	}
	parsed, err := llm.Decode[struct {
		DocType    any `json:"doc_type"`
		Confidence any `json:"confidence"`
		Reasoning  any `json:"reasoning"`
	}](response.Text)
	if err != nil {
		out.Reasoning = "Kunde inte tolka klassificeringsresultat"
		return out, nil
	}

	if docType, ok := parsed.DocType.(string); ok && IsDocType(docType) {
		out.DocType = docType
	}
	if confidence, ok := toFloat(parsed.Confidence); ok {
		out.Confidence = math.Min(1, math.Max(0, confidence))
	}
	if reasoning, ok := parsed.Reasoning.(string); ok {
		out.Reasoning = reasoning
	}
	return out, nil
}

// ExtractFields pulls the property schema out of text. Unusable output yields empty maps.
func ExtractFields(ctx context.Context, completer Completer, text string) (Fields, error) {
	response, err := completer.Complete(ctx, llm.Request{
		SystemPrompt: fieldsSystemPrompt,
		UserPrompt:   fieldsUserPrompt(text),
		MaxTokens:    4096,
		Temperature:  0.1,
	})
	if err != nil {
		return Fields{}, fmt.Errorf("extract fields: %w", err)
	}

	parsed, _ := llm.DecodeOr(response.Text, struct {
		Data             map[string]any `json:"data"`
		Confidence       map[string]any `json:"confidence"`
		SourceReferences map[string]any `json:"source_references"`
	}{})
	return Fields{
		Data:             orEmpty(parsed.Data),
		Confidence:       orEmpty(parsed.Confidence),
		SourceReferences: orEmpty(parsed.SourceReferences),
		PromptVersion:    FieldsPromptVersion,
		TokenCount:       response.TokenCount,
	}, nil
}

// ExtractContract pulls the purchase contract fields. Unusable output yields every field null
// with zero confidence.
func ExtractContract(ctx context.Context, completer Completer, text string) (ContractResult, error) {
	response, err := completer.Complete(ctx, llm.Request{
		SystemPrompt: contractSystemPrompt,
		UserPrompt:   contractUserPrompt(text),
		MaxTokens:    2048,
		Temperature:  0.1,
	})
	if err != nil {
		return ContractResult{}, fmt.Errorf("extract contract: %w", err)
	}

	out := ContractResult{
		Data:          make(map[string]any, len(ContractFields)),
		Confidence:    make(map[string]any, len(ContractFields)),
		PromptVersion: ContractPromptVersion,
		TokenCount:    response.TokenCount,
	}
	for _, key := range ContractFields {
		out.Data[key] = nil
		out.Confidence[key] = 0.0
	}

	parsed, ok := llm.DecodeOr(response.Text, struct {
		Data       map[string]any `json:"data"`
		Confidence map[string]any `json:"confidence"`
	}{})
	if !ok {
		return out, nil
	}
	for _, key := range ContractFields {
		if value, found := parsed.Data[key]; found {
			out.Data[key] = value
		}
		if value, found := toFloat(parsed.Confidence[key]); found {
			out.Confidence[key] = value
		}
	}
	return out, nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

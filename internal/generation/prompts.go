// Package generation builds the prompts for marketing and transaction texts and renders
// the model's JSON answers into display text.
package generation

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const (
	TypeAdCopy          = "ad_copy"
	TypeEmailBRF        = "email_brf"
	TypeEmailBuyer      = "email_buyer"
	TypeEmailSeller     = "email_seller"
	TypeBRFApplication  = "brf_application"
	TypeAccessRequest   = "access_request"
	TypeSettlementDraft = "settlement_draft"
)

const (
	ToneProfessional = "professional"
	ToneCasual       = "casual"
	ToneLuxury       = "luxury"
)

const PromptVersion = "1.0.0"

var (
	ErrUnknownType        = errors.New("unknown generation type")
	ErrMissingTransaction = errors.New("generation requires a transaction")
)

var types = []string{
	TypeAdCopy, TypeEmailBRF, TypeEmailBuyer, TypeEmailSeller, TypeBRFApplication, TypeAccessRequest, TypeSettlementDraft,
}

func Types() []string {
	out := make([]string, len(types))
	copy(out, types)
	return out
}

func IsType(value string) bool {
	for _, item := range types {
		if item == value {
			return true
		}
	}
	return false
}

// RequiresTransaction reports whether the type cannot be written without a transaction.
func RequiresTransaction(genType string) bool {
	return genType == TypeSettlementDraft || genType == TypeAccessRequest
}

// NormalizeTone maps empty or unknown tones to professional.
func NormalizeTone(tone string) string {
	switch tone {
	case ToneCasual, ToneLuxury:
		return tone
	default:
		return ToneProfessional
	}
}

type Request struct {
	Type             string
	Tone             string
	Property         map[string]any
	Transaction      map[string]any
	AssignmentStatus string
}

type Prompt struct {
	System      string
	User        string
	Version     string
	MaxTokens   int
	Temperature float64
}

func BuildPrompt(req Request) (Prompt, error) {
	if !IsType(req.Type) {
		return Prompt{}, fmt.Errorf("%w: %s", ErrUnknownType, req.Type)
	}
	if RequiresTransaction(req.Type) && req.Transaction == nil {
		return Prompt{}, ErrMissingTransaction
	}

	prompt := Prompt{Version: PromptVersion, MaxTokens: 2048, Temperature: 0.7}
	switch req.Type {
	case TypeAdCopy:
		prompt.System = adSystemPrompt(req.Tone)
		prompt.User = "Skapa annonstext för denna bostad:\n\n" + formatEntries(req.Property)
	case TypeEmailBRF, TypeEmailBuyer, TypeEmailSeller:
		prompt.System = emailSystemPrompt(emailInstructions[req.Type])
		prompt.User = fmt.Sprintf("Skapa e-postmeddelande för denna bostad (status: %s):\n\n%s",
			req.AssignmentStatus, formatEntries(req.Property))
	case TypeBRFApplication:
		prompt.System = emailSystemPrompt(brfApplicationInstructions)
		prompt.User = "Skapa ansökan om medlemskap för denna bostad:\n\n" + formatEntries(req.Property)
		if req.Transaction != nil {
			prompt.User += "\n\nTRANSAKTIONSDATA:\n" + formatEntries(req.Transaction)
		}
	case TypeAccessRequest:
		prompt.System = accessRequestSystemPrompt
		prompt.User = transactionUserPrompt("Skapa underlag för tillträde baserat på denna data:", req)
	case TypeSettlementDraft:
		prompt.System = settlementSystemPrompt
		prompt.User = transactionUserPrompt("Skapa likvidavräkning baserat på denna data:", req)
		prompt.MaxTokens = 3000
	}
	return prompt, nil
}

func transactionUserPrompt(lead string, req Request) string {
	return lead + "\n\nTRANSAKTIONSDATA:\n" + formatEntries(req.Transaction) + "\n\nOBJEKTDATA:\n" + formatEntries(req.Property)
}

// formatEntries renders "key: value" lines in key order, skipping null and empty values.
func formatEntries(values map[string]any) string {
	keys := make([]string, 0, len(values))
	for key, value := range values {
		if value == nil {
			continue
		}
		if text, ok := value.(string); ok && text == "" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, key := range keys {
		lines = append(lines, key+": "+formatValue(values[key]))
	}
	return strings.Join(lines, "\n")
}

func formatValue(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int, int64, bool:
		return fmt.Sprint(v)
	case *string:
		if v == nil {
			return ""
		}
		return *v
	case *float64:
		if v == nil {
			return ""
		}
		return strconv.FormatFloat(*v, 'f', -1, 64)
	case *int:
		if v == nil {
			return ""
		}
		return strconv.Itoa(*v)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(raw)
	}
}

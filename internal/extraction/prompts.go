package extraction

import (
	"fmt"
	"strings"
)

const (
	ClassifyPromptVersion = "1.0.0"
	FieldsPromptVersion   = "1.0.0"
	ContractPromptVersion = "1.0.0"

	// SchemaVersion tags stored extraction rows.
	SchemaVersion = "1.0"

	classifyTextLimit = 8000
	fieldsTextLimit   = 12000
)

// Field is one entry of the property schema sent to the model.
type Field struct {
	Key         string
	Description string
}

// PropertySchema lists the fields pulled from property documents, in prompt order.
var PropertySchema = []Field{
	{"monthly_fee", "Månadsavgift i kronor (siffra)"},
	{"living_area_sqm", "Boarea i kvadratmeter (siffra)"},
	{"rooms", "Antal rum (siffra, t.ex. 3 eller 2.5)"},
	{"floor", "Våningsplan (siffra)"},
	{"total_floors", "Totalt antal våningar i huset (siffra)"},
	{"build_year", "Byggår (fyrsiffrigt årtal)"},
	{"association_name", "Bostadsrättsföreningens namn (text)"},
	{"association_org_number", "Föreningens organisationsnummer (text, format 769XXX-XXXX)"},
	{"renovation_info", "Renoveringsinformation, vad har renoverats och när (text)"},
	{"economic_summary", "Ekonomisk sammanfattning av föreningen (text)"},
	{"energy_class", "Energiklass (A-G)"},
	{"parking", "Parkeringsmöjligheter (text)"},
	{"balcony", "Balkong: finns det balkong? (ja/nej/text)"},
	{"elevator", "Hiss: finns det hiss? (ja/nej)"},
	{"upcoming_renovations", "Planerade renoveringar i föreningen (text)"},
}

// ContractFields lists the keys pulled from purchase contracts.
var ContractFields = []string{
	"buyer_name",
	"buyer_email",
	"buyer_phone",
	"seller_name",
	"seller_email",
	"sale_price",
	"deposit_amount",
	"deposit_due_date",
	"contract_date",
	"access_date",
	"property_address",
}

const classifySystemPrompt = `Du är en expert på att klassificera svenska fastighetsdokument.

Givet texten från ett dokument, klassificera det som en av följande typer:
- "maklarbild": Mäklarbild / objektsbeskrivning från BRF
- "arsredovisning": Årsredovisning från bostadsrättsförening
- "stadgar": Stadgar för bostadsrättsförening
- "kontrakt": Köpekontrakt / överlåtelseavtal
- "planritning": Planritning / lägenhetsritning
- "energideklaration": Energideklaration
- "ovrigt": Allt annat

Svara ENBART med valid JSON i detta format:
{
  "doc_type": "<typ>",
  "confidence": <0.0-1.0>,
  "reasoning": "<kort motivering på svenska>"
}`

const contractSystemPrompt = `Du är en expert på svenska fastighetskontrakt. Din uppgift är att extrahera nyckelinformation från ett köpekontrakt/överlåtelseavtal.

Extrahera följande fält om de finns i dokumentet:
- buyer_name: Köparens fullständiga namn
- buyer_email: Köparens e-postadress
- buyer_phone: Köparens telefonnummer
- seller_name: Säljarens fullständiga namn
- seller_email: Säljarens e-postadress
- sale_price: Köpeskillingen i kronor (bara siffror)
- deposit_amount: Handpenningen i kronor (bara siffror)
- deposit_due_date: Sista datum för handpenning (YYYY-MM-DD)
- contract_date: Datum för kontraktsskrivning (YYYY-MM-DD)
- access_date: Tillträdesdag (YYYY-MM-DD)
- property_address: Bostadens adress

Returnera resultatet som JSON:
{
  "data": { "<fältnamn>": <värde eller null>, ... },
  "confidence": { "<fältnamn>": <0.0-1.0>, ... }
}

Regler:
- Svara ENBART med valid JSON
- Ange confidence 0.0 om fältet saknas i dokumentet
- Ange null om ett fält inte kan hittas
- Belopp ska vara enbart siffror utan mellanslag eller valutasymboler
- Datum ska vara i formatet YYYY-MM-DD`

var fieldsSystemPrompt = buildFieldsSystemPrompt()

func buildFieldsSystemPrompt() string {
	lines := make([]string, 0, len(PropertySchema))
	for _, field := range PropertySchema {
		lines = append(lines, fmt.Sprintf("- %q: %s", field.Key, field.Description))
	}
	return `Du är en expert på att extrahera strukturerad data från svenska fastighetsdokument (mäklarbilder, årsredovisningar, stadgar, m.m.).

Extrahera följande fält från dokumenttexten nedan. Om ett fält inte hittas, utelämna det eller sätt till null.

Fält att extrahera:
` + strings.Join(lines, "\n") + `

Svara ENBART med valid JSON i detta format:
{
  "data": { "<fältnamn>": <värde>, ... },
  "confidence": { "<fältnamn>": <0.0-1.0>, ... },
  "source_references": { "<fältnamn>": "<citat eller sidnummer där data hittades>", ... }
}

Regler:
- Numeriska värden ska vara tal, inte strängar
- Confidence 0.0 = gissning, 1.0 = säkert hittat i texten
- Inkludera source_references med korta citat som visar var data hittades
- Svara på svenska om text-fält`
}

func classifyUserPrompt(text string) string {
	return fmt.Sprintf("Klassificera följande dokument:\n\n---\n%s\n---", truncateRunes(text, classifyTextLimit))
}

func fieldsUserPrompt(text string) string {
	return fmt.Sprintf("Extrahera fastighetsdata från detta dokument:\n\n---\n%s\n---", truncateRunes(text, fieldsTextLimit))
}

func contractUserPrompt(text string) string {
	return "Extrahera kontraktsdata från följande dokument:\n\n" + text
}

func truncateRunes(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}

package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var generationTemplate = template.Must(template.New("generation.html").Funcs(template.FuncMap{
	"formatDate": func(t *time.Time, layout string) string {
		if t == nil {
			return ""
		}
		return t.Format(layout)
	},
}).ParseFS(templateFS, "templates/generation.html"))

// TemplateData holds data for generation template rendering
type TemplateData struct {
	Title      string
	TypeLabel  string
	Address    string
	City       string
	TenantName string
	ApprovedAt *time.Time
	Blocks     []Block
}

// Block is one rendered section of generation text.
type Block struct {
	Kind  string // heading, list or paragraph
	Label string
	Text  string
	Items []string
}

// RenderGenerationHTML renders the generation template with provided data
func RenderGenerationHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := generationTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// TextToBlocks splits display text on blank lines. "# " opens a heading, lines starting
// with a bullet form a list and a leading **Label:** becomes a bold label.
func TextToBlocks(text string) []Block {
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	blocks := make([]Block, 0)
	for _, chunk := range strings.Split(normalized, "\n\n") {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		lines := strings.Split(chunk, "\n")

		switch {
		case strings.HasPrefix(chunk, "# "):
			blocks = append(blocks, Block{Kind: "heading", Text: strings.TrimSpace(strings.TrimPrefix(lines[0], "# "))})
			if rest := strings.TrimSpace(strings.Join(lines[1:], "\n")); rest != "" {
				blocks = append(blocks, TextToBlocks(rest)...)
			}
		case isBulletList(lines):
			items := make([]string, 0, len(lines))
			for _, line := range lines {
				items = append(items, strings.TrimSpace(trimBullet(line)))
			}
			blocks = append(blocks, Block{Kind: "list", Items: items})
		default:
			blocks = append(blocks, paragraph(chunk))
		}
	}
	return blocks
}

func paragraph(chunk string) Block {
	if strings.HasPrefix(chunk, "**") {
		if end := strings.Index(chunk[2:], "**"); end > 0 {
			return Block{Kind: "paragraph", Label: chunk[2 : 2+end], Text: strings.TrimSpace(chunk[4+end:])}
		}
	}
	return Block{Kind: "paragraph", Text: chunk}
}

func isBulletList(lines []string) bool {
	for _, line := range lines {
		if trimBullet(line) == line {
			return false
		}
	}
	return true
}

func trimBullet(line string) string {
	trimmed := strings.TrimSpace(line)
	for _, marker := range []string{"• ", "- ", "* "} {
		if strings.HasPrefix(trimmed, marker) {
			return strings.TrimPrefix(trimmed, marker)
		}
	}
	return line
}

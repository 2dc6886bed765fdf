package extract

import "github.com/couchcryptid/advisory-alert-etl/internal/domain"

const visionSystemPrompt = `You transcribe pages of Pakistani disaster advisories issued by NDMA, NEOC and PMD into markdown.`

const visionInstruction = `Extract all text as-is from this image in markdown format.
Preserve the structure, headings, lists, tables, diagrams and formatting as much as possible.
Return only the English markdown without any preamble. Ignore Urdu text. Format tables as markdown or html.
Wrap contents from inside a diagram in "<!-- Diagram -->" comments before and after the diagram content.`

// visionExample is the fixed exemplar reply shown before every page so the
// output format stays stable across calls.
const visionExample = `# **LANDSLIDE ADVISORY!**
**(8th April, 2024 to 15th April, 2024)**

## **LIKELY EXPOSED AREAS**
**Khyber Pakhtunkhwa**
- Chitral
- Battagram

| Risk Level           | Number of Towns |
| -------------------- | --------------- |
| Very High Risk Zones | 18              |

<!-- Diagram -->
Rainfall outlook: Upper KP, GB and AJK
<!-- Diagram -->`

// pageMessages builds the conversation for one page image.
func pageMessages(page domain.Image) []domain.Message {
	return []domain.Message{
		{Role: domain.RoleSystem, Text: visionSystemPrompt},
		{Role: domain.RoleUser, Text: visionInstruction + "\n\nExample of the expected output for an advisory page:"},
		{Role: domain.RoleAssistant, Text: visionExample},
		{Role: domain.RoleUser, Text: visionInstruction, Images: []domain.Image{page}},
	}
}

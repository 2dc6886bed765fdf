package structure

import "github.com/couchcryptid/advisory-alert-etl/internal/domain"

const systemPrompt = `You are a disaster alert extraction specialist.
Your task is to convert unstructured disaster alert documents into structured JSON following the CAP (Common Alerting Protocol) schema.
Extract all relevant information accurately, inferring values only when they are stated.
Use "Unknown" for urgency or severity only when truly indeterminate. Expand any place name abbreviations to their standard full form.`

const instructionPrompt = `Convert this markdown, extracted by a vision model from a Pakistani disaster alert or information document, to CAP-inspired JSON.
The markdown may contain transcription mistakes. Convert place names and abbreviations to their full form.
Convert directional descriptions to a standard form, e.g. (North, Northern, Northern parts, Upper) -> (Northern).
Convert names of roads, highways, dams and similar infrastructure to the districts and provinces containing them.

# Field Definitions:
- category: Type of alert. Valid values: "Geo", "Met", "Safety", "Security", "Rescue", "Fire", "Health", "Env", "Transport", "Infra", "CBRNE", "Other"
- event: Brief name of the hazard or event (e.g. "Severe Thunderstorm", "Flood Warning")
- urgency: Response time expected. Valid values: "Immediate", "Expected", "Future", "Past", "Unknown"
- severity: Severity of the event. Valid values: "Extreme", "Severe", "Moderate", "Minor", "Unknown"
- description: Detailed description of the situation, hazards and expected impacts
- instruction: Recommended actions for recipients
- effective_from: ISO 8601 datetime when the alert becomes active, or null
- effective_until: ISO 8601 datetime when the alert expires, or null
- areas: Array of affected locations with optional area-specific overrides

# Area Object Fields:
- place_names: Array of location names
- specific_effective_from, specific_effective_until: optional datetime overrides, or null
- specific_urgency, specific_severity: optional overrides using the same valid values, or null
- specific_instruction: optional additional instructions for this area, or null

Respond with a single JSON object and nothing else.

Alert Text:
`

const exampleMarkdown = `<!-- Page 1 -->
**Government of Pakistan**
**National Disaster Management Authority**

## ADVISORY: MONSOON RAINS (15 - 17 August 2024)

PMD forecasts heavy rains with thunderstorms in Upper Sindh and GB from 15 Aug evening till 17 Aug.
Urban flooding likely in Sukkur and Larkana. Landslides expected in Gilgit and Skardu.

**Actions:** Avoid travel on KKH. Stay away from nullahs and low-lying areas.
`

const exampleJSON = `{
  "category": "Met",
  "event": "Monsoon Rains",
  "urgency": "Expected",
  "severity": "Severe",
  "description": "Heavy rains with thunderstorms forecast. Urban flooding likely in Sukkur and Larkana; landslides expected in Gilgit and Skardu.",
  "instruction": "Stay away from nullahs and low-lying areas.",
  "effective_from": "2024-08-15T14:00:00Z",
  "effective_until": "2024-08-17T18:59:00Z",
  "areas": [
    {
      "place_names": ["Northern Sindh", "Sukkur", "Larkana"],
      "specific_effective_from": null,
      "specific_effective_until": null,
      "specific_urgency": null,
      "specific_severity": null,
      "specific_instruction": "Urban flooding likely. Avoid low-lying areas."
    },
    {
      "place_names": ["Gilgit", "Skardu", "Haripur", "Abbottabad", "Mansehra"],
      "specific_effective_from": null,
      "specific_effective_until": null,
      "specific_urgency": null,
      "specific_severity": "Moderate",
      "specific_instruction": "Landslides expected. Avoid travel on the Karakoram Highway."
    }
  ]
}`

// messages builds the few-shot conversation for markdown. The exemplar is
// the same on every call.
func messages(markdown string) []domain.Message {
	return []domain.Message{
		{Role: domain.RoleSystem, Text: systemPrompt},
		{Role: domain.RoleUser, Text: instructionPrompt + exampleMarkdown},
		{Role: domain.RoleAssistant, Text: exampleJSON},
		{Role: domain.RoleUser, Text: instructionPrompt + markdown},
	}
}

package prompt

import "fmt"

// GetSystemPrompt provides strict directions and schema for JSON output.
func GetSystemPrompt() string {
	return `You are a senior vulnerability analyst. You must produce one valid JSON object only (no markdown, no commentary) that follows the schema below. Do not include code fences.

Requirements:
- Output must be a single JSON object.
- Use lowercase severity values: critical, high, medium, low, info.
- The input is a JSON array of correlated vulnerabilities across hosts; group your assessment by host where it helps.
- prioritized is an array ordered from most to least urgent; include at least the identifier, a summary, and a recommendation. Keep items concise.
- advice is one short paragraph for the whole estate.

Schema (example with empty values):
{
  "summary": "<string>",
  "prioritized": [
    {
      "identifier": "<string>",
      "host": "<string>",
      "severity": "<critical|high|medium|low|info>",
      "summary": "<string>",
      "recommendation": "<string>"
    }
  ],
  "advice": "<string>"
}`
}

// GetUserPrompt wraps the vulnerability digest for analysis.
func GetUserPrompt(digest string) string {
	return fmt.Sprintf("Assess these correlated vulnerabilities and respond with the JSON per schema. Vulnerabilities: %s", digest)
}

package quality

import (
	"encoding/json"
	"strings"

	"github.com/yoockh/casescribe/internal/models"
)

// SystemPrompt instructs the generator to emit the record schema the gate
// validates.
const SystemPrompt = `You are a pediatric clinical analysis assistant. Follow current evidence-based pediatric guidelines (Nelson, AAP).
Analyse the transcript of a spoken clinical case and respond with ONE JSON object and nothing else:
{
  "chief_complaint": "specific presenting symptoms, at least 10 characters",
  "summary": {"chief_complaint": "...", "history": "...", "findings": "...", "assessment": "..."},
  "differential": [{"diagnosis": "...", "reasoning": "at least 50 characters of case-specific reasoning", "likelihood": "high|moderate|low"}],
  "evidence_reference": "guideline or citation supporting the leading diagnosis",
  "urgency": "CRITICAL|URGENT|ROUTINE",
  "confidence": 0.0,
  "debug": {"transcript_language_detected": "en|fa|mixed", "language_mismatch": false}
}
Rules:
- 2 to 5 differential diagnoses ordered by likelihood.
- Never use placeholders such as "N/A", "Unknown" or "Unknown Complaint".
- Cite one of the supplied evidence items in evidence_reference when any are given; otherwise cite the relevant guideline chapter.
- When output_language is given, write every text field in that language; diagnosis names may keep their English terms.
- Report the language actually spoken in debug.transcript_language_detected and set language_mismatch when it differs from declared_language.
- CRITICAL: life-threatening, needs immediate intervention. URGENT: needs assessment within hours. ROUTINE: stable.`

// EvidenceLine is one citation offered to the generator.
type EvidenceLine struct {
	Citation string `json:"citation"`
	Title    string `json:"title"`
	Abstract string `json:"abstract,omitempty"`
}

// UserPrompt renders the transcript and supporting evidence as the user
// message. nullNote is used instead of evidence when the search came back
// empty. An undeclared language adds no output-language rule.
func UserPrompt(transcript string, evidence []EvidenceLine, nullNote string, lang models.Language) string {
	payload := map[string]any{
		"transcript": strings.TrimSpace(transcript),
	}
	if lang != "" {
		payload["declared_language"] = lang
		payload["output_language"] = lang.OutputLanguage()
	}
	if len(evidence) > 0 {
		payload["evidence"] = evidence
	} else if nullNote != "" {
		payload["evidence_note"] = nullNote
	}
	b, _ := json.Marshal(payload)
	return string(b)
}

// NoteLanguage records the declared language on rec and flags a mismatch
// when the generator detected a different one. A mixed declaration matches
// any detected language.
func NoteLanguage(rec *models.ClinicalRecord, declared models.Language) {
	if rec == nil || declared == "" {
		return
	}
	rec.Debug.DeclaredLanguage = string(declared)
	if d := strings.ToLower(strings.TrimSpace(rec.Debug.DetectedLanguage)); declared != models.LanguageMixed && d != "" && d != string(declared) {
		rec.Debug.LanguageMismatch = true
	}
}

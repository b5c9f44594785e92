package models

import "time"

// RecordStatus is the terminal outcome of the quality gate. Exactly one is
// assigned per record and it never changes afterwards.
type RecordStatus string

const (
	StatusCompleted            RecordStatus = "COMPLETED"
	StatusFailedInput          RecordStatus = "FAILED_INPUT"
	StatusFailedNoClinicalData RecordStatus = "FAILED_NO_CLINICAL_DATA"
	StatusFailedNonPediatric   RecordStatus = "FAILED_NON_PEDIATRIC"
	StatusFailedQuality        RecordStatus = "FAILED_QUALITY"
	StatusFailedInternal       RecordStatus = "FAILED_INTERNAL"
)

func (s RecordStatus) Failed() bool { return s != StatusCompleted }

type Urgency string

const (
	UrgencyCritical Urgency = "CRITICAL"
	UrgencyUrgent   Urgency = "URGENT"
	UrgencyRoutine  Urgency = "ROUTINE"
)

func (u Urgency) Valid() bool {
	switch u {
	case UrgencyCritical, UrgencyUrgent, UrgencyRoutine:
		return true
	}
	return false
}

type Summary struct {
	ChiefComplaint string `bson:"chief_complaint" json:"chief_complaint"`
	History        string `bson:"history" json:"history"`
	Findings       string `bson:"findings" json:"findings"`
	Assessment     string `bson:"assessment" json:"assessment"`
}

type Diagnosis struct {
	Diagnosis  string `bson:"diagnosis" json:"diagnosis"`
	Reasoning  string `bson:"reasoning" json:"reasoning"`
	Likelihood string `bson:"likelihood,omitempty" json:"likelihood,omitempty"` // high|moderate|low
}

// DebugInfo has the same shape for every status so a failed record is as
// observable as a completed one.
type DebugInfo struct {
	TranscriptLength int      `bson:"transcript_length" json:"transcript_length"`
	SignalsFound     []string `bson:"signals_found" json:"signals_found"`
	ScopeVerified    bool     `bson:"scope_verified" json:"pediatric_scope_verified"`
	AgeMentioned     string   `bson:"age_mentioned,omitempty" json:"patient_age_mentioned,omitempty"`
	Confidence       float64  `bson:"confidence" json:"confidence"`
	FailureReason    string   `bson:"failure_reason,omitempty" json:"failure_reason,omitempty"`
	ProcessingMS     int64    `bson:"processing_ms" json:"processing_ms"`
	Provider         string   `bson:"provider,omitempty" json:"provider,omitempty"`

	DeclaredLanguage string `bson:"declared_language,omitempty" json:"declared_language,omitempty"`
	DetectedLanguage string `bson:"detected_language,omitempty" json:"transcript_language_detected,omitempty"`
	LanguageMismatch bool   `bson:"language_mismatch" json:"language_mismatch"`
}

type ClinicalRecord struct {
	Status            RecordStatus `bson:"status" json:"status"`
	ChiefComplaint    string       `bson:"chief_complaint,omitempty" json:"chief_complaint,omitempty"`
	Summary           *Summary     `bson:"summary,omitempty" json:"summary,omitempty"`
	Differential      []Diagnosis  `bson:"differential,omitempty" json:"differential,omitempty"`
	EvidenceReference string       `bson:"evidence_reference,omitempty" json:"evidence_reference,omitempty"`
	Urgency           Urgency      `bson:"urgency,omitempty" json:"urgency,omitempty"`
	Debug             DebugInfo    `bson:"debug" json:"debug"`
	CreatedAt         time.Time    `bson:"created_at" json:"created_at"`
}

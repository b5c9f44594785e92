package quality

import "regexp"

// Signal is a category of clinical content recognised in a transcript.
type Signal string

const (
	SignalDemographics Signal = "demographics"
	SignalComplaint    Signal = "complaint"
	SignalExam         Signal = "exam"
	SignalVitals       Signal = "vitals"
	SignalLabs         Signal = "labs"
	SignalImaging      Signal = "imaging"
	SignalDiagnosis    Signal = "diagnosis"
	SignalTreatment    Signal = "treatment"
	SignalCourse       Signal = "course"
)

var signalOrder = []Signal{
	SignalDemographics, SignalComplaint, SignalExam, SignalVitals, SignalLabs,
	SignalImaging, SignalDiagnosis, SignalTreatment, SignalCourse,
}

var signalPatterns = map[Signal]*regexp.Regexp{
	SignalDemographics: regexp.MustCompile(`(?i)\b(\d{1,3}[- ]?(years?|months?|weeks?|days?)[- ]old|\d{1,3}\s?yo|boy|girl|male|female|newborn|neonate|infant|toddler|child|adolescent|weigh(s|ing|t)|kg)\b`),
	SignalComplaint:    regexp.MustCompile(`(?i)\b(presents? with|presented with|complain(s|ed|ing)?|chief complaint|fever|cough(ing)?|pain|vomit(s|ing)?|diarrh?oea|diarrhea|rash|seizures?|convulsions?|letharg(y|ic)|poor feeding|irritab(le|ility)|wheez(e|es|ing)|difficulty breathing|shortness of breath|headache|swelling)\b`),
	SignalExam:         regexp.MustCompile(`(?i)\b(exam(ination)?|auscultation|palpat(ion|ed)|tender(ness)?|crackles|rales|murmur|hepatomegaly|splenomegaly|lymphadenopathy|retractions?|capillary refill|dehydrat(ed|ion)|nuchal rigidity|pallor|jaundice)\b`),
	SignalVitals:       regexp.MustCompile(`(?i)\b(temperature|febrile|afebrile|heart rate|respiratory rate|blood pressure|spo2|oxygen saturation|saturating|pulse|bpm|mmhg|tachycardi[ac]|tachypn(o)?ea|hypotensi(on|ve))\b`),
	SignalLabs:         regexp.MustCompile(`(?i)\b(cbc|wbc|white (blood )?cell count|h(a)?emoglobin|platelets?|crp|c-reactive protein|esr|procalcitonin|cultures?|urinalysis|electrolytes|sodium|potassium|glucose|lactate|lumbar puncture|csf|blood gas|labs?)\b`),
	SignalImaging:      regexp.MustCompile(`(?i)\b(x-?ray|radiograph|ultrasound|ultrasonography|ct|mri|echocardiogra(m|phy)|imaging)\b`),
	SignalDiagnosis:    regexp.MustCompile(`(?i)\b(diagnos(is|ed|es)|suspected|differential|consistent with|rule out|ruled out|impression)\b`),
	SignalTreatment:    regexp.MustCompile(`(?i)\b(treat(ed|ment)?|antibiotics?|amoxicillin|ceftriaxone|paracetamol|acetaminophen|ibuprofen|iv fluids|fluids|oxygen|nebuli[sz](ed|er|ation)|salbutamol|albuterol|steroids?|dexamethasone|prescribed|started on|admitted)\b`),
	SignalCourse:       regexp.MustCompile(`(?i)\b(days? ago|hours? ago|weeks? ago|since (yesterday|last)|for (\d+|two|three|four|five|a few|several) (hours?|days?|weeks?)|progress(ed|ively)|worsen(ed|ing)|improv(ed|ing)|onset|history of|follow[- ]up)\b`),
}

// DetectSignals returns the signal categories present in text in a fixed
// order. The result is never nil.
func DetectSignals(text string) []string {
	found := []string{}
	for _, s := range signalOrder {
		if signalPatterns[s].MatchString(text) {
			found = append(found, string(s))
		}
	}
	return found
}

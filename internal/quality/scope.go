package quality

import (
	"regexp"
	"strconv"
	"strings"
)

// MaxPediatricAge is the oldest age in years still in pediatric scope.
const MaxPediatricAge = 18

var (
	ageHyphenated = regexp.MustCompile(`(?i)\b(\d{1,3})[- ]?(years?|yrs?|months?|mos?|weeks?|wks?|days?)[- ]old\b`)
	ageShort      = regexp.MustCompile(`(?i)\b(\d{1,3})\s?(yo|y/o)\b`)
	ageLabelled   = regexp.MustCompile(`(?i)\b(?:aged?)\s*:?\s*(\d{1,3})(?:\s*(years?|months?|weeks?|days?))?\b`)
	ageOfAge      = regexp.MustCompile(`(?i)\b(\d{1,3})\s+(years?|months?|weeks?|days?)\s+of\s+age\b`)
	// terms that describe the patient; setting words such as "pediatric ward" do not count
	pediatricBand = regexp.MustCompile(`(?i)\b(neonates?|newborns?|infants?|toddlers?|child(ren)?|adolescents?|teen(ager)?s?|preschoolers?)\b`)
)

// Age is one explicit age mention.
type Age struct {
	Text  string
	Value int
	Unit  string // years|months|weeks|days
}

func (a Age) Pediatric() bool {
	return a.Unit != "years" || a.Value <= MaxPediatricAge
}

// Scope is the result of the pediatric scope check. Adult is set only when
// every explicit age is above the pediatric range and no pediatric age-band
// term appears, so a transcript mentioning a parent's age still passes.
type Scope struct {
	Ages      []Age
	Band      string
	Pediatric bool
	Adult     bool
}

// Mention returns the age reported in the debug record.
func (s Scope) Mention() string {
	for _, a := range s.Ages {
		if a.Pediatric() {
			return a.Text
		}
	}
	if len(s.Ages) > 0 {
		return s.Ages[0].Text
	}
	return s.Band
}

func CheckScope(text string) Scope {
	var sc Scope
	sc.Ages = FindAges(text)
	sc.Band = strings.ToLower(pediatricBand.FindString(text))

	anyPediatric := false
	for _, a := range sc.Ages {
		if a.Pediatric() {
			anyPediatric = true
			break
		}
	}
	sc.Pediatric = anyPediatric || sc.Band != ""
	sc.Adult = len(sc.Ages) > 0 && !sc.Pediatric
	return sc
}

// FindAges extracts explicit ages in order of appearance.
func FindAges(text string) []Age {
	type hit struct {
		pos int
		age Age
	}
	var hits []hit
	seen := map[int]bool{}
	add := func(re *regexp.Regexp, defaultUnit string) {
		for _, m := range re.FindAllStringSubmatchIndex(text, -1) {
			if seen[m[0]] {
				continue
			}
			n, err := strconv.Atoi(text[m[2]:m[3]])
			if err != nil {
				continue
			}
			unit := defaultUnit
			if len(m) > 5 && m[4] >= 0 {
				unit = normalizeUnit(text[m[4]:m[5]])
			}
			seen[m[0]] = true
			hits = append(hits, hit{pos: m[0], age: Age{Text: strings.TrimSpace(text[m[0]:m[1]]), Value: n, Unit: unit}})
		}
	}
	add(ageHyphenated, "years")
	add(ageOfAge, "years")
	add(ageShort, "years")
	add(ageLabelled, "years")

	// order of appearance
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].pos < hits[j-1].pos; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}
	ages := make([]Age, 0, len(hits))
	for _, h := range hits {
		ages = append(ages, h.age)
	}
	return ages
}

func normalizeUnit(u string) string {
	u = strings.ToLower(u)
	switch {
	case strings.HasPrefix(u, "y"):
		return "years"
	case strings.HasPrefix(u, "mo"):
		return "months"
	case strings.HasPrefix(u, "w"):
		return "weeks"
	case strings.HasPrefix(u, "d"):
		return "days"
	}
	return "years"
}

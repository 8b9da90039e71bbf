package identity

import (
	"regexp"
	"strings"
)

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phonePattern = regexp.MustCompile(`(?:\+?1[\s.\-]*)?(?:\(\d{3}\)|\d{3})[\s.\-]*\d{3}[\s.\-]*\d{4}`)
	zipPattern   = regexp.MustCompile(`\b\d{5}(?:-\d{4})?\b`)
	namePattern  = regexp.MustCompile(`(?i)\b(?:my name is|this is|i am|i'm)\s+([A-Za-z][A-Za-z'\-]*(?:\s+[A-Za-z][A-Za-z'\-]*)?)`)

	// Words a self-introduction phrase can run into that are clearly not
	// names ("this is urgent", "I am interested").
	nameStopwords = map[string]struct{}{
		"a": {}, "an": {}, "the": {}, "not": {}, "just": {}, "very": {},
		"so": {}, "interested": {}, "urgent": {}, "calling": {}, "writing": {},
		"looking": {}, "wondering": {}, "sorry": {}, "following": {},
	}
)

// Facts are candidate contact details pulled from free text. All fields are
// best-effort: absence is normal, never an error.
type Facts struct {
	Email      string
	Phone      string
	PhoneE164  string
	PostalCode string
	FirstName  string
	LastName   string
}

// Empty reports whether no fact was found.
func (f Facts) Empty() bool {
	return f.Email == "" && f.PhoneE164 == "" && f.PostalCode == "" && f.FirstName == ""
}

// Extractor pulls contact facts from a message body. The regex
// implementation below is the default; the interface keeps it swappable.
type Extractor interface {
	Extract(body string) Facts
}

// RegexExtractor is the heuristic fact extractor used for channels that
// supply no structured sender identity.
type RegexExtractor struct {
	// BusinessName filters out self-introduction matches that echo the
	// business's own name back from templated content.
	BusinessName string
	// PhoneRegion is the region phone candidates are validated against.
	PhoneRegion string
}

// Extract scans the body for an email, a phone number, a postal code, and a
// self-introduced name, in that order.
func (e RegexExtractor) Extract(body string) Facts {
	body = strings.TrimSpace(body)
	if body == "" {
		return Facts{}
	}

	facts := Facts{}
	if match := emailPattern.FindString(body); match != "" {
		facts.Email = strings.ToLower(match)
	}

	// Candidates are tried left to right until one survives validation.
	for _, candidate := range phonePattern.FindAllString(body, -1) {
		e164, err := NormalizePhone(candidate, e.region())
		if err != nil {
			continue
		}
		facts.Phone = strings.TrimSpace(candidate)
		facts.PhoneE164 = e164
		break
	}

	for _, candidate := range zipPattern.FindAllString(body, -1) {
		// A bare 5-digit token inside a phone match is not a postal code.
		if facts.Phone != "" && strings.Contains(facts.Phone, candidate) {
			continue
		}
		facts.PostalCode = candidate
		break
	}

	if name := e.extractName(body); name != "" {
		facts.FirstName, facts.LastName = SplitName(name)
	}
	return facts
}

func (e RegexExtractor) extractName(body string) string {
	match := namePattern.FindStringSubmatch(body)
	if len(match) < 2 {
		return ""
	}
	name := strings.TrimSpace(match[1])
	if name == "" {
		return ""
	}
	first := strings.ToLower(strings.SplitN(name, " ", 2)[0])
	if _, stop := nameStopwords[first]; stop {
		return ""
	}
	business := strings.TrimSpace(e.BusinessName)
	if business != "" {
		if strings.EqualFold(name, business) || strings.Contains(strings.ToLower(business), strings.ToLower(name)) {
			return ""
		}
	}
	return name
}

func (e RegexExtractor) region() string {
	if strings.TrimSpace(e.PhoneRegion) == "" {
		return "US"
	}
	return e.PhoneRegion
}

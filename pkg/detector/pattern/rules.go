package pattern

import (
	"regexp"
	"strings"

	"github.com/CompassSecurity/docleek/pkg/model"
)

// Rule is one entry of the fixed pattern table.
type Rule struct {
	Name   string
	Entity model.EntityType
	Regex  *regexp.Regexp
	// Group selects the submatch holding the value, 0 means the whole match
	Group int
	// Spans narrows a match to the values inside it, as offsets relative to
	// the match. Nil keeps the whole match.
	Spans func(match string) [][2]int
	// Validate drops candidates failing a structural check
	Validate func(value string) bool
	// Placeholders are well known dummy values, compared after Normalize
	Placeholders []string
	// IsTestValue flags values that are test data by construction
	IsTestValue func(value string) bool
}

var separators = strings.NewReplacer("-", "", ".", "", " ", "", "(", "", ")", "", "\t", "")

// Normalize strips separators and lowercases a value before placeholder comparison.
func Normalize(value string) string {
	return strings.ToLower(separators.Replace(value))
}

// DefaultRules is the built-in pattern table.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:     "us-ssn",
			Entity:   model.EntitySSN,
			Regex:    regexp.MustCompile(`\b\d{3}[- ]\d{2}[- ]\d{4}\b`),
			Validate: ValidSSN,
			Placeholders: []string{
				"123-45-6789", "000-00-0000", "111-11-1111", "222-22-2222", "333-33-3333",
				"444-44-4444", "555-55-5555", "999-99-9999", "123-12-1234", "987-65-4321",
			},
		},
		{
			Name:     "credit-card",
			Entity:   model.EntityCreditCard,
			Regex:    regexp.MustCompile(`\b\d+(?:[ -]\d+)*\b`),
			Spans:    CardSpans,
			Validate: ValidCard,
			Placeholders: []string{
				"4111111111111111", "5500000000000004", "340000000000009", "4242424242424242",
				"5555555555554444", "378282246310005", "4012888888881881", "6011111111111117",
			},
		},
		{
			Name:   "email",
			Entity: model.EntityEmail,
			Regex:  regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`),
			Placeholders: []string{
				"test@example.com", "test@example.org", "user@test.com", "no-reply@example.com",
				"admin@localhost", "foo@bar.test", "example@example.com",
			},
			IsTestValue: reservedEmailDomain,
		},
		{
			Name:   "us-phone",
			Entity: model.EntityPhone,
			Regex:  regexp.MustCompile(`(?:\+1[-.\s]?)?(?:\(\d{3}\)\s?|\b\d{3}[-.\s])\d{3}[-.\s]\d{4}\b`),
			Placeholders: []string{
				"555-555-5555", "555-123-4567", "123-456-7890", "000-000-0000",
			},
			IsTestValue: fictionalPhone,
		},
		{
			Name:   "medical-record-number",
			Entity: model.EntityMedicalRecordNumber,
			Regex:  regexp.MustCompile(`(?i)\bMRN[\s:#-]*([A-Z0-9]{6,10})\b`),
			Group:  1,
		},
		{
			Name:   "date-of-birth",
			Entity: model.EntityDateOfBirth,
			Regex:  regexp.MustCompile(`(?i)\b(?:dob|date of birth|birth ?date|born)\s*[:=]?\s*(\d{1,2}[/.-]\d{1,2}[/.-]\d{2,4}|\d{4}-\d{2}-\d{2})\b`),
			Group:  1,
		},
		{
			Name:   "private-key",
			Entity: model.EntityPrivateKey,
			Regex:  regexp.MustCompile(`-----BEGIN (?:RSA |EC |DSA |OPENSSH |ENCRYPTED |PGP )?PRIVATE KEY(?: BLOCK)?-----`),
		},
		{
			Name:   "password-assignment",
			Entity: model.EntityPassword,
			Regex:  regexp.MustCompile(`(?i)(?:password|passwd|pwd)\s*[:=]\s*["']?([^\s"']{6,})`),
			Group:  1,
			Placeholders: []string{
				"password", "changeme", "secret", "xxxxxx", "********", "<password>",
			},
		},
	}
}

// ValidSSN applies the structural rules for US social security numbers.
// Area 000, 666 and 900-999, group 00 and serial 0000 are never issued.
func ValidSSN(value string) bool {
	digits := onlyDigits(value)
	if len(digits) != 9 {
		return false
	}
	area, group, serial := digits[0:3], digits[3:5], digits[5:9]
	if area == "000" || area == "666" || area[0] == '9' {
		return false
	}
	return group != "00" && serial != "0000"
}

// CardSpans finds card numbers inside a run of digit groups separated by
// single spaces or dashes. A group of 13 or more digits is a card on its own
// and is never joined with its neighbours. Shorter groups are joined, and
// the longest prefix of whole groups that passes ValidCard wins, so a card
// followed by a CVV or a year still matches with exactly its own digits.
func CardSpans(run string) [][2]int {
	type group struct{ start, end, digits int }
	var groups []group
	for i := 0; i < len(run); {
		if run[i] < '0' || run[i] > '9' {
			i++
			continue
		}
		j := i
		for j < len(run) && run[j] >= '0' && run[j] <= '9' {
			j++
		}
		groups = append(groups, group{i, j, j - i})
		i = j
	}

	var spans [][2]int
	for i := 0; i < len(groups); {
		if groups[i].digits >= 13 {
			if ValidCard(run[groups[i].start:groups[i].end]) {
				spans = append(spans, [2]int{groups[i].start, groups[i].end})
			}
			i++
			continue
		}

		last, digits := i, 0
		for k := i; k < len(groups) && groups[k].digits < 13 && digits+groups[k].digits <= 19; k++ {
			digits += groups[k].digits
			last = k
		}
		found := -1
		for k := last; k >= i; k-- {
			if ValidCard(run[groups[i].start:groups[k].end]) {
				found = k
				break
			}
		}
		if found < 0 {
			i++
			continue
		}
		spans = append(spans, [2]int{groups[i].start, groups[found].end})
		i = found + 1
	}
	return spans
}

// ValidCard checks length, issuer prefix and the Luhn checksum.
func ValidCard(value string) bool {
	digits := onlyDigits(value)
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}
	if !knownIssuer(digits) {
		return false
	}
	return Luhn(digits)
}

// Luhn reports whether a digit string passes the mod 10 checksum. Every
// second digit from the right is doubled, and doubled values above 9 have 9
// subtracted, which equals summing their digits.
func Luhn(digits string) bool {
	if digits == "" {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		c := digits[i]
		if c < '0' || c > '9' {
			return false
		}
		d := int(c - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

func knownIssuer(d string) bool {
	prefix := func(n int) int {
		v := 0
		for i := 0; i < n && i < len(d); i++ {
			v = v*10 + int(d[i]-'0')
		}
		return v
	}
	switch {
	case d[0] == '4':
		return true
	case prefix(2) >= 51 && prefix(2) <= 55, prefix(4) >= 2221 && prefix(4) <= 2720:
		return len(d) == 16
	case prefix(2) == 34 || prefix(2) == 37:
		return len(d) == 15
	case prefix(4) == 6011 || prefix(2) == 65 || (prefix(3) >= 644 && prefix(3) <= 649):
		return true
	case prefix(3) >= 300 && prefix(3) <= 305, prefix(2) == 36, prefix(2) == 38:
		return len(d) >= 14
	case prefix(2) == 35:
		return true
	}
	return false
}

func onlyDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// reservedEmailDomain flags addresses on RFC 2606 documentation domains.
func reservedEmailDomain(value string) bool {
	at := strings.LastIndexByte(value, '@')
	if at < 0 {
		return false
	}
	domain := strings.ToLower(value[at+1:])
	switch domain {
	case "example.com", "example.org", "example.net", "localhost":
		return true
	}
	for _, tld := range []string{".test", ".example", ".invalid", ".localhost"} {
		if strings.HasSuffix(domain, tld) {
			return true
		}
	}
	return strings.HasSuffix(domain, ".example.com")
}

// fictionalPhone flags the 555-01xx range reserved for fiction.
func fictionalPhone(value string) bool {
	d := onlyDigits(value)
	if len(d) == 11 && d[0] == '1' {
		d = d[1:]
	}
	return len(d) == 10 && d[3:6] == "555" && d[6:8] == "01"
}

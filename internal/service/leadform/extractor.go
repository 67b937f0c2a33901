// Package leadform recognises web lead-form submissions and extracts the
// visitor's details from their semi-structured, bilingual bodies.
package leadform

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"crm-mail-ingest-go/internal/model"
)

// MinMessageLength is the rune count below which an extracted message is
// treated as a failed strategy.
const MinMessageLength = 20

// MinPhoneLength is the shortest phone string kept after cleaning.
const MinPhoneLength = 8

// PromptMarker ends the form's "describe your request" boilerplate.
const PromptMarker = "::"

// DefaultTrackingParams are query parameters scrubbed from messages.
var DefaultTrackingParams = []string{
	"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content", "gclid", "fbclid",
}

// Field captions in Bulgarian and English.
var (
	// specific captions outrank a bare "name", which also ends "company name"
	specificNameCaptions = []string{"вашето име", "вашите имена", "име и фамилия", "your name", "full name"}
	genericNameCaptions  = []string{"име", "name"}
	nameCaptions         = append(append([]string(nil), specificNameCaptions...), genericNameCaptions...)

	emailCaptions   = []string{"имейл адрес", "вашият имейл", "имейл", "e-mail адрес", "e-mail", "email address", "your email", "email"}
	phoneCaptions   = []string{"телефонен номер", "телефон", "phone number", "phone", "tel"}
	subjectCaptions = []string{"тема", "subject"}
	footerCaptions  = []string{"дата", "час", "url на страницата", "страница", "date", "time", "page url", "url"}
)

const (
	emailPattern     = `[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`
	nameValuePattern = `([\p{L}\p{M}][\p{L}\p{M} '.\-]*)`
)

var (
	labeledNameRe    = labeled(nameCaptions, nameValuePattern)
	specificNameRe   = labeled(specificNameCaptions, nameValuePattern)
	lineStartNameRe  = regexp.MustCompile(`(?im)^[ \t]*(?:` + alternation(genericNameCaptions) + `)[ \t]*:[ \t]*` + nameValuePattern)
	labeledEmailRe   = labeled(emailCaptions, `<?(`+emailPattern+`)`)
	labeledPhoneRe   = labeled(phoneCaptions, `(\+?[(0-9][0-9 \t().\-/]*)`)
	labeledSubjectRe = labeled(subjectCaptions, `([^:\n][^\n]*)`)

	emailCaptionRe   = captionColon(emailCaptions)
	subjectCaptionRe = captionColon(subjectCaptions)
	footerLineRe     = regexp.MustCompile(`(?i)^(?:` + alternation(footerCaptions) + `)[ \t]*:`)
	anyCaptionRe     = captionColon(allCaptions())
	captionWordRe    = regexp.MustCompile(`(?i)(?:^|[^\p{L}])(?:` + alternation(allCaptions()) + `)(?:[^\p{L}]|$)`)
	captionLineRe    = regexp.MustCompile(`(?i)^(?:` + alternation(allCaptions()) + `)[ \t]*:`)

	anyEmailRe     = regexp.MustCompile(emailPattern)
	bareEmailRe    = regexp.MustCompile(`^<?` + emailPattern + `>?$`)
	leadingNameRe  = regexp.MustCompile(`^\s*([\p{L}\p{M}][\p{L}\p{M} '.\-]*)`)
	dateLineRe     = regexp.MustCompile(`^\d{1,4}[./\-]\d{1,2}[./\-]\d{1,4}`)
	timeLineRe     = regexp.MustCompile(`^\d{1,2}:\d{2}`)
	urlLineRe      = regexp.MustCompile(`(?i)^(?:https?://|www\.)`)
	urlRe          = regexp.MustCompile(`(?i)(?:https?://|www\.)\S+`)
	whitespaceRe   = regexp.MustCompile(`\s+`)
	nonPhoneCharRe = regexp.MustCompile(`[^0-9]`)
)

// FormData is what a lead-form submission yields. Optional fields are empty
// when absent.
type FormData struct {
	Name       string `json:"name"`
	FirstName  string `json:"first_name"`
	SecondName string `json:"second_name,omitempty"`
	Email      string `json:"email"`
	Phone      string `json:"phone,omitempty"`
	Subject    string `json:"subject,omitempty"`
	Message    string `json:"message"`
}

// Classifier routes messages whose subject equals the form's fixed subject line.
type Classifier struct {
	Marker string
}

func NewClassifier(marker string) *Classifier {
	return &Classifier{Marker: strings.TrimSpace(marker)}
}

// IsLeadForm reports whether subject is exactly the configured marker
func (c *Classifier) IsLeadForm(subject string) bool {
	return c.Marker != "" && strings.TrimSpace(subject) == c.Marker
}

// Extractor pulls FormData out of a lead-form body
type Extractor struct {
	trackingRe *regexp.Regexp
}

// NewExtractor builds an extractor that scrubs the given tracking parameters.
// An empty list falls back to DefaultTrackingParams.
func NewExtractor(trackingParams []string) *Extractor {
	if len(trackingParams) == 0 {
		trackingParams = DefaultTrackingParams
	}
	quoted := make([]string, 0, len(trackingParams))
	for _, p := range trackingParams {
		quoted = append(quoted, regexp.QuoteMeta(p))
	}
	return &Extractor{
		trackingRe: regexp.MustCompile(`(?i)[?&]?\b(?:` + strings.Join(quoted, "|") + `)=[^\s&]*&?`),
	}
}

// strategy is one independent attempt at a field; "" means no result
type strategy func(text string) string

// firstOf returns the first non-empty strategy result
func firstOf(text string, strategies ...strategy) string {
	for _, s := range strategies {
		if v := s(text); v != "" {
			return v
		}
	}
	return ""
}

// Extract returns nil when name or email cannot be determined
func (e *Extractor) Extract(body string) *FormData {
	text := Normalize(body)

	email := firstOf(text, labeledEmail, anyEmail)
	name := firstOf(text, specificName, lineStartName, leadingName)
	if name == "" || email == "" {
		return nil
	}

	// visitor input is clipped to the contact columns it ends up in
	name = model.Truncate(name, model.MaxNameLength)
	data := &FormData{
		Name:    name,
		Email:   model.Truncate(email, model.MaxAddressLength),
		Phone:   model.Truncate(firstOf(text, labeledPhone), model.MaxPhoneLength),
		Subject: firstOf(text, labeledSubject),
	}
	data.FirstName, data.SecondName = splitName(name)

	data.Message = firstOf(text,
		e.markerMessage,
		e.filteredLinesMessage,
		e.scrubbedMessage(data),
	)
	if data.Message == "" {
		data.Message = strings.TrimSpace(body)
	}
	return data
}

func specificName(text string) string {
	return nameMatch(specificNameRe, text)
}

// lineStartName only trusts a bare name caption that opens its line
func lineStartName(text string) string {
	return nameMatch(lineStartNameRe, text)
}

func nameMatch(re *regexp.Regexp, text string) string {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return cleanName(m[1])
}

// leadingName takes the letter run that opens the body ahead of the email field
func leadingName(text string) string {
	end := len(text)
	if loc := emailCaptionRe.FindStringIndex(text); loc != nil {
		end = loc[0]
	} else if loc := anyEmailRe.FindStringIndex(text); loc != nil {
		end = loc[0]
	}
	m := leadingNameRe.FindStringSubmatch(text[:end])
	if m == nil {
		return ""
	}
	return cleanName(m[1])
}

func cleanName(name string) string {
	if loc := captionWordRe.FindStringIndex(name); loc != nil {
		name = name[:loc[0]]
	}
	name = strings.Join(strings.Fields(name), " ")
	if strings.IndexFunc(name, unicode.IsLetter) < 0 {
		return ""
	}
	return name
}

func splitName(name string) (first, second string) {
	parts := strings.Fields(name)
	if len(parts) == 0 {
		return "", ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}

func labeledEmail(text string) string {
	m := labeledEmailRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.ToLower(m[1])
}

func anyEmail(text string) string {
	return strings.ToLower(anyEmailRe.FindString(text))
}

func labeledPhone(text string) string {
	m := labeledPhoneRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return CleanPhone(m[1])
}

// CleanPhone keeps digits and a leading '+'. Results shorter than
// MinPhoneLength are discarded as noise.
func CleanPhone(raw string) string {
	raw = strings.TrimSpace(raw)
	prefix := ""
	if strings.HasPrefix(raw, "+") {
		prefix = "+"
	}
	phone := prefix + nonPhoneCharRe.ReplaceAllString(raw, "")
	if len(phone) < MinPhoneLength {
		return ""
	}
	return phone
}

func labeledSubject(text string) string {
	m := labeledSubjectRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	subject := m[1]
	if i := strings.Index(subject, PromptMarker); i >= 0 {
		subject = subject[:i]
	}
	if loc := anyCaptionRe.FindStringIndex(subject); loc != nil {
		subject = subject[:loc[0]]
	}
	return strings.TrimSpace(subject)
}

// afterSubject returns the text following the subject caption, or ""
func afterSubject(text string) (string, bool) {
	loc := subjectCaptionRe.FindStringIndex(text)
	if loc == nil {
		return "", false
	}
	return text[loc[1]:], true
}

// markerMessage takes what the visitor typed after the prompt's "::"
func (e *Extractor) markerMessage(text string) string {
	rest, ok := afterSubject(text)
	if !ok {
		return ""
	}
	i := strings.Index(rest, PromptMarker)
	if i < 0 {
		return ""
	}
	return e.accept(e.clean(rest[i+len(PromptMarker):]))
}

// filteredLinesMessage keeps post-subject lines that are not captions,
// bare addresses or date/time/URL metadata
func (e *Extractor) filteredLinesMessage(text string) string {
	rest, ok := afterSubject(text)
	if !ok {
		return ""
	}
	// the remainder of the subject line is the declared subject itself
	if i := strings.IndexByte(rest, '\n'); i >= 0 {
		rest = rest[i+1:]
	} else {
		return ""
	}

	var kept []string
	for _, line := range strings.Split(rest, "\n") {
		line = strings.TrimSpace(line)
		if i := strings.Index(line, PromptMarker); i >= 0 {
			line = strings.TrimSpace(line[i+len(PromptMarker):])
		}
		if line == "" || isMetadataLine(line) {
			continue
		}
		kept = append(kept, line)
	}
	return e.accept(e.clean(strings.Join(kept, "\n")))
}

func isMetadataLine(line string) bool {
	return captionLineRe.MatchString(line) ||
		bareEmailRe.MatchString(line) ||
		dateLineRe.MatchString(line) ||
		timeLineRe.MatchString(line) ||
		urlLineRe.MatchString(line)
}

// scrubbedMessage removes the already-extracted fields from the whole body
func (e *Extractor) scrubbedMessage(data *FormData) strategy {
	return func(text string) string {
		for _, re := range []*regexp.Regexp{labeledNameRe, labeledEmailRe, labeledPhoneRe} {
			text = re.ReplaceAllString(text, "\n")
		}
		values := []string{data.Name, data.Email, data.Phone}
		// longest first so a name never clips a longer value containing it
		sort.Slice(values, func(i, j int) bool { return len(values[i]) > len(values[j]) })
		for _, v := range values {
			if v != "" {
				text = caseInsensitiveReplace(text, v)
			}
		}
		text = anyCaptionRe.ReplaceAllString(text, " ")
		return e.accept(e.clean(text))
	}
}

// clean strips the trailing footer, caption lines, URLs and tracking
// parameters, then collapses whitespace
func (e *Extractor) clean(msg string) string {
	lines := cutFooter(strings.Split(msg, "\n"))
	kept := lines[:0]
	for _, line := range lines {
		if captionLineRe.MatchString(strings.TrimSpace(line)) {
			continue
		}
		kept = append(kept, line)
	}
	msg = strings.Join(kept, "\n")

	msg = urlRe.ReplaceAllString(msg, " ")
	msg = e.trackingRe.ReplaceAllString(msg, " ")
	msg = whitespaceRe.ReplaceAllString(msg, " ")
	return strings.TrimSpace(msg)
}

// cutFooter drops the trailing block that opens with a footer caption line
// and holds nothing but metadata lines to the end
func cutFooter(lines []string) []string {
	cut := len(lines)
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line != "" && !isMetadataLine(line) {
			break
		}
		if footerLineRe.MatchString(line) {
			cut = i
		}
	}
	return lines[:cut]
}

func (e *Extractor) accept(msg string) string {
	if utf8.RuneCountInString(msg) < MinMessageLength {
		return ""
	}
	return msg
}

func caseInsensitiveReplace(text, value string) string {
	re := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(value))
	return re.ReplaceAllString(text, " ")
}

func allCaptions() []string {
	var all []string
	for _, group := range [][]string{nameCaptions, emailCaptions, phoneCaptions, subjectCaptions, footerCaptions} {
		all = append(all, group...)
	}
	return all
}

// alternation joins captions longest first so "телефонен номер" wins over "телефон"
func alternation(captions []string) string {
	sorted := append([]string(nil), captions...)
	sort.Slice(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })
	for i, c := range sorted {
		sorted[i] = strings.ReplaceAll(regexp.QuoteMeta(c), " ", `\s+`)
	}
	return strings.Join(sorted, "|")
}

func captionColon(captions []string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)(?:^|[^\p{L}])(?:` + alternation(captions) + `)[ \t]*:`)
}

func labeled(captions []string, value string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)(?:^|[^\p{L}])(?:` + alternation(captions) + `)[ \t]*:[ \t]*` + value)
}

package leadform

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crm-mail-ingest-go/internal/model"
)

func TestExtractBulgarianForm(t *testing.T) {
	body := "Вашето име: Иван Иванов\nИмейл адрес: ivan@example.com\nТелефонен номер: +359888123456\nТема: Question\nСподелете ... :: Здравейте, имам въпрос."

	data := NewExtractor(nil).Extract(body)
	require.NotNil(t, data)

	assert.Equal(t, "Иван Иванов", data.Name)
	assert.Equal(t, "Иван", data.FirstName)
	assert.Equal(t, "Иванов", data.SecondName)
	assert.Equal(t, "ivan@example.com", data.Email)
	assert.Equal(t, "+359888123456", data.Phone)
	assert.Equal(t, "Question", data.Subject)
	assert.Equal(t, "Здравейте, имам въпрос.", data.Message)
	assert.NotContains(t, data.Message, "Тема")
	assert.NotContains(t, data.Message, "Сподели")
}

func TestExtractHTMLFormWithFooter(t *testing.T) {
	body := `<html><body>
<p><strong>Your name:</strong> Jane Mary Doe</p>
<p><strong>Email:</strong> <a href="mailto:jane@example.org">Jane@Example.org</a></p>
<p><strong>Phone:</strong> (555) 010-2030</p>
<p><strong>Subject:</strong> Pricing &amp; plans</p>
<p>Tell us more about your request :: We would like a quote for 20 seats, see https://example.org/pricing?utm_source=ads</p>
<p>Date: 2026-03-01</p>
<p>Time: 10:42</p>
<p>Page URL: https://example.org/contact?utm_campaign=spring</p>
</body></html>`

	data := NewExtractor(nil).Extract(body)
	require.NotNil(t, data)

	assert.Equal(t, "Jane Mary Doe", data.Name)
	assert.Equal(t, "Jane", data.FirstName)
	assert.Equal(t, "Mary Doe", data.SecondName)
	assert.Equal(t, "jane@example.org", data.Email)
	assert.Equal(t, "5550102030", data.Phone)
	assert.Equal(t, "Pricing & plans", data.Subject)
	assert.Equal(t, "We would like a quote for 20 seats, see", data.Message)
}

func TestExtractFooterInEitherOrder(t *testing.T) {
	body := "Име: Мария\nИмейл: maria@example.bg\nТема: Оферта\nОпишете запитването си :: Искам оферта за почистване на офис.\nURL на страницата: https://example.bg/kontakti\nДата: 01.03.2026"

	data := NewExtractor(nil).Extract(body)
	require.NotNil(t, data)
	assert.Equal(t, "Мария", data.FirstName)
	assert.Equal(t, "", data.SecondName)
	assert.Equal(t, "Искам оферта за почистване на офис.", data.Message)
}

func TestExtractNameFallsBackToLeadingRun(t *testing.T) {
	body := "Petar Petrov\nEmail: petar@example.com\nSubject: Hi\nMessage text that is long enough to keep"

	data := NewExtractor(nil).Extract(body)
	require.NotNil(t, data)
	assert.Equal(t, "Petar Petrov", data.Name)
	assert.Equal(t, "Message text that is long enough to keep", data.Message)
}

func TestExtractEmailFallsBackToAnyAddress(t *testing.T) {
	body := "Name: Anna Smith\nreach me at anna.smith@example.co.uk please\nSubject: Hello\n:: I need help with my order number 42"

	data := NewExtractor(nil).Extract(body)
	require.NotNil(t, data)
	assert.Equal(t, "anna.smith@example.co.uk", data.Email)
	assert.Equal(t, "I need help with my order number 42", data.Message)
}

func TestExtractRequiresNameAndEmail(t *testing.T) {
	e := NewExtractor(nil)
	assert.Nil(t, e.Extract("Email: nobody@example.com"))
	assert.Nil(t, e.Extract("Name: Nobody Here\nPhone: +359888123456"))
	assert.Nil(t, e.Extract(""))
}

func TestExtractMessageScrubFallback(t *testing.T) {
	body := "Name: Ivo Dimitrov\nEmail: ivo@example.com\nPhone: 0888 123 456\nI would like to book a consultation next week."

	data := NewExtractor(nil).Extract(body)
	require.NotNil(t, data)
	assert.Equal(t, "0888123456", data.Phone)
	assert.Equal(t, "I would like to book a consultation next week.", data.Message)
}

func TestExtractMessageFallsBackToRawBody(t *testing.T) {
	body := "Name: Ivo\nEmail: ivo@example.com\nok"

	data := NewExtractor(nil).Extract(body)
	require.NotNil(t, data)
	assert.Equal(t, body, data.Message)
}

func TestPhoneLengthBoundary(t *testing.T) {
	e := NewExtractor(nil)

	short := e.Extract("Name: Ivo Ivov\nEmail: ivo@example.com\nPhone: 1234567")
	require.NotNil(t, short)
	assert.Equal(t, "", short.Phone)

	kept := e.Extract("Name: Ivo Ivov\nEmail: ivo@example.com\nPhone: 12345678")
	require.NotNil(t, kept)
	assert.Equal(t, "12345678", kept.Phone)
}

func TestCleanPhone(t *testing.T) {
	assert.Equal(t, "+359888123456", CleanPhone("+359 (888) 123-456"))
	assert.Equal(t, "", CleanPhone("12-34"))
	assert.Equal(t, "0888123456", CleanPhone("0888/123/456"))
}

func TestClassifier(t *testing.T) {
	c := NewClassifier("New inquiry from website")

	assert.True(t, c.IsLeadForm("New inquiry from website"))
	assert.True(t, c.IsLeadForm("  New inquiry from website "))
	assert.False(t, c.IsLeadForm("Re: New inquiry from website"))
	assert.False(t, c.IsLeadForm("new inquiry from website"))
	assert.False(t, NewClassifier("").IsLeadForm(""))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "a & b\nc", Normalize("<div>a &amp;   b</div><br><p>c</p>"))
	assert.Equal(t, "x <y@example.com>\nz", Normalize("x   <y@example.com>\r\n\r\n z "))
	assert.Equal(t, "kept", Normalize("<p>kept</p><script>var x = 1;</script>"))
}

func TestFirstOf(t *testing.T) {
	empty := func(string) string { return "" }
	echo := func(s string) string { return s }
	never := func(string) string { t.Fatal("strategy after a hit must not run"); return "" }

	assert.Equal(t, "in", firstOf("in", empty, echo, never))
	assert.Equal(t, "", firstOf("in", empty))
}

func TestExtractKeepsFooterWordsInsideMessage(t *testing.T) {
	e := NewExtractor(nil)
	data := e.Extract("Name: Ann Lee\nEmail: ann@example.com\nSubject: Q\nDescribe :: Best time: mornings, we need twenty seats at the venue.")
	require.NotNil(t, data)
	assert.Equal(t, "Ann Lee", data.Name)
	assert.Equal(t, "Best time: mornings, we need twenty seats at the venue.", data.Message)
}

func TestCutFooterOnlyDropsTrailingMetadata(t *testing.T) {
	lines := []string{"Please call me", "Date: 2026-03-01", "", "Page URL: https://example.com/form"}
	assert.Equal(t, []string{"Please call me"}, cutFooter(lines))

	mixed := []string{"Time: mornings suit us", "we need twenty seats"}
	assert.Equal(t, mixed, cutFooter(mixed))

	assert.Equal(t, []string{"no footer here"}, cutFooter([]string{"no footer here"}))
}

func TestExtractPrefersSpecificNameCaption(t *testing.T) {
	e := NewExtractor(nil)

	data := e.Extract("Company name: Acme Ltd\nYour name: Ann Lee\nEmail: ann@example.com\nSubject: Seats\nDescribe :: We need twenty seats at the venue.")
	require.NotNil(t, data)
	assert.Equal(t, "Ann Lee", data.Name)
	assert.Equal(t, "Ann", data.FirstName)

	bare := e.Extract("Company name: Acme Ltd\nName: Ann Lee\nEmail: ann@example.com")
	require.NotNil(t, bare)
	assert.Equal(t, "Ann Lee", bare.Name)
}

func TestExtractClipsOversizedFields(t *testing.T) {
	long := strings.Repeat("Анна", 100)
	data := NewExtractor(nil).Extract("Your name: " + long + "\nEmail: ann@example.com\nPhone: +" + strings.Repeat("1", 80))
	require.NotNil(t, data)

	assert.Equal(t, model.MaxNameLength, len([]rune(data.Name)))
	assert.Equal(t, data.Name, data.FirstName)
	assert.Len(t, data.Phone, model.MaxPhoneLength)
}

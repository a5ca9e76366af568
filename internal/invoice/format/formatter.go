package format

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	suffixPadRe = regexp.MustCompile(`\{SUFFIX(\d+)\}`)
)

const DefaultInvoiceNumberTemplate = "INV-{YYYY}{MM}-{SUFFIX}"

// FormatInvoiceNumber renders a human-readable invoice number from a template,
// the billing period month and the invoice id.
//
// {SUFFIX} is the id in upper-case base36. {SUFFIXn} keeps only the last n characters
// and is unique only while ids do not collide in those characters.
func FormatInvoiceNumber(
	template string,
	periodStart time.Time,
	id snowflake.ID,
) (string, error) {

	if template == "" {
		return "", fmt.Errorf("invoice number template is empty")
	}
	if id <= 0 {
		return "", fmt.Errorf("invalid invoice id: %d", id)
	}

	periodStart = periodStart.UTC()
	suffix := strings.ToUpper(id.Base36())
	out := template

	// Date tokens
	out = strings.ReplaceAll(out, "{YYYY}", periodStart.Format("2006"))
	out = strings.ReplaceAll(out, "{YY}", periodStart.Format("06"))
	out = strings.ReplaceAll(out, "{MM}", periodStart.Format("01"))
	out = strings.ReplaceAll(out, "{DD}", periodStart.Format("02"))

	out = strings.ReplaceAll(out, "{SUFFIX}", suffix)

	// Truncated suffix
	out = suffixPadRe.ReplaceAllStringFunc(out, func(m string) string {
		match := suffixPadRe.FindStringSubmatch(m)
		if len(match) != 2 {
			return m
		}
		width, err := strconv.Atoi(match[1])
		if err != nil || width <= 0 {
			return m
		}
		if width >= len(suffix) {
			return suffix
		}
		return suffix[len(suffix)-width:]
	})

	if strings.Contains(out, "{") || strings.Contains(out, "}") {
		return "", fmt.Errorf("unresolved token in invoice format: %s", out)
	}

	return out, nil
}

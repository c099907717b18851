package services

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	// currencyTokens are removed before the numeric part is located.
	currencyTokens = []string{",-", ".-", "nok", "kr", "usd", "eur", "$", "€", "£"}

	// numberRegexp captures the first run of digits and separators.
	numberRegexp = regexp.MustCompile(`\d[\d.,]*`)

	spaceReplacer = strings.NewReplacer(" ", "", "\u00a0", "", "\u202f", "", "\u2009", "", "\t", "")
)

// ParsePrice converts a scraped price string into integer minor units (øre/cents).
// Accepts "1.299,00 kr", "1,299.00", "1299,-", "kr 49" and bare integers.
// Negative and unparsable input yields 0.
func ParsePrice(raw string) int64 {
	s := spaceReplacer.Replace(strings.ToLower(raw))
	for _, tok := range currencyTokens {
		s = strings.ReplaceAll(s, tok, "")
	}

	loc := numberRegexp.FindStringIndex(s)
	if loc == nil {
		return 0
	}
	if loc[0] > 0 && s[loc[0]-1] == '-' {
		return 0
	}
	match := strings.TrimRight(s[loc[0]:loc[1]], ".,")
	if match == "" {
		return 0
	}

	intPart, fracPart := splitSeparators(match)
	return toMinorUnits(intPart, fracPart)
}

// splitSeparators applies the locale rules: with both separators present the right-most one is
// decimal; a lone comma is decimal; a lone dot is decimal only with exactly two trailing digits.
func splitSeparators(num string) (string, string) {
	lastDot := strings.LastIndex(num, ".")
	lastComma := strings.LastIndex(num, ",")
	dots := strings.Count(num, ".")
	commas := strings.Count(num, ",")

	switch {
	case dots > 0 && commas > 0:
		dec := lastDot
		if lastComma > lastDot {
			dec = lastComma
		}
		return digitsOnly(num[:dec]), digitsOnly(num[dec+1:])
	case commas == 1:
		return digitsOnly(num[:lastComma]), num[lastComma+1:]
	case dots == 1 && len(num)-lastDot-1 == 2:
		return num[:lastDot], num[lastDot+1:]
	default:
		return digitsOnly(num), ""
	}
}

func digitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}

func toMinorUnits(intPart, fracPart string) int64 {
	if intPart == "" {
		intPart = "0"
	}
	major, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil || major > math.MaxInt64/100-1 {
		return 0
	}

	frac := fracPart + "000"
	minor := int64(frac[0]-'0')*10 + int64(frac[1]-'0')
	if frac[2] >= '5' {
		minor++
	}
	return major*100 + minor
}

// FormatMinorUnits renders minor units for display: dot-grouped thousands, comma decimals.
// FormatMinorUnits(129900) == "1.299,00".
func FormatMinorUnits(n int64) string {
	sign := ""
	if n < 0 {
		sign = "-"
		n = -n
	}
	major := strconv.FormatInt(n/100, 10)

	var b strings.Builder
	for i, r := range major {
		if i > 0 && (len(major)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	return sign + b.String() + "," + twoDigits(n%100)
}

func twoDigits(n int64) string {
	if n < 10 {
		return "0" + strconv.FormatInt(n, 10)
	}
	return strconv.FormatInt(n, 10)
}

// MinorToMajor converts minor units to a major-unit amount for reporting.
func MinorToMajor(n int64) float64 {
	return float64(n) / 100
}

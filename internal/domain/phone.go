package domain

import "strings"

const (
	DefaultCountryCode = "62"

	// GroupDelimiter marks a destination as a group identifier.
	GroupDelimiter = "@"
	PersonalSuffix = "@c.us"
	GroupSuffix    = "@g.us"
)

var phoneSeparators = strings.NewReplacer("-", "", ",", "", "+", "", " ", "")

// PhoneNormalizer converts raw phone numbers into dispatch identifiers.
type PhoneNormalizer struct {
	CountryCode string
}

func NewPhoneNormalizer(countryCode string) PhoneNormalizer {
	countryCode = strings.TrimSpace(countryCode)
	if countryCode == "" {
		countryCode = DefaultCountryCode
	}
	return PhoneNormalizer{CountryCode: countryCode}
}

// Normalize strips separators and replaces a leading 0 with the country code.
// Group identifiers are returned untouched and malformed numbers pass through.
func (p PhoneNormalizer) Normalize(raw string) string {
	if IsGroupID(raw) {
		return raw
	}

	number := phoneSeparators.Replace(raw)
	if strings.HasPrefix(number, "0") {
		countryCode := p.CountryCode
		if countryCode == "" {
			countryCode = DefaultCountryCode
		}
		number = countryCode + number[1:]
	}
	return number
}

// NormalizePhone normalizes raw with the default country code.
func NormalizePhone(raw string) string {
	return PhoneNormalizer{CountryCode: DefaultCountryCode}.Normalize(raw)
}

func IsGroupID(to string) bool {
	return strings.Contains(to, GroupDelimiter)
}

// PersonalChatID is the synthetic chat id used when a number cannot be resolved.
func PersonalChatID(number string) string {
	return number + PersonalSuffix
}

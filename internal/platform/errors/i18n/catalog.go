// Package i18n renders user-facing messages for protocol error codes.
package i18n

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Code is a machine-readable error code (duplicated from the errors package to
// avoid an import cycle).
type Code = string

// CodeGeneric is the catch-all key used for infrastructure faults and unknown codes.
const CodeGeneric Code = "GENERIC"

var supported = []language.Tag{
	language.AmericanEnglish,
	language.BrazilianPortuguese,
}

var matcher = language.NewMatcher(supported)

// known tracks which codes have templates so lookups can fall back to the
// generic message instead of echoing a raw key.
var known = map[Code]struct{}{}

func register(tag language.Tag, messages map[Code]string) {
	for code, text := range messages {
		known[code] = struct{}{}
		_ = message.SetString(tag, code, text)
	}
}

// Default returns the fallback language tag.
func Default() language.Tag {
	return supported[0]
}

// Supported returns the list of supported language tags.
func Supported() []language.Tag {
	out := make([]language.Tag, len(supported))
	copy(out, supported)
	return out
}

// ResolveTag picks the best supported tag for an Accept-Language header value.
func ResolveTag(acceptLanguage string) language.Tag {
	acceptLanguage = strings.TrimSpace(acceptLanguage)
	if acceptLanguage == "" {
		return Default()
	}
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return Default()
	}
	_, index, confidence := matcher.Match(tags...)
	if confidence == language.No {
		return Default()
	}
	return supported[index]
}

// Message renders the user-facing text for code in the given language.
// Unknown codes render the generic "try again" message.
func Message(tag language.Tag, code Code) string {
	if _, ok := known[code]; !ok {
		code = CodeGeneric
	}
	return message.NewPrinter(tag).Sprintf(code)
}

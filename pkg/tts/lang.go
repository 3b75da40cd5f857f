package tts

import "strings"

// defaultLocales maps bare language codes to the region Google voices are
// most complete for.
var defaultLocales = map[string]string{
	"en": "en-US",
	"es": "es-ES",
	"fr": "fr-FR",
	"de": "de-DE",
	"it": "it-IT",
	"pt": "pt-BR",
	"nl": "nl-NL",
	"ja": "ja-JP",
	"ko": "ko-KR",
	"zh": "cmn-CN",
	"hi": "hi-IN",
	"ru": "ru-RU",
	"pl": "pl-PL",
	"sv": "sv-SE",
	"tr": "tr-TR",
}

// Locale normalizes lang to a BCP-47 locale. Full locales pass through with
// canonical casing; unknown bare codes become "xx-XX".
func Locale(lang string) string {
	lang = strings.TrimSpace(strings.ReplaceAll(lang, "_", "-"))
	if lang == "" {
		return defaultLocales["en"]
	}
	if i := strings.IndexByte(lang, '-'); i > 0 {
		return strings.ToLower(lang[:i]) + "-" + strings.ToUpper(lang[i+1:])
	}
	lang = strings.ToLower(lang)
	if loc, ok := defaultLocales[lang]; ok {
		return loc
	}
	return lang + "-" + strings.ToUpper(lang)
}

// BaseLanguage returns the ISO-639-1 part of lang ("en-GB" -> "en").
func BaseLanguage(lang string) string {
	lang = strings.TrimSpace(strings.ReplaceAll(lang, "_", "-"))
	if i := strings.IndexByte(lang, '-'); i > 0 {
		lang = lang[:i]
	}
	return strings.ToLower(lang)
}

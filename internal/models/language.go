package models

import (
	"fmt"
	"strings"
)

// Language is the language a case is dictated in. Empty means not declared.
type Language string

const (
	LanguageEnglish Language = "en"
	LanguagePersian Language = "fa"
	LanguageMixed   Language = "mixed" // code-switched Persian and English
)

func ParseLanguage(s string) (Language, error) {
	switch l := Language(strings.ToLower(strings.TrimSpace(s))); l {
	case "", LanguageEnglish, LanguagePersian, LanguageMixed:
		return l, nil
	default:
		return "", fmt.Errorf("unknown language %q (want en, fa or mixed)", s)
	}
}

// OutputLanguage is the language generated text must be written in.
// Persian and mixed dictation both get Persian output.
func (l Language) OutputLanguage() string {
	switch l {
	case LanguagePersian, LanguageMixed:
		return "Persian"
	case LanguageEnglish:
		return "English"
	}
	return ""
}

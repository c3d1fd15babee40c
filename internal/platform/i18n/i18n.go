// Package i18n localises quick order messages.
package i18n

import (
	"embed"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	domain "github.com/hanko-field/quickorder/internal/domain"
)

//go:embed locales/*.yaml
var localeFS embed.FS

// Bundle holds one catalog per supported language.
type Bundle struct {
	dict     map[string]map[string]string
	tags     []language.Tag
	matcher  language.Matcher
	fallback string
	policy   *bluemonday.Policy
}

// Load reads the embedded catalogs. The fallback language is listed first so the matcher
// prefers it when nothing matches.
func Load(fallback string) (*Bundle, error) {
	fallback = strings.ToLower(strings.TrimSpace(fallback))
	if fallback == "" {
		fallback = "en"
	}
	entries, err := localeFS.ReadDir("locales")
	if err != nil {
		return nil, fmt.Errorf("i18n: read locales: %w", err)
	}

	b := &Bundle{dict: map[string]map[string]string{}, fallback: fallback, policy: bluemonday.StrictPolicy()}
	var others []language.Tag
	for _, entry := range entries {
		lang := strings.TrimSuffix(entry.Name(), path.Ext(entry.Name()))
		raw, err := localeFS.ReadFile("locales/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("i18n: read %s: %w", entry.Name(), err)
		}
		var catalog map[string]string
		if err := yaml.Unmarshal(raw, &catalog); err != nil {
			return nil, fmt.Errorf("i18n: parse %s: %w", entry.Name(), err)
		}
		b.dict[lang] = catalog
		if lang != fallback {
			others = append(others, language.Make(lang))
		}
	}
	if _, ok := b.dict[fallback]; !ok {
		return nil, fmt.Errorf("i18n: fallback locale %s not found", fallback)
	}
	b.tags = append([]language.Tag{language.Make(fallback)}, others...)
	b.matcher = language.NewMatcher(b.tags)
	return b, nil
}

// Supported lists the loaded languages, fallback first.
func (b *Bundle) Supported() []string {
	out := make([]string, 0, len(b.tags))
	for _, tag := range b.tags {
		out = append(out, tag.String())
	}
	return out
}

// Resolve picks the best supported language for an Accept-Language header.
func (b *Bundle) Resolve(acceptLanguage string) string {
	prefs, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(prefs) == 0 {
		return b.fallback
	}
	_, index, confidence := b.matcher.Match(prefs...)
	if confidence == language.No {
		return b.fallback
	}
	return b.tags[index].String()
}

// T returns the template for code in lang, falling back to the default language and then the code.
func (b *Bundle) T(lang, code string) string {
	if v, ok := b.dict[lang][code]; ok {
		return v
	}
	if v, ok := b.dict[b.fallback][code]; ok {
		return v
	}
	return code
}

// Localize renders msg in lang. Params fill {name} placeholders and the subject is stripped of markup.
func (b *Bundle) Localize(lang string, msg domain.Message) domain.Message {
	text := b.T(lang, msg.Code)
	if text == msg.Code {
		text = msg.Text
	}
	for name, value := range msg.Params {
		text = strings.ReplaceAll(text, "{"+name+"}", strconv.Itoa(value))
	}
	msg.Text = text
	msg.Subject = b.policy.Sanitize(msg.Subject)
	return msg
}

// LocalizeAll renders every message in lang.
func (b *Bundle) LocalizeAll(lang string, messages []domain.Message) []domain.Message {
	out := make([]domain.Message, len(messages))
	for i, msg := range messages {
		out[i] = b.Localize(lang, msg)
	}
	return out
}

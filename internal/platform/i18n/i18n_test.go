package i18n

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/hanko-field/quickorder/internal/domain"
)

func TestResolvePrefersSupportedLanguage(t *testing.T) {
	b, err := Load("en")
	require.NoError(t, err)

	assert.Equal(t, "ja", b.Resolve("ja-JP,ja;q=0.9,en;q=0.5"))
	assert.Equal(t, "en", b.Resolve("fr-FR"))
	assert.Equal(t, "en", b.Resolve(""))
	assert.Equal(t, "en", b.Resolve("en-GB,ja;q=0.2"))
	assert.Equal(t, []string{"en", "ja"}, b.Supported())
}

func TestEnglishCatalogMatchesEngineTexts(t *testing.T) {
	b, err := Load("en")
	require.NoError(t, err)

	assert.Equal(t, "fields must not be empty", b.T("en", domain.MessageCodeFieldsEmpty))
	assert.Equal(t, "counts do not match", b.T("en", domain.MessageCodeCountsMismatch))
	assert.Equal(t, "product does not exist or has no quantity", b.T("en", domain.MessageCodeProductNotFound))
	assert.Equal(t, "product is not simple", b.T("en", domain.MessageCodeProductNotSimple))
	assert.Equal(t, "product added to cart", b.T("en", domain.MessageCodeProductAdded))
}

func TestLocalizeFillsParamsAndSanitizesSubject(t *testing.T) {
	b, err := Load("en")
	require.NoError(t, err)

	msg := domain.Message{
		Kind:    domain.MessageKindError,
		Code:    domain.MessageCodeOnlyAdded,
		Text:    "only 3 could be added",
		Subject: `<script>alert(1)</script>SKU-1`,
		Params:  map[string]int{"qty": 3, "requested": 10},
	}
	en := b.Localize("en", msg)
	assert.Equal(t, "only 3 could be added", en.Text)
	assert.Equal(t, "SKU-1", en.Subject)

	ja := b.Localize("ja", msg)
	assert.Equal(t, "3点のみカートに追加しました", ja.Text)
}

func TestLocalizeUnknownCodeKeepsText(t *testing.T) {
	b, err := Load("en")
	require.NoError(t, err)

	got := b.Localize("ja", domain.Message{Code: "custom", Text: "keep me"})
	assert.Equal(t, "keep me", got.Text)
}

func TestLoadRejectsUnknownFallback(t *testing.T) {
	_, err := Load("de")
	assert.Error(t, err)
}

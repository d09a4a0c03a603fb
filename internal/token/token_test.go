package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize_HyphenatedDomainToken(t *testing.T) {
	assert.Equal(t, []string{"5-fluorouracil"}, Tokenize("5-Fluorouracil"))
}

func TestTokenize_SplitsOnPunctuationAndWhitespace(t *testing.T) {
	assert.Equal(t, []string{"drug", "a", "drug", "b"}, Tokenize("Drug A, Drug B"))
}

func TestTokenize_RetainsNumericTokens(t *testing.T) {
	assert.Equal(t, []string{"phase", "3", "trial"}, Tokenize("Phase 3 Trial"))
}

func TestTokenize_NoStopwordRemoval(t *testing.T) {
	assert.Equal(t, []string{"the", "patient", "and", "the", "physician"}, Tokenize("the patient and the physician"))
}

func TestTokenize_EmptyString(t *testing.T) {
	assert.Empty(t, Tokenize(""))
}

func TestTokenize_UnicodeCaseFolding(t *testing.T) {
	assert.Equal(t, []string{"über", "dose"}, Tokenize("Über Dose"))
}

func TestIsDomainToken(t *testing.T) {
	assert.True(t, IsDomainToken("5-fluorouracil"))
	assert.True(t, IsDomainToken("hiv-1"))
	assert.False(t, IsDomainToken("drug a"))
	assert.False(t, IsDomainToken(""))
}

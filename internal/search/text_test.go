package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"login", "button", "doesn", "t", "work", "v2"}, Tokenize("Login button doesn't work (v2)"))
	assert.Empty(t, Tokenize("  ...  "))
}

func TestTerms_DropsStopwordsAndShortTokens(t *testing.T) {
	terms := Terms("The login button is not working, a crash")
	assert.Equal(t, map[string]bool{"login": true, "button": true, "working": true, "crash": true}, terms)
}

func TestMatchQuery(t *testing.T) {
	assert.Equal(t, `"login" OR "button" OR "broken"`, MatchQuery("Login button broken, login"))
	assert.Equal(t, "", MatchQuery("the a of"))
	assert.Equal(t, "", MatchQuery(""))
}

func TestMatchQuery_StripsQuotes(t *testing.T) {
	assert.Equal(t, `"say" OR "hello"`, MatchQuery(`say "hello"`))
}

func TestRelevance(t *testing.T) {
	t.Run("identical", func(t *testing.T) {
		assert.InDelta(t, 1.0, Relevance("Login button broken", "login BUTTON broken"), 1e-9)
	})

	t.Run("disjoint", func(t *testing.T) {
		assert.Equal(t, 0.0, Relevance("Login button broken", "Export to CSV fails"))
	})

	t.Run("similar wording is above half", func(t *testing.T) {
		r := Relevance(
			"Login button not working Clicking the login button does nothing",
			"Login button broken Clicking login does nothing",
		)
		assert.Greater(t, r, 0.5)
	})

	t.Run("single shared term is below half", func(t *testing.T) {
		r := Relevance("Dashboard chart renders blank", "Dashboard loads slowly on mobile")
		assert.Less(t, r, 0.5)
	})

	t.Run("empty", func(t *testing.T) {
		assert.Equal(t, 0.0, Relevance("", "anything"))
		assert.Equal(t, 0.0, Relevance("the", "the"))
	})
}

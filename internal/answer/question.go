package answer

import "strings"

var questionOpeners = map[string]struct{}{
	"what": {}, "who": {}, "whom": {}, "whose": {}, "which": {}, "when": {}, "where": {}, "why": {}, "how": {},
	"is": {}, "are": {}, "was": {}, "were": {}, "do": {}, "does": {}, "did": {},
	"can": {}, "could": {}, "should": {}, "would": {}, "will": {}, "has": {}, "have": {}, "had": {},
	"tell": {}, "explain": {}, "describe": {}, "list": {},
}

// LooksLikeQuestion guesses whether text asks something: it ends with '?'
// or starts with an interrogative or imperative opener.
func LooksLikeQuestion(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	if strings.HasSuffix(text, "?") {
		return true
	}
	first, _, _ := strings.Cut(strings.ToLower(text), " ")
	first = strings.Trim(first, ",.!:;'\"")
	_, ok := questionOpeners[first]
	return ok
}

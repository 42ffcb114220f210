package matcher

import (
	"github.com/pef-moderation/firehose-automod/automod/keyword"
)

// Rule is one configured keyword rule. Keywords are slugified at load time so
// configuration spelling does not need to anticipate tokenizer behavior.
type Rule struct {
	Name     string   `yaml:"name" json:"name"`
	Keywords []string `yaml:"keywords" json:"keywords"`
}

type compiledRule struct {
	name string
	set  []string
}

// KeywordMatcher matches candidate values whose tokens hit any configured
// keyword. Immutable after construction, safe for concurrent use.
type KeywordMatcher struct {
	rules []compiledRule
}

func NewKeywordMatcher(rules []Rule) *KeywordMatcher {
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		set := make([]string, 0, len(r.Keywords))
		for _, kw := range r.Keywords {
			if slug := keyword.Slugify(kw); slug != "" {
				set = append(set, slug)
			}
		}
		if len(set) > 0 {
			compiled = append(compiled, compiledRule{name: r.Name, set: set})
		}
	}
	return &KeywordMatcher{rules: compiled}
}

func (m *KeywordMatcher) AllMatchesForCandidates(candidates []Candidate) []MatchResult {
	var out []MatchResult
	for _, cand := range candidates {
		toks := keyword.TokenizeURL(cand.Value)
		for _, rule := range m.rules {
			for _, tok := range toks {
				if keyword.TokenInSet(tok, rule.set) {
					out = append(out, MatchResult{
						Rule:  rule.name,
						Label: cand.Label,
						Value: cand.Value,
					})
					break
				}
			}
		}
	}
	return out
}

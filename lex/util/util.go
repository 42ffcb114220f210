package util

import (
	"encoding/json"
)

// typeExtractor pulls the JSON "$type" discriminator out of a lexicon object.
// Go struct fields cannot be named "$type", so generated bindings map it onto
// LexiconTypeID; this helper is the read side of that mapping.
type typeExtractor struct {
	Type string `json:"$type"`
}

func TypeExtract(b []byte) (string, error) {
	var te typeExtractor
	if err := json.Unmarshal(b, &te); err != nil {
		return "", err
	}

	return te.Type, nil
}

// Package keyparser derives the API or resource a throttle condition key belongs to.
//
// Condition keys come in two shapes:
//
//	/<context>/<version>:<version>_<suffix>           API level
//	/<context>/<version>/<resource>:<VERB>_<suffix>   resource level
//
// where <suffix> is "condition_<digits>" or "default".
package keyparser

import "regexp"

var (
	resourcePattern = regexp.MustCompile(`^/.*/[^/:]*/[^:]*:[A-Z]{0,5}_(condition_\d*|default)$`)
	apiPattern      = regexp.MustCompile(`^(/.*/([^/:]*)):([^/:]*)_(?:condition_\d*|default)$`)
)

const (
	resourceSuffixGroup = 1
	apiEntityGroup      = 1
	apiVersionGroup     = 2
	apiEchoGroup        = 3
)

// Parse returns the entity key for conditionKey. Resource keys keep their
// "<resource>:<VERB>" part and lose only the condition suffix; API keys are
// cut at the colon. ok is false when the key matches neither shape.
func Parse(conditionKey string) (entityKey string, ok bool) {
	if conditionKey == "" {
		return "", false
	}

	// Resource keys also satisfy the looser API shape in places, so they go first.
	if loc := resourcePattern.FindStringSubmatchIndex(conditionKey); loc != nil {
		suffixStart := loc[2*resourceSuffixGroup]
		// suffixStart-1 is the '_' separating the verb from the suffix.
		return conditionKey[:suffixStart-1], true
	}

	m := apiPattern.FindStringSubmatch(conditionKey)
	if m == nil || m[apiVersionGroup] != m[apiEchoGroup] {
		return "", false
	}
	return m[apiEntityGroup], true
}

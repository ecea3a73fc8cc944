package relay

// Decision is the recovery step chosen after a structured stage outcome.
type Decision string

const (
	Accept         Decision = "accept"
	RetryJSON      Decision = "retry-json"
	FallbackDSL    Decision = "fallback-dsl"
	FailStrict     Decision = "fail-strict"
	FailNoFallback Decision = "fail-no-fallback"
)

// Decide maps structured stage failures onto the next step. schemaFailed
// and jsonFailed report which stages have failed so far in this turn.
func Decide(schemaFailed, jsonFailed, strict, fallbackEnabled bool) Decision {
	switch {
	case !schemaFailed && !jsonFailed:
		return Accept
	case jsonFailed && strict:
		return FailStrict
	case !fallbackEnabled:
		return FailNoFallback
	case !jsonFailed:
		return RetryJSON
	default:
		return FallbackDSL
	}
}

// Terminal reports whether d ends the turn with an error.
func (d Decision) Terminal() bool {
	return d == FailStrict || d == FailNoFallback
}

package notify

// Pattern is a blink sequence understood by an Indicator.
type Pattern int

const (
	PatternEncounter Pattern = iota + 1 // new peer nearby
	PatternExchange                     // profile received
	PatternForget                       // peer dropped
)

// Indicator drives the device's visual indicator (the LED on hardware).
type Indicator interface {
	Blink(Pattern)
}

// IndicatorFunc adapts a function to Indicator.
type IndicatorFunc func(Pattern)

func (f IndicatorFunc) Blink(p Pattern) { f(p) }

// IndicatorSink maps events onto indicator patterns. Forgotten events only
// blink when Forget is set, since capacity and TTL churn are routine.
type IndicatorSink struct {
	Indicator Indicator
	Forget    bool
}

func (s IndicatorSink) Notify(e Event) {
	switch e.Kind {
	case NewEncounter:
		s.Indicator.Blink(PatternEncounter)
	case ExchangeComplete:
		s.Indicator.Blink(PatternExchange)
	case Forgotten:
		if s.Forget {
			s.Indicator.Blink(PatternForget)
		}
	}
}

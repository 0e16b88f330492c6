package turns

import "context"

// Summarizer condenses one user/assistant exchange into a one-line digest.
type Summarizer interface {
	Summarize(ctx context.Context, input, assistant string) (string, error)
}

// Classification labels a remembered exchange.
//
// Kind is one of "task", "decision", "preference", "fact"; Importance is one of
// "low", "medium", "high".
type Classification struct {
	Kind       string
	Importance string
}

// Classifier assigns a kind and importance to one exchange.
type Classifier interface {
	Classify(ctx context.Context, input, assistant string) (Classification, error)
}

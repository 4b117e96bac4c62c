// Package usage defines the unit of token accounting and the best-effort
// extraction of token counts from the heterogeneous response shapes returned
// by assistant backends.
package usage

import "fmt"

// Usage is the (input, output, total) token count for one or more assistant
// interactions. TotalTokens is stored as reported by the source: some
// backends report it independently of the components, so it is never derived
// or corrected to InputTokens+OutputTokens here.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
}

// Add accumulates another usage value into this one, field by field.
func (u *Usage) Add(o Usage) {
	u.InputTokens += o.InputTokens
	u.OutputTokens += o.OutputTokens
	u.TotalTokens += o.TotalTokens
}

// IsZero reports whether no token usage has been recorded at all.
func (u Usage) IsZero() bool {
	return u.InputTokens == 0 && u.OutputTokens == 0 && u.TotalTokens == 0
}

func (u Usage) String() string {
	return fmt.Sprintf("input=%d output=%d total=%d", u.InputTokens, u.OutputTokens, u.TotalTokens)
}

package llm

import "context"

// FinishReasonStop marks a completion the provider considers finished; any
// other reason means the reply was cut off and can be continued.
const FinishReasonStop = "stop"

// Message is the provider-neutral turn shape. ImageURL, when set, marks a
// multimodal turn: Content carries the instruction text and ImageURL the
// image reference.
type Message struct {
	Role     string
	Content  string
	ImageURL string
}

type Response struct {
	Content          string
	Model            string
	FinishReason     string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

func (r Response) IsFinishReasonStop() bool {
	return r.FinishReason == FinishReasonStop
}

type Client interface {
	Generate(ctx context.Context, messages []Message) (Response, error)
}

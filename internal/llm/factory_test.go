package llm

import "testing"

func TestFactoryCreatesOpenAICompatibleClients(t *testing.T) {
	f := &Factory{
		OpenaiAPIKey: "key",
		OpenaiModel:  "gpt-4o-mini",
		GeminiAPIKey: "key",
		GeminiModel:  "gemini-1.5-flash",
	}

	for _, provider := range []string{ProviderOpenAI, ProviderGemini} {
		c, err := f.CreateClient(provider)
		if err != nil {
			t.Fatalf("create %s client: %v", provider, err)
		}
		if _, ok := c.(*OpenAIClient); !ok {
			t.Fatalf("expected OpenAI-compatible client for %s, got %T", provider, c)
		}
	}
}

func TestFactoryRejectsUnknownProvider(t *testing.T) {
	f := &Factory{}
	if _, err := f.CreateClient("mystery"); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestResponseFinishReason(t *testing.T) {
	if !(Response{FinishReason: FinishReasonStop}).IsFinishReasonStop() {
		t.Fatal("stop finish reason should report stop")
	}
	if (Response{FinishReason: "length"}).IsFinishReasonStop() {
		t.Fatal("length finish reason must not report stop")
	}
}

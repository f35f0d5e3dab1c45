package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/ShayCichocki/choicesim/pkg/models"
)

// MockProvider is a deterministic, offline provider. The same persona prompt
// always produces the same choice, which makes dry runs reproducible.
type MockProvider struct {
	// Latency is slept before replying.
	Latency time.Duration
	// NoneEvery makes roughly one in NoneEvery personas decline all options.
	// Zero disables NONE answers.
	NoneEvery int
}

// Name implements Provider.
func (m *MockProvider) Name() string {
	return ProviderMock
}

// Complete implements Provider.
func (m *MockProvider) Complete(ctx context.Context, call Call) (*Result, error) {
	if m.Latency > 0 {
		if err := sleepCtx(ctx, m.Latency); err != nil {
			return nil, err
		}
	}

	var ids []string
	for _, msg := range call.Request.Messages {
		if found := alternativeIDsFromPrompt(msg.Content); len(found) > 0 {
			ids = found
			break
		}
	}
	if len(ids) == 0 {
		return nil, &ProviderError{Kind: KindOther, Message: "mock provider: no alternatives in prompt", Provider: ProviderMock}
	}

	h := fnv.New64a()
	h.Write([]byte(call.Request.System))
	sum := h.Sum64()

	choice := ids[sum%uint64(len(ids))]
	if m.NoneEvery > 0 && (sum>>16)%uint64(m.NoneEvery) == 0 {
		choice = models.NoChoice
	}

	reply := map[string]any{
		"chosenAlternativeId": choice,
		"reason":              fmt.Sprintf("Mock persona %x picked %s.", sum&0xffff, choice),
		"confidence":          0.5 + float64((sum>>8)%50)/100,
		"reasonCodes":         []string{},
	}
	data, err := json.Marshal(reply)
	if err != nil {
		return nil, err
	}
	content := string(data)
	return &Result{Content: &content}, nil
}

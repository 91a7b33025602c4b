package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/Chhavidabla/BookPublisherAI/internal/pipeline"
)

// Editor applies a final copyedit pass to approved content.
type Editor struct {
	client *Client
}

func NewEditor(client *Client) *Editor {
	return &Editor{client: client}
}

const editPromptFormat = `You are a meticulous copyeditor preparing approved content for publication.

**TITLE:** %s

**CONTENT:**
%s

**INSTRUCTIONS:**
Polish the text: fix grammar, punctuation and spelling, smooth awkward phrasing, and ensure consistent tense and voice. Do not change the plot, the meaning, or the author's style. Return only the edited content without commentary.`

func (e *Editor) Edit(ctx context.Context, content, title string) (pipeline.Edit, error) {
	prompt := fmt.Sprintf(editPromptFormat, title, content)
	text, err := e.client.Generate(ctx, prompt, GenerationConfig{
		Temperature:     0.3,
		MaxOutputTokens: 4000,
	})
	if err != nil {
		return pipeline.Edit{}, err
	}

	return pipeline.Edit{
		Content:     strings.TrimSpace(text),
		ChangesMade: "grammar, punctuation and phrasing polish",
	}, nil
}

package agents

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/Chhavidabla/BookPublisherAI/internal/pipeline"
)

var styleInstructions = map[string]string{
	"literary":     "elegant, sophisticated prose with rich descriptions and varied sentence structure",
	"modern":       "contemporary, accessible language with clear, direct communication",
	"classical":    "formal, traditional prose reminiscent of classic literature",
	"journalistic": "clear, factual reporting style with engaging narrative flow",
	"creative":     "imaginative, experimental prose with unique voice and perspective",
}

var lengthInstructions = map[string]string{
	"shorter": "condense the content while maintaining all key points and narrative elements",
	"similar": "maintain approximately the same length as the original",
	"longer":  "expand the content with additional detail, context, and descriptive elements",
}

// creativityGuidance is keyed by level; the closest key to the configured
// creativity is used.
var creativityGuidance = map[float64]string{
	0.0: "Stay very close to the original structure and phrasing",
	0.3: "Make moderate changes while preserving the original tone",
	0.5: "Balance creativity with faithfulness to the source",
	0.7: "Be creative with language and structure while preserving meaning",
	1.0: "Transform creatively while maintaining the core narrative and facts",
}

// Writer rewrites source content in a configured style.
type Writer struct {
	client       *Client
	Style        string
	TargetLength string
	Creativity   float64
}

func NewWriter(client *Client, style string, creativity float64) *Writer {
	if style == "" {
		style = "literary"
	}
	if creativity <= 0 {
		creativity = 0.7
	}
	return &Writer{client: client, Style: style, TargetLength: "similar", Creativity: creativity}
}

func (w *Writer) Transform(ctx context.Context, source, title, guidance string) (pipeline.Draft, error) {
	prompt := w.buildPrompt(source, title, guidance)
	text, err := w.client.Generate(ctx, prompt, GenerationConfig{
		Temperature:     w.Creativity,
		TopP:            0.8,
		TopK:            40,
		MaxOutputTokens: 4000,
	})
	if err != nil {
		return pipeline.Draft{}, err
	}

	transformed := strings.TrimSpace(text)
	originalWords := len(strings.Fields(source))
	transformedWords := len(strings.Fields(transformed))
	lengthRatio := 0.0
	if originalWords > 0 {
		lengthRatio = float64(transformedWords) / float64(originalWords)
	}

	return pipeline.Draft{
		Content: transformed,
		Metadata: map[string]any{
			"style":            w.Style,
			"target_length":    w.TargetLength,
			"creativity_level": w.Creativity,
			"length_ratio":     lengthRatio,
			"model":            w.client.model,
		},
	}, nil
}

func (w *Writer) buildPrompt(source, title, guidance string) string {
	style, ok := styleInstructions[w.Style]
	if !ok {
		style = w.Style
	}
	length, ok := lengthInstructions[w.TargetLength]
	if !ok {
		length = w.TargetLength
	}

	var b strings.Builder
	fmt.Fprintf(&b, `You are an expert literary editor and writer tasked with transforming the following content. Your goal is to create a fresh, engaging version while preserving the core meaning and narrative.

**TRANSFORMATION REQUIREMENTS:**
- Style: %s
- Length: %s
- Creativity Level: %s
- Preserve Meaning: Absolutely maintain all factual content and narrative elements

**GUIDELINES:**
1. Maintain the narrative flow and character development
2. Preserve all important plot points and factual information
3. Use varied sentence structures and rich vocabulary
4. Ensure the transformed content feels natural and engaging
5. Keep the same general tone and mood as the original
6. If dialogue exists, preserve character voices while improving flow
7. Enhance descriptions and settings without changing the essence
`, style, length, closestGuidance(w.Creativity))

	if guidance != "" {
		fmt.Fprintf(&b, `
**REVIEWER GUIDANCE:**
A previous draft of this transformation was reviewed. Address the following feedback in this version:
%s
`, guidance)
	}

	fmt.Fprintf(&b, `
**ORIGINAL CONTENT TO TRANSFORM:**
Title: %s

%s

**INSTRUCTIONS:**
Transform this content according to the requirements above. Return only the transformed content without any meta-commentary or explanations. The output should be publication-ready prose.
`, title, source)

	return b.String()
}

func closestGuidance(creativity float64) string {
	bestKey := 0.0
	bestDist := math.Inf(1)
	for key := range creativityGuidance {
		if d := math.Abs(key - creativity); d < bestDist {
			bestDist = d
			bestKey = key
		}
	}
	return creativityGuidance[bestKey]
}

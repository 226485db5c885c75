package descriptions

import (
	"context"
	"fmt"
	"strings"

	"github.com/craftscribe/craftscribe/pkg/config"
)

const systemPrompt = "You are an expert copywriter specializing in compelling Etsy product descriptions."

// Generator produces listing descriptions from a title, feature list and
// requested tone.
type Generator struct {
	client *client
}

func NewGenerator(cfg *config.Config) *Generator {
	return &Generator{
		client: newClient(
			cfg.OpenRouter.APIKey,
			cfg.OpenRouter.BaseURL,
			cfg.OpenRouter.Model,
			cfg.OpenRouter.Referer,
			cfg.OpenRouter.Title,
		),
	}
}

// ProductDescription generates a description for the listing. The result
// is trimmed, never empty.
func (g *Generator) ProductDescription(ctx context.Context, title string, features []string, tone string) (string, error) {
	prompt := fmt.Sprintf(
		"Generate a compelling and %s product description for an Etsy listing.\n\n"+
			"Product Title: %s\n"+
			"Key Features: %s\n\n"+
			"The description should be engaging, easy to read, and optimized for Etsy's platform. "+
			"Use paragraphs and bullet points for clarity. Do not include a title or any introductory "+
			"sentence like 'Here is a description...'",
		tone, title, strings.Join(features, ", "),
	)

	return g.client.complete(ctx, systemPrompt, prompt)
}

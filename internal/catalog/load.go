package catalog

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed idea.yaml
var ideaCatalog []byte

type fileCatalog struct {
	Cards []fileCard `yaml:"cards"`
}

type fileCard struct {
	Type      string         `yaml:"type"`
	Title     string         `yaml:"title"`
	Emoji     string         `yaml:"emoji"`
	Intro     string         `yaml:"intro"`
	Questions []fileQuestion `yaml:"questions"`
}

type fileQuestion struct {
	Text    string   `yaml:"text"`
	Field   string   `yaml:"field"`
	Hint    string   `yaml:"hint"`
	Options []Option `yaml:"options"`
	Escape  string   `yaml:"escape"`
}

// Default returns the built-in IDEA phase catalog.
func Default() *Catalog {
	c, err := Parse(ideaCatalog)
	if err != nil {
		panic(fmt.Sprintf("embedded catalog is invalid: %v", err))
	}
	return c
}

// Load returns the catalog stored at path, or the built-in one when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse catalog file %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes a YAML catalog document. Question numbers follow the order
// of the questions list; a question with options becomes a ClosedQuestion.
func Parse(data []byte) (*Catalog, error) {
	var doc fileCatalog
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}

	cards := make([]*Card, 0, len(doc.Cards))
	for _, fc := range doc.Cards {
		card := &Card{
			Type:      CardType(fc.Type),
			Title:     fc.Title,
			Emoji:     fc.Emoji,
			Intro:     fc.Intro,
			Questions: make([]Question, 0, len(fc.Questions)),
		}
		for i, fq := range fc.Questions {
			if len(fq.Options) > 0 {
				card.Questions = append(card.Questions, ClosedQuestion{
					Number:    i + 1,
					Text:      fq.Text,
					Field:     fq.Field,
					Options:   fq.Options,
					EscapeKey: fq.Escape,
				})
				continue
			}
			if fq.Escape != "" {
				return nil, fmt.Errorf("%w: card %q question %d has an escape key but no options",
					ErrInvalidCatalog, fc.Type, i+1)
			}
			card.Questions = append(card.Questions, OpenQuestion{
				Number: i + 1,
				Text:   fq.Text,
				Field:  fq.Field,
				Hint:   fq.Hint,
			})
		}
		cards = append(cards, card)
	}
	return New(cards...)
}

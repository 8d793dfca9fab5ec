package directory

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"supportdesk/internal/domain"
)

//go:embed seed.yaml
var defaultSeed []byte

// SeedData is the YAML fixture the directory is populated from.
type SeedData struct {
	Conversations []SeedConversation `yaml:"conversations"`
}

// SeedConversation describes one conversation with its history and side data.
type SeedConversation struct {
	ID              string                    `yaml:"id"`
	Name            string                    `yaml:"name"`
	Avatar          string                    `yaml:"avatar"`
	LastMessage     string                    `yaml:"lastMessage"`
	LastActivityAgo time.Duration             `yaml:"lastActivityAgo"`
	Unread          int                       `yaml:"unread"`
	Status          domain.ConversationStatus `yaml:"status"`
	IsAIHandling    bool                      `yaml:"isAiHandling"`
	Typing          domain.Typing             `yaml:"typing"`
	Tags            []domain.Tag              `yaml:"tags"`
	Messages        []domain.Message          `yaml:"messages"`
	Customer        *domain.Customer          `yaml:"customer"`
	Suggestion      *domain.Suggestion        `yaml:"suggestion"`
}

// DefaultSeed returns the embedded demo fixture.
func DefaultSeed() (*SeedData, error) {
	return ParseSeed(defaultSeed)
}

// LoadSeedFile reads a fixture from disk.
func LoadSeedFile(path string) (*SeedData, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file %s: %w", path, err)
	}
	seed, err := ParseSeed(data)
	if err != nil {
		return nil, fmt.Errorf("seed file %s: %w", path, err)
	}
	return seed, nil
}

// ParseSeed decodes and validates a YAML fixture.
func ParseSeed(data []byte) (*SeedData, error) {
	var seed SeedData
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	if err := seed.Validate(); err != nil {
		return nil, err
	}
	return &seed, nil
}

// Validate checks ids, enums and the message status rule of every entry.
func (s *SeedData) Validate() error {
	seen := make(map[string]bool, len(s.Conversations))
	for i, c := range s.Conversations {
		switch {
		case c.ID == "":
			return fmt.Errorf("conversation %d: id is required", i)
		case seen[c.ID]:
			return fmt.Errorf("conversation %s: duplicate id", c.ID)
		case c.Name == "":
			return fmt.Errorf("conversation %s: name is required", c.ID)
		case !c.Status.Valid():
			return fmt.Errorf("conversation %s: unknown status %q", c.ID, c.Status)
		case c.Unread < 0:
			return fmt.Errorf("conversation %s: unread must be >= 0", c.ID)
		case c.LastActivityAgo < 0:
			return fmt.Errorf("conversation %s: lastActivityAgo must be >= 0", c.ID)
		}
		seen[c.ID] = true

		if _, err := domain.ParseTyping(string(c.Typing)); err != nil {
			return fmt.Errorf("conversation %s: %w", c.ID, err)
		}
		for _, tag := range c.Tags {
			if _, err := domain.ParseTag(string(tag)); err != nil {
				return fmt.Errorf("conversation %s: %w", c.ID, err)
			}
		}
		for j, m := range c.Messages {
			if !m.Sender.Valid() {
				return fmt.Errorf("conversation %s message %d: unknown sender %q", c.ID, j, m.Sender)
			}
			if m.Status != domain.StatusNone && m.Sender != domain.SenderStaff {
				return fmt.Errorf("conversation %s message %d: status is only allowed on staff messages", c.ID, j)
			}
			if m.Content == "" {
				return fmt.Errorf("conversation %s message %d: content is required", c.ID, j)
			}
		}
	}
	return nil
}

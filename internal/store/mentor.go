package store

import (
	"context"
	"fmt"
	"sync"

	"mentory-go/internal/mentory"
	"mentory-go/internal/model"
)

// CharacterPolicy picks the mentor persona for a store whose cache is empty.
type CharacterPolicy interface {
	DeriveCharacter(ctx context.Context, s *Store) (model.Character, error)
}

// ContentSource produces mentor content in the voice of a persona.
type ContentSource interface {
	MentorContent(ctx context.Context, character model.Character) (string, error)
}

// StoredCharacterPolicy uses the persona persisted in the store and falls
// back to Default, which is then persisted.
type StoredCharacterPolicy struct {
	Default model.Character
}

func (p StoredCharacterPolicy) DeriveCharacter(ctx context.Context, s *Store) (model.Character, error) {
	stored, err := s.Character(ctx)
	if err != nil {
		return "", err
	}
	if stored != nil {
		return *stored, nil
	}

	fallback := p.Default
	if fallback == "" {
		fallback = model.CharacterCool
	}
	if err := s.SetCharacter(ctx, fallback); err != nil {
		return "", err
	}
	return fallback, nil
}

// MentorMessageCache holds the mentor message of one store.
//
// It is Empty until FetchCharacter derives a persona, at most once, and
// Populated afterwards. Content is only derived once the persona is known.
type MentorMessageCache struct {
	store  *Store
	policy CharacterPolicy
	source ContentSource
	logger mentory.Logger

	mu        sync.Mutex
	character *model.Character
	content   *string
}

// NewMentorMessageCache creates an Empty cache for the store.
// A nil policy uses StoredCharacterPolicy with the cool persona.
func NewMentorMessageCache(s *Store, policy CharacterPolicy, source ContentSource, logger mentory.Logger) *MentorMessageCache {
	if policy == nil {
		policy = StoredCharacterPolicy{Default: model.CharacterCool}
	}
	if logger == nil {
		logger = mentory.NewNopLogger()
	}
	return &MentorMessageCache{store: s, policy: policy, source: source, logger: logger}
}

// FetchCharacter returns the cached persona, deriving it on first use.
// A persisted message written for the same persona is loaded alongside.
func (c *MentorMessageCache) FetchCharacter(ctx context.Context) (model.Character, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.character != nil {
		return *c.character, nil
	}

	character, err := c.policy.DeriveCharacter(ctx, c.store)
	if err != nil {
		return "", fmt.Errorf("deriving mentor character: %w", err)
	}
	c.character = &character

	stored, err := c.store.MentorMessage(ctx)
	if err != nil {
		c.logger.Warn("could not load stored mentor message", "store", c.store.ID(), "error", err)
	} else if stored != nil && stored.Character != nil && *stored.Character == character {
		c.content = stored.Content
	}

	c.logger.Debug("mentor character populated", "store", c.store.ID(), "character", character)
	return character, nil
}

// UpdateContent derives fresh content for the cached persona and persists
// the whole message. It does nothing while the cache is Empty.
func (c *MentorMessageCache) UpdateContent(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.character == nil {
		c.logger.Debug("mentor character unknown, content left empty", "store", c.store.ID())
		return nil
	}
	character := *c.character

	content, err := c.source.MentorContent(ctx, character)
	if err != nil {
		return fmt.Errorf("deriving mentor content: %w", err)
	}

	if err := c.store.SetMentorMessage(ctx, model.MentorMessage{Character: &character, Content: &content}); err != nil {
		return err
	}
	c.content = &content
	return nil
}

// Message returns a copy of the cached message.
func (c *MentorMessageCache) Message() model.MentorMessage {
	c.mu.Lock()
	defer c.mu.Unlock()

	var m model.MentorMessage
	if c.character != nil {
		v := *c.character
		m.Character = &v
	}
	if c.content != nil {
		v := *c.content
		m.Content = &v
	}
	return m
}

// Reset returns the cache to Empty. Persisted state is left alone.
func (c *MentorMessageCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.character = nil
	c.content = nil
}

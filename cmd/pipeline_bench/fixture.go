package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/kairos-ai/kairos-core/internal/domain"
)

// turnFixture mirrors domain.Turn with plain string timestamps, since the
// JSON fixtures operators hand-write don't carry RFC3339 by default.
type turnFixture struct {
	UserID      string              `json:"user_id"`
	CharacterID string              `json:"character_id"`
	Platform    string              `json:"platform"`
	ChannelType string              `json:"channel_type"`
	Content     string              `json:"content"`
	Attachments []domain.Attachment `json:"attachments,omitempty"`
}

// benchFixture is the on-disk shape consumed by both `seed` and `replay`: one
// character definition plus the ordered turns to run against it.
type benchFixture struct {
	Character domain.CharacterDefinition `json:"character"`
	Turns     []turnFixture             `json:"turns"`
}

func loadFixture(path string) (benchFixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return benchFixture{}, fmt.Errorf("read fixture: %w", err)
	}
	var f benchFixture
	if err := json.Unmarshal(data, &f); err != nil {
		return benchFixture{}, fmt.Errorf("parse fixture: %w", err)
	}
	if f.Character.ID == "" {
		return benchFixture{}, fmt.Errorf("fixture.character.id is required")
	}
	return f, nil
}

func (t turnFixture) toTurn(now time.Time) domain.Turn {
	channel := domain.ChannelDirect
	if t.ChannelType == string(domain.ChannelGroup) {
		channel = domain.ChannelGroup
	}
	return domain.Turn{
		UserID:      t.UserID,
		CharacterID: t.CharacterID,
		Platform:    t.Platform,
		ChannelType: channel,
		Content:     t.Content,
		Attachments: t.Attachments,
		ReceivedAt:  now,
	}
}

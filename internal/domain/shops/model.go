package shops

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("shop not found")

// Settings — настройки бота магазина, передаются в диалог явно.
type Settings struct {
	CollectPhone         bool
	CollectName          bool
	OfferAppointment     bool
	EscalationEnabled    bool
	BotPersonality       string
	GreetingText         string
	Currency             string
	MaxExtractionRetries int
}

func DefaultSettings() Settings {
	return Settings{
		CollectPhone:         true,
		EscalationEnabled:    true,
		Currency:             "RUB",
		MaxExtractionRetries: 2,
	}
}

type Shop struct {
	ID            uuid.UUID
	Slug          string
	Name          string
	TelegramToken string
	Settings      Settings
	Active        bool
	CreatedAt     time.Time
}

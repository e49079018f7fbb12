package queue

import (
	"context"
	"fmt"

	"qms/walkin-queue/internal/models"
)

// SettingsPatch carries the fields a PUT changes; nil means keep.
type SettingsPatch struct {
	LogoURL       *string `json:"logo_url"`
	QREnabled     *bool   `json:"qr_enabled"`
	RetentionDays *int    `json:"retention_days"`
	Timezone      *string `json:"timezone"`
	ScreensLang   *string `json:"screens_lang"`
}

func (s *Service) Settings(ctx context.Context) (models.Settings, error) {
	values, err := s.store.LoadSettings(ctx)
	if err != nil {
		return models.Settings{}, err
	}
	return models.SettingsFromValues(values), nil
}

func (s *Service) UpdateSettings(ctx context.Context, patch SettingsPatch) (models.Settings, error) {
	settings, err := s.Settings(ctx)
	if err != nil {
		return models.Settings{}, err
	}
	if patch.LogoURL != nil {
		settings.LogoURL = *patch.LogoURL
	}
	if patch.QREnabled != nil {
		settings.QREnabled = *patch.QREnabled
	}
	if patch.RetentionDays != nil {
		settings.RetentionDays = *patch.RetentionDays
	}
	if patch.Timezone != nil {
		settings.Timezone = *patch.Timezone
	}
	if patch.ScreensLang != nil {
		settings.ScreensLang = *patch.ScreensLang
	}
	if err := settings.Validate(); err != nil {
		return models.Settings{}, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	if err := s.store.SaveSettings(ctx, settings.Values(), s.clock.Now()); err != nil {
		return models.Settings{}, err
	}
	s.logger.Info("settings updated", "screens_lang", settings.ScreensLang, "qr_enabled", settings.QREnabled)
	return settings, nil
}

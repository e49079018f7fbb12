package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	SettingLogoURL       = "logo_url"
	SettingQREnabled     = "qr_enabled"
	SettingRetentionDays = "retention_days"
	SettingTimezone      = "timezone"
	SettingScreensLang   = "screens_lang"
)

var screenLanguages = map[string]bool{"ru": true, "uzLat": true, "uzCyr": true}

type Settings struct {
	LogoURL       string `json:"logo_url"`
	QREnabled     bool   `json:"qr_enabled"`
	RetentionDays int    `json:"retention_days"`
	Timezone      string `json:"timezone"`
	ScreensLang   string `json:"screens_lang"`
}

func DefaultSettings() Settings {
	return Settings{
		LogoURL:       "/assets/logo.svg",
		QREnabled:     true,
		RetentionDays: 90,
		Timezone:      "Asia/Tashkent",
		ScreensLang:   "uzLat",
	}
}

// SettingsFromValues overlays stored key-value pairs on the defaults.
// Unknown keys and unparsable values are ignored.
func SettingsFromValues(values map[string]string) Settings {
	settings := DefaultSettings()
	if v, ok := values[SettingLogoURL]; ok && v != "" {
		settings.LogoURL = v
	}
	if v, ok := values[SettingQREnabled]; ok {
		if parsed, err := strconv.ParseBool(v); err == nil {
			settings.QREnabled = parsed
		}
	}
	if v, ok := values[SettingRetentionDays]; ok {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			settings.RetentionDays = parsed
		}
	}
	if v, ok := values[SettingTimezone]; ok && v != "" {
		settings.Timezone = v
	}
	if v, ok := values[SettingScreensLang]; ok && screenLanguages[v] {
		settings.ScreensLang = v
	}
	return settings
}

func (s Settings) Values() map[string]string {
	return map[string]string{
		SettingLogoURL:       s.LogoURL,
		SettingQREnabled:     strconv.FormatBool(s.QREnabled),
		SettingRetentionDays: strconv.Itoa(s.RetentionDays),
		SettingTimezone:      s.Timezone,
		SettingScreensLang:   s.ScreensLang,
	}
}

func (s Settings) Validate() error {
	if strings.TrimSpace(s.LogoURL) == "" {
		return fmt.Errorf("logo_url is required")
	}
	if s.RetentionDays <= 0 {
		return fmt.Errorf("retention_days must be positive")
	}
	if _, err := time.LoadLocation(s.Timezone); err != nil {
		return fmt.Errorf("timezone %q: %w", s.Timezone, err)
	}
	if !screenLanguages[s.ScreensLang] {
		return fmt.Errorf("screens_lang must be one of ru, uzLat, uzCyr")
	}
	return nil
}

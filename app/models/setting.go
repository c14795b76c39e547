package models

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

// Setting represents a system setting
type Setting struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Key       string    `gorm:"column:setting_key;size:255;not null;uniqueIndex" json:"key" validate:"required,min=1,max=255"`
	Value     string    `gorm:"type:text" json:"value"`
	Type      string    `gorm:"size:50;not null" json:"type" validate:"required"` // string, boolean, integer, float
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ShopSettings represents the runtime shop configuration the bot renders to
// customers: manual payment destinations and which methods are switched on.
type ShopSettings struct {
	CardNumber        string `json:"card_number" validate:"max=64"`
	CardHolder        string `json:"card_holder" validate:"max=150"`
	CryptoWallet      string `json:"crypto_wallet" validate:"max=191"`
	SupportContact    string `json:"support_contact" validate:"max=150"`
	CardToCardEnabled bool   `json:"card_to_card_enabled"`
	CryptoEnabled     bool   `json:"crypto_enabled"`
	GatewayEnabled    bool   `json:"gateway_enabled"`
}

// Global settings instance
var (
	shopSettings *ShopSettings
	settingsMu   sync.RWMutex
)

// GetShopSettings returns the current shop settings
func GetShopSettings() *ShopSettings {
	settingsMu.RLock()
	defer settingsMu.RUnlock()
	if shopSettings == nil {
		return &ShopSettings{CardToCardEnabled: true, GatewayEnabled: true}
	}
	copied := *shopSettings
	return &copied
}

// LoadSettings loads settings from database into memory
func LoadSettings(db *gorm.DB) error {
	settingsMu.Lock()
	defer settingsMu.Unlock()

	// Initialize with defaults
	shopSettings = &ShopSettings{
		CardToCardEnabled: true,
		CryptoEnabled:     false,
		GatewayEnabled:    true,
	}

	// Load settings from database
	var settings []Setting
	if err := db.Find(&settings).Error; err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	// Apply loaded settings
	for _, setting := range settings {
		switch setting.Key {
		case "payment_card_number":
			shopSettings.CardNumber = setting.Value
		case "payment_card_holder":
			shopSettings.CardHolder = setting.Value
		case "payment_crypto_wallet":
			shopSettings.CryptoWallet = setting.Value
		case "support_contact":
			shopSettings.SupportContact = setting.Value
		case "payment_card_to_card_enabled":
			shopSettings.CardToCardEnabled = setting.Value == "true"
		case "payment_crypto_enabled":
			shopSettings.CryptoEnabled = setting.Value == "true"
		case "payment_gateway_enabled":
			shopSettings.GatewayEnabled = setting.Value == "true"
		}
	}

	return nil
}

// SaveSettings saves current settings to database
func SaveSettings(db *gorm.DB, settings *ShopSettings) error {
	settingsMu.Lock()
	defer settingsMu.Unlock()

	// Validate settings
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	// Convert settings to database format
	settingsMap := map[string]interface{}{
		"payment_card_number":          settings.CardNumber,
		"payment_card_holder":          settings.CardHolder,
		"payment_crypto_wallet":        settings.CryptoWallet,
		"support_contact":              settings.SupportContact,
		"payment_card_to_card_enabled": fmt.Sprintf("%t", settings.CardToCardEnabled),
		"payment_crypto_enabled":       fmt.Sprintf("%t", settings.CryptoEnabled),
		"payment_gateway_enabled":      fmt.Sprintf("%t", settings.GatewayEnabled),
	}

	// Save each setting
	for key, value := range settingsMap {
		var setting Setting
		result := db.Where("setting_key = ?", key).First(&setting)

		if result.Error != nil {
			if result.Error == gorm.ErrRecordNotFound {
				// Create new setting
				setting = Setting{
					Key:   key,
					Value: fmt.Sprintf("%v", value),
					Type:  getSettingType(key),
				}
				if err := db.Create(&setting).Error; err != nil {
					return fmt.Errorf("failed to create setting %s: %w", key, err)
				}
			} else {
				return fmt.Errorf("failed to query setting %s: %w", key, result.Error)
			}
		} else {
			// Update existing setting
			setting.Value = fmt.Sprintf("%v", value)
			if err := db.Save(&setting).Error; err != nil {
				return fmt.Errorf("failed to update setting %s: %w", key, err)
			}
		}
	}

	// Update global settings
	copied := *settings
	shopSettings = &copied
	return nil
}

// getSettingType returns the type of a setting based on its key
func getSettingType(key string) string {
	switch key {
	case "payment_card_to_card_enabled", "payment_crypto_enabled", "payment_gateway_enabled":
		return "boolean"
	default:
		return "string"
	}
}

// Validate validates the settings
func (s *ShopSettings) Validate() error {
	validate := validator.New()
	return validate.Struct(s)
}

// EnabledMethods lists the payment methods customers may currently pick.
func (s *ShopSettings) EnabledMethods() []string {
	var methods []string
	if s.CardToCardEnabled && s.CardNumber != "" {
		methods = append(methods, PaymentMethodCardToCard)
	}
	if s.CryptoEnabled && s.CryptoWallet != "" {
		methods = append(methods, PaymentMethodCrypto)
	}
	if s.GatewayEnabled {
		methods = append(methods, PaymentMethodHostedGateway)
	}
	return methods
}

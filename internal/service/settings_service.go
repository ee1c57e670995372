package service

import (
	"context"
	"fmt"
	"strings"

	"storefront/internal/apperr"
	"storefront/internal/models"
	"storefront/internal/pricing"
	"storefront/internal/store"
	"storefront/internal/util"

	"github.com/shopspring/decimal"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
)

const settingsSchema = `{
  "type": "object",
  "additionalProperties": false,
  "minProperties": 1,
  "properties": {
    "gst_rate":     {"type": "string", "pattern": "^[0-9]+(\\.[0-9]+)?$"},
    "cgst_rate":    {"type": "string", "pattern": "^[0-9]+(\\.[0-9]+)?$"},
    "site_name":    {"type": "string", "minLength": 1, "maxLength": 120},
    "site_email":   {"type": "string", "maxLength": 254},
    "site_phone":   {"type": "string", "maxLength": 20},
    "site_address": {"type": "string", "maxLength": 500},
    "gstin":        {"type": "string", "pattern": "^([0-9A-Z]{15})?$"}
  }
}`

var settingsSchemaLoader = gojsonschema.NewStringLoader(settingsSchema)

// SettingsService reads and updates the flat site settings. Values are read
// on every call so updates apply to the next calculation.
type SettingsService struct {
	store  *store.Store
	logger *zap.Logger
}

// NewSettingsService creates a new settings service
func NewSettingsService(store *store.Store) *SettingsService {
	return &SettingsService{
		store:  store,
		logger: util.Component("settings"),
	}
}

// All returns every stored setting
func (s *SettingsService) All(ctx context.Context) (map[string]string, error) {
	return s.store.GetSettings(ctx)
}

// TaxRates returns the global rates used for cart display. Missing rates
// are treated as zero.
func (s *SettingsService) TaxRates(ctx context.Context) (pricing.Rates, error) {
	values, err := s.store.GetSettings(ctx)
	if err != nil {
		return pricing.Rates{}, fmt.Errorf("failed to load settings: %w", err)
	}

	gst, err := parseRate(values, models.SettingGSTRate)
	if err != nil {
		return pricing.Rates{}, err
	}
	cgst, err := parseRate(values, models.SettingCGSTRate)
	if err != nil {
		return pricing.Rates{}, err
	}
	return pricing.Rates{GST: gst, CGST: cgst}, nil
}

func parseRate(values map[string]string, key string) (decimal.Decimal, error) {
	raw, ok := values[key]
	if !ok || raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("setting %s is not a number: %w", key, err)
	}
	return d, nil
}

// SiteIdentity returns the details printed on invoices
func (s *SettingsService) SiteIdentity(ctx context.Context) (models.SiteIdentity, error) {
	values, err := s.store.GetSettings(ctx)
	if err != nil {
		return models.SiteIdentity{}, fmt.Errorf("failed to load settings: %w", err)
	}

	site := models.SiteIdentity{
		Name:    values[models.SettingSiteName],
		Email:   values[models.SettingSiteEmail],
		Phone:   values[models.SettingSitePhone],
		Address: values[models.SettingSiteAddress],
		GSTIN:   values[models.SettingGSTIN],
	}
	if site.Name == "" {
		site.Name = "Storefront"
	}
	return site, nil
}

// Update validates and stores the given settings
func (s *SettingsService) Update(ctx context.Context, values map[string]string) error {
	ctx, span := util.StartSpan(ctx, "SettingsService.Update")
	defer span.End()

	result, err := gojsonschema.Validate(settingsSchemaLoader, gojsonschema.NewGoLoader(values))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return apperr.Validation("settings", "%s", strings.Join(msgs, "; "))
	}

	for _, key := range []string{models.SettingGSTRate, models.SettingCGSTRate} {
		if raw, ok := values[key]; ok {
			if decimal.RequireFromString(raw).GreaterThan(decimal.NewFromInt(100)) {
				return apperr.Validation(key, "must not exceed 100")
			}
		}
	}

	if err := s.store.UpsertSettings(ctx, values); err != nil {
		return err
	}

	s.logger.Info("Settings updated", zap.Int("count", len(values)))
	return nil
}

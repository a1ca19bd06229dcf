package app

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/upb/context-engine/config"
	"github.com/upb/context-engine/services/providers"
	"github.com/upb/context-engine/services/providers/calendar"
	"github.com/upb/context-engine/services/providers/homeassistant"
	"github.com/upb/context-engine/services/providers/static"
	"github.com/upb/context-engine/services/providers/weather"
)

// NewProviderBuilder returns a registry builder that knows every built-in
// provider kind. All providers embed their titles with embedder.
func NewProviderBuilder(embedder providers.Embedder, logger *zap.Logger) *providers.Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return providers.NewBuilder(logger).
		WithFactory(config.ProviderKindCalendar, func(pc config.ProviderConfig) (providers.ContextProvider, error) {
			if pc.Calendar == nil {
				return nil, missingBlock(pc)
			}
			return calendar.New(*pc.Calendar, embedder)
		}).
		WithFactory(config.ProviderKindHomeAssistant, func(pc config.ProviderConfig) (providers.ContextProvider, error) {
			if pc.HomeAssistant == nil {
				return nil, missingBlock(pc)
			}
			return homeassistant.New(*pc.HomeAssistant, embedder,
				homeassistant.WithLogger(logger.With(zap.String("provider", pc.Name))))
		}).
		WithFactory(config.ProviderKindWeather, func(pc config.ProviderConfig) (providers.ContextProvider, error) {
			if pc.Weather == nil {
				return nil, missingBlock(pc)
			}
			return weather.New(*pc.Weather, embedder)
		}).
		WithFactory(config.ProviderKindStatic, func(pc config.ProviderConfig) (providers.ContextProvider, error) {
			if pc.Static == nil {
				return nil, missingBlock(pc)
			}
			return static.New(*pc.Static, embedder)
		})
}

func missingBlock(pc config.ProviderConfig) error {
	return fmt.Errorf("provider %s of kind %s has no %s block", pc.Name, pc.Kind, pc.Kind)
}

package featureflags

import (
	"context"

	"licensegate/pkg/config"

	"github.com/Flagsmith/flagsmith-go-client/v2"
	"go.uber.org/fx"
)

var Module = fx.Module("featureflags", fx.Provide(ProvideFeatureFlag))

type FeatureFlag interface {
	Features(ctx context.Context, identifier string) ([]flagsmith.Flag, error)
	// IsEnabled reports the boolean state of an environment flag. The second
	// return value is false when no Flagsmith client is configured or the
	// flag does not exist, so callers can fall back to their own source.
	IsEnabled(ctx context.Context, name string) (bool, bool)
}

type featureflag struct {
	client *flagsmith.Client
}

type FeatureParams struct {
	fx.In
	Config *config.Config
}

func ProvideFeatureFlag(p FeatureParams) FeatureFlag {
	if p.Config.Flagsmith.ApiKey == "" {
		return &featureflag{}
	}

	opts := []flagsmith.Option{
		flagsmith.WithBaseURL(p.Config.Flagsmith.Addr),
		flagsmith.WithAnalytics(),
	}

	return &featureflag{
		client: flagsmith.NewClient(p.Config.Flagsmith.ApiKey, opts...),
	}
}

func (s *featureflag) Features(ctx context.Context, identifier string) ([]flagsmith.Flag, error) {
	if s.client == nil {
		return nil, nil
	}

	flags, err := s.client.GetEnvironmentFlags()
	if err != nil {
		return nil, err
	}

	return flags.AllFlags(), nil
}

func (s *featureflag) IsEnabled(ctx context.Context, name string) (bool, bool) {
	if s.client == nil {
		return false, false
	}

	flags, err := s.client.GetEnvironmentFlags()
	if err != nil {
		return false, false
	}

	enabled, err := flags.IsFeatureEnabled(name)
	if err != nil {
		return false, false
	}

	return enabled, true
}

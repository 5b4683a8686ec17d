package config

import (
	"github.com/samber/lo"

	"github.com/jpalmerr/pulsefeed"
)

// BuildIntegrations converts parsed configuration into SDK Integration values.
func BuildIntegrations(cfg *Config) []pulsefeed.Integration {
	return lo.Map(cfg.Integrations, func(ic IntegrationConfig, _ int) pulsefeed.Integration {
		var secrets map[string]string
		if len(ic.Secrets) > 0 {
			secrets = lo.SliceToMap(ic.Secrets, func(sc SecretConfig) (string, string) {
				return sc.Kind, sc.Value
			})
		}
		return pulsefeed.Integration{
			ID:      ic.ID,
			Kind:    ic.Kind,
			Name:    ic.Name,
			URL:     ic.URL,
			Secrets: secrets,
		}
	})
}

// BuildOptions converts parsed configuration into SDK options. Callers
// append their own, typically [pulsefeed.WithLogger].
func BuildOptions(cfg *Config) []pulsefeed.Option {
	opts := []pulsefeed.Option{
		pulsefeed.WithPort(cfg.Port),
		pulsefeed.WithIntegrations(BuildIntegrations(cfg)...),
	}

	if cfg.Title != "" {
		opts = append(opts, pulsefeed.WithTitle(cfg.Title))
	}
	if cfg.EncryptionKey != "" {
		opts = append(opts, pulsefeed.WithEncryptionKey(cfg.EncryptionKey))
	}

	if cfg.Store.Backend == BackendRedis {
		opts = append(opts, pulsefeed.WithRedisURL(cfg.Store.RedisURL))
	}
	if cfg.Store.CacheCapacity > 0 {
		opts = append(opts, pulsefeed.WithCacheCapacity(cfg.Store.CacheCapacity))
	}

	for name, jc := range cfg.Jobs {
		opts = append(opts, pulsefeed.WithJob(name, pulsefeed.JobOverride{
			Schedule:               jc.Schedule,
			RunOnStart:             jc.RunOnStart,
			PreventManualExecution: jc.PreventManualExecution,
			Disabled:               jc.Disabled,
		}))
	}

	if len(cfg.PingURLs) > 0 {
		opts = append(opts, pulsefeed.WithPingURLs(cfg.PingURLs...))
	}
	if cfg.PingTimeout != 0 {
		opts = append(opts, pulsefeed.WithPingTimeout(cfg.PingTimeout.Duration()))
	}
	if cfg.MaxConcurrency > 0 {
		opts = append(opts, pulsefeed.WithMaxConcurrency(cfg.MaxConcurrency))
	}

	return opts
}

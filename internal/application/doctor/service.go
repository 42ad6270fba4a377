package doctor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	appconfig "github.com/doeshing/cadsmith/internal/application/config"
	"github.com/doeshing/cadsmith/internal/domain"
	"github.com/doeshing/cadsmith/internal/ports"
)

// Prober is implemented by adapters that can check their backend is
// reachable: the cadquery kernel (interpreter imports cadquery) and the
// redis cache (PING).
type Prober interface {
	Available(ctx context.Context) error
}

// Service runs environment diagnostics.
type Service struct {
	ConfigProvider ports.ConfigProvider
	Kernel         ports.Kernel
	Cache          ports.CacheRepository
	History        ports.HistoryRepository
}

// Run executes checks and returns a report. The error is only set when the
// config cannot be loaded, since nothing else can be checked then.
func (s *Service) Run(ctx context.Context) (domain.HealthReport, error) {
	var checks []domain.HealthCheck

	cfg, err := s.ConfigProvider.Load(ctx)
	if err != nil {
		checks = append(checks, fail("Config file", fmt.Sprintf("load failed: %v", err)))
		return domain.HealthReport{Checks: checks}, err
	}
	if err := appconfig.Validate(cfg); err != nil {
		checks = append(checks, fail("Config file", err.Error()))
	} else {
		checks = append(checks, ok("Config file", fmt.Sprintf("format %s, %d models", cfg.ConfigFormatVersion, len(cfg.Models))))
	}

	checks = append(checks, modelCheck(cfg), apiCheck(cfg.Models))
	checks = append(checks, s.kernelCheck(ctx))
	checks = append(checks, outputCheck(cfg.OutputDir()))
	checks = append(checks, s.cacheCheck(ctx, cfg))
	checks = append(checks, s.historyCheck(ctx, cfg))

	return domain.HealthReport{Checks: checks}, nil
}

func modelCheck(cfg domain.Config) domain.HealthCheck {
	model, err := cfg.DefaultModel()
	if err != nil {
		return fail("Default model", err.Error())
	}
	if model.Endpoint == "" || model.Endpoint == domain.OfflineEndpoint {
		return ok("Default model", fmt.Sprintf("%s (offline heuristic)", model.Name))
	}
	return ok("Default model", fmt.Sprintf("%s via %s", model.Name, model.Endpoint))
}

func apiCheck(models []domain.ModelDefinition) domain.HealthCheck {
	for _, model := range models {
		switch model.Kind {
		case domain.ProviderAnthropic:
			if envMissing(model.AuthEnvVar, "ANTHROPIC_API_KEY") {
				return warn("API keys", fmt.Sprintf("%s: ANTHROPIC_API_KEY missing", model.Name))
			}
		case domain.ProviderOpenAI:
			if envMissing(model.AuthEnvVar, "OPENAI_API_KEY") {
				return warn("API keys", fmt.Sprintf("%s: OPENAI_API_KEY missing", model.Name))
			}
		}
	}
	return ok("API keys", "detected for configured providers")
}

func (s *Service) kernelCheck(ctx context.Context) domain.HealthCheck {
	if s.Kernel == nil {
		return warn("Geometry kernel", "not initialized")
	}
	if p, isProber := s.Kernel.(Prober); isProber {
		if err := p.Available(ctx); err != nil {
			return fail("Geometry kernel", fmt.Sprintf("%s: %v", s.Kernel.Name(), err))
		}
	}
	return ok("Geometry kernel", s.Kernel.Name())
}

func outputCheck(dir string) domain.HealthCheck {
	if err := os.MkdirAll(dir, domain.DirectoryPermissions); err != nil {
		return fail("Output directory", err.Error())
	}
	probe, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return fail("Output directory", fmt.Sprintf("%s not writable: %v", dir, err))
	}
	name := probe.Name()
	_ = probe.Close()
	_ = os.Remove(name)
	abs, _ := filepath.Abs(dir)
	return ok("Output directory", abs)
}

func (s *Service) cacheCheck(ctx context.Context, cfg domain.Config) domain.HealthCheck {
	if !cfg.Cache.Enabled || s.Cache == nil {
		return warn("Cache", "disabled")
	}
	if p, isProber := s.Cache.(Prober); isProber {
		if err := p.Available(ctx); err != nil {
			return fail("Cache", fmt.Sprintf("%s: %v", cfg.Cache.Backend, err))
		}
	}
	entries, err := s.Cache.Entries(ctx)
	if err != nil {
		return fail("Cache", err.Error())
	}
	return ok("Cache", fmt.Sprintf("%s, %d entries", cfg.Cache.Backend, len(entries)))
}

func (s *Service) historyCheck(ctx context.Context, cfg domain.Config) domain.HealthCheck {
	if !cfg.History.Enabled || s.History == nil {
		return warn("History", "disabled")
	}
	if _, err := s.History.Records(ctx, 1, ""); err != nil {
		return fail("History", err.Error())
	}
	return ok("History", s.History.Path())
}

func envMissing(primary, fallback string) bool {
	if primary != "" && os.Getenv(primary) != "" {
		return false
	}
	if fallback != "" && os.Getenv(fallback) != "" {
		return false
	}
	return true
}

func ok(name, details string) domain.HealthCheck {
	return domain.HealthCheck{Name: name, Status: domain.HealthOK, Details: details}
}

func warn(name, details string) domain.HealthCheck {
	return domain.HealthCheck{Name: name, Status: domain.HealthWarn, Details: details}
}

func fail(name, details string) domain.HealthCheck {
	return domain.HealthCheck{Name: name, Status: domain.HealthError, Details: details}
}

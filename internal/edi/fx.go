package edi

import (
	"github.com/smallbiznis/claimwise/internal/codetable"
	"github.com/smallbiznis/claimwise/internal/config"
	"github.com/smallbiznis/claimwise/internal/edi/rebuild"
	"go.uber.org/fx"
)

var Module = fx.Module("edi",
	fx.Provide(codetable.Default),
	fx.Provide(func(tables *codetable.Tables, cfg config.Config) *rebuild.Rebuilder {
		return rebuild.New(tables, rebuild.Options{VerifyNPIChecksum: cfg.EDI.VerifyNPIChecksum})
	}),
	fx.Provide(func(cfg config.Config) rebuild.ProviderProfile {
		return rebuild.ProviderProfile{
			NPI:          cfg.EDI.ProviderNPI,
			TaxID:        cfg.EDI.ProviderTaxID,
			TaxonomyCode: cfg.EDI.ProviderTaxonomy,
		}
	}),
)

package claim

import (
	"github.com/smallbiznis/claimwise/internal/claim/repository"
	"github.com/smallbiznis/claimwise/internal/claim/service"
	"github.com/smallbiznis/claimwise/internal/clearinghouse"
	"go.uber.org/fx"
)

var Module = fx.Module("claim.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(s *clearinghouse.Submitter) service.Submitter { return s }),
	fx.Provide(service.NewService),
	fx.Invoke(registerAckSweeper),
)

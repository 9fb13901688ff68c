package accesstoken

import (
	accesstokendomain "github.com/smallbiznis/iahome/internal/accesstoken/domain"
	"github.com/smallbiznis/iahome/internal/accesstoken/repository"
	"github.com/smallbiznis/iahome/internal/accesstoken/service"
	ledgerdomain "github.com/smallbiznis/iahome/internal/ledger/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("accesstoken.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(func(s *service.Service) accesstokendomain.Service { return s }),
	fx.Provide(func(s *service.Service) ledgerdomain.LastUsedToucher { return s }),
)

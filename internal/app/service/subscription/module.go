package subscription

import "go.uber.org/fx"

// Module exposes the subscription ledger via Fx.
var Module = fx.Options(
	fx.Provide(NewService),
	fx.Invoke(func(lc fx.Lifecycle, s *Service) {
		lc.Append(fx.StopHook(s.Wait))
	}),
)

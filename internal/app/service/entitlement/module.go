package entitlement

import "go.uber.org/fx"

var Module = fx.Options(
	fx.Provide(
		NewSnapshotStore,
		func(s *SnapshotStore) UserStore { return s },
		NewProjector,
	),
)

package mocks

//go:generate mockery --name StatsResolver --srcpkg github.com/aevon-lab/matchstats/internal/projection --output ./projection --outpkg projectionmocks --with-expecter
//go:generate mockery --name RefreshController --srcpkg github.com/aevon-lab/matchstats/internal/projection --output ./projection --outpkg projectionmocks --with-expecter

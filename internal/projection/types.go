package projection

// StatsQueryRequest is the query string of a stats listing.
type StatsQueryRequest struct {
	Partition string `uri:"partition" form:"-" binding:"required"`
	Sort      string `form:"sort"`   // default: rank
	Order     string `form:"order"`  // asc | desc; default depends on sort
	Limit     int    `form:"limit"`  // default: 50, max 500
	Offset    int    `form:"offset"` // default: 0
}

// EntityQueryRequest addresses one entity inside a partition.
type EntityQueryRequest struct {
	Partition string `uri:"partition" binding:"required"`
	Entity    string `uri:"entity" binding:"required"`
}

package domain

// Span attributes set by the request tracker.
const (
	// AttrRequestKey is the key of the request a span covers.
	AttrRequestKey = "kiln.request.key"
	// AttrCached marks a span whose request result was reused without running its body.
	AttrCached = "kiln.cached"
	// AttrEpoch is the build epoch a span belongs to.
	AttrEpoch = "kiln.epoch"
)

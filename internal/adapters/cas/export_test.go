package cas

// Frame exposes frame for testing.
func Frame(data []byte) []byte {
	return frame(data)
}

// Unframe exposes unframe for testing.
var Unframe = unframe

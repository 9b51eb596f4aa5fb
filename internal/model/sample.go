package model

// Sample is a single key/value pair pushed to the collector. It is built per
// send and not retained afterwards.
type Sample struct {
	Key   string
	Value string
}

func NewSample(key, value string) Sample {
	return Sample{Key: key, Value: value}
}

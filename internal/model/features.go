package model

// FeatureVector is the engineered, unscaled input of the scaler. Names is the
// shared schema and must be treated as read-only.
type FeatureVector struct {
	Names  []string
	Values []float64
}

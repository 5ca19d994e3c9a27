package models

// FitJob is the message consumed by the fit worker. Path, when set, names
// a two-column data file readable by the worker; otherwise Volumes and
// Values carry the data inline.
type FitJob struct {
	ID       string    `json:"id"`
	Kind     string    `json:"kind"`
	Material string    `json:"material"`
	Path     string    `json:"path,omitempty"`
	Volumes  []float64 `json:"volumes,omitempty"`
	Values   []float64 `json:"values,omitempty"`
	FixedV0  float64   `json:"fixed_v0,omitempty"`
	Models   []string  `json:"models,omitempty"`
}

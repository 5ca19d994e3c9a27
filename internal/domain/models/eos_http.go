package models

// Requests for the EOS HTTP endpoints. A nil Max means DefaultRangeMax.

// DefaultRangeMax is the range end used when a request leaves max out.
const DefaultRangeMax = 100.0

type FitRequest struct {
	Kind     string    `json:"kind" default:"energy" validate:"oneof=energy pressure E P"`
	Material string    `json:"material" default:"sample" validate:"max=128,excludesall=/\\"`
	Volumes  []float64 `json:"volumes" validate:"required,min=1,dive,gt=0"`
	Values   []float64 `json:"values" validate:"required,min=1"`
	FixedV0  float64   `json:"fixed_v0"`
	Models   []string  `json:"models" validate:"omitempty,dive,required"`
}

type RecordRequest struct {
	Model    string    `json:"model" validate:"required"`
	Material string    `json:"material" validate:"max=128,excludesall=/\\"`
	Line     string    `json:"line" validate:"required_without=Params"`
	Params   []float64 `json:"params" validate:"required_without=Line"`
}

type DeriveRequest struct {
	Kind    string          `json:"kind" default:"energy" validate:"oneof=energy pressure E P"`
	Axis    string          `json:"axis" default:"pressure" validate:"oneof=pressure volume"`
	Min     float64         `json:"min"`
	Max     *float64        `json:"max,omitempty"`
	Step    float64         `json:"step" default:"1" validate:"gt=0"`
	Records []RecordRequest `json:"records" validate:"required,min=1,dive"`
}

type TransitionRequest struct {
	Kind   string        `json:"kind" default:"energy" validate:"oneof=energy pressure E P"`
	Min    float64       `json:"min"`
	Max    *float64      `json:"max,omitempty"`
	Step   float64       `json:"step" default:"1" validate:"gt=0"`
	PhaseA RecordRequest `json:"phase_a"`
	PhaseB RecordRequest `json:"phase_b"`
}

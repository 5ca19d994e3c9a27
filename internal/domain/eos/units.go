package eos

// EVPerA3ToGPa is the number of GPa in one eV/Å³.
const EVPerA3ToGPa = 160.2176487

// ToGPa converts a pressure or bulk modulus from eV/Å³ to GPa.
func ToGPa(v float64) float64 { return v * EVPerA3ToGPa }

// FromGPa converts a pressure or bulk modulus from GPa to eV/Å³.
func FromGPa(v float64) float64 { return v / EVPerA3ToGPa }

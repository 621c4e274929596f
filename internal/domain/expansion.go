package domain

import (
	"fmt"
	"strings"
)

// ExpansionMode enumerates the supported image expansion styles.
type ExpansionMode string

const (
	ExpansionModeLifestyle ExpansionMode = "lifestyle"
	ExpansionModeStudio    ExpansionMode = "studio"
	ExpansionModeDetail    ExpansionMode = "detail"
	ExpansionModeAngle     ExpansionMode = "angle"
)

// ExpansionModes returns the closed set of supported modes in display order.
func ExpansionModes() []ExpansionMode {
	return []ExpansionMode{
		ExpansionModeLifestyle,
		ExpansionModeStudio,
		ExpansionModeDetail,
		ExpansionModeAngle,
	}
}

// NormalizeExpansionMode sanitizes free-form user input into a supported mode.
func NormalizeExpansionMode(mode string) ExpansionMode {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ExpansionModeStudio):
		return ExpansionModeStudio
	case string(ExpansionModeDetail):
		return ExpansionModeDetail
	case string(ExpansionModeAngle):
		return ExpansionModeAngle
	default:
		return ExpansionModeLifestyle
	}
}

// Product describes one listing item submitted for image expansion.
type Product struct {
	ID                string
	SourceImageURL    string
	Mode              ExpansionMode
	CurrentImageCount int
}

// Validate reports whether the product can be scheduled at all.
func (p Product) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("%w: missing product id", ErrInvalidProduct)
	}
	if strings.TrimSpace(p.SourceImageURL) == "" {
		return fmt.Errorf("%w: product %s has no source image", ErrInvalidProduct, p.ID)
	}
	if p.CurrentImageCount < 0 {
		return fmt.Errorf("%w: product %s has negative image count", ErrInvalidProduct, p.ID)
	}
	return nil
}

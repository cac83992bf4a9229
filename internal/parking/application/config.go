package application

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	parking "parking-district/internal/parking/domain"
)

// ErrFreeLotRate is returned when a free lot is configured with a fee rate.
var ErrFreeLotRate = errors.New("parking: free lot cannot carry a fee rate")

// LotSpec describes a lot to add to the district.
type LotSpec struct {
	Name     string  `yaml:"name" json:"name"`
	Capacity int     `yaml:"capacity" json:"capacity"`
	Rate     float64 `yaml:"fee_rate" json:"fee_rate"`
	Free     bool    `yaml:"free" json:"free"`
}

// Build constructs the lot described by the spec.
func (s LotSpec) Build() (*parking.Lot, error) {
	name := strings.TrimSpace(s.Name)
	if s.Free {
		if s.Rate != 0 {
			return nil, ErrFreeLotRate
		}
		return parking.NewFreeLot(name, s.Capacity)
	}
	return parking.NewLot(name, s.Capacity, s.Rate)
}

// Layout is the district layout loaded at startup.
type Layout struct {
	Lots []LotSpec `yaml:"lots"`
}

// LoadLayout reads a YAML district layout. An empty path yields an empty layout.
func LoadLayout(path string) (Layout, error) {
	var layout Layout
	if strings.TrimSpace(path) == "" {
		return layout, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return layout, err
	}
	if err := yaml.Unmarshal(data, &layout); err != nil {
		return layout, err
	}
	for i, spec := range layout.Lots {
		if _, err := spec.Build(); err != nil {
			return layout, fmt.Errorf("parking: layout lot %d (%q): %w", i, spec.Name, err)
		}
	}
	return layout, nil
}

// Bootstrap adds the layout's lots to the service in order.
func Bootstrap(ctx context.Context, service *Service, layout Layout) error {
	if service == nil {
		return ErrNilDistrict
	}
	for i, spec := range layout.Lots {
		if _, err := service.AddLot(ctx, spec); err != nil {
			return fmt.Errorf("parking: bootstrap lot %d (%q): %w", i, spec.Name, err)
		}
	}
	return nil
}

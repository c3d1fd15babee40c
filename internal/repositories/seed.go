package repositories

import (
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	domain "github.com/hanko-field/quickorder/internal/domain"
)

type seedFile struct {
	Products []seedProduct `yaml:"products"`
}

type seedProduct struct {
	ID       string `yaml:"id"`
	SKU      string `yaml:"sku"`
	Name     string `yaml:"name"`
	Kind     string `yaml:"kind"`
	Quantity int    `yaml:"qty"`
}

// LoadSeed decodes a YAML catalog seed:
//
//	products:
//	  - sku: STAMP-12
//	    name: Round stamp 12mm
//	    kind: simple
//	    qty: 5
//
// Products without an id use their SKU as identity. Kind defaults to simple.
func LoadSeed(r io.Reader) ([]domain.Product, error) {
	var file seedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("seed: decode: %w", err)
	}

	products := make([]domain.Product, 0, len(file.Products))
	seen := make(map[string]struct{}, len(file.Products))
	for i, entry := range file.Products {
		if entry.SKU == "" {
			return nil, fmt.Errorf("seed: product %d has no sku", i)
		}
		if _, dup := seen[entry.SKU]; dup {
			return nil, fmt.Errorf("seed: duplicate sku %q", entry.SKU)
		}
		seen[entry.SKU] = struct{}{}

		kind := domain.ProductKind(strings.ToLower(strings.TrimSpace(entry.Kind)))
		if kind == "" {
			kind = domain.ProductKindSimple
		}
		id := strings.TrimSpace(entry.ID)
		if id == "" {
			id = entry.SKU
		}
		products = append(products, domain.Product{
			ID:       id,
			SKU:      entry.SKU,
			Name:     entry.Name,
			Kind:     kind,
			Quantity: entry.Quantity,
		})
	}
	return products, nil
}

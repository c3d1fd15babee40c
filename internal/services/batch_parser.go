package services

import (
	"strings"

	domain "github.com/hanko-field/quickorder/internal/domain"
)

// BatchDelimiter separates entries in both submitted lists. It is matched literally: entries are not trimmed.
const BatchDelimiter = ", "

// ParseBatch zips the identifier and quantity lists positionally. It returns a *domain.ShapeMismatch when
// either list is empty or the lists split into different lengths.
func ParseBatch(identifiers, quantities string) (BatchRequest, error) {
	if identifiers == "" || quantities == "" {
		return BatchRequest{}, &domain.ShapeMismatch{Reason: domain.ShapeMismatchEmptyField}
	}

	ids := strings.Split(identifiers, BatchDelimiter)
	qtys := strings.Split(quantities, BatchDelimiter)
	if len(ids) != len(qtys) {
		return BatchRequest{}, &domain.ShapeMismatch{
			Reason:          domain.ShapeMismatchCountMismatch,
			IdentifierCount: len(ids),
			QuantityCount:   len(qtys),
		}
	}

	items := make([]domain.RawLineItem, len(ids))
	for i := range ids {
		items[i] = domain.RawLineItem{
			Position:     i,
			Identifier:   ids[i],
			QuantityText: qtys[i],
		}
	}
	return BatchRequest{Items: items}, nil
}

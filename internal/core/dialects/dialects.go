// Package dialects defines the production catalog of report dialects.
//
// Each file builds the dialects of one report family. NewRegistry assembles
// them in detection order: the most specific detectors come first, and
// dialects that are only reachable by explicit override come last.
package dialects

import "github.com/JonMunkholm/ingest/internal/core"

// All returns the production dialects in registration order.
func All() []core.Dialect {
	return []core.Dialect{
		FBAInventory(),
		FBAReturns(),
		Settlement(),
		SalesTraffic(),
		SupplierPricelist(),
		TestGeneric(),
	}
}

// NewRegistry returns a registry holding All.
func NewRegistry() (*core.Registry, error) {
	return core.NewRegistry(All()...)
}

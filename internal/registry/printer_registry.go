package registry

import (
	"context"
	"fmt"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"

	"github.com/rmendes/anycubic-cloud-bridge/pkg/anycubic"
)

// PrinterRegistry holds the account's printers keyed by printer key. It
// backs publish-by-key topic construction and the discovery service.
type PrinterRegistry struct {
	printers cmap.ConcurrentMap[string, anycubic.Printer]
	logger   zerolog.Logger
}

// NewPrinterRegistry creates an empty registry.
func NewPrinterRegistry(logger zerolog.Logger) *PrinterRegistry {
	return &PrinterRegistry{
		printers: cmap.New[anycubic.Printer](),
		logger:   logger,
	}
}

// LoadFromCloud replaces the registry contents with the printer list from
// the cloud API.
func (r *PrinterRegistry) LoadFromCloud(ctx context.Context, lister anycubic.PrinterLister, token string) error {
	printers, err := lister.ListPrinters(ctx, token)
	if err != nil {
		return fmt.Errorf("failed to load printers from cloud: %w", err)
	}

	r.printers.Clear()
	for _, p := range printers {
		if p.Key == "" {
			continue
		}
		r.printers.Set(p.Key, p)
		r.logger.Info().
			Int64("id", p.ID).
			Str("key", p.Key).
			Str("machine_type", p.MachineType).
			Str("name", p.Name).
			Bool("online", p.Online).
			Str("status", p.Status).
			Msg("Printer loaded")
	}

	r.logger.Info().Int("count", r.printers.Count()).Msg("Printer registry populated")
	return nil
}

// Lookup resolves a printer key to its machine type, implementing
// routing.MachineLookup.
func (r *PrinterRegistry) Lookup(printerKey string) (string, bool) {
	printer, ok := r.printers.Get(printerKey)
	if !ok {
		return "", false
	}
	return printer.MachineType, true
}

// Get returns the full printer record for a key.
func (r *PrinterRegistry) Get(printerKey string) (anycubic.Printer, bool) {
	return r.printers.Get(printerKey)
}

// Update inserts or replaces a printer record.
func (r *PrinterRegistry) Update(printer anycubic.Printer) {
	if printer.Key == "" {
		return
	}
	r.printers.Set(printer.Key, printer)
}

// Snapshot returns a copy of all printer records.
func (r *PrinterRegistry) Snapshot() []anycubic.Printer {
	items := r.printers.Items()
	printers := make([]anycubic.Printer, 0, len(items))
	for _, p := range items {
		printers = append(printers, p)
	}
	return printers
}

// Count returns the number of known printers.
func (r *PrinterRegistry) Count() int {
	return r.printers.Count()
}

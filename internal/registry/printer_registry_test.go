package registry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmendes/anycubic-cloud-bridge/internal/registry"
	"github.com/rmendes/anycubic-cloud-bridge/pkg/anycubic"
)

// fakeLister returns a fixed printer list.
type fakeLister struct {
	printers []anycubic.Printer
	err      error
}

func (f *fakeLister) ListPrinters(_ context.Context, _ string) ([]anycubic.Printer, error) {
	return f.printers, f.err
}

// TestPrinterRegistry_LoadFromCloud tests populating the registry from the
// cloud printer list.
func TestPrinterRegistry_LoadFromCloud(t *testing.T) {
	r := registry.NewPrinterRegistry(zerolog.Nop())
	lister := &fakeLister{printers: []anycubic.Printer{
		{ID: 1, Key: "KEY_A", Name: "Kobra", MachineType: "20021", Status: "free"},
		{ID: 2, Key: "KEY_B", Name: "Photon", MachineType: "30011", Status: "busy"},
		{ID: 3, Key: "", Name: "Broken record"}, // skipped, no key
	}}

	require.NoError(t, r.LoadFromCloud(context.Background(), lister, "token"))

	assert.Equal(t, 2, r.Count())

	machineType, ok := r.Lookup("KEY_A")
	assert.True(t, ok)
	assert.Equal(t, "20021", machineType)

	_, ok = r.Lookup("KEY_MISSING")
	assert.False(t, ok)
}

// TestPrinterRegistry_LoadFromCloud_Failure tests that a failed load leaves
// the registry unchanged.
func TestPrinterRegistry_LoadFromCloud_Failure(t *testing.T) {
	r := registry.NewPrinterRegistry(zerolog.Nop())
	r.Update(anycubic.Printer{Key: "KEY_A", MachineType: "20021"})

	lister := &fakeLister{err: errors.New("cloud API unreachable")}

	assert.Error(t, r.LoadFromCloud(context.Background(), lister, "token"))
	assert.Equal(t, 1, r.Count())
}

// TestPrinterRegistry_Snapshot tests the copy semantics of Snapshot.
func TestPrinterRegistry_Snapshot(t *testing.T) {
	r := registry.NewPrinterRegistry(zerolog.Nop())
	r.Update(anycubic.Printer{Key: "KEY_A", MachineType: "20021"})
	r.Update(anycubic.Printer{Key: "KEY_B", MachineType: "30011"})
	r.Update(anycubic.Printer{Key: ""}) // ignored

	snapshot := r.Snapshot()
	assert.Len(t, snapshot, 2)

	keys := []string{snapshot[0].Key, snapshot[1].Key}
	assert.ElementsMatch(t, []string{"KEY_A", "KEY_B"}, keys)
}

// TestPrinterRegistry_Update tests inserting and replacing records.
func TestPrinterRegistry_Update(t *testing.T) {
	r := registry.NewPrinterRegistry(zerolog.Nop())

	r.Update(anycubic.Printer{Key: "KEY_A", Status: "free"})
	r.Update(anycubic.Printer{Key: "KEY_A", Status: "printing"})

	printer, ok := r.Get("KEY_A")
	require.True(t, ok)
	assert.Equal(t, "printing", printer.Status)
	assert.Equal(t, 1, r.Count())
}

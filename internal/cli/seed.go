package cli

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/tillsync/internal/domain"
)

// Catalog is the seed file format.
type Catalog struct {
	Items []domain.StockedItem `yaml:"items"`
}

// SeedResult summarizes a seed run.
type SeedResult struct {
	Items []domain.StockedItem `json:"items"`
}

func (r SeedResult) String() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Seeded %d item(s)", len(r.Items))
	for _, item := range r.Items {
		fmt.Fprintf(&buf, "\n  %d %-24s %8d x%-4d %s (v%d)",
			item.ID, item.Name, item.UnitPrice, item.QuantityAvailable, item.Availability, item.Version)
	}
	return buf.String()
}

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <catalog.yaml>",
		Short: "Load catalog items and opening stock",
		Long: `Insert catalog items from a YAML file.

New items are stored with the listed quantity. For existing items only the
name and unit price are updated and the version is bumped; their stock is
kept. Use restock to add units.

Example catalog:
  items:
    - id: 7
      name: Nasi Goreng
      unit_price: 15000
      quantity: 40
    - id: 9
      name: Es Teh
      unit_price: 4000
      quantity: 100
      availability: PENDING_APPROVAL`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd, rootOpts, args[0])
		},
	}
}

// LoadCatalog reads and validates a catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}

	var catalog Catalog
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&catalog); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	seen := make(map[int64]bool, len(catalog.Items))
	for i, item := range catalog.Items {
		switch {
		case item.ID <= 0:
			return nil, fmt.Errorf("items[%d]: id must be positive", i)
		case seen[item.ID]:
			return nil, fmt.Errorf("items[%d]: duplicate id %d", i, item.ID)
		case domain.NormalizeName(item.Name) == "":
			return nil, fmt.Errorf("items[%d]: name is required", i)
		case item.UnitPrice < 0:
			return nil, fmt.Errorf("items[%d]: unit_price must not be negative", i)
		case item.QuantityAvailable < 0:
			return nil, fmt.Errorf("items[%d]: quantity must not be negative", i)
		case item.Availability != "" && !item.Availability.Valid():
			return nil, fmt.Errorf("items[%d]: unknown availability %q", i, item.Availability)
		}
		seen[item.ID] = true
		catalog.Items[i].Name = domain.NormalizeName(item.Name)
	}
	return &catalog, nil
}

func runSeed(cmd *cobra.Command, opts *RootOptions, path string) error {
	out := opts.formatter(cmd)
	ctx := cmd.Context()

	catalog, err := LoadCatalog(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid catalog", err)
	}

	st, err := openBackend(ctx, opts.Config.Store, opts.logger())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer st.Close()

	now := time.Now().UTC()
	result := SeedResult{Items: make([]domain.StockedItem, 0, len(catalog.Items))}
	for _, item := range catalog.Items {
		item.UpdatedAt = now
		saved, err := st.PutItem(ctx, item)
		if err != nil {
			return WrapExitError(ExitFailure, fmt.Sprintf("failed to seed item %d", item.ID), err)
		}
		out.VerboseLog("seeded item %d (%s)", saved.ID, saved.Name)
		result.Items = append(result.Items, saved)
	}
	return out.Success(result)
}

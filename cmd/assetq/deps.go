package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/assetq/internal/config"
	"github.com/alexisbeaulieu97/assetq/internal/domain/pathdep"
	"github.com/alexisbeaulieu97/assetq/internal/infrastructure/store/sqlite"
)

type depsOptions struct {
	ConfigPath string
	Product    string
	Platform   string
}

func newDepsCmd(root *rootFlags) *cobra.Command {
	opts := depsOptions{}

	cmd := &cobra.Command{
		Use:   "deps <product>",
		Short: "Print the stored path dependencies of a product",
		Long: "Print the resolved edges and the deferred placeholders stored for a product.\n" +
			"The product is named by its platform cache path, e.g. pc/textures/stone.dds.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ConfigPath = root.configPath
			opts.Product = args[0]
			if err := validateFilePath("config", opts.ConfigPath); err != nil {
				return err
			}
			return runDeps(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&opts.Platform, "platform", "p", "", "Restrict the lookup to one platform")

	return cmd
}

func runDeps(ctx context.Context, opts depsOptions, out io.Writer) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	store, err := sqlite.Open(ctx, cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	name := pathdep.NormalizePath(opts.Product)
	products, err := store.ProductsByName(ctx, name, opts.Platform)
	if err != nil {
		return err
	}
	if len(products) == 0 {
		return fmt.Errorf("no product named %s", opts.Product)
	}

	for _, product := range products {
		rows, err := store.GetProductDependencies(ctx, product.ID)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s (%s)\n", product.Name, product.Platform)
		if len(rows) == 0 {
			fmt.Fprintln(out, "  no dependencies")
			continue
		}
		for _, row := range rows {
			line, err := describeDependency(ctx, store, row)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "  %s\n", line)
		}
	}
	return nil
}

func describeDependency(ctx context.Context, store *sqlite.Store, row pathdep.ProductDependency) (string, error) {
	if !row.Resolved() {
		state := "deferred"
		if strings.HasPrefix(row.UnresolvedPath, pathdep.ExclusionMarker) {
			state = "excluded"
		}
		return fmt.Sprintf("%s %s [%s]", row.UnresolvedPath, state, row.Type), nil
	}

	targets, err := store.ProductsBySource(ctx, row.DependencySourceUUID, row.Platform)
	if err != nil {
		return "", err
	}
	for _, t := range targets {
		if t.SubID == row.DependencySubID {
			return fmt.Sprintf("-> %s [%s]", t.Name, row.Type), nil
		}
	}
	return fmt.Sprintf("-> %s:%d [%s]", row.DependencySourceUUID, row.DependencySubID, row.Type), nil
}

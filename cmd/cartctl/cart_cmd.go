package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/cartstore/internal/domain"
)

func newShowCmd(opts *cliOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the cart of the current identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCart(opts, func(env *cartEnv) error {
				if asJSON {
					return printJSON(cmd.OutOrStdout(), env.store.Identity(), env.store.Read())
				}
				printCart(cmd.OutOrStdout(), env.store.Identity(), env.store.Read())
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the cart as JSON")
	return cmd
}

func newAddCmd(opts *cliOptions) *cobra.Command {
	var (
		product domain.Product
		qty     int
	)
	cmd := &cobra.Command{
		Use:   "add <product-id>",
		Short: "Add a product or increase its quantity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if qty == 0 {
				return fmt.Errorf("--qty must not be zero")
			}
			product.ID = args[0]
			return withCart(opts, func(env *cartEnv) error {
				lines, err := env.store.Upsert(product, qty)
				if err != nil {
					return err
				}
				printCart(cmd.OutOrStdout(), env.store.Identity(), lines)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&product.Name, "name", "", "product name")
	cmd.Flags().Float64Var(&product.Price, "price", 0, "unit price")
	cmd.Flags().StringVar(&product.Image, "image", "", "image url")
	cmd.Flags().IntVar(&qty, "qty", 1, "quantity delta, negative values decrease")
	return cmd
}

func newDecreaseCmd(opts *cliOptions) *cobra.Command {
	var qty int
	cmd := &cobra.Command{
		Use:   "decrease <product-id>",
		Short: "Decrease the quantity of a product, removing it at zero",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCart(opts, func(env *cartEnv) error {
				lines, err := env.store.Decrease(args[0], qty)
				if err != nil {
					return err
				}
				printCart(cmd.OutOrStdout(), env.store.Identity(), lines)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&qty, "qty", 1, "quantity to remove")
	return cmd
}

func newRemoveCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <product-id>",
		Short: "Remove a product from the cart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCart(opts, func(env *cartEnv) error {
				lines, err := env.store.Remove(args[0])
				if err != nil {
					return err
				}
				printCart(cmd.OutOrStdout(), env.store.Identity(), lines)
				return nil
			})
		},
	}
}

func newClearCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Empty the cart of the current identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCart(opts, func(env *cartEnv) error {
				lines, err := env.store.Clear()
				if err != nil {
					return err
				}
				printCart(cmd.OutOrStdout(), env.store.Identity(), lines)
				return nil
			})
		},
	}
}

func printCart(w io.Writer, identity domain.Identity, lines []domain.CartLine) {
	writeLine(w, "cart: %s", identity)
	if len(lines) == 0 {
		writeLine(w, "  (empty)")
		return
	}
	for _, line := range lines {
		writeLine(w, "  %-12s %-24s %3d x %8s", line.ProductID, line.Name, line.Qty, formatPrice(line.Price))
	}
	writeLine(w, "items: %d total: %s", domain.CountLines(lines), formatPrice(domain.TotalLines(lines)))
}

func printJSON(w io.Writer, identity domain.Identity, lines []domain.CartLine) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		UserID domain.Identity   `json:"userId"`
		Items  []domain.CartLine `json:"items"`
		Count  int               `json:"count"`
		Total  float64           `json:"total"`
	}{identity, lines, domain.CountLines(lines), domain.TotalLines(lines)})
}

func formatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

package cli

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/tillsync/internal/domain"
	"github.com/roach88/tillsync/internal/projection"
)

// OrderResult is the output of approve and reject.
type OrderResult struct {
	Order *domain.Order `json:"order"`
}

func (r OrderResult) String() string {
	return fmt.Sprintf("Order %s %s by %s (total %d)", r.Order.ID, r.Order.Status, r.Order.DecidedBy, r.Order.Total())
}

// RestockResult is the output of restock.
type RestockResult struct {
	Stock projection.StockView `json:"stock"`
}

func (r RestockResult) String() string {
	return fmt.Sprintf("Item %d: %d available (%+d), %s", r.Stock.ItemID, r.Stock.QuantityAvailable, r.Stock.Delta, r.Stock.Availability)
}

// NewApproveCommand creates the approve command.
func NewApproveCommand(rootOpts *RootOptions) *cobra.Command {
	var approver string
	cmd := &cobra.Command{
		Use:   "approve <order-id>",
		Short: "Approve a pending order and commit its stock",
		Long: `Approve a PENDING order. Every line is decremented in one transaction;
if any item is short the order stays PENDING and nothing changes.

Exit codes:
  0 - Order completed
  1 - Approval refused (insufficient stock, wrong state)
  2 - Command error

Example:
  tillsync approve 0190b7e2-... --approver admin-1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDecision(cmd, rootOpts, args[0], approver, true)
		},
	}
	cmd.Flags().StringVar(&approver, "approver", "", "approver id (required)")
	_ = cmd.MarkFlagRequired("approver")
	return cmd
}

// NewRejectCommand creates the reject command.
func NewRejectCommand(rootOpts *RootOptions) *cobra.Command {
	var approver string
	cmd := &cobra.Command{
		Use:   "reject <order-id>",
		Short: "Reject a pending order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDecision(cmd, rootOpts, args[0], approver, false)
		},
	}
	cmd.Flags().StringVar(&approver, "approver", "", "approver id (required)")
	_ = cmd.MarkFlagRequired("approver")
	return cmd
}

// NewRestockCommand creates the restock command.
func NewRestockCommand(rootOpts *RootOptions) *cobra.Command {
	var quantity int64
	cmd := &cobra.Command{
		Use:   "restock <item-id>",
		Short: "Add units to an item",
		Long: `Add units to an item and publish the new stock level. A SOLD_OUT item
becomes AVAILABLE again.

Example:
  tillsync restock 7 --quantity 20`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			itemID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || itemID <= 0 {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid item id %q", args[0]))
			}
			return runRestock(cmd, rootOpts, itemID, quantity)
		},
	}
	cmd.Flags().Int64Var(&quantity, "quantity", 0, "units to add (required)")
	_ = cmd.MarkFlagRequired("quantity")
	return cmd
}

func runDecision(cmd *cobra.Command, opts *RootOptions, orderID, approver string, approve bool) error {
	out := opts.formatter(cmd)
	ctx := cmd.Context()

	a, err := openApp(ctx, opts.Config, opts.logger())
	if err != nil {
		return err
	}
	defer a.Close()

	var order *domain.Order
	if approve {
		order, err = a.orders.Approve(ctx, orderID, approver)
	} else {
		order, err = a.orders.Reject(ctx, orderID, approver)
	}
	if err != nil {
		return reportDomainError(out, err)
	}
	return out.Success(OrderResult{Order: order})
}

func runRestock(cmd *cobra.Command, opts *RootOptions, itemID, quantity int64) error {
	out := opts.formatter(cmd)
	ctx := cmd.Context()

	a, err := openApp(ctx, opts.Config, opts.logger())
	if err != nil {
		return err
	}
	defer a.Close()

	change, err := a.orders.Restock(ctx, itemID, quantity)
	if err != nil {
		return reportDomainError(out, err)
	}
	return out.Success(RestockResult{Stock: projection.ViewOf(change)})
}

// reportDomainError prints a domain error with its code and details and
// converts it to an exit error. Invalid input is a command error; refused
// operations are failures.
func reportDomainError(out *OutputFormatter, err error) error {
	var de *domain.Error
	if !errors.As(err, &de) {
		return WrapExitError(ExitFailure, "operation failed", err)
	}
	var details any
	if len(de.Details) > 0 {
		details = de.Details
	}
	if ferr := out.Error(string(de.Code), de.Error(), details); ferr != nil {
		return ferr
	}
	code := ExitFailure
	if de.Code == domain.CodeInvalidArgument || de.Code == domain.CodeNotFound {
		code = ExitCommandError
	}
	return WrapExitError(code, string(de.Code), err)
}

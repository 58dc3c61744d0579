package main

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vedagro/backend/internal/models"
	"github.com/vedagro/backend/internal/services/wallet"
)

var reconcileMember string

func init() {
	reconcileCmd.Flags().StringVar(&reconcileMember, "member", "", "audit only this member's wallets")
	rootCmd.AddCommand(reconcileCmd)
}

// ErrWalletDrift is returned when any cached balance disagrees with its transactions
var ErrWalletDrift = errors.New("wallet balances drifted from the transaction log")

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Compare cached wallet balances with the signed sum of their transactions",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cfg, log)
		if err != nil {
			return err
		}
		wallets := wallet.NewWalletService(db, nil, log)
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		var drifted []wallet.Reconciliation
		if reconcileMember != "" {
			id, err := uuid.Parse(reconcileMember)
			if err != nil {
				return fmt.Errorf("invalid member id: %w", err)
			}
			for _, kind := range models.WalletKinds {
				r, err := wallets.Reconcile(ctx, id, kind)
				if err != nil {
					return err
				}
				if !r.Consistent {
					drifted = append(drifted, *r)
				}
			}
		} else {
			drifted, err = wallets.Mismatches(ctx)
			if err != nil {
				return err
			}
		}

		for _, r := range drifted {
			fmt.Fprintf(out, "%s %s cached=%d ledger=%d\n", r.MemberID, r.Kind, r.Cached, r.Ledger)
		}
		if len(drifted) > 0 {
			return fmt.Errorf("%w: %d wallets", ErrWalletDrift, len(drifted))
		}
		fmt.Fprintln(out, "all wallets consistent")
		return nil
	},
}

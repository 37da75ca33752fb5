package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/workfund/dowfund/campaign"
)

var statsCmd = &cobra.Command{
	Use:   "stats <owner> [repo]",
	Short: "Show fundraising totals for an owner or repository",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := LoadConfig()

		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck // shutdown path

		ctx := cmd.Context()

		owner, err := st.GetOwnerByLogin(ctx, args[0])
		if err != nil {
			return err
		}

		scope := campaign.Scope{OwnerID: owner.ID}
		label := args[0]
		if len(args) == 2 {
			repo, err := st.GetRepositoryByName(ctx, owner.ID, args[1])
			if err != nil {
				return err
			}
			scope.RepositoryID = repo.ID
			label = args[0] + "/" + args[1]
		}

		raised, err := st.RaisedByCurrency(ctx, scope)
		if err != nil {
			return err
		}

		fmt.Printf("%s (created %s)\n", label, humanize.Time(owner.CreatedAt))
		if len(raised) == 0 {
			fmt.Println("  no payments recorded")
			return nil
		}
		for code, amount := range raised {
			fmt.Printf("  %s  %s (%s minor units)\n",
				code, amount, humanize.Comma(amount.Amount))
		}

		prices, err := st.ListPrices(ctx)
		if err != nil {
			return err
		}
		if len(prices) > 0 {
			fmt.Println("price catalog:")
			for _, p := range prices {
				fmt.Printf("  %-12s %s → %s\n", p.Label, p.Amount, p.Credit)
			}
		}

		return nil
	},
}

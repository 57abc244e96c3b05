package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"os"
	"time"

	"github.com/spf13/cobra"

	"foodledger/internal/changelog"
	"foodledger/internal/command"
	"foodledger/internal/model"
)

// GenOptions holds flags for the gen command.
type GenOptions struct {
	*RootOptions
	Output    string
	Admin     string
	Foods     int
	Purchases int
	Seed      int64
}

var sampleFoods = []string{"biryani", "samosa", "dal", "paneer tikka", "naan", "chai", "lassi", "dosa"}

// NewGenCommand creates the gen command.
func NewGenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "gen",
		Short: "Write a sample command file for apply or the Kafka intake",
		Long: `Generate registrations for --foods items followed by --purchases purchases
with exact payments, interleaved with restocks. The same --seed always
produces the same file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Create(opts.Output)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to create output", err)
			}
			defer f.Close()
			n, err := generateCommands(f, opts, time.Now().UTC())
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to write commands", err)
			}
			return emit(cmd.OutOrStdout(), opts.Format, map[string]any{"output": opts.Output, "commands": n}, func(w io.Writer) {
				fmt.Fprintf(w, "generated %d commands to %s\n", n, opts.Output)
			})
		},
	}
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "commands.jsonl", "output file")
	cmd.Flags().StringVar(&opts.Admin, "admin", "0xadmin", "administrator identity used for gated commands")
	cmd.Flags().IntVar(&opts.Foods, "foods", 5, "number of items to register")
	cmd.Flags().IntVar(&opts.Purchases, "purchases", 50, "number of purchases")
	cmd.Flags().Int64Var(&opts.Seed, "seed", 1, "random seed")
	return cmd
}

// generateCommands writes a command stream that a fresh ledger administered by
// opts.Admin accepts in full: stock is tracked so no purchase oversells.
func generateCommands(w io.Writer, opts *GenOptions, now time.Time) (int, error) {
	rng := rand.New(rand.NewSource(opts.Seed))
	enc := json.NewEncoder(w)
	n := 0
	write := func(c command.Command) error {
		n++
		return enc.Encode(&c)
	}

	type item struct {
		price model.Amount
		stock uint64
	}
	items := make([]item, opts.Foods)
	for i := range items {
		// prices from 0.05 to 5.00 in 0.05 steps
		items[i] = item{price: model.Amount(uint64(1+rng.Intn(100)) * 50_000_000), stock: uint64(10 + rng.Intn(40))}
		err := write(command.Command{
			Op:        changelog.OpAddFood,
			Caller:    opts.Admin,
			ID:        uint64(i + 1),
			Name:      sampleFoods[i%len(sampleFoods)],
			Quantity:  items[i].stock,
			Price:     items[i].price.String(),
			ExpiresAt: now.Add(30 * 24 * time.Hour).Truncate(time.Second),
		})
		if err != nil {
			return n, err
		}
	}
	if len(items) == 0 {
		return n, nil
	}

	for p := 0; p < opts.Purchases; p++ {
		idx := rng.Intn(len(items))
		it := &items[idx]
		units := uint64(1 + rng.Intn(3))
		if it.stock < units {
			if err := write(command.Command{Op: changelog.OpRestockFood, Caller: opts.Admin, ID: uint64(idx + 1), Units: 20}); err != nil {
				return n, err
			}
			it.stock += 20
		}
		payment, _ := model.Total(it.price, units)
		err := write(command.Command{
			Op:      changelog.OpBuyFood,
			Caller:  fmt.Sprintf("0xcustomer%02d", rng.Intn(20)),
			ID:      uint64(idx + 1),
			Units:   units,
			Payment: payment.String(),
		})
		if err != nil {
			return n, err
		}
		it.stock -= units
	}
	return n, nil
}

package cli

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/atmx/risk-gate/internal/assess"
	"github.com/atmx/risk-gate/internal/config"
	"github.com/atmx/risk-gate/internal/market"
	"github.com/atmx/risk-gate/internal/model"
	"github.com/atmx/risk-gate/internal/store"
)

type assessFlags struct {
	market         string
	category       string
	side           string
	count          int64
	price          string
	winProbability float64
	expectedReturn float64
	profile        string

	portfolioValue string
	dailyPnL       string
	drawdown       float64
	exposures      map[string]string
}

func newAssessCmd(configPath *string) *cobra.Command {
	var f assessFlags
	cmd := &cobra.Command{
		Use:   "assess",
		Short: "Assess one trade offline and print the result as JSON",
		Long: `Run the pre-trade risk assessment against the configured risk limits
without a database. Category exposures and the market category come from flags.

Example:
  risk-gate assess --market KXSENATE-26NOV03-DEM --category politics \
    --side yes --count 20 --price 0.45 --win-prob 0.62 --expected-return 0.08 \
    --portfolio-value 2500 --exposure politics=300`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			a, err := runAssess(cmd, cfg, f)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(a)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.market, "market", "", "market ticker (required)")
	fl.StringVar(&f.category, "category", "", "market category; the category checks degrade when empty")
	fl.StringVar(&f.side, "side", "yes", "yes or no")
	fl.Int64Var(&f.count, "count", 0, "number of contracts (required)")
	fl.StringVar(&f.price, "price", "", "price per contract in dollars, in (0, 1] (required)")
	fl.Float64Var(&f.winProbability, "win-prob", 0, "estimated win probability in [0, 1]")
	fl.Float64Var(&f.expectedReturn, "expected-return", 0, "expected return as a fraction")
	fl.StringVar(&f.profile, "profile", "", "risk profile (default from config)")
	fl.StringVar(&f.portfolioValue, "portfolio-value", "", "portfolio value in dollars (required)")
	fl.StringVar(&f.dailyPnL, "daily-pnl", "0", "today's P&L in dollars")
	fl.Float64Var(&f.drawdown, "drawdown", 0, "current drawdown in percent")
	fl.StringToStringVar(&f.exposures, "exposure", nil, "open exposure per category, e.g. politics=300")
	cmd.MarkFlagRequired("market")
	cmd.MarkFlagRequired("count")
	cmd.MarkFlagRequired("price")
	cmd.MarkFlagRequired("portfolio-value")
	return cmd
}

func runAssess(cmd *cobra.Command, cfg *config.Config, f assessFlags) (*assess.Assessment, error) {
	price, err := decimal.NewFromString(f.price)
	if err != nil {
		return nil, fmt.Errorf("--price: %w", err)
	}
	value, err := decimal.NewFromString(f.portfolioValue)
	if err != nil {
		return nil, fmt.Errorf("--portfolio-value: %w", err)
	}
	pnl, err := decimal.NewFromString(f.dailyPnL)
	if err != nil {
		return nil, fmt.Errorf("--daily-pnl: %w", err)
	}

	exposures := make(map[string]decimal.Decimal, len(f.exposures))
	for cat, v := range f.exposures {
		c, err := market.NormalizeCategory(cat)
		if err != nil {
			return nil, fmt.Errorf("--exposure: %w", err)
		}
		if exposures[c], err = decimal.NewFromString(v); err != nil {
			return nil, fmt.Errorf("--exposure %s: %w", cat, err)
		}
	}

	var opts []assess.Option
	if f.category != "" {
		c, err := market.NormalizeCategory(f.category)
		if err != nil {
			return nil, fmt.Errorf("--category: %w", err)
		}
		// A one-market lookup so the category checks can run offline.
		markets := store.NewMemoryStore()
		if err := markets.UpsertMarket(cmd.Context(), &model.Market{Ticker: f.market, Category: c}); err != nil {
			return nil, err
		}
		opts = append(opts, assess.WithMarkets(markets))
	}

	a, err := assess.New(cfg.Risk, cfg.Profiles, opts...)
	if err != nil {
		return nil, err
	}
	return a.Assess(cmd.Context(), assess.Order{
		MarketID:       f.market,
		Side:           f.side,
		Count:          f.count,
		Price:          price,
		ExpectedReturn: f.expectedReturn,
		WinProbability: f.winProbability,
		RiskProfile:    f.profile,
	}, assess.Portfolio{
		Value:           value,
		DailyPnL:        pnl,
		DrawdownPercent: f.drawdown,
		Exposures:       exposures,
	})
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	cl "bartab/internal/cli"
	"bartab/internal/config"
	"bartab/internal/economy"
	"bartab/internal/market"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func main() {
	cfg := config.LoadCLIFromEnv()
	apiBase := cfg.APIBaseURL

	root := &cobra.Command{
		Use:          "tab",
		Short:        "Operator console for the bartab economy",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", apiBase, "API base URL")

	root.AddCommand(
		newLoginCmd(&apiBase),
		newLogoutCmd(),
		newAccountCmd(&apiBase),
		newDailyCmd(&apiBase),
		newWorkCmd(&apiBase),
		newBankCmd(&apiBase),
		newPayCmd(&apiBase),
		newShopCmd(&apiBase),
		newGiveCmd(&apiBase),
		newResetCmd(&apiBase),
		newStatsCmd(&apiBase),
		newMarketCmd(&apiBase),
		newTradeCmd(&apiBase),
		newSyncCmd(&apiBase),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(apiBase *string) *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(*apiBase), "/"))
}

// session loads the saved login. The API address stored at login wins
// unless --api was given explicitly.
func session(cmd *cobra.Command, apiBase *string) (*cl.Client, string, error) {
	sess, err := cl.LoadSession()
	if err != nil {
		return nil, "", fmt.Errorf("login required: %w", err)
	}
	if sess.APIBase != "" && !cmd.Flags().Changed("api") {
		base := sess.APIBase
		return newClient(&base), sess.Token, nil
	}
	return newClient(apiBase), sess.Token, nil
}

func newLoginCmd(apiBase *string) *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Save the operator token after checking it against the API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(token) == "" {
				var err error
				token, err = promptRequired("Operator token")
				if err != nil {
					return err
				}
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client := newClient(apiBase)
			if _, err := client.Stats(ctx, token); err != nil {
				return fmt.Errorf("token rejected: %w", err)
			}
			if err := cl.SaveSession(cl.Session{
				Token:    strings.TrimSpace(token),
				APIBase:  client.BaseURL,
				LoggedAt: time.Now().UTC(),
			}); err != nil {
				return err
			}
			printSuccess("Login successful.")
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "operator token (prompted when empty)")
	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear local session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cl.ClearSession(); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func newAccountCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "account <user>",
		Short: "Show an account, creating it on first sight",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			client, token, err := session(cmd, apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			acct, err := client.Account(ctx, token, id)
			if err != nil {
				return err
			}
			renderAccount(acct)
			return nil
		},
	}
}

func newDailyCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "daily <user>",
		Short: "Claim the daily reward for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			client, token, err := session(cmd, apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := client.Daily(ctx, token, id)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Daily reward %s (streak %d, x%.2f)", coins(out.Reward), out.Streak, out.Multiplier))
			renderOverflow(out.Overflow)
			return nil
		},
	}
}

func newWorkCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "work <user>",
		Short: "Work a shift for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			client, token, err := session(cmd, apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := client.Work(ctx, token, id)
			if err != nil {
				return err
			}
			msg := fmt.Sprintf("Worked as %s and earned %s", out.Job, coins(out.Earned))
			if out.Critical {
				msg += " (critical!)"
			}
			printSuccess(msg)
			renderOverflow(out.Overflow)
			return nil
		},
	}
}

func newBankCmd(apiBase *string) *cobra.Command {
	bank := &cobra.Command{
		Use:   "bank",
		Short: "Move coins between wallet and bank",
	}
	for _, dir := range []string{"deposit", "withdraw"} {
		bank.AddCommand(&cobra.Command{
			Use:   dir + " <user> <amount>",
			Short: strings.ToUpper(dir[:1]) + dir[1:] + " coins",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				amount, err := parseAmount(args[1])
				if err != nil {
					return err
				}
				client, token, err := session(cmd, apiBase)
				if err != nil {
					return err
				}
				ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
				defer cancel()
				idem := uuid.NewString()
				move := client.Deposit
				if dir == "withdraw" {
					move = client.Withdraw
				}
				out, err := move(ctx, token, id, amount, idem)
				if err != nil {
					return queueOnNetworkError(err, cl.QueuedCommand{
						Method:         http.MethodPost,
						Path:           fmt.Sprintf("/v1/accounts/%d/%s", id, dir),
						Body:           map[string]any{"amount": amount},
						IdempotencyKey: idem,
					})
				}
				if out.Moved == 0 {
					printWarn("Nothing moved: the target is full or the source is empty.")
				} else {
					printSuccess(fmt.Sprintf("Moved %s.", coins(out.Moved)))
				}
				renderAccount(out.Account)
				return nil
			},
		})
	}
	return bank
}

func newPayCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "pay <from> <to> <amount>",
		Short: "Transfer coins between two wallets",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := parseID(args[0])
			if err != nil {
				return err
			}
			to, err := parseID(args[1])
			if err != nil {
				return err
			}
			amount, err := parseAmount(args[2])
			if err != nil {
				return err
			}
			client, token, err := session(cmd, apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			idem := uuid.NewString()
			out, err := client.Transfer(ctx, token, from, to, amount, idem)
			if err != nil {
				return queueOnNetworkError(err, cl.QueuedCommand{
					Method:         http.MethodPost,
					Path:           "/v1/transfers",
					Body:           map[string]any{"from": from, "to": to, "amount": amount},
					IdempotencyKey: idem,
				})
			}
			if !out.Success {
				printWarn(fmt.Sprintf("User %d cannot cover %s.", from, coins(amount)))
				return nil
			}
			printSuccess(fmt.Sprintf("Paid %s from %d to %d.", coins(amount), from, to))
			if out.Credited < amount {
				printWarn(fmt.Sprintf("Only %s fit in the recipient's wallet.", coins(out.Credited)))
			}
			return nil
		},
	}
}

func newShopCmd(apiBase *string) *cobra.Command {
	shop := &cobra.Command{
		Use:   "shop",
		Short: "List the item shop",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, token, err := session(cmd, apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			items, err := client.Shop(ctx, token)
			if err != nil {
				return err
			}
			renderShop(items)
			return nil
		},
	}
	shop.AddCommand(&cobra.Command{
		Use:   "buy <user> <item>",
		Short: "Buy an item for a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			itemID, err := strconv.Atoi(args[1])
			if err != nil || itemID <= 0 {
				return fmt.Errorf("invalid item id %q", args[1])
			}
			client, token, err := session(cmd, apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := client.BuyItem(ctx, token, id, itemID, uuid.NewString())
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Bought %s %s for %s.", out.Item.Emoji, out.Item.Name, coins(out.Item.Price)))
			return nil
		},
	})
	return shop
}

func newGiveCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "give <user> <amount>",
		Short: "Grant coins to a user's wallet",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			amount, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			client, token, err := session(cmd, apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			idem := uuid.NewString()
			out, err := client.Give(ctx, token, id, amount, idem)
			if err != nil {
				return queueOnNetworkError(err, cl.QueuedCommand{
					Method:         http.MethodPost,
					Path:           fmt.Sprintf("/v1/admin/accounts/%d/give", id),
					Body:           map[string]any{"amount": amount},
					IdempotencyKey: idem,
				})
			}
			printSuccess(fmt.Sprintf("Granted %s to %d.", coins(amount), id))
			renderOverflow(out.Overflow)
			return nil
		},
	}
}

func newResetCmd(apiBase *string) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset <user>",
		Short: "Reset an account to defaults",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if !yes {
				answer, err := promptChoice(fmt.Sprintf("Reset account %d", id), []string{"yes", "no"}, "no")
				if err != nil {
					return err
				}
				if answer != "yes" {
					printInfo("Cancelled.")
					return nil
				}
			}
			client, token, err := session(cmd, apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			acct, err := client.Reset(ctx, token, id)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Account %d reset.", id))
			renderAccount(acct)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

func newStatsCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show economy-wide totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, token, err := session(cmd, apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			st, err := client.Stats(ctx, token)
			if err != nil {
				return err
			}
			renderStats(st)
			return nil
		},
	}
}

func newMarketCmd(apiBase *string) *cobra.Command {
	mkt := &cobra.Command{
		Use:   "market",
		Short: "Market commands",
	}

	mkt.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show prices, news and indicators",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, token, err := session(cmd, apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			st, err := client.MarketStatus(ctx, token)
			if err != nil {
				return err
			}
			renderMarket(st)
			return nil
		},
	})

	var n int
	movers := &cobra.Command{
		Use:   "movers",
		Short: "Show the biggest price moves",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, token, err := session(cmd, apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := client.Movers(ctx, token, n)
			if err != nil {
				return err
			}
			renderMovers(out)
			return nil
		},
	}
	movers.Flags().IntVarP(&n, "count", "n", 3, "number of movers")
	mkt.AddCommand(movers)

	mkt.AddCommand(&cobra.Command{
		Use:   "news",
		Short: "Force a news cycle (hourly cooldown)",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, token, err := session(cmd, apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			news, err := client.ForceNews(ctx, token)
			if err != nil {
				return err
			}
			renderNews(news)
			return nil
		},
	})

	var every time.Duration
	watch := &cobra.Command{
		Use:   "watch",
		Short: "Live market board",
		RunE: func(cmd *cobra.Command, args []string) error {
			if every < time.Second {
				return errors.New("--every must be at least 1s")
			}
			client, token, err := session(cmd, apiBase)
			if err != nil {
				return err
			}
			return runWatch(cmd.Context(), client, token, every)
		},
	}
	watch.Flags().DurationVar(&every, "every", 5*time.Second, "refresh interval")
	mkt.AddCommand(watch)

	return mkt
}

func newTradeCmd(apiBase *string) *cobra.Command {
	trade := &cobra.Command{
		Use:   "trade",
		Short: "Buy or sell stocks and gold with a user's bank balance",
	}
	for _, side := range []string{market.SideBuy, market.SideSell} {
		trade.AddCommand(&cobra.Command{
			Use:   side + " <user> <SYMBOL|gold> [amount]",
			Short: strings.ToUpper(side[:1]) + side[1:] + " shares or ounces of gold",
			Args:  cobra.RangeArgs(2, 3),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				req := market.TradeRequest{UserID: id, Asset: market.AssetStock, Symbol: strings.ToUpper(args[1]), Side: side}
				if strings.EqualFold(args[1], market.AssetGold) {
					req.Asset = market.AssetGold
					req.Symbol = ""
				}
				if len(args) == 3 {
					req.Amount, err = strconv.ParseFloat(args[2], 64)
					if err != nil || req.Amount <= 0 {
						return fmt.Errorf("invalid amount %q", args[2])
					}
				} else {
					label := "Shares"
					if req.Asset == market.AssetGold {
						label = "Ounces"
					}
					req.Amount, err = promptFloat(label, 0)
					if err != nil {
						return err
					}
				}
				client, token, err := session(cmd, apiBase)
				if err != nil {
					return err
				}
				ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
				defer cancel()
				res, err := client.Trade(ctx, token, req, uuid.NewString())
				if err != nil {
					return err
				}
				renderTrade(res)
				return nil
			},
		})
	}
	return trade
}

func newSyncCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay writes queued while the API was unreachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, token, err := session(cmd, apiBase)
			if err != nil {
				return err
			}
			queue, err := cl.LoadQueue()
			if err != nil {
				return err
			}
			if len(queue) == 0 {
				printInfo("Sync queue is empty.")
				return nil
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()

			remaining := make([]cl.QueuedCommand, 0, len(queue))
			replayed, dropped := 0, 0
			for _, q := range queue {
				_, err := client.Do(ctx, q.Method, q.Path, token, q.Body, q.IdempotencyKey)
				switch {
				case err == nil:
					replayed++
				case cl.IsAPIError(err):
					// The server saw it and said no; retrying will not help.
					dropped++
					printError(fmt.Sprintf("Rejected %s %s: %v", q.Method, q.Path, err))
				default:
					remaining = append(remaining, q)
					printError(fmt.Sprintf("Sync failed for %s %s: %v", q.Method, q.Path, err))
				}
			}
			if err := cl.SaveQueue(remaining); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Sync complete: replayed=%d rejected=%d remaining=%d", replayed, dropped, len(remaining)))
			return nil
		},
	}
}

// queueOnNetworkError keeps a mutation for `tab sync` when the API could not
// be reached. Answers from the API are returned as they are.
func queueOnNetworkError(err error, q cl.QueuedCommand) error {
	if err == nil || cl.IsAPIError(err) {
		return err
	}
	if qerr := cl.PushQueue(q); qerr != nil {
		return fmt.Errorf("request failed and could not be queued: %w", errors.Join(err, qerr))
	}
	printWarn(fmt.Sprintf("API unreachable (%v). Queued %s %s; run `tab sync` later.", err, q.Method, q.Path))
	return nil
}

func renderOverflow(o *economy.Overflow) {
	if o == nil || o.Lost == 0 {
		return
	}
	printWarn(fmt.Sprintf("%s did not fit under the account limits and was lost.", coins(o.Lost)))
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid user id %q", raw)
	}
	return id, nil
}

func parseAmount(raw string) (int64, error) {
	v, err := strconv.ParseInt(strings.ReplaceAll(strings.TrimSpace(raw), ",", ""), 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid amount %q", raw)
	}
	return v, nil
}

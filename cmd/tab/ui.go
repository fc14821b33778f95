package main

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"bartab/internal/economy"
	"bartab/internal/market"

	"github.com/fatih/color"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func promptChoice(label string, options []string, defaultValue string) (string, error) {
	normalized := make(map[string]struct{}, len(options))
	for _, opt := range options {
		normalized[strings.ToLower(strings.TrimSpace(opt))] = struct{}{}
	}
	for {
		fmt.Printf("%s (%s) [%s]: ", label, strings.Join(options, "/"), defaultValue)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.ToLower(strings.TrimSpace(text))
		if text == "" {
			text = strings.ToLower(strings.TrimSpace(defaultValue))
		}
		if _, ok := normalized[text]; ok {
			return text, nil
		}
		printWarn("Invalid option. Please pick one of the listed values.")
	}
}

func promptFloat(label string, min float64) (float64, error) {
	for {
		text, err := promptRequired(label)
		if err != nil {
			return 0, err
		}
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			printWarn("Enter a valid number.")
			continue
		}
		if v <= min {
			printWarn(fmt.Sprintf("Value must be > %.2f", min))
			continue
		}
		return v, nil
	}
}

func renderAccount(a economy.Account) {
	accent.Printf("\n== ACCOUNT %d ==\n", a.UserID)
	fmt.Printf("Wallet:     %s / %s\n", coins(a.Wallet), coins(a.WalletLimit))
	fmt.Printf("Bank:       %s / %s\n", coins(a.Bank), coins(a.BankLimit))
	fmt.Printf("Net Worth:  %s\n", coins(a.Networth))
	if a.DailyStreak > 0 {
		fmt.Printf("Streak:     %d days\n", a.DailyStreak)
	}
	renderPortfolio(a.Portfolio)
	fmt.Println()
}

func renderPortfolio(p economy.Portfolio) {
	if p.GoldOunces == 0 && len(p.Stocks) == 0 {
		return
	}
	fmt.Println()
	accent.Println("Portfolio")
	if p.GoldOunces > 0 {
		fmt.Printf("%-8s %10.2f oz\n", "GOLD", p.GoldOunces)
	}
	symbols := make([]string, 0, len(p.Stocks))
	for sym := range p.Stocks {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	for _, sym := range symbols {
		h := p.Stocks[sym]
		fmt.Printf("%-8s %10d sh  avg %10.2f\n", sym, h.Shares, h.AvgPrice)
	}
	fmt.Printf("Invested: %s  Value: %s  P/L: %s\n", coins(p.TotalInvestment), coins(p.TotalValue), colorizeCoins(p.TotalPnL))
}

func renderMarket(st market.Status) {
	state := danger.Sprint("CLOSED")
	if st.Open {
		state = success.Sprint("OPEN")
	}
	accent.Println("\n== MARKET ==")
	fmt.Printf("Status:     %s  %s %s\n", state, market.TrendEmoji(st.Trend), st.Trend)
	fmt.Printf("Change:     %s\n", colorizePercent(st.MarketChange))
	fmt.Printf("Gold:       %.2f /oz (demand %+.2f)\n", st.GoldPrice, st.GoldDemand)
	fmt.Printf("Volume:     %s\n", comma(st.DailyVolume))
	fmt.Printf("Indicators: inflation %.1f%%  interest %.1f%%  gdp %.1f%%\n",
		st.Indicators.Inflation*100, st.Indicators.Interest*100, st.Indicators.GDPGrowth*100)

	fmt.Println()
	fmt.Printf("%-8s %-22s %-12s %10s %9s %12s\n", "SYMBOL", "NAME", "SECTOR", "PRICE", "CHANGE", "VOLUME")
	for _, s := range st.Stocks {
		fmt.Printf("%-8s %-22s %-12s %10.2f %9s %12s\n",
			s.Symbol,
			truncate(s.Name, 22),
			truncate(s.Sector, 12),
			s.Price,
			colorizePercent(percentChange(s.Price, s.PreviousPrice)),
			comma(s.Volume),
		)
	}
	if len(st.News) > 0 {
		fmt.Println()
		renderNews(st.News)
	}
	if !st.LastUpdate.IsZero() {
		neutral.Printf("\nUpdated %s\n", st.LastUpdate.Local().Format(time.Kitchen))
	}
	fmt.Println()
}

func renderMovers(movers []market.Mover) {
	accent.Println("\n== TOP MOVERS ==")
	if len(movers) == 0 {
		printInfo("No movers yet.")
		return
	}
	for _, m := range movers {
		fmt.Printf("%-8s %s\n", m.Symbol, colorizePercent(m.Change))
	}
	fmt.Println()
}

func renderNews(news []market.NewsEvent) {
	accent.Println("News")
	for _, ev := range news {
		line := fmt.Sprintf("%s (%+.2f)", ev.Text, ev.Impact)
		switch {
		case ev.Impact > 0:
			success.Println("  ▲ " + line)
		case ev.Impact < 0:
			danger.Println("  ▼ " + line)
		default:
			neutral.Println("  • " + line)
		}
	}
}

func renderTrade(res market.TradeResult) {
	what := strings.ToUpper(res.Asset)
	if res.Symbol != "" {
		what = res.Symbol
	}
	verb := "Bought"
	money := "paid"
	if res.Side == market.SideSell {
		verb = "Sold"
		money = "received"
	}
	printSuccess(fmt.Sprintf("%s %s %s at %.2f", verb, formatAmount(res.Amount), what, res.Price))
	fmt.Printf("Cost %s + fee %s, %s %s. Bank now %s.\n", res.Cost, res.Fee, money, coins(res.Total), coins(res.Bank))
	neutral.Printf("Trade %s\n", res.ID)
}

func renderStats(st economy.Stats) {
	accent.Println("\n== ECONOMY ==")
	fmt.Printf("Accounts:   %s\n", comma(st.TotalUsers))
	fmt.Printf("Money:      %s\n", coins(st.TotalMoney))
	fmt.Printf("Backend:    %s\n", st.Backend)
	fmt.Println()
}

func renderShop(items []economy.ShopItem) {
	accent.Println("\n== SHOP ==")
	fmt.Printf("%-4s %-24s %12s  %s\n", "ID", "ITEM", "PRICE", "DESCRIPTION")
	for _, it := range items {
		fmt.Printf("%-4d %-24s %12s  %s\n", it.ID, truncate(it.Emoji+" "+it.Name, 24), coins(it.Price), it.Description)
	}
	fmt.Println()
}

func colorizeCoins(v int64) string {
	text := coins(v)
	if v > 0 {
		text = "+" + text
	}
	switch {
	case v > 0:
		return success.Sprint(text)
	case v < 0:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func colorizePercent(v float64) string {
	text := fmt.Sprintf("%+.2f%%", v)
	switch {
	case v > 0:
		return success.Sprint(text)
	case v < 0:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func percentChange(now, before float64) float64 {
	if before == 0 {
		return 0
	}
	return (now - before) / before * 100
}

func formatAmount(v float64) string {
	if v == float64(int64(v)) {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', 2, 64) + "oz"
}

func coins(v int64) string {
	return "🪙 " + comma(v)
}

func comma(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	s := strconv.FormatInt(v, 10)
	if len(s) <= 3 {
		return sign + s
	}
	var b strings.Builder
	b.WriteString(sign)
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
		b.WriteByte(',')
	}
	for i := pre; i < len(s); i += 3 {
		b.WriteString(s[i : i+3])
		if i+3 < len(s) {
			b.WriteByte(',')
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}

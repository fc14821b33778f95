package market

import (
	"errors"
	"time"
)

const (
	MinGoldPrice   = 100.0
	MaxGoldPrice   = 5000.0
	StartGoldPrice = 1850.0
	GoldVolatility = 0.015

	StockMinRatio = 0.1
	StockMaxRatio = 10.0

	BaseVolatility       = 0.02
	MaxVolatility        = 0.10
	NewsImpactMultiplier = 0.5

	StockFee        = 0.005
	GoldFee         = 0.01
	MinGoldPurchase = 0.1
	MaxStockOrder   = 1_000_000
	MaxGoldOrder    = 1_000

	// GoldDemandDivisor scales traded ounces into the signed demand term.
	GoldDemandDivisor = 1000.0
	// GoldDemandDecay is applied to demand on every tick.
	GoldDemandDecay = 0.9
)

const (
	AssetStock = "stock"
	AssetGold  = "gold"

	SideBuy  = "buy"
	SideSell = "sell"

	TrendBull   = "bull"
	TrendBear   = "bear"
	TrendStable = "stable"
)

var (
	ErrUnknownSymbol        = errors.New("unknown stock symbol")
	ErrInvalidAsset         = errors.New("asset must be stock or gold")
	ErrInvalidSide          = errors.New("side must be buy or sell")
	ErrInvalidAmount        = errors.New("amount must be greater than 0")
	ErrBelowMinimum         = errors.New("below minimum order size")
	ErrInsufficientHoldings = errors.New("insufficient holdings")
	ErrMarketClosed         = errors.New("market is closed")
	ErrDailyLimit           = errors.New("daily trade limit reached for this asset type")
	ErrOrderTooLarge        = errors.New("order exceeds the maximum size")
	ErrTradingTooFast       = errors.New("trading too rapidly")
	ErrNewsCooldown         = errors.New("news generation is on cooldown")
)

// Tuning holds the clock-driven knobs of the engine and limiter.
type Tuning struct {
	OpenHour      int
	CloseHour     int
	TickInterval  time.Duration
	HoursInterval time.Duration
	NewsInterval  time.Duration
	NewsChance    float64
	NewsCooldown  time.Duration

	DailyTradeLimit int
	RapidWindow     time.Duration
	RapidLimit      int
}

func DefaultTuning() Tuning {
	return Tuning{
		OpenHour:        9,
		CloseHour:       17,
		TickInterval:    5 * time.Minute,
		HoursInterval:   time.Minute,
		NewsInterval:    30 * time.Minute,
		NewsChance:      0.15,
		NewsCooldown:    time.Hour,
		DailyTradeLimit: 100,
		RapidWindow:     5 * time.Minute,
		RapidLimit:      10,
	}
}

type Stock struct {
	Symbol        string  `json:"symbol"`
	Name          string  `json:"name"`
	Sector        string  `json:"sector"`
	Description   string  `json:"description"`
	Price         float64 `json:"price"`
	PreviousPrice float64 `json:"previous_price"`
	BasePrice     float64 `json:"base_price"`
	Volatility    float64 `json:"volatility"`
	DividendYield float64 `json:"dividend_yield"`
	MarketCap     int64   `json:"market_cap"`
	PERatio       float64 `json:"pe_ratio"`
	DayHigh       float64 `json:"day_high"`
	DayLow        float64 `json:"day_low"`
	Volume        int64   `json:"volume"`
}

type Gold struct {
	Price      float64 `json:"price"`
	Volatility float64 `json:"volatility"`
	Demand     float64 `json:"demand"`
}

type Indicators struct {
	Inflation float64 `json:"inflation_rate"`
	Interest  float64 `json:"interest_rate"`
	GDPGrowth float64 `json:"gdp_growth"`
}

type NewsKind string

const (
	NewsPositive NewsKind = "positive"
	NewsNegative NewsKind = "negative"
	NewsSector   NewsKind = "sector"
	NewsGold     NewsKind = "gold"
)

type NewsEvent struct {
	Kind   NewsKind `json:"type"`
	Impact float64  `json:"impact"`
	Sector string   `json:"sector,omitempty"`
	Text   string   `json:"text"`
}

func defaultIndicators() Indicators {
	return Indicators{Inflation: 0.025, Interest: 0.035, GDPGrowth: 0.028}
}

func newStock(symbol, name, sector, desc string, price, vol, yield float64, mcap int64, pe float64) *Stock {
	return &Stock{
		Symbol:        symbol,
		Name:          name,
		Sector:        sector,
		Description:   desc,
		Price:         price,
		PreviousPrice: price,
		BasePrice:     price,
		Volatility:    vol,
		DividendYield: yield,
		MarketCap:     mcap,
		PERatio:       pe,
		DayHigh:       price,
		DayLow:        price,
	}
}

// defaultStocks returns the listed companies in display order.
func defaultStocks() []*Stock {
	return []*Stock{
		newStock("TECH", "Quantum Tech Inc.", "Technology", "Leading AI and quantum computing company", 150, 0.025, 0.012, 500_000_000, 25),
		newStock("ENERGY", "SolarFlare Energy", "Energy", "Renewable energy solutions provider", 85, 0.018, 0.032, 200_000_000, 15),
		newStock("BANK", "Global Trust Bank", "Financial", "International banking and financial services", 45, 0.015, 0.045, 800_000_000, 12),
		newStock("PHARMA", "BioGen Pharmaceuticals", "Healthcare", "Biotechnology and pharmaceutical research", 120, 0.022, 0.008, 350_000_000, 30),
		newStock("AUTO", "EcoMotion Motors", "Automotive", "Electric vehicle manufacturer", 65, 0.020, 0.015, 150_000_000, 18),
	}
}

// newsPool is every event the generator can draw from. Sector events key on
// the stock symbol they move.
var newsPool = []NewsEvent{
	{Kind: NewsPositive, Impact: 0.10, Text: "Strong economic growth reported across sectors"},
	{Kind: NewsPositive, Impact: 0.08, Text: "Consumer confidence reaches all-time high"},
	{Kind: NewsPositive, Impact: 0.12, Text: "Government announces major infrastructure spending"},
	{Kind: NewsPositive, Impact: 0.06, Text: "Unemployment rate drops to record low"},
	{Kind: NewsPositive, Impact: 0.09, Text: "Global markets show strong recovery signs"},

	{Kind: NewsNegative, Impact: -0.08, Text: "Inflation concerns rise among investors"},
	{Kind: NewsNegative, Impact: -0.11, Text: "Global trade tensions escalate"},
	{Kind: NewsNegative, Impact: -0.07, Text: "Manufacturing data shows slowdown"},
	{Kind: NewsNegative, Impact: -0.09, Text: "Housing market shows signs of cooling"},
	{Kind: NewsNegative, Impact: -0.13, Text: "Geopolitical tensions affect global markets"},

	{Kind: NewsSector, Sector: "TECH", Impact: 0.15, Text: "Breakthrough in quantum computing announced"},
	{Kind: NewsSector, Sector: "TECH", Impact: -0.12, Text: "Tech sector faces regulatory scrutiny"},
	{Kind: NewsSector, Sector: "ENERGY", Impact: 0.14, Text: "Renewable energy adoption exceeds expectations"},
	{Kind: NewsSector, Sector: "ENERGY", Impact: -0.10, Text: "Oil supply disruptions affect energy sector"},
	{Kind: NewsSector, Sector: "BANK", Impact: 0.08, Text: "Banks report strong quarterly earnings"},
	{Kind: NewsSector, Sector: "BANK", Impact: -0.11, Text: "Interest rate concerns weigh on banking stocks"},
	{Kind: NewsSector, Sector: "PHARMA", Impact: 0.18, Text: "New drug approval boosts pharmaceutical sector"},
	{Kind: NewsSector, Sector: "PHARMA", Impact: -0.09, Text: "Clinical trial results disappoint investors"},
	{Kind: NewsSector, Sector: "AUTO", Impact: 0.12, Text: "Electric vehicle sales surge globally"},
	{Kind: NewsSector, Sector: "AUTO", Impact: -0.08, Text: "Supply chain issues affect auto manufacturers"},

	{Kind: NewsGold, Impact: 0.15, Text: "Gold demand surges as safe haven asset"},
	{Kind: NewsGold, Impact: -0.08, Text: "Strong dollar pressures gold prices downward"},
	{Kind: NewsGold, Impact: 0.12, Text: "Central banks increase gold reserves"},
	{Kind: NewsGold, Impact: -0.06, Text: "Improved economic outlook reduces gold appeal"},
}

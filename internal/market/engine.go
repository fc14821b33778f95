package market

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"bartab/internal/metrics"
)

type Status struct {
	Open         bool        `json:"market_open"`
	Sentiment    float64     `json:"sentiment"`
	Trend        string      `json:"trend"`
	GoldPrice    float64     `json:"gold_price"`
	GoldDemand   float64     `json:"gold_demand"`
	MarketChange float64     `json:"market_change"`
	DailyVolume  int64       `json:"daily_volume"`
	LastUpdate   time.Time   `json:"last_update"`
	News         []NewsEvent `json:"news"`
	Stocks       []Stock     `json:"stocks"`
	Indicators   Indicators  `json:"indicators"`
}

type Mover struct {
	Symbol string  `json:"symbol"`
	Change float64 `json:"change"`
}

// Engine holds the simulated market. All asset state is guarded by mu so
// ticks and trade nudges never interleave.
type Engine struct {
	mu          sync.RWMutex
	log         *slog.Logger
	tuning      Tuning
	now         func() time.Time
	rand        *rand.Rand
	open        bool
	stocks      map[string]*Stock
	order       []string
	gold        Gold
	indicators  Indicators
	news        []NewsEvent
	impacts     map[string]float64
	trend       string
	sentiment   float64
	dailyVolume int64
	lastUpdate  time.Time

	announcer Announcer
	listeners []func(Status)
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithRand(r *rand.Rand) Option {
	return func(e *Engine) { e.rand = r }
}

func WithTuning(t Tuning) Option {
	return func(e *Engine) { e.tuning = t }
}

func WithAnnouncer(a Announcer) Option {
	return func(e *Engine) { e.announcer = a }
}

func NewEngine(logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		log:        logger,
		tuning:     DefaultTuning(),
		now:        func() time.Time { return time.Now().UTC() },
		rand:       rand.New(rand.NewSource(time.Now().UnixNano())),
		stocks:     make(map[string]*Stock),
		gold:       Gold{Price: StartGoldPrice, Volatility: GoldVolatility},
		indicators: defaultIndicators(),
		trend:      TrendStable,
	}
	for _, opt := range opts {
		opt(e)
	}
	for _, s := range defaultStocks() {
		e.stocks[s.Symbol] = s
		e.order = append(e.order, s.Symbol)
	}
	if e.announcer == nil {
		e.announcer = LogAnnouncer{Log: logger}
	}
	e.lastUpdate = e.now()
	e.generateNewsLocked()
	return e
}

// OnUpdate registers fn to receive a status snapshot after every tick, news
// refresh and open/close transition. Register before Run.
func (e *Engine) OnUpdate(fn func(Status)) {
	e.mu.Lock()
	e.listeners = append(e.listeners, fn)
	e.mu.Unlock()
}

func (e *Engine) IsOpen() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.open
}

// SyncHours opens or closes the market from the current UTC hour. Opening
// regenerates news and resets the day's high, low and volume.
func (e *Engine) SyncHours(ctx context.Context) {
	hour := e.now().Hour()
	shouldOpen := hour >= e.tuning.OpenHour && hour < e.tuning.CloseHour

	e.mu.Lock()
	if shouldOpen == e.open {
		e.mu.Unlock()
		return
	}
	e.open = shouldOpen
	kind := AnnounceClose
	if shouldOpen {
		kind = AnnounceOpen
		e.generateNewsLocked()
		for _, s := range e.stocks {
			s.DayHigh = s.Price
			s.DayLow = s.Price
			s.Volume = 0
		}
		e.dailyVolume = 0
	}
	e.mu.Unlock()

	if shouldOpen {
		metrics.MarketOpen.Set(1)
		e.log.Info("market opened")
	} else {
		metrics.MarketOpen.Set(0)
		e.log.Info("market closed")
	}
	e.announce(ctx, kind)
	e.notify()
}

// GenerateNews draws a fresh set of events and returns them.
func (e *Engine) GenerateNews() []NewsEvent {
	e.mu.Lock()
	e.generateNewsLocked()
	news := append([]NewsEvent(nil), e.news...)
	e.mu.Unlock()
	e.notify()
	return news
}

func (e *Engine) generateNewsLocked() {
	n := 3 + e.rand.Intn(3)
	picks := e.rand.Perm(len(newsPool))[:n]
	e.news = make([]NewsEvent, 0, n)
	for _, i := range picks {
		e.news = append(e.news, newsPool[i])
	}

	e.impacts = make(map[string]float64)
	total := 0.0
	for _, ev := range e.news {
		total += ev.Impact
		switch ev.Kind {
		case NewsSector:
			e.impacts[ev.Sector] += ev.Impact * NewsImpactMultiplier
		case NewsGold:
			e.impacts[AssetGold] += ev.Impact * NewsImpactMultiplier
		}
	}
	switch {
	case total > 0.1:
		e.trend = TrendBull
	case total < -0.1:
		e.trend = TrendBear
	default:
		e.trend = TrendStable
	}
}

// sentimentLocked scores the market in [-1, 1] from noise, the economic
// indicators, macro news and the news trend.
func (e *Engine) sentimentLocked() float64 {
	s := -0.2 + e.rand.Float64()*0.4

	ind := e.indicators
	switch {
	case ind.GDPGrowth > 0.03:
		s += 0.1
	case ind.GDPGrowth < 0.02:
		s -= 0.1
	}
	switch {
	case ind.Inflation > 0.03:
		s -= 0.15
	case ind.Inflation < 0.02:
		s += 0.05
	}
	switch {
	case ind.Interest > 0.04:
		s -= 0.1
	case ind.Interest < 0.03:
		s += 0.05
	}

	for _, ev := range e.news {
		if ev.Kind == NewsPositive || ev.Kind == NewsNegative {
			s += ev.Impact
		}
	}
	switch e.trend {
	case TrendBull:
		s += 0.1
	case TrendBear:
		s -= 0.1
	}
	return clamp(s, -1, 1)
}

// Tick advances prices once. It does nothing and returns false while the
// market is closed.
func (e *Engine) Tick() bool {
	e.mu.Lock()
	if !e.open {
		e.mu.Unlock()
		return false
	}

	sentiment := e.sentimentLocked()
	e.sentiment = sentiment

	e.gold.Demand *= GoldDemandDecay
	goldChange := e.gauss(e.gold.Volatility) + sentiment*0.01 + e.gold.Demand*0.005 + e.impacts[AssetGold]
	e.gold.Price = clamp(e.gold.Price*(1+goldChange), MinGoldPrice, MaxGoldPrice)

	var volume int64
	for _, sym := range e.order {
		s := e.stocks[sym]
		s.PreviousPrice = s.Price
		vol := math.Min(s.Volatility, MaxVolatility)
		change := e.gauss(vol) + sentiment*vol*2 + e.impacts[sym] + e.gauss(0.02)
		s.Price = clamp(s.Price*(1+change), s.BasePrice*StockMinRatio, s.BasePrice*StockMaxRatio)
		s.DayHigh = math.Max(s.DayHigh, s.Price)
		s.DayLow = math.Min(s.DayLow, s.Price)
		s.Volume += 1000 + e.rand.Int63n(9001)
		volume += s.Volume
	}
	e.dailyVolume = volume
	e.lastUpdate = e.now()

	gold := e.gold.Price
	prices := make(map[string]float64, len(e.stocks))
	for sym, s := range e.stocks {
		prices[sym] = s.Price
	}
	e.mu.Unlock()

	metrics.Ticks.Inc()
	metrics.GoldPrice.Set(gold)
	metrics.MarketSentiment.Set(sentiment)
	for sym, p := range prices {
		metrics.StockPrice.WithLabelValues(sym).Set(p)
	}
	e.log.Debug("market tick", "sentiment", sentiment, "gold", gold)
	e.notify()
	return true
}

// PriceChange is the percent move of symbol over the last tick.
func (e *Engine) PriceChange(symbol string) (float64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.stocks[symbol]
	if !ok {
		return 0, false
	}
	return priceChange(s), true
}

func priceChange(s *Stock) float64 {
	if s.PreviousPrice <= 0 {
		return 0
	}
	c := (s.Price - s.PreviousPrice) / s.PreviousPrice * 100
	if math.IsNaN(c) || math.IsInf(c, 0) {
		return 0
	}
	return c
}

func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.statusLocked()
}

func (e *Engine) statusLocked() Status {
	st := Status{
		Open:        e.open,
		Sentiment:   e.sentiment,
		Trend:       e.trend,
		GoldPrice:   e.gold.Price,
		GoldDemand:  e.gold.Demand,
		DailyVolume: e.dailyVolume,
		LastUpdate:  e.lastUpdate,
		News:        append([]NewsEvent(nil), e.news...),
		Indicators:  e.indicators,
	}
	total := 0.0
	for _, sym := range e.order {
		s := e.stocks[sym]
		total += priceChange(s)
		st.Stocks = append(st.Stocks, *s)
	}
	if len(e.order) > 0 {
		st.MarketChange = total / float64(len(e.order))
	}
	return st
}

// TopMovers returns up to n stocks ordered by absolute percent change.
func (e *Engine) TopMovers(n int) []Mover {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.topMoversLocked(n)
}

func (e *Engine) topMoversLocked(n int) []Mover {
	movers := make([]Mover, 0, len(e.order))
	for _, sym := range e.order {
		movers = append(movers, Mover{Symbol: sym, Change: priceChange(e.stocks[sym])})
	}
	sort.SliceStable(movers, func(i, j int) bool {
		return math.Abs(movers[i].Change) > math.Abs(movers[j].Change)
	})
	if n >= 0 && len(movers) > n {
		movers = movers[:n]
	}
	return movers
}

// Quote returns the current unit price of an asset.
func (e *Engine) Quote(asset, symbol string) (float64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	switch asset {
	case AssetGold:
		return e.gold.Price, nil
	case AssetStock:
		s, ok := e.stocks[symbol]
		if !ok {
			return 0, ErrUnknownSymbol
		}
		return s.Price, nil
	default:
		return 0, ErrInvalidAsset
	}
}

// Symbols lists the tradable stock symbols in display order.
func (e *Engine) Symbols() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]string(nil), e.order...)
}

// RecordTrade nudges gold demand or stock volume after a settled trade. Buys
// push up and sells push down.
func (e *Engine) RecordTrade(asset, symbol string, amount float64, side string) {
	sign := 1.0
	if side == SideSell {
		sign = -1
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	switch asset {
	case AssetGold:
		e.gold.Demand = clamp(e.gold.Demand+sign*amount/GoldDemandDivisor, -1, 1)
	case AssetStock:
		if s, ok := e.stocks[symbol]; ok {
			s.Volume = max(s.Volume+int64(sign*amount), 0)
		}
	}
}

// Run drives the hour check, price ticks and the periodic news update until
// ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	e.SyncHours(ctx)

	hours := time.NewTicker(e.tuning.HoursInterval)
	defer hours.Stop()
	ticks := time.NewTicker(e.tuning.TickInterval)
	defer ticks.Stop()
	news := time.NewTicker(e.tuning.NewsInterval)
	defer news.Stop()

	e.log.Info("market engine started", "tick_every", e.tuning.TickInterval.String())
	for {
		select {
		case <-ctx.Done():
			e.log.Info("market engine shutdown")
			return
		case <-hours.C:
			e.SyncHours(ctx)
		case <-ticks.C:
			e.Tick()
		case <-news.C:
			if e.IsOpen() && e.roll() < e.tuning.NewsChance {
				e.announce(ctx, AnnounceUpdate)
			}
		}
	}
}

func (e *Engine) roll() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rand.Float64()
}

// gauss must be called with mu held.
func (e *Engine) gauss(sigma float64) float64 {
	return e.rand.NormFloat64() * sigma
}

func (e *Engine) notify() {
	e.mu.RLock()
	listeners := e.listeners
	st := e.statusLocked()
	e.mu.RUnlock()
	for _, fn := range listeners {
		fn(st)
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

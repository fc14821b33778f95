package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"bartab/internal/economy"
	"bartab/internal/market"
)

// Tuning is the game balance file. Every key has a default, so the file
// only needs the values an operator wants to change. BARTAB_<SECTION>_<KEY>
// environment variables override the file.
type Tuning struct {
	Locks   LockTuning   `mapstructure:"locks"`
	Rewards RewardTuning `mapstructure:"rewards"`
	Market  MarketTuning `mapstructure:"market"`
}

type LockTuning struct {
	Timeout time.Duration `mapstructure:"timeout"`
	IdleTTL time.Duration `mapstructure:"idle_ttl"`
}

type RewardTuning struct {
	DailyCooldown      time.Duration `mapstructure:"daily_cooldown"`
	DailyMin           int64         `mapstructure:"daily_min"`
	DailyMax           int64         `mapstructure:"daily_max"`
	DailyStreakBonus   int64         `mapstructure:"daily_streak_bonus"`
	MaxDailyStreak     int           `mapstructure:"max_daily_streak"`
	StreakGrace        time.Duration `mapstructure:"streak_grace"`
	WorkCooldown       time.Duration `mapstructure:"work_cooldown"`
	WorkCriticalChance float64       `mapstructure:"work_critical_chance"`
	BegCooldown        time.Duration `mapstructure:"beg_cooldown"`
	BegMin             int64         `mapstructure:"beg_min"`
	BegMax             int64         `mapstructure:"beg_max"`
	BegSuccessRate     float64       `mapstructure:"beg_success_rate"`
}

type MarketTuning struct {
	OpenHour        int           `mapstructure:"open_hour"`
	CloseHour       int           `mapstructure:"close_hour"`
	TickInterval    time.Duration `mapstructure:"tick_interval"`
	HoursInterval   time.Duration `mapstructure:"hours_interval"`
	NewsInterval    time.Duration `mapstructure:"news_interval"`
	NewsChance      float64       `mapstructure:"news_chance"`
	NewsCooldown    time.Duration `mapstructure:"news_cooldown"`
	DailyTradeLimit int           `mapstructure:"daily_trade_limit"`
	RapidWindow     time.Duration `mapstructure:"rapid_window"`
	RapidLimit      int           `mapstructure:"rapid_limit"`
}

// LoadTuning reads the tuning file at path. An empty path yields the
// defaults with environment overrides applied.
func LoadTuning(path string) (Tuning, error) {
	v := viper.New()
	setTuningDefaults(v)

	v.SetEnvPrefix("BARTAB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Tuning{}, fmt.Errorf("read tuning file %s: %w", path, err)
		}
	}

	var t Tuning
	if err := v.Unmarshal(&t); err != nil {
		return Tuning{}, fmt.Errorf("decode tuning: %w", err)
	}
	if err := t.Validate(); err != nil {
		return Tuning{}, err
	}
	return t, nil
}

func setTuningDefaults(v *viper.Viper) {
	v.SetDefault("locks.timeout", "10s")
	v.SetDefault("locks.idle_ttl", "10m")

	r := economy.DefaultTuning()
	v.SetDefault("rewards.daily_cooldown", r.DailyCooldown.String())
	v.SetDefault("rewards.daily_min", r.DailyMin)
	v.SetDefault("rewards.daily_max", r.DailyMax)
	v.SetDefault("rewards.daily_streak_bonus", r.DailyStreakBonus)
	v.SetDefault("rewards.max_daily_streak", r.MaxDailyStreak)
	v.SetDefault("rewards.streak_grace", r.StreakGrace.String())
	v.SetDefault("rewards.work_cooldown", r.WorkCooldown.String())
	v.SetDefault("rewards.work_critical_chance", r.WorkCriticalChance)
	v.SetDefault("rewards.beg_cooldown", r.BegCooldown.String())
	v.SetDefault("rewards.beg_min", r.BegMin)
	v.SetDefault("rewards.beg_max", r.BegMax)
	v.SetDefault("rewards.beg_success_rate", r.BegSuccessRate)

	m := market.DefaultTuning()
	v.SetDefault("market.open_hour", m.OpenHour)
	v.SetDefault("market.close_hour", m.CloseHour)
	v.SetDefault("market.tick_interval", m.TickInterval.String())
	v.SetDefault("market.hours_interval", m.HoursInterval.String())
	v.SetDefault("market.news_interval", m.NewsInterval.String())
	v.SetDefault("market.news_chance", m.NewsChance)
	v.SetDefault("market.news_cooldown", m.NewsCooldown.String())
	v.SetDefault("market.daily_trade_limit", m.DailyTradeLimit)
	v.SetDefault("market.rapid_window", m.RapidWindow.String())
	v.SetDefault("market.rapid_limit", m.RapidLimit)
}

func (t Tuning) Validate() error {
	if t.Locks.Timeout <= 0 {
		return fmt.Errorf("locks.timeout must be positive")
	}
	if t.Locks.IdleTTL < time.Minute {
		return fmt.Errorf("locks.idle_ttl must be at least 1 minute")
	}

	r := t.Rewards
	if r.DailyMin <= 0 || r.DailyMax < r.DailyMin {
		return fmt.Errorf("rewards.daily_min must be positive and not above rewards.daily_max")
	}
	if r.BegMin <= 0 || r.BegMax < r.BegMin {
		return fmt.Errorf("rewards.beg_min must be positive and not above rewards.beg_max")
	}
	if r.MaxDailyStreak < 1 {
		return fmt.Errorf("rewards.max_daily_streak must be at least 1")
	}
	if r.StreakGrace < r.DailyCooldown {
		return fmt.Errorf("rewards.streak_grace must not be shorter than rewards.daily_cooldown")
	}
	for name, p := range map[string]float64{
		"rewards.work_critical_chance": r.WorkCriticalChance,
		"rewards.beg_success_rate":     r.BegSuccessRate,
		"market.news_chance":           t.Market.NewsChance,
	} {
		if p < 0 || p > 1 {
			return fmt.Errorf("%s must be between 0 and 1", name)
		}
	}

	m := t.Market
	if m.OpenHour < 0 || m.CloseHour > 24 || m.OpenHour >= m.CloseHour {
		return fmt.Errorf("market.open_hour must be before market.close_hour within 0..24")
	}
	if m.TickInterval < time.Second || m.HoursInterval < time.Second || m.NewsInterval < time.Second {
		return fmt.Errorf("market intervals must be at least 1s")
	}
	if m.DailyTradeLimit < 1 || m.RapidLimit < 1 || m.RapidWindow <= 0 {
		return fmt.Errorf("market trade limits must be positive")
	}
	return nil
}

func (t Tuning) ForEconomy() economy.Tuning {
	r := t.Rewards
	return economy.Tuning{
		DailyCooldown:      r.DailyCooldown,
		DailyMin:           r.DailyMin,
		DailyMax:           r.DailyMax,
		DailyStreakBonus:   r.DailyStreakBonus,
		MaxDailyStreak:     r.MaxDailyStreak,
		StreakGrace:        r.StreakGrace,
		WorkCooldown:       r.WorkCooldown,
		WorkCriticalChance: r.WorkCriticalChance,
		BegCooldown:        r.BegCooldown,
		BegMin:             r.BegMin,
		BegMax:             r.BegMax,
		BegSuccessRate:     r.BegSuccessRate,
	}
}

func (t Tuning) ForMarket() market.Tuning {
	m := t.Market
	return market.Tuning{
		OpenHour:        m.OpenHour,
		CloseHour:       m.CloseHour,
		TickInterval:    m.TickInterval,
		HoursInterval:   m.HoursInterval,
		NewsInterval:    m.NewsInterval,
		NewsChance:      m.NewsChance,
		NewsCooldown:    m.NewsCooldown,
		DailyTradeLimit: m.DailyTradeLimit,
		RapidWindow:     m.RapidWindow,
		RapidLimit:      m.RapidLimit,
	}
}

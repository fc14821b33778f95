package economy

import (
	"encoding/json"
	"fmt"
)

// Migration upgrades a stored account document from version N to N+1 in place.
type Migration func(doc map[string]any) error

// migrations is keyed by the version a document is migrated from.
var migrations = map[int]Migration{
	1: migrateV1ToV2,
}

// DocVersion reads the schema version of a stored document. Documents written
// before versioning carry the legacy "_schema_version" key or nothing at all.
func DocVersion(doc map[string]any) int {
	for _, key := range []string{"schema_version", "_schema_version"} {
		if v, ok := doc[key]; ok {
			if n, ok := docInt(v); ok {
				return int(n)
			}
		}
	}
	return 1
}

// MigrateDoc runs every migration between the document's version and
// CurrentSchemaVersion. It reports whether anything changed.
func MigrateDoc(doc map[string]any) (bool, error) {
	from := DocVersion(doc)
	if from >= CurrentSchemaVersion {
		return false, nil
	}
	for v := from; v < CurrentSchemaVersion; v++ {
		m, ok := migrations[v]
		if !ok {
			return false, fmt.Errorf("no migration from schema version %d", v)
		}
		if err := m(doc); err != nil {
			return false, fmt.Errorf("migrate v%d: %w", v, err)
		}
	}
	delete(doc, "_schema_version")
	doc["schema_version"] = CurrentSchemaVersion
	return true, nil
}

// migrateV1ToV2 backfills limits and the portfolio, and converts bare share
// counts into holdings.
func migrateV1ToV2(doc map[string]any) error {
	defaults := map[string]any{
		"wallet":       StartingMoney,
		"wallet_limit": DefaultWalletLimit,
		"bank":         int64(0),
		"bank_limit":   DefaultBankLimit,
		"daily_streak": 0,
		"last_daily":   nil,
		"total_earned": int64(0),
	}
	for k, v := range defaults {
		if _, ok := doc[k]; !ok {
			doc[k] = v
		}
	}
	wallet, _ := docInt(doc["wallet"])
	bank, _ := docInt(doc["bank"])
	doc["networth"] = wallet + bank

	portfolio, ok := doc["portfolio"].(map[string]any)
	if !ok {
		portfolio = map[string]any{}
		doc["portfolio"] = portfolio
	}
	for _, k := range []string{"gold_ounces", "total_investment", "total_value", "daily_pnl", "total_pnl"} {
		if _, ok := portfolio[k]; !ok {
			portfolio[k] = 0
		}
	}
	stocks, ok := portfolio["stocks"].(map[string]any)
	if !ok {
		stocks = map[string]any{}
		portfolio["stocks"] = stocks
	}
	for symbol, v := range stocks {
		if shares, ok := docInt(v); ok {
			stocks[symbol] = map[string]any{"shares": shares, "avg_price": 0}
		}
	}
	return nil
}

// docInt reads an integer from a document decoded with UseNumber, tolerating
// values written by hand or by older encoders.
func docInt(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		if f, err := n.Float64(); err == nil {
			return int64(f), true
		}
	case float64:
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}

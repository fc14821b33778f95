package economy

import (
	"bytes"
	"encoding/json"
	"testing"
)

func decodeDoc(t *testing.T, raw string) map[string]any {
	t.Helper()
	doc := map[string]any{}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return doc
}

func TestDocVersion(t *testing.T) {
	tests := []struct {
		raw  string
		want int
	}{
		{raw: `{}`, want: 1},
		{raw: `{"_schema_version": 1}`, want: 1},
		{raw: `{"schema_version": 2}`, want: 2},
		{raw: `{"schema_version": "junk"}`, want: 1},
	}
	for _, tc := range tests {
		if got := DocVersion(decodeDoc(t, tc.raw)); got != tc.want {
			t.Fatalf("%s: got %d want %d", tc.raw, got, tc.want)
		}
	}
}

func TestMigrateLegacyDocument(t *testing.T) {
	doc := decodeDoc(t, `{
		"user_id": 912345678901234567,
		"wallet": 700,
		"bank": 300,
		"_schema_version": 1,
		"portfolio": {"gold_ounces": 1.5, "stocks": {"TECH": 4, "BANK": {"shares": 2, "avg_price": 55.5}}}
	}`)

	changed, err := MigrateDoc(doc)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if !changed {
		t.Fatalf("expected legacy document to change")
	}
	if _, ok := doc["_schema_version"]; ok {
		t.Fatalf("legacy version key should be removed")
	}

	acct, err := decodeAccount(doc)
	if err != nil {
		t.Fatalf("decode account: %v", err)
	}
	if acct.UserID != 912345678901234567 {
		t.Fatalf("user id lost precision: %d", acct.UserID)
	}
	if acct.SchemaVersion != CurrentSchemaVersion {
		t.Fatalf("schema version %d", acct.SchemaVersion)
	}
	if acct.WalletLimit != DefaultWalletLimit || acct.BankLimit != DefaultBankLimit {
		t.Fatalf("limits not backfilled: %d/%d", acct.WalletLimit, acct.BankLimit)
	}
	if acct.Networth != 1000 {
		t.Fatalf("networth %d, want 1000", acct.Networth)
	}
	if h := acct.Portfolio.Stocks["TECH"]; h.Shares != 4 || h.AvgPrice != 0 {
		t.Fatalf("bare share count not converted: %+v", h)
	}
	if h := acct.Portfolio.Stocks["BANK"]; h.Shares != 2 || h.AvgPrice != 55.5 {
		t.Fatalf("existing holding changed: %+v", h)
	}
	if acct.Portfolio.GoldOunces != 1.5 {
		t.Fatalf("gold ounces %v", acct.Portfolio.GoldOunces)
	}
}

func TestMigrateCurrentIsNoop(t *testing.T) {
	doc := decodeDoc(t, `{"schema_version": 2, "wallet": 5}`)
	changed, err := MigrateDoc(doc)
	if err != nil || changed {
		t.Fatalf("expected no-op, changed=%v err=%v", changed, err)
	}
}

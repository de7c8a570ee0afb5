package schema

import (
	"strings"
	"testing"
)

func TestColumnTypeSQL(t *testing.T) {
	cases := []struct {
		typ  ColumnType
		want string
	}{
		{Date, "DATE"},
		{BigInt, "BIGINT"},
		{Price, "NUMERIC(10,2)"},
		{Numeric(18, 6), "NUMERIC(18,6)"},
	}
	for _, tc := range cases {
		got, err := tc.typ.SQL()
		if err != nil {
			t.Fatalf("%v: unexpected error: %v", tc.typ, err)
		}
		if got != tc.want {
			t.Fatalf("SQL() = %q, want %q", got, tc.want)
		}
	}

	bad := []ColumnType{{}, {Kind: Kind(42)}, Numeric(0, 0), Numeric(4, 6), Numeric(10, -1)}
	for _, typ := range bad {
		if _, err := typ.SQL(); err == nil {
			t.Fatalf("expected error for %+v", typ)
		}
	}
}

func TestQuote(t *testing.T) {
	q, err := Quote("brk_b_stock_history")
	if err != nil {
		t.Fatal(err)
	}
	if q != `"brk_b_stock_history"` {
		t.Fatalf("got %s", q)
	}

	invalid := []string{
		"", "Upper", "1abc", "a-b", "a.b", `a"; DROP TABLE x; --`, "a b",
		strings.Repeat("a", 64),
	}
	for _, name := range invalid {
		if _, err := Quote(name); err == nil {
			t.Fatalf("expected %q to be rejected", name)
		}
	}
}

func TestStockHistoryCreateSQL(t *testing.T) {
	got, err := StockHistory("aapl").CreateSQL()
	if err != nil {
		t.Fatal(err)
	}
	want := `CREATE TABLE IF NOT EXISTS "aapl_stock_history" ("date" DATE PRIMARY KEY, "open" NUMERIC(10,2), "high" NUMERIC(10,2), "low" NUMERIC(10,2), "close" NUMERIC(10,2), "volume" BIGINT)`
	if got != want {
		t.Fatalf("got  %s\nwant %s", got, want)
	}
}

func TestCreateSQLRejectsBadTable(t *testing.T) {
	if _, err := (Table{Name: "x"}).CreateSQL(); err == nil {
		t.Fatal("expected error for table without columns")
	}
	if _, err := (Table{Name: "X", Columns: []Column{{Name: "date", Type: Date}}}).CreateSQL(); err == nil {
		t.Fatal("expected error for invalid table name")
	}
}

func TestNamingConvention(t *testing.T) {
	if got := SharesTable("xlk"); got != "xlk_shares" {
		t.Fatalf("SharesTable: %s", got)
	}
	if got := SectorHistoryTable("xlk"); got != "xlk_sector_history" {
		t.Fatalf("SectorHistoryTable: %s", got)
	}
	if got := CalculatedPriceColumn("xlk"); got != "xlk_calculated_price" {
		t.Fatalf("CalculatedPriceColumn: %s", got)
	}

	if sym, ok := SymbolFromSharesColumn("msft_shares"); !ok || sym != "msft" {
		t.Fatalf("SymbolFromSharesColumn(msft_shares) = %q, %v", sym, ok)
	}
	for _, col := range []string{"date", "_shares", "msft"} {
		if _, ok := SymbolFromSharesColumn(col); ok {
			t.Fatalf("SymbolFromSharesColumn(%q) should not match", col)
		}
	}

	if sym, ok := SymbolFromPriceColumn("brk_b_price"); !ok || sym != "brk_b" {
		t.Fatalf("SymbolFromPriceColumn(brk_b_price) = %q, %v", sym, ok)
	}
	if _, ok := SymbolFromPriceColumn("xlk_calculated_price"); ok {
		t.Fatal("calculated column must not be read as a constituent")
	}
}

func TestInferColumnType(t *testing.T) {
	cases := []struct {
		table, column string
		want          ColumnType
	}{
		{OutstandingTable, "date", Date},
		{OutstandingTable, "xlk", BigInt},
		{"xlk_shares", "aapl_shares", BigInt},
		{"xlk_sector_history", "aapl_price", Price},
		{"xlk_sector_history", "xlk_calculated_price", Price},
		{"aapl_stock_history", "close", Price},
		{"aapl_stock_history", "volume", BigInt},
	}
	for _, tc := range cases {
		got, err := InferColumnType(tc.table, tc.column)
		if err != nil {
			t.Fatalf("%s.%s: %v", tc.table, tc.column, err)
		}
		if got != tc.want {
			t.Fatalf("%s.%s: got %v, want %v", tc.table, tc.column, got, tc.want)
		}
	}

	if _, err := InferColumnType("xlk_shares", "aapl_price"); err == nil {
		t.Fatal("expected error for column outside convention")
	}
}

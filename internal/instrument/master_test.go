package instrument

import (
	"os"
	"path/filepath"
	"testing"
)

func writeCSV(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "instruments.csv")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	return path
}

func TestResolveKnownSymbol(t *testing.T) {
	path := writeCSV(t, "symbol,exchange,series,isin,nse_scrip_code,bse_code\nRELIANCE,NSE,EQ,INE002A01018,2885,500325\n")
	m := New(path)

	token, ok := m.Resolve("RELIANCE")
	if !ok || token != "nse_cm|2885" {
		t.Fatalf("Resolve(RELIANCE) = (%q, %v), want (nse_cm|2885, true)", token, ok)
	}
}

func TestResolveIsCaseInsensitive(t *testing.T) {
	path := writeCSV(t, "symbol,exchange,series,isin,nse_scrip_code,bse_code\nTCS,NSE,EQ,INE467B01029,11536,500470\n")
	m := New(path)

	token, ok := m.Resolve("tcs")
	if !ok || token != "nse_cm|11536" {
		t.Fatalf("Resolve(tcs) = (%q, %v), want (nse_cm|11536, true)", token, ok)
	}
}

func TestResolveFallsBackToBSECode(t *testing.T) {
	path := writeCSV(t, "symbol,exchange,series,isin,nse_scrip_code,bse_code\nFOO,BSE,EQ,,,500001\n")
	m := New(path)

	token, ok := m.Resolve("FOO")
	if !ok || token != "bse_cm|500001" {
		t.Fatalf("Resolve(FOO) = (%q, %v), want (bse_cm|500001, true)", token, ok)
	}
}

func TestResolveUnknownSymbolReturnsFalse(t *testing.T) {
	path := writeCSV(t, "symbol,exchange,series,isin,nse_scrip_code,bse_code\nRELIANCE,NSE,EQ,INE002A01018,2885,500325\n")
	m := New(path)

	if _, ok := m.Resolve("UNKNOWN"); ok {
		t.Fatalf("expected unknown symbol to fail resolution")
	}
}

func TestResolveMissingFileIsNonFatal(t *testing.T) {
	m := New(filepath.Join(t.TempDir(), "does-not-exist.csv"))

	if err := m.Load(); err != nil {
		t.Fatalf("Load() on missing file returned error: %v", err)
	}
	if _, ok := m.Resolve("ANYTHING"); ok {
		t.Fatalf("expected resolution against empty catalogue to fail")
	}
}

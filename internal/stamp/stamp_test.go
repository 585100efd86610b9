package stamp

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func writeFile(t *testing.T, path string, contents string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func setMTime(t *testing.T, path string, mt time.Time) {
	t.Helper()
	if err := os.Chtimes(path, mt, mt); err != nil {
		t.Fatalf("chtimes %s: %v", path, err)
	}
}

func fixedPolicy(mode Mode, now time.Time) Policy {
	return Policy{Mode: mode, Resolution: 2 * time.Second, Now: func() time.Time { return now }}
}

func TestPolicy_IsRacyBoundary(t *testing.T) {
	p := DefaultPolicy()
	mt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	cases := []struct {
		observed time.Duration
		want     bool
	}{
		{0, true},
		{p.Resolution - time.Nanosecond, true},
		{p.Resolution, false},
		{p.Resolution + time.Nanosecond, false},
		{-time.Second, true},
	}
	for _, tc := range cases {
		if got := p.IsRacy(mt, mt.Add(tc.observed)); got != tc.want {
			t.Fatalf("IsRacy(+%s)=%v want %v", tc.observed, got, tc.want)
		}
	}
	content := Policy{Mode: ModeContent, Resolution: time.Hour}
	if content.IsRacy(mt, mt) {
		t.Fatalf("content mode never treats files as racy")
	}
}

func TestObserve_MissingFile(t *testing.T) {
	p := DefaultPolicy()
	info, s, err := p.Observe(filepath.Join(t.TempDir(), "nope.h"), FileInfo{}, None)
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if info.Exists || s != None {
		t.Fatalf("expected missing observation, got %+v %s", info, s)
	}
}

func TestObserve_TimeModeStableWhenUnchanged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.cpp")
	writeFile(t, path, "int a;\n")
	mt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	setMTime(t, path, mt)

	p := fixedPolicy(ModeTimeSize, mt.Add(time.Minute))
	info, s1, err := p.Observe(path, FileInfo{}, None)
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if info.Racy {
		t.Fatalf("file one minute old must not be racy")
	}
	info2, s2, err := p.Observe(path, info, s1)
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if s1 != s2 {
		t.Fatalf("stamp changed without modification: %s -> %s", s1, s2)
	}
	if !reflect.DeepEqual(info, info2) {
		t.Fatalf("file info changed: %+v -> %+v", info, info2)
	}

	setMTime(t, path, mt.Add(10*time.Second))
	_, s3, err := p.Observe(path, info2, s2)
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if s3 == s2 {
		t.Fatalf("expected mtime change to change the stamp")
	}
}

func TestObserve_RacyWriteWithinResolutionIsDetected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.h")
	writeFile(t, path, "#define A 1\n")
	mt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	setMTime(t, path, mt)

	// Observed in the same clock tick as the write.
	p := fixedPolicy(ModeTimeSize, mt.Add(500*time.Millisecond))
	info, s1, err := p.Observe(path, FileInfo{}, None)
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if !info.Racy || info.ContentHash == 0 {
		t.Fatalf("expected racy observation with content hash, got %+v", info)
	}

	// Same size, same mtime, different content.
	writeFile(t, path, "#define A 2\n")
	setMTime(t, path, mt)
	later := fixedPolicy(ModeTimeSize, mt.Add(time.Minute))
	info2, s2, err := later.Observe(path, info, s1)
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if s2 == s1 {
		t.Fatalf("racy rewrite with identical mtime/size went unnoticed")
	}
	if info2.Racy {
		t.Fatalf("observation one minute later must not be racy")
	}

	// And once settled the stamp stays put.
	_, s3, err := later.Observe(path, info2, s2)
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if s3 != s2 {
		t.Fatalf("settled file changed stamp: %s -> %s", s2, s3)
	}
}

func TestObserve_RacyButUnchangedKeepsStamp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "b.h")
	writeFile(t, path, "int b;\n")
	mt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	setMTime(t, path, mt)

	p := fixedPolicy(ModeTimeSize, mt)
	info, s1, err := p.Observe(path, FileInfo{}, None)
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	// Exactly at the boundary: no longer racy, content identical.
	boundary := fixedPolicy(ModeTimeSize, mt.Add(2*time.Second))
	info2, s2, err := boundary.Observe(path, info, s1)
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if s2 != s1 {
		t.Fatalf("unchanged racy file must keep its stamp: %s -> %s", s1, s2)
	}
	if info2.Racy {
		t.Fatalf("observation exactly one resolution later must not be racy")
	}
}

func TestObserve_ContentMode(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.cpp")
	b := filepath.Join(dir, "b.cpp")
	writeFile(t, a, "same")
	writeFile(t, b, "same")
	setMTime(t, b, time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC))

	p := Policy{Mode: ModeContent}
	_, sa, err := p.Observe(a, FileInfo{}, None)
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	_, sb, err := p.Observe(b, FileInfo{}, None)
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if sa != sb {
		t.Fatalf("content mode must ignore mtime: %s vs %s", sa, sb)
	}
	writeFile(t, b, "diff")
	_, sb2, err := p.Observe(b, FileInfo{}, sb)
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if sb2 == sb {
		t.Fatalf("content change must change stamp")
	}
}

func TestHasher_OrderMatters(t *testing.T) {
	h1 := NewHasher("x")
	h1.WriteString("ab")
	h1.WriteString("c")
	h2 := NewHasher("x")
	h2.WriteString("a")
	h2.WriteString("bc")
	if h1.Sum() == h2.Sum() {
		t.Fatalf("length-delimited strings must not collide")
	}
	if h1.Sum() == None {
		t.Fatalf("sum must never be None")
	}
}

func TestParseMode(t *testing.T) {
	if m, err := ParseMode("content"); err != nil || m != ModeContent {
		t.Fatalf("content: %v %v", m, err)
	}
	if m, err := ParseMode(""); err != nil || m != ModeTimeSize {
		t.Fatalf("default: %v %v", m, err)
	}
	if _, err := ParseMode("atime"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestList_PatternsAndExcludes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.cpp"), "")
	writeFile(t, filepath.Join(dir, "b.cpp"), "")
	writeFile(t, filepath.Join(dir, "b.h"), "")
	writeFile(t, filepath.Join(dir, "sub", "c.cpp"), "")
	writeFile(t, filepath.Join(dir, "gen", "d.cpp"), "")

	flat, err := List(dir, []string{"*.cpp"}, nil, false)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if want := []string{"a.cpp", "b.cpp"}; !reflect.DeepEqual(flat, want) {
		t.Fatalf("flat=%v want %v", flat, want)
	}

	deep, err := List(dir, []string{"*.cpp"}, []string{"gen"}, true)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if want := []string{"a.cpp", "b.cpp", "sub/c.cpp"}; !reflect.DeepEqual(deep, want) {
		t.Fatalf("deep=%v want %v", deep, want)
	}

	all, err := List(dir, nil, nil, false)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("all=%v", all)
	}

	if ListingStamp(flat) == ListingStamp(deep) {
		t.Fatalf("different listings must stamp differently")
	}
	if ListingStamp(flat) != ListingStamp([]string{"a.cpp", "b.cpp"}) {
		t.Fatalf("listing stamp must be deterministic")
	}
}

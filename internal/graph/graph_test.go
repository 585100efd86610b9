package graph

import (
	"bytes"
	"errors"
	"reflect"
	"runtime"
	"strings"
	"testing"
)

func mustDeclare(t *testing.T, g *Graph, d Declaration) NodeID {
	t.Helper()
	id, err := g.Declare(d)
	if err != nil {
		t.Fatalf("declare %s: %v", d.Name, err)
	}
	return id
}

func names(g *Graph, ids []NodeID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, g.Node(id).Name)
	}
	return out
}

func TestDeclare_IdempotentAndConflicts(t *testing.T) {
	g := New()
	a := mustDeclare(t, g, Declaration{Name: "./src/a.cpp", Kind: KindFile})
	if again := mustDeclare(t, g, Declaration{Name: "src/a.cpp", Kind: KindFile}); again != a {
		t.Fatalf("identical redeclaration returned %d want %d", again, a)
	}

	_, err := g.Declare(Declaration{Name: "src/a.cpp", Kind: KindObject})
	var conflict *ConflictError
	if !errors.As(err, &conflict) || !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("expected kind conflict, got %v", err)
	}

	mustDeclare(t, g, Declaration{Name: "a.o", Kind: KindObject, Deps: []string{"src/a.cpp"}, Outputs: []string{"a.o"}})
	_, err = g.Declare(Declaration{Name: "a.o", Kind: KindObject, Deps: []string{"src/b.cpp"}, Outputs: []string{"a.o"}})
	if !errors.As(err, &conflict) || conflict.Reason != "dependencies" {
		t.Fatalf("expected dependency conflict, got %v", err)
	}
	_, err = g.Declare(Declaration{Name: "a.o", Kind: KindObject, Deps: []string{"src/a.cpp"}, Outputs: []string{"a.o"}, Settings: ObjectSettings{Command: "-O2"}})
	if !errors.As(err, &conflict) || conflict.Reason != "settings" {
		t.Fatalf("expected settings conflict, got %v", err)
	}

	if _, err := g.Declare(Declaration{Name: "x", Kind: KindFile, Settings: ObjectSettings{}}); err == nil {
		t.Fatalf("expected mismatched settings to be rejected")
	}
	if _, err := g.Declare(Declaration{Name: "", Kind: KindFile}); err == nil {
		t.Fatalf("expected empty name to be rejected")
	}
}

func TestDeclare_PromotesDiscoveredFile(t *testing.T) {
	g := New()
	id, err := g.DeclareDiscovered("inc/a.h")
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if g.Node(id).Origin != OriginDiscovered {
		t.Fatalf("expected discovered origin")
	}
	if again, _ := g.DeclareDiscovered("inc/a.h"); again != id {
		t.Fatalf("rediscovery created a new node")
	}
	if promoted := mustDeclare(t, g, Declaration{Name: "inc/a.h", Kind: KindFile}); promoted != id {
		t.Fatalf("promotion changed id")
	}
	if g.Node(id).Origin != OriginDeclared {
		t.Fatalf("expected declared origin after promotion")
	}
	// Discovery of a declared node is a lookup.
	obj := mustDeclare(t, g, Declaration{Name: "a.o", Kind: KindObject})
	if got, err := g.DeclareDiscovered("a.o"); err != nil || got != obj {
		t.Fatalf("discover existing: %d %v", got, err)
	}
}

func TestValidate_Unresolved(t *testing.T) {
	g := New()
	mustDeclare(t, g, Declaration{Name: "lib", Kind: KindLibrary, Deps: []string{"a.o"}})
	err := g.Validate()
	var unresolved *UnresolvedError
	if !errors.As(err, &unresolved) || !errors.Is(err, ErrUnresolvedDependency) {
		t.Fatalf("expected unresolved error, got %v", err)
	}
	if unresolved.Dep != "a.o" || unresolved.Node != "lib" {
		t.Fatalf("unexpected error detail: %+v", unresolved)
	}
	// Forward reference becomes valid once declared.
	mustDeclare(t, g, Declaration{Name: "a.o", Kind: KindObject})
	if err := g.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidate_CycleHasPath(t *testing.T) {
	g := New()
	mustDeclare(t, g, Declaration{Name: "a", Kind: KindObjectList, Deps: []string{"b"}})
	mustDeclare(t, g, Declaration{Name: "b", Kind: KindObjectList, Deps: []string{"c"}})
	mustDeclare(t, g, Declaration{Name: "c", Kind: KindObjectList, Deps: []string{"a"}})
	mustDeclare(t, g, Declaration{Name: "d", Kind: KindObjectList, Deps: []string{"a"}})
	err := g.Validate()
	var cycle *CycleError
	if !errors.As(err, &cycle) || !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("expected cycle error, got %v", err)
	}
	if want := []string{"a", "b", "c"}; !reflect.DeepEqual(cycle.Path, want) {
		t.Fatalf("cycle path=%v want %v", cycle.Path, want)
	}
	if !strings.Contains(err.Error(), "a -> b -> c -> a") {
		t.Fatalf("unexpected message: %v", err)
	}
}

func TestClosure_OrdersDependenciesFirst(t *testing.T) {
	g := New()
	mustDeclare(t, g, Declaration{Name: "lib", Kind: KindLibrary, Deps: []string{"b.o", "a.o"}})
	mustDeclare(t, g, Declaration{Name: "b.o", Kind: KindObject, Deps: []string{"clang", "b.cpp"}})
	mustDeclare(t, g, Declaration{Name: "a.o", Kind: KindObject, Deps: []string{"clang", "a.cpp"}})
	mustDeclare(t, g, Declaration{Name: "clang", Kind: KindCompiler})
	mustDeclare(t, g, Declaration{Name: "a.cpp", Kind: KindFile})
	mustDeclare(t, g, Declaration{Name: "b.cpp", Kind: KindFile})
	mustDeclare(t, g, Declaration{Name: "unrelated", Kind: KindFile})

	libID, _ := g.Resolve("lib")
	order, err := g.Closure(libID)
	if err != nil {
		t.Fatalf("closure: %v", err)
	}
	want := []string{"clang", "a.cpp", "a.o", "b.cpp", "b.o", "lib"}
	if got := names(g, order); !reflect.DeepEqual(got, want) {
		t.Fatalf("order=%v want %v", got, want)
	}

	aID, _ := g.Resolve("a.o")
	order, err = g.Closure(aID)
	if err != nil {
		t.Fatalf("closure: %v", err)
	}
	if got := names(g, order); !reflect.DeepEqual(got, []string{"clang", "a.cpp", "a.o"}) {
		t.Fatalf("sub-closure=%v", got)
	}
}

func TestDynamicDependencies(t *testing.T) {
	g := New()
	obj := mustDeclare(t, g, Declaration{Name: "a.o", Kind: KindObject, Deps: []string{"a.cpp"}})
	src := mustDeclare(t, g, Declaration{Name: "a.cpp", Kind: KindFile})
	lib := mustDeclare(t, g, Declaration{Name: "lib", Kind: KindLibrary, Deps: []string{"a.o"}})
	if err := g.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	hdr, _ := g.DeclareDiscovered("a.h")
	if err := g.AddDynamicDependency(obj, hdr); err != nil {
		t.Fatalf("add dynamic: %v", err)
	}
	if err := g.AddDynamicDependency(obj, hdr); err != nil {
		t.Fatalf("re-adding an edge must be a no-op: %v", err)
	}
	if got := g.Deps(obj); !reflect.DeepEqual(got, []NodeID{src, hdr}) {
		t.Fatalf("deps=%v", got)
	}

	err := g.AddDynamicDependency(obj, lib)
	var cycle *CycleError
	if !errors.As(err, &cycle) {
		t.Fatalf("expected cycle rejection, got %v", err)
	}
	if want := []string{"a.o", "lib"}; !reflect.DeepEqual(cycle.Path, want) {
		t.Fatalf("cycle path=%v want %v", cycle.Path, want)
	}
	if err := g.AddDynamicDependency(obj, obj); err == nil {
		t.Fatalf("expected self edge to be rejected")
	}

	if err := g.SetDynamicDependencies(obj, []NodeID{hdr, lib}); err == nil {
		t.Fatalf("expected set with cyclic edge to fail")
	}
	if got := g.DynamicDeps(obj); !reflect.DeepEqual(got, []NodeID{hdr}) {
		t.Fatalf("failed set must leave edges untouched, got %v", got)
	}
	if err := g.SetDynamicDependencies(obj, nil); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if got := g.DynamicDeps(obj); len(got) != 0 {
		t.Fatalf("expected no dynamic deps, got %v", got)
	}
}

func TestSettingsRoundTripAndDigest(t *testing.T) {
	in := DirectoryListingSettings{Path: "src", Patterns: []string{"*.cpp"}, Recursive: true}
	raw, err := MarshalSettings(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	out, err := UnmarshalSettings(KindDirectoryListing, raw)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Fatalf("round trip: %+v != %+v", in, out)
	}
	d1 := SettingsDigest(KindDirectoryListing, in, nil)
	in.Recursive = false
	d2 := SettingsDigest(KindDirectoryListing, in, nil)
	if d1 == d2 {
		t.Fatalf("settings change must change digest")
	}
	if err := d1.Validate(); err != nil {
		t.Fatalf("digest: %v", err)
	}
}

func TestParseKind(t *testing.T) {
	for _, k := range AllKinds() {
		got, err := ParseKind(strings.ToUpper(k.String()))
		if err != nil || got != k {
			t.Fatalf("ParseKind(%s)=%v,%v", k, got, err)
		}
	}
	if _, err := ParseKind("Executable"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestPrintGraph(t *testing.T) {
	g := New()
	obj := mustDeclare(t, g, Declaration{Name: "a.o", Kind: KindObject, Deps: []string{"a.cpp"}})
	mustDeclare(t, g, Declaration{Name: "a.cpp", Kind: KindFile})
	if err := g.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	hdr, _ := g.DeclareDiscovered("a.h")
	_ = g.AddDynamicDependency(obj, hdr)

	var dot bytes.Buffer
	if err := g.PrintDOT(&dot, nil); err != nil {
		t.Fatalf("dot: %v", err)
	}
	if !strings.Contains(dot.String(), "\"a.cpp\" -> \"a.o\";") || !strings.Contains(dot.String(), "\"a.h\" -> \"a.o\" [style=dashed];") {
		t.Fatalf("unexpected dot:\n%s", dot.String())
	}
	var mm bytes.Buffer
	if err := g.PrintMermaid(&mm, nil); err != nil {
		t.Fatalf("mermaid: %v", err)
	}
	if !strings.Contains(mm.String(), "a_cpp --> a_o") || !strings.Contains(mm.String(), "a_h -.-> a_o") {
		t.Fatalf("unexpected mermaid:\n%s", mm.String())
	}
}

func TestPrintDOTEscapesNames(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("backslashes are path separators on windows")
	}
	g := New()
	mustDeclare(t, g, Declaration{Name: "out/q.o", Kind: KindObject, Deps: []string{`src/we"ird\x.cpp`}})
	mustDeclare(t, g, Declaration{Name: `src/we"ird\x.cpp`, Kind: KindFile})
	if err := g.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	var dot bytes.Buffer
	if err := g.PrintDOT(&dot, nil); err != nil {
		t.Fatalf("dot: %v", err)
	}
	out := dot.String()
	if !strings.Contains(out, `"src/we\"ird\\x.cpp" -> "out/q.o";`) {
		t.Fatalf("edge not escaped:\n%s", out)
	}
	if !strings.Contains(out, `[label="src/we\"ird\\x.cpp\nFile"]`) {
		t.Fatalf("label not escaped:\n%s", out)
	}
}

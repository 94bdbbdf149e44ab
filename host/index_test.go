package host

import (
	"reflect"
	"testing"

	"github.com/wippyai/starbridge/errors"
)

func newTestIndex() *Index {
	x := NewIndex()
	x.AddClass(ClassHandle{Name: "java.util.ArrayList"})
	x.AddClass(ClassHandle{Name: "java.util.HashMap"})
	x.AddClass(ClassHandle{Name: "java.util.concurrent.ConcurrentHashMap"})
	x.AddClass(ClassHandle{Name: "java.lang.String"})
	return x
}

func TestIndex_AddClass(t *testing.T) {
	x := NewIndex()

	tests := []struct {
		name  string
		class string
		want  bool
	}{
		{"simple", "java.util.ArrayList", true},
		{"duplicate", "java.util.ArrayList", false},
		{"no package", "Main", false},
		{"restricted io", "io.Reader", false},
		{"restricted re child", "re.sub.Pattern", false},
		{"empty leaf", "java.util.", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := x.AddClass(ClassHandle{Name: tt.class}); got != tt.want {
				t.Errorf("AddClass(%q) = %v, want %v", tt.class, got, tt.want)
			}
		})
	}

	if x.Len() != 1 {
		t.Errorf("Len() = %d, want 1", x.Len())
	}
}

func TestIndex_Packages(t *testing.T) {
	x := newTestIndex()

	want := []string{"java", "java.lang", "java.util", "java.util.concurrent"}
	if got := x.Packages(); !reflect.DeepEqual(got, want) {
		t.Errorf("Packages() = %v, want %v", got, want)
	}

	for _, name := range want {
		if !x.IsJavaPackage(name) {
			t.Errorf("IsJavaPackage(%q) = false", name)
		}
	}
	if x.IsJavaPackage("java.util.ArrayList") {
		t.Error("class name reported as package")
	}
	if x.IsJavaPackage("") {
		t.Error("empty name reported as package")
	}
}

func TestIndex_Enumeration(t *testing.T) {
	x := newTestIndex()

	subs, err := x.SubPackages("java")
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"lang", "util"}; !reflect.DeepEqual(subs, want) {
		t.Errorf("SubPackages(java) = %v, want %v", subs, want)
	}

	classes, err := x.ClassNames("java.util")
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"java.util.ArrayList", "java.util.HashMap"}; !reflect.DeepEqual(classes, want) {
		t.Errorf("ClassNames(java.util) = %v, want %v", classes, want)
	}

	// unknown packages enumerate as empty, not unsupported
	unknown, err := x.ClassNames("org.nothing")
	if err != nil || unknown == nil || len(unknown) != 0 {
		t.Errorf("ClassNames(unknown) = %v, %v; want empty non-nil", unknown, err)
	}

	if !x.SupportsPackageImport() {
		t.Error("SupportsPackageImport() = false")
	}
}

func TestIndex_AddPackage(t *testing.T) {
	x := NewIndex()
	x.AddPackage("org.example.empty")
	x.AddPackage("io.skipped")

	if !x.IsJavaPackage("org.example.empty") || !x.IsJavaPackage("org") {
		t.Error("AddPackage did not register package and parents")
	}
	if x.IsJavaPackage("io.skipped") {
		t.Error("restricted package registered")
	}
	subs, _ := x.SubPackages("org.example")
	if !reflect.DeepEqual(subs, []string{"empty"}) {
		t.Errorf("SubPackages(org.example) = %v", subs)
	}
}

func TestIndex_LoadClass(t *testing.T) {
	x := NewIndex()
	x.AddClass(ClassHandle{Name: "java.util.ArrayList", Source: "rt.jar"})

	c, err := x.LoadClass("java.util.ArrayList")
	if err != nil {
		t.Fatalf("LoadClass failed: %v", err)
	}
	if c.Source != "rt.jar" || c.Package() != "java.util" || c.SimpleName() != "ArrayList" {
		t.Errorf("unexpected handle %+v", c)
	}

	// handles are copies
	c.Source = "changed"
	again, _ := x.LoadClass("java.util.ArrayList")
	if again.Source != "rt.jar" {
		t.Error("LoadClass returned a shared handle")
	}

	_, err = x.LoadClass("java.util.Missing")
	if !errors.IsNotFound(err) {
		t.Errorf("LoadClass(missing) error = %v, want not found", err)
	}
}

func TestClassNameFromPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"java/lang/String.class", "java.lang.String", true},
		{"java/lang/String", "java.lang.String", true},
		{"/org/example/Foo.class", "org.example.Foo", true},
		{"java/util/Map$Entry.class", "", false},
		{"Main.class", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := classNameFromPath(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("classNameFromPath(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestSplitNameAndCovers(t *testing.T) {
	if p, l := SplitName("java.util.ArrayList"); p != "java.util" || l != "ArrayList" {
		t.Errorf("SplitName = %q, %q", p, l)
	}
	if p, l := SplitName("java"); p != "" || l != "java" {
		t.Errorf("SplitName(top) = %q, %q", p, l)
	}

	tests := []struct {
		prefix, name string
		want         bool
	}{
		{"numpy", "numpy", true},
		{"numpy", "numpy.linalg", true},
		{"numpy", "numpyx", false},
		{"numpy.linalg", "numpy", false},
		{"", "numpy", false},
	}
	for _, tt := range tests {
		if got := Covers(tt.prefix, tt.name); got != tt.want {
			t.Errorf("Covers(%q, %q) = %v, want %v", tt.prefix, tt.name, got, tt.want)
		}
	}
}

func TestCompose(t *testing.T) {
	x := newTestIndex()
	h := Compose(NewNamingConvention(true), x)

	if h.SupportsPackageImport() {
		t.Error("composed host should use the enquirer's capability")
	}
	if !h.IsJavaPackage("java.nothing") {
		t.Error("composed host should answer by convention")
	}
	if _, err := h.LoadClass("java.lang.String"); err != nil {
		t.Errorf("LoadClass through composite failed: %v", err)
	}
}

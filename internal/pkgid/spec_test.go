package pkgid

import (
	"os"
	"testing"
)

func writeEmptyFile(path string) error {
	return os.WriteFile(path, nil, 0644)
}

func TestParseSpecRoundTrip(t *testing.T) {
	cases := []string{
		"foo",
		"foo@1.2.3",
		"path+file:///x/y/foo#bar@1.1.8",
		"registry+https://example.com/index#foo@1.0.0",
		"git+https://github.com/a/b?rev=deadbeef#foo@1.0.0",
	}
	for _, s := range cases {
		spec, err := ParseSpec(s)
		if err != nil {
			t.Fatalf("ParseSpec(%q): %v", s, err)
		}
		got := spec.String()
		if got != s {
			t.Errorf("ParseSpec(%q).String() = %q, want %q", s, got, s)
		}
		spec2, err := ParseSpec(got)
		if err != nil {
			t.Fatalf("ParseSpec(print(%q)): %v", s, err)
		}
		if spec2.String() != got {
			t.Errorf("parse(print(x)) != parse(print(print(x))): %q vs %q", got, spec2.String())
		}
	}
}

func TestParseSpecLegacyColon(t *testing.T) {
	spec, err := ParseSpec("foo:1.2.3")
	if err != nil {
		t.Fatal(err)
	}
	if spec.Name != "foo" || spec.Version == nil || spec.Version.String() != "1.2.3" {
		t.Fatalf("got %+v", spec)
	}
	if got, want := spec.String(), "foo@1.2.3"; got != want {
		t.Errorf("String() = %q, want %q (':' accepted on parse, '@' always emitted)", got, want)
	}
}

func TestParseSpecRejectsPathLookingLikeFile(t *testing.T) {
	dir := t.TempDir()
	pkg := dir + "/foo"
	if err := writeEmptyFile(pkg); err != nil {
		t.Fatal(err)
	}
	if _, err := ParseSpec(pkg); err == nil {
		t.Fatalf("expected error hinting at file:// URL for existing path %q", pkg)
	}
}

func TestParseSpecQueryStringOnlyOnGit(t *testing.T) {
	_, err := ParseSpec("registry+https://example.com/index?branch=main#foo")
	if err == nil {
		t.Fatal("expected error for query string on a non-git spec")
	}
}

func TestPackageIDSpecMatches(t *testing.T) {
	id := PackageID{
		Name:    "foo",
		Version: ParseVersion("1.2.3"),
		Source:  SourceID{Kind: SourceGit, URL: "https://example.com/foo", Precise: "abc123"},
	}
	spec, err := ParseSpec("foo@1.2.3")
	if err != nil {
		t.Fatal(err)
	}
	if !spec.Matches(id) {
		t.Errorf("expected bare name+version spec to match")
	}

	specWithSrc, err := ParseSpec("git+https://example.com/foo#foo")
	if err != nil {
		t.Fatal(err)
	}
	if !specWithSrc.Matches(id) {
		t.Errorf("expected source-qualified spec to match regardless of precise (wildcard)")
	}
}

func TestVersionReqMatches(t *testing.T) {
	tests := []struct {
		req  string
		v    string
		want bool
	}{
		{"*", "0.0.1", true},
		{"1.2.3", "1.2.3", true},
		{"1.2.3", "1.3.0", true},
		{"1.2.3", "2.0.0", false},
		{"=1.2.3", "1.2.4", false},
		{">=1.2.3", "5.0.0", true},
	}
	for _, tt := range tests {
		req := ParseVersionReq(tt.req)
		v := ParseVersion(tt.v)
		if got := req.Matches(v); got != tt.want {
			t.Errorf("ParseVersionReq(%q).Matches(%q) = %v, want %v", tt.req, tt.v, got, tt.want)
		}
	}
}

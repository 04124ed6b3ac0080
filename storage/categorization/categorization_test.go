package categorization

import (
	"context"
	"reflect"
	"testing"

	"wildland.io/core/storage"
	"wildland.io/core/storage/staticfs"
)

func TestCategoryInfo(t *testing.T) {
	cases := map[string][2]string{
		// No tag.
		"author1":           {"/author1", ""},
		"aaa":               {"/aaa", ""},
		"aaa_bbb_ccc":       {"/aaa/bbb/ccc", ""},
		"aaa bbb ccc ddd":   {"/aaa bbb ccc ddd", ""},
		"aaa bbb_ccc ddd":   {"/aaa bbb/ccc ddd", ""},
		"aaa bbb_ccc ddd_":  {"/aaa bbb/ccc ddd", ""},
		"_aaa bbb_ccc ddd_": {"/aaa bbb/ccc ddd", ""},
		" ":                 {"/ ", ""},
		"_":                 {"/_", ""},
		// Empty tag: plain directory.
		"aaa @": {"/aaa @", ""},
		"@":     {"/@", ""},
		"_@":    {"/_@", ""},
		// Multiple tags: plain directory, name kept verbatim.
		"aaa_@bbb @ccc": {"/aaa_@bbb @ccc", ""},
		"aaa @@ bbb":    {"/aaa @@ bbb", ""},
		"@aaa_bbb_ccc@": {"/@aaa_bbb_ccc@", ""},
		"@@@@@@@@":      {"/@@@@@@@@", ""},
		// Valid tags.
		"@authors":                {"", "/authors"},
		"@titles_title1":          {"", "/titles/title1"},
		"author2_@titles_title3":  {"/author2", "/titles/title3"},
		"aaa_bbb_ccc@ddd_eee_fff": {"/aaa/bbb/ccc", "/ddd/eee/fff"},
		"aaa_bbb @ccc_ddd":        {"/aaa/bbb ", "/ccc/ddd"},
		"aaa_bbb@ccc ddd":         {"/aaa/bbb", "/ccc ddd"},
		"@aaa":                    {"", "/aaa"},
		"@aaa_bbb_ccc_ddd_eee":    {"", "/aaa/bbb/ccc/ddd/eee"},
		"@aaa_bbb_ccc_ddd__eee":   {"", "/aaa/bbb/ccc/ddd/_eee"},
		"_aaa bbb_ccc @ddd_":      {"/aaa bbb/ccc ", "/ddd"},
		"@_____":                  {"", "/____"},
		"_@_":                     {"/_", "/_"},
		"__@_":                    {"/_", "/_"},
		"__@__":                   {"/_", "/_"},
		"___@___":                 {"/__", "/__"},
	}
	for name, want := range cases {
		prefix, postfix := categoryInfo(name)
		if prefix != want[0] || postfix != want[1] {
			t.Errorf("categoryInfo(%q) = (%q, %q), want (%q, %q)",
				name, prefix, postfix, want[0], want[1])
		}
	}
}

func TestFilenameToCategoryPath(t *testing.T) {
	cases := map[string]string{
		"books_titles":          "/books/titles",
		"actors_humans_author":  "/actors/humans/author",
		"actors_humans__author": "/actors/humans/_author",
		"t_1974":                "/t/1974",
		"aaa_":                  "/aaa",
		"aaa_bbb ":              "/aaa/bbb ",
		"_____":                 "/____",
		"_":                     "/_",
		"":                      "",
	}
	for in, want := range cases {
		if got := filenameToCategoryPath(in); got != want {
			t.Errorf("filenameToCategoryPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTitleFromDirName(t *testing.T) {
	cases := map[string]string{
		"books_titles":           "titles",
		"actors_humans_author":   "author",
		"actors_humans__author":  "author",
		"@authors":               "authors",
		"@titles_title1":         "title1",
		"author2_@titles_title3": "title3",
	}
	for in, want := range cases {
		if got := titleFromDirName(in); got != want {
			t.Errorf("titleFromDirName(%q) = %q, want %q", in, got, want)
		}
	}
}

func fixtureBackend(files ...string) *staticfs.Backend {
	inner := staticfs.New()
	for _, f := range files {
		inner.AddFile(f, []byte("x"))
	}
	return inner
}

func TestListSubcontainers(t *testing.T) {
	inner := fixtureBackend("/@authors/author1/@titles_title1/book.pdf")
	b := New(inner, storage.Params{"type": "static"})

	subs, err := b.ListSubcontainers(context.Background())
	if err != nil {
		t.Fatalf("ListSubcontainers: %v", err)
	}
	if len(subs) != 1 {
		t.Fatalf("got %d subcontainers, want 1", len(subs))
	}
	sub := subs[0]
	if sub.Title != "title1" {
		t.Errorf("Title = %q", sub.Title)
	}
	wantCats := []string{"/authors/author1", "/titles"}
	if !reflect.DeepEqual(sub.Categories, wantCats) {
		t.Errorf("Categories = %v, want %v", sub.Categories, wantCats)
	}
	if len(sub.Paths) != 1 || sub.Paths[0] != "/.uuid/"+sub.UUID {
		t.Errorf("Paths = %v", sub.Paths)
	}
	if sub.Storage.String("type") != "delegate" {
		t.Errorf("Storage type = %q", sub.Storage.String("type"))
	}
	if got := sub.Storage.String("subdirectory"); got != "/@authors/author1/@titles_title1" {
		t.Errorf("subdirectory = %q", got)
	}
	if !sub.Storage.Bool("read-only") {
		t.Error("delegate storage not read-only")
	}
}

func TestListSubcontainersUnclassified(t *testing.T) {
	inner := fixtureBackend("/plain/docs/file.txt")
	b := New(inner, nil)

	subs, err := b.ListSubcontainers(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 1 {
		t.Fatalf("got %d subcontainers, want 1", len(subs))
	}
	if !reflect.DeepEqual(subs[0].Categories, []string{"/unclassified"}) {
		t.Errorf("Categories = %v", subs[0].Categories)
	}
	if subs[0].Title != "docs" {
		t.Errorf("Title = %q", subs[0].Title)
	}
}

func TestListSubcontainersStableIdentity(t *testing.T) {
	inner := fixtureBackend("/@t/a/f1", "/@t/b/f2")
	b := New(inner, nil)

	first, err := b.ListSubcontainers(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	second, err := b.ListSubcontainers(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("ListSubcontainers not deterministic:\n%v\nvs\n%v", first, second)
	}
	if len(first) != 2 || first[0].UUID == first[1].UUID {
		t.Fatalf("subcontainer identities = %v", first)
	}
}

func TestListSubcontainersGenerationSuffix(t *testing.T) {
	// Two distinct directories rendering the identical (categories,
	// title) pair. Sorted traversal puts dir1 first; dir2's title gets
	// the generation suffix.
	inner := fixtureBackend(
		"/dir1/@topic_notes.txt/f1",
		"/dir2/@topic_notes.txt/f2",
	)
	b := New(inner, nil)

	subs, err := b.ListSubcontainers(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 2 {
		t.Fatalf("got %d subcontainers, want 2", len(subs))
	}
	if subs[0].Title != "notes.txt" {
		t.Errorf("first title = %q", subs[0].Title)
	}
	if subs[1].Title != "notes.wl_1.txt" {
		t.Errorf("second title = %q, want notes.wl_1.txt", subs[1].Title)
	}
}

func TestProxyIsReadOnly(t *testing.T) {
	inner := fixtureBackend("/f")
	b := New(inner, nil)
	if !b.ReadOnly() {
		t.Fatal("proxy not read-only")
	}
	if _, err := b.Create("/g"); err != storage.ErrReadOnly {
		t.Errorf("Create error = %v", err)
	}
}

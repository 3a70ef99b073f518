package cachemanager

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
)

func TestDefaultTemplates(t *testing.T) {
	tmpls := DefaultTemplates()
	if len(tmpls) != 3 {
		t.Fatalf("expected three built-in templates, got %d", len(tmpls))
	}
	page := tmpls[TemplatePage]
	if page.Frontend.Name != "Capture" || page.Backend.Name != "Static" {
		t.Fatalf("unexpected page template: %+v", page)
	}
	if page.Backend.Options[OptionTagCache] != TemplatePageTag {
		t.Fatalf("page must tag through pagetag: %+v", page.Backend.Options)
	}
	if tmpls[TemplatePageTag].Frontend.Options["lifetime"] != 0 {
		t.Fatalf("pagetag entries must not expire")
	}

	// Every call returns fresh maps.
	tmpls[TemplateDefault].Backend.Options["cache_dir"] = "/changed"
	if DefaultTemplates()[TemplateDefault].Backend.Options["cache_dir"] != "../cache" {
		t.Fatalf("default templates share state between calls")
	}
}

func TestTemplateRegistryReturnsCopies(t *testing.T) {
	r := NewEmptyTemplateRegistry()
	if r.Has(TemplateDefault) {
		t.Fatalf("empty registry has built-ins")
	}
	r.Set("foo", Template{Backend: BackendConfig{Name: "Memory", Options: Options{"cleanup_interval": 1}}})

	got, ok := r.Get("foo")
	if !ok {
		t.Fatalf("expected foo")
	}
	got.Backend.Options["cleanup_interval"] = 99
	again, _ := r.Get("foo")
	if again.Backend.Options["cleanup_interval"] != 1 {
		t.Fatalf("registry handed out shared options")
	}
	if _, ok := r.Get("Foo"); ok {
		t.Fatalf("lookups must be case-sensitive")
	}
}

func TestTemplateRegistryUpdate(t *testing.T) {
	r := NewTemplateRegistry()
	found, err := r.Update("missing", func(cur Template) (Template, error) { return cur, nil })
	if found || err != nil {
		t.Fatalf("expected not found, got found=%v err=%v", found, err)
	}

	boom := errors.New("boom")
	found, err = r.Update(TemplateDefault, func(cur Template) (Template, error) {
		cur.Backend.Name = "Memory"
		return cur, boom
	})
	if !found || !errors.Is(err, boom) {
		t.Fatalf("expected found with error, got found=%v err=%v", found, err)
	}
	if got, _ := r.Get(TemplateDefault); got.Backend.Name != "File" {
		t.Fatalf("failed update must not be stored")
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = r.Update(TemplateDefault, func(cur Template) (Template, error) {
				n, _ := cur.Frontend.Options["counter"].(int)
				cur.Frontend.Options["counter"] = n + 1
				return cur, nil
			})
		}()
	}
	wg.Wait()
	if got, _ := r.Get(TemplateDefault); got.Frontend.Options["counter"] != 20 {
		t.Fatalf("expected serialized updates, got %v", got.Frontend.Options["counter"])
	}
}

func TestTemplateRegistryNamesSorted(t *testing.T) {
	r := NewTemplateRegistry()
	r.Set("alpha", Template{})
	want := []string{"alpha", TemplateDefault, TemplatePage, TemplatePageTag}
	if got := r.Names(); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected names %v", got)
	}
}

func TestRegisterTemplateConcurrentNewName(t *testing.T) {
	m := NewManager()
	const writers = 16
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i)
			if err := m.RegisterTemplate("fresh", Template{Backend: BackendConfig{Name: "Memory", Options: Options{key: i}}}); err != nil {
				t.Errorf("register failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	tmpl, err := m.GetCacheTemplate("fresh")
	if err != nil {
		t.Fatalf("get template: %v", err)
	}
	if len(tmpl.Backend.Options) != writers {
		t.Fatalf("expected every registration merged, got %v", tmpl.Backend.Options)
	}
}

func TestTemplateRegistryUpsert(t *testing.T) {
	r := NewEmptyTemplateRegistry()
	var seen []bool
	fn := func(current *Template) (Template, error) {
		seen = append(seen, current != nil)
		return MergeTemplate(current, Template{Backend: BackendConfig{Name: "Memory"}})
	}
	if err := r.Upsert("x", fn); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if err := r.Upsert("x", fn); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if len(seen) != 2 || seen[0] || !seen[1] {
		t.Fatalf("unexpected current templates %v", seen)
	}
	boom := errors.New("boom")
	if err := r.Upsert("y", func(*Template) (Template, error) { return Template{}, boom }); !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}
	if r.Has("y") {
		t.Fatalf("failed upsert must not store a template")
	}
}

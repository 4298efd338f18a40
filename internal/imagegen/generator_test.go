package imagegen

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWritePage(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	g := NewPageGenerator(dir, "https://tunnel.example.com/")

	page, err := g.WritePage("a red bicycle", "+33612345678")
	if err != nil {
		t.Fatalf("write page: %v", err)
	}
	if !strings.HasPrefix(page.Filename, "puter_") || !strings.HasSuffix(page.Filename, ".html") {
		t.Fatalf("filename = %q", page.Filename)
	}
	if page.LocalURL != "/puter-page/"+page.Filename {
		t.Fatalf("local URL = %q", page.LocalURL)
	}
	if page.FullURL != "https://tunnel.example.com/puter-page/"+page.Filename {
		t.Fatalf("full URL = %q", page.FullURL)
	}

	b, err := os.ReadFile(filepath.Join(dir, page.Filename))
	if err != nil {
		t.Fatalf("read page: %v", err)
	}
	html := string(b)
	for _, want := range []string{
		"js.puter.com/v2",
		"a red bicycle",
		"/api/process-puter-image",
		"/api/send-whatsapp-direct",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("page missing %q", want)
		}
	}
}

func TestWritePageEscapesPrompt(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	g := NewPageGenerator(dir, "https://tunnel.example.com")

	page, err := g.WritePage(`</script><script>alert(1)`, "+336")
	if err != nil {
		t.Fatalf("write page: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(dir, page.Filename))
	if err != nil {
		t.Fatalf("read page: %v", err)
	}
	if strings.Contains(string(b), "<script>alert(1)") {
		t.Fatal("prompt was injected unescaped into the page")
	}
}

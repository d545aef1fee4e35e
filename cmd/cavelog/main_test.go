package main

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := "capture:\n  level: body\nstore:\n  path: " + filepath.Join(dir, "cavelog.db") + "\nlog:\n  level: error\n"
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func run(t *testing.T, args ...string) (string, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		t.Fatalf("cavelog %s: %v\n%s", strings.Join(args, " "), err, errOut.String())
	}
	return out.String(), errOut.String()
}

func TestFetchListShowExportImportClear(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"echo":`+string(body)+`}`)
	}))
	defer upstream.Close()
	cfg := writeConfig(t)

	out, lines := run(t, "--config", cfg, "fetch", "-X", "post", "-d", `{"a":1}`, "-H", "Authorization: Bearer x", upstream.URL+"/echo")
	if out != `{"echo":{"a":1}}` {
		t.Fatalf("unexpected fetch output %q", out)
	}
	if !strings.Contains(lines, "--> POST "+upstream.URL+"/echo") || strings.Contains(lines, "Bearer x") {
		t.Fatalf("unexpected capture lines:\n%s", lines)
	}

	out, _ = run(t, "--config", cfg, "list")
	if !strings.Contains(out, "POST") || !strings.Contains(out, "200") {
		t.Fatalf("unexpected list output:\n%s", out)
	}

	out, _ = run(t, "--config", cfg, "show", "--id", "1")
	if !strings.Contains(out, "Authorization: ██") || !strings.Contains(out, `"echo"`) {
		t.Fatalf("unexpected show output:\n%s", out)
	}

	harPath := filepath.Join(t.TempDir(), "out.har")
	run(t, "--config", cfg, "export", "--out", harPath)
	out, _ = run(t, "--config", cfg, "import", "--har", harPath)
	if !strings.Contains(out, "imported 1 exchanges") {
		t.Fatalf("unexpected import output %q", out)
	}
	out, _ = run(t, "--config", cfg, "list", "--method", "POST")
	if strings.Count(out, "POST") != 2 {
		t.Fatalf("expected original and imported rows:\n%s", out)
	}

	run(t, "--config", cfg, "delete", "--id", "1")
	run(t, "--config", cfg, "clear")
	out, _ = run(t, "--config", cfg, "list")
	if strings.Contains(out, "POST") {
		t.Fatalf("expected empty list after clear:\n%s", out)
	}
}

func TestFetchRejectsBadHeader(t *testing.T) {
	cfg := writeConfig(t)
	root := newRootCmd()
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"--config", cfg, "fetch", "-H", "nocolon", "http://127.0.0.1:1/"})
	if err := root.Execute(); err == nil {
		t.Fatalf("expected header parse error")
	}
}

package cmdutil

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestEnvString(t *testing.T) {
	t.Setenv("PLTEST_STR", "  value  ")
	if got := EnvString("PLTEST_STR", "fb"); got != "value" {
		t.Fatalf("got %q, want %q", got, "value")
	}
	t.Setenv("PLTEST_STR", "")
	if got := EnvString("PLTEST_STR", "fb"); got != "fb" {
		t.Fatalf("got %q, want fallback", got)
	}
}

func TestEnvBool(t *testing.T) {
	t.Setenv("PLTEST_BOOL", "true")
	v, err := EnvBool("PLTEST_BOOL", false)
	if err != nil || !v {
		t.Fatalf("got (%v, %v), want (true, nil)", v, err)
	}
	t.Setenv("PLTEST_BOOL", "nope")
	if _, err := EnvBool("PLTEST_BOOL", false); err == nil {
		t.Fatal("expected parse error")
	}
	t.Setenv("PLTEST_BOOL", "")
	v, err = EnvBool("PLTEST_BOOL", true)
	if err != nil || !v {
		t.Fatalf("got (%v, %v), want fallback (true, nil)", v, err)
	}
}

func TestEnvInt(t *testing.T) {
	t.Setenv("PLTEST_INT", "42")
	v, err := EnvInt("PLTEST_INT", 7)
	if err != nil || v != 42 {
		t.Fatalf("got (%d, %v), want (42, nil)", v, err)
	}
	t.Setenv("PLTEST_INT", "x")
	if _, err := EnvInt("PLTEST_INT", 7); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEnvDuration(t *testing.T) {
	t.Setenv("PLTEST_DUR", "150ms")
	v, err := EnvDuration("PLTEST_DUR", time.Second)
	if err != nil || v != 150*time.Millisecond {
		t.Fatalf("got (%v, %v), want (150ms, nil)", v, err)
	}
	t.Setenv("PLTEST_DUR", "")
	v, err = EnvDuration("PLTEST_DUR", time.Second)
	if err != nil || v != time.Second {
		t.Fatalf("got (%v, %v), want fallback", v, err)
	}
}

func TestSplitCSVEnv(t *testing.T) {
	t.Setenv("PLTEST_CSV", " a, b ,, c ")
	if got := SplitCSVEnv("PLTEST_CSV"); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("got %v", got)
	}
	t.Setenv("PLTEST_CSV", "")
	if got := SplitCSVEnv("PLTEST_CSV"); got != nil {
		t.Fatalf("got %v, want nil", got)
	}
}

func TestRefuseOverwrite(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "present")
	if err := os.WriteFile(existing, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := RefuseOverwrite(existing, false); !IsUsage(err) {
		t.Fatalf("got %v, want usage error", err)
	}
	if err := RefuseOverwrite(existing, true); err != nil {
		t.Fatalf("overwrite=true: %v", err)
	}
	if err := RefuseOverwrite(filepath.Join(dir, "absent"), false); err != nil {
		t.Fatalf("absent file: %v", err)
	}
	if err := RefuseOverwrite("", false); err != nil {
		t.Fatalf("empty path: %v", err)
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, map[string]string{"k": "v"}, false); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.HasSuffix(out, "\n") {
		t.Fatal("missing trailing newline")
	}
	if !strings.Contains(out, `"k":"v"`) {
		t.Fatalf("unexpected output %q", out)
	}

	buf.Reset()
	if err := WriteJSON(&buf, map[string]string{"k": "v"}, true); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "  \"k\": \"v\"") {
		t.Fatalf("pretty output %q not indented", buf.String())
	}
}

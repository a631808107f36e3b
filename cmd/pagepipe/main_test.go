package main

import (
	"archive/zip"
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func pngBytes(t *testing.T, w, h int, c color.NRGBA) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// fixture writes a three-page cbz with a manifest and moves into its
// directory.
func fixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("XDG_CONFIG_HOME", dir)

	path := filepath.Join(dir, "book.cbz")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	members := []struct {
		name string
		data []byte
	}{
		{"p10.png", pngBytes(t, 8, 6, color.NRGBA{R: 255, A: 255})},
		{"p2.png", pngBytes(t, 8, 6, color.NRGBA{G: 255, A: 255})},
		{"p1.png", pngBytes(t, 8, 6, color.NRGBA{B: 255, A: 255})},
		{"manifest.toml", []byte("[meta]\ntitle = \"Test Book\"\nreading_direction = \"rtl\"\n\n[pages]\nstandalone = [2]\nurls = [\"https://example.com\"]\n")},
	}
	for _, m := range members {
		w, err := zw.Create(m.name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(m.data); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestInspect(t *testing.T) {
	path := fixture(t)

	out, err := run(t, "inspect", path)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	for _, want := range []string{"pages:     3", "Test Book", "direction: rtl", "standalone: 2", "p1.png", "png"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	// Natural order: p1 before p2 before p10.
	if i, j, k := strings.Index(out, "p1.png"), strings.Index(out, "p2.png"), strings.Index(out, "p10.png"); i > j || j > k {
		t.Errorf("pages out of order:\n%s", out)
	}
}

func TestManifest(t *testing.T) {
	path := fixture(t)

	out, err := run(t, "manifest", path)
	if err != nil {
		t.Fatalf("manifest: %v", err)
	}
	for _, want := range []string{"Test Book", "rtl", "https://example.com"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRender(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		w, h  int
		left  color.NRGBA // pixel at (0, 0)
		pages string
	}{
		{"single", []string{"--page", "1"}, 8, 6, color.NRGBA{G: 255, A: 255}, "pages 1,"},
		{"dual rtl from manifest", []string{"--layout", "dual"}, 16, 6, color.NRGBA{G: 255, A: 255}, "pages 1+0"},
		{"dual ltr", []string{"--layout", "dual", "--direction", "ltr"}, 16, 6, color.NRGBA{B: 255, A: 255}, "pages 0+1"},
		{"standalone", []string{"--layout", "dual", "--page", "2"}, 8, 6, color.NRGBA{R: 255, A: 255}, "pages 2,"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := fixture(t)
			outPNG := filepath.Join(filepath.Dir(path), "out.png")

			args := append([]string{"render", path, "--out", outPNG}, tt.args...)
			out, err := run(t, args...)
			if err != nil {
				t.Fatalf("render: %v", err)
			}
			if !strings.Contains(out, tt.pages) {
				t.Errorf("output %q missing %q", out, tt.pages)
			}

			f, err := os.Open(outPNG)
			if err != nil {
				t.Fatal(err)
			}
			defer f.Close()
			img, err := png.Decode(f)
			if err != nil {
				t.Fatal(err)
			}
			if b := img.Bounds(); b.Dx() != tt.w || b.Dy() != tt.h {
				t.Errorf("size %dx%d, want %dx%d", b.Dx(), b.Dy(), tt.w, tt.h)
			}
			if got := color.NRGBAModel.Convert(img.At(0, 0)).(color.NRGBA); got != tt.left {
				t.Errorf("pixel (0,0) = %v, want %v", got, tt.left)
			}
		})
	}
}

func TestRenderErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"out of range", []string{"--page", "9"}},
		{"bad layout", []string{"--layout", "triple"}},
		{"bad direction", []string{"--direction", "up"}},
		{"bad log level", []string{"--log-level", "loud"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := fixture(t)
			args := append([]string{"render", path, "--out", filepath.Join(t.TempDir(), "x.png")}, tt.args...)
			if _, err := run(t, args...); err == nil {
				t.Error("render succeeded, want error")
			}
		})
	}
}

func TestLogFile(t *testing.T) {
	path := fixture(t)
	logPath := filepath.Join(filepath.Dir(path), "pagepipe.log")

	if _, err := run(t, "--log-level", "debug", "--log-file", logPath, "inspect", path); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"msg":"archive: opened"`) {
		t.Errorf("log file missing archive message:\n%s", data)
	}
}

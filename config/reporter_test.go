package config

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func readArchive(t *testing.T, name string) map[string]string {
	t.Helper()
	zr, err := zip.OpenReader(name)
	if err != nil {
		t.Fatalf("zip.OpenReader() error = %v", err)
	}
	defer zr.Close()

	files := make(map[string]string)
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("Open(%s) error = %v", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("ReadAll(%s) error = %v", f.Name, err)
		}
		files[f.Name] = string(data)
	}
	return files
}

func TestReport_Archive(t *testing.T) {
	dir := t.TempDir()
	conf := ReporterConfig{Destination: filepath.Join(dir, "report.zip")}
	rpt, err := conf.Prepare()
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}

	stored := filepath.Join(dir, "stored.txt")
	if err := os.WriteFile(stored, []byte("late content"), 0644); err != nil {
		t.Fatal(err)
	}
	copied := filepath.Join(dir, "copied.css")
	if err := os.WriteFile(copied, []byte("early content"), 0644); err != nil {
		t.Fatal(err)
	}

	rpt.Store("stored.txt", stored)
	if err := rpt.StoreCopy("copied.css", copied); err != nil {
		t.Fatalf("StoreCopy() error = %v", err)
	}
	rpt.StoreData("data.txt", []byte("one"))
	rpt.StoreData("data.txt", []byte("two"))

	// Store keeps the path, StoreCopy keeps the content at the time of call
	if err := os.WriteFile(copied, []byte("changed"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := rpt.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if rpt.Name() != conf.Destination {
		t.Errorf("Name() = %q, want %q", rpt.Name(), conf.Destination)
	}

	files := readArchive(t, conf.Destination)
	if !strings.Contains(files["MANIFEST"], "stored.txt") {
		t.Errorf("MANIFEST does not list entries:\n%s", files["MANIFEST"])
	}
	if files["stored.txt"] != "late content" {
		t.Errorf("stored.txt = %q", files["stored.txt"])
	}
	if files["copied.css"] != "early content" {
		t.Errorf("copied.css = %q, archive: %v", files["copied.css"], files)
	}
	if files["data.txt"] != "one" {
		t.Errorf("data.txt = %q", files["data.txt"])
	}
	var versioned bool
	for name, content := range files {
		if strings.HasPrefix(name, "data.txt-") && content == "two" {
			versioned = true
		}
	}
	if !versioned {
		t.Errorf("repeated StoreData was not versioned: %v", files)
	}
}

func TestReport_CloseRemovesCopies(t *testing.T) {
	dir := t.TempDir()
	rpt, err := (&ReporterConfig{Destination: filepath.Join(dir, "report.zip")}).Prepare()
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}

	src := filepath.Join(dir, "tree")
	if err := os.MkdirAll(filepath.Join(src, "fonts.example"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "fonts.example", "a.woff2"), []byte("font"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := rpt.StoreCopy("output", src); err != nil {
		t.Fatalf("StoreCopy() error = %v", err)
	}
	if len(rpt.temps) != 1 {
		t.Fatalf("expected one temporary copy, got %d", len(rpt.temps))
	}
	tmp := rpt.temps[0]

	if err := rpt.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := os.Stat(tmp); !os.IsNotExist(err) {
		os.RemoveAll(tmp)
		t.Errorf("expected temporary copy to be removed")
	}
	// source is left alone
	if _, err := os.Stat(filepath.Join(src, "fonts.example", "a.woff2")); err != nil {
		t.Errorf("source file should not be removed: %v", err)
	}

	files := readArchive(t, filepath.Join(dir, "report.zip"))
	if files["output/fonts.example/a.woff2"] != "font" {
		t.Errorf("directory copy missing from archive: %v", files)
	}
}

func TestReport_Nil(t *testing.T) {
	var r *Report
	r.Store("a", "b")
	r.StoreData("a", []byte("b"))
	if err := r.StoreCopy("a", "/nonexistent"); err != nil {
		t.Errorf("StoreCopy on nil report error = %v", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("Close on nil report should not error, got: %v", err)
	}
	if r.Name() != "" {
		t.Errorf("Name() on nil report = %q", r.Name())
	}
}

func TestReportClose_NilFile(t *testing.T) {
	r := &Report{entries: make(map[string]entry)}
	if err := r.Close(); err != nil {
		t.Errorf("Close with nil file should not error, got: %v", err)
	}
}

package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ligustah/fetchkit/internal/database"
	"github.com/ligustah/fetchkit/internal/network"
	"github.com/ligustah/fetchkit/internal/testutils"
)

func TestMain(m *testing.M) {
	// The test servers listen on loopback only.
	prober = network.ProberFunc(func(context.Context) network.Status {
		return network.Status{Connected: true}
	})
	os.Exit(m.Run())
}

func TestRunUsage(t *testing.T) {
	if code := run(nil); code != ExitInvalidArgs {
		t.Errorf("no args: got exit %d, want %d", code, ExitInvalidArgs)
	}
	if code := run([]string{"help"}); code != ExitSuccess {
		t.Errorf("help: got exit %d, want %d", code, ExitSuccess)
	}
	if code := run([]string{"frobnicate"}); code != ExitInvalidArgs {
		t.Errorf("unknown command: got exit %d, want %d", code, ExitInvalidArgs)
	}
}

func TestFileNameFor(t *testing.T) {
	tests := []struct {
		url     string
		want    string
		wantErr bool
	}{
		{url: "https://example.com/files/data.bin", want: "data.bin"},
		{url: "http://example.com/a/b/c.tar.gz?sig=1", want: "c.tar.gz"},
		{url: "https://example.com/", wantErr: true},
		{url: "ftp://example.com/data.bin", wantErr: true},
	}
	for _, tt := range tests {
		got, err := fileNameFor(tt.url)
		if tt.wantErr {
			if err == nil {
				t.Errorf("fileNameFor(%q) = %q, want error", tt.url, got)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("fileNameFor(%q) = %q, %v; want %q", tt.url, got, err, tt.want)
		}
	}
}

func TestHeaderFlags(t *testing.T) {
	h := headerFlags{}
	if err := h.Set("Authorization: Bearer abc"); err != nil {
		t.Fatal(err)
	}
	if h["Authorization"] != "Bearer abc" {
		t.Errorf("got %q", h["Authorization"])
	}
	if err := h.Set("no-colon"); err == nil {
		t.Error("expected error for malformed header")
	}
}

func TestDownloadListRemove(t *testing.T) {
	data := testutils.GenerateTestData(300 * 1024)
	srv := testutils.StartTestHTTPServer(t, []testutils.TestFile{{Name: "payload.bin", Data: data}})

	dbDir := t.TempDir()
	outDir := t.TempDir()
	common := []string{
		"-namespace", "cli",
		"-db-dir", dbDir,
		"-output-dir", outDir,
		"-temp-bucket", "mem://",
		"-log-level", "error",
	}

	args := append([]string{"download"}, common...)
	args = append(args,
		"-segment-size", "64KiB",
		"-checksum", testutils.Checksum(data),
		"-verify",
		srv.FileURL("payload.bin"),
	)
	if code := run(args); code != ExitSuccess {
		t.Fatalf("download: got exit %d", code)
	}

	f, err := os.Open(filepath.Join(outDir, "payload.bin"))
	if err != nil {
		t.Fatal(err)
	}
	testutils.CompareReaderToData(t, f, data)
	f.Close()

	// A completed record is not downloaded again.
	gets := srv.Gets()
	if code := run(args); code != ExitSuccess {
		t.Fatalf("second download: got exit %d", code)
	}
	if srv.Gets() != gets {
		t.Errorf("completed download was fetched again")
	}

	if code := run(append([]string{"list"}, common...)); code != ExitSuccess {
		t.Fatalf("list: got exit %d", code)
	}

	if code := run(append(append([]string{"remove"}, common...), "12345")); code != ExitNotFound {
		t.Errorf("remove unknown id: got exit %d, want %d", code, ExitNotFound)
	}
}

func TestDownloadFailureExitCode(t *testing.T) {
	srv := testutils.StartTestHTTPServer(t, nil)

	code := run([]string{
		"download",
		"-namespace", "failing",
		"-db-dir", t.TempDir(),
		"-output-dir", t.TempDir(),
		"-log-level", "error",
		srv.FileURL("missing.bin"),
	})
	if code != ExitDownloadFailed {
		t.Errorf("got exit %d, want %d", code, ExitDownloadFailed)
	}
}

func TestDownloadInvalidArgs(t *testing.T) {
	if code := run([]string{"download"}); code != ExitInvalidArgs {
		t.Errorf("no URL: got exit %d", code)
	}
	code := run([]string{"download", "-file", "x", "http://a/1", "http://a/2"})
	if code != ExitInvalidArgs {
		t.Errorf("-file with two URLs: got exit %d", code)
	}
	code = run([]string{"download", "-db-dir", t.TempDir(), "-temp-bucket", "bogus://x", "http://a/1"})
	if code != ExitStorageError {
		t.Errorf("bad temp bucket: got exit %d, want %d", code, ExitStorageError)
	}
}

func TestResume(t *testing.T) {
	common := []string{"-namespace", "idle", "-db-dir", t.TempDir(), "-log-level", "error"}
	if code := run(append([]string{"resume"}, common...)); code != ExitSuccess {
		t.Errorf("resume with nothing to do: got exit %d", code)
	}
	if code := run(append(append([]string{"resume"}, common...), "42")); code != ExitNotFound {
		t.Errorf("resume unknown id: got exit %d, want %d", code, ExitNotFound)
	}
	if code := run([]string{"resume", "not-a-number"}); code != ExitInvalidArgs {
		t.Errorf("resume bad id: got exit %d", code)
	}
}

func TestSettleWatchIgnoresOtherDownloads(t *testing.T) {
	w := newSettleWatch([]int{1, 2, 2})

	// A busy namespace: many unrelated downloads settle first.
	for id := 100; id < 200; id++ {
		w.notify(database.DownloadInfo{ID: id, Status: database.StatusFailed})
	}
	w.notify(database.DownloadInfo{ID: 1, Status: database.StatusCompleted})
	w.notify(database.DownloadInfo{ID: 1, Status: database.StatusFailed})
	w.notify(database.DownloadInfo{ID: 2, Status: database.StatusFailed})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	failed, err := w.wait(ctx)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if failed != 1 {
		t.Errorf("got %d failures, want 1", failed)
	}
}

func TestSettleWatchCancelled(t *testing.T) {
	w := newSettleWatch([]int{1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := w.wait(ctx); err != context.Canceled {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

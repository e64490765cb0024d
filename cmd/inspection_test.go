package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func newDeviceFlagsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "photo"}
	cmd.Flags().String("image", "", "")
	cmd.Flags().Float64("lat", 0, "")
	cmd.Flags().Float64("lon", 0, "")
	return cmd
}

func TestDeviceFromFlagsRequiresBothCoordinates(t *testing.T) {
	t.Parallel()

	cmd := newDeviceFlagsCmd()
	if err := cmd.ParseFlags([]string{"--image", "frame.jpg", "--lat", "-12.04"}); err != nil {
		t.Fatalf("ParseFlags() error = %v", err)
	}
	if _, err := deviceFromFlags(cmd); err == nil {
		t.Fatalf("deviceFromFlags() expected error when only --lat is set")
	}

	cmd = newDeviceFlagsCmd()
	if err := cmd.ParseFlags([]string{"--image", "frame.jpg", "--lat", "-12.04", "--lon", "-77.03"}); err != nil {
		t.Fatalf("ParseFlags() error = %v", err)
	}
	if _, err := deviceFromFlags(cmd); err != nil {
		t.Fatalf("deviceFromFlags() error = %v", err)
	}
}

func TestResolveSignature(t *testing.T) {
	t.Parallel()

	newCmd := func() *cobra.Command {
		cmd := &cobra.Command{Use: "finalize"}
		cmd.Flags().String("signature", "", "")
		cmd.Flags().String("signature-file", "", "")
		return cmd
	}

	cmd := newCmd()
	if err := cmd.ParseFlags([]string{"--signature", "  firma  "}); err != nil {
		t.Fatalf("ParseFlags() error = %v", err)
	}
	got, err := resolveSignature(cmd)
	if err != nil {
		t.Fatalf("resolveSignature() error = %v", err)
	}
	if string(got) != "firma" {
		t.Fatalf("resolveSignature() = %q, want firma", got)
	}

	path := filepath.Join(t.TempDir(), "signature.png")
	if err := os.WriteFile(path, []byte("png-bytes"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	cmd = newCmd()
	if err := cmd.ParseFlags([]string{"--signature-file", path}); err != nil {
		t.Fatalf("ParseFlags() error = %v", err)
	}
	got, err = resolveSignature(cmd)
	if err != nil {
		t.Fatalf("resolveSignature() error = %v", err)
	}
	if string(got) != "png-bytes" {
		t.Fatalf("resolveSignature() = %q, want png-bytes", got)
	}

	cmd = newCmd()
	if err := cmd.ParseFlags([]string{"--signature", "firma", "--signature-file", path}); err != nil {
		t.Fatalf("ParseFlags() error = %v", err)
	}
	if _, err := resolveSignature(cmd); err == nil {
		t.Fatalf("resolveSignature() expected error when both flags are set")
	}
}

func TestInspectionCommandsOffline(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("FI_DATABASE_DSN", filepath.Join(dir, "local.sqlite"))
	t.Setenv("FI_STORAGE_BLOB_DIR", filepath.Join(dir, "blobs"))
	t.Setenv("FI_APP_INSPECTOR_ID", "insp-1")

	run := func(args ...string) string {
		t.Helper()
		var out bytes.Buffer
		rootCmd.SetOut(&out)
		rootCmd.SetErr(&bytes.Buffer{})
		rootCmd.SetArgs(args)
		t.Cleanup(func() {
			rootCmd.SetOut(nil)
			rootCmd.SetErr(nil)
			rootCmd.SetArgs(nil)
		})
		if err := Execute(context.Background()); err != nil {
			t.Fatalf("Execute(%v) error = %v", args, err)
		}
		return out.String()
	}

	if out := run("init-db"); !strings.Contains(out, "local store ready") {
		t.Fatalf("init-db output = %q", out)
	}
	if out := run("inspection", "adhoc", "--plate", "abc-123"); !strings.Contains(out, "started inspection 1") {
		t.Fatalf("adhoc output = %q", out)
	}
	if out := run("inspection", "verdict", "--id", "1", "--item", "brakes", "--value", "fail", "--observation", "pastillas gastadas"); !strings.Contains(out, "result=RECHAZADO") {
		t.Fatalf("verdict output = %q", out)
	}
	if out := run("inspection", "score", "--id", "1"); !strings.Contains(out, "critical_fail=true") {
		t.Fatalf("score output = %q", out)
	}
	if out := run("inspection", "list"); !strings.Contains(out, "result=RECHAZADO") {
		t.Fatalf("list output = %q", out)
	}
}

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/convtran/internal/logger"
	"github.com/samcharles93/convtran/internal/modelutil"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	return logger.WithContext(context.Background(), logger.Discard())
}

var smallArch = []string{
	"--c-in", "3", "--seq-len", "20",
	"--emb-size", "8", "--num-heads", "2", "--dim-ff", "16",
}

func TestInitSummaryTransfer(t *testing.T) {
	ctx := testContext(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "src.safetensors")
	dst := filepath.Join(dir, "dst.safetensors")

	args := append([]string{"init", "--out", src, "--c-out", "4", "--seed", "11"}, smallArch...)
	if err := initCmd().Run(ctx, args); err != nil {
		t.Fatalf("init: %v", err)
	}
	m, err := modelutil.LoadModel(src)
	if err != nil {
		t.Fatalf("LoadModel: %v", err)
	}
	if m.Config.COut != 4 || m.Config.Seed != 11 || m.Config.EmbSize != 8 {
		t.Fatalf("unexpected config %+v", m.Config)
	}

	var buf bytes.Buffer
	if err := writeSummary(&buf, m, true); err != nil {
		t.Fatalf("writeSummary: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"PARAMS", "head.2", "(batch, 8, 20)", "(batch, 4)", "Statistics"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}

	args = append([]string{"transfer", "--source", src, "--out", dst, "--c-out", "2", "--seed", "12"}, smallArch...)
	if err := transferCmd().Run(ctx, args); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	a, err := modelutil.LoadCheckpoint(src)
	if err != nil {
		t.Fatal(err)
	}
	b, err := modelutil.LoadCheckpoint(dst)
	if err != nil {
		t.Fatal(err)
	}
	const name = "backbone.attention_layer.query.weight"
	if diff := cmp.Diff(a.Tensors[name].Data(), b.Tensors[name].Data()); diff != "" {
		t.Errorf("%s not transferred (-src +dst):\n%s", name, diff)
	}
	if got := b.Tensors["head.2.weight"].Shape(); !cmp.Equal(got, []int{2, 8}) {
		t.Errorf("head weight shape %v", got)
	}
}

func TestResolveModelConfigFromYAML(t *testing.T) {
	testContext(t)
	path := filepath.Join(t.TempDir(), "model.yaml")
	yaml := "c_in: 2\nc_out: 3\nseq_len: 10\nemb_size: 4\nnum_heads: 2\nrel_pos_encode: vector\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	var arch architectureFlags
	cmd := &cli.Command{
		Name:   "init",
		Flags:  arch.flags(),
		Action: func(context.Context, *cli.Command) error { return nil },
	}
	if err := cmd.Run(context.Background(), []string{"init", "--c-out", "5"}); err != nil {
		t.Fatal(err)
	}
	cfg, err := resolveModelConfig(cmd, path, &arch)
	if err != nil {
		t.Fatalf("resolveModelConfig: %v", err)
	}
	if cfg.CIn != 2 || cfg.COut != 5 || cfg.EmbSize != 4 || cfg.RelPosEncode != "vector" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestUserConfig(t *testing.T) {
	home := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", home)
	if got := LoadConfig(); !cmp.Equal(got, Config{}) {
		t.Fatalf("missing file should give zero config, got %+v", got)
	}

	if err := os.MkdirAll(filepath.Join(home, "convtran"), 0o755); err != nil {
		t.Fatal(err)
	}
	body := "log_level: debug\nlog_format: json\nserver_address: 0.0.0.0:9000\nstore_size: 8\n"
	if err := os.WriteFile(filepath.Join(home, "convtran", "config.yaml"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := LoadConfig()
	if cfg.LogLevel != "debug" || cfg.LogFormat != "json" || cfg.ServerAddress != "0.0.0.0:9000" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.StoreSize == nil || *cfg.StoreSize != 8 {
		t.Fatalf("store size %v", cfg.StoreSize)
	}
}

func TestPackInputs(t *testing.T) {
	t.Parallel()

	x, err := packInputs([][][]float32{
		{{1, 2, 3}, {4, 5, 6}},
		{{7, 8, 9}, {10, 11, 12}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int{2, 2, 3}, x.Shape()); diff != "" {
		t.Fatalf("shape (-want +got):\n%s", diff)
	}
	if x.At(1, 0, 2) != 9 {
		t.Fatalf("x[1,0,2] = %v", x.At(1, 0, 2))
	}

	for _, bad := range [][][][]float32{
		nil,
		{{{1, 2}}, {{1, 2}, {3, 4}}},
		{{{1, 2}, {3}}},
	} {
		if _, err := packInputs(bad); err == nil {
			t.Errorf("packInputs(%v) should fail", bad)
		}
	}
}

func TestReadPredictRequest(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	tests := []struct {
		name    string
		body    string
		want    [][][]float32
		wantErr bool
	}{
		{name: "valid", body: `{"inputs":[[[1,2],[3,4]]]}`, want: [][][]float32{{{1, 2}, {3, 4}}}},
		{name: "unknown field", body: `{"inputs":[[[1,2]]],"temperature":1}`, wantErr: true},
		{name: "malformed", body: `{"inputs":`, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(dir, strings.ReplaceAll(tc.name, " ", "_")+".json")
			if err := os.WriteFile(path, []byte(tc.body), 0o644); err != nil {
				t.Fatal(err)
			}
			req, err := readPredictRequest(path)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for %s", tc.body)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tc.want, req.Inputs); diff != "" {
				t.Fatalf("inputs (-want +got):\n%s", diff)
			}
		})
	}
}

func TestWritePrediction(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "out.json")
	want := predictOutput{Shape: []int{1, 2}, Data: []float32{0.25, -1.5}}
	if err := writePrediction(path, want); err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var got predictOutput
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("decode %q: %v", raw, err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("written prediction (-want +got):\n%s", diff)
	}

	if err := writePrediction(filepath.Join(dir, "missing", "out.json"), want); err == nil {
		t.Fatal("expected error for a missing directory")
	}
}

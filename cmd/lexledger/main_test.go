package main

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strings"
	"testing"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	t.Setenv("LEDGER_STORE_DRIVER", "memory")
	t.Setenv("LEDGER_BLOB_ROOT", t.TempDir())

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("%v: %v", args, err)
	}
	return out.String()
}

func TestKeygen(t *testing.T) {
	out := strings.TrimSpace(execute(t, "keygen"))
	key, err := hex.DecodeString(out)
	if err != nil {
		t.Fatal(err)
	}
	if len(key) != 32 {
		t.Errorf("key is %d bytes, want 32", len(key))
	}
}

func TestSweep(t *testing.T) {
	out := execute(t, "sweep")
	if !strings.Contains(out, "0 invoice(s) marked overdue") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestSummary(t *testing.T) {
	out := execute(t, "summary", "--case", "case-1")

	var got map[string]json.RawMessage
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	for _, k := range []string{"billing", "timeline", "documents"} {
		if _, ok := got[k]; !ok {
			t.Errorf("missing %q section", k)
		}
	}
}

func TestActivity(t *testing.T) {
	out := execute(t, "activity", "--user", "alice", "--days", "7")

	var got struct {
		Actor   string `json:"actor"`
		Entries int    `json:"entries"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if got.Actor != "alice" || got.Entries != 0 {
		t.Errorf("unexpected activity %+v", got)
	}
}

// Runs last: cobra keeps flag values between executions.
func TestKeygenSalt(t *testing.T) {
	out := strings.TrimSpace(execute(t, "keygen", "--salt"))
	salt, err := base64.StdEncoding.DecodeString(out)
	if err != nil {
		t.Fatal(err)
	}
	if len(salt) != 16 {
		t.Errorf("salt is %d bytes, want 16", len(salt))
	}
}

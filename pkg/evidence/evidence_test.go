package evidence

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/zen-systems/vizflow/pkg/adapter"
	"github.com/zen-systems/vizflow/pkg/artifact"
)

func TestEvidenceWriter(t *testing.T) {
	dir := t.TempDir()
	writer, err := NewWriter(dir, "run-123")
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}

	score := 0.8
	run := RunRecord{
		ID:        "run-123",
		Timestamp: time.Now().UTC(),
		Profile:   "animation",
		Variant:   "extended",
		InputHash: Hash("Solve x^2+3x+2=0"),
		Status:    "success",
		Stage:     "complete",
		Score:     &score,
	}
	if err := writer.WriteRun(run); err != nil {
		t.Fatalf("write run: %v", err)
	}

	stage := StageRecord{
		Name:    "prompt_analysis",
		Attempt: 1,
		Adapter: "mock",
		Model:   "mock-1",
		Output:  "x^2+3x+2=0",
		Calls:   []adapter.CallReport{{Adapter: "mock", Model: "mock-1"}},
	}
	if err := writer.WriteStage(stage); err != nil {
		t.Fatalf("write stage: %v", err)
	}
	stage.Attempt = 2
	if err := writer.WriteStage(stage); err != nil {
		t.Fatalf("write second attempt: %v", err)
	}

	if err := writer.WriteValidation(ValidationRecord{Round: "revalidation", Result: "pass", Score: 0.8}); err != nil {
		t.Fatalf("write validation: %v", err)
	}
	codeFile, err := writer.WriteCode("scene.py", "from manim import *")
	if err != nil {
		t.Fatalf("write code: %v", err)
	}

	for _, rel := range []string{"run.json", "stages/prompt_analysis.json", "stages/prompt_analysis-2.json", "validation/revalidation.json", codeFile} {
		if _, err := os.Stat(filepath.Join(writer.RunDir(), filepath.FromSlash(rel))); err != nil {
			t.Fatalf("missing %s: %v", rel, err)
		}
	}

	if runtime.GOOS != "windows" {
		assertPerm(t, writer.RunDir(), 0700)
		assertPerm(t, filepath.Join(writer.RunDir(), "stages"), 0700)
		assertPerm(t, filepath.Join(writer.RunDir(), "validation"), 0700)
		assertPerm(t, filepath.Join(writer.RunDir(), "blobs"), 0700)
		assertPerm(t, filepath.Join(writer.RunDir(), "run.json"), 0600)
		assertPerm(t, filepath.Join(writer.RunDir(), "stages", "prompt_analysis.json"), 0600)
		assertPerm(t, filepath.Join(writer.RunDir(), "scene.py"), 0600)
	}
}

func TestWriteStageMovesLongTextToBlobs(t *testing.T) {
	writer, err := NewWriter(t.TempDir(), "run-long")
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}

	long := strings.Repeat("a", InlineLimit+1)
	if err := writer.WriteStage(StageRecord{Name: "code_generation", Prompt: long, Output: "short"}); err != nil {
		t.Fatalf("write stage: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(writer.RunDir(), "stages", "code_generation.json"))
	if err != nil {
		t.Fatalf("read stage: %v", err)
	}
	var rec StageRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("decode stage: %v", err)
	}
	if rec.Prompt != "" || !strings.HasPrefix(rec.PromptRef, "blobs/prompt-") {
		t.Fatalf("expected prompt in blob, got ref %q", rec.PromptRef)
	}
	if rec.PromptHash != Hash(long) {
		t.Fatalf("prompt hash mismatch")
	}
	if rec.Output != "short" {
		t.Fatalf("short output should stay inline")
	}
}

func TestWriteBlob(t *testing.T) {
	dir := t.TempDir()
	writer, err := NewWriter(dir, "run1")
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}

	content := []byte("hello")
	sum := sha256.Sum256(content)
	expectedSha := hex.EncodeToString(sum[:])

	ref, sha, err := writer.WriteBlob("prompt", content)
	if err != nil {
		t.Fatalf("write blob: %v", err)
	}
	if sha != expectedSha {
		t.Fatalf("sha mismatch: %s", sha)
	}

	blobPath := filepath.Join(writer.RunDir(), ref)
	data, err := os.ReadFile(blobPath)
	if err != nil {
		t.Fatalf("read blob: %v", err)
	}
	if string(data) != string(content) {
		t.Fatalf("content mismatch: %q", string(data))
	}
	if runtime.GOOS != "windows" {
		assertPerm(t, blobPath, 0600)
	}

	ref2, sha2, err := writer.WriteBlob("prompt", content)
	if err != nil {
		t.Fatalf("write blob again: %v", err)
	}
	if ref2 != ref || sha2 != sha {
		t.Fatalf("expected same ref and sha")
	}
}

func TestWriteBlobKindSanitization(t *testing.T) {
	writer, err := NewWriter(t.TempDir(), "run2")
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}

	ref, _, err := writer.WriteBlob("Prompt 123/../", []byte("x"))
	if err != nil {
		t.Fatalf("write blob: %v", err)
	}
	if !strings.HasPrefix(ref, "blobs/") {
		t.Fatalf("expected blobs prefix: %s", ref)
	}
	if strings.Count(ref, "/") != 1 {
		t.Fatalf("unexpected path separators in ref: %s", ref)
	}

	kind := strings.SplitN(strings.TrimPrefix(ref, "blobs/"), "-", 2)[0]
	for _, r := range kind {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '_' {
			t.Fatalf("invalid kind character: %q", r)
		}
	}

	ref, _, err = writer.WriteBlob("!!!", []byte("y"))
	if err != nil {
		t.Fatalf("write blob: %v", err)
	}
	if !strings.HasPrefix(ref, "blobs/blob-") {
		t.Fatalf("expected blob kind fallback in ref: %s", ref)
	}
}

func TestNewWriterRequiresArguments(t *testing.T) {
	if _, err := NewWriter("", "run"); err == nil {
		t.Fatalf("expected error for empty base dir")
	}
	if _, err := NewWriter(t.TempDir(), ""); err == nil {
		t.Fatalf("expected error for empty run ID")
	}
}

func assertPerm(t *testing.T, path string, expected os.FileMode) {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat %s: %v", path, err)
	}
	if info.Mode().Perm() != expected {
		t.Fatalf("unexpected perm for %s: got %o want %o", path, info.Mode().Perm(), expected)
	}
}

func TestArtifactRef(t *testing.T) {
	if ArtifactRef(nil) != nil {
		t.Fatal("nil artifact should give a nil record")
	}

	a := artifact.New("```js\nline(0, 0, 1, 1)\n```", "mock", "mock-1", "p").
		ForStage("code_generation").
		NewVersion("line(0, 0, 1, 1)")
	ref := ArtifactRef(a)
	if ref.ID != a.ID || ref.Version != 2 || ref.Hash != artifact.Hash("line(0, 0, 1, 1)") {
		t.Fatalf("unexpected artifact record: %+v", ref)
	}
}

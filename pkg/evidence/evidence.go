package evidence

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zen-systems/vizflow/pkg/adapter"
	"github.com/zen-systems/vizflow/pkg/artifact"
)

// InlineLimit is the longest prompt or output stored inline in a stage
// record. Longer text goes to a blob.
const InlineLimit = 4096

// RunRecord captures run-level metadata and the terminal outcome.
type RunRecord struct {
	ID             string            `json:"id"`
	Timestamp      time.Time         `json:"timestamp"`
	Profile        string            `json:"profile"`
	Variant        string            `json:"variant"`
	InputHash      string            `json:"input_hash"`
	Input          string            `json:"input"`
	Status         string            `json:"status"`
	Stage          string            `json:"stage"`
	Score          *float64          `json:"score,omitempty"`
	Message        string            `json:"message,omitempty"`
	CodeFile       string            `json:"code_file,omitempty"`
	Usage          adapter.Usage     `json:"usage"`
	DurationMillis int64             `json:"duration_ms"`
	ToolVersions   map[string]string `json:"tool_versions,omitempty"`
}

// StageRecord captures evidence for a single stage execution. A stage that
// runs twice (code regeneration) is recorded with an attempt suffix.
type StageRecord struct {
	Name           string               `json:"name"`
	Attempt        int                  `json:"attempt"`
	Adapter        string               `json:"adapter"`
	Model          string               `json:"model"`
	Prompt         string               `json:"prompt,omitempty"`
	PromptRef      string               `json:"prompt_ref,omitempty"`
	PromptHash     string               `json:"prompt_hash,omitempty"`
	Output         string               `json:"output,omitempty"`
	OutputRef      string               `json:"output_ref,omitempty"`
	OutputHash     string               `json:"output_hash,omitempty"`
	Error          string               `json:"error,omitempty"`
	Artifact       *ArtifactRecord      `json:"artifact,omitempty"`
	Calls          []adapter.CallReport `json:"calls,omitempty"`
	DurationMillis int64                `json:"duration_ms"`
}

// ArtifactRecord identifies the artifact a stage produced. Content is not
// repeated; it is the stage output.
type ArtifactRecord struct {
	ID       string            `json:"id"`
	Version  int               `json:"version"`
	Hash     string            `json:"hash"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ArtifactRef summarizes an artifact for a stage record. A nil artifact
// gives nil.
func ArtifactRef(a *artifact.Artifact) *ArtifactRecord {
	if a == nil {
		return nil
	}
	return &ArtifactRecord{ID: a.ID, Version: a.Version, Hash: a.Hash, Metadata: a.Metadata}
}

// VerdictRecord mirrors one validator verdict.
type VerdictRecord struct {
	Validator string  `json:"validator"`
	PassRate  float64 `json:"pass_rate"`
	Passed    bool    `json:"passed"`
	Response  string  `json:"response"`
}

// ValidationRecord captures one consensus round.
type ValidationRecord struct {
	Round          string          `json:"round"`
	Policy         string          `json:"policy"`
	Result         string          `json:"result"`
	Score          float64         `json:"score"`
	Feedback       string          `json:"feedback,omitempty"`
	CodeHash       string          `json:"code_hash"`
	Verdicts       []VerdictRecord `json:"verdicts"`
	DurationMillis int64           `json:"duration_ms"`
}

// Writer writes evidence bundles to disk.
type Writer struct {
	baseDir string
	runDir  string
}

// NewWriter creates a new evidence writer rooted at baseDir/runID.
func NewWriter(baseDir, runID string) (*Writer, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if runID == "" {
		return nil, fmt.Errorf("run ID is required")
	}

	runDir := filepath.Join(baseDir, runID)
	for _, dir := range []string{runDir, filepath.Join(runDir, "stages"), filepath.Join(runDir, "validation"), filepath.Join(runDir, "blobs")} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, err
		}
	}

	return &Writer{baseDir: baseDir, runDir: runDir}, nil
}

// RunDir returns the run directory path.
func (w *Writer) RunDir() string {
	return w.runDir
}

// WriteRun writes run metadata to run.json.
func (w *Writer) WriteRun(record RunRecord) error {
	return writeJSON(filepath.Join(w.runDir, "run.json"), record)
}

// WriteStage writes a stage record to stages/<stage>[-<attempt>].json,
// moving oversized prompt and output text into blobs.
func (w *Writer) WriteStage(record StageRecord) error {
	if record.Name == "" {
		return fmt.Errorf("stage name is required")
	}
	if len(record.Prompt) > InlineLimit {
		ref, sha, err := w.WriteBlob("prompt", []byte(record.Prompt))
		if err != nil {
			return err
		}
		record.Prompt, record.PromptRef, record.PromptHash = "", ref, sha
	}
	if len(record.Output) > InlineLimit {
		ref, sha, err := w.WriteBlob("output", []byte(record.Output))
		if err != nil {
			return err
		}
		record.Output, record.OutputRef, record.OutputHash = "", ref, sha
	}

	name := record.Name
	if record.Attempt > 1 {
		name = fmt.Sprintf("%s-%d", name, record.Attempt)
	}
	return writeJSON(filepath.Join(w.runDir, "stages", name+".json"), record)
}

// WriteValidation writes a consensus round to validation/<round>.json.
func (w *Writer) WriteValidation(record ValidationRecord) error {
	if record.Round == "" {
		return fmt.Errorf("validation round is required")
	}
	return writeJSON(filepath.Join(w.runDir, "validation", sanitizeKind(record.Round)+".json"), record)
}

// WriteCode writes the final code artifact and returns its path relative to
// the run directory.
func (w *Writer) WriteCode(filename, code string) (string, error) {
	filename = filepath.Base(filename)
	if filename == "." || filename == string(filepath.Separator) {
		return "", fmt.Errorf("invalid code filename")
	}
	if err := os.WriteFile(filepath.Join(w.runDir, filename), []byte(code), 0600); err != nil {
		return "", err
	}
	return filename, nil
}

// WriteBlob stores content under blobs/ keyed by its SHA-256 and returns the
// run-relative reference and the hex digest. Writing identical content twice
// yields the same reference.
func (w *Writer) WriteBlob(kind string, content []byte) (string, string, error) {
	sum := sha256.Sum256(content)
	sha := hex.EncodeToString(sum[:])
	ref := filepath.ToSlash(filepath.Join("blobs", fmt.Sprintf("%s-%s.txt", sanitizeKind(kind), sha)))

	path := filepath.Join(w.runDir, filepath.FromSlash(ref))
	if _, err := os.Stat(path); err == nil {
		return ref, sha, nil
	}
	if err := os.WriteFile(path, content, 0600); err != nil {
		return "", "", err
	}
	return ref, sha, nil
}

// Hash returns the hex SHA-256 of s.
func Hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func sanitizeKind(kind string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(kind) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			sb.WriteRune(r)
		case r == ' ' || r == '-':
			sb.WriteRune('_')
		}
	}
	out := strings.Trim(sb.String(), "_")
	if out == "" {
		return "blob"
	}
	return out
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

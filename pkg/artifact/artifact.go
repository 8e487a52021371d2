package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// Artifact is one piece of model output: a concept, a specification, or a
// block of generated code. Revisions share an ID and bump Version.
type Artifact struct {
	ID        string            `json:"id"`
	Version   int               `json:"version"`
	Content   string            `json:"content"`
	Adapter   string            `json:"adapter"`
	Model     string            `json:"model"`
	Prompt    string            `json:"-"`
	Stage     string            `json:"stage,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	Hash      string            `json:"hash"`
}

// New creates an artifact for raw model output.
func New(content, adapter, model, prompt string) *Artifact {
	a := &Artifact{
		ID:        uuid.NewString(),
		Version:   1,
		Content:   content,
		Adapter:   adapter,
		Model:     model,
		Prompt:    prompt,
		Metadata:  make(map[string]string),
		CreatedAt: time.Now().UTC(),
	}
	a.Hash = Hash(content)
	return a
}

// NewVersion returns a revision carrying new content, for example after
// post-processing or a repair round. The receiver is left untouched.
func (a *Artifact) NewVersion(content string) *Artifact {
	next := a.clone()
	next.Version = a.Version + 1
	next.Content = content
	next.CreatedAt = time.Now().UTC()
	next.Hash = Hash(content)
	return next
}

// ForStage returns a copy labelled with the stage that produced it.
func (a *Artifact) ForStage(stage string) *Artifact {
	next := a.clone()
	next.Stage = stage
	return next
}

// WithMetadata returns a copy with one extra metadata entry.
func (a *Artifact) WithMetadata(key, value string) *Artifact {
	next := a.clone()
	next.Metadata[key] = value
	return next
}

// Changed reports whether other carries different content.
func (a *Artifact) Changed(other *Artifact) bool {
	if a == nil || other == nil {
		return a != other
	}
	return a.Hash != other.Hash
}

// Hash returns the short content digest used for artifact identity.
func Hash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])[:16]
}

func (a *Artifact) clone() *Artifact {
	next := *a
	next.Metadata = make(map[string]string, len(a.Metadata))
	for k, v := range a.Metadata {
		next.Metadata[k] = v
	}
	return &next
}

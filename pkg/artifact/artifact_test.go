package artifact

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewVersionKeepsIdentity(t *testing.T) {
	a := New("def construct(self): pass", "google", "flash", "prompt")
	a = a.WithMetadata("profile", "animation")

	b := a.NewVersion("class Scene: pass")
	require.Equal(t, a.ID, b.ID)
	require.Equal(t, 2, b.Version)
	require.Equal(t, "animation", b.Metadata["profile"])
	require.True(t, a.Changed(b))
	require.Equal(t, "def construct(self): pass", a.Content)
}

func TestWithMetadataDoesNotMutateOriginal(t *testing.T) {
	a := New("x", "mock", "mock-1", "p")
	b := a.WithMetadata("k", "v")
	require.Empty(t, a.Metadata)
	require.Equal(t, "v", b.Metadata["k"])
	require.False(t, a.Changed(b))
}

func TestForStage(t *testing.T) {
	a := New("x", "mock", "mock-1", "p").ForStage("code_generation")
	require.Equal(t, "code_generation", a.Stage)
	require.Len(t, a.Hash, 16)
}

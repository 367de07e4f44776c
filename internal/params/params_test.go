package params

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const legacyCfg = `# sample run
lambda = 1.5
n = 250
outConn = 12
powerPercent = 0.1
qIn = 5
qOut = 3

resist = 0.4
resistMax = 0.9
resistMin = 0.1
maxSteps = 40
linkProb = 0.3
recipProb = 0.7
`

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig(strings.NewReader(legacyCfg))
	require.NoError(t, err)
	assert.Equal(t, "1.5", cfg["lambda"])
	assert.Equal(t, "40", cfg["maxSteps"])
	assert.Len(t, cfg, 12)
}

func TestParseConfigRejectsMalformedLine(t *testing.T) {
	_, err := ParseConfig(strings.NewReader("lambda 1.0\n"))
	assert.Error(t, err)

	_, err = ParseConfig(strings.NewReader("a = b = c\n"))
	assert.Error(t, err)
}

func TestLoadFromLegacyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.cfg")
	require.NoError(t, os.WriteFile(path, []byte(legacyCfg), 0600))

	p, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1.5, p.Lambda)
	assert.Equal(t, uint32(250), p.N)
	assert.Equal(t, uint32(12), p.OutConnections)
	assert.Equal(t, 0.1, p.PowerPercent)
	assert.Equal(t, uint32(5), p.QIn)
	assert.Equal(t, uint32(3), p.QOut)
	assert.Equal(t, uint64(40), p.Steps)
	assert.Equal(t, 0.3, p.LinkProb)
	assert.Equal(t, 0.7, p.RecipProb)
	require.NoError(t, p.Validate())
}

func TestLoadFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.yaml")
	content := `
n: 64
q_in: 2
q_out: 1
steps: 12
resist: 0.6
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	p, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(64), p.N)
	assert.Equal(t, uint64(12), p.Steps)
	assert.Equal(t, 0.6, p.Resist)
	// Untouched keys keep their defaults.
	assert.Equal(t, Default().LinkProb, p.LinkProb)
}

func TestEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.cfg")
	require.NoError(t, os.WriteFile(path, []byte(legacyCfg), 0600))
	t.Setenv("IRIS_N", "99")
	t.Setenv("IRIS_LINK_PROB", "not-a-number")

	p, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(99), p.N)
	assert.Equal(t, 0.3, p.LinkProb)
}

func TestApplyRejectsBadNumber(t *testing.T) {
	p := Default()
	err := Config{"n": "-3"}.Apply(&p)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Parameters)
	}{
		{"zero population", func(p *Parameters) { p.N = 0 }},
		{"link probability above one", func(p *Parameters) { p.LinkProb = 1.2 }},
		{"negative power percent", func(p *Parameters) { p.PowerPercent = -0.1 }},
		{"negative lambda", func(p *Parameters) { p.Lambda = -1 }},
		{"inverted resistance window", func(p *Parameters) { p.ResistMin, p.ResistMax = 0.9, 0.1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Default()
			tt.mutate(&p)
			assert.ErrorIs(t, p.Validate(), ErrInvalidParameters)
		})
	}
}

func TestLoadWithoutFile(t *testing.T) {
	t.Setenv("IRIS_Q_IN", "7")
	p, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, uint32(7), p.QIn)
	assert.Equal(t, Default().N, p.N)

	_, err = Load(filepath.Join(t.TempDir(), "missing.cfg"))
	assert.Error(t, err)
}

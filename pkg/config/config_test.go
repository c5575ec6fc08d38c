package config

import (
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/cyclopcam/veil/pkg/nn"
	"github.com/cyclopcam/veil/pkg/obfuscate"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	filename := filepath.Join(t.TempDir(), "veil.json")
	require.NoError(t, os.WriteFile(filename, []byte(body), 0644))
	return filename
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	p := cfg.DetectionParams()
	require.Equal(t, float32(0.5), p.NmsIouThreshold)
	require.Equal(t, float32(0.35), p.ScoreThreshold)
	require.Equal(t, float32(0.5), p.MaskThreshold)
	require.Equal(t, 64, p.MaxBoxesPerClass)
	c, err := cfg.MaskRGBA()
	require.NoError(t, err)
	require.Equal(t, color.RGBA{R: 255, A: 255}, c)

	policy, err := cfg.BuildPolicy(nn.COCOClasses)
	require.NoError(t, err)
	require.Equal(t, obfuscate.Masking, policy[nn.COCOPerson])
	require.Equal(t, obfuscate.Pixelation, policy[nn.COCOPizza])
	require.Equal(t, obfuscate.Masking, policy[nn.COCOCellPhone])
}

func TestLoadConfig(t *testing.T) {
	filename := writeConfig(t, `{
		"detectionInterval": 4,
		"blurRadius": 5,
		"maskColor": "#00ff00",
		"failurePolicy": "closed",
		"policy": {"person": "blurring", "15": "pixelation"}
	}`)
	cfg, err := LoadConfig(filename)
	require.NoError(t, err)
	require.Equal(t, 4, cfg.DetectionInterval)
	require.Equal(t, 5, cfg.BlurRadius)
	require.Equal(t, obfuscate.DefaultPixelSize, cfg.PixelSize)
	require.Equal(t, FailClosed, cfg.FailurePolicy)
	c, _ := cfg.MaskRGBA()
	require.Equal(t, color.RGBA{G: 255, A: 255}, c)

	policy, err := cfg.BuildPolicy(nn.COCOClasses)
	require.NoError(t, err)
	require.Equal(t, 2, len(policy))
	require.Equal(t, obfuscate.Blurring, policy[0])
	require.Equal(t, obfuscate.Pixelation, policy[15])
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)

	for _, body := range []string{
		`{"detectionInterval": -1}`,
		`{"maskColor": "red"}`,
		`{"failurePolicy": "sometimes"}`,
		`{"policy": {"person": "smudge"}}`,
		`{not json`,
	} {
		_, err := LoadConfig(writeConfig(t, body))
		require.Error(t, err, body)
	}

	cfg := Default()
	cfg.Policy = map[string]obfuscate.Type{"unicorn": obfuscate.Masking}
	_, err = cfg.BuildPolicy(nn.COCOClasses)
	require.Error(t, err)
	cfg.Policy = map[string]obfuscate.Type{"80": obfuscate.Masking}
	_, err = cfg.BuildPolicy(nn.COCOClasses)
	require.Error(t, err)
}

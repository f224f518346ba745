package profile

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const validProfileYAML = `
schema_version: "1.0.0"
model_id: keysight/DSOX1204G
device_type: oscilloscope
channels:
  - index: 1
    role: analog
  - index: 2
    role: analog
accuracy_table:
  "dc_1v_range":
    percent_reading: 0.5
    offset_value: 0.001
    unit: V
safety_schema:
  "1":
    voltage:
      max: 5.0
      min: -5.0
simulation:
  state:
    ch1_scale: "1.0"
  scpi:
    - command: "*IDN?"
      response: "KEYSIGHT,DSOX1204G,SIM,1.0"
    - command: "^:CHAN1:SCAL (.+)$"
      action: set
      target: ch1_scale
      value: "groups[1]"
      response: ""
`

func TestLoadValidProfile(t *testing.T) {
	spec, err := Load(strings.NewReader(validProfileYAML), "test.yaml", nil)
	require.NoError(t, err)

	require.Equal(t, "keysight/DSOX1204G", spec.ModelID)
	require.Equal(t, DeviceOscilloscope, spec.DeviceType)
	require.NotNil(t, spec.Channel(1))
	require.NotNil(t, spec.Channel(2))
	require.Nil(t, spec.Channel(3))
	require.NotNil(t, spec.Accuracy("dc_1v_range"))
	require.Len(t, spec.SimRules, 2)
}

func TestLoadRejectsDuplicateChannelIndex(t *testing.T) {
	bad := strings.Replace(validProfileYAML, "index: 2", "index: 1", 1)
	_, err := Load(strings.NewReader(bad), "bad.yaml", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "duplicate channel index")
}

func TestLoadRejectsUnknownDeviceType(t *testing.T) {
	bad := strings.Replace(validProfileYAML, "device_type: oscilloscope", "device_type: toaster", 1)
	_, err := Load(strings.NewReader(bad), "bad.yaml", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown device_type")
}

func TestLoadRejectsSafetySchemaReferencingMissingChannel(t *testing.T) {
	bad := strings.Replace(validProfileYAML, `"1":`, `"9":`, 1)
	_, err := Load(strings.NewReader(bad), "bad.yaml", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "nonexistent channel")
}

func TestLoadRejectsUnsupportedSchemaVersion(t *testing.T) {
	bad := strings.Replace(validProfileYAML, `schema_version: "1.0.0"`, `schema_version: "9.0.0"`, 1)
	_, err := Load(strings.NewReader(bad), "bad.yaml", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported")
}

func TestCompileRuleMigratesV1Sigil(t *testing.T) {
	rule, migrated, err := compileRule(RawRule{
		Command: "^:CHAN1:SCAL (.+)$",
		Action:  "set",
		Target:  "$ch1_scale",
		Value:   "groups[1]",
	})
	require.NoError(t, err)
	require.True(t, migrated)
	require.Equal(t, "ch1_scale", rule.Target)
	require.Equal(t, "post", rule.ResponseEvalOrder)
}

func TestCompilePatternLiteralVsRegex(t *testing.T) {
	p, err := compilePattern("*IDN?")
	require.NoError(t, err)
	require.Nil(t, p.regex)

	ok, _ := p.match("*IDN?")
	require.True(t, ok)

	p2, err := compilePattern(`^:MEAS:VOLT\?$`)
	require.NoError(t, err)
	require.NotNil(t, p2.regex)
}

func TestRuleMatchIsExportedForSimengine(t *testing.T) {
	rule, _, err := compileRule(RawRule{Command: `^:CHAN(\d+):SCAL\?$`, Response: "1.0"})
	require.NoError(t, err)

	ok, groups := rule.Match(":CHAN1:SCAL?")
	require.True(t, ok)
	require.Equal(t, []string{":CHAN1:SCAL?", "1"}, groups)

	ok, _ = rule.Match(":CHAN1:OFFS?")
	require.False(t, ok)
}

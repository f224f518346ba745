package profile

import (
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/blang/semver"
	"gopkg.in/yaml.v3"

	"github.com/labiium/pytestlab/internal/labsim"
	"github.com/labiium/pytestlab/internal/labsterr"
)

// minSchemaVersion and maxSchemaVersion bound the inclusive range of profile schema
// versions this runtime understands. Widen it deliberately when the
// profile schema changes in a compatible way.
var (
	minSchemaVersion = semver.MustParse("1.0.0")
	maxSchemaVersion = semver.MustParse("1.99.99")
)

type compiledPattern struct {
	literal string
	regex   *regexp.Regexp
}

func (p *compiledPattern) match(cmd string) (bool, []string) {
	if p.regex != nil {
		m := p.regex.FindStringSubmatch(cmd)
		if m == nil {
			return false, nil
		}
		return true, m
	}
	return p.literal == cmd, []string{cmd}
}

// Load parses and validates a profile from r, identified by name in error
// messages. It performs cross-field validation (unique channel index,
// unique accuracy keys, compiling regexes) and compiles every simulation
// rule, migrating v1-shaped rules to the v2 grammar as it goes (spec.md §9
// Open Question 1).
func Load(r io.Reader, name string, logger *slog.Logger) (*Spec, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}

	dec := yaml.NewDecoder(r)
	dec.KnownFields(false)
	var raw rawProfile
	if err := dec.Decode(&raw); err != nil {
		return nil, labsterr.NewProfileError("profile.Load", fmt.Sprintf("%s: invalid YAML", name), err)
	}

	if raw.ModelID == "" {
		return nil, labsterr.NewProfileError("profile.Load", fmt.Sprintf("%s: missing model_id", name), nil)
	}
	if !DeviceType(raw.DeviceType).valid() {
		return nil, labsterr.NewProfileError("profile.Load", fmt.Sprintf("%s: unknown device_type %q", name, raw.DeviceType), nil)
	}

	if err := checkSchemaVersion(raw.SchemaVersion); err != nil {
		return nil, labsterr.NewProfileError("profile.Load", fmt.Sprintf("%s: %s", name, err.Error()), err)
	}

	channelByIndex := make(map[int]*Channel, len(raw.Channels))
	for i := range raw.Channels {
		ch := &raw.Channels[i]
		if _, dup := channelByIndex[ch.Index]; dup {
			return nil, labsterr.NewProfileError("profile.Load", fmt.Sprintf("%s: duplicate channel index %d", name, ch.Index), nil)
		}
		channelByIndex[ch.Index] = ch
	}

	for key := range raw.AccuracyTable {
		if key == "" {
			return nil, labsterr.NewProfileError("profile.Load", fmt.Sprintf("%s: empty accuracy_table key", name), nil)
		}
	}

	safety, err := convertSafetySchema(raw.SafetySchema)
	if err != nil {
		return nil, labsterr.NewProfileError("profile.Load", fmt.Sprintf("%s: %s", name, err.Error()), err)
	}
	for ch := range safety {
		if _, ok := channelByIndex[ch]; !ok {
			return nil, labsterr.NewProfileError("profile.Load", fmt.Sprintf("%s: safety_schema references nonexistent channel %d", name, ch), nil)
		}
	}

	rules := make([]Rule, 0, len(raw.Simulation.SCPI))
	for i, rawRule := range raw.Simulation.SCPI {
		rule, migrated, err := compileRule(rawRule)
		if err != nil {
			return nil, labsterr.NewProfileError("profile.Load", fmt.Sprintf("%s: simulation rule %d: %s", name, i, err.Error()), err)
		}
		if migrated {
			logger.Warn("profile: migrated v1-shaped simulation rule to v2 grammar",
				"profile", name, "rule_index", i, "command", rawRule.Command)
		}
		rules = append(rules, rule)
	}

	return &Spec{
		SchemaVersion:  raw.SchemaVersion,
		ModelID:        raw.ModelID,
		DeviceType:     DeviceType(raw.DeviceType),
		Channels:       raw.Channels,
		AccuracyTable:  raw.AccuracyTable,
		SafetySchema:   safety,
		SimState:       raw.Simulation.State,
		SimRules:       rules,
		channelByIndex: channelByIndex,
	}, nil
}

func checkSchemaVersion(v string) error {
	if v == "" {
		return fmt.Errorf("missing schema_version")
	}
	parsed, err := semver.Parse(v)
	if err != nil {
		return fmt.Errorf("invalid schema_version %q: %w", v, err)
	}
	if parsed.LT(minSchemaVersion) || parsed.GT(maxSchemaVersion) {
		return fmt.Errorf("schema_version %s unsupported (runtime supports %s..%s)", v, minSchemaVersion, maxSchemaVersion)
	}
	return nil
}

func convertSafetySchema(raw map[string]map[string]SafetyBound) (SafetySchema, error) {
	out := make(SafetySchema, len(raw))
	for chStr, quantities := range raw {
		ch, err := strconv.Atoi(chStr)
		if err != nil {
			return nil, fmt.Errorf("safety_schema channel key %q is not an integer", chStr)
		}
		out[ch] = quantities
	}
	return out, nil
}

// compileRule compiles one RawRule into a Rule, migrating the v1 shape
// (pytestlab's original Python implementation's earlier simulation backend
// marked an update action with a "$"-sigilled target key and no
// response_eval_order field) into the v2 grammar along the way. migrated
// reports whether this rule needed migration.
func compileRule(raw RawRule) (Rule, bool, error) {
	migrated := false
	target := raw.Target
	if strings.HasPrefix(target, "$") {
		target = strings.TrimPrefix(target, "$")
		migrated = true
	}

	evalOrder := raw.ResponseEvalOrder
	if evalOrder == "" {
		evalOrder = "post"
		if raw.Action == "set" {
			migrated = true
		}
	}
	if evalOrder != "pre" && evalOrder != "post" {
		return Rule{}, false, fmt.Errorf("invalid response_eval_order %q", evalOrder)
	}

	pattern, err := compilePattern(raw.Command)
	if err != nil {
		return Rule{}, false, err
	}

	var responseExpr labsim.Expr
	var responseLiteral string
	hasResponse := raw.Response != ""
	if hasResponse {
		if strings.HasPrefix(raw.Response, "=") {
			responseExpr, err = labsim.Compile(strings.TrimPrefix(raw.Response, "="))
			if err != nil {
				return Rule{}, false, fmt.Errorf("response expression: %w", err)
			}
		} else {
			responseLiteral = raw.Response
		}
	}

	var valueExpr labsim.Expr
	if raw.Action == "set" {
		if raw.Value == "" {
			return Rule{}, false, fmt.Errorf("action \"set\" requires a value expression")
		}
		valueExpr, err = labsim.Compile(raw.Value)
		if err != nil {
			return Rule{}, false, fmt.Errorf("value expression: %w", err)
		}
		if target == "" {
			return Rule{}, false, fmt.Errorf("action \"set\" requires a target key")
		}
	}

	return Rule{
		Raw:               raw,
		IsRegex:           pattern.regex != nil,
		Compiled:          pattern,
		ResponseLiteral:   responseLiteral,
		HasResponse:       hasResponse,
		ResponseExpr:      responseExpr,
		Action:            raw.Action,
		Target:            target,
		ValueExpr:         valueExpr,
		ResponseEvalOrder: evalOrder,
	}, migrated, nil
}

// compilePattern treats any command string containing a regex metacharacter
// outside of a handful of common literal SCPI punctuation as a regex;
// anything else is compared as an exact literal. This mirrors how profile
// authors in practice write patterns: `"*IDN?"` literally, `":MEAS:VOLT:DC\\?"`
// or `"^:OUTP(\\d+) (ON|OFF)$"` as a regex.
func compilePattern(cmd string) (*compiledPattern, error) {
	if looksLikeRegex(cmd) {
		re, err := regexp.Compile(cmd)
		if err != nil {
			return nil, fmt.Errorf("command pattern %q does not compile as regex: %w", cmd, err)
		}
		return &compiledPattern{regex: re}, nil
	}
	return &compiledPattern{literal: cmd}, nil
}

func looksLikeRegex(s string) bool {
	for _, c := range s {
		switch c {
		case '(', ')', '[', ']', '^', '$', '|', '+', '\\':
			return true
		}
	}
	return false
}

// SortedAccuracyKeys returns the accuracy-table keys of s in deterministic
// order, for logging and diffing.
func SortedAccuracyKeys(s *Spec) []string {
	keys := make([]string, 0, len(s.AccuracyTable))
	for k := range s.AccuracyTable {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }

package gige

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"go.viam.com/stereo/logging"
)

// Stage orders the application of settings. Transport settings go first because many cameras
// reject them once acquisition parameters are set up.
type Stage int

// Settings stages, applied in this order.
const (
	StageTransport Stage = iota
	StageAcquisition
	StageImage
)

func (s Stage) String() string {
	switch s {
	case StageTransport:
		return "transport"
	case StageAcquisition:
		return "acquisition"
	case StageImage:
		return "image"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Candidate is one way of writing a setting: a device parameter name and the value to write in
// that parameter's units.
type Candidate struct {
	Parameter string `json:"parameter"`
	Value     string `json:"value"`
}

// Setting is a logical camera setting. Firmware versions expose the same setting under different
// names, so candidates are tried in order until one is applied.
type Setting struct {
	Name       string
	Stage      Stage
	Candidates []Candidate
	// Symbolic settings are enumerations: a candidate is only written when its value is one of
	// the parameter's entries.
	Symbolic bool
	// Verify reads the value back after writing. A failed read does not fail the setting.
	Verify bool
	// Requires names a setting that must have been applied first.
	Requires string
	// Optional settings that cannot be applied are reported as skipped, not as not configured.
	Optional bool
}

// Aliases builds the candidates for a value shared by several parameter names.
func Aliases(value string, parameters ...string) []Candidate {
	candidates := make([]Candidate, 0, len(parameters))
	for _, p := range parameters {
		candidates = append(candidates, Candidate{Parameter: p, Value: value})
	}
	return candidates
}

// TransportSettings holds the GigE stream channel tuning.
type TransportSettings struct {
	// PacketSize is the stream channel packet size in bytes (GevSCPSPacketSize).
	PacketSize int `json:"packet_size"`
	// InterPacketDelay is the delay between stream packets in timestamp ticks (GevSCPD).
	InterPacketDelay int `json:"inter_packet_delay"`
	// FrameTransmissionDelay delays the start of frame transmission in ticks (GevSCFTD). Giving
	// each camera of a rig a different delay keeps their frames from colliding on the link.
	FrameTransmissionDelay int `json:"frame_transmission_delay"`
}

// DefaultTransportSettings returns settings that work on a shared 1 GbE link without jumbo frames.
func DefaultTransportSettings() TransportSettings {
	return TransportSettings{PacketSize: 1500, InterPacketDelay: 1000}
}

// Requested sensor size. Cameras with a fixed or smaller sensor keep their own size.
const (
	DefaultWidth  = 1920
	DefaultHeight = 1080
)

// DefaultSettings returns the standard settings for a stereo camera, in application order.
func DefaultSettings(transport TransportSettings) []Setting {
	itoa := strconv.Itoa
	pixelFormats := make([]Candidate, 0, len(PixelFormatPriority))
	for _, pf := range PixelFormatPriority {
		pixelFormats = append(pixelFormats, Candidate{Parameter: "PixelFormat", Value: string(pf)})
	}
	return []Setting{
		{Name: "PacketSize", Stage: StageTransport, Candidates: Aliases(itoa(transport.PacketSize), "GevSCPSPacketSize"), Verify: true},
		{Name: "InterPacketDelay", Stage: StageTransport, Candidates: Aliases(itoa(transport.InterPacketDelay), "GevSCPD")},
		{
			Name: "FrameTransmissionDelay", Stage: StageTransport,
			Candidates: Aliases(itoa(transport.FrameTransmissionDelay), "GevSCFTD"),
		},
		{Name: "AcquisitionMode", Stage: StageAcquisition, Candidates: Aliases("Continuous", "AcquisitionMode"), Symbolic: true},
		{Name: "TriggerMode", Stage: StageAcquisition, Candidates: Aliases("Off", "TriggerMode"), Symbolic: true},
		{Name: "PixelFormat", Stage: StageAcquisition, Candidates: pixelFormats, Symbolic: true},
		{Name: "Width", Stage: StageAcquisition, Candidates: Aliases(itoa(DefaultWidth), "Width"), Verify: true, Optional: true},
		{Name: "Height", Stage: StageAcquisition, Candidates: Aliases(itoa(DefaultHeight), "Height"), Verify: true, Optional: true},
		{Name: "ExposureTime", Stage: StageImage, Candidates: Aliases("10000", "ExposureTime", "ExposureTimeAbs"), Verify: true},
		{Name: "Gain", Stage: StageImage, Candidates: []Candidate{{"Gain", "1.0"}, {"GainRaw", "100"}}},
		{Name: "FrameRateEnable", Stage: StageImage, Candidates: Aliases("true", "AcquisitionFrameRateEnable")},
		{
			Name: "FrameRate", Stage: StageImage, Requires: "FrameRateEnable",
			Candidates: Aliases("30.0", "AcquisitionFrameRate", "AcquisitionFrameRateAbs"),
		},
		{Name: "BalanceWhiteAuto", Stage: StageImage, Candidates: Aliases("Continuous", "BalanceWhiteAuto"), Symbolic: true},
	}
}

// WithOverrides returns settings with values replaced from overrides, keyed by device parameter
// name. Keys matching no candidate become new image stage settings. Keys are processed in sorted
// order so the result is deterministic.
func WithOverrides(settings []Setting, overrides map[string]string) []Setting {
	out := make([]Setting, len(settings))
	for i, s := range settings {
		s.Candidates = append([]Candidate(nil), s.Candidates...)
		out[i] = s
	}
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, param := range keys {
		value := overrides[param]
		found := false
		for i := range out {
			for j := range out[i].Candidates {
				if out[i].Candidates[j].Parameter == param {
					out[i].Candidates[j].Value = value
					found = true
				}
			}
		}
		if !found {
			out = append(out, Setting{Name: param, Stage: StageImage, Candidates: Aliases(value, param)})
		}
	}
	return out
}

// Attempt records one try at writing a setting.
type Attempt struct {
	Setting   string
	Parameter string
	Value     string
	Applied   bool
	Err       error
}

// Report is the outcome of configuring a camera. It is for diagnostics only.
type Report struct {
	Attempts []Attempt
	// applied maps setting names to the attempt that applied them.
	applied map[string]Attempt
	// notConfigured lists settings no candidate could apply, in order.
	notConfigured []string
	skipped       []string
}

func newReport() *Report {
	return &Report{applied: map[string]Attempt{}}
}

// AppliedParameter returns the parameter and value that applied the named setting.
func (r *Report) AppliedParameter(setting string) (parameter, value string, ok bool) {
	a, ok := r.applied[setting]
	return a.Parameter, a.Value, ok
}

// Applied describes every applied setting as "Setting (Parameter=Value)".
func (r *Report) Applied() []string {
	var out []string
	for _, a := range r.Attempts {
		if a.Applied {
			out = append(out, fmt.Sprintf("%s (%s=%s)", a.Setting, a.Parameter, a.Value))
		}
	}
	return out
}

// NotConfigured lists the settings that could not be applied.
func (r *Report) NotConfigured() []string {
	return append([]string(nil), r.notConfigured...)
}

// Skipped lists the optional settings that could not be applied.
func (r *Report) Skipped() []string {
	return append([]string(nil), r.skipped...)
}

func (r *Report) String() string {
	out := fmt.Sprintf("applied: [%s] not configured: [%s]",
		strings.Join(r.Applied(), ", "), strings.Join(r.notConfigured, ", "))
	if len(r.skipped) > 0 {
		out += fmt.Sprintf(" skipped: [%s]", strings.Join(r.skipped, ", "))
	}
	return out
}

func (r *Report) unconfigured(s Setting) {
	if s.Optional {
		r.skipped = append(r.skipped, s.Name)
		return
	}
	r.notConfigured = append(r.notConfigured, s.Name)
}

// Configurator applies settings to a device on a best-effort basis. Every failure degrades to
// "not configured" and configuration continues.
type Configurator struct {
	// BusyRetries is how many times a busy parameter write is retried.
	BusyRetries int
	// BusyDelay is the pause before retrying a busy write.
	BusyDelay time.Duration

	logger logging.Logger
}

// NewConfigurator returns a configurator with the default busy retry policy.
func NewConfigurator(logger logging.Logger) *Configurator {
	return &Configurator{BusyRetries: 3, BusyDelay: 50 * time.Millisecond, logger: logger}
}

// Apply stops any acquisition in progress, then applies settings stage by stage, keeping their
// relative order within a stage.
func (c *Configurator) Apply(ctx context.Context, dev Device, settings []Setting) *Report {
	report := newReport()
	if dev.IsGrabbing() {
		if err := dev.StopGrabbing(); err != nil {
			c.logger.CWarnw(ctx, "could not stop acquisition before configuring", "error", err)
		}
	}

	ordered := append([]Setting(nil), settings...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Stage < ordered[j].Stage })
	for _, s := range ordered {
		if ctx.Err() != nil {
			report.unconfigured(s)
			continue
		}
		if s.Requires != "" {
			if _, ok := report.applied[s.Requires]; !ok {
				c.logger.CDebugw(ctx, "skipping setting", "setting", s.Name, "requires", s.Requires)
				report.unconfigured(s)
				continue
			}
		}
		c.SetWithFallback(ctx, dev, s, report)
	}

	if applied := report.Applied(); len(applied) > 0 {
		c.logger.CInfow(ctx, "camera parameters configured", "applied", strings.Join(applied, ", "))
	}
	if len(report.notConfigured) > 0 {
		c.logger.CDebugw(ctx, "camera parameters not configured", "settings", strings.Join(report.notConfigured, ", "))
	}
	if len(report.skipped) > 0 {
		c.logger.CDebugw(ctx, "optional camera parameters skipped", "settings", strings.Join(report.skipped, ", "))
	}
	return report
}

// SetWithFallback tries the candidates of s in order and stops at the first one applied. It
// returns that candidate's parameter name, or false when none could be applied. Attempts are
// recorded in report.
func (c *Configurator) SetWithFallback(ctx context.Context, dev Device, s Setting, report *Report) (string, bool) {
	for _, cand := range s.Candidates {
		err := c.trySet(ctx, dev, s, cand)
		attempt := Attempt{Setting: s.Name, Parameter: cand.Parameter, Value: cand.Value, Applied: err == nil, Err: err}
		report.Attempts = append(report.Attempts, attempt)
		if err == nil {
			report.applied[s.Name] = attempt
			return cand.Parameter, true
		}
		c.logger.CDebugw(ctx, "parameter not set", "setting", s.Name, "parameter", cand.Parameter, "value", cand.Value, "reason", err)
	}
	report.unconfigured(s)
	return "", false
}

func (c *Configurator) trySet(ctx context.Context, dev Device, s Setting, cand Candidate) error {
	if !dev.Supports(cand.Parameter) {
		return ErrParameterNotFound
	}
	if !dev.IsWritable(cand.Parameter) {
		return ErrParameterNotWritable
	}
	if s.Symbolic {
		entries, err := dev.Symbolics(cand.Parameter)
		if err != nil {
			return errors.Wrap(err, "listing entries")
		}
		if !containsString(entries, cand.Value) {
			return errors.Errorf("%q is not one of %v", cand.Value, entries)
		}
	}

	var err error
	for try := 0; try <= c.BusyRetries; try++ {
		if try > 0 && !goutils.SelectContextOrWait(ctx, c.BusyDelay) {
			return ctx.Err()
		}
		err = dev.SetParameter(cand.Parameter, cand.Value)
		if err == nil || !errors.Is(err, ErrParameterBusy) {
			break
		}
		c.logger.CDebugw(ctx, "parameter busy, retrying", "parameter", cand.Parameter, "try", try+1)
	}
	if err != nil {
		return err
	}

	if s.Verify {
		got, err := dev.GetParameter(cand.Parameter)
		switch {
		case err != nil:
			c.logger.CDebugw(ctx, "could not read back parameter, assuming it was set", "parameter", cand.Parameter, "error", err)
		case !sameValue(got, cand.Value):
			c.logger.CDebugw(ctx, "camera adjusted parameter", "parameter", cand.Parameter, "requested", cand.Value, "actual", got)
		}
	}
	return nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// sameValue compares parameter values numerically when both parse as numbers.
func sameValue(a, b string) bool {
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	if errA == nil && errB == nil {
		return fa == fb
	}
	return a == b
}

// DiagnosticParameters are the parameters that most affect GigE streaming reliability.
var DiagnosticParameters = []string{
	"GevSCPD",
	"GevSCPSPacketSize",
	"GevSCFTD",
	"GevHeartbeatTimeout",
	"AcquisitionMode",
	"ExposureTime",
	"ExposureTimeAbs",
	"TriggerMode",
}

// ParameterDiagnosis describes a parameter's availability on a camera. Range is only filled in
// for numeric parameters of devices implementing RangedDevice.
type ParameterDiagnosis struct {
	Name     string          `json:"name"`
	Exists   bool            `json:"exists"`
	Writable bool            `json:"writable"`
	Value    string          `json:"value,omitempty"`
	Range    *ParameterRange `json:"range,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Diagnose reports whether each named parameter exists, is writable, its current value and,
// where the device exposes it, its valid range.
func Diagnose(dev Device, names []string) []ParameterDiagnosis {
	ranged, hasRanges := dev.(RangedDevice)
	out := make([]ParameterDiagnosis, 0, len(names))
	for _, name := range names {
		d := ParameterDiagnosis{Name: name, Exists: dev.Supports(name)}
		if d.Exists {
			d.Writable = dev.IsWritable(name)
			value, err := dev.GetParameter(name)
			if err != nil {
				d.Error = err.Error()
			} else {
				d.Value = value
			}
			if hasRanges {
				if r, ok := ranged.ParameterRange(name); ok {
					d.Range = &r
				}
			}
		}
		out = append(out, d)
	}
	return out
}

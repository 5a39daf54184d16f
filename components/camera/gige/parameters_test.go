package gige_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/stereo/components/camera/gige"
	"go.viam.com/stereo/components/camera/gige/fake"
	"go.viam.com/stereo/logging"
	"go.viam.com/stereo/rimage"
)

func newFakeDevice() *fake.Device {
	return fake.NewDevice(gige.DeviceInfo{SerialNumber: "1", ModelName: "test"}, rimage.RandomDotTexture(32, 24, 4, 1))
}

func newConfigurator(logger logging.Logger) *gige.Configurator {
	c := gige.NewConfigurator(logger)
	c.BusyDelay = time.Millisecond
	return c
}

func TestApplyDefaultSettings(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	dev := newFakeDevice()

	report := newConfigurator(logger).Apply(context.Background(), dev, gige.DefaultSettings(gige.DefaultTransportSettings()))
	test.That(t, report.NotConfigured(), test.ShouldBeEmpty)

	for _, tc := range []struct {
		setting, param, value string
	}{
		{"PacketSize", "GevSCPSPacketSize", "1500"},
		{"InterPacketDelay", "GevSCPD", "1000"},
		{"AcquisitionMode", "AcquisitionMode", "Continuous"},
		{"TriggerMode", "TriggerMode", "Off"},
		{"PixelFormat", "PixelFormat", "BayerRG8"},
		{"ExposureTime", "ExposureTimeAbs", "10000"},
		{"Gain", "GainRaw", "100"},
		{"FrameRate", "AcquisitionFrameRateAbs", "30.0"},
	} {
		param, value, ok := report.AppliedParameter(tc.setting)
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, param, test.ShouldEqual, tc.param)
		test.That(t, value, test.ShouldEqual, tc.value)
		got, err := dev.GetParameter(tc.param)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got, test.ShouldEqual, tc.value)
	}

	// RGB8 is tried and rejected before BayerRG8.
	test.That(t, report.Attempts[5].Setting, test.ShouldEqual, "PixelFormat")
	test.That(t, report.Attempts[5].Value, test.ShouldEqual, "RGB8")
	test.That(t, report.Attempts[5].Applied, test.ShouldBeFalse)
	test.That(t, report.String(), test.ShouldContainSubstring, "ExposureTime (ExposureTimeAbs=10000)")
	test.That(t, logs.FilterMessage("camera parameters configured").Len(), test.ShouldEqual, 1)
}

func TestApplyOrdersStages(t *testing.T) {
	logger := logging.NewTestLogger(t)
	dev := newFakeDevice()
	settings := []gige.Setting{
		{Name: "ExposureTime", Stage: gige.StageImage, Candidates: gige.Aliases("2000", "ExposureTimeAbs")},
		{Name: "TriggerMode", Stage: gige.StageAcquisition, Candidates: gige.Aliases("Off", "TriggerMode"), Symbolic: true},
		{Name: "PacketSize", Stage: gige.StageTransport, Candidates: gige.Aliases("9000", "GevSCPSPacketSize")},
		{Name: "InterPacketDelay", Stage: gige.StageTransport, Candidates: gige.Aliases("500", "GevSCPD")},
	}
	newConfigurator(logger).Apply(context.Background(), dev, settings)
	test.That(t, dev.Writes(), test.ShouldResemble, []string{
		"GevSCPSPacketSize=9000",
		"GevSCPD=500",
		"TriggerMode=Off",
		"ExposureTimeAbs=2000",
	})
}

func TestUnavailableSettingIsNotFatal(t *testing.T) {
	logger := logging.NewTestLogger(t)
	dev := newFakeDevice()
	dev.SetParam("ExposureTimeAbs", fake.Param{Value: "5000"})
	dev.RemoveParam("BalanceWhiteAuto")

	report := newConfigurator(logger).Apply(context.Background(), dev, gige.DefaultSettings(gige.DefaultTransportSettings()))
	test.That(t, report.NotConfigured(), test.ShouldResemble, []string{"ExposureTime", "BalanceWhiteAuto"})

	var exposure []gige.Attempt
	for _, a := range report.Attempts {
		if a.Setting == "ExposureTime" {
			exposure = append(exposure, a)
		}
	}
	test.That(t, exposure, test.ShouldHaveLength, 2)
	test.That(t, errors.Is(exposure[0].Err, gige.ErrParameterNotFound), test.ShouldBeTrue)
	test.That(t, errors.Is(exposure[1].Err, gige.ErrParameterNotWritable), test.ShouldBeTrue)

	value, err := dev.GetParameter("ExposureTimeAbs")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, value, test.ShouldEqual, "5000")

	_, _, ok := report.AppliedParameter("Gain")
	test.That(t, ok, test.ShouldBeTrue)
}

func TestBusyParameterRetried(t *testing.T) {
	logger := logging.NewTestLogger(t)
	setting := gige.Setting{Name: "InterPacketDelay", Candidates: gige.Aliases("800", "GevSCPD")}

	t.Run("recovers", func(t *testing.T) {
		dev := newFakeDevice()
		dev.SetParam("GevSCPD", fake.Param{Value: "0", Writable: true, Busy: 2})
		report := newConfigurator(logger).Apply(context.Background(), dev, []gige.Setting{setting})
		test.That(t, report.NotConfigured(), test.ShouldBeEmpty)
		test.That(t, dev.Writes(), test.ShouldResemble, []string{"GevSCPD=800"})
	})

	t.Run("gives up", func(t *testing.T) {
		dev := newFakeDevice()
		dev.SetParam("GevSCPD", fake.Param{Value: "0", Writable: true, Busy: 10})
		report := newConfigurator(logger).Apply(context.Background(), dev, []gige.Setting{setting})
		test.That(t, report.NotConfigured(), test.ShouldResemble, []string{"InterPacketDelay"})
		test.That(t, errors.Is(report.Attempts[0].Err, gige.ErrParameterBusy), test.ShouldBeTrue)
	})
}

func TestRequiredSettingSkipped(t *testing.T) {
	logger := logging.NewTestLogger(t)
	dev := newFakeDevice()
	dev.SetParam("AcquisitionFrameRateEnable", fake.Param{Value: "false"})

	report := newConfigurator(logger).Apply(context.Background(), dev, gige.DefaultSettings(gige.DefaultTransportSettings()))
	test.That(t, report.NotConfigured(), test.ShouldResemble, []string{"FrameRateEnable", "FrameRate"})
	for _, w := range dev.Writes() {
		test.That(t, strings.HasPrefix(w, "AcquisitionFrameRate"), test.ShouldBeFalse)
	}
}

func TestApplyStopsAcquisition(t *testing.T) {
	logger := logging.NewTestLogger(t)
	dev := newFakeDevice()
	test.That(t, dev.Open(context.Background()), test.ShouldBeNil)
	test.That(t, dev.StartGrabbing(gige.GrabLatestImageOnly), test.ShouldBeNil)
	test.That(t, dev.IsWritable("PixelFormat"), test.ShouldBeFalse)

	report := newConfigurator(logger).Apply(context.Background(), dev, gige.DefaultSettings(gige.DefaultTransportSettings()))
	test.That(t, dev.IsGrabbing(), test.ShouldBeFalse)
	param, _, ok := report.AppliedParameter("PixelFormat")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, param, test.ShouldEqual, "PixelFormat")
}

func TestWithOverrides(t *testing.T) {
	defaults := gige.DefaultSettings(gige.TransportSettings{PacketSize: 1500})
	settings := gige.WithOverrides(defaults, map[string]string{
		"ExposureTimeAbs":   "20000",
		"Width":             "1280",
		"BinningHorizontal": "2",
	})
	test.That(t, settings, test.ShouldHaveLength, len(defaults)+1)

	byName := map[string]gige.Setting{}
	for _, s := range settings {
		byName[s.Name] = s
	}
	test.That(t, byName["ExposureTime"].Candidates, test.ShouldResemble, []gige.Candidate{
		{Parameter: "ExposureTime", Value: "10000"},
		{Parameter: "ExposureTimeAbs", Value: "20000"},
	})
	test.That(t, byName["Width"].Candidates, test.ShouldResemble, []gige.Candidate{{Parameter: "Width", Value: "1280"}})
	test.That(t, byName["Width"].Optional, test.ShouldBeTrue)
	last := settings[len(settings)-1]
	test.That(t, last.Name, test.ShouldEqual, "BinningHorizontal")
	test.That(t, last.Stage, test.ShouldEqual, gige.StageImage)

	// defaults are left untouched
	for _, s := range defaults {
		switch s.Name {
		case "ExposureTime":
			test.That(t, s.Candidates[1].Value, test.ShouldEqual, "10000")
		case "Width":
			test.That(t, s.Candidates[0].Value, test.ShouldEqual, "1920")
		}
	}
}

func TestOptionalSizeSettings(t *testing.T) {
	logger := logging.NewTestLogger(t)

	t.Run("fixed sensor size is skipped", func(t *testing.T) {
		dev := newFakeDevice()
		report := newConfigurator(logger).Apply(context.Background(), dev, gige.DefaultSettings(gige.DefaultTransportSettings()))
		test.That(t, report.NotConfigured(), test.ShouldBeEmpty)
		test.That(t, report.Skipped(), test.ShouldResemble, []string{"Width", "Height"})
		test.That(t, report.String(), test.ShouldContainSubstring, "skipped: [Width, Height]")
		_, _, ok := report.AppliedParameter("ExposureTime")
		test.That(t, ok, test.ShouldBeTrue)
	})

	t.Run("missing size parameters are skipped", func(t *testing.T) {
		dev := newFakeDevice()
		dev.RemoveParam("Width")
		dev.RemoveParam("Height")
		report := newConfigurator(logger).Apply(context.Background(), dev, gige.DefaultSettings(gige.DefaultTransportSettings()))
		test.That(t, report.NotConfigured(), test.ShouldBeEmpty)
		test.That(t, report.Skipped(), test.ShouldResemble, []string{"Width", "Height"})
	})

	t.Run("writable size is applied before exposure", func(t *testing.T) {
		dev := newFakeDevice()
		dev.SetParam("Width", fake.Param{Value: "32", Writable: true})
		dev.SetParam("Height", fake.Param{Value: "24", Writable: true})
		settings := gige.WithOverrides(gige.DefaultSettings(gige.DefaultTransportSettings()), map[string]string{"Height": "720"})
		report := newConfigurator(logger).Apply(context.Background(), dev, settings)
		test.That(t, report.Skipped(), test.ShouldBeEmpty)

		writes := strings.Join(dev.Writes(), " ")
		test.That(t, writes, test.ShouldContainSubstring, "Width=1920 Height=720")
		test.That(t, strings.Index(writes, "Height=720"), test.ShouldBeLessThan, strings.Index(writes, "ExposureTimeAbs="))
	})
}

func TestDiagnose(t *testing.T) {
	dev := newFakeDevice()
	dev.SetParam("GevHeartbeatTimeout", fake.Param{Value: "3000"})

	diag := gige.Diagnose(dev, gige.DiagnosticParameters)
	test.That(t, diag, test.ShouldHaveLength, len(gige.DiagnosticParameters))
	byName := map[string]gige.ParameterDiagnosis{}
	for _, d := range diag {
		byName[d.Name] = d
	}
	test.That(t, byName["GevSCPD"], test.ShouldResemble, gige.ParameterDiagnosis{
		Name: "GevSCPD", Exists: true, Writable: true, Value: "0",
		Range: &gige.ParameterRange{Min: "0", Max: "65535", Increment: "1"},
	})
	test.That(t, byName["GevSCPSPacketSize"].Range.String(), test.ShouldEqual, "220..16404 step 4")
	test.That(t, byName["GevHeartbeatTimeout"].Writable, test.ShouldBeFalse)
	test.That(t, byName["GevHeartbeatTimeout"].Range, test.ShouldBeNil)
	test.That(t, byName["AcquisitionMode"].Range, test.ShouldBeNil)
	test.That(t, byName["ExposureTime"].Exists, test.ShouldBeFalse)
	test.That(t, byName["ExposureTimeAbs"].Value, test.ShouldEqual, "5000")
}

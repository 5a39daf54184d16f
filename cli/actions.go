package cli

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	goutils "go.viam.com/utils"

	"go.viam.com/stereo/components/camera/gige"
	"go.viam.com/stereo/components/camera/gige/gvcp"
	"go.viam.com/stereo/components/camera/stereo"
	"go.viam.com/stereo/logging"
	"go.viam.com/stereo/rimage"
)

// DiscoverAction lists the cameras of the configured backend and, with --gvcp, the GigE Vision
// cameras answering a broadcast discovery.
func DiscoverAction(c *cli.Context) error {
	s, err := newSession(c)
	if err != nil {
		return err
	}
	defer goutils.UncheckedErrorFunc(s.Close)

	transport, err := s.transport()
	if err != nil {
		return err
	}
	infos, err := transport.Enumerate(c.Context)
	if err != nil {
		return errors.Wrap(err, "enumerating cameras")
	}
	printf(c.App.Writer, "%d camera(s) on the %s backend", len(infos), s.cfg.Backend)
	if len(infos) > 0 {
		printf(c.App.Writer, "%s", deviceTable(infos))
	}

	if !c.Bool(gvcpFlag) {
		return nil
	}
	acks, err := gvcp.Discover(c.Context, c.String(broadcastFlag), c.Duration(timeoutFlag), s.logger)
	if err != nil {
		return errors.Wrap(err, "GigE Vision discovery")
	}
	printf(c.App.Writer, "%d GigE Vision camera(s) answered discovery", len(acks))
	if len(acks) > 0 {
		infos = make([]gige.DeviceInfo, 0, len(acks))
		for i, ack := range acks {
			infos = append(infos, ack.DeviceInfo(i))
		}
		printf(c.App.Writer, "%s", deviceTable(infos))
	}
	return nil
}

func deviceTable(infos []gige.DeviceInfo) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"#", "Model", "Serial", "Vendor", "Version", "IP", "MAC", "Name"})
	for _, info := range infos {
		t.AppendRow(table.Row{
			info.Index, info.ModelName, info.SerialNumber, info.VendorName,
			info.DeviceVersion, info.IPAddress, info.MACAddress, info.UserDefinedName,
		})
	}
	return t.Render()
}

// DiagnoseAction opens each camera on its own, applies the configured settings and reports the
// streaming parameters that matter most for reliable transfers.
func DiagnoseAction(c *cli.Context) error {
	s, err := newSession(c)
	if err != nil {
		return err
	}
	defer goutils.UncheckedErrorFunc(s.Close)

	transport, err := s.transport()
	if err != nil {
		return err
	}
	left, right := s.engineConfigs()
	for _, ec := range []gige.EngineConfig{left, right} {
		diagnoseCamera(c, transport, ec, s.logger)
	}

	addr := c.String(addressFlag)
	if addr == "" {
		return nil
	}
	client, err := gvcp.Dial(addr)
	if err != nil {
		return err
	}
	defer goutils.UncheckedErrorFunc(client.Close)
	bootstrap, err := client.ReadBootstrap(c.Context)
	if err != nil {
		return errors.Wrapf(err, "reading bootstrap registers of %s", addr)
	}
	printf(c.App.Writer, "GigE camera %s: packet size %d, packet delay %d, heartbeat timeout %d ms",
		addr, bootstrap.PacketSize, bootstrap.PacketDelay, bootstrap.HeartbeatTimeout)
	return nil
}

func diagnoseCamera(c *cli.Context, transport gige.Transport, ec gige.EngineConfig, logger logging.Logger) {
	ctx := c.Context
	engine := gige.NewEngine(transport, ec, logger)
	if err := engine.Initialize(ctx); err != nil {
		warningf(c.App.ErrWriter, "camera %q: %v", ec.Name, err)
		return
	}
	defer func() {
		if err := engine.Close(ctx); err != nil {
			warningf(c.App.ErrWriter, "closing camera %q: %v", ec.Name, err)
		}
	}()

	info, err := engine.Info()
	if err != nil {
		warningf(c.App.ErrWriter, "camera %q: %v", ec.Name, err)
	}
	printf(c.App.Writer, "camera %s: %s %s, serial %s, version %s, address %s",
		ec.Name, info.VendorName, info.ModelName, info.SerialNumber, info.Version, info.IPAddress)
	printf(c.App.Writer, "  %s", engine.Report())

	t := table.NewWriter()
	t.AppendHeader(table.Row{"Parameter", "Available", "Writable", "Value", "Range"})
	for _, d := range gige.Diagnose(engine.Device(), gige.DiagnosticParameters) {
		bounds := ""
		if d.Range != nil {
			bounds = d.Range.String()
		}
		switch {
		case !d.Exists:
			t.AppendRow(table.Row{d.Name, "no", "", "", ""})
		case d.Error != "":
			t.AppendRow(table.Row{d.Name, "yes", d.Writable, "error: " + d.Error, bounds})
		default:
			t.AppendRow(table.Row{d.Name, "yes", d.Writable, d.Value, bounds})
		}
	}
	printf(c.App.Writer, "%s", t.Render())
}

// CaptureAction captures --count pairs and prints the success rate and latency.
func CaptureAction(c *cli.Context) error {
	s, err := newSession(c)
	if err != nil {
		return err
	}
	defer goutils.UncheckedErrorFunc(s.Close)

	rig, err := s.openRig(c.Context)
	if err != nil {
		return err
	}
	defer closeRig(c.Context, rig, s.logger)

	save := c.Bool(saveFlag)
	st, err := rig.RunLoop(c.Context, c.Int(countFlag), c.Duration(intervalFlag), func(i int, pair *stereo.Pair) error {
		if !save {
			return nil
		}
		return saveFrames(filepath.Join(s.cfg.OutputDir, pair.ID.String()), pair.Left.Image, pair.Right.Image)
	})
	printf(c.App.Writer, "%s", st)
	if err != nil {
		return err
	}
	if st.Attempts > 0 && st.Complete == 0 {
		return errors.New("no complete pair captured")
	}
	return nil
}

// DepthAction runs alignment and disparity estimation on a left and a right image file.
func DepthAction(c *cli.Context) error {
	if c.NArg() != 2 {
		return errors.New("depth needs a left and a right image file")
	}
	s, err := newSession(c)
	if err != nil {
		return err
	}
	defer goutils.UncheckedErrorFunc(s.Close)

	proc, err := newPairProcessor(s.cfg, s.logger, c.App.Writer)
	if err != nil {
		return err
	}
	left, err := rimage.ReadImageFromFile(c.Args().Get(0))
	if err != nil {
		return err
	}
	right, err := rimage.ReadImageFromFile(c.Args().Get(1))
	if err != nil {
		return err
	}
	_, err = proc.process(c.Context, pairName(c.Args().Get(0)), left, right)
	return err
}

// pairName names the outputs of a pair read from files after the left file.
func pairName(leftPath string) string {
	base := strings.TrimSuffix(filepath.Base(leftPath), filepath.Ext(leftPath))
	return base + "-" + uuid.New().String()[:8]
}

// RunAction captures --count pairs and processes every complete one.
func RunAction(c *cli.Context) error {
	s, err := newSession(c)
	if err != nil {
		return err
	}
	defer goutils.UncheckedErrorFunc(s.Close)

	proc, err := newPairProcessor(s.cfg, s.logger, c.App.Writer)
	if err != nil {
		return err
	}
	rig, err := s.openRig(c.Context)
	if err != nil {
		return err
	}
	defer closeRig(c.Context, rig, s.logger)

	st, err := rig.RunLoop(c.Context, c.Int(countFlag), c.Duration(intervalFlag), func(i int, pair *stereo.Pair) error {
		_, err := proc.process(c.Context, pair.ID.String(), pair.Left.Image, pair.Right.Image)
		return err
	})
	printf(c.App.Writer, "%s", st)
	if err != nil {
		return err
	}
	if st.Attempts > 0 && st.Complete == 0 {
		return errors.New("no complete pair captured")
	}
	return nil
}

func closeRig(ctx context.Context, rig *stereo.Rig, logger logging.Logger) {
	if err := rig.Close(ctx); err != nil {
		logger.CWarnw(ctx, "error closing stereo rig", "error", err)
	}
}

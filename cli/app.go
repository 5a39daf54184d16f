// Package cli contains all business logic needed by the stereo CLI command.
package cli

import (
	"io"
	"time"

	"github.com/urfave/cli/v2"
)

const (
	// Flags.
	configFlag    = "config"
	backendFlag   = "backend"
	outputDirFlag = "output-dir"
	logFileFlag   = "log-file"
	debugFlag     = "debug"

	countFlag     = "count"
	intervalFlag  = "interval"
	saveFlag      = "save"
	gvcpFlag      = "gvcp"
	broadcastFlag = "broadcast"
	timeoutFlag   = "timeout"
	addressFlag   = "address"
	algorithmFlag = "algorithm"
)

var app = &cli.App{
	Name:            "stereo",
	Usage:           "capture stereo pairs from two GigE cameras and estimate depth",
	HideHelpCommand: true,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    configFlag,
			Aliases: []string{"c"},
			Usage:   "load rig configuration from `FILE`",
		},
		&cli.StringFlag{
			Name:  backendFlag,
			Usage: "camera backend, overriding the config (fake or imagefile)",
		},
		&cli.StringFlag{
			Name:  outputDirFlag,
			Usage: "write outputs under `DIR`, overriding the config",
		},
		&cli.StringFlag{
			Name:  logFileFlag,
			Usage: "also write logs to `FILE`, rotated by size",
		},
		&cli.BoolFlag{
			Name:    debugFlag,
			Aliases: []string{"vvv"},
			Usage:   "enable debug logging",
		},
	},
	Commands: []*cli.Command{
		{
			Name:  "discover",
			Usage: "list the cameras the backend can see",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  gvcpFlag,
					Usage: "also broadcast a GigE Vision discovery on the local network",
				},
				&cli.StringFlag{
					Name:  broadcastFlag,
					Value: "255.255.255.255:3956",
					Usage: "discovery broadcast address",
				},
				&cli.DurationFlag{
					Name:  timeoutFlag,
					Value: 2 * time.Second,
					Usage: "how long to wait for discovery answers",
				},
			},
			Action: DiscoverAction,
		},
		{
			Name:  "diagnose",
			Usage: "open each camera and report its streaming parameters",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  addressFlag,
					Usage: "also read the bootstrap registers of the GigE camera at `IP`",
				},
			},
			Action: DiagnoseAction,
		},
		{
			Name:  "capture",
			Usage: "capture stereo pairs and report the success rate",
			Flags: []cli.Flag{
				&cli.IntFlag{
					Name:  countFlag,
					Value: 10,
					Usage: "number of pairs to capture",
				},
				&cli.DurationFlag{
					Name:  intervalFlag,
					Usage: "pause between pairs",
				},
				&cli.BoolFlag{
					Name:  saveFlag,
					Usage: "save every complete pair",
				},
			},
			Action: CaptureAction,
		},
		{
			Name:      "depth",
			Usage:     "estimate depth from a left and a right image file",
			ArgsUsage: "<left> <right>",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  algorithmFlag,
					Usage: "block_matching or semi_global, overriding the config",
				},
			},
			Action: DepthAction,
		},
		{
			Name:  "run",
			Usage: "capture pairs, align them and estimate depth",
			Flags: []cli.Flag{
				&cli.IntFlag{
					Name:  countFlag,
					Value: 1,
					Usage: "number of pairs to process",
				},
				&cli.DurationFlag{
					Name:  intervalFlag,
					Usage: "pause between pairs",
				},
				&cli.StringFlag{
					Name:  algorithmFlag,
					Usage: "block_matching or semi_global, overriding the config",
				},
			},
			Action: RunAction,
		},
	},
}

// NewApp returns a new app with the CLI API, Writer set to out, and ErrWriter
// set to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	app.Writer = out
	app.ErrWriter = errOut
	return app
}

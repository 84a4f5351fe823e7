package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"
)

func main() {
	app := cli.NewApp()
	app.Name = "lightbake"
	app.Usage = "bake indirect lighting of a demo scene into a light cache"
	app.Version = "0.1.0"
	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "v",
			Usage: "enable verbose logging",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:  "bake",
			Usage: "build a demo scene with probes and bake it",
			Description: `
Lays out a row of irradiance grids and reflection probes, sizes the irradiance
pool for them and runs a full bake: world, every diffuse bounce of every grid,
then every reflection probe.

Without --headless the bake runs on a WebGPU device created behind a hidden
window.`,
			Flags: []cli.Flag{
				cli.IntFlag{
					Name:  "grids",
					Value: 2,
					Usage: "number of irradiance grids",
				},
				cli.IntFlag{
					Name:  "grid-res",
					Value: 4,
					Usage: "samples per axis of each grid",
				},
				cli.IntFlag{
					Name:  "cubes",
					Value: 2,
					Usage: "number of reflection probes",
				},
				cli.IntFlag{
					Name:  "bounces",
					Value: 2,
					Usage: "diffuse bounces",
				},
				cli.IntFlag{
					Name:  "cubemap-res",
					Value: 512,
					Usage: "capture and reflection cubemap resolution",
				},
				cli.IntFlag{
					Name:  "visibility-res",
					Value: 32,
					Usage: "irradiance visibility tile resolution",
				},
				cli.StringFlag{
					Name:  "encoding",
					Value: "sh-l2",
					Usage: "irradiance encoding: sh-l2, cubemap or hl2",
				},
				cli.StringFlag{
					Name:  "world",
					Value: "0.05,0.05,0.05",
					Usage: "world color as r,g,b",
				},
				cli.BoolFlag{
					Name:  "background",
					Usage: "bake on a worker with a dedicated context",
				},
				cli.BoolFlag{
					Name:  "headless",
					Usage: "use the in-memory backend instead of a GPU",
				},
				cli.StringFlag{
					Name:  "layout-preview, o",
					Usage: "write a BMP of the irradiance pool layout to this file",
				},
			},
			Action: Bake,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

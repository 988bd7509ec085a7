// Package main is the lifeviz command line tool: one-shot scene exports,
// still-frame renders and health checks against a life-trajectory
// embeddings deployment.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	cli "github.com/urfave/cli/v2"

	"github.com/junayed-hasan/life-trajectory-embeddings/internal/data/snapshot"
	"github.com/junayed-hasan/life-trajectory-embeddings/internal/dataset"
	"github.com/junayed-hasan/life-trajectory-embeddings/internal/export"
	"github.com/junayed-hasan/life-trajectory-embeddings/internal/lifeapi"
	"github.com/junayed-hasan/life-trajectory-embeddings/internal/render"
	"github.com/junayed-hasan/life-trajectory-embeddings/internal/view"
)

// Shared flag definitions
var (
	upstreamFlag = &cli.StringFlag{
		Name:  "upstream",
		Usage: "Origin URL of the embeddings API (the /api/v1 prefix is added automatically)",
		Value: "http://localhost:8080",
	}
	snapshotFlag = &cli.StringFlag{
		Name:  "snapshot",
		Usage: "Load the dataset from a local TileDB snapshot directory instead of the upstream",
	}
	timeoutFlag = &cli.IntFlag{
		Name:  "timeout",
		Usage: "Upstream request timeout in seconds",
		Value: 60,
	}
	clusterFlag = &cli.IntFlag{
		Name:  "cluster",
		Usage: "Restrict the scene to one cluster id",
	}
	personFlag = &cli.StringFlag{
		Name:  "person",
		Usage: "Highlight this person id",
	}
	titleFlag = &cli.StringFlag{
		Name:  "title",
		Usage: "Scene title",
		Value: "Life Trajectory Embeddings",
	}
	rotateFlag = &cli.BoolFlag{
		Name:  "rotate",
		Usage: "Enable auto-rotate in the exported scene",
	}
	sceneOutFlag = &cli.StringFlag{
		Name:  "out",
		Usage: "Output HTML file",
		Value: "scene.html",
	}
	frameOutFlag = &cli.StringFlag{
		Name:  "out",
		Usage: "Output PNG file",
		Value: "frame.png",
	}
	widthFlag = &cli.IntFlag{
		Name:  "width",
		Usage: "Frame width in pixels",
		Value: 960,
	}
	heightFlag = &cli.IntFlag{
		Name:  "height",
		Usage: "Frame height in pixels",
		Value: 640,
	}
	colorFlag = &cli.StringFlag{
		Name:  "color",
		Usage: "Point coloring: 'cluster' or 'events' (event counts need --snapshot)",
		Value: "cluster",
	}
	colormapFlag = &cli.StringFlag{
		Name:  "colormap",
		Usage: "Colormap for --color events (viridis, plasma, inferno, magma, grayred)",
		Value: "viridis",
	}
	yawFlag = &cli.Float64Flag{
		Name:  "yaw",
		Usage: "Camera yaw in radians",
		Value: 0.6,
	}
	pitchFlag = &cli.Float64Flag{
		Name:  "pitch",
		Usage: "Camera pitch in radians",
		Value: 0.35,
	}
	distanceFlag = &cli.Float64Flag{
		Name:  "distance",
		Usage: "Camera orbit distance",
		Value: 40,
	}
	jsonFlag = &cli.BoolFlag{
		Name:  "json",
		Usage: "Output JSON instead of plain text",
	}
)

var app = &cli.App{
	Name:  "lifeviz",
	Usage: "Inspect and export life-trajectory embedding scenes",
	Commands: []*cli.Command{
		{
			Name:  "export",
			Usage: "Write the dataset as an interactive HTML scene",
			Flags: []cli.Flag{
				upstreamFlag,
				snapshotFlag,
				timeoutFlag,
				sceneOutFlag,
				clusterFlag,
				personFlag,
				titleFlag,
				rotateFlag,
			},
			Action: handleExportCommand,
		},
		{
			Name:  "snapshot",
			Usage: "Render a one-shot PNG frame of the dataset",
			Flags: []cli.Flag{
				upstreamFlag,
				snapshotFlag,
				timeoutFlag,
				frameOutFlag,
				widthFlag,
				heightFlag,
				clusterFlag,
				personFlag,
				colorFlag,
				colormapFlag,
				yawFlag,
				pitchFlag,
				distanceFlag,
			},
			Action: handleSnapshotCommand,
		},
		{
			Name:  "health",
			Usage: "Check upstream health",
			Flags: []cli.Flag{
				upstreamFlag,
				timeoutFlag,
				jsonFlag,
			},
			Action: handleHealthCommand,
		},
	},
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadStore builds a dataset store from either a local snapshot or the
// upstream and runs the all-or-nothing load.
func loadStore(c *cli.Context) (*dataset.Store, *snapshot.Reader, error) {
	var (
		source dataset.Source
		reader *snapshot.Reader
	)
	if path := c.String("snapshot"); path != "" {
		r, err := snapshot.NewReader(path)
		if err != nil {
			return nil, nil, err
		}
		reader = r
		source = snapshot.NewSource(r)
	} else {
		client, err := lifeapi.NewClient(lifeapi.Config{
			DirectURL:   c.String("upstream"),
			Mode:        "direct",
			TimeoutSecs: c.Int("timeout"),
		})
		if err != nil {
			return nil, nil, err
		}
		source = client
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(c.Int("timeout"))*time.Second)
	defer cancel()

	store := dataset.NewStore(source)
	if err := store.LoadAll(ctx); err != nil {
		return nil, nil, fmt.Errorf("load dataset: %w", err)
	}
	return store, reader, nil
}

func selectedCluster(c *cli.Context) *int {
	if !c.IsSet("cluster") {
		return nil
	}
	id := c.Int("cluster")
	return &id
}

func selectedPerson(c *cli.Context) *string {
	if p := c.String("person"); p != "" {
		return &p
	}
	return nil
}

func handleExportCommand(c *cli.Context) error {
	store, _, err := loadStore(c)
	if err != nil {
		return err
	}

	out := c.String("out")
	err = export.WriteSceneFile(out, store, export.Options{
		Title:           c.String("title"),
		SelectedCluster: selectedCluster(c),
		SelectedPerson:  selectedPerson(c),
		AutoRotate:      c.Bool("rotate"),
	})
	if err != nil {
		return err
	}

	meta := store.Meta()
	fmt.Printf("Exported %d persons across %d clusters to %s\n", meta.TotalPersons, meta.NumClusters, out)
	return nil
}

func handleSnapshotCommand(c *cli.Context) error {
	colorMode := c.String("color")
	if colorMode != "cluster" && colorMode != "events" {
		return fmt.Errorf("unknown color mode %q (want 'cluster' or 'events')", colorMode)
	}

	store, reader, err := loadStore(c)
	if err != nil {
		return err
	}

	persons := view.Visible(store.Persons(), selectedCluster(c))
	selected := selectedPerson(c)

	var events map[string]int
	if colorMode == "events" {
		if reader == nil {
			return fmt.Errorf("--color events needs --snapshot: event counts live in the snapshot")
		}
		events, err = reader.EventCounts()
		if err != nil {
			return fmt.Errorf("load event counts: %w", err)
		}
	}
	maxEvents := 0
	for _, n := range events {
		if n > maxEvents {
			maxEvents = n
		}
	}

	points := make([]render.Point, len(persons))
	for i, p := range persons {
		pt := render.Point{
			ID:        p.PersonID,
			Label:     p.Name,
			X:         p.X,
			Y:         p.Y,
			Z:         p.Z,
			ClusterID: p.ClusterID,
			Selected:  selected != nil && *selected == p.PersonID,
		}
		if maxEvents > 0 {
			pt.Intensity = float64(events[p.PersonID]) / float64(maxEvents)
		}
		points[i] = pt
	}

	renderer := render.NewSceneRenderer(render.Config{
		Width:           c.Int("width"),
		Height:          c.Int("height"),
		DefaultColormap: c.String("colormap"),
	})

	// Flag defaults match the default camera, so unset flags apply no delta.
	cam := render.NewCamera()
	cam.Rotate(c.Float64("yaw")-cam.Yaw, c.Float64("pitch")-cam.Pitch)
	if d := c.Float64("distance"); d > 0 {
		cam.Zoom(cam.Distance / d)
	}

	var data []byte
	if colorMode == "events" {
		data, err = renderer.RenderIntensityScene(points, cam, c.Int("width"), c.Int("height"), c.String("colormap"))
	} else {
		data, err = renderer.RenderScene(points, cam, c.Int("width"), c.Int("height"))
	}
	if err != nil {
		return fmt.Errorf("render frame: %w", err)
	}

	out := c.String("out")
	if err := os.WriteFile(out, data, 0644); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	fmt.Printf("Rendered %d points to %s\n", len(points), out)
	return nil
}

func handleHealthCommand(c *cli.Context) error {
	client, err := lifeapi.NewClient(lifeapi.Config{
		DirectURL:   c.String("upstream"),
		Mode:        "direct",
		TimeoutSecs: c.Int("timeout"),
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(c.Int("timeout"))*time.Second)
	defer cancel()

	h, err := client.Health(ctx)
	if err != nil {
		return fmt.Errorf("upstream unreachable: %w", err)
	}

	if c.Bool("json") {
		data, err := json.MarshalIndent(h, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	} else {
		fmt.Printf("status: %s\n", h.Status)
		if h.Version != "" {
			fmt.Printf("version: %s\n", h.Version)
		}
		names := make([]string, 0, len(h.Services))
		for name := range h.Services {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("%s: %s\n", name, h.Services[name])
		}
	}

	if h.Status != "healthy" {
		return fmt.Errorf("upstream reports status %q", h.Status)
	}
	return nil
}

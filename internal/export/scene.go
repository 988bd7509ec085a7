// Package export renders the dataset as a self-contained interactive HTML
// page, one 3D scatter series per cluster.
package export

import (
	"fmt"
	"image/color"
	"io"
	"os"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/junayed-hasan/life-trajectory-embeddings/internal/dataset"
	"github.com/junayed-hasan/life-trajectory-embeddings/internal/view"
	"github.com/junayed-hasan/life-trajectory-embeddings/pkg/colormap"
)

// Options controls the exported scene.
type Options struct {
	Title           string
	SelectedCluster *int
	SelectedPerson  *string
	AutoRotate      bool
}

// WriteScene renders the interactive scene for the store's current dataset,
// honoring the cluster filter and person selection the same way the frame
// renderer does.
func WriteScene(w io.Writer, store *dataset.Store, o Options) error {
	if o.Title == "" {
		o.Title = "Life Trajectory Embeddings"
	}

	persons := view.Visible(store.Persons(), o.SelectedCluster)

	// Group persons into one series per cluster, unclustered last. The
	// selected person is pulled out into its own highlight series.
	grouped := make(map[int][]opts.Chart3DData)
	var unclustered []opts.Chart3DData
	var highlight []opts.Chart3DData
	for _, p := range persons {
		d := opts.Chart3DData{
			Name:  p.Name,
			Value: []interface{}{p.X, p.Y, p.Z},
		}
		if o.SelectedPerson != nil && p.PersonID == *o.SelectedPerson {
			highlight = append(highlight, d)
			continue
		}
		if p.ClusterID == nil {
			unclustered = append(unclustered, d)
			continue
		}
		grouped[*p.ClusterID] = append(grouped[*p.ClusterID], d)
	}

	clusterIDs := make([]int, 0, len(grouped))
	for id := range grouped {
		clusterIDs = append(clusterIDs, id)
	}
	sort.Ints(clusterIDs)

	scatter := charts.NewScatter3D()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle:       o.Title,
			Width:           "140vh",
			Height:          "90vh",
			BackgroundColor: "#101418",
		}),
		charts.WithTitleOpts(opts.Title{
			Title: o.Title,
			Left:  "center",
		}),
		charts.WithLegendOpts(opts.Legend{
			Show: opts.Bool(true),
			Top:  "bottom",
		}),
		charts.WithTooltipOpts(opts.Tooltip{
			Trigger: "item",
			Formatter: opts.FuncOpts(`function (params) {
		return params.name + '<br />' + params.seriesName;
	}`),
		}),
		charts.WithGrid3DOpts(opts.Grid3D{
			Show:     opts.Bool(true),
			BoxWidth: 100,
			BoxDepth: 100,
			ViewControl: &opts.ViewControl{
				AutoRotate: o.AutoRotate,
			},
		}),
		charts.WithXAxis3DOpts(opts.XAxis3D{Name: "x"}),
		charts.WithYAxis3DOpts(opts.YAxis3D{Name: "y"}),
		charts.WithZAxis3DOpts(opts.ZAxis3D{Name: "z"}),
	)

	for _, id := range clusterIDs {
		cid := id
		scatter.AddSeries(store.ClusterLabel(&cid), grouped[id],
			charts.WithItemStyleOpts(opts.ItemStyle{Color: hexColor(colormap.Clusters.ColorFor(&cid))}))
	}
	if len(unclustered) > 0 {
		scatter.AddSeries(dataset.UnclusteredLabel, unclustered,
			charts.WithItemStyleOpts(opts.ItemStyle{Color: hexColor(colormap.Unclustered)}))
	}
	if len(highlight) > 0 {
		scatter.AddSeries("Selected", highlight,
			charts.WithItemStyleOpts(opts.ItemStyle{Color: hexColor(colormap.HighlightFill)}))
	}

	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.AddCharts(scatter)

	if err := page.Render(w); err != nil {
		return fmt.Errorf("rendering scene: %w", err)
	}
	return nil
}

// WriteSceneFile renders the scene to a file.
func WriteSceneFile(filename string, store *dataset.Store, o Options) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("could not create scene file %s: %w", filename, err)
	}
	defer f.Close()
	return WriteScene(f, store, o)
}

func hexColor(c color.RGBA) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

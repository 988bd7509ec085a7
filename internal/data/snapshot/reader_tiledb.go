//go:build tiledb

package snapshot

import (
	"fmt"
	"math"
	"os"
	"sync"

	tiledb "github.com/TileDB-Inc/TileDB-Go"

	"github.com/junayed-hasan/life-trajectory-embeddings/internal/lifeapi"
)

// Reader reads the persons array via TileDB.
type Reader struct {
	arrayURI string
	ctx      *tiledb.Context

	loadOnce sync.Once
	persons  []lifeapi.VisualizationPerson
	events   map[string]int // person_id -> total_events
	loadErr  error
}

func NewReader(path string) (*Reader, error) {
	uri, err := ResolveSnapshotURI(path)
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(uri); statErr != nil {
		return nil, fmt.Errorf("snapshot array not found at %s: %w", uri, statErr)
	}

	ctx, err := tiledb.NewContext(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create TileDB context: %w", err)
	}

	return &Reader{arrayURI: uri, ctx: ctx}, nil
}

func (r *Reader) Supported() bool { return true }

func (r *Reader) ArrayURI() string { return r.arrayURI }

// Persons returns every row of the snapshot. The array is read once and the
// decoded rows are cached for the life of the Reader.
func (r *Reader) Persons() ([]lifeapi.VisualizationPerson, error) {
	r.loadOnce.Do(func() { r.loadErr = r.load() })
	if r.loadErr != nil {
		return nil, r.loadErr
	}
	return r.persons, nil
}

// EventCounts returns person_id -> total_events for intensity coloring.
func (r *Reader) EventCounts() (map[string]int, error) {
	r.loadOnce.Do(func() { r.loadErr = r.load() })
	if r.loadErr != nil {
		return nil, r.loadErr
	}
	return r.events, nil
}

func (r *Reader) load() error {
	arr, err := tiledb.NewArray(r.ctx, r.arrayURI)
	if err != nil {
		return fmt.Errorf("failed to open snapshot array (%s): %w", r.arrayURI, err)
	}
	defer arr.Free()
	if err := arr.Open(tiledb.TILEDB_READ); err != nil {
		return fmt.Errorf("failed to open snapshot array for read: %w", err)
	}
	defer arr.Close()

	// Use non-empty domain to avoid relying on potentially unbounded dimension domains.
	ned, isEmpty, err := arr.NonEmptyDomainFromName("row")
	if err != nil {
		return fmt.Errorf("failed to get snapshot non-empty domain: %w", err)
	}
	if isEmpty || ned == nil {
		r.persons = []lifeapi.VisualizationPerson{}
		r.events = map[string]int{}
		return nil
	}
	minRow, maxRow, err := boundsMinMaxInt64(ned.Bounds)
	if err != nil {
		return fmt.Errorf("failed to parse snapshot non-empty domain bounds: %w", err)
	}

	sub, err := arr.NewSubarray()
	if err != nil {
		return fmt.Errorf("failed to create snapshot subarray: %w", err)
	}
	defer sub.Free()
	if err := sub.AddRangeByName("row", tiledb.MakeRange[int64](minRow, maxRow)); err != nil {
		return fmt.Errorf("failed to set snapshot range: %w", err)
	}

	q, err := tiledb.NewQuery(r.ctx, arr)
	if err != nil {
		return fmt.Errorf("failed to create snapshot query: %w", err)
	}
	defer q.Free()
	if err := q.SetSubarray(sub); err != nil {
		return fmt.Errorf("failed to set snapshot subarray: %w", err)
	}
	if err := q.SetLayout(tiledb.TILEDB_ROW_MAJOR); err != nil {
		return fmt.Errorf("failed to set snapshot query layout: %w", err)
	}

	// Stream in chunks to handle large snapshots without huge allocations.
	const chunkRows = 8192
	rowIDs := make([]int64, chunkRows)
	xs := make([]float64, chunkRows)
	ys := make([]float64, chunkRows)
	zs := make([]float64, chunkRows)
	clusterIDs := make([]int32, chunkRows)
	totalEvents := make([]int32, chunkRows)

	clusterNullable, err := attributeNullable(arr, "cluster_id")
	if err != nil {
		return fmt.Errorf("failed to inspect cluster_id nullable: %w", err)
	}
	var clusterValid []uint8
	if clusterNullable {
		clusterValid = make([]uint8, chunkRows)
	}

	personID, err := newVarColumn(arr, "person_id", chunkRows, 1024*1024)
	if err != nil {
		return err
	}
	name, err := newVarColumn(arr, "name", chunkRows, 1024*1024)
	if err != nil {
		return err
	}
	clusterLabel, err := newVarColumn(arr, "cluster_label", chunkRows, 1024*1024)
	if err != nil {
		return err
	}
	varCols := []*varColumn{personID, name, clusterLabel}

	persons := make([]lifeapi.VisualizationPerson, 0, chunkRows)
	events := make(map[string]int, chunkRows)
	for {
		// Reset buffers each submit so TileDB sees full capacities (buffer sizes are in/out params).
		if _, err := q.SetDataBuffer("row", rowIDs); err != nil {
			return fmt.Errorf("failed to set buffer row: %w", err)
		}
		if _, err := q.SetDataBuffer("x", xs); err != nil {
			return fmt.Errorf("failed to set buffer x: %w", err)
		}
		if _, err := q.SetDataBuffer("y", ys); err != nil {
			return fmt.Errorf("failed to set buffer y: %w", err)
		}
		if _, err := q.SetDataBuffer("z", zs); err != nil {
			return fmt.Errorf("failed to set buffer z: %w", err)
		}
		if _, err := q.SetDataBuffer("cluster_id", clusterIDs); err != nil {
			return fmt.Errorf("failed to set buffer cluster_id: %w", err)
		}
		if _, err := q.SetDataBuffer("total_events", totalEvents); err != nil {
			return fmt.Errorf("failed to set buffer total_events: %w", err)
		}
		if clusterNullable {
			if _, err := q.SetValidityBuffer("cluster_id", clusterValid); err != nil {
				return fmt.Errorf("failed to set validity buffer cluster_id: %w", err)
			}
		}
		for _, c := range varCols {
			if err := c.bind(q); err != nil {
				return err
			}
		}

		if err := q.Submit(); err != nil {
			return fmt.Errorf("snapshot query submit failed: %w", err)
		}
		status, err := q.Status()
		if err != nil {
			return fmt.Errorf("snapshot query status failed: %w", err)
		}
		elems, err := q.ResultBufferElements()
		if err != nil {
			return fmt.Errorf("snapshot query ResultBufferElements failed: %w", err)
		}

		usedRows := int(elems["row"][1])
		if usedRows > len(rowIDs) {
			usedRows = len(rowIDs)
		}
		for _, c := range varCols {
			c.observe(elems)
		}
		usedClusterValid := 0
		if clusterNullable {
			usedClusterValid = int(elems["cluster_id"][2])
			if usedClusterValid > len(clusterValid) {
				usedClusterValid = len(clusterValid)
			}
		}

		// If buffers are too small to return even a single row, grow and retry.
		if status == tiledb.TILEDB_INCOMPLETE && usedRows == 0 && varBytesUsed(varCols) == 0 {
			if err := growVarBuffers(varCols); err != nil {
				return err
			}
			continue
		}

		lim := usedRows
		for _, c := range varCols {
			if c.usedOffsets < lim {
				lim = c.usedOffsets
			}
		}
		for i := 0; i < lim; i++ {
			pid, ok := personID.value(i)
			if !ok || pid == "" {
				continue
			}
			p := lifeapi.VisualizationPerson{
				PersonID: pid,
				X:        xs[i],
				Y:        ys[i],
				Z:        zs[i],
			}
			p.Name, _ = name.value(i)
			if !clusterNullable || (i < usedClusterValid && clusterValid[i] != 0) {
				// Non-nullable snapshots encode "unclustered" as a negative id.
				if cid := int(clusterIDs[i]); cid >= 0 {
					p.ClusterID = &cid
				}
			}
			if lbl, ok := clusterLabel.value(i); ok && lbl != "" {
				p.ClusterLabel = &lbl
			}
			persons = append(persons, p)
			events[pid] = int(totalEvents[i])
		}

		if status == tiledb.TILEDB_COMPLETED {
			r.persons = persons
			r.events = events
			return nil
		}
		if status != tiledb.TILEDB_INCOMPLETE {
			return fmt.Errorf("unexpected snapshot query status: %v", status)
		}
	}
}

// varColumn tracks the query buffers for one var-length string attribute.
type varColumn struct {
	name     string
	offsets  []uint64
	data     []byte
	validity []uint8 // nil when the attribute is not nullable

	usedOffsets int
	usedBytes   int
	usedValid   int
}

func newVarColumn(arr *tiledb.Array, name string, rows, dataCap int) (*varColumn, error) {
	nullable, err := attributeNullable(arr, name)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect %s nullable: %w", name, err)
	}
	c := &varColumn{
		name:    name,
		offsets: make([]uint64, rows),
		data:    make([]byte, dataCap),
	}
	if nullable {
		c.validity = make([]uint8, rows)
	}
	return c, nil
}

func (c *varColumn) bind(q *tiledb.Query) error {
	if _, err := q.SetOffsetsBuffer(c.name, c.offsets); err != nil {
		return fmt.Errorf("failed to set offsets buffer %s: %w", c.name, err)
	}
	if _, err := q.SetDataBuffer(c.name, c.data); err != nil {
		return fmt.Errorf("failed to set data buffer %s: %w", c.name, err)
	}
	if c.validity != nil {
		if _, err := q.SetValidityBuffer(c.name, c.validity); err != nil {
			return fmt.Errorf("failed to set validity buffer %s: %w", c.name, err)
		}
	}
	return nil
}

func (c *varColumn) observe(elems map[string][3]uint64) {
	c.usedOffsets = int(elems[c.name][0])
	if c.usedOffsets > len(c.offsets) {
		c.usedOffsets = len(c.offsets)
	}
	c.usedBytes = int(elems[c.name][1])
	if c.usedBytes > len(c.data) {
		c.usedBytes = len(c.data)
	}
	c.usedValid = 0
	if c.validity != nil {
		c.usedValid = int(elems[c.name][2])
		if c.usedValid > len(c.validity) {
			c.usedValid = len(c.validity)
		}
	}
}

// value decodes row i. ok is false when the row is null or out of range.
func (c *varColumn) value(i int) (string, bool) {
	if i < 0 || i >= c.usedOffsets {
		return "", false
	}
	if c.validity != nil && c.usedValid > 0 && i < c.usedValid && c.validity[i] == 0 {
		return "", false
	}
	start := int(c.offsets[i])
	end := c.usedBytes
	if i+1 < c.usedOffsets {
		end = int(c.offsets[i+1])
	}
	if start < 0 || end < start || end > c.usedBytes {
		return "", false
	}
	return string(c.data[start:end]), true
}

func varBytesUsed(cols []*varColumn) int {
	total := 0
	for _, c := range cols {
		total += c.usedBytes + c.usedOffsets
	}
	return total
}

func growVarBuffers(cols []*varColumn) error {
	for _, c := range cols {
		if len(c.data) >= 64*1024*1024 {
			return fmt.Errorf("snapshot query buffers too small (%s); grew to %d bytes and still no progress", c.name, len(c.data))
		}
		c.data = make([]byte, len(c.data)*2)
	}
	return nil
}

func boundsMinMaxInt64(bounds interface{}) (int64, int64, error) {
	switch v := bounds.(type) {
	case []int64:
		if len(v) >= 2 {
			return v[0], v[1], nil
		}
	case []int32:
		if len(v) >= 2 {
			return int64(v[0]), int64(v[1]), nil
		}
	case []uint64:
		if len(v) >= 2 {
			if v[0] > math.MaxInt64 || v[1] > math.MaxInt64 {
				return 0, 0, fmt.Errorf("uint64 bounds exceed int64 range")
			}
			return int64(v[0]), int64(v[1]), nil
		}
	case []uint32:
		if len(v) >= 2 {
			return int64(v[0]), int64(v[1]), nil
		}
	}
	return 0, 0, fmt.Errorf("unsupported bounds type for non-empty domain")
}

func attributeNullable(arr *tiledb.Array, name string) (bool, error) {
	schema, err := arr.Schema()
	if err != nil {
		return false, err
	}
	defer schema.Free()
	attr, err := schema.AttributeFromName(name)
	if err != nil {
		return false, err
	}
	defer attr.Free()
	return attr.Nullable()
}

package export

import "fmt"

// Column describes one exported field. Width is a relative weight used by
// the PDF renderer; zero means 1.
type Column struct {
	Key    string
	Header string
	Width  float64
}

// Dataset defines tabular export content keyed by Column.Key.
type Dataset struct {
	Title   string
	Columns []Column
	Rows    []map[string]string
}

// Renderer turns a dataset into file bytes.
type Renderer interface {
	Render(Dataset) ([]byte, error)
	ContentType() string
	Extension() string
}

func (d Dataset) validate() error {
	if len(d.Columns) == 0 {
		return fmt.Errorf("export requires at least one column")
	}
	return nil
}

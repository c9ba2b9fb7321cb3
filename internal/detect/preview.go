package detect

// Format summarizes the overall layout of a previewed sheet.
type Format string

const (
	FormatTabular  Format = "tabular"
	FormatKeyValue Format = "key-value"
	FormatMixed    Format = "mixed"
)

// Preview is what the setup wizard renders: the detected sections plus
// every metric flattened into one list for the mapping step.
type Preview struct {
	Format        Format
	Sections      []Section
	FlattenedRows []Metric
}

// BuildPreview runs section detection over a raw grid and flattens the
// result for wizard consumption.
func BuildPreview(grid [][]string) Preview {
	sections := DetectSections(grid)

	tabular, keyValue := 0, 0
	var flattened []Metric
	for _, s := range sections {
		if s.Kind == KindTabular {
			tabular++
		} else {
			keyValue++
		}
		flattened = append(flattened, s.Metrics...)
	}

	format := FormatMixed
	switch {
	case tabular > 0 && keyValue == 0:
		format = FormatTabular
	case keyValue > 0 && tabular == 0:
		format = FormatKeyValue
	}

	return Preview{
		Format:        format,
		Sections:      sections,
		FlattenedRows: flattened,
	}
}

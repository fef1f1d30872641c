package mirror

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
)

// numericSchema is "time: f64, ch_0..ch_{n-1}: f32", per spec.md §4.9.
func numericSchema(channels int) *arrow.Schema {
	fields := make([]arrow.Field, 0, channels+1)
	fields = append(fields, arrow.Field{Name: "time", Type: arrow.PrimitiveTypes.Float64})
	for i := 0; i < channels; i++ {
		fields = append(fields, arrow.Field{Name: fmt.Sprintf("ch_%d", i), Type: arrow.PrimitiveTypes.Float32})
	}
	return arrow.NewSchema(fields, nil)
}

// stringSchema is "time: f64, value: string", for string-format outlets.
func stringSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "time", Type: arrow.PrimitiveTypes.Float64},
		{Name: "value", Type: arrow.BinaryTypes.String},
	}, nil)
}

// Package model defines core domain types shared across the service.
package model

import "fmt"

// BBox is a WGS84 bounding rectangle (minx, miny, maxx, maxy).
type BBox struct {
	MinX, MinY float64
	MaxX, MaxY float64
}

func (b BBox) String() string {
	return fmt.Sprintf("%g,%g,%g,%g", b.MinX, b.MinY, b.MaxX, b.MaxY)
}

// WKTPolygon renders the rectangle as a closed WKT polygon, counter-clockwise
// from the lower-left corner.
func (b BBox) WKTPolygon() string {
	return fmt.Sprintf("POLYGON ((%g %g, %g %g, %g %g, %g %g, %g %g))",
		b.MinX, b.MinY,
		b.MaxX, b.MinY,
		b.MaxX, b.MaxY,
		b.MinX, b.MaxY,
		b.MinX, b.MinY)
}

type ResultType string

const (
	ResultTypeResults ResultType = "results"
	ResultTypeHits    ResultType = "hits"
)

// PropertyFilter is an equality constraint on a record property.
type PropertyFilter struct {
	Name  string
	Value string
}

// SortCriterion is a sort spec; Order is "+" (ascending) or "-" (descending).
type SortCriterion struct {
	Property string
	Order    string
}

// QueryParams describes one collection query. Zero value means: first page,
// no filtering, full results.
type QueryParams struct {
	StartIndex       int
	Limit            int
	ResultType       ResultType
	BBox             *BBox
	Datetime         string
	Properties       []PropertyFilter
	SortBy           []SortCriterion
	SelectProperties []string
	SkipGeometry     bool
	Q                string
}

// Record is one raw STA entity as returned by the service.
type Record map[string]any

// FeatureSet is the outcome of a collection query. For hits-only queries
// Records is nil and NumberMatched carries the server-reported total.
type FeatureSet struct {
	Records       []Record
	NumberMatched *int
}

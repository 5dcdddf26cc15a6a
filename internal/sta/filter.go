package sta

import (
	"fmt"
	"strings"

	"github.com/spatialworks/sta-provider/internal/core/model"
)

// makeFilter builds a conjunctive $filter expression from equality filters,
// an optional bounding box and an optional datetime instant or range.
// Clauses are joined with " and "; an empty result means no filtering.
func makeFilter(entity Entity, timeField string, props []model.PropertyFilter, bbox *model.BBox, datetime string) (string, error) {
	var clauses []string

	for _, p := range props {
		if IsEntityName(p.Name) {
			// related entity: compare its identifier
			clauses = append(clauses, fmt.Sprintf("%s/@iot.id eq %s", p.Name, p.Value))
		} else {
			clauses = append(clauses, fmt.Sprintf("%s eq %s", p.Name, p.Value))
		}
	}

	if bbox != nil {
		if path, ok := LocationPath(entity); ok {
			clauses = append(clauses, fmt.Sprintf("st_within(%s, geography'%s')", path, bbox.WKTPolygon()))
		}
	}

	if datetime != "" {
		if timeField == "" {
			return "", ErrNoTimeField
		}
		if start, end, isRange := strings.Cut(datetime, "/"); isRange {
			if start != ".." {
				clauses = append(clauses, fmt.Sprintf("%s ge %s", timeField, start))
			}
			if end != ".." {
				clauses = append(clauses, fmt.Sprintf("%s le %s", timeField, end))
			}
		} else {
			clauses = append(clauses, fmt.Sprintf("%s eq %s", timeField, datetime))
		}
	}

	return strings.Join(clauses, " and "), nil
}

// makeOrderby builds a $orderby expression. Entity-name properties sort on
// the related entity identifier. All criteria are kept, in order.
func makeOrderby(sortby []model.SortCriterion) string {
	var clauses []string
	for _, s := range sortby {
		prop := s.Property
		if IsEntityName(prop) {
			prop += "/@iot.id"
		}
		dir := "asc"
		if s.Order == "-" {
			dir = "desc"
		}
		clauses = append(clauses, prop+" "+dir)
	}
	return strings.Join(clauses, ",")
}

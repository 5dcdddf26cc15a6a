// Package sta implements a read-only query client for OGC SensorThings API
// (STA) services. It translates generic feature-query parameters into
// OData-style request strings, follows server pagination, and returns raw
// entity records.
package sta

import "fmt"

// Entity is a SensorThings resource-type name. Collection endpoints use the
// plural form; navigation properties inside filter expressions may use the
// singular form.
type Entity string

const (
	Things              Entity = "Things"
	Observations        Entity = "Observations"
	Locations           Entity = "Locations"
	Sensors             Entity = "Sensors"
	Datastreams         Entity = "Datastreams"
	ObservedProperties  Entity = "ObservedProperties"
	FeaturesOfInterest  Entity = "FeaturesOfInterest"
	HistoricalLocations Entity = "HistoricalLocations"
)

var entityNames = map[string]struct{}{
	"Thing": {}, "Things": {},
	"Observation": {}, "Observations": {},
	"Location": {}, "Locations": {},
	"Sensor": {}, "Sensors": {},
	"Datastream": {}, "Datastreams": {},
	"ObservedProperty": {}, "ObservedProperties": {},
	"FeatureOfInterest": {}, "FeaturesOfInterest": {},
	"HistoricalLocation": {}, "HistoricalLocations": {},
}

// entityLocation maps a collection entity to the navigation path of its
// associated geographic location, used for spatial filtering. Entities
// missing from the map get no spatial clause.
var entityLocation = map[Entity]string{
	Things:              "Locations/location",
	Observations:        "FeatureOfInterest/feature",
	Locations:           "location",
	Sensors:             "Datastreams/Thing/Locations/location",
	Datastreams:         "Thing/Locations/location",
	ObservedProperties:  "Datastreams/Thing/Locations/location",
	FeaturesOfInterest:  "feature",
	HistoricalLocations: "Locations/location",
}

// IsEntityName reports whether name is a known STA resource-type name,
// singular or plural.
func IsEntityName(name string) bool {
	_, ok := entityNames[name]
	return ok
}

// LocationPath returns the navigation path to the geographic location of a
// collection entity, and whether one is known.
func LocationPath(e Entity) (string, bool) {
	p, ok := entityLocation[e]
	return p, ok
}

// ParseEntity validates a collection entity name (plural form).
func ParseEntity(name string) (Entity, error) {
	e := Entity(name)
	if _, ok := entityLocation[e]; ok {
		return e, nil
	}
	return "", fmt.Errorf("unknown collection entity %q", name)
}
